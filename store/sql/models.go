package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type snapshotRecord struct {
	bun.BaseModel `bun:"table:gatekeeper_snapshots,alias:gsn"`

	ID          string    `bun:"id,pk"`
	SnapshotKey string    `bun:"snapshot_key,notnull"`
	Blob        []byte    `bun:"blob,notnull"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt   time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type deliveryLogRecord struct {
	bun.BaseModel `bun:"table:gatekeeper_delivery_logs,alias:gdl"`

	ID             string            `bun:"id,pk"`
	WebhookID      string            `bun:"webhook_id,notnull"`
	Event          string            `bun:"event,notnull"`
	RequestURL     string            `bun:"request_url"`
	RequestHeaders map[string]string `bun:"request_headers,type:jsonb,notnull"`
	RequestPayload []byte            `bun:"request_payload"`
	StatusCode     *int              `bun:"status_code"`
	ResponseBody   string            `bun:"response_body"`
	Error          string            `bun:"error"`
	Success        bool              `bun:"success,notnull"`
	DurationMS     int64             `bun:"duration_ms,notnull"`
	RetryCount     int               `bun:"retry_count,notnull"`
	CreatedAt      time.Time         `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
