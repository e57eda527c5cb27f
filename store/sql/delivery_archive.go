package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-gatekeeper/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// DeliveryArchive is the relational delivery-log archive. It outlives the
// capped in-memory log window; appends are idempotent on log id so
// re-archiving an overlapping window never duplicates rows.
type DeliveryArchive struct {
	db   *bun.DB
	repo repository.Repository[*deliveryLogRecord]
}

// ArchiveRetentionPolicy bounds the archive by age and by row count.
// Zero values disable the respective bound.
type ArchiveRetentionPolicy struct {
	TTL    time.Duration
	RowCap int
}

func NewDeliveryArchive(db *bun.DB) (*DeliveryArchive, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*deliveryLogRecord](db, deliveryLogHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid delivery archive repository wiring: %w", err)
		}
	}
	return &DeliveryArchive{
		db:   db,
		repo: repo,
	}, nil
}

func (a *DeliveryArchive) Append(ctx context.Context, log core.DeliveryLog) error {
	if a == nil || a.db == nil {
		return fmt.Errorf("sqlstore: delivery archive is not configured")
	}
	if strings.TrimSpace(log.WebhookID) == "" {
		return fmt.Errorf("sqlstore: delivery log webhook id is required")
	}

	record := newDeliveryLogRecord(log)
	if _, err := a.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return err
	}
	return nil
}

func (a *DeliveryArchive) List(ctx context.Context, filter core.DeliveryLogFilter) (core.DeliveryLogPage, error) {
	if a == nil || a.repo == nil {
		return core.DeliveryLogPage{}, fmt.Errorf("sqlstore: delivery archive is not configured")
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 25
	}
	offset := (page - 1) * perPage

	selectors := []repository.SelectCriteria{
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(perPage, offset),
	}
	if webhookID := strings.TrimSpace(filter.WebhookID); webhookID != "" {
		selectors = append(selectors, repository.SelectBy("webhook_id", "=", webhookID))
	}
	if event := strings.TrimSpace(filter.Event); event != "" {
		selectors = append(selectors, repository.SelectBy("event", "=", event))
	}
	if filter.Success != nil {
		success := *filter.Success
		selectors = append(selectors, repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.success = ?", success)
		}))
	}
	if filter.From != nil {
		selectors = append(selectors, repository.SelectByTimetz("created_at", ">=", filter.From.UTC()))
	}
	if filter.To != nil {
		selectors = append(selectors, repository.SelectByTimetz("created_at", "<=", filter.To.UTC()))
	}

	records, total, err := a.repo.List(ctx, selectors...)
	if err != nil {
		return core.DeliveryLogPage{}, err
	}
	items := make([]core.DeliveryLog, 0, len(records))
	for _, record := range records {
		items = append(items, record.toDomain())
	}
	hasNext := offset+len(items) < total
	return core.DeliveryLogPage{
		Items:   items,
		Page:    page,
		PerPage: perPage,
		Total:   total,
		HasNext: hasNext,
	}, nil
}

// Prune trims rows older than the TTL, then the oldest rows beyond the
// row cap. Returns the number of rows removed.
func (a *DeliveryArchive) Prune(ctx context.Context, policy ArchiveRetentionPolicy) (int, error) {
	if a == nil || a.db == nil {
		return 0, fmt.Errorf("sqlstore: delivery archive is not configured")
	}
	deleted := 0
	now := time.Now().UTC()

	if policy.TTL > 0 {
		cutoff := now.Add(-policy.TTL)
		res, err := a.db.NewDelete().
			Model((*deliveryLogRecord)(nil)).
			Where("created_at < ?", cutoff).
			Exec(ctx)
		if err != nil {
			return deleted, err
		}
		affected, _ := res.RowsAffected()
		deleted += int(affected)
	}

	if policy.RowCap > 0 {
		total, err := a.db.NewSelect().Model((*deliveryLogRecord)(nil)).Count(ctx)
		if err != nil {
			return deleted, err
		}
		excess := total - policy.RowCap
		if excess > 0 {
			res, err := a.db.NewRaw(
				"DELETE FROM gatekeeper_delivery_logs WHERE id IN (SELECT id FROM gatekeeper_delivery_logs ORDER BY created_at ASC LIMIT ?)",
				excess,
			).Exec(ctx)
			if err != nil {
				return deleted, err
			}
			affected, _ := res.RowsAffected()
			deleted += int(affected)
		}
	}

	return deleted, nil
}

func newDeliveryLogRecord(log core.DeliveryLog) *deliveryLogRecord {
	id := strings.TrimSpace(log.ID)
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := log.Timestamp.UTC()
	if log.Timestamp.IsZero() {
		createdAt = time.Now().UTC()
	}
	record := &deliveryLogRecord{
		ID:             id,
		WebhookID:      strings.TrimSpace(log.WebhookID),
		Event:          strings.TrimSpace(log.Event),
		RequestURL:     log.Request.URL,
		RequestHeaders: RedactHeaders(log.Request.Headers),
		RequestPayload: append([]byte(nil), log.Request.Payload...),
		Error:          log.Error,
		Success:        log.Success,
		DurationMS:     log.Duration.Milliseconds(),
		RetryCount:     log.RetryCount,
		CreatedAt:      createdAt,
	}
	if log.Response != nil {
		statusCode := log.Response.StatusCode
		record.StatusCode = &statusCode
		record.ResponseBody = log.Response.Body
	}
	return record
}

func (r *deliveryLogRecord) toDomain() core.DeliveryLog {
	if r == nil {
		return core.DeliveryLog{}
	}
	log := core.DeliveryLog{
		ID:        r.ID,
		WebhookID: r.WebhookID,
		Event:     r.Event,
		Request: core.DeliveryRequest{
			URL:     r.RequestURL,
			Headers: copyStringMap(r.RequestHeaders),
			Payload: append([]byte(nil), r.RequestPayload...),
		},
		Error:      r.Error,
		Success:    r.Success,
		Duration:   time.Duration(r.DurationMS) * time.Millisecond,
		RetryCount: r.RetryCount,
		Timestamp:  r.CreatedAt,
	}
	if r.StatusCode != nil {
		log.Response = &core.DeliveryResponse{
			StatusCode: *r.StatusCode,
			Body:       r.ResponseBody,
		}
	}
	return log
}

func copyStringMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
