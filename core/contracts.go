package core

import (
	"context"
	"errors"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

const (
	SnapshotKeyWebhooks  = "gatekeeper:webhooks"
	SnapshotKeyApprovals = "gatekeeper:approvals"
)

// ErrSnapshotNotFound is returned by SnapshotStore.Load when no blob has
// been saved under the requested key yet.
var ErrSnapshotNotFound = errors.New("core: snapshot not found")

// SnapshotStore is the key-value persistence port. The service writes one
// blob per domain after every mutation and hydrates from it on construction.
type SnapshotStore interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, blob []byte) error
}

type DeliveryLogFilter struct {
	WebhookID string
	Event     string
	Success   *bool
	From      *time.Time
	To        *time.Time
	Page      int
	PerPage   int
}

type DeliveryLogPage struct {
	Items   []DeliveryLog
	Page    int
	PerPage int
	Total   int
	HasNext bool
}

// DeliveryLogArchive is an optional append-only archive that outlives the
// registry's capped in-memory log window.
type DeliveryLogArchive interface {
	Append(ctx context.Context, log DeliveryLog) error
	List(ctx context.Context, filter DeliveryLogFilter) (DeliveryLogPage, error)
}

// SigningSecretProvider resolves the shared secret used to sign outbound
// payloads and verify inbound ones. Endpoint-level secrets win over the
// provider lookup.
type SigningSecretProvider interface {
	SecretFor(ctx context.Context, endpointID string) (string, error)
}

// PayloadSigner produces and checks payload signatures. Verify must fail
// closed on absent or malformed signatures.
type PayloadSigner interface {
	Sign(payload []byte, secret string) string
	Verify(payload []byte, signature string, secret string) bool
}

// DeliveryAuthorizer translates an endpoint's auth descriptor into request
// headers for one outbound attempt.
type DeliveryAuthorizer interface {
	Headers(ctx context.Context, auth EndpointAuth) (map[string]string, error)
}

// ConditionEvaluator decides whether one rule condition holds against
// deployment metadata.
type ConditionEvaluator interface {
	Evaluate(ctx context.Context, condition RuleCondition, metadata map[string]any) (bool, error)
}

type TransportRequest struct {
	Method               string
	URL                  string
	Headers              map[string]string
	Body                 []byte
	Metadata             map[string]any
	Timeout              time.Duration
	MaxResponseBodyBytes int64
}

type TransportResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

type TransportAdapter interface {
	Kind() string
	Do(ctx context.Context, req TransportRequest) (TransportResponse, error)
}

type InboundRequest struct {
	Method   string
	Path     string
	Headers  map[string]string
	Body     []byte
	Source   string
	Metadata map[string]any
}

type InboundResult struct {
	Success    bool
	Message    string
	StatusCode int
	Metadata   map[string]any
}

type DeploymentStatusUpdate struct {
	DeploymentID string
	Status       string
	Metadata     map[string]any
}

// DeploymentStatusSink receives forwarded deployment.status events. The
// deployment system behind it is a collaborator, not part of this module.
type DeploymentStatusSink interface {
	UpdateStatus(ctx context.Context, update DeploymentStatusUpdate) error
}

type RegisterEndpointInput struct {
	ID      string
	Name    string
	URL     string
	Enabled bool
	Events  []string
	Auth    EndpointAuth
	Retry   *RetryPolicy
	Timeout time.Duration
	Secret  string
}

type UpsertApprovalRuleInput struct {
	ID                   string
	Name                 string
	EnvironmentID        string
	EnvironmentType      string
	Enabled              bool
	ApprovalType         ApprovalType
	RequiredApprovers    int
	Approvers            []Approver
	Conditions           []RuleCondition
	TimeoutHours         int
	AutoApproveOnTimeout bool
}

type ActionInput struct {
	UserID    string
	UserName  string
	UserEmail string
	Action    ActionKind
	Comment   string
}

// EndpointUpdateResult carries the no-op signal for updates against an
// unknown id: Found false, zero endpoint, nil error.
type EndpointUpdateResult struct {
	Endpoint WebhookEndpoint
	Found    bool
}

type RuleUpdateResult struct {
	Rule  ApprovalRule
	Found bool
}

// DeliveryOutcome summarizes one delivery chain. Skipped marks chains that
// never dispatched (disabled endpoint, duplicate in-flight id, throttled).
type DeliveryOutcome struct {
	EndpointID string
	Event      string
	Attempts   int
	Success    bool
	Skipped    bool
	SkipReason string
	LastLog    DeliveryLog
}

type BroadcastResult struct {
	Event     string
	Endpoints int
	Delivered int
	Failed    int
	Skipped   int
}

type RateLimitKey struct {
	EndpointID string
	BucketKey  string
}

type DeliveryResponseMeta struct {
	StatusCode int
	Headers    map[string]string
	RetryAfter *time.Duration
	Metadata   map[string]any
}

// RateLimitPolicy throttles new delivery chains per endpoint. BeforeCall
// errors skip the chain; AfterCall feeds response state (429, Retry-After)
// back into the policy.
type RateLimitPolicy interface {
	BeforeCall(ctx context.Context, key RateLimitKey) error
	AfterCall(ctx context.Context, key RateLimitKey, res DeliveryResponseMeta) error
}

// DeliveryTask is one queued delivery attempt. RunAt carries the backoff
// deadline so queue workers honor the retry schedule.
type DeliveryTask struct {
	EndpointID string
	Event      string
	Data       map[string]any
	Attempt    int
	RunAt      time.Time
}

// DeliveryQueue defers retry attempts to an external queue instead of
// sleeping in-process. Optional; nil keeps the in-process backoff wait.
type DeliveryQueue interface {
	Enqueue(ctx context.Context, task DeliveryTask) error
}

type DeliveryTaskHandler interface {
	ProcessQueuedDelivery(ctx context.Context, task DeliveryTask) error
}

type CommandMessage interface {
	Type() string
}

type CommandDispatcher interface {
	Dispatch(ctx context.Context, msg any) error
}

// GatekeeperService is the full operation surface of the engine, consumed by
// the command/query handlers and the root facade.
type GatekeeperService interface {
	RegisterEndpoint(ctx context.Context, input RegisterEndpointInput) (WebhookEndpoint, error)
	UpdateEndpoint(ctx context.Context, id string, patch EndpointPatch) (EndpointUpdateResult, error)
	RemoveEndpoint(ctx context.Context, id string) error
	GetEndpoint(ctx context.Context, id string) (WebhookEndpoint, error)
	ListEndpoints(ctx context.Context) ([]WebhookEndpoint, error)
	EndpointsForEvent(ctx context.Context, event string) ([]WebhookEndpoint, error)
	DeliveryLogs(ctx context.Context, webhookID string) ([]DeliveryLog, error)

	DeliverEvent(ctx context.Context, endpointID string, event string, data map[string]any) (DeliveryOutcome, error)
	Broadcast(ctx context.Context, event string, data map[string]any) (BroadcastResult, error)
	ProcessQueuedDelivery(ctx context.Context, task DeliveryTask) error

	UpsertApprovalRule(ctx context.Context, input UpsertApprovalRuleInput) (ApprovalRule, error)
	UpdateApprovalRule(ctx context.Context, id string, patch ApprovalRulePatch) (RuleUpdateResult, error)
	RemoveApprovalRule(ctx context.Context, id string) error
	GetApprovalRule(ctx context.Context, id string) (ApprovalRule, error)
	ListApprovalRules(ctx context.Context) ([]ApprovalRule, error)

	EvaluateDeployment(ctx context.Context, ref DeploymentRef) (ApprovalDecision, error)
	RecordAction(ctx context.Context, requestID string, input ActionInput) (ApprovalRequest, error)
	GetApprovalRequest(ctx context.Context, id string) (ApprovalRequest, error)
	ListApprovalRequests(ctx context.Context) ([]ApprovalRequest, error)
	SweepExpiredRequests(ctx context.Context) (int, error)
	Notifications(ctx context.Context, userID string) ([]ApprovalNotification, error)
	MarkNotificationRead(ctx context.Context, id string) error
}
