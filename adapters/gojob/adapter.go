package gojob

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-gatekeeper/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

// JobIDWebhookDelivery identifies queued webhook delivery attempts.
const JobIDWebhookDelivery = "gatekeeper.delivery.dispatch"

const (
	paramEndpointID = "endpoint_id"
	paramEvent      = "event"
	paramData       = "data"
	paramAttempt    = "attempt"
	paramRunAt      = "run_at"
)

// RetryPolicy defines queue retry bounds to avoid unbounded nack loops.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeNack enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeNack(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// ToExecutionMessage encodes a delivery task as a go-job execution message.
// The idempotency key covers (endpoint, event, attempt, run_at) so brokers
// with dedup drop double-enqueued attempts.
func ToExecutionMessage(task core.DeliveryTask) *job.ExecutionMessage {
	params := map[string]any{
		paramEndpointID: strings.TrimSpace(task.EndpointID),
		paramEvent:      strings.TrimSpace(task.Event),
		paramAttempt:    task.Attempt,
	}
	if len(task.Data) > 0 {
		params[paramData] = copyAnyMap(task.Data)
	}
	if !task.RunAt.IsZero() {
		params[paramRunAt] = task.RunAt.UTC().Format(time.RFC3339Nano)
	}
	return &job.ExecutionMessage{
		JobID:          JobIDWebhookDelivery,
		Parameters:     params,
		IdempotencyKey: deliveryIdempotencyKey(task),
	}
}

// FromExecutionMessage decodes a queued execution message back into a
// delivery task. Numeric attempt values survive JSON transport as float64;
// both forms decode.
func FromExecutionMessage(msg *job.ExecutionMessage) (core.DeliveryTask, error) {
	if msg == nil {
		return core.DeliveryTask{}, fmt.Errorf("gojob: execution message is required")
	}
	task := core.DeliveryTask{
		EndpointID: stringParam(msg.Parameters, paramEndpointID),
		Event:      stringParam(msg.Parameters, paramEvent),
		Attempt:    intParam(msg.Parameters, paramAttempt),
	}
	if task.EndpointID == "" || task.Event == "" {
		return core.DeliveryTask{}, fmt.Errorf("gojob: delivery task requires endpoint id and event")
	}
	if data, ok := msg.Parameters[paramData].(map[string]any); ok {
		task.Data = copyAnyMap(data)
	}
	if raw := stringParam(msg.Parameters, paramRunAt); raw != "" {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return core.DeliveryTask{}, fmt.Errorf("gojob: parse run_at: %w", err)
		}
		task.RunAt = at.UTC()
	}
	return task, nil
}

// QueueAdapter exposes a go-job enqueuer as the engine's delivery queue.
type QueueAdapter struct {
	enqueuer queue.Enqueuer
}

func NewQueueAdapter(enqueuer queue.Enqueuer) *QueueAdapter {
	return &QueueAdapter{enqueuer: enqueuer}
}

func (a *QueueAdapter) Enqueue(ctx context.Context, task core.DeliveryTask) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if strings.TrimSpace(task.EndpointID) == "" || strings.TrimSpace(task.Event) == "" {
		return fmt.Errorf("gojob: delivery task requires endpoint id and event")
	}
	return a.enqueuer.Enqueue(ctx, ToExecutionMessage(task))
}

// WorkerAdapter drains queued delivery tasks into a DeliveryTaskHandler.
// Malformed messages dead-letter; handler failures nack under the retry
// policy. The handler owns scheduling of follow-up attempts, so a nack here
// only replays the same attempt.
type WorkerAdapter struct {
	dequeuer queue.Dequeuer
	handler  core.DeliveryTaskHandler
	policy   RetryPolicy
}

func NewWorkerAdapter(dequeuer queue.Dequeuer, handler core.DeliveryTaskHandler, policy RetryPolicy) *WorkerAdapter {
	return &WorkerAdapter{dequeuer: dequeuer, handler: handler, policy: policy}
}

func (w *WorkerAdapter) ProcessNext(ctx context.Context) error {
	if w == nil || w.dequeuer == nil {
		return fmt.Errorf("gojob: dequeuer is not configured")
	}
	if w.handler == nil {
		return fmt.Errorf("gojob: delivery task handler is not configured")
	}

	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	if delivery == nil {
		return fmt.Errorf("gojob: dequeuer returned nil delivery")
	}

	task, err := FromExecutionMessage(delivery.Message())
	if err != nil {
		_ = delivery.Nack(ctx, queue.NackOptions{
			DeadLetter: true,
			Reason:     "malformed delivery task",
		})
		return err
	}

	if handleErr := w.handler.ProcessQueuedDelivery(ctx, task); handleErr != nil {
		nack := w.policy.NormalizeNack(queue.NackOptions{
			Requeue: true,
			Reason:  handleErr.Error(),
		}, task.Attempt)
		if nackErr := delivery.Nack(ctx, nack); nackErr != nil {
			return fmt.Errorf("gojob: nack delivery: %w", nackErr)
		}
		return handleErr
	}
	return delivery.Ack(ctx)
}

// MetricsHook records queue worker lifecycle events through the engine's
// metrics port.
type MetricsHook struct {
	metrics core.MetricsRecorder
}

func NewMetricsHook(metrics core.MetricsRecorder) *MetricsHook {
	return &MetricsHook{metrics: metrics}
}

func (h *MetricsHook) OnStart(ctx context.Context, event worker.Event) {
	if h == nil || h.metrics == nil {
		return
	}
	h.metrics.IncCounter(ctx, "gatekeeper.queue.delivery.started", 1, eventTags(event))
}

func (h *MetricsHook) OnSuccess(ctx context.Context, event worker.Event) {
	if h == nil || h.metrics == nil {
		return
	}
	tags := eventTags(event)
	h.metrics.IncCounter(ctx, "gatekeeper.queue.delivery.success", 1, tags)
	h.metrics.ObserveHistogram(ctx, "gatekeeper.queue.delivery.duration_ms", float64(event.Duration.Milliseconds()), tags)
}

func (h *MetricsHook) OnFailure(ctx context.Context, event worker.Event) {
	if h == nil || h.metrics == nil {
		return
	}
	h.metrics.IncCounter(ctx, "gatekeeper.queue.delivery.failure", 1, eventTags(event))
}

func (h *MetricsHook) OnRetry(ctx context.Context, event worker.Event) {
	if h == nil || h.metrics == nil {
		return
	}
	h.metrics.IncCounter(ctx, "gatekeeper.queue.delivery.retry", 1, eventTags(event))
}

func eventTags(event worker.Event) map[string]string {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	tags := map[string]string{"job_id": JobIDWebhookDelivery}
	if message != nil {
		if endpointID := stringParam(message.Parameters, paramEndpointID); endpointID != "" {
			tags["endpoint_id"] = endpointID
		}
	}
	return tags
}

func deliveryIdempotencyKey(task core.DeliveryTask) string {
	runAt := int64(0)
	if !task.RunAt.IsZero() {
		runAt = task.RunAt.UTC().UnixMilli()
	}
	return fmt.Sprintf(
		"%s:%s:%d:%d",
		strings.TrimSpace(task.EndpointID),
		strings.TrimSpace(task.Event),
		task.Attempt,
		runAt,
	)
}

func stringParam(params map[string]any, key string) string {
	value, _ := params[key].(string)
	return strings.TrimSpace(value)
}

func intParam(params map[string]any, key string) int {
	switch value := params[key].(type) {
	case int:
		return value
	case int32:
		return int(value)
	case int64:
		return int(value)
	case float64:
		return int(value)
	case json.Number:
		parsed, err := value.Int64()
		if err != nil {
			return 0
		}
		return int(parsed)
	default:
		return 0
	}
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var (
	_ core.DeliveryQueue = (*QueueAdapter)(nil)
	_ worker.Hook        = (*MetricsHook)(nil)
)
