package gojob

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-gatekeeper/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

func TestDeliveryTaskMappingRoundTrip(t *testing.T) {
	runAt := time.Now().UTC().Add(30 * time.Second).Truncate(time.Millisecond)
	original := core.DeliveryTask{
		EndpointID: "wh_1",
		Event:      "deployment.created",
		Data:       map[string]any{"deployment_id": "deploy_1"},
		Attempt:    2,
		RunAt:      runAt,
	}

	converted := ToExecutionMessage(original)
	if converted == nil {
		t.Fatalf("expected converted message")
	}
	if converted.JobID != JobIDWebhookDelivery {
		t.Fatalf("expected delivery job id, got %q", converted.JobID)
	}
	if converted.IdempotencyKey == "" {
		t.Fatalf("expected idempotency key")
	}

	roundTrip, err := FromExecutionMessage(converted)
	if err != nil {
		t.Fatalf("decode execution message: %v", err)
	}
	if roundTrip.EndpointID != original.EndpointID {
		t.Fatalf("expected endpoint %q, got %q", original.EndpointID, roundTrip.EndpointID)
	}
	if roundTrip.Event != original.Event {
		t.Fatalf("expected event %q, got %q", original.Event, roundTrip.Event)
	}
	if roundTrip.Attempt != original.Attempt {
		t.Fatalf("expected attempt %d, got %d", original.Attempt, roundTrip.Attempt)
	}
	if !roundTrip.RunAt.Equal(runAt) {
		t.Fatalf("expected run_at %s, got %s", runAt, roundTrip.RunAt)
	}
	if roundTrip.Data["deployment_id"] != "deploy_1" {
		t.Fatalf("expected payload data to survive mapping")
	}
}

func TestFromExecutionMessage_DecodesJSONNumbers(t *testing.T) {
	msg := &job.ExecutionMessage{
		JobID: JobIDWebhookDelivery,
		Parameters: map[string]any{
			paramEndpointID: "wh_1",
			paramEvent:      "deployment.created",
			paramAttempt:    float64(3),
		},
	}

	task, err := FromExecutionMessage(msg)
	if err != nil {
		t.Fatalf("decode execution message: %v", err)
	}
	if task.Attempt != 3 {
		t.Fatalf("expected float64 attempt to decode to 3, got %d", task.Attempt)
	}
}

func TestFromExecutionMessage_RejectsIncompleteTask(t *testing.T) {
	msg := &job.ExecutionMessage{
		JobID:      JobIDWebhookDelivery,
		Parameters: map[string]any{paramEvent: "deployment.created"},
	}
	if _, err := FromExecutionMessage(msg); err == nil {
		t.Fatalf("expected missing endpoint id to be rejected")
	}
	if _, err := FromExecutionMessage(nil); err == nil {
		t.Fatalf("expected nil message to be rejected")
	}
}

func TestQueueAdapter_EnqueueDelegates(t *testing.T) {
	ctx := context.Background()
	enqueuer := &stubQueueEnqueuer{}
	adapter := NewQueueAdapter(enqueuer)

	err := adapter.Enqueue(ctx, core.DeliveryTask{
		EndpointID: "wh_1",
		Event:      "deployment.created",
		Attempt:    1,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if enqueuer.last == nil || enqueuer.last.JobID != JobIDWebhookDelivery {
		t.Fatalf("expected mapped go-job message")
	}
	if got := enqueuer.last.Parameters[paramEndpointID]; got != "wh_1" {
		t.Fatalf("expected endpoint parameter, got %v", got)
	}

	if err := adapter.Enqueue(ctx, core.DeliveryTask{Event: "deployment.created"}); err == nil {
		t.Fatalf("expected incomplete task to be rejected")
	}
}

func TestWorkerAdapter_AcksOnSuccess(t *testing.T) {
	ctx := context.Background()
	delivery := &stubQueueDelivery{
		msg: ToExecutionMessage(core.DeliveryTask{
			EndpointID: "wh_1",
			Event:      "deployment.created",
			Attempt:    0,
		}),
	}
	handled := false
	adapter := NewWorkerAdapter(
		&stubQueueDequeuer{delivery: delivery},
		stubTaskHandler(func(_ context.Context, task core.DeliveryTask) error {
			handled = true
			if task.EndpointID != "wh_1" || task.Event != "deployment.created" {
				t.Fatalf("unexpected decoded task: %#v", task)
			}
			return nil
		}),
		RetryPolicy{},
	)

	if err := adapter.ProcessNext(ctx); err != nil {
		t.Fatalf("process next: %v", err)
	}
	if !handled {
		t.Fatalf("expected handler invocation")
	}
	if !delivery.acked {
		t.Fatalf("expected ack on underlying delivery")
	}
}

func TestWorkerAdapter_NacksUnderRetryPolicy(t *testing.T) {
	ctx := context.Background()
	delivery := &stubQueueDelivery{
		msg: ToExecutionMessage(core.DeliveryTask{
			EndpointID: "wh_1",
			Event:      "deployment.created",
			Attempt:    3,
		}),
	}
	adapter := NewWorkerAdapter(
		&stubQueueDequeuer{delivery: delivery},
		stubTaskHandler(func(context.Context, core.DeliveryTask) error {
			return errors.New("handler unavailable")
		}),
		RetryPolicy{MaxAttempts: 3, DeadLetterOnMax: true},
	)

	if err := adapter.ProcessNext(ctx); err == nil {
		t.Fatalf("expected handler error to bubble")
	}
	if delivery.acked {
		t.Fatalf("expected failed task not to ack")
	}
	if delivery.nackOpts.Requeue {
		t.Fatalf("expected no requeue at max attempts")
	}
	if !delivery.nackOpts.DeadLetter {
		t.Fatalf("expected dead letter at max attempts")
	}
}

func TestWorkerAdapter_DeadLettersMalformedMessages(t *testing.T) {
	ctx := context.Background()
	delivery := &stubQueueDelivery{
		msg: &job.ExecutionMessage{JobID: JobIDWebhookDelivery},
	}
	adapter := NewWorkerAdapter(
		&stubQueueDequeuer{delivery: delivery},
		stubTaskHandler(func(context.Context, core.DeliveryTask) error {
			t.Fatalf("handler must not run for malformed messages")
			return nil
		}),
		RetryPolicy{},
	)

	if err := adapter.ProcessNext(ctx); err == nil {
		t.Fatalf("expected malformed message error")
	}
	if !delivery.nackOpts.DeadLetter {
		t.Fatalf("expected malformed message to dead letter")
	}
}

func TestRetryPolicy_NormalizeNackBoundaries(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts:     3,
		MaxDelay:        10 * time.Second,
		DeadLetterOnMax: true,
	}

	bounded := policy.NormalizeNack(queue.NackOptions{
		Delay:   30 * time.Second,
		Requeue: true,
		Reason:  " transient ",
	}, 1)
	if bounded.Delay != 10*time.Second {
		t.Fatalf("expected delay to be bounded, got %s", bounded.Delay)
	}
	if !bounded.Requeue {
		t.Fatalf("expected requeue before max attempts")
	}
	if bounded.Reason != "transient" {
		t.Fatalf("expected trimmed reason, got %q", bounded.Reason)
	}

	capped := policy.NormalizeNack(queue.NackOptions{Requeue: true, Reason: "still failing"}, 3)
	if capped.Requeue {
		t.Fatalf("expected no requeue at max attempts")
	}
	if !capped.DeadLetter {
		t.Fatalf("expected dead letter at max attempts")
	}

	fallback := RetryPolicy{}.NormalizeNack(queue.NackOptions{}, 0)
	if !fallback.Requeue {
		t.Fatalf("expected requeue fallback when neither requeue nor dead letter set")
	}
}

func TestMetricsHook_RecordsWorkerEvents(t *testing.T) {
	metrics := &stubMetricsRecorder{}
	hook := NewMetricsHook(metrics)
	event := worker.Event{
		Message: ToExecutionMessage(core.DeliveryTask{
			EndpointID: "wh_1",
			Event:      "deployment.created",
		}),
		Duration: 250 * time.Millisecond,
	}

	hook.OnStart(context.Background(), event)
	hook.OnSuccess(context.Background(), event)
	hook.OnFailure(context.Background(), event)
	hook.OnRetry(context.Background(), event)

	if metrics.counters["gatekeeper.queue.delivery.started"] != 1 {
		t.Fatalf("expected started counter")
	}
	if metrics.counters["gatekeeper.queue.delivery.success"] != 1 {
		t.Fatalf("expected success counter")
	}
	if metrics.counters["gatekeeper.queue.delivery.failure"] != 1 {
		t.Fatalf("expected failure counter")
	}
	if metrics.counters["gatekeeper.queue.delivery.retry"] != 1 {
		t.Fatalf("expected retry counter")
	}
	if metrics.histograms["gatekeeper.queue.delivery.duration_ms"] != 250 {
		t.Fatalf("expected duration histogram, got %v", metrics.histograms)
	}
	if metrics.lastTags["endpoint_id"] != "wh_1" {
		t.Fatalf("expected endpoint tag, got %#v", metrics.lastTags)
	}
}

type stubQueueEnqueuer struct {
	last *job.ExecutionMessage
}

func (s *stubQueueEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	s.last = msg
	return nil
}

type stubQueueDequeuer struct {
	delivery queue.Delivery
}

func (s *stubQueueDequeuer) Dequeue(context.Context) (queue.Delivery, error) {
	return s.delivery, nil
}

type stubQueueDelivery struct {
	msg      *job.ExecutionMessage
	acked    bool
	nackOpts queue.NackOptions
}

func (s *stubQueueDelivery) Message() *job.ExecutionMessage {
	return s.msg
}

func (s *stubQueueDelivery) Ack(context.Context) error {
	s.acked = true
	return nil
}

func (s *stubQueueDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	s.nackOpts = opts
	return nil
}

type stubTaskHandler func(ctx context.Context, task core.DeliveryTask) error

func (f stubTaskHandler) ProcessQueuedDelivery(ctx context.Context, task core.DeliveryTask) error {
	return f(ctx, task)
}

type stubMetricsRecorder struct {
	counters   map[string]int64
	histograms map[string]float64
	lastTags   map[string]string
}

func (s *stubMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if s.counters == nil {
		s.counters = map[string]int64{}
	}
	s.counters[name] += value
	s.lastTags = tags
}

func (s *stubMetricsRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	if s.histograms == nil {
		s.histograms = map[string]float64{}
	}
	s.histograms[name] = value
	s.lastTags = tags
}
