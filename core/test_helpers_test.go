package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestService(t *testing.T, cfg Config, options ...Option) *Service {
	t.Helper()
	base := []Option{
		WithLogger(stubLogger{}),
		WithLoggerProvider(stubLoggerProvider{logger: stubLogger{}}),
	}
	svc, err := NewService(cfg, append(base, options...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

// fakeClock is a movable clock injected through WithClock so expiry and
// timestamp behavior can be driven without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(at time.Time) *fakeClock {
	return &fakeClock{now: at}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sequenceIDs struct {
	mu     sync.Mutex
	prefix string
	next   int
}

func (g *sequenceIDs) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("%s_%d", g.prefix, g.next)
}

type recordedRequest struct {
	req TransportRequest
	at  time.Time
}

// scriptedTransport replays canned responses in order, repeating the last one,
// and records every request with its dispatch time.
type scriptedTransport struct {
	mu        sync.Mutex
	responses []TransportResponse
	err       error
	requests  []recordedRequest
}

func newScriptedTransport(responses ...TransportResponse) *scriptedTransport {
	return &scriptedTransport{responses: responses}
}

func failingTransport(err error) *scriptedTransport {
	return &scriptedTransport{err: err}
}

func (t *scriptedTransport) Kind() string { return "scripted" }

func (t *scriptedTransport) Do(_ context.Context, req TransportRequest) (TransportResponse, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests = append(t.requests, recordedRequest{req: req, at: time.Now()})
	if t.err != nil {
		return TransportResponse{}, t.err
	}
	if len(t.responses) == 0 {
		return TransportResponse{StatusCode: 200}, nil
	}
	res := t.responses[0]
	if len(t.responses) > 1 {
		t.responses = t.responses[1:]
	}
	return res, nil
}

func (t *scriptedTransport) recorded() []recordedRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]recordedRequest, len(t.requests))
	copy(out, t.requests)
	return out
}

type captureQueue struct {
	mu    sync.Mutex
	tasks []DeliveryTask
}

func (q *captureQueue) Enqueue(_ context.Context, task DeliveryTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *captureQueue) snapshot() []DeliveryTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeliveryTask, len(q.tasks))
	copy(out, q.tasks)
	return out
}

type staticAuthorizer struct {
	headers map[string]string
	err     error
}

func (a staticAuthorizer) Headers(context.Context, EndpointAuth) (map[string]string, error) {
	if a.err != nil {
		return nil, a.err
	}
	out := make(map[string]string, len(a.headers))
	for key, value := range a.headers {
		out[key] = value
	}
	return out, nil
}

type staticSecretLookup struct {
	secrets map[string]string
	err     error
}

func (p staticSecretLookup) SecretFor(_ context.Context, endpointID string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return p.secrets[endpointID], nil
}

type scriptedConditionEvaluator struct {
	mu     sync.Mutex
	result bool
	err    error
	calls  int
}

func (e *scriptedConditionEvaluator) Evaluate(context.Context, RuleCondition, map[string]any) (bool, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	return e.result, e.err
}

func (e *scriptedConditionEvaluator) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type recordingRateLimit struct {
	mu       sync.Mutex
	deny     bool
	feedback []DeliveryResponseMeta
}

func (p *recordingRateLimit) BeforeCall(context.Context, RateLimitKey) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deny {
		return fmt.Errorf("endpoint is rate limited")
	}
	return nil
}

func (p *recordingRateLimit) AfterCall(_ context.Context, _ RateLimitKey, res DeliveryResponseMeta) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.feedback = append(p.feedback, res)
	return nil
}

func (p *recordingRateLimit) feedbackCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.feedback)
}

func (p *recordingRateLimit) lastFeedback() (DeliveryResponseMeta, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.feedback) == 0 {
		return DeliveryResponseMeta{}, false
	}
	return p.feedback[len(p.feedback)-1], true
}

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.values))
	for key, value := range l.values {
		out[key] = value
	}
	return out, nil
}
