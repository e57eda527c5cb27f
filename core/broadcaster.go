package core

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Broadcast fans the event out to every enabled endpoint subscribed to it,
// concurrently, and waits for all delivery chains to finish. Individual
// failures are counted, never raised. Once started a broadcast cannot be
// aborted by the caller's context; per-endpoint cancellation through the
// runner still applies.
func (s *Service) Broadcast(ctx context.Context, event string, data map[string]any) (result BroadcastResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"event": event,
	}
	defer func() {
		fields["endpoints"] = result.Endpoints
		fields["delivered"] = result.Delivered
		fields["failed"] = result.Failed
		fields["skipped"] = result.Skipped
		s.observeOperation(ctx, startedAt, "broadcast", err, fields)
	}()

	event = strings.TrimSpace(event)
	if event == "" {
		err = s.badInput("event type is required", nil)
		return BroadcastResult{}, err
	}

	endpoints := s.webhooks.EndpointsForEvent(event)
	result = BroadcastResult{Event: event, Endpoints: len(endpoints)}
	if len(endpoints) == 0 {
		return result, nil
	}

	detached := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, endpoint := range endpoints {
		wg.Add(1)
		go func(endpointID string) {
			defer wg.Done()
			outcome, deliverErr := s.DeliverEvent(detached, endpointID, event, data)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case outcome.Skipped:
				result.Skipped++
			case deliverErr != nil || !outcome.Success:
				result.Failed++
			default:
				result.Delivered++
			}
		}(endpoint.ID)
	}
	wg.Wait()
	return result, nil
}

// broadcastAsync fires a broadcast without waiting for its delivery chains.
// Used for approval lifecycle events, where the state transition must not
// block on outbound retries.
func (s *Service) broadcastAsync(ctx context.Context, event string, data map[string]any) {
	if s == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	go func() {
		if _, err := s.Broadcast(detached, event, data); err != nil {
			s.logError(detached, "async broadcast failed", map[string]any{
				"event": event,
				"error": err.Error(),
			})
		}
	}()
}
