package core

import (
	"context"
	"sync"
	"time"
)

// deliveryRunner tracks the cancel handles of in-flight delivery chains,
// keyed by endpoint id. Disabling or removing an endpoint cancels its pending
// backoff waits instead of letting orphaned retries fire.
type deliveryRunner struct {
	mu      sync.Mutex
	next    int64
	cancels map[string]map[int64]context.CancelFunc
}

func newDeliveryRunner() *deliveryRunner {
	return &deliveryRunner{cancels: make(map[string]map[int64]context.CancelFunc)}
}

// track derives a cancellable context registered under the endpoint id. The
// returned release must be called when the chain finishes.
func (r *deliveryRunner) track(ctx context.Context, endpointID string) (context.Context, func()) {
	if r == nil {
		return ctx, func() {}
	}
	ctx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	r.next++
	token := r.next
	chains, ok := r.cancels[endpointID]
	if !ok {
		chains = make(map[int64]context.CancelFunc)
		r.cancels[endpointID] = chains
	}
	chains[token] = cancel
	r.mu.Unlock()

	release := func() {
		r.mu.Lock()
		if chains, ok := r.cancels[endpointID]; ok {
			delete(chains, token)
			if len(chains) == 0 {
				delete(r.cancels, endpointID)
			}
		}
		r.mu.Unlock()
		cancel()
	}
	return ctx, release
}

// cancel aborts every tracked chain for the endpoint.
func (r *deliveryRunner) cancel(endpointID string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	chains := r.cancels[endpointID]
	delete(r.cancels, endpointID)
	r.mu.Unlock()

	for _, cancelChain := range chains {
		cancelChain()
	}
}

func (r *deliveryRunner) active(endpointID string) int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cancels[endpointID])
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
