package transport

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-gatekeeper/core"
)

// SenderFactory builds a sender from embedder-supplied config. Factories
// let a kind be declared up front and constructed only when something
// asks for it.
type SenderFactory func(config map[string]any) (core.TransportAdapter, error)

// Registry keys senders by kind so embedders resolve the transport an
// endpoint calls for without importing every implementation. rest and
// drop ship built in through NewDefaultRegistry; anything else arrives
// via Register or RegisterFactory.
type Registry struct {
	mu        sync.RWMutex
	senders   map[string]core.TransportAdapter
	factories map[string]SenderFactory
}

func NewRegistry() *Registry {
	return &Registry{
		senders:   map[string]core.TransportAdapter{},
		factories: map[string]SenderFactory{},
	}
}

// NewDefaultRegistry returns a registry carrying the built-in senders:
// rest over the given client (nil means a default client) and drop for
// dry runs.
func NewDefaultRegistry(client HTTPDoer) *Registry {
	registry := NewRegistry()
	_ = registry.Register(NewRESTSender(client))
	_ = registry.Register(NewDropSender())
	return registry
}

func (r *Registry) Register(sender core.TransportAdapter) error {
	if r == nil {
		return fmt.Errorf("transport: registry is nil")
	}
	if sender == nil {
		return fmt.Errorf("transport: sender is nil")
	}
	kind := normalizeKind(sender.Kind())
	if kind == "" {
		return fmt.Errorf("transport: sender kind is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.senders[kind]; exists {
		return fmt.Errorf("transport: sender kind %q already registered", kind)
	}
	r.senders[kind] = sender
	return nil
}

func (r *Registry) RegisterFactory(kind string, factory SenderFactory) error {
	if r == nil {
		return fmt.Errorf("transport: registry is nil")
	}
	kind = normalizeKind(kind)
	if kind == "" {
		return fmt.Errorf("transport: sender kind is required")
	}
	if factory == nil {
		return fmt.Errorf("transport: sender factory is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[kind]; exists {
		return fmt.Errorf("transport: sender factory kind %q already registered", kind)
	}
	r.factories[kind] = factory
	return nil
}

// Build resolves a sender for kind: a registered instance wins, then a
// registered factory gets the config. Unknown kinds are an error so a
// misconfigured endpoint fails loudly instead of silently dropping.
func (r *Registry) Build(kind string, config map[string]any) (core.TransportAdapter, error) {
	if r == nil {
		return nil, fmt.Errorf("transport: registry is nil")
	}
	kind = normalizeKind(kind)
	if kind == "" {
		return nil, fmt.Errorf("transport: sender kind is required")
	}

	r.mu.RLock()
	sender, ok := r.senders[kind]
	factory := r.factories[kind]
	r.mu.RUnlock()
	if ok {
		return sender, nil
	}
	if factory == nil {
		return nil, fmt.Errorf("transport: sender kind %q not registered", kind)
	}
	built, err := factory(cloneMap(config))
	if err != nil {
		return nil, err
	}
	if built == nil {
		return nil, fmt.Errorf("transport: factory for %q returned nil sender", kind)
	}
	return built, nil
}

func (r *Registry) Get(kind string) (core.TransportAdapter, bool) {
	if r == nil {
		return nil, false
	}
	kind = normalizeKind(kind)
	r.mu.RLock()
	defer r.mu.RUnlock()
	sender, ok := r.senders[kind]
	return sender, ok
}

func (r *Registry) List() []core.TransportAdapter {
	if r == nil {
		return []core.TransportAdapter{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.senders))
	for kind := range r.senders {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	result := make([]core.TransportAdapter, 0, len(kinds))
	for _, kind := range kinds {
		result = append(result, r.senders[kind])
	}
	return result
}

func normalizeKind(kind string) string {
	return strings.TrimSpace(strings.ToLower(kind))
}

func cloneMap(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	output := make(map[string]any, len(input))
	for key, value := range input {
		output[key] = value
	}
	return output
}
