package gatekeeper

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-gatekeeper/core"
)

// EndpointPack is a named bundle of webhook endpoints a downstream app
// registers in one shot, typically at startup.
type EndpointPack struct {
	Name      string
	Endpoints []core.RegisterEndpointInput
}

// RulePack is a named bundle of approval rules, e.g. the gates one team
// applies to every production environment.
type RulePack struct {
	Name  string
	Rules []core.UpsertApprovalRuleInput
}

type CommandQueryBundleFactory func(service CommandQueryService) (any, error)

// EndpointRegistrar is the slice of the service endpoint packs apply
// through.
type EndpointRegistrar interface {
	RegisterEndpoint(ctx context.Context, input core.RegisterEndpointInput) (core.WebhookEndpoint, error)
}

// RuleRegistrar is the slice of the service rule packs apply through.
type RuleRegistrar interface {
	UpsertApprovalRule(ctx context.Context, input core.UpsertApprovalRuleInput) (core.ApprovalRule, error)
}

// ExtensionHooks collects downstream extension points before the engine is
// wired: endpoint packs, rule packs and custom command/query bundles.
// Registration order does not matter; application is name-sorted so results
// are deterministic.
type ExtensionHooks struct {
	mu sync.RWMutex

	endpointPacks map[string]EndpointPack
	rulePacks     map[string]RulePack
	bundles       map[string]CommandQueryBundleFactory
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		endpointPacks: map[string]EndpointPack{},
		rulePacks:     map[string]RulePack{},
		bundles:       map[string]CommandQueryBundleFactory{},
	}
}

func (h *ExtensionHooks) RegisterEndpointPack(pack EndpointPack) error {
	if h == nil {
		return fmt.Errorf("gatekeeper: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("gatekeeper: endpoint pack name is required")
	}
	if len(pack.Endpoints) == 0 {
		return fmt.Errorf("gatekeeper: endpoint pack %q has no endpoints", name)
	}

	normalized := EndpointPack{
		Name:      name,
		Endpoints: append([]core.RegisterEndpointInput(nil), pack.Endpoints...),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.endpointPacks[name]; exists {
		return fmt.Errorf("gatekeeper: endpoint pack %q already registered", name)
	}
	h.endpointPacks[name] = normalized
	return nil
}

func (h *ExtensionHooks) RegisterRulePack(pack RulePack) error {
	if h == nil {
		return fmt.Errorf("gatekeeper: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("gatekeeper: rule pack name is required")
	}
	if len(pack.Rules) == 0 {
		return fmt.Errorf("gatekeeper: rule pack %q has no rules", name)
	}

	normalized := RulePack{
		Name:  name,
		Rules: append([]core.UpsertApprovalRuleInput(nil), pack.Rules...),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.rulePacks[name]; exists {
		return fmt.Errorf("gatekeeper: rule pack %q already registered", name)
	}
	h.rulePacks[name] = normalized
	return nil
}

func (h *ExtensionHooks) RegisterCommandQueryBundle(
	name string,
	factory CommandQueryBundleFactory,
) error {
	if h == nil {
		return fmt.Errorf("gatekeeper: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("gatekeeper: command/query bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("gatekeeper: command/query bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.bundles[name]; exists {
		return fmt.Errorf("gatekeeper: command/query bundle %q already registered", name)
	}
	h.bundles[name] = factory
	return nil
}

// ApplyEndpointPacks registers every packed endpoint through the service.
// Inputs without an explicit ID get a generated one, so re-applying a pack
// against a fresh service is safe while re-applying against a hydrated one
// duplicates unpinned endpoints; packs meant to be re-applied should pin IDs.
func (h *ExtensionHooks) ApplyEndpointPacks(ctx context.Context, registrar EndpointRegistrar) error {
	if h == nil {
		return nil
	}
	if registrar == nil {
		return fmt.Errorf("gatekeeper: endpoint registrar is required")
	}

	for _, pack := range h.EndpointPacks() {
		for _, input := range pack.Endpoints {
			if _, err := registrar.RegisterEndpoint(ctx, input); err != nil {
				return fmt.Errorf("gatekeeper: endpoint pack %q: %w", pack.Name, err)
			}
		}
	}
	return nil
}

// ApplyRulePacks upserts every packed approval rule through the service.
func (h *ExtensionHooks) ApplyRulePacks(ctx context.Context, registrar RuleRegistrar) error {
	if h == nil {
		return nil
	}
	if registrar == nil {
		return fmt.Errorf("gatekeeper: rule registrar is required")
	}

	for _, pack := range h.RulePacks() {
		for _, input := range pack.Rules {
			if _, err := registrar.UpsertApprovalRule(ctx, input); err != nil {
				return fmt.Errorf("gatekeeper: rule pack %q: %w", pack.Name, err)
			}
		}
	}
	return nil
}

func (h *ExtensionHooks) BuildCommandQueryBundles(
	service CommandQueryService,
) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if service == nil {
		return nil, fmt.Errorf("gatekeeper: command/query service is required")
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	factories := make(map[string]CommandQueryBundleFactory, len(h.bundles))
	for name, factory := range h.bundles {
		factories[name] = factory
	}
	h.mu.RUnlock()

	result := make(map[string]any, len(names))
	for _, name := range names {
		bundle, err := factories[name](service)
		if err != nil {
			return nil, err
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) EndpointPacks() []EndpointPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.endpointPacks))
	for name := range h.endpointPacks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]EndpointPack, 0, len(names))
	for _, name := range names {
		pack := h.endpointPacks[name]
		out = append(out, EndpointPack{
			Name:      pack.Name,
			Endpoints: append([]core.RegisterEndpointInput(nil), pack.Endpoints...),
		})
	}
	return out
}

func (h *ExtensionHooks) RulePacks() []RulePack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.rulePacks))
	for name := range h.rulePacks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]RulePack, 0, len(names))
	for _, name := range names {
		pack := h.rulePacks[name]
		out = append(out, RulePack{
			Name:  pack.Name,
			Rules: append([]core.UpsertApprovalRuleInput(nil), pack.Rules...),
		})
	}
	return out
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
