package security

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-gatekeeper/core"
)

type SecretProviderFailurePolicy string

const (
	SecretProviderFailurePolicyStrict   SecretProviderFailurePolicy = "strict_fail"
	SecretProviderFailurePolicyFallback SecretProviderFailurePolicy = "fallback_allowed"
)

type SecretProviderDiagnostic struct {
	OccurredAt time.Time
	EndpointID string
	Policy     SecretProviderFailurePolicy
	Outcome    string
	Primary    string
	Fallback   string
	Error      string
}

type SecretProviderDiagnosticHook func(event SecretProviderDiagnostic)

type FailoverOption func(*FailoverSecretProvider)

// FailoverSecretProvider chains two signing-secret sources. A miss on the
// primary (empty secret, no error) always consults the fallback; a primary
// failure consults it only under the fallback policy.
type FailoverSecretProvider struct {
	primary        core.SigningSecretProvider
	fallback       core.SigningSecretProvider
	policy         SecretProviderFailurePolicy
	diagnosticHook SecretProviderDiagnosticHook
	now            func() time.Time

	mu         sync.RWMutex
	lastSource string
}

func NewFailoverSecretProvider(primary core.SigningSecretProvider, opts ...FailoverOption) (*FailoverSecretProvider, error) {
	if primary == nil {
		return nil, fmt.Errorf("security: primary secret provider is required")
	}
	provider := &FailoverSecretProvider{
		primary: primary,
		policy:  SecretProviderFailurePolicyStrict,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(provider)
	}
	provider.policy = normalizeFailurePolicy(provider.policy)
	if provider.policy == SecretProviderFailurePolicyFallback && provider.fallback == nil {
		return nil, fmt.Errorf("security: fallback policy requires a configured fallback secret provider")
	}
	if provider.now == nil {
		provider.now = func() time.Time { return time.Now().UTC() }
	}
	return provider, nil
}

func WithFallbackSecretProvider(provider core.SigningSecretProvider) FailoverOption {
	return func(f *FailoverSecretProvider) {
		if f == nil {
			return
		}
		f.fallback = provider
	}
}

func WithSecretProviderFailurePolicy(policy SecretProviderFailurePolicy) FailoverOption {
	return func(f *FailoverSecretProvider) {
		if f == nil {
			return
		}
		f.policy = normalizeFailurePolicy(policy)
	}
}

func WithSecretProviderDiagnostics(hook SecretProviderDiagnosticHook) FailoverOption {
	return func(f *FailoverSecretProvider) {
		if f == nil {
			return
		}
		f.diagnosticHook = hook
	}
}

func WithFailoverClock(now func() time.Time) FailoverOption {
	return func(f *FailoverSecretProvider) {
		if f == nil {
			return
		}
		f.now = now
	}
}

func (p *FailoverSecretProvider) SecretFor(ctx context.Context, endpointID string) (string, error) {
	if p == nil {
		return "", fmt.Errorf("security: secret provider is nil")
	}

	secret, err := p.primary.SecretFor(ctx, endpointID)
	if err == nil {
		if strings.TrimSpace(secret) != "" {
			p.recordSource("primary")
			return secret, nil
		}
		if p.fallback == nil {
			p.recordSource("primary")
			return secret, nil
		}
		fallbackSecret, fallbackErr := p.fallback.SecretFor(ctx, endpointID)
		if fallbackErr != nil {
			p.emit(endpointID, "fallback_failed", fallbackErr)
			return "", fmt.Errorf("security: fallback secret lookup failed: %w", fallbackErr)
		}
		p.recordSource("fallback")
		return fallbackSecret, nil
	}

	p.emit(endpointID, "primary_failed", err)
	if p.policy == SecretProviderFailurePolicyStrict || p.fallback == nil {
		return "", fmt.Errorf("security: primary secret lookup failed with %s policy: %w", p.policy, err)
	}
	fallbackSecret, fallbackErr := p.fallback.SecretFor(ctx, endpointID)
	if fallbackErr != nil {
		p.emit(endpointID, "fallback_failed", fallbackErr)
		return "", fmt.Errorf("security: primary secret lookup failed: %v; fallback failed: %w", err, fallbackErr)
	}
	p.recordSource("fallback")
	p.emit(endpointID, "fallback_succeeded", err)
	return fallbackSecret, nil
}

// LastSource reports which provider served the most recent lookup, for
// rotation dashboards.
func (p *FailoverSecretProvider) LastSource() string {
	if p == nil {
		return ""
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSource
}

func (p *FailoverSecretProvider) emit(endpointID string, outcome string, err error) {
	if p == nil || p.diagnosticHook == nil {
		return
	}
	now := p.now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	p.diagnosticHook(SecretProviderDiagnostic{
		OccurredAt: now().UTC(),
		EndpointID: endpointID,
		Policy:     p.policy,
		Outcome:    outcome,
		Primary:    describeSecretProvider(p.primary),
		Fallback:   describeSecretProvider(p.fallback),
		Error:      msg,
	})
}

func (p *FailoverSecretProvider) recordSource(source string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.lastSource = source
	p.mu.Unlock()
}

func normalizeFailurePolicy(policy SecretProviderFailurePolicy) SecretProviderFailurePolicy {
	normalized := SecretProviderFailurePolicy(strings.ToLower(strings.TrimSpace(string(policy))))
	switch normalized {
	case SecretProviderFailurePolicyFallback:
		return SecretProviderFailurePolicyFallback
	default:
		return SecretProviderFailurePolicyStrict
	}
}

func describeSecretProvider(provider core.SigningSecretProvider) string {
	if provider == nil {
		return ""
	}
	return reflect.TypeOf(provider).String()
}

var _ core.SigningSecretProvider = (*FailoverSecretProvider)(nil)
