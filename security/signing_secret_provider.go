package security

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-gatekeeper/core"
)

type Option func(*StaticSecretProvider)

// StaticSecretProvider serves signing secrets from memory: per-endpoint
// overrides first, then the shared default. An empty result means the
// caller signs with its own fallback or not at all.
type StaticSecretProvider struct {
	mu       sync.RWMutex
	fallback string
	secrets  map[string]string
}

func WithEndpointSecret(endpointID string, secret string) Option {
	return func(provider *StaticSecretProvider) {
		endpointID = strings.TrimSpace(endpointID)
		if endpointID == "" {
			return
		}
		provider.secrets[endpointID] = strings.TrimSpace(secret)
	}
}

func NewStaticSecretProvider(defaultSecret string, opts ...Option) *StaticSecretProvider {
	provider := &StaticSecretProvider{
		fallback: strings.TrimSpace(defaultSecret),
		secrets:  map[string]string{},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(provider)
	}
	return provider
}

func (p *StaticSecretProvider) SecretFor(_ context.Context, endpointID string) (string, error) {
	if p == nil {
		return "", fmt.Errorf("security: secret provider is nil")
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if secret, ok := p.secrets[strings.TrimSpace(endpointID)]; ok && secret != "" {
		return secret, nil
	}
	return p.fallback, nil
}

// SetEndpointSecret installs or replaces a per-endpoint secret and returns
// the value it replaced. An empty secret removes the override.
func (p *StaticSecretProvider) SetEndpointSecret(endpointID string, secret string) (string, error) {
	if p == nil {
		return "", fmt.Errorf("security: secret provider is nil")
	}
	endpointID = strings.TrimSpace(endpointID)
	if endpointID == "" {
		return "", fmt.Errorf("security: endpoint id is required")
	}
	secret = strings.TrimSpace(secret)

	p.mu.Lock()
	defer p.mu.Unlock()
	previous := p.secrets[endpointID]
	if secret == "" {
		delete(p.secrets, endpointID)
		return previous, nil
	}
	p.secrets[endpointID] = secret
	return previous, nil
}

// SetDefaultSecret replaces the shared default and returns the previous
// value.
func (p *StaticSecretProvider) SetDefaultSecret(secret string) (string, error) {
	if p == nil {
		return "", fmt.Errorf("security: secret provider is nil")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	previous := p.fallback
	p.fallback = strings.TrimSpace(secret)
	return previous, nil
}

var _ core.SigningSecretProvider = (*StaticSecretProvider)(nil)
