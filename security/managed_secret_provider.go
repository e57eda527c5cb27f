package security

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-gatekeeper/core"
)

// SecretCipher seals signing-secret material for storage and unseals it on
// demand. Implementations wrap a local key (AppKeyCipher) or an external
// service (KMSCipher, VaultCipher); all of them share the envelope format,
// so a sealed blob names the key that protects it.
type SecretCipher interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
	Metadata() (keyID string, version int)
}

// CipherChain encrypts with a primary cipher while still unsealing blobs
// written under earlier keys. It keeps signing alive mid key migration:
// new secrets seal under the primary, old blobs stay readable until they
// are resealed.
type CipherChain struct {
	primary SecretCipher
	legacy  []SecretCipher
}

func NewCipherChain(primary SecretCipher, legacy ...SecretCipher) (*CipherChain, error) {
	if primary == nil {
		return nil, fmt.Errorf("security: primary cipher is required")
	}
	chain := &CipherChain{primary: primary}
	for _, member := range legacy {
		if member == nil {
			continue
		}
		chain.legacy = append(chain.legacy, member)
	}
	return chain, nil
}

func (c *CipherChain) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	if c == nil || c.primary == nil {
		return nil, fmt.Errorf("security: cipher chain is not configured")
	}
	return c.primary.Encrypt(ctx, plaintext)
}

// Decrypt tries the primary cipher first and falls through the legacy list
// in order. The primary error is reported when nothing can open the blob.
func (c *CipherChain) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if c == nil || c.primary == nil {
		return nil, fmt.Errorf("security: cipher chain is not configured")
	}
	plaintext, err := c.primary.Decrypt(ctx, ciphertext)
	if err == nil {
		return plaintext, nil
	}
	for _, member := range c.legacy {
		if recovered, legacyErr := member.Decrypt(ctx, ciphertext); legacyErr == nil {
			return recovered, nil
		}
	}
	return nil, err
}

func (c *CipherChain) Metadata() (string, int) {
	if c == nil || c.primary == nil {
		return "", 0
	}
	return c.primary.Metadata()
}

// ManagedSecretProvider serves signing secrets that live encrypted at rest.
// Secrets are sealed on the way in and unsealed per lookup, so plaintext
// never sits in the provider between deliveries. Lookup order matches the
// plaintext provider: per-endpoint override first, then the default; an
// empty result means the endpoint delivers unsigned.
type ManagedSecretProvider struct {
	mu            sync.RWMutex
	cipher        SecretCipher
	sealed        map[string][]byte
	sealedDefault []byte
}

type ManagedOption func(*ManagedSecretProvider)

// WithSealedDefaultSecret installs a previously sealed fallback secret,
// typically a blob restored from configuration storage.
func WithSealedDefaultSecret(ciphertext []byte) ManagedOption {
	return func(provider *ManagedSecretProvider) {
		if provider == nil || len(ciphertext) == 0 {
			return
		}
		provider.sealedDefault = append([]byte(nil), ciphertext...)
	}
}

// WithSealedEndpointSecret installs a previously sealed per-endpoint
// override.
func WithSealedEndpointSecret(endpointID string, ciphertext []byte) ManagedOption {
	return func(provider *ManagedSecretProvider) {
		if provider == nil || len(ciphertext) == 0 {
			return
		}
		trimmed := strings.TrimSpace(endpointID)
		if trimmed == "" {
			return
		}
		provider.sealed[trimmed] = append([]byte(nil), ciphertext...)
	}
}

func NewManagedSecretProvider(cipher SecretCipher, opts ...ManagedOption) (*ManagedSecretProvider, error) {
	if cipher == nil {
		return nil, fmt.Errorf("security: secret cipher is required")
	}
	provider := &ManagedSecretProvider{
		cipher: cipher,
		sealed: map[string][]byte{},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(provider)
	}
	return provider, nil
}

// SealDefaultSecret encrypts and installs the fallback secret. The sealed
// blob is returned so callers can persist it alongside their configuration.
func (p *ManagedSecretProvider) SealDefaultSecret(ctx context.Context, secret string) ([]byte, error) {
	sealed, err := p.seal(ctx, secret)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.sealedDefault = sealed
	p.mu.Unlock()
	return append([]byte(nil), sealed...), nil
}

// SealEndpointSecret encrypts and installs a per-endpoint override.
func (p *ManagedSecretProvider) SealEndpointSecret(ctx context.Context, endpointID, secret string) ([]byte, error) {
	trimmed := strings.TrimSpace(endpointID)
	if trimmed == "" {
		return nil, fmt.Errorf("security: endpoint id is required")
	}
	sealed, err := p.seal(ctx, secret)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.sealed[trimmed] = sealed
	p.mu.Unlock()
	return append([]byte(nil), sealed...), nil
}

// RemoveEndpointSecret drops an override; later lookups fall back to the
// default secret. It reports whether an override existed.
func (p *ManagedSecretProvider) RemoveEndpointSecret(endpointID string) bool {
	if p == nil {
		return false
	}
	trimmed := strings.TrimSpace(endpointID)
	if trimmed == "" {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.sealed[trimmed]; !ok {
		return false
	}
	delete(p.sealed, trimmed)
	return true
}

// SecretFor unseals the override for endpointID, falling back to the
// default. An override that exists but cannot be unsealed is an error, not
// a fallback: signing with the wrong secret is worse than not signing.
func (p *ManagedSecretProvider) SecretFor(ctx context.Context, endpointID string) (string, error) {
	if p == nil || p.cipher == nil {
		return "", fmt.Errorf("security: managed secret provider is not configured")
	}
	trimmed := strings.TrimSpace(endpointID)

	p.mu.RLock()
	var sealed []byte
	if trimmed != "" {
		if blob, ok := p.sealed[trimmed]; ok {
			sealed = append([]byte(nil), blob...)
		}
	}
	if sealed == nil && len(p.sealedDefault) > 0 {
		sealed = append([]byte(nil), p.sealedDefault...)
	}
	p.mu.RUnlock()

	if sealed == nil {
		return "", nil
	}
	plaintext, err := p.cipher.Decrypt(ctx, sealed)
	if err != nil {
		return "", fmt.Errorf("security: unseal signing secret: %w", err)
	}
	return string(plaintext), nil
}

// Metadata reports the active sealing key so rotation tooling can tell
// which secrets still need resealing.
func (p *ManagedSecretProvider) Metadata() (string, int) {
	if p == nil || p.cipher == nil {
		return "", 0
	}
	return p.cipher.Metadata()
}

func (p *ManagedSecretProvider) seal(ctx context.Context, secret string) ([]byte, error) {
	if p == nil || p.cipher == nil {
		return nil, fmt.Errorf("security: managed secret provider is not configured")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("security: secret is required")
	}
	return p.cipher.Encrypt(ctx, []byte(secret))
}

var (
	_ SecretCipher               = (*CipherChain)(nil)
	_ core.SigningSecretProvider = (*ManagedSecretProvider)(nil)
)
