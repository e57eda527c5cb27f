package security

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type VaultEncryptRequest struct {
	KeyPath    string
	KeyVersion int
	Plaintext  []byte
	Metadata   map[string]string
}

type VaultEncryptResponse struct {
	Ciphertext []byte
}

type VaultDecryptRequest struct {
	KeyPath    string
	KeyVersion int
	Ciphertext []byte
	Metadata   map[string]string
}

type VaultDecryptResponse struct {
	Plaintext []byte
}

// VaultClient is the transit-style interface the cipher needs from a Vault
// deployment. Keys are addressed by mount path and version.
type VaultClient interface {
	Encrypt(ctx context.Context, req VaultEncryptRequest) (VaultEncryptResponse, error)
	Decrypt(ctx context.Context, req VaultDecryptRequest) (VaultDecryptResponse, error)
}

type VaultOption func(*VaultCipher)

type vaultKeyRef struct {
	Path    string
	Version int
}

func (r vaultKeyRef) id() string {
	return fmt.Sprintf("%s:%d", r.Path, r.Version)
}

// VaultCipher seals signing secrets through a Vault transit engine. Same
// posture as KMSCipher: keys stay server side, envelopes carry the key
// path, and decryption is limited to allowed keys inside their rotation
// windows.
type VaultCipher struct {
	client          VaultClient
	active          vaultKeyRef
	decryptAllowed  map[string]vaultKeyRef
	rotationWindows map[string]RotationWindow
	allowAnyDecrypt bool
	metadata        map[string]string
	now             func() time.Time
}

func NewVaultCipher(client VaultClient, keyPath string, version int, opts ...VaultOption) (*VaultCipher, error) {
	ref, err := newVaultKeyRef(keyPath, version)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("security: vault client is required")
	}
	vault := &VaultCipher{
		client:          client,
		active:          ref,
		decryptAllowed:  map[string]vaultKeyRef{ref.id(): ref},
		rotationWindows: map[string]RotationWindow{},
		metadata:        map[string]string{},
		now:             func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(vault)
	}
	if vault.now == nil {
		vault.now = func() time.Time { return time.Now().UTC() }
	}
	return vault, nil
}

func WithVaultDecryptCompatibilityKey(keyPath string, version int) VaultOption {
	return func(vault *VaultCipher) {
		if vault == nil {
			return
		}
		ref, err := newVaultKeyRef(keyPath, version)
		if err != nil {
			return
		}
		vault.decryptAllowed[ref.id()] = ref
	}
}

func WithVaultRotationWindow(keyPath string, version int, window RotationWindow) VaultOption {
	return func(vault *VaultCipher) {
		if vault == nil {
			return
		}
		ref, err := newVaultKeyRef(keyPath, version)
		if err != nil {
			return
		}
		vault.rotationWindows[ref.id()] = window
	}
}

func WithVaultAllowAnyDecryptKey(allow bool) VaultOption {
	return func(vault *VaultCipher) {
		if vault == nil {
			return
		}
		vault.allowAnyDecrypt = allow
	}
}

func WithVaultMetadata(metadata map[string]string) VaultOption {
	return func(vault *VaultCipher) {
		if vault == nil {
			return
		}
		vault.metadata = copyStringMap(metadata)
	}
}

func WithVaultClock(now func() time.Time) VaultOption {
	return func(vault *VaultCipher) {
		if vault == nil {
			return
		}
		vault.now = now
	}
}

func (c *VaultCipher) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("security: vault cipher is nil")
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("security: plaintext is required")
	}
	if !c.rotationWindowAllows(c.active) {
		return nil, fmt.Errorf("security: vault key %q version %d is outside the configured rotation window", c.active.Path, c.active.Version)
	}

	response, err := c.client.Encrypt(ctx, VaultEncryptRequest{
		KeyPath:    c.active.Path,
		KeyVersion: c.active.Version,
		Plaintext:  append([]byte(nil), plaintext...),
		Metadata:   copyStringMap(c.metadata),
	})
	if err != nil {
		return nil, fmt.Errorf("security: vault encrypt: %w", err)
	}
	if len(response.Ciphertext) == 0 {
		return nil, fmt.Errorf("security: vault encrypt returned empty ciphertext")
	}
	return encodeEnvelope(envelope{
		KeyID:      c.active.Path,
		Version:    c.active.Version,
		Algorithm:  envelopeAlgorithmVault,
		Ciphertext: encodeCiphertextPayload(response.Ciphertext),
		Metadata:   copyStringMap(c.metadata),
	})
}

func (c *VaultCipher) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("security: vault cipher is nil")
	}
	env, _, err := decodeEnvelope(ciphertext, envelopeDecodeOptions{DefaultAlgorithm: envelopeAlgorithmVault})
	if err != nil {
		return nil, err
	}
	if env.Algorithm != envelopeAlgorithmVault {
		return nil, fmt.Errorf("security: unsupported envelope algorithm %q", env.Algorithm)
	}
	ref, err := newVaultKeyRef(env.KeyID, env.Version)
	if err != nil {
		return nil, err
	}
	if !c.allowAnyDecrypt {
		if _, ok := c.decryptAllowed[ref.id()]; !ok {
			return nil, fmt.Errorf("security: vault decrypt key %q version %d is not configured", ref.Path, ref.Version)
		}
	}
	if !c.rotationWindowAllows(ref) {
		return nil, fmt.Errorf("security: vault key %q version %d is outside the configured rotation window", ref.Path, ref.Version)
	}

	payload, err := decodeCiphertextPayload(env.Ciphertext)
	if err != nil {
		return nil, err
	}
	response, err := c.client.Decrypt(ctx, VaultDecryptRequest{
		KeyPath:    ref.Path,
		KeyVersion: ref.Version,
		Ciphertext: payload,
		Metadata:   copyStringMap(env.Metadata),
	})
	if err != nil {
		return nil, fmt.Errorf("security: vault decrypt: %w", err)
	}
	if len(response.Plaintext) == 0 {
		return nil, fmt.Errorf("security: vault decrypt returned empty plaintext")
	}
	return response.Plaintext, nil
}

func (c *VaultCipher) KeyID() string {
	if c == nil {
		return ""
	}
	return c.active.Path
}

func (c *VaultCipher) Version() int {
	if c == nil {
		return 0
	}
	return c.active.Version
}

func (c *VaultCipher) Metadata() (string, int) {
	return c.KeyID(), c.Version()
}

func (c *VaultCipher) rotationWindowAllows(ref vaultKeyRef) bool {
	if c == nil {
		return false
	}
	window, ok := c.rotationWindows[ref.id()]
	if !ok {
		return true
	}
	now := c.now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return window.Allows(now())
}

func newVaultKeyRef(keyPath string, version int) (vaultKeyRef, error) {
	trimmed := strings.TrimSpace(keyPath)
	if trimmed == "" {
		return vaultKeyRef{}, fmt.Errorf("security: key path is required")
	}
	if version <= 0 {
		return vaultKeyRef{}, fmt.Errorf("security: key version must be greater than zero")
	}
	return vaultKeyRef{Path: trimmed, Version: version}, nil
}

var _ SecretCipher = (*VaultCipher)(nil)
