package security

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type KMSEncryptRequest struct {
	KeyID      string
	KeyVersion int
	Plaintext  []byte
	Metadata   map[string]string
}

type KMSEncryptResponse struct {
	Ciphertext []byte
}

type KMSDecryptRequest struct {
	KeyID      string
	KeyVersion int
	Ciphertext []byte
	Metadata   map[string]string
}

type KMSDecryptResponse struct {
	Plaintext []byte
}

// KMSClient is the narrow slice of a key-management service the cipher
// needs. Wrap the vendor SDK of your platform behind it.
type KMSClient interface {
	Encrypt(ctx context.Context, req KMSEncryptRequest) (KMSEncryptResponse, error)
	Decrypt(ctx context.Context, req KMSDecryptRequest) (KMSDecryptResponse, error)
}

type KMSOption func(*KMSCipher)

type kmsKeyRef struct {
	KeyID   string
	Version int
}

func (r kmsKeyRef) id() string {
	return fmt.Sprintf("%s:%d", r.KeyID, r.Version)
}

// KMSCipher seals signing secrets through an external key-management
// service. The key never leaves the KMS; the cipher only moves ciphertext
// and records the key reference in the envelope. Decryption is restricted
// to the active key plus explicitly allowed compatibility keys, optionally
// bounded by rotation windows.
type KMSCipher struct {
	client          KMSClient
	active          kmsKeyRef
	decryptAllowed  map[string]kmsKeyRef
	rotationWindows map[string]RotationWindow
	allowAnyDecrypt bool
	metadata        map[string]string
	now             func() time.Time
}

func NewKMSCipher(client KMSClient, keyID string, version int, opts ...KMSOption) (*KMSCipher, error) {
	ref, err := newKMSKeyRef(keyID, version)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("security: kms client is required")
	}
	kms := &KMSCipher{
		client:          client,
		active:          ref,
		decryptAllowed:  map[string]kmsKeyRef{ref.id(): ref},
		rotationWindows: map[string]RotationWindow{},
		metadata:        map[string]string{},
		now:             func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(kms)
	}
	if kms.now == nil {
		kms.now = func() time.Time { return time.Now().UTC() }
	}
	return kms, nil
}

// WithKMSDecryptCompatibilityKey allows blobs sealed under an older key to
// keep decrypting during a migration.
func WithKMSDecryptCompatibilityKey(keyID string, version int) KMSOption {
	return func(kms *KMSCipher) {
		if kms == nil {
			return
		}
		ref, err := newKMSKeyRef(keyID, version)
		if err != nil {
			return
		}
		kms.decryptAllowed[ref.id()] = ref
	}
}

// WithKMSRotationWindow bounds when a key may be used. Outside the window
// both sealing and unsealing with that key fail.
func WithKMSRotationWindow(keyID string, version int, window RotationWindow) KMSOption {
	return func(kms *KMSCipher) {
		if kms == nil {
			return
		}
		ref, err := newKMSKeyRef(keyID, version)
		if err != nil {
			return
		}
		kms.rotationWindows[ref.id()] = window
	}
}

func WithKMSAllowAnyDecryptKey(allow bool) KMSOption {
	return func(kms *KMSCipher) {
		if kms == nil {
			return
		}
		kms.allowAnyDecrypt = allow
	}
}

func WithKMSMetadata(metadata map[string]string) KMSOption {
	return func(kms *KMSCipher) {
		if kms == nil {
			return
		}
		kms.metadata = copyStringMap(metadata)
	}
}

func WithKMSClock(now func() time.Time) KMSOption {
	return func(kms *KMSCipher) {
		if kms == nil {
			return
		}
		kms.now = now
	}
}

func (c *KMSCipher) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("security: kms cipher is nil")
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("security: plaintext is required")
	}
	if !c.rotationWindowAllows(c.active) {
		return nil, fmt.Errorf("security: kms key %q version %d is outside the configured rotation window", c.active.KeyID, c.active.Version)
	}

	response, err := c.client.Encrypt(ctx, KMSEncryptRequest{
		KeyID:      c.active.KeyID,
		KeyVersion: c.active.Version,
		Plaintext:  append([]byte(nil), plaintext...),
		Metadata:   copyStringMap(c.metadata),
	})
	if err != nil {
		return nil, fmt.Errorf("security: kms encrypt: %w", err)
	}
	if len(response.Ciphertext) == 0 {
		return nil, fmt.Errorf("security: kms encrypt returned empty ciphertext")
	}
	return encodeEnvelope(envelope{
		KeyID:      c.active.KeyID,
		Version:    c.active.Version,
		Algorithm:  envelopeAlgorithmKMS,
		Ciphertext: encodeCiphertextPayload(response.Ciphertext),
		Metadata:   copyStringMap(c.metadata),
	})
}

func (c *KMSCipher) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("security: kms cipher is nil")
	}
	env, _, err := decodeEnvelope(ciphertext, envelopeDecodeOptions{DefaultAlgorithm: envelopeAlgorithmKMS})
	if err != nil {
		return nil, err
	}
	if env.Algorithm != envelopeAlgorithmKMS {
		return nil, fmt.Errorf("security: unsupported envelope algorithm %q", env.Algorithm)
	}
	ref, err := newKMSKeyRef(env.KeyID, env.Version)
	if err != nil {
		return nil, err
	}
	if !c.allowAnyDecrypt {
		if _, ok := c.decryptAllowed[ref.id()]; !ok {
			return nil, fmt.Errorf("security: kms decrypt key %q version %d is not configured", ref.KeyID, ref.Version)
		}
	}
	if !c.rotationWindowAllows(ref) {
		return nil, fmt.Errorf("security: kms key %q version %d is outside the configured rotation window", ref.KeyID, ref.Version)
	}

	payload, err := decodeCiphertextPayload(env.Ciphertext)
	if err != nil {
		return nil, err
	}
	response, err := c.client.Decrypt(ctx, KMSDecryptRequest{
		KeyID:      ref.KeyID,
		KeyVersion: ref.Version,
		Ciphertext: payload,
		Metadata:   copyStringMap(env.Metadata),
	})
	if err != nil {
		return nil, fmt.Errorf("security: kms decrypt: %w", err)
	}
	if len(response.Plaintext) == 0 {
		return nil, fmt.Errorf("security: kms decrypt returned empty plaintext")
	}
	return response.Plaintext, nil
}

func (c *KMSCipher) KeyID() string {
	if c == nil {
		return ""
	}
	return c.active.KeyID
}

func (c *KMSCipher) Version() int {
	if c == nil {
		return 0
	}
	return c.active.Version
}

func (c *KMSCipher) Metadata() (string, int) {
	return c.KeyID(), c.Version()
}

func (c *KMSCipher) rotationWindowAllows(ref kmsKeyRef) bool {
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

func newKMSKeyRef(keyID string, version int) (kmsKeyRef, error) {
	trimmed := strings.TrimSpace(keyID)
	if trimmed == "" {
		return kmsKeyRef{}, fmt.Errorf("security: key id is required")
	}
	if version <= 0 {
		return kmsKeyRef{}, fmt.Errorf("security: key version must be greater than zero")
	}
	return kmsKeyRef{KeyID: trimmed, Version: version}, nil
}

var _ SecretCipher = (*KMSCipher)(nil)
