package security

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// AppKeyCipher seals signing secrets under a locally held application key
// using AES-256-GCM. Deployments without a KMS or Vault reach for this one;
// key material of any length is accepted and derived down to a cipher key.
type AppKeyCipher struct {
	key     []byte
	keyID   string
	version int
}

type AppKeyOption func(*AppKeyCipher)

func WithAppKeyID(id string) AppKeyOption {
	return func(c *AppKeyCipher) {
		trimmed := strings.TrimSpace(id)
		if trimmed != "" {
			c.keyID = trimmed
		}
	}
}

func WithAppKeyVersion(version int) AppKeyOption {
	return func(c *AppKeyCipher) {
		if version > 0 {
			c.version = version
		}
	}
}

func NewAppKeyCipher(keyMaterial []byte, opts ...AppKeyOption) (*AppKeyCipher, error) {
	material := bytes.TrimSpace(keyMaterial)
	if len(material) == 0 {
		return nil, fmt.Errorf("security: key material is required")
	}
	appKey := &AppKeyCipher{
		key:     deriveAESKey(material),
		keyID:   "app-key",
		version: 1,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(appKey)
	}
	return appKey, nil
}

func NewAppKeyCipherFromString(key string, opts ...AppKeyOption) (*AppKeyCipher, error) {
	return NewAppKeyCipher([]byte(key), opts...)
}

func (c *AppKeyCipher) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("security: app key cipher is nil")
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("security: plaintext is required")
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("security: nonce generation failed: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	return encodeEnvelope(envelope{
		KeyID:      c.keyID,
		Version:    c.version,
		Algorithm:  envelopeAlgorithmAESGCM,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: encodeCiphertextPayload(sealed),
	})
}

func (c *AppKeyCipher) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("security: app key cipher is nil")
	}
	env, _, err := decodeEnvelope(ciphertext, envelopeDecodeOptions{
		AllowMissingPrefix: true,
		DefaultAlgorithm:   envelopeAlgorithmAESGCM,
	})
	if err != nil {
		return nil, err
	}
	if env.Algorithm != envelopeAlgorithmAESGCM {
		return nil, fmt.Errorf("security: unsupported envelope algorithm %q", env.Algorithm)
	}
	if env.KeyID != "" && env.KeyID != c.keyID {
		return nil, fmt.Errorf("security: key id mismatch: got %q want %q", env.KeyID, c.keyID)
	}
	if env.Version > 0 && env.Version != c.version {
		return nil, fmt.Errorf("security: key version mismatch: got %d want %d", env.Version, c.version)
	}

	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("security: decode nonce: %w", err)
	}
	payload, err := decodeCiphertextPayload(env.Ciphertext)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, payload, nil)
	if err != nil {
		return nil, fmt.Errorf("security: decrypt payload: %w", err)
	}
	return plaintext, nil
}

func (c *AppKeyCipher) KeyID() string {
	if c == nil {
		return ""
	}
	return c.keyID
}

func (c *AppKeyCipher) Version() int {
	if c == nil {
		return 0
	}
	return c.version
}

func (c *AppKeyCipher) Metadata() (string, int) {
	return c.KeyID(), c.Version()
}

// deriveAESKey passes key material through when it already has a valid AES
// length and hashes everything else down to 32 bytes.
func deriveAESKey(material []byte) []byte {
	if len(material) == 16 || len(material) == 24 || len(material) == 32 {
		key := make([]byte, len(material))
		copy(key, material)
		return key
	}
	sum := sha256.Sum256(material)
	key := make([]byte, len(sum))
	copy(key, sum[:])
	return key
}

var _ SecretCipher = (*AppKeyCipher)(nil)
