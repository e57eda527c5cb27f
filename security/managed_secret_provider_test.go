package security

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"
	"time"
)

type fakeKMSClient struct {
	failEncrypt bool
	failDecrypt bool
}

func (c *fakeKMSClient) Encrypt(_ context.Context, req KMSEncryptRequest) (KMSEncryptResponse, error) {
	if c.failEncrypt {
		return KMSEncryptResponse{}, fmt.Errorf("kms unavailable")
	}
	if len(req.Plaintext) == 0 {
		return KMSEncryptResponse{}, fmt.Errorf("plaintext is required")
	}
	encoded := base64.StdEncoding.EncodeToString(req.Plaintext)
	wire := fmt.Sprintf("kms|%s|%d|%s", req.KeyID, req.KeyVersion, encoded)
	return KMSEncryptResponse{Ciphertext: []byte(wire)}, nil
}

func (c *fakeKMSClient) Decrypt(_ context.Context, req KMSDecryptRequest) (KMSDecryptResponse, error) {
	if c.failDecrypt {
		return KMSDecryptResponse{}, fmt.Errorf("kms unavailable")
	}
	parts := strings.Split(string(req.Ciphertext), "|")
	if len(parts) != 4 || parts[0] != "kms" {
		return KMSDecryptResponse{}, fmt.Errorf("invalid kms payload")
	}
	if parts[1] != req.KeyID {
		return KMSDecryptResponse{}, fmt.Errorf("kms key mismatch")
	}
	if fmt.Sprintf("%d", req.KeyVersion) != parts[2] {
		return KMSDecryptResponse{}, fmt.Errorf("kms version mismatch")
	}
	decoded, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil {
		return KMSDecryptResponse{}, err
	}
	return KMSDecryptResponse{Plaintext: decoded}, nil
}

type fakeVaultClient struct {
	failEncrypt bool
	failDecrypt bool
}

func (c *fakeVaultClient) Encrypt(_ context.Context, req VaultEncryptRequest) (VaultEncryptResponse, error) {
	if c.failEncrypt {
		return VaultEncryptResponse{}, fmt.Errorf("vault unavailable")
	}
	encoded := base64.StdEncoding.EncodeToString(req.Plaintext)
	wire := fmt.Sprintf("vault|%s|%d|%s", req.KeyPath, req.KeyVersion, encoded)
	return VaultEncryptResponse{Ciphertext: []byte(wire)}, nil
}

func (c *fakeVaultClient) Decrypt(_ context.Context, req VaultDecryptRequest) (VaultDecryptResponse, error) {
	if c.failDecrypt {
		return VaultDecryptResponse{}, fmt.Errorf("vault unavailable")
	}
	parts := strings.Split(string(req.Ciphertext), "|")
	if len(parts) != 4 || parts[0] != "vault" {
		return VaultDecryptResponse{}, fmt.Errorf("invalid vault payload")
	}
	if parts[1] != req.KeyPath {
		return VaultDecryptResponse{}, fmt.Errorf("vault path mismatch")
	}
	if fmt.Sprintf("%d", req.KeyVersion) != parts[2] {
		return VaultDecryptResponse{}, fmt.Errorf("vault version mismatch")
	}
	decoded, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil {
		return VaultDecryptResponse{}, err
	}
	return VaultDecryptResponse{Plaintext: decoded}, nil
}

func TestKMSCipher_EncryptDecryptRoundTrip(t *testing.T) {
	kms, err := NewKMSCipher(&fakeKMSClient{}, "kms-gatekeeper", 3, WithKMSMetadata(map[string]string{"env": "test"}))
	if err != nil {
		t.Fatalf("new kms cipher: %v", err)
	}
	plaintext := []byte("kms-signing-secret")
	ciphertext, err := kms.Encrypt(context.Background(), plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	metadata, err := ParseEnvelopeMetadata(ciphertext, false)
	if err != nil {
		t.Fatalf("parse metadata: %v", err)
	}
	if metadata.Algorithm != envelopeAlgorithmKMS || metadata.KeyID != "kms-gatekeeper" || metadata.Version != 3 {
		t.Fatalf("unexpected metadata: %#v", metadata)
	}
	decrypted, err := kms.Decrypt(context.Background(), ciphertext)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatalf("expected roundtrip plaintext")
	}
}

func TestVaultCipher_EncryptDecryptRoundTrip(t *testing.T) {
	vault, err := NewVaultCipher(&fakeVaultClient{}, "transit/gatekeeper", 2)
	if err != nil {
		t.Fatalf("new vault cipher: %v", err)
	}
	plaintext := []byte("vault-signing-secret")
	ciphertext, err := vault.Encrypt(context.Background(), plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	metadata, err := ParseEnvelopeMetadata(ciphertext, false)
	if err != nil {
		t.Fatalf("parse metadata: %v", err)
	}
	if metadata.Algorithm != envelopeAlgorithmVault || metadata.KeyID != "transit/gatekeeper" || metadata.Version != 2 {
		t.Fatalf("unexpected metadata: %#v", metadata)
	}
	decrypted, err := vault.Decrypt(context.Background(), ciphertext)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatalf("expected roundtrip plaintext")
	}
}

func TestKMSCipher_RotationWindowAndLegacyDecryptCompatibility(t *testing.T) {
	now := time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC)
	client := &fakeKMSClient{}
	legacyCipher, err := NewKMSCipher(client, "kms-gatekeeper", 1)
	if err != nil {
		t.Fatalf("new legacy cipher: %v", err)
	}
	legacyCiphertext, err := legacyCipher.Encrypt(context.Background(), []byte("legacy-secret"))
	if err != nil {
		t.Fatalf("legacy encrypt: %v", err)
	}

	activeWindow := RotationWindow{NotBefore: now.Add(-2 * time.Hour), NotAfter: now.Add(2 * time.Hour)}
	legacyWindow := RotationWindow{NotBefore: now.Add(-24 * time.Hour), NotAfter: now.Add(24 * time.Hour)}
	rotated, err := NewKMSCipher(
		client,
		"kms-gatekeeper",
		2,
		WithKMSClock(func() time.Time { return now }),
		WithKMSDecryptCompatibilityKey("kms-gatekeeper", 1),
		WithKMSRotationWindow("kms-gatekeeper", 2, activeWindow),
		WithKMSRotationWindow("kms-gatekeeper", 1, legacyWindow),
	)
	if err != nil {
		t.Fatalf("new rotated cipher: %v", err)
	}
	decrypted, err := rotated.Decrypt(context.Background(), legacyCiphertext)
	if err != nil {
		t.Fatalf("decrypt legacy ciphertext: %v", err)
	}
	if string(decrypted) != "legacy-secret" {
		t.Fatalf("expected legacy decrypt compatibility")
	}

	closed, err := NewKMSCipher(
		client,
		"kms-gatekeeper",
		2,
		WithKMSClock(func() time.Time { return now }),
		WithKMSDecryptCompatibilityKey("kms-gatekeeper", 1),
		WithKMSRotationWindow("kms-gatekeeper", 1, RotationWindow{NotAfter: now.Add(-time.Minute)}),
	)
	if err != nil {
		t.Fatalf("new closed cipher: %v", err)
	}
	if _, err := closed.Decrypt(context.Background(), legacyCiphertext); err == nil {
		t.Fatalf("expected decrypt to fail when compatibility window has closed")
	}
}

func TestCipherChain_MigratesAppKeyToKMS(t *testing.T) {
	legacy, err := NewAppKeyCipherFromString("legacy-key", WithAppKeyID("app-v1"), WithAppKeyVersion(1))
	if err != nil {
		t.Fatalf("new legacy cipher: %v", err)
	}
	kms, err := NewKMSCipher(&fakeKMSClient{}, "kms-gatekeeper", 5)
	if err != nil {
		t.Fatalf("new kms cipher: %v", err)
	}
	chain, err := NewCipherChain(kms, legacy)
	if err != nil {
		t.Fatalf("new cipher chain: %v", err)
	}

	legacyCiphertext, err := legacy.Encrypt(context.Background(), []byte("legacy-token"))
	if err != nil {
		t.Fatalf("legacy encrypt: %v", err)
	}
	recovered, err := chain.Decrypt(context.Background(), legacyCiphertext)
	if err != nil {
		t.Fatalf("chain decrypt legacy blob: %v", err)
	}
	if string(recovered) != "legacy-token" {
		t.Fatalf("expected chain to recover legacy blob")
	}

	newCiphertext, err := chain.Encrypt(context.Background(), []byte("new-token"))
	if err != nil {
		t.Fatalf("chain encrypt: %v", err)
	}
	metadata, err := ParseEnvelopeMetadata(newCiphertext, false)
	if err != nil {
		t.Fatalf("parse metadata: %v", err)
	}
	if metadata.Algorithm != envelopeAlgorithmKMS {
		t.Fatalf("expected new blobs to seal under kms")
	}
	if keyID, version := chain.Metadata(); keyID != "kms-gatekeeper" || version != 5 {
		t.Fatalf("expected chain metadata to report primary key, got %s:%d", keyID, version)
	}
}

func TestManagedSecretProvider_SealAndLookup(t *testing.T) {
	ctx := context.Background()
	legacy, err := NewAppKeyCipherFromString("legacy-key", WithAppKeyID("app-v1"), WithAppKeyVersion(1))
	if err != nil {
		t.Fatalf("new legacy cipher: %v", err)
	}
	vault, err := NewVaultCipher(&fakeVaultClient{}, "transit/gatekeeper", 9)
	if err != nil {
		t.Fatalf("new vault cipher: %v", err)
	}
	chain, err := NewCipherChain(vault, legacy)
	if err != nil {
		t.Fatalf("new cipher chain: %v", err)
	}

	sealedOverride, err := legacy.Encrypt(ctx, []byte("whsec_endpoint_override"))
	if err != nil {
		t.Fatalf("seal legacy override: %v", err)
	}
	provider, err := NewManagedSecretProvider(chain, WithSealedEndpointSecret("wh_1", sealedOverride))
	if err != nil {
		t.Fatalf("new managed provider: %v", err)
	}
	if _, err := provider.SealDefaultSecret(ctx, "whsec_default"); err != nil {
		t.Fatalf("seal default: %v", err)
	}

	secret, err := provider.SecretFor(ctx, "wh_1")
	if err != nil {
		t.Fatalf("secret for wh_1: %v", err)
	}
	if secret != "whsec_endpoint_override" {
		t.Fatalf("expected legacy override to unseal through the chain, got %q", secret)
	}

	secret, err = provider.SecretFor(ctx, "wh_other")
	if err != nil {
		t.Fatalf("secret for wh_other: %v", err)
	}
	if secret != "whsec_default" {
		t.Fatalf("expected default fallback, got %q", secret)
	}

	if !provider.RemoveEndpointSecret("wh_1") {
		t.Fatalf("expected override removal to report true")
	}
	secret, err = provider.SecretFor(ctx, "wh_1")
	if err != nil {
		t.Fatalf("secret for wh_1 after removal: %v", err)
	}
	if secret != "whsec_default" {
		t.Fatalf("expected removal to fall back to default, got %q", secret)
	}

	if keyID, version := provider.Metadata(); keyID != "transit/gatekeeper" || version != 9 {
		t.Fatalf("expected active sealing key metadata, got %s:%d", keyID, version)
	}
}

func TestManagedSecretProvider_EmptyWithoutSecrets(t *testing.T) {
	appKey, err := NewAppKeyCipherFromString("managed-key")
	if err != nil {
		t.Fatalf("new app key cipher: %v", err)
	}
	provider, err := NewManagedSecretProvider(appKey)
	if err != nil {
		t.Fatalf("new managed provider: %v", err)
	}
	secret, err := provider.SecretFor(context.Background(), "wh_unknown")
	if err != nil {
		t.Fatalf("secret for unknown endpoint: %v", err)
	}
	if secret != "" {
		t.Fatalf("expected empty secret when nothing is sealed, got %q", secret)
	}
}

func TestManagedSecretProvider_FailsClosedOnUnsealError(t *testing.T) {
	ctx := context.Background()
	sealer, err := NewAppKeyCipherFromString("first-key")
	if err != nil {
		t.Fatalf("new sealing cipher: %v", err)
	}
	sealed, err := sealer.Encrypt(ctx, []byte("whsec_sealed_elsewhere"))
	if err != nil {
		t.Fatalf("seal secret: %v", err)
	}

	wrongKey, err := NewAppKeyCipherFromString("second-key")
	if err != nil {
		t.Fatalf("new mismatched cipher: %v", err)
	}
	provider, err := NewManagedSecretProvider(wrongKey, WithSealedEndpointSecret("wh_1", sealed))
	if err != nil {
		t.Fatalf("new managed provider: %v", err)
	}
	if _, err := provider.SecretFor(ctx, "wh_1"); err == nil {
		t.Fatalf("expected unseal failure to surface instead of falling back")
	}
}
