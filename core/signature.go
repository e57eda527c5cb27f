package core

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

const (
	SignatureEncodingHex    = "hex"
	SignatureEncodingBase64 = "base64"
)

const DefaultSignaturePrefix = "sha256="

// SignatureCodec signs and verifies payloads with HMAC-SHA256. Signing is
// deterministic for identical input; verification is constant-time and fails
// closed on empty or undecodable signatures.
type SignatureCodec struct {
	Prefix   string
	Encoding string // hex | base64
}

func NewSignatureCodec() SignatureCodec {
	return SignatureCodec{
		Prefix:   DefaultSignaturePrefix,
		Encoding: SignatureEncodingHex,
	}
}

// Sign returns the prefixed signature over payload, or an empty string when
// no secret is configured so callers can omit the header entirely.
func (c SignatureCodec) Sign(payload []byte, secret string) string {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return ""
	}
	digest := c.digest(payload, secret)
	switch strings.ToLower(strings.TrimSpace(c.Encoding)) {
	case SignatureEncodingBase64:
		return c.prefix() + base64.StdEncoding.EncodeToString(digest)
	default:
		return c.prefix() + hex.EncodeToString(digest)
	}
}

// Verify checks signature against payload. The prefix is tolerated but not
// required on the presented value.
func (c SignatureCodec) Verify(payload []byte, signature string, secret string) bool {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return false
	}
	signature = strings.TrimSpace(signature)
	signature = strings.TrimPrefix(signature, c.prefix())
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}

	expected := c.digest(payload, secret)
	switch strings.ToLower(strings.TrimSpace(c.Encoding)) {
	case SignatureEncodingBase64:
		decoded, err := base64.StdEncoding.DecodeString(signature)
		if err != nil {
			return false
		}
		return subtle.ConstantTimeCompare(decoded, expected) == 1
	default:
		decoded, err := hex.DecodeString(signature)
		if err != nil {
			return false
		}
		return subtle.ConstantTimeCompare(decoded, expected) == 1
	}
}

func (c SignatureCodec) digest(payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return mac.Sum(nil)
}

func (c SignatureCodec) prefix() string {
	return strings.TrimSpace(c.Prefix)
}
