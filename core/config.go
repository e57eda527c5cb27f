package core

import (
	"fmt"
	"strings"
	"time"
)

// DeliveryConfig carries the registry-wide delivery defaults applied when an
// endpoint does not override them. Durations are milliseconds so raw config
// maps stay plain numbers.
type DeliveryConfig struct {
	MaxRetries           int     `koanf:"max_retries" mapstructure:"max_retries"`
	RetryDelayMS         int     `koanf:"retry_delay_ms" mapstructure:"retry_delay_ms"`
	BackoffMultiplier    float64 `koanf:"backoff_multiplier" mapstructure:"backoff_multiplier"`
	TimeoutMS            int     `koanf:"timeout_ms" mapstructure:"timeout_ms"`
	UserAgent            string  `koanf:"user_agent" mapstructure:"user_agent"`
	MaxResponseBodyBytes int64   `koanf:"max_response_body_bytes" mapstructure:"max_response_body_bytes"`
	InflightTTLMS        int     `koanf:"inflight_ttl_ms" mapstructure:"inflight_ttl_ms"`
}

func (c DeliveryConfig) Policy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        c.MaxRetries,
		RetryDelay:        time.Duration(c.RetryDelayMS) * time.Millisecond,
		BackoffMultiplier: c.BackoffMultiplier,
	}
}

func (c DeliveryConfig) AttemptTimeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

func (c DeliveryConfig) InflightTTL() time.Duration {
	return time.Duration(c.InflightTTLMS) * time.Millisecond
}

type WebhooksConfig struct {
	LogRetention      int    `koanf:"log_retention" mapstructure:"log_retention"`
	SigningSecret     string `koanf:"signing_secret" mapstructure:"signing_secret"`
	SignaturePrefix   string `koanf:"signature_prefix" mapstructure:"signature_prefix"`
	SignatureEncoding string `koanf:"signature_encoding" mapstructure:"signature_encoding"`
}

type ApprovalsConfig struct {
	DefaultTimeoutHours int `koanf:"default_timeout_hours" mapstructure:"default_timeout_hours"`
}

type Config struct {
	ServiceName string          `koanf:"service_name" mapstructure:"service_name"`
	Delivery    DeliveryConfig  `koanf:"delivery" mapstructure:"delivery"`
	Webhooks    WebhooksConfig  `koanf:"webhooks" mapstructure:"webhooks"`
	Approvals   ApprovalsConfig `koanf:"approvals" mapstructure:"approvals"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "gatekeeper",
		Delivery: DeliveryConfig{
			MaxRetries:           3,
			RetryDelayMS:         1000,
			BackoffMultiplier:    2,
			TimeoutMS:            30000,
			UserAgent:            "Gatekeeper-Webhook/1.0",
			MaxResponseBodyBytes: 1 << 20,
			InflightTTLMS:        60000,
		},
		Webhooks: WebhooksConfig{
			LogRetention:      1000,
			SignaturePrefix:   "sha256=",
			SignatureEncoding: SignatureEncodingHex,
		},
		Approvals: ApprovalsConfig{
			DefaultTimeoutHours: 24,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Delivery.MaxRetries < 0 {
		return fmt.Errorf("core: delivery.max_retries must not be negative")
	}
	if c.Delivery.BackoffMultiplier < 0 {
		return fmt.Errorf("core: delivery.backoff_multiplier must not be negative")
	}
	if c.Webhooks.LogRetention < 1 {
		return fmt.Errorf("core: webhooks.log_retention must be at least 1")
	}
	switch strings.TrimSpace(c.Webhooks.SignatureEncoding) {
	case "", SignatureEncodingHex, SignatureEncodingBase64:
	default:
		return fmt.Errorf("core: webhooks.signature_encoding must be %q or %q",
			SignatureEncodingHex, SignatureEncodingBase64)
	}
	if c.Approvals.DefaultTimeoutHours < 0 {
		return fmt.Errorf("core: approvals.default_timeout_hours must not be negative")
	}
	return nil
}
