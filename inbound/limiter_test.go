package inbound

import (
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-gatekeeper/core"
)

func TestSourceLimiter_ThrottlesPerSource(t *testing.T) {
	limiter := NewSourceLimiter(1)

	if err := limiter.Allow("10.0.0.1"); err != nil {
		t.Fatalf("expected first request to pass, got %v", err)
	}
	err := limiter.Allow("10.0.0.1")
	if err == nil {
		t.Fatalf("expected second request to be throttled")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryRateLimit {
		t.Fatalf("expected rate_limit category, got %q", rich.Category)
	}
	if rich.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rich.Code)
	}
	if rich.TextCode != core.GatekeeperErrorRateLimited {
		t.Fatalf("expected %q text code, got %q", core.GatekeeperErrorRateLimited, rich.TextCode)
	}
	if rich.Metadata["source"] != "10.0.0.1" {
		t.Fatalf("expected source metadata, got %#v", rich.Metadata)
	}

	if err := limiter.Allow("10.0.0.2"); err != nil {
		t.Fatalf("expected an independent source to pass, got %v", err)
	}
}

func TestSourceLimiter_NormalizesSourceKeys(t *testing.T) {
	limiter := NewSourceLimiter(1)

	if err := limiter.Allow("  Agent-A "); err != nil {
		t.Fatalf("expected first request to pass, got %v", err)
	}
	if err := limiter.Allow("agent-a"); err == nil {
		t.Fatalf("expected case-folded source to share the bucket")
	}
}

func TestSourceLimiter_BlankSourceIsNotLimited(t *testing.T) {
	limiter := NewSourceLimiter(1)

	for i := 0; i < 3; i++ {
		if err := limiter.Allow("   "); err != nil {
			t.Fatalf("expected unkeyed requests to pass, got %v", err)
		}
	}
}

func TestSourceLimiter_NilAndDefaultsAreSafe(t *testing.T) {
	var limiter *SourceLimiter
	if err := limiter.Allow("10.0.0.1"); err != nil {
		t.Fatalf("expected nil limiter to pass everything, got %v", err)
	}

	defaulted := NewSourceLimiter(0)
	if err := defaulted.Allow("10.0.0.1"); err != nil {
		t.Fatalf("expected defaulted limiter to admit a first request, got %v", err)
	}
}
