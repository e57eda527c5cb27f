package auth

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/goliatone/go-gatekeeper/core"
)

func TestHeaderAuthorizer_None(t *testing.T) {
	authorizer := NewHeaderAuthorizer()

	headers, err := authorizer.Headers(context.Background(), core.EndpointAuth{Kind: core.AuthKindNone})
	if err != nil {
		t.Fatalf("headers: %v", err)
	}
	if len(headers) != 0 {
		t.Fatalf("expected no headers, got %v", headers)
	}

	headers, err = authorizer.Headers(context.Background(), core.EndpointAuth{})
	if err != nil {
		t.Fatalf("expected a blank kind to default to none, got %v", err)
	}
	if len(headers) != 0 {
		t.Fatalf("expected no headers for blank kind, got %v", headers)
	}
}

func TestHeaderAuthorizer_Bearer(t *testing.T) {
	authorizer := NewHeaderAuthorizer()

	headers, err := authorizer.Headers(context.Background(), core.EndpointAuth{
		Kind:  core.AuthKindBearer,
		Token: "deploy-token",
	})
	if err != nil {
		t.Fatalf("headers: %v", err)
	}
	if got := headers["Authorization"]; got != "Bearer deploy-token" {
		t.Fatalf("expected bearer header, got %q", got)
	}

	if _, err := authorizer.Headers(context.Background(), core.EndpointAuth{Kind: core.AuthKindBearer}); err == nil {
		t.Fatal("expected a missing token to be rejected")
	}
}

func TestHeaderAuthorizer_Basic(t *testing.T) {
	authorizer := NewHeaderAuthorizer()

	headers, err := authorizer.Headers(context.Background(), core.EndpointAuth{
		Kind:     core.AuthKindBasic,
		Username: "ci-bot",
		Password: "s3cret",
	})
	if err != nil {
		t.Fatalf("headers: %v", err)
	}
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("ci-bot:s3cret"))
	if got := headers["Authorization"]; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}

	headers, err = authorizer.Headers(context.Background(), core.EndpointAuth{
		Kind:     core.AuthKindBasic,
		Username: "ci-bot",
	})
	if err != nil {
		t.Fatalf("expected an empty password to be allowed, got %v", err)
	}
	if got := headers["Authorization"]; got != "Basic "+base64.StdEncoding.EncodeToString([]byte("ci-bot:")) {
		t.Fatalf("unexpected header for empty password: %q", got)
	}

	if _, err := authorizer.Headers(context.Background(), core.EndpointAuth{Kind: core.AuthKindBasic}); err == nil {
		t.Fatal("expected a missing username to be rejected")
	}
}

func TestHeaderAuthorizer_CustomCopiesHeaders(t *testing.T) {
	authorizer := NewHeaderAuthorizer()
	source := map[string]string{
		"X-Api-Key": "k-1",
		"  ":        "dropped",
		"X-Team":    "platform",
	}

	headers, err := authorizer.Headers(context.Background(), core.EndpointAuth{
		Kind:    core.AuthKindCustom,
		Headers: source,
	})
	if err != nil {
		t.Fatalf("headers: %v", err)
	}
	if len(headers) != 2 {
		t.Fatalf("expected blank keys to be dropped, got %v", headers)
	}
	if headers["X-Api-Key"] != "k-1" || headers["X-Team"] != "platform" {
		t.Fatalf("unexpected headers %v", headers)
	}

	headers["X-Api-Key"] = "mutated"
	if source["X-Api-Key"] != "k-1" {
		t.Fatal("expected the endpoint's header map to stay untouched")
	}
}

func TestHeaderAuthorizer_UnknownKindRejected(t *testing.T) {
	authorizer := NewHeaderAuthorizer()
	if _, err := authorizer.Headers(context.Background(), core.EndpointAuth{Kind: core.AuthKind("oauth2")}); err == nil {
		t.Fatal("expected an unsupported kind to be rejected")
	}
}
