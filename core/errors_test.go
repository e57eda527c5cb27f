package core

import (
	"context"
	stderrors "errors"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestGatekeeperErrorMapper_AssignsStableCodes(t *testing.T) {
	cases := []struct {
		message  string
		textCode string
		category goerrors.Category
		status   int
	}{
		{"webhook endpoint \"wh_1\" not found", GatekeeperErrorNotFound, goerrors.CategoryNotFound, http.StatusNotFound},
		{"invalid signature on inbound payload", GatekeeperErrorInvalidSignature, goerrors.CategoryAuth, http.StatusUnauthorized},
		{"unknown event type", GatekeeperErrorUnknownEvent, goerrors.CategoryBadInput, http.StatusBadRequest},
		{"missing required field requestId", GatekeeperErrorMissingFields, goerrors.CategoryBadInput, http.StatusBadRequest},
		{"unmarshal payload: unexpected end of JSON input", GatekeeperErrorMalformedPayload, goerrors.CategoryBadInput, http.StatusBadRequest},
		{"endpoint is rate limited", GatekeeperErrorRateLimited, goerrors.CategoryRateLimit, http.StatusTooManyRequests},
		{"dial tcp: i/o timeout", GatekeeperErrorDeliveryTransport, goerrors.CategoryExternal, http.StatusBadGateway},
		{"endpoint url is required", GatekeeperErrorBadInput, goerrors.CategoryBadInput, http.StatusBadRequest},
	}

	for _, tc := range cases {
		mapped := gatekeeperErrorMapper(stderrors.New(tc.message))
		if mapped == nil {
			t.Fatalf("%q: expected mapped error", tc.message)
		}
		if mapped.TextCode != tc.textCode {
			t.Fatalf("%q: expected text code %q, got %q", tc.message, tc.textCode, mapped.TextCode)
		}
		if mapped.Category != tc.category {
			t.Fatalf("%q: expected category %q, got %q", tc.message, tc.category, mapped.Category)
		}
		if mapped.Code != tc.status {
			t.Fatalf("%q: expected http status %d, got %d", tc.message, tc.status, mapped.Code)
		}
	}
}

func TestGatekeeperErrorMapper_PreservesRichErrors(t *testing.T) {
	source := goerrors.New("endpoint \"wh_1\" responded with status 503", goerrors.CategoryOperation).
		WithTextCode(GatekeeperErrorDeliveryHTTP).
		WithMetadata(map[string]any{"endpoint_id": "wh_1"})

	mapped := gatekeeperErrorMapper(source)
	if mapped.TextCode != GatekeeperErrorDeliveryHTTP {
		t.Fatalf("expected existing text code preserved, got %q", mapped.TextCode)
	}
	if mapped.Category != goerrors.CategoryOperation {
		t.Fatalf("expected existing category preserved, got %q", mapped.Category)
	}
	if mapped.Code != http.StatusInternalServerError {
		t.Fatalf("expected operation category to fill a 500 status, got %d", mapped.Code)
	}
	if mapped.Metadata["endpoint_id"] != "wh_1" {
		t.Fatalf("expected metadata preserved, got %#v", mapped.Metadata)
	}
}

func TestGatekeeperErrorMapper_FillsEnvelopeDefaults(t *testing.T) {
	bare := goerrors.New("something odd happened", goerrors.CategoryExternal)
	mapped := gatekeeperErrorMapper(bare)
	if mapped.Code != http.StatusBadGateway {
		t.Fatalf("expected external category to map to 502, got %d", mapped.Code)
	}
	if mapped.TextCode != GatekeeperErrorDeliveryTransport {
		t.Fatalf("expected default external text code, got %q", mapped.TextCode)
	}

	if gatekeeperErrorMapper(nil) != nil {
		t.Fatalf("expected nil error to map to nil")
	}
}

func TestServiceMethods_MapErrorsToStableCodes(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, Config{})

	_, err := svc.GetEndpoint(ctx, "wh_missing")
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected rich error, got %T: %v", err, err)
	}
	if rich.TextCode != GatekeeperErrorNotFound {
		t.Fatalf("expected not found text code, got %q", rich.TextCode)
	}
	if rich.Category != goerrors.CategoryNotFound {
		t.Fatalf("expected not found category, got %q", rich.Category)
	}

	_, err = svc.RegisterEndpoint(ctx, RegisterEndpointInput{Name: "no url"})
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected rich error, got %T: %v", err, err)
	}
	if rich.TextCode != GatekeeperErrorBadInput {
		t.Fatalf("expected bad input text code, got %q", rich.TextCode)
	}

	_, err = svc.RecordAction(ctx, "req_1", ActionInput{Action: ActionKindApprove})
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected rich error, got %T: %v", err, err)
	}
	if rich.TextCode != GatekeeperErrorMissingFields {
		t.Fatalf("expected missing fields text code, got %q", rich.TextCode)
	}
}

func TestGatekeeperHTTPStatus(t *testing.T) {
	cases := map[goerrors.Category]int{
		goerrors.CategoryBadInput:  http.StatusBadRequest,
		goerrors.CategoryNotFound:  http.StatusNotFound,
		goerrors.CategoryAuth:      http.StatusUnauthorized,
		goerrors.CategoryAuthz:     http.StatusForbidden,
		goerrors.CategoryConflict:  http.StatusConflict,
		goerrors.CategoryRateLimit: http.StatusTooManyRequests,
		goerrors.CategoryExternal:  http.StatusBadGateway,
		goerrors.CategoryInternal:  http.StatusInternalServerError,
	}
	for category, want := range cases {
		if got := gatekeeperHTTPStatus(category); got != want {
			t.Fatalf("category %q: expected %d, got %d", category, want, got)
		}
	}
}
