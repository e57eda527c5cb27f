package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-gatekeeper/core"
)

func TestRESTSender_ResponseLimitReturnsRichError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("12345"))
	}))
	defer server.Close()

	sender := NewRESTSender(server.Client())
	sender.MaxResponseBodyBytes = 4

	_, err := sender.Do(context.Background(), core.TransportRequest{URL: server.URL})
	if err == nil {
		t.Fatalf("expected response body limit error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryExternal {
		t.Fatalf("expected external category, got %q", rich.Category)
	}
	if rich.TextCode != core.GatekeeperErrorDeliveryTransport {
		t.Fatalf("expected %q text code, got %q", core.GatekeeperErrorDeliveryTransport, rich.TextCode)
	}
	if rich.Code != http.StatusBadGateway {
		t.Fatalf("expected %d code, got %d", http.StatusBadGateway, rich.Code)
	}
}

func TestRESTSender_NilClientReturnsRichError(t *testing.T) {
	sender := &RESTSender{}
	_, err := sender.Do(context.Background(), core.TransportRequest{URL: "https://receiver.test"})
	if err == nil {
		t.Fatalf("expected nil client error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
	if rich.TextCode != core.GatekeeperErrorInternal {
		t.Fatalf("expected %q text code, got %q", core.GatekeeperErrorInternal, rich.TextCode)
	}
	if rich.Code != http.StatusInternalServerError {
		t.Fatalf("expected %d code, got %d", http.StatusInternalServerError, rich.Code)
	}
}

func TestRESTSender_BadInputCategorizedAsBadRequest(t *testing.T) {
	sender := NewRESTSender(http.DefaultClient)
	_, err := sender.Do(context.Background(), core.TransportRequest{URL: "://receiver"})
	if err == nil {
		t.Fatalf("expected invalid url error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryBadInput {
		t.Fatalf("expected bad input category, got %q", rich.Category)
	}
	if rich.TextCode != core.GatekeeperErrorBadInput {
		t.Fatalf("expected %q text code, got %q", core.GatekeeperErrorBadInput, rich.TextCode)
	}
	if rich.Code != http.StatusBadRequest {
		t.Fatalf("expected %d code, got %d", http.StatusBadRequest, rich.Code)
	}
}
