package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-gatekeeper/core"
)

// UnsupportedSender occupies a transport kind this build cannot deliver.
// Do always fails with a configuration error, so an endpoint pointed at
// the kind surfaces the reason instead of a nil-sender panic.
type UnsupportedSender struct {
	kind   string
	reason string
}

func NewUnsupportedSender(kind string, reason string) *UnsupportedSender {
	return &UnsupportedSender{
		kind:   normalizeKind(kind),
		reason: strings.TrimSpace(reason),
	}
}

func (s *UnsupportedSender) Kind() string {
	if s == nil {
		return ""
	}
	return s.kind
}

func (s *UnsupportedSender) Do(context.Context, core.TransportRequest) (core.TransportResponse, error) {
	if s == nil {
		return core.TransportResponse{}, fmt.Errorf("transport: sender is nil")
	}
	message := fmt.Sprintf("transport: %s sender is not configured", s.kind)
	if s.reason != "" {
		message = fmt.Sprintf("%s: %s", message, s.reason)
	}
	return core.TransportResponse{}, transportError(
		message,
		goerrors.CategoryInternal,
		http.StatusNotImplemented,
		map[string]any{"sender": s.kind, "reason": s.reason},
	)
}

// UnsupportedFactory registers a placeholder for a declared kind. A
// "reason" entry in the build config overrides the default reason.
func UnsupportedFactory(kind string, reason string) SenderFactory {
	return func(config map[string]any) (core.TransportAdapter, error) {
		if override, ok := config["reason"].(string); ok && strings.TrimSpace(override) != "" {
			reason = override
		}
		return NewUnsupportedSender(kind, reason), nil
	}
}

var _ core.TransportAdapter = (*UnsupportedSender)(nil)
