package inbound

import (
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-gatekeeper/core"
)

func inboundError(
	message string,
	category goerrors.Category,
	code int,
	textCode string,
	metadata map[string]any,
) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func inboundWrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	textCode string,
	metadata map[string]any,
) error {
	if source == nil {
		return inboundError(message, category, code, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func inboundInternal(message string, metadata map[string]any) error {
	return inboundError(
		message,
		goerrors.CategoryInternal,
		http.StatusInternalServerError,
		core.GatekeeperErrorInternal,
		metadata,
	)
}

func inboundMethodNotAllowed(method string) error {
	return inboundError(
		"Method not allowed",
		goerrors.CategoryBadInput,
		http.StatusMethodNotAllowed,
		core.GatekeeperErrorBadInput,
		map[string]any{"method": method},
	)
}

func inboundMalformedPayload(source error) error {
	return inboundWrapError(
		source,
		goerrors.CategoryBadInput,
		"Invalid JSON payload",
		http.StatusBadRequest,
		core.GatekeeperErrorMalformedPayload,
		nil,
	)
}

// inboundInvalidSignature reports verification failure without echoing the
// presented signature back to the caller.
func inboundInvalidSignature(metadata map[string]any) error {
	return inboundError(
		"Invalid signature",
		goerrors.CategoryAuth,
		http.StatusBadRequest,
		core.GatekeeperErrorInvalidSignature,
		metadata,
	)
}

func inboundMissingFields(fields []string, metadata map[string]any) error {
	if len(metadata) == 0 {
		metadata = map[string]any{}
	}
	metadata["fields"] = fields
	return inboundError(
		fmt.Sprintf("missing required fields: %s", strings.Join(fields, ", ")),
		goerrors.CategoryBadInput,
		http.StatusBadRequest,
		core.GatekeeperErrorMissingFields,
		metadata,
	)
}

func inboundUnknownEvent(event string) error {
	var metadata map[string]any
	if event != "" {
		metadata = map[string]any{"event": event}
	}
	return inboundError(
		"Unknown event type",
		goerrors.CategoryBadInput,
		http.StatusBadRequest,
		core.GatekeeperErrorUnknownEvent,
		metadata,
	)
}

func inboundThrottled(source string) error {
	var metadata map[string]any
	if source != "" {
		metadata = map[string]any{"source": source}
	}
	return inboundError(
		"Rate limit exceeded",
		goerrors.CategoryRateLimit,
		http.StatusTooManyRequests,
		core.GatekeeperErrorRateLimited,
		metadata,
	)
}

// resultFromError converts a routing error into the {success:false, message}
// result the router boundary guarantees. Rich errors keep their message,
// status and metadata; anything else is masked as an internal failure so raw
// plumbing errors never reach external callers.
func resultFromError(err error) core.InboundResult {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		rich = goerrors.New("An unexpected error occurred", goerrors.CategoryInternal).
			WithCode(http.StatusInternalServerError).
			WithTextCode(core.GatekeeperErrorInternal)
	}
	status := rich.Code
	if status == 0 {
		status = statusFromCategory(rich.Category)
	}
	metadata := make(map[string]any, len(rich.Metadata)+1)
	for key, value := range rich.Metadata {
		metadata[key] = value
	}
	if textCode := strings.TrimSpace(rich.TextCode); textCode != "" {
		metadata["text_code"] = textCode
	}
	return core.InboundResult{
		Success:    false,
		Message:    rich.Message,
		StatusCode: status,
		Metadata:   metadata,
	}
}

func statusFromCategory(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
