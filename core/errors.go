package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	GatekeeperErrorMalformedPayload  = "GATEKEEPER_MALFORMED_PAYLOAD"
	GatekeeperErrorInvalidSignature  = "GATEKEEPER_INVALID_SIGNATURE"
	GatekeeperErrorMissingFields     = "GATEKEEPER_MISSING_FIELDS"
	GatekeeperErrorUnknownEvent      = "GATEKEEPER_UNKNOWN_EVENT"
	GatekeeperErrorDeliveryTransport = "GATEKEEPER_DELIVERY_TRANSPORT"
	GatekeeperErrorDeliveryHTTP      = "GATEKEEPER_DELIVERY_HTTP"
	GatekeeperErrorNotFound          = "GATEKEEPER_NOT_FOUND"
	GatekeeperErrorBadInput          = "GATEKEEPER_BAD_INPUT"
	GatekeeperErrorRateLimited       = "GATEKEEPER_RATE_LIMITED"
	GatekeeperErrorInternal          = "GATEKEEPER_INTERNAL_ERROR"
)

func gatekeeperErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureGatekeeperErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "not found"):
		return newGatekeeperError(err.Error(), goerrors.CategoryNotFound, GatekeeperErrorNotFound)
	case strings.Contains(msg, "signature"):
		return newGatekeeperError(err.Error(), goerrors.CategoryAuth, GatekeeperErrorInvalidSignature)
	case strings.Contains(msg, "unknown event"):
		return newGatekeeperError(err.Error(), goerrors.CategoryBadInput, GatekeeperErrorUnknownEvent)
	case strings.Contains(msg, "missing") && strings.Contains(msg, "field"):
		return newGatekeeperError(err.Error(), goerrors.CategoryBadInput, GatekeeperErrorMissingFields)
	case strings.Contains(msg, "malformed"), strings.Contains(msg, "unmarshal"), strings.Contains(msg, "parse"):
		return newGatekeeperError(err.Error(), goerrors.CategoryBadInput, GatekeeperErrorMalformedPayload)
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"):
		return newGatekeeperError(err.Error(), goerrors.CategoryRateLimit, GatekeeperErrorRateLimited)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "connection refused"), strings.Contains(msg, "transport"):
		return newGatekeeperError(err.Error(), goerrors.CategoryExternal, GatekeeperErrorDeliveryTransport)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return newGatekeeperError(err.Error(), goerrors.CategoryBadInput, GatekeeperErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureGatekeeperErrorEnvelope(mapped)
}

func newGatekeeperError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureGatekeeperErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureGatekeeperErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = gatekeeperHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultGatekeeperTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultGatekeeperTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return GatekeeperErrorBadInput
	case goerrors.CategoryNotFound:
		return GatekeeperErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return GatekeeperErrorInvalidSignature
	case goerrors.CategoryRateLimit:
		return GatekeeperErrorRateLimited
	case goerrors.CategoryOperation:
		return GatekeeperErrorDeliveryHTTP
	case goerrors.CategoryExternal:
		return GatekeeperErrorDeliveryTransport
	default:
		return GatekeeperErrorInternal
	}
}

func gatekeeperHTTPStatus(category goerrors.Category) int {
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
