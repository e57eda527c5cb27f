package sqlstore

import (
	"strings"

	"github.com/goliatone/go-gatekeeper/core"
)

// RedactHeaders returns a copy of the header map with values under
// credential-bearing keys replaced, so archived delivery requests never
// persist live secrets.
func RedactHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(headers))
	for key, value := range headers {
		if isSensitiveHeader(key) {
			out[key] = core.RedactedValue
			continue
		}
		out[key] = value
	}
	return out
}

func isSensitiveHeader(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return false
	}
	sensitiveTokens := []string{
		"password",
		"secret",
		"token",
		"authorization",
		"api_key",
		"apikey",
		"access_key",
		"credential",
		"signature",
	}
	for _, token := range sensitiveTokens {
		if strings.Contains(key, token) {
			return true
		}
	}
	return false
}
