package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/goliatone/go-gatekeeper/core"
)

const authorizationHeader = "Authorization"

// HeaderAuthorizer materializes an endpoint's auth descriptor into request
// headers. A blank kind is treated as none; custom headers are copied so
// the caller never shares the endpoint's map.
type HeaderAuthorizer struct{}

func NewHeaderAuthorizer() *HeaderAuthorizer {
	return &HeaderAuthorizer{}
}

func (a *HeaderAuthorizer) Headers(_ context.Context, auth core.EndpointAuth) (map[string]string, error) {
	if a == nil {
		return nil, fmt.Errorf("auth: header authorizer is nil")
	}

	kind := auth.Kind
	if strings.TrimSpace(string(kind)) == "" {
		kind = core.AuthKindNone
	}

	switch kind {
	case core.AuthKindNone:
		return map[string]string{}, nil
	case core.AuthKindBearer:
		token := strings.TrimSpace(auth.Token)
		if token == "" {
			return nil, fmt.Errorf("auth: bearer auth requires a token")
		}
		return map[string]string{
			authorizationHeader: "Bearer " + token,
		}, nil
	case core.AuthKindBasic:
		username := strings.TrimSpace(auth.Username)
		if username == "" {
			return nil, fmt.Errorf("auth: basic auth requires a username")
		}
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + auth.Password))
		return map[string]string{
			authorizationHeader: "Basic " + credentials,
		}, nil
	case core.AuthKindCustom:
		headers := make(map[string]string, len(auth.Headers))
		for key, value := range auth.Headers {
			key = strings.TrimSpace(key)
			if key == "" {
				continue
			}
			headers[key] = value
		}
		return headers, nil
	default:
		return nil, fmt.Errorf("auth: unsupported auth kind %q", auth.Kind)
	}
}

var _ core.DeliveryAuthorizer = (*HeaderAuthorizer)(nil)
