package security

import (
	"fmt"
	"strings"
	"time"
)

// RotationWindow bounds when rotated material stays usable: a sealing key
// in the managed ciphers, or the previous signing secret that receivers may
// still observe on the wire. Zero bounds are open ended.
type RotationWindow struct {
	NotBefore time.Time
	NotAfter  time.Time
}

func (w RotationWindow) Allows(at time.Time) bool {
	ts := at.UTC()
	if !w.NotBefore.IsZero() && ts.Before(w.NotBefore.UTC()) {
		return false
	}
	if !w.NotAfter.IsZero() && ts.After(w.NotAfter.UTC()) {
		return false
	}
	return true
}

// RotatedSecret reports the outcome of one rotation: the secret that was
// replaced and the window in which it may still appear on the wire.
type RotatedSecret struct {
	EndpointID string
	Previous   string
	RotatedAt  time.Time
	Window     RotationWindow
}

// RotateSecret swaps the signing secret on a static provider and returns
// the previous value. An empty endpoint id rotates the shared default;
// grace keeps the old secret acceptable until RotatedAt+grace.
func RotateSecret(provider *StaticSecretProvider, endpointID string, next string, grace time.Duration) (RotatedSecret, error) {
	if provider == nil {
		return RotatedSecret{}, fmt.Errorf("security: secret provider is required")
	}
	next = strings.TrimSpace(next)
	if next == "" {
		return RotatedSecret{}, fmt.Errorf("security: replacement secret is required")
	}

	var (
		previous string
		err      error
	)
	endpointID = strings.TrimSpace(endpointID)
	if endpointID == "" {
		previous, err = provider.SetDefaultSecret(next)
	} else {
		previous, err = provider.SetEndpointSecret(endpointID, next)
	}
	if err != nil {
		return RotatedSecret{}, err
	}

	rotatedAt := time.Now().UTC()
	window := RotationWindow{NotBefore: rotatedAt}
	if grace > 0 {
		window.NotAfter = rotatedAt.Add(grace)
	}
	return RotatedSecret{
		EndpointID: endpointID,
		Previous:   previous,
		RotatedAt:  rotatedAt,
		Window:     window,
	}, nil
}
