package transport

import (
	"context"
	"fmt"
	"net/http"

	"github.com/goliatone/go-gatekeeper/core"
)

const KindDrop = "drop"

// DropSender acknowledges every delivery without touching the network.
// It lets embedders dry-run endpoint wiring, signatures, and retry
// bookkeeping against receivers that do not exist yet.
type DropSender struct {
	StatusCode int
}

func NewDropSender() *DropSender {
	return &DropSender{StatusCode: http.StatusOK}
}

func (*DropSender) Kind() string {
	return KindDrop
}

func (s *DropSender) Do(_ context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	if s == nil {
		return core.TransportResponse{}, fmt.Errorf("transport: drop sender is nil")
	}
	status := s.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	return core.TransportResponse{
		StatusCode: status,
		Headers:    map[string]string{},
		Body:       []byte(nil),
		Metadata: map[string]any{
			"kind":         KindDrop,
			"dropped":      true,
			"request_url":  req.URL,
			"payload_size": len(req.Body),
		},
	}, nil
}

var _ core.TransportAdapter = (*DropSender)(nil)
