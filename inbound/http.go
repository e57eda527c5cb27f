package inbound

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/goliatone/go-gatekeeper/core"
)

// Canonical mount paths. One handler serves both; dispatch is payload-driven,
// so the path only names the surface for embedders and proxies.
const (
	PathApprovalResponse = "/webhooks/approval-response"
	PathDeploymentStatus = "/webhooks/deployment-status"
)

const defaultMaxBodyBytes = 1 << 20

// Handler adapts a Router to net/http. Responses are the router's
// {success, message} envelope with the routed status code.
type Handler struct {
	Router       *Router
	MaxBodyBytes int64
}

func NewHandler(router *Router) *Handler {
	return &Handler{
		Router:       router,
		MaxBodyBytes: defaultMaxBodyBytes,
	}
}

// Mount registers the handler at both canonical webhook paths.
func (h *Handler) Mount(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.Handle(PathApprovalResponse, h)
	mux.Handle(PathDeploymentStatus, h)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Router == nil {
		writeResult(w, core.InboundResult{
			Success:    false,
			Message:    "inbound router is not configured",
			StatusCode: http.StatusInternalServerError,
		})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodyBytes()+1))
	if err != nil {
		writeResult(w, core.InboundResult{
			Success:    false,
			Message:    "Unable to read request body",
			StatusCode: http.StatusBadRequest,
		})
		return
	}
	if int64(len(body)) > h.maxBodyBytes() {
		writeResult(w, core.InboundResult{
			Success:    false,
			Message:    "Payload too large",
			StatusCode: http.StatusRequestEntityTooLarge,
		})
		return
	}

	req := core.InboundRequest{
		Method:  r.Method,
		Path:    r.URL.Path,
		Headers: flattenHeader(r.Header),
		Body:    body,
		Source:  clientSource(r),
	}
	writeResult(w, h.Router.Handle(r.Context(), req))
}

func (h *Handler) maxBodyBytes() int64 {
	if h != nil && h.MaxBodyBytes > 0 {
		return h.MaxBodyBytes
	}
	return defaultMaxBodyBytes
}

type inboundResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func writeResult(w http.ResponseWriter, result core.InboundResult) {
	status := result.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusMethodNotAllowed {
		w.Header().Set("Allow", http.MethodPost)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(inboundResponse{
		Success: result.Success,
		Message: result.Message,
	})
}

func flattenHeader(header http.Header) map[string]string {
	if len(header) == 0 {
		return nil
	}
	flattened := make(map[string]string, len(header))
	for key, values := range header {
		if len(values) == 0 {
			continue
		}
		flattened[key] = values[0]
	}
	return flattened
}

// clientSource keys rate limiting by the nearest client identity the request
// carries: the first X-Forwarded-For hop, then X-Real-IP, then the socket
// address.
func clientSource(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if source := strings.TrimSpace(strings.Split(forwarded, ",")[0]); source != "" {
			return source
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
