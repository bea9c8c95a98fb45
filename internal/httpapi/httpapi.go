// Package httpapi exposes the chat-completion pipeline over HTTP: a
// completions endpoint plus health and Prometheus metrics endpoints.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chatforge/core/internal/corekind"
	"github.com/chatforge/core/internal/orchestrator"
	"github.com/chatforge/core/pkg/chatmodels"
)

// Config wires the HTTP layer's dependencies.
type Config struct {
	Orchestrator *orchestrator.Orchestrator
	Logger       *slog.Logger
	// StartTime is used to report uptime from /healthz; defaults to
	// time.Now() at NewHandler.
	StartTime time.Time
}

// Handler is the core's HTTP surface: a stdlib ServeMux wrapping the
// completions, health, and metrics routes.
type Handler struct {
	cfg Config
	mux *http.ServeMux
}

// NewHandler builds the HTTP handler. cfg.Orchestrator is required.
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.StartTime.IsZero() {
		cfg.StartTime = time.Now()
	}
	h := &Handler{cfg: cfg, mux: http.NewServeMux()}
	h.mux.HandleFunc("POST /v1/chat/completions", h.handleChatCompletions)
	h.mux.HandleFunc("GET /healthz", h.handleHealthz)
	h.mux.Handle("GET /metrics", promhttp.Handler())
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// chatCompletionRequest is the wire shape accepted by
// POST /v1/chat/completions.
type chatCompletionRequest struct {
	CompletionID     string                `json:"completion_id,omitempty"`
	Model            string                `json:"model,omitempty"`
	Messages         []*chatmodels.Message `json:"messages"`
	RequestedTools   []string              `json:"requested_tools,omitempty"`
	User             *chatmodels.User      `json:"user,omitempty"`
	AppURL           string                `json:"app_url,omitempty"`
	ConversationID   string                `json:"conversation_id,omitempty"`
	BudgetConstraint *float64              `json:"budget_constraint,omitempty"`
}

func (h *Handler) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.cfg.Orchestrator.Run(r.Context(), orchestrator.ChatRequest{
		CompletionID:     req.CompletionID,
		Model:            req.Model,
		Messages:         req.Messages,
		RequestedTools:   req.RequestedTools,
		User:             req.User,
		AppURL:           req.AppURL,
		ConversationID:   req.ConversationID,
		BudgetConstraint: req.BudgetConstraint,
	})
	if err != nil {
		writeCoreError(w, h.cfg.Logger, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(h.cfg.StartTime).String(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeCoreError maps a corekind.Kind to an HTTP status and logs the
// underlying error server-side; the client only sees the kind and message.
func writeCoreError(w http.ResponseWriter, logger *slog.Logger, err error) {
	kind := corekind.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case corekind.Validation:
		status = http.StatusBadRequest
	case corekind.Forbidden:
		status = http.StatusForbidden
	case corekind.PremiumRequired:
		status = http.StatusPaymentRequired
	case corekind.QuotaExceeded:
		status = http.StatusTooManyRequests
	case corekind.NotFound:
		status = http.StatusNotFound
	case corekind.UpstreamTransient, corekind.UpstreamPermanent:
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		logger.Error("chat completion failed", "error", err, "kind", kind)
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "kind": string(kind)})
}
