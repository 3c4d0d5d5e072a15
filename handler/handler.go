package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"voice-agent/internal/domain"
	"voice-agent/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// ConversationReader is the read side of the conversation store.
type ConversationReader interface {
	Get(ctx context.Context, conversationID string) (domain.ConversationRecord, bool, error)
}

type conversationResponse struct {
	ConversationID string           `json:"conversationId"`
	MessageCount   int              `json:"messageCount"`
	Messages       []domain.Message `json:"messages"`
}

type errorResponse struct {
	Error         string `json:"error"`
	Reason        string `json:"reason,omitempty"`
	CorrelationID string `json:"correlationId"`
}

// Handler serves the read-only status surface of a running agent.
type Handler struct {
	store   ConversationReader
	metrics http.Handler
	router  chi.Router
}

// NewHandler wires the routes. metrics may be nil, in which case /metrics is
// not served.
func NewHandler(store ConversationReader, metrics http.Handler) (*Handler, error) {
	if store == nil {
		return nil, errors.New("handler: conversation reader must not be nil")
	}
	h := &Handler{store: store, metrics: metrics}

	r := chi.NewRouter()
	r.Use(withCorrelationID)
	r.Get("/healthz", h.handleHealth)
	if metrics != nil {
		r.Get("/metrics", metrics.ServeHTTP)
	}
	r.Get("/conversations/{id}", h.handleGetConversation)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusNotFound, "NOT_FOUND", "route_not_found")
	})
	h.router = r
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, r, http.StatusBadRequest, "INVALID_INPUT", "missing_conversation_id")
		return
	}
	rec, ok, err := h.store.Get(r.Context(), id)
	if err != nil {
		slog.Error("conversation lookup failed",
			"conversation_id", id,
			"correlation_id", w.Header().Get(correlationHeader),
			"err", err,
		)
		respondError(w, r, http.StatusInternalServerError, string(usecase.ErrorStorage), "conversation_read_error")
		return
	}
	if !ok {
		respondError(w, r, http.StatusNotFound, "NOT_FOUND", "conversation_not_found")
		return
	}
	respondJSON(w, http.StatusOK, conversationResponse{
		ConversationID: rec.ConversationID,
		MessageCount:   len(rec.Messages),
		Messages:       rec.Messages,
	})
}

// withCorrelationID echoes the caller's correlation id or mints one.
func withCorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(correlationHeader))
		if id == "" {
			id = newUUID()
		}
		w.Header().Set(correlationHeader, id)
		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, _ *http.Request, status int, code, reason string) {
	respondJSON(w, status, errorResponse{
		Error:         code,
		Reason:        reason,
		CorrelationID: w.Header().Get(correlationHeader),
	})
}

var newUUID = func() string {
	return uuid.NewString()
}
