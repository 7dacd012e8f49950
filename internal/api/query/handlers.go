// Package query serves the derived views and the event log over HTTP.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/a2a-lens/internal/core/domain"
	"github.com/tjfontaine/a2a-lens/internal/core/ports"
	"github.com/tjfontaine/a2a-lens/internal/materialize"
	"github.com/tjfontaine/a2a-lens/internal/server"
)

// Recomputer recomputes the scope containing a task on demand.
type Recomputer interface {
	Recompute(ctx context.Context, taskID, trigger string) (*domain.Snapshot, error)
}

type Handler struct {
	store      ports.Store
	recomputer Recomputer
	logger     *slog.Logger
}

func NewHandler(store ports.Store, recomputer Recomputer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, recomputer: recomputer, logger: logger}
}

// Mount registers the API routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/interactions/{interaction_id}", h.handleInteraction)
		r.Get("/interactions/{interaction_id}/lifecycles", h.handleInteractionLifecycles)
		r.Get("/sessions/{session_id}/interactions", h.handleSessionInteractions)
		r.Get("/sessions/{session_id}/conversation", h.handleConversation)
		r.Get("/users/{user_id}/conversations", h.handleUserConversations)
		r.Get("/tasks/{task_id}/events", h.handleTaskEvents)
		r.Post("/recompute/{task_id}", h.handleRecompute)
	})
}

func (h *Handler) handleInteraction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "interaction_id")
	it, err := h.store.GetInteraction(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

type LifecycleListResponse struct {
	InteractionID string                      `json:"interaction_id"`
	Lifecycles    []*domain.ToolCallLifecycle `json:"lifecycles"`
}

func (h *Handler) handleInteractionLifecycles(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "interaction_id")
	lcs, err := h.store.ListLifecyclesByInteraction(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if lcs == nil {
		lcs = []*domain.ToolCallLifecycle{}
	}
	writeJSON(w, http.StatusOK, LifecycleListResponse{InteractionID: id, Lifecycles: lcs})
}

type InteractionListResponse struct {
	SessionID    string                `json:"session_id"`
	Interactions []*domain.Interaction `json:"interactions"`
}

func (h *Handler) handleSessionInteractions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	its, err := h.store.ListInteractionsBySession(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if its == nil {
		its = []*domain.Interaction{}
	}
	writeJSON(w, http.StatusOK, InteractionListResponse{SessionID: id, Interactions: its})
}

func (h *Handler) handleConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.store.GetConversation(r.Context(), chi.URLParam(r, "session_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

type ConversationListResponse struct {
	UserID        string                 `json:"user_id"`
	Conversations []*domain.Conversation `json:"conversations"`
}

func (h *Handler) handleUserConversations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "user_id")
	convs, err := h.store.ListConversationsByUser(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if convs == nil {
		convs = []*domain.Conversation{}
	}
	writeJSON(w, http.StatusOK, ConversationListResponse{UserID: id, Conversations: convs})
}

type EventListResponse struct {
	TaskID string          `json:"task_id"`
	Events []*domain.Event `json:"events"`
}

// handleTaskEvents returns the raw log for one task. since and until take
// RFC 3339 timestamps.
func (h *Handler) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "task_id")
	filter := ports.EventFilter{TaskIDs: []string{id}}

	var err error
	if filter.Since, err = parseTime(r, "since"); err != nil {
		h.writeError(w, r, err)
		return
	}
	if filter.Until, err = parseTime(r, "until"); err != nil {
		h.writeError(w, r, err)
		return
	}

	events, err := h.store.ScanEvents(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []*domain.Event{}
	}
	writeJSON(w, http.StatusOK, EventListResponse{TaskID: id, Events: events})
}

type RecomputeResponse struct {
	RootTaskID    string   `json:"root_task_id"`
	TaskIDs       []string `json:"task_ids"`
	InteractionID string   `json:"interaction_id,omitempty"`
	Lifecycles    int      `json:"lifecycles"`
	Events        int      `json:"events"`
	Dropped       int      `json:"dropped"`
	Sessions      []string `json:"session_ids"`
}

func (h *Handler) handleRecompute(w http.ResponseWriter, r *http.Request) {
	if h.recomputer == nil {
		h.writeError(w, r, &domain.APIError{Type: domain.ErrorTypeUnavailable, Message: "recompute not configured"})
		return
	}
	taskID := chi.URLParam(r, "task_id")
	server.AddLogField(r.Context(), "task_id", taskID)

	snap, err := h.recomputer.Recompute(r.Context(), taskID, materialize.TriggerManual)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := RecomputeResponse{
		RootTaskID: snap.RootTaskID,
		TaskIDs:    snap.TaskIDs,
		Lifecycles: len(snap.Lifecycles),
		Events:     snap.EventCount,
		Dropped:    snap.DroppedCount,
		Sessions:   snap.SessionIDs,
	}
	if snap.Interaction != nil {
		resp.InteractionID = snap.Interaction.InteractionID
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseTime(r *http.Request, key string) (time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, &domain.APIError{
			Type:    domain.ErrorTypeInvalidRequest,
			Message: fmt.Sprintf("invalid %s: %s", key, v),
		}
	}
	return t, nil
}

type errorResponse struct {
	Error *domain.APIError `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := domain.ToAPIError(err)
	status := apiErr.HTTPStatusCode()
	server.AddError(r.Context(), err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("query failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}
	writeJSON(w, status, errorResponse{Error: apiErr})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
