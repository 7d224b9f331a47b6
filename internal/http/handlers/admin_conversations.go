package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/linebridge/line-ai-bridge/internal/chatlog"
	"github.com/linebridge/line-ai-bridge/internal/state"
	"github.com/linebridge/line-ai-bridge/pkg/logging"
)

type stateAdmin interface {
	List(ctx context.Context, limit int) ([]state.ConversationState, error)
	Takeover(ctx context.Context, userID string, now time.Time) error
	ResetToAI(ctx context.Context, userID string, now time.Time) error
}

type transcriptReader interface {
	Recent(ctx context.Context, userID string, limit int) ([]chatlog.Entry, error)
}

// AdminConversationsHandler serves the agent console: list active
// conversations, read transcripts, and flip a user between human and AI
// handling.
type AdminConversationsHandler struct {
	states     stateAdmin
	transcript transcriptReader
	logger     *logging.Logger
	now        func() time.Time
}

type AdminConversationsConfig struct {
	States     stateAdmin
	Transcript transcriptReader
	Logger     *logging.Logger
	Now        func() time.Time
}

func NewAdminConversationsHandler(cfg AdminConversationsConfig) *AdminConversationsHandler {
	if cfg.States == nil {
		panic("handlers: state store required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &AdminConversationsHandler{
		states:     cfg.States,
		transcript: cfg.Transcript,
		logger:     logger,
		now:        now,
	}
}

type conversationView struct {
	UserID               string     `json:"userId"`
	HumanMode            bool       `json:"humanMode"`
	LastHumanInteraction *time.Time `json:"lastHumanInteraction,omitempty"`
	LastAIReset          *time.Time `json:"lastAiResetAt,omitempty"`
	Nickname             string     `json:"nickname,omitempty"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

type transcriptView struct {
	Sender    string    `json:"sender"`
	Message   string    `json:"message"`
	Provider  string    `json:"provider,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// List returns conversation states ordered by most recent activity.
func (h *AdminConversationsHandler) List(w http.ResponseWriter, r *http.Request) {
	states, err := h.states.List(r.Context(), queryLimit(r))
	if err != nil {
		h.logger.Error("conversation list failed", "error", err)
		http.Error(w, "failed to list conversations", http.StatusInternalServerError)
		return
	}
	views := make([]conversationView, 0, len(states))
	for _, st := range states {
		views = append(views, conversationView{
			UserID:               st.UserID,
			HumanMode:            st.HumanMode,
			LastHumanInteraction: st.LastHumanInteraction,
			LastAIReset:          st.LastAIReset,
			Nickname:             st.Nickname,
			UpdatedAt:            st.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": views})
}

// Transcript returns the latest transcript entries for one user, newest
// first.
func (h *AdminConversationsHandler) Transcript(w http.ResponseWriter, r *http.Request) {
	if h.transcript == nil {
		http.Error(w, "transcripts unavailable", http.StatusNotFound)
		return
	}
	userID := chi.URLParam(r, "userID")
	entries, err := h.transcript.Recent(r.Context(), userID, queryLimit(r))
	if err != nil {
		h.logger.Error("transcript fetch failed", "error", err, "user_id", userID)
		http.Error(w, "failed to fetch transcript", http.StatusInternalServerError)
		return
	}
	views := make([]transcriptView, 0, len(entries))
	for _, e := range entries {
		views = append(views, transcriptView{
			Sender:    e.Sender,
			Message:   e.Message,
			Provider:  e.Provider,
			CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"userId": userID, "messages": views})
}

// Takeover marks the conversation as human-handled so inbound messages hold
// instead of reaching the AI.
func (h *AdminConversationsHandler) Takeover(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := h.states.Takeover(r.Context(), userID, h.now()); err != nil {
		h.logger.Error("takeover failed", "error", err, "user_id", userID)
		http.Error(w, "failed to take over conversation", http.StatusInternalServerError)
		return
	}
	h.logger.Info("conversation taken over", "user_id", userID)
	w.WriteHeader(http.StatusNoContent)
}

// Release hands the conversation back to the AI. The reset also opens the
// escalation cooldown window, so a keyword still sitting in the conversation
// does not immediately re-escalate.
func (h *AdminConversationsHandler) Release(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := h.states.ResetToAI(r.Context(), userID, h.now()); err != nil {
		h.logger.Error("release failed", "error", err, "user_id", userID)
		http.Error(w, "failed to release conversation", http.StatusInternalServerError)
		return
	}
	h.logger.Info("conversation released to ai", "user_id", userID)
	w.WriteHeader(http.StatusNoContent)
}

func queryLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
