package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/linebridge/line-ai-bridge/internal/chatlog"
	"github.com/linebridge/line-ai-bridge/internal/state"
)

type stubStateAdmin struct {
	states      []state.ConversationState
	listErr     error
	takenOver   []string
	released    []string
	takeoverErr error
}

func (s *stubStateAdmin) List(context.Context, int) ([]state.ConversationState, error) {
	return s.states, s.listErr
}

func (s *stubStateAdmin) Takeover(_ context.Context, userID string, _ time.Time) error {
	if s.takeoverErr != nil {
		return s.takeoverErr
	}
	s.takenOver = append(s.takenOver, userID)
	return nil
}

func (s *stubStateAdmin) ResetToAI(_ context.Context, userID string, _ time.Time) error {
	s.released = append(s.released, userID)
	return nil
}

type stubTranscriptReader struct {
	entries []chatlog.Entry
	err     error
	gotUser string
}

func (s *stubTranscriptReader) Recent(_ context.Context, userID string, _ int) ([]chatlog.Entry, error) {
	s.gotUser = userID
	return s.entries, s.err
}

func adminRouter(h *AdminConversationsHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/admin/conversations", h.List)
	r.Get("/admin/conversations/{userID}/transcript", h.Transcript)
	r.Post("/admin/conversations/{userID}/takeover", h.Takeover)
	r.Post("/admin/conversations/{userID}/release", h.Release)
	return r
}

func TestAdminListConversations(t *testing.T) {
	updated := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	states := &stubStateAdmin{states: []state.ConversationState{
		{UserID: "U1", HumanMode: true, Nickname: "小明", UpdatedAt: updated},
		{UserID: "U2", UpdatedAt: updated.Add(-time.Hour)},
	}}
	handler := NewAdminConversationsHandler(AdminConversationsConfig{States: states})

	req := httptest.NewRequest(http.MethodGet, "/admin/conversations", nil)
	rec := httptest.NewRecorder()
	adminRouter(handler).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		Conversations []conversationView `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Conversations, 2)
	require.Equal(t, "U1", payload.Conversations[0].UserID)
	require.True(t, payload.Conversations[0].HumanMode)
	require.Equal(t, "小明", payload.Conversations[0].Nickname)
}

func TestAdminListConversationsFailure(t *testing.T) {
	handler := NewAdminConversationsHandler(AdminConversationsConfig{
		States: &stubStateAdmin{listErr: errors.New("db down")},
	})

	req := httptest.NewRequest(http.MethodGet, "/admin/conversations", nil)
	rec := httptest.NewRecorder()
	adminRouter(handler).ServeHTTP(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAdminTranscript(t *testing.T) {
	created := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	transcript := &stubTranscriptReader{entries: []chatlog.Entry{
		{UserID: "U1", Sender: chatlog.SenderAI, Message: "您好", Provider: "gpt", CreatedAt: created},
		{UserID: "U1", Sender: chatlog.SenderUser, Message: "哈囉", CreatedAt: created.Add(-time.Minute)},
	}}
	handler := NewAdminConversationsHandler(AdminConversationsConfig{
		States:     &stubStateAdmin{},
		Transcript: transcript,
	})

	req := httptest.NewRequest(http.MethodGet, "/admin/conversations/U1/transcript?limit=10", nil)
	rec := httptest.NewRecorder()
	adminRouter(handler).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "U1", transcript.gotUser)
	var payload struct {
		UserID   string           `json:"userId"`
		Messages []transcriptView `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, "U1", payload.UserID)
	require.Len(t, payload.Messages, 2)
	require.Equal(t, "gpt", payload.Messages[0].Provider)
	require.Empty(t, payload.Messages[1].Provider)
}

func TestAdminTakeover(t *testing.T) {
	states := &stubStateAdmin{}
	handler := NewAdminConversationsHandler(AdminConversationsConfig{States: states})

	req := httptest.NewRequest(http.MethodPost, "/admin/conversations/U1/takeover", nil)
	rec := httptest.NewRecorder()
	adminRouter(handler).ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, []string{"U1"}, states.takenOver)
}

func TestAdminTakeoverFailure(t *testing.T) {
	handler := NewAdminConversationsHandler(AdminConversationsConfig{
		States: &stubStateAdmin{takeoverErr: errors.New("db down")},
	})

	req := httptest.NewRequest(http.MethodPost, "/admin/conversations/U1/takeover", nil)
	rec := httptest.NewRecorder()
	adminRouter(handler).ServeHTTP(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAdminRelease(t *testing.T) {
	states := &stubStateAdmin{}
	handler := NewAdminConversationsHandler(AdminConversationsConfig{States: states})

	req := httptest.NewRequest(http.MethodPost, "/admin/conversations/U1/release", nil)
	rec := httptest.NewRecorder()
	adminRouter(handler).ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, []string{"U1"}, states.released)
}
