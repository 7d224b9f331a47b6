package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/linebridge/line-ai-bridge/internal/http/handlers"
	"github.com/linebridge/line-ai-bridge/internal/state"
)

type noopStates struct{}

func (noopStates) List(context.Context, int) ([]state.ConversationState, error) { return nil, nil }
func (noopStates) Takeover(context.Context, string, time.Time) error            { return nil }
func (noopStates) ResetToAI(context.Context, string, time.Time) error           { return nil }

func TestHealthEndpoint(t *testing.T) {
	handler := New(&Config{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpointMounted(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := New(&Config{MetricsHandler: metrics})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookRouteAbsentWithoutHandler(t *testing.T) {
	handler := New(&Config{})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/line", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminRoutesRequireJWT(t *testing.T) {
	handler := New(&Config{
		AdminConversations: handlers.NewAdminConversationsHandler(handlers.AdminConversationsConfig{States: noopStates{}}),
		AdminAuthSecret:    "secret",
	})

	req := httptest.NewRequest(http.MethodGet, "/admin/conversations", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
