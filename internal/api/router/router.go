package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/linebridge/line-ai-bridge/internal/http/handlers"
	httpmiddleware "github.com/linebridge/line-ai-bridge/internal/http/middleware"
	"github.com/linebridge/line-ai-bridge/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	LineWebhook        *handlers.LineWebhookHandler
	AdminConversations *handlers.AdminConversationsHandler
	AdminAuthSecret    string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints (webhook, health check, metrics)
	r.Group(func(public chi.Router) {
		public.Get("/health", healthCheck)
		if cfg.LineWebhook != nil {
			public.Post("/webhooks/line", cfg.LineWebhook.Handle)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Agent console routes (protected by JWT)
	if cfg.AdminConversations != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Get("/conversations", cfg.AdminConversations.List)
			admin.Route("/conversations/{userID}", func(conv chi.Router) {
				conv.Get("/transcript", cfg.AdminConversations.Transcript)
				conv.Post("/takeover", cfg.AdminConversations.Takeover)
				conv.Post("/release", cfg.AdminConversations.Release)
			})
		})
	}

	return r
}

func healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
