package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/linebridge/line-ai-bridge/internal/conversation"
	"github.com/linebridge/line-ai-bridge/internal/line"
	observemetrics "github.com/linebridge/line-ai-bridge/internal/observability/metrics"
	"github.com/linebridge/line-ai-bridge/internal/settings"
	"github.com/linebridge/line-ai-bridge/pkg/logging"
)

type settingsLoader interface {
	Load(ctx context.Context) (*settings.Settings, error)
}

type processedTracker interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

type decisionEngine interface {
	Process(ctx context.Context, st *settings.Settings, msgr conversation.Messenger, evt line.Event) (conversation.Outcome, error)
}

// MessengerFactory builds a per-delivery LINE client from the channel
// credentials in settings.
type MessengerFactory func(accessToken string) (conversation.Messenger, error)

// LineWebhookHandler handles inbound LINE webhook deliveries: verify, parse,
// then run the decision engine once per text message, sequentially and in
// event order.
type LineWebhookHandler struct {
	settings     settingsLoader
	processed    processedTracker
	engine       decisionEngine
	newMessenger MessengerFactory
	logger       *logging.Logger
	metrics      *observemetrics.WebhookMetrics
}

type LineWebhookConfig struct {
	Settings     settingsLoader
	Processed    processedTracker
	Engine       decisionEngine
	NewMessenger MessengerFactory
	Logger       *logging.Logger
	Metrics      *observemetrics.WebhookMetrics

	// LINEBaseURL overrides the API host for the default messenger factory.
	LINEBaseURL string
	HTTPClient  *http.Client
}

func NewLineWebhookHandler(cfg LineWebhookConfig) *LineWebhookHandler {
	if cfg.Settings == nil {
		panic("handlers: settings loader required")
	}
	if cfg.Engine == nil {
		panic("handlers: decision engine required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	factory := cfg.NewMessenger
	if factory == nil {
		baseURL := cfg.LINEBaseURL
		httpClient := cfg.HTTPClient
		factory = func(accessToken string) (conversation.Messenger, error) {
			return line.New(line.Config{
				BaseURL:            baseURL,
				ChannelAccessToken: accessToken,
				HTTPClient:         httpClient,
			})
		}
	}
	return &LineWebhookHandler{
		settings:     cfg.Settings,
		processed:    cfg.Processed,
		engine:       cfg.Engine,
		newMessenger: factory,
		logger:       logger,
		metrics:      cfg.Metrics,
	}
}

// Handle processes one webhook delivery. The delivery as a whole fails only
// on configuration or authentication errors; per-event failures are logged
// and the remaining events still run, so the caller always gets 200 once
// event processing has started.
func (h *LineWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.metrics.ObserveInbound("method_not_allowed")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.metrics.ObserveInbound("bad_body")
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	st, err := h.settings.Load(r.Context())
	if err != nil {
		h.logger.Error("settings load failed", "error", err)
		h.metrics.ObserveInbound("settings_error")
		http.Error(w, "failed to fetch settings", http.StatusInternalServerError)
		return
	}

	if !line.ValidateSignature(st.LINE.ChannelSecret, body, r.Header.Get(line.SignatureHeader)) {
		h.logger.Warn("invalid line webhook signature")
		h.metrics.ObserveInbound("bad_signature")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	envelope, err := line.ParseWebhook(body)
	if err != nil {
		h.metrics.ObserveInbound("bad_payload")
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	msgr, err := h.newMessenger(st.LINE.ChannelAccessToken)
	if err != nil {
		h.logger.Error("line client init failed", "error", err)
		h.metrics.ObserveInbound("client_error")
		http.Error(w, "messaging client unavailable", http.StatusInternalServerError)
		return
	}

	for _, evt := range envelope.Events {
		if !evt.IsTextMessage() {
			continue
		}
		if h.alreadyProcessed(r.Context(), evt) {
			continue
		}
		if _, err := h.engine.Process(r.Context(), st, msgr, evt); err != nil {
			h.logger.Error("event processing failed",
				"error", err,
				"user_id", evt.Source.UserID,
				"webhook_event_id", evt.WebhookEventID,
			)
			continue
		}
		h.markProcessed(r.Context(), evt)
	}

	h.metrics.ObserveInbound("ok")
	h.metrics.ObserveWebhookLatency(time.Since(start).Seconds())
	w.WriteHeader(http.StatusOK)
}

// alreadyProcessed reports whether this event was handled by an earlier
// delivery. Dedup degrades open: a tracker failure means we process the
// event rather than drop it.
func (h *LineWebhookHandler) alreadyProcessed(ctx context.Context, evt line.Event) bool {
	if h.processed == nil || evt.WebhookEventID == "" {
		return false
	}
	seen, err := h.processed.AlreadyProcessed(ctx, "line", evt.WebhookEventID)
	if err != nil {
		h.logger.Warn("processed lookup failed", "error", err, "webhook_event_id", evt.WebhookEventID)
		return false
	}
	if seen {
		h.logger.Info("skipping redelivered event", "webhook_event_id", evt.WebhookEventID)
	}
	return seen
}

func (h *LineWebhookHandler) markProcessed(ctx context.Context, evt line.Event) {
	if h.processed == nil || evt.WebhookEventID == "" {
		return
	}
	if _, err := h.processed.MarkProcessed(ctx, "line", evt.WebhookEventID); err != nil {
		h.logger.Warn("failed to mark event processed", "error", err, "webhook_event_id", evt.WebhookEventID)
	}
}
