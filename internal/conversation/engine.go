package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/linebridge/line-ai-bridge/internal/chatlog"
	"github.com/linebridge/line-ai-bridge/internal/line"
	"github.com/linebridge/line-ai-bridge/internal/observability/metrics"
	"github.com/linebridge/line-ai-bridge/internal/settings"
	"github.com/linebridge/line-ai-bridge/internal/state"
	"github.com/linebridge/line-ai-bridge/pkg/logging"
)

var engineTracer = otel.Tracer("linebridge.internal.conversation.engine")

// escalationCooldown suppresses keyword escalation right after an agent's
// manual "return to AI" action, so a trailing keyword in the same
// conversation does not immediately bounce the user back to the agent.
const escalationCooldown = 3 * time.Minute

const (
	escalationReply  = "已為您轉接真人客服，請稍候。"
	fallbackNickname = "LINE 用戶"
)

// Outcome is the decision the engine reached for one message.
type Outcome string

const (
	OutcomeEscalated    Outcome = "escalated"
	OutcomeHumanHold    Outcome = "human_hold"
	OutcomeAIDisabled   Outcome = "ai_disabled"
	OutcomeReplied      Outcome = "replied"
	OutcomeNoReply      Outcome = "no_reply"
	OutcomeAIError      Outcome = "ai_error"
)

// Messenger is the per-delivery LINE client surface the engine needs.
type Messenger interface {
	ReplyMessage(ctx context.Context, replyToken, text string) error
	PushMessage(ctx context.Context, to, text string) error
	GetProfile(ctx context.Context, userID string) (*line.Profile, error)
}

// StateStore is the conversation-state surface the engine needs.
type StateStore interface {
	Get(ctx context.Context, userID string) (*state.ConversationState, error)
	MarkHuman(ctx context.Context, userID, nickname string, now time.Time) error
	ClearHuman(ctx context.Context, userID string, now time.Time) error
}

// TranscriptStore records messages for the operator dashboard. All writes
// are best-effort.
type TranscriptStore interface {
	Append(ctx context.Context, e chatlog.Entry) error
}

// Engine is the handover decision engine: per inbound text message it
// decides among escalate-to-human, hold-for-human, timeout-back-to-AI,
// suppress, or invoke-AI-and-reply. It owns all conversation-state writes;
// provider adapters stay stateless.
type Engine struct {
	states     StateStore
	transcript TranscriptStore
	gpt        ProviderClient
	gemini     ProviderClient
	logger     *logging.Logger
	metrics    *metrics.WebhookMetrics
	now        func() time.Time
}

type EngineConfig struct {
	States     StateStore
	Transcript TranscriptStore
	GPT        ProviderClient
	Gemini     ProviderClient
	Logger     *logging.Logger
	Metrics    *metrics.WebhookMetrics
	Now        func() time.Time
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.States == nil {
		panic("conversation: state store required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		states:     cfg.States,
		transcript: cfg.Transcript,
		gpt:        cfg.GPT,
		gemini:     cfg.Gemini,
		logger:     logger,
		metrics:    cfg.Metrics,
		now:        now,
	}
}

// Process handles one inbound text message. Branches are evaluated in strict
// order and the first match wins. The reply token is used at most once; a
// failed reply is logged and the batch continues.
func (e *Engine) Process(ctx context.Context, st *settings.Settings, msgr Messenger, evt line.Event) (Outcome, error) {
	userID := evt.Source.UserID
	message := evt.Message.Text

	ctx, span := engineTracer.Start(ctx, "conversation.process")
	defer span.End()
	span.SetAttributes(attribute.String("linebridge.user_id", userID))

	e.logTranscript(ctx, chatlog.Entry{UserID: userID, Sender: chatlog.SenderUser, Message: message})

	convState, err := e.states.Get(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	now := e.now()

	outcome, err := e.decide(ctx, st, msgr, evt, convState, now)
	if err != nil {
		span.RecordError(err)
		return outcome, err
	}
	span.SetAttributes(attribute.String("linebridge.outcome", string(outcome)))
	e.metrics.ObserveDecision(string(outcome))
	return outcome, nil
}

func (e *Engine) decide(ctx context.Context, st *settings.Settings, msgr Messenger, evt line.Event, convState *state.ConversationState, now time.Time) (Outcome, error) {
	userID := evt.Source.UserID
	message := evt.Message.Text

	// 1. Keyword escalation, unless inside the post-reset cooldown window.
	if matchesKeyword(st.HandoverKeywords, message) {
		if withinCooldown(convState.LastAIReset, now) {
			e.logger.Debug("keyword escalation suppressed by cooldown", "user_id", userID)
		} else {
			return e.escalate(ctx, st, msgr, evt, now)
		}
	}

	// 2. Human-mode continuation or timeout back to AI.
	if convState.HumanMode {
		if convState.LastHumanInteraction != nil &&
			now.Sub(*convState.LastHumanInteraction) < st.HandoverTimeout {
			return OutcomeHumanHold, nil
		}
		if err := e.states.ClearHuman(ctx, userID, now); err != nil {
			return "", err
		}
		e.logger.Info("handover timed out, returning to ai", "user_id", userID)
	}

	// 3. Global AI gate.
	if !st.AIEnabled {
		return OutcomeAIDisabled, nil
	}

	// 4. AI invocation and reply.
	return e.invokeAI(ctx, st, msgr, evt)
}

func (e *Engine) escalate(ctx context.Context, st *settings.Settings, msgr Messenger, evt line.Event, now time.Time) (Outcome, error) {
	userID := evt.Source.UserID

	nickname := ""
	if profile, err := msgr.GetProfile(ctx, userID); err == nil && profile != nil {
		nickname = profile.DisplayName
	} else if err != nil {
		e.logger.Warn("profile lookup failed", "user_id", userID, "error", err)
	}

	if err := e.states.MarkHuman(ctx, userID, nickname, now); err != nil {
		return "", err
	}

	if err := msgr.ReplyMessage(ctx, evt.ReplyToken, escalationReply); err != nil {
		e.logger.Error("escalation reply failed", "user_id", userID, "error", err)
	} else {
		e.logTranscript(ctx, chatlog.Entry{UserID: userID, Sender: chatlog.SenderAgent, Message: escalationReply})
	}

	display := nickname
	if display == "" {
		display = fallbackNickname
	}
	alert := fmt.Sprintf("「%s」要求真人客服，請至後台接手對話。", display)
	for _, agentID := range st.AgentUserIDs {
		if err := msgr.PushMessage(ctx, agentID, alert); err != nil {
			e.logger.Warn("agent notification failed", "agent_id", agentID, "error", err)
		}
	}

	e.logger.Info("conversation escalated to human", "user_id", userID, "nickname", nickname)
	return OutcomeEscalated, nil
}

func (e *Engine) invokeAI(ctx context.Context, st *settings.Settings, msgr Messenger, evt line.Event) (Outcome, error) {
	userID := evt.Source.UserID

	client, providerName, err := e.providerFor(st)
	if err != nil {
		return "", err
	}

	start := e.now()
	result, err := client.Invoke(ctx, st, evt.Message.Text)
	elapsed := time.Since(start)
	if err != nil {
		e.metrics.ObserveProviderLatency(providerName, "error", elapsed.Seconds())
		e.logger.Error("ai invocation failed", "user_id", userID, "provider", providerName, "error", err)
		errText := fmt.Sprintf("AI 回覆發生錯誤：%v", err)
		if replyErr := msgr.ReplyMessage(ctx, evt.ReplyToken, errText); replyErr != nil {
			e.logger.Error("error reply failed", "user_id", userID, "error", replyErr)
		}
		return OutcomeAIError, nil
	}
	e.metrics.ObserveProviderLatency(providerName, "ok", elapsed.Seconds())

	if result.Text == "" {
		e.logger.Debug("provider returned empty completion", "user_id", userID, "provider", providerName, "call_id", result.CallID)
		return OutcomeNoReply, nil
	}

	if err := msgr.ReplyMessage(ctx, evt.ReplyToken, result.Text); err != nil {
		e.logger.Error("reply dispatch failed", "user_id", userID, "error", err)
		return OutcomeReplied, nil
	}
	e.logTranscript(ctx, chatlog.Entry{
		UserID:   userID,
		Sender:   chatlog.SenderAI,
		Message:  result.Text,
		Provider: providerName,
	})
	return OutcomeReplied, nil
}

func (e *Engine) providerFor(st *settings.Settings) (ProviderClient, string, error) {
	switch st.Provider {
	case settings.ProviderGemini:
		if e.gemini == nil {
			return nil, "", errors.New("conversation: gemini adapter not configured")
		}
		return e.gemini, string(settings.ProviderGemini), nil
	default:
		if e.gpt == nil {
			return nil, "", errors.New("conversation: gpt adapter not configured")
		}
		return e.gpt, string(settings.ProviderGPT), nil
	}
}

func (e *Engine) logTranscript(ctx context.Context, entry chatlog.Entry) {
	if e.transcript == nil {
		return
	}
	if err := e.transcript.Append(ctx, entry); err != nil {
		e.logger.Warn("transcript append failed", "user_id", entry.UserID, "error", err)
	}
}

func matchesKeyword(keywords []string, message string) bool {
	for _, kw := range keywords {
		if strings.Contains(message, kw) {
			return true
		}
	}
	return false
}

func withinCooldown(lastReset *time.Time, now time.Time) bool {
	return lastReset != nil && now.Sub(*lastReset) < escalationCooldown
}
