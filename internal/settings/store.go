package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotConfigured is returned when no settings record exists yet.
var ErrNotConfigured = errors.New("settings: no active settings record")

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads the operator settings singleton from Postgres.
type Store struct {
	pool rowQuerier
}

func NewStore(pool rowQuerier) *Store {
	if pool == nil {
		panic("settings: pgx pool required")
	}
	return &Store{pool: pool}
}

const loadQuery = `
	SELECT
		COALESCE(active_ai, 'gpt'),
		COALESCE(gpt_api_key, ''),
		COALESCE(gpt_model_name, ''),
		COALESCE(gpt_temperature, 0),
		COALESCE(gpt_max_tokens, 0),
		COALESCE(gpt_reasoning_effort, ''),
		COALESCE(gpt_verbosity, ''),
		COALESCE(gemini_api_key, ''),
		COALESCE(gemini_model_name, ''),
		COALESCE(gemini_temperature, 0),
		COALESCE(gemini_max_tokens, 0),
		COALESCE(gemini_thinking_level, ''),
		COALESCE(line_channel_secret, ''),
		COALESCE(line_channel_access_token, ''),
		COALESCE(system_prompt, ''),
		COALESCE(reference_text, ''),
		COALESCE(reference_file_url, ''),
		COALESCE(handover_keywords, ''),
		COALESCE(handover_timeout_minutes, 0),
		COALESCE(is_ai_enabled, false),
		COALESCE(agent_user_ids, '')
	FROM settings
	LIMIT 1
`

// Load fetches the active settings record and normalizes it into the typed
// model. The record is trusted as-is beyond type coercion; operator input
// validation happens in the dashboard, not here.
func (s *Store) Load(ctx context.Context) (*Settings, error) {
	var (
		provider       string
		gptTemp        float64
		geminiTemp     float64
		keywordsRaw    string
		agentIDsRaw    string
		timeoutMinutes int
		out            Settings
	)
	err := s.pool.QueryRow(ctx, loadQuery).Scan(
		&provider,
		&out.GPT.APIKey,
		&out.GPT.Model,
		&gptTemp,
		&out.GPT.MaxOutputTokens,
		&out.GPT.ReasoningEffort,
		&out.GPT.Verbosity,
		&out.Gemini.APIKey,
		&out.Gemini.Model,
		&geminiTemp,
		&out.Gemini.MaxOutputTokens,
		&out.Gemini.ThinkingLevel,
		&out.LINE.ChannelSecret,
		&out.LINE.ChannelAccessToken,
		&out.SystemPrompt,
		&out.ReferenceText,
		&out.ReferenceFileURL,
		&keywordsRaw,
		&timeoutMinutes,
		&out.AIEnabled,
		&agentIDsRaw,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotConfigured
		}
		return nil, fmt.Errorf("settings: load: %w", err)
	}

	out.Provider = Provider(provider)
	if out.Provider != ProviderGemini {
		out.Provider = ProviderGPT
	}
	out.GPT.Temperature = float32(gptTemp)
	out.Gemini.Temperature = float32(geminiTemp)
	out.HandoverKeywords = SplitList(keywordsRaw)
	out.AgentUserIDs = SplitList(agentIDsRaw)
	out.HandoverTimeout = time.Duration(timeoutMinutes) * time.Minute
	out.applyDefaults()
	return &out, nil
}
