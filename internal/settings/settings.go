package settings

import (
	"strings"
	"time"
)

// Provider identifies which AI backend answers customer messages.
type Provider string

const (
	ProviderGPT    Provider = "gpt"
	ProviderGemini Provider = "gemini"
)

const (
	defaultReasoningEffort = "none"
	defaultVerbosity       = "medium"
	defaultThinkingLevel   = "high"
	defaultGeminiTemp      = 1.0
)

// GPTConfig carries everything the OpenAI adapter needs.
type GPTConfig struct {
	APIKey          string
	Model           string
	Temperature     float32
	MaxOutputTokens int
	ReasoningEffort string
	Verbosity       string
}

// GeminiConfig carries everything the Gemini adapter needs.
type GeminiConfig struct {
	APIKey          string
	Model           string
	Temperature     float32
	MaxOutputTokens int
	ThinkingLevel   string
}

// LINEConfig holds the messaging channel credentials.
type LINEConfig struct {
	ChannelSecret      string
	ChannelAccessToken string
}

// Settings is the single operator-editable configuration record. It is read
// fresh on every webhook delivery and treated as read-only afterwards.
// List-valued fields are normalized once at load time so downstream code
// never re-parses the raw comma-separated columns.
type Settings struct {
	Provider Provider
	GPT      GPTConfig
	Gemini   GeminiConfig
	LINE     LINEConfig

	SystemPrompt     string
	ReferenceText    string
	ReferenceFileURL string

	HandoverKeywords []string
	HandoverTimeout  time.Duration
	AIEnabled        bool
	AgentUserIDs     []string
}

// SplitList normalizes a comma-separated operator field: split, trim, drop
// empty tokens. A field of only whitespace and commas yields an empty slice.
func SplitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func (s *Settings) applyDefaults() {
	if s.GPT.ReasoningEffort == "" {
		s.GPT.ReasoningEffort = defaultReasoningEffort
	}
	if s.GPT.Verbosity == "" {
		s.GPT.Verbosity = defaultVerbosity
	}
	if s.Gemini.Temperature <= 0 {
		s.Gemini.Temperature = defaultGeminiTemp
	}
	if s.Gemini.ThinkingLevel == "" {
		s.Gemini.ThinkingLevel = defaultThinkingLevel
	}
}
