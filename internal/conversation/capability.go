package conversation

import "strings"

// GPTProtocol selects which OpenAI wire protocol a model speaks.
type GPTProtocol int

const (
	// ProtocolChatCompletions is the conventional multi-message chat endpoint.
	ProtocolChatCompletions GPTProtocol = iota
	// ProtocolResponses is the single-shot reasoning endpoint used by the
	// gpt-5 family, which takes reasoning-effort and verbosity knobs instead
	// of chat parameters.
	ProtocolResponses
)

// GPTCapabilities is the model-family classification for the OpenAI adapter,
// resolved once per invocation from the configured model identifier. Call
// sites branch on these fields, never on the model string itself.
type GPTCapabilities struct {
	Protocol GPTProtocol
	// UsesMaxCompletionTokens indicates the model takes max_completion_tokens
	// instead of max_tokens on the chat endpoint.
	UsesMaxCompletionTokens bool
	// SupportsTemperature is false for the o-series reasoning models, which
	// reject the parameter outright.
	SupportsTemperature bool
}

// ResolveGPTCapabilities classifies an OpenAI model identifier.
func ResolveGPTCapabilities(model string) GPTCapabilities {
	m := strings.ToLower(strings.TrimSpace(model))
	if strings.Contains(m, "gpt-5") {
		return GPTCapabilities{Protocol: ProtocolResponses}
	}
	if strings.HasPrefix(m, "o1") || strings.HasPrefix(m, "o3") {
		return GPTCapabilities{
			Protocol:                ProtocolChatCompletions,
			UsesMaxCompletionTokens: true,
			SupportsTemperature:     false,
		}
	}
	return GPTCapabilities{
		Protocol:            ProtocolChatCompletions,
		SupportsTemperature: true,
	}
}

// GeminiFamily classifies Gemini models by generation-parameter surface.
type GeminiFamily int

const (
	// GeminiStandard models take plain temperature/maxOutputTokens.
	GeminiStandard GeminiFamily = iota
	// GeminiThinking models additionally accept a thinking configuration
	// block with a deliberation level.
	GeminiThinking
)

// ResolveGeminiFamily classifies a Gemini model identifier.
func ResolveGeminiFamily(model string) GeminiFamily {
	if strings.Contains(strings.ToLower(strings.TrimSpace(model)), "gemini-3") {
		return GeminiThinking
	}
	return GeminiStandard
}
