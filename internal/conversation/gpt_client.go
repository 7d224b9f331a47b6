package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/linebridge/line-ai-bridge/internal/settings"
	"github.com/linebridge/line-ai-bridge/pkg/logging"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

var gptTracer = otel.Tracer("linebridge.internal.conversation.gpt")

// GPTClient normalizes the OpenAI family behind the ProviderClient contract.
// The conventional chat endpoint goes through go-openai; the gpt-5 responses
// endpoint is spoken directly because the SDK has no surface for it.
type GPTClient struct {
	baseURL    string
	httpClient *http.Client
	fetcher    *Fetcher
	logger     *logging.Logger
}

type GPTClientConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Fetcher    *Fetcher
	Logger     *logging.Logger
}

func NewGPTClient(cfg GPTClientConfig) *GPTClient {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	fetcher := cfg.Fetcher
	if fetcher == nil {
		fetcher = NewFetcher(httpClient, cfg.Logger)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &GPTClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		fetcher:    fetcher,
		logger:     logger,
	}
}

// Invoke performs one single-shot completion using the model family's wire
// protocol. The reference file is fetched fresh on every call; its absence
// never fails the invocation.
func (c *GPTClient) Invoke(ctx context.Context, st *settings.Settings, message string) (Result, error) {
	if strings.TrimSpace(st.GPT.APIKey) == "" {
		return Result{}, errors.New("conversation: gpt api key not configured")
	}
	caps := ResolveGPTCapabilities(st.GPT.Model)

	ctx, span := gptTracer.Start(ctx, "conversation.gpt.invoke")
	defer span.End()
	span.SetAttributes(
		attribute.String("linebridge.gpt.model", st.GPT.Model),
		attribute.Bool("linebridge.gpt.responses_protocol", caps.Protocol == ProtocolResponses),
	)

	fileContent := c.fetcher.FetchText(ctx, st.ReferenceFileURL)
	systemContent := composeSystemContent(st, fileContent)

	var (
		result Result
		err    error
	)
	if caps.Protocol == ProtocolResponses {
		result, err = c.invokeResponses(ctx, st, systemContent, message)
	} else {
		result, err = c.invokeChat(ctx, st, caps, systemContent, message)
	}
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}
	return result, nil
}

// composeSystemContent joins the operator prompt with whatever grounding
// material is available.
func composeSystemContent(st *settings.Settings, fileContent string) string {
	parts := make([]string, 0, 3)
	if st.SystemPrompt != "" {
		parts = append(parts, st.SystemPrompt)
	}
	if st.ReferenceText != "" {
		parts = append(parts, "參考資料：\n"+st.ReferenceText)
	}
	if fileContent != "" {
		parts = append(parts, "參考文件內容：\n"+fileContent)
	}
	return strings.Join(parts, "\n\n")
}

func (c *GPTClient) invokeChat(ctx context.Context, st *settings.Settings, caps GPTCapabilities, systemContent, message string) (Result, error) {
	cfg := openai.DefaultConfig(st.GPT.APIKey)
	if c.baseURL != "" {
		cfg.BaseURL = c.baseURL
	}
	cfg.HTTPClient = c.httpClient
	client := openai.NewClientWithConfig(cfg)

	req := openai.ChatCompletionRequest{
		Model: st.GPT.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemContent},
			{Role: openai.ChatMessageRoleUser, Content: message},
		},
	}
	if caps.UsesMaxCompletionTokens {
		req.MaxCompletionTokens = st.GPT.MaxOutputTokens
	} else {
		req.MaxTokens = st.GPT.MaxOutputTokens
	}
	if caps.SupportsTemperature {
		req.Temperature = st.GPT.Temperature
	}

	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("conversation: openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{CallID: resp.ID}, nil
	}
	return Result{
		Text:   strings.TrimSpace(resp.Choices[0].Message.Content),
		CallID: resp.ID,
	}, nil
}

type responsesRequest struct {
	Model     string               `json:"model"`
	Input     string               `json:"input"`
	Reasoning responsesReasoning   `json:"reasoning"`
	Text      responsesTextOptions `json:"text"`
}

type responsesReasoning struct {
	Effort string `json:"effort"`
}

type responsesTextOptions struct {
	Verbosity string `json:"verbosity"`
}

type responsesResponse struct {
	ID     string `json:"id"`
	Output []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Error *openaiErrorBody `json:"error"`
}

type openaiErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type openaiErrorEnvelope struct {
	Error *openaiErrorBody `json:"error"`
}

// invokeResponses speaks the gpt-5 reasoning endpoint: one flattened input
// string instead of a message sequence, with effort/verbosity knobs.
func (c *GPTClient) invokeResponses(ctx context.Context, st *settings.Settings, systemContent, message string) (Result, error) {
	input := fmt.Sprintf("System: %s\nUser: %s", systemContent, message)
	body, err := json.Marshal(responsesRequest{
		Model:     st.GPT.Model,
		Input:     input,
		Reasoning: responsesReasoning{Effort: st.GPT.ReasoningEffort},
		Text:      responsesTextOptions{Verbosity: st.GPT.Verbosity},
	})
	if err != nil {
		return Result{}, fmt.Errorf("conversation: marshal responses body: %w", err)
	}

	baseURL := c.baseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("conversation: build responses request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+st.GPT.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("conversation: responses call failed: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("conversation: read responses body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope openaiErrorEnvelope
		if json.Unmarshal(data, &envelope) == nil && envelope.Error != nil && envelope.Error.Message != "" {
			return Result{}, fmt.Errorf("conversation: openai responses error: %s (status=%d)", envelope.Error.Message, resp.StatusCode)
		}
		return Result{}, fmt.Errorf("conversation: openai responses status %d", resp.StatusCode)
	}

	var parsed responsesResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Result{}, fmt.Errorf("conversation: decode responses body: %w", err)
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		return Result{}, fmt.Errorf("conversation: openai responses error: %s", parsed.Error.Message)
	}
	for _, item := range parsed.Output {
		if item.Type != "message" {
			continue
		}
		for _, part := range item.Content {
			if part.Type == "output_text" && part.Text != "" {
				return Result{Text: strings.TrimSpace(part.Text), CallID: parsed.ID}, nil
			}
		}
	}
	return Result{CallID: parsed.ID}, nil
}
