package conversation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/linebridge/line-ai-bridge/internal/settings"
	"github.com/linebridge/line-ai-bridge/pkg/logging"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

var geminiTracer = otel.Tracer("linebridge.internal.conversation.gemini")

// GeminiClient normalizes the Gemini generateContent API behind the
// ProviderClient contract. The wire protocol is spoken directly so the
// thinking configuration block and inline file parts stay under our control.
type GeminiClient struct {
	baseURL    string
	httpClient *http.Client
	fetcher    *Fetcher
	logger     *logging.Logger
}

type GeminiClientConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Fetcher    *Fetcher
	Logger     *logging.Logger
}

func NewGeminiClient(cfg GeminiClientConfig) *GeminiClient {
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
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	return &GeminiClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		fetcher:    fetcher,
		logger:     logger,
	}
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiThinkingConfig struct {
	IncludeThoughts bool   `json:"includeThoughts"`
	ThinkingLevel   string `json:"thinkingLevel"`
}

type geminiGenerationConfig struct {
	Temperature     float32               `json:"temperature"`
	MaxOutputTokens int                   `json:"maxOutputTokens,omitempty"`
	ThinkingConfig  *geminiThinkingConfig `json:"thinkingConfig,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *geminiErrorBody `json:"error"`
}

type geminiErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Invoke performs one single-turn content generation. The reference file, if
// configured, is fetched fresh and attached as an inline part; fetch failure
// degrades to a text-only submission.
func (c *GeminiClient) Invoke(ctx context.Context, st *settings.Settings, message string) (Result, error) {
	if strings.TrimSpace(st.Gemini.APIKey) == "" {
		return Result{}, errors.New("conversation: gemini api key not configured")
	}
	family := ResolveGeminiFamily(st.Gemini.Model)

	ctx, span := geminiTracer.Start(ctx, "conversation.gemini.invoke")
	defer span.End()
	span.SetAttributes(
		attribute.String("linebridge.gemini.model", st.Gemini.Model),
		attribute.Bool("linebridge.gemini.thinking", family == GeminiThinking),
	)

	parts := []geminiPart{
		{Text: fmt.Sprintf("System: %s\nReference: %s", st.SystemPrompt, st.ReferenceText)},
	}
	if blob, mime := c.fetcher.FetchBlob(ctx, st.ReferenceFileURL); len(blob) > 0 {
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MIMEType: mime,
			Data:     base64.StdEncoding.EncodeToString(blob),
		}})
	}
	parts = append(parts, geminiPart{Text: message})

	genCfg := geminiGenerationConfig{
		Temperature:     st.Gemini.Temperature,
		MaxOutputTokens: st.Gemini.MaxOutputTokens,
	}
	if family == GeminiThinking {
		genCfg.ThinkingConfig = &geminiThinkingConfig{
			IncludeThoughts: true,
			ThinkingLevel:   st.Gemini.ThinkingLevel,
		}
	}

	body, err := json.Marshal(geminiRequest{
		Contents:         []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: genCfg,
	})
	if err != nil {
		return Result{}, fmt.Errorf("conversation: marshal gemini body: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		c.baseURL, url.PathEscape(st.Gemini.Model), url.QueryEscape(st.Gemini.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("conversation: build gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return Result{}, fmt.Errorf("conversation: gemini call failed: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("conversation: read gemini body: %w", err)
	}

	var parsed geminiResponse
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if json.Unmarshal(data, &parsed) == nil && parsed.Error != nil && parsed.Error.Message != "" {
			err = fmt.Errorf("conversation: gemini error: %s (status=%d)", parsed.Error.Message, resp.StatusCode)
		} else {
			err = fmt.Errorf("conversation: gemini status %d", resp.StatusCode)
		}
		span.RecordError(err)
		return Result{}, err
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Result{}, fmt.Errorf("conversation: decode gemini body: %w", err)
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		return Result{}, fmt.Errorf("conversation: gemini error: %s", parsed.Error.Message)
	}

	// First text-bearing part wins; a response with no text parts is "no
	// reply", not an error.
	for _, candidate := range parsed.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				return Result{Text: strings.TrimSpace(part.Text)}, nil
			}
		}
	}
	return Result{}, nil
}
