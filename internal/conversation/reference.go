package conversation

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/linebridge/line-ai-bridge/pkg/logging"
)

// maxReferenceBytes caps how much reference material gets pulled into a
// prompt. Operator files are expected to be small; anything larger is
// truncated rather than rejected.
const maxReferenceBytes = 2 << 20

// Fetcher retrieves operator-supplied reference material by URL. Every
// fetch is best-effort: network errors, non-2xx statuses, and bad URLs all
// degrade to empty content so an AI call is never aborted over grounding
// material.
type Fetcher struct {
	httpClient *http.Client
	logger     *logging.Logger
}

func NewFetcher(httpClient *http.Client, logger *logging.Logger) *Fetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Fetcher{httpClient: httpClient, logger: logger}
}

// FetchText returns the resource body as text, or "" on any failure.
func (f *Fetcher) FetchText(ctx context.Context, rawURL string) string {
	data, _ := f.fetch(ctx, rawURL)
	return string(data)
}

// FetchBlob returns the resource body plus an inferred MIME type, or nil on
// any failure. MIME inference is a suffix check: .pdf means PDF, everything
// else is treated as plain text.
func (f *Fetcher) FetchBlob(ctx context.Context, rawURL string) ([]byte, string) {
	data, ok := f.fetch(ctx, rawURL)
	if !ok || len(data) == 0 {
		return nil, ""
	}
	return data, InferMIME(rawURL)
}

// InferMIME maps a reference URL to the MIME type sent to the provider.
func InferMIME(rawURL string) string {
	trimmed := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		trimmed = u.Path
	}
	if strings.HasSuffix(strings.ToLower(trimmed), ".pdf") {
		return "application/pdf"
	}
	return "text/plain"
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string) ([]byte, bool) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		f.logger.Warn("reference fetch skipped", "url", rawURL, "error", err)
		return nil, false
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		f.logger.Warn("reference fetch failed", "url", rawURL, "error", err)
		return nil, false
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		f.logger.Warn("reference fetch non-success", "url", rawURL, "status", resp.StatusCode)
		return nil, false
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReferenceBytes))
	if err != nil {
		f.logger.Warn("reference read failed", "url", rawURL, "error", err)
		return nil, false
	}
	return data, true
}
