package line

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
)

const (
	defaultBaseURL   = "https://api.line.me"
	defaultUserAgent = "line-ai-bridge/0.1"
)

// Config controls how the LINE Messaging API client behaves.
type Config struct {
	BaseURL            string
	ChannelAccessToken string
	Timeout            time.Duration
	HTTPClient         *http.Client
	UserAgent          string
}

// Client wraps the LINE Messaging API endpoints this service needs: reply,
// push, and profile lookup. Channel credentials live in operator settings,
// so callers construct a Client per webhook delivery; the struct is cheap
// and the underlying http.Client can be shared through Config.
type Client struct {
	accessToken string
	baseURL     string
	httpClient  *http.Client
	userAgent   string
}

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.ChannelAccessToken) == "" {
		return nil, errors.New("line: channel access token is required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		accessToken: cfg.ChannelAccessToken,
		baseURL:     baseURL,
		httpClient:  httpClient,
		userAgent:   userAgent,
	}, nil
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ReplyMessage sends one text reply using the event's single-use reply token.
func (c *Client) ReplyMessage(ctx context.Context, replyToken, text string) error {
	if strings.TrimSpace(replyToken) == "" {
		return errors.New("line: reply token required")
	}
	body, err := json.Marshal(struct {
		ReplyToken string        `json:"replyToken"`
		Messages   []textMessage `json:"messages"`
	}{
		ReplyToken: replyToken,
		Messages:   []textMessage{{Type: "text", Text: text}},
	})
	if err != nil {
		return fmt.Errorf("line: marshal reply body: %w", err)
	}
	_, err = c.invoke(ctx, http.MethodPost, "/v2/bot/message/reply", body)
	return err
}

// PushMessage sends one text message to a user outside the reply flow. Agent
// notifications use this; it does not consume a reply token.
func (c *Client) PushMessage(ctx context.Context, to, text string) error {
	if strings.TrimSpace(to) == "" {
		return errors.New("line: push recipient required")
	}
	body, err := json.Marshal(struct {
		To       string        `json:"to"`
		Messages []textMessage `json:"messages"`
	}{
		To:       to,
		Messages: []textMessage{{Type: "text", Text: text}},
	})
	if err != nil {
		return fmt.Errorf("line: marshal push body: %w", err)
	}
	_, err = c.invoke(ctx, http.MethodPost, "/v2/bot/message/push", body)
	return err
}

// Profile is a user's public LINE profile.
type Profile struct {
	UserID        string `json:"userId"`
	DisplayName   string `json:"displayName"`
	PictureURL    string `json:"pictureUrl"`
	StatusMessage string `json:"statusMessage"`
}

// GetProfile fetches a user's display profile.
func (c *Client) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("line: user id required")
	}
	data, err := c.invoke(ctx, http.MethodGet, "/v2/bot/profile/"+userID, nil)
	if err != nil {
		return nil, err
	}
	var profile Profile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("line: decode profile: %w", err)
	}
	return &profile, nil
}

// invoke issues one request. No retry loop: webhook processing must stay
// single-shot, and the platform redelivers on its own schedule.
func (c *Client) invoke(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("line: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("line: http error: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("line: read response: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}
	return nil, decodeAPIError(resp.StatusCode, data)
}

type apiError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	Details    []struct {
		Message  string `json:"message"`
		Property string `json:"property"`
	} `json:"details"`
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("line: %s (status=%d)", e.Message, e.StatusCode)
	}
	return fmt.Sprintf("line: http status %d", e.StatusCode)
}

func decodeAPIError(status int, body []byte) error {
	var parsed apiError
	if err := json.Unmarshal(body, &parsed); err != nil {
		return &apiError{StatusCode: status, Message: strings.TrimSpace(string(body))}
	}
	parsed.StatusCode = status
	return &parsed
}
