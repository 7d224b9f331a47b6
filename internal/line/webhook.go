package line

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// SignatureHeader is the request header carrying the webhook signature.
const SignatureHeader = "X-Line-Signature"

// ValidateSignature checks a webhook body against the X-Line-Signature
// header: base64 of an HMAC-SHA256 over the raw body keyed by the channel
// secret.
func ValidateSignature(channelSecret string, body []byte, signature string) bool {
	if channelSecret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// WebhookEnvelope is the JSON body of one webhook delivery: an ordered batch
// of events for a single bot destination.
type WebhookEnvelope struct {
	Destination string  `json:"destination"`
	Events      []Event `json:"events"`
}

// Event is one entry in a webhook batch. Only message events carrying text
// payloads are processed by this service; everything else is skipped.
type Event struct {
	Type           string          `json:"type"`
	WebhookEventID string          `json:"webhookEventId"`
	Timestamp      int64           `json:"timestamp"`
	ReplyToken     string          `json:"replyToken"`
	Source         EventSource     `json:"source"`
	Message        *MessagePayload `json:"message"`
	DeliveryCtx    DeliveryContext `json:"deliveryContext"`
}

type EventSource struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type MessagePayload struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text string `json:"text"`
}

type DeliveryContext struct {
	IsRedelivery bool `json:"isRedelivery"`
}

// IsTextMessage reports whether this event should reach the decision engine.
func (e Event) IsTextMessage() bool {
	return e.Type == "message" && e.Message != nil && e.Message.Type == "text"
}

// ParseWebhook decodes a webhook delivery body.
func ParseWebhook(body []byte) (*WebhookEnvelope, error) {
	var envelope WebhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("line: parse webhook: %w", err)
	}
	return &envelope, nil
}
