package conversation

import (
	"context"

	"github.com/linebridge/line-ai-bridge/internal/settings"
)

// Result is what a provider adapter returns. An empty Text means the model
// produced no usable reply; the engine sends nothing in that case. CallID is
// the provider-assigned identifier, kept for traceability only.
type Result struct {
	Text   string
	CallID string
}

// ProviderClient is the single call contract both AI backends are normalized
// behind. Adapters are stateless: every invocation reads its credentials and
// generation parameters from the settings snapshot and performs one
// single-shot call with no provider-side conversation history.
type ProviderClient interface {
	Invoke(ctx context.Context, st *settings.Settings, message string) (Result, error)
}
