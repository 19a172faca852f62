package providers

import (
	"context"
	"io"

	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/normalize"
)

// ProviderAnthropic is the only upstream the gateway speaks to.
const ProviderAnthropic = "anthropic"

// Result is a provider response reduced to what the translators need.
type Result struct {
	ID            string
	Provider      string
	ProviderModel string
	Text          string
	StopReason    string

	PromptTokens     int
	CompletionTokens int
	// HasUsage is false when the upstream reported no usage at all.
	HasUsage bool

	// Stream is the raw upstream SSE body for pass-through streaming.
	// When set, the caller owns it and the fields above are empty.
	Stream io.ReadCloser
}

// TotalTokens returns prompt plus completion tokens
func (r *Result) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}

// Completer is the interface the request pipeline calls the provider through
type Completer interface {
	Complete(ctx context.Context, req *normalize.ChatRequest) (*Result, error)
	// APIVersion is echoed to Anthropic-dialect clients.
	APIVersion() string
}
