package providers

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/apierr"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/metrics"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/normalize"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/shared/models"
)

// AdapterConfig configures the adapter.
type AdapterConfig struct {
	Client             *AnthropicClient
	DefaultTemperature float64
	DefaultMaxTokens   int
	// Passthrough forwards upstream SSE for streaming Anthropic-dialect
	// requests instead of making a blocking call.
	Passthrough bool
}

// Adapter turns canonical chat requests into Anthropic calls
type Adapter struct {
	client             *AnthropicClient
	defaultTemperature float64
	defaultMaxTokens   int
	passthrough        bool
}

// NewAdapter creates a new provider adapter
func NewAdapter(cfg AdapterConfig) *Adapter {
	maxTokens := cfg.DefaultMaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Adapter{
		client:             cfg.Client,
		defaultTemperature: cfg.DefaultTemperature,
		defaultMaxTokens:   maxTokens,
		passthrough:        cfg.Passthrough,
	}
}

// APIVersion returns the anthropic-version in use
func (a *Adapter) APIVersion() string {
	return a.client.Version()
}

// Complete invokes the provider. For pass-through streaming the returned
// Result carries the open upstream body and nothing else. OpenAI-dialect
// streams are always served from a blocking call.
func (a *Adapter) Complete(ctx context.Context, req *normalize.ChatRequest) (*Result, error) {
	if !a.client.Configured() {
		return nil, apierr.UpstreamNotConfigured()
	}

	upstreamReq := a.convertRequest(req)
	startTime := time.Now()

	if req.Stream && a.passthrough && req.Dialect == models.DialectAnthropic {
		body, err := a.client.StreamMessage(ctx, upstreamReq)
		if err != nil {
			observeError(err)
			return nil, err
		}
		return &Result{
			Provider:      ProviderAnthropic,
			ProviderModel: req.Model,
			Stream:        body,
		}, nil
	}

	resp, err := a.client.CreateMessage(ctx, upstreamReq)
	metrics.UpstreamLatency.WithLabelValues(req.Model, "blocking").Observe(time.Since(startTime).Seconds())
	if err != nil {
		observeError(err)
		return nil, err
	}

	return convertResponse(req.Model, resp), nil
}

// convertRequest converts to Anthropic format. System turns are joined into
// the top-level system prompt.
func (a *Adapter) convertRequest(req *normalize.ChatRequest) AnthropicRequest {
	temperature := a.defaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := a.defaultMaxTokens
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = *req.MaxTokens
	}

	upstream := AnthropicRequest{
		Model:       req.Model,
		Messages:    []AnthropicMessage{},
		MaxTokens:   maxTokens,
		Temperature: &temperature,
	}

	var system []string
	for _, msg := range req.Messages {
		if msg.Role == normalize.RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		upstream.Messages = append(upstream.Messages, AnthropicMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}
	upstream.System = strings.TrimSpace(strings.Join(system, "\n\n"))

	return upstream
}

// convertResponse reduces an Anthropic response to a Result
func convertResponse(model string, resp *AnthropicResponse) *Result {
	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	res := &Result{
		ID:            resp.ID,
		Provider:      ProviderAnthropic,
		ProviderModel: model,
		Text:          text.String(),
		StopReason:    resp.StopReason,
	}
	if resp.Usage != nil {
		res.HasUsage = true
		res.PromptTokens = resp.Usage.InputTokens
		res.CompletionTokens = resp.Usage.OutputTokens
	}
	return res
}

func observeError(err error) {
	metrics.UpstreamErrorsTotal.WithLabelValues(strconv.Itoa(apierr.As(err).Status)).Inc()
}
