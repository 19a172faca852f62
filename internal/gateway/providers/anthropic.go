package providers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/apierr"
)

const (
	DefaultAnthropicBaseURL = "https://api.anthropic.com"
	DefaultAnthropicVersion = "2023-06-01"

	// upstream error bodies are read up to this size
	maxErrorBody = 64 << 10
)

// AnthropicClient talks to the Anthropic Messages API
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	version    string
	httpClient *http.Client
}

// AnthropicRequest represents a request to Anthropic's Messages API
type AnthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []AnthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

// AnthropicMessage represents a message in Anthropic format
type AnthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AnthropicResponse represents a response from Anthropic's API
type AnthropicResponse struct {
	ID         string                  `json:"id"`
	Type       string                  `json:"type"`
	Role       string                  `json:"role"`
	Content    []AnthropicContentBlock `json:"content"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
	// nil when the upstream omitted usage
	Usage *AnthropicUsage `json:"usage"`
}

// AnthropicContentBlock represents a content block
type AnthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// AnthropicUsage represents token usage
type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// AnthropicConfig configures the client. Zero values take the defaults.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Version string
	// Timeout bounds a whole call including the streamed body. 0 = none.
	Timeout time.Duration
}

// NewAnthropicClient creates a new Anthropic client
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultAnthropicBaseURL
	}
	version := cfg.Version
	if version == "" {
		version = DefaultAnthropicVersion
	}
	return &AnthropicClient{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		version: version,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Configured reports whether an API key is set
func (c *AnthropicClient) Configured() bool {
	return c.apiKey != ""
}

// Version returns the anthropic-version header value sent upstream
func (c *AnthropicClient) Version() string {
	return c.version
}

// CreateMessage makes a blocking Messages API call
func (c *AnthropicClient) CreateMessage(ctx context.Context, req AnthropicRequest) (*AnthropicResponse, error) {
	req.Stream = false

	httpResp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, apierr.Upstream(0, fmt.Sprintf("failed to read Anthropic response: %v", err))
	}

	// An unparseable 2xx body carries no text or usage and is served as a
	// degraded completion.
	var resp AnthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return &AnthropicResponse{}, nil
	}

	return &resp, nil
}

// StreamMessage starts a streaming call and returns the raw SSE body.
// The caller must close it.
func (c *AnthropicClient) StreamMessage(ctx context.Context, req AnthropicRequest) (io.ReadCloser, error) {
	req.Stream = true

	httpResp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	return httpResp.Body, nil
}

// do sends req and turns transport failures and non-2xx replies into
// *apierr.Error values.
func (c *AnthropicClient) do(ctx context.Context, req AnthropicRequest) (*http.Response, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal Anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("build Anthropic request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", c.version)
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, apierr.Upstream(0, fmt.Sprintf("Anthropic API error: %v", err))
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		return nil, apierr.Upstream(httpResp.StatusCode, upstreamMessage(httpResp.StatusCode, respBody))
	}

	return httpResp, nil
}

func upstreamMessage(status int, body []byte) string {
	var e anthropicErrorBody
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return fmt.Sprintf("Anthropic API error (status %d): %s", status, msg)
	}
	return fmt.Sprintf("Anthropic API error (status %d)", status)
}
