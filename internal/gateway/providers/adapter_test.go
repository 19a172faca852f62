package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/apierr"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/normalize"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/shared/models"
)

type upstreamCall struct {
	header http.Header
	body   AnthropicRequest
}

func newUpstream(t *testing.T, status int, response string) (*httptest.Server, chan upstreamCall) {
	t.Helper()
	calls := make(chan upstreamCall, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		var body AnthropicRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		calls <- upstreamCall{header: r.Header.Clone(), body: body}

		if body.Stream {
			w.Header().Set("Content-Type", "text/event-stream")
		} else {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(status)
		io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)
	return srv, calls
}

func newTestAdapter(baseURL string, passthrough bool) *Adapter {
	return NewAdapter(AdapterConfig{
		Client: NewAnthropicClient(AnthropicConfig{
			APIKey:  "sk-upstream",
			BaseURL: baseURL,
		}),
		DefaultTemperature: 0.2,
		DefaultMaxTokens:   1024,
		Passthrough:        passthrough,
	})
}

func chatRequest(msgs ...normalize.Message) *normalize.ChatRequest {
	return &normalize.ChatRequest{
		RequestedModel: "claude-fast",
		Model:          "claude-3-haiku-20240307",
		Messages:       msgs,
	}
}

func TestComplete_Blocking(t *testing.T) {
	srv, calls := newUpstream(t, http.StatusOK, `{
		"id": "msg_01",
		"type": "message",
		"role": "assistant",
		"model": "claude-3-haiku-20240307",
		"content": [{"type": "text", "text": "Hel"}, {"type": "tool_use"}, {"type": "text", "text": "lo"}],
		"stop_reason": "max_tokens",
		"usage": {"input_tokens": 12, "output_tokens": 3}
	}`)
	a := newTestAdapter(srv.URL, false)

	res, err := a.Complete(context.Background(), chatRequest(
		normalize.Message{Role: "system", Content: "  rule one"},
		normalize.Message{Role: "user", Content: "hi"},
		normalize.Message{Role: "system", Content: "rule two  "},
		normalize.Message{Role: "assistant", Content: "hey"},
	))
	require.NoError(t, err)

	assert.Equal(t, "msg_01", res.ID)
	assert.Equal(t, ProviderAnthropic, res.Provider)
	assert.Equal(t, "claude-3-haiku-20240307", res.ProviderModel)
	assert.Equal(t, "Hello", res.Text)
	assert.Equal(t, "max_tokens", res.StopReason)
	assert.True(t, res.HasUsage)
	assert.Equal(t, 12, res.PromptTokens)
	assert.Equal(t, 3, res.CompletionTokens)
	assert.Equal(t, 15, res.TotalTokens())
	assert.Nil(t, res.Stream)

	call := <-calls
	assert.Equal(t, "sk-upstream", call.header.Get("x-api-key"))
	assert.Equal(t, DefaultAnthropicVersion, call.header.Get("anthropic-version"))
	assert.Equal(t, "rule one\n\nrule two", call.body.System)
	assert.Equal(t, []AnthropicMessage{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hey"}}, call.body.Messages)
	assert.Equal(t, 1024, call.body.MaxTokens)
	require.NotNil(t, call.body.Temperature)
	assert.Equal(t, 0.2, *call.body.Temperature)
	assert.False(t, call.body.Stream)
}

func TestComplete_RequestOverridesDefaults(t *testing.T) {
	srv, calls := newUpstream(t, http.StatusOK, `{"content": [], "usage": {"input_tokens": 1, "output_tokens": 0}}`)
	a := newTestAdapter(srv.URL, false)

	temp, maxTokens := 0.0, 64
	req := chatRequest(normalize.Message{Role: "user", Content: "hi"})
	req.Temperature = &temp
	req.MaxTokens = &maxTokens

	_, err := a.Complete(context.Background(), req)
	require.NoError(t, err)

	call := <-calls
	assert.Equal(t, 64, call.body.MaxTokens)
	require.NotNil(t, call.body.Temperature)
	assert.Equal(t, 0.0, *call.body.Temperature)
	assert.Empty(t, call.body.System)
}

func TestComplete_MissingUsage(t *testing.T) {
	srv, _ := newUpstream(t, http.StatusOK, `{"id": "msg_02", "content": []}`)
	a := newTestAdapter(srv.URL, false)

	res, err := a.Complete(context.Background(), chatRequest(normalize.Message{Role: "user", Content: "hi"}))
	require.NoError(t, err)
	assert.False(t, res.HasUsage)
	assert.Zero(t, res.TotalTokens())
	assert.Empty(t, res.Text)
}

func TestComplete_MalformedBodyIsEmptyResult(t *testing.T) {
	srv, _ := newUpstream(t, http.StatusOK, `{"id": "msg_03", "content": [`)
	a := newTestAdapter(srv.URL, false)

	res, err := a.Complete(context.Background(), chatRequest(normalize.Message{Role: "user", Content: "hi"}))
	require.NoError(t, err)
	assert.False(t, res.HasUsage)
	assert.Empty(t, res.Text)
	assert.Nil(t, res.Stream)
}

func TestComplete_UpstreamErrorKeepsStatus(t *testing.T) {
	srv, _ := newUpstream(t, http.StatusTooManyRequests,
		`{"type": "error", "error": {"type": "rate_limit_error", "message": "Number of requests has exceeded your rate limit"}}`)
	a := newTestAdapter(srv.URL, false)

	_, err := a.Complete(context.Background(), chatRequest(normalize.Message{Role: "user", Content: "hi"}))
	require.Error(t, err)

	e := apierr.As(err)
	assert.Equal(t, http.StatusTooManyRequests, e.Status)
	assert.Equal(t, apierr.TypeUpstream, e.Type)
	assert.Equal(t, "Number of requests has exceeded your rate limit", e.Message)
}

func TestComplete_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	a := newTestAdapter(url, false)
	_, err := a.Complete(context.Background(), chatRequest(normalize.Message{Role: "user", Content: "hi"}))
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, apierr.As(err).Status)
}

func TestComplete_NotConfigured(t *testing.T) {
	a := NewAdapter(AdapterConfig{Client: NewAnthropicClient(AnthropicConfig{})})

	_, err := a.Complete(context.Background(), chatRequest(normalize.Message{Role: "user", Content: "hi"}))
	require.Error(t, err)
	e := apierr.As(err)
	assert.Equal(t, http.StatusInternalServerError, e.Status)
	assert.Equal(t, apierr.CodeUpstreamNotConfigured, e.Code)
}

func TestComplete_Passthrough(t *testing.T) {
	const sse = "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n"
	srv, calls := newUpstream(t, http.StatusOK, sse)

	req := chatRequest(normalize.Message{Role: "user", Content: "hi"})
	req.Stream = true
	req.Dialect = models.DialectAnthropic

	res, err := newTestAdapter(srv.URL, true).Complete(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res.Stream)
	defer res.Stream.Close()

	data, err := io.ReadAll(res.Stream)
	require.NoError(t, err)
	assert.Equal(t, sse, string(data))
	assert.True(t, (<-calls).body.Stream)
}

func TestComplete_StreamWithoutPassthroughIsBlocking(t *testing.T) {
	srv, calls := newUpstream(t, http.StatusOK, `{"content": [{"type": "text", "text": "ok"}], "usage": {"input_tokens": 1, "output_tokens": 1}}`)

	req := chatRequest(normalize.Message{Role: "user", Content: "hi"})
	req.Stream = true

	res, err := newTestAdapter(srv.URL, false).Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, res.Stream)
	assert.Equal(t, "ok", res.Text)
	assert.False(t, (<-calls).body.Stream)
}

func TestComplete_OpenAIStreamNeverPassesThrough(t *testing.T) {
	srv, calls := newUpstream(t, http.StatusOK, `{"content": [{"type": "text", "text": "ok"}]}`)

	req := chatRequest(normalize.Message{Role: "user", Content: "hi"})
	req.Stream = true
	req.Dialect = models.DialectOpenAI

	res, err := newTestAdapter(srv.URL, true).Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, res.Stream)
	assert.False(t, (<-calls).body.Stream)
}

func TestEstimateCostUSD(t *testing.T) {
	assert.InDelta(t, 0.25+1.25, EstimateCostUSD("claude-3-haiku-20240307", 1_000_000, 1_000_000), 1e-9)
	assert.InDelta(t, 0.000045, EstimateCostUSD("claude-3-sonnet-20240229", 10, 1), 1e-12)
	assert.Zero(t, EstimateCostUSD("claude-unknown", 1000, 1000))
	assert.Zero(t, EstimateCostUSD("claude-3-haiku-20240307", 0, 0))
}
