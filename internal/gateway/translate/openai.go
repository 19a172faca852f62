// Package translate renders provider results in the OpenAI and Anthropic
// wire formats, including emulated and pass-through SSE streams.
package translate

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/providers"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/sse"
)

const (
	// DegradedContent is served when the provider returned nothing usable.
	DegradedContent = "Error: Empty or invalid provider response."
	// DegradedID is the fixed id of a degraded completion.
	DegradedID = "chatcmpl_error"

	// FinishReasonError marks a degraded completion.
	FinishReasonError openai.FinishReason = "error"
)

// NewCompletionID returns an id of the form chatcmpl_<24 hex chars>.
func NewCompletionID() string {
	b := make([]byte, 12)
	rand.Read(b)
	return "chatcmpl_" + hex.EncodeToString(b)
}

// IsDegraded reports whether res has neither text nor usage.
func IsDegraded(res *providers.Result) bool {
	return res == nil || (res.Text == "" && !res.HasUsage)
}

func usageOf(res *providers.Result) openai.Usage {
	return openai.Usage{
		PromptTokens:     res.PromptTokens,
		CompletionTokens: res.CompletionTokens,
		TotalTokens:      res.TotalTokens(),
	}
}

// OpenAICompletion renders res as a chat.completion object. model is the
// name the client asked for.
func OpenAICompletion(model string, res *providers.Result, now time.Time) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		ID:      NewCompletionID(),
		Object:  "chat.completion",
		Created: now.Unix(),
		Model:   model,
		Choices: []openai.ChatCompletionChoice{
			{
				Index: 0,
				Message: openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleAssistant,
					Content: res.Text,
				},
				FinishReason: openai.FinishReasonStop,
			},
		},
		Usage: usageOf(res),
	}
}

// DegradedCompletion is the 200 fallback for an empty provider response.
func DegradedCompletion(model string, now time.Time) openai.ChatCompletionResponse {
	if model == "" {
		model = "unknown"
	}
	return openai.ChatCompletionResponse{
		ID:      DegradedID,
		Object:  "chat.completion",
		Created: now.Unix(),
		Model:   model,
		Choices: []openai.ChatCompletionChoice{
			{
				Index: 0,
				Message: openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleAssistant,
					Content: DegradedContent,
				},
				FinishReason: FinishReasonError,
			},
		},
		Usage: openai.Usage{},
	}
}

// WriteOpenAIStream emulates a chat.completion.chunk stream from a
// complete result: one content chunk when there is text, a finish chunk,
// then [DONE].
func WriteOpenAIStream(w *sse.Writer, model string, res *providers.Result, now time.Time) error {
	return writeChunks(w, NewCompletionID(), model, res.Text, openai.FinishReasonStop, now)
}

// WriteDegradedOpenAIStream is the streaming form of DegradedCompletion.
func WriteDegradedOpenAIStream(w *sse.Writer, model string, now time.Time) error {
	if model == "" {
		model = "unknown"
	}
	return writeChunks(w, DegradedID, model, DegradedContent, FinishReasonError, now)
}

func writeChunks(w *sse.Writer, id, model, text string, finish openai.FinishReason, now time.Time) error {
	chunk := func(delta openai.ChatCompletionStreamChoiceDelta, finish openai.FinishReason) openai.ChatCompletionStreamResponse {
		return openai.ChatCompletionStreamResponse{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: now.Unix(),
			Model:   model,
			Choices: []openai.ChatCompletionStreamChoice{
				{Index: 0, Delta: delta, FinishReason: finish},
			},
		}
	}

	if text != "" {
		if err := w.Data(chunk(openai.ChatCompletionStreamChoiceDelta{Content: text}, "")); err != nil {
			return err
		}
	}
	if err := w.Data(chunk(openai.ChatCompletionStreamChoiceDelta{}, finish)); err != nil {
		return err
	}
	return w.Done()
}
