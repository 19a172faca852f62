package translate

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/providers"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/sse"
)

// DefaultStopReason is used when the provider reported none.
const DefaultStopReason = "end_turn"

// ContentBlock is an Anthropic text content block.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// MessageUsage is the Anthropic usage object.
type MessageUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Message is an Anthropic Messages API response object.
type Message struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Content      []ContentBlock `json:"content"`
	Model        string         `json:"model"`
	StopReason   *string        `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        MessageUsage   `json:"usage"`
}

// NewMessageID returns an id of the form msg_<32 hex chars>.
func NewMessageID() string {
	return "msg_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func messageID(res *providers.Result) string {
	if res.ID != "" {
		return res.ID
	}
	return NewMessageID()
}

func stopReason(res *providers.Result) string {
	if res.StopReason != "" {
		return res.StopReason
	}
	return DefaultStopReason
}

// AnthropicMessage renders res as a Messages API response. model is the
// name the client asked for.
func AnthropicMessage(model string, res *providers.Result) Message {
	reason := stopReason(res)
	return Message{
		ID:         messageID(res),
		Type:       "message",
		Role:       "assistant",
		Content:    []ContentBlock{{Type: "text", Text: res.Text}},
		Model:      model,
		StopReason: &reason,
		Usage: MessageUsage{
			InputTokens:  res.PromptTokens,
			OutputTokens: res.CompletionTokens,
		},
	}
}

// WriteAnthropicEmulatedStream replays a complete result as the Messages
// streaming event sequence, with the whole text in a single delta.
func WriteAnthropicEmulatedStream(w *sse.Writer, model string, res *providers.Result) error {
	start := Message{
		ID:      messageID(res),
		Type:    "message",
		Role:    "assistant",
		Content: []ContentBlock{},
		Model:   model,
		Usage:   MessageUsage{InputTokens: res.PromptTokens},
	}

	events := []struct {
		name    string
		payload any
	}{
		{"message_start", map[string]any{"type": "message_start", "message": start}},
		{"content_block_start", map[string]any{
			"type":          "content_block_start",
			"index":         0,
			"content_block": ContentBlock{Type: "text", Text: ""},
		}},
		{"content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": 0,
			"delta": map[string]string{"type": "text_delta", "text": res.Text},
		}},
		{"content_block_stop", map[string]any{"type": "content_block_stop", "index": 0}},
		{"message_delta", map[string]any{
			"type":  "message_delta",
			"delta": map[string]any{"stop_reason": stopReason(res), "stop_sequence": nil},
			"usage": map[string]int{"output_tokens": res.CompletionTokens},
		}},
		{"message_stop", map[string]any{"type": "message_stop"}},
	}

	for _, ev := range events {
		if err := w.Event(ev.name, ev.payload); err != nil {
			return err
		}
	}
	return nil
}

// StreamUsage is what the tee parser saw in a pass-through stream.
type StreamUsage struct {
	ID           string
	InputTokens  int
	OutputTokens int
	StopReason   string
	Text         string
}

const pipeBufferSize = 4096

// PipeAnthropicStream copies upstream SSE bytes to w unchanged, flushing
// after every read, and tallies usage from the events as they pass. It
// closes upstream on return; a cancelled ctx closes it early.
func PipeAnthropicStream(ctx context.Context, w *sse.Writer, upstream io.ReadCloser) (StreamUsage, error) {
	defer upstream.Close()
	stop := context.AfterFunc(ctx, func() { upstream.Close() })
	defer stop()

	var tally usageTally
	var tail frameTail
	buf := make([]byte, pipeBufferSize)
	for {
		n, err := upstream.Read(buf)
		if n > 0 {
			tally.write(buf[:n])
			tail.write(buf[:n])
			if werr := w.Raw(buf[:n]); werr != nil {
				return tally.usage(), werr
			}
		}
		if errors.Is(err, io.EOF) {
			tally.flush()
			return tally.usage(), nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return tally.usage(), ctx.Err()
			}
			if tail.open() {
				w.Raw([]byte("\n\n"))
			}
			w.Event("error", map[string]any{
				"type":  "error",
				"error": map[string]string{"type": "api_error", "message": err.Error()},
			})
			return tally.usage(), err
		}
	}
}

// frameTail remembers the last two bytes relayed so a truncated frame can
// be closed before anything else is written.
type frameTail struct {
	b [2]byte
	n int
}

func (f *frameTail) write(p []byte) {
	if len(p) >= 2 {
		f.b[0], f.b[1] = p[len(p)-2], p[len(p)-1]
		f.n = 2
		return
	}
	f.b[0], f.b[1] = f.b[1], p[0]
	if f.n < 2 {
		f.n++
	}
}

// open reports whether the relayed bytes stop inside a frame.
func (f *frameTail) open() bool {
	return f.n > 0 && !(f.n == 2 && f.b[0] == '\n' && f.b[1] == '\n')
}

// usageTally parses SSE data lines from a byte stream split at arbitrary
// points.
type usageTally struct {
	pending []byte
	u       StreamUsage
	text    strings.Builder
}

type streamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		ID    string        `json:"id"`
		Usage *MessageUsage `json:"usage"`
	} `json:"message"`
	Delta *struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage *struct {
		InputTokens  *int `json:"input_tokens"`
		OutputTokens *int `json:"output_tokens"`
	} `json:"usage"`
}

func (t *usageTally) write(p []byte) {
	t.pending = append(t.pending, p...)
	for {
		i := bytes.IndexByte(t.pending, '\n')
		if i < 0 {
			return
		}
		t.line(t.pending[:i])
		t.pending = t.pending[i+1:]
	}
}

func (t *usageTally) flush() {
	if len(t.pending) > 0 {
		t.line(t.pending)
		t.pending = nil
	}
}

func (t *usageTally) line(raw []byte) {
	raw = bytes.TrimRight(raw, "\r")
	data, ok := bytes.CutPrefix(raw, []byte("data:"))
	if !ok {
		return
	}
	data = bytes.TrimSpace(data)

	var ev streamEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}

	switch ev.Type {
	case "message_start":
		if ev.Message != nil {
			t.u.ID = ev.Message.ID
			if ev.Message.Usage != nil {
				t.u.InputTokens = ev.Message.Usage.InputTokens
				t.u.OutputTokens = ev.Message.Usage.OutputTokens
			}
		}
	case "content_block_delta":
		if ev.Delta != nil && ev.Delta.Type == "text_delta" {
			t.text.WriteString(ev.Delta.Text)
		}
	case "message_delta":
		if ev.Delta != nil && ev.Delta.StopReason != "" {
			t.u.StopReason = ev.Delta.StopReason
		}
		// message_delta usage is cumulative
		if ev.Usage != nil {
			if ev.Usage.OutputTokens != nil {
				t.u.OutputTokens = *ev.Usage.OutputTokens
			}
			if ev.Usage.InputTokens != nil && *ev.Usage.InputTokens > 0 {
				t.u.InputTokens = *ev.Usage.InputTokens
			}
		}
	}
}

func (t *usageTally) usage() StreamUsage {
	u := t.u
	u.Text = t.text.String()
	return u
}
