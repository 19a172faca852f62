// Package normalize reduces OpenAI and Anthropic request bodies to one
// canonical chat request.
package normalize

import (
	"bytes"
	"math"
	"strings"

	"github.com/goccy/go-json"

	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/apierr"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/shared/models"
)

// Roles the provider accepts. Anything else (tool, function, ...) is dropped.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// GreetingMessage is sent when a request carries no messages at all.
const GreetingMessage = "Hello, AI Gateway!"

// Message is one canonical conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the only request shape the provider adapter understands.
type ChatRequest struct {
	Dialect        models.Dialect
	RequestedModel string
	Model          string
	Messages       []Message
	Temperature    *float64
	MaxTokens      *int
	Stream         bool
}

// PromptJSON renders the sanitized messages for the audit column.
func (r *ChatRequest) PromptJSON() string {
	data, err := json.Marshal(r.Messages)
	if err != nil {
		return ""
	}
	return string(data)
}

// Config contains configuration for the normalizer.
type Config struct {
	DefaultModel string
	Resolver     *ModelResolver
}

// Normalizer validates and canonicalizes inbound payloads.
type Normalizer struct {
	defaultModel string
	resolver     *ModelResolver
}

// New creates a normalizer.
func New(cfg Config) *Normalizer {
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = NewModelResolver(nil)
	}
	return &Normalizer{defaultModel: cfg.DefaultModel, resolver: resolver}
}

// Normalize decodes body in dialect d and returns the canonical request.
func (n *Normalizer) Normalize(body []byte, d models.Dialect) (*ChatRequest, *apierr.Error) {
	fields := map[string]json.RawMessage{}
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 {
		if err := json.Unmarshal(trimmed, &fields); err != nil || fields == nil {
			return nil, apierr.InvalidRequest("Request body must be a JSON object")
		}
	}

	fieldErrors := map[string][]string{}
	addErr := func(field, msg string) {
		fieldErrors[field] = append(fieldErrors[field], msg)
	}

	req := &ChatRequest{Dialect: d}

	if raw, ok := present(fields, "model"); ok {
		var model string
		if err := json.Unmarshal(raw, &model); err != nil {
			addErr("model", "Expected string")
		}
		req.RequestedModel = strings.TrimSpace(model)
	}

	if raw, ok := present(fields, "temperature"); ok {
		var temp float64
		switch err := json.Unmarshal(raw, &temp); {
		case err != nil:
			addErr("temperature", "Expected number")
		case temp < 0 || temp > 2:
			addErr("temperature", "Must be between 0 and 2")
		default:
			req.Temperature = &temp
		}
	}

	if raw, ok := present(fields, "max_tokens"); ok {
		var maxTokens float64
		switch err := json.Unmarshal(raw, &maxTokens); {
		case err != nil:
			addErr("max_tokens", "Expected number")
		case maxTokens != math.Trunc(maxTokens) || maxTokens <= 0 || maxTokens > math.MaxInt32:
			addErr("max_tokens", "Must be a positive integer")
		default:
			v := int(maxTokens)
			req.MaxTokens = &v
		}
	}

	if raw, ok := present(fields, "stream"); ok {
		if err := json.Unmarshal(raw, &req.Stream); err != nil {
			addErr("stream", "Expected boolean")
		}
	}

	var rawMessages []any
	if raw, ok := present(fields, "messages"); ok {
		if err := json.Unmarshal(raw, &rawMessages); err != nil {
			addErr("messages", "Expected array")
		}
	}

	var system string
	if d == models.DialectAnthropic {
		if raw, ok := present(fields, "system"); ok {
			var v any
			_ = json.Unmarshal(raw, &v)
			switch v.(type) {
			case string, []any:
				system = contentText(v)
			default:
				addErr("system", "Expected string or array of text blocks")
			}
		}
	}

	if len(fieldErrors) > 0 {
		return nil, apierr.Validation(fieldErrors)
	}

	if req.RequestedModel == "" {
		req.RequestedModel = n.defaultModel
	}
	req.Model = n.resolver.Resolve(req.RequestedModel)

	if len(rawMessages) == 0 {
		req.Messages = []Message{{Role: RoleUser, Content: GreetingMessage}}
	} else {
		req.Messages = Sanitize(rawMessages)
		if len(req.Messages) == 0 {
			return nil, apierr.NoValidMessages()
		}
	}

	if strings.TrimSpace(system) != "" {
		req.Messages = append([]Message{{Role: RoleSystem, Content: system}}, req.Messages...)
	}

	return req, nil
}

// Sanitize flattens nested message arrays and keeps well-formed turns with
// an accepted role and non-null content.
func Sanitize(raw []any) []Message {
	var out []Message
	for _, item := range Flatten(raw) {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		role, _ := obj["role"].(string)
		if !validRole(role) {
			continue
		}
		content, ok := obj["content"]
		if !ok || content == nil {
			continue
		}
		out = append(out, Message{Role: role, Content: contentText(content)})
	}
	return out
}

// Flatten expands nested arrays in place, preserving order.
func Flatten(items []any) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		if nested, ok := item.([]any); ok {
			out = append(out, Flatten(nested)...)
			continue
		}
		out = append(out, item)
	}
	return out
}

func validRole(role string) bool {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// contentText reduces message content to a string. Arrays of parts keep
// text parts and bare strings, joined by newlines.
func contentText(content any) string {
	switch c := content.(type) {
	case string:
		return c
	case []any:
		parts := make([]string, 0, len(c))
		for _, part := range c {
			switch p := part.(type) {
			case string:
				parts = append(parts, p)
			case map[string]any:
				text, isText := p["text"].(string)
				if p["type"] == "text" && isText {
					parts = append(parts, text)
				} else {
					parts = append(parts, "")
				}
			default:
				parts = append(parts, "")
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}

// present returns a field's raw value when it exists and is not null.
func present(fields map[string]json.RawMessage, name string) (json.RawMessage, bool) {
	raw, ok := fields[name]
	if !ok {
		return nil, false
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, false
	}
	return raw, true
}
