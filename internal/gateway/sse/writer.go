// Package sse writes server-sent events to an http.ResponseWriter.
package sse

import (
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
)

// DoneMarker terminates an OpenAI-style stream.
const DoneMarker = "[DONE]"

// Writer emits SSE frames and flushes after each one.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter wraps w. It fails when w cannot flush.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	return &Writer{w: w, flusher: flusher}, nil
}

// SetHeaders sets the event-stream response headers.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Data writes a data-only frame carrying v as JSON.
func (s *Writer) Data(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal sse data: %w", err)
	}
	return s.frame("", payload)
}

// Event writes a named event carrying v as JSON.
func (s *Writer) Event(name string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal sse event %s: %w", name, err)
	}
	return s.frame(name, payload)
}

// Done writes the [DONE] terminator.
func (s *Writer) Done() error {
	return s.frame("", []byte(DoneMarker))
}

// Raw writes p unchanged and flushes.
func (s *Writer) Raw(p []byte) error {
	if _, err := s.w.Write(p); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *Writer) frame(event string, payload []byte) error {
	buf := make([]byte, 0, len(payload)+len(event)+16)
	if event != "" {
		buf = append(buf, "event: "...)
		buf = append(buf, event...)
		buf = append(buf, '\n')
	}
	buf = append(buf, "data: "...)
	buf = append(buf, payload...)
	buf = append(buf, '\n', '\n')
	return s.Raw(buf)
}
