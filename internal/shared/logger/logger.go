// Package logger builds the process logger: a charmbracelet/log handler
// exposed through log/slog so components only depend on *slog.Logger.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// New returns a logger writing to stderr at the given level ("debug", "info",
// "warn", "error") using a text or json formatter.
func New(level, format string) (*slog.Logger, error) {
	return NewWithWriter(os.Stderr, level, format)
}

// NewWithWriter is New with an explicit output.
func NewWithWriter(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	formatter := log.TextFormatter
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
	case "json":
		formatter = log.JSONFormatter
	case "logfmt":
		formatter = log.LogfmtFormatter
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}

	handler := log.NewWithOptions(w, log.Options{
		Level:           lvl,
		Formatter:       formatter,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
	return slog.New(handler), nil
}

// Discard returns a logger that drops everything; used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseLevel(raw string) (log.Level, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return log.InfoLevel, nil
	}
	lvl, err := log.ParseLevel(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid log level %q", raw)
	}
	return lvl, nil
}
