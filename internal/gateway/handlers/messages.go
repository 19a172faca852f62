package handlers

import (
	"net/http"
	"time"

	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/apierr"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/auth"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/metrics"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/normalize"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/providers"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/sse"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/translate"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/shared/models"
)

// HandleMessages handles POST /v1/messages and POST /messages
func (h *ChatHandler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	const d = models.DialectAnthropic

	id, req, ok := h.prepare(w, r, d)
	if !ok {
		return
	}

	res, err := h.provider.Complete(r.Context(), req)
	if err != nil {
		h.logger.Warn("provider call failed", "error", err, "key_id", id.Principal.ID, "model", req.Model)
		apierr.Write(w, d, err)
		return
	}

	if res.Stream != nil {
		h.pipeStream(w, r, id, req, res)
		return
	}

	status := "success"
	if translate.IsDegraded(res) {
		metrics.DegradedResponsesTotal.WithLabelValues(d.String()).Inc()
		h.logger.Warn("empty provider response", "key_id", id.Principal.ID, "mapped", id.Mapped, "model", req.Model)
		status = "error"
	}
	h.record(r, id, req, res, res.Text, status)

	if req.Stream {
		sse.SetHeaders(w.Header())
		stream, err := sse.NewWriter(w)
		if err != nil {
			apierr.Write(w, d, apierr.Internal(err.Error()))
			return
		}
		if err := translate.WriteAnthropicEmulatedStream(stream, req.RequestedModel, res); err != nil {
			h.logger.Warn("stream write failed", "error", err, "key_id", id.Principal.ID)
		}
		return
	}

	writeJSON(w, http.StatusOK, translate.AnthropicMessage(req.RequestedModel, res))
}

// pipeStream relays an upstream event stream and records the usage it saw.
func (h *ChatHandler) pipeStream(w http.ResponseWriter, r *http.Request, id *auth.Identity, req *normalize.ChatRequest, res *providers.Result) {
	sse.SetHeaders(w.Header())
	stream, err := sse.NewWriter(w)
	if err != nil {
		res.Stream.Close()
		apierr.Write(w, models.DialectAnthropic, apierr.Internal(err.Error()))
		return
	}

	metrics.StreamingConnections.Inc()
	defer metrics.StreamingConnections.Dec()

	startTime := time.Now()
	usage, err := translate.PipeAnthropicStream(r.Context(), stream, res.Stream)
	metrics.UpstreamLatency.WithLabelValues(res.ProviderModel, "stream").Observe(time.Since(startTime).Seconds())

	status := "success"
	if err != nil {
		status = "error"
		h.logger.Warn("stream relay ended early", "error", err, "key_id", id.Principal.ID, "model", res.ProviderModel)
	}

	h.recordUsage(r, id, req, res.Provider, res.ProviderModel, usage.InputTokens, usage.OutputTokens, usage.Text, status)
}
