package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/apierr"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/auth"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/metrics"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/normalize"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/providers"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/sse"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/translate"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/shared/models"
)

// UsageRecorder persists accounting rows off the response path.
type UsageRecorder interface {
	Record(rec *models.UsageRecord, endUser *models.EndUserRequest)
}

// ChatHandlerConfig contains the collaborators of the chat endpoints.
type ChatHandlerConfig struct {
	Normalizer   *normalize.Normalizer
	Provider     providers.Completer
	Recorder     UsageRecorder
	Logger       *slog.Logger
	StorePrompts bool
	// Now defaults to time.Now.
	Now func() time.Time
}

// ChatHandler serves both chat dialects through one pipeline.
type ChatHandler struct {
	normalizer   *normalize.Normalizer
	provider     providers.Completer
	recorder     UsageRecorder
	logger       *slog.Logger
	storePrompts bool
	now          func() time.Time
}

// NewChatHandler creates a chat handler.
func NewChatHandler(cfg ChatHandlerConfig) *ChatHandler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &ChatHandler{
		normalizer:   cfg.Normalizer,
		provider:     cfg.Provider,
		recorder:     cfg.Recorder,
		logger:       cfg.Logger,
		storePrompts: cfg.StorePrompts,
		now:          now,
	}
}

// HandleChatCompletion handles POST /v1/chat/completions
func (h *ChatHandler) HandleChatCompletion(w http.ResponseWriter, r *http.Request) {
	const d = models.DialectOpenAI
	startTime := time.Now()

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

	degraded := translate.IsDegraded(res)
	var cost float64
	if degraded {
		metrics.DegradedResponsesTotal.WithLabelValues(d.String()).Inc()
		h.logger.Warn("empty provider response", "key_id", id.Principal.ID, "mapped", id.Mapped, "model", req.Model)
		h.record(r, id, req, res, translate.DegradedContent, "error")
	} else {
		cost = h.record(r, id, req, res, res.Text, "success")
	}

	if req.Stream {
		sse.SetHeaders(w.Header())
		stream, err := sse.NewWriter(w)
		if err != nil {
			apierr.Write(w, d, apierr.Internal(err.Error()))
			return
		}
		if degraded {
			err = translate.WriteDegradedOpenAIStream(stream, req.RequestedModel, h.now())
		} else {
			err = translate.WriteOpenAIStream(stream, req.RequestedModel, res, h.now())
		}
		if err != nil {
			h.logger.Warn("stream write failed", "error", err, "key_id", id.Principal.ID)
		}
		return
	}

	if degraded {
		writeJSON(w, http.StatusOK, translate.DegradedCompletion(req.RequestedModel, h.now()))
		return
	}

	w.Header().Set("X-Cost-USD", fmt.Sprintf("%.6f", cost))
	w.Header().Set("X-Provider", res.Provider)
	w.Header().Set("X-Latency-Ms", fmt.Sprintf("%d", time.Since(startTime).Milliseconds()))
	writeJSON(w, http.StatusOK, translate.OpenAICompletion(req.RequestedModel, res, h.now()))
}

// prepare reads and normalizes the body. It writes the error response and
// returns false when the request cannot proceed.
func (h *ChatHandler) prepare(w http.ResponseWriter, r *http.Request, d models.Dialect) (*auth.Identity, *normalize.ChatRequest, bool) {
	id := auth.FromContext(r.Context())
	if id == nil {
		apierr.Write(w, d, apierr.Unauthenticated("Missing API key"))
		return nil, nil, false
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierr.Write(w, d, apierr.RequestTooLarge(tooLarge.Limit))
			return nil, nil, false
		}
		apierr.Write(w, d, apierr.InvalidRequest("Failed to read request body"))
		return nil, nil, false
	}

	req, apiErr := h.normalizer.Normalize(body, d)
	if apiErr != nil {
		apierr.Write(w, d, apiErr)
		return nil, nil, false
	}
	return id, req, true
}

// record schedules the usage row for a completed call and returns its cost.
func (h *ChatHandler) record(r *http.Request, id *auth.Identity, req *normalize.ChatRequest, res *providers.Result, responseText, status string) float64 {
	provider, providerModel := providers.ProviderAnthropic, req.Model
	var promptTokens, completionTokens int
	if res != nil {
		if res.Provider != "" {
			provider = res.Provider
		}
		if res.ProviderModel != "" {
			providerModel = res.ProviderModel
		}
		promptTokens, completionTokens = res.PromptTokens, res.CompletionTokens
	}
	return h.recordUsage(r, id, req, provider, providerModel, promptTokens, completionTokens, responseText, status)
}

func (h *ChatHandler) recordUsage(r *http.Request, id *auth.Identity, req *normalize.ChatRequest, provider, providerModel string, promptTokens, completionTokens int, responseText, status string) float64 {
	now := h.now().UTC()
	cost := providers.EstimateCostUSD(providerModel, promptTokens, completionTokens)

	rec := &models.UsageRecord{
		ID:               uuid.NewString(),
		PrincipalID:      id.Principal.ID,
		PrincipalKind:    id.Kind,
		RequestedModel:   req.RequestedModel,
		Provider:         provider,
		ProviderModel:    providerModel,
		Endpoint:         r.URL.Path,
		Streamed:         req.Stream,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
		CostUSD:          cost,
		CreatedAt:        now,
	}
	if h.storePrompts {
		prompt := req.PromptJSON()
		rec.UserPrompt = &prompt
		rec.LLMResponse = &responseText
	}

	metrics.TokensTotal.WithLabelValues(providerModel, "input").Add(float64(promptTokens))
	metrics.TokensTotal.WithLabelValues(providerModel, "output").Add(float64(completionTokens))
	metrics.CostUSDTotal.WithLabelValues(providerModel).Add(cost)

	h.recorder.Record(rec, &models.EndUserRequest{
		PrincipalID: id.Principal.ID,
		Endpoint:    r.URL.Path,
		Status:      status,
		CostUSD:     cost,
		CreatedAt:   now,
	})
	return cost
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
