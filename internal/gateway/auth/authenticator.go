// Package auth resolves inbound credentials to principals.
package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/apierr"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/metrics"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/shared/models"
)

const touchTimeout = 5 * time.Second

// Config contains configuration for the authenticator.
type Config struct {
	Store  CredentialStore
	Logger *slog.Logger
	// Salt is required; config.Load refuses to start without it.
	Salt string
	// ExternalPrefixes mark x-api-key values that must go through the
	// mapped credential table.
	ExternalPrefixes []string
}

// Authenticator resolves request headers to an Identity.
type Authenticator struct {
	store            CredentialStore
	logger           *slog.Logger
	salt             string
	externalPrefixes []string
}

// New creates an authenticator.
func New(cfg Config) *Authenticator {
	return &Authenticator{
		store:            cfg.Store,
		logger:           cfg.Logger,
		salt:             cfg.Salt,
		externalPrefixes: cfg.ExternalPrefixes,
	}
}

// Authenticate returns the caller's identity or the failure to send back.
func (a *Authenticator) Authenticate(ctx context.Context, h http.Header) (*Identity, *apierr.Error) {
	token, fromAPIKeyHeader := credentialFromHeaders(h)
	if token == "" {
		metrics.AuthFailuresTotal.WithLabelValues("missing").Inc()
		return nil, apierr.Unauthenticated("Missing Bearer token")
	}

	mapped := false
	if fromAPIKeyHeader && a.isExternal(token) {
		m, err := a.store.FindMappedCredential(ctx, token)
		if err != nil {
			a.logger.Error("failed to lookup mapped credential", "error", err)
			return nil, apierr.Internal("credential lookup failed")
		}
		if m == nil {
			metrics.AuthFailuresTotal.WithLabelValues("unmapped").Inc()
			return nil, apierr.UnmappedExternalKey()
		}
		token = m.InternalKey
		mapped = true
	}

	hash := HashKey(a.salt, token)

	for _, kind := range []models.CredentialKind{models.KindSystem, models.KindEndUser} {
		p, err := a.store.FindByHash(ctx, kind, hash)
		if err != nil {
			a.logger.Error("failed to lookup api key", "error", err, "kind", kind)
			return nil, apierr.Internal("credential lookup failed")
		}
		if p == nil || !p.IsActive {
			continue
		}

		a.touch(p)
		return &Identity{Principal: p, Kind: kind, Mapped: mapped}, nil
	}

	metrics.AuthFailuresTotal.WithLabelValues("invalid").Inc()
	return nil, apierr.Forbidden("Invalid or disabled API key")
}

// touch updates last_used_at without holding up the request.
func (a *Authenticator) touch(p *models.Principal) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		defer cancel()
		if err := a.store.TouchLastUsed(ctx, p); err != nil {
			metrics.TouchFailuresTotal.Inc()
			a.logger.Warn("failed to update last_used_at", "error", err, "key_id", p.ID)
		}
	}()
}

func (a *Authenticator) isExternal(token string) bool {
	for _, prefix := range a.externalPrefixes {
		if prefix != "" && strings.HasPrefix(token, prefix) {
			return true
		}
	}
	return false
}

// credentialFromHeaders prefers "Authorization: Bearer" over x-api-key.
// The second result reports whether the value came from x-api-key.
func credentialFromHeaders(h http.Header) (string, bool) {
	if token := bearerToken(h.Get("Authorization")); token != "" {
		return token, false
	}
	if key := strings.TrimSpace(h.Get("x-api-key")); key != "" {
		return key, true
	}
	return "", false
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
