package auth

import (
	"context"

	"github.com/mrmushfiq/llm0-claude-gateway/internal/shared/models"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const identityKey contextKey = "identity"

// Identity is the resolved caller of a request.
type Identity struct {
	Principal *models.Principal
	Kind      models.CredentialKind
	// Mapped is set when the caller presented an external-format key.
	Mapped bool
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext returns the identity stored by WithIdentity, or nil.
func FromContext(ctx context.Context) *Identity {
	if id, ok := ctx.Value(identityKey).(*Identity); ok {
		return id
	}
	return nil
}
