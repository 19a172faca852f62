package auth

import (
	"context"

	"github.com/mrmushfiq/llm0-claude-gateway/internal/shared/models"
)

// CredentialStore is the lookup surface the authenticator needs.
// Finders return (nil, nil) when nothing matches.
type CredentialStore interface {
	FindByHash(ctx context.Context, kind models.CredentialKind, hash string) (*models.Principal, error)
	FindMappedCredential(ctx context.Context, externalKey string) (*models.MappedCredential, error)
	TouchLastUsed(ctx context.Context, p *models.Principal) error
}
