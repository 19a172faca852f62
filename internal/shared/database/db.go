package database

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/shared/models"
)

//go:embed schema.sql
var schema string

// DB is the Postgres-backed credential store and usage ledger
type DB struct {
	conn *sql.DB
}

// New creates a new database connection
func New(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Migrate applies the embedded schema. Safe to run repeatedly.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func keyTable(kind models.CredentialKind) (string, error) {
	switch kind {
	case models.KindSystem:
		return "api_keys", nil
	case models.KindEndUser:
		return "user_api_keys", nil
	default:
		return "", fmt.Errorf("unknown credential kind %q", kind)
	}
}

// FindByHash looks up a credential of the given kind by its salted hash.
// Inactive rows are returned as-is; returns (nil, nil) when nothing matches.
func (db *DB) FindByHash(ctx context.Context, kind models.CredentialKind, hash string) (*models.Principal, error) {
	table, err := keyTable(kind)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, name, is_active, monthly_limit_usd, monthly_token_limit, last_used_at
		FROM ` + table + `
		WHERE key_hash = $1
	`

	p := models.Principal{Kind: kind}
	var lastUsed sql.NullTime
	err = db.conn.QueryRowContext(ctx, query, hash).Scan(
		&p.ID,
		&p.Name,
		&p.IsActive,
		&p.MonthlyLimitUSD,
		&p.MonthlyTokenLimit,
		&lastUsed,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	if lastUsed.Valid {
		p.LastUsedAt = &lastUsed.Time
	}

	return &p, nil
}

// FindMappedCredential resolves an external ecosystem key verbatim.
// Returns (nil, nil) when the key is not mapped.
func (db *DB) FindMappedCredential(ctx context.Context, externalKey string) (*models.MappedCredential, error) {
	query := `
		SELECT external_key, internal_key, created_at
		FROM mapped_credentials
		WHERE external_key = $1
	`

	var m models.MappedCredential
	err := db.conn.QueryRowContext(ctx, query, externalKey).Scan(&m.ExternalKey, &m.InternalKey, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return &m, nil
}

// TouchLastUsed updates the last_used_at timestamp
func (db *DB) TouchLastUsed(ctx context.Context, p *models.Principal) error {
	table, err := keyTable(p.Kind)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx, `UPDATE `+table+` SET last_used_at = NOW() WHERE id = $1`, p.ID)
	return err
}

// Sum aggregates one usage column for a principal over a half-open window
func (db *DB) Sum(ctx context.Context, principalID string, w models.Window, field models.UsageField) (float64, error) {
	var column string
	switch field {
	case models.FieldCostUSD:
		column = "cost_usd"
	case models.FieldTotalTokens:
		column = "total_tokens"
	default:
		return 0, fmt.Errorf("unknown usage field %q", field)
	}

	query := `
		SELECT COALESCE(SUM(` + column + `), 0)
		FROM requests
		WHERE principal_id = $1 AND created_at >= $2 AND created_at < $3
	`

	var total float64
	if err := db.conn.QueryRowContext(ctx, query, principalID, w.Start, w.End).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum %s: %w", column, err)
	}
	return total, nil
}

// Insert appends a usage record
func (db *DB) Insert(ctx context.Context, rec *models.UsageRecord) error {
	query := `
		INSERT INTO requests (
			id, principal_id, principal_kind, requested_model, provider, provider_model,
			endpoint, streamed, prompt_tokens, completion_tokens, total_tokens, cost_usd,
			user_prompt, llm_response, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := db.conn.ExecContext(ctx,
		query,
		rec.ID,
		rec.PrincipalID,
		string(rec.PrincipalKind),
		rec.RequestedModel,
		rec.Provider,
		rec.ProviderModel,
		rec.Endpoint,
		rec.Streamed,
		rec.PromptTokens,
		rec.CompletionTokens,
		rec.TotalTokens,
		rec.CostUSD,
		rec.UserPrompt,
		rec.LLMResponse,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// InsertEndUserRequest appends to the end-user request log
func (db *DB) InsertEndUserRequest(ctx context.Context, req *models.EndUserRequest) error {
	query := `
		INSERT INTO user_requests (user_api_key_id, endpoint, status, cost_usd, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	if _, err := db.conn.ExecContext(ctx, query, req.PrincipalID, req.Endpoint, req.Status, req.CostUSD, createdAt); err != nil {
		return fmt.Errorf("insert user request: %w", err)
	}
	return nil
}

// CreateKey stores a new credential hash and returns its id
func (db *DB) CreateKey(ctx context.Context, kind models.CredentialKind, name, hash, prefix string, monthlyLimitUSD float64) (string, error) {
	table, err := keyTable(kind)
	if err != nil {
		return "", err
	}

	query := `
		INSERT INTO ` + table + ` (name, key_hash, key_prefix, monthly_limit_usd)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	var id string
	if err := db.conn.QueryRowContext(ctx, query, name, hash, prefix, monthlyLimitUSD).Scan(&id); err != nil {
		return "", fmt.Errorf("create %s key: %w", kind, err)
	}
	return id, nil
}

// MapCredential links an external key to an internal gateway key plaintext
func (db *DB) MapCredential(ctx context.Context, externalKey, internalKey string) error {
	query := `
		INSERT INTO mapped_credentials (external_key, internal_key)
		VALUES ($1, $2)
		ON CONFLICT (external_key) DO UPDATE SET internal_key = EXCLUDED.internal_key
	`
	if _, err := db.conn.ExecContext(ctx, query, externalKey, internalKey); err != nil {
		return fmt.Errorf("map credential: %w", err)
	}
	return nil
}
