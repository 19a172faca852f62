package models

import "time"

// CredentialKind distinguishes system-issued gateway keys from end-user keys.
type CredentialKind string

const (
	KindSystem  CredentialKind = "gateway"
	KindEndUser CredentialKind = "user"
)

// Principal is the identity a request is attributed to for quota and accounting
type Principal struct {
	ID                string
	Name              string
	Kind              CredentialKind
	IsActive          bool
	MonthlyLimitUSD   float64 // 0 = system default
	MonthlyTokenLimit int64   // 0 = unlimited
	LastUsedAt        *time.Time
}

// MappedCredential links an external ecosystem key to a gateway key plaintext
type MappedCredential struct {
	ExternalKey string
	InternalKey string
	CreatedAt   time.Time
}

// UsageRecord is one accounting row, written once per completed request
type UsageRecord struct {
	ID               string
	PrincipalID      string
	PrincipalKind    CredentialKind
	RequestedModel   string
	Provider         string
	ProviderModel    string
	Endpoint         string
	Streamed         bool
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	CostUSD          float64
	UserPrompt       *string
	LLMResponse      *string
	CreatedAt        time.Time
}

// EndUserRequest is the secondary log row kept for end-user principals
type EndUserRequest struct {
	PrincipalID string
	Endpoint    string
	Status      string
	CostUSD     float64
	CreatedAt   time.Time
}

// UsageField names an aggregatable usage column
type UsageField string

const (
	FieldCostUSD     UsageField = "cost_usd"
	FieldTotalTokens UsageField = "total_tokens"
)

// Window is a half-open time range [Start, End)
type Window struct {
	Start time.Time
	End   time.Time
}

// Dialect is the wire format a client speaks
type Dialect int

const (
	DialectOpenAI Dialect = iota
	DialectAnthropic
)

func (d Dialect) String() string {
	if d == DialectAnthropic {
		return "anthropic"
	}
	return "openai"
}
