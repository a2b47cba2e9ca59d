// Package store defines the durable storage contracts for conversations and
// the business entities a conversation touches (leads, companies, budgets),
// plus the error taxonomy the rest of the system branches on.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Storage error taxonomy. Implementations map backend-specific failures onto
// these so callers never inspect driver errors.
var (
	// ErrNotFound: the addressed row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrReferenceNotFound: a write referenced an entity that does not
	// exist (budget without its lead).
	ErrReferenceNotFound = errors.New("referenced entity not found")

	// ErrConflict: a uniqueness constraint fired, usually a racing insert
	// on the same natural key. Callers retry once with a re-fetch.
	ErrConflict = errors.New("conflicting write")

	// ErrUnavailable: the backend is unreachable or timed out. Retryable;
	// never swallowed.
	ErrUnavailable = errors.New("storage unavailable")
)

// Role identifies who authored a conversation message.
type Role string

const (
	RoleCustomer  Role = "customer"
	RoleAutomated Role = "automated"
	RoleHuman     Role = "human"
)

// Message is one entry in a conversation's ordered history.
type Message struct {
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	SenderName string    `json:"sender_name,omitempty"` // human operator name, when Role is human
	At         time.Time `json:"at"`
}

// PauseReason explains why automation is off for a conversation.
type PauseReason string

const (
	ReasonHumanIntervention PauseReason = "human_intervention"
	ReasonManual            PauseReason = "manual"
	ReasonOther             PauseReason = "other"
)

// PauseState is a conversation's automation switch. The zero value means
// active (automation on).
type PauseState struct {
	Paused bool        `json:"paused"`
	Reason PauseReason `json:"reason,omitempty"`
	Owner  string      `json:"owner,omitempty"` // human who took the conversation over
	Since  time.Time   `json:"since,omitzero"`
}

// Conversation is the per-customer state. Keyed by the normalized
// digits-only customer identifier.
type Conversation struct {
	CustomerID   string     `json:"customer_id"`
	Messages     []Message  `json:"messages"`
	Pause        PauseState `json:"pause"`
	LastActivity time.Time  `json:"last_activity"`
	Created      time.Time  `json:"created"`
}

// Lead is a prospective customer, unique per normalized phone.
type Lead struct {
	ID      uuid.UUID `json:"id"`
	Phone   string    `json:"phone"` // digits-only
	Name    string    `json:"name,omitempty"`
	Email   string    `json:"email,omitempty"`
	Notes   string    `json:"notes,omitempty"`
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}

// Company is unique per tax identifier when one is present; companies
// without a tax id have no dedup key and are always created fresh.
type Company struct {
	ID      uuid.UUID `json:"id"`
	TaxID   string    `json:"tax_id,omitempty"` // digits-only, 14 digits when set
	Name    string    `json:"name,omitempty"`
	Segment string    `json:"segment,omitempty"`
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}

// Budget is a quote attached to a lead. Insert fails with
// ErrReferenceNotFound when the lead does not exist.
type Budget struct {
	ID          uuid.UUID `json:"id"`
	LeadID      uuid.UUID `json:"lead_id"`
	Description string    `json:"description,omitempty"`
	AmountCents int64     `json:"amount_cents,omitempty"`
	Status      string    `json:"status,omitempty"`
	Created     time.Time `json:"created"`
	Updated     time.Time `json:"updated"`
}

// ConversationStore persists per-customer conversation state. Save writes
// the whole conversation (messages and pause state) as one unit.
type ConversationStore interface {
	Load(ctx context.Context, customerID string) (*Conversation, error)
	Save(ctx context.Context, conv *Conversation) error
}

// LeadStore persists leads keyed by normalized phone.
type LeadStore interface {
	GetByPhone(ctx context.Context, phone string) (*Lead, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Lead, error)
	Insert(ctx context.Context, lead *Lead) error
	Update(ctx context.Context, lead *Lead) error
}

// CompanyStore persists companies, deduplicated on tax id when present.
type CompanyStore interface {
	GetByTaxID(ctx context.Context, taxID string) (*Company, error)
	Insert(ctx context.Context, company *Company) error
	Update(ctx context.Context, company *Company) error
}

// BudgetStore persists budgets addressed by their own id.
type BudgetStore interface {
	Get(ctx context.Context, id uuid.UUID) (*Budget, error)
	Insert(ctx context.Context, budget *Budget) error
	Update(ctx context.Context, budget *Budget) error
}

// Stores is the top-level container for all storage backends.
type Stores struct {
	Conversations ConversationStore
	Leads         LeadStore
	Companies     CompanyStore
	Budgets       BudgetStore
}

// Config selects and configures a backend.
type Config struct {
	Mode        string // "postgres" or "sqlite"
	PostgresDSN string // from env only, never from the config file
	SQLitePath  string
}
