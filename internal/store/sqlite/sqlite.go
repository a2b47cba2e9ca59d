// Package sqlite implements the store contracts on a local SQLite file for
// standalone (no-Postgres) deployments. Schema is created on open; the
// migrate subcommand only applies to Postgres.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	sqlite "modernc.org/sqlite"

	"github.com/nextlevelbuilder/convogate/internal/store"
)

// SQLite extended result codes for constraint failures.
const (
	codeConstraintUnique     = 2067
	codeConstraintForeignKey = 787
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	customer_id   TEXT PRIMARY KEY,
	messages      TEXT NOT NULL DEFAULT '[]',
	paused        INTEGER NOT NULL DEFAULT 0,
	pause_reason  TEXT,
	pause_owner   TEXT,
	paused_since  TIMESTAMP,
	last_activity TIMESTAMP NOT NULL,
	created_at    TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS leads (
	id         TEXT PRIMARY KEY,
	phone      TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL DEFAULT '',
	email      TEXT NOT NULL DEFAULT '',
	notes      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS companies (
	id         TEXT PRIMARY KEY,
	tax_id     TEXT UNIQUE,
	name       TEXT NOT NULL DEFAULT '',
	segment    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS budgets (
	id           TEXT PRIMARY KEY,
	lead_id      TEXT NOT NULL REFERENCES leads(id),
	description  TEXT NOT NULL DEFAULT '',
	amount_cents INTEGER NOT NULL DEFAULT 0,
	status       TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMP NOT NULL,
	updated_at   TIMESTAMP NOT NULL
);
`

// Open opens (creating if needed) the SQLite database and returns the full
// store set.
func Open(path string) (*store.Stores, *sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY churn under concurrent webhook handling.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("create sqlite schema: %w", err)
	}

	return &store.Stores{
		Conversations: &conversationStore{db: db},
		Leads:         &leadStore{db: db},
		Companies:     &companyStore{db: db},
		Budgets:       &budgetStore{db: db},
	}, db, nil
}

func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, store.ErrNotFound)
	}
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() {
		case codeConstraintUnique:
			return fmt.Errorf("%s: %w", op, store.ErrConflict)
		case codeConstraintForeignKey:
			return fmt.Errorf("%s: %w", op, store.ErrReferenceNotFound)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %v", op, store.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

type conversationStore struct {
	db *sql.DB
}

func (s *conversationStore) Load(ctx context.Context, customerID string) (*store.Conversation, error) {
	var (
		conv     store.Conversation
		msgsJSON []byte
		reason   sql.NullString
		owner    sql.NullString
		since    sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT customer_id, messages, paused, pause_reason, pause_owner, paused_since,
		        last_activity, created_at
		 FROM conversations WHERE customer_id = ?`, customerID,
	).Scan(&conv.CustomerID, &msgsJSON, &conv.Pause.Paused, &reason, &owner, &since,
		&conv.LastActivity, &conv.Created)
	if err != nil {
		return nil, mapErr("load conversation", err)
	}
	if err := json.Unmarshal(msgsJSON, &conv.Messages); err != nil {
		return nil, fmt.Errorf("decode conversation %s messages: %w", customerID, err)
	}
	conv.Pause.Reason = store.PauseReason(reason.String)
	conv.Pause.Owner = owner.String
	if since.Valid {
		conv.Pause.Since = since.Time
	}
	return &conv, nil
}

func (s *conversationStore) Save(ctx context.Context, conv *store.Conversation) error {
	msgsJSON, err := json.Marshal(conv.Messages)
	if err != nil {
		return fmt.Errorf("encode conversation %s messages: %w", conv.CustomerID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations
		   (customer_id, messages, paused, pause_reason, pause_owner, paused_since,
		    last_activity, created_at)
		 VALUES (?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?)
		 ON CONFLICT (customer_id) DO UPDATE SET
		   messages      = excluded.messages,
		   paused        = excluded.paused,
		   pause_reason  = excluded.pause_reason,
		   pause_owner   = excluded.pause_owner,
		   paused_since  = excluded.paused_since,
		   last_activity = excluded.last_activity`,
		conv.CustomerID, msgsJSON, conv.Pause.Paused, string(conv.Pause.Reason),
		conv.Pause.Owner, nullTime(conv.Pause.Since), conv.LastActivity, conv.Created)
	return mapErr("save conversation", err)
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

type leadStore struct {
	db *sql.DB
}

func (s *leadStore) GetByPhone(ctx context.Context, phone string) (*store.Lead, error) {
	return scanLead(s.db.QueryRowContext(ctx,
		`SELECT id, phone, name, email, notes, created_at, updated_at
		 FROM leads WHERE phone = ?`, phone))
}

func (s *leadStore) GetByID(ctx context.Context, id uuid.UUID) (*store.Lead, error) {
	return scanLead(s.db.QueryRowContext(ctx,
		`SELECT id, phone, name, email, notes, created_at, updated_at
		 FROM leads WHERE id = ?`, id.String()))
}

func scanLead(row *sql.Row) (*store.Lead, error) {
	var lead store.Lead
	var id string
	err := row.Scan(&id, &lead.Phone, &lead.Name, &lead.Email, &lead.Notes,
		&lead.Created, &lead.Updated)
	if err != nil {
		return nil, mapErr("get lead", err)
	}
	lead.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse lead id %q: %w", id, err)
	}
	return &lead, nil
}

func (s *leadStore) Insert(ctx context.Context, lead *store.Lead) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO leads (id, phone, name, email, notes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		lead.ID.String(), lead.Phone, lead.Name, lead.Email, lead.Notes,
		lead.Created, lead.Updated)
	return mapErr("insert lead", err)
}

func (s *leadStore) Update(ctx context.Context, lead *store.Lead) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET name = ?, email = ?, notes = ?, updated_at = ? WHERE id = ?`,
		lead.Name, lead.Email, lead.Notes, lead.Updated, lead.ID.String())
	if err != nil {
		return mapErr("update lead", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return mapErr("update lead", sql.ErrNoRows)
	}
	return nil
}

type companyStore struct {
	db *sql.DB
}

func (s *companyStore) GetByTaxID(ctx context.Context, taxID string) (*store.Company, error) {
	var c store.Company
	var id string
	var tax sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tax_id, name, segment, created_at, updated_at
		 FROM companies WHERE tax_id = ?`, taxID,
	).Scan(&id, &tax, &c.Name, &c.Segment, &c.Created, &c.Updated)
	if err != nil {
		return nil, mapErr("get company", err)
	}
	c.TaxID = tax.String
	c.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse company id %q: %w", id, err)
	}
	return &c, nil
}

func (s *companyStore) Insert(ctx context.Context, company *store.Company) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO companies (id, tax_id, name, segment, created_at, updated_at)
		 VALUES (?, NULLIF(?, ''), ?, ?, ?, ?)`,
		company.ID.String(), company.TaxID, company.Name, company.Segment,
		company.Created, company.Updated)
	return mapErr("insert company", err)
}

func (s *companyStore) Update(ctx context.Context, company *store.Company) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE companies SET name = ?, segment = ?, updated_at = ? WHERE id = ?`,
		company.Name, company.Segment, company.Updated, company.ID.String())
	if err != nil {
		return mapErr("update company", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return mapErr("update company", sql.ErrNoRows)
	}
	return nil
}

type budgetStore struct {
	db *sql.DB
}

func (s *budgetStore) Get(ctx context.Context, id uuid.UUID) (*store.Budget, error) {
	var b store.Budget
	var bid, leadID string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, lead_id, description, amount_cents, status, created_at, updated_at
		 FROM budgets WHERE id = ?`, id.String(),
	).Scan(&bid, &leadID, &b.Description, &b.AmountCents, &b.Status, &b.Created, &b.Updated)
	if err != nil {
		return nil, mapErr("get budget", err)
	}
	if b.ID, err = uuid.Parse(bid); err != nil {
		return nil, fmt.Errorf("parse budget id %q: %w", bid, err)
	}
	if b.LeadID, err = uuid.Parse(leadID); err != nil {
		return nil, fmt.Errorf("parse budget lead id %q: %w", leadID, err)
	}
	return &b, nil
}

func (s *budgetStore) Insert(ctx context.Context, budget *store.Budget) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO budgets (id, lead_id, description, amount_cents, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		budget.ID.String(), budget.LeadID.String(), budget.Description,
		budget.AmountCents, budget.Status, budget.Created, budget.Updated)
	return mapErr("insert budget", err)
}

func (s *budgetStore) Update(ctx context.Context, budget *store.Budget) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE budgets SET description = ?, amount_cents = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		budget.Description, budget.AmountCents, budget.Status, budget.Updated,
		budget.ID.String())
	if err != nil {
		return mapErr("update budget", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return mapErr("update budget", sql.ErrNoRows)
	}
	return nil
}
