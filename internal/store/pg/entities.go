package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/convogate/internal/store"
)

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// LeadStore persists leads. The leads table carries a unique index on phone;
// racing inserts for the same phone surface as store.ErrConflict and the CRM
// layer retries with a re-fetch.
type LeadStore struct {
	db *sql.DB
}

func NewLeadStore(db *sql.DB) *LeadStore {
	return &LeadStore{db: db}
}

func (s *LeadStore) GetByPhone(ctx context.Context, phone string) (*store.Lead, error) {
	return s.scanLead(s.db.QueryRowContext(ctx,
		`SELECT id, phone, name, email, notes, created_at, updated_at
		 FROM leads WHERE phone = $1`, phone))
}

func (s *LeadStore) GetByID(ctx context.Context, id uuid.UUID) (*store.Lead, error) {
	return s.scanLead(s.db.QueryRowContext(ctx,
		`SELECT id, phone, name, email, notes, created_at, updated_at
		 FROM leads WHERE id = $1`, id))
}

func (s *LeadStore) scanLead(row *sql.Row) (*store.Lead, error) {
	var lead store.Lead
	err := row.Scan(&lead.ID, &lead.Phone, &lead.Name, &lead.Email, &lead.Notes,
		&lead.Created, &lead.Updated)
	if err != nil {
		return nil, mapErr("get lead", err)
	}
	return &lead, nil
}

func (s *LeadStore) Insert(ctx context.Context, lead *store.Lead) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO leads (id, phone, name, email, notes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		lead.ID, lead.Phone, lead.Name, lead.Email, lead.Notes, lead.Created, lead.Updated)
	return mapErr("insert lead", err)
}

func (s *LeadStore) Update(ctx context.Context, lead *store.Lead) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET name = $2, email = $3, notes = $4, updated_at = $5
		 WHERE id = $1`,
		lead.ID, lead.Name, lead.Email, lead.Notes, lead.Updated)
	if err != nil {
		return mapErr("update lead", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return mapErr("update lead", sql.ErrNoRows)
	}
	return nil
}

// CompanyStore persists companies. tax_id has a partial unique index
// (WHERE tax_id IS NOT NULL); rows without a tax id never collide.
type CompanyStore struct {
	db *sql.DB
}

func NewCompanyStore(db *sql.DB) *CompanyStore {
	return &CompanyStore{db: db}
}

func (s *CompanyStore) GetByTaxID(ctx context.Context, taxID string) (*store.Company, error) {
	var c store.Company
	var tax sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tax_id, name, segment, created_at, updated_at
		 FROM companies WHERE tax_id = $1`, taxID,
	).Scan(&c.ID, &tax, &c.Name, &c.Segment, &c.Created, &c.Updated)
	if err != nil {
		return nil, mapErr("get company", err)
	}
	c.TaxID = tax.String
	return &c, nil
}

func (s *CompanyStore) Insert(ctx context.Context, company *store.Company) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO companies (id, tax_id, name, segment, created_at, updated_at)
		 VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6)`,
		company.ID, company.TaxID, company.Name, company.Segment,
		company.Created, company.Updated)
	return mapErr("insert company", err)
}

func (s *CompanyStore) Update(ctx context.Context, company *store.Company) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE companies SET name = $2, segment = $3, updated_at = $4
		 WHERE id = $1`,
		company.ID, company.Name, company.Segment, company.Updated)
	if err != nil {
		return mapErr("update company", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return mapErr("update company", sql.ErrNoRows)
	}
	return nil
}

// BudgetStore persists budgets. The lead_id foreign key makes the database
// the last line of defense for budget-without-lead writes; the violation is
// mapped to store.ErrReferenceNotFound.
type BudgetStore struct {
	db *sql.DB
}

func NewBudgetStore(db *sql.DB) *BudgetStore {
	return &BudgetStore{db: db}
}

func (s *BudgetStore) Get(ctx context.Context, id uuid.UUID) (*store.Budget, error) {
	var b store.Budget
	err := s.db.QueryRowContext(ctx,
		`SELECT id, lead_id, description, amount_cents, status, created_at, updated_at
		 FROM budgets WHERE id = $1`, id,
	).Scan(&b.ID, &b.LeadID, &b.Description, &b.AmountCents, &b.Status,
		&b.Created, &b.Updated)
	if err != nil {
		return nil, mapErr("get budget", err)
	}
	return &b, nil
}

func (s *BudgetStore) Insert(ctx context.Context, budget *store.Budget) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO budgets (id, lead_id, description, amount_cents, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		budget.ID, budget.LeadID, budget.Description, budget.AmountCents,
		budget.Status, budget.Created, budget.Updated)
	return mapErr("insert budget", err)
}

func (s *BudgetStore) Update(ctx context.Context, budget *store.Budget) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE budgets SET description = $2, amount_cents = $3, status = $4, updated_at = $5
		 WHERE id = $1`,
		budget.ID, budget.Description, budget.AmountCents, budget.Status, budget.Updated)
	if err != nil {
		return mapErr("update budget", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return mapErr("update budget", sql.ErrNoRows)
	}
	return nil
}
