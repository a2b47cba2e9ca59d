// Package crm implements the idempotent upsert layer for the business
// entities a conversation produces: leads (keyed by normalized phone),
// companies (keyed by tax id when present) and budgets (attached to a lead).
//
// Upserts are partial merges: empty incoming fields never overwrite stored
// values. Writes for the same natural key serialize on a per-key lock, and a
// uniqueness conflict that races past the lock (another process, a second
// replica) is retried once with a re-fetch.
package crm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/convogate/internal/bus"
	"github.com/nextlevelbuilder/convogate/internal/store"
)

const taxIDDigits = 14

// LeadFields are the merge-able lead attributes.
type LeadFields struct {
	Name  string
	Email string
	Notes string
}

// CompanyFields are the merge-able company attributes.
type CompanyFields struct {
	Name    string
	Segment string
}

// BudgetFields are the merge-able budget attributes. ID addresses an
// existing budget; zero means create a new one.
type BudgetFields struct {
	ID          uuid.UUID
	Description string
	AmountCents int64
	Status      string
}

// Service owns entity upserts over the durable stores.
type Service struct {
	leads     store.LeadStore
	companies store.CompanyStore
	budgets   store.BudgetStore

	keyLocks sync.Map // natural key → *sync.Mutex
	now      func() time.Time
}

func NewService(stores *store.Stores) *Service {
	return &Service{
		leads:     stores.Leads,
		companies: stores.Companies,
		budgets:   stores.Budgets,
		now:       time.Now,
	}
}

func (s *Service) lock(key string) func() {
	v, _ := s.keyLocks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// UpsertLead creates or partially updates the lead for a phone number.
// Calling it any number of times with the same phone yields exactly one lead.
func (s *Service) UpsertLead(ctx context.Context, phone string, fields LeadFields) (*store.Lead, error) {
	normalized, err := bus.NormalizeCustomerID(phone)
	if err != nil {
		return nil, err
	}
	defer s.lock("lead:" + normalized)()

	existing, err := s.leads.GetByPhone(ctx, normalized)
	switch {
	case err == nil:
		return s.mergeLead(ctx, existing, fields)
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, err
	}

	now := s.now()
	lead := &store.Lead{
		ID:      uuid.Must(uuid.NewV7()),
		Phone:   normalized,
		Name:    fields.Name,
		Email:   fields.Email,
		Notes:   fields.Notes,
		Created: now,
		Updated: now,
	}
	err = s.leads.Insert(ctx, lead)
	if errors.Is(err, store.ErrConflict) {
		// Lost an insert race to another writer: fall back to merge.
		slog.Debug("lead insert raced, merging", "phone", normalized)
		existing, err := s.leads.GetByPhone(ctx, normalized)
		if err != nil {
			return nil, fmt.Errorf("refetch lead after conflict: %w", err)
		}
		return s.mergeLead(ctx, existing, fields)
	}
	if err != nil {
		return nil, err
	}
	return lead, nil
}

func (s *Service) mergeLead(ctx context.Context, lead *store.Lead, fields LeadFields) (*store.Lead, error) {
	changed := false
	if fields.Name != "" && fields.Name != lead.Name {
		lead.Name = fields.Name
		changed = true
	}
	if fields.Email != "" && fields.Email != lead.Email {
		lead.Email = fields.Email
		changed = true
	}
	if fields.Notes != "" && fields.Notes != lead.Notes {
		lead.Notes = fields.Notes
		changed = true
	}
	if !changed {
		return lead, nil
	}
	lead.Updated = s.now()
	if err := s.leads.Update(ctx, lead); err != nil {
		return nil, err
	}
	return lead, nil
}

// UpsertCompany creates or partially updates a company. When taxID is
// non-empty it is validated and used as the dedup key; without one there is
// nothing to deduplicate on and a fresh company is always created.
func (s *Service) UpsertCompany(ctx context.Context, taxID string, fields CompanyFields) (*store.Company, error) {
	normalized, err := NormalizeTaxID(taxID)
	if err != nil {
		return nil, err
	}

	if normalized == "" {
		now := s.now()
		company := &store.Company{
			ID:      uuid.Must(uuid.NewV7()),
			Name:    fields.Name,
			Segment: fields.Segment,
			Created: now,
			Updated: now,
		}
		if err := s.companies.Insert(ctx, company); err != nil {
			return nil, err
		}
		return company, nil
	}

	defer s.lock("company:" + normalized)()

	existing, err := s.companies.GetByTaxID(ctx, normalized)
	switch {
	case err == nil:
		return s.mergeCompany(ctx, existing, fields)
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, err
	}

	now := s.now()
	company := &store.Company{
		ID:      uuid.Must(uuid.NewV7()),
		TaxID:   normalized,
		Name:    fields.Name,
		Segment: fields.Segment,
		Created: now,
		Updated: now,
	}
	err = s.companies.Insert(ctx, company)
	if errors.Is(err, store.ErrConflict) {
		slog.Debug("company insert raced, merging", "tax_id", normalized)
		existing, err := s.companies.GetByTaxID(ctx, normalized)
		if err != nil {
			return nil, fmt.Errorf("refetch company after conflict: %w", err)
		}
		return s.mergeCompany(ctx, existing, fields)
	}
	if err != nil {
		return nil, err
	}
	return company, nil
}

func (s *Service) mergeCompany(ctx context.Context, company *store.Company, fields CompanyFields) (*store.Company, error) {
	changed := false
	if fields.Name != "" && fields.Name != company.Name {
		company.Name = fields.Name
		changed = true
	}
	if fields.Segment != "" && fields.Segment != company.Segment {
		company.Segment = fields.Segment
		changed = true
	}
	if !changed {
		return company, nil
	}
	company.Updated = s.now()
	if err := s.companies.Update(ctx, company); err != nil {
		return nil, err
	}
	return company, nil
}

// CreateOrUpdateBudget attaches a budget to an existing lead. A leadID with
// no matching lead yields store.ErrReferenceNotFound and nothing is written.
func (s *Service) CreateOrUpdateBudget(ctx context.Context, leadID uuid.UUID, fields BudgetFields) (*store.Budget, error) {
	if _, err := s.leads.GetByID(ctx, leadID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("budget lead %s: %w", leadID, store.ErrReferenceNotFound)
		}
		return nil, err
	}

	if fields.ID != uuid.Nil {
		existing, err := s.budgets.Get(ctx, fields.ID)
		if err != nil {
			return nil, err
		}
		if fields.Description != "" {
			existing.Description = fields.Description
		}
		if fields.AmountCents != 0 {
			existing.AmountCents = fields.AmountCents
		}
		if fields.Status != "" {
			existing.Status = fields.Status
		}
		existing.Updated = s.now()
		if err := s.budgets.Update(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	now := s.now()
	budget := &store.Budget{
		ID:          uuid.Must(uuid.NewV7()),
		LeadID:      leadID,
		Description: fields.Description,
		AmountCents: fields.AmountCents,
		Status:      fields.Status,
		Created:     now,
		Updated:     now,
	}
	if err := s.budgets.Insert(ctx, budget); err != nil {
		return nil, err
	}
	return budget, nil
}

// NormalizeTaxID strips punctuation from a tax identifier and validates the
// digit count. Empty input is valid and stays empty (no dedup key).
func NormalizeTaxID(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	id := b.String()
	if len(id) != taxIDDigits {
		return "", fmt.Errorf("%w: tax id %q must have %d digits", bus.ErrValidation, raw, taxIDDigits)
	}
	return id, nil
}
