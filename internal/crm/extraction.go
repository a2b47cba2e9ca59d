package crm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/convogate/internal/store"
)

// Extraction carries structured entity data pulled out of a responder reply
// or out of structured webhook fields. Empty sections are skipped.
type Extraction struct {
	LeadName  string `json:"lead_name,omitempty"`
	LeadEmail string `json:"lead_email,omitempty"`
	LeadNotes string `json:"lead_notes,omitempty"`

	CompanyTaxID   string `json:"company_tax_id,omitempty"`
	CompanyName    string `json:"company_name,omitempty"`
	CompanySegment string `json:"company_segment,omitempty"`

	BudgetDescription string `json:"budget_description,omitempty"`
	BudgetAmountCents int64  `json:"budget_amount_cents,omitempty"`
	BudgetStatus      string `json:"budget_status,omitempty"`
}

// Empty reports whether the extraction carries nothing to persist.
func (e *Extraction) Empty() bool {
	return e == nil || *e == Extraction{}
}

func (e *Extraction) hasLead() bool {
	return e.LeadName != "" || e.LeadEmail != "" || e.LeadNotes != ""
}

func (e *Extraction) hasCompany() bool {
	return e.CompanyTaxID != "" || e.CompanyName != "" || e.CompanySegment != ""
}

func (e *Extraction) hasBudget() bool {
	return e.BudgetDescription != "" || e.BudgetAmountCents != 0 || e.BudgetStatus != ""
}

// Apply upserts the entities present in the extraction, always ensuring a
// lead exists for the phone first (the budget needs it). Partial failures
// are returned but later sections still run; the caller decides whether they
// are fatal for the event.
func (s *Service) Apply(ctx context.Context, phone string, e *Extraction) error {
	if e.Empty() {
		return nil
	}

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	var lead *store.Lead
	if e.hasLead() || e.hasBudget() {
		var err error
		lead, err = s.UpsertLead(ctx, phone, LeadFields{
			Name:  e.LeadName,
			Email: e.LeadEmail,
			Notes: e.LeadNotes,
		})
		if err != nil {
			slog.Warn("lead upsert failed", "phone", phone, "error", err)
			keep(err)
		}
	}

	if e.hasCompany() {
		if _, err := s.UpsertCompany(ctx, e.CompanyTaxID, CompanyFields{
			Name:    e.CompanyName,
			Segment: e.CompanySegment,
		}); err != nil {
			slog.Warn("company upsert failed", "phone", phone, "error", err)
			keep(err)
		}
	}

	if e.hasBudget() {
		if lead == nil {
			keep(fmt.Errorf("budget skipped: no lead for %s", phone))
		} else if _, err := s.CreateOrUpdateBudget(ctx, lead.ID, BudgetFields{
			Description: e.BudgetDescription,
			AmountCents: e.BudgetAmountCents,
			Status:      e.BudgetStatus,
		}); err != nil {
			slog.Warn("budget write failed", "phone", phone, "error", err)
			keep(err)
		}
	}

	return firstErr
}
