// Package memory implements the store contracts with plain in-process maps.
// Used by tests and by `doctor` dry runs; not durable.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/convogate/internal/store"
)

// New returns a complete set of in-memory stores.
func New() *store.Stores {
	leads := &leadStore{byPhone: make(map[string]*store.Lead), byID: make(map[uuid.UUID]*store.Lead)}
	return &store.Stores{
		Conversations: &conversationStore{data: make(map[string]*store.Conversation)},
		Leads:         leads,
		Companies:     &companyStore{byTaxID: make(map[string]*store.Company), all: make(map[uuid.UUID]*store.Company)},
		Budgets:       &budgetStore{data: make(map[uuid.UUID]*store.Budget), leads: leads},
	}
}

type conversationStore struct {
	mu   sync.RWMutex
	data map[string]*store.Conversation
}

func (s *conversationStore) Load(_ context.Context, customerID string) (*store.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.data[customerID]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", customerID, store.ErrNotFound)
	}
	return copyConversation(conv), nil
}

func (s *conversationStore) Save(_ context.Context, conv *store.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[conv.CustomerID] = copyConversation(conv)
	return nil
}

func copyConversation(c *store.Conversation) *store.Conversation {
	cp := *c
	cp.Messages = make([]store.Message, len(c.Messages))
	copy(cp.Messages, c.Messages)
	return &cp
}

type leadStore struct {
	mu      sync.RWMutex
	byPhone map[string]*store.Lead
	byID    map[uuid.UUID]*store.Lead
}

func (s *leadStore) GetByPhone(_ context.Context, phone string) (*store.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lead, ok := s.byPhone[phone]
	if !ok {
		return nil, fmt.Errorf("lead phone %s: %w", phone, store.ErrNotFound)
	}
	cp := *lead
	return &cp, nil
}

func (s *leadStore) GetByID(_ context.Context, id uuid.UUID) (*store.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lead, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("lead %s: %w", id, store.ErrNotFound)
	}
	cp := *lead
	return &cp, nil
}

func (s *leadStore) Insert(_ context.Context, lead *store.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byPhone[lead.Phone]; exists {
		return fmt.Errorf("lead phone %s: %w", lead.Phone, store.ErrConflict)
	}
	cp := *lead
	s.byPhone[lead.Phone] = &cp
	s.byID[lead.ID] = &cp
	return nil
}

func (s *leadStore) Update(_ context.Context, lead *store.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[lead.ID]; !ok {
		return fmt.Errorf("lead %s: %w", lead.ID, store.ErrNotFound)
	}
	cp := *lead
	s.byPhone[lead.Phone] = &cp
	s.byID[lead.ID] = &cp
	return nil
}

type companyStore struct {
	mu      sync.RWMutex
	byTaxID map[string]*store.Company
	all     map[uuid.UUID]*store.Company
}

func (s *companyStore) GetByTaxID(_ context.Context, taxID string) (*store.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byTaxID[taxID]
	if !ok {
		return nil, fmt.Errorf("company tax id %s: %w", taxID, store.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *companyStore) Insert(_ context.Context, company *store.Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if company.TaxID != "" {
		if _, exists := s.byTaxID[company.TaxID]; exists {
			return fmt.Errorf("company tax id %s: %w", company.TaxID, store.ErrConflict)
		}
	}
	cp := *company
	s.all[company.ID] = &cp
	if company.TaxID != "" {
		s.byTaxID[company.TaxID] = &cp
	}
	return nil
}

func (s *companyStore) Update(_ context.Context, company *store.Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.all[company.ID]; !ok {
		return fmt.Errorf("company %s: %w", company.ID, store.ErrNotFound)
	}
	cp := *company
	s.all[company.ID] = &cp
	if company.TaxID != "" {
		s.byTaxID[company.TaxID] = &cp
	}
	return nil
}

type budgetStore struct {
	mu   sync.RWMutex
	data map[uuid.UUID]*store.Budget

	// leads lets Insert enforce the lead foreign key the way the SQL
	// backends do. Wired by New via the sibling store.
	leads *leadStore
}

func (s *budgetStore) Get(_ context.Context, id uuid.UUID) (*store.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[id]
	if !ok {
		return nil, fmt.Errorf("budget %s: %w", id, store.ErrNotFound)
	}
	cp := *b
	return &cp, nil
}

func (s *budgetStore) Insert(_ context.Context, budget *store.Budget) error {
	if s.leads != nil {
		s.leads.mu.RLock()
		_, ok := s.leads.byID[budget.LeadID]
		s.leads.mu.RUnlock()
		if !ok {
			return fmt.Errorf("budget lead %s: %w", budget.LeadID, store.ErrReferenceNotFound)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *budget
	s.data[budget.ID] = &cp
	return nil
}

func (s *budgetStore) Update(_ context.Context, budget *store.Budget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[budget.ID]; !ok {
		return fmt.Errorf("budget %s: %w", budget.ID, store.ErrNotFound)
	}
	cp := *budget
	s.data[budget.ID] = &cp
	return nil
}
