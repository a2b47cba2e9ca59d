// Package convo owns per-customer conversation state: an in-process cache in
// front of the durable store, per-customer serialization, and the
// pause/resume transition function.
package convo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nextlevelbuilder/convogate/internal/store"
)

// Manager caches conversations and funnels all mutation through a
// write-through commit: the durable save happens first and the cache is only
// updated when it succeeds, so a failed write fails the event instead of
// leaving memory ahead of disk.
type Manager struct {
	durable store.ConversationStore

	mu    sync.RWMutex
	cache map[string]*store.Conversation

	locks sync.Map // customerID → *sync.Mutex

	// maxHistory caps stored messages per conversation (0 = unlimited).
	maxHistory int
	now        func() time.Time
}

func NewManager(durable store.ConversationStore, maxHistory int) *Manager {
	return &Manager{
		durable:    durable,
		cache:      make(map[string]*store.Conversation),
		maxHistory: maxHistory,
		now:        time.Now,
	}
}

// Lock serializes all mutation for one customer. Returns the unlock func.
// Different customers lock independently and run fully in parallel.
func (m *Manager) Lock(customerID string) func() {
	v, _ := m.locks.LoadOrStore(customerID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// GetOrLoad returns a mutable copy of the conversation, hydrating the cache
// from the durable store on first touch. A customer never seen before gets a
// fresh active conversation (not yet persisted; Commit writes it).
// Callers must hold the customer's lock while mutating the copy.
func (m *Manager) GetOrLoad(ctx context.Context, customerID string) (*store.Conversation, error) {
	m.mu.RLock()
	cached, ok := m.cache[customerID]
	m.mu.RUnlock()
	if ok {
		return copyConversation(cached), nil
	}

	conv, err := m.durable.Load(ctx, customerID)
	switch {
	case err == nil:
		m.mu.Lock()
		m.cache[customerID] = conv
		m.mu.Unlock()
		return copyConversation(conv), nil
	case errors.Is(err, store.ErrNotFound):
		now := m.now()
		return &store.Conversation{
			CustomerID:   customerID,
			Messages:     []store.Message{},
			LastActivity: now,
			Created:      now,
		}, nil
	default:
		return nil, fmt.Errorf("hydrate conversation %s: %w", customerID, err)
	}
}

// Commit persists the conversation and, only on success, installs it in the
// cache. Must be called with the customer's lock held.
func (m *Manager) Commit(ctx context.Context, conv *store.Conversation) error {
	if m.maxHistory > 0 && len(conv.Messages) > m.maxHistory {
		trimmed := make([]store.Message, m.maxHistory)
		copy(trimmed, conv.Messages[len(conv.Messages)-m.maxHistory:])
		conv.Messages = trimmed
	}

	if err := m.durable.Save(ctx, conv); err != nil {
		return fmt.Errorf("persist conversation %s: %w", conv.CustomerID, err)
	}

	m.mu.Lock()
	m.cache[conv.CustomerID] = copyConversation(conv)
	m.mu.Unlock()
	return nil
}

// Append records one message write-through. Takes the customer's lock; not
// for use by callers already holding it.
func (m *Manager) Append(ctx context.Context, customerID string, msg store.Message) error {
	defer m.Lock(customerID)()

	conv, err := m.GetOrLoad(ctx, customerID)
	if err != nil {
		return err
	}
	conv.Messages = append(conv.Messages, msg)
	conv.LastActivity = msg.At
	return m.Commit(ctx, conv)
}

// SetPauseState overwrites the pause state write-through. Takes the
// customer's lock; not for use by callers already holding it.
func (m *Manager) SetPauseState(ctx context.Context, customerID string, ps store.PauseState) error {
	defer m.Lock(customerID)()

	conv, err := m.GetOrLoad(ctx, customerID)
	if err != nil {
		return err
	}
	conv.Pause = ps
	return m.Commit(ctx, conv)
}

func copyConversation(c *store.Conversation) *store.Conversation {
	cp := *c
	cp.Messages = make([]store.Message, len(c.Messages))
	copy(cp.Messages, c.Messages)
	return &cp
}
