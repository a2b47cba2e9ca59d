package convo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/convogate/internal/store"
	"github.com/nextlevelbuilder/convogate/internal/store/memory"
)

func newManager(maxHistory int) (*Manager, *store.Stores) {
	stores := memory.New()
	return NewManager(stores.Conversations, maxHistory), stores
}

func TestGetOrLoadCreatesFresh(t *testing.T) {
	m, _ := newManager(0)

	conv, err := m.GetOrLoad(context.Background(), "5511999999999")
	if err != nil {
		t.Fatal(err)
	}
	if conv.Pause.Paused {
		t.Error("new conversation must start active")
	}
	if len(conv.Messages) != 0 {
		t.Error("new conversation has messages")
	}
}

func TestCommitWriteThrough(t *testing.T) {
	m, stores := newManager(0)
	ctx := context.Background()

	unlock := m.Lock("5511999999999")
	conv, err := m.GetOrLoad(ctx, "5511999999999")
	if err != nil {
		t.Fatal(err)
	}
	conv.Messages = append(conv.Messages, store.Message{Role: store.RoleCustomer, Content: "oi", At: time.Now()})
	if err := m.Commit(ctx, conv); err != nil {
		t.Fatal(err)
	}
	unlock()

	durable, err := stores.Conversations.Load(ctx, "5511999999999")
	if err != nil {
		t.Fatalf("commit did not reach durable store: %v", err)
	}
	if len(durable.Messages) != 1 || durable.Messages[0].Content != "oi" {
		t.Errorf("durable state %+v", durable.Messages)
	}
}

// failingStore fails Save to verify the cache never runs ahead of disk.
type failingStore struct {
	store.ConversationStore
	fail bool
}

func (f *failingStore) Save(ctx context.Context, conv *store.Conversation) error {
	if f.fail {
		return fmt.Errorf("save: %w", store.ErrUnavailable)
	}
	return f.ConversationStore.Save(ctx, conv)
}

func TestCommitFailureLeavesCacheUntouched(t *testing.T) {
	stores := memory.New()
	backend := &failingStore{ConversationStore: stores.Conversations}
	m := NewManager(backend, 0)
	ctx := context.Background()

	conv, _ := m.GetOrLoad(ctx, "5511999999999")
	conv.Messages = append(conv.Messages, store.Message{Role: store.RoleCustomer, Content: "primeira", At: time.Now()})
	if err := m.Commit(ctx, conv); err != nil {
		t.Fatal(err)
	}

	backend.fail = true
	conv2, _ := m.GetOrLoad(ctx, "5511999999999")
	conv2.Messages = append(conv2.Messages, store.Message{Role: store.RoleCustomer, Content: "perdida", At: time.Now()})
	err := m.Commit(ctx, conv2)
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}

	cached, _ := m.GetOrLoad(ctx, "5511999999999")
	if len(cached.Messages) != 1 {
		t.Errorf("cache advanced past failed durable write: %d messages", len(cached.Messages))
	}
}

func TestLazyHydration(t *testing.T) {
	stores := memory.New()
	ctx := context.Background()

	seeded := &store.Conversation{
		CustomerID: "5511999999999",
		Messages:   []store.Message{{Role: store.RoleCustomer, Content: "histórico", At: time.Now()}},
		Pause:      store.PauseState{Paused: true, Reason: store.ReasonHumanIntervention, Owner: "Tiago", Since: time.Now()},
		Created:    time.Now(),
	}
	if err := stores.Conversations.Save(ctx, seeded); err != nil {
		t.Fatal(err)
	}

	m := NewManager(stores.Conversations, 0)
	conv, err := m.GetOrLoad(ctx, "5511999999999")
	if err != nil {
		t.Fatal(err)
	}
	if !conv.Pause.Paused || conv.Pause.Owner != "Tiago" {
		t.Errorf("pause state lost on hydration: %+v", conv.Pause)
	}
	if len(conv.Messages) != 1 {
		t.Errorf("history lost on hydration: %d", len(conv.Messages))
	}
}

func TestHistoryTrim(t *testing.T) {
	m, _ := newManager(5)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		if err := m.Append(ctx, "5511999999999", store.Message{
			Role:    store.RoleCustomer,
			Content: fmt.Sprintf("msg %d", i),
			At:      time.Now(),
		}); err != nil {
			t.Fatal(err)
		}
	}

	conv, _ := m.GetOrLoad(ctx, "5511999999999")
	if len(conv.Messages) != 5 {
		t.Fatalf("history not trimmed: %d", len(conv.Messages))
	}
	if conv.Messages[4].Content != "msg 11" {
		t.Errorf("trim dropped the wrong end: %+v", conv.Messages)
	}
}

func TestPerCustomerSerialization(t *testing.T) {
	m, _ := newManager(0)
	ctx := context.Background()

	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				unlock := m.Lock("5511999999999")
				conv, err := m.GetOrLoad(ctx, "5511999999999")
				if err != nil {
					t.Error(err)
					unlock()
					return
				}
				conv.Messages = append(conv.Messages, store.Message{
					Role:    store.RoleCustomer,
					Content: fmt.Sprintf("w%d-%d", w, i),
					At:      time.Now(),
				})
				if err := m.Commit(ctx, conv); err != nil {
					t.Error(err)
				}
				unlock()
			}
		}(w)
	}
	wg.Wait()

	conv, _ := m.GetOrLoad(ctx, "5511999999999")
	if len(conv.Messages) != writers*perWriter {
		t.Errorf("lost appends under contention: got %d, want %d", len(conv.Messages), writers*perWriter)
	}
}

func TestSetPauseState(t *testing.T) {
	m, stores := newManager(0)
	ctx := context.Background()

	ps := store.PauseState{Paused: true, Reason: store.ReasonManual, Owner: "Ana", Since: time.Now()}
	if err := m.SetPauseState(ctx, "5511999999999", ps); err != nil {
		t.Fatal(err)
	}

	durable, err := stores.Conversations.Load(ctx, "5511999999999")
	if err != nil {
		t.Fatal(err)
	}
	if !durable.Pause.Paused || durable.Pause.Reason != store.ReasonManual {
		t.Errorf("pause not persisted: %+v", durable.Pause)
	}
}
