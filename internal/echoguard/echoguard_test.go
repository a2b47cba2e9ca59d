package echoguard

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestRegisterThenIsEcho(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	g := newGuard(10*time.Second, clock.Now)

	g.Register("5511999999999", "Olá")

	if !g.IsEcho("5511999999999", "Olá") {
		t.Error("freshly registered message not recognized as echo")
	}
	if g.IsEcho("5511999999999", "olá") {
		t.Error("different content matched")
	}
	if g.IsEcho("5521888888888", "Olá") {
		t.Error("same content for different customer matched")
	}
}

func TestExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	g := newGuard(10*time.Second, clock.Now)

	g.Register("5511999999999", "Olá")

	clock.Advance(10 * time.Second)
	if !g.IsEcho("5511999999999", "Olá") {
		t.Error("entry at exactly TTL should still match")
	}

	clock.Advance(time.Second)
	if g.IsEcho("5511999999999", "Olá") {
		t.Error("expired entry matched")
	}
}

func TestReadDoesNotConsume(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	g := newGuard(10*time.Second, clock.Now)

	g.Register("5511999999999", "Olá")

	// The mirror may deliver the same message more than once within the TTL.
	for i := 0; i < 3; i++ {
		if !g.IsEcho("5511999999999", "Olá") {
			t.Fatalf("check %d: echo no longer recognized", i)
		}
	}
}

func TestRegisterPrunesExpired(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	g := newGuard(time.Second, clock.Now)

	for i := 0; i < 100; i++ {
		g.Register("5511999999999", fmt.Sprintf("msg %d", i))
	}
	clock.Advance(2 * time.Second)
	g.Register("5511999999999", "fresh")

	total := 0
	for i := range g.shards {
		g.shards[i].mu.Lock()
		total += len(g.shards[i].entries)
		g.shards[i].mu.Unlock()
	}
	// Only the shard that received "fresh" was pruned; the rest decay on
	// their next write. All that matters is stale entries do not match.
	if g.IsEcho("5511999999999", "msg 5") {
		t.Error("stale entry still matches after TTL")
	}
	if total > 100 {
		t.Errorf("guard grew to %d entries, pruning never ran", total)
	}
}

func TestConcurrentAccess(t *testing.T) {
	g := New(5 * time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("55119999%05d", n)
			for j := 0; j < 200; j++ {
				content := fmt.Sprintf("reply %d", j)
				g.Register(id, content)
				if !g.IsEcho(id, content) {
					t.Errorf("customer %s lost its own fingerprint", id)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint("5511999999999", "Olá")
	b := Fingerprint("5511999999999", "Olá")
	if a != b {
		t.Error("same inputs produced different fingerprints")
	}
	if Fingerprint("551199999999", "9Olá") == a {
		t.Error("id/content boundary is ambiguous")
	}
}
