// Package echoguard recognizes outbound messages when they bounce back in
// through the chat-mirror webhook. The mirror reports every message —
// including ones this system pushed via its API — as coming from an
// authenticated user, so sender metadata alone cannot break the loop. The
// guard fingerprints each outbound (customer, content) pair for a short TTL;
// an inbound mirror event matching an unexpired fingerprint is our own echo.
package echoguard

import (
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 32

// Guard is a TTL-bounded fingerprint cache, safe for concurrent use.
// Expiry is checked on read and pruned opportunistically on write; entries
// are never removed on read, which tolerates slightly skewed or duplicated
// mirror deliveries within the TTL.
type Guard struct {
	ttl    time.Duration
	now    func() time.Time
	shards [shardCount]shard
}

type shard struct {
	mu      sync.Mutex
	entries map[string]time.Time // fingerprint → registered at
}

// New creates a Guard with the given TTL. TTL is expected to be on the order
// of seconds: long enough to cover webhook delivery, short enough that a
// human retyping the same text minutes later is not swallowed.
func New(ttl time.Duration) *Guard {
	return newGuard(ttl, time.Now)
}

func newGuard(ttl time.Duration, now func() time.Time) *Guard {
	g := &Guard{ttl: ttl, now: now}
	for i := range g.shards {
		g.shards[i].entries = make(map[string]time.Time)
	}
	return g
}

// Register records that content was just sent to the customer, so the
// mirror's webhook copy of it can be recognized.
func (g *Guard) Register(customerID, content string) {
	fp := Fingerprint(customerID, content)
	sh := g.shard(fp)
	now := g.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()
	for k, at := range sh.entries {
		if now.Sub(at) > g.ttl {
			delete(sh.entries, k)
		}
	}
	sh.entries[fp] = now
}

// IsEcho reports whether this exact (customer, content) pair was registered
// within the TTL window. Absence means either never sent by us or expired;
// both are treated as "not ours".
func (g *Guard) IsEcho(customerID, content string) bool {
	fp := Fingerprint(customerID, content)
	sh := g.shard(fp)

	sh.mu.Lock()
	defer sh.mu.Unlock()
	at, ok := sh.entries[fp]
	if !ok {
		return false
	}
	return g.now().Sub(at) <= g.ttl
}

func (g *Guard) shard(fp string) *shard {
	h := fnv.New32a()
	h.Write([]byte(fp))
	return &g.shards[h.Sum32()%shardCount]
}

// Fingerprint derives the deterministic digest of a (customer, content)
// pair. The customer id is part of the digest so identical text sent to two
// customers produces distinct fingerprints.
func Fingerprint(customerID, content string) string {
	h := sha256.New()
	h.Write([]byte(customerID))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}
