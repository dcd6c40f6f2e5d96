// ABOUTME: TTL cache for suppressing duplicate ask submissions
// ABOUTME: Keys are session+question digests; expiry is swept lazily on writes

package dedupe

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

const sweepEvery = 256 // writes between expiry sweeps

// Cache tracks recently-seen ask submissions so a double-clicked widget
// button does not produce two identical exchanges. Entries expire after the
// TTL; expired entries are swept opportunistically during writes rather than
// by a background goroutine, so the cache needs no lifecycle management.
type Cache struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	ttl    time.Duration
	writes int
}

// New creates a cache whose entries expire after ttl.
func New(ttl time.Duration) *Cache {
	return &Cache{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// Key derives the cache key for a submission.
func Key(sessionID, question string) string {
	sum := sha256.Sum256([]byte(sessionID + "\x00" + question))
	return hex.EncodeToString(sum[:16])
}

// Seen reports whether the key was submitted within the TTL and records it
// if not. The check and the record are a single atomic step.
func (c *Cache) Seen(key string) bool {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if at, ok := c.seen[key]; ok && now.Sub(at) < c.ttl {
		return true
	}

	c.seen[key] = now
	c.writes++
	if c.writes >= sweepEvery {
		c.writes = 0
		for k, at := range c.seen {
			if now.Sub(at) >= c.ttl {
				delete(c.seen, k)
			}
		}
	}
	return false
}

// Forget drops a key so the submission can be retried immediately. Called
// when the suppressed work failed and there is nothing in flight to protect.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.seen, key)
}

// Len returns the number of entries currently held, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
