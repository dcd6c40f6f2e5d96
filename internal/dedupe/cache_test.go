// ABOUTME: Tests for the ask dedupe cache.
// ABOUTME: Validates TTL expiry, atomic check-and-record, sweeping, and concurrency.

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_Seen_FirstTime(t *testing.T) {
	cache := New(5 * time.Minute)

	// First submission is not a duplicate, but is now recorded
	assert.False(t, cache.Seen("key-1"))
	assert.True(t, cache.Seen("key-1"))
}

func TestCache_Seen_Expired(t *testing.T) {
	cache := New(10 * time.Millisecond)

	assert.False(t, cache.Seen("expiring"))

	time.Sleep(20 * time.Millisecond)

	// Expired entries read as unseen again
	assert.False(t, cache.Seen("expiring"))
}

func TestCache_Seen_DistinctKeys(t *testing.T) {
	cache := New(5 * time.Minute)

	assert.False(t, cache.Seen("key-a"))
	assert.False(t, cache.Seen("key-b"))
}

func TestCache_SweepRemovesExpired(t *testing.T) {
	cache := New(time.Millisecond)

	cache.Seen("old")
	time.Sleep(5 * time.Millisecond)

	// Enough writes to trigger a sweep; the expired entry must be gone
	for i := 0; i < sweepEvery; i++ {
		cache.Seen(fmt.Sprintf("key-%d", i))
	}

	assert.LessOrEqual(t, cache.Len(), sweepEvery)
}

func TestCache_Forget(t *testing.T) {
	cache := New(5 * time.Minute)

	assert.False(t, cache.Seen("key-1"))
	assert.True(t, cache.Seen("key-1"))

	// A forgotten key reads as brand new
	cache.Forget("key-1")
	assert.False(t, cache.Seen("key-1"))
}

func TestCache_ForgetUnknownKey(t *testing.T) {
	cache := New(5 * time.Minute)
	cache.Forget("never-seen")
	assert.Equal(t, 0, cache.Len())
}

func TestCache_ConcurrentSeen(t *testing.T) {
	cache := New(5 * time.Minute)

	// Exactly one of N concurrent identical submissions may pass
	const n = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	passed := 0

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !cache.Seen("same-key") {
				mu.Lock()
				passed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, passed)
}

func TestKey_Deterministic(t *testing.T) {
	assert.Equal(t, Key("session-1", "hello"), Key("session-1", "hello"))
}

func TestKey_Distinct(t *testing.T) {
	assert.NotEqual(t, Key("session-1", "hello"), Key("session-2", "hello"))
	assert.NotEqual(t, Key("session-1", "hello"), Key("session-1", "goodbye"))
}
