// Package cache implements C5: a fingerprint-keyed, TTL-bounded result
// store with single-flight de-duplication of concurrent identical queries.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nova-gateway/gateway/internal/domain"
)

// entry is the internal cache record. Insertion order for the soft-cap
// eviction policy is tracked separately, in Cache.order.
type entry struct {
	result    domain.Result
	createdAt time.Time
}

// Cache is safe for concurrent readers and writers. Eviction is lazy: stale
// entries are dropped on access, and the table is pruned oldest-first when
// it exceeds the soft cap.
type Cache struct {
	enabled  bool
	ttl      time.Duration
	softCap  int
	group    singleflight.Group

	mu      sync.RWMutex
	entries map[string]entry
	order   []string // insertion order, oldest first
}

// New constructs a Cache. If enabled is false, every Get misses and
// Do still de-duplicates concurrent identical calls.
func New(enabled bool, ttl time.Duration, softCap int) *Cache {
	return &Cache{
		enabled: enabled,
		ttl:     ttl,
		softCap: softCap,
		entries: make(map[string]entry),
	}
}

// Fingerprint returns the cryptographic digest of the normalised query used
// as both the cache key and the single-flight key.
func Fingerprint(normalisedQuery string) string {
	sum := sha256.Sum256([]byte(normalisedQuery))
	return hex.EncodeToString(sum[:])
}

// Get returns a fresh entry for fingerprint, or ok=false on miss or stale.
func (c *Cache) Get(fingerprint string) (domain.Result, bool) {
	if !c.enabled {
		return domain.Result{}, false
	}

	c.mu.RLock()
	e, found := c.entries[fingerprint]
	c.mu.RUnlock()
	if !found {
		return domain.Result{}, false
	}

	now := time.Now()
	if now.Sub(e.createdAt) >= c.ttl {
		c.mu.Lock()
		delete(c.entries, fingerprint)
		for i, fp := range c.order {
			if fp == fingerprint {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
		c.mu.Unlock()
		return domain.Result{}, false
	}
	return e.result, true
}

// Set stores result under fingerprint with the current timestamp, evicting
// the oldest entries first if the soft cap is exceeded.
func (c *Cache) Set(fingerprint string, result domain.Result) {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[fingerprint]; !exists {
		c.order = append(c.order, fingerprint)
	}
	c.entries[fingerprint] = entry{result: result, createdAt: time.Now()}

	for len(c.entries) > c.softCap && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// Do ensures at most one execution of fn is in flight per fingerprint.
// Concurrent callers with the same fingerprint block on the leader's
// result; shared is true for every follower (and for the leader if it was
// itself joined by a follower).
func (c *Cache) Do(fingerprint string, fn func() (domain.Result, error)) (domain.Result, error, bool) {
	v, err, shared := c.group.Do(fingerprint, func() (any, error) {
		return fn()
	})
	if v == nil {
		return domain.Result{}, err, shared
	}
	return v.(domain.Result), err, shared
}
