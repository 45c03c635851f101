package paywall

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// SettlementCache provides idempotency for settle operations by caching
// settled responses and tracking in-flight settlements. Settlement runs
// asynchronously after the resource response has committed, so a client retry
// can arrive while the first settlement is still in flight; the cache ensures
// each payment authorization is submitted at most once per TTL window.
type SettlementCache struct {
	mu       sync.Mutex
	results  map[string]*SettleResponse
	expiry   map[string]time.Time
	inFlight map[string]struct{}
	ttl      time.Duration
}

// NewSettlementCache creates a settlement cache with the given result TTL.
func NewSettlementCache(ttl time.Duration) *SettlementCache {
	return &SettlementCache{
		results:  make(map[string]*SettleResponse),
		expiry:   make(map[string]time.Time),
		inFlight: make(map[string]struct{}),
		ttl:      ttl,
	}
}

// SettlementKey creates a unique key from payment payload bytes. The payload
// includes the authorization signature and nonce, so the hash is unique per
// payment attempt.
func SettlementKey(payloadBytes []byte) string {
	hash := sha256.Sum256(payloadBytes)
	return hex.EncodeToString(hash[:])
}

// Begin marks the key as in flight and reports whether the caller owns the
// settlement. It returns false when a result is already cached or another
// settlement for the same key is running.
func (c *SettlementCache) Begin(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if expiry, ok := c.expiry[key]; ok {
		if time.Now().Before(expiry) {
			return false
		}
		delete(c.results, key)
		delete(c.expiry, key)
	}
	if _, ok := c.inFlight[key]; ok {
		return false
	}
	c.inFlight[key] = struct{}{}
	return true
}

// Complete caches the settlement result and releases the in-flight marker.
func (c *SettlementCache) Complete(key string, resp *SettleResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.results[key] = resp
	c.expiry[key] = time.Now().Add(c.ttl)
	delete(c.inFlight, key)
	c.cleanupExpiredLocked()
}

// Fail releases the in-flight marker without caching, so a later retry may
// attempt settlement again.
func (c *SettlementCache) Fail(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, key)
}

// Get retrieves a cached settlement response if present and unexpired.
func (c *SettlementCache) Get(key string) *SettleResponse {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiry, ok := c.expiry[key]
	if !ok || time.Now().After(expiry) {
		return nil
	}
	return c.results[key]
}

// cleanupExpiredLocked removes expired entries. Must be called with lock held.
func (c *SettlementCache) cleanupExpiredLocked() {
	now := time.Now()
	for key, expiry := range c.expiry {
		if now.After(expiry) {
			delete(c.results, key)
			delete(c.expiry, key)
		}
	}
}
