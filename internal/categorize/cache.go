// Package categorize implements the two-tier categorization engine: a
// learned payee cache consulted first, and a batched external
// classifier with an allow-listed vocabulary as fallback.
package categorize

import (
	"strings"
	"sync"
)

// PayeeCount is one aggregated (payee, category) observation from the
// transaction store, ordered by the store so that earlier rows were
// seen first.
type PayeeCount struct {
	Payee      string
	CategoryID string
	Count      int64
}

// Cache maps normalized payees to predefined category ids by majority
// vote over previously categorized transactions. It is process-local
// and unsynchronized across instances; it trades staleness for skipping
// repeat classifier calls on recurring merchants.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]string)}
}

// Rebuild replaces the cache contents from aggregated observations.
// For each payee the category with the highest count wins; ties keep
// the first-seen category, so the outcome is deterministic for a given
// row order.
func (c *Cache) Rebuild(rows []PayeeCount) {
	type candidate struct {
		categoryID string
		count      int64
	}
	best := make(map[string]candidate)

	for _, row := range rows {
		payee := normalizePayee(row.Payee)
		if payee == "" || row.CategoryID == "" {
			continue
		}
		cur, ok := best[payee]
		if !ok || row.Count > cur.count {
			best[payee] = candidate{categoryID: row.CategoryID, count: row.Count}
		}
	}

	entries := make(map[string]string, len(best))
	for payee, cand := range best {
		entries[payee] = cand.categoryID
	}

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
}

// Lookup resolves a payee to a learned category id.
func (c *Cache) Lookup(payee string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	categoryID, ok := c.entries[normalizePayee(payee)]
	return categoryID, ok
}

// Learn records a payee to category association so future occurrences
// skip the classifier.
func (c *Cache) Learn(payee, categoryID string) {
	key := normalizePayee(payee)
	if key == "" || categoryID == "" {
		return
	}
	c.mu.Lock()
	c.entries[key] = categoryID
	c.mu.Unlock()
}

// Len returns the number of learned payees.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func normalizePayee(payee string) string {
	return strings.ToLower(strings.TrimSpace(payee))
}
