package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/use-agent/leadharvest/models"
)

// entry holds a cached record with its creation timestamp.
type entry struct {
	record    *models.PageExtractionRecord
	createdAt time.Time
}

// Cache keeps recent extraction records so repeated single-URL extractions
// within a short window skip the browser. It is safe for concurrent use.
type Cache struct {
	mu         sync.RWMutex
	store      map[string]*entry
	maxEntries int
	ttl        time.Duration

	done chan struct{}
	once sync.Once
}

// New creates a Cache holding at most maxEntries records. Records older
// than ttl are evicted by a background loop until Stop is called.
func New(maxEntries int, ttl time.Duration) *Cache {
	c := &Cache{
		store:      make(map[string]*entry),
		maxEntries: maxEntries,
		ttl:        ttl,
		done:       make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Key derives the cache key for a URL and text format.
func Key(url, textFormat string) string {
	h := sha256.New()
	h.Write([]byte(url))
	h.Write([]byte("|"))
	h.Write([]byte(textFormat))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns a copy of the cached record if it is younger than maxAge.
// maxAge <= 0 disables the lookup.
func (c *Cache) Get(key string, maxAge time.Duration) (*models.PageExtractionRecord, bool) {
	if c == nil || maxAge <= 0 {
		return nil, false
	}

	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()

	if !ok || time.Since(e.createdAt) > maxAge {
		return nil, false
	}
	cp := *e.record
	return &cp, true
}

// Set stores rec. Only successful records are cached; failures are worth
// retrying. At capacity an arbitrary entry is evicted.
func (c *Cache) Set(key string, rec *models.PageExtractionRecord) {
	if c == nil || c.maxEntries <= 0 || rec == nil || rec.Status.Failed() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.store[key]; !exists && len(c.store) >= c.maxEntries {
		for k := range c.store {
			delete(c.store, k)
			break
		}
	}

	cp := *rec
	c.store[key] = &entry{record: &cp, createdAt: time.Now()}
}

// Len reports the number of cached records.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

// Stop ends the eviction loop.
func (c *Cache) Stop() {
	if c == nil {
		return
	}
	c.once.Do(func() { close(c.done) })
}

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-c.ttl)
			c.mu.Lock()
			for k, e := range c.store {
				if e.createdAt.Before(cutoff) {
					delete(c.store, k)
				}
			}
			c.mu.Unlock()
		}
	}
}
