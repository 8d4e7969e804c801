package engine

import (
	"sync"
	"time"
)

// hostEntry stores what was learned about a host, with a TTL.
type hostEntry struct {
	hint      string
	expiresAt time.Time
}

// Host hints.
const (
	// HintSlow marks hosts whose content appeared only after a long wait
	// or not at all in the DOM.
	HintSlow = "slow"
)

// HostMemory remembers hints about hosts across extractions, e.g. that a
// host renders late. Entries expire after the configured TTL and are
// cleaned up periodically.
type HostMemory struct {
	store sync.Map // host (string) -> *hostEntry
	ttl   time.Duration
	done  chan struct{}
	once  sync.Once
}

// NewHostMemory creates a HostMemory with the given TTL and starts a
// background goroutine that prunes expired entries every hour.
func NewHostMemory(ttl time.Duration) *HostMemory {
	hm := &HostMemory{
		ttl:  ttl,
		done: make(chan struct{}),
	}
	go hm.cleanupLoop()
	return hm
}

// Get returns the remembered hint for a host, or "" if not found / expired.
func (hm *HostMemory) Get(host string) string {
	if hm == nil {
		return ""
	}
	val, ok := hm.store.Load(host)
	if !ok {
		return ""
	}
	entry := val.(*hostEntry)
	if time.Now().After(entry.expiresAt) {
		hm.store.Delete(host)
		return ""
	}
	return entry.hint
}

// Set records a hint for a host.
func (hm *HostMemory) Set(host, hint string) {
	if hm == nil {
		return
	}
	hm.store.Store(host, &hostEntry{
		hint:      hint,
		expiresAt: time.Now().Add(hm.ttl),
	})
}

// Delete forgets a host.
func (hm *HostMemory) Delete(host string) {
	if hm == nil {
		return
	}
	hm.store.Delete(host)
}

// Stop terminates the background cleanup goroutine. Safe to call twice.
func (hm *HostMemory) Stop() {
	if hm == nil {
		return
	}
	hm.once.Do(func() { close(hm.done) })
}

func (hm *HostMemory) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-hm.done:
			return
		case <-ticker.C:
			now := time.Now()
			hm.store.Range(func(key, value any) bool {
				entry := value.(*hostEntry)
				if now.After(entry.expiresAt) {
					hm.store.Delete(key)
				}
				return true
			})
		}
	}
}
