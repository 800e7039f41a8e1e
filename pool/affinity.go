package pool

import (
	"sync"
	"time"

	"github.com/lakeward/ferry/logger"
	"github.com/lakeward/ferry/pkg/metrics"
)

// stickyEntry maps a client to its most recently assigned endpoint.
type stickyEntry struct {
	EndpointID string
	AssignedAt time.Time
	ExpiresAt  time.Time
}

// StickinessTable tracks client-to-endpoint affinity with an independent
// TTL: a client may acquire many sequential leases against the same endpoint
// while its entry stays live. Entries expire lazily on lookup and are also
// swept by a background cleanup routine.
type StickinessTable struct {
	mu      sync.RWMutex
	entries map[string]*stickyEntry

	ttl             time.Duration
	cleanupInterval time.Duration

	now func() time.Time

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewStickinessTable creates a stickiness table and starts its cleanup
// routine. Stop must be called to release it.
func NewStickinessTable(ttl, cleanupInterval time.Duration) *StickinessTable {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	st := &StickinessTable{
		entries:         make(map[string]*stickyEntry),
		ttl:             ttl,
		cleanupInterval: cleanupInterval,
		now:             time.Now,
		stopCleanup:     make(chan struct{}),
	}

	go st.cleanupRoutine()

	return st
}

// Get returns the live endpoint mapping for a client, if any.
func (st *StickinessTable) Get(clientID string) (string, bool) {
	st.mu.RLock()
	entry, exists := st.entries[clientID]
	st.mu.RUnlock()

	if !exists {
		metrics.StickinessLookups.WithLabelValues("miss").Inc()
		return "", false
	}

	if st.now().After(entry.ExpiresAt) {
		// Expired, will be cleaned up later
		metrics.StickinessLookups.WithLabelValues("expired").Inc()
		return "", false
	}

	metrics.StickinessLookups.WithLabelValues("hit").Inc()
	return entry.EndpointID, true
}

// Set records (or refreshes) a client's endpoint assignment.
func (st *StickinessTable) Set(clientID, endpointID string) {
	now := st.now()

	st.mu.Lock()
	st.entries[clientID] = &stickyEntry{
		EndpointID: endpointID,
		AssignedAt: now,
		ExpiresAt:  now.Add(st.ttl),
	}
	metrics.StickinessEntries.Set(float64(len(st.entries)))
	st.mu.Unlock()

	logger.Debug("Pool: stickiness set", "client", clientID, "endpoint", endpointID)
}

// Delete removes a client's affinity, e.g. when its endpoint became unusable.
func (st *StickinessTable) Delete(clientID string) {
	st.mu.Lock()
	delete(st.entries, clientID)
	metrics.StickinessEntries.Set(float64(len(st.entries)))
	st.mu.Unlock()
}

// Len returns the number of entries, including not-yet-swept expired ones.
func (st *StickinessTable) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.entries)
}

// Stats returns stickiness statistics for diagnostics.
func (st *StickinessTable) Stats() map[string]interface{} {
	st.mu.RLock()
	defer st.mu.RUnlock()

	live := 0
	now := st.now()
	for _, entry := range st.entries {
		if !now.After(entry.ExpiresAt) {
			live++
		}
	}

	return map[string]interface{}{
		"total_entries":    len(st.entries),
		"live_entries":     live,
		"ttl":              st.ttl.String(),
		"cleanup_interval": st.cleanupInterval.String(),
	}
}

func (st *StickinessTable) cleanupRoutine() {
	ticker := time.NewTicker(st.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			st.cleanup()
		case <-st.stopCleanup:
			return
		}
	}
}

func (st *StickinessTable) cleanup() {
	now := st.now()

	st.mu.Lock()
	removed := 0
	for clientID, entry := range st.entries {
		if now.After(entry.ExpiresAt) {
			delete(st.entries, clientID)
			removed++
		}
	}
	metrics.StickinessEntries.Set(float64(len(st.entries)))
	st.mu.Unlock()

	if removed > 0 {
		logger.Debug("Pool: cleaned up expired stickiness entries", "removed", removed)
	}
}

// Stop stops the cleanup routine. Idempotent.
func (st *StickinessTable) Stop() {
	st.stopOnce.Do(func() {
		close(st.stopCleanup)
	})
}
