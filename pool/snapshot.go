package pool

import (
	"sort"
	"time"
)

// EndpointStatus is one endpoint's entry in a pool snapshot.
type EndpointStatus struct {
	ID             string  `json:"id"`
	URL            string  `json:"url"`
	Weight         float64 `json:"weight"`
	MaxSessions    int     `json:"max_sessions"`
	State          string  `json:"state"`
	SuccessEWMA    float64 `json:"success_ewma"`
	LatencyEWMAMS  float64 `json:"latency_ewma_ms"`
	ObservedCount  int64   `json:"observed_count"`
	ActiveSessions int     `json:"active_sessions"`
	WarmupRequests int     `json:"warmup_requests"`
	Removed        bool    `json:"removed,omitempty"`
}

// Snapshot is a point-in-time, read-only view of the pool for diagnostics.
// Under concurrent load it is advisory, not transactional.
type Snapshot struct {
	TakenAt           time.Time        `json:"taken_at"`
	Endpoints         []EndpointStatus `json:"endpoints"`
	OutstandingLeases int              `json:"outstanding_leases"`
	StickyEntries     int              `json:"sticky_entries"`
}

// Describe returns a snapshot of every endpoint, registered ones in
// configuration order followed by removed records still draining leases.
func (p *Pool) Describe() Snapshot {
	p.mu.RLock()
	order := p.registry.order
	statuses := make([]EndpointStatus, 0, len(p.health))
	seen := make(map[string]bool, len(order))

	for _, id := range order {
		h := p.health[id]
		if h == nil {
			continue
		}
		statuses = append(statuses, endpointStatus(h.stats()))
		seen[id] = true
	}

	draining := make([]EndpointStatus, 0)
	for id, h := range p.health {
		if !seen[id] {
			draining = append(draining, endpointStatus(h.stats()))
		}
	}
	p.mu.RUnlock()

	sort.Slice(draining, func(i, j int) bool { return draining[i].ID < draining[j].ID })
	statuses = append(statuses, draining...)

	p.leaseMu.Lock()
	outstanding := len(p.leases)
	p.leaseMu.Unlock()

	return Snapshot{
		TakenAt:           p.now(),
		Endpoints:         statuses,
		OutstandingLeases: outstanding,
		StickyEntries:     p.sticky.Len(),
	}
}

// EndpointStatus returns the snapshot entry for a single endpoint, or false
// if no record exists for the identifier.
func (p *Pool) EndpointStatus(id string) (EndpointStatus, bool) {
	p.mu.RLock()
	h := p.health[id]
	p.mu.RUnlock()

	if h == nil {
		return EndpointStatus{}, false
	}
	return endpointStatus(h.stats()), true
}

func endpointStatus(s healthStats) EndpointStatus {
	return EndpointStatus{
		ID:             s.cfg.ID,
		URL:            s.cfg.URL,
		Weight:         s.cfg.Weight,
		MaxSessions:    s.cfg.MaxSessions,
		State:          s.state.String(),
		SuccessEWMA:    s.successEWMA,
		LatencyEWMAMS:  s.latencyEWMA,
		ObservedCount:  s.observedCount,
		ActiveSessions: s.activeSessions,
		WarmupRequests: s.cfg.WarmupRequests,
		Removed:        s.removed,
	}
}
