package pool

import (
	"math/rand"

	"github.com/lakeward/ferry/logger"
	"github.com/lakeward/ferry/pkg/metrics"
)

// candidate pairs an endpoint's health record with the stats snapshot the
// scoring pass saw. Capacity is re-checked atomically in tryAcquireSlot, so
// slightly stale stats only affect scoring, never the invariant.
type candidate struct {
	h     *endpointHealth
	stats healthStats
}

// selectionScore combines configured preference, spare capacity, and live
// health:
//
//	score = effective_weight × spare_capacity × success_ewma / (1 + latency_ewma/latency_threshold)
//
// where effective_weight is the nominal weight scaled down during warm-up so
// early probes neither monopolize traffic nor starve discovery.
func selectionScore(s healthStats, warmupScale float64) float64 {
	w := s.cfg.Weight
	if s.state == StateWarmingUp {
		w /= warmupScale
	}

	spare := 1 - float64(s.activeSessions)/float64(s.cfg.MaxSessions)
	if spare < 0 {
		spare = 0
	}

	return w * spare * s.successEWMA / (1 + s.latencyEWMA/s.cfg.LatencyThreshold)
}

// sampleWeighted picks an index proportionally to weights. total must be the
// positive sum of weights.
func sampleWeighted(weights []float64, total float64) int {
	x := rand.Float64() * total
	for i, w := range weights {
		x -= w
		if x < 0 {
			return i
		}
	}
	return len(weights) - 1 // floating point leftovers land on the last entry
}

// selectEndpoint picks one eligible endpoint and claims a session slot on
// it, or returns ErrPoolExhausted. The sticky fast-path preserves session
// affinity; otherwise selection is weighted random over live scores, with
// degraded endpoints as a last-resort tier.
func (p *Pool) selectEndpoint(clientID string) (*endpointHealth, error) {
	// 1. Sticky fast-path.
	if clientID != "" {
		if endpointID, ok := p.sticky.Get(clientID); ok {
			p.mu.RLock()
			h := p.health[endpointID]
			p.mu.RUnlock()

			if h != nil && h.tryAcquireSlot() {
				metrics.SelectionsTotal.WithLabelValues("sticky").Inc()
				p.sticky.Set(clientID, endpointID) // refresh the affinity window
				return h, nil
			}

			// Keep the mapping if the endpoint is merely at capacity: the
			// client should come back to it. Drop it if the endpoint is gone
			// or ejected.
			if h == nil || !h.stats().usable() {
				logger.Debug("Pool: dropping stale stickiness", "client", clientID, "endpoint", endpointID)
				p.sticky.Delete(clientID)
			}
		}
	}

	// 2. Candidate tiers: healthy/warming first, degraded as last resort.
	p.mu.RLock()
	order := p.registry.order
	primary := make([]candidate, 0, len(order))
	fallback := make([]candidate, 0)
	for _, id := range order {
		h := p.health[id]
		if h == nil {
			continue
		}
		s := h.stats()
		if s.removed || s.activeSessions >= s.cfg.MaxSessions {
			continue
		}
		switch s.state {
		case StateHealthy, StateWarmingUp:
			primary = append(primary, candidate{h: h, stats: s})
		case StateDegraded:
			fallback = append(fallback, candidate{h: h, stats: s})
		}
	}
	p.mu.RUnlock()

	for tier, cands := range [][]candidate{primary, fallback} {
		method := "weighted"
		if tier == 1 {
			method = "degraded_fallback"
		}
		if h := p.sampleTier(cands, method, clientID); h != nil {
			return h, nil
		}
	}

	return nil, ErrPoolExhausted
}

// sampleTier repeatedly samples a tier without replacement until a slot is
// claimed or the tier is exhausted. Sampling instead of argmax keeps probing
// alternatives and avoids a thundering herd on the single best endpoint.
func (p *Pool) sampleTier(cands []candidate, method string, clientID string) *endpointHealth {
	for len(cands) > 0 {
		weights := make([]float64, len(cands))
		total := 0.0
		for i, c := range cands {
			weights[i] = selectionScore(c.stats, p.cfg.WarmupScaleFactor)
			total += weights[i]
		}

		if total <= 0 {
			// Cold pool or all-zero scores: distribute probes by nominal
			// weight rather than failing.
			method = "cold_start"
			for i, c := range cands {
				weights[i] = c.stats.cfg.Weight
				total += weights[i]
			}
		}
		if total <= 0 {
			return nil
		}

		idx := sampleWeighted(weights, total)
		if cands[idx].h.tryAcquireSlot() {
			metrics.SelectionsTotal.WithLabelValues(method).Inc()
			if clientID != "" {
				p.sticky.Set(clientID, cands[idx].stats.cfg.ID)
			}
			return cands[idx].h
		}

		// Lost the capacity race, resample among the rest.
		cands = append(cands[:idx], cands[idx+1:]...)
	}
	return nil
}

// usable reports whether a sticky mapping may still route to this endpoint.
func (s healthStats) usable() bool {
	return !s.removed && s.state != StateEjected
}
