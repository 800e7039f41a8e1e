package pool

import (
	"sync"
	"time"

	"github.com/lakeward/ferry/logger"
	"github.com/lakeward/ferry/pkg/metrics"
)

// EndpointState classifies an endpoint's current health. The numeric values
// are exported as the ferry_endpoint_state gauge.
type EndpointState int

const (
	StateEjected EndpointState = iota
	StateDegraded
	StateWarmingUp
	StateHealthy
)

func (s EndpointState) String() string {
	switch s {
	case StateEjected:
		return "ejected"
	case StateDegraded:
		return "degraded"
	case StateWarmingUp:
		return "warming_up"
	case StateHealthy:
		return "healthy"
	default:
		return "unknown"
	}
}

// Outcome reports the result of the I/O a caller performed over a lease.
type Outcome struct {
	Success   bool
	LatencyMS float64
}

// endpointHealth is the mutable per-endpoint record: EWMA health signal plus
// the active session counter. All fields are guarded by mu; it is the pool's
// only per-endpoint critical section, so hold it briefly.
type endpointHealth struct {
	mu sync.Mutex

	cfg EndpointConfig // updated on reload, read under mu

	successEWMA    float64
	latencyEWMA    float64
	observedCount  int64
	activeSessions int
	state          EndpointState

	// belowFloorSince tracks how long the success EWMA has been under the
	// hard ejection floor; zero while above it.
	belowFloorSince time.Time
	ejectedAt       time.Time

	// removed marks an endpoint dropped by Reload. It takes no new leases
	// and its record is discarded once the last lease drains.
	removed bool
}

func newEndpointHealth(cfg EndpointConfig) *endpointHealth {
	h := &endpointHealth{
		cfg: cfg,
		// Optimistic seed: a fresh endpoint is selectable during warm-up and
		// one synthetic failure at alpha=0.2 lands the EWMA exactly at 0.8.
		successEWMA: 1.0,
		state:       StateWarmingUp,
	}
	h.publishGauges()
	return h
}

// recordOutcome folds one observation into the EWMAs and reclassifies.
// Caller must hold h.mu.
func (h *endpointHealth) recordOutcome(alpha float64, cooldown time.Duration, o Outcome, now time.Time) {
	latency := o.LatencyMS
	if latency < 0 {
		// Malformed outcomes are clamped, never rejected: release must not fail.
		latency = 0
	}

	indicator := 0.0
	if o.Success {
		indicator = 1.0
	}

	h.successEWMA = alpha*indicator + (1-alpha)*h.successEWMA
	h.latencyEWMA = alpha*latency + (1-alpha)*h.latencyEWMA
	h.observedCount++

	h.classify(cooldown, now)
	h.publishGauges()
}

// classify recomputes state as a pure function of the EWMAs and observation
// count. Ejection is sticky: only readmit leaves StateEjected.
// Caller must hold h.mu.
func (h *endpointHealth) classify(cooldown time.Duration, now time.Time) {
	if h.state == StateEjected {
		return
	}

	if h.observedCount < int64(h.cfg.WarmupRequests) {
		h.state = StateWarmingUp
		return
	}

	floor := h.cfg.SuccessThreshold / 2
	if h.successEWMA < floor {
		if h.belowFloorSince.IsZero() {
			h.belowFloorSince = now
		}
		if now.Sub(h.belowFloorSince) >= cooldown {
			h.state = StateEjected
			h.ejectedAt = now
			metrics.EjectionsTotal.WithLabelValues(h.cfg.ID).Inc()
			logger.Warn("Pool: endpoint ejected", "endpoint", h.cfg.ID,
				"success_ewma", h.successEWMA, "floor", floor, "cooldown", cooldown)
			return
		}
	} else {
		h.belowFloorSince = time.Time{}
	}

	if h.successEWMA >= h.cfg.SuccessThreshold && h.latencyEWMA <= h.cfg.LatencyThreshold {
		h.state = StateHealthy
	} else {
		h.state = StateDegraded
	}
}

// readmit resets the record to a fresh warm-up, the only way out of
// StateEjected. Caller must hold h.mu.
func (h *endpointHealth) readmit(trigger string) {
	h.successEWMA = 1.0
	h.latencyEWMA = 0
	h.observedCount = 0
	h.state = StateWarmingUp
	h.belowFloorSince = time.Time{}
	h.ejectedAt = time.Time{}
	metrics.ReadmissionsTotal.WithLabelValues(h.cfg.ID, trigger).Inc()
	logger.Info("Pool: endpoint re-admitted for warm-up", "endpoint", h.cfg.ID, "trigger", trigger)
	h.publishGauges()
}

// tryAcquireSlot atomically checks eligibility and capacity and claims one
// session slot. This is the single check-and-increment the capacity
// invariant depends on.
func (h *endpointHealth) tryAcquireSlot() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.removed || h.state == StateEjected {
		return false
	}
	if h.activeSessions >= h.cfg.MaxSessions {
		return false
	}
	h.activeSessions++
	return true
}

// releaseSlot returns one session slot. Caller must hold h.mu.
func (h *endpointHealth) releaseSlot() {
	h.activeSessions--
	if h.activeSessions < 0 {
		// A lease was decremented twice; status transitions should make this
		// impossible, so treat it as a programming defect.
		panic("pool: active session count went negative for endpoint " + h.cfg.ID)
	}
}

// publishGauges mirrors the record into prometheus. Caller must hold h.mu.
func (h *endpointHealth) publishGauges() {
	metrics.EndpointState.WithLabelValues(h.cfg.ID).Set(float64(h.state))
	metrics.EndpointSuccessEWMA.WithLabelValues(h.cfg.ID).Set(h.successEWMA)
	metrics.EndpointLatencyEWMA.WithLabelValues(h.cfg.ID).Set(h.latencyEWMA)
}

// dropGauges removes the endpoint's label series after its record drains.
func (h *endpointHealth) dropGauges() {
	metrics.EndpointState.DeleteLabelValues(h.cfg.ID)
	metrics.EndpointSuccessEWMA.DeleteLabelValues(h.cfg.ID)
	metrics.EndpointLatencyEWMA.DeleteLabelValues(h.cfg.ID)
	metrics.LeasesActive.DeleteLabelValues(h.cfg.ID)
}

// healthStats is a point-in-time copy used by the selector and snapshots.
type healthStats struct {
	cfg            EndpointConfig
	state          EndpointState
	successEWMA    float64
	latencyEWMA    float64
	observedCount  int64
	activeSessions int
	removed        bool
}

func (h *endpointHealth) stats() healthStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return healthStats{
		cfg:            h.cfg,
		state:          h.state,
		successEWMA:    h.successEWMA,
		latencyEWMA:    h.latencyEWMA,
		observedCount:  h.observedCount,
		activeSessions: h.activeSessions,
		removed:        h.removed,
	}
}
