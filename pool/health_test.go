package pool

import (
	"math"
	"testing"
	"time"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestRecordOutcomeEWMA(t *testing.T) {
	h := newEndpointHealth(EndpointConfig{
		ID: "ep", URL: "http://ep", MaxSessions: 4,
		WarmupRequests: 10, SuccessThreshold: 0.9, LatencyThreshold: 1000,
	})
	now := time.Now()
	const alpha = 0.2

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.successEWMA != 1.0 {
		t.Fatalf("seed success EWMA = %v, want 1.0", h.successEWMA)
	}

	h.recordOutcome(alpha, 30*time.Second, Outcome{Success: false, LatencyMS: 100}, now)
	if !almostEqual(h.successEWMA, 0.8) {
		t.Errorf("success EWMA after one failure = %v, want 0.8", h.successEWMA)
	}
	if !almostEqual(h.latencyEWMA, 20) {
		t.Errorf("latency EWMA = %v, want 20", h.latencyEWMA)
	}

	h.recordOutcome(alpha, 30*time.Second, Outcome{Success: true, LatencyMS: 100}, now)
	if !almostEqual(h.successEWMA, 0.2+0.8*0.8) {
		t.Errorf("success EWMA after recovery = %v, want 0.84", h.successEWMA)
	}
	if h.observedCount != 2 {
		t.Errorf("observed count = %d, want 2", h.observedCount)
	}
}

func TestRecordOutcomeClampsNegativeLatency(t *testing.T) {
	h := newEndpointHealth(EndpointConfig{
		ID: "ep", URL: "http://ep", MaxSessions: 4,
		WarmupRequests: 1, SuccessThreshold: 0.9, LatencyThreshold: 1000,
	})

	h.mu.Lock()
	h.recordOutcome(0.2, 30*time.Second, Outcome{Success: true, LatencyMS: -50}, time.Now())
	got := h.latencyEWMA
	h.mu.Unlock()

	if got != 0 {
		t.Errorf("latency EWMA = %v, want 0 for negative input", got)
	}
}

func TestClassification(t *testing.T) {
	cfg := EndpointConfig{
		ID: "ep", URL: "http://ep", MaxSessions: 4,
		WarmupRequests: 3, SuccessThreshold: 0.9, LatencyThreshold: 100,
	}
	now := time.Now()

	t.Run("warming until observation quota", func(t *testing.T) {
		h := newEndpointHealth(cfg)
		h.mu.Lock()
		defer h.mu.Unlock()

		for i := 0; i < 2; i++ {
			h.recordOutcome(0.2, 30*time.Second, Outcome{Success: true, LatencyMS: 10}, now)
			if h.state != StateWarmingUp {
				t.Fatalf("state after %d observations = %v, want warming_up", i+1, h.state)
			}
		}
		h.recordOutcome(0.2, 30*time.Second, Outcome{Success: true, LatencyMS: 10}, now)
		if h.state != StateHealthy {
			t.Errorf("state after warm-up quota = %v, want healthy", h.state)
		}
	})

	t.Run("degraded on slow responses", func(t *testing.T) {
		h := newEndpointHealth(cfg)
		h.mu.Lock()
		defer h.mu.Unlock()

		// Successful but far over the latency threshold.
		for i := 0; i < 20; i++ {
			h.recordOutcome(0.2, 30*time.Second, Outcome{Success: true, LatencyMS: 5000}, now)
		}
		if h.state != StateDegraded {
			t.Errorf("state = %v, want degraded", h.state)
		}
	})

	t.Run("degraded recovers to healthy", func(t *testing.T) {
		h := newEndpointHealth(cfg)
		h.mu.Lock()
		defer h.mu.Unlock()

		for i := 0; i < 20; i++ {
			h.recordOutcome(0.2, 30*time.Second, Outcome{Success: true, LatencyMS: 5000}, now)
		}
		for i := 0; i < 40; i++ {
			h.recordOutcome(0.2, 30*time.Second, Outcome{Success: true, LatencyMS: 5}, now)
		}
		if h.state != StateHealthy {
			t.Errorf("state after recovery = %v, want healthy", h.state)
		}
	})
}

func TestEjectionRequiresSustainedFloor(t *testing.T) {
	cfg := EndpointConfig{
		ID: "ep", URL: "http://ep", MaxSessions: 4,
		WarmupRequests: 1, SuccessThreshold: 0.9, LatencyThreshold: 1000,
	}
	cooldown := 30 * time.Second
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	h := newEndpointHealth(cfg)
	h.mu.Lock()
	defer h.mu.Unlock()

	// Push the EWMA under the hard floor (0.45).
	for h.successEWMA >= cfg.SuccessThreshold/2 {
		h.recordOutcome(0.2, cooldown, Outcome{Success: false, LatencyMS: 10}, now)
	}
	if h.state == StateEjected {
		t.Fatal("ejected immediately, want sustained window first")
	}
	if h.state != StateDegraded {
		t.Fatalf("state under floor = %v, want degraded until cooldown elapses", h.state)
	}

	// Still under the floor after the cooldown window: eject.
	h.recordOutcome(0.2, cooldown, Outcome{Success: false, LatencyMS: 10}, now.Add(cooldown))
	if h.state != StateEjected {
		t.Fatalf("state after sustained floor = %v, want ejected", h.state)
	}

	// Ejection is sticky: further outcomes do not resurrect the endpoint.
	h.recordOutcome(0.2, cooldown, Outcome{Success: true, LatencyMS: 10}, now.Add(cooldown))
	if h.state != StateEjected {
		t.Errorf("state = %v, want ejected to be sticky", h.state)
	}
}

func TestFloorRecoveryResetsWindow(t *testing.T) {
	cfg := EndpointConfig{
		ID: "ep", URL: "http://ep", MaxSessions: 4,
		WarmupRequests: 1, SuccessThreshold: 0.9, LatencyThreshold: 1000,
	}
	cooldown := 30 * time.Second
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	h := newEndpointHealth(cfg)
	h.mu.Lock()
	defer h.mu.Unlock()

	for h.successEWMA >= cfg.SuccessThreshold/2 {
		h.recordOutcome(0.2, cooldown, Outcome{Success: false, LatencyMS: 10}, now)
	}

	// Climb back above the floor before the window elapses.
	for h.successEWMA < cfg.SuccessThreshold/2 {
		h.recordOutcome(0.2, cooldown, Outcome{Success: true, LatencyMS: 10}, now.Add(cooldown/2))
	}
	if !h.belowFloorSince.IsZero() {
		t.Error("belowFloorSince not reset after recovery")
	}

	// Dipping under again restarts the clock; an instant at +cooldown from
	// the first dip must not eject.
	for h.successEWMA >= cfg.SuccessThreshold/2 {
		h.recordOutcome(0.2, cooldown, Outcome{Success: false, LatencyMS: 10}, now.Add(cooldown))
	}
	if h.state == StateEjected {
		t.Error("ejected without a full sustained window after recovery")
	}
}

func TestTryAcquireSlot(t *testing.T) {
	h := newEndpointHealth(EndpointConfig{
		ID: "ep", URL: "http://ep", MaxSessions: 2,
		WarmupRequests: 1, SuccessThreshold: 0.9, LatencyThreshold: 1000,
	})

	if !h.tryAcquireSlot() || !h.tryAcquireSlot() {
		t.Fatal("could not claim slots up to capacity")
	}
	if h.tryAcquireSlot() {
		t.Error("claimed a slot beyond max_sessions")
	}

	h.mu.Lock()
	h.releaseSlot()
	h.mu.Unlock()

	if !h.tryAcquireSlot() {
		t.Error("could not reclaim a returned slot")
	}

	h.mu.Lock()
	h.state = StateEjected
	h.mu.Unlock()
	if h.tryAcquireSlot() {
		t.Error("claimed a slot on an ejected endpoint")
	}

	h.mu.Lock()
	h.state = StateHealthy
	h.removed = true
	h.mu.Unlock()
	if h.tryAcquireSlot() {
		t.Error("claimed a slot on a removed endpoint")
	}
}
