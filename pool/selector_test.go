package pool

import (
	"errors"
	"testing"
	"time"
)

func TestSelectionScore(t *testing.T) {
	base := healthStats{
		cfg: EndpointConfig{
			ID: "ep", Weight: 2, MaxSessions: 10,
			SuccessThreshold: 0.9, LatencyThreshold: 100,
		},
		state:       StateHealthy,
		successEWMA: 1.0,
		latencyEWMA: 0,
	}

	t.Run("idle healthy endpoint scores its full weight", func(t *testing.T) {
		if got := selectionScore(base, 4); !almostEqual(got, 2) {
			t.Errorf("score = %v, want 2", got)
		}
	})

	t.Run("warm-up scales weight down", func(t *testing.T) {
		s := base
		s.state = StateWarmingUp
		if got := selectionScore(s, 4); !almostEqual(got, 0.5) {
			t.Errorf("score = %v, want 0.5", got)
		}
	})

	t.Run("load reduces score linearly", func(t *testing.T) {
		s := base
		s.activeSessions = 5
		if got := selectionScore(s, 4); !almostEqual(got, 1) {
			t.Errorf("score at half load = %v, want 1", got)
		}
		s.activeSessions = 10
		if got := selectionScore(s, 4); got != 0 {
			t.Errorf("score at full load = %v, want 0", got)
		}
	})

	t.Run("latency at threshold halves the score", func(t *testing.T) {
		s := base
		s.latencyEWMA = 100
		if got := selectionScore(s, 4); !almostEqual(got, 1) {
			t.Errorf("score = %v, want 1", got)
		}
	})

	t.Run("failures reduce score proportionally", func(t *testing.T) {
		s := base
		s.successEWMA = 0.5
		if got := selectionScore(s, 4); !almostEqual(got, 1) {
			t.Errorf("score = %v, want 1", got)
		}
	})
}

func TestSampleWeighted(t *testing.T) {
	// A zero-weight entry must never be picked when another carries all the
	// weight.
	for i := 0; i < 100; i++ {
		if idx := sampleWeighted([]float64{0, 3}, 3); idx != 1 {
			t.Fatalf("sampleWeighted picked zero-weight index %d", idx)
		}
	}
}

func TestStickinessRoutesRepeatClients(t *testing.T) {
	p, _ := newTestPool(t, Config{Endpoints: []EndpointConfig{
		{ID: "a", URL: "http://a", Weight: 1, MaxSessions: 8},
		{ID: "b", URL: "http://b", Weight: 1, MaxSessions: 8},
		{ID: "c", URL: "http://c", Weight: 1, MaxSessions: 8},
	}})

	first, err := p.Acquire(AcquireOptions{ClientID: "tenant-7"})
	if err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}
	p.Release(first, &Outcome{Success: true, LatencyMS: 5})

	for i := 0; i < 100; i++ {
		lease, err := p.Acquire(AcquireOptions{ClientID: "tenant-7"})
		if err != nil {
			t.Fatalf("Acquire() %d failed: %v", i, err)
		}
		if lease.EndpointID != first.EndpointID {
			t.Fatalf("acquire %d routed to %s, want sticky endpoint %s",
				i, lease.EndpointID, first.EndpointID)
		}
		p.Release(lease, &Outcome{Success: true, LatencyMS: 5})
	}
}

func TestStickinessExpiresWithTTL(t *testing.T) {
	p, clock := newTestPool(t, Config{
		Endpoints:     testEndpoints(),
		StickinessTTL: time.Minute,
	})

	lease, err := p.Acquire(AcquireOptions{ClientID: "tenant-7"})
	if err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}
	p.Release(lease, nil)

	clock.Advance(2 * time.Minute)

	if _, ok := p.sticky.Get("tenant-7"); ok {
		t.Error("stickiness entry survived past its TTL")
	}
}

func TestStickinessDroppedForEjectedEndpoint(t *testing.T) {
	p, clock := newTestPool(t, Config{Endpoints: []EndpointConfig{
		{ID: "a", URL: "http://a", Weight: 1, MaxSessions: 8, WarmupRequests: 1, SuccessThreshold: 0.9},
		{ID: "b", URL: "http://b", Weight: 1, MaxSessions: 8, WarmupRequests: 1, SuccessThreshold: 0.9},
	}})

	lease, err := p.Acquire(AcquireOptions{ClientID: "tenant-7"})
	if err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}
	p.Release(lease, nil)

	ejectEndpoint(t, p, clock, lease.EndpointID)

	next, err := p.Acquire(AcquireOptions{ClientID: "tenant-7"})
	if err != nil {
		t.Fatalf("Acquire() after ejection failed: %v", err)
	}
	defer p.Release(next, nil)

	if next.EndpointID == lease.EndpointID {
		t.Errorf("client still routed to ejected endpoint %s", lease.EndpointID)
	}
	if _, ok := p.sticky.Get("tenant-7"); !ok {
		t.Error("no fresh stickiness entry after re-route")
	}
}

func TestEjectedEndpointNotSelected(t *testing.T) {
	p, clock := newTestPool(t, Config{Endpoints: []EndpointConfig{
		{ID: "solo", URL: "http://solo", MaxSessions: 4, WarmupRequests: 1, SuccessThreshold: 0.9},
	}})

	ejectEndpoint(t, p, clock, "solo")

	if _, err := p.Acquire(AcquireOptions{}); !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("Acquire() error = %v, want ErrPoolExhausted", err)
	}
}

func TestDegradedEndpointIsLastResort(t *testing.T) {
	p, _ := newTestPool(t, Config{Endpoints: []EndpointConfig{
		{ID: "good", URL: "http://good", Weight: 1, MaxSessions: 1, WarmupRequests: 1, SuccessThreshold: 0.9, LatencyThreshold: 100},
		{ID: "slow", URL: "http://slow", Weight: 1, MaxSessions: 4, WarmupRequests: 1, SuccessThreshold: 0.9, LatencyThreshold: 100},
	}})

	feedOutcomes(t, p, "good", 20, Outcome{Success: true, LatencyMS: 5})
	feedOutcomes(t, p, "slow", 20, Outcome{Success: true, LatencyMS: 5000})

	if st, _ := p.EndpointStatus("slow"); st.State != "degraded" {
		t.Fatalf("slow endpoint state = %s, want degraded", st.State)
	}

	// While the healthy endpoint has capacity, it wins every time.
	for i := 0; i < 20; i++ {
		lease, err := p.Acquire(AcquireOptions{})
		if err != nil {
			t.Fatalf("Acquire() failed: %v", err)
		}
		if lease.EndpointID != "good" {
			t.Fatalf("acquire %d routed to %s with healthy capacity available", i, lease.EndpointID)
		}
		p.Release(lease, nil)
	}

	// Saturate the healthy endpoint: selection falls through to degraded
	// rather than failing outright.
	held, err := p.Acquire(AcquireOptions{})
	if err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}
	defer p.Release(held, nil)

	overflow, err := p.Acquire(AcquireOptions{})
	if err != nil {
		t.Fatalf("Acquire() with saturated healthy tier failed: %v", err)
	}
	defer p.Release(overflow, nil)

	if overflow.EndpointID != "slow" {
		t.Errorf("overflow routed to %s, want degraded fallback slow", overflow.EndpointID)
	}
}

func TestWarmingEndpointGetsReducedShare(t *testing.T) {
	p, _ := newTestPool(t, Config{
		Endpoints: []EndpointConfig{
			{ID: "veteran", URL: "http://veteran", Weight: 1, MaxSessions: 64, WarmupRequests: 5, SuccessThreshold: 0.9, LatencyThreshold: 100},
			{ID: "rookie", URL: "http://rookie", Weight: 1, MaxSessions: 64, WarmupRequests: 1000, SuccessThreshold: 0.9, LatencyThreshold: 100},
		},
		WarmupScaleFactor: 4,
	})

	feedOutcomes(t, p, "veteran", 10, Outcome{Success: true, LatencyMS: 5})

	rookie := 0
	const trials = 2000
	for i := 0; i < trials; i++ {
		lease, err := p.Acquire(AcquireOptions{})
		if err != nil {
			t.Fatalf("Acquire() failed: %v", err)
		}
		if lease.EndpointID == "rookie" {
			rookie++
		}
		p.Release(lease, nil)
	}

	// Expected share is 1/(1+4) = 20%; allow a wide statistical margin but
	// require a clear reduction from the 50% an unweighted split would give.
	share := float64(rookie) / trials
	if share > 0.35 {
		t.Errorf("warming endpoint share = %.2f, want well under 0.5", share)
	}
	if rookie == 0 {
		t.Error("warming endpoint received no traffic at all")
	}
}

// feedOutcomes records n identical observations against an endpoint.
func feedOutcomes(t *testing.T, p *Pool, id string, n int, o Outcome) {
	t.Helper()

	p.mu.RLock()
	h := p.health[id]
	p.mu.RUnlock()
	if h == nil {
		t.Fatalf("endpoint %s not found", id)
	}

	for i := 0; i < n; i++ {
		h.mu.Lock()
		h.recordOutcome(p.cfg.SmoothingAlpha, p.cfg.EjectionCooldown, o, p.now())
		h.mu.Unlock()
	}
}
