package pool

import (
	"context"
	"sync"
	"time"

	"github.com/lakeward/ferry/config"
	"github.com/lakeward/ferry/idgen"
	"github.com/lakeward/ferry/logger"
	"github.com/lakeward/ferry/pkg/metrics"
)

const minReclaimInterval = time.Second

// Config holds the pool tunables. Zero values mean defaults.
type Config struct {
	Endpoints []EndpointConfig

	// DefaultLeaseTTL applies when Acquire is called without a TTL.
	// Default: 1m.
	DefaultLeaseTTL time.Duration

	// SmoothingAlpha is the EWMA smoothing constant in (0,1]. Default: 0.2.
	SmoothingAlpha float64

	// WarmupScaleFactor divides an endpoint's weight while it warms up.
	// Default: 4.
	WarmupScaleFactor float64

	// EjectionCooldown is both the sustained hard-floor window that triggers
	// ejection and the timer after which an ejected endpoint is re-admitted
	// for a fresh warm-up. Default: 30s.
	EjectionCooldown time.Duration

	// StickinessTTL bounds how long a client sticks to its endpoint.
	// Default: 5m.
	StickinessTTL time.Duration

	// ReclaimInterval is the expired-lease sweep period. Default: a quarter
	// of DefaultLeaseTTL, floored at one second to bound sweep overhead.
	ReclaimInterval time.Duration
}

func (c Config) normalized() Config {
	if c.DefaultLeaseTTL <= 0 {
		c.DefaultLeaseTTL = time.Minute
	}
	if c.SmoothingAlpha <= 0 {
		c.SmoothingAlpha = 0.2
	}
	if c.WarmupScaleFactor < 1 {
		c.WarmupScaleFactor = 4
	}
	if c.EjectionCooldown <= 0 {
		c.EjectionCooldown = 30 * time.Second
	}
	if c.StickinessTTL <= 0 {
		c.StickinessTTL = 5 * time.Minute
	}
	if c.ReclaimInterval <= 0 {
		c.ReclaimInterval = c.DefaultLeaseTTL / 4
		if c.ReclaimInterval < minReclaimInterval {
			c.ReclaimInterval = minReclaimInterval
		}
	}
	return c
}

// FromConfig converts a TOML pool configuration into a runtime Config.
func FromConfig(pc config.PoolConfig) (Config, error) {
	ttl, err := pc.GetDefaultLeaseTTL()
	if err != nil {
		return Config{}, configErrorf("default_lease_ttl: %v", err)
	}
	cooldown, err := pc.GetEjectionCooldown()
	if err != nil {
		return Config{}, configErrorf("ejection_cooldown: %v", err)
	}
	sticky, err := pc.GetStickinessTTL()
	if err != nil {
		return Config{}, configErrorf("stickiness_ttl: %v", err)
	}
	reclaim, err := pc.GetReclaimInterval()
	if err != nil {
		return Config{}, configErrorf("reclaim_interval: %v", err)
	}

	endpoints := make([]EndpointConfig, 0, len(pc.Endpoints))
	for _, ep := range pc.Endpoints {
		endpoints = append(endpoints, EndpointConfig{
			ID:               ep.ID,
			URL:              ep.URL,
			Weight:           ep.Weight,
			MaxSessions:      ep.MaxSessions,
			WarmupRequests:   ep.WarmupRequests,
			SuccessThreshold: ep.SuccessThreshold,
			LatencyThreshold: ep.LatencyThresholdMS,
		})
	}

	return Config{
		Endpoints:         endpoints,
		DefaultLeaseTTL:   ttl,
		SmoothingAlpha:    pc.SmoothingAlpha,
		WarmupScaleFactor: pc.WarmupScaleFactor,
		EjectionCooldown:  cooldown,
		StickinessTTL:     sticky,
		ReclaimInterval:   reclaim,
	}, nil
}

// AcquireOptions parameterizes a single Acquire call.
type AcquireOptions struct {
	// ClientID, if set, requests session affinity: repeat acquisitions route
	// to the same endpoint while it stays usable.
	ClientID string

	// TTL overrides the pool's default lease TTL for this lease.
	TTL time.Duration
}

// Pool brokers session leases across a set of upstream endpoints. All
// methods are safe for concurrent use; none performs network I/O or blocks
// beyond lock contention.
type Pool struct {
	cfg Config

	// mu guards the registry pointer and the health map structure. The
	// per-endpoint records carry their own locks.
	mu       sync.RWMutex
	registry *registry
	health   map[string]*endpointHealth

	leaseMu sync.Mutex
	leases  map[string]*Lease

	sticky *StickinessTable

	now func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool
}

// New constructs a pool from the given configuration. It fails with a
// *ConfigurationError on duplicate identifiers, non-positive max_sessions,
// or negative weight. Call Start to run the background reclaimer.
func New(cfg Config) (*Pool, error) {
	reg, err := newRegistry(cfg.Endpoints)
	if err != nil {
		return nil, err
	}

	cfg.Endpoints = nil // the registry owns the normalized copies
	cfg = cfg.normalized()

	p := &Pool{
		cfg:      cfg,
		registry: reg,
		health:   make(map[string]*endpointHealth, len(reg.order)),
		leases:   make(map[string]*Lease),
		sticky:   NewStickinessTable(cfg.StickinessTTL, 0),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}

	for _, id := range reg.order {
		p.health[id] = newEndpointHealth(reg.byID[id])
	}

	logger.Info("Pool: initialized", "endpoints", len(reg.order),
		"default_lease_ttl", cfg.DefaultLeaseTTL, "smoothing_alpha", cfg.SmoothingAlpha)

	return p, nil
}

// Start launches the background lease reclaimer. It returns immediately;
// the reclaimer stops when ctx is cancelled or Stop is called.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.runReclaimer(ctx)
}

// Stop terminates the background routines and waits for them. Idempotent.
// Outstanding leases stay valid; Release still reclaims their capacity.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	p.wg.Wait()
	p.sticky.Stop()
}

// Acquire leases one session slot on an eligible endpoint. It never blocks:
// either a lease is returned or ErrPoolExhausted, leaving retry policy to
// the caller.
func (p *Pool) Acquire(opts AcquireOptions) (*Lease, error) {
	h, err := p.selectEndpoint(opts.ClientID)
	if err != nil {
		metrics.AcquiresTotal.WithLabelValues("exhausted").Inc()
		logger.Debug("Pool: acquire failed", "client", opts.ClientID, "error", err)
		return nil, err
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = p.cfg.DefaultLeaseTTL
	}

	h.mu.Lock()
	cfg := h.cfg
	h.mu.Unlock()

	now := p.now()
	lease := &Lease{
		ID:          idgen.New(),
		EndpointID:  cfg.ID,
		EndpointURL: cfg.URL,
		ClientID:    opts.ClientID,
		IssuedAt:    now,
		ExpiresAt:   now.Add(ttl),
		status:      LeaseActive,
	}

	p.leaseMu.Lock()
	p.leases[lease.ID] = lease
	p.leaseMu.Unlock()

	metrics.AcquiresTotal.WithLabelValues("ok").Inc()
	metrics.LeasesActive.WithLabelValues(cfg.ID).Inc()
	logger.Debug("Pool: lease acquired", "lease", lease.ID, "endpoint", cfg.ID,
		"client", opts.ClientID, "expires_at", lease.ExpiresAt)

	return lease, nil
}

// Release returns a lease's session slot and, if an outcome is supplied,
// feeds it into the endpoint's health estimator. A nil outcome reclaims
// capacity without recording a health signal. Release is idempotent:
// double-release and release-after-expiry are silent no-ops.
func (p *Pool) Release(lease *Lease, outcome *Outcome) {
	if lease == nil {
		return
	}

	if !lease.transition(LeaseReleased) {
		metrics.ReleasesTotal.WithLabelValues("duplicate").Inc()
		return
	}

	p.finishLease(lease, outcome)
	metrics.ReleasesTotal.WithLabelValues("released").Inc()
	logger.Debug("Pool: lease released", "lease", lease.ID, "endpoint", lease.EndpointID)
}

// finishLease performs the bookkeeping shared by release and reclaim: drop
// the lease from the table, return the slot, and record the outcome. The
// caller must already have won the status transition.
func (p *Pool) finishLease(lease *Lease, outcome *Outcome) {
	p.leaseMu.Lock()
	delete(p.leases, lease.ID)
	p.leaseMu.Unlock()

	p.mu.RLock()
	h := p.health[lease.EndpointID]
	p.mu.RUnlock()

	if h == nil {
		// The endpoint's record already drained away after a reload; the
		// lease was the caller's last reference to it.
		return
	}

	h.mu.Lock()
	h.releaseSlot()
	if outcome != nil {
		h.recordOutcome(p.cfg.SmoothingAlpha, p.cfg.EjectionCooldown, *outcome, p.now())
	}
	h.mu.Unlock()

	metrics.LeasesActive.WithLabelValues(lease.EndpointID).Dec()
	metrics.LeaseDuration.Observe(p.now().Sub(lease.IssuedAt).Seconds())
}

// Readmit manually re-admits an ejected endpoint, resetting it to a fresh
// warm-up. Returns false if the endpoint does not exist or is not ejected.
func (p *Pool) Readmit(endpointID string) bool {
	p.mu.RLock()
	h := p.health[endpointID]
	p.mu.RUnlock()

	if h == nil {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateEjected {
		return false
	}
	h.readmit("manual")
	return true
}

// Reload atomically swaps the endpoint registry. Health state is preserved
// for identifiers that persist across the reload; new identifiers start a
// fresh warm-up. Removed endpoints stop receiving leases immediately but
// their outstanding leases drain naturally.
func (p *Pool) Reload(endpoints []EndpointConfig) error {
	reg, err := newRegistry(endpoints)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Flag endpoints that disappeared; the reclaimer drops their records
	// once the last lease drains.
	for id, h := range p.health {
		if _, kept := reg.get(id); !kept {
			h.mu.Lock()
			h.removed = true
			h.mu.Unlock()
		}
	}

	added, retained := 0, 0
	for _, id := range reg.order {
		cfg := reg.byID[id]
		if h, ok := p.health[id]; ok {
			h.mu.Lock()
			h.cfg = cfg
			h.removed = false
			// Reclassify against the new thresholds without consuming an
			// observation.
			h.classify(p.cfg.EjectionCooldown, p.now())
			h.publishGauges()
			h.mu.Unlock()
			retained++
		} else {
			p.health[id] = newEndpointHealth(cfg)
			added++
		}
	}

	p.registry = reg

	logger.Info("Pool: registry reloaded", "endpoints", len(reg.order),
		"added", added, "retained", retained)

	return nil
}
