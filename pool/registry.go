package pool

// EndpointConfig describes one upstream endpoint. The pool never mutates it;
// reconfiguration happens by constructing a new pool or calling Reload.
type EndpointConfig struct {
	// ID uniquely identifies the endpoint within the pool.
	ID string `json:"id"`

	// URL is the address the caller dials after acquiring a lease. The pool
	// treats it as an opaque string.
	URL string `json:"url"`

	// Weight is the selection preference among otherwise-equal endpoints.
	// Zero means 1.
	Weight float64 `json:"weight,omitempty"`

	// MaxSessions caps concurrent leases on this endpoint. Must be positive.
	MaxSessions int `json:"max_sessions"`

	// WarmupRequests is the number of observed outcomes required before the
	// endpoint is trusted at full weight. Zero means 10.
	WarmupRequests int `json:"warmup_requests,omitempty"`

	// SuccessThreshold is the success EWMA below which the endpoint is
	// degraded. Zero means 0.9. Half of it is the hard ejection floor.
	SuccessThreshold float64 `json:"success_threshold,omitempty"`

	// LatencyThreshold is the latency EWMA (milliseconds) above which the
	// endpoint is degraded. Zero means 1000.
	LatencyThreshold float64 `json:"latency_threshold_ms,omitempty"`
}

func (c EndpointConfig) withDefaults() EndpointConfig {
	if c.Weight == 0 {
		c.Weight = 1
	}
	if c.WarmupRequests == 0 {
		c.WarmupRequests = 10
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = 0.9
	}
	if c.LatencyThreshold == 0 {
		c.LatencyThreshold = 1000
	}
	return c
}

// registry is the immutable endpoint catalog for one pool cycle. Reload
// swaps the whole registry atomically under the pool lock.
type registry struct {
	byID  map[string]EndpointConfig
	order []string // configuration order, used for deterministic snapshots
}

func newRegistry(endpoints []EndpointConfig) (*registry, error) {
	if len(endpoints) == 0 {
		return nil, configErrorf("at least one endpoint is required")
	}

	r := &registry{
		byID:  make(map[string]EndpointConfig, len(endpoints)),
		order: make([]string, 0, len(endpoints)),
	}

	for i, ep := range endpoints {
		if ep.ID == "" {
			return nil, configErrorf("endpoint[%d]: empty identifier", i)
		}
		if _, dup := r.byID[ep.ID]; dup {
			return nil, configErrorf("endpoint[%d]: duplicate identifier %q", i, ep.ID)
		}
		if ep.URL == "" {
			return nil, configErrorf("endpoint %q: empty url", ep.ID)
		}
		if ep.MaxSessions <= 0 {
			return nil, configErrorf("endpoint %q: max_sessions must be positive, got %d", ep.ID, ep.MaxSessions)
		}
		if ep.Weight < 0 {
			return nil, configErrorf("endpoint %q: weight must not be negative, got %g", ep.ID, ep.Weight)
		}

		r.byID[ep.ID] = ep.withDefaults()
		r.order = append(r.order, ep.ID)
	}

	return r, nil
}

func (r *registry) get(id string) (EndpointConfig, bool) {
	cfg, ok := r.byID[id]
	return cfg, ok
}
