package pool

import (
	"context"
	"time"

	"github.com/lakeward/ferry/logger"
	"github.com/lakeward/ferry/pkg/metrics"
)

// runReclaimer periodically expires overdue leases and performs health
// housekeeping. It is the one routine that reclaims capacity when callers
// crash without releasing.
func (p *Pool) runReclaimer(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.ReclaimInterval)
	defer ticker.Stop()

	logger.Info("Pool: reclaimer started", "interval", p.cfg.ReclaimInterval)

	for {
		select {
		case <-ticker.C:
			p.sweepOnce(p.now())
		case <-ctx.Done():
			logger.Info("Pool: reclaimer stopping, context cancelled")
			return
		case <-p.stopCh:
			logger.Info("Pool: reclaimer stopping")
			return
		}
	}
}

// sweepOnce runs one reclaim pass at the given instant.
func (p *Pool) sweepOnce(now time.Time) {
	p.reclaimExpired(now)
	p.sweepHealth(now)
}

// reclaimExpired force-releases every lease whose deadline passed. An
// expired lease counts as one failed observation at the endpoint's latency
// threshold: an abandoned session is evidence against the endpoint, but not
// evidence of unbounded latency.
func (p *Pool) reclaimExpired(now time.Time) {
	p.leaseMu.Lock()
	expired := make([]*Lease, 0)
	for _, lease := range p.leases {
		if now.After(lease.ExpiresAt) {
			expired = append(expired, lease)
		}
	}
	p.leaseMu.Unlock()

	for _, lease := range expired {
		// A concurrent Release may beat us here; exactly one side wins.
		if !lease.transition(LeaseExpired) {
			continue
		}

		p.mu.RLock()
		h := p.health[lease.EndpointID]
		p.mu.RUnlock()

		var outcome *Outcome
		if h != nil {
			h.mu.Lock()
			outcome = &Outcome{Success: false, LatencyMS: h.cfg.LatencyThreshold}
			h.mu.Unlock()
		}

		p.finishLease(lease, outcome)
		metrics.ReclaimedLeasesTotal.Inc()
		logger.Warn("Pool: lease expired, capacity reclaimed", "lease", lease.ID,
			"endpoint", lease.EndpointID, "client", lease.ClientID,
			"expired_at", lease.ExpiresAt)
	}
}

// sweepHealth re-admits ejected endpoints whose cooldown elapsed and drops
// drained records of endpoints removed by a reload.
func (p *Pool) sweepHealth(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, h := range p.health {
		h.mu.Lock()
		switch {
		case h.state == StateEjected && !h.removed &&
			now.Sub(h.ejectedAt) >= p.cfg.EjectionCooldown:
			h.readmit("timer")

		case h.removed && h.activeSessions == 0:
			h.dropGauges()
			delete(p.health, id)
			logger.Info("Pool: removed endpoint drained", "endpoint", id)
		}
		h.mu.Unlock()
	}
}
