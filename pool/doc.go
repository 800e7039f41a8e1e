// Package pool implements an adaptive proxy pool: a session broker that
// leases time-bounded session slots on a set of upstream endpoints while
// continuously scoring their health from observed traffic outcomes.
//
// The pool performs no network I/O itself. Callers acquire a lease, dial the
// endpoint's URL with their own client, and report the outcome on release:
//
//	p, err := pool.New(pool.Config{
//		Endpoints: []pool.EndpointConfig{
//			{ID: "us-east", URL: "socks5://10.0.0.1:1080", Weight: 2, MaxSessions: 20},
//			{ID: "eu-west", URL: "socks5://10.0.1.1:1080", Weight: 1, MaxSessions: 10},
//		},
//	})
//	if err != nil {
//		// invalid endpoint configuration
//	}
//	p.Start(ctx) // background lease reclaimer
//	defer p.Stop()
//
//	lease, err := p.Acquire(pool.AcquireOptions{ClientID: "user-42"})
//	if errors.Is(err, pool.ErrPoolExhausted) {
//		// back off and retry
//	}
//	// ... perform I/O against lease.EndpointURL ...
//	p.Release(lease, &pool.Outcome{Success: true, LatencyMS: 37.5})
//
// # Selection
//
// Endpoints are picked by weighted random sampling over a live score that
// combines configured weight, spare capacity, and health (success and
// latency EWMAs). Clients supplying a ClientID stick to their previous
// endpoint while it stays usable. New endpoints pass through a warm-up
// period at reduced weight; persistently failing endpoints are ejected
// until re-admitted.
//
// # Lifecycle
//
// A lease is active until released or until its TTL expires. Expired leases
// are reclaimed by a background sweeper and counted as failures against the
// endpoint's health, since an abandoned lease usually means the holder died
// or stalled. Release is idempotent; racing an explicit release against the
// reclaimer is expected and harmless.
package pool
