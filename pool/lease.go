package pool

import (
	"sync"
	"time"
)

// LeaseStatus is the lifecycle state of a lease.
type LeaseStatus int

const (
	LeaseActive LeaseStatus = iota
	LeaseReleased
	LeaseExpired
)

func (s LeaseStatus) String() string {
	switch s {
	case LeaseActive:
		return "active"
	case LeaseReleased:
		return "released"
	case LeaseExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Lease is a time-bounded grant of one session slot on an endpoint. It is
// counted against the endpoint's active sessions exactly while its status is
// active. Callers that decide not to use a lease must still Release it;
// otherwise the slot stays held until the TTL reclaimer expires it.
type Lease struct {
	ID          string
	EndpointID  string
	EndpointURL string
	ClientID    string
	IssuedAt    time.Time
	ExpiresAt   time.Time

	mu     sync.Mutex
	status LeaseStatus
}

// Status returns the lease's current lifecycle state.
func (l *Lease) Status() LeaseStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// transition moves the lease from active to the given terminal status.
// Returns false if the lease already left active, which makes release and
// reclaim races resolve to exactly one winner.
func (l *Lease) transition(to LeaseStatus) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status != LeaseActive {
		return false
	}
	l.status = to
	return true
}
