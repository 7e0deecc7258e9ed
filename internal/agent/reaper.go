package agent

import (
	"context"
	"log"
	"time"
)

// Reaper expires idle sessions and eventually evicts terminal ones from the
// registry. It is the only non-caller source of state transitions.
type Reaper struct {
	machine     *Machine
	idleTimeout time.Duration
	interval    time.Duration
	retention   time.Duration
}

// NewReaper builds a reaper sweeping every interval for sessions idle longer
// than idleTimeout. Terminal sessions linger for twice the idle timeout so
// status queries keep working, then get evicted.
func NewReaper(m *Machine, idleTimeout, interval time.Duration) *Reaper {
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Minute
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reaper{
		machine:     m,
		idleTimeout: idleTimeout,
		interval:    interval,
		retention:   2 * idleTimeout,
	}
}

// Run sweeps until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep performs one pass. Exposed for tests.
func (r *Reaper) Sweep(ctx context.Context) {
	now := time.Now().UTC()
	for _, s := range r.machine.Registry().All() {
		idle := now.Sub(s.idleSince())
		if s.Status().Terminal() {
			if idle > r.retention {
				r.machine.Registry().Remove(s.ID)
				log.Printf("session %s: evicted from registry", s.ID)
			}
			continue
		}
		if idle <= r.idleTimeout {
			continue
		}
		r.expire(ctx, s)
	}
}

// expire transitions an idle session to abandoned. It takes the same
// per-session turn lock as SubmitResponse so it can never race a live turn;
// a busy session is by definition not idle, so a held lock means skip.
func (r *Reaper) expire(ctx context.Context, s *Session) {
	if !s.turnMu.TryLock() {
		return
	}
	defer s.turnMu.Unlock()

	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return
	}
	s.status = StatusAbandoned
	s.reason = "idle timeout"
	s.expired = true
	s.updatedAt = time.Now().UTC()
	s.mu.Unlock()

	r.machine.persistStatus(ctx, s, StatusAbandoned, "idle timeout")
	r.machine.Registry().ReleaseRespondent(s.Employee.ID, s.ID)
	log.Printf("session %s: reaped after %s idle", s.ID, r.idleTimeout)
}
