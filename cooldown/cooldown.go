// Package cooldown implements a per-command rate-limit gate.
//
// A Gate is Idle until Arm is called, then stays in Cooldown until its timeout
// elapses. Expiry is stored as a timestamp and compared on read so no timer or
// goroutine is needed per gate.
package cooldown

import (
	"sync"
	"time"
)

// Gate suppresses repeated actions within a fixed timeout.
type Gate struct {
	mu      sync.Mutex
	timeout time.Duration
	until   time.Time
	now     func() time.Time
}

// New returns an idle gate. A nil clock defaults to time.Now.
func New(timeout time.Duration, now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{timeout: timeout, now: now}
}

// Timeout reports the configured cooldown length.
func (g *Gate) Timeout() time.Duration { return g.timeout }

// Ready reports whether the gate is idle.
func (g *Gate) Ready() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.now().Before(g.until)
}

// Arm moves an idle gate into cooldown. Arming an already armed gate does not
// extend its expiry.
func (g *Gate) Arm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if now.Before(g.until) {
		return
	}
	g.until = now.Add(g.timeout)
}

// TryArm arms the gate if it is idle and reports whether it did.
func (g *Gate) TryArm() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if now.Before(g.until) {
		return false
	}
	g.until = now.Add(g.timeout)
	return true
}

// Remaining returns how long the gate stays in cooldown, or 0 when idle.
func (g *Gate) Remaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	d := g.until.Sub(g.now())
	if d < 0 {
		return 0
	}
	return d
}
