// Package ratelimit implements sliding-window admission control for calls
// to the upstream service.
package ratelimit

import (
	"sync"
	"time"

	"github.com/infralens/infralens/pkg/clock"
)

// Config sets the window size.
type Config struct {
	MaxRequests int
	Window      time.Duration
}

// DefaultConfig allows 10 requests per minute.
func DefaultConfig() Config {
	return Config{MaxRequests: 10, Window: time.Minute}
}

// Limiter tracks dispatch timestamps, oldest first. It is safe for
// concurrent use.
type Limiter struct {
	cfg   Config
	clock clock.Clock

	mu     sync.Mutex
	stamps []time.Time
}

// New returns a Limiter. A nil clock uses the wall clock.
func New(cfg Config, c clock.Clock) *Limiter {
	def := DefaultConfig()
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if c == nil {
		c = clock.Real{}
	}
	return &Limiter{cfg: cfg, clock: c}
}

// CanProceed prunes timestamps outside the window and reports whether
// another request fits.
func (l *Limiter) CanProceed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(l.clock.Now())
	return len(l.stamps) < l.cfg.MaxRequests
}

// Record notes a dispatched request. Call it only after a real dispatch.
func (l *Limiter) Record() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stamps = append(l.stamps, l.clock.Now())
}

// TimeUntilNextSlot returns zero when a request can proceed, otherwise the
// time until the oldest timestamp leaves the window.
func (l *Limiter) TimeUntilNextSlot() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	l.pruneLocked(now)
	if len(l.stamps) < l.cfg.MaxRequests {
		return 0
	}
	wait := l.stamps[0].Add(l.cfg.Window).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// InWindow returns the number of timestamps currently inside the window.
func (l *Limiter) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(l.clock.Now())
	return len(l.stamps)
}

// Config returns the limiter configuration.
func (l *Limiter) Config() Config {
	return l.cfg
}

func (l *Limiter) pruneLocked(now time.Time) {
	cut := 0
	for cut < len(l.stamps) && now.Sub(l.stamps[cut]) >= l.cfg.Window {
		cut++
	}
	if cut > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[cut:]...)
	}
}
