// Package retry wraps a remote operation with bounded retries, exponential
// backoff and sliding-window admission control.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/infralens/infralens/pkg/apierr"
	"github.com/infralens/infralens/pkg/clock"
	"github.com/infralens/infralens/pkg/metrics"
)

// Config holds retry configuration.
type Config struct {
	// MaxRetries is the maximum number of attempts per logical call.
	MaxRetries int

	// InitialDelay is the wait after the first retryable failure.
	InitialDelay time.Duration

	// MaxDelay caps the wait between attempts.
	MaxDelay time.Duration

	// BackoffFactor multiplies the delay after each wait.
	BackoffFactor float64
}

// DefaultConfig returns 3 attempts, 2s initial delay doubling up to 30s.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    3,
		InitialDelay:  2 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2,
	}
}

// Gate is the admission check consulted before every attempt.
type Gate interface {
	CanProceed() bool
	Record()
	TimeUntilNextSlot() time.Duration
}

// Attempt describes a failed attempt that the controller will retry or give up on.
type Attempt struct {
	Index     int
	Delay     time.Duration
	Remaining int
	Err       error
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("maximum retry attempts reached (%d): %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the time source used for sleeping.
func WithClock(c clock.Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(ctl *Controller) { ctl.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(ctl *Controller) { ctl.metrics = m }
}

// Controller executes operations under the retry policy.
type Controller struct {
	cfg     Config
	gate    Gate
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// New creates a Controller. A nil gate admits every attempt.
func New(cfg Config, gate Gate, opts ...Option) *Controller {
	def := DefaultConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = def.BackoffFactor
	}
	if gate == nil {
		gate = openGate{}
	}
	c := &Controller{
		cfg:    cfg,
		gate:   gate,
		clock:  clock.Real{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the effective policy.
func (c *Controller) Config() Config {
	return c.cfg
}

// WithMaxRetries returns a copy of c that makes at most n attempts.
func (c *Controller) WithMaxRetries(n int) *Controller {
	cp := *c
	if n > 0 {
		cp.cfg.MaxRetries = n
	}
	return &cp
}

// Execute runs op until it succeeds, fails with a non-retryable error or the
// attempts run out. The gate is credited only after a successful dispatch.
// onFailure, when non-nil, is called for every retryable failure.
func (c *Controller) Execute(ctx context.Context, name string, op func(ctx context.Context) error, onFailure func(Attempt)) error {
	delay := c.cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		err := c.attempt(ctx, name, op)
		if err == nil {
			return nil
		}
		lastErr = err

		if !apierr.IsRetryable(err) {
			return err
		}

		remaining := c.cfg.MaxRetries - attempt - 1
		if onFailure != nil {
			onFailure(Attempt{Index: attempt, Delay: delay, Remaining: remaining, Err: err})
		}
		if remaining == 0 {
			break
		}

		c.logger.Debug("request failed, retrying",
			"operation", name,
			"attempt", attempt+1,
			"max_attempts", c.cfg.MaxRetries,
			"backoff", delay,
			"error", err)
		c.metrics.ObserveBackoff(name, delay)

		if err := c.clock.Sleep(ctx, delay); err != nil {
			return err
		}
		delay = c.next(delay)
	}

	c.logger.Warn("retries exhausted", "operation", name, "attempts", c.cfg.MaxRetries, "error", lastErr)
	return &ExhaustedError{Attempts: c.cfg.MaxRetries, Err: lastErr}
}

func (c *Controller) attempt(ctx context.Context, name string, op func(ctx context.Context) error) error {
	if !c.gate.CanProceed() {
		c.metrics.ObserveRateLimited(name)
		return apierr.RateLimited(name, c.gate.TimeUntilNextSlot())
	}

	start := c.clock.Now()
	err := op(ctx)
	elapsed := c.clock.Now().Sub(start)
	if err != nil {
		c.metrics.ObserveDispatch(name, string(apierr.KindOf(err)), elapsed)
		return err
	}
	c.gate.Record()
	c.metrics.ObserveDispatch(name, "success", elapsed)
	return nil
}

func (c *Controller) next(delay time.Duration) time.Duration {
	n := time.Duration(float64(delay) * c.cfg.BackoffFactor)
	if n > c.cfg.MaxDelay {
		n = c.cfg.MaxDelay
	}
	return n
}

// Do is Execute for operations that return a value.
func Do[T any](ctx context.Context, c *Controller, name string, op func(ctx context.Context) (T, error), onFailure func(Attempt)) (T, error) {
	var out T
	err := c.Execute(ctx, name, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, onFailure)
	return out, err
}

type openGate struct{}

func (openGate) CanProceed() bool                 { return true }
func (openGate) Record()                          {}
func (openGate) TimeUntilNextSlot() time.Duration { return 0 }
