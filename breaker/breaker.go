// Package breaker isolates a single external dependency behind a
// closed/open/half-open circuit. Use one Breaker per dependency.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"judgments-backend/logger"
	"judgments-backend/metrics"
)

// ErrOpen is returned without calling the dependency while the circuit is open.
var ErrOpen = errors.New("circuit open")

var errPanicked = errors.New("call panicked")

// State of a breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config holds breaker thresholds and the clock
type Config struct {
	Name             string
	FailureThreshold int           // consecutive failures that open the circuit, default 3
	SuccessThreshold int           // half-open successes must exceed this to close, default 2
	Timeout          time.Duration // how long the circuit stays open, default 60s
	Now              func() time.Time
}

// Snapshot is a point-in-time copy of the breaker counters
type Snapshot struct {
	State           State
	FailureCount    int
	SuccessCount    int
	NextAttemptTime time.Time
}

// Breaker is safe for concurrent use
type Breaker struct {
	cfg     Config
	log     logger.Logger
	metrics *metrics.Metrics

	mu              sync.Mutex
	state           State
	failureCount    int
	successCount    int
	nextAttemptTime time.Time
	probing         bool
	generation      uint64 // bumped on every state change
}

// ticket ties a call's outcome to the state it was admitted in
type ticket struct {
	generation uint64
	trial      bool
}

// Option is a functional option for Breaker
type Option func(*Breaker)

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(b *Breaker) {
		b.log = l
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Breaker) {
		b.metrics = m
	}
}

// New creates a closed breaker
func New(cfg Config, opts ...Option) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}

	b := &Breaker{cfg: cfg, state: StateClosed}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = logger.NewNop()
	}
	b.publishState()
	return b
}

// Execute runs fn if the circuit allows it and records the outcome.
// The error from fn is returned unchanged.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	t, err := b.acquire()
	if err != nil {
		return err
	}

	done := false
	defer func() {
		// a panicking call still releases its trial slot and counts as a failure
		if !done {
			b.record(t, errPanicked)
		}
	}()

	err = fn(ctx)
	done = true
	b.record(t, err)
	return err
}

// Call is Execute for functions that return a value.
func Call[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := b.Execute(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Snapshot returns the current counters
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:           b.state,
		FailureCount:    b.failureCount,
		SuccessCount:    b.successCount,
		NextAttemptTime: b.nextAttemptTime,
	}
}

func (b *Breaker) acquire() (ticket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.cfg.Now().Before(b.nextAttemptTime) {
			b.reject()
			return ticket{}, ErrOpen
		}
		b.transition(StateHalfOpen)
		b.probing = true
		return ticket{generation: b.generation, trial: true}, nil
	case StateHalfOpen:
		// one trial call at a time
		if b.probing {
			b.reject()
			return ticket{}, ErrOpen
		}
		b.probing = true
		return ticket{generation: b.generation, trial: true}, nil
	default:
		return ticket{generation: b.generation}, nil
	}
}

func (b *Breaker) record(t ticket, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t.trial {
		b.probing = false
	}
	// calls admitted before the last state change do not count toward the current one
	if t.generation != b.generation {
		return
	}

	if err != nil {
		b.failureCount++
		b.log.Warn("circuit breaker recorded failure",
			"breaker", b.cfg.Name,
			"state", b.state.String(),
			"failure_count", b.failureCount,
			"error", err,
		)
		if b.metrics != nil {
			b.metrics.BreakerFailures.WithLabelValues(b.cfg.Name).Inc()
		}

		switch b.state {
		case StateHalfOpen:
			b.open()
		case StateClosed:
			if b.failureCount >= b.cfg.FailureThreshold {
				b.open()
			}
		}
		return
	}

	switch b.state {
	case StateHalfOpen:
		b.successCount++
		if b.successCount > b.cfg.SuccessThreshold {
			b.failureCount = 0
			b.successCount = 0
			b.transition(StateClosed)
		}
	case StateClosed:
		b.failureCount = 0
	}
}

func (b *Breaker) open() {
	b.nextAttemptTime = b.cfg.Now().Add(b.cfg.Timeout)
	b.successCount = 0
	b.transition(StateOpen)
}

func (b *Breaker) reject() {
	if b.metrics != nil {
		b.metrics.BreakerRejections.WithLabelValues(b.cfg.Name).Inc()
	}
}

func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	b.log.Info("circuit breaker state change",
		"breaker", b.cfg.Name,
		"from", b.state.String(),
		"to", to.String(),
		"next_attempt", b.nextAttemptTime,
	)
	b.state = to
	b.generation++
	b.publishState()
}

func (b *Breaker) publishState() {
	if b.metrics != nil {
		b.metrics.BreakerState.WithLabelValues(b.cfg.Name).Set(float64(b.state))
	}
}
