package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"judgments-backend/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errUpstream = errors.New("upstream failed")

func newTestBreaker(clock *fakeClock) *Breaker {
	return New(Config{
		Name:             "scraper",
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          time.Minute,
		Now:              clock.Now,
	}, WithMetrics(metrics.NewMetrics("test", prometheus.NewRegistry())))
}

func fail(context.Context) error    { return errUpstream }
func succeed(context.Context) error { return nil }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	for _, failures := range []int{3, 4, 7} {
		clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
		b := newTestBreaker(clock)

		for i := 0; i < failures; i++ {
			err := b.Execute(context.Background(), fail)
			if i < 3 && !errors.Is(err, errUpstream) {
				t.Fatalf("failures=%d call %d: expected upstream error, got %v", failures, i, err)
			}
		}

		if got := b.Snapshot().State; got != StateOpen {
			t.Fatalf("failures=%d: expected OPEN, got %s", failures, got)
		}

		calls := 0
		err := b.Execute(context.Background(), func(context.Context) error {
			calls++
			return nil
		})
		if !errors.Is(err, ErrOpen) {
			t.Fatalf("expected ErrOpen, got %v", err)
		}
		if calls != 0 {
			t.Fatalf("wrapped function invoked %d times while open", calls)
		}
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	b := newTestBreaker(clock)

	_ = b.Execute(context.Background(), fail)
	_ = b.Execute(context.Background(), fail)
	if err := b.Execute(context.Background(), succeed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = b.Execute(context.Background(), fail)
	_ = b.Execute(context.Background(), fail)

	snap := b.Snapshot()
	if snap.State != StateClosed {
		t.Fatalf("expected CLOSED, got %s", snap.State)
	}
	if snap.FailureCount != 2 {
		t.Fatalf("expected failure count 2, got %d", snap.FailureCount)
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	b := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), fail)
	}

	clock.Advance(59 * time.Second)
	if err := b.Execute(context.Background(), succeed); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen before timeout, got %v", err)
	}

	clock.Advance(time.Second)

	// successCount must exceed SuccessThreshold (2), so three successes close it
	for i := 1; i <= 3; i++ {
		if err := b.Execute(context.Background(), succeed); err != nil {
			t.Fatalf("half-open call %d: unexpected error %v", i, err)
		}
		snap := b.Snapshot()
		if i < 3 {
			if snap.State != StateHalfOpen {
				t.Fatalf("after %d successes expected HALF_OPEN, got %s", i, snap.State)
			}
			if snap.SuccessCount != i {
				t.Fatalf("expected success count %d, got %d", i, snap.SuccessCount)
			}
		}
	}

	snap := b.Snapshot()
	if snap.State != StateClosed {
		t.Fatalf("expected CLOSED, got %s", snap.State)
	}
	if snap.FailureCount != 0 || snap.SuccessCount != 0 {
		t.Fatalf("expected counters reset, got failures=%d successes=%d", snap.FailureCount, snap.SuccessCount)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	b := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), fail)
	}
	clock.Advance(time.Minute)

	if err := b.Execute(context.Background(), fail); !errors.Is(err, errUpstream) {
		t.Fatalf("expected upstream error from trial call, got %v", err)
	}

	snap := b.Snapshot()
	if snap.State != StateOpen {
		t.Fatalf("expected OPEN after half-open failure, got %s", snap.State)
	}
	if want := clock.Now().Add(time.Minute); !snap.NextAttemptTime.Equal(want) {
		t.Fatalf("expected next attempt %v, got %v", want, snap.NextAttemptTime)
	}
	if err := b.Execute(context.Background(), succeed); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
}

func TestBreakerHalfOpenAdmitsSingleTrial(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	b := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), fail)
	}
	clock.Advance(time.Minute)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Execute(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	if err := b.Execute(context.Background(), succeed); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected concurrent trial to be rejected, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
}

func TestCallReturnsValue(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	b := newTestBreaker(clock)

	got, err := Call(context.Background(), b, func(context.Context) (int, error) { return 42, nil })
	if err != nil || got != 42 {
		t.Fatalf("expected 42, nil; got %d, %v", got, err)
	}
}

func TestBreakerPanickingTrialReleasesSlot(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	b := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), fail)
	}
	clock.Advance(2 * time.Minute)

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected the panic to propagate")
			}
		}()
		_ = b.Execute(context.Background(), func(context.Context) error {
			panic("scraper blew up")
		})
	}()

	if got := b.Snapshot().State; got != StateOpen {
		t.Fatalf("a panicking trial should reopen the circuit, got %s", got)
	}

	clock.Advance(time.Hour)
	if err := b.Execute(context.Background(), succeed); err != nil {
		t.Fatalf("expected a new trial after the timeout, got %v", err)
	}
	if got := b.Snapshot().State; got != StateHalfOpen {
		t.Fatalf("expected HALF_OPEN, got %s", got)
	}
}

func TestBreakerStaleCallDoesNotReleaseTrial(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	b := newTestBreaker(clock)

	// admitted while closed, finishes after the circuit has moved on
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Execute(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), fail)
	}
	clock.Advance(time.Minute)

	trialStarted := make(chan struct{})
	trialRelease := make(chan struct{})
	trialDone := make(chan error, 1)
	go func() {
		trialDone <- b.Execute(context.Background(), func(context.Context) error {
			close(trialStarted)
			<-trialRelease
			return nil
		})
	}()
	<-trialStarted

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("stale call failed: %v", err)
	}

	if snap := b.Snapshot(); snap.SuccessCount != 0 {
		t.Fatalf("stale success should not count toward recovery, got %d", snap.SuccessCount)
	}
	if err := b.Execute(context.Background(), succeed); !errors.Is(err, ErrOpen) {
		t.Fatalf("trial slot still held, expected ErrOpen, got %v", err)
	}

	close(trialRelease)
	if err := <-trialDone; err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if snap := b.Snapshot(); snap.State != StateHalfOpen || snap.SuccessCount != 1 {
		t.Fatalf("expected HALF_OPEN with one success, got %s/%d", snap.State, snap.SuccessCount)
	}
}
