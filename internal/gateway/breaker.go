package gateway

import (
	"sync/atomic"
	"time"
)

// BreakerState is the circuit breaker's current state.
type BreakerState int32

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerSettings configures a breaker instance. Zero values fall back to
// the defaults used throughout the registry.
type BreakerSettings struct {
	FailureThreshold    int           // consecutive failures that trip from closed, whatever the window holds
	FailureRateThreshold float64      // fraction of window failures that trips, once MinimumObservations is met
	MinimumObservations int
	OpenDuration        time.Duration // time spent open before probing half-open
	WindowSize          int
	WindowAge           time.Duration
}

func (s BreakerSettings) withDefaults() BreakerSettings {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.FailureRateThreshold <= 0 {
		s.FailureRateThreshold = 0.5
	}
	if s.MinimumObservations <= 0 {
		s.MinimumObservations = 10
	}
	if s.OpenDuration <= 0 {
		s.OpenDuration = 30 * time.Second
	}
	if s.WindowSize <= 0 {
		s.WindowSize = 100
	}
	if s.WindowAge <= 0 {
		s.WindowAge = 300 * time.Second
	}
	return s
}

// breaker is a three-state (closed/open/half-open) circuit breaker with a
// sliding failure-rate window and graduated half-open recovery, adapted from
// a consecutive-failure/atomic-counter design into a percentage-based one.
//
// State lives in atomics so Admit/OnSuccess/OnFailure never block each
// other; the sliding window has its own internal lock scoped to itself.
type breaker struct {
	settings BreakerSettings
	window   *slidingWindow

	state              atomic.Int32
	openedAt           atomic.Int64
	stateChangedAt     atomic.Int64
	consecutiveFailures atomic.Int32
	halfOpenInFlight   atomic.Int32
	halfOpenSuccesses  atomic.Int32
	halfOpenRequired   atomic.Int32
	trips              atomic.Uint64
}

func newBreaker(settings BreakerSettings) *breaker {
	settings = settings.withDefaults()
	b := &breaker{
		settings: settings,
		window:   newSlidingWindow(settings.WindowSize, settings.WindowAge),
	}
	now := nowFunc()
	b.stateChangedAt.Store(now.UnixNano())
	return b
}

// nowFunc is indirected so tests can freeze or advance time without sleeping.
var nowFunc = time.Now

// State returns the breaker's current state.
func (b *breaker) State() BreakerState {
	return BreakerState(b.state.Load())
}

// Admit reports whether a new request may proceed, transitioning
// Open->HalfOpen once OpenDuration has elapsed.
func (b *breaker) Admit() error {
	switch b.State() {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		openedAt := time.Unix(0, b.openedAt.Load())
		if nowFunc().Sub(openedAt) < b.settings.OpenDuration {
			return ErrCircuitOpen
		}
		if !b.tryTransition(BreakerOpen, BreakerHalfOpen) {
			// another goroutine already moved us; re-check below.
			if b.State() != BreakerHalfOpen {
				return ErrCircuitOpen
			}
		}
		return b.admitHalfOpen()
	case BreakerHalfOpen:
		return b.admitHalfOpen()
	default:
		return nil
	}
}

func (b *breaker) admitHalfOpen() error {
	// Allow a single graduated batch of probes in flight, sized by how many
	// consecutive successes are required to close (set on entry).
	limit := b.halfOpenRequired.Load()
	if limit <= 0 {
		limit = 1
	}
	if b.halfOpenInFlight.Add(1) > limit {
		b.halfOpenInFlight.Add(-1)
		return ErrTooManyHalfOpen
	}
	return nil
}

// OnSuccess records a successful outcome.
func (b *breaker) OnSuccess() {
	now := nowFunc()
	b.window.record(now, true)
	b.consecutiveFailures.Store(0)

	switch b.State() {
	case BreakerHalfOpen:
		b.halfOpenInFlight.Add(-1)
		if b.halfOpenSuccesses.Add(1) >= b.halfOpenRequired.Load() {
			b.transitionToClosed()
		}
	case BreakerOpen:
		// a probe that slipped through right at the boundary.
		b.halfOpenInFlight.Add(-1)
	}
}

// OnFailure records a failed outcome and trips the breaker if thresholds are
// exceeded.
func (b *breaker) OnFailure() {
	now := nowFunc()
	b.window.record(now, false)
	consecutive := b.consecutiveFailures.Add(1)

	switch b.State() {
	case BreakerHalfOpen:
		b.halfOpenInFlight.Add(-1)
		b.transitionToOpen(now)
	case BreakerClosed:
		total, _, rate := b.window.snapshot(now)
		shouldTrip := int(consecutive) >= b.settings.FailureThreshold ||
			(total >= b.settings.MinimumObservations && rate >= b.settings.FailureRateThreshold)
		if shouldTrip {
			b.transitionToOpen(now)
		}
	}
}

func (b *breaker) transitionToOpen(now time.Time) {
	if !b.tryTransition(b.State(), BreakerOpen) {
		return
	}
	b.openedAt.Store(now.UnixNano())
	b.stateChangedAt.Store(now.UnixNano())
	b.trips.Add(1)
	b.window.reset()
}

func (b *breaker) transitionToClosed() {
	if !b.tryTransition(BreakerHalfOpen, BreakerClosed) {
		return
	}
	b.stateChangedAt.Store(nowFunc().UnixNano())
	b.consecutiveFailures.Store(0)
	b.window.reset()
}

func (b *breaker) tryTransition(from, to BreakerState) bool {
	if !b.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	if to == BreakerHalfOpen {
		_, _, rate := b.window.snapshot(nowFunc())
		b.halfOpenRequired.Store(int32(requiredSuccesses(rate)))
		b.halfOpenSuccesses.Store(0)
		b.halfOpenInFlight.Store(0)
	}
	return true
}

// requiredSuccesses returns how many consecutive half-open successes are
// needed to close the breaker again, scaled to how bad the failure rate was
// when it tripped: a breaker that was barely over threshold recovers faster
// than one that was almost entirely failing.
func requiredSuccesses(failureRate float64) int {
	switch {
	case failureRate <= 0.5:
		return 1
	case failureRate <= 0.7:
		return 2
	default:
		return 3
	}
}

// Reset forces the breaker back to closed, clearing the consecutive-failure
// and half-open counters and the window. The lifetime trip count is kept.
func (b *breaker) Reset() {
	b.state.Store(int32(BreakerClosed))
	b.stateChangedAt.Store(nowFunc().UnixNano())
	b.consecutiveFailures.Store(0)
	b.halfOpenInFlight.Store(0)
	b.halfOpenSuccesses.Store(0)
	b.window.reset()
}

// BreakerSnapshot is a point-in-time view of a breaker's state for
// diagnostics and metrics export.
type BreakerSnapshot struct {
	State          BreakerState
	StateChangedAt time.Time
	OpenedAt       time.Time
	FailureRate    float64
	WindowSize     int
	Trips          uint64
}

func (b *breaker) Snapshot() BreakerSnapshot {
	now := nowFunc()
	_, _, rate := b.window.snapshot(now)
	total, _, _ := b.window.snapshot(now)

	var openedAt time.Time
	if v := b.openedAt.Load(); v != 0 {
		openedAt = time.Unix(0, v)
	}

	return BreakerSnapshot{
		State:          b.State(),
		StateChangedAt: time.Unix(0, b.stateChangedAt.Load()),
		OpenedAt:       openedAt,
		FailureRate:    rate,
		WindowSize:     total,
		Trips:          b.trips.Load(),
	}
}
