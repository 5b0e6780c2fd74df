package gateway

import "time"

// Diagnostics is an expanded, human-oriented snapshot of one provider's
// full state, combining health, metrics, and breaker data for operator
// tooling and status endpoints.
type Diagnostics struct {
	Name           string
	Config         ProviderConfig
	Health         HealthRecord
	Metrics        MetricsRecord
	Breaker        BreakerSnapshot
	WillTripNext   bool
	TimeUntilHalfOpen time.Duration
}

// Diagnostics assembles a Diagnostics snapshot for name.
func (r *Registry) Diagnostics(name string) (Diagnostics, error) {
	e, ok := r.lookup(name)
	if !ok {
		return Diagnostics{}, ErrUnknownProvider
	}

	health := e.health.snapshot()
	metrics := e.metrics.snapshot()
	breakerSnap := e.breaker.Snapshot()

	var timeUntilHalfOpen time.Duration
	if breakerSnap.State == BreakerOpen {
		elapsed := nowFunc().Sub(breakerSnap.OpenedAt)
		remaining := e.breaker.settings.OpenDuration - elapsed
		if remaining > 0 {
			timeUntilHalfOpen = remaining
		}
	}

	return Diagnostics{
		Name:              name,
		Config:            e.snapshotConfig(),
		Health:            health,
		Metrics:           metrics,
		Breaker:           breakerSnap,
		WillTripNext:      wouldTripOnNextFailure(e.breaker, breakerSnap),
		TimeUntilHalfOpen: timeUntilHalfOpen,
	}, nil
}

// wouldTripOnNextFailure simulates one more failure against the breaker's
// current window to report whether the next failure would open it.
func wouldTripOnNextFailure(b *breaker, snap BreakerSnapshot) bool {
	if snap.State != BreakerClosed {
		return false
	}
	total, failures, _ := b.window.snapshot(nowFunc())
	nextTotal := total + 1
	nextFailures := failures + 1
	nextConsecutive := int(b.consecutiveFailures.Load()) + 1

	byConsecutive := nextConsecutive >= b.settings.FailureThreshold
	byRate := nextTotal >= b.settings.MinimumObservations &&
		float64(nextFailures)/float64(nextTotal) >= b.settings.FailureRateThreshold
	return byConsecutive || byRate
}
