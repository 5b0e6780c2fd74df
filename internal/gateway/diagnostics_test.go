package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Diagnostics_UnknownProvider(t *testing.T) {
	r := NewRegistry(BreakerSettings{})
	_, err := r.Diagnostics("ghost")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestRegistry_Diagnostics_WillTripNextWhenCloseToThreshold(t *testing.T) {
	r := NewRegistry(BreakerSettings{FailureThreshold: 5, MinimumObservations: 100})
	r.Register(ProviderConfig{Name: "a", Enabled: true}, noopAdapter{})
	entry, _ := r.lookup("a")

	for i := 0; i < 4; i++ {
		require.NoError(t, entry.breaker.Admit())
		entry.breaker.OnFailure()
	}

	diag, err := r.Diagnostics("a")
	require.NoError(t, err)
	assert.True(t, diag.WillTripNext)
	assert.Equal(t, BreakerClosed, diag.Breaker.State)
}

func TestRegistry_Diagnostics_TimeUntilHalfOpenWhenOpen(t *testing.T) {
	advance := withFrozenClock(t, time.Now())
	r := NewRegistry(BreakerSettings{FailureThreshold: 1, OpenDuration: 10 * time.Second})
	r.Register(ProviderConfig{Name: "a", Enabled: true}, noopAdapter{})
	entry, _ := r.lookup("a")

	require.NoError(t, entry.breaker.Admit())
	entry.breaker.OnFailure()
	require.Equal(t, BreakerOpen, entry.breaker.State())

	diag, err := r.Diagnostics("a")
	require.NoError(t, err)
	assert.Greater(t, diag.TimeUntilHalfOpen, time.Duration(0))
	assert.LessOrEqual(t, diag.TimeUntilHalfOpen, 10*time.Second)

	advance(11 * time.Second)
	diag, err = r.Diagnostics("a")
	require.NoError(t, err)
	assert.Zero(t, diag.TimeUntilHalfOpen)
}
