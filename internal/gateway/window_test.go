package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSlidingWindow_SnapshotComputesFailureRate(t *testing.T) {
	w := newSlidingWindow(100, time.Hour)
	now := time.Now()

	w.record(now, true)
	w.record(now, false)
	w.record(now, false)

	total, failures, rate := w.snapshot(now)
	assert.Equal(t, 3, total)
	assert.Equal(t, 2, failures)
	assert.InDelta(t, 2.0/3.0, rate, 0.001)
}

func TestSlidingWindow_EvictsEntriesOlderThanMaxAge(t *testing.T) {
	w := newSlidingWindow(100, time.Second)
	base := time.Now()

	w.record(base, false)
	total, _, _ := w.snapshot(base.Add(2 * time.Second))
	assert.Zero(t, total)
}

func TestSlidingWindow_TrimsToMaxSize(t *testing.T) {
	w := newSlidingWindow(3, time.Hour)
	now := time.Now()

	for i := 0; i < 5; i++ {
		w.record(now, false)
	}

	total, _, _ := w.snapshot(now)
	assert.Equal(t, 3, total)
}

func TestSlidingWindow_Reset(t *testing.T) {
	w := newSlidingWindow(10, time.Hour)
	now := time.Now()
	w.record(now, false)
	w.reset()

	total, _, rate := w.snapshot(now)
	assert.Zero(t, total)
	assert.Zero(t, rate)
}

func TestSlidingWindow_EmptySnapshot(t *testing.T) {
	w := newSlidingWindow(10, time.Hour)
	total, failures, rate := w.snapshot(time.Now())
	assert.Zero(t, total)
	assert.Zero(t, failures)
	assert.Zero(t, rate)
}
