package gateway

import (
	"sync"
	"time"
)

// metricsState is the mutex-guarded counters tracker embedded in each
// providerEntry. AvgResponseTime is kept as a simple exponential moving
// average rather than storing every sample, keeping per-provider state small
// and fixed-size regardless of traffic volume.
type metricsState struct {
	mu              sync.RWMutex
	requests        uint64
	successes       uint64
	failures        uint64
	rateLimitHits   uint64
	breakerTrips    uint64
	avgResponseTime time.Duration
	lastRequestAt   time.Time
}

const emaWeight = 0.2

func (m *metricsState) snapshot() MetricsRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return MetricsRecord{
		Requests:        m.requests,
		Successes:       m.successes,
		Failures:        m.failures,
		RateLimitHits:   m.rateLimitHits,
		BreakerTrips:    m.breakerTrips,
		AvgResponseTime: m.avgResponseTime,
		LastRequestAt:   m.lastRequestAt,
	}
}

func (m *metricsState) recordSuccess(responseTime time.Duration, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests++
	m.successes++
	m.lastRequestAt = at
	m.updateAvgLocked(responseTime)
}

func (m *metricsState) recordFailure(kind ErrorKind, responseTime time.Duration, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests++
	m.failures++
	m.lastRequestAt = at
	if kind == KindRateLimit {
		m.rateLimitHits++
	}
	m.updateAvgLocked(responseTime)
}

func (m *metricsState) recordBreakerTrip() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakerTrips++
}

func (m *metricsState) updateAvgLocked(sample time.Duration) {
	if m.avgResponseTime == 0 {
		m.avgResponseTime = sample
		return
	}
	m.avgResponseTime = time.Duration(float64(m.avgResponseTime)*(1-emaWeight) + float64(sample)*emaWeight)
}
