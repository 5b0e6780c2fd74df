package gateway

import (
	"context"
	"sync"
	"time"
)

// healthState is the mutex-guarded health tracker embedded in each
// providerEntry. It is updated two ways: opportunistically, from the
// outcome of real traffic passing through Engine.Execute, and periodically,
// by the HealthTracker's background probe ticker calling TestConnection.
type healthState struct {
	mu                  sync.RWMutex
	isHealthy           bool
	lastProbeAt         time.Time
	consecutiveFailures int
	lastError           error
}

func (h *healthState) snapshot() HealthRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HealthRecord{
		IsHealthy:           h.isHealthy,
		LastProbeAt:         h.lastProbeAt,
		ConsecutiveFailures: h.consecutiveFailures,
		LastError:           h.lastError,
	}
}

func (h *healthState) recordSuccess(at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.isHealthy = true
	h.consecutiveFailures = 0
	h.lastError = nil
	h.lastProbeAt = at
}

func (h *healthState) recordFailure(at time.Time, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutiveFailures++
	h.lastError = err
	h.lastProbeAt = at
	if h.consecutiveFailures >= 3 {
		h.isHealthy = false
	}
}

const defaultHealthProbeInterval = 30 * time.Second

// HealthTracker runs the background health-check loop over a registry's
// providers, probing each adapter's TestConnection on a fixed interval and
// updating its healthState. Outcomes from real traffic are folded in
// opportunistically via RecordOutcome, so a busy provider doesn't need to
// wait for the next tick to be marked unhealthy.
type HealthTracker struct {
	registry *Registry
	interval time.Duration
	sink     EventSink

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewHealthTracker builds a tracker over registry, probing every interval
// (defaulting to 30s when <= 0).
func NewHealthTracker(registry *Registry, interval time.Duration, sink EventSink) *HealthTracker {
	if interval <= 0 {
		interval = defaultHealthProbeInterval
	}
	if sink == nil {
		sink = noopSink{}
	}
	return &HealthTracker{
		registry: registry,
		interval: interval,
		sink:     sink,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the background probing goroutine. Safe to call more than
// once; only the first call starts the loop.
func (t *HealthTracker) Start(ctx context.Context) {
	t.startOnce.Do(func() { go t.run(ctx) })
}

func (t *HealthTracker) run(ctx context.Context) {
	defer close(t.doneCh)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.probeAll(ctx)
		}
	}
}

func (t *HealthTracker) probeAll(ctx context.Context) {
	names := t.registry.Names()
	var wg sync.WaitGroup
	for _, name := range names {
		entry, ok := t.registry.lookup(name)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(name string, entry *providerEntry) {
			defer wg.Done()
			t.probeOne(ctx, name, entry)
		}(name, entry)
	}
	wg.Wait()
}

func (t *HealthTracker) probeOne(ctx context.Context, name string, entry *providerEntry) {
	wasHealthy := entry.health.snapshot().IsHealthy

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := entry.adapter.TestConnection(probeCtx)
	now := nowFunc()
	if err == nil {
		entry.health.recordSuccess(now)
	} else {
		entry.health.recordFailure(now, err)
	}

	isHealthy := entry.health.snapshot().IsHealthy
	kind := EventHealthCheckPassed
	if err != nil {
		kind = EventHealthCheckFailed
	}
	if wasHealthy != isHealthy || err != nil {
		t.sink.Emit(Event{Kind: kind, Provider: name, At: now})
	}
}

// RecordOutcome folds a real request's result into the health tracker
// outside of the periodic probe loop.
func (t *HealthTracker) RecordOutcome(name string, success bool, err error) {
	entry, ok := t.registry.lookup(name)
	if !ok {
		return
	}
	now := nowFunc()
	if success {
		entry.health.recordSuccess(now)
	} else {
		entry.health.recordFailure(now, err)
	}
}

// Stop halts the background probe loop and waits for it to exit.
func (t *HealthTracker) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
	<-t.doneCh
}
