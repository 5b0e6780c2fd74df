package gateway

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ProviderAdapter is the upstream binding a registered provider must supply.
type ProviderAdapter interface {
	Generate(ctx context.Context, prompt string, options GenerateOptions) (any, error)
	TestConnection(ctx context.Context) error
}

// providerEntry is the per-provider aggregate: configuration, adapter,
// health, metrics, breaker, failure history, and a concurrency limiter, each
// independently locked or lock-free so one provider's traffic never
// contends with another's. The registry only takes its own lock to add or
// remove entries from the name-indexed map.
type providerEntry struct {
	mu      sync.RWMutex
	config  ProviderConfig
	adapter ProviderAdapter

	health  healthState
	metrics metricsState
	breaker *breaker
	history *failureHistory
	sem     *semaphore.Weighted

	lastActivity atomic64Time
}

func newProviderEntry(config ProviderConfig, adapter ProviderAdapter, breakerSettings BreakerSettings) *providerEntry {
	config = config.withDefaults()
	return &providerEntry{
		config:  config,
		adapter: adapter,
		breaker: newBreaker(breakerSettings),
		history: newFailureHistory(),
		sem:     semaphore.NewWeighted(int64(config.MaxConcurrent)),
		health:  healthState{isHealthy: true},
	}
}

func (e *providerEntry) snapshotConfig() ProviderConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.config
}

// Registry holds all registered providers, indexed by name. Cyclic
// references between a provider's aggregate and the registry are avoided by
// always looking providers up by name rather than holding back-pointers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*providerEntry
	order     []string // insertion order, for deterministic iteration

	breakerSettings BreakerSettings
}

// NewRegistry constructs an empty provider registry. Every provider
// subsequently registered gets its own breaker built from breakerSettings.
func NewRegistry(breakerSettings BreakerSettings) *Registry {
	return &Registry{providers: make(map[string]*providerEntry), breakerSettings: breakerSettings}
}

// Register adds a provider under config.Name. Registering a name that
// already exists replaces it.
func (r *Registry) Register(config ProviderConfig, adapter ProviderAdapter) {
	entry := newProviderEntry(config, adapter, r.breakerSettings)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[config.Name]; !exists {
		r.order = append(r.order, config.Name)
	}
	r.providers[config.Name] = entry
}

// Unregister removes a provider. It is a no-op if the name is unknown.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return
	}
	delete(r.providers, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Registry) lookup(name string) (*providerEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.providers[name]
	return e, ok
}

// Names returns registered provider names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Health returns the health record for name.
func (r *Registry) Health(name string) (HealthRecord, error) {
	e, ok := r.lookup(name)
	if !ok {
		return HealthRecord{}, ErrUnknownProvider
	}
	return e.health.snapshot(), nil
}

// Metrics returns the metrics record for name.
func (r *Registry) Metrics(name string) (MetricsRecord, error) {
	e, ok := r.lookup(name)
	if !ok {
		return MetricsRecord{}, ErrUnknownProvider
	}
	return e.metrics.snapshot(), nil
}

// BreakerState returns the breaker snapshot for name.
func (r *Registry) BreakerState(name string) (BreakerSnapshot, error) {
	e, ok := r.lookup(name)
	if !ok {
		return BreakerSnapshot{}, ErrUnknownProvider
	}
	return e.breaker.Snapshot(), nil
}

// ResetBreaker forces name's breaker back to closed.
func (r *Registry) ResetBreaker(name string) error {
	e, ok := r.lookup(name)
	if !ok {
		return ErrUnknownProvider
	}
	e.breaker.Reset()
	return nil
}

// ResetAllBreakers forces every registered provider's breaker closed.
func (r *Registry) ResetAllBreakers() {
	r.mu.RLock()
	entries := make([]*providerEntry, 0, len(r.providers))
	for _, e := range r.providers {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	for _, e := range entries {
		e.breaker.Reset()
	}
}

// touch records that name was recently active, for the balancer's
// recent-activity bonus.
func (e *providerEntry) touch(at time.Time) {
	e.lastActivity.Store(at)
}
