package gateway

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// ExecuteOptions carries the per-call overrides accepted by Engine.Execute,
// layered on top of the provider registry's defaults.
type ExecuteOptions struct {
	MaxAttempts         int
	Timeout             time.Duration
	OperationType       string
	PreferredProviders  []string
	ExcludeProviders    []string
	Capabilities        Capability
	CallerID            string
	Strategy            StrategyName
	AllowUnhealthy      bool
	JSONShaped          bool
	ProviderShape       ProviderShape
	MaxContentLength    int

	// Priority selects this call's admission-queue rank out of
	// Settings.PriorityLevels. Empty or unrecognized values sink to the
	// back of the queue.
	Priority string
}

// Engine is the execution core: it owns a provider registry, health
// tracker, load balancer, and settings, and orchestrates selection, retry,
// backoff, fallback, and response normalization for each call to Execute.
type Engine struct {
	registry *Registry
	health   *HealthTracker
	balancer *LoadBalancer
	sink     EventSink
	settings Settings

	rateLimitWindowsMu sync.Mutex
	rateLimitWindows   map[string]*rateLimitWindow

	// globalSem caps total in-flight Execute calls across every provider,
	// independent of each provider's own ProviderConfig.MaxConcurrent
	// semaphore. Nil when Settings.MaxConcurrentRequests <= 0.
	globalSem *semaphore.Weighted

	// admissionQueue fronts Execute with a bounded, priority-ordered queue,
	// discarding with ErrQueueFull once saturated. Nil when
	// Settings.MaxQueueSize <= 0, in which case Execute runs unqueued.
	admissionQueue *AdmissionQueue
}

// NewEngine constructs an Engine with its own registry, health tracker, and
// load balancer, wired from settings. When settings enables them, the
// engine-wide concurrency semaphore and admission queue are created here and
// the queue's admission loop is started immediately, since it gates every
// Execute call rather than being an optional background refinement.
func NewEngine(settings Settings, sink EventSink) *Engine {
	if sink == nil {
		sink = noopSink{}
	}
	registry := NewRegistry(settings.breakerSettings())
	health := NewHealthTracker(registry, settings.HealthCheckInterval, sink)
	balancer := NewLoadBalancer(settings.LoadBalancingStrategy, settings.AdaptiveStrategy, sink)

	var globalSem *semaphore.Weighted
	if settings.MaxConcurrentRequests > 0 {
		globalSem = semaphore.NewWeighted(int64(settings.MaxConcurrentRequests))
	}

	var admissionQueue *AdmissionQueue
	if settings.MaxQueueSize > 0 {
		admissionQueue = NewAdmissionQueue(settings.MaxQueueSize, settings.PriorityLevels)
		admissionQueue.Start(context.Background())
	}

	return &Engine{
		registry:         registry,
		health:           health,
		balancer:         balancer,
		sink:             sink,
		settings:         settings,
		rateLimitWindows: make(map[string]*rateLimitWindow),
		globalSem:        globalSem,
		admissionQueue:   admissionQueue,
	}
}

// Start launches the engine's background loops (health probing and, if
// enabled, adaptive strategy evaluation). The admission queue's own loop,
// if enabled, is already running from NewEngine.
func (e *Engine) Start(ctx context.Context) {
	e.health.Start(ctx)
	e.balancer.StartAdaptive(60*time.Second, e.candidateSnapshotAll)
}

// Stop halts the engine's background loops.
func (e *Engine) Stop() {
	e.health.Stop()
	e.balancer.Stop()
	if e.admissionQueue != nil {
		e.admissionQueue.Stop()
	}
}

// Register adds a provider to the engine, emitting providerRegistered.
func (e *Engine) Register(config ProviderConfig, adapter ProviderAdapter) {
	e.registry.Register(config, adapter)
	e.sink.Emit(Event{Kind: EventProviderRegistered, Provider: config.Name, At: nowFunc()})
}

// Unregister removes a provider from the engine, emitting
// providerUnregistered.
func (e *Engine) Unregister(name string) {
	e.registry.Unregister(name)
	e.sink.Emit(Event{Kind: EventProviderUnregistered, Provider: name, At: nowFunc()})
}

// Names returns registered provider names in registration order.
func (e *Engine) Names() []string { return e.registry.Names() }

// Health returns the health record for name.
func (e *Engine) Health(name string) (HealthRecord, error) { return e.registry.Health(name) }

// Metrics returns the metrics record for name.
func (e *Engine) Metrics(name string) (MetricsRecord, error) { return e.registry.Metrics(name) }

// BreakerState returns the breaker snapshot for name.
func (e *Engine) BreakerState(name string) (BreakerSnapshot, error) { return e.registry.BreakerState(name) }

// ResetBreaker forces name's breaker back to closed.
func (e *Engine) ResetBreaker(name string) error { return e.registry.ResetBreaker(name) }

// ResetAllBreakers forces every provider's breaker back to closed.
func (e *Engine) ResetAllBreakers() { e.registry.ResetAllBreakers() }

// SetStrategy overrides the active load balancing strategy.
func (e *Engine) SetStrategy(name StrategyName) error { return e.balancer.SetStrategy(name) }

func (e *Engine) candidateSnapshot(reqCtx RequestContext) []candidate {
	names := e.registry.Names()
	out := make([]candidate, 0, len(names))

	for _, name := range names {
		entry, ok := e.registry.lookup(name)
		if !ok {
			continue
		}
		out = append(out, candidate{
			name:                name,
			config:              entry.snapshotConfig(),
			health:              entry.health.snapshot(),
			metrics:             entry.metrics.snapshot(),
			breakerState:        entry.breaker.State(),
			consecutiveFailures: int(entry.breaker.consecutiveFailures.Load()),
			lastActivity:        entry.lastActivity.Load(),
			inFlight:            0,
		})
	}
	return out
}

func (e *Engine) candidateSnapshotAll() []candidate {
	return e.candidateSnapshot(RequestContext{})
}

// buildCandidateList orders eligible providers by effective priority (desc),
// then by consecutive failures (asc), then by how long ago their last
// failure was (older first).
func (e *Engine) buildCandidateList(reqCtx RequestContext, allowUnhealthy bool) []candidate {
	all := e.candidateSnapshot(reqCtx)
	eligibleCandidates := make([]candidate, 0, len(all))
	for _, c := range all {
		if !eligible(c, reqCtx) {
			continue
		}
		if !allowUnhealthy && !c.health.IsHealthy && c.metrics.Requests > 0 {
			continue
		}
		eligibleCandidates = append(eligibleCandidates, c)
	}

	// a provider with no recorded failure keeps the zero time, so it sorts
	// as the oldest failure.
	lastFailure := make(map[string]time.Time, len(eligibleCandidates))
	for _, c := range eligibleCandidates {
		if entry, ok := e.registry.lookup(c.name); ok {
			if recent := entry.history.recent(1, nowFunc()); len(recent) > 0 {
				lastFailure[c.name] = recent[0].Timestamp
			}
		}
	}

	sort.SliceStable(eligibleCandidates, func(i, j int) bool {
		pi := effectivePriority(eligibleCandidates[i], reqCtx)
		pj := effectivePriority(eligibleCandidates[j], reqCtx)
		if pi != pj {
			return pi > pj
		}
		if eligibleCandidates[i].consecutiveFailures != eligibleCandidates[j].consecutiveFailures {
			return eligibleCandidates[i].consecutiveFailures < eligibleCandidates[j].consecutiveFailures
		}
		return lastFailure[eligibleCandidates[i].name].Before(lastFailure[eligibleCandidates[j].name])
	})

	return eligibleCandidates
}

// recentFailureCount5m counts failure-history entries for name within the
// last 5 minutes, used to halve maxRetries under sustained failure.
func (e *Engine) recentFailureCount5m(name string) int {
	entry, ok := e.registry.lookup(name)
	if !ok {
		return 0
	}
	events := entry.history.recent(failureHistoryMaxEntries, nowFunc())
	cutoff := nowFunc().Add(-5 * time.Minute)
	count := 0
	for _, ev := range events {
		if ev.Timestamp.After(cutoff) {
			count++
		}
	}
	return count
}

// dynamicTimeout computes the per-attempt timeout: baseTimeout scaled by a
// factor derived from the provider's average response time, clamped to
// [0, 120s].
func dynamicTimeout(base time.Duration, avgResponseTime time.Duration) time.Duration {
	if base <= 0 {
		base = 30 * time.Second
	}
	factor := 1.5
	if avgResponseTime > 0 {
		f := float64(avgResponseTime) / float64(5*time.Second)
		if f > 3 {
			f = 3
		}
		if f > factor {
			factor = f
		}
	}
	d := time.Duration(float64(base) * factor)
	if d > 120*time.Second {
		d = 120 * time.Second
	}
	if d < 0 {
		d = 0
	}
	return d
}

// Execute runs operation against the eligible provider candidates, applying
// selection, retry with backoff, fallback, and response normalization,
// returning a Result or an ExhaustionError. When an admission queue is
// configured, the call is first queued at opts.Priority and discarded with
// ErrQueueFull if the queue is saturated.
func (e *Engine) Execute(ctx context.Context, prompt string, opts ExecuteOptions) (*Result, error) {
	if e.admissionQueue == nil {
		return e.executeAdmitted(ctx, prompt, opts)
	}

	type outcome struct {
		result *Result
		err    error
	}
	done := make(chan outcome, 1)
	if err := e.admissionQueue.Submit(opts.Priority, func() {
		result, err := e.executeAdmitted(ctx, prompt, opts)
		done <- outcome{result, err}
	}); err != nil {
		return nil, err
	}

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// executeAdmitted acquires the engine-wide concurrency semaphore (if
// configured) and runs the selection/retry/fallback pipeline.
func (e *Engine) executeAdmitted(ctx context.Context, prompt string, opts ExecuteOptions) (*Result, error) {
	if e.globalSem != nil {
		if err := e.globalSem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer e.globalSem.Release(1)
	}

	requestID := newRequestID()

	reqCtx := RequestContext{
		Operation:          opts.OperationType,
		CallerID:           opts.CallerID,
		TimeoutHint:        opts.Timeout,
		PreferredProviders: opts.PreferredProviders,
		ExcludeProviders:   opts.ExcludeProviders,
		Capabilities:       opts.Capabilities,
	}

	if opts.Strategy != "" {
		if err := e.balancer.SetStrategy(opts.Strategy); err != nil {
			return nil, err
		}
	}

	candidates := e.buildCandidateList(reqCtx, opts.AllowUnhealthy)
	if len(candidates) == 0 {
		return nil, ErrNoEligibleProvider
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = len(candidates)
	}

	var attempts []*AttemptError
	var switchInfo *SwitchInfo
	totalAttemptNumber := 0

	for providerIdx := 0; providerIdx < len(candidates) && providerIdx < maxAttempts; providerIdx++ {
		remaining := append([]candidate{}, candidates[providerIdx:]...)
		chosen := e.balancer.Select(remaining, reqCtx)
		e.sink.Emit(Event{Kind: EventProviderSelected, Provider: chosen.name, At: nowFunc()})

		entry, ok := e.registry.lookup(chosen.name)
		if !ok {
			continue
		}

		if err := entry.breaker.Admit(); err != nil {
			attempts = append(attempts, &AttemptError{
				Provider:       chosen.name,
				Classification: ErrorClassification{Kind: KindCircuitOpen, Severity: SeverityMedium, Retryable: false},
				Err:            err,
			})
			continue
		}

		configuredRetries := entry.snapshotConfig().Fallback.MaxRetries
		maxRetries := configuredRetries
		if e.recentFailureCount5m(chosen.name) >= 5 {
			maxRetries = maxInt(1, configuredRetries/2)
		}

		result, attemptErrs, switched, fatalErr := e.runProviderAttempts(ctx, entry, chosen.name, prompt, opts, reqCtx, maxRetries, switchInfo, &totalAttemptNumber)
		if fatalErr != nil {
			return nil, fatalErr
		}
		attempts = append(attempts, attemptErrs...)
		if result != nil {
			result.RequestID = requestID
			return result, nil
		}
		if switched != nil {
			switchInfo = switched
			reqCtx.Switch = switchInfo
		}
	}

	e.sink.Emit(Event{Kind: EventAllProvidersFailed, At: nowFunc(), Fields: map[string]any{
		"attempts": len(attempts),
	}})
	return nil, newExhaustionError(attempts)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// runProviderAttempts runs up to maxRetries attempts against one provider,
// returning either a successful Result, the accumulated attempt errors, or
// (on falling through to the next provider) a SwitchInfo describing why.
func (e *Engine) runProviderAttempts(
	ctx context.Context,
	entry *providerEntry,
	name string,
	prompt string,
	opts ExecuteOptions,
	reqCtx RequestContext,
	maxRetries int,
	priorSwitch *SwitchInfo,
	totalAttemptNumber *int,
) (*Result, []*AttemptError, *SwitchInfo, error) {
	var attempts []*AttemptError

	if maxRetries <= 0 {
		maxRetries = 1
	}

	for attempt := 1; attempt <= maxRetries; attempt++ {
		*totalAttemptNumber++

		if err := entry.sem.Acquire(ctx, 1); err != nil {
			return nil, attempts, &SwitchInfo{PreviousProvider: name, AttemptNumber: attempt, SwitchReason: KindUnknown}, nil
		}

		metrics := entry.metrics.snapshot()
		timeout := dynamicTimeout(opts.Timeout, metrics.AvgResponseTime)
		attemptCtx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		}

		attemptReqCtx := reqCtx
		if priorSwitch != nil {
			attemptReqCtx.Switch = priorSwitch
		}

		start := nowFunc()
		payload, err := entry.adapter.Generate(attemptCtx, prompt, GenerateOptions{
			OperationType: opts.OperationType,
			Timeout:       timeout,
			Context:       attemptReqCtx,
		})
		elapsed := nowFunc().Sub(start)
		if cancel != nil {
			cancel()
		}
		entry.sem.Release(1)
		entry.touch(nowFunc())

		if err == nil {
			if placeholderErr := detectUnresolvedPlaceholder(payload); placeholderErr != nil {
				return nil, attempts, nil, placeholderErr
			}

			normalized, normErr := Normalize(payload, opts.ProviderShape, opts.JSONShaped, opts.MaxContentLength)
			if normErr != nil {
				err = normErr
			} else {
				entry.breaker.OnSuccess()
				entry.metrics.recordSuccess(elapsed, nowFunc())
				e.health.RecordOutcome(name, true, nil)
				e.sink.Emit(Event{Kind: EventOperationSuccess, Provider: name, At: nowFunc(), Fields: map[string]any{
					"attempt": attempt,
				}})
				return &Result{
					Provider: name,
					Content:  normalized.Content,
					Warnings: normalized.Warnings,
					Attempts: *totalAttemptNumber,
					Raw:      payload,
				}, attempts, nil, nil
			}
		}

		classification := ClassifyError(err)
		entry.breaker.OnFailure()
		if entry.breaker.State() == BreakerOpen {
			entry.metrics.recordBreakerTrip()
			e.sink.Emit(Event{Kind: EventCircuitBreakerChanged, Provider: name, At: nowFunc(), Fields: map[string]any{
				"state": BreakerOpen.String(),
			}})
		}
		entry.metrics.recordFailure(classification.Kind, elapsed, nowFunc())
		e.health.RecordOutcome(name, false, err)
		entry.history.record(FailureEvent{Timestamp: nowFunc(), Kind: classification.Kind, Severity: classification.Severity, Attempt: attempt, ResponseTime: elapsed})

		attemptErr := &AttemptError{Provider: name, Attempt: attempt, Classification: classification, Err: err}
		attempts = append(attempts, attemptErr)

		e.sink.Emit(Event{Kind: EventOperationFailure, Provider: name, At: nowFunc(), Fields: map[string]any{
			"attempt": attempt, "kind": string(classification.Kind),
		}})

		if classification.Severity == SeverityCritical {
			break
		}

		if classification.Kind == KindRateLimit {
			w := e.rateLimitWindowFor(name)
			if !w.Record(nowFunc()) {
				break
			}
		}

		if !classification.Retryable || attempt == maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return nil, attempts, nil, nil
		case <-time.After(ComputeBackoff(attempt, classification.Kind, entry.snapshotConfig().Fallback)):
		}
	}

	var lastKind ErrorKind = KindUnknown
	if len(attempts) > 0 {
		lastKind = attempts[len(attempts)-1].Classification.Kind
	}

	recent := entry.history.recent(5, nowFunc())
	return nil, attempts, &SwitchInfo{
		PreviousProvider:     name,
		AttemptNumber:        *totalAttemptNumber,
		TotalAttempts:        *totalAttemptNumber,
		SwitchReason:         lastKind,
		RecentFailureSummary: recent,
	}, nil
}

// rateLimitWindowFor returns the per-provider rate-limit window, creating it
// on first use. Reachable concurrently from Execute, so the map itself is
// guarded by its own lock rather than the registry's (the window it returns
// guards its hits with its own mutex).
func (e *Engine) rateLimitWindowFor(name string) *rateLimitWindow {
	e.rateLimitWindowsMu.Lock()
	defer e.rateLimitWindowsMu.Unlock()
	if w, ok := e.rateLimitWindows[name]; ok {
		return w
	}
	w := &rateLimitWindow{}
	e.rateLimitWindows[name] = w
	return w
}

// newRequestID generates a trace identifier for one Execute call, grounded
// on the pack's widespread use of google/uuid for request correlation.
func newRequestID() string {
	return uuid.NewString()
}
