package gateway

import (
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// StrategyName identifies one of the load balancer's pluggable selection
// strategies.
type StrategyName string

const (
	StrategyWeighted         StrategyName = "weighted"
	StrategyRoundRobin       StrategyName = "round_robin"
	StrategyLeastConnections StrategyName = "least_connections"
	StrategyFastestResponse  StrategyName = "fastest_response"
	StrategyPriority         StrategyName = "priority"
)

// scored pairs a candidate with its computed weighted score.
type scored struct {
	candidate candidate
	score     float64
}

// weightedScore composes a candidate's selection weight: effective priority
// ×20, successRate ×50, responseTimeScore in [0,30], a health bonus, a
// consecutive-failure penalty, a recent-activity bonus, and a load penalty
// scaled to how full the provider's concurrency ceiling is.
func weightedScore(c candidate, reqCtx RequestContext, now time.Time) float64 {
	score := effectivePriority(c, reqCtx) * 20

	score += c.metrics.SuccessRate() * 50

	score += responseTimeScore(c.metrics.AvgResponseTime) * 30

	if c.health.IsHealthy {
		score += 20
	}

	score -= float64(c.consecutiveFailures) * 5

	if !c.lastActivity.IsZero() && now.Sub(c.lastActivity) < time.Minute {
		score += 10
	}

	score -= loadPenalty(c)

	return score
}

// responseTimeScore maps an average response time to [0,1]; sub-second
// responses score near 1, responses at or beyond 5s score 0.
func responseTimeScore(avg time.Duration) float64 {
	if avg <= 0 {
		return 1
	}
	const ceiling = 5 * time.Second
	if avg >= ceiling {
		return 0
	}
	return 1 - float64(avg)/float64(ceiling)
}

// loadPenalty scales up to 20 points by how full a provider's concurrency
// ceiling currently is.
func loadPenalty(c candidate) float64 {
	if c.config.MaxConcurrent <= 0 {
		return 0
	}
	fill := float64(c.inFlight) / float64(c.config.MaxConcurrent)
	if fill > 1 {
		fill = 1
	}
	return fill * 20
}

// LoadBalancer selects one candidate per request according to the active
// strategy, optionally adapting the strategy over time based on aggregate
// behavior.
type LoadBalancer struct {
	mu       sync.RWMutex
	strategy StrategyName

	roundRobinIdx atomic.Uint64
	rndMu         sync.Mutex
	rnd           *rand.Rand

	adaptive bool
	sink     EventSink

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewLoadBalancer constructs a balancer starting on initial (defaulting to
// weighted when empty).
func NewLoadBalancer(initial StrategyName, adaptive bool, sink EventSink) *LoadBalancer {
	if initial == "" {
		initial = StrategyWeighted
	}
	if sink == nil {
		sink = noopSink{}
	}
	return &LoadBalancer{
		strategy: initial,
		rnd:      rand.New(rand.NewSource(2)),
		adaptive: adaptive,
		sink:     sink,
		stopCh:   make(chan struct{}),
	}
}

// Strategy returns the currently active strategy.
func (b *LoadBalancer) Strategy() StrategyName {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.strategy
}

// SetStrategy overrides the active strategy, returning ErrUnknownStrategy if
// name is not recognized.
func (b *LoadBalancer) SetStrategy(name StrategyName) error {
	if !validStrategy(name) {
		return ErrUnknownStrategy
	}
	b.mu.Lock()
	prev := b.strategy
	b.strategy = name
	b.mu.Unlock()

	if prev != name {
		b.sink.Emit(Event{Kind: EventStrategyChanged, At: nowFunc(), Fields: map[string]any{
			"from": string(prev), "to": string(name),
		}})
	}
	return nil
}

func validStrategy(name StrategyName) bool {
	switch name {
	case StrategyWeighted, StrategyRoundRobin, StrategyLeastConnections, StrategyFastestResponse, StrategyPriority:
		return true
	default:
		return false
	}
}

// Select chooses one candidate from candidates according to the active
// strategy. candidates must be non-empty.
func (b *LoadBalancer) Select(candidates []candidate, reqCtx RequestContext) candidate {
	strategy := b.Strategy()
	now := nowFunc()

	switch strategy {
	case StrategyRoundRobin:
		return b.selectRoundRobin(candidates)
	case StrategyLeastConnections:
		return selectLeastConnections(candidates)
	case StrategyFastestResponse:
		return selectFastestResponse(candidates)
	case StrategyPriority:
		return selectByPriority(candidates, reqCtx)
	default:
		return b.selectWeighted(candidates, reqCtx, now)
	}
}

func (b *LoadBalancer) selectWeighted(candidates []candidate, reqCtx RequestContext, now time.Time) candidate {
	scores := make([]scored, len(candidates))
	total := 0.0
	for i, c := range candidates {
		s := weightedScore(c, reqCtx, now)
		if s < 0.01 {
			s = 0.01 // keep every candidate reachable by weighted-random pick
		}
		scores[i] = scored{candidate: c, score: s}
		total += s
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	b.rndMu.Lock()
	pick := b.rnd.Float64() * total
	b.rndMu.Unlock()

	for _, s := range scores {
		pick -= s.score
		if pick <= 0 {
			return s.candidate
		}
	}
	return scores[0].candidate
}

func (b *LoadBalancer) selectRoundRobin(candidates []candidate) candidate {
	healthy := filterHealthy(candidates)
	pool := healthy
	if len(pool) == 0 {
		pool = candidates
	}
	idx := b.roundRobinIdx.Add(1) - 1
	return pool[int(idx)%len(pool)]
}

func filterHealthy(candidates []candidate) []candidate {
	out := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.health.IsHealthy {
			out = append(out, c)
		}
	}
	return out
}

func selectLeastConnections(candidates []candidate) candidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.inFlight < best.inFlight {
			best = c
		}
	}
	return best
}

func selectFastestResponse(candidates []candidate) candidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.metrics.AvgResponseTime <= 0 {
			continue
		}
		if best.metrics.AvgResponseTime <= 0 || c.metrics.AvgResponseTime < best.metrics.AvgResponseTime {
			best = c
		}
	}
	return best
}

func selectByPriority(candidates []candidate, reqCtx RequestContext) candidate {
	best := candidates[0]
	bestPriority := effectivePriority(best, reqCtx)
	for _, c := range candidates[1:] {
		p := effectivePriority(c, reqCtx)
		if p > bestPriority {
			best, bestPriority = c, p
		}
	}
	return best
}

// adaptiveThresholds controls when StartAdaptive switches strategy.
const (
	adaptiveResponseTimeThreshold = 3 * time.Second
	adaptiveConcentrationRatio    = 0.8
)

// StartAdaptive runs a periodic evaluation loop every interval: if the
// aggregate average response time across candidates exceeds threshold,
// switch to fastest-response. The loop passes evaluateAdaptive a selection
// tally that Select never fills, so the switch to round-robin on
// concentrated selections does not happen from this loop. No-op if adaptive
// mode is disabled.
func (b *LoadBalancer) StartAdaptive(interval time.Duration, snapshot func() []candidate) {
	if !b.adaptive {
		return
	}
	if interval <= 0 {
		interval = 60 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		selections := make(map[string]int)
		for {
			select {
			case <-b.stopCh:
				return
			case <-ticker.C:
				candidates := snapshot()
				b.evaluateAdaptive(candidates, selections)
			}
		}
	}()
}

func (b *LoadBalancer) evaluateAdaptive(candidates []candidate, selections map[string]int) {
	if len(candidates) == 0 {
		return
	}

	var total time.Duration
	count := 0
	for _, c := range candidates {
		if c.metrics.AvgResponseTime > 0 {
			total += c.metrics.AvgResponseTime
			count++
		}
	}
	if count > 0 && total/time.Duration(count) > adaptiveResponseTimeThreshold {
		_ = b.SetStrategy(StrategyFastestResponse)
		return
	}

	var grandTotal int
	maxShare := 0
	for _, n := range selections {
		grandTotal += n
		if n > maxShare {
			maxShare = n
		}
	}
	if grandTotal > 0 && float64(maxShare)/float64(grandTotal) >= adaptiveConcentrationRatio {
		_ = b.SetStrategy(StrategyRoundRobin)
	}
}

// Stop halts the adaptive evaluation loop, if running.
func (b *LoadBalancer) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}
