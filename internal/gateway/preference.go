package gateway

import "time"

// candidate is the per-provider view the Preference Resolver and Load
// Balancer operate over: a name plus the snapshots needed to score and
// filter it, assembled fresh for each Execute call.
type candidate struct {
	name                string
	config              ProviderConfig
	health              HealthRecord
	metrics             MetricsRecord
	breakerState        BreakerState
	consecutiveFailures int
	lastActivity        time.Time
	inFlight            int64
}

// effectivePriority composes static config priority, a performance
// adjustment from recent success rate, and a request-scoped bonus for
// preferred providers. Exclusion is not applied here; eligible filters
// excluded providers out.
func effectivePriority(c candidate, reqCtx RequestContext) float64 {
	base := float64(c.config.BasePriority)

	successRate := c.metrics.SuccessRate()
	hasHistory := c.metrics.Requests > 0

	performance := base
	if hasHistory {
		performance = maxFloat(0.1, base+2*(successRate-0.5))
	}

	if reqCtx.prefers(c.name) {
		performance += 5
	}
	return performance
}

// eligible reports whether a candidate passes the Preference Resolver's
// cutoffs: capability requirements, excluded-provider list, minimum success
// rate (new providers with no history bypass this), and maximum response
// time.
func eligible(c candidate, reqCtx RequestContext) bool {
	if !c.config.Enabled {
		return false
	}
	if reqCtx.excludes(c.name) {
		return false
	}
	if reqCtx.Capabilities != 0 && !c.config.Capabilities.Has(reqCtx.Capabilities) {
		return false
	}

	hasHistory := c.metrics.Requests > 0
	if hasHistory && reqCtx.MinSuccessRate > 0 && c.metrics.SuccessRate() < reqCtx.MinSuccessRate {
		return false
	}
	if reqCtx.MaxResponseTime > 0 && c.metrics.AvgResponseTime > 0 && c.metrics.AvgResponseTime > reqCtx.MaxResponseTime {
		return false
	}
	return true
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
