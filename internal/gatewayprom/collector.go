// Package gatewayprom adapts an aidispatch engine's per-provider metrics,
// health, and breaker state into a prometheus.Collector, fanning out across
// every registered provider instead of a single breaker.
package gatewayprom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vnykmshr/aidispatch/internal/gateway"
)

// EngineSource is the subset of *gateway.Engine the collector needs,
// kept as an interface so tests can supply a fake.
type EngineSource interface {
	Names() []string
	Metrics(name string) (gateway.MetricsRecord, error)
	Health(name string) (gateway.HealthRecord, error)
	BreakerState(name string) (gateway.BreakerSnapshot, error)
}

// Collector exports one engine's provider metrics, health, and breaker
// state as Prometheus gauges and counters, labeled by provider name.
type Collector struct {
	engine EngineSource

	requestsDesc     *prometheus.Desc
	successesDesc    *prometheus.Desc
	failuresDesc     *prometheus.Desc
	rateLimitDesc    *prometheus.Desc
	breakerTripsDesc *prometheus.Desc
	successRateDesc  *prometheus.Desc
	avgLatencyDesc   *prometheus.Desc
	healthyDesc      *prometheus.Desc
	breakerStateDesc *prometheus.Desc
	failureRateDesc  *prometheus.Desc
}

// New builds a Collector over engine. The registry lookups in engine
// (Names, Metrics, Health, BreakerState) are the only calls invoked, all on
// Collect.
func New(engine EngineSource) *Collector {
	return &Collector{
		engine: engine,
		requestsDesc: prometheus.NewDesc(
			"aidispatch_provider_requests_total", "Total requests attempted against this provider.",
			[]string{"provider"}, nil),
		successesDesc: prometheus.NewDesc(
			"aidispatch_provider_successes_total", "Total successful requests for this provider.",
			[]string{"provider"}, nil),
		failuresDesc: prometheus.NewDesc(
			"aidispatch_provider_failures_total", "Total failed requests for this provider.",
			[]string{"provider"}, nil),
		rateLimitDesc: prometheus.NewDesc(
			"aidispatch_provider_rate_limit_hits_total", "Total rate-limit classified failures for this provider.",
			[]string{"provider"}, nil),
		breakerTripsDesc: prometheus.NewDesc(
			"aidispatch_provider_breaker_trips_total", "Total times this provider's circuit breaker has tripped open.",
			[]string{"provider"}, nil),
		successRateDesc: prometheus.NewDesc(
			"aidispatch_provider_success_rate", "Lifetime success rate for this provider.",
			[]string{"provider"}, nil),
		avgLatencyDesc: prometheus.NewDesc(
			"aidispatch_provider_avg_response_seconds", "Exponential moving average response time in seconds.",
			[]string{"provider"}, nil),
		healthyDesc: prometheus.NewDesc(
			"aidispatch_provider_healthy", "1 if the provider is currently marked healthy, else 0.",
			[]string{"provider"}, nil),
		breakerStateDesc: prometheus.NewDesc(
			"aidispatch_provider_breaker_state", "Circuit breaker state (0=closed, 1=open, 2=half_open).",
			[]string{"provider"}, nil),
		failureRateDesc: prometheus.NewDesc(
			"aidispatch_provider_window_failure_rate", "Failure rate over the breaker's sliding window.",
			[]string{"provider"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requestsDesc
	ch <- c.successesDesc
	ch <- c.failuresDesc
	ch <- c.rateLimitDesc
	ch <- c.breakerTripsDesc
	ch <- c.successRateDesc
	ch <- c.avgLatencyDesc
	ch <- c.healthyDesc
	ch <- c.breakerStateDesc
	ch <- c.failureRateDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, name := range c.engine.Names() {
		metrics, err := c.engine.Metrics(name)
		if err != nil {
			continue
		}
		health, _ := c.engine.Health(name)
		breaker, _ := c.engine.BreakerState(name)

		ch <- prometheus.MustNewConstMetric(c.requestsDesc, prometheus.CounterValue, float64(metrics.Requests), name)
		ch <- prometheus.MustNewConstMetric(c.successesDesc, prometheus.CounterValue, float64(metrics.Successes), name)
		ch <- prometheus.MustNewConstMetric(c.failuresDesc, prometheus.CounterValue, float64(metrics.Failures), name)
		ch <- prometheus.MustNewConstMetric(c.rateLimitDesc, prometheus.CounterValue, float64(metrics.RateLimitHits), name)
		ch <- prometheus.MustNewConstMetric(c.successRateDesc, prometheus.GaugeValue, metrics.SuccessRate(), name)
		ch <- prometheus.MustNewConstMetric(c.avgLatencyDesc, prometheus.GaugeValue, metrics.AvgResponseTime.Seconds(), name)

		healthyValue := 0.0
		if health.IsHealthy {
			healthyValue = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.healthyDesc, prometheus.GaugeValue, healthyValue, name)

		ch <- prometheus.MustNewConstMetric(c.breakerStateDesc, prometheus.GaugeValue, float64(breaker.State), name)
		ch <- prometheus.MustNewConstMetric(c.breakerTripsDesc, prometheus.CounterValue, float64(breaker.Trips), name)
		ch <- prometheus.MustNewConstMetric(c.failureRateDesc, prometheus.GaugeValue, breaker.FailureRate, name)
	}
}
