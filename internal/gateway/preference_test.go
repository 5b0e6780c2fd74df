package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEffectivePriority_NoHistoryUsesBasePriorityOnly(t *testing.T) {
	c := candidate{
		name:   "fresh",
		config: ProviderConfig{BasePriority: 10},
	}
	assert.Equal(t, 10.0, effectivePriority(c, RequestContext{}))
}

func TestEffectivePriority_GoodSuccessRateBoostsPriority(t *testing.T) {
	c := candidate{
		name:    "solid",
		config:  ProviderConfig{BasePriority: 10},
		metrics: MetricsRecord{Requests: 100, Successes: 95},
	}
	// base + 2*(0.95-0.5) = 10 + 0.9
	assert.InDelta(t, 10.9, effectivePriority(c, RequestContext{}), 0.0001)
}

func TestEffectivePriority_PoorSuccessRateFloorsAtPointOne(t *testing.T) {
	c := candidate{
		name:    "flaky",
		config:  ProviderConfig{BasePriority: 1},
		metrics: MetricsRecord{Requests: 100, Successes: 0},
	}
	// base + 2*(0-0.5) = 1 - 1 = 0, floored to 0.1
	assert.InDelta(t, 0.1, effectivePriority(c, RequestContext{}), 0.0001)
}

func TestEffectivePriority_PreferredProviderGetsBonus(t *testing.T) {
	c := candidate{name: "chosen", config: ProviderConfig{BasePriority: 5}}
	reqCtx := RequestContext{PreferredProviders: []string{"chosen"}}
	assert.Equal(t, 10.0, effectivePriority(c, reqCtx))
}

func TestEligible_DisabledProviderIsIneligible(t *testing.T) {
	c := candidate{name: "down", config: ProviderConfig{Enabled: false}}
	assert.False(t, eligible(c, RequestContext{}))
}

func TestEligible_ExcludedProviderIsIneligible(t *testing.T) {
	c := candidate{name: "banned", config: ProviderConfig{Enabled: true}}
	reqCtx := RequestContext{ExcludeProviders: []string{"banned"}}
	assert.False(t, eligible(c, reqCtx))
}

func TestEligible_MissingCapabilityIsIneligible(t *testing.T) {
	c := candidate{name: "text-only", config: ProviderConfig{Enabled: true, Capabilities: CapabilityStreaming}}
	reqCtx := RequestContext{Capabilities: CapabilityVision}
	assert.False(t, eligible(c, reqCtx))
}

func TestEligible_HasRequiredCapability(t *testing.T) {
	c := candidate{
		name:   "vision-capable",
		config: ProviderConfig{Enabled: true, Capabilities: CapabilityVision | CapabilityStreaming},
	}
	reqCtx := RequestContext{Capabilities: CapabilityVision}
	assert.True(t, eligible(c, reqCtx))
}

func TestEligible_BelowMinSuccessRateIsIneligible(t *testing.T) {
	c := candidate{
		name:    "struggling",
		config:  ProviderConfig{Enabled: true},
		metrics: MetricsRecord{Requests: 50, Successes: 10},
	}
	reqCtx := RequestContext{MinSuccessRate: 0.5}
	assert.False(t, eligible(c, reqCtx))
}

func TestEligible_NoHistoryBypassesMinSuccessRate(t *testing.T) {
	c := candidate{name: "new", config: ProviderConfig{Enabled: true}}
	reqCtx := RequestContext{MinSuccessRate: 0.9}
	assert.True(t, eligible(c, reqCtx))
}

func TestEligible_AboveMaxResponseTimeIsIneligible(t *testing.T) {
	c := candidate{
		name:    "slow",
		config:  ProviderConfig{Enabled: true},
		metrics: MetricsRecord{AvgResponseTime: 5 * time.Second},
	}
	reqCtx := RequestContext{MaxResponseTime: time.Second}
	assert.False(t, eligible(c, reqCtx))
}

func TestEligible_ZeroAvgResponseTimeBypassesMaxResponseTimeCheck(t *testing.T) {
	c := candidate{name: "untested", config: ProviderConfig{Enabled: true}}
	reqCtx := RequestContext{MaxResponseTime: time.Second}
	assert.True(t, eligible(c, reqCtx))
}
