package gateway

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, 30*time.Second, s.HealthCheckInterval)
	assert.Equal(t, StrategyWeighted, s.LoadBalancingStrategy)
	assert.False(t, s.AdaptiveStrategy)
}

func TestLoadSettings_NilViperReturnsDefaults(t *testing.T) {
	s := LoadSettings(nil)
	assert.Equal(t, DefaultSettings(), s)
}

func TestLoadSettings_OverridesRecognizedKeys(t *testing.T) {
	v := viper.New()
	v.Set("maxRetryAttempts", 7)
	v.Set("circuitBreakerThreshold", 2)
	v.Set("loadBalancingStrategy", "round_robin")
	v.Set("adaptiveStrategy", true)
	v.Set("priorityLevels", []string{"urgent", "normal"})

	s := LoadSettings(v)
	assert.Equal(t, 7, s.MaxRetryAttempts)
	assert.Equal(t, 2, s.CircuitBreakerThreshold)
	assert.Equal(t, StrategyRoundRobin, s.LoadBalancingStrategy)
	assert.True(t, s.AdaptiveStrategy)
	assert.Equal(t, []string{"urgent", "normal"}, s.PriorityLevels)

	// unset keys still fall back to defaults.
	assert.Equal(t, DefaultSettings().MaxBackoff, s.MaxBackoff)
}

func TestSettings_BreakerSettingsConversion(t *testing.T) {
	s := DefaultSettings()
	bs := s.breakerSettings()
	assert.Equal(t, s.CircuitBreakerThreshold, bs.FailureThreshold)
	assert.Equal(t, s.FailureRateThreshold, bs.FailureRateThreshold)
	assert.Equal(t, s.CircuitBreakerTimeout, bs.OpenDuration)
	assert.Equal(t, time.Duration(s.WindowTimeMs)*time.Millisecond, bs.WindowAge)
}

func TestSettings_FallbackPolicyConversion(t *testing.T) {
	s := DefaultSettings()
	fp := s.fallbackPolicy()
	assert.Equal(t, s.MaxRetryAttempts, fp.MaxRetries)
	assert.Equal(t, s.BackoffMultiplier, fp.BackoffMultiplier)
	assert.Equal(t, s.MaxBackoff, fp.MaxBackoff)
}

func TestLoadProviderManifest(t *testing.T) {
	doc := []byte(`
providers:
  - name: cerebras
    basePriority: 10
    enabled: true
    capabilities: [streaming, tool_use]
    maxConcurrent: 8
    fallback:
      maxRetries: 4
      backoffMultiplier: 2.5
      maxBackoffMs: 45000
  - name: openai
    basePriority: 5
    enabled: false
`)

	configs, err := LoadProviderManifest(doc)
	require.NoError(t, err)
	require.Len(t, configs, 2)

	assert.Equal(t, "cerebras", configs[0].Name)
	assert.Equal(t, 10, configs[0].BasePriority)
	assert.True(t, configs[0].Capabilities.Has(CapabilityStreaming))
	assert.True(t, configs[0].Capabilities.Has(CapabilityToolUse))
	assert.False(t, configs[0].Capabilities.Has(CapabilityVision))
	assert.Equal(t, 4, configs[0].Fallback.MaxRetries)
	assert.Equal(t, 45*time.Second, configs[0].Fallback.MaxBackoff)

	assert.Equal(t, "openai", configs[1].Name)
	assert.False(t, configs[1].Enabled)
}

func TestLoadProviderManifest_InvalidYAMLErrors(t *testing.T) {
	_, err := LoadProviderManifest([]byte("not: valid: yaml: : :"))
	assert.Error(t, err)
}
