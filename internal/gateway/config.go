package gateway

import (
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Settings is the engine-wide configuration surface, built from
// DefaultSettings or loaded from a viper.Viper instance (flags, env, or
// config file) via LoadSettings. NewEngine copies it at construction.
type Settings struct {
	HealthCheckInterval     time.Duration
	MaxRetryAttempts        int
	BackoffMultiplier       float64
	MaxBackoff              time.Duration
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
	HalfOpenMaxRequests     int
	FailureRateThreshold    float64
	MinimumObservations     int
	WindowSize              int
	WindowTimeMs            int
	MaxConcurrentRequests   int      // engine-wide in-flight cap; <=0 disables the global semaphore
	MaxQueueSize            int      // front-queue capacity; <=0 disables admission queuing entirely
	PriorityLevels          []string // descending-preference order, matching AdmissionQueue's ranking
	LoadBalancingStrategy   StrategyName
	AdaptiveStrategy        bool
}

// DefaultSettings returns the engine's out-of-the-box configuration.
func DefaultSettings() Settings {
	return Settings{
		HealthCheckInterval:     30 * time.Second,
		MaxRetryAttempts:        3,
		BackoffMultiplier:       2.0,
		MaxBackoff:              60 * time.Second,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   30 * time.Second,
		HalfOpenMaxRequests:     1,
		FailureRateThreshold:    0.5,
		MinimumObservations:     10,
		WindowSize:              100,
		WindowTimeMs:            300_000,
		MaxConcurrentRequests:   256,
		MaxQueueSize:            1000,
		PriorityLevels:          []string{"high", "normal", "low"},
		LoadBalancingStrategy:   StrategyWeighted,
		AdaptiveStrategy:        false,
	}
}

// LoadSettings reads recognized keys from v, applying DefaultSettings for
// anything unset. Key names match the external configuration table:
// healthCheckInterval, maxRetryAttempts, backoffMultiplier,
// circuitBreakerThreshold, circuitBreakerTimeout, halfOpenMaxRequests,
// failureRateThreshold, windowSize, windowTimeMs, maxConcurrentRequests,
// maxQueueSize, priorityLevels, loadBalancingStrategy, adaptiveStrategy.
func LoadSettings(v *viper.Viper) Settings {
	s := DefaultSettings()
	if v == nil {
		return s
	}

	if v.IsSet("healthCheckInterval") {
		s.HealthCheckInterval = v.GetDuration("healthCheckInterval")
	}
	if v.IsSet("maxRetryAttempts") {
		s.MaxRetryAttempts = v.GetInt("maxRetryAttempts")
	}
	if v.IsSet("backoffMultiplier") {
		s.BackoffMultiplier = v.GetFloat64("backoffMultiplier")
	}
	if v.IsSet("maxBackoff") {
		s.MaxBackoff = v.GetDuration("maxBackoff")
	}
	if v.IsSet("circuitBreakerThreshold") {
		s.CircuitBreakerThreshold = v.GetInt("circuitBreakerThreshold")
	}
	if v.IsSet("circuitBreakerTimeout") {
		s.CircuitBreakerTimeout = v.GetDuration("circuitBreakerTimeout")
	}
	if v.IsSet("halfOpenMaxRequests") {
		s.HalfOpenMaxRequests = v.GetInt("halfOpenMaxRequests")
	}
	if v.IsSet("failureRateThreshold") {
		s.FailureRateThreshold = v.GetFloat64("failureRateThreshold")
	}
	if v.IsSet("minimumObservations") {
		s.MinimumObservations = v.GetInt("minimumObservations")
	}
	if v.IsSet("windowSize") {
		s.WindowSize = v.GetInt("windowSize")
	}
	if v.IsSet("windowTimeMs") {
		s.WindowTimeMs = v.GetInt("windowTimeMs")
	}
	if v.IsSet("maxConcurrentRequests") {
		s.MaxConcurrentRequests = v.GetInt("maxConcurrentRequests")
	}
	if v.IsSet("maxQueueSize") {
		s.MaxQueueSize = v.GetInt("maxQueueSize")
	}
	if v.IsSet("priorityLevels") {
		s.PriorityLevels = v.GetStringSlice("priorityLevels")
	}
	if v.IsSet("loadBalancingStrategy") {
		s.LoadBalancingStrategy = StrategyName(v.GetString("loadBalancingStrategy"))
	}
	if v.IsSet("adaptiveStrategy") {
		s.AdaptiveStrategy = v.GetBool("adaptiveStrategy")
	}

	return s
}

func (s Settings) breakerSettings() BreakerSettings {
	return BreakerSettings{
		FailureThreshold:     s.CircuitBreakerThreshold,
		FailureRateThreshold: s.FailureRateThreshold,
		MinimumObservations:  s.MinimumObservations,
		OpenDuration:         s.CircuitBreakerTimeout,
		WindowSize:           s.WindowSize,
		WindowAge:            time.Duration(s.WindowTimeMs) * time.Millisecond,
	}
}

func (s Settings) fallbackPolicy() FallbackPolicy {
	return FallbackPolicy{
		MaxRetries:        s.MaxRetryAttempts,
		BackoffMultiplier: s.BackoffMultiplier,
		MaxBackoff:        s.MaxBackoff,
	}
}

// yamlProviderManifest is the on-disk shape of a provider fleet manifest:
// operators declare their providers once in YAML rather than wiring each one
// up in code, separate from the runtime Settings that viper controls.
type yamlProviderManifest struct {
	Providers []yamlProviderEntry `yaml:"providers"`
}

type yamlProviderEntry struct {
	Name            string   `yaml:"name"`
	BasePriority    int      `yaml:"basePriority"`
	Enabled         bool     `yaml:"enabled"`
	Capabilities    []string `yaml:"capabilities"`
	MaxConcurrent   int      `yaml:"maxConcurrent"`
	RateLimitPerMin int      `yaml:"rateLimitPerMin"`
	Fallback        struct {
		MaxRetries        int     `yaml:"maxRetries"`
		BackoffMultiplier float64 `yaml:"backoffMultiplier"`
		MaxBackoffMs      int     `yaml:"maxBackoffMs"`
	} `yaml:"fallback"`
}

var capabilityNames = map[string]Capability{
	"streaming":    CapabilityStreaming,
	"high_quality": CapabilityHighQuality,
	"tool_use":     CapabilityToolUse,
	"vision":       CapabilityVision,
	"json_mode":    CapabilityJSONMode,
}

// LoadProviderManifest parses a YAML provider fleet declaration into
// ProviderConfig values, in registration order. Unrecognized capability
// names are ignored rather than rejected, so an older manifest still loads
// against a gateway build that has not yet learned a newer capability.
func LoadProviderManifest(data []byte) ([]ProviderConfig, error) {
	var manifest yamlProviderManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, err
	}

	configs := make([]ProviderConfig, 0, len(manifest.Providers))
	for _, p := range manifest.Providers {
		var caps Capability
		for _, name := range p.Capabilities {
			caps |= capabilityNames[name]
		}
		configs = append(configs, ProviderConfig{
			Name:            p.Name,
			BasePriority:    p.BasePriority,
			Enabled:         p.Enabled,
			Capabilities:    caps,
			MaxConcurrent:   p.MaxConcurrent,
			RateLimitPerMin: p.RateLimitPerMin,
			Fallback: FallbackPolicy{
				MaxRetries:        p.Fallback.MaxRetries,
				BackoffMultiplier: p.Fallback.BackoffMultiplier,
				MaxBackoff:        time.Duration(p.Fallback.MaxBackoffMs) * time.Millisecond,
			},
		})
	}
	return configs, nil
}
