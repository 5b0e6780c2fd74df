// Package aidispatch is a multi-tenant AI provider gateway: it routes
// generation requests across registered upstream AI providers (Cerebras,
// OpenAI-compatible endpoints, self-hosted models) while enforcing health
// monitoring, load balancing, per-provider circuit breaking, retry with
// exponential backoff, intelligent cross-provider fallback, and response
// normalization.
//
// # Quick Start
//
// Build an engine, register providers, and execute requests:
//
//	engine := aidispatch.NewEngine(aidispatch.DefaultSettings(), nil)
//	engine.Start(ctx)
//	defer engine.Stop()
//
//	engine.Register(aidispatch.ProviderConfig{
//	    Name:         "cerebras-primary",
//	    BasePriority: 10,
//	    Enabled:      true,
//	    Capabilities: aidispatch.CapabilityStreaming,
//	}, myAdapter)
//
//	result, err := engine.Execute(ctx, prompt, aidispatch.ExecuteOptions{
//	    OperationType: "chat.completion",
//	})
//
// # Resilience Model
//
// Each registered provider carries its own circuit breaker, health tracker,
// and metrics, isolated from every other provider so one failing upstream
// never starves another's traffic. A request that fails on one provider
// retries with jittered exponential backoff up to its configured limit,
// then falls through to the next eligible candidate, carrying forward a
// summary of recent failures so the next adapter call can make informed
// decisions (e.g. trimming context, switching models).
//
// # Observability
//
// Registration, selection, attempt outcome, health-check result, a breaker
// tripping open, and strategy change are each emitted as a typed Event to an
// injected EventSink. A breaker's moves to half-open and back to closed are
// not emitted. The default sink logs through go.uber.org/zap; a
// Prometheus collector adapter is available in the gatewayprom subpackage.
//
// # Implementation Note: Package Variable Pattern
//
// Most of the public surface is exposed via package variables and type
// aliases onto internal/gateway (type Engine = gateway.Engine) rather than
// wrapper types. This keeps the import path short (aidispatch.NewEngine vs
// gateway.NewEngine) while keeping the request-execution core itself
// unexported and free to evolve.
package aidispatch

import "github.com/vnykmshr/aidispatch/internal/gateway"

// Core types re-exported from internal/gateway.
type (
	Engine              = gateway.Engine
	Registry            = gateway.Registry
	Settings            = gateway.Settings
	ExecuteOptions      = gateway.ExecuteOptions
	ProviderConfig      = gateway.ProviderConfig
	ProviderAdapter     = gateway.ProviderAdapter
	GenerateOptions     = gateway.GenerateOptions
	RequestContext      = gateway.RequestContext
	SwitchInfo          = gateway.SwitchInfo
	Result              = gateway.Result
	HealthRecord        = gateway.HealthRecord
	MetricsRecord       = gateway.MetricsRecord
	BreakerSnapshot     = gateway.BreakerSnapshot
	BreakerState        = gateway.BreakerState
	Diagnostics         = gateway.Diagnostics
	FailureEvent        = gateway.FailureEvent
	FallbackPolicy      = gateway.FallbackPolicy
	Capability          = gateway.Capability
	StrategyName        = gateway.StrategyName
	ErrorKind           = gateway.ErrorKind
	Severity            = gateway.Severity
	ErrorClassification = gateway.ErrorClassification
	Event               = gateway.Event
	EventKind           = gateway.EventKind
	EventSink           = gateway.EventSink
	NormalizedResponse  = gateway.NormalizedResponse
	ProviderShape       = gateway.ProviderShape
	ExhaustionError     = gateway.ExhaustionError
	AttemptError        = gateway.AttemptError
)

// Breaker state constants.
const (
	BreakerClosed   = gateway.BreakerClosed
	BreakerOpen     = gateway.BreakerOpen
	BreakerHalfOpen = gateway.BreakerHalfOpen
)

// Error kind constants.
const (
	KindTimeout        = gateway.KindTimeout
	KindRateLimit      = gateway.KindRateLimit
	KindAuthentication = gateway.KindAuthentication
	KindConnection     = gateway.KindConnection
	KindServerError    = gateway.KindServerError
	KindClientError    = gateway.KindClientError
	KindQuota          = gateway.KindQuota
	KindCircuitOpen    = gateway.KindCircuitOpen
	KindUnknown        = gateway.KindUnknown
)

// Severity constants.
const (
	SeverityCritical = gateway.SeverityCritical
	SeverityHigh     = gateway.SeverityHigh
	SeverityMedium   = gateway.SeverityMedium
	SeverityLow      = gateway.SeverityLow
)

// Capability bit flags.
const (
	CapabilityStreaming   = gateway.CapabilityStreaming
	CapabilityHighQuality = gateway.CapabilityHighQuality
	CapabilityToolUse     = gateway.CapabilityToolUse
	CapabilityVision      = gateway.CapabilityVision
	CapabilityJSONMode    = gateway.CapabilityJSONMode
)

// Load balancing strategy names.
const (
	StrategyWeighted         = gateway.StrategyWeighted
	StrategyRoundRobin       = gateway.StrategyRoundRobin
	StrategyLeastConnections = gateway.StrategyLeastConnections
	StrategyFastestResponse  = gateway.StrategyFastestResponse
	StrategyPriority         = gateway.StrategyPriority
)

// Event kind constants.
const (
	EventProviderRegistered    = gateway.EventProviderRegistered
	EventProviderUnregistered  = gateway.EventProviderUnregistered
	EventProviderSelected      = gateway.EventProviderSelected
	EventOperationSuccess      = gateway.EventOperationSuccess
	EventOperationFailure      = gateway.EventOperationFailure
	EventAllProvidersFailed    = gateway.EventAllProvidersFailed
	EventHealthCheckPassed     = gateway.EventHealthCheckPassed
	EventHealthCheckFailed     = gateway.EventHealthCheckFailed
	EventCircuitBreakerChanged = gateway.EventCircuitBreakerChanged
	EventStrategyChanged       = gateway.EventStrategyChanged
)

// Provider shape hints for the Response Normalizer.
const (
	ShapeCerebras = gateway.ShapeCerebras
	ShapeOpenAI   = gateway.ShapeOpenAI
	ShapeGeneric  = gateway.ShapeGeneric
)

// Sentinel errors.
var (
	ErrUnknownProvider       = gateway.ErrUnknownProvider
	ErrUnknownStrategy       = gateway.ErrUnknownStrategy
	ErrInvalidPriority       = gateway.ErrInvalidPriority
	ErrCircuitOpen           = gateway.ErrCircuitOpen
	ErrTooManyHalfOpen       = gateway.ErrTooManyHalfOpen
	ErrNoEligibleProvider    = gateway.ErrNoEligibleProvider
	ErrUnresolvedPlaceholder = gateway.ErrUnresolvedPlaceholder
	ErrQueueFull             = gateway.ErrQueueFull
)

// NewEngine constructs an Engine wired from settings, emitting lifecycle
// events to sink (a nil sink discards events).
//
// The returned Engine is ready to use; call Start to launch its background
// health-probe and adaptive-strategy loops, and Stop to tear them down.
var NewEngine = gateway.NewEngine

// NewRegistry constructs a standalone provider registry, useful for callers
// that want registry introspection without a full Engine.
var NewRegistry = gateway.NewRegistry

// DefaultSettings returns the engine's out-of-the-box configuration.
var DefaultSettings = gateway.DefaultSettings

// LoadSettings reads engine configuration from a *viper.Viper instance.
var LoadSettings = gateway.LoadSettings

// LoadProviderManifest parses a YAML provider fleet declaration into
// ProviderConfig values, for operators who prefer to declare their
// providers in a file rather than in code.
var LoadProviderManifest = gateway.LoadProviderManifest

// NewZapEventSink wraps a *zap.Logger as an EventSink.
var NewZapEventSink = gateway.NewZapEventSink

// ClassifyError maps a raw upstream error to {kind, severity, retryable}.
var ClassifyError = gateway.ClassifyError

// ComputeBackoff returns the retry delay for attempt n against a
// classified error kind, per policy.
var ComputeBackoff = gateway.ComputeBackoff

// Normalize runs the four-stage response normalization pipeline over a raw
// upstream payload.
var Normalize = gateway.Normalize
