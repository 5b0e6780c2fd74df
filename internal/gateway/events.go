package gateway

import (
	"time"

	"go.uber.org/zap"
)

// EventKind is the closed set of lifecycle events the engine and health
// tracker emit.
type EventKind string

const (
	EventProviderRegistered     EventKind = "providerRegistered"
	EventProviderUnregistered   EventKind = "providerUnregistered"
	EventProviderSelected       EventKind = "providerSelected"
	EventOperationSuccess       EventKind = "operationSuccess"
	EventOperationFailure       EventKind = "operationFailure"
	EventAllProvidersFailed     EventKind = "allProvidersFailed"
	EventHealthCheckPassed      EventKind = "healthCheckPassed"
	EventHealthCheckFailed      EventKind = "healthCheckFailed"
	EventCircuitBreakerChanged  EventKind = "circuitBreakerStateChanged"
	EventStrategyChanged        EventKind = "strategyChanged"
)

// Event is a single structured lifecycle notification.
type Event struct {
	Kind     EventKind
	Provider string
	At       time.Time
	Fields   map[string]any
}

// EventSink receives lifecycle events. Implementations must not block the
// caller for long; Engine and HealthTracker invoke Emit synchronously on
// their hot paths.
type EventSink interface {
	Emit(Event)
}

// noopSink discards all events; used when no sink is configured.
type noopSink struct{}

func (noopSink) Emit(Event) {}

// zapSink logs events through a zap.Logger at a level appropriate to the
// event kind, with structured fields rather than a printf-style message.
type zapSink struct {
	logger *zap.Logger
}

// NewZapEventSink wraps logger as an EventSink. A nil logger falls back to
// zap.NewNop().
func NewZapEventSink(logger *zap.Logger) EventSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &zapSink{logger: logger}
}

func (s *zapSink) Emit(ev Event) {
	fields := make([]zap.Field, 0, len(ev.Fields)+2)
	fields = append(fields, zap.String("provider", ev.Provider), zap.Time("at", ev.At))
	for k, v := range ev.Fields {
		fields = append(fields, zap.Any(k, v))
	}

	switch ev.Kind {
	case EventHealthCheckFailed, EventOperationFailure, EventAllProvidersFailed:
		s.logger.Warn(string(ev.Kind), fields...)
	default:
		s.logger.Info(string(ev.Kind), fields...)
	}
}
