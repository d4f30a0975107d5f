package phase

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/deskpilot/orchestrator/internal/eventbus"
	"github.com/deskpilot/orchestrator/pkg/orch"
)

var tracer = otel.Tracer("github.com/deskpilot/orchestrator/internal/phase")

// Machine is one driver session's live position in a Graph. Unlike the
// teacher's BaseComponent, whose six lifecycle states are fixed and mutated
// via atomic CompareAndSwap, a Machine's edge set is arbitrary and keyed by
// named Trigger, so transitions are serialised behind a mutex instead —
// matching the "all state mutation is serialised" discipline used by
// internal/circuit.Breaker in this module.
type Machine struct {
	mu         sync.Mutex
	graph      *Graph
	current    orch.SessionPhase
	emitter    *eventbus.Emitter
	logger     *slog.Logger
	phaseSpan  trace.Span
}

// New creates a Machine positioned at graph's initial phase. emitter may be
// nil, in which case transitions are not published (useful in tests).
func New(graph *Graph, emitter *eventbus.Emitter, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default().With("component", "phase-machine")
	}
	return &Machine{
		graph:   graph,
		current: graph.initial,
		emitter: emitter,
		logger:  logger,
	}
}

// Current returns the machine's current phase.
func (m *Machine) Current() orch.SessionPhase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// CanFire reports whether trigger has an edge out of the current phase.
func (m *Machine) CanFire(trigger Trigger) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.graph.next(m.current, trigger)
	return ok
}

// PermittedTriggers lists every trigger with an edge out of the current
// phase.
func (m *Machine) PermittedTriggers() []Trigger {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.graph.permitted(m.current)
}

// Fire attempts to move the machine along trigger's edge, emitting
// PhaseChanged on success. An unhandled trigger — one with no edge out of
// the current phase — is logged and swallowed rather than returned as an
// error: the UI can race with internal timers and must not be able to crash
// a driver by firing a stale trigger.
//
// On a successful transition, Fire also closes the OpenTelemetry span
// covering the phase being left and opens a new one covering the phase
// being entered, so one span records the wall-clock time a session spent
// in each phase (SPEC_FULL.md's "one span per driver phase"). Before a
// real TracerProvider is installed via internal/telemetry, these are the
// standard otel no-op spans and cost nothing beyond the call.
func (m *Machine) Fire(ctx context.Context, trigger Trigger, reason string) bool {
	m.mu.Lock()
	to, ok := m.graph.next(m.current, trigger)
	if !ok {
		from := m.current
		m.mu.Unlock()
		m.logger.Warn("unhandled phase trigger",
			"trigger", string(trigger), "phase", string(from))
		return false
	}
	from := m.current
	m.current = to
	prevSpan := m.phaseSpan

	_, newSpan := tracer.Start(ctx, string(to), trace.WithAttributes(
		attribute.String("phase.trigger", string(trigger)),
		attribute.String("phase.from", string(from)),
		attribute.String("phase.to", string(to)),
	))
	m.phaseSpan = newSpan
	m.mu.Unlock()

	if prevSpan != nil {
		prevSpan.End()
	}

	m.logger.Debug("phase transition",
		"trigger", string(trigger), "from", string(from), "to", string(to))

	if m.emitter != nil {
		m.emitter.PhaseChanged(ctx, from, to, reason)
	}
	return true
}
