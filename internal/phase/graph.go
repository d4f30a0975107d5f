// Package phase implements the deterministic phase state machine shared by
// the Team, Office, and Panel drivers: a declared set of (state, trigger) ->
// state edges, with canFire/permittedTriggers/fire semantics. Adapted from
// the reference implementation's internal/infra/lifecycle.go BaseComponent, whose
// TransitionTo(from, to) compare-and-swap idiom is generalized here from a
// fixed six-state component lifecycle into an arbitrary named-trigger graph.
package phase

import "github.com/deskpilot/orchestrator/pkg/orch"

// Trigger names the event that moves a Machine from one phase to another.
type Trigger string

const (
	UserSubmitted         Trigger = "user_submitted"
	ClarificationsComplete Trigger = "clarifications_complete"
	UserApproved          Trigger = "user_approved"
	UserRejected          Trigger = "user_rejected"
	PlanReady             Trigger = "plan_ready"
	ExecutionComplete     Trigger = "execution_complete"
	SynthesisComplete     Trigger = "synthesis_complete"
	EventsFetched         Trigger = "events_fetched"
	ScheduleReady         Trigger = "schedule_ready"
	AggregationComplete   Trigger = "aggregation_complete"
	RestComplete          Trigger = "rest_complete"
	PanelistsReady        Trigger = "panelists_ready"
	ConvergenceDetected   Trigger = "convergence_detected"
	StartSynthesis        Trigger = "start_synthesis"
	ResumeDebate          Trigger = "resume_debate"
	UserPaused            Trigger = "user_paused"
	UserResumed           Trigger = "user_resumed"
	UserStopped           Trigger = "user_stopped"
	UserCancelled         Trigger = "user_cancelled"
	Timeout               Trigger = "timeout"
	Error                 Trigger = "error"
	Reset                 Trigger = "reset"
)

// Phases common across drivers.
const (
	Idle            orch.SessionPhase = "idle"
	Clarifying      orch.SessionPhase = "clarifying"
	AwaitingApproval orch.SessionPhase = "awaiting_approval"
	Completed       orch.SessionPhase = "completed"
	Cancelled       orch.SessionPhase = "cancelled"
	Failed          orch.SessionPhase = "failed"
	Stopped         orch.SessionPhase = "stopped"
	Paused          orch.SessionPhase = "paused"
)

// Team-only phases.
const (
	Planning     orch.SessionPhase = "planning"
	Executing    orch.SessionPhase = "executing"
	Synthesising orch.SessionPhase = "synthesising"
)

// Office-only phases.
const (
	FetchingEvents orch.SessionPhase = "fetching_events"
	Scheduling     orch.SessionPhase = "scheduling"
	OfficeExecuting orch.SessionPhase = "office_executing"
	Aggregating    orch.SessionPhase = "aggregating"
	Resting        orch.SessionPhase = "resting"
	OfficeError    orch.SessionPhase = "office_error"
)

// Panel-only phases.
const (
	Preparing   orch.SessionPhase = "preparing"
	Running     orch.SessionPhase = "running"
	Converging  orch.SessionPhase = "converging"
)

type edgeKey struct {
	from    orch.SessionPhase
	trigger Trigger
}

// Graph is a declarative, reusable (state, trigger) -> state edge set. One
// Graph is built per driver kind and shared by every session's Machine.
type Graph struct {
	initial orch.SessionPhase
	edges   map[edgeKey]orch.SessionPhase
}

// NewGraph starts a Graph builder rooted at initial.
func NewGraph(initial orch.SessionPhase) *Graph {
	return &Graph{initial: initial, edges: make(map[edgeKey]orch.SessionPhase)}
}

// Edge declares that firing trigger while in from moves the machine to to.
// Returns the Graph so edges can be chained.
func (g *Graph) Edge(from orch.SessionPhase, trigger Trigger, to orch.SessionPhase) *Graph {
	g.edges[edgeKey{from, trigger}] = to
	return g
}

// EdgeFromAny declares trigger reachable from every phase in froms, moving
// to to. Used for global escape hatches like Cancel/Error that fire from
// any active phase.
func (g *Graph) EdgeFromAny(froms []orch.SessionPhase, trigger Trigger, to orch.SessionPhase) *Graph {
	for _, from := range froms {
		g.Edge(from, trigger, to)
	}
	return g
}

func (g *Graph) next(from orch.SessionPhase, trigger Trigger) (orch.SessionPhase, bool) {
	to, ok := g.edges[edgeKey{from, trigger}]
	return to, ok
}

func (g *Graph) permitted(from orch.SessionPhase) []Trigger {
	var triggers []Trigger
	for key := range g.edges {
		if key.from == from {
			triggers = append(triggers, key.trigger)
		}
	}
	return triggers
}

// TeamGraph is the Team Orchestrator's phase graph: Idle -> Clarifying ->
// AwaitingApproval -> Planning -> Executing -> Synthesising -> Completed,
// with Cancelled/Failed reachable from any active phase.
func TeamGraph() *Graph {
	active := []orch.SessionPhase{Clarifying, AwaitingApproval, Planning, Executing, Synthesising}

	g := NewGraph(Idle)
	g.Edge(Idle, UserSubmitted, Clarifying)
	g.Edge(Clarifying, ClarificationsComplete, AwaitingApproval)
	g.Edge(AwaitingApproval, UserApproved, Planning)
	g.Edge(AwaitingApproval, UserRejected, Clarifying)
	g.Edge(Planning, PlanReady, Executing)
	g.Edge(Executing, ExecutionComplete, Synthesising)
	g.Edge(Synthesising, SynthesisComplete, Completed)
	g.EdgeFromAny(active, UserCancelled, Cancelled)
	g.EdgeFromAny(active, Error, Failed)
	return g
}

// OfficeGraph is the Office Manager Loop's phase graph: a clarify/approve
// prelude followed by the FetchingEvents -> Scheduling -> Executing ->
// Aggregating -> Resting -> FetchingEvents cycle. Paused and Stopped are
// reachable from any active phase; Error recovers via Reset -> Idle.
func OfficeGraph() *Graph {
	active := []orch.SessionPhase{
		Clarifying, AwaitingApproval, FetchingEvents, Scheduling,
		OfficeExecuting, Aggregating, Resting,
	}

	g := NewGraph(Idle)
	g.Edge(Idle, UserSubmitted, Clarifying)
	g.Edge(Clarifying, ClarificationsComplete, AwaitingApproval)
	g.Edge(AwaitingApproval, UserApproved, FetchingEvents)
	g.Edge(AwaitingApproval, UserRejected, Clarifying)
	g.Edge(FetchingEvents, EventsFetched, Scheduling)
	g.Edge(Scheduling, ScheduleReady, OfficeExecuting)
	g.Edge(OfficeExecuting, ExecutionComplete, Aggregating)
	g.Edge(Aggregating, AggregationComplete, Resting)
	g.Edge(Resting, RestComplete, FetchingEvents)
	g.EdgeFromAny(active, UserPaused, Paused)
	g.Edge(Paused, UserResumed, FetchingEvents)
	g.EdgeFromAny(append(active, Paused), UserStopped, Stopped)
	g.EdgeFromAny(active, Error, OfficeError)
	g.Edge(OfficeError, Reset, Idle)
	return g
}

// PanelGraph is the Panel Discussion Engine's phase graph, matching the
// explicit trigger set named in the discussion engine's design: Idle ->
// Clarifying -> AwaitingApproval -> Preparing -> Running -> (Paused) ->
// Converging -> Synthesising -> Completed, with Stopped/Failed resetting to
// Idle.
func PanelGraph() *Graph {
	active := []orch.SessionPhase{
		Clarifying, AwaitingApproval, Preparing, Running, Paused, Converging, Synthesising,
	}

	g := NewGraph(Idle)
	g.Edge(Idle, UserSubmitted, Clarifying)
	g.Edge(Clarifying, ClarificationsComplete, AwaitingApproval)
	g.Edge(AwaitingApproval, UserApproved, Preparing)
	g.Edge(AwaitingApproval, UserRejected, Clarifying)
	g.Edge(Preparing, PanelistsReady, Running)
	g.Edge(Running, ConvergenceDetected, Converging)
	g.Edge(Running, UserPaused, Paused)
	g.Edge(Paused, UserResumed, Running)
	g.Edge(Converging, StartSynthesis, Synthesising)
	g.Edge(Converging, ResumeDebate, Running)
	g.Edge(Synthesising, SynthesisComplete, Completed)
	g.EdgeFromAny(active, UserStopped, Stopped)
	g.EdgeFromAny(active, UserCancelled, Stopped)
	g.EdgeFromAny(active, Timeout, Failed)
	g.EdgeFromAny(active, Error, Failed)
	g.Edge(Stopped, Reset, Idle)
	g.Edge(Failed, Reset, Idle)
	return g
}
