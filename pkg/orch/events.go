package orch

import "time"

// EventType enumerates the lifecycle event taxonomy (spec §4.1).
type EventType string

const (
	EventPhaseChanged EventType = "phase.changed"

	EventPlanCreated     EventType = "plan.created"
	EventStageStarted    EventType = "stage.started"
	EventStageCompleted  EventType = "stage.completed"

	EventWorkerStarted  EventType = "worker.started"
	EventWorkerProgress EventType = "worker.progress"
	EventWorkerCompleted EventType = "worker.completed"
	EventWorkerFailed   EventType = "worker.failed"
	EventWorkerRetrying EventType = "worker.retrying"

	EventOrchestratorCommentary EventType = "commentary.orchestrator"
	EventWorkerCommentary       EventType = "commentary.worker"
	EventToolInvocation         EventType = "tool.invocation"
	EventToolResult             EventType = "tool.result"
	EventReasoning              EventType = "reasoning"

	EventClarificationRequested EventType = "clarification.requested"
	EventClarificationReceived  EventType = "clarification.received"
	EventInjectionReceived      EventType = "injection.received"
	EventApprovalRequested      EventType = "approval.requested"
	EventApprovalResolved       EventType = "approval.resolved"

	EventTaskCompleted EventType = "task.completed"
	EventTaskAborted   EventType = "task.aborted"
	EventRestCountdown EventType = "rest.countdown"
)

// PhasePayload carries a PhaseChanged event's detail.
type PhasePayload struct {
	From   SessionPhase
	To     SessionPhase
	Reason string
}

// WorkerPayload carries Worker/Assistant lifecycle event detail.
type WorkerPayload struct {
	ChunkOrTaskID string
	Activity      string
	ProgressPct   int
	Err           string
}

// CommentaryPayload carries streamed narration, tool-invocation, and
// reasoning event detail.
type CommentaryPayload struct {
	AgentID string
	Text    string
	ToolName string
	ToolArgsJSON string
	ToolResultJSON string
}

// InteractionPayload carries clarification/injection/approval event detail.
type InteractionPayload struct {
	Text       string
	ToolName   string
	Approved   bool
	Reason     string
	ResponseCh chan ApprovalResponse `json:"-"`
}

// ApprovalResponse is the synchronous answer to an ApprovalRequested event,
// delivered by the UI collaborator via InteractionPayload.ResponseCh.
type ApprovalResponse struct {
	Approved bool
	Remember bool
	Scope    string // "once" | "session" | "global"
}

// CompletionPayload carries TaskCompleted/TaskAborted/RestCountdown detail.
type CompletionPayload struct {
	Report          *ConsolidatedReport
	ErrorMessage    string
	SecondsRemaining int
	TotalSeconds    int
}

// Event is the unit published on the Event Bus. Every event references a
// live session id; CorrelationID links it to the user command that
// triggered it, letting the UI distinguish user-driven transitions from
// internal ones (timeouts, errors).
type Event struct {
	SessionID     string
	Time          time.Time
	Sequence      uint64
	CorrelationID string
	Type          EventType

	Phase       *PhasePayload
	Worker      *WorkerPayload
	Commentary  *CommentaryPayload
	Interaction *InteractionPayload
	Completion  *CompletionPayload
}
