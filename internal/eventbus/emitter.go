package eventbus

import (
	"context"

	"github.com/deskpilot/orchestrator/pkg/orch"
)

// Emitter wraps a Bus with convenience constructors for each taxonomy event,
// mirroring the reference implementation's EventEmitter (internal/agent/event_emitter.go):
// one method per event type, each building the typed payload and
// dispatching through the shared base/emit plumbing.
type Emitter struct {
	bus           *Bus
	correlationID string
}

// NewEmitter creates an Emitter over bus. correlationID may be empty; it is
// attached to every event this Emitter produces, letting the UI distinguish
// user-driven transitions from internally triggered ones.
func NewEmitter(bus *Bus, correlationID string) *Emitter {
	return &Emitter{bus: bus, correlationID: correlationID}
}

// WithCorrelationID returns a new Emitter sharing the same bus but tagging
// events with a different correlation id (e.g. for the command that caused
// them).
func (e *Emitter) WithCorrelationID(id string) *Emitter {
	return &Emitter{bus: e.bus, correlationID: id}
}

func (e *Emitter) base(t orch.EventType) orch.Event {
	return orch.Event{Type: t, CorrelationID: e.correlationID}
}

// PhaseChanged emits phase.changed.
func (e *Emitter) PhaseChanged(ctx context.Context, from, to orch.SessionPhase, reason string) orch.Event {
	ev := e.base(orch.EventPhaseChanged)
	ev.Phase = &orch.PhasePayload{From: from, To: to, Reason: reason}
	return e.bus.Publish(ctx, ev)
}

// PlanCreated emits plan.created.
func (e *Emitter) PlanCreated(ctx context.Context) orch.Event {
	return e.bus.Publish(ctx, e.base(orch.EventPlanCreated))
}

// StageStarted emits stage.started.
func (e *Emitter) StageStarted(ctx context.Context) orch.Event {
	return e.bus.Publish(ctx, e.base(orch.EventStageStarted))
}

// StageCompleted emits stage.completed.
func (e *Emitter) StageCompleted(ctx context.Context) orch.Event {
	return e.bus.Publish(ctx, e.base(orch.EventStageCompleted))
}

// WorkerStarted emits worker.started for the given chunk/task id.
func (e *Emitter) WorkerStarted(ctx context.Context, id string) orch.Event {
	ev := e.base(orch.EventWorkerStarted)
	ev.Worker = &orch.WorkerPayload{ChunkOrTaskID: id}
	return e.bus.Publish(ctx, ev)
}

// WorkerProgress emits worker.progress.
func (e *Emitter) WorkerProgress(ctx context.Context, id, activity string, pct int) orch.Event {
	ev := e.base(orch.EventWorkerProgress)
	ev.Worker = &orch.WorkerPayload{ChunkOrTaskID: id, Activity: activity, ProgressPct: pct}
	return e.bus.Publish(ctx, ev)
}

// WorkerCompleted emits worker.completed.
func (e *Emitter) WorkerCompleted(ctx context.Context, id string) orch.Event {
	ev := e.base(orch.EventWorkerCompleted)
	ev.Worker = &orch.WorkerPayload{ChunkOrTaskID: id}
	return e.bus.Publish(ctx, ev)
}

// WorkerFailed emits worker.failed.
func (e *Emitter) WorkerFailed(ctx context.Context, id string, err error) orch.Event {
	ev := e.base(orch.EventWorkerFailed)
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	ev.Worker = &orch.WorkerPayload{ChunkOrTaskID: id, Err: msg}
	return e.bus.Publish(ctx, ev)
}

// WorkerRetrying emits worker.retrying.
func (e *Emitter) WorkerRetrying(ctx context.Context, id string, attempt int) orch.Event {
	ev := e.base(orch.EventWorkerRetrying)
	ev.Worker = &orch.WorkerPayload{ChunkOrTaskID: id, ProgressPct: attempt}
	return e.bus.Publish(ctx, ev)
}

// OrchestratorCommentary emits commentary.orchestrator.
func (e *Emitter) OrchestratorCommentary(ctx context.Context, agentID, text string) orch.Event {
	ev := e.base(orch.EventOrchestratorCommentary)
	ev.Commentary = &orch.CommentaryPayload{AgentID: agentID, Text: text}
	return e.bus.Publish(ctx, ev)
}

// WorkerCommentary emits commentary.worker.
func (e *Emitter) WorkerCommentary(ctx context.Context, agentID, text string) orch.Event {
	ev := e.base(orch.EventWorkerCommentary)
	ev.Commentary = &orch.CommentaryPayload{AgentID: agentID, Text: text}
	return e.bus.Publish(ctx, ev)
}

// ToolInvocation emits tool.invocation.
func (e *Emitter) ToolInvocation(ctx context.Context, agentID, toolName, argsJSON string) orch.Event {
	ev := e.base(orch.EventToolInvocation)
	ev.Commentary = &orch.CommentaryPayload{AgentID: agentID, ToolName: toolName, ToolArgsJSON: argsJSON}
	return e.bus.Publish(ctx, ev)
}

// ToolResult emits tool.result.
func (e *Emitter) ToolResult(ctx context.Context, agentID, toolName, resultJSON string) orch.Event {
	ev := e.base(orch.EventToolResult)
	ev.Commentary = &orch.CommentaryPayload{AgentID: agentID, ToolName: toolName, ToolResultJSON: resultJSON}
	return e.bus.Publish(ctx, ev)
}

// Reasoning emits reasoning.
func (e *Emitter) Reasoning(ctx context.Context, agentID, text string) orch.Event {
	ev := e.base(orch.EventReasoning)
	ev.Commentary = &orch.CommentaryPayload{AgentID: agentID, Text: text}
	return e.bus.Publish(ctx, ev)
}

// ClarificationRequested emits clarification.requested.
func (e *Emitter) ClarificationRequested(ctx context.Context, text string) orch.Event {
	ev := e.base(orch.EventClarificationRequested)
	ev.Interaction = &orch.InteractionPayload{Text: text}
	return e.bus.Publish(ctx, ev)
}

// ClarificationReceived emits clarification.received.
func (e *Emitter) ClarificationReceived(ctx context.Context, text string) orch.Event {
	ev := e.base(orch.EventClarificationReceived)
	ev.Interaction = &orch.InteractionPayload{Text: text}
	return e.bus.Publish(ctx, ev)
}

// InjectionReceived emits injection.received.
func (e *Emitter) InjectionReceived(ctx context.Context, text string) orch.Event {
	ev := e.base(orch.EventInjectionReceived)
	ev.Interaction = &orch.InteractionPayload{Text: text}
	return e.bus.Publish(ctx, ev)
}

// ApprovalRequested emits approval.requested, carrying the response channel
// the UI collaborator must fulfil. See internal/approval.
func (e *Emitter) ApprovalRequested(ctx context.Context, toolName string, responseCh chan orch.ApprovalResponse) orch.Event {
	ev := e.base(orch.EventApprovalRequested)
	ev.Interaction = &orch.InteractionPayload{ToolName: toolName, ResponseCh: responseCh}
	return e.bus.Publish(ctx, ev)
}

// ApprovalResolved emits approval.resolved.
func (e *Emitter) ApprovalResolved(ctx context.Context, toolName string, approved bool, reason string) orch.Event {
	ev := e.base(orch.EventApprovalResolved)
	ev.Interaction = &orch.InteractionPayload{ToolName: toolName, Approved: approved, Reason: reason}
	return e.bus.Publish(ctx, ev)
}

// TaskCompleted emits task.completed with the final report.
func (e *Emitter) TaskCompleted(ctx context.Context, report *orch.ConsolidatedReport) orch.Event {
	ev := e.base(orch.EventTaskCompleted)
	ev.Completion = &orch.CompletionPayload{Report: report}
	return e.bus.Publish(ctx, ev)
}

// TaskAborted emits task.aborted.
func (e *Emitter) TaskAborted(ctx context.Context, reason string) orch.Event {
	ev := e.base(orch.EventTaskAborted)
	ev.Completion = &orch.CompletionPayload{ErrorMessage: reason}
	return e.bus.Publish(ctx, ev)
}

// RestCountdown emits rest.countdown.
func (e *Emitter) RestCountdown(ctx context.Context, remaining, total int) orch.Event {
	ev := e.base(orch.EventRestCountdown)
	ev.Completion = &orch.CompletionPayload{SecondsRemaining: remaining, TotalSeconds: total}
	return e.bus.Publish(ctx, ev)
}
