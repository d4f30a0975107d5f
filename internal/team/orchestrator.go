// Package team implements the Team Orchestrator driver: a one-shot
// Clarify -> Plan -> Approve -> Execute -> Synthesise pipeline over a DAG
// of work chunks. Grounded on internal/multiagent/orchestrator.go
// for the overall driver shape (a struct wrapping a config, an event
// callback, and a registry of collaborators, with Process as its single
// public entry point), generalized from "route a message to a
// specialist agent" into "run the full plan-approve-execute-synthesise
// pipeline described in spec §4.8".
package team

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deskpilot/orchestrator/internal/dag"
	"github.com/deskpilot/orchestrator/internal/eventbus"
	"github.com/deskpilot/orchestrator/internal/phase"
	"github.com/deskpilot/orchestrator/pkg/orch"
)

// Brain is the minimal set of LLM-backed operations the orchestrator needs
// from its collaborators. A concrete implementation wires this to
// internal/llm's Provider/Catalogue/Registry; tests use a fake.
type Brain interface {
	// Clarify sends the running conversation to the orchestrator-role
	// agent. It returns either clarifying questions or a ready plan.
	Clarify(ctx context.Context, history []orch.Message) (questions []string, plan *orch.OrchestrationPlan, err error)

	// RunWorker executes one chunk attempt with the role-specific worker
	// agent and returns its result text.
	RunWorker(ctx context.Context, chunk *orch.WorkChunk, workspace dag.Workspace, injectedPrompt string) (string, error)

	// Synthesise feeds every worker result to the Synthesis-role agent and
	// returns its conversational summary (including any [ACTION:...]
	// markers, which the orchestrator extracts itself).
	Synthesise(ctx context.Context, plan *orch.OrchestrationPlan) (string, error)

	// Cost returns a snapshot of the running cost estimate accumulated
	// across every call the brain has made so far.
	Cost() orch.CostEstimate
}

// Orchestrator runs a single Team session end to end. One Orchestrator
// instance is created per session; it is not reused across sessions.
type Orchestrator struct {
	mu sync.Mutex

	cfg     orch.TeamConfig
	brain   Brain
	sched   *dag.Scheduler
	provisioner dag.WorkspaceProvisioner
	bus     *eventbus.Bus
	emitter *eventbus.Emitter
	machine *phase.Machine
	logger  *slog.Logger

	session *orch.Session
	plan    *orch.OrchestrationPlan

	clarificationCh chan string
}

// New creates an Orchestrator. brain is required; provisioner may be nil,
// in which case every chunk runs with an empty dag.Workspace; logger may be
// nil.
func New(cfg orch.TeamConfig, brain Brain, provisioner dag.WorkspaceProvisioner, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default().With("component", "team-orchestrator")
	}

	bus := eventbus.New(uuid.NewString())
	emitter := eventbus.NewEmitter(bus, "")
	machine := phase.New(phase.TeamGraph(), emitter, logger)

	schedCfg := dag.Config{
		MaxParallel:           cfg.MaxParallelSessions,
		MaxRetriesPerChunk:    cfg.MaxRetriesPerChunk,
		RetryDelay:            cfg.RetryDelay,
		AbortFailureThreshold: cfg.AbortFailureThreshold,
	}

	return &Orchestrator{
		cfg:         cfg,
		brain:       brain,
		sched:       dag.New(schedCfg, emitter, logger),
		provisioner: provisioner,
		bus:         bus,
		emitter:     emitter,
		machine:     machine,
		logger:      logger,
	}
}

// Events returns the driver's event bus for subscription.
func (o *Orchestrator) Events() *eventbus.Bus {
	return o.bus
}

// Phase returns the driver's current phase.
func (o *Orchestrator) Phase() orch.SessionPhase {
	return o.machine.Current()
}

// Scheduler returns the driver's DAG scheduler, for polling
// SemaphoreStats into internal/metrics.
func (o *Orchestrator) Scheduler() *dag.Scheduler {
	return o.sched
}

// Start begins a new session with the given prompt, running Clarify until
// a plan is ready or the context is cancelled. It returns the session id
// immediately after the first clarification loop settles into
// AwaitingApproval, Failed, or Cancelled.
func (o *Orchestrator) Start(ctx context.Context, prompt string) (string, error) {
	o.mu.Lock()
	o.session = &orch.Session{
		ID:        uuid.NewString(),
		Prompt:    prompt,
		Phase:     phase.Idle,
		CreatedAt: time.Now(),
	}
	o.clarificationCh = make(chan string, 1)
	session := o.session
	o.mu.Unlock()

	o.appendMessage(orch.RoleUser, orch.MessageUser, prompt)
	o.machine.Fire(ctx, phase.UserSubmitted, "user submitted task")

	if err := o.runClarificationLoop(ctx); err != nil {
		o.fail(ctx, err)
		return session.ID, err
	}

	return session.ID, nil
}

// runClarificationLoop drives Clarify until the brain returns a plan,
// surfacing each round of questions via ClarificationRequested and
// blocking on SendUserMessage's answer.
func (o *Orchestrator) runClarificationLoop(ctx context.Context) error {
	for {
		questions, plan, err := o.brain.Clarify(ctx, o.history())
		if err != nil {
			return fmt.Errorf("team: clarify failed: %w", err)
		}

		if plan != nil {
			o.mu.Lock()
			o.plan = plan
			o.mu.Unlock()
			o.emitter.PlanCreated(ctx)
			o.machine.Fire(ctx, phase.ClarificationsComplete, "plan ready")
			return nil
		}

		for _, q := range questions {
			o.emitter.ClarificationRequested(ctx, q)
		}

		select {
		case answer := <-o.clarificationCh:
			o.appendMessage(orch.RoleUser, orch.MessageClarification, answer)
			o.emitter.ClarificationReceived(ctx, answer)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// SendUserMessage delivers a clarification answer (while in Clarifying) or
// an injected instruction (while Executing).
func (o *Orchestrator) SendUserMessage(text string) {
	o.mu.Lock()
	ch := o.clarificationCh
	phaseNow := o.machine.Current()
	o.mu.Unlock()

	if phaseNow == phase.Clarifying && ch != nil {
		select {
		case ch <- text:
		default:
		}
		return
	}

	o.InjectInstruction(text)
}

// InjectInstruction queues an instruction to be absorbed at the next stage
// boundary of the DAG scheduler.
func (o *Orchestrator) InjectInstruction(text string) {
	o.sched.Inject(text)
	o.emitter.InjectionReceived(context.Background(), text)
}

// ApprovePlan transitions AwaitingApproval -> Executing and runs the plan
// to completion (Execute then Synthesise), blocking until the session
// reaches a terminal phase.
func (o *Orchestrator) ApprovePlan(ctx context.Context) (*orch.ConsolidatedReport, error) {
	if !o.machine.Fire(ctx, phase.UserApproved, "user approved plan") {
		return nil, fmt.Errorf("team: cannot approve plan from phase %s", o.machine.Current())
	}

	report, err := o.execute(ctx)
	if err != nil {
		o.fail(ctx, err)
		return nil, err
	}

	o.machine.Fire(ctx, phase.ExecutionComplete, "execution complete")

	summary, sErr := o.brain.Synthesise(ctx, o.plan)
	if sErr != nil {
		o.fail(ctx, sErr)
		return nil, sErr
	}

	cleanSummary, actions := extractActions(summary)
	report.Summary = cleanSummary
	report.NextSteps = actions

	o.machine.Fire(ctx, phase.SynthesisComplete, "synthesis complete")
	o.emitter.TaskCompleted(ctx, report)

	if !o.cfg.MaintainFollowUpContext {
		o.session.CompletedAt = time.Now()
	}

	return report, nil
}

// RejectPlan returns the session to Clarifying with the rejection reason
// folded into the conversation.
func (o *Orchestrator) RejectPlan(ctx context.Context, reason string) {
	o.appendMessage(orch.RoleUser, orch.MessageClarification, "plan rejected: "+reason)
	o.machine.Fire(ctx, phase.UserRejected, reason)
}

// Cancel moves the session to Cancelled. It does not stop an in-flight
// ApprovePlan: its DAG execution and synthesis run on until the context
// passed to ApprovePlan is cancelled.
func (o *Orchestrator) Cancel(ctx context.Context) {
	o.machine.Fire(ctx, phase.UserCancelled, "user cancelled")
}

func (o *Orchestrator) execute(ctx context.Context) (*orch.ConsolidatedReport, error) {
	o.machine.Fire(ctx, phase.PlanReady, "entering execution")
	o.emitter.StageStarted(ctx)

	err := o.sched.Execute(ctx, o.plan, o.cfg.WorkspaceStrategy, o.provisioner, o.brain.RunWorker)

	o.emitter.StageCompleted(ctx)

	report := &orch.ConsolidatedReport{}
	for _, c := range o.plan.Chunks {
		switch c.Status {
		case orch.ChunkCompleted:
			report.SucceededChunks++
			report.WorkerResults = append(report.WorkerResults, c.Result)
		case orch.ChunkFailed, orch.ChunkCancelled:
			report.FailedChunks++
		}
	}

	report.Cost = o.brain.Cost()
	o.mu.Lock()
	o.session.Cost = report.Cost
	o.mu.Unlock()

	if err != nil {
		return report, err
	}
	return report, nil
}

func (o *Orchestrator) fail(ctx context.Context, err error) {
	o.machine.Fire(ctx, phase.Error, err.Error())
	o.emitter.TaskAborted(ctx, err.Error())
}

func (o *Orchestrator) appendMessage(role orch.Role, mt orch.MessageType, content string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.session.Messages = append(o.session.Messages, orch.Message{
		ID:         uuid.NewString(),
		SessionID:  o.session.ID,
		AuthorRole: role,
		Content:    content,
		Type:       mt,
		CreatedAt:  time.Now(),
	})
}

func (o *Orchestrator) history() []orch.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]orch.Message(nil), o.session.Messages...)
}

// extractActions strips [ACTION:...] markers from text (case-insensitive
// prefix, terminated by the next ']') and returns the cleaned text plus the
// extracted action strings, in the order they appeared (spec §6).
func extractActions(text string) (string, []string) {
	const prefix = "[action:"
	var actions []string
	var out strings.Builder

	lower := strings.ToLower(text)
	i := 0
	for i < len(text) {
		idx := strings.Index(lower[i:], prefix)
		if idx < 0 {
			out.WriteString(text[i:])
			break
		}
		start := i + idx
		out.WriteString(text[i:start])

		end := strings.IndexByte(text[start:], ']')
		if end < 0 {
			out.WriteString(text[start:])
			break
		}
		action := strings.TrimSpace(text[start+len(prefix) : start+end])
		if action != "" {
			actions = append(actions, action)
		}
		i = start + end + 1
	}

	return strings.TrimSpace(out.String()), actions
}
