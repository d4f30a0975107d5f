// Package office implements the Office Manager Loop driver: a long-running
// periodic iteration cycle (FetchingEvents -> Scheduling -> Executing ->
// Aggregating -> Resting) that dispatches ephemeral assistants against a
// manager-produced task list. Grounded on internal/tasks/scheduler.go for
// the poll-loop/ticker shape and cronParser construction, and on
// internal/multiagent/orchestrator.go for the config+collaborator+event-bus
// driver skeleton, generalized from "route one message" to "run the
// iteration cycle described in spec §4.9".
package office

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/deskpilot/orchestrator/internal/concurrency"
	"github.com/deskpilot/orchestrator/internal/eventbus"
	"github.com/deskpilot/orchestrator/internal/metrics"
	"github.com/deskpilot/orchestrator/internal/phase"
	"github.com/deskpilot/orchestrator/pkg/orch"
)

// cronParser accepts both the standard five-field form and the extended
// six-field form with an optional leading seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Brain is the set of LLM-backed operations the Office loop needs from its
// collaborators.
type Brain interface {
	// Clarify evaluates whether the objective is clear enough to begin
	// iterating. Mirrors team.Brain.Clarify's contract.
	Clarify(ctx context.Context, history []orch.Message) (questions []string, ready bool, err error)

	// Fetch produces the prioritised task list for one iteration. An empty
	// list completes the iteration immediately with a "no work" report.
	Fetch(ctx context.Context, mgr *orch.ManagerContext, injected []string) ([]orch.AssistantTask, error)

	// RunAssistant executes one ephemeral assistant's task and returns its
	// result text.
	RunAssistant(ctx context.Context, task orch.AssistantTask) (string, error)

	// Aggregate receives every scheduled task with its final status and
	// produces the iteration's markdown summary and per-status task counts.
	// The assistants' result text is not carried on AssistantTask, so it
	// does not reach Aggregate.
	Aggregate(ctx context.Context, mgr *orch.ManagerContext, tasks []orch.AssistantTask) (orch.IterationReport, error)

	// Cost returns a snapshot of the running cost estimate accumulated
	// across every call the brain has made so far.
	Cost() orch.CostEstimate
}

// Manager drives a single Office session end to end. One Manager is created
// per session and runs until Stop or its context is cancelled.
type Manager struct {
	mu sync.Mutex

	cfg   orch.OfficeConfig
	brain Brain
	sem   *concurrency.Semaphore

	bus     *eventbus.Bus
	emitter *eventbus.Emitter
	machine *phase.Machine
	logger  *slog.Logger

	session *orch.Session
	manager *orch.ManagerContext

	clarificationCh chan string
	injected        []string

	paused    atomic.Bool
	stopped   atomic.Bool
	restCh    chan time.Duration // OverrideRestDuration
	cancelRes chan struct{}      // CancelRest

	cronSched *cron.Cron
	cronWake  chan struct{}
}

// New creates a Manager. brain is required; logger may be nil.
func New(cfg orch.OfficeConfig, brain Brain, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default().With("component", "office-manager")
	}
	if cfg.MaxAssistants <= 0 {
		cfg.MaxAssistants = 1
	}

	bus := eventbus.New(uuid.NewString())
	emitter := eventbus.NewEmitter(bus, "")
	machine := phase.New(phase.OfficeGraph(), emitter, logger)

	return &Manager{
		cfg:       cfg,
		brain:     brain,
		sem:       concurrency.NewSemaphore(int64(cfg.MaxAssistants)),
		bus:       bus,
		emitter:   emitter,
		machine:   machine,
		logger:    logger,
		restCh:    make(chan time.Duration, 1),
		cancelRes: make(chan struct{}, 1),
		cronWake:  make(chan struct{}, 1),
	}
}

// Events returns the driver's event bus for subscription.
func (m *Manager) Events() *eventbus.Bus { return m.bus }

// SemaphoreStats returns the assistant pool's current statistics, for
// polling into internal/metrics.
func (m *Manager) SemaphoreStats() concurrency.SemaphoreStats {
	return m.sem.Stats()
}

// Phase returns the driver's current phase.
func (m *Manager) Phase() orch.SessionPhase { return m.machine.Current() }

// Start begins a new session against objective, running the clarification
// prelude and then the iteration loop until ctx is cancelled or Stop is
// called. Start blocks for the lifetime of the loop; callers typically run
// it in its own goroutine.
func (m *Manager) Start(ctx context.Context, objective string) (string, error) {
	m.mu.Lock()
	m.session = &orch.Session{
		ID:        uuid.NewString(),
		Prompt:    objective,
		Phase:     phase.Idle,
		CreatedAt: time.Now(),
	}
	m.manager = &orch.ManagerContext{
		Config:       m.cfg,
		RunStartedAt: time.Now(),
	}
	m.clarificationCh = make(chan string, 1)
	session := m.session
	m.mu.Unlock()

	m.appendMessage(orch.RoleUser, orch.MessageUser, objective)
	m.machine.Fire(ctx, phase.UserSubmitted, "objective submitted")

	if err := m.runClarificationLoop(ctx); err != nil {
		m.fail(ctx, err)
		return session.ID, err
	}

	if m.cfg.RequirePlanApproval {
		return session.ID, nil
	}

	m.machine.Fire(ctx, phase.UserApproved, "auto-approved")
	return session.ID, m.runLoop(ctx)
}

func (m *Manager) runClarificationLoop(ctx context.Context) error {
	for {
		questions, ready, err := m.brain.Clarify(ctx, m.history())
		if err != nil {
			return fmt.Errorf("office: clarify failed: %w", err)
		}
		if ready {
			m.machine.Fire(ctx, phase.ClarificationsComplete, "objective ready")
			return nil
		}
		for _, q := range questions {
			m.emitter.ClarificationRequested(ctx, q)
		}
		select {
		case answer := <-m.clarificationCh:
			m.appendMessage(orch.RoleUser, orch.MessageClarification, answer)
			m.emitter.ClarificationReceived(ctx, answer)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ApprovePlan moves the session out of AwaitingApproval and begins the
// iteration loop, blocking until Stop, Reset, or ctx cancellation.
func (m *Manager) ApprovePlan(ctx context.Context) error {
	if !m.machine.Fire(ctx, phase.UserApproved, "user approved objective") {
		return fmt.Errorf("office: cannot approve from phase %s", m.machine.Current())
	}
	return m.runLoop(ctx)
}

// RejectPlan returns the session to Clarifying.
func (m *Manager) RejectPlan(ctx context.Context, reason string) {
	m.appendMessage(orch.RoleUser, orch.MessageClarification, "objective rejected: "+reason)
	m.machine.Fire(ctx, phase.UserRejected, reason)
}

// runLoop drives FetchingEvents -> Scheduling -> Executing -> Aggregating ->
// Resting -> FetchingEvents until ctx is cancelled or Stop is called. A
// configured cron schedule ends the current rest countdown early when it
// fires; it does not end the loop.
func (m *Manager) runLoop(ctx context.Context) error {
	if m.cfg.Schedule != "" {
		if err := m.startCron(); err != nil {
			return fmt.Errorf("office: invalid schedule: %w", err)
		}
		defer m.cronSched.Stop()
	}

	for {
		if m.stopped.Load() {
			return nil
		}
		if err := m.runIteration(ctx); err != nil {
			m.fail(ctx, err)
			return err
		}
		if m.stopped.Load() {
			return nil
		}
		if err := m.rest(ctx); err != nil {
			if err == context.Canceled || err == context.DeadlineExceeded {
				return nil
			}
			return err
		}
	}
}

func (m *Manager) startCron() error {
	if _, err := cronParser.Parse(m.cfg.Schedule); err != nil {
		return err
	}
	m.cronSched = cron.New(cron.WithParser(cronParser))
	m.cronSched.Schedule(mustParseSchedule(m.cfg.Schedule), cron.FuncJob(func() {
		select {
		case m.cronWake <- struct{}{}:
		default:
		}
	}))
	m.cronSched.Start()
	return nil
}

func mustParseSchedule(expr string) cron.Schedule {
	s, err := cronParser.Parse(expr)
	if err != nil {
		// startCron already validated expr; this cannot happen.
		panic(err)
	}
	return s
}

// runIteration executes exactly one FetchingEvents..Resting-entry cycle,
// stopping short of Resting itself (the caller drives the rest countdown).
func (m *Manager) runIteration(ctx context.Context) error {
	if m.paused.Load() {
		m.waitWhilePaused(ctx)
	}

	m.mu.Lock()
	injected := m.injected
	m.injected = nil
	m.mu.Unlock()

	tasks, err := m.brain.Fetch(ctx, m.manager, injected)
	if err != nil {
		return fmt.Errorf("office: fetch failed: %w", err)
	}
	m.manager.IterationCounter++
	m.machine.Fire(ctx, phase.EventsFetched, "")

	scheduled := m.schedule(ctx, tasks)
	m.machine.Fire(ctx, phase.ScheduleReady, "")

	m.execute(ctx, scheduled)
	m.machine.Fire(ctx, phase.ExecutionComplete, "")

	report := orch.IterationReport{Markdown: "no work"}
	if len(tasks) > 0 {
		report, err = m.brain.Aggregate(ctx, m.manager, scheduled)
		if err != nil {
			return fmt.Errorf("office: aggregate failed: %w", err)
		}
	}
	report.IterationNumber = m.manager.IterationCounter
	report.Cost = m.brain.Cost()
	m.manager.IterationReports = append(m.manager.IterationReports, report)

	m.mu.Lock()
	m.session.Cost = report.Cost
	m.mu.Unlock()

	m.machine.Fire(ctx, phase.AggregationComplete, "")
	return nil
}

// schedule applies spec §4.9's per-task decision: dispatch if a slot is
// free, queue if under maxQueueDepth, else skip. Queueing here means
// "accepted for this iteration's execute phase" since Manager runs one
// iteration fully before resting; a bounded queue still caps how much work
// a single Fetch can flood the assistant pool with.
func (m *Manager) schedule(ctx context.Context, tasks []orch.AssistantTask) []orch.AssistantTask {
	var scheduled []orch.AssistantTask
	free := m.sem.Available()
	queued := int64(0)

	for i := range tasks {
		t := &tasks[i]
		t.ID = uuid.NewString()
		t.IterationNumber = m.manager.IterationCounter

		switch {
		case free > 0:
			t.Decision = orch.DecisionDispatched
			free--
			scheduled = append(scheduled, *t)
		case queued < int64(m.cfg.MaxQueueDepth):
			t.Decision = orch.DecisionQueued
			queued++
			scheduled = append(scheduled, *t)
		default:
			t.Decision = orch.DecisionSkipped
		}
		m.emitter.WorkerStarted(ctx, t.ID)
	}
	return scheduled
}

// execute runs up to maxAssistants tasks concurrently, retrying each up to
// maxRetries times, and disposes each ephemeral assistant on completion.
func (m *Manager) execute(ctx context.Context, tasks []orch.AssistantTask) {
	var wg sync.WaitGroup
	for i := range tasks {
		t := &tasks[i]
		if t.Decision == orch.DecisionSkipped {
			continue
		}
		wg.Add(1)
		go func(t *orch.AssistantTask) {
			defer wg.Done()
			if err := m.sem.Acquire(ctx, 1); err != nil {
				t.Status = orch.TaskCancelled
				return
			}
			defer m.sem.Release(1)

			t.Status = orch.TaskRunning
			t.StartedAt = time.Now()

			timeout := time.Duration(m.cfg.AssistantTimeoutSeconds) * time.Second
			runCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			var lastErr error
			for attempt := 0; attempt <= m.cfg.MaxRetries; attempt++ {
				result, err := m.brain.RunAssistant(runCtx, *t)
				if err == nil {
					t.Status = orch.TaskCompleted
					t.EndedAt = time.Now()
					m.emitter.WorkerCompleted(ctx, t.ID)
					return
				}
				lastErr = err
				t.RetryCount = attempt
				m.emitter.WorkerRetrying(ctx, t.ID, attempt)
				metrics.IncRetry("office_task")
				_ = result
			}

			t.EndedAt = time.Now()
			if runCtx.Err() != nil {
				t.Status = orch.TaskTimedOut
			} else {
				t.Status = orch.TaskFailed
			}
			m.emitter.WorkerFailed(ctx, t.ID, lastErr)
		}(t)
	}
	wg.Wait()
}

// rest runs the 1-Hz countdown for checkIntervalMinutes, honouring
// CancelRest, OverrideRestDuration, Pause, Stop, and the optional cron
// trigger.
func (m *Manager) rest(ctx context.Context) error {
	remaining := time.Duration(m.cfg.CheckIntervalMinutes) * time.Minute
	total := remaining
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

loop:
	for remaining > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.cancelRes:
			break loop
		case next := <-m.restCh:
			remaining = next
			total = next
			continue
		case <-m.cronWake:
			break loop
		case <-ticker.C:
			if m.stopped.Load() {
				break loop
			}
			if m.paused.Load() {
				continue
			}
			remaining -= time.Second
			m.emitter.RestCountdown(ctx, int(remaining.Seconds()), int(total.Seconds()))
		}
	}

	m.machine.Fire(ctx, phase.RestComplete, "rest complete")
	return nil
}

// CancelRest short-circuits the current Resting countdown.
func (m *Manager) CancelRest() {
	select {
	case m.cancelRes <- struct{}{}:
	default:
	}
}

// OverrideRestDuration replaces the remaining countdown duration without
// restarting the loop.
func (m *Manager) OverrideRestDuration(newMinutes int) {
	select {
	case m.restCh <- time.Duration(newMinutes) * time.Minute:
	default:
	}
}

// Pause freezes the current phase: no new LLM calls are initiated and the
// countdown is paused. In-flight assistant calls complete.
func (m *Manager) Pause(ctx context.Context) {
	m.paused.Store(true)
	m.machine.Fire(ctx, phase.UserPaused, "user paused")
}

// Resume clears the pause flag.
func (m *Manager) Resume(ctx context.Context) {
	m.paused.Store(false)
	m.machine.Fire(ctx, phase.UserResumed, "user resumed")
}

func (m *Manager) waitWhilePaused(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for m.paused.Load() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop cancels the driver and disposes all assistants. The loop observes
// the stop flag at the next phase boundary.
func (m *Manager) Stop(ctx context.Context) {
	m.stopped.Store(true)
	m.CancelRest()
	m.machine.Fire(ctx, phase.UserStopped, "user stopped")
}

// Reset returns the manager to Idle without destroying the event log.
func (m *Manager) Reset(ctx context.Context) {
	m.stopped.Store(false)
	m.paused.Store(false)
	m.machine.Fire(ctx, phase.Reset, "user reset")
}

// InjectInstruction queues an instruction the manager will receive at its
// next Fetch call.
func (m *Manager) InjectInstruction(text string) {
	m.mu.Lock()
	m.injected = append(m.injected, text)
	m.mu.Unlock()
	m.emitter.InjectionReceived(context.Background(), text)
}

// SendUserMessage delivers a clarification answer while Clarifying, or an
// injected instruction otherwise.
func (m *Manager) SendUserMessage(text string) {
	m.mu.Lock()
	ch := m.clarificationCh
	phaseNow := m.machine.Current()
	m.mu.Unlock()

	if phaseNow == phase.Clarifying && ch != nil {
		select {
		case ch <- text:
		default:
		}
		return
	}
	m.InjectInstruction(text)
}

func (m *Manager) fail(ctx context.Context, err error) {
	m.machine.Fire(ctx, phase.Error, err.Error())
	m.emitter.TaskAborted(ctx, err.Error())
}

func (m *Manager) appendMessage(role orch.Role, mt orch.MessageType, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session.Messages = append(m.session.Messages, orch.Message{
		ID:         uuid.NewString(),
		SessionID:  m.session.ID,
		AuthorRole: role,
		Content:    content,
		Type:       mt,
		CreatedAt:  time.Now(),
	})
}

func (m *Manager) history() []orch.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]orch.Message(nil), m.session.Messages...)
}

// IterationReports returns a snapshot of every iteration report produced so
// far.
func (m *Manager) IterationReports() []orch.IterationReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]orch.IterationReport(nil), m.manager.IterationReports...)
}
