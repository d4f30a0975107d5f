// Package panel implements the Panel Discussion Engine driver: a stateful
// multi-expert debate among a Moderator and N persona Panelists, converging
// to a Head-synthesised answer and a knowledge brief. Grounded on
// internal/multiagent/router.go for the "ask a coordinator which
// participant speaks next" shape and internal/multiagent/types.go's
// MaxHandoffDepth for the same-speaker loop guard, generalized from a
// single capability-routed handoff into the full guard-railed turn cycle
// described in spec §4.10.
package panel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deskpilot/orchestrator/internal/eventbus"
	"github.com/deskpilot/orchestrator/internal/phase"
	"github.com/deskpilot/orchestrator/pkg/orch"
)

// convergenceCheckEvery is the number of turns between convergence
// determinations (spec §4.10: "checked every N turns"); the moderator is
// still consulted for next-speaker selection every turn.
const convergenceCheckEvery = 3

// Brain is the set of LLM-backed operations the Panel engine needs from its
// collaborators.
type Brain interface {
	// Clarify evaluates whether the question is clear enough to open a
	// discussion.
	Clarify(ctx context.Context, history []orch.Message) (questions []string, ready bool, err error)

	// Moderate inspects the running history and returns the routing
	// decision for the current turn.
	Moderate(ctx context.Context, history []orch.Message, turn int) (orch.ModeratorDecision, error)

	// Speak invokes one panelist persona and returns its contribution plus
	// the token counts it consumed.
	Speak(ctx context.Context, persona orch.Persona, history []orch.Message) (text string, inputTokens, outputTokens int, err error)

	// Synthesise produces the Head's final synthesis from the full
	// transcript on entering Synthesising.
	Synthesise(ctx context.Context, history []orch.Message) (orch.SynthesisResult, error)

	// Brief generates the knowledge brief used to answer follow-ups
	// without replaying the transcript.
	Brief(ctx context.Context, synthesis orch.SynthesisResult) (orch.KnowledgeBrief, error)
}

// Engine drives a single Panel discussion end to end.
type Engine struct {
	mu sync.Mutex

	cfg        orch.PanelConfig
	guardRails orch.GuardRails
	panelists  []orch.Persona
	pricing    orch.PricingTable
	provider   string
	model      string
	brain      Brain

	bus     *eventbus.Bus
	emitter *eventbus.Emitter
	machine *phase.Machine
	logger  *slog.Logger

	session *orch.Session
	history []orch.Message

	turn              int
	lastSpeaker       string
	sameSpeakerStreak int
	startedAt         time.Time
	turnStartedAt     time.Time

	clarificationCh chan string
}

// New creates an Engine. panelists is the active roster (see
// PanelistsForPreset); provider/model identify the panelist backend for
// pricing lookups; brain is required; logger may be nil.
func New(cfg orch.PanelConfig, guardRails orch.GuardRails, panelists []orch.Persona, pricing orch.PricingTable, provider, model string, brain Brain, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default().With("component", "panel-engine")
	}
	bus := eventbus.New(uuid.NewString())
	emitter := eventbus.NewEmitter(bus, "")
	machine := phase.New(phase.PanelGraph(), emitter, logger)

	return &Engine{
		cfg:        cfg,
		guardRails: guardRails,
		panelists:  panelists,
		pricing:    pricing,
		provider:   provider,
		model:      model,
		brain:      brain,
		bus:        bus,
		emitter:    emitter,
		machine:    machine,
		logger:     logger,
	}
}

// PanelistsForPreset returns the persona roster for a preset (spec §4.10's
// default 3-panelist Quick preset, plus Balanced and All).
func PanelistsForPreset(preset orch.PanelistPreset) []orch.Persona {
	switch preset {
	case orch.PresetBalanced:
		return []orch.Persona{orch.PersonaArchitect, orch.PersonaSecurity, orch.PersonaQA, orch.PersonaPerformance}
	case orch.PresetAll:
		return []orch.Persona{
			orch.PersonaSecurity, orch.PersonaPerformance, orch.PersonaArchitect, orch.PersonaQA,
			orch.PersonaDevOps, orch.PersonaUX, orch.PersonaDomain, orch.PersonaDevilsAdvocate,
		}
	default: // PresetQuick, PresetCustom falls back to Quick's roster
		return []orch.Persona{orch.PersonaArchitect, orch.PersonaSecurity, orch.PersonaQA}
	}
}

// Events returns the driver's event bus for subscription.
func (e *Engine) Events() *eventbus.Bus { return e.bus }

// Phase returns the driver's current phase.
func (e *Engine) Phase() orch.SessionPhase { return e.machine.Current() }

// Start begins a discussion over question, running the clarification
// prelude, then — once approved — the turn cycle until convergence,
// a guard-rail breach, or ctx cancellation.
func (e *Engine) Start(ctx context.Context, question string) (string, error) {
	e.mu.Lock()
	e.session = &orch.Session{
		ID:        uuid.NewString(),
		Prompt:    question,
		Phase:     phase.Idle,
		CreatedAt: time.Now(),
	}
	e.clarificationCh = make(chan string, 1)
	session := e.session
	e.mu.Unlock()

	e.appendMessage(orch.RoleUser, orch.MessageUser, question)
	e.machine.Fire(ctx, phase.UserSubmitted, "question submitted")

	if err := e.runClarificationLoop(ctx); err != nil {
		e.fail(ctx, err)
		return session.ID, err
	}
	return session.ID, nil
}

func (e *Engine) runClarificationLoop(ctx context.Context) error {
	for {
		questions, ready, err := e.brain.Clarify(ctx, e.historySnapshot())
		if err != nil {
			return fmt.Errorf("panel: clarify failed: %w", err)
		}
		if ready {
			e.machine.Fire(ctx, phase.ClarificationsComplete, "question ready")
			return nil
		}
		for _, q := range questions {
			e.emitter.ClarificationRequested(ctx, q)
		}
		select {
		case answer := <-e.clarificationCh:
			e.appendMessage(orch.RoleUser, orch.MessageClarification, answer)
			e.emitter.ClarificationReceived(ctx, answer)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// SendUserMessage delivers a clarification answer while Clarifying.
func (e *Engine) SendUserMessage(text string) {
	e.mu.Lock()
	ch := e.clarificationCh
	phaseNow := e.machine.Current()
	e.mu.Unlock()

	if phaseNow == phase.Clarifying && ch != nil {
		select {
		case ch <- text:
		default:
		}
	}
}

// RejectPlan returns the session to Clarifying.
func (e *Engine) RejectPlan(ctx context.Context, reason string) {
	e.appendMessage(orch.RoleUser, orch.MessageClarification, "question rejected: "+reason)
	e.machine.Fire(ctx, phase.UserRejected, reason)
}

// ApprovePlan begins the discussion's turn cycle, blocking until the
// session converges, a guard rail is breached, or ctx is cancelled.
func (e *Engine) ApprovePlan(ctx context.Context) (*orch.SynthesisResult, *orch.KnowledgeBrief, error) {
	if !e.machine.Fire(ctx, phase.UserApproved, "user approved discussion") {
		return nil, nil, fmt.Errorf("panel: cannot approve from phase %s", e.machine.Current())
	}
	e.machine.Fire(ctx, phase.PanelistsReady, "panelists ready")

	e.mu.Lock()
	e.startedAt = time.Now()
	e.mu.Unlock()

	if err := e.runDiscussion(ctx); err != nil {
		e.fail(ctx, err)
		return nil, nil, err
	}
	e.machine.Fire(ctx, phase.StartSynthesis, "entering synthesis")

	synthesis, err := e.brain.Synthesise(ctx, e.historySnapshot())
	if err != nil {
		e.fail(ctx, err)
		return nil, nil, err
	}
	e.machine.Fire(ctx, phase.SynthesisComplete, "synthesis complete")

	brief, err := e.brain.Brief(ctx, synthesis)
	if err != nil {
		return &synthesis, nil, err
	}
	return &synthesis, &brief, nil
}

// runDiscussion drives Running until the moderator signals stop, a guard
// rail forces convergence, or ctx is cancelled.
func (e *Engine) runDiscussion(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.guardRailBreached() {
			e.machine.Fire(ctx, phase.ConvergenceDetected, "guard rail breached")
			return nil
		}

		e.mu.Lock()
		e.turnStartedAt = time.Now()
		turn := e.turn
		e.mu.Unlock()

		decision, err := e.brain.Moderate(ctx, e.historySnapshot(), turn)
		if err != nil {
			// Fail-open per spec §4.10 step 6: never silently stop on a
			// parse failure, fall back to round robin.
			decision = orch.ModeratorDecision{NextSpeaker: e.nextRoundRobin()}
		}

		if decision.StopDiscussion && turn%convergenceCheckEvery == 0 {
			e.machine.Fire(ctx, phase.ConvergenceDetected, "moderator converged")
			return nil
		}

		if err := e.runTurn(ctx, decision); err != nil {
			return err
		}
	}
}

func (e *Engine) runTurn(ctx context.Context, decision orch.ModeratorDecision) error {
	if decision.AllowParallelThinking && len(decision.ParallelGroup) >= 2 && len(decision.ParallelGroup) <= 3 {
		return e.runParallelTurn(ctx, decision.ParallelGroup)
	}

	speaker := decision.NextSpeaker
	if speaker == "" {
		speaker = e.nextRoundRobin()
	}
	return e.runSingleTurn(ctx, orch.Persona(speaker))
}

func (e *Engine) runParallelTurn(ctx context.Context, group []string) error {
	type result struct {
		persona orch.Persona
		text    string
		in, out int
		err     error
	}
	results := make([]result, len(group))

	var wg sync.WaitGroup
	for i, name := range group {
		wg.Add(1)
		go func(i int, persona orch.Persona) {
			defer wg.Done()
			turnCtx, cancel := context.WithTimeout(ctx, e.guardRails.MaxSingleTurnDuration)
			defer cancel()
			text, in, out, err := e.brain.Speak(turnCtx, persona, e.historySnapshot())
			results[i] = result{persona: persona, text: text, in: in, out: out, err: err}
		}(i, orch.Persona(name))
	}
	wg.Wait()

	// Appended sequentially in list order once all return (spec §4.10.3).
	for _, r := range results {
		if r.err != nil {
			e.emitter.WorkerFailed(ctx, string(r.persona), r.err)
			continue
		}
		e.recordTurn(string(r.persona), r.text, r.in, r.out)
	}
	return nil
}

func (e *Engine) runSingleTurn(ctx context.Context, persona orch.Persona) error {
	turnCtx, cancel := context.WithTimeout(ctx, e.guardRails.MaxSingleTurnDuration)
	defer cancel()

	text, in, out, err := e.brain.Speak(turnCtx, persona, e.historySnapshot())
	if err != nil {
		e.emitter.WorkerFailed(ctx, string(persona), err)
		return nil
	}
	e.recordTurn(string(persona), text, in, out)
	return nil
}

func (e *Engine) recordTurn(speaker, text string, inputTokens, outputTokens int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.turn++
	if speaker == e.lastSpeaker {
		e.sameSpeakerStreak++
	} else {
		e.sameSpeakerStreak = 1
		e.lastSpeaker = speaker
	}

	e.history = append(e.history, orch.Message{
		ID:         uuid.NewString(),
		SessionID:  e.session.ID,
		AuthorID:   speaker,
		AuthorRole: orch.RolePanelist,
		Content:    text,
		Type:       orch.MessageArgument,
		CreatedAt:  time.Now(),
	})
	e.session.Cost = e.session.Cost.AddTurn(e.provider, e.model, inputTokens, outputTokens, e.pricing)
}

// nextRoundRobin returns the next panelist in roster order after
// lastSpeaker, used both as the moderator's null-speaker default and as the
// fail-open fallback.
func (e *Engine) nextRoundRobin() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.panelists) == 0 {
		return ""
	}
	if e.lastSpeaker == "" {
		return string(e.panelists[0])
	}
	for i, p := range e.panelists {
		if string(p) == e.lastSpeaker {
			return string(e.panelists[(i+1)%len(e.panelists)])
		}
	}
	return string(e.panelists[0])
}

// guardRailBreached evaluates the turn-count, total-token, discussion-
// duration and same-speaker guard rails against the current discussion
// state. MaxTokensPerTurn, MaxToolCallsPerTurn and MaxToolCallsPerDiscussion
// are not checked; MaxSingleTurnDuration bounds each Speak call through its
// context instead. A breach forces a transition to Converging.
func (e *Engine) guardRailBreached() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.guardRails.MaxTurnsPerDiscussion > 0 && e.turn >= e.guardRails.MaxTurnsPerDiscussion {
		return true
	}
	if e.guardRails.MaxTotalTokens > 0 && e.session.Cost.TotalTokens >= e.guardRails.MaxTotalTokens {
		return true
	}
	if e.guardRails.MaxDiscussionDuration > 0 && !e.startedAt.IsZero() && time.Since(e.startedAt) >= e.guardRails.MaxDiscussionDuration {
		return true
	}
	if e.guardRails.MaxConsecutiveSameSpeaker > 0 && e.sameSpeakerStreak >= e.guardRails.MaxConsecutiveSameSpeaker {
		return true
	}
	return false
}

func (e *Engine) fail(ctx context.Context, err error) {
	e.machine.Fire(ctx, phase.Error, err.Error())
	e.emitter.TaskAborted(ctx, err.Error())
}

func (e *Engine) appendMessage(role orch.Role, mt orch.MessageType, content string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, orch.Message{
		ID:         uuid.NewString(),
		SessionID:  e.session.ID,
		AuthorRole: role,
		Content:    content,
		Type:       mt,
		CreatedAt:  time.Now(),
	})
}

func (e *Engine) historySnapshot() []orch.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]orch.Message(nil), e.history...)
}
