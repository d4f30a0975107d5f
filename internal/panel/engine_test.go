package panel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/deskpilot/orchestrator/pkg/orch"
)

type fakeBrain struct {
	mu sync.Mutex

	clarifyRounds [][]string
	clarifyCalls  int

	moderate func(ctx context.Context, history []orch.Message, turn int) (orch.ModeratorDecision, error)
	speak    func(ctx context.Context, persona orch.Persona, history []orch.Message) (string, int, int, error)

	synthesis orch.SynthesisResult
	brief     orch.KnowledgeBrief
}

func (f *fakeBrain) Clarify(ctx context.Context, history []orch.Message) ([]string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clarifyCalls < len(f.clarifyRounds) {
		qs := f.clarifyRounds[f.clarifyCalls]
		f.clarifyCalls++
		return qs, false, nil
	}
	return nil, true, nil
}

func (f *fakeBrain) Moderate(ctx context.Context, history []orch.Message, turn int) (orch.ModeratorDecision, error) {
	if f.moderate != nil {
		return f.moderate(ctx, history, turn)
	}
	if turn >= 3 {
		return orch.ModeratorDecision{StopDiscussion: true}, nil
	}
	return orch.ModeratorDecision{}, nil
}

func (f *fakeBrain) Speak(ctx context.Context, persona orch.Persona, history []orch.Message) (string, int, int, error) {
	if f.speak != nil {
		return f.speak(ctx, persona, history)
	}
	return "opinion from " + string(persona), 100, 50, nil
}

func (f *fakeBrain) Synthesise(ctx context.Context, history []orch.Message) (orch.SynthesisResult, error) {
	return f.synthesis, nil
}

func (f *fakeBrain) Brief(ctx context.Context, synthesis orch.SynthesisResult) (orch.KnowledgeBrief, error) {
	return f.brief, nil
}

func testGuardRails() orch.GuardRails {
	gr := orch.DefaultGuardRails()
	gr.MaxSingleTurnDuration = time.Second
	gr.MaxTurnsPerDiscussion = 10
	return gr
}

func TestEngine_StopsOnModeratorConvergence(t *testing.T) {
	brain := &fakeBrain{
		synthesis: orch.SynthesisResult{ConsolidatedAnswer: "ship it"},
		brief:     orch.KnowledgeBrief{Summary: "brief"},
	}
	panelists := PanelistsForPreset(orch.PresetQuick)
	e := New(orch.PanelConfig{PanelistPreset: orch.PresetQuick}, testGuardRails(), panelists, nil, "fake", "fake-model", brain, nil)

	ctx := context.Background()
	if _, err := e.Start(ctx, "should we ship this?"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	synthesis, brief, err := e.ApprovePlan(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if synthesis.ConsolidatedAnswer != "ship it" {
		t.Errorf("expected synthesis to come from brain, got %+v", synthesis)
	}
	if brief == nil || brief.Summary != "brief" {
		t.Errorf("expected knowledge brief from brain, got %+v", brief)
	}
	if e.Phase() != "completed" {
		t.Fatalf("expected completed, got %s", e.Phase())
	}
}

func TestEngine_ClarificationLoopBlocksUntilAnswered(t *testing.T) {
	brain := &fakeBrain{clarifyRounds: [][]string{{"which system?"}}}
	panelists := PanelistsForPreset(orch.PresetQuick)
	e := New(orch.PanelConfig{}, testGuardRails(), panelists, nil, "fake", "fake-model", brain, nil)

	ctx := context.Background()
	done := make(chan error, 1)
	go func() {
		_, err := e.Start(ctx, "should we ship this?")
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	e.SendUserMessage("the billing system")

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for clarification loop to settle")
	}

	if e.Phase() != "awaiting_approval" {
		t.Fatalf("expected awaiting_approval, got %s", e.Phase())
	}
}

func TestEngine_GuardRailForcesConvergenceOnTurnLimit(t *testing.T) {
	brain := &fakeBrain{
		moderate: func(ctx context.Context, history []orch.Message, turn int) (orch.ModeratorDecision, error) {
			return orch.ModeratorDecision{}, nil // never volunteers to stop
		},
	}
	panelists := PanelistsForPreset(orch.PresetQuick)
	gr := testGuardRails()
	gr.MaxTurnsPerDiscussion = 2
	e := New(orch.PanelConfig{}, gr, panelists, nil, "fake", "fake-model", brain, nil)

	ctx := context.Background()
	if _, err := e.Start(ctx, "question"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, _, err := e.ApprovePlan(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.turn < gr.MaxTurnsPerDiscussion {
		t.Errorf("expected at least %d turns before guard rail breach, got %d", gr.MaxTurnsPerDiscussion, e.turn)
	}
}

func TestEngine_FailOpenFallsBackToRoundRobinOnModerateError(t *testing.T) {
	calls := 0
	brain := &fakeBrain{
		moderate: func(ctx context.Context, history []orch.Message, turn int) (orch.ModeratorDecision, error) {
			calls++
			if turn >= 3 {
				return orch.ModeratorDecision{StopDiscussion: true}, nil
			}
			return orch.ModeratorDecision{}, context.DeadlineExceeded
		},
	}
	panelists := PanelistsForPreset(orch.PresetQuick)
	e := New(orch.PanelConfig{}, testGuardRails(), panelists, nil, "fake", "fake-model", brain, nil)

	ctx := context.Background()
	if _, err := e.Start(ctx, "question"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := e.ApprovePlan(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls == 0 {
		t.Fatal("expected moderator to be consulted despite errors")
	}
}

func TestEngine_RecordTurnAccumulatesCost(t *testing.T) {
	brain := &fakeBrain{}
	panelists := PanelistsForPreset(orch.PresetQuick)
	e := New(orch.PanelConfig{}, testGuardRails(), panelists, nil, "fake", "fake-model", brain, nil)
	e.session = &orch.Session{ID: "s1"}

	e.recordTurn("architect", "hello", 100, 50)
	e.recordTurn("architect", "again", 20, 10)

	if e.session.Cost.TotalTokens != 180 {
		t.Errorf("expected accumulated tokens 180, got %d", e.session.Cost.TotalTokens)
	}
	if e.sameSpeakerStreak != 2 {
		t.Errorf("expected same-speaker streak of 2, got %d", e.sameSpeakerStreak)
	}
}
