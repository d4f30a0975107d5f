package team

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/deskpilot/orchestrator/internal/dag"
	"github.com/deskpilot/orchestrator/pkg/orch"
)

type fakeBrain struct {
	mu sync.Mutex

	clarifyRounds [][]string // questions returned on each successive call; last call returns plan
	plan          *orch.OrchestrationPlan

	runWorker func(ctx context.Context, chunk *orch.WorkChunk, ws dag.Workspace, injected string) (string, error)
	synthesis string
	synthErr  error

	clarifyCalls int
}

func (f *fakeBrain) Clarify(ctx context.Context, history []orch.Message) ([]string, *orch.OrchestrationPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clarifyCalls < len(f.clarifyRounds) {
		qs := f.clarifyRounds[f.clarifyCalls]
		f.clarifyCalls++
		return qs, nil, nil
	}
	return nil, f.plan, nil
}

func (f *fakeBrain) RunWorker(ctx context.Context, chunk *orch.WorkChunk, ws dag.Workspace, injected string) (string, error) {
	if f.runWorker != nil {
		return f.runWorker(ctx, chunk, ws, injected)
	}
	return "worker result for " + chunk.ID, nil
}

func (f *fakeBrain) Synthesise(ctx context.Context, plan *orch.OrchestrationPlan) (string, error) {
	if f.synthErr != nil {
		return "", f.synthErr
	}
	return f.synthesis, nil
}

func (f *fakeBrain) Cost() orch.CostEstimate {
	return orch.CostEstimate{}.AddTurn("fake", "fake-model", 100, 50, nil)
}

func simplePlan() *orch.OrchestrationPlan {
	return &orch.OrchestrationPlan{
		ID: "plan-1",
		Chunks: []orch.WorkChunk{
			{ID: "c1", Title: "Analyse", Prompt: "analyse", Status: orch.ChunkPending},
			{ID: "c2", Title: "Implement", Prompt: "implement", DependsOn: []string{"c1"}, Status: orch.ChunkPending},
		},
	}
}

func testConfig() orch.TeamConfig {
	cfg := orch.DefaultTeamConfig()
	cfg.RetryDelay = time.Millisecond
	cfg.MaxParallelSessions = 2
	return cfg
}

func TestOrchestrator_PlansImmediatelyWhenTaskIsClear(t *testing.T) {
	brain := &fakeBrain{plan: simplePlan(), synthesis: "All done."}
	o := New(testConfig(), brain, nil, nil)

	ctx := context.Background()
	if _, err := o.Start(ctx, "analyse then implement"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Phase() != "awaiting_approval" {
		t.Fatalf("expected awaiting_approval, got %s", o.Phase())
	}
}

func TestOrchestrator_LoopsClarificationUntilPlanReady(t *testing.T) {
	brain := &fakeBrain{
		clarifyRounds: [][]string{{"which module?"}},
		plan:          simplePlan(),
		synthesis:     "done",
	}
	o := New(testConfig(), brain, nil, nil)

	ctx := context.Background()
	done := make(chan error, 1)
	go func() {
		_, err := o.Start(ctx, "fix the bug")
		done <- err
	}()

	// Give the clarification loop a moment to reach Clarifying and block.
	time.Sleep(20 * time.Millisecond)
	o.SendUserMessage("the billing module")

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for clarification loop to settle")
	}

	if o.Phase() != "awaiting_approval" {
		t.Fatalf("expected awaiting_approval, got %s", o.Phase())
	}
}

func TestOrchestrator_ApprovePlanExecutesAndSynthesises(t *testing.T) {
	brain := &fakeBrain{plan: simplePlan(), synthesis: "Summary. [ACTION:write more tests]"}
	o := New(testConfig(), brain, nil, nil)

	ctx := context.Background()
	if _, err := o.Start(ctx, "task"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	report, err := o.ApprovePlan(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.SucceededChunks != 2 {
		t.Errorf("expected 2 succeeded chunks, got %d", report.SucceededChunks)
	}
	if len(report.NextSteps) != 1 || report.NextSteps[0] != "write more tests" {
		t.Errorf("expected extracted action, got %v", report.NextSteps)
	}
	if report.Summary != "Summary." {
		t.Errorf("expected marker stripped from summary, got %q", report.Summary)
	}
	if report.Cost.TotalTokens != 150 || report.Cost.Turns != 1 {
		t.Errorf("expected cost estimate wired from brain, got %+v", report.Cost)
	}
	if o.Phase() != "completed" {
		t.Fatalf("expected completed, got %s", o.Phase())
	}
}

func TestOrchestrator_RejectPlanReturnsToClarifying(t *testing.T) {
	brain := &fakeBrain{plan: simplePlan()}
	o := New(testConfig(), brain, nil, nil)

	ctx := context.Background()
	if _, err := o.Start(ctx, "task"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	o.RejectPlan(ctx, "wrong approach")
	if o.Phase() != "clarifying" {
		t.Fatalf("expected clarifying after rejection, got %s", o.Phase())
	}
}

func TestOrchestrator_WorkerFailureStillCompletesWithinAbortThreshold(t *testing.T) {
	plan := &orch.OrchestrationPlan{
		ID:     "plan-1",
		Chunks: []orch.WorkChunk{{ID: "c1", Status: orch.ChunkPending}},
	}
	brain := &fakeBrain{
		plan: plan,
		runWorker: func(ctx context.Context, c *orch.WorkChunk, ws dag.Workspace, injected string) (string, error) {
			return "", errors.New("boom")
		},
		synthesis: "partial report",
	}
	cfg := testConfig()
	cfg.MaxRetriesPerChunk = 1
	cfg.AbortFailureThreshold = 3
	o := New(cfg, brain, nil, nil)

	ctx := context.Background()
	if _, err := o.Start(ctx, "task"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	report, err := o.ApprovePlan(ctx)
	if err != nil {
		t.Fatalf("expected session to complete despite one failed chunk, got %v", err)
	}
	if report.FailedChunks != 1 || report.SucceededChunks != 0 {
		t.Errorf("expected 1 failed, 0 succeeded, got %+v", report)
	}
}
