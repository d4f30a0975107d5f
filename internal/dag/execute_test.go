package dag

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deskpilot/orchestrator/pkg/orch"
)

func newPlan(chunks ...orch.WorkChunk) *orch.OrchestrationPlan {
	return &orch.OrchestrationPlan{ID: "plan-1", Chunks: chunks}
}

func chunk(id string, dependsOn ...string) orch.WorkChunk {
	return orch.WorkChunk{ID: id, DependsOn: dependsOn, Status: orch.ChunkPending}
}

func TestExecute_RunsChunksInDependencyOrder(t *testing.T) {
	plan := newPlan(chunk("a"), chunk("b", "a"), chunk("c", "b"))

	var order []string
	var mu sync.Mutex

	s := New(Config{MaxParallel: 2, MaxRetriesPerChunk: 0, RetryDelay: time.Millisecond}, nil, nil)
	err := s.Execute(context.Background(), plan, orch.WorkspaceInMemory, nil, func(ctx context.Context, c *orch.WorkChunk, ws Workspace, injected string) (string, error) {
		mu.Lock()
		order = append(order, c.ID)
		mu.Unlock()
		return "done", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"a", "b", "c"}
	for i, id := range want {
		if order[i] != id {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
	for _, c := range plan.Chunks {
		if c.Status != orch.ChunkCompleted {
			t.Errorf("chunk %s: expected completed, got %s", c.ID, c.Status)
		}
	}
}

func TestExecute_BoundsConcurrencyWithinAStage(t *testing.T) {
	plan := newPlan(chunk("a"), chunk("b"), chunk("c"), chunk("d"))

	var inFlight, maxSeen int64
	s := New(Config{MaxParallel: 2}, nil, nil)

	err := s.Execute(context.Background(), plan, orch.WorkspaceInMemory, nil, func(ctx context.Context, c *orch.WorkChunk, ws Workspace, injected string) (string, error) {
		cur := atomic.AddInt64(&inFlight, 1)
		for {
			prev := atomic.LoadInt64(&maxSeen)
			if cur <= prev || atomic.CompareAndSwapInt64(&maxSeen, prev, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atomic.LoadInt64(&maxSeen) > 2 {
		t.Errorf("expected at most 2 concurrent chunk executions, saw %d", maxSeen)
	}
}

func TestExecute_RetriesFailedChunkAndRepromptsWithErrorContext(t *testing.T) {
	plan := newPlan(chunk("a"))
	var prompts []string
	attempt := 0

	s := New(Config{MaxParallel: 1, MaxRetriesPerChunk: 2, RetryDelay: time.Millisecond}, nil, nil)
	err := s.Execute(context.Background(), plan, orch.WorkspaceInMemory, nil, func(ctx context.Context, c *orch.WorkChunk, ws Workspace, injected string) (string, error) {
		prompts = append(prompts, injected)
		attempt++
		if attempt < 3 {
			return "", errors.New("transient failure")
		}
		return "finally done", nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if plan.Chunks[0].Status != orch.ChunkCompleted {
		t.Fatalf("expected chunk to complete, got %s", plan.Chunks[0].Status)
	}
	if plan.Chunks[0].RetryCount != 2 {
		t.Errorf("expected RetryCount 2, got %d", plan.Chunks[0].RetryCount)
	}
	if len(prompts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(prompts))
	}
	if prompts[1] == "" || prompts[2] == "" {
		t.Error("expected retried attempts to carry reprompt context from the prior failure")
	}
}

func TestExecute_ChunkExhaustsRetriesAndIsMarkedFailed(t *testing.T) {
	plan := newPlan(chunk("a"))
	failing := errors.New("permanent failure")

	s := New(Config{MaxParallel: 1, MaxRetriesPerChunk: 1, RetryDelay: time.Millisecond, AbortFailureThreshold: 100}, nil, nil)
	_ = s.Execute(context.Background(), plan, orch.WorkspaceInMemory, nil, func(ctx context.Context, c *orch.WorkChunk, ws Workspace, injected string) (string, error) {
		return "", failing
	})

	if plan.Chunks[0].Status != orch.ChunkFailed {
		t.Fatalf("expected chunk marked failed, got %s", plan.Chunks[0].Status)
	}
}

func TestExecute_AbortsRemainingStagesAfterFailureThreshold(t *testing.T) {
	plan := newPlan(chunk("a"), chunk("b"), chunk("c", "a", "b"))

	s := New(Config{MaxParallel: 2, MaxRetriesPerChunk: 0, RetryDelay: time.Millisecond, AbortFailureThreshold: 2}, nil, nil)
	err := s.Execute(context.Background(), plan, orch.WorkspaceInMemory, nil, func(ctx context.Context, c *orch.WorkChunk, ws Workspace, injected string) (string, error) {
		if c.ID == "c" {
			t.Fatal("chunk c should never run: its stage should have been aborted")
		}
		return "", errors.New("boom")
	})
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
}

func TestExecute_InjectedInstructionAppliesAtNextStageBoundary(t *testing.T) {
	plan := newPlan(chunk("a"), chunk("b", "a"))

	s := New(Config{MaxParallel: 1, RetryDelay: time.Millisecond}, nil, nil)

	var seenByB string
	err := s.Execute(context.Background(), plan, orch.WorkspaceInMemory, nil, func(ctx context.Context, c *orch.WorkChunk, ws Workspace, injected string) (string, error) {
		if c.ID == "a" {
			s.Inject("use the new style guide")
			if injected != "" {
				t.Error("chunk a's stage starts before the injection, so it should see no injected text")
			}
		}
		if c.ID == "b" {
			seenByB = injected
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seenByB != "use the new style guide" {
		t.Errorf("expected chunk b to see the injected instruction, got %q", seenByB)
	}
}

func TestExecute_CyclicPlanReturnsCyclicDependencyError(t *testing.T) {
	plan := newPlan(chunk("a", "b"), chunk("b", "a"))

	s := New(DefaultConfig(), nil, nil)
	err := s.Execute(context.Background(), plan, orch.WorkspaceInMemory, nil, func(ctx context.Context, c *orch.WorkChunk, ws Workspace, injected string) (string, error) {
		t.Fatal("no chunk should run when the plan is cyclic")
		return "", nil
	})

	var cyclic *CyclicDependencyError
	if !errors.As(err, &cyclic) {
		t.Fatalf("expected *CyclicDependencyError, got %v", err)
	}
}
