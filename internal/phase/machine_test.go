package phase

import (
	"context"
	"testing"

	"github.com/deskpilot/orchestrator/pkg/orch"
)

func TestMachine_InitialState(t *testing.T) {
	m := New(TeamGraph(), nil, nil)
	if m.Current() != Idle {
		t.Errorf("expected initial phase Idle, got %s", m.Current())
	}
}

func TestMachine_FireValidTrigger(t *testing.T) {
	m := New(TeamGraph(), nil, nil)

	if !m.Fire(context.Background(), UserSubmitted, "user submitted prompt") {
		t.Fatal("expected UserSubmitted to fire from Idle")
	}
	if m.Current() != Clarifying {
		t.Errorf("expected phase Clarifying, got %s", m.Current())
	}
}

func TestMachine_FireUnhandledTriggerIsSwallowed(t *testing.T) {
	m := New(TeamGraph(), nil, nil)

	if m.Fire(context.Background(), SynthesisComplete, "stale timer") {
		t.Fatal("expected SynthesisComplete to be rejected from Idle")
	}
	if m.Current() != Idle {
		t.Errorf("expected phase to remain Idle, got %s", m.Current())
	}
}

func TestMachine_CanFire(t *testing.T) {
	m := New(TeamGraph(), nil, nil)

	if !m.CanFire(UserSubmitted) {
		t.Error("expected CanFire(UserSubmitted) true from Idle")
	}
	if m.CanFire(PlanReady) {
		t.Error("expected CanFire(PlanReady) false from Idle")
	}
}

func TestMachine_PermittedTriggers(t *testing.T) {
	m := New(TeamGraph(), nil, nil)

	triggers := m.PermittedTriggers()
	if len(triggers) != 1 || triggers[0] != UserSubmitted {
		t.Errorf("expected only UserSubmitted permitted from Idle, got %v", triggers)
	}
}

func TestMachine_TeamFullPipeline(t *testing.T) {
	m := New(TeamGraph(), nil, nil)
	ctx := context.Background()

	steps := []struct {
		trigger Trigger
		want    orch.SessionPhase
	}{
		{UserSubmitted, Clarifying},
		{ClarificationsComplete, AwaitingApproval},
		{UserApproved, Planning},
		{PlanReady, Executing},
		{ExecutionComplete, Synthesising},
		{SynthesisComplete, Completed},
	}

	for _, step := range steps {
		if !m.Fire(ctx, step.trigger, "") {
			t.Fatalf("expected trigger %s to fire from %s", step.trigger, m.Current())
		}
		if m.Current() != step.want {
			t.Fatalf("after %s: expected %s, got %s", step.trigger, step.want, m.Current())
		}
	}
}

func TestMachine_TeamRejectionReturnsToClarifying(t *testing.T) {
	m := New(TeamGraph(), nil, nil)
	ctx := context.Background()

	m.Fire(ctx, UserSubmitted, "")
	m.Fire(ctx, ClarificationsComplete, "")
	if !m.Fire(ctx, UserRejected, "") {
		t.Fatal("expected UserRejected to fire from AwaitingApproval")
	}
	if m.Current() != Clarifying {
		t.Errorf("expected phase Clarifying after rejection, got %s", m.Current())
	}
}

func TestMachine_TeamCancelFromAnyActivePhase(t *testing.T) {
	m := New(TeamGraph(), nil, nil)
	ctx := context.Background()

	m.Fire(ctx, UserSubmitted, "")
	m.Fire(ctx, ClarificationsComplete, "")
	m.Fire(ctx, UserApproved, "")

	if !m.Fire(ctx, UserCancelled, "user cancelled mid-plan") {
		t.Fatal("expected UserCancelled to fire from Planning")
	}
	if m.Current() != Cancelled {
		t.Errorf("expected phase Cancelled, got %s", m.Current())
	}
}

func TestMachine_OfficeLoopsBackToFetchingEvents(t *testing.T) {
	m := New(OfficeGraph(), nil, nil)
	ctx := context.Background()

	m.Fire(ctx, UserSubmitted, "")
	m.Fire(ctx, ClarificationsComplete, "")
	m.Fire(ctx, UserApproved, "")
	m.Fire(ctx, EventsFetched, "")
	m.Fire(ctx, ScheduleReady, "")
	m.Fire(ctx, ExecutionComplete, "")
	m.Fire(ctx, AggregationComplete, "")
	if m.Current() != Resting {
		t.Fatalf("expected phase Resting, got %s", m.Current())
	}

	if !m.Fire(ctx, RestComplete, "") {
		t.Fatal("expected RestComplete to fire from Resting")
	}
	if m.Current() != FetchingEvents {
		t.Errorf("expected loop back to FetchingEvents, got %s", m.Current())
	}
}

func TestMachine_OfficeErrorRecoversViaReset(t *testing.T) {
	m := New(OfficeGraph(), nil, nil)
	ctx := context.Background()

	m.Fire(ctx, UserSubmitted, "")
	m.Fire(ctx, Error, "scheduler panic")
	if m.Current() != OfficeError {
		t.Fatalf("expected phase OfficeError, got %s", m.Current())
	}

	if !m.Fire(ctx, Reset, "") {
		t.Fatal("expected Reset to fire from OfficeError")
	}
	if m.Current() != Idle {
		t.Errorf("expected phase Idle after reset, got %s", m.Current())
	}
}

func TestMachine_PanelPauseAndResume(t *testing.T) {
	m := New(PanelGraph(), nil, nil)
	ctx := context.Background()

	m.Fire(ctx, UserSubmitted, "")
	m.Fire(ctx, ClarificationsComplete, "")
	m.Fire(ctx, UserApproved, "")
	m.Fire(ctx, PanelistsReady, "")
	if m.Current() != Running {
		t.Fatalf("expected phase Running, got %s", m.Current())
	}

	m.Fire(ctx, UserPaused, "")
	if m.Current() != Paused {
		t.Fatalf("expected phase Paused, got %s", m.Current())
	}

	if !m.Fire(ctx, UserResumed, "") {
		t.Fatal("expected UserResumed to fire from Paused")
	}
	if m.Current() != Running {
		t.Errorf("expected phase Running after resume, got %s", m.Current())
	}
}

func TestMachine_PanelConvergenceCanResumeDebate(t *testing.T) {
	m := New(PanelGraph(), nil, nil)
	ctx := context.Background()

	m.Fire(ctx, UserSubmitted, "")
	m.Fire(ctx, ClarificationsComplete, "")
	m.Fire(ctx, UserApproved, "")
	m.Fire(ctx, PanelistsReady, "")
	m.Fire(ctx, ConvergenceDetected, "")
	if m.Current() != Converging {
		t.Fatalf("expected phase Converging, got %s", m.Current())
	}

	if !m.Fire(ctx, ResumeDebate, "moderator judged convergence premature") {
		t.Fatal("expected ResumeDebate to fire from Converging")
	}
	if m.Current() != Running {
		t.Errorf("expected phase Running after ResumeDebate, got %s", m.Current())
	}
}

func TestMachine_PanelFailedResetsToIdle(t *testing.T) {
	m := New(PanelGraph(), nil, nil)
	ctx := context.Background()

	m.Fire(ctx, UserSubmitted, "")
	m.Fire(ctx, Timeout, "panelist unresponsive")
	if m.Current() != Failed {
		t.Fatalf("expected phase Failed, got %s", m.Current())
	}

	if !m.Fire(ctx, Reset, "") {
		t.Fatal("expected Reset to fire from Failed")
	}
	if m.Current() != Idle {
		t.Errorf("expected phase Idle after reset, got %s", m.Current())
	}
}
