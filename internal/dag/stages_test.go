package dag

import (
	"errors"
	"testing"
)

func TestBuildStages_LinearChain(t *testing.T) {
	ids := []string{"a", "b", "c"}
	deps := map[string][]string{
		"a": nil,
		"b": {"a"},
		"c": {"b"},
	}

	stages, err := BuildStages(ids, deps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := [][]string{{"a"}, {"b"}, {"c"}}
	assertStagesEqual(t, want, stages)
}

func TestBuildStages_FanOutThenJoin(t *testing.T) {
	ids := []string{"root", "left", "right", "join"}
	deps := map[string][]string{
		"root":  nil,
		"left":  {"root"},
		"right": {"root"},
		"join":  {"left", "right"},
	}

	stages, err := BuildStages(ids, deps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := [][]string{{"root"}, {"left", "right"}, {"join"}}
	assertStagesEqual(t, want, stages)
}

func TestBuildStages_IndependentChunksShareAStage(t *testing.T) {
	ids := []string{"x", "y", "z"}
	deps := map[string][]string{"x": nil, "y": nil, "z": nil}

	stages, err := BuildStages(ids, deps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stages) != 1 || len(stages[0]) != 3 {
		t.Fatalf("expected a single stage with all three chunks, got %v", stages)
	}
}

func TestBuildStages_CycleIsDetected(t *testing.T) {
	ids := []string{"a", "b"}
	deps := map[string][]string{
		"a": {"b"},
		"b": {"a"},
	}

	_, err := BuildStages(ids, deps)
	var cyclic *CyclicDependencyError
	if !errors.As(err, &cyclic) {
		t.Fatalf("expected *CyclicDependencyError, got %v", err)
	}
	if len(cyclic.RemainingIDs) != 2 {
		t.Errorf("expected both chunks reported as remaining, got %v", cyclic.RemainingIDs)
	}
}

func TestBuildStages_UnknownDependencyErrors(t *testing.T) {
	ids := []string{"a"}
	deps := map[string][]string{"a": {"ghost"}}

	_, err := BuildStages(ids, deps)
	if err == nil {
		t.Fatal("expected an error for an unknown dependency")
	}
}

func assertStagesEqual(t *testing.T, want, got [][]string) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("expected %d stages, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if len(want[i]) != len(got[i]) {
			t.Fatalf("stage %d: expected %v, got %v", i, want[i], got[i])
		}
		seen := make(map[string]bool, len(want[i]))
		for _, id := range got[i] {
			seen[id] = true
		}
		for _, id := range want[i] {
			if !seen[id] {
				t.Fatalf("stage %d: expected to find %q, got %v", i, id, got[i])
			}
		}
	}
}
