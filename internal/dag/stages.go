// Package dag implements the DAG scheduler: layering a plan's work chunks
// into dependency-respecting stages and executing each stage's chunks
// concurrently under a global cap. Grounded on the reference implementation's
// internal/multiagent/swarm.go — BuildDependencyGraph's indegree-peeling
// layering algorithm and Swarm.Execute's semaphore-bounded per-stage
// fan-out — generalized from a flat agent-ID dependency list to
// orch.WorkChunk's richer retry/workspace/role semantics.
package dag

import (
	"fmt"
	"sort"
	"strings"
)

// CyclicDependencyError reports the chunk ids that could not be resolved
// into a stage because of a dependency cycle.
type CyclicDependencyError struct {
	RemainingIDs []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency detected among chunks: %s", strings.Join(e.RemainingIDs, ", "))
}

// BuildStages layers chunks into stages: each stage holds every chunk whose
// dependencies were all satisfied by a strictly earlier stage. A pass that
// resolves nothing while chunks remain indicates a cycle.
func BuildStages(ids []string, dependsOn map[string][]string) ([][]string, error) {
	indegree := make(map[string]int, len(ids))
	dependents := make(map[string][]string, len(ids))
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
		indegree[id] = 0
	}

	for _, id := range ids {
		for _, dep := range dependsOn[id] {
			if !known[dep] {
				return nil, fmt.Errorf("dag: chunk %q depends on unknown chunk %q", id, dep)
			}
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	ready := make([]string, 0)
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	var stages [][]string
	resolved := 0

	for len(ready) > 0 {
		stage := append([]string(nil), ready...)
		stages = append(stages, stage)

		next := make([]string, 0)
		for _, id := range stage {
			resolved++
			for _, dep := range dependents[id] {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		sort.Strings(next)
		ready = next
	}

	if resolved != len(ids) {
		var remaining []string
		for id, deg := range indegree {
			if deg > 0 {
				remaining = append(remaining, id)
			}
		}
		sort.Strings(remaining)
		return nil, &CyclicDependencyError{RemainingIDs: remaining}
	}

	return stages, nil
}
