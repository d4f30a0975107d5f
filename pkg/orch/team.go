package orch

import "time"

// Complexity classifies the estimated effort of a WorkChunk.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// ChunkStatus is the runtime status of a WorkChunk within the DAG scheduler.
type ChunkStatus string

const (
	ChunkPending   ChunkStatus = "pending"
	ChunkRunning   ChunkStatus = "running"
	ChunkCompleted ChunkStatus = "completed"
	ChunkFailed    ChunkStatus = "failed"
	ChunkCancelled ChunkStatus = "cancelled"
)

// WorkChunk is an atomic unit of work in a Team plan. Its definition is
// immutable; runtime fields (Status, RetryCount, Result, timestamps) are set
// by the DAG scheduler.
type WorkChunk struct {
	ID             string
	SequenceIndex  int
	Title          string
	Prompt         string
	DependsOn      []string
	WorkingScope   string
	RequiredSkills []string
	Complexity     Complexity
	AssignedRole   Role

	Status     ChunkStatus
	RetryCount int
	Workspace  string
	Result     string
	StartedAt  time.Time
	EndedAt    time.Time
}

// WorkspaceStrategy is a plan-wide property governing how parallel workers'
// filesystem effects are isolated from one another.
type WorkspaceStrategy string

const (
	WorkspaceGitWorktree WorkspaceStrategy = "git_worktree"
	WorkspaceFileLocking WorkspaceStrategy = "file_locking"
	WorkspaceInMemory    WorkspaceStrategy = "in_memory"
)

// PlanStatus is the overall status of an OrchestrationPlan.
type PlanStatus string

const (
	PlanPending   PlanStatus = "pending"
	PlanExecuting PlanStatus = "executing"
	PlanCompleted PlanStatus = "completed"
	PlanFailed    PlanStatus = "failed"
)

// OrchestrationPlan is the Team orchestrator's structured plan: a set of
// chunks arranged into topologically-valid stages. Invariant: every chunk's
// dependencies appear in an earlier stage than the chunk itself.
type OrchestrationPlan struct {
	ID                string              `json:"id"`
	Chunks            []WorkChunk         `json:"chunks"`
	Stages            [][]string          `json:"-"`
	Status            PlanStatus          `json:"-"`
	WorkspaceStrategy WorkspaceStrategy   `json:"-"`
}

// PlanChunkJSON is the wire shape of one chunk in the Plan JSON contract
// (spec §6): {id, sequenceIndex, title, prompt, dependsOn, workingScope?,
// requiredSkills, complexity, assignedRole}.
type PlanChunkJSON struct {
	ID             string     `json:"id"`
	SequenceIndex  int        `json:"sequenceIndex"`
	Title          string     `json:"title"`
	Prompt         string     `json:"prompt"`
	DependsOn      []string   `json:"dependsOn"`
	WorkingScope   string     `json:"workingScope,omitempty"`
	RequiredSkills []string   `json:"requiredSkills"`
	Complexity     Complexity `json:"complexity"`
	AssignedRole   Role       `json:"assignedRole"`
}

// PlanJSON is the Team orchestrator's round-trippable plan wire contract.
type PlanJSON struct {
	ID     string          `json:"id"`
	Chunks []PlanChunkJSON `json:"chunks"`
}

// ToJSON converts an OrchestrationPlan to its wire contract.
func (p OrchestrationPlan) ToJSON() PlanJSON {
	out := PlanJSON{ID: p.ID, Chunks: make([]PlanChunkJSON, 0, len(p.Chunks))}
	for _, c := range p.Chunks {
		out.Chunks = append(out.Chunks, PlanChunkJSON{
			ID:             c.ID,
			SequenceIndex:  c.SequenceIndex,
			Title:          c.Title,
			Prompt:         c.Prompt,
			DependsOn:      c.DependsOn,
			WorkingScope:   c.WorkingScope,
			RequiredSkills: c.RequiredSkills,
			Complexity:     c.Complexity,
			AssignedRole:   c.AssignedRole,
		})
	}
	return out
}

// FromPlanJSON reconstructs an OrchestrationPlan from its wire contract.
// plan -> ToJSON -> FromPlanJSON -> plan is identity on the fields carried
// by PlanJSON (stages/status are scheduler-derived and recomputed).
func FromPlanJSON(w PlanJSON) OrchestrationPlan {
	out := OrchestrationPlan{ID: w.ID, Chunks: make([]WorkChunk, 0, len(w.Chunks))}
	for _, c := range w.Chunks {
		out.Chunks = append(out.Chunks, WorkChunk{
			ID:             c.ID,
			SequenceIndex:  c.SequenceIndex,
			Title:          c.Title,
			Prompt:         c.Prompt,
			DependsOn:      c.DependsOn,
			WorkingScope:   c.WorkingScope,
			RequiredSkills: c.RequiredSkills,
			Complexity:     c.Complexity,
			AssignedRole:   c.AssignedRole,
			Status:         ChunkPending,
		})
	}
	return out
}

// ConsolidatedReport is the Team orchestrator's final synthesis. Only the
// NextSteps-bearing version is implemented (see SPEC_FULL.md Open Question
// Decisions).
type ConsolidatedReport struct {
	Summary         string
	NextSteps       []string
	SucceededChunks int
	FailedChunks    int
	WorkerResults   []string
	Cost            CostEstimate
}

// TeamConfig recognises the options spec §6 names for the Team driver.
type TeamConfig struct {
	MaxParallelSessions      int
	WorkspaceStrategy        WorkspaceStrategy
	OrchestratorModelID      string
	WorkerModelID            string
	WorkingDirectory         string
	EnabledMcpServers        []string
	DisabledSkills           []string
	AutoApproveReadOnlyTools bool
	WorkerTimeout            time.Duration
	OrchestratorLlmTimeout   time.Duration
	MaintainFollowUpContext  bool
	MaxRetriesPerChunk       int
	RetryDelay               time.Duration
	AbortFailureThreshold    int
}

// DefaultTeamConfig returns the spec-mandated defaults (§6, §4.8).
func DefaultTeamConfig() TeamConfig {
	return TeamConfig{
		MaxParallelSessions:      5,
		WorkspaceStrategy:        WorkspaceInMemory,
		AutoApproveReadOnlyTools: true,
		WorkerTimeout:            10 * time.Minute,
		OrchestratorLlmTimeout:   5 * time.Minute,
		MaintainFollowUpContext:  true,
		MaxRetriesPerChunk:       2,
		RetryDelay:               5 * time.Second,
		AbortFailureThreshold:    3,
	}
}
