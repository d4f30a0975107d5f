package orch

import "time"

// AssistantTaskStatus is the runtime status of an Office AssistantTask.
type AssistantTaskStatus string

const (
	TaskQueued    AssistantTaskStatus = "queued"
	TaskRunning   AssistantTaskStatus = "running"
	TaskCompleted AssistantTaskStatus = "completed"
	TaskFailed    AssistantTaskStatus = "failed"
	TaskCancelled AssistantTaskStatus = "cancelled"
	TaskTimedOut  AssistantTaskStatus = "timed_out"
)

// SchedulingDecision records why a task was dispatched, queued, skipped,
// deferred, or merged during the Office loop's Scheduling phase.
type SchedulingDecision string

const (
	DecisionDispatched SchedulingDecision = "dispatched"
	DecisionQueued     SchedulingDecision = "queued"
	DecisionSkipped    SchedulingDecision = "skipped"
	DecisionDeferred   SchedulingDecision = "deferred"
	DecisionMerged     SchedulingDecision = "merged"
)

// AssistantTask is one unit of work dispatched to an ephemeral assistant.
type AssistantTask struct {
	ID               string
	IterationNumber  int
	Instruction      string
	Priority         int
	Status           AssistantTaskStatus
	RetryCount       int
	AssistantIndex   int
	Decision         SchedulingDecision
	StartedAt        time.Time
	EndedAt          time.Time
}

// IterationReport is the per-iteration aggregate produced by the Aggregating
// phase.
type IterationReport struct {
	IterationNumber int
	TaskCountByStatus map[AssistantTaskStatus]int
	TotalDuration   time.Duration
	Commentary      []string
	NextIterationHints []string
	Markdown        string
	Cost            CostEstimate
}

// CommentaryStreamingMode controls how the manager's LLM reasoning is
// surfaced.
type CommentaryStreamingMode string

const (
	CommentaryCompleteThought CommentaryStreamingMode = "complete_thought"
	CommentaryStreamingTokens CommentaryStreamingMode = "streaming_tokens"
)

// ManagerContext accumulates the Office Manager Loop's running state across
// iterations.
type ManagerContext struct {
	Config             OfficeConfig
	Phase              SessionPhase
	IterationCounter   int
	ApprovedPlanText   string
	Clarifications     []string
	InjectedInstructions []string
	IterationReports   []IterationReport
	RunStartedAt       time.Time
	RunEndedAt         time.Time
}

// OfficeConfig recognises the options named in spec §6 for the Office
// driver.
type OfficeConfig struct {
	Objective                string
	Schedule                 string // optional cron expression, see SPEC_FULL DOMAIN STACK
	WorkspacePath             string
	CheckIntervalMinutes      int
	MaxAssistants             int
	MaxQueueDepth             int
	ManagerModel              string
	AssistantModel            string
	AssistantTimeoutSeconds   int
	ManagerLlmTimeoutSeconds  int
	MaxRetries                int
	RequirePlanApproval       bool
	CommentaryStreamingMode   CommentaryStreamingMode
}

// DefaultOfficeConfig returns the spec-mandated defaults (§6).
func DefaultOfficeConfig() OfficeConfig {
	return OfficeConfig{
		CheckIntervalMinutes:     5,
		MaxAssistants:            3,
		MaxQueueDepth:            20,
		AssistantTimeoutSeconds:  120,
		ManagerLlmTimeoutSeconds: 60,
		MaxRetries:               2,
		RequirePlanApproval:      true,
		CommentaryStreamingMode:  CommentaryCompleteThought,
	}
}
