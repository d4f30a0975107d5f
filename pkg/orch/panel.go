package orch

import "time"

// ConvergenceStatus is the outcome classification of a convergence check.
type ConvergenceStatus string

const (
	ConvergenceCompleted  ConvergenceStatus = "completed"
	ConvergenceTooEarly   ConvergenceStatus = "too_early"
	ConvergenceSkipped    ConvergenceStatus = "skipped"
	ConvergenceParseError ConvergenceStatus = "parse_error"
	ConvergenceError      ConvergenceStatus = "error"
)

// ConvergenceResult is the Moderator's periodic assessment of whether a
// Panel discussion has stabilised.
type ConvergenceResult struct {
	Score       int
	IsConverged bool
	Explanation string
	Status      ConvergenceStatus
}

// Depth is a Panel discussion preset controlling turn/threshold defaults.
type Depth string

const (
	DepthAuto     Depth = "auto"
	DepthQuick    Depth = "quick"
	DepthStandard Depth = "standard"
	DepthDeep     Depth = "deep"
)

// PanelistPreset selects the default panelist roster.
type PanelistPreset string

const (
	PresetQuick   PanelistPreset = "quick"
	PresetBalanced PanelistPreset = "balanced"
	PresetAll     PanelistPreset = "all"
	PresetCustom  PanelistPreset = "custom"
)

// Persona names the panelist personas spec §4.10 enumerates.
type Persona string

const (
	PersonaSecurity       Persona = "security"
	PersonaPerformance    Persona = "performance"
	PersonaArchitect      Persona = "architect"
	PersonaQA             Persona = "qa"
	PersonaDevOps         Persona = "devops"
	PersonaUX             Persona = "ux"
	PersonaDomain         Persona = "domain"
	PersonaDevilsAdvocate Persona = "devils_advocate"
)

// GuardRails bounds a Panel discussion's resource consumption (spec §4.10).
type GuardRails struct {
	MaxTurnsPerDiscussion    int
	MaxTokensPerTurn         int
	MaxTotalTokens           int
	MaxToolCallsPerTurn      int
	MaxToolCallsPerDiscussion int
	MaxDiscussionDuration    time.Duration
	MaxSingleTurnDuration    time.Duration
	// MaxConsecutiveSameSpeaker supplements spec.md per SPEC_FULL.md's
	// "Handoff-depth-style loop guard" — bounds a moderator bug pinning the
	// same panelist turn after turn.
	MaxConsecutiveSameSpeaker int
}

// DefaultGuardRails returns the spec-mandated defaults (§4.10).
func DefaultGuardRails() GuardRails {
	return GuardRails{
		MaxTurnsPerDiscussion:     30,
		MaxTokensPerTurn:          4000,
		MaxTotalTokens:            100000,
		MaxToolCallsPerTurn:       5,
		MaxToolCallsPerDiscussion: 50,
		MaxDiscussionDuration:     30 * time.Minute,
		MaxSingleTurnDuration:     3 * time.Minute,
		MaxConsecutiveSameSpeaker: 5,
	}
}

// ConvergenceThreshold returns the default score threshold for a Depth.
func ConvergenceThreshold(d Depth) int {
	switch d {
	case DepthQuick:
		return 60
	case DepthDeep:
		return 90
	default:
		return 80
	}
}

// PanelConfig recognises the options named in spec §6 for the Panel driver.
type PanelConfig struct {
	MaxTurns              int
	MaxTotalTokens        int
	MaxDurationMinutes    int
	MaxToolCalls          int
	AllowFileSystemAccess bool
	Depth                 Depth
	PanelistPreset        PanelistPreset
}

// ModeratorDecision is the Moderator's per-turn routing decision (spec
// §4.10).
type ModeratorDecision struct {
	NextSpeaker           string   `json:"next_speaker"`
	ConvergenceScore      int      `json:"convergence_score"`
	StopDiscussion        bool     `json:"stop_discussion"`
	AllowParallelThinking bool     `json:"allow_parallel_thinking"`
	ParallelGroup         []string `json:"parallel_group,omitempty"`
	RedirectMessage       string   `json:"redirect_message,omitempty"`
}

// SynthesisResult is the Head's final output on entering Synthesising.
type SynthesisResult struct {
	ConsolidatedAnswer     string              `json:"consolidated_answer"`
	ArgumentsByPerspective map[Persona][]string `json:"arguments_by_perspective,omitempty"`
	ConsensusPoints        []string            `json:"consensus_points,omitempty"`
	DissentingPoints       []string            `json:"dissenting_points,omitempty"`
	Recommendations        []string            `json:"recommendations,omitempty"`
	ConfidenceScore        int                 `json:"confidence_score"`
	FollowUpResearchAreas  []string            `json:"follow_up_research_areas,omitempty"`
}

// KnowledgeBrief is generated after Completed and is the sole context used
// to answer follow-up questions (the full transcript is not replayed).
type KnowledgeBrief struct {
	SessionID string
	Summary   string
	CreatedAt time.Time
}
