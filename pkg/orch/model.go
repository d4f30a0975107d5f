// Package orch defines the shared data model for the multi-agent
// orchestration core: sessions, messages, agent instances, cost estimates,
// and the tool-call and circuit-breaker records that flow through the event
// bus. Team, Office, and Panel drivers all operate on these types.
package orch

import "time"

// Role identifies the author of a Message or the persona of an AgentInstance.
type Role string

const (
	RoleUser        Role = "user"
	RoleHead        Role = "head"        // Panel's user-facing coordinator
	RoleManager     Role = "manager"     // Office's user-facing coordinator
	RoleOrchestrator Role = "orchestrator" // Team's user-facing coordinator
	RolePanelist    Role = "panelist"
	RoleWorker      Role = "worker"
	RoleAssistant   Role = "assistant"
	RoleModerator   Role = "moderator"
	RoleSystem      Role = "system"
)

// MessageType classifies the content of a Message.
type MessageType string

const (
	MessageUser          MessageType = "user_message"
	MessageClarification MessageType = "clarification"
	MessagePlan          MessageType = "plan"
	MessageArgument      MessageType = "argument"
	MessageToolResult    MessageType = "tool_result"
	MessageCommentary    MessageType = "commentary"
	MessageSynthesis     MessageType = "synthesis"
	MessageError         MessageType = "error"
)

// GuardRailPolicy bounds a session's resource consumption.
type GuardRailPolicy struct {
	MaxTurns         int
	MaxTokens        int
	MaxWallClock     time.Duration
	MaxToolCalls     int
	AllowedPaths     []string
	AllowedDomains   []string
}

// SessionPhase is the current position of a driver's phase state machine.
// The concrete set of reachable values differs per driver; see internal/phase.
type SessionPhase string

// Session is created once per driver invocation and mutated only by the
// driver's own execution path (single-writer).
type Session struct {
	ID             string
	Prompt         string
	Phase          SessionPhase
	CreatedAt      time.Time
	CompletedAt    time.Time
	GuardRails     GuardRailPolicy
	Messages       []Message
	Agents         []AgentInstance
	Cost           CostEstimate
}

// Message is immutable once appended to a Session.
type Message struct {
	ID           string
	SessionID    string
	AuthorID     string
	AuthorRole   Role
	Content      string
	Type         MessageType
	ReplyToID    string
	ToolCalls    []ToolCallRecord
	CreatedAt    time.Time
}

// AgentStatus is the lifecycle state of an AgentInstance. Transitions are
// monotone forward except Paused<->Active; Disposed is terminal.
type AgentStatus string

const (
	AgentCreated    AgentStatus = "created"
	AgentActive     AgentStatus = "active"
	AgentThinking   AgentStatus = "thinking"
	AgentContributed AgentStatus = "contributed"
	AgentPaused     AgentStatus = "paused"
	AgentDisposed   AgentStatus = "disposed"
)

// AgentInstance is a single LLM agent conversation within a session.
type AgentInstance struct {
	ID             string
	DisplayName    string
	Role           Role
	ModelID        string // provider+name, e.g. "anthropic:claude-sonnet"
	Status         AgentStatus
	TurnsCompleted int
	CreatedAt      time.Time
}

// CanProduce reports whether an agent in this status may still produce
// messages or tool calls. A Disposed agent never can.
func (s AgentStatus) CanProduce() bool {
	return s != AgentDisposed
}

// CostEstimate is an immutable accumulation of token usage and dollar cost.
// Each turn produces a new instance via AddTurn; totals never decrease.
type CostEstimate struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	USD          float64
	Turns        int
}

// PricingRow gives the per-1K-token price for a (provider, model) pair.
type PricingRow struct {
	InputPer1K  float64
	OutputPer1K float64
}

// PricingTable resolves pricing rows for cost estimation.
type PricingTable map[string]PricingRow // key: "<provider>:<model>"

// AddTurn returns a new CostEstimate reflecting one more turn's usage. The
// result always satisfies newTotalTokens >= oldTotalTokens.
func (c CostEstimate) AddTurn(provider, model string, inputTokens, outputTokens int, pricing PricingTable) CostEstimate {
	next := c
	next.InputTokens += inputTokens
	next.OutputTokens += outputTokens
	next.TotalTokens = next.InputTokens + next.OutputTokens
	next.Turns++
	if row, ok := pricing[provider+":"+model]; ok {
		next.USD += float64(inputTokens) / 1000 * row.InputPer1K
		next.USD += float64(outputTokens) / 1000 * row.OutputPer1K
	}
	return next
}

// FailureCode classifies why a ToolCallRecord did not succeed, for the
// structured failure taxonomy carried on event payloads rather than a
// custom error hierarchy.
type FailureCode string

const (
	FailureNone         FailureCode = ""
	FailureCancelled    FailureCode = "cancelled"
	FailureTimeout      FailureCode = "timeout"
	FailureCircuitOpen  FailureCode = "circuit_open"
	FailureToolError    FailureCode = "tool_error"
	FailureDenied       FailureCode = "denied"
)

// ToolCallRecord is the outcome of a single sandboxed tool invocation. The
// executor always returns one of these; it never throws to the caller.
type ToolCallRecord struct {
	ToolName    string
	Input       string
	Output      string
	Success     bool
	Duration    time.Duration
	Attempts    int
	FailureCode FailureCode
	RetryAfter  time.Time
}

// CircuitState mirrors internal/circuit.State without importing it, so the
// model package stays dependency-free; drivers translate between the two.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

// CircuitBreakerSnapshot is a point-in-time view of one tool's breaker.
type CircuitBreakerSnapshot struct {
	ToolName            string
	State               CircuitState
	ConsecutiveFailures int
	HalfOpenSuccesses   int
	OpenedAt            time.Time
}
