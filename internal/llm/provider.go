// Package llm defines the provider-agnostic streaming completion interface
// used by every driver (Team, Office, Panel) to talk to a model backend.
// Adapted from internal/agent/provider_types.go: the same
// streaming-channel shape and Tool/ToolResult contract, generalized so a
// CompletionRequest carries a Role (for the per-role model/tool catalogue)
// instead of being tied to one fixed agent runtime.
package llm

import (
	"context"
	"encoding/json"

	"github.com/deskpilot/orchestrator/pkg/orch"
)

// Provider is implemented by each model backend (Anthropic, OpenAI,
// Bedrock, ...). Implementations must be safe for concurrent use: the
// drivers call Complete from many goroutines for independent agents.
type Provider interface {
	// Complete sends a request and streams the response back chunk by
	// chunk. The returned channel is closed once a chunk with Done=true
	// or Error!=nil has been delivered.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name identifies the provider for pricing lookups and logging
	// ("anthropic", "openai", "bedrock").
	Name() string

	// Models lists the models this provider exposes.
	Models() []Model

	// SupportsTools reports whether Complete honors CompletionRequest.Tools.
	SupportsTools() bool
}

// CompletionRequest is a single turn of conversation sent to a Provider.
type CompletionRequest struct {
	Model     string              `json:"model"`
	System    string              `json:"system,omitempty"`
	Messages  []CompletionMessage `json:"messages"`
	Tools     []Tool              `json:"tools,omitempty"`
	MaxTokens int                 `json:"max_tokens,omitempty"`

	// Role attributes the request to a catalogue role (orch.RoleOrchestrator,
	// orch.RolePanelist, ...) so providers and middleware can apply
	// role-specific defaults without threading them through every call site.
	Role orch.Role `json:"role,omitempty"`
}

// CompletionMessage is one turn of conversation history.
type CompletionMessage struct {
	Role        string       `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// ToolResult is the outcome of executing a ToolCall, fed back to the model
// on the next turn.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// CompletionChunk is a single streamed piece of a model's response.
type CompletionChunk struct {
	Text         string    `json:"text,omitempty"`
	ToolCall     *ToolCall `json:"tool_call,omitempty"`
	Done         bool      `json:"done,omitempty"`
	Error        error     `json:"-"`
	InputTokens  int       `json:"input_tokens,omitempty"`
	OutputTokens int       `json:"output_tokens,omitempty"`
}

// Model describes a model a Provider exposes.
type Model struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContextSize int    `json:"context_size"`
}

// Tool is a function definition offered to the model.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}
