package team

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/deskpilot/orchestrator/internal/dag"
	"github.com/deskpilot/orchestrator/internal/executor"
	"github.com/deskpilot/orchestrator/internal/llm"
	"github.com/deskpilot/orchestrator/internal/tools"
	"github.com/deskpilot/orchestrator/pkg/orch"
)

// maxToolRounds bounds how many request/execute/reprompt round trips a
// single RunWorker call makes before returning whatever text it has,
// guarding against a worker that never stops calling tools.
const maxToolRounds = 4

// LLMBrain implements Brain over internal/llm's Provider/Catalogue/Registry,
// grounded on internal/multiagent/orchestrator.go Process
// method: resolve a role to a provider via the catalogue, build a
// CompletionRequest from the running history, and collect the full
// response before acting on it. It also owns the running CostEstimate for
// the session (spec §3's "cost estimate never decreases" invariant), since
// it is the one place that sees every provider/model/token-count triple.
type LLMBrain struct {
	catalogue *llm.Catalogue
	registry  *llm.Registry
	pricing   orch.PricingTable
	exec      *executor.Executor
	tools     []llm.Tool

	mu   sync.Mutex
	cost orch.CostEstimate
}

// NewLLMBrain creates an LLMBrain. pricing may be nil, in which case every
// turn accumulates tokens but no USD estimate. exec may be nil, in which
// case workers never receive a Tools catalogue and RunWorker is a single
// request/response turn.
func NewLLMBrain(catalogue *llm.Catalogue, registry *llm.Registry, pricing orch.PricingTable, exec *executor.Executor) *LLMBrain {
	b := &LLMBrain{catalogue: catalogue, registry: registry, pricing: pricing, exec: exec}
	if exec != nil {
		b.tools = tools.Definitions()
	}
	return b
}

// Cost returns a snapshot of the running cost estimate accumulated across
// every Clarify/RunWorker/Synthesise call so far.
func (b *LLMBrain) Cost() orch.CostEstimate {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cost
}

func (b *LLMBrain) recordCost(provider, model string, inputTokens, outputTokens int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cost = b.cost.AddTurn(provider, model, inputTokens, outputTokens, b.pricing)
}

func (b *LLMBrain) resolve(role orch.Role) (llm.Provider, llm.RoleConfig, error) {
	cfg, ok := b.catalogue.For(role)
	if !ok {
		return nil, llm.RoleConfig{}, fmt.Errorf("team: no catalogue entry for role %q", role)
	}
	p, err := b.registry.Resolve(cfg)
	if err != nil {
		return nil, llm.RoleConfig{}, err
	}
	return p, cfg, nil
}

// clarifyPlanJSON is the wire shape the orchestrator model must return
// when it considers the task clear enough to plan (spec §6's Plan JSON
// contract).
type clarifyPlanJSON struct {
	Questions []string       `json:"questions,omitempty"`
	Plan      *orch.PlanJSON `json:"plan,omitempty"`
}

func (b *LLMBrain) Clarify(ctx context.Context, history []orch.Message) ([]string, *orch.OrchestrationPlan, error) {
	provider, cfg, err := b.resolve(orch.RoleOrchestrator)
	if err != nil {
		return nil, nil, err
	}

	req := &llm.CompletionRequest{
		Model:     cfg.Model,
		Role:      orch.RoleOrchestrator,
		MaxTokens: cfg.MaxTokens,
		System: "Evaluate whether the user's task is clear enough to plan. " +
			"If not, return clarifying questions. If so, return a structured " +
			"plan of work chunks with dependencies, roles, and complexity.",
		Messages: toCompletionMessages(history),
	}

	text, _, inTok, outTok, err := llm.Collect(ctx, provider, req)
	if err != nil {
		return nil, nil, err
	}
	b.recordCost(provider.Name(), cfg.Model, inTok, outTok)

	var parsed clarifyPlanJSON
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, nil, fmt.Errorf("team: orchestrator response was not valid JSON: %w", err)
	}

	if parsed.Plan == nil {
		return parsed.Questions, nil, nil
	}

	plan := orch.FromPlanJSON(*parsed.Plan)
	return nil, &plan, nil
}

// RunWorker runs one chunk attempt, looping through tool calls the model
// requests (up to maxToolRounds) via internal/executor's sandboxed
// executor when the role's catalogue entry allows tools and the brain was
// built with one. A worker with no ToolsAllowed, or a brain built with a
// nil Executor, sees no Tools field and this degenerates to the original
// single request/response turn.
func (b *LLMBrain) RunWorker(ctx context.Context, chunk *orch.WorkChunk, workspace dag.Workspace, injectedPrompt string) (string, error) {
	provider, cfg, err := b.resolve(orch.RoleWorker)
	if err != nil {
		return "", err
	}

	system := fmt.Sprintf("You are a %s worker. Working scope: %s.", chunk.AssignedRole, workspace.Path)
	if injectedPrompt != "" {
		system += "\n\n" + injectedPrompt
	}

	messages := []llm.CompletionMessage{{Role: "user", Content: chunk.Prompt}}

	var toolset []llm.Tool
	if b.exec != nil && len(cfg.ToolsAllowed) > 0 {
		toolset = b.tools
		ctx = tools.WithWorkspaceRoot(ctx, workspace.Path)
	}

	var text string
	for round := 0; round < maxToolRounds; round++ {
		req := &llm.CompletionRequest{
			Model:     cfg.Model,
			Role:      orch.RoleWorker,
			MaxTokens: cfg.MaxTokens,
			System:    system,
			Messages:  messages,
			Tools:     toolset,
		}

		var calls []llm.ToolCall
		var inTok, outTok int
		text, calls, inTok, outTok, err = llm.Collect(ctx, provider, req)
		if err != nil {
			return "", err
		}
		b.recordCost(provider.Name(), cfg.Model, inTok, outTok)

		if len(calls) == 0 || b.exec == nil {
			return text, nil
		}

		messages = append(messages, llm.CompletionMessage{Role: "assistant", Content: text, ToolCalls: calls})
		results := make([]llm.ToolResult, 0, len(calls))
		for _, call := range calls {
			record := b.exec.ExecuteTool(ctx, call.Name, string(call.Input), 0)
			results = append(results, llm.ToolResult{
				ToolCallID: call.ID,
				Content:    record.Output,
				IsError:    !record.Success,
			})
		}
		messages = append(messages, llm.CompletionMessage{Role: "tool", ToolResults: results})
	}

	return text, nil
}

func (b *LLMBrain) Synthesise(ctx context.Context, plan *orch.OrchestrationPlan) (string, error) {
	provider, cfg, err := b.resolve(orch.RoleOrchestrator)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, c := range plan.Chunks {
		fmt.Fprintf(&sb, "## %s (%s)\n%s\n\n", c.Title, c.Status, c.Result)
	}

	req := &llm.CompletionRequest{
		Model:     cfg.Model,
		Role:      orch.RoleOrchestrator,
		MaxTokens: cfg.MaxTokens,
		System: "Synthesise the worker results below into a conversational " +
			"summary for the user. Mark any follow-up work with " +
			"[ACTION:<text>] markers.",
		Messages: []llm.CompletionMessage{{Role: "user", Content: sb.String()}},
	}

	text, _, inTok, outTok, err := llm.Collect(ctx, provider, req)
	if err == nil {
		b.recordCost(provider.Name(), cfg.Model, inTok, outTok)
	}
	return text, err
}

func toCompletionMessages(history []orch.Message) []llm.CompletionMessage {
	out := make([]llm.CompletionMessage, 0, len(history))
	for _, m := range history {
		role := "user"
		if m.AuthorRole != orch.RoleUser {
			role = "assistant"
		}
		out = append(out, llm.CompletionMessage{Role: role, Content: m.Content})
	}
	return out
}
