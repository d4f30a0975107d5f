package office

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/deskpilot/orchestrator/internal/llm"
	"github.com/deskpilot/orchestrator/pkg/orch"
)

// LLMBrain implements Brain over internal/llm's Provider/Catalogue/Registry,
// grounded on internal/team's LLMBrain for the resolve-then-collect shape
// and its Cost accumulation, generalized to the Manager/Assistant role pair
// instead of Orchestrator/Worker.
type LLMBrain struct {
	catalogue *llm.Catalogue
	registry  *llm.Registry
	pricing   orch.PricingTable

	mu   sync.Mutex
	cost orch.CostEstimate
}

// NewLLMBrain creates an LLMBrain. pricing may be nil.
func NewLLMBrain(catalogue *llm.Catalogue, registry *llm.Registry, pricing orch.PricingTable) *LLMBrain {
	return &LLMBrain{catalogue: catalogue, registry: registry, pricing: pricing}
}

// Cost returns a snapshot of the running cost estimate.
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
		return nil, llm.RoleConfig{}, fmt.Errorf("office: no catalogue entry for role %q", role)
	}
	p, err := b.registry.Resolve(cfg)
	if err != nil {
		return nil, llm.RoleConfig{}, err
	}
	return p, cfg, nil
}

type clarifyReadyJSON struct {
	Questions []string `json:"questions,omitempty"`
	Ready     bool     `json:"ready"`
}

func (b *LLMBrain) Clarify(ctx context.Context, history []orch.Message) ([]string, bool, error) {
	provider, cfg, err := b.resolve(orch.RoleManager)
	if err != nil {
		return nil, false, err
	}

	req := &llm.CompletionRequest{
		Model:     cfg.Model,
		Role:      orch.RoleManager,
		MaxTokens: cfg.MaxTokens,
		System: "Evaluate whether the objective is clear enough to begin iterating. " +
			"Return {\"ready\": true} once clear, or {\"questions\": [...]} otherwise.",
		Messages: toCompletionMessages(history),
	}

	text, _, inTok, outTok, err := llm.Collect(ctx, provider, req)
	if err != nil {
		return nil, false, err
	}
	b.recordCost(provider.Name(), cfg.Model, inTok, outTok)

	var parsed clarifyReadyJSON
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, false, fmt.Errorf("office: manager response was not valid JSON: %w", err)
	}
	return parsed.Questions, parsed.Ready, nil
}

type taskListJSON struct {
	Tasks []struct {
		Instruction string `json:"instruction"`
		Priority    int    `json:"priority"`
	} `json:"tasks"`
}

func (b *LLMBrain) Fetch(ctx context.Context, mgr *orch.ManagerContext, injected []string) ([]orch.AssistantTask, error) {
	provider, cfg, err := b.resolve(orch.RoleManager)
	if err != nil {
		return nil, err
	}

	system := "Produce a prioritised JSON task list for this iteration: " +
		"{\"tasks\": [{\"instruction\": str, \"priority\": int}]}. An empty list is valid."
	if len(injected) > 0 {
		system += "\n\nUser-injected instructions to fold in:\n- " + strings.Join(injected, "\n- ")
	}

	req := &llm.CompletionRequest{
		Model:     cfg.Model,
		Role:      orch.RoleManager,
		MaxTokens: cfg.MaxTokens,
		System:    system,
		Messages:  []llm.CompletionMessage{{Role: "user", Content: mgr.Config.Objective}},
	}

	text, _, inTok, outTok, err := llm.Collect(ctx, provider, req)
	if err != nil {
		return nil, err
	}
	b.recordCost(provider.Name(), cfg.Model, inTok, outTok)

	var parsed taskListJSON
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, fmt.Errorf("office: manager task list was not valid JSON: %w", err)
	}

	tasks := make([]orch.AssistantTask, 0, len(parsed.Tasks))
	for _, t := range parsed.Tasks {
		tasks = append(tasks, orch.AssistantTask{
			Instruction: t.Instruction,
			Priority:    t.Priority,
			Status:      orch.TaskQueued,
		})
	}
	return tasks, nil
}

func (b *LLMBrain) RunAssistant(ctx context.Context, task orch.AssistantTask) (string, error) {
	provider, cfg, err := b.resolve(orch.RoleAssistant)
	if err != nil {
		return "", err
	}

	req := &llm.CompletionRequest{
		Model:     cfg.Model,
		Role:      orch.RoleAssistant,
		MaxTokens: cfg.MaxTokens,
		System:    "You are an ephemeral assistant. Complete the task and report your result.",
		Messages:  []llm.CompletionMessage{{Role: "user", Content: task.Instruction}},
	}

	text, _, inTok, outTok, err := llm.Collect(ctx, provider, req)
	if err != nil {
		return "", err
	}
	b.recordCost(provider.Name(), cfg.Model, inTok, outTok)
	return text, nil
}

func (b *LLMBrain) Aggregate(ctx context.Context, mgr *orch.ManagerContext, tasks []orch.AssistantTask) (orch.IterationReport, error) {
	provider, cfg, err := b.resolve(orch.RoleManager)
	if err != nil {
		return orch.IterationReport{}, err
	}

	byStatus := make(map[orch.AssistantTaskStatus]int)
	var sb strings.Builder
	for _, t := range tasks {
		byStatus[t.Status]++
		fmt.Fprintf(&sb, "## %s (%s)\n%s\n\n", t.Instruction, t.Status, t.Decision)
	}

	req := &llm.CompletionRequest{
		Model:     cfg.Model,
		Role:      orch.RoleManager,
		MaxTokens: cfg.MaxTokens,
		System:    "Summarise this iteration's assistant results as markdown commentary.",
		Messages:  []llm.CompletionMessage{{Role: "user", Content: sb.String()}},
	}

	markdown, _, inTok, outTok, err := llm.Collect(ctx, provider, req)
	if err != nil {
		return orch.IterationReport{}, err
	}
	b.recordCost(provider.Name(), cfg.Model, inTok, outTok)

	return orch.IterationReport{
		TaskCountByStatus: byStatus,
		Markdown:          markdown,
	}, nil
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
