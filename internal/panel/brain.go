package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/deskpilot/orchestrator/internal/llm"
	"github.com/deskpilot/orchestrator/pkg/orch"
)

// LLMBrain implements Brain over internal/llm's Provider/Catalogue/Registry,
// grounded on internal/team's LLMBrain for the
// resolve-role/build-request/collect-response shape, adapted to Panel's
// four distinct speaking roles (Moderator routes, Panelists argue, Head
// synthesises and briefs). Unlike team.LLMBrain and office.LLMBrain, this
// brain does not itself own the running CostEstimate: Engine.recordTurn
// already tracks per-turn state inline for guard-rail enforcement, and
// Speak already returns per-call token counts, so the engine is the
// natural single point that turns (provider, model, tokens) into cost.
type LLMBrain struct {
	catalogue *llm.Catalogue
	registry  *llm.Registry
}

// NewLLMBrain creates an LLMBrain.
func NewLLMBrain(catalogue *llm.Catalogue, registry *llm.Registry) *LLMBrain {
	return &LLMBrain{catalogue: catalogue, registry: registry}
}

func (b *LLMBrain) resolve(role orch.Role) (llm.Provider, llm.RoleConfig, error) {
	cfg, ok := b.catalogue.For(role)
	if !ok {
		return nil, llm.RoleConfig{}, fmt.Errorf("panel: no catalogue entry for role %q", role)
	}
	p, err := b.registry.Resolve(cfg)
	if err != nil {
		return nil, llm.RoleConfig{}, err
	}
	return p, cfg, nil
}

// clarifyJSON is the wire shape the moderator model returns when asked
// whether the discussion question is clear enough to open.
type clarifyJSON struct {
	Questions []string `json:"questions,omitempty"`
	Ready     bool     `json:"ready"`
}

func (b *LLMBrain) Clarify(ctx context.Context, history []orch.Message) ([]string, bool, error) {
	provider, cfg, err := b.resolve(orch.RoleModerator)
	if err != nil {
		return nil, false, err
	}

	req := &llm.CompletionRequest{
		Model:     cfg.Model,
		Role:      orch.RoleModerator,
		MaxTokens: cfg.MaxTokens,
		System: "Evaluate whether the question below is clear enough to open a " +
			"panel discussion. Reply as JSON: {\"ready\": bool, \"questions\": [...]}.",
		Messages: toCompletionMessages(history),
	}

	text, _, _, _, err := llm.Collect(ctx, provider, req)
	if err != nil {
		return nil, false, err
	}

	var parsed clarifyJSON
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, false, fmt.Errorf("panel: moderator response was not valid JSON: %w", err)
	}
	return parsed.Questions, parsed.Ready, nil
}

func (b *LLMBrain) Moderate(ctx context.Context, history []orch.Message, turn int) (orch.ModeratorDecision, error) {
	provider, cfg, err := b.resolve(orch.RoleModerator)
	if err != nil {
		return orch.ModeratorDecision{}, err
	}

	req := &llm.CompletionRequest{
		Model:     cfg.Model,
		Role:      orch.RoleModerator,
		MaxTokens: cfg.MaxTokens,
		System: fmt.Sprintf("This is turn %d of a panel discussion. Decide who speaks next, "+
			"whether the discussion has converged, and an optional redirect message. "+
			"Reply as JSON matching: {\"next_speaker\":string,\"convergence_score\":int,"+
			"\"stop_discussion\":bool,\"redirect_message\":string}.", turn),
		Messages: toCompletionMessages(history),
	}

	text, _, _, _, err := llm.Collect(ctx, provider, req)
	if err != nil {
		return orch.ModeratorDecision{}, err
	}

	var decision orch.ModeratorDecision
	if err := json.Unmarshal([]byte(text), &decision); err != nil {
		return orch.ModeratorDecision{}, fmt.Errorf("panel: moderator decision was not valid JSON: %w", err)
	}
	return decision, nil
}

func (b *LLMBrain) Speak(ctx context.Context, persona orch.Persona, history []orch.Message) (string, int, int, error) {
	provider, cfg, err := b.resolve(orch.RolePanelist)
	if err != nil {
		return "", 0, 0, err
	}

	req := &llm.CompletionRequest{
		Model:     cfg.Model,
		Role:      orch.RolePanelist,
		MaxTokens: cfg.MaxTokens,
		System:    fmt.Sprintf("You are the %s panelist. Argue from that perspective, building on or challenging prior turns.", persona),
		Messages:  toCompletionMessages(history),
	}

	text, _, inTok, outTok, err := llm.Collect(ctx, provider, req)
	if err != nil {
		return "", 0, 0, err
	}
	return text, inTok, outTok, nil
}

func (b *LLMBrain) Synthesise(ctx context.Context, history []orch.Message) (orch.SynthesisResult, error) {
	provider, cfg, err := b.resolve(orch.RoleHead)
	if err != nil {
		return orch.SynthesisResult{}, err
	}

	req := &llm.CompletionRequest{
		Model:     cfg.Model,
		Role:      orch.RoleHead,
		MaxTokens: cfg.MaxTokens,
		System: "Synthesise the panel discussion below into a final answer. Reply as JSON " +
			"matching orch.SynthesisResult's fields: consolidated_answer, arguments_by_perspective, " +
			"consensus_points, dissenting_points, recommendations, confidence_score, follow_up_research_areas.",
		Messages: toCompletionMessages(history),
	}

	text, _, _, _, err := llm.Collect(ctx, provider, req)
	if err != nil {
		return orch.SynthesisResult{}, err
	}

	var result orch.SynthesisResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return orch.SynthesisResult{}, fmt.Errorf("panel: head synthesis was not valid JSON: %w", err)
	}
	return result, nil
}

func (b *LLMBrain) Brief(ctx context.Context, synthesis orch.SynthesisResult) (orch.KnowledgeBrief, error) {
	provider, cfg, err := b.resolve(orch.RoleHead)
	if err != nil {
		return orch.KnowledgeBrief{}, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Consolidated answer: %s\n", synthesis.ConsolidatedAnswer)
	for _, p := range synthesis.ConsensusPoints {
		fmt.Fprintf(&sb, "- consensus: %s\n", p)
	}
	for _, p := range synthesis.DissentingPoints {
		fmt.Fprintf(&sb, "- dissent: %s\n", p)
	}

	req := &llm.CompletionRequest{
		Model:     cfg.Model,
		Role:      orch.RoleHead,
		MaxTokens: cfg.MaxTokens,
		System:    "Write a short knowledge-base summary of this synthesis, suitable for answering follow-up questions without the full transcript.",
		Messages:  []llm.CompletionMessage{{Role: "user", Content: sb.String()}},
	}

	text, _, _, _, err := llm.Collect(ctx, provider, req)
	if err != nil {
		return orch.KnowledgeBrief{}, err
	}
	return orch.KnowledgeBrief{Summary: text}, nil
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
