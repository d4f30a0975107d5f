package llm

import "github.com/deskpilot/orchestrator/pkg/orch"

// RoleConfig pins a catalogue role to a concrete provider/model pair and
// tool budget, so a driver can say "give me the Orchestrator" without
// knowing which backend answers for it.
type RoleConfig struct {
	Role        orch.Role
	Provider    string
	Model       string
	MaxTokens   int
	ToolsAllowed []string
}

// Catalogue maps every orch.Role this system uses to its RoleConfig. A
// driver looks up its speakers by role rather than hardcoding model names,
// so swapping providers is a catalogue edit, not a code change.
type Catalogue struct {
	roles map[orch.Role]RoleConfig
}

// NewCatalogue builds a Catalogue from the given configs, keyed by Role.
func NewCatalogue(configs ...RoleConfig) *Catalogue {
	c := &Catalogue{roles: make(map[orch.Role]RoleConfig, len(configs))}
	for _, cfg := range configs {
		c.roles[cfg.Role] = cfg
	}
	return c
}

// For returns the RoleConfig for role and whether one was registered.
func (c *Catalogue) For(role orch.Role) (RoleConfig, bool) {
	cfg, ok := c.roles[role]
	return cfg, ok
}

// DefaultCatalogue returns the catalogue this system ships with: the Head
// and Orchestrator roles on a strong reasoning model, Panelists and Workers
// on a cheaper fast model, and the Moderator on the same strong model as
// the Head since convergence judgement quality matters more than latency.
func DefaultCatalogue() *Catalogue {
	return NewCatalogue(
		RoleConfig{Role: orch.RoleHead, Provider: "anthropic", Model: "claude-opus-4-20250514", MaxTokens: 4096},
		RoleConfig{Role: orch.RoleOrchestrator, Provider: "anthropic", Model: "claude-sonnet-4-20250514", MaxTokens: 4096},
		RoleConfig{Role: orch.RoleManager, Provider: "anthropic", Model: "claude-sonnet-4-20250514", MaxTokens: 2048},
		RoleConfig{Role: orch.RoleWorker, Provider: "anthropic", Model: "claude-haiku-4-20250514", MaxTokens: 4096, ToolsAllowed: []string{"read_file", "run_shell"}},
		RoleConfig{Role: orch.RoleAssistant, Provider: "anthropic", Model: "claude-haiku-4-20250514", MaxTokens: 2048},
		RoleConfig{Role: orch.RolePanelist, Provider: "anthropic", Model: "claude-haiku-4-20250514", MaxTokens: 2048},
		RoleConfig{Role: orch.RoleModerator, Provider: "anthropic", Model: "claude-opus-4-20250514", MaxTokens: 1024},
	)
}
