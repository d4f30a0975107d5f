// Package settings loads cmd/orchestratorctl's on-disk YAML configuration.
// Grounded on the reference implementation's internal/config/loader.go for the
// read-file/expand-env/unmarshal shape, trimmed of its $include directive
// and JSON5 fallback, which this system's single-file configuration has no
// use for.
package settings

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/deskpilot/orchestrator/internal/llm"
	"github.com/deskpilot/orchestrator/internal/llm/anthropic"
	"github.com/deskpilot/orchestrator/internal/llm/bedrock"
	"github.com/deskpilot/orchestrator/internal/llm/openai"
	"github.com/deskpilot/orchestrator/pkg/orch"
)

// ProviderConfig configures one LLM backend. APIKey fields left empty fall
// back to the provider's usual environment variable.
type ProviderConfig struct {
	AnthropicAPIKey  string `yaml:"anthropic_api_key"`
	AnthropicBaseURL string `yaml:"anthropic_base_url"`
	OpenAIAPIKey     string `yaml:"openai_api_key"`
	BedrockRegion    string `yaml:"bedrock_region"`
}

// TelemetryConfig configures the OTLP exporter and Prometheus listener.
type TelemetryConfig struct {
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	ServiceName    string `yaml:"service_name"`
	MetricsListen  string `yaml:"metrics_listen"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

// Config is cmd/orchestratorctl's top-level configuration.
type Config struct {
	Providers ProviderConfig    `yaml:"providers"`
	Telemetry TelemetryConfig   `yaml:"telemetry"`
	Pricing   orch.PricingTable `yaml:"pricing"`
	Team      orch.TeamConfig   `yaml:"team"`
	Office    orch.OfficeConfig `yaml:"office"`
	Panel     orch.PanelConfig  `yaml:"panel"`
}

// Default returns the spec-mandated defaults for every driver, with an
// empty provider/telemetry section for the caller to fill in from flags or
// environment variables.
func Default() Config {
	return Config{
		Telemetry: TelemetryConfig{
			ServiceName:   "orchestratorctl",
			MetricsListen: ":9090",
			PollInterval:  5 * time.Second,
		},
		Team:   orch.DefaultTeamConfig(),
		Office: orch.DefaultOfficeConfig(),
		Panel: orch.PanelConfig{
			MaxTurns:           orch.DefaultGuardRails().MaxTurnsPerDiscussion,
			MaxTotalTokens:     orch.DefaultGuardRails().MaxTotalTokens,
			MaxDurationMinutes: int(orch.DefaultGuardRails().MaxDiscussionDuration.Minutes()),
			Depth:              orch.DepthStandard,
			PanelistPreset:     orch.PresetQuick,
		},
	}
}

// Load reads path, expands ${VAR}/$VAR references against the process
// environment, and unmarshals it over Default()'s values, so a config file
// only needs to name what it overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("settings: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, fmt.Errorf("settings: parse %s: %w", path, err)
	}
	return cfg, nil
}

// BuildRegistry constructs an llm.Registry from every provider cfg.Providers
// has credentials for, falling back to each backend's usual environment
// variable when the config field is empty. A provider with no credentials
// anywhere is silently skipped rather than treated as an error, since a
// deployment may only ever use one backend.
func BuildRegistry(ctx context.Context, cfg ProviderConfig) (*llm.Registry, error) {
	var providers []llm.Provider

	anthropicKey := firstNonEmpty(cfg.AnthropicAPIKey, os.Getenv("ANTHROPIC_API_KEY"))
	if anthropicKey != "" {
		p, err := anthropic.New(anthropic.Config{APIKey: anthropicKey, BaseURL: cfg.AnthropicBaseURL})
		if err != nil {
			return nil, fmt.Errorf("settings: anthropic: %w", err)
		}
		providers = append(providers, p)
	}

	openaiKey := firstNonEmpty(cfg.OpenAIAPIKey, os.Getenv("OPENAI_API_KEY"))
	if openaiKey != "" {
		p, err := openai.New(openaiKey)
		if err != nil {
			return nil, fmt.Errorf("settings: openai: %w", err)
		}
		providers = append(providers, p)
	}

	region := firstNonEmpty(cfg.BedrockRegion, os.Getenv("AWS_REGION"))
	if region != "" || os.Getenv("AWS_ACCESS_KEY_ID") != "" {
		p, err := bedrock.New(ctx, bedrock.Config{Region: region})
		if err != nil {
			return nil, fmt.Errorf("settings: bedrock: %w", err)
		}
		providers = append(providers, p)
	}

	if len(providers) == 0 {
		return nil, fmt.Errorf("settings: no provider credentials configured")
	}
	return llm.NewRegistry(providers...), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
