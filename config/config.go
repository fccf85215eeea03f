// Package config defines and validates the YAML-loadable configuration
// for agents and the agency that coordinates them, following the
// teacher's config/types.go convention of a Validate/SetDefaults pair
// per struct.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AgentConfig is one agent's model and retry policy (spec §3).
type AgentConfig struct {
	Model            string  `yaml:"model" mapstructure:"model"`
	Provider         string  `yaml:"provider" mapstructure:"provider"`
	MaxTokens        int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature      float64 `yaml:"temperature" mapstructure:"temperature"`
	TopP             float64 `yaml:"top_p" mapstructure:"top_p"`
	FrequencyPenalty float64 `yaml:"frequency_penalty" mapstructure:"frequency_penalty"`
	PresencePenalty  float64 `yaml:"presence_penalty" mapstructure:"presence_penalty"`
	MaxRetries       int     `yaml:"max_retries" mapstructure:"max_retries"`
	RetryDelay       float64 `yaml:"retry_delay" mapstructure:"retry_delay"`
	// MaxTurns is the per-call provider-call budget for process_with_tools.
	// SetDefaults resolves an absent value (max_turns missing from the YAML
	// and left zero) to 1000 and an explicit max_turns: 0 to 30; presence
	// is tracked via maxTurnsSet.
	MaxTurns    int `yaml:"max_turns" mapstructure:"max_turns"`
	maxTurnsSet bool
}

var validProviders = map[string]bool{
	"openai": true, "anthropic": true, "ollama": true,
	"groq": true, "google": true, "mistral": true,
}

// UnmarshalYAML tracks whether max_turns was present in the source
// document, since its zero-value default differs from its absent-value
// default (spec §3).
func (c *AgentConfig) UnmarshalYAML(unmarshal func(any) error) error {
	type plain AgentConfig
	var raw struct {
		plain     `yaml:",inline"`
		MaxTurns  *int `yaml:"max_turns"`
	}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	*c = AgentConfig(raw.plain)
	if raw.MaxTurns != nil {
		c.MaxTurns = *raw.MaxTurns
		c.maxTurnsSet = true
	}
	return nil
}

// SetDefaults fills zero-valued optional fields with spec-documented
// defaults. Call before Validate.
func (c *AgentConfig) SetDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 1.0
	}
	if !c.maxTurnsSet {
		if c.MaxTurns == 0 {
			c.MaxTurns = 1000
		}
	} else if c.MaxTurns == 0 {
		c.MaxTurns = 30
	}
}

// Validate enforces spec §3's AgentConfig ranges.
func (c *AgentConfig) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("config: model is required")
	}
	if !validProviders[c.Provider] {
		return fmt.Errorf("config: provider %q is not one of openai|anthropic|ollama|groq|google|mistral", c.Provider)
	}
	if c.MaxTokens < 100 || c.MaxTokens > 32000 {
		return fmt.Errorf("config: max_tokens %d out of range [100,32000]", c.MaxTokens)
	}
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("config: temperature %v out of range [0.0,2.0]", c.Temperature)
	}
	if c.TopP < 0.0 || c.TopP > 1.0 {
		return fmt.Errorf("config: top_p %v out of range [0.0,1.0]", c.TopP)
	}
	if c.FrequencyPenalty < -2.0 || c.FrequencyPenalty > 2.0 {
		return fmt.Errorf("config: frequency_penalty %v out of range [-2.0,2.0]", c.FrequencyPenalty)
	}
	if c.PresencePenalty < -2.0 || c.PresencePenalty > 2.0 {
		return fmt.Errorf("config: presence_penalty %v out of range [-2.0,2.0]", c.PresencePenalty)
	}
	if c.MaxRetries < 1 || c.MaxRetries > 10 {
		return fmt.Errorf("config: max_retries %d out of range [1,10]", c.MaxRetries)
	}
	if c.RetryDelay < 0.1 || c.RetryDelay > 10.0 {
		return fmt.Errorf("config: retry_delay %v out of range [0.1,10.0]", c.RetryDelay)
	}
	if c.MaxTurns < 1 || c.MaxTurns > 10000 {
		return fmt.Errorf("config: max_turns %d out of range [1,10000]", c.MaxTurns)
	}
	return nil
}

// AgentSpec names one participant and its prompt/config within an
// AgencyConfig document.
type AgentSpec struct {
	Name         string      `yaml:"name" mapstructure:"name"`
	Role         string      `yaml:"role" mapstructure:"role"`
	SystemPrompt string      `yaml:"system_prompt" mapstructure:"system_prompt"`
	Config       AgentConfig `yaml:"config" mapstructure:"config"`
}

// Flow is one directed handoff edge, source agent name to target agent
// name (spec §3, `flows: mapping source_name -> set(target_name)`).
type Flow struct {
	Source string `yaml:"source" mapstructure:"source"`
	Target string `yaml:"target" mapstructure:"target"`
}

// AgencyConfig is the top-level document the Agency constructor accepts
// (spec §6 "Configuration the Agency accepts").
type AgencyConfig struct {
	Name                   string      `yaml:"name" mapstructure:"name"`
	EntryAgent             string      `yaml:"entry_agent" mapstructure:"entry_agent"`
	Agents                 []AgentSpec `yaml:"agents" mapstructure:"agents"`
	CommunicationFlows     []Flow      `yaml:"communication_flows" mapstructure:"communication_flows"`
	SharedInstructionsPath string      `yaml:"shared_instructions,omitempty" mapstructure:"shared_instructions"`
	MaxHandoffs            int         `yaml:"max_handoffs" mapstructure:"max_handoffs"`
	// MaxTurns here is the provider-call budget the Agency passes to every
	// agent turn, overriding each AgentConfig.MaxTurns. The agent-switch
	// loop itself is bounded by MaxHandoffs.
	MaxTurns              int     `yaml:"max_turns" mapstructure:"max_turns"`
	UseThreadPool         bool    `yaml:"use_thread_pool" mapstructure:"use_thread_pool"`
	ThreadResponseTimeout float64 `yaml:"thread_response_timeout" mapstructure:"thread_response_timeout"`

	maxTurnsSet bool
}

func (c *AgencyConfig) UnmarshalYAML(unmarshal func(any) error) error {
	type plain AgencyConfig
	var raw struct {
		plain    `yaml:",inline"`
		MaxTurns *int `yaml:"max_turns"`
	}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	*c = AgencyConfig(raw.plain)
	if raw.MaxTurns != nil {
		c.MaxTurns = *raw.MaxTurns
		c.maxTurnsSet = true
	}
	return nil
}

// SetDefaults fills Agency-level defaults (spec §6): max_handoffs=10,
// max_turns: default 100, absent (null) -> 1000; thread_response_timeout
// defaults to 600s.
func (c *AgencyConfig) SetDefaults() {
	if c.MaxHandoffs == 0 {
		c.MaxHandoffs = 10
	}
	if !c.maxTurnsSet {
		if c.MaxTurns == 0 {
			c.MaxTurns = 1000
		}
	} else if c.MaxTurns == 0 {
		c.MaxTurns = 100
	}
	if c.ThreadResponseTimeout == 0 {
		c.ThreadResponseTimeout = 600
	}
	for i := range c.Agents {
		c.Agents[i].Config.SetDefaults()
	}
}

// Validate enforces the Agency-level invariants that are checkable from
// the config document alone: entry_agent is one of agents, every flow
// edge names known agents, and names are unique (spec §3 invariants i,
// ii; full graph/agent-object invariants are re-checked by agency.New).
func (c *AgencyConfig) Validate() error {
	if c.EntryAgent == "" {
		return fmt.Errorf("config: entry_agent is required")
	}
	if len(c.Agents) == 0 {
		return fmt.Errorf("config: at least one agent is required")
	}

	names := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if a.Name == "" {
			return fmt.Errorf("config: agent name is required")
		}
		if names[a.Name] {
			return fmt.Errorf("config: duplicate agent name %q", a.Name)
		}
		names[a.Name] = true
		if err := a.Config.Validate(); err != nil {
			return fmt.Errorf("config: agent %q: %w", a.Name, err)
		}
	}
	if !names[c.EntryAgent] {
		return fmt.Errorf("config: entry_agent %q is not among agents", c.EntryAgent)
	}
	for _, f := range c.CommunicationFlows {
		if !names[f.Source] {
			return fmt.Errorf("config: communication_flows source %q is not among agents", f.Source)
		}
		if !names[f.Target] {
			return fmt.Errorf("config: communication_flows target %q is not among agents", f.Target)
		}
	}
	if c.MaxHandoffs < 1 {
		return fmt.Errorf("config: max_handoffs must be positive, got %d", c.MaxHandoffs)
	}
	if c.MaxTurns < 1 {
		return fmt.Errorf("config: max_turns must be positive, got %d", c.MaxTurns)
	}
	if c.ThreadResponseTimeout <= 0 {
		return fmt.Errorf("config: thread_response_timeout must be positive, got %v", c.ThreadResponseTimeout)
	}
	return nil
}

// LoadAgencyConfig reads a YAML document from path, applies defaults,
// and validates it.
func LoadAgencyConfig(path string) (*AgencyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg AgencyConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	// shared_instructions is loaded at Agency construction time (spec
	// §4.7 "Construction... loads shared instructions"), not here.
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
