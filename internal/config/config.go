package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models uptimeline.yml.
type Config struct {
	Network struct {
		ID string `yaml:"id" json:"id"`
	} `yaml:"network" json:"network"`
	Staking struct {
		MinStake           int64 `yaml:"min_stake" json:"min_stake"`
		MinIntervalSeconds int64 `yaml:"min_interval_seconds" json:"min_interval_seconds"`
	} `yaml:"staking" json:"staking"`
	Consensus struct {
		RequiredValidators int `yaml:"required_validators" json:"required_validators"`
		// SubmissionWindowSeconds of zero uses the domain check interval.
		SubmissionWindowSeconds int64 `yaml:"submission_window_seconds" json:"submission_window_seconds"`
	} `yaml:"consensus" json:"consensus"`
	Rewards struct {
		RewardPerCheck int64 `yaml:"reward_per_check" json:"reward_per_check"`
		CheckCost      int64 `yaml:"check_cost" json:"check_cost"`
	} `yaml:"rewards" json:"rewards"`
	Upkeep struct {
		ScanLimit         int   `yaml:"scan_limit" json:"scan_limit"`
		IntervalSeconds   int64 `yaml:"interval_seconds" json:"interval_seconds"`
		MaxActionsPerTick int   `yaml:"max_actions_per_tick" json:"max_actions_per_tick"`
	} `yaml:"upkeep" json:"upkeep"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`
	Relay    struct {
		NATS struct {
			URL     string `yaml:"url" json:"url,omitempty"`
			Subject string `yaml:"subject" json:"subject,omitempty"`
		} `yaml:"nats" json:"nats"`
	} `yaml:"relay" json:"relay"`
}

// WebhookConfig is an event sink reached over HTTP POST.
type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	Secret         string   `yaml:"secret" json:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with ul config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Network.ID) == "" {
		return fmt.Errorf("config.network.id is required")
	}
	if c.Staking.MinStake < 0 {
		return fmt.Errorf("config.staking.min_stake must not be negative")
	}
	if c.Staking.MinIntervalSeconds <= 0 {
		return fmt.Errorf("config.staking.min_interval_seconds must be positive")
	}
	if c.Consensus.RequiredValidators < 1 {
		return fmt.Errorf("config.consensus.required_validators must be at least 1")
	}
	if c.Consensus.SubmissionWindowSeconds < 0 {
		return fmt.Errorf("config.consensus.submission_window_seconds must not be negative")
	}
	if c.Rewards.RewardPerCheck < 0 || c.Rewards.CheckCost < 0 {
		return fmt.Errorf("config.rewards amounts must not be negative")
	}
	if c.Upkeep.ScanLimit < 1 {
		return fmt.Errorf("config.upkeep.scan_limit must be at least 1")
	}
	if c.Upkeep.IntervalSeconds <= 0 {
		return fmt.Errorf("config.upkeep.interval_seconds must be positive")
	}
	if c.Upkeep.MaxActionsPerTick < 1 {
		return fmt.Errorf("config.upkeep.max_actions_per_tick must be at least 1")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	if c.Relay.NATS.URL != "" && strings.TrimSpace(c.Relay.NATS.Subject) == "" {
		return fmt.Errorf("config.relay.nats.subject is required when url is set")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "uptimeline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(networkID string) string {
	return fmt.Sprintf(defaultTemplate, networkID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a network.
func Default(networkID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(networkID))).Decode(&cfg)
	cfg.Network.ID = networkID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
// Sections missing from the document keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default("default")
	cfg.Network.ID = ""
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// SubmissionWindow returns the cycle window for a domain checked every interval seconds.
func (c *Config) SubmissionWindow(interval int64) int64 {
	if c.Consensus.SubmissionWindowSeconds > 0 {
		return c.Consensus.SubmissionWindowSeconds
	}
	return interval
}

const defaultTemplate = `network:
  id: %s

staking:
  min_stake: 100
  min_interval_seconds: 30

consensus:
  required_validators: 1
  # 0 uses the domain check interval
  submission_window_seconds: 0

rewards:
  reward_per_check: 10
  check_cost: 10

upkeep:
  scan_limit: 50
  interval_seconds: 120
  max_actions_per_tick: 10

webhooks: []

relay:
  nats:
    url: ""
    subject: uptimeline.events
`
