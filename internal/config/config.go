// Package config loads and validates warren.yml, the per-project team
// configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dyluth/warren/pkg/board"
)

// DefaultFileName is the expected configuration file name.
const DefaultFileName = "warren.yml"

// Store backends.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// WarrenConfig represents the top-level warren.yml configuration.
type WarrenConfig struct {
	Version string           `yaml:"version"`
	Team    string           `yaml:"team"`
	Lead    string           `yaml:"lead"`
	DataDir string           `yaml:"data_dir,omitempty"` // Default: .warren
	Store   *StoreConfig     `yaml:"store,omitempty"`
	Monitor *MonitorConfig   `yaml:"monitor,omitempty"`
	Agents  map[string]Agent `yaml:"agents"`
}

// StoreConfig selects and configures the coordination store backend.
type StoreConfig struct {
	Backend   string `yaml:"backend,omitempty"`   // "file" (default) or "redis"
	RedisAddr string `yaml:"redis_addr,omitempty"` // Required for the redis backend
}

// MonitorConfig tunes the health monitor. Empty values take the defaults.
type MonitorConfig struct {
	PollInterval string         `yaml:"poll_interval,omitempty"` // Duration string, default "60s"
	ProbeWindow  string         `yaml:"probe_window,omitempty"`  // Duration string, default "30s"
	ClaimExpiry  map[string]int `yaml:"claim_expiry,omitempty"`  // Per-tier override, seconds

	pollInterval time.Duration // parsed by Validate
	probeWindow  time.Duration // parsed by Validate
}

// PollDuration returns the parsed poll interval. Valid after Validate.
func (m *MonitorConfig) PollDuration() time.Duration { return m.pollInterval }

// ProbeDuration returns the parsed probe window. Valid after Validate.
func (m *MonitorConfig) ProbeDuration() time.Duration { return m.probeWindow }

// ClaimExpiryOverrides returns the per-tier claim expiry overrides keyed by
// risk tier. Nil when no overrides are configured.
func (m *MonitorConfig) ClaimExpiryOverrides() map[board.RiskTier]int {
	if len(m.ClaimExpiry) == 0 {
		return nil
	}
	out := make(map[board.RiskTier]int, len(m.ClaimExpiry))
	for name, seconds := range m.ClaimExpiry {
		tier, err := board.ParseRiskTier(name)
		if err != nil {
			continue // Validate already rejected unknown tiers
		}
		out[tier] = seconds
	}
	return out
}

// Agent represents a single agent definition.
type Agent struct {
	Role        string   `yaml:"role"`
	Image       string   `yaml:"image,omitempty"` // Docker image; empty for out-of-band agents
	Command     []string `yaml:"command,omitempty"`
	Environment []string `yaml:"environment,omitempty"`
}

// Validate performs strict validation and fills in defaults.
func (c *WarrenConfig) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}
	if !board.ValidName(c.Team) {
		return fmt.Errorf("invalid team name: %q", c.Team)
	}
	if c.Lead == "" {
		return fmt.Errorf("lead is required")
	}
	if len(c.Agents) == 0 {
		return fmt.Errorf("no agents defined")
	}
	if _, ok := c.Agents[c.Lead]; !ok {
		return fmt.Errorf("lead '%s' is not a defined agent", c.Lead)
	}

	for name, agent := range c.Agents {
		if err := agent.Validate(name); err != nil {
			return err
		}
	}

	if c.DataDir == "" {
		c.DataDir = ".warren"
	}

	if c.Store == nil {
		c.Store = &StoreConfig{Backend: BackendFile}
	}
	if c.Store.Backend == "" {
		c.Store.Backend = BackendFile
	}
	switch c.Store.Backend {
	case BackendFile:
		// file backend needs nothing beyond data_dir
	case BackendRedis:
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("store.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid store backend: %s (must be '%s' or '%s')", c.Store.Backend, BackendFile, BackendRedis)
	}

	if c.Monitor == nil {
		c.Monitor = &MonitorConfig{}
	}
	var err error
	c.Monitor.pollInterval, err = parseDuration(c.Monitor.PollInterval, "monitor.poll_interval", 60*time.Second)
	if err != nil {
		return err
	}
	c.Monitor.probeWindow, err = parseDuration(c.Monitor.ProbeWindow, "monitor.probe_window", 30*time.Second)
	if err != nil {
		return err
	}
	for tier, seconds := range c.Monitor.ClaimExpiry {
		if _, err := board.ParseRiskTier(tier); err != nil || tier == "" {
			return fmt.Errorf("monitor.claim_expiry: unknown tier '%s'", tier)
		}
		if seconds <= 0 {
			return fmt.Errorf("monitor.claim_expiry.%s must be positive, got %d", tier, seconds)
		}
	}

	return nil
}

// parseDuration parses a duration string, applying fallback for empty input.
func parseDuration(value, field string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration '%s'", field, value)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", field, d)
	}
	return d, nil
}

// Validate checks a single agent definition.
func (a *Agent) Validate(name string) error {
	if !board.ValidName(name) {
		return fmt.Errorf("invalid agent name: %q", name)
	}
	if a.Role == "" {
		return fmt.Errorf("agent '%s': role is required", name)
	}
	if err := board.Role(a.Role).Validate(); err != nil {
		return fmt.Errorf("agent '%s': invalid role: %s (must be one of implementer, researcher, tester, reviewer, architect)", name, a.Role)
	}
	if len(a.Command) > 0 && a.Image == "" {
		return fmt.Errorf("agent '%s': command requires an image", name)
	}
	return nil
}

// Load reads and validates warren.yml from the specified path.
func Load(path string) (*WarrenConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config WarrenConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
