// Package config loads the failsafe configuration file. Defaults are
// deterministic; a loaded file overrides them field by field. The
// sha256 of the raw file is recorded in audit entries so every decision
// is traceable to the exact configuration that produced it.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opsline/failsafe/internal/actor"
	"github.com/opsline/failsafe/internal/alert"
	"github.com/opsline/failsafe/internal/scope"
)

// TokenConfig configures EmergencyToken minting and verification.
type TokenConfig struct {
	Secret  string        `yaml:"secret"`
	TTL     time.Duration `yaml:"ttl"`
	Issuers []string      `yaml:"issuers"` // allowlist of trusted automated subsystems
}

// CheckConfig defines one health check probe.
type CheckConfig struct {
	Name    string        `yaml:"name"`
	URL     string        `yaml:"url"` // HTTP probe target
	Timeout time.Duration `yaml:"timeout"`
}

// EscalationConfig maps a failing check to the switch it auto-activates.
type EscalationConfig struct {
	Check string `yaml:"check"`
	Level int    `yaml:"level"`
	Scope string `yaml:"scope"` // canonical kind:value encoding
}

// HealthConfig configures the health monitor.
type HealthConfig struct {
	Interval    time.Duration      `yaml:"interval"`
	Cooldown    time.Duration      `yaml:"cooldown"`
	DegradedMin int                `yaml:"degraded_min"` // failing checks for Degraded
	CriticalMin int                `yaml:"critical_min"` // failing checks for Critical
	Checks      []CheckConfig      `yaml:"checks"`
	Escalations []EscalationConfig `yaml:"escalations"`
}

// AdapterConfig declares a webhook adapter binding a collaborator.
type AdapterConfig struct {
	Name     string            `yaml:"name"`
	StopURL  string            `yaml:"stop_url"`
	StartURL string            `yaml:"start_url"`
	Headers  map[string]string `yaml:"headers"`
}

// AnomalyConfig configures the repeated-denial detector.
type AnomalyConfig struct {
	Window    time.Duration `yaml:"window"`
	Threshold int           `yaml:"threshold"`
}

// Config holds all configurable parameters.
type Config struct {
	Listen    string        `yaml:"listen"`
	DataDir   string        `yaml:"data_dir"`
	StatePath string        `yaml:"state_path"` // defaults to <data_dir>/state.jsonl
	AuditPath string        `yaml:"audit_path"` // defaults to <data_dir>/audit.jsonl
	Budget    time.Duration `yaml:"budget"`     // overall activate/deactivate budget

	Roles    map[int][]string      `yaml:"roles"` // level -> role names
	Token    TokenConfig           `yaml:"token"`
	Health   HealthConfig          `yaml:"health"`
	Alerts   []alert.ChannelConfig `yaml:"alerts"`
	Adapters []AdapterConfig       `yaml:"adapters"`
	Bindings map[int][]string      `yaml:"bindings"` // level -> ordered adapter names
	Anomaly  AnomalyConfig         `yaml:"anomaly"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:  ":8787",
		DataDir: defaultDataDir(),
		Budget:  30 * time.Second,
		Token: TokenConfig{
			TTL:     2 * time.Minute,
			Issuers: []string{"health-monitor"},
		},
		Health: HealthConfig{
			Interval:    30 * time.Second,
			Cooldown:    5 * time.Minute,
			DegradedMin: 1,
			CriticalMin: 3,
		},
		Anomaly: AnomalyConfig{
			Window:    10 * time.Minute,
			Threshold: 5,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "failsafe")
	}
	return filepath.Join(home, ".failsafe")
}

// Load reads the config file at path, merged over Default. An empty
// path returns defaults. The second return is the sha256 config hash.
func Load(path string) (*Config, string, error) {
	cfg := Default()
	if path == "" {
		return cfg, hashOf(nil), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, "", fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, hashOf(data), nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	for lvl := range c.Roles {
		if !scope.Level(lvl).Valid() {
			return fmt.Errorf("config: roles: level %d out of range", lvl)
		}
	}
	for lvl := range c.Bindings {
		if !scope.Level(lvl).Valid() {
			return fmt.Errorf("config: bindings: level %d out of range", lvl)
		}
	}
	for _, e := range c.Health.Escalations {
		if !scope.Level(e.Level).Valid() {
			return fmt.Errorf("config: escalation for check %q: level %d out of range", e.Check, e.Level)
		}
		ref, err := scope.Parse(e.Scope)
		if err != nil {
			return fmt.Errorf("config: escalation for check %q: %w", e.Check, err)
		}
		if !scope.LegalForLevel(scope.Level(e.Level), ref) {
			return fmt.Errorf("config: escalation for check %q: scope %s illegal for level %d", e.Check, e.Scope, e.Level)
		}
	}
	if c.Health.CriticalMin <= c.Health.DegradedMin {
		if c.Health.CriticalMin != 0 || c.Health.DegradedMin != 0 {
			return fmt.Errorf("config: health.critical_min must exceed health.degraded_min")
		}
	}
	return nil
}

// RoleTable converts the configured role names into the authz table.
// Returns nil when no roles are configured, selecting the defaults.
func (c *Config) RoleTable() map[scope.Level][]actor.Role {
	if len(c.Roles) == 0 {
		return nil
	}
	table := make(map[scope.Level][]actor.Role, len(c.Roles))
	for lvl, names := range c.Roles {
		table[scope.Level(lvl)] = actor.ParseRoles(names)
	}
	return table
}

// StateFile returns the WAL path, applying the DataDir default.
func (c *Config) StateFile() string {
	if c.StatePath != "" {
		return c.StatePath
	}
	return filepath.Join(c.DataDir, "state.jsonl")
}

// AuditFile returns the audit log path, applying the DataDir default.
func (c *Config) AuditFile() string {
	if c.AuditPath != "" {
		return c.AuditPath
	}
	return filepath.Join(c.DataDir, "audit.jsonl")
}

func hashOf(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}
