package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"contribline/internal/domain"
)

// Config models contribline.yml, the per-project settings.
type Config struct {
	Project struct {
		Repo     string `yaml:"repo" json:"repo"`
		Provider string `yaml:"provider" json:"provider"`
	} `yaml:"project" json:"project"`
	Estimation struct {
		MinMinutes     int `yaml:"min_minutes" json:"min_minutes"`
		MaxMinutes     int `yaml:"max_minutes" json:"max_minutes"`
		DefaultMinutes int `yaml:"default_minutes" json:"default_minutes"`
	} `yaml:"estimation" json:"estimation"`
	Assignment struct {
		DeadlineDays int `yaml:"deadline_days" json:"deadline_days"`
		// Capacity is the soft limit of open assigned tasks per contract; 0 means unbounded.
		Capacity int `yaml:"capacity" json:"capacity"`
	} `yaml:"assignment" json:"assignment"`
	Billing struct {
		CommissionBP int64  `yaml:"commission_bp" json:"commission_bp"`
		Currency     string `yaml:"currency" json:"currency"`
	} `yaml:"billing" json:"billing"`
	Roles    []string        `yaml:"roles" json:"roles"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`
}

// WebhookConfig is an outgoing event subscription.
type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	Secret         string   `yaml:"secret" json:"secret,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
}

// Wants reports whether the hook subscribes to evtType. No filter means all events.
func (w WebhookConfig) Wants(evtType string) bool {
	if len(w.Events) == 0 {
		return true
	}
	for _, e := range w.Events {
		if e == "*" || e == evtType {
			return true
		}
	}
	return false
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Project.Repo) == "" {
		return fmt.Errorf("config.project.repo is required")
	}
	if strings.TrimSpace(c.Project.Provider) == "" {
		return fmt.Errorf("config.project.provider is required")
	}
	e := c.Estimation
	if e.MinMinutes < 0 {
		return fmt.Errorf("config.estimation.min_minutes must be >= 0")
	}
	if e.MaxMinutes < e.MinMinutes {
		return fmt.Errorf("config.estimation.max_minutes must be >= min_minutes")
	}
	if e.DefaultMinutes < e.MinMinutes || e.DefaultMinutes > e.MaxMinutes {
		return fmt.Errorf("config.estimation.default_minutes must be within [%d,%d]", e.MinMinutes, e.MaxMinutes)
	}
	if c.Assignment.DeadlineDays <= 0 {
		return fmt.Errorf("config.assignment.deadline_days must be > 0")
	}
	if c.Assignment.Capacity < 0 {
		return fmt.Errorf("config.assignment.capacity must be >= 0")
	}
	if c.Billing.CommissionBP < 0 || c.Billing.CommissionBP > 10_000 {
		return fmt.Errorf("config.billing.commission_bp must be within [0,10000]")
	}
	if len(c.Roles) == 0 {
		return fmt.Errorf("config.roles is required")
	}
	for _, r := range c.Roles {
		if _, ok := domain.ParseRole(r); !ok {
			return fmt.Errorf("config.roles contains unknown role %s", r)
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must be >= 0", i)
		}
	}
	return nil
}

// AllowsRole reports whether role is one of the configured role labels.
func (c *Config) AllowsRole(role string) bool {
	for _, r := range c.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// ClampEstimation bounds minutes to the configured estimation range.
func (c *Config) ClampEstimation(minutes int) int {
	if minutes < c.Estimation.MinMinutes {
		return c.Estimation.MinMinutes
	}
	if minutes > c.Estimation.MaxMinutes {
		return c.Estimation.MaxMinutes
	}
	return minutes
}

// Currency returns the billing currency, defaulting to EUR.
func (c *Config) Currency() string {
	if strings.TrimSpace(c.Billing.Currency) == "" {
		return domain.DefaultCurrency
	}
	return strings.ToUpper(c.Billing.Currency)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "contribline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(id domain.ProjectID) string {
	return fmt.Sprintf(defaultTemplate, id.RepoFullName, id.Provider)
}

// Default returns the default Config struct for a project.
func Default(id domain.ProjectID) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(id))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing
// sections fall back to the defaults of the named project.
func FromYAML(data []byte) (*Config, error) {
	var probe Config
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	return decode(domain.ProjectID{RepoFullName: probe.Project.Repo, Provider: probe.Project.Provider}, data)
}

// ForProject parses YAML for a known project. The project section of data
// is overridden by id.
func ForProject(id domain.ProjectID, data []byte) (*Config, error) {
	cfg, err := decodeOnly(id, data)
	if err != nil {
		return nil, err
	}
	cfg.Project.Repo, cfg.Project.Provider = id.RepoFullName, id.Provider
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(id domain.ProjectID, data []byte) (*Config, error) {
	cfg, err := decodeOnly(id, data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeOnly(id domain.ProjectID, data []byte) (*Config, error) {
	cfg := Default(id)
	cfg.Estimation.DefaultMinutes = 0
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if cfg.Estimation.DefaultMinutes == 0 {
		cfg.Estimation.DefaultMinutes = cfg.Estimation.MinMinutes
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  repo: %s
  provider: %s

estimation:
  min_minutes: 60
  max_minutes: 480
  default_minutes: 60

assignment:
  deadline_days: 10
  capacity: 0

billing:
  commission_bp: 800
  currency: EUR

roles: [DEV, REV, QA, ARCH, PO]
`
