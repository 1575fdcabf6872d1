package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models stakeline.yml.
type Config struct {
	Policies struct {
		GracePeriodHours    int `yaml:"grace_period_hours"`
		ReminderWindowHours int `yaml:"reminder_window_hours"`
		MinComplaintChars   int `yaml:"min_complaint_chars"`
	} `yaml:"policies"`
	Sweep struct {
		ActivateInterval time.Duration `yaml:"activate_interval"`
		OverdueInterval  time.Duration `yaml:"overdue_interval"`
		AutoFailInterval time.Duration `yaml:"auto_fail_interval"`
		ReminderInterval time.Duration `yaml:"reminder_interval"`
		RefundInterval   time.Duration `yaml:"refund_interval"`
	} `yaml:"sweep"`
	Evidence struct {
		AllowedExtensions []string `yaml:"allowed_extensions"`
	} `yaml:"evidence"`
	Currencies []string        `yaml:"currencies"`
	Webhooks   []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// GracePeriod returns the auto-fail grace period.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.Policies.GracePeriodHours) * time.Hour
}

// ReminderWindow returns the deadline-reminder lookahead window.
func (c *Config) ReminderWindow() time.Duration {
	return time.Duration(c.Policies.ReminderWindowHours) * time.Hour
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Policies.GracePeriodHours < 0 {
		return fmt.Errorf("config.policies.grace_period_hours must not be negative")
	}
	if c.Policies.ReminderWindowHours <= 0 {
		return fmt.Errorf("config.policies.reminder_window_hours must be positive")
	}
	if c.Policies.MinComplaintChars < 0 {
		return fmt.Errorf("config.policies.min_complaint_chars must not be negative")
	}
	if len(c.Currencies) == 0 {
		return fmt.Errorf("config.currencies is required")
	}
	for _, cur := range c.Currencies {
		if len(cur) != 3 {
			return fmt.Errorf("currency %q must be a 3-letter code", cur)
		}
	}
	if len(c.Evidence.AllowedExtensions) == 0 {
		return fmt.Errorf("config.evidence.allowed_extensions is required")
	}
	for _, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks entry missing url")
		}
	}
	return nil
}

// ValidCurrency reports whether code is an allowed settlement currency.
func (c *Config) ValidCurrency(code string) bool {
	for _, cur := range c.Currencies {
		if cur == code {
			return true
		}
	}
	return false
}

// ValidExtension reports whether ext (without dot) is allowed for evidence files.
func (c *Config) ValidExtension(ext string) bool {
	for _, e := range c.Evidence.AllowedExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "stakeline.yml")
}

// Load reads and validates config from the workspace, falling back to the
// defaults when the file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
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

// Default returns the default Config. Reference cadences: activation every
// 15 minutes, overdue notices hourly, auto-fail and reminders daily.
func Default() *Config {
	var cfg Config
	cfg.Policies.GracePeriodHours = 24
	cfg.Policies.ReminderWindowHours = 24
	cfg.Policies.MinComplaintChars = 20
	cfg.Sweep.ActivateInterval = 15 * time.Minute
	cfg.Sweep.OverdueInterval = time.Hour
	cfg.Sweep.AutoFailInterval = 24 * time.Hour
	cfg.Sweep.ReminderInterval = 24 * time.Hour
	cfg.Sweep.RefundInterval = 24 * time.Hour
	cfg.Evidence.AllowedExtensions = []string{"jpg", "jpeg", "png", "gif", "mp4", "mov", "avi"}
	cfg.Currencies = []string{"INR", "USD", "EUR", "GBP"}
	return &cfg
}
