// Package config loads server settings from defaults, an optional YAML
// file, a .env file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Config holds every server setting. YAML keys match the environment
// variable names.
type Config struct {
	DBPath  string `yaml:"SHRAMBA_DB"`
	Addr    string `yaml:"SHRAMBA_ADDR"`
	LogPath string `yaml:"SHRAMBA_LOG"`

	OpenRouterAPIKey  string `yaml:"OPENROUTER_API_KEY"`
	OpenRouterModel   string `yaml:"OPENROUTER_MODEL"`
	OpenRouterBaseURL string `yaml:"OPENROUTER_BASE_URL"`
	AppURL            string `yaml:"APP_URL"`

	SMTPHost     string `yaml:"SMTP_HOST"`
	SMTPPort     int    `yaml:"SMTP_PORT"`
	SMTPUsername string `yaml:"SMTP_USERNAME"`
	SMTPPassword string `yaml:"SMTP_PASSWORD"`
	SMTPFrom     string `yaml:"SMTP_FROM"`

	ReminderInterval      time.Duration `yaml:"REMINDER_INTERVAL"`
	CountersInterval      time.Duration `yaml:"COUNTERS_INTERVAL"`
	CleanupInterval       time.Duration `yaml:"CLEANUP_INTERVAL"`
	LowStockThreshold     float64       `yaml:"LOW_STOCK_THRESHOLD"`
	ExpiryWindowDays      int           `yaml:"EXPIRY_WINDOW_DAYS"`
	ReminderRetentionDays int           `yaml:"REMINDER_RETENTION_DAYS"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		DBPath:                "shramba.sqlite3",
		Addr:                  ":8080",
		AppURL:                "http://localhost:8080",
		SMTPPort:              587,
		ReminderInterval:      time.Hour,
		CountersInterval:      30 * time.Second,
		CleanupInterval:       24 * time.Hour,
		LowStockThreshold:     5,
		ExpiryWindowDays:      7,
		ReminderRetentionDays: 30,
	}
}

// Load builds the configuration. path names an optional YAML file and
// envFile an optional dotenv file; a missing envFile is not an error.
func Load(path, envFile string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return cfg, err
		}
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// LoadFile overlays settings from a YAML file.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays settings from environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"SHRAMBA_DB":          &c.DBPath,
		"SHRAMBA_ADDR":        &c.Addr,
		"SHRAMBA_LOG":         &c.LogPath,
		"OPENROUTER_API_KEY":  &c.OpenRouterAPIKey,
		"OPENROUTER_MODEL":    &c.OpenRouterModel,
		"OPENROUTER_BASE_URL": &c.OpenRouterBaseURL,
		"APP_URL":             &c.AppURL,
		"SMTP_HOST":           &c.SMTPHost,
		"SMTP_USERNAME":       &c.SMTPUsername,
		"SMTP_PASSWORD":       &c.SMTPPassword,
		"SMTP_FROM":           &c.SMTPFrom,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"SMTP_PORT":               &c.SMTPPort,
		"EXPIRY_WINDOW_DAYS":      &c.ExpiryWindowDays,
		"REMINDER_RETENTION_DAYS": &c.ReminderRetentionDays,
	}
	for key, dst := range ints {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", key, err)
		}
		*dst = n
	}

	durations := map[string]*time.Duration{
		"REMINDER_INTERVAL": &c.ReminderInterval,
		"COUNTERS_INTERVAL": &c.CountersInterval,
		"CLEANUP_INTERVAL":  &c.CleanupInterval,
	}
	for key, dst := range durations {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", key, err)
		}
		*dst = d
	}

	if v, ok := lookup("LOW_STOCK_THRESHOLD"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parsing LOW_STOCK_THRESHOLD: %w", err)
		}
		c.LowStockThreshold = f
	}
	return nil
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	switch {
	case c.DBPath == "":
		return errors.New("database path is required")
	case c.Addr == "":
		return errors.New("listen address is required")
	case c.LowStockThreshold <= 0:
		return errors.New("low stock threshold must be positive")
	case c.ExpiryWindowDays < 0:
		return errors.New("expiry window must not be negative")
	case c.ReminderRetentionDays <= 0:
		return errors.New("reminder retention must be positive")
	}
	return nil
}

// MailEnabled reports whether reminder mails can be sent.
func (c Config) MailEnabled() bool {
	return c.SMTPHost != "" && c.SMTPFrom != ""
}

// Retention returns the reminder log retention period.
func (c Config) Retention() time.Duration {
	return time.Duration(c.ReminderRetentionDays) * 24 * time.Hour
}
