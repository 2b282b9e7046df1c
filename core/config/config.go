// Package config loads the bot configuration from a YAML file. Environment
// variables, optionally preloaded from .env files, override the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"unicode"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Run modes accepted by telegram.run_mode.
const (
	RunModeWebhook  = "webhook"
	RunModeLongpoll = "longpoll"
)

// DefaultPrefix starts commands when commands.prefix is unset.
const DefaultPrefix = "/"

// Update kinds accepted by rate_limit.exclude_updates.
const (
	UpdateMessage     = "message"
	UpdateCallback    = "callback"
	UpdateInlineQuery = "inline_query"
)

// TelegramConfig holds the bot token and how updates are received.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"BOT_TOKEN"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds is the getUpdates timeout; 0 selects 10.
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// WebhookConfig is required in webhook mode only.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

// LoggingConfig selects the level and format of the process logger. Lines always go
// to stdout; File and ErrorsFile add sinks under Dir, the latter for errors only.
type LoggingConfig struct {
	Level      string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format     string `yaml:"format" envconfig:"LOG_FORMAT"`
	Dir        string `yaml:"dir" envconfig:"LOG_DIR"`
	File       string `yaml:"file"`
	ErrorsFile string `yaml:"errors_file"`
}

// RateLimitConfig drives the per-user token bucket in front of dispatch: one token
// every IntervalMS, at most Burst saved up. IntervalMS 0 turns the limiter off.
type RateLimitConfig struct {
	IntervalMS     int      `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	Burst          int      `yaml:"burst" envconfig:"RATE_LIMIT_BURST"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES"`
}

// CommandsConfig controls command parsing and cooldown bookkeeping.
type CommandsConfig struct {
	Prefix string `yaml:"prefix" envconfig:"COMMAND_PREFIX"`
	// CooldownSweepSeconds is how often expired cooldowns are dropped; 0 never.
	CooldownSweepSeconds int `yaml:"cooldown_sweep_seconds" envconfig:"COOLDOWN_SWEEP_SECONDS"`
	// NotifyUnknown answers messages naming an unregistered command.
	NotifyUnknown bool `yaml:"notify_unknown" envconfig:"NOTIFY_UNKNOWN"`
}

// AuditConfig turns on the dispatch_events journal, which needs a database.
type AuditConfig struct {
	Enabled bool `yaml:"enabled" envconfig:"AUDIT_ENABLED"`
}

// Config is the part of the configuration the core packages read.
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Commands  CommandsConfig  `yaml:"commands"`
	Audit     AuditConfig     `yaml:"audit"`
}

// LoadDotEnv exports the variables of each file (".env" when none are given) that
// the environment does not already define. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		err := godotenv.Load(p)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: %s: %w", p, err)
		}
	}
	return nil
}

// Decode fills out from the YAML file at path and then from the environment.
func Decode(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := envconfig.Process("", out); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

// Load decodes and normalizes the core configuration.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := Decode(path, cfg); err != nil {
		return nil, err
	}
	if err := Normalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Normalize applies defaults and rejects invalid values, section by section.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return errors.New("config: nil config")
	}
	if err := cfg.Telegram.normalize(cfg.Webhook); err != nil {
		return fmt.Errorf("config: telegram: %w", err)
	}
	if err := cfg.RateLimit.normalize(); err != nil {
		return fmt.Errorf("config: rate_limit: %w", err)
	}
	if err := cfg.Commands.normalize(); err != nil {
		return fmt.Errorf("config: commands: %w", err)
	}
	return nil
}

func (t *TelegramConfig) normalize(wh WebhookConfig) error {
	if strings.TrimSpace(t.Token) == "" {
		return errors.New("token is required")
	}
	mode := strings.ToLower(strings.TrimSpace(t.RunMode))
	switch mode {
	case "", "polling", RunModeLongpoll:
		t.RunMode = RunModeLongpoll
		if t.LongPollTimeoutSeconds < 0 {
			return errors.New("longpoll_timeout_seconds must be >= 0")
		}
		if t.LongPollTimeoutSeconds == 0 {
			t.LongPollTimeoutSeconds = 10
		}
	case RunModeWebhook:
		t.RunMode = RunModeWebhook
		if strings.TrimSpace(wh.URL) == "" || strings.TrimSpace(wh.Listen) == "" || wh.Port <= 0 {
			return errors.New("webhook mode needs webhook.url, webhook.listen and webhook.port")
		}
	default:
		return fmt.Errorf("run_mode %q is neither %s nor %s", t.RunMode, RunModeLongpoll, RunModeWebhook)
	}
	return nil
}

func (r *RateLimitConfig) normalize() error {
	if r.IntervalMS < 0 {
		return errors.New("interval_ms must be >= 0")
	}
	if r.Burst <= 0 {
		r.Burst = 1
	}
	kept := r.ExcludeUpdates[:0]
	for _, kind := range r.ExcludeUpdates {
		kind = strings.ToLower(strings.TrimSpace(kind))
		switch kind {
		case "":
			continue
		case UpdateMessage, UpdateCallback, UpdateInlineQuery:
			kept = append(kept, kind)
		default:
			return fmt.Errorf("exclude_updates: unknown update kind %q", kind)
		}
	}
	r.ExcludeUpdates = kept
	return nil
}

func (c *CommandsConfig) normalize() error {
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	if strings.IndexFunc(c.Prefix, unicode.IsSpace) >= 0 {
		return fmt.Errorf("prefix %q contains whitespace", c.Prefix)
	}
	if c.CooldownSweepSeconds < 0 {
		return errors.New("cooldown_sweep_seconds must be >= 0")
	}
	return nil
}
