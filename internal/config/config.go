// ABOUTME: Configuration loading and parsing for leadbridge
// ABOUTME: Supports YAML or TOML files and an env-only template, with ${VAR} expansion and durations

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete leadbridge configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Assistant AssistantConfig `yaml:"assistant" toml:"assistant"`
	CRM       CRMConfig       `yaml:"crm" toml:"crm"`
	Frontends FrontendsConfig `yaml:"frontends" toml:"frontends"`
	Bot       BotConfig       `yaml:"bot" toml:"bot"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the HTTP listener configuration. The /events stream is
// served only when EventsToken is set and requires it as a bearer token.
type ServerConfig struct {
	HTTPAddr    string `yaml:"http_addr" toml:"http_addr"`
	EventsToken string `yaml:"events_token" toml:"events_token"`
}

// DatabaseConfig holds the tool-call ledger location. An empty path disables the ledger.
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AssistantConfig holds the OpenAI Assistants settings and the run polling policy
type AssistantConfig struct {
	APIKey      string `yaml:"api_key" toml:"api_key"`
	AssistantID string `yaml:"assistant_id" toml:"assistant_id"`
	BaseURL     string `yaml:"base_url" toml:"base_url"`
	MaxRetries  *int   `yaml:"max_retries" toml:"max_retries"` // nil means 2; 0 disables retries
	MaxPolls    int    `yaml:"max_polls" toml:"max_polls"`

	RequestTimeout time.Duration `yaml:"-" toml:"-"`
	PollInterval   time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	RequestTimeoutRaw string `yaml:"request_timeout" toml:"request_timeout"`
	PollIntervalRaw   string `yaml:"poll_interval" toml:"poll_interval"`
}

// Retries returns the configured retry count, 2 when unset.
func (a AssistantConfig) Retries() int {
	if a.MaxRetries == nil {
		return 2
	}
	return *a.MaxRetries
}

// CRMConfig holds the Bitrix24 webhook and lead defaults
type CRMConfig struct {
	WebhookURL      string `yaml:"webhook_url" toml:"webhook_url"`
	TitlePrefix     string `yaml:"title_prefix" toml:"title_prefix"`
	StatusID        string `yaml:"status_id" toml:"status_id"`
	SourceID        string `yaml:"source_id" toml:"source_id"`
	DefaultComments string `yaml:"default_comments" toml:"default_comments"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// FrontendsConfig holds configuration for all chat transports
type FrontendsConfig struct {
	Telegram TelegramConfig `yaml:"telegram" toml:"telegram"`
	Matrix   MatrixConfig   `yaml:"matrix" toml:"matrix"`
}

// TelegramConfig holds Telegram bot configuration. Setting WebhookURL switches
// from long polling to webhook delivery on the HTTP server.
type TelegramConfig struct {
	Enabled       bool   `yaml:"enabled" toml:"enabled"`
	Token         string `yaml:"token" toml:"token"`
	WebhookURL    string `yaml:"webhook_url" toml:"webhook_url"`
	WebhookPath   string `yaml:"webhook_path" toml:"webhook_path"`
	WebhookSecret string `yaml:"webhook_secret" toml:"webhook_secret"`
	PollTimeout   int    `yaml:"poll_timeout" toml:"poll_timeout"` // long-poll seconds
}

// MatrixConfig holds Matrix bot configuration
type MatrixConfig struct {
	Enabled         bool     `yaml:"enabled" toml:"enabled"`
	Homeserver      string   `yaml:"homeserver" toml:"homeserver"`
	UserID          string   `yaml:"user_id" toml:"user_id"`
	AccessToken     string   `yaml:"access_token" toml:"access_token"`
	AllowedRooms    []string `yaml:"allowed_rooms" toml:"allowed_rooms"`
	TypingIndicator bool     `yaml:"typing_indicator" toml:"typing_indicator"`
}

// BotConfig holds user-facing texts and reply limits
type BotConfig struct {
	ChunkSize int            `yaml:"chunk_size" toml:"chunk_size"`
	Contacts  ContactsConfig `yaml:"contacts" toml:"contacts"`
	Messages  MessagesConfig `yaml:"messages" toml:"messages"`
}

// ContactsConfig is shown in help text
type ContactsConfig struct {
	Email   string `yaml:"email" toml:"email"`
	Phone   string `yaml:"phone" toml:"phone"`
	Website string `yaml:"website" toml:"website"`
}

// MessagesConfig overrides fixed replies. Empty values keep the built-in text.
type MessagesConfig struct {
	Greeting  string   `yaml:"greeting" toml:"greeting"`
	Topics    []string `yaml:"topics" toml:"topics"`
	Help      string   `yaml:"help" toml:"help"`
	Reset     string   `yaml:"reset" toml:"reset"`
	Failed    string   `yaml:"failed" toml:"failed"`
	Expired   string   `yaml:"expired" toml:"expired"`
	Technical string   `yaml:"technical" toml:"technical"`
	Busy      string   `yaml:"busy" toml:"busy"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// envTemplate is used when no config file is given. It mirrors the
// environment variables of an env-only deployment.
const envTemplate = `
server:
  http_addr: "${HTTP_ADDR}"
  events_token: "${EVENTS_TOKEN}"
database:
  path: "${LEDGER_PATH}"
assistant:
  api_key: "${OPENAI_API_KEY}"
  assistant_id: "${ASSISTANT_ID}"
  base_url: "${OPENAI_BASE_URL}"
crm:
  webhook_url: "${BITRIX_WEBHOOK}"
frontends:
  telegram:
    enabled: true
    token: "${TELEGRAM_TOKEN}"
    webhook_url: "${WEBHOOK_URL}"
    webhook_secret: "${WEBHOOK_SECRET}"
logging:
  level: "${LOG_LEVEL}"
  format: "${LOG_FORMAT}"
`

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		format = "toml"
	}
	return Parse(data, format)
}

// LoadFromEnv builds the configuration from environment variables alone.
func LoadFromEnv() (*Config, error) {
	return Parse([]byte(envTemplate), "yaml")
}

// Parse decodes raw configuration in the given format ("yaml" or "toml"),
// then expands, defaults and validates it.
func Parse(data []byte, format string) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	switch format {
	case "toml":
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	case "yaml", "":
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Assistant.MaxPolls <= 0 {
		c.Assistant.MaxPolls = 60
	}
	if c.Assistant.PollInterval <= 0 {
		c.Assistant.PollInterval = 500 * time.Millisecond
	}
	if c.Assistant.MaxRetries == nil {
		retries := 2
		c.Assistant.MaxRetries = &retries
	}
	if c.CRM.Timeout <= 0 {
		c.CRM.Timeout = 10 * time.Second
	}
	if c.Frontends.Telegram.WebhookPath == "" {
		c.Frontends.Telegram.WebhookPath = "/telegram/webhook"
	}
	if c.Frontends.Telegram.PollTimeout <= 0 {
		c.Frontends.Telegram.PollTimeout = 30
	}
	if c.Bot.ChunkSize <= 0 {
		c.Bot.ChunkSize = 4096
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Assistant.APIKey == "" {
		return fmt.Errorf("assistant.api_key is required")
	}
	if c.Assistant.AssistantID == "" {
		return fmt.Errorf("assistant.assistant_id is required")
	}

	if c.Assistant.MaxRetries != nil && *c.Assistant.MaxRetries < 0 {
		return fmt.Errorf("assistant.max_retries must not be negative")
	}

	if c.CRM.WebhookURL == "" {
		return fmt.Errorf("crm.webhook_url is required")
	}
	if err := validateHTTPURL("crm.webhook_url", c.CRM.WebhookURL); err != nil {
		return err
	}

	tg, mx := c.Frontends.Telegram, c.Frontends.Matrix
	if !tg.Enabled && !mx.Enabled {
		return fmt.Errorf("at least one frontend must be enabled")
	}
	if tg.Enabled {
		if tg.Token == "" {
			return fmt.Errorf("frontends.telegram.token is required")
		}
		if tg.WebhookURL != "" {
			if err := validateHTTPURL("frontends.telegram.webhook_url", tg.WebhookURL); err != nil {
				return err
			}
			if !strings.HasPrefix(tg.WebhookPath, "/") {
				return fmt.Errorf("frontends.telegram.webhook_path must start with /")
			}
		}
	}
	if mx.Enabled {
		if mx.Homeserver == "" {
			return fmt.Errorf("frontends.matrix.homeserver is required")
		}
		if err := validateHTTPURL("frontends.matrix.homeserver", mx.Homeserver); err != nil {
			return err
		}
		if mx.UserID == "" {
			return fmt.Errorf("frontends.matrix.user_id is required")
		}
		if mx.AccessToken == "" {
			return fmt.Errorf("frontends.matrix.access_token is required")
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	return nil
}

func validateHTTPURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme", field)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Assistant.RequestTimeoutRaw != "" {
		cfg.Assistant.RequestTimeout, err = time.ParseDuration(cfg.Assistant.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.Assistant.RequestTimeoutRaw, err)
		}
	}

	if cfg.Assistant.PollIntervalRaw != "" {
		cfg.Assistant.PollInterval, err = time.ParseDuration(cfg.Assistant.PollIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing poll_interval %q: %w", cfg.Assistant.PollIntervalRaw, err)
		}
	}

	if cfg.CRM.TimeoutRaw != "" {
		cfg.CRM.Timeout, err = time.ParseDuration(cfg.CRM.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing timeout %q: %w", cfg.CRM.TimeoutRaw, err)
		}
	}

	return nil
}
