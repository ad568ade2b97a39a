package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Source names accepted in Sources.
const (
	SourceReddit  = "reddit"
	SourceGitHub  = "github"
	SourceBluesky = "bluesky"
)

type Config struct {
	// Query is the search term shared by the search-based sources.
	Query   string   `yaml:"query"`
	Sources []string `yaml:"sources"`

	RedditQuery string `yaml:"reddit_query"`
	RedditLimit int    `yaml:"reddit_limit"`

	GitHubToken string `yaml:"github_token"`
	GitHubQuery string `yaml:"github_query"`
	GitHubLimit int    `yaml:"github_limit"`

	JetstreamURL    string        `yaml:"jetstream_url"`
	BlueskyKeywords []string      `yaml:"bluesky_keywords"`
	BlueskyLangs    []string      `yaml:"bluesky_langs"`
	BlueskyLookback time.Duration `yaml:"bluesky_lookback"`
	BlueskyWindow   time.Duration `yaml:"bluesky_window"`
	BlueskyLimit    int           `yaml:"bluesky_limit"`

	AdapterTimeout     time.Duration `yaml:"adapter_timeout"`
	ProcessingInterval time.Duration `yaml:"processing_interval"`

	DataDir     string `yaml:"data_dir"`
	DatabaseURL string `yaml:"database_url"`
	MirrorPath  string `yaml:"mirror_path"`

	SlackWebhookURL string        `yaml:"slack_webhook_url"`
	SlackChannel    string        `yaml:"slack_channel"`
	NotifyDelay     time.Duration `yaml:"notify_delay"`

	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID int64  `yaml:"telegram_chat_id"`

	OpenAIAPIKey string `yaml:"openai_api_key"`
	OpenAIModel  string `yaml:"openai_model"`

	NATSURL     string `yaml:"nats_url"`
	NATSSubject string `yaml:"nats_subject"`

	ServerPort      string `yaml:"server_port"`
	LogLevel        string `yaml:"log_level"`
	LogFormat       string `yaml:"log_format"`
	MetricsTextfile string `yaml:"metrics_textfile"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Sources:            []string{SourceReddit, SourceGitHub, SourceBluesky},
		RedditLimit:        25,
		GitHubLimit:        25,
		BlueskyLookback:    15 * time.Minute,
		BlueskyWindow:      30 * time.Second,
		BlueskyLimit:       50,
		AdapterTimeout:     60 * time.Second,
		ProcessingInterval: 15 * time.Minute,
		DataDir:            "data",
		MirrorPath:         "docs/data/feed.json",
		NotifyDelay:        time.Second,
		OpenAIModel:        "gpt-4o-mini",
		NATSSubject:        "mentions.new",
		ServerPort:         "8080",
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty), then the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// LoadFile overlays the YAML document at path onto c. Keys absent from the
// file keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Query = getEnv("MENTION_QUERY", c.Query)
	c.Sources = getEnvAsList("SOURCES", c.Sources)

	c.RedditQuery = getEnv("REDDIT_QUERY", c.RedditQuery)
	c.RedditLimit = getEnvAsInt("REDDIT_LIMIT", c.RedditLimit)

	c.GitHubToken = getEnv("GITHUB_TOKEN", c.GitHubToken)
	c.GitHubQuery = getEnv("GITHUB_QUERY", c.GitHubQuery)
	c.GitHubLimit = getEnvAsInt("GITHUB_LIMIT", c.GitHubLimit)

	c.JetstreamURL = getEnv("JETSTREAM_URL", c.JetstreamURL)
	c.BlueskyKeywords = getEnvAsList("BLUESKY_KEYWORDS", c.BlueskyKeywords)
	c.BlueskyLangs = getEnvAsList("BLUESKY_LANGS", c.BlueskyLangs)
	c.BlueskyLookback = getEnvAsDuration("BLUESKY_LOOKBACK", c.BlueskyLookback)
	c.BlueskyWindow = getEnvAsDuration("BLUESKY_WINDOW", c.BlueskyWindow)
	c.BlueskyLimit = getEnvAsInt("BLUESKY_LIMIT", c.BlueskyLimit)

	c.AdapterTimeout = getEnvAsDuration("ADAPTER_TIMEOUT", c.AdapterTimeout)
	c.ProcessingInterval = getEnvAsDuration("PROCESSING_INTERVAL", c.ProcessingInterval)

	c.DataDir = getEnv("DATA_DIR", c.DataDir)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.MirrorPath = getEnv("MIRROR_PATH", c.MirrorPath)

	c.SlackWebhookURL = getEnv("SLACK_WEBHOOK_URL", c.SlackWebhookURL)
	c.SlackChannel = getEnv("SLACK_CHANNEL", c.SlackChannel)
	c.NotifyDelay = getEnvAsDuration("NOTIFY_DELAY", c.NotifyDelay)

	c.TelegramToken = getEnv("TELEGRAM_BOT_TOKEN", c.TelegramToken)
	c.TelegramChatID = getEnvAsInt64("TELEGRAM_CHAT_ID", c.TelegramChatID)

	c.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.OpenAIModel = getEnv("OPENAI_MODEL", c.OpenAIModel)

	c.NATSURL = getEnv("NATS_URL", c.NATSURL)
	c.NATSSubject = getEnv("NATS_SUBJECT", c.NATSSubject)

	c.ServerPort = getEnv("SERVER_PORT", c.ServerPort)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.MetricsTextfile = getEnv("METRICS_TEXTFILE", c.MetricsTextfile)
}

// SourceQuery returns the per-source override, falling back to Query.
func (c *Config) SourceQuery(source string) string {
	switch source {
	case SourceReddit:
		if c.RedditQuery != "" {
			return c.RedditQuery
		}
	case SourceGitHub:
		if c.GitHubQuery != "" {
			return c.GitHubQuery
		}
	}
	return c.Query
}

// Keywords returns the Bluesky keywords, falling back to Query.
func (c *Config) Keywords() []string {
	if len(c.BlueskyKeywords) > 0 {
		return c.BlueskyKeywords
	}
	if c.Query != "" {
		return []string{c.Query}
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error

	if len(c.Sources) == 0 {
		errs = append(errs, errors.New("at least one source must be enabled"))
	}
	for _, s := range c.Sources {
		switch s {
		case SourceReddit, SourceGitHub:
			if c.SourceQuery(s) == "" {
				errs = append(errs, fmt.Errorf("source %s needs a query (MENTION_QUERY)", s))
			}
		case SourceBluesky:
			if len(c.Keywords()) == 0 {
				errs = append(errs, errors.New("source bluesky needs keywords (BLUESKY_KEYWORDS or MENTION_QUERY)"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown source %q", s))
		}
	}

	if c.AdapterTimeout <= 0 {
		errs = append(errs, errors.New("adapter_timeout must be positive"))
	}
	if c.ProcessingInterval <= 0 {
		errs = append(errs, errors.New("processing_interval must be positive"))
	}
	if c.NotifyDelay < 0 {
		errs = append(errs, errors.New("notify_delay must not be negative"))
	}
	if c.TelegramToken != "" && c.TelegramChatID == 0 {
		errs = append(errs, errors.New("telegram_chat_id is required when a telegram token is set"))
	}

	if dsn := c.DatabaseURL; dsn != "" {
		known := false
		for _, prefix := range []string{"file://", "sqlite://", "postgres://", "postgresql://"} {
			if strings.HasPrefix(dsn, prefix) {
				known = true
				break
			}
		}
		if !known {
			errs = append(errs, errors.New("database_url must start with file://, sqlite:// or postgres://"))
		}
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated value, dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
