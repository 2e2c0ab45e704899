package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string `mapstructure:"ENV"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	HealthAddr  string `mapstructure:"HEALTH_ADDR"`
	Timezone    string `mapstructure:"TIMEZONE"`

	// Mailbox
	MailboxAddress  string `mapstructure:"MAILBOX_ADDRESS"`
	MailboxSecret   string `mapstructure:"MAILBOX_SECRET"`
	MailboxLoginURL string `mapstructure:"MAILBOX_LOGIN_URL"`
	MailboxInboxURL string `mapstructure:"MAILBOX_INBOX_URL"`

	// Extraction session
	MaxEmails      int `mapstructure:"EXTRACT_MAX_EMAILS"`
	BatchSize      int `mapstructure:"EXTRACT_BATCH_SIZE"`
	Concurrency    int `mapstructure:"EXTRACT_CONCURRENCY"`
	RetryCount     int `mapstructure:"EXTRACT_RETRY_COUNT"`
	BackoffBaseSec int `mapstructure:"EXTRACT_BACKOFF_BASE_SEC"`
	BatchDelayMS   int `mapstructure:"EXTRACT_BATCH_DELAY_MS"`

	// Browser
	Headless         bool   `mapstructure:"BROWSER_HEADLESS"`
	TypingDelayMS    int    `mapstructure:"BROWSER_TYPING_DELAY_MS"`
	AuthTimeoutSec   int    `mapstructure:"BROWSER_AUTH_TIMEOUT_SEC"`
	FetchTimeoutSec  int    `mapstructure:"BROWSER_FETCH_TIMEOUT_SEC"`
	BrowserExecPath  string `mapstructure:"BROWSER_EXEC_PATH"`
	BrowserUserAgent string `mapstructure:"BROWSER_USER_AGENT"`

	// Text extraction
	OCRLanguage        string `mapstructure:"OCR_LANGUAGE"`
	PDFMinTextLen      int    `mapstructure:"PDF_MIN_TEXT_LEN"`
	AttachmentMaxBytes int64  `mapstructure:"ATTACHMENT_MAX_BYTES"`

	// Storage
	DatabaseDriver string `mapstructure:"DATABASE_DRIVER"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	MongoDBURL     string `mapstructure:"MONGODB_URL"`
	MongoDBName    string `mapstructure:"MONGODB_DATABASE"`
	RedisURL       string `mapstructure:"REDIS_URL"`

	// Neo4j
	Neo4jURL      string `mapstructure:"NEO4J_URL"`
	Neo4jUsername string `mapstructure:"NEO4J_USERNAME"`
	Neo4jPassword string `mapstructure:"NEO4J_PASSWORD"`

	// OpenAI (optional AI annotation)
	OpenAIAPIKey  string `mapstructure:"OPENAI_API_KEY"`
	LLMModel      string `mapstructure:"LLM_MODEL"`
	LLMMaxTokens  int    `mapstructure:"LLM_MAX_TOKENS"`
	LLMTimeoutSec int    `mapstructure:"LLM_TIMEOUT_SEC"`
}

var defaults = map[string]any{
	"ENV":                       "development",
	"LOG_LEVEL":                 "info",
	"HEALTH_ADDR":               "",
	"TIMEZONE":                  "America/Bogota",
	"MAILBOX_ADDRESS":           "",
	"MAILBOX_SECRET":            "",
	"MAILBOX_LOGIN_URL":         "https://accounts.google.com/ServiceLogin?service=mail",
	"MAILBOX_INBOX_URL":         "https://mail.google.com/mail/u/0/#inbox",
	"EXTRACT_MAX_EMAILS":        300,
	"EXTRACT_BATCH_SIZE":        10,
	"EXTRACT_CONCURRENCY":       2,
	"EXTRACT_RETRY_COUNT":       3,
	"EXTRACT_BACKOFF_BASE_SEC":  5,
	"EXTRACT_BATCH_DELAY_MS":    2000,
	"BROWSER_HEADLESS":          true,
	"BROWSER_TYPING_DELAY_MS":   120,
	"BROWSER_AUTH_TIMEOUT_SEC":  30,
	"BROWSER_FETCH_TIMEOUT_SEC": 20,
	"BROWSER_EXEC_PATH":         "",
	"BROWSER_USER_AGENT":        "",
	"OCR_LANGUAGE":              "spa",
	"PDF_MIN_TEXT_LEN":          100,
	"ATTACHMENT_MAX_BYTES":      25 << 20,
	"DATABASE_DRIVER":           "sqlite",
	"DATABASE_URL":              "file:vitalred.db",
	"MONGODB_URL":               "",
	"MONGODB_DATABASE":          "vitalred",
	"REDIS_URL":                 "",
	"NEO4J_URL":                 "",
	"NEO4J_USERNAME":            "neo4j",
	"NEO4J_PASSWORD":            "",
	"OPENAI_API_KEY":            "",
	"LLM_MODEL":                 "gpt-4o-mini",
	"LLM_MAX_TOKENS":            1024,
	"LLM_TIMEOUT_SEC":           60,
}

// Load reads configuration from the environment and, when path is not
// empty, from a YAML/JSON/TOML file. Environment variables win over the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for key, value := range defaults {
		v.SetDefault(key, value)
		// Bind env vars explicitly so Unmarshal picks them up
		_ = v.BindEnv(key)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Validate checks the options the extraction pipeline depends on.
func (c *Config) Validate() error {
	var problems []string
	if c.MaxEmails <= 0 {
		problems = append(problems, "EXTRACT_MAX_EMAILS must be positive")
	}
	if c.BatchSize <= 0 {
		problems = append(problems, "EXTRACT_BATCH_SIZE must be positive")
	}
	if c.Concurrency <= 0 {
		problems = append(problems, "EXTRACT_CONCURRENCY must be positive")
	}
	if c.RetryCount <= 0 {
		problems = append(problems, "EXTRACT_RETRY_COUNT must be at least 1")
	}
	if c.BackoffBaseSec < 0 || c.BatchDelayMS < 0 || c.TypingDelayMS < 0 {
		problems = append(problems, "delays must not be negative")
	}
	if c.AuthTimeoutSec <= 0 || c.FetchTimeoutSec <= 0 {
		problems = append(problems, "browser timeouts must be positive")
	}
	switch c.DatabaseDriver {
	case "pgx", "sqlite":
	default:
		problems = append(problems, fmt.Sprintf("DATABASE_DRIVER %q is not one of pgx, sqlite", c.DatabaseDriver))
	}
	if c.DatabaseURL == "" {
		problems = append(problems, "DATABASE_URL is required")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		problems = append(problems, fmt.Sprintf("TIMEZONE %q: %v", c.Timezone, err))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Location is the zone used for message dates that carry none. Validate
// has already rejected unknown zones.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseSec) * time.Second
}

func (c *Config) BatchDelay() time.Duration {
	return time.Duration(c.BatchDelayMS) * time.Millisecond
}

func (c *Config) TypingDelay() time.Duration {
	return time.Duration(c.TypingDelayMS) * time.Millisecond
}

func (c *Config) AuthTimeout() time.Duration {
	return time.Duration(c.AuthTimeoutSec) * time.Second
}

func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSec) * time.Second
}

func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSec) * time.Second
}

// AIEnabled reports whether AI annotation is configured.
func (c *Config) AIEnabled() bool {
	return c.OpenAIAPIKey != ""
}
