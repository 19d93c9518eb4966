package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/MimeLyc/contextual-book-translator/internal/llm"
	"github.com/MimeLyc/contextual-book-translator/internal/merge"
	"github.com/MimeLyc/contextual-book-translator/pkg/icron"
	"github.com/MimeLyc/contextual-book-translator/pkg/log"
)

// Config holds all application configuration.
//
// Environment Variables:
// LLM Configuration:
// - LLM_API_KEY: API key (falls back to DEEPSEEK_API_KEY)
// - LLM_API_URL: API base URL (default: https://api.deepseek.com)
// - LLM_MODEL: Model name (default: deepseek-chat)
// - LLM_MAX_TOKENS: Maximum tokens for responses (default: 8000)
// - LLM_TEMPERATURE: Temperature for responses (default: 0.3)
// - REQUEST_TIMEOUT: Request timeout in seconds (default: 30)
// - REQUESTS_PER_MINUTE: Request pacing, 0 disables it (default: 0)
// - LLM_SITE_URL, LLM_APP_NAME: optional attribution headers
//
// Batching and retry:
// - BATCH_MAX_LINES (default: 50), BATCH_MAX_CHARS (default: 4000)
// - CONCURRENCY: batches in flight (default: 1)
// - RETRIES: attempts per batch (default: 5)
// - BASE_DELAY: first backoff delay in seconds (default: 1)
//
// Translation:
// - MERGE_MODE: append or overwrite (default: append)
// - FENCE_MARKER: code fence delimiter (default: ```)
// - KEEP_BLANK_LINES: keep blank lines outside code blocks (default: false)
// - SOURCE_LANGUAGE (default: en), TARGET_LANGUAGE (default: zh-Hans)
// - PROMPT_DOMAIN: subject hint for the model (optional)
//
// Runtime:
// - CACHE_DB: SQLite cache path, empty disables the cache
// - LOG_LEVEL (default: info), LOG_FILE (optional)
// - WATCH_DIR, CRON_EXPR (default: 0 */30 * * * *)
type Config struct {
	LLM       LLMConfig       `json:"llm"`
	Batch     BatchConfig     `json:"batch"`
	Retry     RetryConfig     `json:"retry"`
	Translate TranslateConfig `json:"translate"`
	Cache     CacheConfig     `json:"cache"`
	Log       LogConfig       `json:"log"`
	Watch     WatchConfig     `json:"watch"`
}

// LLMConfig holds the configuration for the chat completions client.
type LLMConfig struct {
	APIKey            string  `json:"-"`
	APIURL            string  `json:"api_url"`
	Model             string  `json:"model"`
	MaxTokens         int     `json:"max_tokens"`
	Temperature       float64 `json:"temperature"`
	Timeout           int     `json:"timeout"`
	RequestsPerMinute int     `json:"requests_per_minute"`
	SiteURL           string  `json:"site_url"`
	AppName           string  `json:"app_name"`
}

// ClientConfig converts to the llm package configuration.
func (c LLMConfig) ClientConfig() *llm.Config {
	return &llm.Config{
		APIKey:      c.APIKey,
		APIURL:      c.APIURL,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
		Timeout:     c.Timeout,
		SiteURL:     c.SiteURL,
		AppName:     c.AppName,
	}
}

type BatchConfig struct {
	MaxLines    int `json:"max_lines"`
	MaxChars    int `json:"max_chars"`
	Concurrency int `json:"concurrency"`
}

type RetryConfig struct {
	Attempts  int           `json:"attempts"`
	BaseDelay time.Duration `json:"base_delay"`
}

type TranslateConfig struct {
	Mode           merge.Mode   `json:"mode"`
	FenceMarker    string       `json:"fence_marker"`
	KeepBlankLines bool         `json:"keep_blank_lines"`
	SourceLanguage language.Tag `json:"source_language"`
	TargetLanguage language.Tag `json:"target_language"`
	Domain         string       `json:"domain"`
}

type CacheConfig struct {
	Path string `json:"path"`
}

type LogConfig struct {
	Level string `json:"level"`
	File  string `json:"file"`
}

type WatchConfig struct {
	Dir      string `json:"dir"`
	CronExpr string `json:"cron_expr"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		LLM: LLMConfig{
			APIKey:            getEnvString("LLM_API_KEY", getEnvString("DEEPSEEK_API_KEY", "")),
			APIURL:            getEnvString("LLM_API_URL", "https://api.deepseek.com"),
			Model:             getEnvString("LLM_MODEL", "deepseek-chat"),
			MaxTokens:         getEnvInt("LLM_MAX_TOKENS", 8000),
			Temperature:       getEnvFloat("LLM_TEMPERATURE", 0.3),
			Timeout:           getEnvInt("REQUEST_TIMEOUT", 30),
			RequestsPerMinute: getEnvInt("REQUESTS_PER_MINUTE", 0),
			SiteURL:           getEnvString("LLM_SITE_URL", ""),
			AppName:           getEnvString("LLM_APP_NAME", ""),
		},
		Batch: BatchConfig{
			MaxLines:    getEnvInt("BATCH_MAX_LINES", 50),
			MaxChars:    getEnvInt("BATCH_MAX_CHARS", 4000),
			Concurrency: getEnvInt("CONCURRENCY", 1),
		},
		Retry: RetryConfig{
			Attempts:  getEnvInt("RETRIES", 5),
			BaseDelay: getEnvSeconds("BASE_DELAY", time.Second),
		},
		Translate: TranslateConfig{
			Mode:           getEnvMode("MERGE_MODE", merge.Append),
			FenceMarker:    getEnvString("FENCE_MARKER", "```"),
			KeepBlankLines: getEnvBool("KEEP_BLANK_LINES", false),
			SourceLanguage: getEnvLanguage("SOURCE_LANGUAGE", language.English),
			TargetLanguage: getEnvLanguage("TARGET_LANGUAGE", language.SimplifiedChinese),
			Domain:         getEnvString("PROMPT_DOMAIN", ""),
		},
		Cache: CacheConfig{
			Path: getEnvString("CACHE_DB", ""),
		},
		Log: LogConfig{
			Level: getEnvString("LOG_LEVEL", "info"),
			File:  getEnvString("LOG_FILE", ""),
		},
		Watch: WatchConfig{
			Dir:      getEnvString("WATCH_DIR", ""),
			CronExpr: getEnvString("CRON_EXPR", "0 */30 * * * *"),
		},
	}

	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Debug("Config: %+v", *config)
	return config, nil
}

// validate checks ranges. The API key is checked by the LLM client, so
// commands that never call the model can run without one.
func (c *Config) validate() error {
	if c.Batch.MaxLines < 1 {
		return fmt.Errorf("BATCH_MAX_LINES must be greater than 0")
	}
	if c.Batch.MaxChars < 1 {
		return fmt.Errorf("BATCH_MAX_CHARS must be greater than 0")
	}
	if c.Batch.Concurrency < 1 {
		return fmt.Errorf("CONCURRENCY must be greater than 0")
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("RETRIES must be greater than 0")
	}
	if c.Retry.BaseDelay < 0 {
		return fmt.Errorf("BASE_DELAY must not be negative")
	}
	if c.LLM.Timeout < 1 {
		return fmt.Errorf("REQUEST_TIMEOUT must be greater than 0")
	}
	if c.LLM.RequestsPerMinute < 0 {
		return fmt.Errorf("REQUESTS_PER_MINUTE must not be negative")
	}
	if strings.TrimSpace(c.Translate.FenceMarker) == "" {
		return fmt.Errorf("FENCE_MARKER must not be empty")
	}
	if c.Watch.CronExpr != "" {
		if _, err := icron.Parse(c.Watch.CronExpr); err != nil {
			return fmt.Errorf("CRON_EXPR: %w", err)
		}
	}
	return nil
}

// WithAPIKey overrides the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) {
		if key != "" {
			c.LLM.APIKey = key
		}
	}
}

// WithMode overrides the merge mode.
func WithMode(mode merge.Mode) Option {
	return func(c *Config) {
		c.Translate.Mode = mode
	}
}

// WithTargetLanguage overrides the target language.
func WithTargetLanguage(tag language.Tag) Option {
	return func(c *Config) {
		c.Translate.TargetLanguage = tag
	}
}

// WithConcurrency overrides the number of batches in flight.
func WithConcurrency(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.Batch.Concurrency = n
		}
	}
}

// WithCachePath overrides the cache database path.
func WithCachePath(path string) Option {
	return func(c *Config) {
		if path != "" {
			c.Cache.Path = path
		}
	}
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Warn("Ignoring invalid %s=%q", key, value)
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
		log.Warn("Ignoring invalid %s=%q", key, value)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
		log.Warn("Ignoring invalid %s=%q", key, value)
	}
	return defaultValue
}

// getEnvSeconds reads a possibly fractional number of seconds.
func getEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.ParseFloat(value, 64); err == nil {
			return time.Duration(seconds * float64(time.Second))
		}
		log.Warn("Ignoring invalid %s=%q", key, value)
	}
	return defaultValue
}

func getEnvLanguage(key string, defaultValue language.Tag) language.Tag {
	if value := os.Getenv(key); value != "" {
		if tag, err := language.Parse(value); err == nil {
			return tag
		}
		log.Warn("Ignoring invalid %s=%q", key, value)
	}
	return defaultValue
}

func getEnvMode(key string, defaultValue merge.Mode) merge.Mode {
	if value := os.Getenv(key); value != "" {
		if mode, err := merge.ParseMode(value); err == nil {
			return mode
		}
		log.Warn("Ignoring invalid %s=%q", key, value)
	}
	return defaultValue
}
