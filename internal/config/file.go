package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/MimeLyc/contextual-book-translator/internal/merge"
)

// FileSettings is the YAML settings file. Unset fields leave the
// environment value in place.
//
//	llm:
//	  model: deepseek-chat
//	batch:
//	  max_lines: 40
//	translate:
//	  mode: overwrite
//	  target_language: ja
type FileSettings struct {
	LLM       LLMFileSettings       `yaml:"llm,omitempty"`
	Batch     BatchFileSettings     `yaml:"batch,omitempty"`
	Retry     RetryFileSettings     `yaml:"retry,omitempty"`
	Translate TranslateFileSettings `yaml:"translate,omitempty"`
	Cache     CacheFileSettings     `yaml:"cache,omitempty"`
	Log       LogFileSettings       `yaml:"log,omitempty"`
	Watch     WatchFileSettings     `yaml:"watch,omitempty"`
}

type LLMFileSettings struct {
	APIKey            string   `yaml:"api_key,omitempty"`
	APIURL            string   `yaml:"api_url,omitempty"`
	Model             string   `yaml:"model,omitempty"`
	MaxTokens         *int     `yaml:"max_tokens,omitempty"`
	Temperature       *float64 `yaml:"temperature,omitempty"`
	Timeout           *int     `yaml:"timeout,omitempty"`
	RequestsPerMinute *int     `yaml:"requests_per_minute,omitempty"`
}

type BatchFileSettings struct {
	MaxLines    *int `yaml:"max_lines,omitempty"`
	MaxChars    *int `yaml:"max_chars,omitempty"`
	Concurrency *int `yaml:"concurrency,omitempty"`
}

type RetryFileSettings struct {
	Attempts *int `yaml:"attempts,omitempty"`
	// BaseDelay is in seconds.
	BaseDelay *float64 `yaml:"base_delay,omitempty"`
}

type TranslateFileSettings struct {
	Mode           string `yaml:"mode,omitempty"`
	FenceMarker    string `yaml:"fence_marker,omitempty"`
	KeepBlankLines *bool  `yaml:"keep_blank_lines,omitempty"`
	SourceLanguage string `yaml:"source_language,omitempty"`
	TargetLanguage string `yaml:"target_language,omitempty"`
	Domain         string `yaml:"domain,omitempty"`
}

type CacheFileSettings struct {
	Path string `yaml:"path,omitempty"`
}

type LogFileSettings struct {
	Level string `yaml:"level,omitempty"`
	File  string `yaml:"file,omitempty"`
}

type WatchFileSettings struct {
	Dir      string `yaml:"dir,omitempty"`
	CronExpr string `yaml:"cron_expr,omitempty"`
}

// LoadFile reads and checks a YAML settings file.
func LoadFile(path string) (*FileSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var fs FileSettings
	if err := yaml.Unmarshal(data, &fs); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if fs.Translate.Mode != "" {
		if _, err := merge.ParseMode(fs.Translate.Mode); err != nil {
			return nil, fmt.Errorf("%s: translate.mode: %w", path, err)
		}
	}
	for key, value := range map[string]string{
		"translate.source_language": fs.Translate.SourceLanguage,
		"translate.target_language": fs.Translate.TargetLanguage,
	} {
		if value == "" {
			continue
		}
		if _, err := language.Parse(value); err != nil {
			return nil, fmt.Errorf("%s: %s: %w", path, key, err)
		}
	}

	return &fs, nil
}

// WithFile applies the settings that are present in fs.
func WithFile(fs *FileSettings) Option {
	return func(c *Config) {
		if fs == nil {
			return
		}

		setString(&c.LLM.APIKey, fs.LLM.APIKey)
		setString(&c.LLM.APIURL, fs.LLM.APIURL)
		setString(&c.LLM.Model, fs.LLM.Model)
		setValue(&c.LLM.MaxTokens, fs.LLM.MaxTokens)
		setValue(&c.LLM.Temperature, fs.LLM.Temperature)
		setValue(&c.LLM.Timeout, fs.LLM.Timeout)
		setValue(&c.LLM.RequestsPerMinute, fs.LLM.RequestsPerMinute)

		setValue(&c.Batch.MaxLines, fs.Batch.MaxLines)
		setValue(&c.Batch.MaxChars, fs.Batch.MaxChars)
		setValue(&c.Batch.Concurrency, fs.Batch.Concurrency)

		setValue(&c.Retry.Attempts, fs.Retry.Attempts)
		if fs.Retry.BaseDelay != nil {
			c.Retry.BaseDelay = time.Duration(*fs.Retry.BaseDelay * float64(time.Second))
		}

		if mode, err := merge.ParseMode(fs.Translate.Mode); err == nil && fs.Translate.Mode != "" {
			c.Translate.Mode = mode
		}
		setString(&c.Translate.FenceMarker, fs.Translate.FenceMarker)
		setValue(&c.Translate.KeepBlankLines, fs.Translate.KeepBlankLines)
		if tag, err := language.Parse(fs.Translate.SourceLanguage); err == nil {
			c.Translate.SourceLanguage = tag
		}
		if tag, err := language.Parse(fs.Translate.TargetLanguage); err == nil {
			c.Translate.TargetLanguage = tag
		}
		setString(&c.Translate.Domain, fs.Translate.Domain)

		setString(&c.Cache.Path, fs.Cache.Path)
		setString(&c.Log.Level, fs.Log.Level)
		setString(&c.Log.File, fs.Log.File)
		setString(&c.Watch.Dir, fs.Watch.Dir)
		setString(&c.Watch.CronExpr, fs.Watch.CronExpr)
	}
}

func setString(dst *string, value string) {
	if strings.TrimSpace(value) != "" {
		*dst = value
	}
}

func setValue[T any](dst *T, value *T) {
	if value != nil {
		*dst = *value
	}
}
