package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	"github.com/MimeLyc/contextual-book-translator/internal/config"
	"github.com/MimeLyc/contextual-book-translator/internal/merge"
	"github.com/MimeLyc/contextual-book-translator/pkg/log"
)

// Flags shared by every command.
var (
	flagConfig      string
	flagAPIKey      string
	flagCache       string
	flagTarget      string
	flagMode        string
	flagConcurrency int
	flagLogLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "booktrans",
	Short: "Translate Markdown and EPUB books line by line with an LLM",
	Long: `booktrans translates Markdown books through an OpenAI-compatible chat API.
Headings, links, images and fenced code blocks are kept as they are; prose
lines are sent in batches and written back after the original or in its place.

Configuration is read from the environment (and .env), then from --config,
then from flags.`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "YAML settings file")
	pf.StringVar(&flagAPIKey, "api-key", "", "LLM API key (overrides LLM_API_KEY)")
	pf.StringVar(&flagCache, "cache", "", "SQLite translation cache (overrides CACHE_DB)")
	pf.StringVar(&flagTarget, "target", "", "target language tag, e.g. zh-Hans")
	pf.StringVar(&flagMode, "mode", "", "merge mode: append or overwrite")
	pf.IntVar(&flagConcurrency, "concurrency", 0, "batches translated in parallel")
	pf.StringVar(&flagLogLevel, "log-level", "", "debug, info, warn or error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads .env, the settings file and flag overrides, and sets up
// logging. The returned func closes the log file, if any.
func loadConfig() (*config.Config, func(), error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("Failed to load .env: %v", err)
	}

	opts, err := flagOptions()
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.NewFromEnv(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}

	cleanup, err := setupLogger(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, cleanup, nil
}

func flagOptions() ([]config.Option, error) {
	var opts []config.Option

	if flagConfig != "" {
		fileSettings, err := config.LoadFile(flagConfig)
		if err != nil {
			return nil, err
		}
		opts = append(opts, config.WithFile(fileSettings))
	}
	if flagTarget != "" {
		tag, err := language.Parse(flagTarget)
		if err != nil {
			return nil, fmt.Errorf("invalid --target %q: %w", flagTarget, err)
		}
		opts = append(opts, config.WithTargetLanguage(tag))
	}
	if flagMode != "" {
		mode, err := merge.ParseMode(flagMode)
		if err != nil {
			return nil, err
		}
		opts = append(opts, config.WithMode(mode))
	}
	if flagLogLevel != "" {
		opts = append(opts, func(c *config.Config) { c.Log.Level = flagLogLevel })
	}
	opts = append(opts,
		config.WithAPIKey(flagAPIKey),
		config.WithCachePath(flagCache),
		config.WithConcurrency(flagConcurrency),
	)
	return opts, nil
}

func setupLogger(cfg config.LogConfig) (func(), error) {
	level := log.ParseLevel(cfg.Level)
	if cfg.File == "" {
		log.SetLogger(log.NewLogger(level))
		return func() {}, nil
	}

	fileLogger, err := log.NewFileLogger(cfg.File, level)
	if err != nil {
		return nil, err
	}
	log.SetLogger(fileLogger.Logger)
	return func() { _ = fileLogger.Close() }, nil
}
