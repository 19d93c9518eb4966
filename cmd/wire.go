package main

import (
	"github.com/MimeLyc/contextual-book-translator/internal/config"
	"github.com/MimeLyc/contextual-book-translator/internal/llm"
	"github.com/MimeLyc/contextual-book-translator/internal/persistence"
	"github.com/MimeLyc/contextual-book-translator/internal/service"
	"github.com/MimeLyc/contextual-book-translator/internal/translator"
	"github.com/MimeLyc/contextual-book-translator/pkg/log"
)

// newRunner builds the LLM client, the batch translator and, when a cache
// path is configured, the SQLite cache and run history.
func newRunner(cfg *config.Config) (*service.Runner, func(), error) {
	client, err := llm.NewClient(cfg.LLM.ClientConfig())
	if err != nil {
		return nil, nil, err
	}

	bt := translator.New(client,
		translator.WithLanguages(cfg.Translate.SourceLanguage, cfg.Translate.TargetLanguage),
		translator.WithDomain(cfg.Translate.Domain),
		translator.WithRetry(cfg.Retry.Attempts, cfg.Retry.BaseDelay),
		translator.WithRequestsPerMinute(cfg.LLM.RequestsPerMinute),
	)

	if cfg.Cache.Path == "" {
		return service.NewRunner(*cfg, bt), func() {}, nil
	}

	store, err := persistence.NewSQLiteStore(cfg.Cache.Path)
	if err != nil {
		return nil, nil, err
	}
	log.Info("Using translation cache %s", cfg.Cache.Path)

	cache := persistence.NewBatchCache(store, persistence.Scope{
		Endpoint:       cfg.LLM.APIURL,
		Model:          client.Model(),
		SourceLanguage: cfg.Translate.SourceLanguage.String(),
		TargetLanguage: cfg.Translate.TargetLanguage.String(),
		Prompt:         bt.SystemPrompt(),
	})
	runner := service.NewRunner(*cfg, bt,
		service.WithCache(cache),
		service.WithRunRecorder(store),
	)
	return runner, func() { _ = store.Close() }, nil
}
