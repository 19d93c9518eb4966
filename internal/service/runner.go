package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MimeLyc/contextual-book-translator/internal/config"
	"github.com/MimeLyc/contextual-book-translator/internal/document"
	"github.com/MimeLyc/contextual-book-translator/internal/epub"
	"github.com/MimeLyc/contextual-book-translator/internal/persistence"
	"github.com/MimeLyc/contextual-book-translator/internal/pipeline"
	"github.com/MimeLyc/contextual-book-translator/internal/segment"
	"github.com/MimeLyc/contextual-book-translator/internal/translator"
	"github.com/MimeLyc/contextual-book-translator/pkg/file"
	"github.com/MimeLyc/contextual-book-translator/pkg/log"
)

// Runner translates Markdown and EPUB files with one configured pipeline.
type Runner struct {
	cfg        config.Config
	translator translator.Translator
	cache      pipeline.Cache
	runs       RunRecorder
	now        func() time.Time
}

type RunnerOption func(*Runner)

// WithCache enables the batch translation cache.
func WithCache(c pipeline.Cache) RunnerOption {
	return func(r *Runner) {
		r.cache = c
	}
}

// WithRunRecorder records every run, including failed ones.
func WithRunRecorder(rec RunRecorder) RunnerOption {
	return func(r *Runner) {
		r.runs = rec
	}
}

func NewRunner(cfg config.Config, t translator.Translator, opts ...RunnerOption) *Runner {
	r := &Runner{
		cfg:        cfg,
		translator: t,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OutputPath is "<input-without-ext>.<target>.md".
func (r *Runner) OutputPath(input string) string {
	return file.TranslatedName(input, r.cfg.Translate.TargetLanguage.String())
}

// TranslateFile translates input and writes output. An empty output uses
// OutputPath. EPUB inputs are converted to Markdown next to the book first.
// Nothing is written when the run is cancelled or the document is empty.
func (r *Runner) TranslateFile(ctx context.Context, input, output string) (*Report, error) {
	if output == "" {
		output = r.OutputPath(input)
	}
	started := r.now()
	report := &Report{
		RunID:      uuid.NewString(),
		InputPath:  input,
		OutputPath: output,
		Status:     persistence.RunRunning,
	}

	res, err := r.translate(ctx, input, output)
	if res != nil {
		report.RunID = res.RunID.String()
		report.Batches = len(res.Batches)
		report.Failed = res.Failed()
		report.Cached = res.Cached()
	}
	switch {
	case err != nil:
		report.Status = persistence.RunFailed
	case report.Failed > 0:
		report.Status = persistence.RunDegraded
	default:
		report.Status = persistence.RunSucceeded
	}
	report.Elapsed = r.now().Sub(started)

	r.record(ctx, report, started, err)
	if err != nil {
		return report, err
	}

	log.Info("Translated %s -> %s: %s, %d batches (%d cached, %d failed) in %s",
		input, output, report.Status, report.Batches, report.Cached, report.Failed,
		report.Elapsed.Round(time.Millisecond))
	return report, nil
}

func (r *Runner) translate(ctx context.Context, input, output string) (*pipeline.Result, error) {
	source, err := r.prepare(ctx, input)
	if err != nil {
		return nil, err
	}

	doc, err := document.ReadFile(source)
	if err != nil {
		return nil, err
	}

	driver := pipeline.New(r.translator, pipeline.Options{
		Segment: segment.Options{
			FenceMarker:    r.cfg.Translate.FenceMarker,
			KeepBlankLines: r.cfg.Translate.KeepBlankLines,
		},
		MaxLines:    r.cfg.Batch.MaxLines,
		MaxChars:    r.cfg.Batch.MaxChars,
		Mode:        r.cfg.Translate.Mode,
		Concurrency: r.cfg.Batch.Concurrency,
		Cache:       r.cache,
	})

	res, err := driver.Run(ctx, doc)
	if err != nil {
		return res, err
	}

	if err := document.WriteFile(output, res.Lines); err != nil {
		return res, err
	}
	return res, nil
}

// prepare returns the Markdown path to translate.
func (r *Runner) prepare(ctx context.Context, input string) (string, error) {
	if !strings.EqualFold(filepath.Ext(input), ".epub") {
		return input, nil
	}
	book, err := epub.Convert(ctx, input, epub.Options{})
	if err != nil {
		return "", fmt.Errorf("convert %s: %w", input, err)
	}
	return book.OutputPath, nil
}

func (r *Runner) record(ctx context.Context, report *Report, started time.Time, runErr error) {
	if r.runs == nil {
		return
	}
	finished := started.Add(report.Elapsed)
	run := &persistence.Run{
		ID:             report.RunID,
		InputPath:      report.InputPath,
		OutputPath:     report.OutputPath,
		Status:         report.Status,
		Mode:           r.cfg.Translate.Mode.String(),
		TargetLanguage: r.cfg.Translate.TargetLanguage.String(),
		Batches:        report.Batches,
		FailedBatches:  report.Failed,
		CachedBatches:  report.Cached,
		StartedAt:      started,
		FinishedAt:     &finished,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if err := r.runs.UpsertRun(context.WithoutCancel(ctx), run); err != nil {
		log.Warn("Failed to record run %s: %v", run.ID, err)
	}
}

// IsEmptyDocument reports whether err means there was nothing to translate.
func IsEmptyDocument(err error) bool {
	return errors.Is(err, pipeline.ErrEmptyDocument) || translator.IsKind(err, translator.EmptyInput)
}
