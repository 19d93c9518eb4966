package service

import (
	"context"
	"time"

	"github.com/MimeLyc/contextual-book-translator/internal/persistence"
)

// Report summarizes one translated file.
type Report struct {
	RunID      string
	InputPath  string
	OutputPath string
	Status     persistence.RunStatus
	Batches    int
	Failed     int
	Cached     int
	Elapsed    time.Duration
}

// FileTranslator translates a single input file to an output path.
type FileTranslator interface {
	OutputPath(input string) string
	TranslateFile(ctx context.Context, input, output string) (*Report, error)
}

// RunRecorder persists run history.
type RunRecorder interface {
	UpsertRun(ctx context.Context, run *persistence.Run) error
}
