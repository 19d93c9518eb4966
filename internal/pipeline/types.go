package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/MimeLyc/contextual-book-translator/internal/merge"
	"github.com/MimeLyc/contextual-book-translator/internal/segment"
)

// Outcome is the final state of one batch.
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeCached        Outcome = "cached"
	OutcomeShapeMismatch Outcome = "shape_mismatch"
	OutcomeExhausted     Outcome = "exhausted"
	OutcomeFatal         Outcome = "fatal"
	OutcomeCancelled     Outcome = "cancelled"
)

// Failed reports whether the batch did not produce an aligned translation.
func (o Outcome) Failed() bool {
	return o != OutcomeSuccess && o != OutcomeCached
}

// Cache stores aligned batch translations across runs.
type Cache interface {
	Lookup(ctx context.Context, lines []string) ([]string, bool, error)
	Store(ctx context.Context, lines, translations []string) error
}

type Options struct {
	Segment     segment.Options
	MaxLines    int
	MaxChars    int
	Mode        merge.Mode
	Concurrency int
	// Cache is optional.
	Cache Cache
}

// BatchReport describes what happened to one batch.
type BatchReport struct {
	Seq int
	// FirstLine and LastLine are zero-based document line indices.
	FirstLine int
	LastLine  int
	Lines     int
	Chars     int
	Returned  int
	Outcome   Outcome
	Err       error
	Elapsed   time.Duration
}

// Result is the merged document plus per-batch reports in document order.
type Result struct {
	RunID   uuid.UUID
	Lines   []string
	Batches []BatchReport
}

func (r *Result) count(match func(Outcome) bool) int {
	n := 0
	for _, b := range r.Batches {
		if match(b.Outcome) {
			n++
		}
	}
	return n
}

func (r *Result) Failed() int {
	return r.count(Outcome.Failed)
}

func (r *Result) Cached() int {
	return r.count(func(o Outcome) bool { return o == OutcomeCached })
}
