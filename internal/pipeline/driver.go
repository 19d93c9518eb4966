package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MimeLyc/contextual-book-translator/internal/document"
	"github.com/MimeLyc/contextual-book-translator/internal/segment"
	"github.com/MimeLyc/contextual-book-translator/internal/translator"
	"github.com/MimeLyc/contextual-book-translator/pkg/log"
)

// ErrEmptyDocument is returned for a document without lines.
var ErrEmptyDocument = translator.NewError(translator.EmptyInput, "document is empty")

// Driver classifies a document, batches translatable lines, translates the
// batches and merges them back in document order.
type Driver struct {
	translator translator.Translator
	opts       Options
}

func New(t translator.Translator, opts Options) *Driver {
	if opts.MaxLines <= 0 {
		opts.MaxLines = segment.DefaultMaxLines
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = segment.DefaultMaxChars
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Driver{translator: t, opts: opts}
}

// step is one entry of the output plan: a raw line copied verbatim, or the
// merged output of a batch.
type step struct {
	raw   string
	batch int
}

type plannedBatch struct {
	seq     int
	lines   []string
	chars   int
	indices []int
}

type batchResult struct {
	translations []string
	report       BatchReport
}

// Run translates doc. Batch failures degrade the output but do not stop the
// run. When ctx is cancelled the partially merged result is returned together
// with the context error.
func (d *Driver) Run(ctx context.Context, doc *document.Document) (*Result, error) {
	if doc == nil || doc.Empty() {
		return nil, ErrEmptyDocument
	}

	result := &Result{RunID: uuid.New()}
	steps, batches := d.plan(doc.Lines)
	log.Info("Run %s: %d lines, %d batches, mode %s, concurrency %d",
		result.RunID, doc.Len(), len(batches), d.opts.Mode, d.opts.Concurrency)

	results := d.execute(ctx, batches)

	result.Lines = make([]string, 0, len(doc.Lines)+len(doc.Lines)/2)
	result.Batches = make([]BatchReport, 0, len(batches))
	for _, s := range steps {
		if s.batch < 0 {
			result.Lines = append(result.Lines, s.raw)
			continue
		}
		pb := batches[s.batch]
		res := results[s.batch]
		result.Lines = append(result.Lines, d.opts.Mode.Merge(pb.lines, res.translations)...)
		result.Batches = append(result.Batches, res.report)
	}

	log.Info("Run %s finished: %d batches, %d cached, %d failed",
		result.RunID, len(result.Batches), result.Cached(), result.Failed())

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// plan walks the document once, owning the fence state and the batch
// accumulator. Structural lines and fence markers close the pending batch.
func (d *Driver) plan(lines []string) ([]step, []plannedBatch) {
	var (
		fence   segment.FenceTracker
		steps   []step
		batches []plannedBatch
		pending []int
	)
	batcher := segment.NewBatcher(d.opts.MaxLines, d.opts.MaxChars)

	add := func(b segment.Batch) {
		pb := plannedBatch{
			seq:     len(batches),
			lines:   b.Lines,
			chars:   b.Chars,
			indices: pending[:b.Len():b.Len()],
		}
		pending = pending[b.Len():]
		steps = append(steps, step{batch: pb.seq})
		batches = append(batches, pb)
	}
	flush := func() {
		if b, ok := batcher.Flush(); ok {
			add(b)
		}
	}

	for i, raw := range lines {
		kind := segment.Classify(raw, fence.InFence(), d.opts.Segment)

		switch {
		case kind == segment.FenceMarker:
			flush()
			fence.Observe(kind)
			steps = append(steps, step{raw: raw, batch: -1})
		case fence.InFence():
			steps = append(steps, step{raw: raw, batch: -1})
		case kind == segment.Translatable:
			if b, ok := batcher.Offer(segment.Strip(raw)); ok {
				add(b)
			}
			pending = append(pending, i)
		default:
			if segment.IsBlank(raw) && !d.opts.Segment.KeepBlankLines {
				continue
			}
			flush()
			steps = append(steps, step{raw: raw, batch: -1})
		}
	}
	flush()

	if fence.InFence() {
		log.Warn("Document ends inside a code block; trailing lines were copied verbatim")
	}
	return steps, batches
}

// execute fills one slot per batch. With concurrency 1 batches run in
// document order on the calling goroutine.
func (d *Driver) execute(ctx context.Context, batches []plannedBatch) []batchResult {
	results := make([]batchResult, len(batches))

	if d.opts.Concurrency <= 1 {
		for i := range batches {
			results[i] = d.translateBatch(ctx, batches[i])
		}
		return results
	}

	var g errgroup.Group
	g.SetLimit(d.opts.Concurrency)
	for i := range batches {
		g.Go(func() error {
			results[i] = d.translateBatch(ctx, batches[i])
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (d *Driver) translateBatch(ctx context.Context, pb plannedBatch) batchResult {
	start := time.Now()
	report := BatchReport{
		Seq:       pb.seq,
		FirstLine: pb.indices[0],
		LastLine:  pb.indices[len(pb.indices)-1],
		Lines:     len(pb.lines),
		Chars:     pb.chars,
	}
	finish := func(translations []string, outcome Outcome, err error) batchResult {
		report.Returned = len(translations)
		report.Outcome = outcome
		report.Err = err
		report.Elapsed = time.Since(start)
		d.logReport(report)
		return batchResult{translations: translations, report: report}
	}

	if err := ctx.Err(); err != nil {
		return finish(nil, OutcomeCancelled, err)
	}

	if d.opts.Cache != nil {
		cached, ok, err := d.opts.Cache.Lookup(ctx, pb.lines)
		if err != nil {
			log.Warn("Batch %d: cache lookup failed: %v", pb.seq, err)
		} else if ok {
			return finish(cached, OutcomeCached, nil)
		}
	}

	translations, err := d.translator.Translate(ctx, pb.lines)
	switch {
	case err == nil:
		if d.opts.Cache != nil {
			if err := d.opts.Cache.Store(ctx, pb.lines, translations); err != nil {
				log.Warn("Batch %d: cache store failed: %v", pb.seq, err)
			}
		}
		return finish(translations, OutcomeSuccess, nil)
	case translator.IsKind(err, translator.ShapeMismatch):
		return finish(translations, OutcomeShapeMismatch, err)
	case ctx.Err() != nil:
		return finish(nil, OutcomeCancelled, err)
	case translator.IsKind(err, translator.Transient):
		return finish(nil, OutcomeExhausted, err)
	default:
		return finish(nil, OutcomeFatal, err)
	}
}

func (d *Driver) logReport(r BatchReport) {
	if r.Outcome.Failed() {
		log.Warn("Batch %d (lines %d-%d): %s, %d/%d segments: %v",
			r.Seq, r.FirstLine+1, r.LastLine+1, r.Outcome, r.Returned, r.Lines, r.Err)
		return
	}
	log.Info("Batch %d (lines %d-%d): %s, %d lines, %d chars in %s",
		r.Seq, r.FirstLine+1, r.LastLine+1, r.Outcome, r.Lines, r.Chars, r.Elapsed.Round(time.Millisecond))
}
