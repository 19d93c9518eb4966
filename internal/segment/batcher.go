package segment

import "unicode/utf8"

const (
	DefaultMaxLines = 50
	DefaultMaxChars = 4000
)

// Batch is an ordered run of stripped translatable lines.
type Batch struct {
	Lines []string
	// Chars counts runes of every line plus one separator per line.
	Chars int
}

func (b Batch) Len() int {
	return len(b.Lines)
}

// Batcher accumulates lines until the next one would break a budget.
// It is not safe for concurrent use.
type Batcher struct {
	maxLines int
	maxChars int
	cur      Batch
}

// NewBatcher returns a batcher bounded by maxLines and maxChars. Non-positive
// limits fall back to the defaults.
func NewBatcher(maxLines, maxChars int) *Batcher {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Batcher{maxLines: maxLines, maxChars: maxChars}
}

// Offer adds text to the pending batch. When adding it would exceed either
// budget, the pending batch is returned first and text starts a new one.
// A line longer than the character budget still forms a batch of its own.
func (b *Batcher) Offer(text string) (Batch, bool) {
	cost := utf8.RuneCountInString(text) + 1

	var full Batch
	var emitted bool
	if b.cur.Len() > 0 && (b.cur.Len()+1 > b.maxLines || b.cur.Chars+cost > b.maxChars) {
		full, emitted = b.Flush()
	}

	b.cur.Lines = append(b.cur.Lines, text)
	b.cur.Chars += cost
	return full, emitted
}

// Flush returns the pending batch and resets the accumulator. It never
// returns an empty batch.
func (b *Batcher) Flush() (Batch, bool) {
	if b.cur.Len() == 0 {
		return Batch{}, false
	}
	out := b.cur
	b.cur = Batch{}
	return out, true
}

// Pending returns the number of lines waiting to be flushed.
func (b *Batcher) Pending() int {
	return b.cur.Len()
}
