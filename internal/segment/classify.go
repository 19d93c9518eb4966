package segment

import "strings"

// DefaultFenceMarker opens and closes a fenced code block.
const DefaultFenceMarker = "```"

// Kind is the category a line falls into before batching.
type Kind int

const (
	// Structural lines are copied to the output verbatim.
	Structural Kind = iota
	// FenceMarker lines toggle the code-block state and are copied verbatim.
	FenceMarker
	// Translatable lines are sent to the translation service.
	Translatable
)

func (k Kind) String() string {
	switch k {
	case Structural:
		return "structural"
	case FenceMarker:
		return "fence"
	case Translatable:
		return "translatable"
	default:
		return "unknown"
	}
}

// Options tune classification.
type Options struct {
	FenceMarker    string
	KeepBlankLines bool
}

func (o Options) marker() string {
	if o.FenceMarker == "" {
		return DefaultFenceMarker
	}
	return o.FenceMarker
}

// Classify decides the kind of a single raw line. The marker test runs on the
// raw text, so an indented fence still counts.
func Classify(raw string, inFence bool, opts Options) Kind {
	if strings.Contains(raw, opts.marker()) {
		return FenceMarker
	}
	if inFence {
		return Structural
	}

	text := Strip(raw)
	if text == "" {
		return Structural
	}
	switch text[0] {
	case '#', '[', '!':
		return Structural
	}
	return Translatable
}

// Strip removes surrounding whitespace including the line terminator.
func Strip(raw string) string {
	return strings.TrimSpace(raw)
}

// IsBlank reports whether raw holds nothing but whitespace.
func IsBlank(raw string) bool {
	return Strip(raw) == ""
}

// FenceTracker holds the single in-code-block bit.
type FenceTracker struct {
	inFence bool
}

// Observe toggles the state when kind is a fence marker. It reports whether
// the state changed.
func (f *FenceTracker) Observe(kind Kind) bool {
	if kind != FenceMarker {
		return false
	}
	f.inFence = !f.inFence
	return true
}

func (f *FenceTracker) InFence() bool {
	return f.inFence
}

// Line is a classified document line.
type Line struct {
	Index int
	Raw   string
	Kind  Kind
	// Dropped marks blank lines outside a fence that are omitted from the
	// output when blank lines are not kept.
	Dropped bool
}

// Text returns the stripped content.
func (l Line) Text() string {
	return Strip(l.Raw)
}

// Scan classifies every line in order, threading the fence state through.
func Scan(lines []string, opts Options) []Line {
	var fence FenceTracker
	out := make([]Line, 0, len(lines))

	for i, raw := range lines {
		kind := Classify(raw, fence.InFence(), opts)
		line := Line{Index: i, Raw: raw, Kind: kind}
		if kind == Structural && !fence.InFence() && !opts.KeepBlankLines && IsBlank(raw) {
			line.Dropped = true
		}
		fence.Observe(kind)
		out = append(out, line)
	}

	return out
}
