package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/contextual-book-translator/internal/document"
	"github.com/MimeLyc/contextual-book-translator/internal/merge"
	"github.com/MimeLyc/contextual-book-translator/internal/segment"
	"github.com/MimeLyc/contextual-book-translator/internal/translator"
)

// funcTranslator adapts a function to translator.Translator and records calls.
type funcTranslator struct {
	mu    sync.Mutex
	calls [][]string
	fn    func(ctx context.Context, lines []string) ([]string, error)
}

func (f *funcTranslator) Translate(ctx context.Context, lines []string) ([]string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), lines...))
	f.mu.Unlock()
	return f.fn(ctx, lines)
}

func (f *funcTranslator) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func upper() *funcTranslator {
	return &funcTranslator{fn: func(_ context.Context, lines []string) ([]string, error) {
		out := make([]string, len(lines))
		for i, l := range lines {
			out[i] = strings.ToUpper(l)
		}
		return out, nil
	}}
}

func identity() *funcTranslator {
	return &funcTranslator{fn: func(_ context.Context, lines []string) ([]string, error) {
		return append([]string(nil), lines...), nil
	}}
}

func doc(lines ...string) *document.Document {
	return &document.Document{Lines: lines}
}

func TestRunScenario(t *testing.T) {
	t.Parallel()

	tr := &funcTranslator{fn: func(_ context.Context, lines []string) ([]string, error) {
		require.Equal(t, []string{"Hello world"}, lines)
		return []string{"你好世界"}, nil
	}}

	res, err := New(tr, Options{}).Run(context.Background(),
		doc("# Title\n", "Hello world\n", "```\n", "code();\n", "```\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"# Title\n",
		"Hello world\n",
		"你好世界\n",
		"```\n",
		"code();\n",
		"```\n",
	}, res.Lines)
	require.Len(t, res.Batches, 1)
	assert.Equal(t, OutcomeSuccess, res.Batches[0].Outcome)
	assert.Equal(t, 1, res.Batches[0].FirstLine)
	assert.Equal(t, 1, res.Batches[0].LastLine)
	assert.NotEqual(t, uuid.Nil, res.RunID)
}

func TestRunShapeMismatchAppend(t *testing.T) {
	t.Parallel()

	tr := &funcTranslator{fn: func(_ context.Context, lines []string) ([]string, error) {
		return []string{"一", "二"}, translator.NewError(translator.ShapeMismatch, "segment count mismatch")
	}}

	res, err := New(tr, Options{}).Run(context.Background(), doc("One\n", "Two\n", "Three\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"One\n", "一\n", "Two\n", "二\n", "Three\n"}, res.Lines)
	require.Len(t, res.Batches, 1)
	assert.Equal(t, OutcomeShapeMismatch, res.Batches[0].Outcome)
	assert.Equal(t, 2, res.Batches[0].Returned)
	assert.Equal(t, 1, res.Failed())
}

func TestRunShapeMismatchOverwrite(t *testing.T) {
	t.Parallel()

	tr := &funcTranslator{fn: func(_ context.Context, lines []string) ([]string, error) {
		return []string{"一", "二"}, translator.NewError(translator.ShapeMismatch, "segment count mismatch")
	}}

	res, err := New(tr, Options{Mode: merge.Overwrite}).Run(context.Background(), doc("# H\n", "One\n", "Two\n", "Three\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"# H\n", "一\n", "二\n"}, res.Lines)
}

func TestRunFailedBatchDegrades(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		outcome Outcome
	}{
		{name: "exhausted", err: translator.NewError(translator.Transient, "retries exhausted"), outcome: OutcomeExhausted},
		{name: "fatal", err: translator.NewError(translator.Fatal, "bad request"), outcome: OutcomeFatal},
		{name: "untyped", err: errors.New("boom"), outcome: OutcomeFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &funcTranslator{fn: func(_ context.Context, lines []string) ([]string, error) {
				if lines[0] == "Bad" {
					return nil, tt.err
				}
				return []string{"ok"}, nil
			}}
			input := doc("Bad\n", "# Sep\n", "Good\n")

			res, err := New(tr, Options{}).Run(context.Background(), input)
			require.NoError(t, err)
			assert.Equal(t, []string{"Bad\n", "# Sep\n", "Good\n", "ok\n"}, res.Lines)
			assert.Equal(t, tt.outcome, res.Batches[0].Outcome)
			assert.Equal(t, OutcomeSuccess, res.Batches[1].Outcome)

			res, err = New(tr, Options{Mode: merge.Overwrite}).Run(context.Background(), input)
			require.NoError(t, err)
			assert.Equal(t, []string{"# Sep\n", "ok\n"}, res.Lines)
		})
	}
}

func TestRunBlankLines(t *testing.T) {
	t.Parallel()

	input := doc("A\n", "\n", "B\n", "```\n", "\n", "```\n")

	tr := upper()
	res, err := New(tr, Options{}).Run(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, []string{"A\n", "A\n", "B\n", "B\n", "```\n", "\n", "```\n"}, res.Lines)
	assert.Equal(t, [][]string{{"A", "B"}}, tr.Calls(), "a dropped blank line does not split the batch")

	tr = upper()
	res, err = New(tr, Options{Segment: segment.Options{KeepBlankLines: true}}).Run(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, []string{"A\n", "A\n", "\n", "B\n", "B\n", "```\n", "\n", "```\n"}, res.Lines)
	assert.Equal(t, [][]string{{"A"}, {"B"}}, tr.Calls())
}

func TestRunStructuralFlushes(t *testing.T) {
	t.Parallel()

	tr := upper()
	res, err := New(tr, Options{Mode: merge.Overwrite}).Run(context.Background(),
		doc("a\n", "b\n", "![img](x.png)\n", "c\n", "[link](y)\n", "d\n"))
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"a", "b"}, {"c"}, {"d"}}, tr.Calls())
	assert.Equal(t, []string{"A\n", "B\n", "![img](x.png)\n", "C\n", "[link](y)\n", "D\n"}, res.Lines)
}

func TestRunBatchBudgets(t *testing.T) {
	t.Parallel()

	var lines []string
	for i := 0; i < 23; i++ {
		lines = append(lines, fmt.Sprintf("line %02d\n", i))
	}

	tr := identity()
	res, err := New(tr, Options{MaxLines: 5, MaxChars: 1000}).Run(context.Background(), doc(lines...))
	require.NoError(t, err)

	require.Len(t, res.Batches, 5)
	for _, call := range tr.Calls() {
		assert.LessOrEqual(t, len(call), 5)
	}
	assert.Equal(t, 20, res.Batches[4].FirstLine)
	assert.Equal(t, 22, res.Batches[4].LastLine)
	assert.Len(t, res.Lines, 46)
}

func TestRunPassThroughAndOrder(t *testing.T) {
	t.Parallel()

	input := doc(
		"# Chapter 1\n",
		"First para.\n",
		"Second para.\n",
		"```cpp\n",
		"int main() {}\n",
		"```\n",
		"![fig](a.png)\n",
		"Third para.\n",
	)

	res, err := New(upper(), Options{MaxLines: 1}).Run(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"# Chapter 1\n",
		"First para.\n", "FIRST PARA.\n",
		"Second para.\n", "SECOND PARA.\n",
		"```cpp\n",
		"int main() {}\n",
		"```\n",
		"![fig](a.png)\n",
		"Third para.\n", "THIRD PARA.\n",
	}, res.Lines)
}

func TestRunFenceInvolution(t *testing.T) {
	t.Parallel()

	input := doc(
		"Intro\n",
		"```\n",
		"Not translated\n",
		"# not a heading\n",
		"```\n",
		"```\n",
		"still code\n",
		"```\n",
		"Outro\n",
	)

	tr := upper()
	res, err := New(tr, Options{Mode: merge.Overwrite}).Run(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"Intro"}, {"Outro"}}, tr.Calls())
	assert.Equal(t, []string{
		"INTRO\n",
		"```\n", "Not translated\n", "# not a heading\n", "```\n",
		"```\n", "still code\n", "```\n",
		"OUTRO\n",
	}, res.Lines)
}

func TestRunUnclosedFence(t *testing.T) {
	t.Parallel()

	tr := upper()
	res, err := New(tr, Options{}).Run(context.Background(), doc("Before\n", "```\n", "After\n"))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Before"}}, tr.Calls())
	assert.Equal(t, []string{"Before\n", "BEFORE\n", "```\n", "After\n"}, res.Lines)
}

func TestRunOverwriteIdempotent(t *testing.T) {
	t.Parallel()

	input := doc(
		"# Title\n",
		"\n",
		"  Hello world  \n",
		"Second line\n",
		"```\n",
		"code();\n",
		"\n",
		"```\n",
		"[link](x)\n",
		"Tail",
	)

	d := New(identity(), Options{Mode: merge.Overwrite})
	first, err := d.Run(context.Background(), input)
	require.NoError(t, err)

	second, err := d.Run(context.Background(), doc(first.Lines...))
	require.NoError(t, err)
	assert.Equal(t, first.Lines, second.Lines)
}

func TestRunConcurrentMatchesSequential(t *testing.T) {
	t.Parallel()

	var lines []string
	for i := 0; i < 60; i++ {
		switch {
		case i%13 == 0:
			lines = append(lines, fmt.Sprintf("## Section %d\n", i))
		case i%17 == 0:
			lines = append(lines, "```\n", "x := 1\n", "```\n")
		default:
			lines = append(lines, fmt.Sprintf("Sentence number %d.\n", i))
		}
	}

	sequential, err := New(upper(), Options{MaxLines: 3}).Run(context.Background(), doc(lines...))
	require.NoError(t, err)

	var inFlight, peak atomic.Int32
	slow := &funcTranslator{fn: func(ctx context.Context, batch []string) ([]string, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		return upper().fn(ctx, batch)
	}}

	concurrent, err := New(slow, Options{MaxLines: 3, Concurrency: 4}).Run(context.Background(), doc(lines...))
	require.NoError(t, err)

	assert.Equal(t, sequential.Lines, concurrent.Lines)
	require.Equal(t, len(sequential.Batches), len(concurrent.Batches))
	for i := range concurrent.Batches {
		assert.Equal(t, i, concurrent.Batches[i].Seq)
	}
	assert.LessOrEqual(t, peak.Load(), int32(4))
}

func TestRunCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	tr := &funcTranslator{fn: func(ctx context.Context, lines []string) ([]string, error) {
		if lines[0] == "First" {
			cancel()
			return []string{"FIRST"}, nil
		}
		return nil, translator.NewError(translator.Transient, "unreachable")
	}}

	res, err := New(tr, Options{}).Run(ctx, doc("First\n", "# H\n", "Second\n"))
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)

	assert.Equal(t, []string{"First\n", "FIRST\n", "# H\n", "Second\n"}, res.Lines)
	assert.Equal(t, OutcomeSuccess, res.Batches[0].Outcome)
	assert.Equal(t, OutcomeCancelled, res.Batches[1].Outcome)
	assert.Len(t, tr.Calls(), 1)
}

func TestRunEmptyDocument(t *testing.T) {
	t.Parallel()

	tr := identity()
	_, err := New(tr, Options{}).Run(context.Background(), doc())
	require.Error(t, err)
	assert.True(t, translator.IsKind(err, translator.EmptyInput))
	assert.Empty(t, tr.Calls())
}

func TestRunNoTranslatableLines(t *testing.T) {
	t.Parallel()

	tr := identity()
	res, err := New(tr, Options{}).Run(context.Background(), doc("# Only\n", "![img](a.png)\n"))
	require.NoError(t, err)
	assert.Empty(t, tr.Calls())
	assert.Empty(t, res.Batches)
	assert.Equal(t, []string{"# Only\n", "![img](a.png)\n"}, res.Lines)
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]string
	stores  int
}

func (c *memoryCache) key(lines []string) string {
	return strings.Join(lines, "\x00")
}

func (c *memoryCache) Lookup(_ context.Context, lines []string) ([]string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	got, ok := c.entries[c.key(lines)]
	return got, ok, nil
}

func (c *memoryCache) Store(_ context.Context, lines, translations []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[string][]string)
	}
	c.entries[c.key(lines)] = translations
	c.stores++
	return nil
}

func TestRunUsesCache(t *testing.T) {
	t.Parallel()

	cache := &memoryCache{}
	input := doc("Hello\n", "# H\n", "World\n")

	tr := upper()
	first, err := New(tr, Options{Cache: cache}).Run(context.Background(), input)
	require.NoError(t, err)
	assert.Len(t, tr.Calls(), 2)
	assert.Equal(t, 2, cache.stores)
	assert.Equal(t, 0, first.Cached())

	tr2 := upper()
	second, err := New(tr2, Options{Cache: cache}).Run(context.Background(), input)
	require.NoError(t, err)
	assert.Empty(t, tr2.Calls())
	assert.Equal(t, 2, second.Cached())
	assert.Equal(t, first.Lines, second.Lines)
}

func TestRunDoesNotCacheMismatch(t *testing.T) {
	t.Parallel()

	cache := &memoryCache{}
	tr := &funcTranslator{fn: func(_ context.Context, lines []string) ([]string, error) {
		return []string{"x"}, translator.NewError(translator.ShapeMismatch, "segment count mismatch")
	}}

	_, err := New(tr, Options{Cache: cache}).Run(context.Background(), doc("a\n", "b\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, cache.stores)
}
