package translator

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/language"
	"golang.org/x/time/rate"

	"github.com/MimeLyc/contextual-book-translator/pkg/log"
)

const (
	DefaultAttempts  = 5
	DefaultBaseDelay = time.Second

	lineSeparator = "\n"
)

// Completer sends one system instruction and one user message to a chat
// model and returns the assistant text.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Translator translates a batch of lines, one output segment per input line.
type Translator interface {
	Translate(ctx context.Context, lines []string) ([]string, error)
}

type sleepFunc func(ctx context.Context, d time.Duration) error

// BatchTranslator sends batches to a Completer and retries transient
// failures with exponential backoff.
type BatchTranslator struct {
	completer Completer
	source    language.Tag
	target    language.Tag
	domain    string
	attempts  int
	baseDelay time.Duration
	limiter   *rate.Limiter
	sleep     sleepFunc
	system    string
}

type Option func(*BatchTranslator)

func WithLanguages(source, target language.Tag) Option {
	return func(t *BatchTranslator) {
		t.source = source
		t.target = target
	}
}

// WithDomain adds a subject hint such as "Qt and C++ programming" to the
// instruction.
func WithDomain(domain string) Option {
	return func(t *BatchTranslator) {
		t.domain = strings.TrimSpace(domain)
	}
}

func WithRetry(attempts int, baseDelay time.Duration) Option {
	return func(t *BatchTranslator) {
		if attempts > 0 {
			t.attempts = attempts
		}
		if baseDelay >= 0 {
			t.baseDelay = baseDelay
		}
	}
}

// WithRequestsPerMinute paces outgoing calls. Zero disables pacing.
func WithRequestsPerMinute(n int) Option {
	return func(t *BatchTranslator) {
		if n <= 0 {
			t.limiter = nil
			return
		}
		t.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), 1)
	}
}

func New(completer Completer, opts ...Option) *BatchTranslator {
	t := &BatchTranslator{
		completer: completer,
		source:    language.English,
		target:    language.SimplifiedChinese,
		attempts:  DefaultAttempts,
		baseDelay: DefaultBaseDelay,
		sleep:     sleepWithContext,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.system = buildSystemPrompt(t.source, t.target, t.domain)
	return t
}

// SystemPrompt returns the instruction sent with every batch.
func (t *BatchTranslator) SystemPrompt() string {
	return t.system
}

// Translate sends lines as one request. Empty input returns nil without
// calling the service.
//
// When the service answers with a different number of segments, the
// segments are returned together with a ShapeMismatch error. Exhausted
// retries, fatal failures and cancellation return no segments.
func (t *BatchTranslator) Translate(ctx context.Context, lines []string) ([]string, error) {
	if len(lines) == 0 {
		return nil, nil
	}

	user := joinLines(lines)
	log.Info("Translating batch: %d lines, %d chars", len(lines), utf8.RuneCountInString(user))
	log.Debug("Batch content:\n%s", user)

	var lastErr error
	for attempt := 0; attempt < t.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, cancelled(err, attempt)
		}
		if t.limiter != nil {
			if err := t.limiter.Wait(ctx); err != nil {
				return nil, cancelled(err, attempt)
			}
		}

		// Cancellation applies between attempts, never to a started request.
		content, err := t.completer.Complete(context.WithoutCancel(ctx), t.system, user)
		if err == nil {
			segments := SplitSegments(content)
			log.Info("Batch translated: %d segments, %d chars", len(segments), utf8.RuneCountInString(content))
			log.Debug("Batch result:\n%s", content)

			if len(segments) != len(lines) {
				log.Error("Segment count mismatch: expected %d, got %d", len(lines), len(segments))
				return segments, NewError(ShapeMismatch, "segment count mismatch").
					WithContext("expected", len(lines)).
					WithContext("got", len(segments))
			}
			return segments, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, cancelled(ctxErr, attempt+1)
		}

		if Classify(err) != Transient {
			log.Error("Batch translation failed (not retryable): %v", err)
			return nil, WrapError(err, Fatal, "translation request failed").
				WithContext("attempt", attempt+1)
		}

		lastErr = err
		if attempt == t.attempts-1 {
			log.Warn("Batch translation failed (retryable, attempt %d/%d): %v", attempt+1, t.attempts, err)
			break
		}

		delay := t.backoff(attempt)
		log.Warn("Batch translation failed (retryable, attempt %d/%d): %v, retrying in %.1fs",
			attempt+1, t.attempts, err, delay.Seconds())
		if err := t.sleep(ctx, delay); err != nil {
			return nil, cancelled(err, attempt+1)
		}
	}

	log.Error("Batch translation gave up after %d attempts", t.attempts)
	return nil, WrapError(lastErr, Transient, "retries exhausted").
		WithContext("attempts", t.attempts)
}

func (t *BatchTranslator) backoff(attempt int) time.Duration {
	return t.baseDelay * time.Duration(1<<attempt)
}

func cancelled(err error, attempts int) *Error {
	return WrapError(err, Transient, "translation cancelled").
		WithContext("attempts", attempts)
}

func joinLines(lines []string) string {
	stripped := make([]string, len(lines))
	for i, l := range lines {
		stripped[i] = strings.TrimSpace(l)
	}
	return strings.Join(stripped, lineSeparator)
}

// SplitSegments splits a response on the line separator, trims each part and
// drops empty ones.
func SplitSegments(content string) []string {
	parts := strings.Split(content, lineSeparator)
	segments := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
