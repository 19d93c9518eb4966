package persistence

import (
	"context"
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"
)

// Scope identifies what a cached translation is valid for.
type Scope struct {
	// Endpoint is the API base URL serving Model.
	Endpoint       string
	Model          string
	SourceLanguage string
	TargetLanguage string
	// Prompt is the system instruction. Changing it invalidates the cache.
	Prompt string
}

// Fingerprint hashes the scope and the stripped batch lines. Fields are
// separated by NUL so adjacent values cannot run together.
func Fingerprint(scope Scope, lines []string) string {
	h := blake3.New()
	for _, part := range []string{scope.Endpoint, scope.Model, scope.SourceLanguage, scope.TargetLanguage, scope.Prompt} {
		_, _ = h.WriteString(part)
		_, _ = h.Write([]byte{0})
	}
	for _, line := range lines {
		_, _ = h.WriteString(strings.TrimSpace(line))
		_, _ = h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// BatchCache serves batch translations for a single scope.
type BatchCache struct {
	store *SQLiteStore
	scope Scope
}

func NewBatchCache(store *SQLiteStore, scope Scope) *BatchCache {
	return &BatchCache{store: store, scope: scope}
}

// Lookup returns a cached translation whose length matches lines.
func (c *BatchCache) Lookup(ctx context.Context, lines []string) ([]string, bool, error) {
	entry, ok, err := c.store.LoadBatch(ctx, Fingerprint(c.scope, lines))
	if err != nil || !ok {
		return nil, false, err
	}
	if len(entry.Lines) != len(lines) {
		return nil, false, nil
	}
	return entry.Lines, true, nil
}

// Store saves an aligned translation. Misaligned results are not cached.
func (c *BatchCache) Store(ctx context.Context, lines, translations []string) error {
	if len(lines) == 0 || len(lines) != len(translations) {
		return nil
	}
	return c.store.SaveBatch(ctx, BatchEntry{
		Fingerprint:    Fingerprint(c.scope, lines),
		Model:          c.scope.Model,
		SourceLanguage: c.scope.SourceLanguage,
		TargetLanguage: c.scope.TargetLanguage,
		Lines:          translations,
	})
}
