package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/contextual-book-translator/internal/llm"
	"github.com/MimeLyc/contextual-book-translator/internal/merge"
	"github.com/MimeLyc/contextual-book-translator/internal/persistence"
	"github.com/MimeLyc/contextual-book-translator/internal/translator"
)

// newUpperServer answers every chat request with the user message upper-cased.
// The first failFirst requests get a 429.
func newUpperServer(t *testing.T, failFirst int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n <= failFirst {
			http.Error(w, `{"error":{"message":"slow down","type":"rate_limit"}}`, http.StatusTooManyRequests)
			return
		}

		var req llm.ChatRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		user := req.Messages[len(req.Messages)-1].Content

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "chatcmpl-test",
			"model": req.Model,
			"choices": []any{map[string]any{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": strings.ToUpper(user)},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newLiveRunner(t *testing.T, url string, store *persistence.SQLiteStore) *Runner {
	t.Helper()
	client, err := llm.NewClient(&llm.Config{
		APIKey:      "test-key",
		APIURL:      url,
		Model:       "test-model",
		MaxTokens:   1000,
		Temperature: 0.3,
		Timeout:     5,
	})
	require.NoError(t, err)

	cfg := testConfig(merge.Append)
	cfg.Batch.MaxLines = 2
	cfg.Batch.Concurrency = 2

	bt := translator.New(client,
		translator.WithLanguages(cfg.Translate.SourceLanguage, cfg.Translate.TargetLanguage),
		translator.WithRetry(3, 0),
	)
	cache := persistence.NewBatchCache(store, persistence.Scope{
		Endpoint:       url,
		Model:          client.Model(),
		SourceLanguage: cfg.Translate.SourceLanguage.String(),
		TargetLanguage: cfg.Translate.TargetLanguage.String(),
		Prompt:         bt.SystemPrompt(),
	})
	return NewRunner(cfg, bt, WithCache(cache), WithRunRecorder(store))
}

func TestRunnerEndToEndWithCache(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "qt.md")
	writeFile(t, input, "# Scene graph\none\ntwo\nthree\n```\nkeep();\n```\nfour\n")

	srv, calls := newUpperServer(t, 1)
	store := newTestStore(t)
	runner := newLiveRunner(t, srv.URL, store)

	report, err := runner.TranslateFile(context.Background(), input, "")
	require.NoError(t, err)
	assert.Equal(t, persistence.RunSucceeded, report.Status)
	assert.Equal(t, 3, report.Batches)
	// Three batches plus one rate-limited retry.
	assert.EqualValues(t, 4, calls.Load())

	out, err := os.ReadFile(report.OutputPath)
	require.NoError(t, err)
	assert.Equal(t,
		"# Scene graph\none\nONE\ntwo\nTWO\nthree\nTHREE\n```\nkeep();\n```\nfour\nFOUR\n",
		string(out))

	second, err := runner.TranslateFile(context.Background(), input, filepath.Join(dir, "again.md"))
	require.NoError(t, err)
	assert.Equal(t, 3, second.Cached)
	assert.EqualValues(t, 4, calls.Load())

	again, err := os.ReadFile(filepath.Join(dir, "again.md"))
	require.NoError(t, err)
	assert.Equal(t, string(out), string(again))

	n, err := store.CountBatches(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	runs, err := store.LoadRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}
