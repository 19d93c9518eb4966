package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		// embed.FS paths always use forward slashes.
		content, err := migrationFiles.ReadFile(path.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

// LoadBatch returns the cached entry for fingerprint and bumps its hit count.
func (s *SQLiteStore) LoadBatch(ctx context.Context, fingerprint string) (*BatchEntry, bool, error) {
	var entry BatchEntry
	var raw string
	err := s.db.QueryRowContext(
		ctx,
		`SELECT fingerprint, model, source_language, target_language, translated_json, hits, created_at, updated_at
		 FROM batch_translations
		 WHERE fingerprint = ?`,
		fingerprint,
	).Scan(
		&entry.Fingerprint,
		&entry.Model,
		&entry.SourceLanguage,
		&entry.TargetLanguage,
		&raw,
		&entry.Hits,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if err := json.Unmarshal([]byte(raw), &entry.Lines); err != nil {
		return nil, false, fmt.Errorf("decode cached batch %s: %w", fingerprint, err)
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE batch_translations SET hits = hits + 1 WHERE fingerprint = ?`, fingerprint); err != nil {
		return nil, false, err
	}
	entry.Hits++
	return &entry, true, nil
}

func (s *SQLiteStore) SaveBatch(ctx context.Context, entry BatchEntry) error {
	if strings.TrimSpace(entry.Fingerprint) == "" {
		return fmt.Errorf("fingerprint is required")
	}
	raw, err := json.Marshal(entry.Lines)
	if err != nil {
		return err
	}
	now := s.now()
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO batch_translations (
			fingerprint, model, source_language, target_language, line_count, translated_json, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			translated_json=excluded.translated_json,
			line_count=excluded.line_count,
			updated_at=excluded.updated_at`,
		entry.Fingerprint,
		entry.Model,
		entry.SourceLanguage,
		entry.TargetLanguage,
		len(entry.Lines),
		string(raw),
		now,
		now,
	)
	return err
}

// PurgeBatchesBefore removes cache entries not refreshed since cutoff.
func (s *SQLiteStore) PurgeBatchesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM batch_translations WHERE updated_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) CountBatches(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM batch_translations`).Scan(&n)
	return n, err
}

func (s *SQLiteStore) UpsertRun(ctx context.Context, run *Run) error {
	if run == nil {
		return fmt.Errorf("run is nil")
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO runs (
			id, input_path, output_path, status, mode, target_language,
			batches, failed_batches, cached_batches, error, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			output_path=excluded.output_path,
			status=excluded.status,
			batches=excluded.batches,
			failed_batches=excluded.failed_batches,
			cached_batches=excluded.cached_batches,
			error=excluded.error,
			finished_at=excluded.finished_at`,
		run.ID,
		run.InputPath,
		run.OutputPath,
		string(run.Status),
		run.Mode,
		run.TargetLanguage,
		run.Batches,
		run.FailedBatches,
		run.CachedBatches,
		run.Error,
		run.StartedAt.UTC(),
		nullableTime(run.FinishedAt),
	)
	return err
}

// LoadRuns returns the most recent runs first.
func (s *SQLiteStore) LoadRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, input_path, output_path, status, mode, target_language,
			batches, failed_batches, cached_batches, error, started_at, finished_at
		 FROM runs
		 ORDER BY started_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]Run, 0)
	for rows.Next() {
		var item Run
		var status string
		var finished sql.NullTime
		if err := rows.Scan(
			&item.ID,
			&item.InputPath,
			&item.OutputPath,
			&status,
			&item.Mode,
			&item.TargetLanguage,
			&item.Batches,
			&item.FailedBatches,
			&item.CachedBatches,
			&item.Error,
			&item.StartedAt,
			&finished,
		); err != nil {
			return nil, err
		}
		item.Status = RunStatus(status)
		if finished.Valid {
			t := finished.Time
			item.FinishedAt = &t
		}
		ret = append(ret, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
