package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/gml4tdm/checkpointed-go/pipeline"
)

// SQLiteRegistry is the default durable Registry backend: a single SQLite
// file, WAL mode for concurrent reads, one writer at a time.
type SQLiteRegistry struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRegistry opens (creating if absent) a SQLite-backed registry at
// path. Pass ":memory:" for an ephemeral database.
func NewSQLiteRegistry(path string) (*SQLiteRegistry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("registry: open sqlite connection: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("registry: %s: %w", pragma, err)
		}
	}

	r := &SQLiteRegistry{db: db}
	if err := r.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLiteRegistry) createTables(ctx context.Context) error {
	const runsTable = `
		CREATE TABLE IF NOT EXISTS pipeline_runs (
			run_id TEXT PRIMARY KEY,
			pipeline_name TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			error TEXT NOT NULL DEFAULT '',
			matched_count INTEGER NOT NULL DEFAULT 0,
			total_count INTEGER NOT NULL DEFAULT 0
		)
	`
	if _, err := r.db.ExecContext(ctx, runsTable); err != nil {
		return fmt.Errorf("registry: create pipeline_runs: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_runs_pipeline ON pipeline_runs(pipeline_name, started_at)"); err != nil {
		return fmt.Errorf("registry: create idx_runs_pipeline: %w", err)
	}
	const journalTable = `
		CREATE TABLE IF NOT EXISTS remap_journal (
			pipeline_name TEXT PRIMARY KEY,
			mapping TEXT NOT NULL
		)
	`
	if _, err := r.db.ExecContext(ctx, journalTable); err != nil {
		return fmt.Errorf("registry: create remap_journal: %w", err)
	}
	return nil
}

func (r *SQLiteRegistry) RecordRunStart(pipelineName string, startedAt time.Time) (string, error) {
	runID := uuid.NewString()
	_, err := r.db.Exec(
		`INSERT INTO pipeline_runs (run_id, pipeline_name, started_at) VALUES (?, ?, ?)`,
		runID, pipelineName, startedAt,
	)
	if err != nil {
		return "", fmt.Errorf("registry: record run start: %w", err)
	}
	return runID, nil
}

func (r *SQLiteRegistry) RecordRunEnd(runID string, completedAt time.Time, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	_, err := r.db.Exec(
		`UPDATE pipeline_runs SET completed_at = ?, error = ? WHERE run_id = ?`,
		completedAt, msg, runID,
	)
	if err != nil {
		return fmt.Errorf("registry: record run end: %w", err)
	}
	return nil
}

func (r *SQLiteRegistry) RecordRemapStart(pipelineName string, mapping map[pipeline.StepHandle]pipeline.StepHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := RemapJournalEntry{PipelineName: pipelineName, Mapping: mapping}
	blob, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("registry: encode remap journal entry: %w", err)
	}
	if _, err := r.db.Exec(
		`INSERT INTO remap_journal (pipeline_name, mapping) VALUES (?, ?)
		 ON CONFLICT(pipeline_name) DO UPDATE SET mapping = excluded.mapping`,
		pipelineName, string(blob),
	); err != nil {
		return fmt.Errorf("registry: record remap start: %w", err)
	}

	_, _ = r.db.Exec(
		`UPDATE pipeline_runs SET matched_count = ? WHERE run_id = (
			SELECT run_id FROM pipeline_runs WHERE pipeline_name = ? ORDER BY started_at DESC LIMIT 1
		)`,
		len(mapping), pipelineName,
	)
	return nil
}

func (r *SQLiteRegistry) RecordRemapComplete(pipelineName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.db.Exec(`DELETE FROM remap_journal WHERE pipeline_name = ?`, pipelineName); err != nil {
		return fmt.Errorf("registry: record remap complete: %w", err)
	}
	return nil
}

func (r *SQLiteRegistry) PendingRemap(pipelineName string) (map[pipeline.StepHandle]pipeline.StepHandle, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var blob string
	err := r.db.QueryRow(`SELECT mapping FROM remap_journal WHERE pipeline_name = ?`, pipelineName).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("registry: query pending remap: %w", err)
	}
	var entry RemapJournalEntry
	if err := json.Unmarshal([]byte(blob), &entry); err != nil {
		return nil, false, fmt.Errorf("registry: decode remap journal entry: %w", err)
	}
	return entry.Mapping, true, nil
}

func (r *SQLiteRegistry) RecordStore(pipelineName string, _ pipeline.StepHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = r.db.Exec(
		`UPDATE pipeline_runs SET total_count = total_count + 1 WHERE run_id = (
			SELECT run_id FROM pipeline_runs WHERE pipeline_name = ? ORDER BY started_at DESC LIMIT 1
		)`,
		pipelineName,
	)
}

func (r *SQLiteRegistry) Runs(pipelineName string) ([]RunRecord, error) {
	rows, err := r.db.Query(
		`SELECT run_id, pipeline_name, started_at, completed_at, error, matched_count, total_count
		 FROM pipeline_runs WHERE pipeline_name = ? ORDER BY started_at DESC`,
		pipelineName,
	)
	if err != nil {
		return nil, fmt.Errorf("registry: query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		var completedAt sql.NullTime
		if err := rows.Scan(&rec.RunID, &rec.PipelineName, &rec.StartedAt, &completedAt, &rec.Err, &rec.MatchedCount, &rec.TotalCount); err != nil {
			return nil, fmt.Errorf("registry: scan run: %w", err)
		}
		if completedAt.Valid {
			rec.CompletedAt = completedAt.Time
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *SQLiteRegistry) Close() error { return r.db.Close() }
