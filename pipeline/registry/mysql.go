package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/go-sql-driver/mysql"

	"github.com/gml4tdm/checkpointed-go/pipeline"
)

// MySQLRegistry is a MySQL/MariaDB-backed Registry, for centralized run
// history across multiple hosts running the same pipelines.
type MySQLRegistry struct {
	db *sql.DB
	mu sync.Mutex
}

// NewMySQLRegistry opens a connection pool against dsn and ensures the
// registry's schema exists.
func NewMySQLRegistry(dsn string) (*MySQLRegistry, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("registry: open mysql connection: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("registry: ping mysql: %w", err)
	}

	r := &MySQLRegistry{db: db}
	if err := r.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *MySQLRegistry) createTables(ctx context.Context) error {
	const runsTable = `
		CREATE TABLE IF NOT EXISTS pipeline_runs (
			run_id VARCHAR(36) PRIMARY KEY,
			pipeline_name VARCHAR(255) NOT NULL,
			started_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP NULL,
			error TEXT NOT NULL,
			matched_count INT NOT NULL DEFAULT 0,
			total_count INT NOT NULL DEFAULT 0,
			INDEX idx_runs_pipeline (pipeline_name, started_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := r.db.ExecContext(ctx, runsTable); err != nil {
		return fmt.Errorf("registry: create pipeline_runs: %w", err)
	}
	const journalTable = `
		CREATE TABLE IF NOT EXISTS remap_journal (
			pipeline_name VARCHAR(255) PRIMARY KEY,
			mapping TEXT NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := r.db.ExecContext(ctx, journalTable); err != nil {
		return fmt.Errorf("registry: create remap_journal: %w", err)
	}
	return nil
}

func (r *MySQLRegistry) RecordRunStart(pipelineName string, startedAt time.Time) (string, error) {
	runID := uuid.NewString()
	_, err := r.db.Exec(
		`INSERT INTO pipeline_runs (run_id, pipeline_name, started_at, error) VALUES (?, ?, ?, '')`,
		runID, pipelineName, startedAt,
	)
	if err != nil {
		return "", fmt.Errorf("registry: record run start: %w", err)
	}
	return runID, nil
}

func (r *MySQLRegistry) RecordRunEnd(runID string, completedAt time.Time, runErr error) error {
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

func (r *MySQLRegistry) RecordRemapStart(pipelineName string, mapping map[pipeline.StepHandle]pipeline.StepHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := RemapJournalEntry{PipelineName: pipelineName, Mapping: mapping}
	blob, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("registry: encode remap journal entry: %w", err)
	}
	if _, err := r.db.Exec(
		`INSERT INTO remap_journal (pipeline_name, mapping) VALUES (?, ?)
		 ON DUPLICATE KEY UPDATE mapping = VALUES(mapping)`,
		pipelineName, string(blob),
	); err != nil {
		return fmt.Errorf("registry: record remap start: %w", err)
	}

	_, _ = r.db.Exec(
		`UPDATE pipeline_runs p
		 JOIN (SELECT run_id FROM pipeline_runs WHERE pipeline_name = ? ORDER BY started_at DESC LIMIT 1) latest
		 ON p.run_id = latest.run_id
		 SET p.matched_count = ?`,
		pipelineName, len(mapping),
	)
	return nil
}

func (r *MySQLRegistry) RecordRemapComplete(pipelineName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.db.Exec(`DELETE FROM remap_journal WHERE pipeline_name = ?`, pipelineName); err != nil {
		return fmt.Errorf("registry: record remap complete: %w", err)
	}
	return nil
}

func (r *MySQLRegistry) PendingRemap(pipelineName string) (map[pipeline.StepHandle]pipeline.StepHandle, bool, error) {
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

func (r *MySQLRegistry) RecordStore(pipelineName string, _ pipeline.StepHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = r.db.Exec(
		`UPDATE pipeline_runs p
		 JOIN (SELECT run_id FROM pipeline_runs WHERE pipeline_name = ? ORDER BY started_at DESC LIMIT 1) latest
		 ON p.run_id = latest.run_id
		 SET p.total_count = p.total_count + 1`,
		pipelineName,
	)
}

func (r *MySQLRegistry) Runs(pipelineName string) ([]RunRecord, error) {
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

func (r *MySQLRegistry) Close() error { return r.db.Close() }
