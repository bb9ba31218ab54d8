// Package store persists sweep runs in a SQLite ledger so interrupted or
// failed sweeps can be inspected after the fact.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"fidsweep/internal/logging"
	"fidsweep/internal/sweep"

	_ "modernc.org/sqlite"
)

var (
	ErrRunNotFound  = errors.New("run not found")
	ErrAmbiguousRun = errors.New("run id prefix is ambiguous")
)

// Ledger records sweep runs and their invocations. It implements sweep.Recorder.
type Ledger struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

var _ sweep.Recorder = (*Ledger)(nil)

// RunRecord is a persisted sweep run.
type RunRecord struct {
	ID         string       `json:"id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at,omitempty"`
	Program    string       `json:"program"`
	BaseDir    string       `json:"base_dir"`
	Planned    int          `json:"planned"`
	FailFast   bool         `json:"fail_fast"`
	Status     sweep.Status `json:"status"`
	Completed  int          `json:"completed"`
	Failed     int          `json:"failed"`
}

// Skipped counts planned invocations that never ran.
func (r RunRecord) Skipped() int {
	if r.Status == sweep.StatusRunning {
		return 0
	}
	return r.Planned - r.Completed - r.Failed
}

// InvocationRecord is a persisted invocation outcome.
type InvocationRecord struct {
	RunID      string        `json:"run_id"`
	Seq        int           `json:"seq"`
	Stage      sweep.Stage   `json:"stage"`
	Fiducial   int           `json:"fiducial"`
	Face       int           `json:"face"`
	Label      string        `json:"label"`
	Args       []string      `json:"args"`
	Command    string        `json:"command"`
	ExitCode   int           `json:"exit_code"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
	OutputTail string        `json:"output_tail,omitempty"`
}

// Succeeded reports whether the invocation exited cleanly.
func (r InvocationRecord) Succeeded() bool { return r.Error == "" }

// Open opens (creating if needed) the ledger database at path.
func Open(path string) (*Ledger, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	// The sweep changes the working directory, so a relative path must not
	// be resolved again when the pool reconnects.
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve database path: %w", err)
	}
	path = abs
	logging.Store("Opening run ledger at %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logging.StoreError("Failed to create directory %s: %v", dir, err)
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		logging.StoreError("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}

	l := &Ledger{db: db, dbPath: path}
	if err := l.ensureSchema(); err != nil {
		logging.StoreError("Failed to ensure ledger schema: %v", err)
		db.Close()
		return nil, fmt.Errorf("failed to ensure ledger schema: %w", err)
	}
	return l, nil
}

// ensureSchema creates the ledger tables if they don't exist.
func (l *Ledger) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sweep_runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		program TEXT NOT NULL,
		base_dir TEXT NOT NULL,
		planned INTEGER NOT NULL,
		fail_fast BOOLEAN NOT NULL,
		status TEXT NOT NULL,
		completed INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS sweep_invocations (
		run_id TEXT NOT NULL REFERENCES sweep_runs(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		stage TEXT NOT NULL,
		fiducial INTEGER NOT NULL,
		face INTEGER NOT NULL,
		label TEXT NOT NULL,
		args TEXT NOT NULL,
		command TEXT NOT NULL,
		exit_code INTEGER NOT NULL,
		started_at TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		error TEXT,
		output_tail TEXT,
		PRIMARY KEY (run_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON sweep_runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_invocations_label ON sweep_invocations(label);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Path returns the database file path.
func (l *Ledger) Path() string { return l.dbPath }

// Close closes the database.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Close()
}

// BeginRun inserts a run in the running state.
func (l *Ledger) BeginRun(ctx context.Context, run sweep.RunInfo) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO sweep_runs (id, started_at, program, base_dir, planned, fail_fast, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, formatTime(run.StartedAt), run.Program, run.BaseDir, run.Planned, run.FailFast, string(sweep.StatusRunning))
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	logging.StoreDebug("Began run %s (%d planned)", run.ID, run.Planned)
	return nil
}

// RecordOutcome stores one invocation outcome.
func (l *Ledger) RecordOutcome(ctx context.Context, runID string, out sweep.Outcome) error {
	args, err := json.Marshal(out.Invocation.Args)
	if err != nil {
		return fmt.Errorf("failed to marshal args: %w", err)
	}
	var errText sql.NullString
	if out.Err != nil {
		errText = sql.NullString{String: out.Err.Error(), Valid: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, err = l.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sweep_invocations
			(run_id, seq, stage, fiducial, face, label, args, command, exit_code, started_at, duration_ms, error, output_tail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, out.Invocation.Seq, string(out.Invocation.Stage), out.Invocation.Fiducial, out.Invocation.Face,
		out.Invocation.Label(), string(args), out.Command, out.ExitCode, formatTime(out.StartedAt),
		out.Duration.Milliseconds(), errText, out.OutputTail)
	if err != nil {
		return fmt.Errorf("failed to record invocation %d of run %s: %w", out.Invocation.Seq, runID, err)
	}
	return nil
}

// FinishRun stores the final status and counts of a run.
func (l *Ledger) FinishRun(ctx context.Context, report *sweep.Report) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, err := l.db.ExecContext(ctx, `
		UPDATE sweep_runs SET finished_at = ?, status = ?, completed = ?, failed = ?
		WHERE id = ?`,
		formatTime(report.FinishedAt), string(report.Status), report.Completed(), len(report.Failures()), report.ID)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", report.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %s: %w", report.ID, ErrRunNotFound)
	}
	logging.Store("Run %s finished: %s", report.ID, report.Status)
	return nil
}

const runColumns = `id, started_at, finished_at, program, base_dir, planned, fail_fast, status, completed, failed`

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (l *Ledger) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	query := `SELECT ` + runColumns + ` FROM sweep_runs ORDER BY started_at DESC, id`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = l.db.QueryContext(ctx, query+` LIMIT ?`, limit)
	} else {
		rows, err = l.db.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns the run whose ID equals or uniquely starts with id.
func (l *Ledger) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	if id == "" {
		return nil, ErrRunNotFound
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM sweep_runs WHERE id = ? OR substr(id, 1, ?) = ? ORDER BY id = ? DESC LIMIT 2`,
		id, len(id), id, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query run %s: %w", id, err)
	}
	defer rows.Close()

	var found []RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		found = append(found, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch {
	case len(found) == 0:
		return nil, fmt.Errorf("%s: %w", id, ErrRunNotFound)
	case found[0].ID == id:
		return &found[0], nil
	case len(found) > 1:
		return nil, fmt.Errorf("%s: %w", id, ErrAmbiguousRun)
	}
	return &found[0], nil
}

// Invocations returns the recorded outcomes of a run in plan order.
func (l *Ledger) Invocations(ctx context.Context, runID string) ([]InvocationRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.QueryContext(ctx, `
		SELECT run_id, seq, stage, fiducial, face, label, args, command, exit_code, started_at, duration_ms, error, output_tail
		FROM sweep_invocations WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query invocations of %s: %w", runID, err)
	}
	defer rows.Close()

	var records []InvocationRecord
	for rows.Next() {
		var (
			rec        InvocationRecord
			stage      string
			args       string
			startedAt  string
			durationMs int64
			errText    sql.NullString
			tail       sql.NullString
		)
		if err := rows.Scan(&rec.RunID, &rec.Seq, &stage, &rec.Fiducial, &rec.Face, &rec.Label, &args,
			&rec.Command, &rec.ExitCode, &startedAt, &durationMs, &errText, &tail); err != nil {
			return nil, fmt.Errorf("failed to scan invocation: %w", err)
		}
		if err := json.Unmarshal([]byte(args), &rec.Args); err != nil {
			return nil, fmt.Errorf("failed to decode args of invocation %d: %w", rec.Seq, err)
		}
		rec.Stage = sweep.Stage(stage)
		rec.StartedAt = parseTime(startedAt)
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		rec.Error = errText.String
		rec.OutputTail = tail.String
		records = append(records, rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (RunRecord, error) {
	var (
		run        RunRecord
		startedAt  string
		finishedAt sql.NullString
		status     string
	)
	if err := s.Scan(&run.ID, &startedAt, &finishedAt, &run.Program, &run.BaseDir, &run.Planned,
		&run.FailFast, &status, &run.Completed, &run.Failed); err != nil {
		return run, fmt.Errorf("failed to scan run: %w", err)
	}
	run.StartedAt = parseTime(startedAt)
	if finishedAt.Valid {
		run.FinishedAt = parseTime(finishedAt.String)
	}
	run.Status = sweep.Status(status)
	return run, nil
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		logging.StoreDebug("Unparseable timestamp %q: %v", s, err)
		return time.Time{}
	}
	return t
}
