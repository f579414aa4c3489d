package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/me/kernsim/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	if dbPath == ":memory:" {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	s.logger.Debug("sql", "op", "insert", "table", "runs", "id", run.ID)

	cfg := run.Config
	if cfg == "" {
		cfg = "{}"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, config, ticks, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, cfg, int64(run.Ticks), run.StartedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	s.logger.Debug("sql", "op", "select", "table", "runs", "id", id)

	row := s.db.QueryRowContext(ctx,
		`SELECT id, config, ticks, started_at, finished_at FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "runs", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, config, ticks, started_at, finished_at FROM runs
		 ORDER BY started_at DESC, id LIMIT ? OFFSET ?`, opts.Limit, opts.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

func (s *SQLiteStore) FinishRun(ctx context.Context, id string, ticks uint64, finishedAt time.Time) error {
	s.logger.Debug("sql", "op", "update", "table", "runs", "id", id, "ticks", ticks)

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET ticks = ?, finished_at = ? WHERE id = ?`,
		int64(ticks), finishedAt.Format(time.RFC3339Nano), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("finish run %s: not found", id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*model.Run, error) {
	var run model.Run
	var ticks int64
	var startedAt string
	var finishedAt *string
	if err := sc.Scan(&run.ID, &run.Config, &ticks, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	run.Ticks = uint64(ticks)
	run.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	if finishedAt != nil {
		t, _ := time.Parse(time.RFC3339Nano, *finishedAt)
		run.FinishedAt = &t
	}
	return &run, nil
}

// --- Events ---

// RecordEvents appends a batch of scheduler events in one transaction.
func (s *SQLiteStore) RecordEvents(ctx context.Context, runID string, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	s.logger.Debug("sql", "op", "insert", "table", "events", "run_id", runID, "count", len(events))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (run_id, seq, tick, kind, pid, name, state, detail, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err := stmt.ExecContext(ctx,
			runID, int64(ev.Seq), int64(ev.Tick), string(ev.Kind), int64(ev.PID),
			ev.Name, string(ev.State), ev.Detail, ev.Error,
		); err != nil {
			return fmt.Errorf("insert event %d: %w", ev.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListEvents returns events of a run in sequence order, optionally
// filtered by kind and pid.
func (s *SQLiteStore) ListEvents(ctx context.Context, runID string, opts model.ListOptions) ([]model.Event, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "events", "run_id", runID, "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	// Build WHERE clause dynamically based on filters.
	whereClauses := []string{"run_id = ?"}
	countArgs := []any{runID}
	if opts.Kind != "" {
		whereClauses = append(whereClauses, "kind = ?")
		countArgs = append(countArgs, opts.Kind)
	}
	if opts.PID != 0 {
		whereClauses = append(whereClauses, "pid = ?")
		countArgs = append(countArgs, int64(opts.PID))
	}
	whereSQL := " WHERE " + strings.Join(whereClauses, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`+whereSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQuery := `SELECT seq, tick, kind, pid, name, state, detail, error FROM events` +
		whereSQL + ` ORDER BY seq LIMIT ? OFFSET ?`
	listArgs := append(countArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var ev model.Event
		var seq, tick, pid int64
		var kind, state string
		if err := rows.Scan(&seq, &tick, &kind, &pid, &ev.Name, &state, &ev.Detail, &ev.Error); err != nil {
			return nil, 0, err
		}
		ev.Seq = uint64(seq)
		ev.Tick = uint64(tick)
		ev.Kind = model.EventKind(kind)
		ev.PID = uint32(pid)
		ev.State = model.ProcessState(state)
		events = append(events, ev)
	}
	return events, total, rows.Err()
}

// --- Processes ---

// SaveProcess records the final accounting of a process.
func (s *SQLiteStore) SaveProcess(ctx context.Context, runID string, p model.Process) error {
	s.logger.Debug("sql", "op", "upsert", "table", "processes", "run_id", runID, "pid", p.PID)

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO processes
		 (run_id, pid, name, uid, priority, state, entry_point, cpu_time, dispatches, created_tick, exit_status, exit_cause)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, int64(p.PID), p.Name, int64(p.UID), int64(p.Priority), string(p.State),
		int64(p.EntryPoint), int64(p.CPUTime), int64(p.Dispatches), int64(p.CreatedTick),
		p.ExitStatus, p.ExitCause,
	)
	return err
}

func (s *SQLiteStore) ListProcesses(ctx context.Context, runID string) ([]model.Process, error) {
	s.logger.Debug("sql", "op", "list", "table", "processes", "run_id", runID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT pid, name, uid, priority, state, entry_point, cpu_time, dispatches, created_tick, exit_status, exit_cause
		 FROM processes WHERE run_id = ? ORDER BY pid`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var procs []model.Process
	for rows.Next() {
		var p model.Process
		var pid, uid, priority, entry, cpuTime, dispatches, created int64
		var state string
		if err := rows.Scan(&pid, &p.Name, &uid, &priority, &state, &entry,
			&cpuTime, &dispatches, &created, &p.ExitStatus, &p.ExitCause); err != nil {
			return nil, err
		}
		p.PID = uint32(pid)
		p.UID = uint32(uid)
		p.Priority = uint8(priority)
		p.State = model.ProcessState(state)
		p.EntryPoint = uint64(entry)
		p.CPUTime = uint64(cpuTime)
		p.Dispatches = uint64(dispatches)
		p.CreatedTick = uint64(created)
		procs = append(procs, p)
	}
	return procs, rows.Err()
}
