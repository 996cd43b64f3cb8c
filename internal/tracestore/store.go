// Package tracestore persists scheduler decision traces in SQLite so runs can
// be compared after the in-memory ring has rolled over.
package tracestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/signal-sim/signal-sim/sim/trace"

	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned when a run ID has no row in the runs table.
var ErrRunNotFound = errors.New("run not found")

// Run describes one recorded scheduler session.
type Run struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"` // "run", "serve", scenario name
	CreatedAt time.Time `json:"created_at"`
	Ticks     int       `json:"ticks"`
}

// Store is a SQLite-backed trace store. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path. Use ":memory:" in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	logrus.Debugf("tracestore: migrate")
	return migrate(ctx, s.db)
}

// CreateRun registers a new run and returns its ID.
func (s *Store) CreateRun(ctx context.Context, source string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, source, created_at) VALUES (?, ?, ?)`,
		id, source, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	logrus.Debugf("tracestore: created run %s (%s)", id, source)
	return id, nil
}

// Append stores one tick record under runID.
func (s *Store) Append(ctx context.Context, runID string, r trace.TickRecord) error {
	transitions, err := json.Marshal(orEmpty(r.Transitions))
	if err != nil {
		return fmt.Errorf("marshal transitions: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ticks (run_id, seq, sim_time, policy, rule, reason, fallback, state, transitions, override, note, plan, rejected, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, r.Seq, r.SimTime, r.Policy, r.Rule, r.Reason, boolToInt(r.Fallback), r.State,
		string(transitions), r.Override, r.Note, r.Plan, boolToInt(r.Rejected), r.Error,
	)
	if err != nil {
		return fmt.Errorf("append tick %d: %w", r.Seq, err)
	}
	return nil
}

// AppendAll stores records in one transaction.
func (s *Store) AppendAll(ctx context.Context, runID string, records []trace.TickRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO ticks (run_id, seq, sim_time, policy, rule, reason, fallback, state, transitions, override, note, plan, rejected, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		transitions, err := json.Marshal(orEmpty(r.Transitions))
		if err != nil {
			return fmt.Errorf("marshal transitions: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			runID, r.Seq, r.SimTime, r.Policy, r.Rule, r.Reason, boolToInt(r.Fallback), r.State,
			string(transitions), r.Override, r.Note, r.Plan, boolToInt(r.Rejected), r.Error,
		); err != nil {
			return fmt.Errorf("append tick %d: %w", r.Seq, err)
		}
	}
	return tx.Commit()
}

// ListTicks returns the run's records ordered by seq, starting after afterSeq.
// limit <= 0 returns everything.
func (s *Store) ListTicks(ctx context.Context, runID string, afterSeq int64, limit int) ([]trace.TickRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, sim_time, policy, rule, reason, fallback, state, transitions, override, note, plan, rejected, error
		 FROM ticks WHERE run_id = ? AND seq > ? ORDER BY seq LIMIT ?`, runID, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []trace.TickRecord
	for rows.Next() {
		var r trace.TickRecord
		var fallback, rejected int
		var transitions string
		if err := rows.Scan(&r.Seq, &r.SimTime, &r.Policy, &r.Rule, &r.Reason, &fallback, &r.State,
			&transitions, &r.Override, &r.Note, &r.Plan, &rejected, &r.Error); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(transitions), &r.Transitions); err != nil {
			return nil, fmt.Errorf("unmarshal transitions of tick %d: %w", r.Seq, err)
		}
		if len(r.Transitions) == 0 {
			r.Transitions = nil
		}
		r.Fallback = fallback != 0
		r.Rejected = rejected != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRun returns one run with its tick count.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	var r Run
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT r.id, r.source, r.created_at, (SELECT COUNT(*) FROM ticks t WHERE t.run_id = r.id)
		 FROM runs r WHERE r.id = ?`, runID,
	).Scan(&r.ID, &r.Source, &createdAt, &r.Ticks)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, err
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &r, nil
}

// ListRuns returns every run, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.source, r.created_at, COUNT(t.seq)
		 FROM runs r LEFT JOIN ticks t ON t.run_id = r.id
		 GROUP BY r.id ORDER BY r.created_at DESC, r.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var createdAt string
		if err := rows.Scan(&r.ID, &r.Source, &createdAt, &r.Ticks); err != nil {
			return nil, err
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Summary aggregates a stored run the same way trace.Summarize does for the
// in-memory ring.
func (s *Store) Summary(ctx context.Context, runID string) (*trace.TraceSummary, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	records, err := s.ListTicks(ctx, runID, -1, 0)
	if err != nil {
		return nil, err
	}
	return trace.SummarizeRecords(records), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
