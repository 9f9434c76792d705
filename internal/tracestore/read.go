package tracestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrRunNotFound is returned by ReadRun for unknown IDs.
var ErrRunNotFound = errors.New("tracestore: run not found")

// Run is a stored run.
type Run struct {
	ID          string
	Slice       string
	Source      string
	StartedAt   time.Time
	FinishedAt  *time.Time
	FinalState  string // canonical JSON; empty while running
	Error       string
	Transitions int
}

// TransitionRecord is a stored transition. Payload, Prev and Next hold
// canonical JSON.
type TransitionRecord struct {
	RunID     string
	Seq       int64
	Type      string
	RequestID string
	Payload   string
	Prev      string
	Next      string
	Changed   bool
}

const runColumns = `
	r.id, r.slice, r.source, r.started_at, r.finished_at, r.final_state, r.error,
	(SELECT COUNT(*) FROM transitions t WHERE t.run_id = r.id)
`

// ListRuns returns all runs, oldest first.
//
// Returns an empty slice (not nil) if no runs exist.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+`
		FROM runs r
		ORDER BY r.started_at ASC, r.id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadRun returns one run.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+`
		FROM runs r
		WHERE r.id = ?
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// ReadTransitions returns the transitions of a run ordered by seq.
//
// Returns an empty slice (not nil) if the run has none.
func (s *Store) ReadTransitions(ctx context.Context, runID string) ([]TransitionRecord, error) {
	return s.queryTransitions(ctx, `
		SELECT run_id, seq, action_type, request_id, payload, prev_state, next_state, changed
		FROM transitions
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
}

// ReadRequest returns every transition stamped with requestID, across runs.
func (s *Store) ReadRequest(ctx context.Context, requestID string) ([]TransitionRecord, error) {
	return s.queryTransitions(ctx, `
		SELECT run_id, seq, action_type, request_id, payload, prev_state, next_state, changed
		FROM transitions
		WHERE request_id = ?
		ORDER BY run_id COLLATE BINARY ASC, seq ASC
	`, requestID)
}

func (s *Store) queryTransitions(ctx context.Context, query string, arg string) ([]TransitionRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	records := []TransitionRecord{}
	for rows.Next() {
		var rec TransitionRecord
		if err := rows.Scan(
			&rec.RunID,
			&rec.Seq,
			&rec.Type,
			&rec.RequestID,
			&rec.Payload,
			&rec.Prev,
			&rec.Next,
			&rec.Changed,
		); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run        Run
		startedAt  string
		finishedAt sql.NullString
		finalState sql.NullString
		errText    sql.NullString
	)
	if err := row.Scan(
		&run.ID,
		&run.Slice,
		&run.Source,
		&startedAt,
		&finishedAt,
		&finalState,
		&errText,
		&run.Transitions,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}

	started, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return Run{}, fmt.Errorf("parse started_at: %w", err)
	}
	run.StartedAt = started
	if finishedAt.Valid {
		finished, err := time.Parse(time.RFC3339Nano, finishedAt.String)
		if err != nil {
			return Run{}, fmt.Errorf("parse finished_at: %w", err)
		}
		run.FinishedAt = &finished
	}
	run.FinalState = finalState.String
	run.Error = errText.String
	return run, nil
}
