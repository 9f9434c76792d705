package tracestore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/tinyslice"
	"github.com/roach88/tinyslice/internal/canon"
)

// RunInfo describes a run when it starts. ID defaults to a UUIDv7 and
// StartedAt to the current time.
type RunInfo struct {
	ID        string
	Slice     string
	Source    string // slices directory or scenario file
	StartedAt time.Time
}

// Recorder writes the transitions of one run. It implements
// tinyslice.TraceSink and is safe for concurrent use.
type Recorder struct {
	store *Store
	runID string

	mu       sync.Mutex
	finished bool
}

var _ tinyslice.TraceSink = (*Recorder)(nil)

// ErrRunFinished is returned when recording into a finished run.
var ErrRunFinished = errors.New("tracestore: run already finished")

// BeginRun inserts a run row and returns its recorder.
func (s *Store) BeginRun(ctx context.Context, info RunInfo) (*Recorder, error) {
	if info.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("begin run: %w", err)
		}
		info.ID = id.String()
	}
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, slice, source, started_at)
		VALUES (?, ?, ?, ?)
	`,
		info.ID,
		info.Slice,
		info.Source,
		info.StartedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("begin run: %w", err)
	}

	return &Recorder{store: s, runID: info.ID}, nil
}

// RunID returns the ID of the run being recorded.
func (r *Recorder) RunID() string {
	return r.runID
}

// Record implements tinyslice.TraceSink.
func (r *Recorder) Record(ctx context.Context, t tinyslice.Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return ErrRunFinished
	}

	payload, err := canon.Marshal(t.Payload)
	if err != nil {
		return fmt.Errorf("record transition: payload: %w", err)
	}
	prev, err := canon.Marshal(t.Prev)
	if err != nil {
		return fmt.Errorf("record transition: prev: %w", err)
	}
	next, err := canon.Marshal(t.Next)
	if err != nil {
		return fmt.Errorf("record transition: next: %w", err)
	}

	_, err = r.store.db.ExecContext(ctx, `
		INSERT INTO transitions
		(run_id, seq, action_type, request_id, payload, prev_state, next_state, changed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.runID,
		t.Seq,
		t.Type.String(),
		t.RequestID,
		string(payload),
		string(prev),
		string(next),
		t.Changed,
	)
	if err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	return nil
}

// Finish stamps the run with its final state and outcome. Further Record
// calls fail with ErrRunFinished.
func (r *Recorder) Finish(ctx context.Context, finalState any, runErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return ErrRunFinished
	}

	final, err := canon.Marshal(finalState)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	var errText any
	if runErr != nil {
		errText = runErr.Error()
	}

	_, err = r.store.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, final_state = ?, error = ?
		WHERE id = ?
	`,
		time.Now().UTC().Format(time.RFC3339Nano),
		string(final),
		errText,
		r.runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	r.finished = true
	return nil
}
