package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tinyslice/internal/tracestore"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database  string
	RunID     string
	RequestID string
	Action    string // optional - filter to one action type
}

// RunSummary describes one recorded run.
type RunSummary struct {
	ID          string          `json:"id"`
	Slice       string          `json:"slice"`
	Source      string          `json:"source"`
	Status      string          `json:"status"` // "running", "ok" or "error"
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
	Transitions int             `json:"transitions"`
	FinalState  json.RawMessage `json:"final_state,omitempty"`
}

// TimelineEvent is one recorded transition.
type TimelineEvent struct {
	RunID     string          `json:"run_id,omitempty"`
	Seq       int64           `json:"seq"`
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	State     json.RawMessage `json:"state"`
	Changed   bool            `json:"changed"`
}

// TraceStats holds summary statistics for a timeline.
type TraceStats struct {
	TotalEvents int `json:"total_events"`
	Changed     int `json:"changed"`
	Requests    int `json:"requests"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Run       *RunSummary     `json:"run,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Timeline  []TimelineEvent `json:"timeline"`
	Stats     TraceStats      `json:"stats"`
}

// RunsResult lists recorded runs.
type RunsResult struct {
	Runs []RunSummary `json:"runs"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect recorded runs",
		Long: `Read the trace database written by run --db and test --db.

Without --run or --request, lists every recorded run. With --run, shows
the run's timeline: each reducer application with its action type, request
ID and resulting state. With --request, shows every transition stamped
with one async request ID.

Examples:
  tinyslice trace --db ./trace.db
  tinyslice trace --db ./trace.db --run 0190c5a2-...
  tinyslice trace --db ./trace.db --run 0190c5a2-... --action increment
  tinyslice trace --db ./trace.db --request 0190c5a3-... --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite trace database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run to show")
	cmd.Flags().StringVar(&opts.RequestID, "request", "", "request ID to follow across runs")
	cmd.Flags().StringVar(&opts.Action, "action", "", "filter the timeline to one action type")
	cmd.MarkFlagsMutuallyExclusive("run", "request")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts.RootOptions, cmd)

	st, err := tracestore.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	switch {
	case opts.RunID != "":
		return traceRun(ctx, st, opts, formatter)
	case opts.RequestID != "":
		return traceRequest(ctx, st, opts, formatter)
	default:
		return listRuns(ctx, st, formatter)
	}
}

func listRuns(ctx context.Context, st *tracestore.Store, formatter *OutputFormatter) error {
	runs, err := st.ListRuns(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	result := RunsResult{Runs: make([]RunSummary, 0, len(runs))}
	for _, run := range runs {
		result.Runs = append(result.Runs, summarize(run))
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}

	w := formatter.Writer
	if len(result.Runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}
	for _, run := range result.Runs {
		fmt.Fprintf(w, "%s  %-12s %-8s %3d transitions  %s\n",
			run.ID, run.Slice, run.Status, run.Transitions, run.StartedAt.Format(time.RFC3339))
	}
	return nil
}

func traceRun(ctx context.Context, st *tracestore.Store, opts *TraceOptions, formatter *OutputFormatter) error {
	run, err := st.ReadRun(ctx, opts.RunID)
	if errors.Is(err, tracestore.ErrRunNotFound) {
		_ = formatter.Error("E_RUN_NOT_FOUND", fmt.Sprintf("run not found: %s", opts.RunID), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("run not found: %s", opts.RunID))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}

	records, err := st.ReadTransitions(ctx, run.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read transitions", err)
	}

	summary := summarize(run)
	result := buildTraceResult(records, opts.Action, false)
	result.Run = &summary
	return outputTrace(formatter, result)
}

func traceRequest(ctx context.Context, st *tracestore.Store, opts *TraceOptions, formatter *OutputFormatter) error {
	records, err := st.ReadRequest(ctx, opts.RequestID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read request", err)
	}

	result := buildTraceResult(records, opts.Action, true)
	result.RequestID = opts.RequestID
	return outputTrace(formatter, result)
}

// buildTraceResult converts stored transitions into a timeline. When
// actionFilter is set, only transitions of that type are kept.
func buildTraceResult(records []tracestore.TransitionRecord, actionFilter string, withRunID bool) TraceResult {
	result := TraceResult{Timeline: []TimelineEvent{}}
	requests := make(map[string]struct{})

	for _, rec := range records {
		if actionFilter != "" && rec.Type != actionFilter {
			continue
		}
		event := TimelineEvent{
			Seq:       rec.Seq,
			Type:      rec.Type,
			RequestID: rec.RequestID,
			Payload:   json.RawMessage(rec.Payload),
			State:     json.RawMessage(rec.Next),
			Changed:   rec.Changed,
		}
		if withRunID {
			event.RunID = rec.RunID
		}
		result.Timeline = append(result.Timeline, event)

		if rec.Changed {
			result.Stats.Changed++
		}
		if rec.RequestID != "" {
			requests[rec.RequestID] = struct{}{}
		}
	}

	result.Stats.TotalEvents = len(result.Timeline)
	result.Stats.Requests = len(requests)
	return result
}

func summarize(run tracestore.Run) RunSummary {
	s := RunSummary{
		ID:          run.ID,
		Slice:       run.Slice,
		Source:      run.Source,
		Error:       run.Error,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
		Transitions: run.Transitions,
	}
	if run.FinalState != "" {
		s.FinalState = json.RawMessage(run.FinalState)
	}
	switch {
	case run.FinishedAt == nil:
		s.Status = "running"
	case run.Error != "":
		s.Status = "error"
	default:
		s.Status = "ok"
	}
	return s
}

func outputTrace(formatter *OutputFormatter, result TraceResult) error {
	if formatter.JSON() {
		return formatter.Success(result)
	}

	w := formatter.Writer
	if result.Run != nil {
		fmt.Fprintf(w, "Run: %s (%s)\n", result.Run.ID, result.Run.Slice)
		fmt.Fprintf(w, "Status: %s\n", result.Run.Status)
		if result.Run.Error != "" {
			fmt.Fprintf(w, "Error: %s\n", result.Run.Error)
		}
	} else {
		fmt.Fprintf(w, "Request: %s\n", result.RequestID)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no transitions)")
	}
	for _, event := range result.Timeline {
		formatTimelineEvent(w, event, formatter.Verbose)
	}
	fmt.Fprintln(w)

	if result.Run != nil && len(result.Run.FinalState) > 0 {
		fmt.Fprintf(w, "Final state: %s\n\n", result.Run.FinalState)
	}

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Transitions: %d\n", result.Stats.TotalEvents)
	fmt.Fprintf(w, "  Changed:     %d\n", result.Stats.Changed)
	fmt.Fprintf(w, "  Requests:    %d\n", result.Stats.Requests)
	return nil
}

func formatTimelineEvent(w io.Writer, event TimelineEvent, verbose bool) {
	marker := " "
	if !event.Changed {
		marker = "="
	}
	fmt.Fprintf(w, "  [%d]%s %s", event.Seq, marker, event.Type)
	if event.RequestID != "" {
		fmt.Fprintf(w, " (%s)", truncateID(event.RequestID))
	}
	fmt.Fprintln(w)

	if verbose {
		if event.RunID != "" {
			fmt.Fprintf(w, "       Run: %s\n", event.RunID)
		}
		fmt.Fprintf(w, "       Payload: %s\n", event.Payload)
		fmt.Fprintf(w, "       State: %s\n", event.State)
	}
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}
