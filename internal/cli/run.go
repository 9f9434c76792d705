package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/tinyslice"
	"github.com/roach88/tinyslice/internal/canon"
	"github.com/roach88/tinyslice/internal/eval"
	"github.com/roach88/tinyslice/internal/slicedef"
	"github.com/roach88/tinyslice/internal/tracestore"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Slice      string
	Dispatches []string
	Database   string

	// RequestIDs overrides the request ID generator (for testing).
	// If nil, the slice default (UUIDv7) is used.
	RequestIDs tinyslice.RequestIDGenerator
}

// DispatchResult is the outcome of one --dispatch.
type DispatchResult struct {
	Action  string `json:"action"`
	Payload any    `json:"payload,omitempty"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RunResult is the output of the run command.
type RunResult struct {
	Slice      string           `json:"slice"`
	RunID      string           `json:"run_id,omitempty"`
	Dispatches []DispatchResult `json:"dispatches"`
	FinalState map[string]any   `json:"final_state"`
}

type dispatchStep struct {
	name    string
	payload any
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <slices-dir>",
		Short: "Dispatch actions against a declarative slice",
		Long: `Build a store for one slice and dispatch actions against it in order.

Each --dispatch is an action name, optionally followed by =JSON for the
payload. A name containing "/" (e.g. load/fulfilled) is sent to the reducer
directly instead of through its action creator. With --db, every
transition is recorded in the trace database.

Example:
  tinyslice run ./slices --slice counter --dispatch increment=2 --dispatch asyncIncrement
  tinyslice run ./slices --slice cart --dispatch 'add={"name":"pen","price":3}' --db ./trace.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSlice(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Slice, "slice", "", "slice to run (required)")
	_ = cmd.MarkFlagRequired("slice")
	cmd.Flags().StringArrayVar(&opts.Dispatches, "dispatch", nil, "action to dispatch, as name or name=JSON (repeatable)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "record the run into this SQLite trace database")

	return cmd
}

func runSlice(opts *RunOptions, slicesDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := formatter.Logger()

	steps, err := parseDispatches(opts.Dispatches)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --dispatch", err)
	}

	loadResult, loadErrors := slicedef.Load(slicesDir, slicedef.LoadModeFailFast)
	if len(loadErrors) > 0 {
		return WrapExitError(ExitCommandError, "failed to load slices", errors.Join(loadErrors...))
	}
	def, err := loadResult.Slice(opts.Slice)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find slice", err)
	}

	slice, err := slicedef.Build(def, slicedef.BuildOptions{
		Debug:      opts.Verbose,
		Logger:     logger,
		RequestIDs: opts.RequestIDs,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build slice", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	storeOpts := []tinyslice.StoreOption{tinyslice.WithLogger(logger)}

	var recorder *tracestore.Recorder
	if opts.Database != "" {
		st, err := tracestore.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()

		recorder, err = st.BeginRun(ctx, tracestore.RunInfo{Slice: def.Name, Source: slicesDir})
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to start run", err)
		}
		storeOpts = append(storeOpts, tinyslice.WithTraceSink(recorder))
		logger.Info("recording run", "db", opts.Database, "run_id", recorder.RunID())
	}

	store := tinyslice.NewStore(slice, storeOpts...)

	result := RunResult{Slice: def.Name, Dispatches: make([]DispatchResult, 0, len(steps))}
	var failures []error
	for _, step := range steps {
		res, err := dispatchAction(ctx, store, step.name, step.payload)
		dr := DispatchResult{Action: step.name, Payload: step.payload, Result: res}
		if err != nil {
			dr.Error = err.Error()
			failures = append(failures, fmt.Errorf("%s: %w", step.name, err))
			logger.Debug("dispatch failed", "action", step.name, "error", err)
		}
		result.Dispatches = append(result.Dispatches, dr)
	}
	result.FinalState = *store.State()

	if recorder != nil {
		result.RunID = recorder.RunID()
		if err := recorder.Finish(ctx, result.FinalState, errors.Join(failures...)); err != nil {
			return WrapExitError(ExitCommandError, "failed to finish run", err)
		}
	}

	if err := outputRun(formatter, result); err != nil {
		return err
	}
	if len(failures) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d dispatch(es) failed", len(failures)))
	}
	return nil
}

// dispatchAction invokes name through the store's action creators, or
// dispatches it as a raw action when it names a lifecycle type.
func dispatchAction(ctx context.Context, store *tinyslice.Store[slicedef.State], name string, payload any) (any, error) {
	if strings.Contains(name, "/") {
		a := tinyslice.NewAction[slicedef.State](tinyslice.ParseActionType(name), payload)
		return store.Dispatch(ctx, a)
	}
	return store.Invoke(ctx, name, payload)
}

func parseDispatches(raw []string) ([]dispatchStep, error) {
	steps := make([]dispatchStep, 0, len(raw))
	for _, r := range raw {
		step, err := parseDispatch(r)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// parseDispatch splits "name=JSON" at the first "=".
func parseDispatch(raw string) (dispatchStep, error) {
	name, payload, hasPayload := strings.Cut(raw, "=")
	name = strings.TrimSpace(name)
	if name == "" {
		return dispatchStep{}, fmt.Errorf("missing action name in %q", raw)
	}
	if !hasPayload {
		return dispatchStep{name: name}, nil
	}

	decoder := json.NewDecoder(strings.NewReader(payload))
	decoder.UseNumber()
	var v any
	if err := decoder.Decode(&v); err != nil {
		return dispatchStep{}, fmt.Errorf("payload for %s is not valid JSON: %w", name, err)
	}
	if decoder.More() {
		return dispatchStep{}, fmt.Errorf("payload for %s has trailing data", name)
	}
	return dispatchStep{name: name, payload: eval.Normalize(v)}, nil
}

func outputRun(formatter *OutputFormatter, result RunResult) error {
	if formatter.JSON() {
		return formatter.Success(result)
	}

	w := formatter.Writer
	for _, d := range result.Dispatches {
		if d.Error != "" {
			fmt.Fprintf(w, "✗ %s: %s\n", d.Action, d.Error)
			continue
		}
		if d.Result != nil {
			fmt.Fprintf(w, "✓ %s → %s\n", d.Action, canon.String(d.Result))
			continue
		}
		fmt.Fprintf(w, "✓ %s\n", d.Action)
	}
	fmt.Fprintf(w, "Final state: %s\n", canon.String(result.FinalState))
	if result.RunID != "" {
		fmt.Fprintf(w, "Recorded run %s\n", result.RunID)
	}
	return nil
}
