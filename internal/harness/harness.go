package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/roach88/tinyslice"
	"github.com/roach88/tinyslice/internal/eval"
	"github.com/roach88/tinyslice/internal/slicedef"
	"github.com/roach88/tinyslice/internal/testutil"
)

// Option configures Run.
type Option func(*runConfig)

type runConfig struct {
	logger *slog.Logger
	sinks  []tinyslice.TraceSink
}

// WithLogger routes store and slice logs to logger. Runs are silent by
// default.
func WithLogger(logger *slog.Logger) Option {
	return func(c *runConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTraceSink forwards every transition to sink as well, e.g. a
// tracestore recorder.
func WithTraceSink(sink tinyslice.TraceSink) Option {
	return func(c *runConfig) {
		if sink != nil {
			c.sinks = append(c.sinks, sink)
		}
	}
}

// Harness executes one scenario against a fresh store.
type Harness struct {
	store  *tinyslice.Store[slicedef.State]
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each run builds a fresh store with deterministic request IDs and a fresh
// logical clock. Step expectation and assertion failures are reported in
// the Result; the error return is reserved for scenarios that cannot run
// (slices fail to load, unknown slice).
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&cfg)
	}

	loaded, errs := slicedef.Load(scenario.Slices, slicedef.LoadModeFailFast)
	if len(errs) > 0 {
		return nil, fmt.Errorf("load slices: %w", errors.Join(errs...))
	}
	def, err := loaded.Slice(scenario.Slice)
	if err != nil {
		return nil, err
	}

	var ids tinyslice.RequestIDGenerator = testutil.NewSequenceGenerator("req")
	if len(scenario.RequestIDs) > 0 {
		ids = testutil.NewFixedGenerator(scenario.RequestIDs...)
	}

	slice, err := slicedef.Build(def, slicedef.BuildOptions{
		Logger:     cfg.logger,
		RequestIDs: ids,
	})
	if err != nil {
		return nil, fmt.Errorf("build slice %s: %w", def.Name, err)
	}

	result := NewResult()
	collector := &traceCollector{}
	sinks := append([]tinyslice.TraceSink{collector}, cfg.sinks...)

	h := &Harness{
		store: tinyslice.NewStore(slice,
			tinyslice.WithLogger(cfg.logger),
			tinyslice.WithTraceSink(fanOut(sinks)),
			tinyslice.WithClock(tinyslice.NewClock()),
		),
		logger: cfg.logger,
	}

	if err := h.executeSteps(ctx, scenario.Steps, result); err != nil {
		return nil, err
	}

	result.Trace = collector.events()
	result.State = *h.store.State()

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}

	return result, nil
}

// executeSteps dispatches every step and records expectation failures.
// A step that runs out of request IDs aborts the scenario.
func (h *Harness) executeSteps(ctx context.Context, steps []Step, result *Result) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scenario aborted: %v", r)
		}
	}()

	for i, step := range steps {
		res, stepErr := h.dispatch(ctx, step)
		label := fmt.Sprintf("steps[%d] %s", i, step.Dispatch)

		switch {
		case stepErr != nil && step.ExpectError == "":
			result.AddError(fmt.Sprintf("%s: unexpected error: %v", label, stepErr))
		case stepErr != nil && !strings.Contains(stepErr.Error(), step.ExpectError):
			result.AddError(fmt.Sprintf("%s: error %q does not contain %q", label, stepErr.Error(), step.ExpectError))
		case stepErr == nil && step.ExpectError != "":
			result.AddError(fmt.Sprintf("%s: expected error containing %q, got none", label, step.ExpectError))
		}

		if step.ExpectResult != nil {
			want := eval.Normalize(step.ExpectResult)
			got := eval.Normalize(res)
			if !valuesEqual(got, want) {
				result.AddError(fmt.Sprintf("%s: result %v, want %v", label, got, want))
			}
		}

		if len(step.ExpectState) > 0 {
			state := *h.store.State()
			if msg := matchSubset(state, step.ExpectState); msg != "" {
				result.AddError(fmt.Sprintf("%s: state %s", label, msg))
			}
		}

		h.logger.Info("step completed",
			"step", i,
			"dispatch", step.Dispatch,
			"error", stepErr,
		)
	}
	return nil
}

func (h *Harness) dispatch(ctx context.Context, step Step) (any, error) {
	payload := eval.Normalize(step.Payload)
	if strings.Contains(step.Dispatch, "/") {
		a := tinyslice.NewAction[slicedef.State](tinyslice.ParseActionType(step.Dispatch), payload)
		return h.store.Dispatch(ctx, a)
	}
	return h.store.Invoke(ctx, step.Dispatch, payload)
}

// traceCollector accumulates transitions as TraceEvents.
type traceCollector struct {
	mu    sync.Mutex
	trace []TraceEvent
}

func (c *traceCollector) Record(_ context.Context, t tinyslice.Transition) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trace = append(c.trace, traceEventFrom(t))
	return nil
}

func (c *traceCollector) events() []TraceEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TraceEvent, len(c.trace))
	copy(out, c.trace)
	return out
}

func fanOut(sinks []tinyslice.TraceSink) tinyslice.TraceSink {
	return tinyslice.TraceSinkFunc(func(ctx context.Context, t tinyslice.Transition) error {
		var errs []error
		for _, s := range sinks {
			if err := s.Record(ctx, t); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}
