package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tinyslice/internal/harness"
	"github.com/roach88/tinyslice/internal/tracestore"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update   bool   // regenerate golden files
	Filter   string // scenario filter (glob pattern)
	Database string // record every scenario run
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run YAML scenarios against declarative slices",
		Long: `Run every scenario file in a directory.

Each scenario names a slices directory and a slice, dispatches its steps
against a fresh store, checks step expectations and assertions, and
compares the trace with golden/<scenario>.golden when that file exists.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  tinyslice test ./scenarios
  tinyslice test ./scenarios --filter "counter_*"
  tinyslice test ./scenarios --update
  tinyslice test ./scenarios --db ./trace.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().StringVar(&opts.Database, "db", "", "record every scenario run into this SQLite trace database")

	return cmd
}

func runTests(opts *TestOptions, scenariosDir string, cmd *cobra.Command) error {
	if _, err := os.Stat(scenariosDir); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", scenariosDir))
	}

	scenarioFiles, err := findScenarioFiles(scenariosDir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	formatter := newFormatter(opts.RootOptions, cmd)
	if len(scenarioFiles) == 0 {
		if formatter.JSON() {
			return outputTestJSON(formatter, TestResult{Scenarios: []ScenarioResult{}})
		}
		fmt.Fprintln(formatter.Writer, "No scenarios found.")
		return nil
	}

	runner := &scenarioRunner{opts: opts, formatter: formatter}
	if opts.Database != "" {
		st, err := tracestore.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer st.Close()
		runner.traces = st
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result := TestResult{
		Scenarios: make([]ScenarioResult, 0, len(scenarioFiles)),
		Total:     len(scenarioFiles),
	}
	for _, scenarioFile := range scenarioFiles {
		scenResult := runner.run(ctx, scenarioFile)
		runner.report(scenResult)
		result.Scenarios = append(result.Scenarios, scenResult)

		if scenResult.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if formatter.JSON() {
		return outputTestJSON(formatter, result)
	}
	return outputTestText(formatter, result)
}

// findScenarioFiles finds all YAML scenario files in a directory.
func findScenarioFiles(dir string, filter string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})

	return files, err
}

type scenarioRunner struct {
	opts      *TestOptions
	formatter *OutputFormatter
	traces    *tracestore.Store
}

// run executes one scenario file and applies golden handling.
func (r *scenarioRunner) run(ctx context.Context, scenarioFile string) ScenarioResult {
	scenario, err := harness.LoadScenario(scenarioFile)
	if err != nil {
		return failed(filepath.Base(scenarioFile), "failed to load scenario: %v", err)
	}

	var runOpts []harness.Option
	if r.opts.Verbose {
		runOpts = append(runOpts, harness.WithLogger(r.formatter.Logger()))
	}
	var recorder *tracestore.Recorder
	if r.traces != nil {
		recorder, err = r.traces.BeginRun(ctx, tracestore.RunInfo{Slice: scenario.Slice, Source: scenarioFile})
		if err != nil {
			return failed(scenario.Name, "failed to start trace run: %v", err)
		}
		runOpts = append(runOpts, harness.WithTraceSink(recorder))
	}

	result, err := harness.Run(ctx, scenario, runOpts...)
	if recorder != nil {
		var finalState any
		runErr := err
		if result != nil {
			finalState = result.State
			if !result.Pass {
				runErr = errors.New(strings.Join(result.Errors, "; "))
			}
		}
		if finishErr := recorder.Finish(ctx, finalState, runErr); finishErr != nil {
			return failed(scenario.Name, "failed to finish trace run: %v", finishErr)
		}
	}
	if err != nil {
		return failed(scenario.Name, "execution failed: %v", err)
	}

	if r.opts.Update {
		if err := harness.UpdateGolden(scenario, result, scenarioFile); err != nil {
			return failed(scenario.Name, "failed to update golden file: %v", err)
		}
		r.formatter.VerboseLog("updated %s", harness.GoldenPath(scenarioFile))
		return ScenarioResult{Name: scenario.Name, Pass: result.Pass, Errors: result.Errors}
	}

	match, err := harness.CompareGolden(scenario, result, scenarioFile)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// No golden file: assertions alone decide.
	case err != nil:
		return failed(scenario.Name, "golden comparison failed: %v", err)
	case !match:
		errs := append([]string{"trace does not match golden file (run with --update to regenerate)"}, result.Errors...)
		return ScenarioResult{Name: scenario.Name, Pass: false, Errors: errs}
	}

	return ScenarioResult{Name: scenario.Name, Pass: result.Pass, Errors: result.Errors}
}

func (r *scenarioRunner) report(res ScenarioResult) {
	if r.formatter.JSON() {
		return
	}
	w := r.formatter.Writer
	if res.Pass {
		fmt.Fprintf(w, "✓ %s\n", res.Name)
		return
	}
	fmt.Fprintf(w, "✗ %s\n", res.Name)
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

func failed(name, format string, args ...any) ScenarioResult {
	return ScenarioResult{Name: name, Pass: false, Errors: []string{fmt.Sprintf(format, args...)}}
}

func outputTestJSON(formatter *OutputFormatter, result TestResult) error {
	response := CLIResponse{Status: "ok", Data: result}
	if result.Failed > 0 {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "E_TEST_FAILED",
			Message: fmt.Sprintf("%d scenario(s) failed", result.Failed),
		}
	}

	if err := writeJSON(formatter.Writer, response); err != nil {
		return err
	}
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

func outputTestText(formatter *OutputFormatter, result TestResult) error {
	w := formatter.Writer

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}

	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}
