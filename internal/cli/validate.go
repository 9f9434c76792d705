package cli

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/tinyslice/internal/slicedef"
)

// ValidationError is one problem found in a slices directory.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// SliceSummary describes a slice that compiled.
type SliceSummary struct {
	Name    string   `json:"name"`
	Engine  string   `json:"engine"`
	Actions []string `json:"actions"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Slices []SliceSummary    `json:"slices,omitempty"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <slices-dir>",
		Short: "Validate declarative slices",
		Long: `Validate the CUE slice definitions in a directory.

Every slice is compiled: its initial state, action shapes, assignment
fields, expressions and then targets. All problems are reported, not just
the first.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, slicesDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	loadResult, loadErrors := slicedef.Load(slicesDir, slicedef.LoadModeCollectAll)

	// Directory-level failures: nothing was compiled.
	if loadResult == nil {
		code, message := slicedef.ErrCodeGeneric, "failed to load slices"
		var loadErr *slicedef.LoadError
		if len(loadErrors) > 0 && errors.As(loadErrors[0], &loadErr) {
			code, message = loadErr.Code, loadErr.Message
		}
		_ = formatter.Error(code, message, nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, slicesDir)

	result := ValidationResult{Valid: len(loadErrors) == 0}
	for _, def := range loadResult.Slices {
		formatter.VerboseLog("Validated slice: %s", def.Name)
		summary := SliceSummary{Name: def.Name, Engine: def.Engine, Actions: make([]string, 0, len(def.Actions))}
		for _, action := range def.Actions {
			summary.Actions = append(summary.Actions, action.Name)
		}
		result.Slices = append(result.Slices, summary)
	}
	for _, err := range loadErrors {
		result.Errors = append(result.Errors, toValidationError(err))
	}

	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}
	return outputValidateSuccess(formatter, result)
}

func toValidationError(err error) ValidationError {
	var loadErr *slicedef.LoadError
	if !errors.As(err, &loadErr) {
		return ValidationError{Code: slicedef.ErrCodeGeneric, Message: err.Error()}
	}
	ve := ValidationError{Code: loadErr.Code, Message: loadErr.Message}
	if loadErr.Pos.IsValid() {
		ve.File = filepath.Base(loadErr.Pos.Filename())
		ve.Line = loadErr.Pos.Line()
	}
	return ve
}

func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.JSON() {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ All slices valid (%d)\n", len(result.Slices))
	if formatter.Verbose {
		for _, s := range result.Slices {
			fmt.Fprintf(formatter.Writer, "  %s [%s]: %v\n", s.Name, s.Engine, s.Actions)
		}
	}
	return nil
}

func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	failure := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))

	if formatter.JSON() {
		err := writeJSON(formatter.Writer, CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    result.Errors[0].Code,
				Message: result.Errors[0].Message,
			},
		})
		if err != nil {
			return err
		}
		return failure
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, e := range result.Errors {
		if e.Line > 0 {
			fmt.Fprintf(formatter.Writer, "%s:%d\n", e.File, e.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", e.Code, e.Message)
	}
	return failure
}
