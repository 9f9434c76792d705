package slicedef

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

// LoadMode controls how errors are handled during loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// Error code constants, shared with the CLI.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed

	ErrCodeNoActions    = "E101" // No actions defined
	ErrCodeActionShape  = "E102" // Neither or both of set/async
	ErrCodeAsyncShape   = "E103" // Bad async block
	ErrCodeUnknownField = "E104" // Assignment to a field missing from initial
	ErrCodeEngine       = "E105" // Unknown expression engine
	ErrCodeExpression   = "E106" // Expression does not compile
	ErrCodeThenTarget   = "E107" // then names an unknown action
	ErrCodeSliceMissing = "E108" // Requested slice not defined
)

// LoadResult contains the slices loaded from a directory.
type LoadResult struct {
	Slices    []*Definition // sorted by name
	CUEValue  cue.Value
	FileCount int
}

// Slice returns the definition named name.
func (r *LoadResult) Slice(name string) (*Definition, error) {
	for _, def := range r.Slices {
		if def.Name == name {
			return def, nil
		}
	}
	return nil, &LoadError{Code: ErrCodeSliceMissing, Message: fmt.Sprintf("slice %q not defined", name)}
}

// LoadError represents an error that occurred during loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Load reads every CUE file in dir and compiles each slice under "slice".
// Expressions are compiled too, so a nil error list means every slice builds.
func Load(dir string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("slices directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing slices directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	result := &LoadResult{CUEValue: value, FileCount: len(cueFiles)}
	errs := compileAll(value, result, mode)
	return result, errs
}

// LoadString compiles slices from CUE source held in memory.
func LoadString(src string) (*LoadResult, []error) {
	value := cuecontext.New().CompileString(src)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}
	result := &LoadResult{CUEValue: value}
	return result, compileAll(value, result, LoadModeCollectAll)
}

func compileAll(value cue.Value, result *LoadResult, mode LoadMode) []error {
	var errs []error

	slicesVal := value.LookupPath(cue.ParsePath("slice"))
	if !slicesVal.Exists() {
		return []error{&LoadError{Code: ErrCodeGeneric, Message: "no slices found"}}
	}

	iter, err := slicesVal.Fields()
	if err != nil {
		return []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating slices: %v", err)}}
	}
	for iter.Next() {
		def, compileErr := CompileSlice(iter.Value())
		if compileErr == nil {
			compileErr = Check(def)
		}
		if compileErr != nil {
			errs = append(errs, convertCompileError(compileErr, "slice."+iter.Selector().String()))
			if mode == LoadModeFailFast {
				return errs
			}
			continue
		}
		result.Slices = append(result.Slices, def)
	}

	sort.Slice(result.Slices, func(i, j int) bool { return result.Slices[i].Name < result.Slices[j].Name })
	if len(result.Slices) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: "no slices found"})
	}
	return errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func convertCompileError(err error, context string) *LoadError {
	var compileErr *CompileError
	if errors.As(err, &compileErr) {
		code := compileErr.Code
		if code == "" {
			code = ErrCodeGeneric
		}
		return &LoadError{
			Code:    code,
			Message: fmt.Sprintf("%s: %s", compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}
