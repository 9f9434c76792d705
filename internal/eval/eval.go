// Package eval compiles and runs the expressions used by declarative slices.
//
// Three engines share one interface:
//
//	expr - github.com/expr-lang/expr (default)
//	cel  - github.com/google/cel-go
//	js   - github.com/dop251/goja
//
// Every engine evaluates against a flat environment: the state's fields as
// top-level variables plus "payload", "result" or "error" where relevant.
// Results are passed through Normalize so all engines agree on value types.
package eval

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Engine names accepted by New.
const (
	EngineExpr = "expr"
	EngineCEL  = "cel"
	EngineJS   = "js"
)

// Engines lists the supported engine names.
var Engines = []string{EngineExpr, EngineCEL, EngineJS}

// ErrUnknownEngine is returned by New for unsupported engine names.
var ErrUnknownEngine = errors.New("eval: unknown engine")

// Evaluator compiles expressions for one engine.
type Evaluator interface {
	Engine() string
	Compile(expression string) (Program, error)
}

// Program is a compiled expression.
type Program interface {
	Eval(env map[string]any) (any, error)
	Source() string
}

// Option configures an evaluator.
type Option func(*config)

type config struct {
	cache     ProgramCache
	variables []string
	timeout   time.Duration
}

// DefaultTimeout bounds a single JS evaluation.
const DefaultTimeout = time.Second

// WithProgramCache shares compiled programs between Compile calls.
func WithProgramCache(cache ProgramCache) Option {
	return func(cfg *config) {
		cfg.cache = cache
	}
}

// WithVariables declares the names expressions will find in their
// environment. Declared names take precedence over engine builtins of the
// same name, so a state field called count or len stays a variable.
func WithVariables(names ...string) Option {
	return func(cfg *config) {
		cfg.variables = append(cfg.variables, names...)
	}
}

// WithTimeout bounds how long one JS evaluation may run before it is
// interrupted. Zero or negative selects DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.timeout = d
	}
}

// New returns the evaluator for engine. The empty name selects expr.
func New(engine string, opts ...Option) (Evaluator, error) {
	cfg := config{timeout: DefaultTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	switch engine {
	case "", EngineExpr:
		return newExprEvaluator(cfg), nil
	case EngineCEL:
		return &celEvaluator{cache: cfg.cache}, nil
	case EngineJS:
		timeout := cfg.timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		return &jsEvaluator{cache: cfg.cache, timeout: timeout}, nil
	default:
		return nil, fmt.Errorf("%w %q (want one of %s)", ErrUnknownEngine, engine, strings.Join(Engines, ", "))
	}
}

// ProgramCache stores compiled programs keyed by engine-specific strings.
type ProgramCache interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

// MemoryCache is a concurrency-safe in-process ProgramCache.
type MemoryCache struct {
	entries sync.Map
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

func (c *MemoryCache) Get(key string) (any, bool) {
	return c.entries.Load(key)
}

func (c *MemoryCache) Set(key string, value any) {
	c.entries.Store(key, value)
}

// Error carries the engine and expression alongside the failure.
type Error struct {
	Engine string
	Expr   string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("eval: %s expr=%q: %v", e.Engine, e.Expr, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrapError(engine, expression string, err error) error {
	if err == nil {
		return nil
	}
	var evalErr *Error
	if errors.As(err, &evalErr) {
		return err
	}
	return &Error{Engine: engine, Expr: expression, Err: err}
}

func sortedNames(env map[string]any) []string {
	names := make([]string, 0, len(env))
	for name := range env {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
