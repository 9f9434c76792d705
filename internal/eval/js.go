package eval

import (
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// ErrTimeout is returned when a JS evaluation is interrupted for running
// longer than its timeout.
var ErrTimeout = errors.New("evaluation timed out")

type jsEvaluator struct {
	cache   ProgramCache
	timeout time.Duration
}

func (e *jsEvaluator) Engine() string { return EngineJS }

func (e *jsEvaluator) Compile(expression string) (Program, error) {
	if expression == "" {
		return nil, wrapError(EngineJS, expression, errEmptyExpression)
	}
	key := EngineJS + ":" + expression
	if e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			if program, ok := cached.(*goja.Program); ok {
				return &jsProgram{program: program, source: expression, timeout: e.timeout}, nil
			}
		}
	}
	program, err := goja.Compile("", wrapExpression(expression), false)
	if err != nil {
		return nil, wrapError(EngineJS, expression, err)
	}
	if e.cache != nil {
		e.cache.Set(key, program)
	}
	return &jsProgram{program: program, source: expression, timeout: e.timeout}, nil
}

func wrapExpression(expression string) string {
	return fmt.Sprintf("(function(){ return (%s); })()", expression)
}

// A goja.Program is immutable and shareable; each Eval gets its own runtime.
type jsProgram struct {
	program *goja.Program
	source  string
	timeout time.Duration
}

func (p *jsProgram) Source() string { return p.source }

func (p *jsProgram) Eval(env map[string]any) (any, error) {
	vm := goja.New()
	for name, value := range env {
		if err := vm.Set(name, value); err != nil {
			return nil, wrapError(EngineJS, p.source, err)
		}
	}
	if p.timeout > 0 {
		timer := time.AfterFunc(p.timeout, func() {
			vm.Interrupt(ErrTimeout)
		})
		defer timer.Stop()
	}
	value, err := vm.RunProgram(p.program)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if cause, ok := interrupted.Value().(error); ok {
				err = fmt.Errorf("%w after %s", cause, p.timeout)
			}
		}
		return nil, wrapError(EngineJS, p.source, err)
	}
	if goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, nil
	}
	return Normalize(value.Export()), nil
}
