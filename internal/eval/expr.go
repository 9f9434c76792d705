package eval

import (
	"errors"
	"slices"
	"strings"

	exprlang "github.com/expr-lang/expr"
	"github.com/expr-lang/expr/builtin"
	exprvm "github.com/expr-lang/expr/vm"
)

var errEmptyExpression = errors.New("expression must not be empty")

type exprEvaluator struct {
	cache ProgramCache
	// shadowed lists declared variables that collide with expr builtins.
	shadowed []string
}

func newExprEvaluator(cfg config) *exprEvaluator {
	var shadowed []string
	for _, name := range cfg.variables {
		if _, ok := builtin.Index[name]; ok && !slices.Contains(shadowed, name) {
			shadowed = append(shadowed, name)
		}
	}
	slices.Sort(shadowed)
	return &exprEvaluator{cache: cfg.cache, shadowed: shadowed}
}

func (e *exprEvaluator) cacheKey(expression string) string {
	if len(e.shadowed) == 0 {
		return EngineExpr + ":" + expression
	}
	return EngineExpr + "[" + strings.Join(e.shadowed, ",") + "]:" + expression
}

func (e *exprEvaluator) Engine() string { return EngineExpr }

func (e *exprEvaluator) Compile(expression string) (Program, error) {
	if expression == "" {
		return nil, wrapError(EngineExpr, expression, errEmptyExpression)
	}
	key := e.cacheKey(expression)
	if e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			if program, ok := cached.(*exprvm.Program); ok {
				return &exprProgram{program: program, source: expression}, nil
			}
		}
	}
	options := []exprlang.Option{
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
	}
	for _, name := range e.shadowed {
		options = append(options, exprlang.DisableBuiltin(name))
	}
	program, err := exprlang.Compile(expression, options...)
	if err != nil {
		return nil, wrapError(EngineExpr, expression, err)
	}
	if e.cache != nil {
		e.cache.Set(key, program)
	}
	return &exprProgram{program: program, source: expression}, nil
}

type exprProgram struct {
	program *exprvm.Program
	source  string
}

func (p *exprProgram) Source() string { return p.source }

func (p *exprProgram) Eval(env map[string]any) (any, error) {
	if env == nil {
		env = map[string]any{}
	}
	out, err := exprlang.Run(p.program, env)
	if err != nil {
		return nil, wrapError(EngineExpr, p.source, err)
	}
	return Normalize(out), nil
}
