package eval

import (
	"fmt"
	"strings"

	celgo "github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
)

// CEL needs declared variables, so programs are compiled lazily per
// environment shape (the sorted set of variable names) and cached.
type celEvaluator struct {
	cache ProgramCache
}

func (e *celEvaluator) Engine() string { return EngineCEL }

func (e *celEvaluator) Compile(expression string) (Program, error) {
	if expression == "" {
		return nil, wrapError(EngineCEL, expression, errEmptyExpression)
	}
	// Parse eagerly so syntax errors surface at load time.
	env, err := celgo.NewEnv()
	if err != nil {
		return nil, wrapError(EngineCEL, expression, err)
	}
	if _, issues := env.Parse(expression); issues != nil && issues.Err() != nil {
		return nil, wrapError(EngineCEL, expression, issues.Err())
	}
	cache := e.cache
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &celProgram{source: expression, cache: cache}, nil
}

type celProgram struct {
	source string
	cache  ProgramCache
}

func (p *celProgram) Source() string { return p.source }

func (p *celProgram) Eval(env map[string]any) (any, error) {
	if env == nil {
		env = map[string]any{}
	}
	prg, err := p.loadOrCompile(sortedNames(env))
	if err != nil {
		return nil, wrapError(EngineCEL, p.source, err)
	}
	out, _, err := prg.Eval(env)
	if err != nil {
		return nil, wrapError(EngineCEL, p.source, err)
	}
	return Normalize(celNative(out)), nil
}

func (p *celProgram) loadOrCompile(names []string) (celgo.Program, error) {
	key := EngineCEL + ":" + strings.Join(names, ",") + ":" + p.source
	if cached, ok := p.cache.Get(key); ok {
		if prg, ok := cached.(celgo.Program); ok {
			return prg, nil
		}
	}
	opts := make([]celgo.EnvOption, 0, len(names))
	for _, name := range names {
		opts = append(opts, celgo.Variable(name, celgo.DynType))
	}
	env, err := celgo.NewEnv(opts...)
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(p.source)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	p.cache.Set(key, prg)
	return prg, nil
}

// celNative unwraps CEL values into plain Go maps, slices and scalars.
func celNative(val ref.Val) any {
	switch v := val.(type) {
	case types.Null:
		return nil
	case traits.Mapper:
		out := map[string]any{}
		it := v.Iterator()
		for it.HasNext() == types.True {
			key := it.Next()
			out[fmt.Sprint(celNative(key))] = celNative(v.Get(key))
		}
		return out
	case traits.Lister:
		var out []any
		it := v.Iterator()
		for it.HasNext() == types.True {
			out = append(out, celNative(it.Next()))
		}
		if out == nil {
			out = []any{}
		}
		return out
	default:
		return val.Value()
	}
}
