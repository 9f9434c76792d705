package slicedef

import (
	"testing"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compileSource(t *testing.T, src, path string) (*Definition, error) {
	t.Helper()
	v := cuecontext.New().CompileString(src)
	require.NoError(t, v.Err())
	return CompileSlice(v.LookupPath(cue.ParsePath(path)))
}

func TestCompileSliceBasic(t *testing.T) {
	def, err := compileSource(t, `
		slice: counter: {
			initial: {count: 0, label: "c"}
			action: increment: set: {count: "count + payload"}
			action: load: async: {
				delay:  "5ms"
				result: "count + 1"
				then: ["increment"]
				pending: {label: "'loading'"}
				success: {count: "result"}
			}
		}
	`, "slice.counter")
	require.NoError(t, err)

	assert.Equal(t, "counter", def.Name)
	assert.Equal(t, "expr", def.Engine)
	assert.Equal(t, State{"count": int64(0), "label": "c"}, def.Initial)
	require.Len(t, def.Actions, 2)

	increment, ok := def.Action("increment")
	require.True(t, ok)
	assert.Equal(t, []Assignment{{Field: "count", Expr: "count + payload"}}, increment.Set)
	assert.Nil(t, increment.Async)

	load, ok := def.Action("load")
	require.True(t, ok)
	require.NotNil(t, load.Async)
	assert.Equal(t, 5*time.Millisecond, load.Async.Delay)
	assert.Equal(t, "count + 1", load.Async.Result)
	assert.Equal(t, []string{"increment"}, load.Async.Then)
	assert.Equal(t, []Assignment{{Field: "label", Expr: "'loading'"}}, load.Async.Pending)
	assert.Empty(t, load.Async.Error)
}

func TestCompileSliceActionsSorted(t *testing.T) {
	def, err := compileSource(t, `
		slice: s: {
			initial: {n: 0}
			action: zeta: set: {n: "1"}
			action: alpha: set: {n: "2"}
		}
	`, "slice.s")
	require.NoError(t, err)

	assert.Equal(t, "alpha", def.Actions[0].Name)
	assert.Equal(t, "zeta", def.Actions[1].Name)
}

func TestCompileSliceErrors(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		wantCode string
		wantMsg  string
	}{
		{
			name:     "no actions",
			src:      `slice: s: {initial: {n: 0}}`,
			wantCode: ErrCodeNoActions,
			wantMsg:  "at least one action is required",
		},
		{
			name:     "unknown engine",
			src:      `slice: s: {engine: "lua", action: a: set: {}}`,
			wantCode: ErrCodeEngine,
			wantMsg:  `unknown engine "lua"`,
		},
		{
			name:     "set and async",
			src:      `slice: s: {initial: {n: 0}, action: a: {set: {n: "1"}, async: {result: "1"}}}`,
			wantCode: ErrCodeActionShape,
			wantMsg:  "mutually exclusive",
		},
		{
			name:     "empty action",
			src:      `slice: s: {action: a: {}}`,
			wantCode: ErrCodeActionShape,
			wantMsg:  "needs set or async",
		},
		{
			name:     "async without outcome",
			src:      `slice: s: {action: a: async: {}}`,
			wantCode: ErrCodeAsyncShape,
			wantMsg:  "exactly one of result or fail",
		},
		{
			name:     "async with both outcomes",
			src:      `slice: s: {action: a: async: {result: "1", fail: "x"}}`,
			wantCode: ErrCodeAsyncShape,
			wantMsg:  "exactly one of result or fail",
		},
		{
			name:     "bad delay",
			src:      `slice: s: {action: a: async: {result: "1", delay: "soon"}}`,
			wantCode: ErrCodeAsyncShape,
			wantMsg:  `invalid duration "soon"`,
		},
		{
			name:     "unknown field",
			src:      `slice: s: {initial: {n: 0}, action: a: set: {m: "1"}}`,
			wantCode: ErrCodeUnknownField,
			wantMsg:  `unknown state field "m"`,
		},
		{
			name:     "initial not a struct",
			src:      `slice: s: {initial: 3, action: a: set: {}}`,
			wantCode: ErrCodeGeneric,
			wantMsg:  "initial state must be a struct",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileSource(t, tt.src, "slice.s")
			require.Error(t, err)

			var compileErr *CompileError
			require.ErrorAs(t, err, &compileErr)
			assert.Equal(t, tt.wantCode, compileErr.Code)
			assert.Contains(t, compileErr.Message, tt.wantMsg)
		})
	}
}

func TestCompileSliceIncompleteInitial(t *testing.T) {
	_, err := compileSource(t, `slice: s: {initial: {n: int}, action: a: set: {n: "1"}}`, "slice.s")
	require.Error(t, err)
}

func TestCompileErrorFormat(t *testing.T) {
	err := &CompileError{Code: ErrCodeGeneric, Field: "action.a", Message: "bad"}
	assert.Equal(t, "action.a: bad", err.Error())
}
