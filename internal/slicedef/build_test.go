package slicedef

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tinyslice"
	"github.com/roach88/tinyslice/internal/eval"
	"github.com/roach88/tinyslice/internal/testutil"
)

func loadFixture(t *testing.T, name string) *Definition {
	t.Helper()
	result, errs := Load(filepath.Join("..", "..", "testdata", "slices"), LoadModeCollectAll)
	require.Empty(t, errs)
	def, err := result.Slice(name)
	require.NoError(t, err)
	return def
}

func buildStore(t *testing.T, def *Definition) (*tinyslice.Store[State], tinyslice.Invokers) {
	t.Helper()
	slice, err := Build(def, BuildOptions{RequestIDs: testutil.NewSequenceGenerator("req")})
	require.NoError(t, err)
	return tinyslice.Use(slice)
}

func TestBuild_CounterMatchesGoCounter(t *testing.T) {
	ctx := context.Background()
	store, actions := buildStore(t, loadFixture(t, "counter"))

	_, err := actions["increment"](ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), (*store.State())["count"])

	_, err = actions["reset"](ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), (*store.State())["count"])

	res, err := actions["asyncIncrement"](ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res)
	assert.Equal(t, State{"count": int64(1), "loading": false, "error": ""}, *store.State())
}

func TestBuild_AsyncFailureRunsErrorCallback(t *testing.T) {
	store, actions := buildStore(t, loadFixture(t, "counter"))

	_, err := actions["failing"](context.Background(), nil)

	require.EqualError(t, err, "boom")
	assert.Equal(t, State{"count": int64(0), "loading": false, "error": "boom"}, *store.State())
}

func TestBuild_ThenDispatchesFollowUps(t *testing.T) {
	sink := &collectingSink{}
	slice, err := Build(loadFixture(t, "counter"), BuildOptions{})
	require.NoError(t, err)
	store := tinyslice.NewStore(slice, tinyslice.WithTraceSink(sink))

	res, err := store.Invoke(context.Background(), "bump", 4)

	require.NoError(t, err)
	assert.Equal(t, int64(4), res)
	assert.Equal(t, int64(4), (*store.State())["count"])
	assert.Equal(t, []string{"increment", "bump/fulfilled"}, sink.types)
}

func TestBuild_DelayHonoursCancellation(t *testing.T) {
	def := &Definition{
		Name:    "slow",
		Engine:  eval.EngineExpr,
		Initial: State{"n": int64(0)},
		Actions: []ActionDef{{
			Name:  "wait",
			Async: &AsyncDef{Delay: time.Hour, Result: "1"},
		}},
	}
	slice, err := Build(def, BuildOptions{})
	require.NoError(t, err)
	store := tinyslice.NewStore(slice)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = store.Invoke(ctx, "wait", nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestBuild_EnginesProduceSameState(t *testing.T) {
	ctx := context.Background()

	cart, cartActions := buildStore(t, loadFixture(t, "cart"))
	_, err := cartActions["add"](ctx, map[string]any{"name": "pen", "price": 3})
	require.NoError(t, err)
	_, err = cartActions["add"](ctx, map[string]any{"name": "ink", "price": 4})
	require.NoError(t, err)
	assert.Equal(t, State{"items": []any{"pen", "ink"}, "total": int64(7)}, *cart.State())

	todos, todoActions := buildStore(t, loadFixture(t, "todos"))
	_, err = todoActions["load"](ctx, nil)
	require.NoError(t, err)
	_, err = todoActions["add"](ctx, "celebrate")
	require.NoError(t, err)
	assert.Equal(t, []any{"write docs", "ship", "celebrate"}, (*todos.State())["items"])
}

func TestBuild_SnapshotsAreIsolated(t *testing.T) {
	store, actions := buildStore(t, loadFixture(t, "counter"))
	before := store.State()

	_, err := actions["increment"](context.Background(), 2)
	require.NoError(t, err)

	assert.Equal(t, int64(0), (*before)["count"])
	assert.Equal(t, int64(2), (*store.State())["count"])
}

func TestBuild_FailingAssignmentKeepsField(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	def := &Definition{
		Name:    "bad",
		Engine:  eval.EngineExpr,
		Initial: State{"n": int64(1), "m": int64(1)},
		Actions: []ActionDef{{
			Name: "poke",
			Set: []Assignment{
				{Field: "m", Expr: "m + 1"},
				{Field: "n", Expr: "n + int(payload)"},
			},
		}},
	}
	slice, err := Build(def, BuildOptions{Logger: logger})
	require.NoError(t, err)
	store := tinyslice.NewStore(slice)

	_, err = store.Invoke(context.Background(), "poke", nil)
	require.NoError(t, err)

	assert.Equal(t, State{"n": int64(1), "m": int64(2)}, *store.State())
	assert.Contains(t, buf.String(), "assignment failed")
}

func TestBuild_StateFieldsShadowExprBuiltins(t *testing.T) {
	def := &Definition{
		Name:    "tally",
		Engine:  eval.EngineExpr,
		Initial: State{"count": int64(0), "sum": int64(0), "max": int64(5), "full": false, "label": "tally"},
		Actions: []ActionDef{{
			Name: "add",
			Set: []Assignment{
				{Field: "count", Expr: "count + 1"},
				{Field: "sum", Expr: "sum + payload"},
				{Field: "full", Expr: "sum + payload >= max"},
				{Field: "label", Expr: "upper(label)"},
			},
		}},
	}
	require.NoError(t, Check(def))

	slice, err := Build(def, BuildOptions{})
	require.NoError(t, err)
	store := tinyslice.NewStore(slice)
	ctx := context.Background()

	_, err = store.Invoke(ctx, "add", 2)
	require.NoError(t, err)
	_, err = store.Invoke(ctx, "add", 3)
	require.NoError(t, err)

	assert.Equal(t, State{"count": int64(2), "sum": int64(5), "max": int64(5), "full": true, "label": "TALLY"}, *store.State())
}

func TestBuild_RejectsBadExpressionsAndTargets(t *testing.T) {
	tests := []struct {
		name     string
		action   ActionDef
		wantCode string
	}{
		{
			name:     "bad set expression",
			action:   ActionDef{Name: "a", Set: []Assignment{{Field: "n", Expr: "1 +"}}},
			wantCode: ErrCodeExpression,
		},
		{
			name:     "bad result expression",
			action:   ActionDef{Name: "a", Async: &AsyncDef{Result: "(("}},
			wantCode: ErrCodeExpression,
		},
		{
			name:     "unknown then target",
			action:   ActionDef{Name: "a", Async: &AsyncDef{Result: "1", Then: []string{"ghost"}}},
			wantCode: ErrCodeThenTarget,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := &Definition{Name: "s", Engine: eval.EngineExpr, Initial: State{"n": int64(0)}, Actions: []ActionDef{tt.action}}

			err := Check(def)

			var compileErr *CompileError
			require.ErrorAs(t, err, &compileErr)
			assert.Equal(t, tt.wantCode, compileErr.Code)
		})
	}
}

type collectingSink struct {
	types []string
}

func (s *collectingSink) Record(_ context.Context, tr tinyslice.Transition) error {
	s.types = append(s.types, tr.Type.String())
	return nil
}
