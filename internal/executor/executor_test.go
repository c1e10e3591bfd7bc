package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/columns"
	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/testutil"
	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/pkg/core"
)

func testSnapshot(t *testing.T) columns.Snapshot {
	t.Helper()
	r := columns.NewRegistry()
	require.NoError(t, r.Replace([]*core.Column{
		{ID: "price", Name: "Price", DataType: core.DataTypeNumber, Order: 1},
		{ID: "discount", Name: "Discount", DataType: core.DataTypeNumber, Order: 2},
		{ID: "tags", Name: "Tags", DataType: core.DataTypeString, Order: 3},
	}))
	return r.Snapshot()
}

func computed(fn string, args ...core.ArgumentBinding) *core.Column {
	return &core.Column{ID: fn, Name: fn, DataType: core.DataTypeFunction, Function: fn, Arguments: args}
}

func TestResolveArguments(t *testing.T) {
	col := computed("f",
		core.ArgumentBinding{Name: "price", ColumnReference: "Price"},
		core.ArgumentBinding{Name: "id", ColumnReference: core.IDBinding},
		core.ArgumentBinding{Name: "missing", ColumnReference: "Nope"},
		core.ArgumentBinding{Name: "both", ColumnReferences: []string{"Price", "", "Discount", core.IDBinding}},
		core.ArgumentBinding{Name: "rate", Value: 0.2},
		core.ArgumentBinding{Name: "tags", ColumnReference: "Tags"},
	)
	in := Input{
		RecordID: "rec-1",
		Fields:   core.Fields{"price": 100.0, "discount": 10.0},
		Columns:  testSnapshot(t),
	}

	got := ResolveArguments(col, in)
	assert.Equal(t, []any{100.0, "rec-1", nil, []any{100.0, 10.0, "rec-1"}, 0.2, nil}, got)
}

func TestEngine_ExecuteSuccess(t *testing.T) {
	var gotArgs []any
	e := New(Config{
		Invoker: InvokerFunc(func(_ context.Context, ref string, args []any) (any, error) {
			assert.Equal(t, "total", ref)
			gotArgs = args
			return 90.0, nil
		}),
		Logger: testutil.NewTestLogger(t),
	})

	fields := core.Fields{"price": 100.0}
	res := e.Execute(context.Background(), computed("total", core.ArgumentBinding{ColumnReference: "Price"}), Input{
		RecordID: "r",
		Fields:   fields,
		Columns:  testSnapshot(t),
	})

	require.True(t, res.Success)
	assert.Equal(t, 90.0, res.Value)
	assert.Equal(t, []any{100.0}, gotArgs)
	assert.Equal(t, core.Fields{"price": 100.0}, fields, "input must not be mutated")
	assert.False(t, e.Status().Computing("total"))
	assert.NoError(t, e.Status().Err("total"))
}

func TestEngine_ExecuteFailure(t *testing.T) {
	boom := errors.New("boom")
	e := New(Config{
		Invoker: InvokerFunc(func(context.Context, string, []any) (any, error) {
			return nil, boom
		}),
	})

	res := e.Execute(context.Background(), computed("f"), Input{})
	assert.False(t, res.Success)
	assert.Nil(t, res.Value)

	var execErr *ExecutionError
	require.True(t, errors.As(res.Err, &execErr))
	assert.Equal(t, "f", execErr.ColumnID)
	assert.False(t, execErr.TimedOut)
	assert.ErrorIs(t, res.Err, boom)

	assert.False(t, e.Status().Computing("f"))
	assert.Error(t, e.Status().Err("f"))
	assert.Equal(t, ColumnStatus{Error: res.Err.Error()}, e.Status().Snapshot()["f"])
}

func TestEngine_ExecutePanicIsContained(t *testing.T) {
	e := New(Config{
		Invoker: InvokerFunc(func(context.Context, string, []any) (any, error) {
			panic("kaboom")
		}),
	})

	res := e.Execute(context.Background(), computed("f"), Input{})
	assert.False(t, res.Success)
	assert.Contains(t, res.Err.Error(), "kaboom")
	assert.False(t, e.Status().Computing("f"))
}

func TestEngine_NoFunction(t *testing.T) {
	e := New(Config{})
	res := e.Execute(context.Background(), &core.Column{ID: "price", DataType: core.DataTypeNumber}, Input{})
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrNoFunction)
}

func TestEngine_TimeoutDoesNotBlockSiblings(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	e := New(Config{
		Timeout: 50 * time.Millisecond,
		Invoker: InvokerFunc(func(_ context.Context, ref string, _ []any) (any, error) {
			if ref == "hang" {
				<-block // ignores cancellation
				return nil, nil
			}
			return ref + "-ok", nil
		}),
	})

	cols := []*core.Column{computed("hang"), computed("a"), computed("b")}
	results := make([]Result, len(cols))

	start := time.Now()
	var g errgroup.Group
	for i, col := range cols {
		g.Go(func() error {
			results[i] = e.Execute(context.Background(), col, Input{})
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.False(t, results[0].Success)
	assert.ErrorIs(t, results[0].Err, ErrTimeout)
	var execErr *ExecutionError
	require.True(t, errors.As(results[0].Err, &execErr))
	assert.True(t, execErr.TimedOut)

	assert.Equal(t, "a-ok", results[1].Value)
	assert.Equal(t, "b-ok", results[2].Value)
	assert.Empty(t, e.Status().ComputingColumns())
}

func TestStatusTracker_Overlapping(t *testing.T) {
	s := NewStatusTracker()
	s.Start("f")
	s.Start("f")
	s.Finish("f", nil)
	assert.True(t, s.Computing("f"))
	s.Finish("f", errors.New("late failure"))
	assert.False(t, s.Computing("f"))
	assert.Error(t, s.Err("f"))

	s.Start("f")
	assert.Equal(t, []string{"f"}, s.ComputingColumns())
	s.Finish("f", nil)
	assert.NoError(t, s.Err("f"), "success clears the previous error")
}

func TestStatusTracker_Concurrent(t *testing.T) {
	s := NewStatusTracker()
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Start("x")
			s.Finish("x", nil)
		}()
	}
	wg.Wait()
	assert.False(t, s.Computing("x"))
}
