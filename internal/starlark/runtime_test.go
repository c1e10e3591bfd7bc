package starlark

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"

	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/testutil"
)

func loadFunc(t *testing.T, src, name string) starlark.Callable {
	t.Helper()
	globals, err := ExecFile("test.star", []byte(src))
	require.NoError(t, err)
	fn, ok := globals[name].(starlark.Callable)
	require.True(t, ok, "%s is not callable", name)
	return fn
}

func TestCall(t *testing.T) {
	fn := loadFunc(t, `
def total(price, discount_pct):
    if price == None:
        return None
    return price * (1 - (discount_pct or 0) / 100.0)
`, "total")

	got, err := Call(context.Background(), fn, []any{100.0, int64(20)}, CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, 80.0, got)

	got, err = Call(context.Background(), fn, []any{nil, 10}, CallOptions{})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCall_ErrorIsCallError(t *testing.T) {
	fn := loadFunc(t, `
def boom(x):
    fail("bad input: %s" % x)
`, "boom")

	_, err := Call(context.Background(), fn, []any{"q"}, CallOptions{})
	require.Error(t, err)

	var callErr *CallError
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, "boom", callErr.Function)
	assert.Contains(t, callErr.Message, "bad input: q")
}

func TestCall_ContextTimeout(t *testing.T) {
	fn := loadFunc(t, `
def spin():
    n = 0
    while True:
        n += 1
`, "spin")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Call(ctx, fn, nil, CallOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCanceled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCall_MaxSteps(t *testing.T) {
	fn := loadFunc(t, `
def spin():
    while True:
        pass
`, "spin")

	_, err := Call(context.Background(), fn, nil, CallOptions{MaxSteps: 1000})
	require.Error(t, err)
	var callErr *CallError
	assert.True(t, errors.As(err, &callErr))
}

func TestCall_PrintGoesToLogger(t *testing.T) {
	fn := loadFunc(t, `
def noisy():
    print("hello")
    return 1
`, "noisy")

	got, err := Call(context.Background(), fn, nil, CallOptions{Logger: testutil.NewTestLogger(t)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func TestExecFile_SyntaxError(t *testing.T) {
	_, err := ExecFile("bad.star", []byte("def broken(:\n"))
	assert.Error(t, err)
}

func TestExecFile_GlobalsFrozen(t *testing.T) {
	fn := loadFunc(t, `
seen = []
def remember(x):
    seen.append(x)
    return len(seen)
`, "remember")

	_, err := Call(context.Background(), fn, []any{1}, CallOptions{})
	assert.Error(t, err, "frozen module state must not be mutated")
}
