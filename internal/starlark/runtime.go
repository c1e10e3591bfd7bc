package starlark

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// ErrCanceled is returned when a call is stopped by its context.
var ErrCanceled = errors.New("starlark call canceled")

// FileOptions are the dialect options used for column function files.
var FileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// CallOptions tune a single call.
type CallOptions struct {
	// MaxSteps bounds the number of Starlark execution steps; zero means unbounded.
	MaxSteps uint64
	// Logger receives print() output at debug level.
	Logger *slog.Logger
}

// CallError represents an error raised while running a Starlark function.
type CallError struct {
	Function  string
	Message   string
	Backtrace string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %s", e.Function, e.Message)
}

// ExecFile compiles and runs a function file, returning its globals.
// The globals are frozen so they can be shared between concurrent calls.
func ExecFile(filename string, src []byte) (starlark.StringDict, error) {
	thread := newThread(filename, nil)
	globals, err := starlark.ExecFileOptions(FileOptions, thread, filename, src, Predeclared())
	if err != nil {
		return nil, err
	}
	globals.Freeze()
	return globals, nil
}

// Call invokes fn with Go arguments on a fresh thread and converts the result
// back to Go. When ctx is done the thread is cancelled and Call returns
// without waiting for the interpreter to notice.
func Call(ctx context.Context, fn starlark.Callable, args []any, opts CallOptions) (any, error) {
	sargs := make(starlark.Tuple, len(args))
	for i, arg := range args {
		v, err := FromGo(arg)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		sargs[i] = v
	}

	thread := newThread(fn.Name(), opts.Logger)
	if opts.MaxSteps > 0 {
		thread.SetMaxExecutionSteps(opts.MaxSteps)
	}

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		var out outcome
		defer func() {
			if r := recover(); r != nil {
				out = outcome{err: &CallError{Function: fn.Name(), Message: fmt.Sprintf("panic: %v", r)}}
			}
			done <- out
		}()

		result, err := starlark.Call(thread, fn, sargs, nil)
		if err != nil {
			out.err = wrapCallError(fn.Name(), err)
			return
		}
		out.value, out.err = ToGo(result)
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-ctx.Done():
		thread.Cancel(ctx.Err().Error())
		return nil, fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
	}
}

func wrapCallError(name string, err error) error {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return &CallError{Function: name, Message: evalErr.Msg, Backtrace: evalErr.Backtrace()}
	}
	return &CallError{Function: name, Message: err.Error()}
}

func newThread(name string, logger *slog.Logger) *starlark.Thread {
	return &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			if logger != nil {
				logger.Debug("starlark print", "function", name, "message", msg)
			}
		},
	}
}
