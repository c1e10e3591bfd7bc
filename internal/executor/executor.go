// Package executor runs a single computed column: it resolves the column's
// argument bindings against a field snapshot and invokes the referenced
// function under a hard timeout.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/pkg/core"
)

// DefaultTimeout bounds a single function invocation.
const DefaultTimeout = 10 * time.Second

var (
	// ErrTimeout is returned when a function does not finish in time.
	ErrTimeout = errors.New("function timed out")
	// ErrNoFunction is returned for columns without a function reference.
	ErrNoFunction = errors.New("column has no function")
)

// Invoker calls a function by reference with positional arguments.
type Invoker interface {
	Invoke(ctx context.Context, ref string, args []any) (any, error)
}

// InvokerFunc adapts a plain function to Invoker.
type InvokerFunc func(ctx context.Context, ref string, args []any) (any, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, ref string, args []any) (any, error) {
	return f(ctx, ref, args)
}

// Resolver finds columns by columnName. columns.Snapshot implements it.
type Resolver interface {
	ByName(name string) (*core.Column, bool)
}

// Input is what a column is computed against.
type Input struct {
	RecordID string
	Fields   core.Fields
	Columns  Resolver
}

// Result is the outcome of one execution. On failure Value is nil and the
// caller keeps the column's previous value.
type Result struct {
	ColumnID string
	Success  bool
	Value    any
	Err      error
	Duration time.Duration
}

// ExecutionError describes a failed execution.
type ExecutionError struct {
	ColumnID string
	Function string
	TimedOut bool
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("column %s: function %q: %v", e.ColumnID, e.Function, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Config holds the configuration for an Engine.
type Config struct {
	Invoker Invoker
	Timeout time.Duration
	Status  *StatusTracker
	Logger  *slog.Logger
}

// Engine executes computed columns.
type Engine struct {
	invoker Invoker
	timeout time.Duration
	status  *StatusTracker
	logger  *slog.Logger
}

// New creates an Engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	status := cfg.Status
	if status == nil {
		status = NewStatusTracker()
	}
	return &Engine{
		invoker: cfg.Invoker,
		timeout: timeout,
		status:  status,
		logger:  logger,
	}
}

// Status returns the engine's computing-status tracker.
func (e *Engine) Status() *StatusTracker {
	return e.status
}

// Timeout returns the per-call timeout.
func (e *Engine) Timeout() time.Duration {
	return e.timeout
}

// Execute computes col against in. It never panics and never blocks longer
// than the timeout; the input fields are not modified.
func (e *Engine) Execute(ctx context.Context, col *core.Column, in Input) (res Result) {
	start := time.Now()
	res.ColumnID = col.ID

	if !col.IsComputed() || col.Function == "" {
		res.Err = &ExecutionError{ColumnID: col.ID, Function: col.Function, Err: ErrNoFunction}
		return res
	}

	e.status.Start(col.ID)
	defer func() {
		res.Duration = time.Since(start)
		e.status.Finish(col.ID, res.Err)
	}()

	args := ResolveArguments(col, in)

	value, err := e.invoke(ctx, col.Function, args)
	if err != nil {
		execErr := &ExecutionError{ColumnID: col.ID, Function: col.Function, Err: err}
		if errors.Is(err, ErrTimeout) {
			execErr.TimedOut = true
		}
		res.Err = execErr
		e.logger.Warn("column function failed",
			"column_id", col.ID,
			"function", col.Function,
			"record_id", in.RecordID,
			"timed_out", execErr.TimedOut,
			"error", err)
		return res
	}

	res.Success = true
	res.Value = value
	e.logger.Debug("column computed",
		"column_id", col.ID,
		"record_id", in.RecordID,
		"duration_ms", time.Since(start).Milliseconds())
	return res
}

// invoke runs the function on its own goroutine so that an invoker which
// ignores cancellation still cannot hold the caller past the deadline.
func (e *Engine) invoke(ctx context.Context, ref string, args []any) (any, error) {
	if e.invoker == nil {
		return nil, fmt.Errorf("no invoker configured")
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		var out outcome
		defer func() {
			if r := recover(); r != nil {
				out = outcome{err: fmt.Errorf("panic: %v", r)}
			}
			done <- out
		}()
		out.value, out.err = e.invoker.Invoke(ctx, ref, args)
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, e.timeout)
		}
		return out.value, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, e.timeout)
		}
		return nil, ctx.Err()
	}
}

// ResolveArguments builds the positional call arguments of col in declared
// order. The ID literal yields the record id; a reference that does not
// resolve yields nil; a multi-reference yields a list.
func ResolveArguments(col *core.Column, in Input) []any {
	args := make([]any, 0, len(col.Arguments))
	for _, arg := range col.Arguments {
		switch {
		case arg.ColumnReference != "":
			args = append(args, resolveRef(arg.ColumnReference, in))
		case len(arg.ColumnReferences) > 0:
			values := make([]any, 0, len(arg.ColumnReferences))
			for _, ref := range arg.ColumnReferences {
				if ref == "" {
					continue
				}
				values = append(values, resolveRef(ref, in))
			}
			args = append(args, values)
		default:
			args = append(args, arg.Value)
		}
	}
	return args
}

func resolveRef(ref string, in Input) any {
	if ref == core.IDBinding {
		return in.RecordID
	}
	if in.Columns == nil {
		return nil
	}
	source, ok := in.Columns.ByName(ref)
	if !ok {
		return nil
	}
	return in.Fields[source.ID]
}
