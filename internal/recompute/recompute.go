// Package recompute propagates field changes through computed columns.
//
// A run proceeds breadth-first by round: the direct dependents of every
// column changed in the previous round are executed together, concurrently,
// against the same snapshot. Only outputs whose value actually changed feed
// the next round. A depth cap stops oscillating cycles.
package recompute

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/columns"
	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/dag"
	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/executor"
	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/pkg/core"
)

// Defaults for Config.
const (
	DefaultMaxParallel = 8
	DefaultMaxDepth    = 32
)

// Columns provides the current column snapshot. *columns.Registry implements it.
type Columns interface {
	Snapshot() columns.Snapshot
}

// Config holds the configuration for a Recomputer.
type Config struct {
	Columns     Columns
	Engine      *executor.Engine
	MaxParallel int
	MaxDepth    int
	Logger      *slog.Logger
}

// Recomputer runs recompute passes. It is safe for concurrent use; runs do
// not share state beyond the graph cache.
type Recomputer struct {
	columns     Columns
	graphs      dag.Cache
	engine      *executor.Engine
	maxParallel int
	maxDepth    int
	logger      *slog.Logger
}

// New creates a Recomputer.
func New(cfg Config) *Recomputer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	maxParallel := cfg.MaxParallel
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}
	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Recomputer{
		columns:     cfg.Columns,
		engine:      cfg.Engine,
		maxParallel: maxParallel,
		maxDepth:    maxDepth,
		logger:      logger,
	}
}

// Graph returns the dependency graph for the current registry version.
func (r *Recomputer) Graph() *dag.Graph {
	return r.graphs.Get(r.columns.Snapshot())
}

// RunResult describes one recompute run.
type RunResult struct {
	RecordID string
	// Fields is the input snapshot with every changed output applied.
	Fields core.Fields
	// Changed maps computed column id to its new value, for outputs that
	// differ from their previous value.
	Changed core.Fields
	// Executed lists the columns executed, round by round.
	Executed []string
	// Failed maps column id to the execution error; those columns keep
	// their previous value.
	Failed map[string]error
	Rounds int
	// Truncated is set when the depth cap stopped propagation.
	Truncated bool
	Duration  time.Duration
}

// ChangedIDs returns the ids of changed columns in the order they changed.
func (r *RunResult) ChangedIDs() []string {
	out := make([]string, 0, len(r.Changed))
	for _, id := range r.Executed {
		if _, ok := r.Changed[id]; ok && !containsID(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// Run recomputes the dependents of the changed columns against fields.
// fields is not modified; the updated copy is returned in the result.
func (r *Recomputer) Run(ctx context.Context, recordID string, fields core.Fields, changed []string) *RunResult {
	start := time.Now()
	snap := r.columns.Snapshot()
	graph := r.graphs.Get(snap)

	res := &RunResult{
		RecordID: recordID,
		Fields:   fields.Clone(),
		Changed:  core.Fields{},
		Failed:   map[string]error{},
	}

	frontier := dedupe(changed)
	for len(frontier) > 0 {
		deps := graph.DependentsOf(frontier)
		if len(deps) == 0 {
			break
		}
		if res.Rounds >= r.maxDepth {
			res.Truncated = true
			r.logger.Warn("recompute depth cap reached",
				"record_id", recordID,
				"max_depth", r.maxDepth,
				"pending", len(deps))
			break
		}
		res.Rounds++

		results := r.executeRound(ctx, deps, executor.Input{
			RecordID: recordID,
			Fields:   res.Fields,
			Columns:  snap,
		})

		var next []string
		for _, result := range results {
			res.Executed = append(res.Executed, result.ColumnID)
			if !result.Success {
				res.Failed[result.ColumnID] = result.Err
				continue
			}
			delete(res.Failed, result.ColumnID)
			if core.Equal(res.Fields[result.ColumnID], result.Value) {
				continue
			}
			res.Fields[result.ColumnID] = result.Value
			res.Changed[result.ColumnID] = result.Value
			next = append(next, result.ColumnID)
		}
		frontier = next
	}

	res.Duration = time.Since(start)
	r.logger.Debug("recompute finished",
		"record_id", recordID,
		"rounds", res.Rounds,
		"executed", len(res.Executed),
		"changed", len(res.Changed),
		"failed", len(res.Failed),
		"duration_ms", res.Duration.Milliseconds())
	return res
}

// executeRound runs every dependent concurrently against the same input.
// Results keep the order of deps. Failures are isolated per column.
func (r *Recomputer) executeRound(ctx context.Context, deps []*core.Column, in executor.Input) []executor.Result {
	results := make([]executor.Result, len(deps))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxParallel)
	for i, col := range deps {
		g.Go(func() error {
			results[i] = r.engine.Execute(gctx, col, in)
			return nil
		})
	}
	_ = g.Wait() // executions never return errors

	return results
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !containsID(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func containsID(ids []string, id string) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}
