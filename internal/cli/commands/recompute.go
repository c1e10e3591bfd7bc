package commands

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/bookkeeping"
	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/executor"
	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/recompute"
	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/state"
	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/writequeue"
	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/pkg/core"
	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/pkg/valueconv"
)

// RecomputeOptions holds options for the recompute command.
type RecomputeOptions struct {
	RecordID string
	Set      []string
	Apply    bool
	JSON     bool
}

// NewRecomputeCommand creates the recompute command.
func NewRecomputeCommand() *cobra.Command {
	opts := &RecomputeOptions{}

	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Recompute the computed columns of a record",
		Long: `Apply column values to a record and run every computed column that
depends on them, transitively, until no output changes.

Without --record the run starts from a new record holding the column
defaults. Nothing is written unless --apply is given.`,
		Example: `  # Preview the effect of a discount on a stored record
  bookcalc recompute --record 7d0f... --set discountPct=20

  # Try values against a blank record
  bookcalc recompute --set price=100 --set discountPct=10

  # Persist the edit and every changed output
  bookcalc recompute --record 7d0f... --set price=120 --apply`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRecompute(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.RecordID, "record", "", "Record id to load from the state database")
	cmd.Flags().StringArrayVar(&opts.Set, "set", nil, "Column value as column=value (repeatable)")
	cmd.Flags().BoolVar(&opts.Apply, "apply", false, "Persist the edits and changed outputs")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Output as JSON")
	return cmd
}

func runRecompute(cmd *cobra.Command, opts *RecomputeOptions) error {
	if opts.Apply && opts.RecordID == "" {
		return errors.New("--apply requires --record")
	}

	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	snap := cmdCtx.Registry.Snapshot()

	var (
		sqlite *state.SQLiteStore
		rec    *core.Record
	)
	if opts.RecordID != "" {
		sqlite, err = cmdCtx.OpenStore()
		if err != nil {
			return err
		}
		defer func() { _ = sqlite.Close() }()

		rec, err = sqlite.GetRecord(ctx, opts.RecordID)
		if err != nil {
			return err
		}
	} else {
		mem := state.NewMemoryStore(state.MemoryConfig{})
		rec, err = bookkeeping.NewRecord(ctx, mem, snap, nil)
		if err != nil {
			return err
		}
	}

	edits, err := parseSets(cmdCtx, opts.Set)
	if err != nil {
		return err
	}

	before := rec.Fields.Clone()
	fields := rec.Fields.Clone()
	changed := make([]string, 0, len(edits))
	for _, id := range edits.Keys() {
		fields[id] = edits[id]
		changed = append(changed, id)
	}

	engine := executor.New(executor.Config{
		Invoker: cmdCtx.Library,
		Timeout: cmdCtx.Cfg.Engine.Timeout,
		Logger:  cmdCtx.Logger,
	})
	rc := recompute.New(recompute.Config{
		Columns:     cmdCtx.Registry,
		Engine:      engine,
		MaxParallel: cmdCtx.Cfg.Engine.MaxParallel,
		MaxDepth:    cmdCtx.Cfg.Engine.MaxDepth,
		Logger:      cmdCtx.Logger,
	})
	res := rc.Run(ctx, rec.ID, fields, changed)

	if opts.Apply {
		writes := edits.Clone()
		for id, v := range res.Changed {
			writes[id] = v
		}
		if err := persist(ctx, cmdCtx, sqlite, rec.ID, writes); err != nil {
			return err
		}
	}

	if opts.JSON {
		failed := make(map[string]string, len(res.Failed))
		for id, ferr := range res.Failed {
			failed[id] = ferr.Error()
		}
		return renderJSON(cmdCtx.Out, map[string]any{
			"recordId":  rec.ID,
			"fields":    res.Fields,
			"changed":   res.Changed,
			"executed":  res.Executed,
			"failed":    failed,
			"rounds":    res.Rounds,
			"truncated": res.Truncated,
			"applied":   opts.Apply,
		})
	}

	t := newTable(cmdCtx.Out, "Column", "Before", "After", "Status")
	for _, c := range snap.Columns {
		status := ""
		switch {
		case res.Failed[c.ID] != nil:
			status = "failed: " + res.Failed[c.ID].Error()
		case hasKey(res.Changed, c.ID):
			status = "changed"
		case hasKey(edits, c.ID):
			status = "set"
		case c.IsComputed() && slices.Contains(res.Executed, c.ID):
			status = "unchanged"
		}
		t.AppendRow([]any{c.ID, formatValue(before[c.ID]), formatValue(res.Fields[c.ID]), status})
	}
	t.AppendFooter([]any{"", "", fmt.Sprintf("%d rounds", res.Rounds), fmt.Sprintf("%d changed", len(res.Changed))})
	t.Render()

	if res.Truncated {
		_, _ = fmt.Fprintln(cmdCtx.Out, "warning: recursion depth reached, outputs may be inconsistent")
	}
	if opts.Apply {
		_, _ = fmt.Fprintf(cmdCtx.Out, "applied to record %s\n", rec.ID)
	}
	return nil
}

// parseSets converts column=value pairs into coerced field values.
func parseSets(cmdCtx *CommandContext, sets []string) (core.Fields, error) {
	snap := cmdCtx.Registry.Snapshot()
	edits := core.Fields{}
	for _, set := range sets {
		name, raw, ok := strings.Cut(set, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --set %q: expected column=value", set)
		}
		col, found := snap.ByID(name)
		if !found {
			col, found = snap.ByName(name)
		}
		if !found {
			return nil, fmt.Errorf("invalid --set %q: unknown column", set)
		}
		if col.IsComputed() {
			return nil, fmt.Errorf("invalid --set %q: %s is computed", set, col.ID)
		}
		v, err := valueconv.Coerce(col.DataType, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid --set %q: %w", set, err)
		}
		edits[col.ID] = v
	}
	return edits, nil
}

// persist writes fields through the write queue and audits the commit.
func persist(ctx context.Context, cmdCtx *CommandContext, store *state.SQLiteStore, recordID string, fields core.Fields) error {
	if len(fields) == 0 {
		return nil
	}
	auditor := bookkeeping.NewAuditor(bookkeeping.AuditorConfig{
		Reader:   store,
		Recorder: store,
		UserID:   cmdCtx.Cfg.Audit.UserID,
		UserName: cmdCtx.Cfg.Audit.UserName,
		Logger:   cmdCtx.Logger,
	})
	q := writequeue.New(writequeue.Config{
		Writer:      store,
		MaxRecords:  cmdCtx.Cfg.Writes.MaxRecords,
		FlushWindow: cmdCtx.Cfg.Writes.FlushWindow,
		Retries:     cmdCtx.Cfg.Writes.Retries,
		RetryBase:   cmdCtx.Cfg.Writes.RetryBase,
		OnCommitted: auditor.RecordBatch,
		Logger:      cmdCtx.Logger,
	})
	q.Enqueue(recordID, fields)
	err := q.Close(ctx)
	auditor.Wait()
	if err != nil {
		return fmt.Errorf("failed to persist record %s: %w", recordID, err)
	}
	return nil
}

func hasKey(f core.Fields, key string) bool {
	_, ok := f[key]
	return ok
}
