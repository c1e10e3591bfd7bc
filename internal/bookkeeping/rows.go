// Package bookkeeping assigns row numbers to new records and writes audit
// snapshots after persisted changes.
package bookkeeping

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/columns"
	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/pkg/core"
)

// NextRow returns the lowest positive integer not present in existing.
// Non-positive entries are ignored.
func NextRow(existing []int) int {
	used := make(map[int]struct{}, len(existing))
	for _, row := range existing {
		if row > 0 {
			used[row] = struct{}{}
		}
	}
	for n := 1; ; n++ {
		if _, ok := used[n]; !ok {
			return n
		}
	}
}

// RowStore is the part of the record store needed to create records. The
// store picks the row under its own lock or transaction.
type RowStore interface {
	CreateNextRecord(ctx context.Context, rec *core.Record, nextRow func(existing []int) int) error
}

// DefaultFields returns the initial fields of a new record: every column
// with a default gets it, booleans default to false.
func DefaultFields(cols []*core.Column) core.Fields {
	fields := core.Fields{}
	for _, c := range cols {
		if c.IsComputed() {
			continue
		}
		if v := c.Default(); v != nil {
			fields[c.ID] = v
		}
	}
	return fields
}

// NewRecord creates a record with a fresh id, the next free row number and
// default field values, overlaid with initial.
func NewRecord(ctx context.Context, store RowStore, snap columns.Snapshot, initial core.Fields) (*core.Record, error) {
	fields := DefaultFields(snap.Columns)
	for k, v := range initial {
		fields[k] = v
	}

	rec := &core.Record{
		ID:        uuid.NewString(),
		Fields:    fields,
		UpdatedAt: time.Now().UTC(),
	}
	if err := store.CreateNextRecord(ctx, rec, NextRow); err != nil {
		return nil, fmt.Errorf("creating record: %w", err)
	}
	return rec, nil
}
