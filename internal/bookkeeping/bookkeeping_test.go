package bookkeeping

import (
	"context"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/columns"
	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/state"
	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/testutil"
	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/pkg/core"
)

func TestNextRow(t *testing.T) {
	tests := []struct {
		name     string
		existing []int
		want     int
	}{
		{name: "empty", existing: nil, want: 1},
		{name: "gap", existing: []int{1, 2, 4}, want: 3},
		{name: "contiguous", existing: []int{1, 2, 3}, want: 4},
		{name: "unordered", existing: []int{3, 1}, want: 2},
		{name: "missing first", existing: []int{2, 3}, want: 1},
		{name: "ignores non-positive", existing: []int{0, -1, 1}, want: 2},
		{name: "duplicates", existing: []int{1, 1, 2}, want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextRow(tt.existing))
		})
	}
}

func testSnapshot() columns.Snapshot {
	return columns.Snapshot{Version: 1, Columns: []*core.Column{
		{ID: "guest", Name: "Guest", DataType: core.DataTypeString, Order: 1},
		{ID: "paid", Name: "Paid", DataType: core.DataTypeBoolean, Order: 2},
		{ID: "status", Name: "Status", DataType: core.DataTypeSelect, Order: 3, DefaultValue: "pending"},
		{ID: "total", Name: "Total", DataType: core.DataTypeFunction, Order: 4, Function: "total", DefaultValue: 0},
	}}
}

func TestDefaultFields(t *testing.T) {
	fields := DefaultFields(testSnapshot().Columns)
	assert.Equal(t, core.Fields{"paid": false, "status": "pending"}, fields)
}

func TestNewRecord(t *testing.T) {
	store := state.NewMemoryStore(state.MemoryConfig{})
	ctx := context.Background()

	require.NoError(t, store.CreateRecord(ctx, &core.Record{ID: "r1", Row: 1}))
	require.NoError(t, store.CreateRecord(ctx, &core.Record{ID: "r2", Row: 2}))
	require.NoError(t, store.CreateRecord(ctx, &core.Record{ID: "r4", Row: 4}))

	rec, err := NewRecord(ctx, store, testSnapshot(), core.Fields{"guest": "Ana", "status": "confirmed"})
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Row)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "Ana", rec.Fields["guest"])
	assert.Equal(t, "confirmed", rec.Fields["status"])
	assert.Equal(t, false, rec.Fields["paid"])

	stored, err := store.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.Row)

	next, err := NewRecord(ctx, store, testSnapshot(), nil)
	require.NoError(t, err)
	assert.Equal(t, 5, next.Row)
}

type failingRows struct{}

func (failingRows) CreateNextRecord(context.Context, *core.Record, func([]int) int) error {
	return assert.AnError
}

func TestNewRecord_CreateError(t *testing.T) {
	_, err := NewRecord(context.Background(), failingRows{}, testSnapshot(), nil)
	require.ErrorIs(t, err, assert.AnError)
}

func TestNewRecord_ConcurrentRowsAreUnique(t *testing.T) {
	sqlite := state.NewSQLiteStore(state.SQLiteConfig{})
	require.NoError(t, sqlite.Open(filepath.Join(t.TempDir(), "bookings.db")))
	t.Cleanup(func() { _ = sqlite.Close() })

	stores := map[string]RowStore{
		"memory": state.NewMemoryStore(state.MemoryConfig{}),
		"sqlite": sqlite,
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			const n = 20
			rows := make([]int, n)
			var wg sync.WaitGroup
			for i := range n {
				wg.Add(1)
				go func() {
					defer wg.Done()
					rec, err := NewRecord(context.Background(), store, testSnapshot(), nil)
					if assert.NoError(t, err) {
						rows[i] = rec.Row
					}
				}()
			}
			wg.Wait()

			slices.Sort(rows)
			want := make([]int, n)
			for i := range want {
				want[i] = i + 1
			}
			assert.Equal(t, want, rows)
		})
	}
}

func TestAuditor_RecordBatch(t *testing.T) {
	store := state.NewMemoryStore(state.MemoryConfig{})
	ctx := context.Background()
	require.NoError(t, store.CreateRecord(ctx, &core.Record{ID: "a", Row: 1, Fields: core.Fields{"price": 100, "total": 80}}))

	auditor := NewAuditor(AuditorConfig{
		Reader:   store,
		Recorder: store,
		UserID:   "u1",
		UserName: "Agent",
		Logger:   testutil.NewTestLogger(t),
	})

	auditor.RecordBatch([]core.FieldWrite{{RecordID: "a", Fields: core.Fields{"total": 80, "price": 100}}})
	auditor.Wait()

	versions, err := store.History("a", 0)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	v := versions[0]
	assert.Equal(t, core.ChangeTypeUpdate, v.ChangeType)
	assert.Equal(t, []string{"price", "total"}, v.ChangedPaths)
	assert.Equal(t, "u1", v.UserID)
	assert.Equal(t, "Agent", v.UserName)
	assert.Equal(t, core.Fields{"price": 100, "total": 80}, v.Snapshot)
}

type failingRecorder struct{}

func (failingRecorder) RecordChange(context.Context, string, core.Fields, core.ChangeMeta) error {
	return assert.AnError
}

type panickingReader struct{}

func (panickingReader) GetRecord(context.Context, string) (*core.Record, error) {
	panic("boom")
}

func TestAuditor_FailuresAreSwallowed(t *testing.T) {
	store := state.NewMemoryStore(state.MemoryConfig{})
	require.NoError(t, store.CreateRecord(context.Background(), &core.Record{ID: "a", Row: 1}))

	logs, logger := testutil.NewLogRecorder()

	failing := NewAuditor(AuditorConfig{Reader: store, Recorder: failingRecorder{}, Logger: logger})
	failing.RecordAsync("a", core.ChangeMeta{ChangeType: core.ChangeTypeUpdate})
	failing.RecordAsync("missing", core.ChangeMeta{ChangeType: core.ChangeTypeUpdate})
	failing.Wait()

	panicking := NewAuditor(AuditorConfig{Reader: panickingReader{}, Recorder: store, Logger: logger})
	assert.NotPanics(t, func() {
		panicking.RecordAsync("a", core.ChangeMeta{ChangeType: core.ChangeTypeUpdate})
		panicking.Wait()
	})

	assert.Equal(t, 3, logs.Count("audit snapshot failed"))
	assert.Equal(t, 1, logs.Count("panic"))

	versions, err := store.History("a", 0)
	require.NoError(t, err)
	assert.Empty(t, versions)
}
