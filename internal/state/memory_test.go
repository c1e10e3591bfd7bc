package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/pkg/core"
)

func TestMemoryStore_Records(t *testing.T) {
	store := NewMemoryStore(MemoryConfig{})
	ctx := context.Background()

	require.NoError(t, store.CreateRecord(ctx, &core.Record{ID: "b", Row: 2}))
	require.NoError(t, store.CreateRecord(ctx, &core.Record{ID: "a", Row: 1, Fields: core.Fields{"guest": "Ana"}}))
	assert.Error(t, store.CreateRecord(ctx, &core.Record{ID: "a", Row: 5}))
	assert.Error(t, store.CreateRecord(ctx, &core.Record{Row: 5}))

	assert.Equal(t, []int{1, 2}, store.rowsLocked())

	got, err := store.GetRecord(ctx, "a")
	require.NoError(t, err)
	got.Fields["guest"] = "changed"

	again, err := store.GetRecord(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Ana", again.Fields["guest"], "reads return copies")

	_, err = store.GetRecord(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrRecordNotFound)

	recs, err := store.ListRecords(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].ID)
}

func TestMemoryStore_CommitBatch(t *testing.T) {
	store := NewMemoryStore(MemoryConfig{MaxBatchSize: 2})
	ctx := context.Background()
	require.NoError(t, store.CreateRecord(ctx, &core.Record{ID: "a", Row: 1, Fields: core.Fields{"price": 100}}))

	ch, cancel := store.SubscribeRecord("a")
	defer cancel()

	require.NoError(t, store.CommitBatch(ctx, []core.FieldWrite{{RecordID: "a", Fields: core.Fields{"price": 100}}}))
	select {
	case rec := <-ch:
		assert.Equal(t, 100, rec.Fields["price"])
	case <-time.After(time.Second):
		t.Fatal("unchanged commit must still notify")
	}
	assert.Equal(t, 1, store.Commits())

	err := store.CommitBatch(ctx, []core.FieldWrite{
		{RecordID: "a", Fields: core.Fields{"price": 1}},
		{RecordID: "missing", Fields: core.Fields{"price": 1}},
	})
	require.ErrorIs(t, err, core.ErrRecordNotFound)
	a, _ := store.GetRecord(ctx, "a")
	assert.Equal(t, 100, a.Fields["price"])

	err = store.CommitBatch(ctx, make([]core.FieldWrite, 3))
	assert.Error(t, err)

	store.SetFailCommits(assert.AnError)
	assert.ErrorIs(t, store.CommitBatch(ctx, []core.FieldWrite{{RecordID: "a"}}), assert.AnError)
	store.SetFailCommits(nil)
	assert.NoError(t, store.CommitBatch(ctx, []core.FieldWrite{{RecordID: "a", Fields: core.Fields{"price": 5}}}))
	assert.Equal(t, 2, store.Commits())
}

func TestMemoryStore_History(t *testing.T) {
	store := NewMemoryStore(MemoryConfig{})
	ctx := context.Background()

	for i := range 3 {
		require.NoError(t, store.RecordChange(ctx, "a", core.Fields{"n": i}, core.ChangeMeta{
			ChangeType: core.ChangeTypeUpdate,
		}))
	}

	versions, err := store.History("a", 2)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].Snapshot["n"])
	assert.Equal(t, 1, versions[1].Snapshot["n"])
	assert.NotEqual(t, versions[0].ID, versions[1].ID)

	none, err := store.History("missing", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStore_CreateNextRecordAndDelete(t *testing.T) {
	store := NewMemoryStore(MemoryConfig{})
	ctx := context.Background()
	require.NoError(t, store.CreateRecord(ctx, &core.Record{ID: "a", Row: 1}))
	require.NoError(t, store.CreateRecord(ctx, &core.Record{ID: "c", Row: 3}))

	var existing []int
	rec := &core.Record{ID: "b"}
	require.NoError(t, store.CreateNextRecord(ctx, rec, func(rows []int) int {
		existing = rows
		return 2
	}))
	assert.Equal(t, []int{1, 3}, existing)
	assert.Equal(t, 2, rec.Row)
	assert.Error(t, store.CreateNextRecord(ctx, &core.Record{ID: "b"}, func([]int) int { return 4 }))

	require.NoError(t, store.DeleteRecord(ctx, "a"))
	_, err := store.GetRecord(ctx, "a")
	assert.ErrorIs(t, err, core.ErrRecordNotFound)

	var missing *core.RecordNotFoundError
	require.ErrorAs(t, store.DeleteRecord(ctx, "a"), &missing)
	assert.Equal(t, "a", missing.ID)

	assert.Equal(t, []int{2, 3}, store.rowsLocked())
}
