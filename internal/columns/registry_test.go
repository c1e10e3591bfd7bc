package columns

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/pkg/core"
)

func testColumns() []*core.Column {
	return []*core.Column{
		{ID: "total", Name: "Total", DataType: core.DataTypeFunction, Order: 3, Function: "total"},
		{ID: "price", Name: "Price", DataType: core.DataTypeNumber, Order: 1},
		{ID: "discount", Name: "Discount", DataType: core.DataTypeNumber, Order: 2},
	}
}

func ids(cols []*core.Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.ID
	}
	return out
}

func TestRegistry_Replace(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Replace(testColumns()))

	assert.Equal(t, 3, r.Count())
	assert.Equal(t, uint64(1), r.Version())
	assert.Equal(t, []string{"price", "discount", "total"}, ids(r.Snapshot().Columns))

	got, ok := r.Get("total")
	require.True(t, ok)
	assert.True(t, got.IsComputed())
}

func TestRegistry_ReplaceRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	err := r.Replace([]*core.Column{{ID: "a"}, {ID: "a"}})
	require.Error(t, err)
	assert.Equal(t, uint64(0), r.Version())
}

func TestRegistry_OrderTieBreak(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Replace([]*core.Column{
		{ID: "b", Order: 1},
		{ID: "a", Order: 1},
		{ID: "c", Order: 0},
	}))
	assert.Equal(t, []string{"c", "a", "b"}, ids(r.Snapshot().Columns))
}

func TestRegistry_UpsertAndDelete(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Replace(testColumns()))
	before := r.Snapshot()

	require.NoError(t, r.Upsert(&core.Column{ID: "price", Name: "Unit Price", DataType: core.DataTypeCurrency, Order: 5}))
	assert.Equal(t, []string{"discount", "total", "price"}, ids(r.Snapshot().Columns))

	// Earlier snapshots are not affected by later mutations.
	assert.Equal(t, []string{"price", "discount", "total"}, ids(before.Columns))
	old, _ := before.ByID("price")
	assert.Equal(t, "Price", old.Name)

	assert.True(t, r.Delete("discount"))
	assert.False(t, r.Delete("discount"))
	assert.Equal(t, []string{"total", "price"}, ids(r.Snapshot().Columns))
	assert.Equal(t, uint64(3), r.Version())
}

func TestRegistry_Reorder(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Replace(testColumns()))

	require.NoError(t, r.Reorder([]string{"total", "price"}))
	assert.Equal(t, []string{"total", "price", "discount"}, ids(r.Snapshot().Columns))

	assert.Error(t, r.Reorder([]string{"missing"}))
}

func TestSnapshot_ByNameFirstMatch(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Replace([]*core.Column{
		{ID: "a", Name: "Amount", Order: 1},
		{ID: "b", Name: "Amount", Order: 2},
	}))

	got, ok := r.Snapshot().ByName("Amount")
	require.True(t, ok)
	assert.Equal(t, "a", got.ID)

	_, ok = r.Snapshot().ByName("Nope")
	assert.False(t, ok)
}

func TestRegistry_SubscribeDeliversLatest(t *testing.T) {
	r := NewRegistry()
	ch, cancel := r.Subscribe()
	defer cancel()

	require.NoError(t, r.Replace(testColumns()))
	require.True(t, r.Delete("total"))

	snap := <-ch
	assert.Equal(t, uint64(2), snap.Version)
	assert.Len(t, snap.Columns, 2)

	select {
	case <-ch:
		t.Fatal("expected a single buffered snapshot")
	default:
	}
}

func TestRegistry_Unsubscribe(t *testing.T) {
	r := NewRegistry()
	ch, cancel := r.Subscribe()
	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	require.NoError(t, r.Replace(testColumns()))
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
		check   func(t *testing.T, cols []*core.Column)
	}{
		{
			name: "valid registry",
			yaml: `
columns:
  - id: price
    columnName: Price
    dataType: number
    order: 1
  - id: discount_pct
    dataType: number
    order: 2
  - id: total
    columnName: Total
    dataType: function
    function: total
    order: 3
    arguments:
      - name: price
        columnReference: Price
      - name: booking_id
        columnReference: ID
`,
			check: func(t *testing.T, cols []*core.Column) {
				require.Len(t, cols, 3)
				assert.Equal(t, "Discount Pct", cols[1].Name)
				assert.Equal(t, []string{"Price"}, cols[2].Arguments[0].References())
				assert.Empty(t, cols[2].Arguments[1].References())
			},
		},
		{
			name: "default data type",
			yaml: "columns:\n  - id: notes\n",
			check: func(t *testing.T, cols []*core.Column) {
				assert.Equal(t, core.DataTypeString, cols[0].DataType)
			},
		},
		{name: "duplicate id", yaml: "columns:\n  - id: a\n  - id: a\n", wantErr: "duplicate id"},
		{name: "missing id", yaml: "columns:\n  - columnName: A\n", wantErr: "column without id"},
		{name: "unknown type", yaml: "columns:\n  - id: a\n    dataType: blob\n", wantErr: "unknown data type"},
		{name: "function without ref", yaml: "columns:\n  - id: a\n    dataType: function\n", wantErr: "function column without function"},
		{name: "invalid yaml", yaml: "columns: [", wantErr: "invalid YAML"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cols, err := Parse("columns.yaml", []byte(tt.yaml))
			if tt.wantErr != "" {
				require.Error(t, err)
				var loadErr *LoadError
				require.ErrorAs(t, err, &loadErr)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, cols)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "columns.yaml")
	require.NoError(t, os.WriteFile(path, []byte("columns:\n  - id: price\n    dataType: number\n"), 0o600))

	cols, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cols, 1)
	assert.Equal(t, "Price", cols[0].Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
