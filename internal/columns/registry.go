// Package columns provides the column registry: the ordered set of column
// definitions of a booking record, with change notifications.
// Every notification carries a full-replacement snapshot, never a diff.
package columns

import (
	"fmt"
	"sort"
	"sync"

	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/pkg/core"
)

// Snapshot is an immutable view of the registry at one version.
// Callers must not mutate the columns.
type Snapshot struct {
	Version uint64
	Columns []*core.Column
}

// ByID returns the column with the given id.
func (s Snapshot) ByID(id string) (*core.Column, bool) {
	for _, c := range s.Columns {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

// ByName returns the first column, in order, whose columnName matches.
func (s Snapshot) ByName(name string) (*core.Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// Registry holds the current column definitions.
// Mutations swap in a new slice so earlier snapshots stay valid.
type Registry struct {
	mu        sync.RWMutex
	columns   []*core.Column
	byID      map[string]*core.Column
	version   uint64
	listeners map[chan Snapshot]struct{}
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:      make(map[string]*core.Column),
		listeners: make(map[chan Snapshot]struct{}),
	}
}

// Replace swaps the whole column set.
func (r *Registry) Replace(cols []*core.Column) error {
	byID := make(map[string]*core.Column, len(cols))
	next := make([]*core.Column, 0, len(cols))
	for _, c := range cols {
		if c.ID == "" {
			return fmt.Errorf("column with empty id")
		}
		if _, dup := byID[c.ID]; dup {
			return fmt.Errorf("duplicate column id %q", c.ID)
		}
		cp := *c
		byID[c.ID] = &cp
		next = append(next, &cp)
	}

	r.mu.Lock()
	r.columns = sortColumns(next)
	r.byID = byID
	snap := r.bumpLocked()
	r.mu.Unlock()

	r.notify(snap)
	return nil
}

// Upsert creates or updates a single column. The id is immutable: an existing
// column is replaced in place.
func (r *Registry) Upsert(col *core.Column) error {
	if col.ID == "" {
		return fmt.Errorf("column with empty id")
	}
	cp := *col

	r.mu.Lock()
	next := make([]*core.Column, 0, len(r.columns)+1)
	for _, c := range r.columns {
		if c.ID != col.ID {
			next = append(next, c)
		}
	}
	next = append(next, &cp)
	r.columns = sortColumns(next)
	r.byID[cp.ID] = &cp
	snap := r.bumpLocked()
	r.mu.Unlock()

	r.notify(snap)
	return nil
}

// Delete removes a column. Returns false if it did not exist.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	if _, ok := r.byID[id]; !ok {
		r.mu.Unlock()
		return false
	}
	next := make([]*core.Column, 0, len(r.columns))
	for _, c := range r.columns {
		if c.ID != id {
			next = append(next, c)
		}
	}
	r.columns = next
	delete(r.byID, id)
	snap := r.bumpLocked()
	r.mu.Unlock()

	r.notify(snap)
	return true
}

// Reorder assigns order 1..n following ids. Columns not listed keep their
// relative order after the listed ones.
func (r *Registry) Reorder(ids []string) error {
	r.mu.Lock()
	for _, id := range ids {
		if _, ok := r.byID[id]; !ok {
			r.mu.Unlock()
			return fmt.Errorf("unknown column %q", id)
		}
	}

	position := make(map[string]int, len(ids))
	for i, id := range ids {
		position[id] = i + 1
	}
	next := make([]*core.Column, 0, len(r.columns))
	tail := len(ids)
	for _, c := range r.columns {
		cp := *c
		if p, ok := position[c.ID]; ok {
			cp.Order = p
		} else {
			tail++
			cp.Order = tail
		}
		next = append(next, &cp)
		r.byID[cp.ID] = &cp
	}
	r.columns = sortColumns(next)
	snap := r.bumpLocked()
	r.mu.Unlock()

	r.notify(snap)
	return nil
}

// Snapshot returns the current ordered columns and version.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{Version: r.version, Columns: r.columns}
}

// Get returns a column by id.
func (r *Registry) Get(id string) (*core.Column, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	return c, ok
}

// Version returns the registry version; it changes on every mutation.
func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Count returns the number of columns.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.columns)
}

// Subscribe returns a channel receiving a snapshot after every change.
// Only the latest snapshot is buffered; a slow listener skips intermediate
// versions. The returned func unsubscribes and closes the channel.
func (r *Registry) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	r.mu.Lock()
	r.listeners[ch] = struct{}{}
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.listeners, ch)
			r.mu.Unlock()
			close(ch)
		})
	}
}

func (r *Registry) bumpLocked() Snapshot {
	r.version++
	return Snapshot{Version: r.version, Columns: r.columns}
}

func (r *Registry) notify(snap Snapshot) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for ch := range r.listeners {
		select {
		case ch <- snap:
			continue
		default:
		}
		// Drop the stale snapshot so the newest one is delivered.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func sortColumns(cols []*core.Column) []*core.Column {
	sort.SliceStable(cols, func(i, j int) bool {
		if cols[i].Order != cols[j].Order {
			return cols[i].Order < cols[j].Order
		}
		return cols[i].ID < cols[j].ID
	})
	return cols
}
