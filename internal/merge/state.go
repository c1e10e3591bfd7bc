// Package merge implements the local-first editing session of one record:
// local edits win over remote snapshots until they are committed or
// cancelled, computed outputs flow back into the visible state and every
// change is queued for persistence.
package merge

import (
	"sort"

	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/pkg/core"
)

// EditState tracks the columns under unconfirmed local input and the raw
// values typed into them. The zero value is not usable; use NewEditState.
type EditState struct {
	active  map[string]struct{}
	overlay core.Fields
}

// NewEditState creates an empty edit state.
func NewEditState() *EditState {
	return &EditState{
		active:  make(map[string]struct{}),
		overlay: core.Fields{},
	}
}

// Begin marks the column as actively edited with the given raw value.
func (s *EditState) Begin(columnID string, raw any) {
	s.active[columnID] = struct{}{}
	s.overlay[columnID] = raw
}

// End releases the column and drops its overlay value.
func (s *EditState) End(columnID string) {
	delete(s.active, columnID)
	delete(s.overlay, columnID)
}

// IsActive reports whether the column is under local input.
func (s *EditState) IsActive(columnID string) bool {
	_, ok := s.active[columnID]
	return ok
}

// Overlay returns the raw local value of an active column.
func (s *EditState) Overlay(columnID string) (any, bool) {
	if !s.IsActive(columnID) {
		return nil, false
	}
	v, ok := s.overlay[columnID]
	return v, ok
}

// Active returns the active column ids, sorted.
func (s *EditState) Active() []string {
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Merge applies a remote snapshot onto visible and returns the ids it
// accepted. Computed columns are always accepted. Actively edited columns are
// skipped. Other columns are accepted when their value differs.
func (s *EditState) Merge(visible, remote core.Fields, isComputed func(columnID string) bool) []string {
	var accepted []string
	for _, id := range remote.Keys() {
		value := remote[id]
		switch {
		case isComputed(id):
		case s.IsActive(id):
			continue
		default:
			if current, ok := visible[id]; ok && core.Equal(current, value) {
				continue
			}
		}
		visible[id] = value
		accepted = append(accepted, id)
	}
	return accepted
}
