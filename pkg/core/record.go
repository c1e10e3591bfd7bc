package core

import (
	"sort"
	"time"
)

// Fields maps column id to value.
type Fields map[string]any

// Clone returns a deep copy of the fields. Nested slices and maps are copied
// so the clone can be mutated independently.
func (f Fields) Clone() Fields {
	if f == nil {
		return Fields{}
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = cloneValue(v)
	}
	return out
}

// Keys returns the column ids in sorted order.
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Diff returns the sorted column ids whose values differ between f and other,
// including ids present on one side only.
func (f Fields) Diff(other Fields) []string {
	seen := make(map[string]struct{}, len(f)+len(other))
	var changed []string
	for k, v := range f {
		seen[k] = struct{}{}
		if ov, ok := other[k]; !ok || !Equal(v, ov) {
			changed = append(changed, k)
		}
	}
	for k := range other {
		if _, ok := seen[k]; !ok {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case Fields:
		return val.Clone()
	default:
		return v
	}
}

// Record is a booking document as seen by the engine.
type Record struct {
	ID        string    `json:"id"`
	Row       int       `json:"row"`
	Fields    Fields    `json:"fields"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Fields = r.Fields.Clone()
	return &out
}

// FieldWrite is a partial update of one record: only the listed fields change.
type FieldWrite struct {
	RecordID string
	Fields   Fields
}

// ChangeType labels an audit entry.
type ChangeType string

const (
	ChangeTypeCreate ChangeType = "create"
	ChangeTypeUpdate ChangeType = "update"
)

// ChangeMeta describes a persisted change for the audit collaborator.
type ChangeMeta struct {
	ChangeType        ChangeType
	ChangedFieldPaths []string
	UserID            string
	UserName          string
}
