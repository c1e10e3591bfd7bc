package core

import (
	"encoding/json"
	"reflect"
)

// Equal reports value equality as used for change detection. Numbers compare
// numerically across Go types, so int64(80) from a function equals float64(80)
// decoded from storage. Slices and maps compare element-wise.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	switch av := a.(type) {
	case []any:
		bv, ok := toAnySlice(b)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case []string:
		bv, ok := toAnySlice(b)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		return mapsEqual(av, b)
	case Fields:
		return mapsEqual(av, b)
	}
	return reflect.DeepEqual(a, b)
}

func mapsEqual(a map[string]any, b any) bool {
	var bm map[string]any
	switch bv := b.(type) {
	case map[string]any:
		bm = bv
	case Fields:
		bm = bv
	default:
		return false
	}
	if len(a) != len(bm) {
		return false
	}
	for k, v := range a {
		ov, ok := bm[k]
		if !ok || !Equal(v, ov) {
			return false
		}
	}
	return true
}

func toAnySlice(v any) ([]any, bool) {
	switch val := v.(type) {
	case []any:
		return val, true
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
