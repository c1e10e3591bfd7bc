// Package starlark runs user-defined column functions written in Starlark.
package starlark

import (
	"encoding/json"
	"fmt"
	"math/big"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/pkg/core"
)

// FromGo converts a field value into a Starlark argument.
//
// Field values arrive either from the record store (JSON-decoded: float64,
// string, bool, []any, map[string]any) or from local edits already coerced by
// valueconv. Currency amounts held as decimal.Decimal become floats and
// timestamps become RFC 3339 strings.
func FromGo(v any) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case string:
		return starlark.String(val), nil
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int32:
		return starlark.MakeInt(int(val)), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float32:
		return starlark.Float(val), nil
	case float64:
		return starlark.Float(val), nil
	case json.Number:
		return numberFromJSON(val)
	case decimal.Decimal:
		return starlark.Float(val.InexactFloat64()), nil
	case time.Time:
		return starlark.String(val.Format(time.RFC3339)), nil
	case []string:
		items := make([]any, len(val))
		for i, s := range val {
			items[i] = s
		}
		return listFromGo(items)
	case []any:
		return listFromGo(val)
	case core.Fields:
		return dictFromGo(val)
	case map[string]any:
		return dictFromGo(val)
	default:
		return nil, fmt.Errorf("unsupported field value type %T", v)
	}
}

func numberFromJSON(n json.Number) (starlark.Value, error) {
	if i, err := n.Int64(); err == nil {
		return starlark.MakeInt64(i), nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil, fmt.Errorf("invalid number %q: %w", n, err)
	}
	return starlark.Float(f), nil
}

func listFromGo(items []any) (*starlark.List, error) {
	elems := make([]starlark.Value, len(items))
	for i, item := range items {
		sv, err := FromGo(item)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		elems[i] = sv
	}
	return starlark.NewList(elems), nil
}

// dictFromGo inserts keys in sorted order so the dict's iteration order is
// stable across calls with equal fields.
func dictFromGo(m map[string]any) (*starlark.Dict, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	dict := starlark.NewDict(len(m))
	for _, k := range keys {
		sv, err := FromGo(m[k])
		if err != nil {
			return nil, fmt.Errorf("%q: %w", k, err)
		}
		if err := dict.SetKey(starlark.String(k), sv); err != nil {
			return nil, err
		}
	}
	return dict, nil
}

// ToGo converts a function's return value into a field value: nil, string,
// bool, int64, float64, []any or map[string]any. Structs become maps and
// integers outside the int64 range become float64.
func ToGo(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.String:
		return string(val), nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		if i, ok := val.Int64(); ok {
			return i, nil
		}
		f, _ := new(big.Float).SetInt(val.BigInt()).Float64()
		return f, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.Indexable:
		// list and tuple
		out := make([]any, val.Len())
		for i := range val.Len() {
			gv, err := ToGo(val.Index(i))
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = gv
		}
		return out, nil
	case *starlark.Dict:
		out := make(map[string]any, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be a string, got %s", item[0].Type())
			}
			gv, err := ToGo(item[1])
			if err != nil {
				return nil, fmt.Errorf("%q: %w", string(key), err)
			}
			out[string(key)] = gv
		}
		return out, nil
	case *starlarkstruct.Struct:
		out := make(map[string]any)
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				return nil, err
			}
			gv, err := ToGo(attr)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			out[name] = gv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot return a %s from a column function", v.Type())
	}
}
