package starlark

import (
	"fmt"
	"math"

	starlarkmath "go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/pkg/valueconv"
)

// reserved names cannot be shadowed by function files.
var reserved = map[string]bool{
	"round_to":     true,
	"parse_number": true,
	"math":         true,
	"struct":       true,
}

// IsReserved reports whether name is a predeclared global.
func IsReserved(name string) bool {
	return reserved[name]
}

// Predeclared returns the globals available to every column function.
func Predeclared() starlark.StringDict {
	return starlark.StringDict{
		"round_to":     starlark.NewBuiltin("round_to", roundTo),
		"parse_number": starlark.NewBuiltin("parse_number", parseNumber),
		"math":         starlarkmath.Module,
		"struct":       starlark.NewBuiltin("struct", starlarkstruct.Make),
	}
}

// roundTo rounds x half away from zero to the given number of decimal places.
func roundTo(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	places := 2
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "x", &x, "places?", &places); err != nil {
		return nil, err
	}
	if x == starlark.None {
		return starlark.None, nil
	}
	f, ok := starlark.AsFloat(x)
	if !ok {
		return nil, fmt.Errorf("%s: x must be a number, got %s", b.Name(), x.Type())
	}
	if places < 0 || places > 12 {
		return nil, fmt.Errorf("%s: places out of range: %d", b.Name(), places)
	}
	scale := math.Pow(10, float64(places))
	return starlark.Float(math.Round(f*scale) / scale), nil
}

// parseNumber converts a formatted amount such as "$1,234.50" to a float.
// Numbers pass through; None and empty strings yield None.
func parseNumber(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
		return nil, err
	}

	switch val := v.(type) {
	case starlark.NoneType:
		return starlark.None, nil
	case starlark.Int, starlark.Float:
		f, _ := starlark.AsFloat(val)
		return starlark.Float(f), nil
	case starlark.String:
		if string(val) == "" {
			return starlark.None, nil
		}
		d, err := valueconv.ParseAmount(string(val))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		f, _ := d.Float64()
		return starlark.Float(f), nil
	default:
		return nil, fmt.Errorf("%s: unsupported type %s", b.Name(), v.Type())
	}
}
