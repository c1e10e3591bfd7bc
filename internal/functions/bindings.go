package functions

import (
	"fmt"
	"strings"

	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/pkg/core"
)

// BindingError reports a computed column whose arguments do not fit the
// signature of its function.
type BindingError struct {
	ColumnID string
	Function string
	Message  string
}

func (e *BindingError) Error() string {
	return fmt.Sprintf("column %s: function %s: %s", e.ColumnID, e.Function, e.Message)
}

// CheckBindings compares the argument bindings of computed columns with the
// analyzed parameters of their functions. Arguments bind positionally, so a
// column may not pass more arguments than the function accepts nor fewer than
// it requires.
func (l *Library) CheckBindings(cols []*core.Column) []error {
	var errs []error
	for _, c := range cols {
		if !c.IsComputed() || c.Function == "" {
			continue
		}
		params, ok := l.params(c.Function)
		if !ok {
			errs = append(errs, &BindingError{ColumnID: c.ID, Function: c.Function, Message: "not loaded"})
			continue
		}

		// Parameters after *args or **kwargs cannot be bound positionally.
		required, accepted, variadic := 0, 0, false
	count:
		for _, p := range params {
			switch {
			case p.Star != "":
				variadic = p.Star == "*" && p.Name != ""
				break count
			case p.Required():
				required++
				accepted++
			default:
				accepted++
			}
		}

		n := len(c.Arguments)
		switch {
		case n < required:
			errs = append(errs, &BindingError{ColumnID: c.ID, Function: c.Function,
				Message: fmt.Sprintf("binds %d arguments, %d required", n, required)})
		case n > accepted && !variadic:
			errs = append(errs, &BindingError{ColumnID: c.ID, Function: c.Function,
				Message: fmt.Sprintf("binds %d arguments, accepts %d", n, accepted)})
		}
	}
	return errs
}

// params resolves "file" to the entry function of a file and "file.func" to
// a named public function.
func (l *Library) params(ref string) ([]Param, bool) {
	file, name, qualified := strings.Cut(ref, ".")
	a, ok := l.Analysis(file)
	if !ok {
		return nil, false
	}
	if !qualified {
		if a.Entry == nil {
			return nil, false
		}
		return a.Params(), true
	}
	fn, ok := a.Function(name)
	if !ok {
		return nil, false
	}
	return fn.Params, true
}
