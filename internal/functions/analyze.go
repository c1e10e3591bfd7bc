// Package functions loads user-defined column functions from .star files and
// statically analyzes their source.
package functions

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.starlark.net/syntax"

	starctx "github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/starlark"
)

// EntryFunction is the name preferred as the entry point of a function file.
const EntryFunction = "main"

// Param is one declared parameter of a function.
type Param struct {
	Name    string `json:"name"`
	Default string `json:"default,omitempty"` // source text of the default, if any
	Star    string `json:"star,omitempty"`    // "*" or "**" for variadic parameters
}

// String renders the parameter as it appears in a signature.
func (p Param) String() string {
	if p.Default != "" {
		return p.Name + "=" + p.Default
	}
	return p.Star + p.Name
}

// Required reports whether a caller must bind the parameter.
func (p Param) Required() bool {
	return p.Default == "" && p.Star == ""
}

// FunctionInfo is the static description of one def statement.
type FunctionInfo struct {
	Name      string  `json:"name"`
	Params    []Param `json:"params"`
	Docstring string  `json:"docstring,omitempty"`
	Line      int     `json:"line"`
}

// Signature returns a human-readable signature.
func (f *FunctionInfo) Signature() string {
	parts := make([]string, len(f.Params))
	for i, p := range f.Params {
		parts[i] = p.String()
	}
	return f.Name + "(" + strings.Join(parts, ", ") + ")"
}

// Analysis is the result of analyzing a function file.
type Analysis struct {
	// File is the file name without the .star extension.
	File string `json:"file"`
	// Entry is the function a bare file reference resolves to.
	Entry *FunctionInfo `json:"entry"`
	// IsAsync is always false; Starlark has no asynchronous functions.
	IsAsync bool `json:"isAsync"`
	// Functions lists every public def in source order.
	Functions []*FunctionInfo `json:"functions"`
}

// Params returns the entry function's parameters.
func (a *Analysis) Params() []Param {
	if a.Entry == nil {
		return nil
	}
	return a.Entry.Params
}

// Function returns a public function by name.
func (a *Analysis) Function(name string) (*FunctionInfo, bool) {
	for _, fn := range a.Functions {
		if fn.Name == name {
			return fn, true
		}
	}
	return nil, false
}

// AnalyzeError represents an error during static analysis.
type AnalyzeError struct {
	File    string
	Line    int
	Message string
}

func (e *AnalyzeError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("analyze %s:%d: %s", filepath.Base(e.File), e.Line, e.Message)
	}
	return fmt.Sprintf("analyze %s: %s", filepath.Base(e.File), e.Message)
}

// Analyze statically parses function source and extracts its metadata.
// The source is not executed. The entry function is "main" when defined,
// otherwise the first public def.
func Analyze(filename string, content []byte) (*Analysis, error) {
	f, err := starctx.FileOptions.Parse(filename, content, 0)
	if err != nil {
		ae := &AnalyzeError{File: filename, Message: err.Error()}
		var se syntax.Error
		if errors.As(err, &se) {
			ae.Line = int(se.Pos.Line)
			ae.Message = se.Msg
		}
		return nil, ae
	}

	a := &Analysis{File: strings.TrimSuffix(filepath.Base(filename), FileExt)}

	for _, stmt := range f.Stmts {
		def, ok := stmt.(*syntax.DefStmt)
		if !ok {
			continue
		}

		// Skip private functions (start with _)
		if strings.HasPrefix(def.Name.Name, "_") {
			continue
		}

		a.Functions = append(a.Functions, &FunctionInfo{
			Name:      def.Name.Name,
			Line:      int(def.Name.NamePos.Line),
			Params:    extractParams(def.Params),
			Docstring: extractDocstring(def.Body),
		})
	}

	if len(a.Functions) == 0 {
		return nil, &AnalyzeError{File: filename, Message: "no public function defined"}
	}

	a.Entry = a.Functions[0]
	if main, ok := a.Function(EntryFunction); ok {
		a.Entry = main
	}
	return a, nil
}

// extractParams converts syntax parameters to Params.
func extractParams(params []syntax.Expr) []Param {
	var out []Param
	for _, param := range params {
		switch p := param.(type) {
		case *syntax.Ident:
			out = append(out, Param{Name: p.Name})
		case *syntax.BinaryExpr:
			// Default parameter: def foo(x=1)
			if p.Op == syntax.EQ {
				if ident, ok := p.X.(*syntax.Ident); ok {
					out = append(out, Param{Name: ident.Name, Default: exprToString(p.Y)})
				}
			}
		case *syntax.UnaryExpr:
			// *args or **kwargs; a bare * has no operand and only marks
			// the start of keyword-only parameters
			star := "*"
			if p.Op == syntax.STARSTAR {
				star = "**"
			}
			name := ""
			if ident, ok := p.X.(*syntax.Ident); ok {
				name = ident.Name
			}
			out = append(out, Param{Name: name, Star: star})
		}
	}
	return out
}

// extractDocstring gets the docstring from function body if present.
func extractDocstring(body []syntax.Stmt) string {
	if len(body) == 0 {
		return ""
	}

	exprStmt, ok := body[0].(*syntax.ExprStmt)
	if !ok {
		return ""
	}

	lit, ok := exprStmt.X.(*syntax.Literal)
	if !ok || lit.Token != syntax.STRING {
		return ""
	}

	s, ok := lit.Value.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

// exprToString converts a syntax expression to a string representation.
func exprToString(expr syntax.Expr) string {
	switch e := expr.(type) {
	case *syntax.Literal:
		return e.Raw
	case *syntax.Ident:
		return e.Name
	case *syntax.ListExpr:
		return "[]"
	case *syntax.DictExpr:
		return "{}"
	case *syntax.TupleExpr:
		return "()"
	case *syntax.UnaryExpr:
		if e.Op == syntax.MINUS {
			return "-" + exprToString(e.X)
		}
		return exprToString(e.X)
	default:
		return "..."
	}
}
