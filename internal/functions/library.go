package functions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"go.starlark.net/starlark"

	starctx "github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/starlark"
)

// ErrUnknownFunction is returned when a function reference does not resolve.
var ErrUnknownFunction = errors.New("unknown function")

// DefaultMaxSteps bounds a single call when no budget is configured.
const DefaultMaxSteps = 10_000_000

// FileExt is the extension of function source files.
const FileExt = ".star"

// Function is a compiled, callable column function.
type Function struct {
	// Ref is the reference a column uses: "file" for an entry function or
	// "file.func" for any public function.
	Ref  string
	Path string
	Info *FunctionInfo

	callable starlark.Callable
}

// catalog is an immutable set of compiled functions.
type catalog struct {
	byRef map[string]*Function
	files map[string]*Analysis
}

// LibraryConfig holds the configuration for a Library.
type LibraryConfig struct {
	Dir      string
	MaxSteps uint64
	Logger   *slog.Logger
}

// Library resolves function references to compiled Starlark functions.
// Reload swaps the whole catalog so in-flight calls keep their functions.
type Library struct {
	dir      string
	maxSteps uint64
	logger   *slog.Logger
	current  atomic.Pointer[catalog]
}

// NewLibrary creates an empty library. Call Reload to load the directory.
func NewLibrary(cfg LibraryConfig) *Library {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	maxSteps := cfg.MaxSteps
	if maxSteps == 0 {
		maxSteps = DefaultMaxSteps
	}
	l := &Library{dir: cfg.Dir, maxSteps: maxSteps, logger: logger}
	l.current.Store(&catalog{byRef: map[string]*Function{}, files: map[string]*Analysis{}})
	return l
}

// Dir returns the directory the library loads from.
func (l *Library) Dir() string {
	return l.dir
}

// Reload compiles every .star file in the directory and swaps the catalog.
// On error the previous catalog stays active. A missing directory yields an
// empty catalog.
func (l *Library) Reload() error {
	next := &catalog{byRef: map[string]*Function{}, files: map[string]*Analysis{}}

	files, err := l.scan()
	if err != nil {
		return err
	}
	for _, path := range files {
		content, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the functions directory
		if err != nil {
			return &LoadError{File: path, Message: fmt.Sprintf("failed to read file: %v", err)}
		}
		if err := next.add(path, content); err != nil {
			return err
		}
	}

	l.current.Store(next)
	l.logger.Info("function library loaded", "dir", l.dir, "files", len(next.files), "functions", len(next.byRef))
	return nil
}

// AddSource compiles one file's source and adds it to the current catalog,
// replacing a previously loaded file with the same name.
func (l *Library) AddSource(filename string, content []byte) error {
	for {
		prev := l.current.Load()
		next := prev.clone()
		if err := next.add(filename, content); err != nil {
			return err
		}
		if l.current.CompareAndSwap(prev, next) {
			return nil
		}
	}
}

func (l *Library) scan() ([]string, error) {
	info, err := os.Stat(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to access functions directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("functions path is not a directory: %s", l.dir)
	}

	files, err := filepath.Glob(filepath.Join(l.dir, "*"+FileExt))
	if err != nil {
		return nil, fmt.Errorf("failed to scan functions directory: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// Lookup resolves a function reference.
func (l *Library) Lookup(ref string) (*Function, bool) {
	fn, ok := l.current.Load().byRef[ref]
	return fn, ok
}

// Analysis returns the static analysis of a loaded file.
func (l *Library) Analysis(file string) (*Analysis, bool) {
	a, ok := l.current.Load().files[file]
	return a, ok
}

// Functions returns every loaded function sorted by reference.
func (l *Library) Functions() []*Function {
	cat := l.current.Load()
	out := make([]*Function, 0, len(cat.byRef))
	for _, fn := range cat.byRef {
		out = append(out, fn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref < out[j].Ref })
	return out
}

// Invoke calls the referenced function with positional arguments.
func (l *Library) Invoke(ctx context.Context, ref string, args []any) (any, error) {
	fn, ok := l.Lookup(ref)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, ref)
	}
	return starctx.Call(ctx, fn.callable, args, starctx.CallOptions{
		MaxSteps: l.maxSteps,
		Logger:   l.logger,
	})
}

func (c *catalog) clone() *catalog {
	next := &catalog{
		byRef: make(map[string]*Function, len(c.byRef)),
		files: make(map[string]*Analysis, len(c.files)),
	}
	for k, v := range c.byRef {
		next.byRef[k] = v
	}
	for k, v := range c.files {
		next.files[k] = v
	}
	return next
}

// add analyzes and executes one file and registers its public functions.
func (c *catalog) add(path string, content []byte) error {
	name := strings.TrimSuffix(filepath.Base(path), FileExt)
	if err := validateName(name); err != nil {
		return &LoadError{File: path, Message: err.Error()}
	}

	analysis, err := Analyze(path, content)
	if err != nil {
		return err
	}

	globals, err := starctx.ExecFile(path, content)
	if err != nil {
		return &LoadError{File: path, Message: fmt.Sprintf("Starlark execution error: %v", err)}
	}

	for ref, fn := range c.byRef {
		if fn.Path == path || ref == name || strings.HasPrefix(ref, name+".") {
			delete(c.byRef, ref)
		}
	}

	for _, info := range analysis.Functions {
		callable, ok := globals[info.Name].(starlark.Callable)
		if !ok {
			continue
		}
		fn := &Function{Ref: name + "." + info.Name, Path: path, Info: info, callable: callable}
		c.byRef[fn.Ref] = fn
		if info == analysis.Entry {
			c.byRef[name] = &Function{Ref: name, Path: path, Info: info, callable: callable}
		}
	}
	c.files[name] = analysis
	return nil
}

// validateName checks that a file name is a valid identifier.
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("function file name cannot be empty")
	}
	if starctx.IsReserved(name) {
		return fmt.Errorf("function file name %q conflicts with builtin", name)
	}

	for i, r := range name {
		if i == 0 {
			if !isLetter(r) && r != '_' {
				return fmt.Errorf("function file name must start with letter or underscore: %s", name)
			}
		} else {
			if !isLetter(r) && !isDigit(r) && r != '_' {
				return fmt.Errorf("function file name contains invalid character: %s", name)
			}
		}
	}

	return nil
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// LoadError represents an error loading a function file.
type LoadError struct {
	File    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("functions/%s: %s", filepath.Base(e.File), e.Message)
}
