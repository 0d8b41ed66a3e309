// Package runtime evaluates per-language query modules. A query module is a
// Risor script whose final expression is a map describing the language:
//
//	module := {
//		"language": "go",
//		"suffixes": [".go"],
//		"queries": {"outline": `...`, "locals": `...`},
//	}
//	module
//
// Query sources are tree-sitter query patterns and are opaque here.
package runtime

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"
)

// Runtime loads query modules from an fs.FS or a scripts directory.
type Runtime struct {
	scriptsDir string
	fsys       fs.FS
	logger     *slog.Logger
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithRuntimeFS loads scripts from fsys instead of from disk. The Risor
// importer resolves import statements against the same FS.
func WithRuntimeFS(fsys fs.FS) RuntimeOption {
	return func(r *Runtime) {
		r.fsys = fsys
	}
}

// WithLogger sets the logger that backs the scripts' log object.
func WithLogger(l *slog.Logger) RuntimeOption {
	return func(r *Runtime) {
		r.logger = l
	}
}

// NewRuntime creates a Runtime reading scripts from scriptsDir unless an FS
// is configured.
func NewRuntime(scriptsDir string, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		scriptsDir: scriptsDir,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Module is an evaluated query module.
type Module struct {
	Language string
	Suffixes []string
	Queries  map[string]string
}

// ModulePath returns the script path of a language's query module.
func ModulePath(language string) string {
	return language + ".risor"
}

// Modules lists the languages that have a query module available.
func (r *Runtime) Modules() ([]string, error) {
	var names []string
	if r.fsys != nil {
		entries, err := fs.ReadDir(r.fsys, ".")
		if err != nil {
			return nil, fmt.Errorf("runtime: listing modules: %w", err)
		}
		for _, e := range entries {
			names = append(names, e.Name())
		}
	} else {
		entries, err := os.ReadDir(r.scriptsDir)
		if err != nil {
			return nil, fmt.Errorf("runtime: listing modules in %s: %w", r.scriptsDir, err)
		}
		for _, e := range entries {
			names = append(names, e.Name())
		}
	}

	var langs []string
	for _, name := range names {
		if lang, ok := strings.CutSuffix(name, ".risor"); ok {
			langs = append(langs, lang)
		}
	}
	sort.Strings(langs)
	return langs, nil
}

// LoadModule reads and evaluates the query module for language.
func (r *Runtime) LoadModule(ctx context.Context, language string) (Module, error) {
	src, err := r.LoadScript(ModulePath(language))
	if err != nil {
		return Module{}, err
	}
	mod, err := r.EvalModule(ctx, ModulePath(language), src)
	if err != nil {
		return Module{}, err
	}
	if mod.Language == "" {
		mod.Language = language
	}
	if mod.Language != language {
		return Module{}, fmt.Errorf("runtime: module %s declares language %q", ModulePath(language), mod.Language)
	}
	return mod, nil
}

// EvalModule evaluates source and decodes the resulting map.
func (r *Runtime) EvalModule(ctx context.Context, label, source string) (Module, error) {
	result, err := r.eval(ctx, source, label, nil)
	if err != nil {
		return Module{}, err
	}
	m, ok := result.(*object.Map)
	if !ok {
		return Module{}, fmt.Errorf("runtime: module %s: expected a map, got %s", label, result.Type())
	}
	return decodeModule(label, m.Interface())
}

func decodeModule(label string, v any) (Module, error) {
	raw, ok := v.(map[string]any)
	if !ok {
		return Module{}, fmt.Errorf("runtime: module %s: expected a map, got %T", label, v)
	}

	var mod Module
	if lang, ok := raw["language"].(string); ok {
		mod.Language = lang
	}

	switch suffixes := raw["suffixes"].(type) {
	case nil:
	case []any:
		for _, s := range suffixes {
			str, ok := s.(string)
			if !ok {
				return Module{}, fmt.Errorf("runtime: module %s: suffix %v is not a string", label, s)
			}
			mod.Suffixes = append(mod.Suffixes, str)
		}
	default:
		return Module{}, fmt.Errorf("runtime: module %s: suffixes must be a list, got %T", label, suffixes)
	}

	queries, ok := raw["queries"].(map[string]any)
	if !ok {
		return Module{}, fmt.Errorf("runtime: module %s: missing queries map", label)
	}
	mod.Queries = make(map[string]string, len(queries))
	for name, q := range queries {
		src, ok := q.(string)
		if !ok {
			return Module{}, fmt.Errorf("runtime: module %s: query %q is not a string", label, name)
		}
		mod.Queries[name] = src
	}
	return mod, nil
}

// RunSource executes Risor source with the standard globals plus any extra
// globals and returns the value of its final expression.
func (r *Runtime) RunSource(ctx context.Context, source string, extraGlobals map[string]any) (object.Object, error) {
	return r.eval(ctx, source, "<inline>", extraGlobals)
}

func (r *Runtime) eval(ctx context.Context, source, label string, extraGlobals map[string]any) (object.Object, error) {
	globals := r.buildGlobals(extraGlobals)

	var opts []risor.Option
	for name, val := range globals {
		opts = append(opts, risor.WithGlobal(name, val))
	}
	if imp := r.buildImporter(globals); imp != nil {
		opts = append(opts, risor.WithImporter(imp))
	}

	result, err := risor.Eval(ctx, source, opts...)
	if err != nil {
		return nil, fmt.Errorf("runtime: script %s: %w", label, err)
	}
	return result, nil
}

// buildImporter returns a Risor importer for the configured script source,
// or nil when neither an FS nor a scripts directory is set.
func (r *Runtime) buildImporter(globals map[string]any) importer.Importer {
	globalNames := make([]string, 0, len(globals))
	for name := range globals {
		globalNames = append(globalNames, name)
	}

	if r.fsys != nil {
		return importer.NewFSImporter(importer.FSImporterOptions{
			GlobalNames: globalNames,
			SourceFS:    r.fsys,
			Extensions:  []string{".risor"},
		})
	}
	if r.scriptsDir != "" {
		return importer.NewLocalImporter(importer.LocalImporterOptions{
			GlobalNames: globalNames,
			SourceDir:   r.scriptsDir,
			Extensions:  []string{".risor"},
		})
	}
	return nil
}

// LoadScript reads a .risor file from the FS, or from scriptsDir on disk.
func (r *Runtime) LoadScript(path string) (string, error) {
	if r.fsys != nil {
		fsPath := strings.TrimPrefix(filepath.ToSlash(path), "/")
		data, err := fs.ReadFile(r.fsys, fsPath)
		if err != nil {
			return "", fmt.Errorf("runtime: loading script %s from fs: %w", fsPath, err)
		}
		return string(data), nil
	}

	fullPath := path
	if !filepath.IsAbs(path) {
		fullPath = filepath.Join(r.scriptsDir, path)
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", fmt.Errorf("runtime: loading script %s: %w", fullPath, err)
	}
	return string(data), nil
}

func (r *Runtime) buildGlobals(extra map[string]any) map[string]any {
	globals := map[string]any{
		"log":     mustProxy(&logObject{logger: r.logger}),
		"pattern": makePatternFn(),
	}
	for k, v := range extra {
		globals[k] = v
	}
	return globals
}

func mustProxy(v any) object.Object {
	p, err := object.NewProxy(v)
	if err != nil {
		panic(fmt.Sprintf("runtime: proxy error: %v", err))
	}
	return p
}
