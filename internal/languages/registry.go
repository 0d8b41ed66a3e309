// Package languages is the explicit language registry: grammars, file
// suffixes and query sources per language, plus the capture engine that
// runs those queries against syntax trees.
package languages

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/grove/internal/runtime"
)

// QueryType names one of the per-language queries.
type QueryType string

const (
	Outline     QueryType = "outline"
	Locals      QueryType = "locals"
	References  QueryType = "references"
	Identifiers QueryType = "identifiers"
)

// Language is one registered language.
type Language struct {
	ID       string
	Suffixes []string

	grammar *sitter.Language
	queries map[QueryType]string
}

// Grammar returns the tree-sitter grammar.
func (l *Language) Grammar() *sitter.Language { return l.grammar }

// HasQuery reports whether the language defines a query of type qt.
func (l *Language) HasQuery(qt QueryType) bool {
	return l.queries[qt] != ""
}

type queryKey struct {
	lang string
	qt   QueryType
}

// Registry owns every registered language and the compiled queries. It is
// safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	langs    map[string]*Language
	bySuffix map[string]*Language
	compiled map[queryKey]*sitter.Query // nil entry: query failed to compile

	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		langs:    make(map[string]*Language),
		bySuffix: make(map[string]*Language),
		compiled: make(map[queryKey]*sitter.Query),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load creates a Registry from the query modules in fsys, pairing each with
// its built-in grammar. Modules without a grammar, and modules that fail to
// evaluate, are logged and skipped.
func Load(ctx context.Context, fsys fs.FS, opts ...Option) (*Registry, error) {
	r := NewRegistry(opts...)
	rt := runtime.NewRuntime("", runtime.WithRuntimeFS(fsys), runtime.WithLogger(r.logger))

	ids, err := rt.Modules()
	if err != nil {
		return nil, fmt.Errorf("languages: %w", err)
	}
	for _, id := range ids {
		grammar, ok := builtinGrammars[id]
		if !ok {
			r.logger.Warn("languages.no_grammar", "language", id)
			continue
		}
		mod, err := rt.LoadModule(ctx, id)
		if err != nil {
			r.logger.Error("languages.module_failed", "language", id, "err", err)
			continue
		}
		queries := make(map[QueryType]string, len(mod.Queries))
		for name, src := range mod.Queries {
			queries[QueryType(name)] = src
		}
		r.Register(id, grammar(), mod.Suffixes, queries)
	}
	if len(r.langs) == 0 {
		return nil, fmt.Errorf("languages: no usable query modules")
	}
	return r, nil
}

// Register adds or replaces a language. Suffixes are matched without the
// leading dot.
func (r *Registry) Register(id string, grammar *sitter.Language, suffixes []string, queries map[QueryType]string) {
	lang := &Language{
		ID:       id,
		Suffixes: make([]string, 0, len(suffixes)),
		grammar:  grammar,
		queries:  maps.Clone(queries),
	}
	for _, s := range suffixes {
		lang.Suffixes = append(lang.Suffixes, strings.TrimPrefix(s, "."))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.langs[id]; ok {
		for _, s := range old.Suffixes {
			delete(r.bySuffix, s)
		}
		for k, q := range r.compiled {
			if k.lang == id {
				if q != nil {
					q.Close()
				}
				delete(r.compiled, k)
			}
		}
	}
	r.langs[id] = lang
	for _, s := range lang.Suffixes {
		r.bySuffix[s] = lang
	}
}

// Language returns the language registered under id.
func (r *Registry) Language(id string) (*Language, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.langs[id]
	return l, ok
}

// IDs returns the registered language ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.langs))
}

// Suffixes returns every registered file suffix, sorted.
func (r *Registry) Suffixes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.bySuffix))
}

// LanguageForURI derives a language id from the suffix of uri. Query and
// fragment parts are ignored.
func (r *Registry) LanguageForURI(uri string) (string, bool) {
	if i := strings.LastIndexAny(uri, "?#"); i > 0 {
		uri = uri[:i]
	}
	if i := strings.LastIndexByte(uri, '/'); i >= 0 {
		uri = uri[i+1:]
	}
	dot := strings.LastIndexByte(uri, '.')
	if dot < 0 {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.bySuffix[uri[dot+1:]]
	if !ok {
		return "", false
	}
	return l.ID, true
}

// Hash fingerprints every registered language's query sources. A persisted
// index built with different queries is stale.
func (r *Registry) Hash() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := xxhash.New()
	for _, id := range slices.Sorted(maps.Keys(r.langs)) {
		lang := r.langs[id]
		_, _ = h.WriteString(id)
		_, _ = h.WriteString("\x00")
		for _, qt := range slices.Sorted(maps.Keys(lang.queries)) {
			_, _ = h.WriteString(string(qt))
			_, _ = h.WriteString("\x00")
			_, _ = h.WriteString(lang.queries[qt])
			_, _ = h.WriteString("\x00")
		}
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// query returns the compiled query, compiling it on first use. A missing or
// broken query yields nil; the failure is logged once.
func (r *Registry) query(langID string, qt QueryType) *sitter.Query {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := queryKey{lang: langID, qt: qt}
	if q, ok := r.compiled[key]; ok {
		return q
	}
	lang, ok := r.langs[langID]
	if !ok {
		return nil
	}
	src := lang.queries[qt]
	if src == "" {
		r.compiled[key] = nil
		return nil
	}
	q, err := sitter.NewQuery([]byte(src), lang.grammar)
	if err != nil {
		r.logger.Error("languages.query_invalid", "language", langID, "query", string(qt), "err", err)
		r.compiled[key] = nil
		return nil
	}
	r.compiled[key] = q
	return q
}

// Close releases every compiled query.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, q := range r.compiled {
		if q != nil {
			q.Close()
		}
		delete(r.compiled, k)
	}
}

// Grammar returns the tree-sitter grammar registered for id.
func (r *Registry) Grammar(id string) (*sitter.Language, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.langs[id]
	if !ok {
		return nil, false
	}
	return l.grammar, true
}
