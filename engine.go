package grove

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/jward/grove/internal/config"
	"github.com/jward/grove/internal/discover"
	"github.com/jward/grove/internal/document"
	"github.com/jward/grove/internal/index"
	"github.com/jward/grove/internal/languages"
	"github.com/jward/grove/internal/store"
	"github.com/jward/grove/internal/trees"
	"github.com/jward/grove/queries"
)

// Engine wires the document store, the parse cache, the scope resolver and
// the symbol index together and serves the code-intelligence features.
type Engine struct {
	cfg      *config.Config
	registry *languages.Registry
	docs     *document.Store
	trees    *trees.Cache
	index    *index.Manager
	store    *store.Store
	logger   *slog.Logger

	// Set by options.
	queriesFS    fs.FS
	ownsRegistry bool
	dbPath       string
	storage      index.Storage
	clock        clockwork.Clock
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the default configuration.
func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithQueriesFS loads the per-language query modules from fsys instead of
// the embedded ones.
func WithQueriesFS(fsys fs.FS) Option {
	return func(e *Engine) { e.queriesFS = fsys }
}

// WithRegistry uses an already loaded language registry. The caller keeps
// ownership and closes it.
func WithRegistry(r *languages.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithDatabase persists the symbol index snapshot in a SQLite database at
// path.
func WithDatabase(path string) Option {
	return func(e *Engine) { e.dbPath = path }
}

// WithStorage persists the snapshot in s. WithDatabase takes precedence.
func WithStorage(s index.Storage) Option {
	return func(e *Engine) { e.storage = s }
}

// WithLogger sets the logger shared by every component. Defaults to
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock sets the clock driving background indexing and snapshot
// writes.
func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// New creates an Engine. Without WithDatabase or WithStorage the snapshot
// lives in memory.
func New(ctx context.Context, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:       config.Default(),
		queriesFS: queries.FS,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("grove: %w", err)
	}

	if e.registry == nil {
		r, err := languages.Load(ctx, e.queriesFS, languages.WithLogger(e.logger))
		if err != nil {
			return nil, fmt.Errorf("grove: load languages: %w", err)
		}
		e.registry = r
		e.ownsRegistry = true
	}

	if e.dbPath != "" {
		if err := e.openStore(ctx); err != nil {
			e.closeRegistry()
			return nil, err
		}
		e.storage = e.store
	}

	e.docs = document.NewStore(e.registry.LanguageForURI,
		document.WithLogger(e.logger),
		document.WithFileCacheSize(e.cfg.Documents.FileCacheSize))
	e.trees = trees.New(e.registry,
		trees.WithSize(e.cfg.Parse.CacheSize),
		trees.WithTimeout(e.cfg.ParseTimeout()),
		trees.WithLogger(e.logger))
	e.docs.OnDidChange(e.trees.Edit)

	mopts := []index.Option{
		index.WithLogger(e.logger),
		index.WithWindow(e.cfg.Index.Window),
		index.WithAsyncBatch(e.cfg.Index.AsyncBatch),
		index.WithBackoffFactor(e.cfg.Index.BackoffFactor),
		index.WithMaxSkips(e.cfg.Index.MaxFuzzySkips),
		index.WithPersistDebounce(e.cfg.PersistDebounce()),
	}
	if e.storage != nil {
		mopts = append(mopts, index.WithStorage(e.storage))
	}
	if e.clock != nil {
		mopts = append(mopts, index.WithClock(e.clock))
	}
	e.index = index.NewManager(index.AnalyzerFunc(e.analyze), e.registry.LanguageForURI, mopts...)

	e.logger.Debug("engine.ready", "languages", e.registry.IDs(), "database", e.dbPath)
	return e, nil
}

// openStore opens the snapshot database and drops snapshots built with
// other queries.
func (e *Engine) openStore(ctx context.Context) error {
	s, err := store.NewStore(e.dbPath)
	if err != nil {
		return fmt.Errorf("grove: open store: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return fmt.Errorf("grove: migrate: %w", err)
	}
	discarded, err := s.EnsureQueryHash(ctx, e.registry.Hash())
	if err != nil {
		s.Close()
		return fmt.Errorf("grove: check query hash: %w", err)
	}
	if discarded {
		e.logger.Info("engine.snapshot_discarded", "database", e.dbPath, "reason", "queries changed")
	}
	e.store = s
	return nil
}

func (e *Engine) closeRegistry() {
	if e.ownsRegistry {
		e.registry.Close()
	}
}

// Close stops background indexing, flushes the snapshot and releases
// every parse tree and compiled query.
func (e *Engine) Close() error {
	e.index.Close()
	e.trees.Close()
	e.closeRegistry()
	if e.store != nil {
		return e.store.Close()
	}
	return nil
}

// Config returns the configuration in effect.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// Languages returns the ids of the supported languages.
func (e *Engine) Languages() []string {
	return e.registry.IDs()
}

// Supports reports whether the file at path or uri belongs to a supported
// language.
func (e *Engine) Supports(pathOrURI string) bool {
	_, ok := e.registry.LanguageForURI(pathOrURI)
	return ok
}

// Matcher returns the workspace file filter for root: the configured
// include and exclude globs, .gitignore, and supported languages only.
func (e *Engine) Matcher(root string) *discover.Matcher {
	return discover.NewMatcher(root, e.discoverOptions())
}

func (e *Engine) discoverOptions() discover.Options {
	return discover.Options{
		Include:          e.cfg.Workspace.Include,
		Exclude:          e.cfg.Workspace.Exclude,
		RespectGitignore: e.cfg.Workspace.RespectGitignore,
		Accept:           e.Supports,
	}
}

// IndexDirectory discovers the supported files under root and indexes
// them, seeding from the snapshot where possible. It returns the number of
// files found.
func (e *Engine) IndexDirectory(ctx context.Context, root string) (int, error) {
	paths, err := discover.Files(ctx, root, e.discoverOptions())
	if err != nil {
		return 0, fmt.Errorf("grove: discover %s: %w", root, err)
	}
	uris := make([]string, len(paths))
	for i, p := range paths {
		uris[i] = document.URIFromPath(p)
	}
	e.logger.Info("engine.discovered", "root", root, "files", len(uris))
	if err := e.InitFiles(ctx, uris); err != nil {
		return len(uris), err
	}
	return len(uris), nil
}

// Stats reports index, queue and parse counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Index:       e.index.Stats(),
		Parse:       e.trees.Stats(),
		CachedTrees: e.trees.Len(),
		Languages:   e.registry.IDs(),
	}
}

// Flush writes pending snapshot changes now.
func (e *Engine) Flush() {
	e.index.Flush()
}

// unavailable reports whether err only means "no answer right now": the
// document cannot be read or has no tree yet.
func unavailable(err error) bool {
	return errors.Is(err, document.ErrNotFound) || errors.Is(err, trees.ErrUnavailable)
}
