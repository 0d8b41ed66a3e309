package index

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/jward/grove/internal/document"
	"github.com/jward/grove/internal/outline"
	"github.com/jward/grove/internal/sched"
	"github.com/jward/grove/internal/span"
	"github.com/jward/grove/internal/trie"
)

// ErrCancelled is returned when a batch stops between windows because its
// context was cancelled. The context error is wrapped as well.
var ErrCancelled = errors.New("index: cancelled")

const (
	DefaultWindow        = 50
	DefaultAsyncBatch    = 70
	DefaultBackoffFactor = 4
)

// Schemes whose documents are never indexed.
var skippedSchemes = map[string]bool{
	"git":    true,
	"github": true,
	"vsls":   true,
}

// Location is a definition or usage found by a project-wide lookup.
type Location struct {
	URI        string       `json:"uri"`
	LanguageID string       `json:"languageId"`
	Name       string       `json:"name"`
	Kind       outline.Kind `json:"kind"`
	Range      span.Range   `json:"range"`
}

// Analysis is what indexing extracts from one document.
type Analysis struct {
	URI         string
	LanguageID  string
	Definitions []Location
	Usages      []Location
}

// Symbols folds the analysis into per-name kind sets.
func (a *Analysis) Symbols() Symbols {
	out := make(Symbols)
	for _, d := range a.Definitions {
		info := out[d.Name]
		info.Definitions = info.Definitions.Add(d.Kind)
		out[d.Name] = info
	}
	for _, u := range a.Usages {
		info := out[u.Name]
		info.Usages = info.Usages.Add(u.Kind)
		out[u.Name] = info
	}
	return out
}

// Analyzer produces the Analysis of one document.
type Analyzer interface {
	Analyze(ctx context.Context, uri string) (*Analysis, error)
}

// AnalyzerFunc adapts a function to Analyzer.
type AnalyzerFunc func(ctx context.Context, uri string) (*Analysis, error)

func (f AnalyzerFunc) Analyze(ctx context.Context, uri string) (*Analysis, error) {
	return f(ctx, uri)
}

// Stats describes the state of the index.
type Stats struct {
	Names       int `json:"names"`
	Documents   int `json:"documents"`
	SyncQueued  int `json:"syncQueued"`
	AsyncQueued int `json:"asyncQueued"`
	Indexed     int `json:"indexed"`
}

// Manager decides which documents need indexing, runs indexing passes and
// answers project-wide definition and usage queries.
type Manager struct {
	analyzer   Analyzer
	languageOf document.LanguageFunc
	storage    Storage
	persist    *persister
	sched      *sched.Scheduler
	ownSched   bool
	clock      clockwork.Clock
	logger     *slog.Logger

	window        int
	asyncBatch    int
	backoffFactor int
	maxSkips      int
	debounce      time.Duration

	// updateMu admits one synchronous pass at a time. Background batches
	// do not take it.
	updateMu sync.Mutex

	mu          sync.Mutex
	index       *Index
	queues      *Queues
	epochs      map[string]uint64
	indexed     int
	cancelAsync func()

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Manager.
type Option func(*Manager)

// WithStorage sets the snapshot storage. Defaults to a MemoryStorage.
func WithStorage(s Storage) Option {
	return func(m *Manager) { m.storage = s }
}

// WithScheduler runs background work on s instead of a private scheduler.
// The caller closes s.
func WithScheduler(s *sched.Scheduler) Option {
	return func(m *Manager) { m.sched = s }
}

// WithClock sets the clock of the private scheduler and the persister.
func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithWindow sets how many documents are indexed concurrently.
func WithWindow(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.window = n
		}
	}
}

// WithAsyncBatch sets how many documents one background step revalidates.
func WithAsyncBatch(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.asyncBatch = n
		}
	}
}

// WithBackoffFactor sets the multiple of a background step's duration to
// wait before the next one.
func WithBackoffFactor(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.backoffFactor = n
		}
	}
}

// WithMaxSkips sets the fuzzy query skip budget.
func WithMaxSkips(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.maxSkips = n
		}
	}
}

// WithPersistDebounce sets the snapshot write debounce window.
func WithPersistDebounce(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.debounce = d
		}
	}
}

// NewManager creates a Manager. languageOf decides which URIs are indexable
// and which language a result belongs to.
func NewManager(analyzer Analyzer, languageOf document.LanguageFunc, opts ...Option) *Manager {
	m := &Manager{
		analyzer:      analyzer,
		languageOf:    languageOf,
		logger:        slog.Default(),
		window:        DefaultWindow,
		asyncBatch:    DefaultAsyncBatch,
		backoffFactor: DefaultBackoffFactor,
		maxSkips:      trie.DefaultMaxSkips,
		debounce:      DefaultPersistDebounce,
		queues:        NewQueues(),
		epochs:        make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	if m.sched == nil {
		m.sched = sched.New(m.clock)
		m.ownSched = true
	}
	if m.storage == nil {
		m.storage = NewMemoryStorage()
	}
	m.index = New(m.maxSkips)
	m.persist = newPersister(m.storage, m.clock, m.debounce, m.logger)
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m
}

// Accepts reports whether uri is indexable: a supported language outside
// the skipped schemes.
func (m *Manager) Accepts(uri string) bool {
	if skippedSchemes[document.Scheme(uri)] {
		return false
	}
	_, ok := m.languageOf(uri)
	return ok
}

// AddFile queues uri for the next synchronous pass, taking it off the
// background queue. An indexing task for uri that is already running will
// not commit; the queued pass supersedes it.
func (m *Manager) AddFile(uri string) {
	if !m.Accepts(uri) {
		return
	}
	m.mu.Lock()
	m.queues.AddSync(uri)
	m.epochs[uri]++
	m.mu.Unlock()
}

// RemoveFile drops uri from both queues and retracts its contribution. An
// indexing task for uri that is already running will not commit.
func (m *Manager) RemoveFile(uri string) {
	m.mu.Lock()
	m.queues.Remove(uri)
	m.epochs[uri]++
	m.index.Remove(uri)
	m.mu.Unlock()
	m.persist.delete(uri)
}

// Mode reports which queue uri waits in.
func (m *Manager) Mode(uri string) Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queues.Mode(uri)
}

// Symbols returns what uri currently contributes to the index.
func (m *Manager) Symbols(uri string) Symbols {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index.Symbols(uri)
}

// Update indexes everything on the synchronous queue. Passes are
// serialized: when Update returns, every URI queued before the call began
// has been indexed.
func (m *Manager) Update(ctx context.Context) error {
	m.updateMu.Lock()
	defer m.updateMu.Unlock()
	for {
		m.mu.Lock()
		uris := m.queues.TakeSync()
		m.mu.Unlock()
		if len(uris) == 0 {
			return nil
		}
		if err := m.indexBatch(ctx, uris, Sync); err != nil {
			return err
		}
	}
}

// InitFiles seeds the index from the snapshot, runs one synchronous pass
// and starts background revalidation of the seeded documents. Snapshot
// entries for URIs not in uris are deleted.
func (m *Manager) InitFiles(ctx context.Context, uris []string) error {
	stored, err := m.storage.GetAll(ctx)
	if err != nil {
		m.logger.Warn("index.snapshot_load_failed", "err", err)
		stored = nil
	}

	requested := make(map[string]bool, len(uris))
	for _, uri := range uris {
		if m.Accepts(uri) {
			requested[uri] = true
		}
	}

	var stale []string
	seeded := make(map[string]bool, len(stored))
	m.mu.Lock()
	for uri, data := range stored {
		if !requested[uri] {
			stale = append(stale, uri)
			continue
		}
		symbols, err := Decode(data)
		if err != nil {
			m.logger.Warn("index.snapshot_entry_invalid", "uri", uri, "err", err)
			continue
		}
		m.index.Update(uri, symbols)
		m.queues.AddAsync(uri)
		seeded[uri] = true
	}
	for _, uri := range uris {
		if requested[uri] && !seeded[uri] {
			m.queues.AddSync(uri)
		}
	}
	m.mu.Unlock()

	m.persist.delete(stale...)
	m.logger.Info("index.init", "requested", len(requested), "restored", len(seeded), "stale", len(stale))

	if err := m.Update(ctx); err != nil {
		return err
	}
	m.sched.Post(m.asyncStep)
	return nil
}

// asyncStep revalidates one batch of the background queue and schedules
// the next step after backoffFactor times the time this one took.
func (m *Manager) asyncStep() {
	if m.ctx.Err() != nil {
		return
	}
	m.mu.Lock()
	uris := m.queues.TakeAsync(m.asyncBatch)
	m.mu.Unlock()
	if len(uris) == 0 {
		m.logger.Debug("index.async_idle")
		return
	}

	start := m.clock.Now()
	if err := m.indexBatch(m.ctx, uris, Async); err != nil {
		m.logger.Debug("index.async_stopped", "err", err)
		return
	}

	delay := m.clock.Since(start) * time.Duration(m.backoffFactor)
	cancel := m.sched.After(delay, m.asyncStep)
	m.mu.Lock()
	m.cancelAsync = cancel
	m.mu.Unlock()
}

// indexBatch indexes uris in windows of at most m.window concurrent
// tasks. Cancellation is checked between windows; URIs that were not
// started or were cut short go back to their queue.
func (m *Manager) indexBatch(ctx context.Context, uris []string, mode Mode) error {
	start := m.clock.Now()
	for lo := 0; lo < len(uris); lo += m.window {
		if err := ctx.Err(); err != nil {
			m.requeue(uris[lo:], mode)
			return fmt.Errorf("index: %s batch: %w: %w", mode, ErrCancelled, err)
		}
		hi := min(lo+m.window, len(uris))
		interrupted := make([]bool, hi-lo)
		var g errgroup.Group
		for i, uri := range uris[lo:hi] {
			g.Go(func() error {
				if err := m.indexOne(ctx, uri); err != nil {
					interrupted[i] = true
					return err
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			var again []string
			for i, uri := range uris[lo:hi] {
				if interrupted[i] {
					again = append(again, uri)
				}
			}
			m.requeue(append(again, uris[hi:]...), mode)
			return fmt.Errorf("index: %s batch: %w: %w", mode, ErrCancelled, err)
		}
	}
	m.logger.Debug("index.batch", "mode", mode.String(), "files", len(uris), "elapsed", m.clock.Since(start))
	return nil
}

func (m *Manager) requeue(uris []string, mode Mode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, uri := range uris {
		if mode == Async {
			m.queues.AddAsync(uri)
		} else {
			m.queues.AddSync(uri)
		}
	}
}

func (m *Manager) epoch(uri string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epochs[uri]
}

// indexOne reindexes uri. A document that cannot be analyzed loses its
// previous contribution. Only cancellation is returned as an error.
func (m *Manager) indexOne(ctx context.Context, uri string) error {
	epoch := m.epoch(uri)
	a, err := m.analyzer.Analyze(ctx, uri)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		m.logger.Warn("index.document_failed", "uri", uri, "err", err)
		m.retract(uri, epoch)
		return nil
	}
	m.commit(uri, epoch, a.Symbols())
	return nil
}

// retract drops the contribution of uri unless uri was queued or removed
// after epoch was read.
func (m *Manager) retract(uri string, epoch uint64) {
	m.mu.Lock()
	if m.epochs[uri] != epoch || !m.index.Remove(uri) {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.persist.delete(uri)
}

// commit stores symbols for uri unless uri was removed after epoch was
// read.
func (m *Manager) commit(uri string, epoch uint64, symbols Symbols) bool {
	m.mu.Lock()
	if m.epochs[uri] != epoch {
		m.mu.Unlock()
		m.logger.Debug("index.stale_result", "uri", uri)
		return false
	}
	m.index.Update(uri, symbols)
	m.indexed++
	m.mu.Unlock()
	m.persist.insert(uri, symbols)
	return true
}

// GetDefinitions returns the definitions of name across the project.
// Documents of from's language win: when any of them defines name, other
// languages are left out.
func (m *Manager) GetDefinitions(ctx context.Context, name, from string) ([]Location, error) {
	return m.lookup(ctx, name, from,
		func(info SymbolInfo) bool { return info.Definitions != 0 },
		func(a *Analysis) []Location { return a.Definitions })
}

// GetUsages returns the usages of name across the project, ranked like
// GetDefinitions.
func (m *Manager) GetUsages(ctx context.Context, name, from string) ([]Location, error) {
	return m.lookup(ctx, name, from,
		func(info SymbolInfo) bool { return info.Usages != 0 },
		func(a *Analysis) []Location { return a.Usages })
}

func (m *Manager) lookup(ctx context.Context, name, from string, want func(SymbolInfo) bool, pick func(*Analysis) []Location) ([]Location, error) {
	if err := m.Update(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	var candidates []string
	for uri, info := range m.index.Get(name) {
		if want(info) {
			candidates = append(candidates, uri)
		}
	}
	m.mu.Unlock()
	slices.Sort(candidates)

	names := map[string]bool{name: true}
	locs, err := m.visit(ctx, candidates, func(a *Analysis) []Location {
		return filterNames(pick(a), names)
	})
	if err != nil {
		return nil, err
	}
	fromLang, _ := m.languageOf(from)
	return rank(locs, from, fromLang), nil
}

// Search returns the definitions of every name matching the fuzzy pattern,
// stopping after limit names. A limit <= 0 means no limit.
func (m *Manager) Search(ctx context.Context, pattern string, limit int) ([]Location, error) {
	if err := m.Update(ctx); err != nil {
		return nil, err
	}

	names := make(map[string]bool)
	uriSet := make(map[string]bool)
	m.mu.Lock()
	for name, entry := range m.index.Query(pattern) {
		matched := false
		for uri, info := range entry {
			if info.Definitions != 0 {
				uriSet[uri] = true
				matched = true
			}
		}
		if matched {
			names[name] = true
			if limit > 0 && len(names) >= limit {
				break
			}
		}
	}
	m.mu.Unlock()

	uris := make([]string, 0, len(uriSet))
	for uri := range uriSet {
		uris = append(uris, uri)
	}
	slices.Sort(uris)
	locs, err := m.visit(ctx, uris, func(a *Analysis) []Location {
		return filterNames(a.Definitions, names)
	})
	if err != nil {
		return nil, err
	}
	return rank(locs, "", ""), nil
}

// Complete returns up to limit defined names matching the fuzzy prefix,
// without touching any document.
func (m *Manager) Complete(prefix string, limit int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for name, entry := range m.index.Query(prefix) {
		for _, info := range entry {
			if info.Definitions != 0 {
				out = append(out, name)
				break
			}
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	slices.Sort(out)
	return out
}

// DefinitionKinds returns the kinds name is defined as anywhere in the
// project.
func (m *Manager) DefinitionKinds(name string) KindSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kinds KindSet
	for _, info := range m.index.Get(name) {
		kinds |= info.Definitions
	}
	return kinds
}

// visit analyzes uris in windows, reindexing each document it sees and
// taking it off the background queue, and collects what pick returns.
func (m *Manager) visit(ctx context.Context, uris []string, pick func(*Analysis) []Location) ([]Location, error) {
	results := make([][]Location, len(uris))
	for lo := 0; lo < len(uris); lo += m.window {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("index: lookup: %w: %w", ErrCancelled, err)
		}
		hi := min(lo+m.window, len(uris))
		var g errgroup.Group
		for i := lo; i < hi; i++ {
			uri := uris[i]
			g.Go(func() error {
				epoch := m.epoch(uri)
				a, err := m.analyzer.Analyze(ctx, uri)
				if err != nil {
					if ctxErr := ctx.Err(); ctxErr != nil {
						return ctxErr
					}
					m.logger.Warn("index.document_failed", "uri", uri, "err", err)
					return nil
				}
				results[i] = pick(a)
				if m.commit(uri, epoch, a.Symbols()) {
					m.mu.Lock()
					m.queues.DequeueAsync(uri)
					m.mu.Unlock()
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("index: lookup: %w: %w", ErrCancelled, err)
		}
	}
	var out []Location
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

func filterNames(locs []Location, names map[string]bool) []Location {
	var out []Location
	for _, l := range locs {
		if names[l.Name] {
			out = append(out, l)
		}
	}
	return out
}

// rank keeps only results in fromLang when there are any, and orders the
// document from first, then by URI and position.
func rank(locs []Location, from, fromLang string) []Location {
	if fromLang != "" {
		var same []Location
		for _, l := range locs {
			if l.LanguageID == fromLang {
				same = append(same, l)
			}
		}
		if len(same) > 0 {
			locs = same
		}
	}
	slices.SortStableFunc(locs, func(a, b Location) int {
		if (a.URI == from) != (b.URI == from) {
			if a.URI == from {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(a.URI, b.URI); c != 0 {
			return c
		}
		return a.Range.Compare(b.Range)
	})
	return locs
}

// Stats reports the size of the index and its queues.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	syncLen, asyncLen := m.queues.Len()
	return Stats{
		Names:       m.index.Names(),
		Documents:   m.index.Documents(),
		SyncQueued:  syncLen,
		AsyncQueued: asyncLen,
		Indexed:     m.indexed,
	}
}

// Flush writes pending snapshot changes now.
func (m *Manager) Flush() {
	m.persist.flush()
}

// Close stops background work and flushes pending snapshot writes.
func (m *Manager) Close() {
	m.cancel()
	m.mu.Lock()
	cancel := m.cancelAsync
	m.cancelAsync = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if m.ownSched {
		m.sched.Close()
	}
	m.persist.close()
}
