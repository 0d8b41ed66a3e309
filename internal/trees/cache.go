// Package trees is the incremental parse cache. It owns one syntax tree per
// document URI, patches cached trees with the edits that arrive between
// versions, and reparses incrementally.
package trees

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/grove/internal/document"
)

// ErrUnavailable means no tree can be produced right now: the parse timed
// out or failed, or the language is unknown. It is not a statement about
// the document's syntax.
var ErrUnavailable = errors.New("trees: tree unavailable")

const (
	DefaultSize    = 150
	DefaultTimeout = time.Second
)

// GrammarSource resolves language ids to grammars.
type GrammarSource interface {
	Grammar(languageID string) (*sitter.Language, bool)
}

type entry struct {
	version int32
	tree    *sitter.Tree

	// edits bring tree from version to editsVersion.
	edits        []document.Edit
	editsVersion int32
}

// Stats counts parses by kind.
type Stats struct {
	Full        int `json:"full"`
	Incremental int `json:"incremental"`
	Failed      int `json:"failed"`
}

// Cache is a bounded LRU of parsed trees. Trees never escape a Use call, so
// eviction can release them immediately.
type Cache struct {
	mu       sync.Mutex
	entries  *lru.Cache[string, *entry]
	grammars GrammarSource
	timeout  time.Duration
	logger   *slog.Logger
	stats    Stats
	size     int
}

// Option configures a Cache.
type Option func(*Cache)

// WithSize bounds the number of cached trees.
func WithSize(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.size = n
		}
	}
}

// WithTimeout bounds the wall-clock time of a single parse.
func WithTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New creates a Cache.
func New(grammars GrammarSource, opts ...Option) *Cache {
	c := &Cache{
		grammars: grammars,
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
		size:     DefaultSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.entries, _ = lru.NewWithEvict(c.size, func(_ string, e *entry) {
		e.tree.Close()
	})
	return c
}

// Use hands fn the up-to-date tree for doc. The tree is only valid during
// fn and must not be retained. Calls are serialized.
func (c *Cache) Use(ctx context.Context, doc *document.Document, fn func(*sitter.Tree) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tree, err := c.treeLocked(ctx, doc)
	if err != nil {
		return err
	}
	return fn(tree)
}

func (c *Cache) treeLocked(ctx context.Context, doc *document.Document) (*sitter.Tree, error) {
	cached, ok := c.entries.Get(doc.URI)
	if ok && cached.version == doc.Version {
		return cached.tree, nil
	}

	grammar, found := c.grammars.Grammar(doc.LanguageID)
	if !found {
		return nil, fmt.Errorf("trees: %s: unknown language %q: %w", doc.URI, doc.LanguageID, ErrUnavailable)
	}

	var old *sitter.Tree
	if ok && len(cached.edits) > 0 && cached.editsVersion == doc.Version {
		for _, e := range cached.edits {
			cached.tree.Edit(e.Input())
		}
		old = cached.tree
	}
	if ok {
		cached.edits = nil
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(grammar)

	pctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	start := time.Now()
	tree, err := parser.ParseCtx(pctx, old, doc.Bytes())
	if err == nil && tree == nil {
		err = errors.New("parser returned no tree")
	}
	if err != nil {
		c.stats.Failed++
		c.entries.Remove(doc.URI)
		c.logger.Warn("trees.parse_failed", "uri", doc.URI, "version", doc.Version, "elapsed", time.Since(start), "err", err)
		return nil, fmt.Errorf("trees: parse %s: %w: %w", doc.URI, ErrUnavailable, err)
	}

	if old != nil {
		c.stats.Incremental++
	} else {
		c.stats.Full++
	}
	c.logger.Debug("trees.parse", "uri", doc.URI, "version", doc.Version, "incremental", old != nil, "elapsed", time.Since(start))

	// Add on an existing key replaces the value without an eviction
	// callback, so the previous tree is released here.
	c.entries.Add(doc.URI, &entry{version: doc.Version, tree: tree})
	if ok {
		cached.tree.Close()
	}
	return tree, nil
}

// Edit queues the edits of a change event for the cached entry of its URI.
// Edits for a URI without an entry are dropped.
func (c *Cache) Edit(ev document.ChangeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries.Peek(ev.URI)
	if !ok {
		return
	}
	e.edits = append(e.edits, ev.Edits...)
	e.editsVersion = ev.Version
}

// Delete releases the tree for uri.
func (c *Cache) Delete(uri string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Remove(uri)
}

// Len returns the number of cached trees.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Stats returns parse counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Close releases every cached tree.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}
