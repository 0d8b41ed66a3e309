package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrNotFound is returned when a URI can be neither found among the open
// documents nor read from disk.
var ErrNotFound = errors.New("document: not found")

// DefaultFileCacheSize bounds the number of file-backed documents kept in
// memory.
const DefaultFileCacheSize = 200

// ChangeEvent is delivered to listeners after an open document changes.
type ChangeEvent struct {
	URI     string
	Version int32
	Edits   []Edit
}

// LanguageFunc maps a URI to a language id. ok is false for unsupported
// files.
type LanguageFunc func(uri string) (languageID string, ok bool)

// Store is the document provider: it tracks documents opened by a client
// and loads everything else from disk on demand.
type Store struct {
	mu        sync.Mutex
	open      map[string]*Document
	files     *lru.Cache[string, *Document]
	fileHash  map[string]fileVersion
	listeners []func(ChangeEvent)

	languageOf LanguageFunc
	logger     *slog.Logger
}

type fileVersion struct {
	hash    uint64
	version int32
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithFileCacheSize bounds the file-backed document cache.
func WithFileCacheSize(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.files, _ = lru.New[string, *Document](n)
		}
	}
}

// NewStore creates a Store. languageOf decides the language id of files read
// from disk.
func NewStore(languageOf LanguageFunc, opts ...StoreOption) *Store {
	files, _ := lru.New[string, *Document](DefaultFileCacheSize)
	s := &Store{
		open:       make(map[string]*Document),
		files:      files,
		fileHash:   make(map[string]fileVersion),
		languageOf: languageOf,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnDidChange registers fn to be called after every Change.
func (s *Store) OnDidChange(fn func(ChangeEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Open records a client-owned document.
func (s *Store) Open(uri, languageID string, version int32, text string) *Document {
	doc := New(uri, languageID, version, text)
	s.mu.Lock()
	s.open[uri] = doc
	s.files.Remove(uri)
	s.mu.Unlock()
	return doc
}

// Change applies content changes to an open document and notifies
// listeners with the resulting edits.
func (s *Store) Change(uri string, version int32, changes []Change) (*Document, error) {
	s.mu.Lock()
	doc, ok := s.open[uri]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("document: change %s: %w", uri, ErrNotFound)
	}
	next, edits := doc.Apply(version, changes)
	s.open[uri] = next
	listeners := s.listeners
	s.mu.Unlock()

	ev := ChangeEvent{URI: uri, Version: version, Edits: edits}
	for _, fn := range listeners {
		fn(ev)
	}
	return next, nil
}

// Close forgets a client-owned document. Later retrievals read from disk.
func (s *Store) Close(uri string) {
	s.mu.Lock()
	delete(s.open, uri)
	s.mu.Unlock()
}

// IsOpen reports whether uri is owned by the client.
func (s *Store) IsOpen(uri string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.open[uri]
	return ok
}

// AllOpen returns every open document.
func (s *Store) AllOpen() []*Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Document, 0, len(s.open))
	for _, d := range s.open {
		out = append(out, d)
	}
	return out
}

// Invalidate drops the cached file-backed copy of uri, typically after a
// file-system change.
func (s *Store) Invalidate(uri string) {
	s.mu.Lock()
	s.files.Remove(uri)
	s.mu.Unlock()
}

// Retrieve returns the open document for uri, or loads it from disk.
func (s *Store) Retrieve(ctx context.Context, uri string) (*Document, error) {
	s.mu.Lock()
	if d, ok := s.open[uri]; ok {
		s.mu.Unlock()
		return d, nil
	}
	if d, ok := s.files.Get(uri); ok {
		s.mu.Unlock()
		return d, nil
	}
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lang, ok := s.languageOf(uri)
	if !ok {
		return nil, fmt.Errorf("document: retrieve %s: unsupported language: %w", uri, ErrNotFound)
	}
	path, err := PathFromURI(uri)
	if err != nil {
		return nil, fmt.Errorf("document: retrieve %s: %w", uri, ErrNotFound)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		s.logger.Debug("document.read_failed", "uri", uri, "err", err)
		return nil, fmt.Errorf("document: retrieve %s: %w: %w", uri, ErrNotFound, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.open[uri]; ok {
		return d, nil
	}
	// A file keeps its version while its content is unchanged so the parse
	// cache can reuse its tree across file-cache evictions.
	h := xxhash.Sum64(data)
	fv := s.fileHash[uri]
	if fv.version == 0 || fv.hash != h {
		fv = fileVersion{hash: h, version: fv.version + 1}
		s.fileHash[uri] = fv
	}
	doc := New(uri, lang, fv.version, string(data))
	s.files.Add(uri, doc)
	return doc, nil
}

// Forget drops all state for a deleted file.
func (s *Store) Forget(uri string) {
	s.mu.Lock()
	s.files.Remove(uri)
	delete(s.fileHash, uri)
	s.mu.Unlock()
}

// URIFromPath converts a file path to a file:// URI.
func URIFromPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return u.String()
}

// PathFromURI converts a file:// URI back to a path.
func PathFromURI(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("document: parse uri %q: %w", uri, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("document: uri %q: unsupported scheme %q", uri, u.Scheme)
	}
	return filepath.FromSlash(u.Path), nil
}

// Scheme returns the scheme of uri, or "" when it has none.
func Scheme(uri string) string {
	if i := strings.Index(uri, ":"); i > 0 {
		return uri[:i]
	}
	return ""
}
