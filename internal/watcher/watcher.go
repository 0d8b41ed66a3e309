// Package watcher turns file-system notifications under a workspace root
// into debounced batches of changed and deleted files.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"

	"github.com/jward/grove/internal/discover"
	"github.com/jward/grove/internal/sched"
)

// DefaultDebounce is how long the watcher waits for the file system to go
// quiet before handing over a batch.
const DefaultDebounce = 100 * time.Millisecond

// Op is what happened to a file.
type Op uint8

const (
	Changed Op = iota + 1
	Deleted
)

func (o Op) String() string {
	switch o {
	case Changed:
		return "changed"
	case Deleted:
		return "deleted"
	}
	return "unknown"
}

// Event is one file-level change.
type Event struct {
	Path string
	Op   Op
}

// Handler receives batches sorted by path.
type Handler func([]Event)

type Watcher struct {
	fs      *fsnotify.Watcher
	matcher *discover.Matcher
	handler Handler
	logger  *slog.Logger

	debounce time.Duration
	clock    clockwork.Clock
	pending  *sched.Debouncer[string, Op]

	mu      sync.Mutex
	started bool
	done    chan struct{}
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period before a batch is delivered.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithClock sets the clock used for debouncing.
func WithClock(c clockwork.Clock) Option {
	return func(w *Watcher) { w.clock = c }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// New creates a Watcher for the workspace described by matcher.
func New(matcher *discover.Matcher, handler Handler, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fs:       fsw,
		matcher:  matcher,
		handler:  handler,
		logger:   slog.Default(),
		debounce: DefaultDebounce,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.pending = sched.NewDebouncer(w.clock, w.debounce, 0, w.flush)
	return w, nil
}

// Start watches every directory of the workspace and processes events
// until ctx is done or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return errors.New("watcher: already started")
	}
	w.started = true
	w.mu.Unlock()

	if err := w.addTree(w.matcher.Root(), false); err != nil {
		return err
	}
	w.logger.Info("watcher.started", "root", w.matcher.Root(), "dirs", len(w.fs.WatchList()))
	go w.loop(ctx)
	return nil
}

// addTree watches dir and its subdirectories. With emit set, files found
// are reported as changed, which covers files created before the watch on
// a new directory was in place.
func (w *Watcher) addTree(dir string, emit bool) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, ok := w.matcher.Rel(path)
		if !ok {
			return nil
		}
		if !d.IsDir() {
			if emit && w.matcher.Match(rel) {
				w.pending.Add(path, Changed)
			}
			return nil
		}
		if w.matcher.SkipDir(rel) {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			w.logger.Warn("watcher.add_failed", "path", path, "err", err)
		}
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher.error", "err", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	rel, ok := w.matcher.Rel(ev.Name)
	if !ok || strings.HasPrefix(filepath.Base(ev.Name), ".#") {
		return
	}
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !w.matcher.SkipDir(rel) {
				_ = w.addTree(ev.Name, true)
			}
			return
		}
		if w.matcher.Match(rel) {
			w.pending.Add(ev.Name, Changed)
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		if w.matcher.Match(rel) {
			w.pending.Add(ev.Name, Deleted)
		}
	}
}

func (w *Watcher) flush(batch map[string]Op) {
	events := make([]Event, 0, len(batch))
	for path, op := range batch {
		events = append(events, Event{Path: path, Op: op})
	}
	slices.SortFunc(events, func(a, b Event) int { return strings.Compare(a.Path, b.Path) })
	w.logger.Debug("watcher.flush", "events", len(events))
	w.handler(events)
}

// Close stops watching and delivers what is still pending.
func (w *Watcher) Close() error {
	err := w.fs.Close()
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if started {
		<-w.done
	}
	w.pending.Stop()
	return err
}
