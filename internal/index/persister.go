package index

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jward/grove/internal/sched"
)

// DefaultPersistDebounce is the window in which snapshot writes collapse.
const DefaultPersistDebounce = 50 * time.Millisecond

// persister batches snapshot writes. Several writes for one URI within the
// window collapse to the last. A nil value deletes the URI.
type persister struct {
	storage Storage
	logger  *slog.Logger
	pending *sched.Debouncer[string, []byte]
}

func newPersister(storage Storage, clock clockwork.Clock, window time.Duration, logger *slog.Logger) *persister {
	p := &persister{storage: storage, logger: logger}
	p.pending = sched.NewDebouncer(clock, window, 0, p.write)
	return p
}

func (p *persister) insert(uri string, symbols Symbols) {
	data, err := Encode(symbols)
	if err != nil {
		p.logger.Error("index.persist_encode_failed", "uri", uri, "err", err)
		return
	}
	p.pending.Add(uri, data)
}

func (p *persister) delete(uris ...string) {
	for _, uri := range uris {
		p.pending.Add(uri, nil)
	}
}

func (p *persister) flush() {
	p.pending.Flush()
}

func (p *persister) close() {
	p.pending.Stop()
}

// write runs on the debouncer's timer. Failures are logged; the in-memory
// index stays authoritative.
func (p *persister) write(batch map[string][]byte) {
	ctx := context.Background()
	inserts := make(map[string][]byte, len(batch))
	var deletes []string
	for uri, data := range batch {
		if data == nil {
			deletes = append(deletes, uri)
			continue
		}
		inserts[uri] = data
	}
	if len(deletes) > 0 {
		if err := p.storage.Delete(ctx, deletes); err != nil {
			p.logger.Error("index.persist_delete_failed", "uris", len(deletes), "err", err)
		}
	}
	if len(inserts) > 0 {
		if err := p.storage.Insert(ctx, inserts); err != nil {
			p.logger.Error("index.persist_insert_failed", "uris", len(inserts), "err", err)
		}
	}
	p.logger.Debug("index.persisted", "inserted", len(inserts), "deleted", len(deletes))
}
