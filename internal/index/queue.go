package index

import "container/list"

// Mode says which queue a URI waits in.
type Mode uint8

const (
	// NotQueued means the URI is in neither queue.
	NotQueued Mode = iota
	// Sync URIs are indexed before the next query is answered.
	Sync
	// Async URIs are revalidated in the background.
	Async
)

func (m Mode) String() string {
	switch m {
	case Sync:
		return "sync"
	case Async:
		return "async"
	default:
		return "none"
	}
}

// fifo is an insertion-ordered set.
type fifo struct {
	order *list.List
	elems map[string]*list.Element
}

func newFIFO() *fifo {
	return &fifo{order: list.New(), elems: make(map[string]*list.Element)}
}

func (f *fifo) push(uri string) {
	if _, ok := f.elems[uri]; ok {
		return
	}
	f.elems[uri] = f.order.PushBack(uri)
}

func (f *fifo) remove(uri string) bool {
	e, ok := f.elems[uri]
	if !ok {
		return false
	}
	f.order.Remove(e)
	delete(f.elems, uri)
	return true
}

func (f *fifo) take(n int) []string {
	if n <= 0 || n > f.order.Len() {
		n = f.order.Len()
	}
	out := make([]string, 0, n)
	for len(out) < n {
		e := f.order.Front()
		uri := f.order.Remove(e).(string)
		delete(f.elems, uri)
		out = append(out, uri)
	}
	return out
}

// Queues holds the two disjoint sets of URIs waiting to be indexed. A URI
// is in at most one of them. Queues is not safe for concurrent use.
type Queues struct {
	sync  *fifo
	async *fifo
}

// NewQueues creates empty queues.
func NewQueues() *Queues {
	return &Queues{sync: newFIFO(), async: newFIFO()}
}

// AddSync moves uri to the synchronous queue.
func (q *Queues) AddSync(uri string) {
	q.async.remove(uri)
	q.sync.push(uri)
}

// AddAsync puts uri on the asynchronous queue unless it is already waiting
// for a synchronous pass.
func (q *Queues) AddAsync(uri string) {
	if _, ok := q.sync.elems[uri]; ok {
		return
	}
	q.async.push(uri)
}

// Remove drops uri from both queues.
func (q *Queues) Remove(uri string) {
	q.sync.remove(uri)
	q.async.remove(uri)
}

// DequeueAsync drops uri from the asynchronous queue and reports whether it
// was there.
func (q *Queues) DequeueAsync(uri string) bool {
	return q.async.remove(uri)
}

// Mode reports which queue uri is in.
func (q *Queues) Mode(uri string) Mode {
	if _, ok := q.sync.elems[uri]; ok {
		return Sync
	}
	if _, ok := q.async.elems[uri]; ok {
		return Async
	}
	return NotQueued
}

// TakeSync drains the synchronous queue in arrival order.
func (q *Queues) TakeSync() []string {
	return q.sync.take(0)
}

// TakeAsync removes up to n URIs from the front of the asynchronous queue.
func (q *Queues) TakeAsync(n int) []string {
	if n <= 0 {
		return nil
	}
	return q.async.take(n)
}

// Len returns the lengths of the synchronous and asynchronous queues.
func (q *Queues) Len() (syncLen, asyncLen int) {
	return q.sync.order.Len(), q.async.order.Len()
}
