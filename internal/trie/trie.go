// Package trie implements a generic prefix trie over string keys with exact
// lookup, deletion and a case-insensitive subsequence fuzzy query.
//
// Every node caches the length of the longest key suffix below it ("depth").
// The fuzzy query uses the depth to prune subtrees that cannot possibly
// consume the rest of the pattern.
package trie

import (
	"iter"
	"slices"
	"unicode"
)

// DefaultMaxSkips is the number of non-matching characters a fuzzy query may
// step over before a path is abandoned.
const DefaultMaxSkips = 12

type entry[V any] struct {
	key   string
	value V
}

type node[V any] struct {
	entry    *entry[V]
	children map[rune]*node[V]
	depth    int
}

func newNode[V any]() *node[V] {
	return &node[V]{children: make(map[rune]*node[V])}
}

// Trie maps string keys to values. It is not safe for concurrent use.
type Trie[V any] struct {
	root     *node[V]
	size     int
	maxSkips int
}

// Option configures a Trie.
type Option func(*options)

type options struct {
	maxSkips int
}

// WithMaxSkips sets the fuzzy query skip budget.
func WithMaxSkips(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxSkips = n
		}
	}
}

// New creates an empty Trie.
func New[V any](opts ...Option) *Trie[V] {
	o := options{maxSkips: DefaultMaxSkips}
	for _, opt := range opts {
		opt(&o)
	}
	return &Trie[V]{root: newNode[V](), maxSkips: o.maxSkips}
}

// Len returns the number of stored keys.
func (t *Trie[V]) Len() int {
	return t.size
}

// Depth returns the length, in runes, of the longest stored key.
func (t *Trie[V]) Depth() int {
	return t.root.depth
}

// Set stores value under key, replacing any previous value.
func (t *Trie[V]) Set(key string, value V) {
	chars := []rune(key)
	n := t.root
	for pos, ch := range chars {
		n.depth = max(n.depth, len(chars)-pos)
		child, ok := n.children[ch]
		if !ok {
			child = newNode[V]()
			n.children[ch] = child
		}
		n = child
	}
	if n.entry == nil {
		t.size++
		n.entry = &entry[V]{key: key, value: value}
		return
	}
	n.entry.value = value
}

// Get returns the value stored under key.
func (t *Trie[V]) Get(key string) (V, bool) {
	n := t.root
	for _, ch := range key {
		child, ok := n.children[ch]
		if !ok {
			var zero V
			return zero, false
		}
		n = child
	}
	if n.entry == nil {
		var zero V
		return zero, false
	}
	return n.entry.value, true
}

// Delete removes key and prunes the chain of nodes that no longer lead to a
// value. It reports whether a live entry was removed.
func (t *Trie[V]) Delete(key string) bool {
	type step struct {
		ch     rune
		parent *node[V]
	}
	var path []step
	n := t.root
	for _, ch := range key {
		child, ok := n.children[ch]
		if !ok {
			return false
		}
		path = append(path, step{ch: ch, parent: n})
		n = child
	}
	if n.entry == nil {
		return false
	}
	n.entry = nil
	t.size--

	for i := len(path) - 1; i >= 0; i-- {
		parent := path[i].parent
		if len(n.children) == 0 && n.entry == nil {
			delete(parent.children, path[i].ch)
		}
		n = parent
		n.depth = 0
		for _, child := range n.children {
			n.depth = max(n.depth, child.depth+1)
		}
	}
	return true
}

type memoKey[V any] struct {
	n   *node[V]
	pos int
}

// Query returns every key that contains pattern's characters in order,
// compared case-insensitively, skipping at most the configured number of
// non-matching characters in total. Each matching key is yielded once.
func (t *Trie[V]) Query(pattern string) iter.Seq2[string, V] {
	want := []rune(pattern)
	for i, ch := range want {
		want[i] = unicode.ToLower(ch)
	}

	var bucket []*node[V]
	inBucket := make(map[*node[V]]bool)
	seen := make(map[memoKey[V]]bool)

	var walk func(n *node[V], pos, skipped int)
	walk = func(n *node[V], pos, skipped int) {
		if inBucket[n] || skipped > t.maxSkips {
			return
		}
		key := memoKey[V]{n: n, pos: pos}
		if seen[key] {
			return
		}
		seen[key] = true

		if pos >= len(want) {
			// everything up to n matched
			inBucket[n] = true
			bucket = append(bucket, n)
			return
		}
		if len(want)-pos > n.depth {
			return
		}
		for _, ch := range n.childKeys() {
			child := n.children[ch]
			if unicode.ToLower(ch) == want[pos] {
				walk(child, pos+1, skipped)
			}
			walk(child, pos, skipped+1)
		}
	}
	walk(t.root, 0, 0)

	return func(yield func(string, V) bool) {
		emitted := make(map[*entry[V]]bool)
		for _, n := range bucket {
			for e := range n.entries() {
				if emitted[e] {
					continue
				}
				emitted[e] = true
				if !yield(e.key, e.value) {
					return
				}
			}
		}
	}
}

// All yields every key/value pair in pre-order, visiting children in
// character order.
func (t *Trie[V]) All() iter.Seq2[string, V] {
	return func(yield func(string, V) bool) {
		for e := range t.root.entries() {
			if !yield(e.key, e.value) {
				return
			}
		}
	}
}

func (n *node[V]) entries() iter.Seq[*entry[V]] {
	return func(yield func(*entry[V]) bool) {
		n.walk(yield)
	}
}

func (n *node[V]) walk(yield func(*entry[V]) bool) bool {
	if n.entry != nil && !yield(n.entry) {
		return false
	}
	for _, ch := range n.childKeys() {
		if !n.children[ch].walk(yield) {
			return false
		}
	}
	return true
}

// childKeys returns the characters of n's children in order.
func (n *node[V]) childKeys() []rune {
	keys := make([]rune, 0, len(n.children))
	for ch := range n.children {
		keys = append(keys, ch)
	}
	slices.Sort(keys)
	return keys
}
