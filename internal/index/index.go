// Package index is the project-wide symbol index: a prefix trie from symbol
// name to the documents that define or use it, the queues of documents
// waiting to be (re)indexed, the snapshot encoding and the Manager that
// keeps it all consistent.
package index

import (
	"iter"
	"math/bits"
	"slices"
	"strings"

	"github.com/jward/grove/internal/outline"
	"github.com/jward/grove/internal/trie"
)

// KindSet is a set of symbol kinds.
type KindSet uint32

// Add returns s with k added.
func (s KindSet) Add(k outline.Kind) KindSet {
	if k <= 0 || k > 31 {
		return s
	}
	return s | 1<<uint(k)
}

// Has reports whether k is in s.
func (s KindSet) Has(k outline.Kind) bool {
	return k > 0 && k <= 31 && s&(1<<uint(k)) != 0
}

// Len returns the number of kinds in s.
func (s KindSet) Len() int {
	return bits.OnesCount32(uint32(s))
}

// Kinds lists the kinds in ascending order.
func (s KindSet) Kinds() []outline.Kind {
	var out []outline.Kind
	for k := outline.Kind(1); k <= 31; k++ {
		if s.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

func (s KindSet) String() string {
	names := make([]string, 0, s.Len())
	for _, k := range s.Kinds() {
		names = append(names, k.String())
	}
	return "{" + strings.Join(names, ",") + "}"
}

// SymbolInfo records how one document defines and uses one name.
type SymbolInfo struct {
	Definitions KindSet
	Usages      KindSet
}

// Symbols is the per-name information of one document.
type Symbols map[string]SymbolInfo

// Entry maps document URIs to what they contribute for one name.
type Entry map[string]SymbolInfo

// Index maps symbol names to the documents that mention them. It is not
// safe for concurrent use.
type Index struct {
	trie  *trie.Trie[Entry]
	byURI map[string][]string
}

// New creates an empty Index. maxSkips is the fuzzy query skip budget.
func New(maxSkips int) *Index {
	return &Index{
		trie:  trie.New[Entry](trie.WithMaxSkips(maxSkips)),
		byURI: make(map[string][]string),
	}
}

// Update replaces everything uri contributes with symbols.
func (x *Index) Update(uri string, symbols Symbols) {
	x.Remove(uri)
	if len(symbols) == 0 {
		return
	}
	names := make([]string, 0, len(symbols))
	for name, info := range symbols {
		if name == "" || info == (SymbolInfo{}) {
			continue
		}
		e, ok := x.trie.Get(name)
		if !ok {
			e = make(Entry)
			x.trie.Set(name, e)
		}
		e[uri] = info
		names = append(names, name)
	}
	if len(names) > 0 {
		x.byURI[uri] = names
	}
}

// Remove retracts uri's contribution, deleting names nobody mentions any
// more. It reports whether uri had one.
func (x *Index) Remove(uri string) bool {
	names, ok := x.byURI[uri]
	if !ok {
		return false
	}
	delete(x.byURI, uri)
	for _, name := range names {
		e, ok := x.trie.Get(name)
		if !ok {
			continue
		}
		delete(e, uri)
		if len(e) == 0 {
			x.trie.Delete(name)
		}
	}
	return true
}

// Has reports whether uri contributes anything.
func (x *Index) Has(uri string) bool {
	_, ok := x.byURI[uri]
	return ok
}

// Get returns the documents mentioning name. The entry must not be
// modified.
func (x *Index) Get(name string) Entry {
	e, _ := x.trie.Get(name)
	return e
}

// Symbols reconstructs uri's contribution.
func (x *Index) Symbols(uri string) Symbols {
	names := x.byURI[uri]
	out := make(Symbols, len(names))
	for _, name := range names {
		if e, ok := x.trie.Get(name); ok {
			out[name] = e[uri]
		}
	}
	return out
}

// Query runs a fuzzy subsequence query over names.
func (x *Index) Query(pattern string) iter.Seq2[string, Entry] {
	return x.trie.Query(pattern)
}

// Names returns the number of distinct names.
func (x *Index) Names() int {
	return x.trie.Len()
}

// Documents returns the number of documents contributing names.
func (x *Index) Documents() int {
	return len(x.byURI)
}

// URIs lists the contributing documents in sorted order.
func (x *Index) URIs() []string {
	out := make([]string, 0, len(x.byURI))
	for uri := range x.byURI {
		out = append(out, uri)
	}
	slices.Sort(out)
	return out
}
