// Package scope builds a lexical scope tree from the captures of a "locals"
// query and answers definition/usage questions against it.
//
// Capture names follow a prefix convention:
//
//   - scope, scope.exports, scope.merge open a scope. ".exports" marks an
//     export boundary; ".merge" extends the preceding scope instead of opening
//     a new one (parameter lists and bodies that are syntactic siblings).
//   - local, local.escape define a name. ".escape" attaches the definition one
//     level above its lexical container.
//   - usage, usage.void reference a name. ".void" usages only shape the tree
//     and are dropped once it is built.
//
// Any other capture name is ignored.
//
// The tree is stored as an arena of nodes addressed by index; every node
// records its parent index so lookups can walk in both directions.
package scope

import (
	"fmt"
	"slices"
	"strings"

	"github.com/jward/grove/internal/span"
)

// Kind discriminates the three node variants.
type Kind uint8

const (
	KindScope Kind = iota
	KindDefinition
	KindUsage
)

func (k Kind) String() string {
	switch k {
	case KindScope:
		return "scope"
	case KindDefinition:
		return "def"
	case KindUsage:
		return "use"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Capture is one (name, node) pair produced by a locals query, reduced to the
// node's text and range.
type Capture struct {
	Name  string
	Text  string
	Range span.Range
}

const noParent = -1

type node struct {
	kind     Kind
	name     string
	rng      span.Range
	parent   int
	children []int

	exports bool // scope: export boundary
	escapes bool // definition: attach to the grandparent
	helper  bool // usage: removed after construction
}

// Tree is a built scope tree for one document.
type Tree struct {
	nodes []node
}

// Build constructs the scope tree for a document with lineCount lines from
// its locals captures. The root is a synthetic whole-document scope.
func Build(captures []Capture, lineCount int) *Tree {
	t := &Tree{}
	t.nodes = append(t.nodes, node{
		kind:    KindScope,
		rng:     span.New(0, 0, lineCount, 0),
		parent:  noParent,
		exports: true,
	})

	t.addScopes(captures)
	t.addNames(captures)
	t.link()
	t.dropHelpers()
	return t
}

type opener struct {
	rng     span.Range
	exports bool
	merge   bool
}

func (t *Tree) addScopes(captures []Capture) {
	var openers []opener
	for _, c := range captures {
		if !strings.HasPrefix(c.Name, "scope") {
			continue
		}
		openers = append(openers, opener{
			rng:     c.Range,
			exports: strings.HasSuffix(c.Name, ".exports"),
			merge:   strings.HasSuffix(c.Name, ".merge"),
		})
	}
	// Source order; when one node is captured both ways the merge wins.
	slices.SortStableFunc(openers, func(a, b opener) int {
		if c := a.rng.Compare(b.rng); c != 0 {
			return c
		}
		switch {
		case a.merge && !b.merge:
			return -1
		case b.merge && !a.merge:
			return 1
		}
		return 0
	})

	seen := make(map[span.Range]bool, len(openers))
	last := -1
	for _, o := range openers {
		if seen[o.rng] {
			continue
		}
		seen[o.rng] = true

		if o.merge && last >= 0 {
			prev := &t.nodes[last]
			if prev.rng.End.Before(o.rng.End) {
				prev.rng.End = o.rng.End
			}
			prev.exports = prev.exports || o.exports
			continue
		}
		t.nodes = append(t.nodes, node{kind: KindScope, rng: o.rng, parent: noParent, exports: o.exports})
		last = len(t.nodes) - 1
	}
}

func (t *Tree) addNames(captures []Capture) {
	for _, c := range captures {
		switch {
		case strings.HasPrefix(c.Name, "local"):
			t.nodes = append(t.nodes, node{
				kind:    KindDefinition,
				name:    c.Text,
				rng:     c.Range,
				parent:  noParent,
				escapes: strings.HasSuffix(c.Name, ".escape"),
			})
		case strings.HasPrefix(c.Name, "usage"):
			t.nodes = append(t.nodes, node{
				kind:   KindUsage,
				name:   c.Text,
				rng:    c.Range,
				parent: noParent,
				helper: strings.HasSuffix(c.Name, ".void"),
			})
		}
	}
}

// link inserts every non-root node with a containment walk over a stack of
// open ancestors.
func (t *Tree) link() {
	order := make([]int, 0, len(t.nodes)-1)
	for id := 1; id < len(t.nodes); id++ {
		order = append(order, id)
	}
	slices.SortStableFunc(order, func(a, b int) int {
		na, nb := &t.nodes[a], &t.nodes[b]
		if c := na.rng.Compare(nb.rng); c != 0 {
			return c
		}
		if na.kind != nb.kind {
			return int(na.kind) - int(nb.kind)
		}
		switch {
		case na.helper && !nb.helper:
			return -1
		case nb.helper && !na.helper:
			return 1
		}
		return 0
	})

	const root = 0
	var stack []int
	for _, id := range order {
		for {
			parent := root
			if n := len(stack); n > 0 {
				parent, stack = stack[n-1], stack[:n-1]
			}
			if t.nodes[parent].rng.ContainsRange(t.nodes[id].rng) {
				target := parent
				if cand := &t.nodes[id]; cand.kind == KindDefinition && cand.escapes {
					target = root
					if n := len(stack); n > 0 {
						target = stack[n-1]
					}
				}
				t.appendChild(target, id)
				stack = append(stack, parent, id)
				break
			}
			if parent == root {
				break
			}
		}
	}
}

// appendChild attaches child to parent. Only scopes have children; appending
// to a definition or usage swallows the child.
func (t *Tree) appendChild(parent, child int) {
	switch t.nodes[parent].kind {
	case KindScope:
		t.nodes[parent].children = append(t.nodes[parent].children, child)
		t.nodes[child].parent = parent
	case KindDefinition, KindUsage:
	}
}

func (t *Tree) dropHelpers() {
	for id := range t.nodes {
		n := &t.nodes[id]
		if n.kind != KindScope {
			continue
		}
		n.children = slices.DeleteFunc(n.children, func(c int) bool {
			child := &t.nodes[c]
			if child.kind == KindUsage && child.helper {
				child.parent = noParent
				return true
			}
			return false
		})
	}
}

// Root returns the whole-document scope.
func (t *Tree) Root() Node {
	return Node{tree: t, id: 0}
}

// ScopeAt returns the innermost scope containing pos, or the root.
func (t *Tree) ScopeAt(pos span.Position) Node {
	id := 0
descend:
	for {
		for _, c := range t.nodes[id].children {
			if n := &t.nodes[c]; n.kind == KindScope && n.rng.Contains(pos) {
				id = c
				continue descend
			}
		}
		return Node{tree: t, id: id}
	}
}

// DefinitionOrUsageAt returns the definition or usage covering pos, searching
// from the innermost scope outward.
func (t *Tree) DefinitionOrUsageAt(pos span.Position) (Node, bool) {
	for s := t.ScopeAt(pos).id; s != noParent; s = t.nodes[s].parent {
		for _, c := range t.nodes[s].children {
			if n := &t.nodes[c]; n.kind != KindScope && n.rng.Contains(pos) {
				return Node{tree: t, id: c}, true
			}
		}
	}
	return Node{}, false
}

// Node is a handle to one node of a Tree. The zero Node is invalid.
type Node struct {
	tree *Tree
	id   int
}

func (n Node) get() *node {
	return &n.tree.nodes[n.id]
}

// Valid reports whether n refers to a node.
func (n Node) Valid() bool {
	return n.tree != nil
}

func (n Node) Kind() Kind { return n.get().kind }

func (n Node) Name() string { return n.get().name }

func (n Node) Range() span.Range { return n.get().rng }

// IsExportBoundary reports whether definitions in this scope may be visible
// to other documents.
func (n Node) IsExportBoundary() bool { return n.get().exports }

// Parent returns the enclosing node; the root has none.
func (n Node) Parent() (Node, bool) {
	p := n.get().parent
	if p == noParent {
		return Node{}, false
	}
	return Node{tree: n.tree, id: p}, true
}

// Scope returns n itself when it is a scope, otherwise the scope holding it.
func (n Node) Scope() Node {
	if n.Kind() == KindScope {
		return n
	}
	if p, ok := n.Parent(); ok {
		return p
	}
	return n.tree.Root()
}

// Children returns the direct children in source order.
func (n Node) Children() []Node {
	ids := n.get().children
	out := make([]Node, len(ids))
	for i, id := range ids {
		out[i] = Node{tree: n.tree, id: id}
	}
	return out
}

func (n Node) defines(name string) bool {
	for _, c := range n.get().children {
		if d := &n.tree.nodes[c]; d.kind == KindDefinition && d.name == name {
			return true
		}
	}
	return false
}

// Definitions returns the definitions of name in the nearest scope, starting
// at n's scope and walking outward, that defines it.
func (n Node) Definitions(name string) []Node {
	for s := n.Scope().id; s != noParent; s = n.tree.nodes[s].parent {
		var out []Node
		for _, c := range n.tree.nodes[s].children {
			if d := &n.tree.nodes[c]; d.kind == KindDefinition && d.name == name {
				out = append(out, Node{tree: n.tree, id: c})
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

// Usages returns the usages of name that resolve to the same binding as a
// lookup from n's scope: it climbs to the nearest scope defining name (or
// the root) and collects usages below it, skipping nested scopes that
// redefine name.
func (n Node) Usages(name string) []Node {
	s := n.Scope()
	for !s.defines(name) {
		p, ok := s.Parent()
		if !ok {
			break
		}
		s = p
	}
	var out []Node
	s.collectUsages(name, &out)
	return out
}

func (n Node) collectUsages(name string, out *[]Node) {
	var scopes []Node
	for _, c := range n.Children() {
		switch c.Kind() {
		case KindUsage:
			if c.Name() == name {
				*out = append(*out, c)
			}
		case KindScope:
			scopes = append(scopes, c)
		case KindDefinition:
		}
	}
	for _, c := range scopes {
		if !c.defines(name) {
			c.collectUsages(name, out)
		}
	}
}

// VisibleDefinitions returns the definitions visible from n, nearest scope
// first. Shadowed outer definitions are omitted.
func (n Node) VisibleDefinitions() []Node {
	var out []Node
	shadowed := make(map[string]bool)
	for s := n.Scope().id; s != noParent; s = n.tree.nodes[s].parent {
		local := make(map[string]bool)
		for _, c := range n.tree.nodes[s].children {
			d := &n.tree.nodes[c]
			if d.kind != KindDefinition || shadowed[d.name] {
				continue
			}
			local[d.name] = true
			out = append(out, Node{tree: n.tree, id: c})
		}
		for name := range local {
			shadowed[name] = true
		}
	}
	return out
}

func (n Node) String() string {
	if !n.Valid() {
		return "<nil>"
	}
	d := n.get()
	if d.kind == KindScope {
		return fmt.Sprintf("scope@%s", d.rng)
	}
	return fmt.Sprintf("%s:%s@%s", d.kind, d.name, d.rng)
}

// Dump renders the tree with one line per scope; used when debugging query
// definitions.
func (t *Tree) Dump() string {
	var b strings.Builder
	var walk func(id, depth int)
	walk = func(id, depth int) {
		n := &t.nodes[id]
		indent := strings.Repeat("  ", depth)
		fmt.Fprintf(&b, "%sscope@%s", indent, n.rng)
		var names []string
		for _, c := range n.children {
			if t.nodes[c].kind != KindScope {
				names = append(names, Node{tree: t, id: c}.String())
			}
		}
		if len(names) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(names, ", "))
		}
		b.WriteByte('\n')
		for _, c := range n.children {
			if t.nodes[c].kind == KindScope {
				walk(c, depth+1)
			}
		}
	}
	walk(0, 0)
	return b.String()
}
