// Package outline turns "outline" and "references" query captures into
// document symbols and symbol usages.
//
// Outline captures come in pairs per match: definition.<kind> on the whole
// declaration and definition.<kind>.name on its name.
package outline

import (
	"slices"
	"strings"

	"github.com/jward/grove/internal/languages"
	"github.com/jward/grove/internal/span"
)

// Symbol is one definition in a document's outline.
type Symbol struct {
	Name           string     `json:"name"`
	Kind           Kind       `json:"kind"`
	Range          span.Range `json:"range"`
	SelectionRange span.Range `json:"selectionRange"`
	Children       []*Symbol  `json:"children,omitempty"`
}

// Build assembles the symbol tree from outline captures. Symbols nest by
// range containment; declarations with identical ranges are siblings.
func Build(captures []languages.Capture) []*Symbol {
	type partial struct {
		sym      Symbol
		hasRange bool
		hasName  bool
	}
	var order []int
	byMatch := make(map[int]*partial)
	for _, c := range captures {
		rest, ok := strings.CutPrefix(c.Name, "definition.")
		if !ok {
			continue
		}
		p := byMatch[c.Match]
		if p == nil {
			p = &partial{}
			byMatch[c.Match] = p
			order = append(order, c.Match)
		}
		if kind, ok := strings.CutSuffix(rest, ".name"); ok {
			p.sym.Name = c.Text
			p.sym.SelectionRange = c.Range
			p.hasName = true
			if !p.hasRange {
				p.sym.Kind = KindOf(kind)
			}
			continue
		}
		p.sym.Range = c.Range
		p.sym.Kind = KindOf(rest)
		p.hasRange = true
	}

	symbols := make([]*Symbol, 0, len(order))
	for _, m := range order {
		p := byMatch[m]
		if !p.hasName {
			continue
		}
		if !p.hasRange {
			p.sym.Range = p.sym.SelectionRange
		}
		sym := p.sym
		symbols = append(symbols, &sym)
	}
	slices.SortStableFunc(symbols, func(a, b *Symbol) int {
		return a.Range.Compare(b.Range)
	})

	var roots []*Symbol
	var stack []*Symbol
	for _, s := range symbols {
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			if top.Range != s.Range && top.Range.ContainsRange(s.Range) {
				break
			}
			stack = stack[:len(stack)-1]
		}
		if len(stack) == 0 {
			roots = append(roots, s)
		} else {
			parent := stack[len(stack)-1]
			parent.Children = append(parent.Children, s)
		}
		stack = append(stack, s)
	}
	return roots
}

// FlatSymbol is a symbol with the name of its enclosing symbol.
type FlatSymbol struct {
	Name           string     `json:"name"`
	Kind           Kind       `json:"kind"`
	Range          span.Range `json:"range"`
	SelectionRange span.Range `json:"selectionRange"`
	Container      string     `json:"container,omitempty"`
}

// Flatten lists symbols in pre-order.
func Flatten(symbols []*Symbol) []FlatSymbol {
	var out []FlatSymbol
	var walk func(list []*Symbol, container string)
	walk = func(list []*Symbol, container string) {
		for _, s := range list {
			out = append(out, FlatSymbol{
				Name:           s.Name,
				Kind:           s.Kind,
				Range:          s.Range,
				SelectionRange: s.SelectionRange,
				Container:      container,
			})
			walk(s.Children, s.Name)
		}
	}
	walk(symbols, "")
	return out
}

// Usage is one reference to a name found by a references query.
type Usage struct {
	Name  string
	Kind  Kind
	Range span.Range
}

// Usages extracts usage.<kind> captures. A bare "usage" or an unknown kind
// counts as a variable. Captures on the same node collapse to the first one
// and ranges listed in exclude (definition names) are skipped.
func Usages(captures []languages.Capture, exclude []span.Range) []Usage {
	skip := make(map[span.Range]bool, len(exclude))
	for _, r := range exclude {
		skip[r] = true
	}
	var out []Usage
	for _, c := range captures {
		if c.Name != "usage" && !strings.HasPrefix(c.Name, "usage.") {
			continue
		}
		if skip[c.Range] {
			continue
		}
		skip[c.Range] = true
		kind := KindVariable
		if rest, ok := strings.CutPrefix(c.Name, "usage."); ok {
			kind = KindOf(rest)
		}
		out = append(out, Usage{Name: c.Text, Kind: kind, Range: c.Range})
	}
	return out
}
