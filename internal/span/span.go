// Package span holds the (line, column) geometry shared by the parse cache,
// the scope resolver and the symbol index. Columns are whatever the producing
// document uses; grove documents count bytes, matching tree-sitter points.
package span

import (
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
)

// Position is a zero-based line and column.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range is an inclusive start/end pair of positions.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Pos is shorthand for constructing a Position.
func Pos(line, character int) Position {
	return Position{Line: line, Character: character}
}

// New is shorthand for constructing a Range.
func New(startLine, startChar, endLine, endChar int) Range {
	return Range{Start: Pos(startLine, startChar), End: Pos(endLine, endChar)}
}

// FromNode converts a tree-sitter node's points into a Range.
func FromNode(n *sitter.Node) Range {
	s, e := n.StartPoint(), n.EndPoint()
	return New(int(s.Row), int(s.Column), int(e.Row), int(e.Column))
}

// Point converts a Position into a tree-sitter point.
func (p Position) Point() sitter.Point {
	return sitter.Point{Row: uint32(p.Line), Column: uint32(p.Character)}
}

// Before reports whether p is strictly before o.
func (p Position) Before(o Position) bool {
	if p.Line != o.Line {
		return p.Line < o.Line
	}
	return p.Character < o.Character
}

// BeforeOrEqual reports whether p is before or equal to o.
func (p Position) BeforeOrEqual(o Position) bool {
	return !o.Before(p)
}

// Compare orders positions; it returns -1, 0 or 1.
func (p Position) Compare(o Position) int {
	switch {
	case p.Before(o):
		return -1
	case o.Before(p):
		return 1
	}
	return 0
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Character)
}

// Contains reports whether pos lies within r, both ends inclusive.
func (r Range) Contains(pos Position) bool {
	return r.Start.BeforeOrEqual(pos) && pos.BeforeOrEqual(r.End)
}

// ContainsRange reports whether other lies entirely within r.
func (r Range) ContainsRange(other Range) bool {
	return r.Contains(other.Start) && r.Contains(other.End)
}

// IsEmpty reports whether the range covers no characters.
func (r Range) IsEmpty() bool {
	return r.Start == r.End
}

// Compare orders ranges by start position and, for equal starts, puts the
// wider range first so that containers sort ahead of what they contain.
func (r Range) Compare(o Range) int {
	if c := r.Start.Compare(o.Start); c != 0 {
		return c
	}
	return o.End.Compare(r.End)
}

func (r Range) String() string {
	return fmt.Sprintf("%s-%s", r.Start, r.End)
}
