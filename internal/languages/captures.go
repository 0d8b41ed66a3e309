package languages

import (
	"cmp"
	"slices"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/grove/internal/span"
)

// Capture is one query capture, detached from the syntax tree so it stays
// valid after the tree is released.
type Capture struct {
	// Match numbers the query match the capture belongs to; captures of
	// one match share it.
	Match     int
	Name      string
	Text      string
	NodeType  string
	Range     span.Range
	StartByte int
	EndByte   int
}

// Captures runs the langID query of type qt against root and returns the
// captures in source order, outer nodes before the nodes they contain. An
// unknown language or a missing or broken query yields no captures.
func (r *Registry) Captures(root *sitter.Node, src []byte, langID string, qt QueryType) []Capture {
	q := r.query(langID, qt)
	if q == nil || root == nil {
		return nil
	}

	cursor := sitter.NewQueryCursor()
	defer cursor.Close()
	cursor.Exec(q, root)

	var out []Capture
	for seq := 0; ; seq++ {
		match, ok := cursor.NextMatch()
		if !ok {
			break
		}
		match = cursor.FilterPredicates(match, src)
		for _, c := range match.Captures {
			out = append(out, Capture{
				Match:     seq,
				Name:      q.CaptureNameForId(c.Index),
				Text:      c.Node.Content(src),
				NodeType:  c.Node.Type(),
				Range:     span.FromNode(c.Node),
				StartByte: int(c.Node.StartByte()),
				EndByte:   int(c.Node.EndByte()),
			})
		}
	}
	slices.SortStableFunc(out, func(a, b Capture) int {
		if c := cmp.Compare(a.StartByte, b.StartByte); c != 0 {
			return c
		}
		return cmp.Compare(b.EndByte, a.EndByte)
	})
	return out
}
