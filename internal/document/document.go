// Package document holds immutable text snapshots with byte-based
// offset/position conversion and the incremental change model that feeds
// tree-sitter edits.
package document

import (
	"fmt"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/grove/internal/span"
)

// Document is one version of a text document. It is never mutated; applying
// changes produces a new Document.
type Document struct {
	URI        string
	LanguageID string
	Version    int32

	text       string
	lineStarts []int
}

// New creates a snapshot of text.
func New(uri, languageID string, version int32, text string) *Document {
	return &Document{
		URI:        uri,
		LanguageID: languageID,
		Version:    version,
		text:       text,
		lineStarts: computeLineStarts(text),
	}
}

func computeLineStarts(text string) []int {
	starts := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// Text returns the full content.
func (d *Document) Text() string { return d.text }

// Bytes returns the content as a byte slice for the parser.
func (d *Document) Bytes() []byte { return []byte(d.text) }

// LineCount returns the number of lines; an empty document has one.
func (d *Document) LineCount() int { return len(d.lineStarts) }

// OffsetAt converts a position to a byte offset, clamping out-of-range
// positions to the document bounds.
func (d *Document) OffsetAt(pos span.Position) int {
	if pos.Line < 0 {
		return 0
	}
	if pos.Line >= len(d.lineStarts) {
		return len(d.text)
	}
	start := d.lineStarts[pos.Line]
	end := len(d.text)
	if pos.Line+1 < len(d.lineStarts) {
		end = d.lineStarts[pos.Line+1] - 1
	}
	return min(start+max(pos.Character, 0), end)
}

// PositionAt converts a byte offset to a position.
func (d *Document) PositionAt(offset int) span.Position {
	offset = max(0, min(offset, len(d.text)))
	line := sort.Search(len(d.lineStarts), func(i int) bool {
		return d.lineStarts[i] > offset
	}) - 1
	return span.Pos(line, offset-d.lineStarts[line])
}

// TextIn returns the text covered by r.
func (d *Document) TextIn(r span.Range) string {
	return d.text[d.OffsetAt(r.Start):d.OffsetAt(r.End)]
}

// WordAt returns the identifier-like word touching pos and its range.
func (d *Document) WordAt(pos span.Position) (string, span.Range, bool) {
	off := d.OffsetAt(pos)
	start, end := off, off
	for start > 0 && isWordByte(d.text[start-1]) {
		start--
	}
	for end < len(d.text) && isWordByte(d.text[end]) {
		end++
	}
	if start == end {
		return "", span.Range{}, false
	}
	return d.text[start:end], span.Range{Start: d.PositionAt(start), End: d.PositionAt(end)}, true
}

func isWordByte(b byte) bool {
	return b == '_' || b == '$' || b >= 0x80 ||
		('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z') || ('0' <= b && b <= '9')
}

func (d *Document) String() string {
	return fmt.Sprintf("%s@%d", d.URI, d.Version)
}

// Change is one content change. A nil Range replaces the whole document.
type Change struct {
	Range *span.Range `json:"range,omitempty"`
	Text  string      `json:"text"`
}

// Edit describes one replacement in the coordinates tree-sitter expects.
type Edit struct {
	StartByte  int
	OldEndByte int
	NewEndByte int
	Start      span.Position
	OldEnd     span.Position
	NewEnd     span.Position
}

// Input converts e for sitter.Tree.Edit.
func (e Edit) Input() sitter.EditInput {
	return sitter.EditInput{
		StartIndex:  uint32(e.StartByte),
		OldEndIndex: uint32(e.OldEndByte),
		NewEndIndex: uint32(e.NewEndByte),
		StartPoint:  e.Start.Point(),
		OldEndPoint: e.OldEnd.Point(),
		NewEndPoint: e.NewEnd.Point(),
	}
}

// Apply returns the document produced by applying changes in order, along
// with one Edit per change. Each Edit is expressed against the text as it
// was immediately before that change.
func (d *Document) Apply(version int32, changes []Change) (*Document, []Edit) {
	cur := d
	edits := make([]Edit, 0, len(changes))
	for _, c := range changes {
		start, oldEnd := 0, len(cur.text)
		if c.Range != nil {
			start, oldEnd = cur.OffsetAt(c.Range.Start), cur.OffsetAt(c.Range.End)
			if oldEnd < start {
				start, oldEnd = oldEnd, start
			}
		}
		startPos := cur.PositionAt(start)
		edits = append(edits, Edit{
			StartByte:  start,
			OldEndByte: oldEnd,
			NewEndByte: start + len(c.Text),
			Start:      startPos,
			OldEnd:     cur.PositionAt(oldEnd),
			NewEnd:     advance(startPos, c.Text),
		})
		cur = New(d.URI, d.LanguageID, version, cur.text[:start]+c.Text+cur.text[oldEnd:])
	}
	if cur == d {
		cur = New(d.URI, d.LanguageID, version, d.text)
	}
	return cur, edits
}

// advance returns the position reached after writing text at pos.
func advance(pos span.Position, text string) span.Position {
	n := strings.Count(text, "\n")
	if n == 0 {
		return span.Pos(pos.Line, pos.Character+len(text))
	}
	return span.Pos(pos.Line+n, len(text)-strings.LastIndexByte(text, '\n')-1)
}
