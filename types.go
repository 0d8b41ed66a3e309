package grove

import (
	"github.com/jward/grove/internal/document"
	"github.com/jward/grove/internal/index"
	"github.com/jward/grove/internal/outline"
	"github.com/jward/grove/internal/span"
	"github.com/jward/grove/internal/trees"
)

// Public aliases for the internal types that appear in the Engine API.

type Position = span.Position
type Range = span.Range
type Location = index.Location
type Symbol = outline.Symbol
type SymbolKind = outline.Kind
type Change = document.Change

// HighlightKind follows the LSP DocumentHighlightKind numbering.
type HighlightKind int

const (
	HighlightText  HighlightKind = 1
	HighlightRead  HighlightKind = 2
	HighlightWrite HighlightKind = 3
)

func (k HighlightKind) String() string {
	switch k {
	case HighlightText:
		return "text"
	case HighlightRead:
		return "read"
	case HighlightWrite:
		return "write"
	}
	return "unknown"
}

// Highlight marks one occurrence of the symbol under the cursor.
type Highlight struct {
	Range Range         `json:"range"`
	Kind  HighlightKind `json:"kind"`
}

// Completion is one completion candidate. Kind is zero for plain
// identifiers seen in the document.
type Completion struct {
	Label string     `json:"label"`
	Kind  SymbolKind `json:"kind,omitempty"`
}

// Stats summarizes the engine's state.
type Stats struct {
	Index       index.Stats `json:"index"`
	Parse       trees.Stats `json:"parse"`
	CachedTrees int         `json:"cachedTrees"`
	Languages   []string    `json:"languages"`
}
