package main

import (
	"github.com/jward/grove"
)

// CLIResult is the top-level JSON envelope for all query commands.
type CLIResult struct {
	Command    string `json:"command"`
	Results    any    `json:"results"`
	TotalCount *int   `json:"total_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CLILocation is a JSON-friendly definition or reference location.
type CLILocation struct {
	File      string `json:"file"`
	Name      string `json:"name,omitempty"`
	Kind      string `json:"kind,omitempty"`
	StartLine int    `json:"start_line"`
	StartCol  int    `json:"start_col"`
	EndLine   int    `json:"end_line"`
	EndCol    int    `json:"end_col"`
}

// CLISymbol is a JSON-friendly outline entry.
type CLISymbol struct {
	Name      string      `json:"name"`
	Kind      string      `json:"kind"`
	StartLine int         `json:"start_line"`
	StartCol  int         `json:"start_col"`
	EndLine   int         `json:"end_line"`
	EndCol    int         `json:"end_col"`
	Children  []CLISymbol `json:"children,omitempty"`
}

// CLIHighlight is a JSON-friendly document highlight.
type CLIHighlight struct {
	Kind      string `json:"kind"`
	StartLine int    `json:"start_line"`
	StartCol  int    `json:"start_col"`
	EndLine   int    `json:"end_line"`
	EndCol    int    `json:"end_col"`
}

// CLICompletion is a JSON-friendly completion candidate.
type CLICompletion struct {
	Label string `json:"label"`
	Kind  string `json:"kind,omitempty"`
}

func toCLILocations(locs []grove.Location) []CLILocation {
	out := make([]CLILocation, 0, len(locs))
	for _, l := range locs {
		file, err := grove.PathFromURI(l.URI)
		if err != nil {
			file = l.URI
		}
		out = append(out, CLILocation{
			File:      file,
			Name:      l.Name,
			Kind:      l.Kind.String(),
			StartLine: l.Range.Start.Line,
			StartCol:  l.Range.Start.Character,
			EndLine:   l.Range.End.Line,
			EndCol:    l.Range.End.Character,
		})
	}
	return out
}

func toCLISymbols(syms []*grove.Symbol) []CLISymbol {
	out := make([]CLISymbol, 0, len(syms))
	for _, s := range syms {
		out = append(out, CLISymbol{
			Name:      s.Name,
			Kind:      s.Kind.String(),
			StartLine: s.SelectionRange.Start.Line,
			StartCol:  s.SelectionRange.Start.Character,
			EndLine:   s.Range.End.Line,
			EndCol:    s.Range.End.Character,
			Children:  toCLISymbols(s.Children),
		})
	}
	return out
}

func toCLIHighlights(hs []grove.Highlight) []CLIHighlight {
	out := make([]CLIHighlight, 0, len(hs))
	for _, h := range hs {
		out = append(out, CLIHighlight{
			Kind:      h.Kind.String(),
			StartLine: h.Range.Start.Line,
			StartCol:  h.Range.Start.Character,
			EndLine:   h.Range.End.Line,
			EndCol:    h.Range.End.Character,
		})
	}
	return out
}

func toCLICompletions(items []grove.Completion) []CLICompletion {
	out := make([]CLICompletion, 0, len(items))
	for _, c := range items {
		kind := ""
		if c.Kind != 0 {
			kind = c.Kind.String()
		}
		out = append(out, CLICompletion{Label: c.Label, Kind: kind})
	}
	return out
}
