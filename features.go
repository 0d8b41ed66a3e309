package grove

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/hbollon/go-edlib"

	"github.com/jward/grove/internal/document"
	"github.com/jward/grove/internal/languages"
	"github.com/jward/grove/internal/outline"
	"github.com/jward/grove/internal/scope"
)

const (
	// MaxWorkspaceSymbols caps the result of WorkspaceSymbols.
	MaxWorkspaceSymbols = 20_000

	maxIndexCompletions = 5_000
)

// DocumentSymbols returns the outline of uri: its definitions nested by
// containment.
func (e *Engine) DocumentSymbols(ctx context.Context, uri string) ([]*Symbol, error) {
	_, caps, err := e.captures(ctx, uri, languages.Outline)
	if err != nil {
		if unavailable(err) {
			e.logger.Debug("engine.unavailable", "op", "symbols", "uri", uri, "err", err)
			return nil, nil
		}
		return nil, err
	}
	return outline.Build(caps[0]), nil
}

// Highlights marks the occurrences of the symbol at pos. Local bindings
// give definitions (write) and the usages resolving to them (read);
// otherwise every identifier with the same text is marked.
func (e *Engine) Highlights(ctx context.Context, uri string, pos Position) ([]Highlight, error) {
	_, tree, err := e.locals(ctx, uri)
	if err != nil {
		if unavailable(err) {
			e.logger.Debug("engine.unavailable", "op", "highlights", "uri", uri, "err", err)
			return nil, nil
		}
		return nil, err
	}

	var out []Highlight
	if anchor, ok := tree.DefinitionOrUsageAt(pos); ok {
		if defs := anchor.Definitions(anchor.Name()); len(defs) > 0 {
			for _, d := range defs {
				out = append(out, Highlight{Range: d.Range(), Kind: HighlightWrite})
			}
			for _, u := range anchor.Usages(anchor.Name()) {
				out = append(out, Highlight{Range: u.Range(), Kind: HighlightRead})
			}
			sortHighlights(out)
			return out, nil
		}
	}

	_, caps, err := e.captures(ctx, uri, languages.Identifiers)
	if err != nil {
		return nil, err
	}
	name := ""
	for _, c := range caps[0] {
		if c.Range.Contains(pos) {
			name = c.Text
			break
		}
	}
	if name == "" {
		return nil, nil
	}
	for _, c := range caps[0] {
		if c.Text == name {
			out = append(out, Highlight{Range: c.Range, Kind: HighlightText})
		}
	}
	sortHighlights(out)
	return slices.CompactFunc(out, func(a, b Highlight) bool { return a.Range == b.Range }), nil
}

func sortHighlights(hs []Highlight) {
	slices.SortFunc(hs, func(a, b Highlight) int { return a.Range.Compare(b.Range) })
}

// Definitions resolves the symbol at pos. A binding visible in the local
// scope wins; otherwise the name is looked up across the project.
func (e *Engine) Definitions(ctx context.Context, uri string, pos Position) ([]Location, error) {
	doc, tree, err := e.locals(ctx, uri)
	if err != nil {
		if unavailable(err) {
			e.logger.Debug("engine.unavailable", "op", "definitions", "uri", uri, "err", err)
			return nil, nil
		}
		return nil, err
	}

	var name string
	if anchor, ok := tree.DefinitionOrUsageAt(pos); ok {
		name = anchor.Name()
		if defs := anchor.Definitions(name); len(defs) > 0 {
			return localLocations(doc, defs), nil
		}
	} else {
		if name, err = e.identifierAt(ctx, uri, pos); err != nil {
			return nil, err
		}
	}
	if name == "" {
		return nil, nil
	}
	return e.index.GetDefinitions(ctx, name, uri)
}

// References finds the usages of the symbol at pos. A binding whose scope
// does not export it is searched in its document only; anything else is
// also searched across the project. includeDeclaration adds the
// definitions.
func (e *Engine) References(ctx context.Context, uri string, pos Position, includeDeclaration bool) ([]Location, error) {
	doc, tree, err := e.locals(ctx, uri)
	if err != nil {
		if unavailable(err) {
			e.logger.Debug("engine.unavailable", "op", "references", "uri", uri, "err", err)
			return nil, nil
		}
		return nil, err
	}

	var out []Location
	global := true
	name := ""
	if anchor, ok := tree.DefinitionOrUsageAt(pos); ok {
		name = anchor.Name()
		out = append(out, localLocations(doc, anchor.Usages(name))...)
		for _, d := range anchor.Definitions(name) {
			if includeDeclaration {
				out = append(out, localLocations(doc, []scope.Node{d})...)
			}
			if !d.Scope().IsExportBoundary() {
				global = false
			}
		}
	} else if name, err = e.identifierAt(ctx, uri, pos); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, nil
	}

	if global {
		usages, err := e.index.GetUsages(ctx, name, uri)
		if err != nil {
			return nil, err
		}
		out = append(out, usages...)
		if includeDeclaration {
			defs, err := e.index.GetDefinitions(ctx, name, uri)
			if err != nil {
				return nil, err
			}
			out = append(out, defs...)
		}
	}
	return dedupe(out, uri), nil
}

// localLocations converts scope nodes of doc to Locations. Local bindings
// carry no outline kind and are reported as variables.
func localLocations(doc *document.Document, nodes []scope.Node) []Location {
	out := make([]Location, len(nodes))
	for i, n := range nodes {
		out[i] = Location{
			URI:        doc.URI,
			LanguageID: doc.LanguageID,
			Name:       n.Name(),
			Kind:       outline.KindVariable,
			Range:      n.Range(),
		}
	}
	return out
}

// dedupe drops repeated (URI, range) pairs and orders from's results first.
func dedupe(locs []Location, from string) []Location {
	slices.SortStableFunc(locs, func(a, b Location) int {
		if (a.URI == from) != (b.URI == from) {
			if a.URI == from {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(a.URI, b.URI); c != 0 {
			return c
		}
		return a.Range.Compare(b.Range)
	})
	return slices.CompactFunc(locs, func(a, b Location) bool {
		return a.URI == b.URI && a.Range == b.Range
	})
}

// WorkspaceSymbols returns the project definitions whose names fuzzily
// match query, most similar names first, at most MaxWorkspaceSymbols.
func (e *Engine) WorkspaceSymbols(ctx context.Context, query string) ([]Location, error) {
	locs, err := e.index.Search(ctx, query, MaxWorkspaceSymbols)
	if err != nil {
		return nil, err
	}
	if len(locs) > MaxWorkspaceSymbols {
		locs = locs[:MaxWorkspaceSymbols]
	}
	if query == "" {
		return locs, nil
	}

	q := strings.ToLower(query)
	scores := make(map[string]float32)
	for _, l := range locs {
		if _, ok := scores[l.Name]; ok {
			continue
		}
		s, err := edlib.StringsSimilarity(q, strings.ToLower(l.Name), edlib.JaroWinkler)
		if err != nil {
			s = 0
		}
		scores[l.Name] = s
	}
	slices.SortStableFunc(locs, func(a, b Location) int {
		if c := cmp.Compare(scores[b.Name], scores[a.Name]); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return locs, nil
}

// Completions proposes names for the identifier being typed at pos: local
// bindings visible there, identifiers of the document and project-wide
// definitions, which override plain identifiers.
func (e *Engine) Completions(ctx context.Context, uri string, pos Position) ([]Completion, error) {
	doc, tree, err := e.locals(ctx, uri)
	if err != nil {
		if unavailable(err) {
			e.logger.Debug("engine.unavailable", "op", "completions", "uri", uri, "err", err)
			return nil, nil
		}
		return nil, err
	}
	prefix := ""
	if word, r, ok := doc.WordAt(pos); ok {
		prefix = word[:min(len(word), max(0, pos.Character-r.Start.Character))]
	}
	matches := func(label string) bool {
		return strings.HasPrefix(strings.ToLower(label), strings.ToLower(prefix))
	}

	result := make(map[string]Completion)
	_, caps, err := e.captures(ctx, uri, languages.Identifiers)
	if err != nil && !unavailable(err) {
		return nil, err
	}
	if len(caps) > 0 {
		for _, c := range caps[0] {
			if matches(c.Text) {
				result[c.Text] = Completion{Label: c.Text}
			}
		}
	}
	for _, d := range tree.ScopeAt(pos).VisibleDefinitions() {
		if matches(d.Name()) {
			result[d.Name()] = Completion{Label: d.Name(), Kind: outline.KindVariable}
		}
	}

	if err := e.index.Update(ctx); err != nil {
		return nil, err
	}
	for _, name := range e.index.Complete(prefix, maxIndexCompletions) {
		kind := outline.KindVariable
		if kinds := e.index.DefinitionKinds(name).Kinds(); len(kinds) > 0 {
			kind = kinds[0]
		}
		result[name] = Completion{Label: name, Kind: kind}
	}

	out := make([]Completion, 0, len(result))
	for _, c := range result {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b Completion) int { return cmp.Compare(a.Label, b.Label) })
	return out, nil
}
