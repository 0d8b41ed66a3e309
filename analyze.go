package grove

import (
	"context"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/grove/internal/document"
	"github.com/jward/grove/internal/index"
	"github.com/jward/grove/internal/languages"
	"github.com/jward/grove/internal/outline"
	"github.com/jward/grove/internal/scope"
	"github.com/jward/grove/internal/span"
)

// captures retrieves uri and runs the queries of types qts on its tree.
// The result holds one capture list per query type, in order.
func (e *Engine) captures(ctx context.Context, uri string, qts ...languages.QueryType) (*document.Document, [][]languages.Capture, error) {
	doc, err := e.docs.Retrieve(ctx, uri)
	if err != nil {
		return nil, nil, err
	}
	out := make([][]languages.Capture, len(qts))
	src := doc.Bytes()
	err = e.trees.Use(ctx, doc, func(tree *sitter.Tree) error {
		root := tree.RootNode()
		for i, qt := range qts {
			out[i] = e.registry.Captures(root, src, doc.LanguageID, qt)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return doc, out, nil
}

// analyze extracts the definitions and usages of one document for the
// index. Usages at a definition's name are not counted.
func (e *Engine) analyze(ctx context.Context, uri string) (*index.Analysis, error) {
	doc, caps, err := e.captures(ctx, uri, languages.Outline, languages.References)
	if err != nil {
		return nil, err
	}
	a := &index.Analysis{URI: uri, LanguageID: doc.LanguageID}

	symbols := outline.Flatten(outline.Build(caps[0]))
	names := make([]span.Range, 0, len(symbols))
	for _, s := range symbols {
		names = append(names, s.SelectionRange)
		a.Definitions = append(a.Definitions, index.Location{
			URI:        uri,
			LanguageID: doc.LanguageID,
			Name:       s.Name,
			Kind:       s.Kind,
			Range:      s.SelectionRange,
		})
	}
	for _, u := range outline.Usages(caps[1], names) {
		a.Usages = append(a.Usages, index.Location{
			URI:        uri,
			LanguageID: doc.LanguageID,
			Name:       u.Name,
			Kind:       u.Kind,
			Range:      u.Range,
		})
	}
	return a, nil
}

// locals builds the scope tree of uri.
func (e *Engine) locals(ctx context.Context, uri string) (*document.Document, *scope.Tree, error) {
	doc, caps, err := e.captures(ctx, uri, languages.Locals)
	if err != nil {
		return nil, nil, err
	}
	sc := make([]scope.Capture, len(caps[0]))
	for i, c := range caps[0] {
		sc[i] = scope.Capture{Name: c.Name, Text: c.Text, Range: c.Range}
	}
	return doc, scope.Build(sc, doc.LineCount()), nil
}

// identifierAt returns the identifier under pos, falling back to the word
// around it for languages without an identifiers query.
func (e *Engine) identifierAt(ctx context.Context, uri string, pos span.Position) (string, error) {
	doc, caps, err := e.captures(ctx, uri, languages.Identifiers)
	if err != nil {
		return "", err
	}
	// A position right after an identifier still selects it, unless
	// another one starts there.
	touching := ""
	for _, c := range caps[0] {
		if !c.Range.Contains(pos) {
			continue
		}
		if pos.Before(c.Range.End) {
			return c.Text, nil
		}
		touching = c.Text
	}
	if touching != "" {
		return touching, nil
	}
	word, _, _ := doc.WordAt(pos)
	return word, nil
}
