// Package grove provides lightweight multi-language code intelligence built
// on tree-sitter queries: document symbols, highlights, go-to-definition,
// find-references, workspace symbols and completions, without a compiler
// front-end per language.
//
// # Pipeline
//
// Every feature starts from declarative per-language queries (see the
// queries directory):
//
//  1. Parse: documents are parsed once per version and reparsed
//     incrementally after edits.
//  2. Resolve locally: a "locals" query yields a lexical scope tree that
//     answers definition and usage questions inside one document.
//  3. Index: "outline" and "references" queries feed a project-wide symbol
//     trie, rebuilt in the background and persisted to SQLite.
//
// Point queries try the scope tree first and fall back to the index.
//
// # Usage
//
//	e, err := grove.New(ctx, grove.WithDatabase(".grove/index.db"))
//	if err != nil { ... }
//	defer e.Close()
//
//	n, err := e.IndexDirectory(ctx, "path/to/project")
//	locs, err := e.Definitions(ctx, uri, grove.Position{Line: 10, Character: 4})
//
// Documents owned by an editor are reported with [Engine.Open],
// [Engine.Change] and [Engine.CloseDocument]; file-system changes with
// [Engine.FilesChanged].
package grove
