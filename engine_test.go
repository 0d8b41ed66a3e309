package grove

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/grove/internal/config"
	"github.com/jward/grove/internal/outline"
	"github.com/jward/grove/internal/span"
	"github.com/jward/grove/internal/store"
)

const (
	srcA = "package p\n\nfunc Foo() {}\n"
	srcB = "package p\n\nfunc Bar() {\n\tFoo()\n}\n"

	// x is defined at 3:1, shadowed at 5:2, used at 6:10 (inner) and 8:9
	// (outer).
	srcShadow = "package main\n\nfunc main() {\n\tx := 1\n\tif true {\n\t\tx := 2\n\t\tprintln(x)\n\t}\n\tprintln(x)\n}\n"

	srcPoint = "package p\n\ntype Point struct {\n\tX int\n}\n\nfunc (p Point) Len() int { return p.X }\n"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := New(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, e.Close()) })
	return e
}

// writeFiles creates files under a new temp dir and returns the dir.
func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func indexed(t *testing.T, files map[string]string, opts ...Option) (*Engine, string) {
	t.Helper()
	dir := writeFiles(t, files)
	e := newTestEngine(t, opts...)
	n, err := e.IndexDirectory(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, len(files), n)
	return e, dir
}

func uriOf(dir, name string) string {
	return URIFromPath(filepath.Join(dir, name))
}

func TestDefinitions_AcrossFiles(t *testing.T) {
	e, dir := indexed(t, map[string]string{"a.go": srcA, "b.go": srcB})
	ctx := context.Background()
	a, b := uriOf(dir, "a.go"), uriOf(dir, "b.go")

	defs, err := e.Definitions(ctx, b, span.Pos(3, 2))
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, a, defs[0].URI)
	assert.Equal(t, "Foo", defs[0].Name)
	assert.Equal(t, outline.KindFunction, defs[0].Kind)
	assert.Equal(t, span.New(2, 5, 2, 8), defs[0].Range)

	defs, err = e.Definitions(ctx, a, span.Pos(2, 6))
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, a, defs[0].URI)
	assert.Equal(t, span.New(2, 5, 2, 8), defs[0].Range)
}

func TestDefinitions_NearestBindingWins(t *testing.T) {
	e, dir := indexed(t, map[string]string{"main.go": srcShadow})
	ctx := context.Background()
	uri := uriOf(dir, "main.go")

	defs, err := e.Definitions(ctx, uri, span.Pos(8, 9))
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, span.New(3, 1, 3, 2), defs[0].Range)

	defs, err = e.Definitions(ctx, uri, span.Pos(6, 10))
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, span.New(5, 2, 5, 3), defs[0].Range)
}

func TestHighlights_ExcludeShadowedUsages(t *testing.T) {
	e, dir := indexed(t, map[string]string{"main.go": srcShadow})
	uri := uriOf(dir, "main.go")

	hs, err := e.Highlights(context.Background(), uri, span.Pos(3, 1))
	require.NoError(t, err)
	assert.Equal(t, []Highlight{
		{Range: span.New(3, 1, 3, 2), Kind: HighlightWrite},
		{Range: span.New(8, 9, 8, 10), Kind: HighlightRead},
	}, hs)

	hs, err = e.Highlights(context.Background(), uri, span.Pos(6, 10))
	require.NoError(t, err)
	assert.Equal(t, []Highlight{
		{Range: span.New(5, 2, 5, 3), Kind: HighlightWrite},
		{Range: span.New(6, 10, 6, 11), Kind: HighlightRead},
	}, hs)
}

func TestHighlights_FallBackToIdentifiers(t *testing.T) {
	e, dir := indexed(t, map[string]string{"b.go": "package p\n\nfunc Bar() {\n\tFoo()\n\tFoo()\n}\n"})
	uri := uriOf(dir, "b.go")

	hs, err := e.Highlights(context.Background(), uri, span.Pos(4, 1))
	require.NoError(t, err)
	assert.Equal(t, []Highlight{
		{Range: span.New(3, 1, 3, 4), Kind: HighlightText},
		{Range: span.New(4, 1, 4, 4), Kind: HighlightText},
	}, hs)
}

func TestReferences_LocalBindingStaysLocal(t *testing.T) {
	e, dir := indexed(t, map[string]string{"main.go": srcShadow, "other.go": "package main\n\nvar y = x\n"})
	uri := uriOf(dir, "main.go")

	refs, err := e.References(context.Background(), uri, span.Pos(3, 1), true)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	for _, r := range refs {
		assert.Equal(t, uri, r.URI)
	}
	assert.Equal(t, span.New(3, 1, 3, 2), refs[0].Range)
	assert.Equal(t, span.New(8, 9, 8, 10), refs[1].Range)
}

func TestReferences_ExportedAcrossFiles(t *testing.T) {
	e, dir := indexed(t, map[string]string{"a.go": srcA, "b.go": srcB})
	ctx := context.Background()
	a, b := uriOf(dir, "a.go"), uriOf(dir, "b.go")

	refs, err := e.References(ctx, b, span.Pos(3, 1), true)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, b, refs[0].URI, "the querying document comes first")
	assert.Equal(t, span.New(3, 1, 3, 4), refs[0].Range)
	assert.Equal(t, a, refs[1].URI)
	assert.Equal(t, span.New(2, 5, 2, 8), refs[1].Range)

	refs, err = e.References(ctx, a, span.Pos(2, 5), false)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, b, refs[0].URI)
}

func TestDocumentSymbols_Nested(t *testing.T) {
	e, dir := indexed(t, map[string]string{"point.go": srcPoint})

	syms, err := e.DocumentSymbols(context.Background(), uriOf(dir, "point.go"))
	require.NoError(t, err)
	require.Len(t, syms, 2)

	assert.Equal(t, "Point", syms[0].Name)
	assert.Equal(t, outline.KindStruct, syms[0].Kind)
	assert.Equal(t, span.New(2, 5, 2, 10), syms[0].SelectionRange)
	require.Len(t, syms[0].Children, 1)
	assert.Equal(t, "X", syms[0].Children[0].Name)
	assert.Equal(t, outline.KindField, syms[0].Children[0].Kind)

	assert.Equal(t, "Len", syms[1].Name)
	assert.Equal(t, outline.KindMethod, syms[1].Kind)
}

func TestDocumentSymbols_MissingFile(t *testing.T) {
	e := newTestEngine(t)
	syms, err := e.DocumentSymbols(context.Background(), URIFromPath(filepath.Join(t.TempDir(), "gone.go")))
	require.NoError(t, err)
	assert.Empty(t, syms)
}

func TestWorkspaceSymbols_RankedBySimilarity(t *testing.T) {
	e, _ := indexed(t, map[string]string{
		"a.go": srcA,
		"b.go": srcB,
		"c.go": "package p\n\nfunc FooBar() {}\n",
	})

	locs, err := e.WorkspaceSymbols(context.Background(), "foo")
	require.NoError(t, err)
	require.Len(t, locs, 2)
	assert.Equal(t, "Foo", locs[0].Name)
	assert.Equal(t, "FooBar", locs[1].Name)
}

func TestCompletions_IncludeProjectDefinitions(t *testing.T) {
	e, dir := indexed(t, map[string]string{"a.go": srcA, "b.go": srcB})

	items, err := e.Completions(context.Background(), uriOf(dir, "b.go"), span.Pos(3, 2))
	require.NoError(t, err)
	assert.Contains(t, items, Completion{Label: "Foo", Kind: outline.KindFunction})
	for _, it := range items {
		assert.NotEqual(t, "Bar", it.Label, "prefix F filters Bar out")
	}
}

func TestOpenAndChange_Reindex(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	uri := URIFromPath(filepath.Join(t.TempDir(), "mem.go"))

	e.Open(uri, "", 1, "package p\n\nfunc Alpha() {}\n")
	locs, err := e.WorkspaceSymbols(ctx, "Alpha")
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, uri, locs[0].URI)

	r := span.New(2, 5, 2, 10)
	require.NoError(t, e.Change(uri, 2, []Change{{Range: &r, Text: "Gamma"}}))

	locs, err = e.WorkspaceSymbols(ctx, "Gamma")
	require.NoError(t, err)
	require.Len(t, locs, 1)
	locs, err = e.WorkspaceSymbols(ctx, "Alpha")
	require.NoError(t, err)
	assert.Empty(t, locs)

	assert.GreaterOrEqual(t, e.Stats().Parse.Incremental, 1)
	assert.Error(t, e.Change(URIFromPath("/nowhere/x.go"), 1, nil))
}

func TestFilesChanged(t *testing.T) {
	e, dir := indexed(t, map[string]string{"a.go": srcA, "b.go": srcB})
	ctx := context.Background()
	a := uriOf(dir, "a.go")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.go"), []byte("package p\n\nfunc Baz() {\n\tFoo()\n}\n"), 0o644))
	require.NoError(t, os.Remove(filepath.Join(dir, "b.go")))
	e.FilesChanged([]string{uriOf(dir, "c.go")}, []string{uriOf(dir, "b.go")})

	refs, err := e.References(ctx, a, span.Pos(2, 5), false)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, uriOf(dir, "c.go"), refs[0].URI)
	assert.Equal(t, 2, e.Stats().Index.Documents)
}

func TestSnapshotPersistsAcrossEngines(t *testing.T) {
	dir := writeFiles(t, map[string]string{"a.go": srcA, "b.go": srcB})
	dbPath := filepath.Join(t.TempDir(), "index.db")
	ctx := context.Background()

	first, err := New(ctx, WithDatabase(dbPath))
	require.NoError(t, err)
	_, err = first.IndexDirectory(ctx, dir)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	s, err := store.NewStore(dbPath)
	require.NoError(t, err)
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, s.Close())

	second := newTestEngine(t, WithDatabase(dbPath))
	_, err = second.IndexDirectory(ctx, dir)
	require.NoError(t, err)
	defs, err := second.Definitions(ctx, uriOf(dir, "b.go"), span.Pos(3, 1))
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, uriOf(dir, "a.go"), defs[0].URI)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Index.Window = 0
	_, err := New(context.Background(), WithConfig(cfg))
	assert.Error(t, err)
}

func TestSupportsAndMatcher(t *testing.T) {
	e := newTestEngine(t)
	assert.True(t, e.Supports("main.go"))
	assert.False(t, e.Supports("README.md"))
	assert.Contains(t, e.Languages(), "go")

	dir := writeFiles(t, map[string]string{"a.go": srcA, "node_modules/x.go": srcA, "notes.txt": "x"})
	m := e.Matcher(dir)
	assert.True(t, m.Match("a.go"))
	assert.False(t, m.Match(filepath.Join("node_modules", "x.go")))
	assert.False(t, m.Match("notes.txt"))
}
