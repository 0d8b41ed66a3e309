package trees

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/grove/internal/document"
	"github.com/jward/grove/internal/span"
)

type staticGrammars map[string]*sitter.Language

func (g staticGrammars) Grammar(id string) (*sitter.Language, bool) {
	l, ok := g[id]
	return l, ok
}

func newCache(opts ...Option) *Cache {
	return New(staticGrammars{"go": golang.GetLanguage()}, opts...)
}

const src = `package main

func main() {
	x := 1
	println(x)
}
`

// shape renders a tree's node structure for comparison.
func shape(t *testing.T, c *Cache, doc *document.Document) string {
	t.Helper()
	var out string
	require.NoError(t, c.Use(context.Background(), doc, func(tree *sitter.Tree) error {
		out = tree.RootNode().String()
		return nil
	}))
	return out
}

func fullParse(t *testing.T, text string) string {
	t.Helper()
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(golang.GetLanguage())
	tree, err := parser.ParseCtx(context.Background(), nil, []byte(text))
	require.NoError(t, err)
	defer tree.Close()
	return tree.RootNode().String()
}

func TestUse_SameVersionReusesTree(t *testing.T) {
	t.Parallel()
	c := newCache()
	defer c.Close()
	doc := document.New("file:///a.go", "go", 1, src)
	ctx := context.Background()

	var first, second *sitter.Tree
	require.NoError(t, c.Use(ctx, doc, func(tree *sitter.Tree) error { first = tree; return nil }))
	require.NoError(t, c.Use(ctx, doc, func(tree *sitter.Tree) error { second = tree; return nil }))

	assert.Same(t, first, second)
	assert.Equal(t, Stats{Full: 1}, c.Stats())
	assert.Equal(t, fullParse(t, src), shape(t, c, doc))
}

func TestUse_IncrementalMatchesFullParse(t *testing.T) {
	t.Parallel()
	c := newCache()
	defer c.Close()
	v1 := document.New("file:///a.go", "go", 1, src)
	shape(t, c, v1)

	r1 := span.New(3, 1, 3, 2)
	r2 := span.New(4, 9, 4, 10)
	v2, edits := v1.Apply(2, []document.Change{
		{Range: &r1, Text: "value"},
		{Range: &r2, Text: "value"},
	})
	c.Edit(document.ChangeEvent{URI: v2.URI, Version: v2.Version, Edits: edits})

	r3 := span.New(4, 15, 4, 15)
	v3, edits := v2.Apply(3, []document.Change{{Range: &r3, Text: "\n\tprintln(value + 2)"}})
	c.Edit(document.ChangeEvent{URI: v3.URI, Version: v3.Version, Edits: edits})

	assert.Equal(t, fullParse(t, v3.Text()), shape(t, c, v3))
	assert.Equal(t, Stats{Full: 1, Incremental: 1}, c.Stats())
}

func TestUse_VersionChangeWithoutEditsReparsesFully(t *testing.T) {
	t.Parallel()
	c := newCache()
	defer c.Close()

	shape(t, c, document.New("file:///a.go", "go", 1, src))
	changed := "package main\n\nvar y = 2\n"
	assert.Equal(t, fullParse(t, changed), shape(t, c, document.New("file:///a.go", "go", 2, changed)))
	assert.Equal(t, Stats{Full: 2}, c.Stats())
}

func TestEdit_DroppedWithoutEntry(t *testing.T) {
	t.Parallel()
	c := newCache()
	defer c.Close()

	c.Edit(document.ChangeEvent{URI: "file:///a.go", Version: 2, Edits: []document.Edit{{NewEndByte: 1}}})
	assert.Equal(t, 0, c.Len())

	doc := document.New("file:///a.go", "go", 2, src)
	assert.Equal(t, fullParse(t, src), shape(t, c, doc))
	assert.Equal(t, Stats{Full: 1}, c.Stats())
}

func TestUse_UnknownLanguage(t *testing.T) {
	t.Parallel()
	c := newCache()
	defer c.Close()

	called := false
	err := c.Use(context.Background(), document.New("file:///a.cob", "cobol", 1, "IDENTIFICATION DIVISION."), func(*sitter.Tree) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, called)
}

func TestUse_PropagatesCallbackError(t *testing.T) {
	t.Parallel()
	c := newCache()
	defer c.Close()

	boom := errors.New("boom")
	err := c.Use(context.Background(), document.New("file:///a.go", "go", 1, src), func(*sitter.Tree) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, c.Len(), "the tree stays cached")
}

func TestLRUEvictionAndDelete(t *testing.T) {
	t.Parallel()
	c := newCache(WithSize(2))
	defer c.Close()

	for _, uri := range []string{"file:///a.go", "file:///b.go", "file:///c.go"} {
		shape(t, c, document.New(uri, "go", 1, src))
	}
	assert.Equal(t, 2, c.Len())

	c.Delete("file:///c.go")
	assert.Equal(t, 1, c.Len())

	shape(t, c, document.New("file:///b.go", "go", 1, src))
	assert.Equal(t, 3, c.Stats().Full, "b.go was still cached")

	c.Close()
	assert.Equal(t, 0, c.Len())
}

// largeSource is big enough that parsing it outlives an expired deadline.
func largeSource() string {
	return "package main\n\n" + strings.Repeat("func f() {\n\tx := []int{1, 2, 3}\n\tfor i := range x {\n\t\tprintln(i)\n\t}\n}\n\n", 40_000)
}

func TestUse_TimeoutIsUnavailable(t *testing.T) {
	t.Parallel()
	c := newCache(WithTimeout(time.Nanosecond))
	defer c.Close()

	called := false
	err := c.Use(context.Background(), document.New("file:///big.go", "go", 1, largeSource()), func(*sitter.Tree) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrUnavailable)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, called)
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, Stats{Failed: 1}, c.Stats())
}

func TestUse_FailedReparseEvictsEntry(t *testing.T) {
	t.Parallel()
	c := newCache()
	defer c.Close()

	shape(t, c, document.New("file:///a.go", "go", 1, src))
	require.Equal(t, 1, c.Len())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Use(ctx, document.New("file:///a.go", "go", 2, largeSource()), func(*sitter.Tree) error { return nil })
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 0, c.Len(), "the stale tree is released")
	assert.Equal(t, Stats{Full: 1, Failed: 1}, c.Stats())

	shape(t, c, document.New("file:///a.go", "go", 3, src))
	assert.Equal(t, Stats{Full: 2, Failed: 1}, c.Stats(), "the next version parses again")
}
