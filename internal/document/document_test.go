package document

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/grove/internal/span"
)

func rangePtr(r span.Range) *span.Range { return &r }

func TestOffsetPositionRoundTrip(t *testing.T) {
	t.Parallel()
	d := New("file:///a.go", "go", 1, "package a\n\nfunc Foo() {}\n")

	assert.Equal(t, 4, d.LineCount())
	for off := 0; off <= len(d.Text()); off++ {
		assert.Equal(t, off, d.OffsetAt(d.PositionAt(off)), "offset %d", off)
	}
	assert.Equal(t, span.Pos(2, 5), d.PositionAt(16))
	assert.Equal(t, 16, d.OffsetAt(span.Pos(2, 5)))
}

func TestOffsetAt_Clamps(t *testing.T) {
	t.Parallel()
	d := New("file:///a.txt", "go", 1, "ab\ncd")

	assert.Equal(t, 2, d.OffsetAt(span.Pos(0, 99)), "column past end of line stops at newline")
	assert.Equal(t, 5, d.OffsetAt(span.Pos(9, 0)))
	assert.Equal(t, 0, d.OffsetAt(span.Pos(-1, 3)))
}

func TestApply_IncrementalChanges(t *testing.T) {
	t.Parallel()
	d := New("file:///a.go", "go", 1, "hello\nworld\n")

	next, edits := d.Apply(2, []Change{
		{Range: rangePtr(span.New(1, 0, 1, 5)), Text: "there"},
		{Range: rangePtr(span.New(0, 5, 0, 5)), Text: ",\nbig"},
	})

	assert.Equal(t, "hello,\nbig\nthere\n", next.Text())
	assert.Equal(t, int32(2), next.Version)
	assert.Equal(t, "hello\nworld\n", d.Text(), "original snapshot is untouched")

	require.Len(t, edits, 2)
	assert.Equal(t, Edit{
		StartByte: 6, OldEndByte: 11, NewEndByte: 11,
		Start: span.Pos(1, 0), OldEnd: span.Pos(1, 5), NewEnd: span.Pos(1, 5),
	}, edits[0])
	assert.Equal(t, Edit{
		StartByte: 5, OldEndByte: 5, NewEndByte: 10,
		Start: span.Pos(0, 5), OldEnd: span.Pos(0, 5), NewEnd: span.Pos(1, 3),
	}, edits[1])

	in := edits[1].Input()
	assert.Equal(t, uint32(10), in.NewEndIndex)
	assert.Equal(t, uint32(1), in.NewEndPoint.Row)
	assert.Equal(t, uint32(3), in.NewEndPoint.Column)
}

func TestApply_FullReplacement(t *testing.T) {
	t.Parallel()
	d := New("file:///a.go", "go", 1, "one\ntwo")

	next, edits := d.Apply(5, []Change{{Text: "x"}})
	assert.Equal(t, "x", next.Text())
	require.Len(t, edits, 1)
	assert.Equal(t, 0, edits[0].StartByte)
	assert.Equal(t, 7, edits[0].OldEndByte)
	assert.Equal(t, span.Pos(1, 3), edits[0].OldEnd)
	assert.Equal(t, span.Pos(0, 1), edits[0].NewEnd)
}

func TestWordAt(t *testing.T) {
	t.Parallel()
	d := New("file:///a.go", "go", 1, "x := foo_bar(1)")

	w, r, ok := d.WordAt(span.Pos(0, 8))
	require.True(t, ok)
	assert.Equal(t, "foo_bar", w)
	assert.Equal(t, span.New(0, 5, 0, 12), r)

	_, _, ok = d.WordAt(span.Pos(0, 2))
	assert.False(t, ok)
}

func languageByExt(uri string) (string, bool) {
	if filepath.Ext(uri) == ".go" {
		return "go", true
	}
	return "", false
}

func TestStore_OpenChangeNotifies(t *testing.T) {
	t.Parallel()
	s := NewStore(languageByExt)
	var events []ChangeEvent
	s.OnDidChange(func(ev ChangeEvent) { events = append(events, ev) })

	s.Open("file:///a.go", "go", 1, "abc")
	doc, err := s.Change("file:///a.go", 2, []Change{{Range: rangePtr(span.New(0, 1, 0, 2)), Text: "XY"}})
	require.NoError(t, err)
	assert.Equal(t, "aXYc", doc.Text())

	require.Len(t, events, 1)
	assert.Equal(t, int32(2), events[0].Version)
	assert.Len(t, events[0].Edits, 1)

	got, err := s.Retrieve(context.Background(), "file:///a.go")
	require.NoError(t, err)
	assert.Same(t, doc, got)

	_, err = s.Change("file:///missing.go", 1, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_RetrieveFromDisk(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "a.go")
	require.NoError(t, os.WriteFile(path, []byte("package a\n"), 0o644))
	uri := URIFromPath(path)

	s := NewStore(languageByExt, WithFileCacheSize(4))
	ctx := context.Background()

	d1, err := s.Retrieve(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, "go", d1.LanguageID)
	assert.Equal(t, int32(1), d1.Version)

	s.Invalidate(uri)
	d2, err := s.Retrieve(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, int32(1), d2.Version, "unchanged content keeps its version")

	require.NoError(t, os.WriteFile(path, []byte("package b\n"), 0o644))
	s.Invalidate(uri)
	d3, err := s.Retrieve(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, int32(2), d3.Version)
	assert.Equal(t, "package b\n", d3.Text())
}

func TestStore_RetrieveMissing(t *testing.T) {
	t.Parallel()
	s := NewStore(languageByExt)
	ctx := context.Background()

	_, err := s.Retrieve(ctx, URIFromPath(filepath.Join(t.TempDir(), "nope.go")))
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = s.Retrieve(ctx, "file:///x/readme.md")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Retrieve(ctx, "git:/x/a.go")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestURIRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "sub dir", "a.go")
	uri := URIFromPath(path)

	assert.Equal(t, "file", Scheme(uri))
	back, err := PathFromURI(uri)
	require.NoError(t, err)
	assert.Equal(t, path, back)

	assert.Equal(t, "vsls", Scheme("vsls:/x"))
	assert.Equal(t, "", Scheme("/abs/path"))
}
