package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/grove/internal/index"
	"github.com/jward/grove/internal/outline"
)

var _ index.Storage = (*Store)(nil)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "nested", "test.db")
	s, err := NewStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrate_TablesExistAndIdempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"symbol_snapshots", "metadata"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
	}
	require.NoError(t, s.Migrate(ctx))
}

func TestSnapshots_InsertReplaceDelete(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, map[string][]byte{
		"file:///a.go": []byte(`["A",1,12]`),
		"file:///b.go": []byte(`["B",0,13]`),
	}))
	require.NoError(t, s.Insert(ctx, map[string][]byte{
		"file:///a.go": []byte(`["A2",1,12]`),
	}))

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{
		"file:///a.go": []byte(`["A2",1,12]`),
		"file:///b.go": []byte(`["B",0,13]`),
	}, all)

	require.NoError(t, s.Delete(ctx, []string{"file:///a.go", "file:///unknown.go"}))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.Insert(ctx, nil))
	require.NoError(t, s.Delete(ctx, nil))
}

func TestSnapshots_DeleteManyChunks(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	entries := make(map[string][]byte)
	var uris []string
	for i := range deleteChunk*2 + 7 {
		uri := fmt.Sprintf("file:///f%d.go", i)
		entries[uri] = []byte("[]")
		uris = append(uris, uri)
	}
	require.NoError(t, s.Insert(ctx, entries))
	require.NoError(t, s.Delete(ctx, uris))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestEnsureQueryHash(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	discarded, err := s.EnsureQueryHash(ctx, "h1")
	require.NoError(t, err)
	assert.False(t, discarded, "first run records the hash")

	require.NoError(t, s.Insert(ctx, map[string][]byte{"file:///a.go": []byte("[]")}))
	discarded, err = s.EnsureQueryHash(ctx, "h1")
	require.NoError(t, err)
	assert.False(t, discarded)

	discarded, err = s.EnsureQueryHash(ctx, "h2")
	require.NoError(t, err)
	assert.True(t, discarded)
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	v, ok, err := s.Meta(ctx, KeyQueryHash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "h2", v)
}

func TestStore_BacksIndexManager(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	analyzer := index.AnalyzerFunc(func(_ context.Context, uri string) (*index.Analysis, error) {
		return &index.Analysis{URI: uri, LanguageID: "go", Definitions: []index.Location{
			{URI: uri, LanguageID: "go", Name: "Foo", Kind: outline.KindFunction},
		}}, nil
	})
	languageOf := func(string) (string, bool) { return "go", true }

	m := index.NewManager(analyzer, languageOf, index.WithStorage(s))
	require.NoError(t, m.InitFiles(ctx, []string{"file:///a.go"}))
	m.Close()

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	symbols, err := index.Decode(all["file:///a.go"])
	require.NoError(t, err)
	assert.Contains(t, symbols, "Foo")

	m2 := index.NewManager(analyzer, languageOf, index.WithStorage(s))
	defer m2.Close()
	require.NoError(t, m2.InitFiles(ctx, []string{"file:///b.go"}))
	m2.Flush()
	require.Eventually(t, func() bool {
		all, err := s.GetAll(ctx)
		if err != nil {
			return false
		}
		_, hasA := all["file:///a.go"]
		_, hasB := all["file:///b.go"]
		return !hasA && hasB
	}, 5*time.Second, 10*time.Millisecond)
}
