package runtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/risor-io/risor/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/grove/queries"
)

const inlineModule = "outline := `(function_declaration) @definition.function`\n" +
	"m := {\n" +
	"\t\"language\": \"go\",\n" +
	"\t\"suffixes\": [\"go\"],\n" +
	"\t\"queries\": {\n" +
	"\t\t\"outline\": outline,\n" +
	"\t\t\"identifiers\": pattern(\"(%s) @identifier\", [\"identifier\", \"type_identifier\"])\n" +
	"\t}\n" +
	"}\n" +
	"m\n"

func TestEvalModule(t *testing.T) {
	t.Parallel()
	rt := NewRuntime("")

	mod, err := rt.EvalModule(context.Background(), "inline", inlineModule)
	require.NoError(t, err)
	assert.Equal(t, "go", mod.Language)
	assert.Equal(t, []string{"go"}, mod.Suffixes)
	assert.Equal(t, "(function_declaration) @definition.function", mod.Queries["outline"])
	assert.Equal(t, "(identifier) @identifier\n(type_identifier) @identifier", mod.Queries["identifiers"])
}

func TestEvalModule_Rejects(t *testing.T) {
	t.Parallel()
	rt := NewRuntime("")
	ctx := context.Background()

	tests := []struct {
		name string
		src  string
	}{
		{"not a map", `42`},
		{"no queries", `m := {"language": "go"}
m`},
		{"query not a string", `m := {"queries": {"outline": 1}}
m`},
		{"suffix not a string", `m := {"suffixes": [1], "queries": {}}
m`},
		{"syntax error", `m := {`},
		{"pattern without placeholder", `pattern("x", ["a"])`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rt.EvalModule(ctx, tt.name, tt.src)
			assert.Error(t, err)
		})
	}
}

func TestRunSource_ExtraGlobals(t *testing.T) {
	t.Parallel()
	rt := NewRuntime("")

	result, err := rt.RunSource(context.Background(), `prefix + "_suffix"`, map[string]any{
		"prefix": object.NewString("value"),
	})
	require.NoError(t, err)
	s, ok := result.(*object.String)
	require.True(t, ok)
	assert.Equal(t, "value_suffix", s.Value())
}

func TestLoadModule_FromFS(t *testing.T) {
	t.Parallel()
	fsys := fstest.MapFS{
		"go.risor":     &fstest.MapFile{Data: []byte(inlineModule)},
		"README.md":    &fstest.MapFile{Data: []byte("not a module")},
		"python.risor": &fstest.MapFile{Data: []byte(`m := {"language": "ruby", "queries": {}}` + "\nm")},
	}
	rt := NewRuntime("", WithRuntimeFS(fsys))
	ctx := context.Background()

	langs, err := rt.Modules()
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "python"}, langs)

	mod, err := rt.LoadModule(ctx, "go")
	require.NoError(t, err)
	assert.Contains(t, mod.Queries, "outline")

	_, err = rt.LoadModule(ctx, "python")
	assert.ErrorContains(t, err, `declares language "ruby"`)

	_, err = rt.LoadModule(ctx, "rust")
	assert.Error(t, err)
}

func TestLoadModule_FromDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := `m := {"queries": {"outline": "(identifier) @definition.variable"}}` + "\nm"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.risor"), []byte(src), 0o644))

	rt := NewRuntime(dir)
	mod, err := rt.LoadModule(context.Background(), "c")
	require.NoError(t, err)
	assert.Equal(t, "c", mod.Language, "language defaults to the module name")
	assert.Empty(t, mod.Suffixes)
}

func TestBuiltinModules(t *testing.T) {
	t.Parallel()
	rt := NewRuntime("", WithRuntimeFS(queries.FS))
	ctx := context.Background()

	langs, err := rt.Modules()
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "go", "java", "javascript", "python", "rust", "typescript"}, langs)

	for _, lang := range langs {
		mod, err := rt.LoadModule(ctx, lang)
		require.NoError(t, err, lang)
		assert.NotEmpty(t, mod.Suffixes, lang)
		for _, qt := range []string{"outline", "locals", "references", "identifiers"} {
			assert.NotEmpty(t, mod.Queries[qt], "%s/%s", lang, qt)
		}
	}
}
