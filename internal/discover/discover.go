// Package discover finds the source files of a workspace, honouring
// .gitignore and include/exclude globs.
package discover

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"
)

var skipDirs = map[string]struct{}{
	"__pycache__":   {},
	"node_modules":  {},
	".git":          {},
	".hg":           {},
	".svn":          {},
	".grove":        {},
	"venv":          {},
	".venv":         {},
	".tox":          {},
	".mypy_cache":   {},
	".pytest_cache": {},
}

// Options selects files.
type Options struct {
	// Include and Exclude are doublestar globs over slash-separated paths
	// relative to the root. An empty Include matches everything.
	Include []string
	Exclude []string

	RespectGitignore bool

	// Accept filters by file name, typically on a supported suffix. Nil
	// accepts every file.
	Accept func(path string) bool
}

// Matcher decides whether a workspace-relative path is part of the
// workspace.
type Matcher struct {
	root      string
	include   []string
	exclude   []string
	gitignore *ignore.GitIgnore
	accept    func(string) bool
}

// NewMatcher builds the Matcher for root.
func NewMatcher(root string, opts Options) *Matcher {
	m := &Matcher{
		root:    root,
		include: opts.Include,
		exclude: opts.Exclude,
		accept:  opts.Accept,
	}
	if opts.RespectGitignore {
		m.gitignore = loadGitignore(root)
	}
	return m
}

// Root returns the workspace root.
func (m *Matcher) Root() string {
	return m.root
}

// SkipDir reports whether the directory at rel is pruned.
func (m *Matcher) SkipDir(rel string) bool {
	if rel == "." || rel == "" {
		return false
	}
	name := filepath.Base(rel)
	if _, skip := skipDirs[name]; skip {
		return true
	}
	slash := filepath.ToSlash(rel)
	if m.gitignore != nil && m.gitignore.MatchesPath(slash+"/") {
		return true
	}
	return matchAny(m.exclude, slash) || matchAny(m.exclude, slash+"/")
}

// Match reports whether the file at rel is part of the workspace.
func (m *Matcher) Match(rel string) bool {
	for dir := filepath.Dir(rel); dir != "." && dir != string(filepath.Separator); dir = filepath.Dir(dir) {
		if m.SkipDir(dir) {
			return false
		}
	}
	return m.matchFile(rel)
}

// Rel converts an absolute path under the root to a root-relative one.
func (m *Matcher) Rel(path string) (string, bool) {
	rel, err := filepath.Rel(m.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

func matchAny(patterns []string, path string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, path); ok {
			return true
		}
	}
	return false
}

// Files walks root and returns the matching files as absolute paths in
// sorted order. Unreadable entries are skipped.
func Files(ctx context.Context, root string, opts Options) ([]string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	m := NewMatcher(abs, opts)

	var out []string
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, ok := m.Rel(path)
		if !ok {
			return nil
		}
		if d.IsDir() {
			if m.SkipDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}
		if m.matchFile(rel) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(out)
	return out, nil
}

// matchFile is Match without the ancestor checks the walk already did.
func (m *Matcher) matchFile(rel string) bool {
	slash := filepath.ToSlash(rel)
	if len(m.include) > 0 && !matchAny(m.include, slash) {
		return false
	}
	if matchAny(m.exclude, slash) {
		return false
	}
	if m.gitignore != nil && m.gitignore.MatchesPath(slash) {
		return false
	}
	return m.accept == nil || m.accept(rel)
}

func loadGitignore(root string) *ignore.GitIgnore {
	gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	return gi
}
