package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jward/grove"
	"github.com/jward/grove/internal/config"
)

var (
	flagLimit              int
	flagIncludeDeclaration bool
)

var outlineCmd = &cobra.Command{
	Use:   "outline <file>",
	Short: "List the symbols defined in a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFile(cmd, "outline", args[0], func(ctx context.Context, e *grove.Engine, uri string) (any, error) {
			syms, err := e.DocumentSymbols(ctx, uri)
			if err != nil {
				return nil, err
			}
			return toCLISymbols(syms), nil
		})
	},
}

var symbolsCmd = &cobra.Command{
	Use:   "symbols <query>",
	Short: "Fuzzy-search symbol definitions across the workspace",
	Args:  cobra.ExactArgs(1),
	RunE:  runSymbols,
}

var definitionCmd = &cobra.Command{
	Use:   "definition <file> <line> <col>",
	Short: "Find the definition of the symbol at a position",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPosition(cmd, "definition", args, func(ctx context.Context, e *grove.Engine, uri string, pos grove.Position) (any, error) {
			locs, err := e.Definitions(ctx, uri, pos)
			if err != nil {
				return nil, err
			}
			return toCLILocations(locs), nil
		})
	},
}

var referencesCmd = &cobra.Command{
	Use:   "references <file> <line> <col>",
	Short: "Find references to the symbol at a position",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPosition(cmd, "references", args, func(ctx context.Context, e *grove.Engine, uri string, pos grove.Position) (any, error) {
			locs, err := e.References(ctx, uri, pos, flagIncludeDeclaration)
			if err != nil {
				return nil, err
			}
			return toCLILocations(locs), nil
		})
	},
}

var highlightsCmd = &cobra.Command{
	Use:   "highlights <file> <line> <col>",
	Short: "Mark the occurrences of the symbol at a position",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPosition(cmd, "highlights", args, func(ctx context.Context, e *grove.Engine, uri string, pos grove.Position) (any, error) {
			hs, err := e.Highlights(ctx, uri, pos)
			if err != nil {
				return nil, err
			}
			return toCLIHighlights(hs), nil
		})
	},
}

var completeCmd = &cobra.Command{
	Use:   "complete <file> <line> <col>",
	Short: "Propose completions at a position",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPosition(cmd, "complete", args, func(ctx context.Context, e *grove.Engine, uri string, pos grove.Position) (any, error) {
			items, err := e.Completions(ctx, uri, pos)
			if err != nil {
				return nil, err
			}
			return toCLICompletions(items), nil
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Report index and parse statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, _, err := openWorkspace(ctx)
		if err != nil {
			return outputError("stats", err)
		}
		defer e.Close()
		return outputResult(CLIResult{Command: "stats", Results: e.Stats()})
	},
}

func init() {
	symbolsCmd.Flags().IntVar(&flagLimit, "limit", 50, "maximum number of results (0 for all)")
	referencesCmd.Flags().BoolVar(&flagIncludeDeclaration, "include-declaration", false, "include the definitions")
}

func runSymbols(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, _, err := openWorkspace(ctx)
	if err != nil {
		return outputError("symbols", err)
	}
	defer e.Close()

	locs, err := e.WorkspaceSymbols(ctx, args[0])
	if err != nil {
		return outputError("symbols", err)
	}
	total := len(locs)
	if flagLimit > 0 && len(locs) > flagLimit {
		locs = locs[:flagLimit]
	}
	return outputResult(CLIResult{Command: "symbols", Results: toCLILocations(locs), TotalCount: &total})
}

// --- Helpers ---

// openWorkspace creates an Engine for the repository containing the
// current directory and indexes it, seeding from the snapshot.
func openWorkspace(ctx context.Context) (*grove.Engine, string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, "", fmt.Errorf("getting cwd: %w", err)
	}
	repoRoot := findRepoRoot(cwd)
	cfg, err := config.Load(repoRoot)
	if err != nil {
		return nil, "", err
	}
	e, err := newEngine(ctx, cfg, resolveDBPath(repoRoot, cfg))
	if err != nil {
		return nil, "", err
	}
	if _, err := e.IndexDirectory(ctx, repoRoot); err != nil {
		e.Close()
		return nil, "", fmt.Errorf("indexing: %w", err)
	}
	return e, repoRoot, nil
}

type fileQuery func(ctx context.Context, e *grove.Engine, uri string) (any, error)

func withFile(cmd *cobra.Command, command, file string, run fileQuery) error {
	ctx := cmd.Context()
	path, err := resolveFilePath(file)
	if err != nil {
		return outputError(command, err)
	}
	if _, err := os.Stat(path); err != nil {
		return outputError(command, fmt.Errorf("file not found: %s", path))
	}
	e, _, err := openWorkspace(ctx)
	if err != nil {
		return outputError(command, err)
	}
	defer e.Close()
	if !e.Supports(path) {
		return outputError(command, fmt.Errorf("unsupported file type: %s", path))
	}

	results, err := run(ctx, e, grove.URIFromPath(path))
	if err != nil {
		return outputError(command, err)
	}
	return outputResult(CLIResult{Command: command, Results: results})
}

type positionQuery func(ctx context.Context, e *grove.Engine, uri string, pos grove.Position) (any, error)

func withPosition(cmd *cobra.Command, command string, args []string, run positionQuery) error {
	line, err := parseIntArg(args[1], "line")
	if err != nil {
		return outputError(command, err)
	}
	col, err := parseIntArg(args[2], "col")
	if err != nil {
		return outputError(command, err)
	}
	pos := grove.Position{Line: line, Character: col}
	return withFile(cmd, command, args[0], func(ctx context.Context, e *grove.Engine, uri string) (any, error) {
		return run(ctx, e, uri, pos)
	})
}

// resolveFilePath converts a file argument to an absolute path.
func resolveFilePath(file string) (string, error) {
	if filepath.IsAbs(file) {
		return file, nil
	}
	abs, err := filepath.Abs(file)
	if err != nil {
		return "", fmt.Errorf("resolving file path %q: %w", file, err)
	}
	return abs, nil
}

// parseIntArg parses a positional argument as an integer with a clear error.
func parseIntArg(value, name string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: must be a non-negative integer", name, value)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid %s %q: must be non-negative", name, value)
	}
	return n, nil
}

// outputResult marshals a CLIResult to stdout in the selected format.
func outputResult(result CLIResult) error {
	if flagFormat == "text" {
		return outputResultText(os.Stdout, result)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In JSON mode the error is written to stdout as a
// CLIResult envelope. In text mode it goes to stderr.
func outputError(command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return err
	}
	result := CLIResult{
		Command: command,
		Error:   err.Error(),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
	return err
}
