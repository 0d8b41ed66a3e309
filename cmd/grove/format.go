package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/jward/grove"
)

// formatLocationsText formats CLILocation results as "file:line:col" lines.
func formatLocationsText(w io.Writer, locs []CLILocation) {
	for _, loc := range locs {
		if loc.Name != "" {
			fmt.Fprintf(w, "%s:%d:%d\t%s\t%s\n", loc.File, loc.StartLine, loc.StartCol, loc.Name, loc.Kind)
			continue
		}
		fmt.Fprintf(w, "%s:%d:%d\n", loc.File, loc.StartLine, loc.StartCol)
	}
}

// formatSymbolsText prints the outline as an indented tree.
func formatSymbolsText(w io.Writer, syms []CLISymbol, depth int) {
	for _, s := range syms {
		fmt.Fprintf(w, "%s%s %s (%d:%d)\n", strings.Repeat("  ", depth), s.Kind, s.Name, s.StartLine, s.StartCol)
		formatSymbolsText(w, s.Children, depth+1)
	}
}

// formatHighlightsText formats CLIHighlight results as aligned columns.
func formatHighlightsText(w io.Writer, hs []CLIHighlight) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tSTART\tEND")
	for _, h := range hs {
		fmt.Fprintf(tw, "%s\t%d:%d\t%d:%d\n", h.Kind, h.StartLine, h.StartCol, h.EndLine, h.EndCol)
	}
	tw.Flush()
}

// formatCompletionsText formats CLICompletion results as aligned columns.
func formatCompletionsText(w io.Writer, items []CLICompletion) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LABEL\tKIND")
	for _, c := range items {
		fmt.Fprintf(tw, "%s\t%s\n", c.Label, c.Kind)
	}
	tw.Flush()
}

// formatStatsText formats engine statistics as readable text.
func formatStatsText(w io.Writer, s grove.Stats) {
	fmt.Fprintln(w, "Index")
	fmt.Fprintln(w, "=====")
	fmt.Fprintf(w, "Names:     %d\n", s.Index.Names)
	fmt.Fprintf(w, "Documents: %d\n", s.Index.Documents)
	fmt.Fprintf(w, "Queued:    %d sync, %d async\n", s.Index.SyncQueued, s.Index.AsyncQueued)
	fmt.Fprintf(w, "Indexed:   %d\n", s.Index.Indexed)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Parses: %d full, %d incremental, %d failed\n", s.Parse.Full, s.Parse.Incremental, s.Parse.Failed)
	fmt.Fprintf(w, "Languages: %s\n", strings.Join(s.Languages, ", "))
}

// outputResultText dispatches a CLIResult to the matching text formatter.
func outputResultText(w io.Writer, result CLIResult) error {
	switch v := result.Results.(type) {
	case []CLILocation:
		formatLocationsText(w, v)
	case []CLISymbol:
		formatSymbolsText(w, v, 0)
	case []CLIHighlight:
		formatHighlightsText(w, v)
	case []CLICompletion:
		formatCompletionsText(w, v)
	case grove.Stats:
		formatStatsText(w, v)
	case nil:
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	if result.TotalCount != nil {
		count := *result.TotalCount
		if shown := resultLen(result.Results); shown < count {
			fmt.Fprintf(w, "\nShowing %d of %d results\n", shown, count)
		}
	}
	return nil
}

// resultLen returns the length of a result slice, or 1 for a single value.
func resultLen(v any) int {
	switch r := v.(type) {
	case []CLILocation:
		return len(r)
	case []CLISymbol:
		return len(r)
	case []CLIHighlight:
		return len(r)
	case []CLICompletion:
		return len(r)
	case nil:
		return 0
	default:
		return 1
	}
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}
