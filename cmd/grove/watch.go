package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jward/grove"
	"github.com/jward/grove/internal/config"
	"github.com/jward/grove/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Index a repository and keep the index current as files change",
	Long:  "Indexes the repository, then watches it and reindexes changed files until interrupted. The snapshot is written as files change.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	targetDir, err := resolveTargetDir(args)
	if err != nil {
		return err
	}
	repoRoot := findRepoRoot(targetDir)
	cfg, err := config.Load(repoRoot)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := newEngine(ctx, cfg, resolveDBPath(repoRoot, cfg))
	if err != nil {
		return err
	}
	defer engine.Close()

	n, err := engine.IndexDirectory(ctx, targetDir)
	if err != nil {
		return fmt.Errorf("indexing: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Indexed %d files, watching %s\n", n, targetDir)

	w, err := watcher.New(engine.Matcher(targetDir), func(events []watcher.Event) {
		applyEvents(ctx, engine, events)
	}, watcher.WithDebounce(cfg.WatchDebounce()))
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := w.Start(ctx); err != nil {
		w.Close()
		return fmt.Errorf("starting watcher: %w", err)
	}

	<-ctx.Done()
	fmt.Fprintln(os.Stderr, "Stopping")
	return w.Close()
}

// applyEvents forwards one watcher batch to the engine and reindexes.
func applyEvents(ctx context.Context, engine *grove.Engine, events []watcher.Event) {
	start := time.Now()
	var changed, deleted []string
	for _, ev := range events {
		uri := grove.URIFromPath(ev.Path)
		switch ev.Op {
		case watcher.Changed:
			changed = append(changed, uri)
		case watcher.Deleted:
			deleted = append(deleted, uri)
		}
	}
	engine.FilesChanged(changed, deleted)
	if err := engine.Update(ctx); err != nil {
		slog.Warn("watch.update_failed", "err", err)
		return
	}
	slog.Info("watch.reindexed", "changed", len(changed), "deleted", len(deleted), "elapsed", time.Since(start))
}
