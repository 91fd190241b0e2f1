package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/hupe1980/deckhand/deck"
	"github.com/hupe1980/deckhand/logging"
)

// CheckResult is the outcome of loading one deck.
type CheckResult struct {
	Path    string `json:"path"`
	Valid   bool   `json:"valid"`
	Label   string `json:"label,omitempty"`
	Actions int    `json:"actions"`
	Cards   int    `json:"cards"`
	Error   string `json:"error,omitempty"`
}

// CheckOptions holds the flags of the check command.
type CheckOptions struct {
	Watch bool
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{}

	cmd := &cobra.Command{
		Use:   "check <deck>...",
		Short: "Load decks and report load errors",
		Long: `Load decks with their embedded cards, schemas and actions without
calling a model. With --watch the decks are checked again whenever one of
their documents changes.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, rootOpts, opts, args)
		},
	}

	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "re-check when documents change")

	return cmd
}

func runCheck(cmd *cobra.Command, rootOpts *RootOptions, opts *CheckOptions, paths []string) error {
	cfg, logger, err := rootOpts.load()
	if err != nil {
		return err
	}
	arena := deck.NewArena(deck.NewLoader(func(o *deck.Options) { o.Logger = logger }))
	out := cmd.OutOrStdout()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	results := checkDecks(ctx, arena, paths)
	if err := printCheck(out, rootOpts.Format, results); err != nil {
		return err
	}
	if !opts.Watch {
		return checkError(results)
	}

	watcher, err := deck.NewWatcher(func(o *deck.WatcherOptions) {
		o.Logger = logger
		o.Debounce = cfg.WatchDebounce
	})
	if err != nil {
		return err
	}
	defer watcher.Close()

	watchDecks(watcher, arena, paths, logger)
	return watcher.Run(ctx, func(changed string) {
		arena.Invalidate(changed)
		results := checkDecks(ctx, arena, paths)
		if err := printCheck(out, rootOpts.Format, results); err != nil {
			logger.Warn("cli.check.print_failed", "error", err)
		}
		watchDecks(watcher, arena, paths, logger)
	})
}

func checkDecks(ctx context.Context, arena *deck.Arena, paths []string) []CheckResult {
	results := make([]CheckResult, 0, len(paths))
	for _, p := range paths {
		d, err := arena.Get(ctx, p)
		if err != nil {
			results = append(results, CheckResult{Path: p, Error: err.Error()})
			continue
		}
		results = append(results, CheckResult{
			Path:    p,
			Valid:   true,
			Label:   d.Label,
			Actions: d.Registry().Len(),
			Cards:   len(d.Cards),
		})
	}
	return results
}

// watchDecks adds every document of the cached decks. Decks that failed to
// load are watched through their own path so a fix is noticed.
func watchDecks(w *deck.Watcher, arena *deck.Arena, paths []string, logger logging.Logger) {
	for _, p := range paths {
		if err := w.Add(p); err != nil {
			logger.Warn("cli.check.watch_failed", "path", p, "error", err)
		}
	}
	for _, p := range arena.Paths() {
		d, err := arena.Get(context.Background(), p)
		if err != nil {
			continue
		}
		if err := w.AddDeck(d); err != nil {
			logger.Warn("cli.check.watch_failed", "path", p, "error", err)
		}
	}
}

func checkError(results []CheckResult) error {
	failed := 0
	for _, r := range results {
		if !r.Valid {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d decks failed to load", failed, len(results))
	}
	return nil
}

func printCheck(w io.Writer, format string, results []CheckResult) error {
	if format == "json" {
		return json.NewEncoder(w).Encode(results)
	}
	for _, r := range results {
		if !r.Valid {
			fmt.Fprintf(w, "✗ %s: %s\n", r.Path, r.Error)
			continue
		}
		name := r.Path
		if r.Label != "" {
			name = fmt.Sprintf("%s (%s)", r.Path, r.Label)
		}
		fmt.Fprintf(w, "✓ %s: %d actions, %d cards\n", name, r.Actions, r.Cards)
	}
	return nil
}
