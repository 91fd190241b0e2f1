package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/deckhand/config"
	"github.com/hupe1980/deckhand/deck"
	"github.com/hupe1980/deckhand/engine"
	"github.com/hupe1980/deckhand/logging"
	"github.com/hupe1980/deckhand/server"
	"github.com/hupe1980/deckhand/store"
	"github.com/hupe1980/deckhand/workspace"
)

const shutdownTimeout = 10 * time.Second

// ServeOptions holds the flags of the serve command. Empty values fall back
// to the environment configuration.
type ServeOptions struct {
	Addr  string
	Deck  string
	DB    string
	Watch bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve workspaces and durable streams over HTTP",
		Long: `Start the HTTP server. Workspaces keep one conversation each; run
events are published to the durable stream workspace:<id>.

State is kept in memory unless --db names a SQLite database.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, rootOpts, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default $DECKHAND_ADDR)")
	cmd.Flags().StringVar(&opts.Deck, "deck", "", "default deck path (default $DECKHAND_DECK)")
	cmd.Flags().StringVar(&opts.DB, "db", "", "SQLite database path (default $DECKHAND_DB_PATH)")
	cmd.Flags().BoolVar(&opts.Watch, "watch", true, "reload decks when their documents change")

	return cmd
}

func (o *ServeOptions) apply(cfg *config.Config) {
	if o.Addr != "" {
		cfg.Addr = o.Addr
	}
	if o.Deck != "" {
		cfg.DefaultDeck = o.Deck
	}
	if o.DB != "" {
		cfg.DBPath = o.DB
	}
}

func runServe(cmd *cobra.Command, rootOpts *RootOptions, opts *ServeOptions) error {
	cfg, logger, err := rootOpts.load()
	if err != nil {
		return err
	}
	opts.apply(&cfg)

	m, err := rootOpts.model(cfg)
	if err != nil {
		return err
	}

	st, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	arena := deck.NewArena(deck.NewLoader(func(o *deck.Options) { o.Logger = logger }))
	eng := engine.New(func(o *engine.Options) {
		o.Config = cfg.Engine()
		o.Model = m
		o.Arena = arena
		o.Logger = logger
	})
	mgr := workspace.New(eng, func(o *workspace.Options) {
		o.Store = st
		o.DefaultDeckPath = cfg.DefaultDeck
		o.Logger = logger
	})
	defer mgr.Close()

	var watcher *deck.Watcher
	if opts.Watch {
		watcher, err = deck.NewWatcher(func(o *deck.WatcherOptions) {
			o.Logger = logger
			o.Debounce = cfg.WatchDebounce
		})
		if err != nil {
			return err
		}
		defer watcher.Close()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	// SSE tails end with gctx so Shutdown does not wait on open streams.
	e := server.New(server.NewHandler(mgr, func(o *server.Options) {
		o.Logger = logger
		o.Context = gctx
	}))

	g.Go(func() error {
		logger.Info("cli.serve.listening", "addr", cfg.Addr, "deck", cfg.DefaultDeck)
		if err := e.Start(cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if watcher != nil {
		watchArena(gctx, watcher, arena, cfg.DefaultDeck, logger)
		g.Go(func() error {
			return watcher.Run(gctx, func(changed string) {
				dropped := arena.Invalidate(changed)
				logger.Info("cli.serve.decks_invalidated", "changed", changed, "dropped", len(dropped))
				watchArena(gctx, watcher, arena, cfg.DefaultDeck, logger)
			})
		})
	}

	return g.Wait()
}

// watchArena loads the default deck and watches every cached deck. Decks
// loaded later by runs are picked up on the next change.
func watchArena(ctx context.Context, w *deck.Watcher, arena *deck.Arena, defaultDeck string, logger logging.Logger) {
	if defaultDeck != "" {
		if err := w.Add(defaultDeck); err != nil {
			logger.Warn("cli.serve.watch_failed", "path", defaultDeck, "error", err)
		}
		if _, err := arena.Get(ctx, defaultDeck); err != nil {
			logger.Warn("cli.serve.deck_invalid", "path", defaultDeck, "error", err)
		}
	}
	for _, p := range arena.Paths() {
		d, err := arena.Get(ctx, p)
		if err != nil {
			continue
		}
		if err := w.AddDeck(d); err != nil {
			logger.Warn("cli.serve.watch_failed", "path", p, "error", err)
		}
	}
}

func openStore(cfg config.Config) (store.Store, func(), error) {
	if cfg.DBPath == "" {
		return store.NewMemoryStore(), func() {}, nil
	}
	s, err := store.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}
