package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/hupe1980/deckhand/config"
	"github.com/hupe1980/deckhand/logging"
	"github.com/hupe1980/deckhand/model"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// NewModel builds the model used by run and serve. Defaults to the
	// provider named in the configuration.
	NewModel func(cfg config.Config) (model.Model, error)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the deckhand CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "deckhand",
		Short: "deckhand - run markdown decks against language models",
		Long: `Run markdown decks against language models.

A deck is a markdown document whose front matter declares schemas, actions
and guardrails. Actions are other decks, so decks call each other as tools.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

// load reads the environment configuration and applies the global flags.
func (o *RootOptions) load() (config.Config, *logging.DeckLogger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	if o.Verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, cfg.Logger().WithComponent("cli"), nil
}

func (o *RootOptions) model(cfg config.Config) (model.Model, error) {
	if o.NewModel != nil {
		return o.NewModel(cfg)
	}
	return buildModel(cfg)
}
