package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"

	"github.com/spf13/cobra"

	"github.com/hupe1980/deckhand/core"
	"github.com/hupe1980/deckhand/engine"
)

// RunOptions holds the flags of the run command.
type RunOptions struct {
	Input   string
	Message string
	Stream  bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run <deck>",
		Short: "Run a deck once and print its output",
		Long: `Run a deck until it responds, completes or fails and print the output.

--input is parsed as JSON when possible and passed as a string otherwise.
--message is appended as the first user message.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeck(cmd, rootOpts, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "deck input (JSON or plain text)")
	cmd.Flags().StringVarP(&opts.Message, "message", "m", "", "initial user message")
	cmd.Flags().BoolVar(&opts.Stream, "stream", false, "print assistant text as it is generated")

	return cmd
}

func runDeck(cmd *cobra.Command, rootOpts *RootOptions, opts *RunOptions, deckPath string) error {
	cfg, logger, err := rootOpts.load()
	if err != nil {
		return err
	}
	m, err := rootOpts.model(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	eng := engine.New(func(o *engine.Options) {
		o.Config = cfg.Engine()
		o.Model = m
		o.Logger = logger
	})

	req := engine.Request{
		DeckPath:           deckPath,
		InitialUserMessage: opts.Message,
		Stream:             opts.Stream && rootOpts.Format == "text",
	}
	if cmd.Flags().Changed("input") {
		req.Input = parseInput(opts.Input)
		req.InputProvided = true
	}

	res, runErr := execute(ctx, eng, req, cmd.OutOrStdout(), cmd.ErrOrStderr(), rootOpts.Verbose)
	if res == nil {
		return runErr
	}
	if err := printResult(cmd.OutOrStdout(), rootOpts.Format, res, req.Stream); err != nil {
		return err
	}
	return runErr
}

// execute runs req and drains its output channels. Streamed text goes to out,
// traces go to errOut when verbose.
func execute(ctx context.Context, eng *engine.Engine, req engine.Request, out, errOut io.Writer, verbose bool) (*engine.Result, error) {
	var wg sync.WaitGroup
	var text chan string
	var traces chan core.TraceEvent

	if req.Stream {
		text = make(chan string, 16)
		req.Text = text
		wg.Add(1)
		go func() {
			defer wg.Done()
			for chunk := range text {
				fmt.Fprint(out, chunk)
			}
		}()
	}
	if verbose {
		traces = make(chan core.TraceEvent, 16)
		req.Traces = traces
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range traces {
				printTrace(errOut, ev)
			}
		}()
	}

	res, err := eng.Run(ctx, req)
	if text != nil {
		close(text)
	}
	if traces != nil {
		close(traces)
	}
	wg.Wait()
	return res, err
}

func printTrace(w io.Writer, ev core.TraceEvent) {
	line := string(ev.Type)
	if ev.Name != "" {
		line += " " + ev.Name
	}
	if ev.ActionCallID != "" {
		line = "  " + line + " [" + ev.ActionCallID + "]"
	}
	if ev.Error != "" {
		line += ": " + ev.Error
	}
	fmt.Fprintln(w, line)
}

func printResult(w io.Writer, format string, res *engine.Result, streamed bool) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	switch {
	case res.AwaitingUser:
		fmt.Fprintln(w, "awaiting user message")
	case res.Status != core.RunStatusCompleted:
		if res.Error != "" {
			fmt.Fprintf(w, "run %s: %s\n", res.Status, res.Error)
		} else {
			fmt.Fprintf(w, "run %s\n", res.Status)
		}
	case streamed && !res.Responded:
		fmt.Fprintln(w)
	case res.Output == nil:
	default:
		if s, ok := res.Output.(string); ok {
			fmt.Fprintln(w, s)
			return nil
		}
		b, err := json.MarshalIndent(res.Output, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(b))
	}
	return nil
}

// parseInput decodes raw as JSON and falls back to the raw string.
func parseInput(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}
