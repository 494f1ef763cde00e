package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/loom/internal/harness"
	"github.com/roach88/loom/internal/store"
)

// JournalOptions holds flags for the journal command.
type JournalOptions struct {
	*RootOptions
	Block string
	After int64
}

// JournalResult is the journal command output.
type JournalResult struct {
	Journal string               `json:"journal"`
	Events  []harness.TraceEvent `json:"events"`
	Blocks  []string             `json:"blocks,omitempty"`
}

// NewJournalCommand creates the journal command.
func NewJournalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JournalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "journal [db]",
		Short: "Print the events stored in a journal",
		Long: `Print the status and content events of a SQLite journal written by
"loom run --journal", in sequence order and in the trace format of golden
files.

The journal defaults to journal.path from the config.

Examples:
  loom journal ./loom.db
  loom journal ./loom.db --block A --after 120`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.Config.Journal.Path
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return NewExitError(ExitCommandError, "no journal given and journal.path is not set")
			}
			return runJournal(opts, path, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Block, "block", "", "only events of this block")
	cmd.Flags().Int64Var(&opts.After, "after", 0, "only events with a seq above this")

	return cmd
}

func runJournal(opts *JournalOptions, path string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	j, err := store.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer func() {
		if err := j.Close(); err != nil {
			opts.Logger.Error("error closing journal", "error", err)
		}
	}()

	entries, err := j.Timeline(ctx, opts.Block, opts.After)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}
	result := JournalResult{Journal: path, Events: make([]harness.TraceEvent, 0, len(entries))}
	for _, e := range entries {
		switch e.Kind {
		case store.KindStatus:
			result.Events = append(result.Events, harness.StatusTrace(*e.Status))
		case store.KindContent:
			result.Events = append(result.Events, harness.ContentTrace(*e.Content))
		}
	}
	if opts.Block == "" {
		if result.Blocks, err = j.BlockIDs(ctx); err != nil {
			return WrapExitError(ExitCommandError, "failed to read journal", err)
		}
	}

	return newPrinter(opts.RootOptions, cmd).Result(result, func(w io.Writer) {
		if len(result.Events) == 0 {
			fmt.Fprintln(w, "No events.")
			return
		}
		fmt.Fprint(w, harness.FormatTrace(result.Events))
		if len(result.Blocks) > 0 {
			fmt.Fprintf(w, "\n%d event(s) across %d block(s)\n", len(result.Events), len(result.Blocks))
		}
	})
}
