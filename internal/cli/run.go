package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/loom/internal/config"
	"github.com/roach88/loom/internal/harness"
	"github.com/roach88/loom/internal/manager"
	"github.com/roach88/loom/internal/notify"
	"github.com/roach88/loom/internal/store"
)

// EmbeddedNATS as --nats starts an in-process server instead of dialing one.
const EmbeddedNATS = "embedded"

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Update    bool   // regenerate golden files
	Filter    string // scenario filter (glob pattern)
	Journal   string
	Nats      string
	Save      string
	ShowTrace bool
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	File   string   `json:"file"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
	Trace  string   `json:"trace,omitempty"`
}

// RunResult holds the overall result.
type RunResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
	Saved     string           `json:"saved,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario-file-or-dir>...",
		Short: "Run scenarios against the block manager",
		Long: `Run YAML scenarios against a fresh block manager each, check their
expectations and assertions, and compare their event traces with golden
files in a golden/ directory next to the scenario.

Events can also be written to a SQLite journal and published to NATS. With
a single scenario, --save writes the resulting tree as an archive.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  loom run ./scenarios
  loom run ./scenarios --filter "npc_*" --update
  loom run ./scenarios/npc_conflict.yaml --journal ./loom.db --save ./tree.json.zst
  loom run ./scenarios --nats embedded --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "SQLite journal to append events to (default journal.path)")
	cmd.Flags().StringVar(&opts.Nats, "nats", "", `NATS url to publish events to, or "embedded" (default nats.url)`)
	cmd.Flags().StringVar(&opts.Save, "save", "", "save the resulting tree to this archive (single scenario only)")
	cmd.Flags().BoolVar(&opts.ShowTrace, "trace", false, "print each scenario's event trace")

	return cmd
}

func runScenarios(opts *RunOptions, paths []string, cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var files []string
	for _, p := range paths {
		found, err := findScenarioFiles(p, opts.Filter)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to find scenarios", err)
		}
		files = append(files, found...)
	}

	p := newPrinter(opts.RootOptions, cmd)
	if len(files) == 0 {
		return p.Result(RunResult{Scenarios: []ScenarioResult{}}, func(w io.Writer) {
			fmt.Fprintln(w, "No scenarios found.")
		})
	}
	if opts.Save != "" && len(files) != 1 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--save needs exactly one scenario, found %d", len(files)))
	}

	sinks, clock, cleanup, err := openSinks(ctx, opts)
	if err != nil {
		return err
	}
	defer cleanup()

	result := RunResult{
		Scenarios: make([]ScenarioResult, 0, len(files)),
		Total:     len(files),
	}
	var last *harness.Result
	for _, file := range files {
		sr, hr := runScenario(ctx, opts, file, sinks, clock)
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
		last = hr
	}

	if opts.Save != "" && last != nil {
		path := config.ArchiveConfig{Path: opts.Save, Compress: opts.Config.Archive.Compress}.ResolvedPath()
		if err := last.Manager.SaveToFile(ctx, path, nil); err != nil {
			return WrapExitError(ExitCommandError, "failed to save tree", err)
		}
		result.Saved = path
	}

	text := func(w io.Writer) {
		for _, sr := range result.Scenarios {
			if sr.Pass {
				fmt.Fprintf(w, "✓ %s\n", sr.Name)
			} else {
				fmt.Fprintf(w, "✗ %s\n", sr.Name)
				for _, e := range sr.Errors {
					fmt.Fprintf(w, "  %s\n", strings.ReplaceAll(strings.TrimRight(e, "\n"), "\n", "\n  "))
				}
			}
			if sr.Trace != "" {
				fmt.Fprint(w, sr.Trace)
			}
		}
		if result.Saved != "" {
			fmt.Fprintf(w, "Tree saved to %s\n", result.Saved)
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	}

	if result.Failed > 0 {
		return p.Fail(ExitFailure, "E_SCENARIO_FAILED", fmt.Sprintf("%d scenario(s) failed", result.Failed), result, text)
	}
	return p.Result(result, text)
}

// openSinks opens the journal and NATS publisher the flags or config ask
// for. The returned clock continues the journal's sequence so runs never
// collide with rows already stored.
func openSinks(ctx context.Context, opts *RunOptions) ([]harness.Option, manager.Clock, func(), error) {
	var (
		hopts    []harness.Option
		closers  []func()
		startSeq int64
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hopts = append(hopts, harness.WithLogger(logger))
	if opts.Verbose {
		hopts = append(hopts, harness.WithNotifier(notify.NewLog(logger)))
	}

	journalPath := firstNonEmpty(opts.Journal, opts.Config.Journal.Path)
	if journalPath != "" {
		j, err := store.Open(journalPath)
		if err != nil {
			return nil, nil, func() {}, WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		closers = append(closers, func() {
			if err := j.Close(); err != nil {
				logger.Error("error closing journal", "error", err)
			}
		})
		if startSeq, err = j.LastSeq(ctx); err != nil {
			cleanup()
			return nil, nil, func() {}, WrapExitError(ExitCommandError, "failed to read journal", err)
		}
		hopts = append(hopts, harness.WithNotifier(j))
		logger.Info("journal ready", "path", journalPath, "last_seq", startSeq)
	}

	natsURL := firstNonEmpty(opts.Nats, opts.Config.Nats.URL)
	if natsURL == EmbeddedNATS {
		srv, err := notify.NewEmbeddedServer(notify.WithPort(-1))
		if err != nil {
			cleanup()
			return nil, nil, func() {}, WrapExitError(ExitCommandError, "failed to create embedded nats", err)
		}
		if err := srv.Start(ctx); err != nil {
			cleanup()
			return nil, nil, func() {}, WrapExitError(ExitCommandError, "failed to start embedded nats", err)
		}
		closers = append(closers, srv.Shutdown)
		natsURL = srv.ClientURL()
	}
	if natsURL != "" {
		conn, err := notify.Connect(natsURL)
		if err != nil {
			cleanup()
			return nil, nil, func() {}, WrapExitError(ExitCommandError, "failed to connect to nats", err)
		}
		closers = append(closers, func() {
			if err := conn.Drain(); err != nil {
				logger.Warn("error draining nats connection", "error", err)
			}
		})

		async := notify.NewAsync(notify.NewNATS(conn, opts.Config.Nats.SubjectPrefix), logger)
		go func() {
			_ = async.Run(context.WithoutCancel(ctx))
		}()
		closers = append(closers, async.Stop)
		hopts = append(hopts, harness.WithNotifier(async))
		logger.Info("publishing events", "nats", natsURL, "prefix", opts.Config.Nats.SubjectPrefix)
	}

	return hopts, manager.NewClockAt(startSeq), cleanup, nil
}

// runScenario executes one scenario file and checks its golden trace.
func runScenario(ctx context.Context, opts *RunOptions, file string, sinks []harness.Option, clock manager.Clock) (ScenarioResult, *harness.Result) {
	sr := ScenarioResult{Name: filepath.Base(file), File: file}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		sr.Errors = []string{fmt.Sprintf("failed to load scenario: %v", err)}
		return sr, nil
	}
	sr.Name = scenario.Name

	result, err := harness.Run(ctx, scenario, append(sinks, harness.WithClock(clock))...)
	if err != nil {
		sr.Errors = []string{fmt.Sprintf("execution failed: %v", err)}
		return sr, nil
	}
	sr.Errors = result.Errors
	sr.Pass = result.Pass

	trace := harness.FormatTrace(result.RelativeTrace())
	if opts.ShowTrace {
		sr.Trace = trace
	}

	goldenPath := goldenFilePath(file)
	switch {
	case opts.Update:
		if err := writeGolden(goldenPath, trace); err != nil {
			sr.Pass = false
			sr.Errors = append(sr.Errors, fmt.Sprintf("failed to update golden file: %v", err))
		}
	default:
		want, err := os.ReadFile(goldenPath)
		if os.IsNotExist(err) {
			break
		}
		if err != nil {
			sr.Pass = false
			sr.Errors = append(sr.Errors, fmt.Sprintf("failed to read golden file: %v", err))
			break
		}
		if string(want) != trace {
			sr.Pass = false
			sr.Errors = append(sr.Errors, "trace does not match golden file (run with --update to regenerate)")
		}
	}
	return sr, result
}

// findScenarioFiles returns path itself when it is a file, or every YAML
// file below it when it is a directory. Golden directories are skipped.
func findScenarioFiles(path, filter string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "golden" && p != path {
				return filepath.SkipDir
			}
			return nil
		}

		ext := filepath.Ext(p)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(p), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}

		files = append(files, p)
		return nil
	})
	return files, err
}

// goldenFilePath returns the path to the golden file for a scenario.
func goldenFilePath(scenarioFile string) string {
	dir := filepath.Dir(scenarioFile)
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, "golden", name+".golden")
}

func writeGolden(path, trace string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	return os.WriteFile(path, []byte(trace), 0o644)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
