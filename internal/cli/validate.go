package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/loom/internal/archive"
	"github.com/roach88/loom/internal/harness"
	"github.com/roach88/loom/internal/opcodec"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Ops bool
}

// FileResult is the validation outcome of one file.
type FileResult struct {
	File   string `json:"file"`
	Kind   string `json:"kind"`
	Valid  bool   `json:"valid"`
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ValidateResult holds the overall result.
type ValidateResult struct {
	Files   []FileResult `json:"files"`
	Valid   int          `json:"valid"`
	Invalid int          `json:"invalid"`
}

// File kinds reported by validate.
const (
	KindScenario   = "scenario"
	KindOperations = "operations"
	KindArchive    = "archive"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <file>...",
		Short: "Check scenarios, operation batches and archives",
		Long: `Check files without running anything.

YAML files are read as scenarios. Other files are read as archives, plain
or zstd-compressed. With --ops every file is read as an operation batch,
JSON or YAML by extension.

Examples:
  loom validate ./scenarios/npc_conflict.yaml
  loom validate ./tree.json.zst
  loom validate --ops ./edits.json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Ops, "ops", false, "read files as operation batches")

	return cmd
}

func runValidate(opts *ValidateOptions, files []string, cmd *cobra.Command) error {
	var codec *opcodec.Codec
	if opts.Ops {
		c, err := opcodec.New()
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to build operation codec", err)
		}
		codec = c
	}

	result := ValidateResult{Files: make([]FileResult, 0, len(files))}
	for _, file := range files {
		fr := validateFile(codec, file)
		if fr.Valid {
			result.Valid++
		} else {
			result.Invalid++
		}
		result.Files = append(result.Files, fr)
	}

	text := func(w io.Writer) {
		for _, fr := range result.Files {
			if fr.Valid {
				fmt.Fprintf(w, "✓ %s (%s: %s)\n", fr.File, fr.Kind, fr.Detail)
			} else {
				fmt.Fprintf(w, "✗ %s (%s)\n  %s\n", fr.File, fr.Kind, fr.Error)
			}
		}
	}

	p := newPrinter(opts.RootOptions, cmd)
	if result.Invalid > 0 {
		return p.Fail(ExitFailure, "E_INVALID", fmt.Sprintf("%d file(s) invalid", result.Invalid), result, text)
	}
	return p.Result(result, text)
}

// validateFile checks one file. A nil codec means the kind is picked by
// extension.
func validateFile(codec *opcodec.Codec, file string) FileResult {
	ext := filepath.Ext(file)
	yaml := ext == ".yaml" || ext == ".yml"

	switch {
	case codec != nil:
		fr := FileResult{File: file, Kind: KindOperations}
		data, err := os.ReadFile(file)
		if err != nil {
			fr.Error = err.Error()
			return fr
		}
		decode := codec.Decode
		if yaml {
			decode = codec.DecodeYAML
		}
		ops, err := decode(data)
		if err != nil {
			fr.Error = err.Error()
			return fr
		}
		fr.Valid = true
		fr.Detail = fmt.Sprintf("%d operation(s)", len(ops))
		return fr

	case yaml:
		fr := FileResult{File: file, Kind: KindScenario}
		s, err := harness.LoadScenario(file)
		if err != nil {
			fr.Error = err.Error()
			return fr
		}
		fr.Valid = true
		fr.Detail = fmt.Sprintf("%s, %d step(s), %d assertion(s)", s.Name, len(s.Flow), len(s.Assertions))
		return fr

	default:
		fr := FileResult{File: file, Kind: KindArchive}
		doc, err := archive.ReadFile(file)
		if err != nil {
			fr.Error = err.Error()
			return fr
		}
		if _, err := doc.Tree(); err != nil {
			fr.Error = err.Error()
			return fr
		}
		fr.Valid = true
		fr.Detail = fmt.Sprintf("%d block(s)", len(doc.Blocks))
		return fr
	}
}
