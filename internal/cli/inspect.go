package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/loom/internal/block"
	"github.com/roach88/loom/internal/ir"
	"github.com/roach88/loom/internal/manager"
	"github.com/roach88/loom/internal/world"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Block string
	Page  int
}

// TreeView is the inspect output without --block.
type TreeView struct {
	Archive      string                `json:"archive"`
	Blocks       map[string]block.Node `json:"blocks"`
	SelectedPath []string              `json:"selected_path"`
	Blind        json.RawMessage       `json:"blind,omitempty"`
}

// BlockView is the inspect output for one block.
type BlockView struct {
	ID        string            `json:"id"`
	ParentID  string            `json:"parent_id,omitempty"`
	Status    block.Status      `json:"status"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	GameState ir.Object         `json:"game_state,omitempty"`
	Children  block.Page        `json:"children"`
	World     *world.State      `json:"world"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect [archive]",
		Short: "Show the tree stored in an archive",
		Long: `Load an archive into a block manager and print its tree, or one block
with its world state when --block is given.

The archive defaults to archive.path from the config.

Examples:
  loom inspect ./tree.json.zst
  loom inspect ./tree.json --block A --page 2
  loom inspect --config loom.yaml --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.Config.Archive.ResolvedPath()
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return NewExitError(ExitCommandError, "no archive given and archive.path is not set")
			}
			return runInspect(opts, path, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Block, "block", "", "show one block in detail")
	cmd.Flags().IntVar(&opts.Page, "page", 1, "page of the block's children (with --block)")

	return cmd
}

func runInspect(opts *InspectOptions, path string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	m := manager.New(
		manager.WithLogger(opts.Logger),
		manager.WithChildrenPerPage(opts.Config.Tree.ChildrenPerPage),
	)
	blind, err := m.LoadFromFile(ctx, path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load archive", err)
	}

	p := newPrinter(opts.RootOptions, cmd)
	if opts.Block != "" {
		view, err := blockView(cmd, m, opts.Block, opts.Page)
		if err != nil {
			return err
		}
		return p.Result(view, func(w io.Writer) { writeBlock(w, view) })
	}

	view := TreeView{
		Archive:      path,
		Blocks:       m.GetNodeOnlyBlocks(ctx),
		SelectedPath: m.GetSelectedPath(ctx),
		Blind:        blind,
	}
	return p.Result(view, func(w io.Writer) { writeTree(w, view) })
}

func blockView(cmd *cobra.Command, m *manager.Manager, id string, page int) (*BlockView, error) {
	ctx := commandContext(cmd)
	b, err := m.GetBlock(ctx, id)
	if err != nil {
		if manager.IsNotFound(err) {
			return nil, WrapExitError(ExitFailure, "no such block", err)
		}
		return nil, WrapExitError(ExitCommandError, "failed to read block", err)
	}
	children, err := m.ChildrenPage(ctx, id, page, 0)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to page children", err)
	}
	return &BlockView{
		ID:        b.ID,
		ParentID:  b.ParentID,
		Status:    b.Status,
		Content:   b.Content,
		Metadata:  b.Metadata,
		GameState: b.GameState,
		Children:  children,
		World:     b.Live(),
	}, nil
}

// writeTree prints the tree depth first. Blocks on the selected path are
// marked with '*'.
func writeTree(w io.Writer, v TreeView) {
	fmt.Fprintf(w, "Archive: %s (%d blocks)\n", v.Archive, len(v.Blocks))
	onPath := make(map[string]bool, len(v.SelectedPath))
	for _, id := range v.SelectedPath {
		onPath[id] = true
	}

	var walk func(id string, depth int, seen map[string]bool)
	walk = func(id string, depth int, seen map[string]bool) {
		n, ok := v.Blocks[id]
		if !ok || seen[id] {
			return
		}
		seen[id] = true
		mark := " "
		if onPath[id] {
			mark = "*"
		}
		fmt.Fprintf(w, "%s%s %s [%s]\n", strings.Repeat("  ", depth), mark, id, n.Status)
		for _, c := range n.Children {
			walk(c, depth+1, seen)
		}
	}
	walk(block.RootID, 0, make(map[string]bool))

	fmt.Fprintf(w, "Selected path: %s\n", strings.Join(v.SelectedPath, " > "))
}

func writeBlock(w io.Writer, v *BlockView) {
	fmt.Fprintf(w, "Block:   %s [%s]\n", v.ID, v.Status)
	if v.ParentID != "" {
		fmt.Fprintf(w, "Parent:  %s\n", v.ParentID)
	}
	fmt.Fprintf(w, "Children: %s (page %d of %d, %d total)\n",
		strings.Join(v.Children.Items, ", "), v.Children.Page, v.Children.TotalPages, v.Children.Total)
	if v.Content != "" {
		fmt.Fprintf(w, "Content: %s\n", v.Content)
	}

	keys := make([]string, 0, len(v.Metadata))
	for k := range v.Metadata {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  meta %s = %s\n", k, v.Metadata[k])
	}
	for _, k := range v.GameState.SortedKeys() {
		fmt.Fprintf(w, "  game %s = %s\n", k, ir.Format(v.GameState[k]))
	}

	fmt.Fprintln(w, "World:")
	for _, t := range world.EntityTypes {
		for _, e := range v.World.Entities(t) {
			state := ir.Format(e.Attributes)
			if e.Destroyed {
				state += " (destroyed)"
			}
			fmt.Fprintf(w, "  %s %s\n", e.Ref(), state)
		}
	}
}
