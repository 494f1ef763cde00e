package block

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrDanglingReference: a child or parent id names a block that does
	// not exist.
	ErrDanglingReference = errors.New("dangling block reference")

	// ErrCycle: following links revisited a block.
	ErrCycle = errors.New("cycle in block tree")
)

// Node is the structural part of a block: links and status, no content.
type Node struct {
	ID            string   `json:"id"`
	ParentID      string   `json:"parent_id,omitempty"`
	Children      []string `json:"children"`
	SelectedChild string   `json:"selected_child,omitempty"`
	Status        Status   `json:"status"`
}

// Lookup resolves an id to its node. The manager supplies one that locks
// each block only for the duration of the copy.
type Lookup func(id string) (Node, bool)

// PathToRoot walks down from start, always following the last child, until
// it reaches a leaf, then walks parent links up to the root. The result is
// ordered root to leaf.
//
// Dangling references and cycles return an error and no path.
func PathToRoot(lookup Lookup, start string) ([]string, error) {
	node, ok := lookup(start)
	if !ok {
		return nil, fmt.Errorf("%w: start %s", ErrDanglingReference, start)
	}

	seen := map[string]bool{start: true}
	for len(node.Children) > 0 {
		next := node.Children[len(node.Children)-1]
		if seen[next] {
			return nil, fmt.Errorf("%w: revisited %s below %s", ErrCycle, next, node.ID)
		}
		seen[next] = true
		child, ok := lookup(next)
		if !ok {
			return nil, fmt.Errorf("%w: child %s of %s", ErrDanglingReference, next, node.ID)
		}
		node = child
	}

	return walkUp(lookup, node)
}

// walkUp collects leaf..root and returns it reversed.
func walkUp(lookup Lookup, leaf Node) ([]string, error) {
	path := []string{leaf.ID}
	seen := map[string]bool{leaf.ID: true}
	node := leaf
	for node.ParentID != "" {
		if seen[node.ParentID] {
			return nil, fmt.Errorf("%w: revisited %s above %s", ErrCycle, node.ParentID, node.ID)
		}
		seen[node.ParentID] = true
		parent, ok := lookup(node.ParentID)
		if !ok {
			return nil, fmt.Errorf("%w: parent %s of %s", ErrDanglingReference, node.ParentID, node.ID)
		}
		path = append(path, parent.ID)
		node = parent
	}
	slices.Reverse(path)
	return path, nil
}

// SelectedPath follows SelectedChild from root down. It stops at the first
// missing or revisited block, so it always returns a usable prefix.
func SelectedPath(lookup Lookup, root string) []string {
	var path []string
	seen := make(map[string]bool)
	id := root
	for id != "" && !seen[id] {
		node, ok := lookup(id)
		if !ok {
			break
		}
		seen[id] = true
		path = append(path, id)
		id = node.SelectedChild
	}
	return path
}

// Subtree returns id and all of its descendants, parents before children.
func Subtree(lookup Lookup, id string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	stack := []string{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			return nil, fmt.Errorf("%w: revisited %s", ErrCycle, cur)
		}
		seen[cur] = true
		node, ok := lookup(cur)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrDanglingReference, cur)
		}
		out = append(out, cur)
		for i := len(node.Children) - 1; i >= 0; i-- {
			stack = append(stack, node.Children[i])
		}
	}
	return out, nil
}

// DefaultPerPage is the page size used when a caller passes zero.
const DefaultPerPage = 10

// Page is one page of a block's children.
type Page struct {
	Items      []string `json:"items"`
	Page       int      `json:"page"`
	TotalPages int      `json:"total_pages"`
	Total      int      `json:"total"`
}

// Paginate slices ids into pages of perPage. page is 1-based and clamped to
// [1, TotalPages].
func Paginate(ids []string, page, perPage int) Page {
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	total := len(ids)
	pages := (total + perPage - 1) / perPage
	if pages == 0 {
		pages = 1
	}
	page = max(1, min(page, pages))

	start := (page - 1) * perPage
	end := min(start+perPage, total)
	items := []string{}
	if start < end {
		items = slices.Clone(ids[start:end])
	}
	return Page{Items: items, Page: page, TotalPages: pages, Total: total}
}

// Tree is a plain arena of blocks keyed by id, used when a whole tree is
// handled at once (archives, scenario setup).
type Tree map[string]*Block

// Lookup adapts the arena to the path functions.
func (t Tree) Lookup(id string) (Node, bool) {
	b, ok := t[id]
	if !ok {
		return Node{}, false
	}
	return b.Node(), true
}

// Validate checks every link: parents exist and list the child, children
// exist and point back, selections name a child, and exactly one block has
// no parent.
func (t Tree) Validate() error {
	var errs []error
	roots := 0
	for id, b := range t {
		if b.ID != id {
			errs = append(errs, fmt.Errorf("block %s stored under %s", b.ID, id))
		}
		if b.ParentID == "" {
			roots++
		} else if parent, ok := t[b.ParentID]; !ok {
			errs = append(errs, fmt.Errorf("%w: parent %s of %s", ErrDanglingReference, b.ParentID, id))
		} else if !slices.Contains(parent.Children, id) {
			errs = append(errs, fmt.Errorf("block %s missing from children of %s", id, b.ParentID))
		}
		for _, c := range b.Children {
			child, ok := t[c]
			if !ok {
				errs = append(errs, fmt.Errorf("%w: child %s of %s", ErrDanglingReference, c, id))
				continue
			}
			if child.ParentID != id {
				errs = append(errs, fmt.Errorf("child %s of %s has parent %q", c, id, child.ParentID))
			}
		}
		if b.SelectedChild != "" && !slices.Contains(b.Children, b.SelectedChild) {
			errs = append(errs, fmt.Errorf("block %s selects non-child %s", id, b.SelectedChild))
		}
	}
	if roots != 1 {
		errs = append(errs, fmt.Errorf("tree has %d roots, want 1", roots))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	for _, b := range t {
		if _, err := walkUp(t.Lookup, b.Node()); err != nil {
			return err
		}
	}
	return nil
}
