package testutil

import (
	"fmt"
	"sync"
)

// ListIDs hands out the given ids in order, then falls back to
// "<prefix><n>" counting from len(ids)+1.
//
// Scenario files name the blocks they expect to create; ListIDs lets a run
// create exactly those ids.
//
// Thread-safety: safe for concurrent use via internal mutex.
type ListIDs struct {
	mu     sync.Mutex
	ids    []string
	prefix string
	n      int
}

// NewListIDs creates a generator. An empty prefix uses "blk_".
func NewListIDs(prefix string, ids ...string) *ListIDs {
	if prefix == "" {
		prefix = "blk_"
	}
	return &ListIDs{ids: ids, prefix: prefix}
}

// Generate returns the next id.
func (g *ListIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	if g.n <= len(g.ids) {
		return g.ids[g.n-1]
	}
	return fmt.Sprintf("%s%d", g.prefix, g.n)
}
