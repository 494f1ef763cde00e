package block

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// RootID is the id of the super-root block every tree hangs from.
const RootID = "__WORLD__"

// IDPrefix starts every generated block id.
const IDPrefix = "blk_"

// IDGenerator produces unique block ids.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable ids of the form "blk_<uuidv7>".
//
// UUIDv7 embeds a timestamp in the most significant bits, so ids sort by
// creation time, which keeps archives and journal dumps readable.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return IDPrefix + uuid.Must(uuid.NewV7()).String()
}

// SequenceGenerator returns "blk_1", "blk_2", ... for scenario runs that
// need stable ids.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceGenerator creates a generator. An empty prefix uses IDPrefix.
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	if prefix == "" {
		prefix = IDPrefix
	}
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next id in the sequence.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s%d", g.prefix, g.n)
}
