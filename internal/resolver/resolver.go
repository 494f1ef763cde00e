// Package resolver merges the operation stream a workflow produced with the
// stream a user submitted while the workflow ran.
//
// Both streams were recorded against the same common ancestor. The resolver
// partitions them by (entity type, entity id, operation kind) and classifies
// every overlap:
//
//	create/create, same id      rename the user's entity, keep both
//	modify/modify, same key     blocking
//	modify/delete, either way   blocking
//	delete/delete               keep one
//	anything else               independent
//
// Without blocking pairs the merged list is every workflow operation
// followed by the surviving user operations. With blocking pairs nothing is
// merged and the caller gets both full lists and the blocking subsets.
package resolver

import (
	"fmt"

	"github.com/roach88/loom/internal/world"
)

// Resolution is the outcome of Resolve.
type Resolution struct {
	// Merged is set only when Blocking is false.
	Merged []world.Operation

	Blocking bool

	// AI and User are the full input streams; User has renames applied.
	AI   []world.Operation
	User []world.Operation

	// ConflictingAI and ConflictingUser are the operations that take part
	// in at least one blocking pair, in stream order.
	ConflictingAI   []world.Operation
	ConflictingUser []world.Operation

	// Renamed maps a user-created entity to the id it was moved to.
	Renamed map[world.Ref]string

	// Deduplicated lists user deletes dropped because the workflow deletes
	// the same entity.
	Deduplicated []world.Operation
}

type attrKey struct {
	ref world.Ref
	key string
}

// index groups the workflow stream for overlap checks.
type index struct {
	creates  map[world.Ref]bool
	deletes  map[world.Ref][]int
	modifies map[attrKey][]int
	modified map[world.Ref][]int
}

func newIndex(ops []world.Operation) *index {
	idx := &index{
		creates:  make(map[world.Ref]bool),
		deletes:  make(map[world.Ref][]int),
		modifies: make(map[attrKey][]int),
		modified: make(map[world.Ref][]int),
	}
	for i, op := range ops {
		ref := op.Ref()
		switch op.Kind {
		case world.OpCreate:
			idx.creates[ref] = true
		case world.OpDelete:
			idx.deletes[ref] = append(idx.deletes[ref], i)
		case world.OpModify:
			k := attrKey{ref, op.Key}
			idx.modifies[k] = append(idx.modifies[k], i)
			idx.modified[ref] = append(idx.modified[ref], i)
		}
	}
	return idx
}

// Resolve classifies the two streams against their common ancestor input.
// Neither slice is modified.
func Resolve(input *world.State, ai, user []world.Operation) Resolution {
	idx := newIndex(ai)
	renames := renameCollidingCreates(input, idx, ai, user)

	var renamed map[world.Ref]string
	if len(renames) > 0 {
		renamed = make(map[world.Ref]string, len(renames))
		for ref, r := range renames {
			renamed[ref] = r.id
		}
	}

	// Only the user's create and what follows it move to the fresh id;
	// earlier operations still target the ancestor's entity.
	rewritten := make([]world.Operation, len(user))
	for i, op := range user {
		if r, ok := renames[op.Ref()]; ok && i >= r.from {
			op = op.WithEntityID(r.id)
		}
		rewritten[i] = op
	}

	res := Resolution{
		AI:      ai,
		User:    rewritten,
		Renamed: renamed,
	}

	blockingAI := make(map[int]bool)
	blockingUser := make(map[int]bool)
	dropped := make(map[int]bool)

	for i, op := range rewritten {
		ref := op.Ref()
		var hits []int
		switch op.Kind {
		case world.OpModify:
			hits = append(hits, idx.modifies[attrKey{ref, op.Key}]...)
			hits = append(hits, idx.deletes[ref]...)
		case world.OpDelete:
			hits = append(hits, idx.modified[ref]...)
			if len(idx.deletes[ref]) > 0 {
				dropped[i] = true
			}
		}
		if len(hits) == 0 {
			continue
		}
		blockingUser[i] = true
		for _, h := range hits {
			blockingAI[h] = true
		}
	}

	if len(blockingUser) > 0 {
		res.Blocking = true
		for i, op := range ai {
			if blockingAI[i] {
				res.ConflictingAI = append(res.ConflictingAI, op)
			}
		}
		for i, op := range rewritten {
			if blockingUser[i] {
				res.ConflictingUser = append(res.ConflictingUser, op)
			}
		}
		return res
	}

	merged := make([]world.Operation, 0, len(ai)+len(rewritten))
	merged = append(merged, ai...)
	for i, op := range rewritten {
		if dropped[i] {
			res.Deduplicated = append(res.Deduplicated, op)
			continue
		}
		merged = append(merged, op)
	}
	res.Merged = merged
	return res
}

// rename moves user operations from index from onwards to id.
type rename struct {
	id   string
	from int
}

// renameCollidingCreates picks a fresh id for every user-created entity the
// workflow also creates, starting at the user's first create of it. Fresh
// ids are "<id>_<n>" with n counting up from 2, skipping anything present in
// input or referenced by either stream.
func renameCollidingCreates(input *world.State, idx *index, ai, user []world.Operation) map[world.Ref]rename {
	var colliding []world.Ref
	first := make(map[world.Ref]int)
	for i, op := range user {
		ref := op.Ref()
		if op.Kind != world.OpCreate || !idx.creates[ref] {
			continue
		}
		if _, seen := first[ref]; !seen {
			first[ref] = i
			colliding = append(colliding, ref)
		}
	}
	if len(colliding) == 0 {
		return nil
	}

	taken := make(map[world.Ref]bool)
	for _, op := range ai {
		taken[op.Ref()] = true
	}
	for _, op := range user {
		taken[op.Ref()] = true
	}

	renames := make(map[world.Ref]rename, len(colliding))
	for _, ref := range colliding {
		for n := 2; ; n++ {
			candidate := world.Ref{Type: ref.Type, ID: fmt.Sprintf("%s_%d", ref.ID, n)}
			if taken[candidate] || input.Has(candidate.Type, candidate.ID) {
				continue
			}
			taken[candidate] = true
			renames[ref] = rename{id: candidate.ID, from: first[ref]}
			break
		}
	}
	return renames
}
