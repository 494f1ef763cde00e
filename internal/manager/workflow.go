package manager

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/loom/internal/block"
	"github.com/roach88/loom/internal/ir"
	"github.com/roach88/loom/internal/notify"
	"github.com/roach88/loom/internal/resolver"
	"github.com/roach88/loom/internal/world"
)

// Batch sources, as reported in metrics and content events.
const (
	sourceUser     = string(notify.SourceUser)
	sourceWorkflow = "workflow"
	sourceMerge    = string(notify.SourceMerge)
	sourceResolved = string(notify.SourceResolved)
)

// EnqueueOrExecuteAtomicOperations submits user operations to a block.
//
// Idle: applied to the live state immediately. Loading: applied to the
// working state and the successful ones queued for the merge, in
// submission order. Conflict or Error: rejected with ErrBlockNotEditable and
// nothing is applied.
//
// The returned status is the block's status when the batch was handled.
func (m *Manager) EnqueueOrExecuteAtomicOperations(ctx context.Context, id string, ops []world.Operation) (_ block.Status, _ world.Results, err error) {
	const op = "EnqueueOrExecuteAtomicOperations"
	ctx, span := m.startSpan(ctx, op, id)
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.Int("loom.ops", len(ops)))

	ev := m.newEvents()
	defer ev.flush(ctx)

	e, err := m.lock(op, id)
	if err != nil {
		return "", nil, err
	}
	defer e.mu.Unlock()

	st := e.b.Status
	if !st.AcceptsEdits() {
		return st, nil, blockErr(op, id, st, ErrBlockNotEditable)
	}

	results := e.b.PostUser.ApplyAll(ops)
	if st == block.StatusLoading {
		for _, o := range results.Succeeded() {
			e.b.Pending = append(e.b.Pending, o.Clone())
		}
	}
	m.metrics.applied(sourceUser, results)

	if changed := results.Changed(); len(changed) > 0 {
		ev.content(notify.ContentEvent{
			BlockID:    id,
			Source:     notify.SourceUser,
			Changed:    changed,
			Fields:     []string{notify.FieldWorld},
			Operations: results.Succeeded(),
			Digest:     e.b.PostUser.Digest(),
		})
	}
	if failed := results.Failed(); len(failed) > 0 {
		m.logger.DebugContext(ctx, "user operations rejected",
			"block", id, "status", st, "failed", len(failed), "error", failed.Err())
	}
	return st, results, nil
}

// Completion is the one callback the workflow engine makes per run.
type Completion struct {
	BlockID string
	Success bool

	// RawText becomes the block's content on success.
	RawText string

	// Commands are the workflow's operations against the block's input
	// state.
	Commands []world.Operation

	OutputVariables ir.Object
}

// CompletionOutcome reports what a completion did.
type CompletionOutcome struct {
	Status block.Status

	// AIResults is the workflow stream applied to the input state. Nil when
	// the workflow failed.
	AIResults world.Results

	// Resolution is nil when the workflow failed or its operations did not
	// apply cleanly.
	Resolution *resolver.Resolution

	// MergedResults is the merged list applied to the input state, set only
	// when the merge ran.
	MergedResults world.Results
}

// HandleWorkflowCompletion finishes the generation of a Loading block.
//
// The queued user operations are read under the same lock that swaps the
// block's state, so an edit is either part of this merge or rejected
// afterwards as the block is no longer Loading.
func (m *Manager) HandleWorkflowCompletion(ctx context.Context, c Completion) (_ *CompletionOutcome, err error) {
	const op = "HandleWorkflowCompletion"
	ctx, span := m.startSpan(ctx, op, c.BlockID)
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.Bool("loom.success", c.Success), attribute.Int("loom.ops", len(c.Commands)))

	ev := m.newEvents()
	defer ev.flush(ctx)

	e, err := m.lock(op, c.BlockID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	b := e.b
	if b.Status != block.StatusLoading {
		return nil, blockErr(op, c.BlockID, b.Status, ErrInvalidState)
	}
	m.recordOutputs(ctx, b, c)

	fields := []string{notify.FieldMetadata}
	out := &CompletionOutcome{}

	if !c.Success {
		if c.RawText != "" {
			b.Metadata[block.MetaRawText] = c.RawText
		}
		m.fail(ctx, ev, b, "workflow reported failure")
		out.Status = b.Status
		ev.content(notify.ContentEvent{BlockID: b.ID, Source: notify.SourceSystem, Fields: fields})
		return out, nil
	}

	b.Content = c.RawText
	delete(b.Metadata, block.MetaRawText)
	fields = append(fields, notify.FieldContent)

	postAI := b.Input.Clone()
	out.AIResults = postAI.ApplyAll(c.Commands)
	m.metrics.applied(sourceWorkflow, out.AIResults)
	b.PostAI = postAI
	if !out.AIResults.OK() {
		m.fail(ctx, ev, b, fmt.Sprintf("workflow operations failed: %v", out.AIResults.Err()))
		out.Status = b.Status
		ev.content(notify.ContentEvent{BlockID: b.ID, Source: notify.SourceSystem, Fields: fields})
		return out, nil
	}

	start := time.Now()
	res := resolver.Resolve(b.Input, c.Commands, b.Pending)
	m.metrics.observeResolve(start)
	out.Resolution = &res

	if res.Blocking {
		conflict := &block.Conflict{
			AI:              res.AI,
			User:            res.User,
			ConflictingAI:   res.ConflictingAI,
			ConflictingUser: res.ConflictingUser,
		}
		b.Conflict = conflict.Clone()
		if err := b.Transition(block.StatusConflict); err != nil {
			return nil, blockErr(op, b.ID, b.Status, err)
		}
		m.metrics.conflicts.Inc()
		ev.status(b.ID, block.StatusLoading, block.StatusConflict)
		ev.content(notify.ContentEvent{BlockID: b.ID, Source: notify.SourceSystem, Fields: fields})
		m.logger.InfoContext(ctx, "workflow completion conflicts with user edits",
			"block", b.ID, "ai", len(res.ConflictingAI), "user", len(res.ConflictingUser))
		out.Status = b.Status
		return out, nil
	}

	merged := b.Input.Clone()
	out.MergedResults = merged.ApplyAll(res.Merged)
	m.metrics.applied(sourceMerge, out.MergedResults)
	if !out.MergedResults.OK() {
		m.fail(ctx, ev, b, fmt.Sprintf("merged operations failed: %v", out.MergedResults.Err()))
		out.Status = b.Status
		ev.content(notify.ContentEvent{BlockID: b.ID, Source: notify.SourceSystem, Fields: fields})
		return out, nil
	}
	if err := b.Settle(merged); err != nil {
		return nil, blockErr(op, b.ID, b.Status, err)
	}
	ev.status(b.ID, block.StatusLoading, block.StatusIdle)
	ev.content(notify.ContentEvent{
		BlockID:    b.ID,
		Source:     notify.SourceMerge,
		Changed:    out.MergedResults.Changed(),
		Fields:     append(fields, notify.FieldWorld),
		Operations: res.Merged,
		Digest:     merged.Digest(),
	})
	if len(res.Renamed) > 0 {
		m.logger.DebugContext(ctx, "renamed colliding user creates", "block", b.ID, "count", len(res.Renamed))
	}
	out.Status = b.Status
	return out, nil
}

// recordOutputs stores the workflow's output variables in metadata.
func (m *Manager) recordOutputs(ctx context.Context, b *block.Block, c Completion) {
	if len(c.OutputVariables) == 0 {
		return
	}
	data, err := c.OutputVariables.MarshalJSON()
	if err != nil {
		m.logger.WarnContext(ctx, "cannot encode output variables", "block", b.ID, "error", err)
		return
	}
	b.Metadata[block.MetaOutputVariables] = string(data)
}

// fail moves b to Error and records reason. Callers hold b's lock.
func (m *Manager) fail(ctx context.Context, ev *events, b *block.Block, reason string) {
	from := b.Status
	if err := b.Fail(reason); err != nil {
		m.logger.ErrorContext(ctx, "cannot move block to error", "block", b.ID, "from", from, "error", err)
		return
	}
	ev.status(b.ID, from, block.StatusError)
	m.logger.WarnContext(ctx, "block failed", "block", b.ID, "from", from, "reason", reason)
}

// ApplyResolvedCommands settles a Conflict block with a caller-chosen list,
// applied to the block's input state. The resolver is not consulted again.
// Every operation must apply; otherwise the block moves to Error.
func (m *Manager) ApplyResolvedCommands(ctx context.Context, id string, ops []world.Operation) (_ block.Status, _ world.Results, err error) {
	const op = "ApplyResolvedCommands"
	ctx, span := m.startSpan(ctx, op, id)
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.Int("loom.ops", len(ops)))

	ev := m.newEvents()
	defer ev.flush(ctx)

	e, err := m.lock(op, id)
	if err != nil {
		return "", nil, err
	}
	defer e.mu.Unlock()

	b := e.b
	if b.Status != block.StatusConflict {
		return b.Status, nil, blockErr(op, id, b.Status, ErrInvalidState)
	}

	state := b.Input.Clone()
	results := state.ApplyAll(ops)
	m.metrics.applied(sourceResolved, results)
	if !results.OK() {
		m.fail(ctx, ev, b, fmt.Sprintf("resolved operations failed: %v", results.Err()))
		return b.Status, results, nil
	}
	if err := b.Settle(state); err != nil {
		return b.Status, results, blockErr(op, id, b.Status, err)
	}
	ev.status(id, block.StatusConflict, block.StatusIdle)
	ev.content(notify.ContentEvent{
		BlockID:    id,
		Source:     notify.SourceResolved,
		Changed:    results.Changed(),
		Fields:     []string{notify.FieldWorld},
		Operations: results.Succeeded(),
		Digest:     state.Digest(),
	})
	m.logger.InfoContext(ctx, "conflict resolved", "block", id, "ops", len(ops))
	return b.Status, results, nil
}

// ForceIdle stops waiting for the workflow of a Loading block. User edits
// queued so far stay in the live state; a later completion for the block is
// rejected as stale.
func (m *Manager) ForceIdle(ctx context.Context, id string) (err error) {
	const op = "ForceIdle"
	ctx, span := m.startSpan(ctx, op, id)
	defer func() { endSpan(span, err) }()

	ev := m.newEvents()
	defer ev.flush(ctx)

	e, err := m.lock(op, id)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()

	if e.b.Status != block.StatusLoading {
		return blockErr(op, id, e.b.Status, ErrInvalidState)
	}
	if err := e.b.Abandon(); err != nil {
		return blockErr(op, id, e.b.Status, err)
	}
	ev.status(id, block.StatusLoading, block.StatusIdle)
	m.logger.InfoContext(ctx, "workflow abandoned", "block", id)
	return nil
}

// GetConflict returns the four operation lists of a Conflict block.
func (m *Manager) GetConflict(ctx context.Context, id string) (_ *block.Conflict, err error) {
	const op = "GetConflict"
	_, span := m.startSpan(ctx, op, id)
	defer func() { endSpan(span, err) }()

	e, err := m.lock(op, id)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	if e.b.Status != block.StatusConflict || e.b.Conflict == nil {
		return nil, blockErr(op, id, e.b.Status, ErrInvalidState)
	}
	return e.b.Conflict.Clone(), nil
}
