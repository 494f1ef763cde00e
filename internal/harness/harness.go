package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/loom/internal/block"
	"github.com/roach88/loom/internal/ir"
	"github.com/roach88/loom/internal/manager"
	"github.com/roach88/loom/internal/notify"
	"github.com/roach88/loom/internal/opcodec"
	"github.com/roach88/loom/internal/testutil"
	"github.com/roach88/loom/internal/world"
)

// errorKinds maps expect.error names to manager sentinels.
var errorKinds = map[string]error{
	"not_found":     manager.ErrBlockNotFound,
	"invalid_state": manager.ErrInvalidState,
	"not_editable":  manager.ErrBlockNotEditable,
	"in_flight":     manager.ErrWorkflowInFlight,
	"has_children":  manager.ErrHasChildren,
	"root":          manager.ErrRootBlock,
}

// Harness executes scenario steps against one manager.
type Harness struct {
	m      *manager.Manager
	codec  *opcodec.Codec
	logger *slog.Logger
}

// Option configures Run.
type Option func(*runConfig)

type runConfig struct {
	logger    *slog.Logger
	notifiers []notify.Notifier
	clock     manager.Clock
}

// WithLogger routes manager logs to l. Runs are silent by default.
func WithLogger(l *slog.Logger) Option {
	return func(c *runConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithNotifier adds a sink that sees every event alongside the trace
// recorder, for example a journal.
func WithNotifier(n notify.Notifier) Option {
	return func(c *runConfig) {
		if n != nil {
			c.notifiers = append(c.notifiers, n)
		}
	}
}

// WithClock stamps events from c instead of a fresh clock at 0, so several
// runs can share one journal without reusing sequence numbers.
func WithClock(c manager.Clock) Option {
	return func(rc *runConfig) {
		if c != nil {
			rc.clock = c
		}
	}
}

// Run executes a scenario against a fresh manager and returns the result.
//
// Failed expectations and assertions are reported in the result. The error
// is reserved for scenarios that cannot run, such as malformed operation
// payloads.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		clock:  testutil.NewDeterministicClock(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	codec, err := opcodec.New()
	if err != nil {
		return nil, err
	}

	rec := &notify.Recorder{}
	var sink notify.Notifier = rec
	if len(cfg.notifiers) > 0 {
		sink = append(notify.Multi{rec}, cfg.notifiers...)
	}

	m := manager.New(
		manager.WithLogger(cfg.logger),
		manager.WithNotifier(sink),
		manager.WithIDGenerator(testutil.NewListIDs("", scenario.IDs...)),
		manager.WithClock(cfg.clock),
		manager.WithNow(testutil.NewSteppedTime(testutil.Epoch, time.Second).Now),
	)
	h := &Harness{m: m, codec: codec, logger: cfg.logger}

	result := NewResult()
	result.Manager = m
	result.SeqBase = cfg.clock.Current()

	for i, step := range scenario.Flow {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sr, err := h.execute(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("flow[%d] %s: %w", i, step.Action, err)
		}
		result.Steps = append(result.Steps, sr)
		if msg := checkExpect(i, step, sr); msg != "" {
			result.AddError(msg)
		}
	}

	result.Trace = buildTrace(rec)

	actx := &AssertionContext{Manager: m, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	return result, nil
}

// execute runs one step. Manager errors land in the StepResult; the
// returned error means the step itself was malformed.
func (h *Harness) execute(ctx context.Context, step Step) (StepResult, error) {
	sr := StepResult{Action: step.Action, Block: step.Block}

	switch step.Action {
	case ActionApply:
		ops, err := h.operations(step)
		if err != nil {
			return sr, err
		}
		st, res, err := h.m.EnqueueOrExecuteAtomicOperations(ctx, step.Block, ops)
		sr.Status, sr.Rejected, sr.Err = string(st), len(res.Failed()), err

	case ActionCreateChild:
		params, err := object(step.Params)
		if err != nil {
			return sr, err
		}
		b, err := h.m.CreateChildBlock(ctx, step.Parent, params)
		sr.fromBlock(b, err)

	case ActionCreateManual:
		b, err := h.m.CreateManualChildBlock(ctx, step.Parent, step.Content, step.Metadata)
		sr.fromBlock(b, err)

	case ActionRegenerate:
		params, err := object(step.Params)
		if err != nil {
			return sr, err
		}
		b, err := h.m.RegenerateBlock(ctx, step.Block, params)
		sr.fromBlock(b, err)

	case ActionComplete:
		ops, err := h.operations(step)
		if err != nil {
			return sr, err
		}
		outputs, err := object(step.OutputVariables)
		if err != nil {
			return sr, err
		}
		success := step.Success == nil || *step.Success
		out, err := h.m.HandleWorkflowCompletion(ctx, manager.Completion{
			BlockID:         step.Block,
			Success:         success,
			RawText:         step.RawText,
			Commands:        ops,
			OutputVariables: outputs,
		})
		sr.Err = err
		if out != nil {
			sr.Status = string(out.Status)
			sr.Rejected = len(out.AIResults.Failed()) + len(out.MergedResults.Failed())
		}

	case ActionResolve:
		ops, err := h.operations(step)
		if err != nil {
			return sr, err
		}
		st, res, err := h.m.ApplyResolvedCommands(ctx, step.Block, ops)
		sr.Status, sr.Rejected, sr.Err = string(st), len(res.Failed()), err

	case ActionForceIdle:
		sr.Err = h.m.ForceIdle(ctx, step.Block)
		sr.Status = h.status(ctx, step.Block)

	case ActionDelete:
		_, sr.Err = h.m.DeleteBlock(ctx, step.Block, step.Recursive, step.Force)

	case ActionSelect:
		sr.Err = h.m.SelectChild(ctx, step.Block)

	case ActionGameState:
		updates, err := object(step.GameState)
		if err != nil {
			return sr, err
		}
		sr.Err = h.m.UpdateBlockGameState(ctx, step.Block, updates)
		sr.Status = h.status(ctx, step.Block)

	case ActionContent:
		sr.Err = h.m.UpdateBlockContent(ctx, step.Block, step.Content)
		sr.Status = h.status(ctx, step.Block)

	default:
		return sr, fmt.Errorf("unknown action %q", step.Action)
	}

	if sr.Err != nil {
		h.logger.DebugContext(ctx, "step rejected", "action", step.Action, "block", sr.Block, "error", sr.Err)
	}
	return sr, nil
}

func (sr *StepResult) fromBlock(b *block.Block, err error) {
	sr.Err = err
	if b != nil {
		sr.Block = b.ID
		sr.Status = string(b.Status)
	}
}

func (h *Harness) status(ctx context.Context, id string) string {
	b, err := h.m.GetBlock(ctx, id)
	if err != nil {
		return ""
	}
	return string(b.Status)
}

func (h *Harness) operations(step Step) ([]world.Operation, error) {
	if len(step.Operations) == 0 {
		return nil, nil
	}
	return h.codec.DecodeValue(step.Operations)
}

func object(m map[string]any) (ir.Object, error) {
	if m == nil {
		return nil, nil
	}
	return ir.ObjectFromAny(m)
}

// checkExpect compares a step result with its expect clause and returns a
// message on mismatch. A step without expect must not fail.
func checkExpect(index int, step Step, sr StepResult) string {
	prefix := fmt.Sprintf("flow[%d] %s", index, step.Action)

	if step.Expect == nil || step.Expect.Error == "" {
		if sr.Err != nil {
			return fmt.Sprintf("%s: unexpected error: %v", prefix, sr.Err)
		}
		if step.Expect != nil && step.Expect.Status != "" && step.Expect.Status != sr.Status {
			return fmt.Sprintf("%s: status %q, expected %q", prefix, sr.Status, step.Expect.Status)
		}
		return ""
	}

	want := errorKinds[step.Expect.Error]
	if sr.Err == nil {
		return fmt.Sprintf("%s: succeeded, expected %s error", prefix, step.Expect.Error)
	}
	if !errors.Is(sr.Err, want) {
		return fmt.Sprintf("%s: error %v, expected %s", prefix, sr.Err, step.Expect.Error)
	}
	return ""
}
