package harness

import (
	"slices"

	"github.com/roach88/loom/internal/manager"
	"github.com/roach88/loom/internal/notify"
)

// Trace event types.
const (
	EventStatus  = "status"
	EventContent = "content"
)

// TraceEvent is one notification, flattened for comparison.
type TraceEvent struct {
	Seq     int64  `json:"seq"`
	Type    string `json:"type"`
	BlockID string `json:"block_id"`

	// status events
	From   string `json:"from,omitempty"`
	Status string `json:"status,omitempty"`

	// content events
	Source     string   `json:"source,omitempty"`
	Fields     []string `json:"fields,omitempty"`
	Changed    []string `json:"changed,omitempty"`
	Operations []string `json:"operations,omitempty"`
}

// StepResult is what one flow step returned.
type StepResult struct {
	Action string `json:"action"`
	Block  string `json:"block,omitempty"`
	Status string `json:"status,omitempty"`

	// Rejected counts operations of the batch that did not apply.
	Rejected int   `json:"rejected,omitempty"`
	Err      error `json:"-"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	Steps  []StepResult `json:"steps"`
	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`

	// SeqBase is the clock reading before the first step. Trace seqs are
	// absolute; RelativeTrace subtracts SeqBase.
	SeqBase int64 `json:"seq_base,omitempty"`

	// Manager is the tree the scenario built, for saving or inspection.
	Manager *manager.Manager `json:"-"`
}

// RelativeTrace returns the trace renumbered from 1, independent of the
// clock the run started from.
func (r *Result) RelativeTrace() []TraceEvent {
	out := make([]TraceEvent, len(r.Trace))
	for i, ev := range r.Trace {
		ev.Seq -= r.SeqBase
		out[i] = ev
	}
	return out
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepResult{},
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// StatusesOf returns every status blockID entered, in trace order.
func (r *Result) StatusesOf(blockID string) []string {
	var out []string
	for _, ev := range r.Trace {
		if ev.Type == EventStatus && ev.BlockID == blockID {
			out = append(out, ev.Status)
		}
	}
	return out
}

// buildTrace merges the recorded events into one seq-ordered list.
func buildTrace(rec *notify.Recorder) []TraceEvent {
	statuses := rec.Statuses()
	contents := rec.Contents()
	trace := make([]TraceEvent, 0, len(statuses)+len(contents))

	for _, ev := range statuses {
		trace = append(trace, StatusTrace(ev))
	}
	for _, ev := range contents {
		trace = append(trace, ContentTrace(ev))
	}

	slices.SortFunc(trace, func(a, b TraceEvent) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
	return trace
}

// StatusTrace converts a status event to its trace form.
func StatusTrace(ev notify.StatusEvent) TraceEvent {
	return TraceEvent{
		Seq:     ev.Seq,
		Type:    EventStatus,
		BlockID: ev.BlockID,
		From:    string(ev.From),
		Status:  string(ev.Status),
	}
}

// ContentTrace converts a content event to its trace form. The digest is
// left out.
func ContentTrace(ev notify.ContentEvent) TraceEvent {
	te := TraceEvent{
		Seq:     ev.Seq,
		Type:    EventContent,
		BlockID: ev.BlockID,
		Source:  string(ev.Source),
		Fields:  ev.Fields,
	}
	for _, ref := range ev.Changed {
		te.Changed = append(te.Changed, ref.String())
	}
	for _, op := range ev.Operations {
		te.Operations = append(te.Operations, op.String())
	}
	return te
}
