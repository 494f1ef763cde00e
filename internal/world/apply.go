package world

import (
	"errors"

	"github.com/roach88/loom/internal/ir"
)

// Result pairs an operation with its outcome. Err is nil on success and an
// *Error otherwise.
type Result struct {
	Op  Operation
	Err error
}

// OK reports whether the operation succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Results is the outcome of a batch, one entry per submitted operation in
// submission order.
type Results []Result

// OK reports whether every operation succeeded.
func (rs Results) OK() bool {
	for _, r := range rs {
		if r.Err != nil {
			return false
		}
	}
	return true
}

// Succeeded returns the operations that were applied.
func (rs Results) Succeeded() []Operation {
	var out []Operation
	for _, r := range rs {
		if r.Err == nil {
			out = append(out, r.Op)
		}
	}
	return out
}

// Failed returns the results that were rejected.
func (rs Results) Failed() Results {
	var out Results
	for _, r := range rs {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

// Changed returns the distinct entities touched by successful operations,
// in first-touch order.
func (rs Results) Changed() []Ref {
	seen := make(map[Ref]bool)
	var out []Ref
	for _, r := range rs {
		if r.Err != nil {
			continue
		}
		ref := r.Op.Ref()
		if !seen[ref] {
			seen[ref] = true
			out = append(out, ref)
		}
	}
	return out
}

// Err joins every failure into one error, or nil when all succeeded.
func (rs Results) Err() error {
	var errs []error
	for _, r := range rs {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errors.Join(errs...)
}

// ApplyAll applies ops in order. A failed operation does not stop the batch;
// later operations see the effects of earlier successful ones.
func (s *State) ApplyAll(ops []Operation) Results {
	results := make(Results, len(ops))
	for i, op := range ops {
		results[i] = Result{Op: op, Err: s.Apply(op)}
	}
	return results
}

// Apply applies one operation. The state is unchanged when it fails.
func (s *State) Apply(op Operation) error {
	b := s.bucket(op.EntityType)
	if b == nil {
		return newError(CodeInvalidInput, op, "unknown entity type")
	}
	if op.EntityID == "" {
		return newError(CodeInvalidInput, op, "empty entity id")
	}

	switch op.Kind {
	case OpCreate:
		return s.applyCreate(b, op)
	case OpModify:
		return s.applyModify(b, op)
	case OpDelete:
		return s.applyDelete(b, op)
	}
	return newError(CodeInvalidInput, op, "unknown operation kind %q", op.Kind)
}

func (s *State) applyCreate(b map[string]*Entity, op Operation) error {
	if existing, ok := b[op.EntityID]; ok && !existing.Destroyed {
		return newError(CodeConflict, op, "entity already exists")
	}
	attrs := op.Attributes.Clone()
	if attrs == nil {
		attrs = ir.Object{}
	}
	if _, ok := attrs[NameKey]; !ok {
		attrs[NameKey] = ir.String(op.EntityID)
	}
	b[op.EntityID] = &Entity{
		ID:         op.EntityID,
		Type:       op.EntityType,
		Attributes: attrs,
	}
	return nil
}

func (s *State) applyModify(b map[string]*Entity, op Operation) error {
	if op.Key == "" {
		return newError(CodeInvalidInput, op, "modify without attribute key")
	}
	e, ok := b[op.EntityID]
	if !ok || e.Destroyed {
		return newError(CodeNotFound, op, "entity not found")
	}

	operand := op.Value
	if operand == nil {
		operand = ir.Null{}
	}
	cur, exists := e.Attributes[op.Key]

	var next ir.Value
	switch op.Operator {
	case Assign:
		next = ir.Clone(operand)
	case Add:
		if !exists {
			next = ir.Clone(operand)
			break
		}
		v, err := ir.Add(cur, operand)
		if err != nil {
			return newError(CodeInvalidInput, op, "attribute %q: %v", op.Key, err)
		}
		next = v
	case Subtract:
		if !exists {
			return newError(CodeNotFound, op, "attribute %q not found", op.Key)
		}
		v, err := ir.Subtract(cur, operand)
		if err != nil {
			return newError(CodeInvalidInput, op, "attribute %q: %v", op.Key, err)
		}
		next = v
	default:
		return newError(CodeInvalidInput, op, "unknown operator %q", op.Operator)
	}

	if e.Attributes == nil {
		e.Attributes = ir.Object{}
	}
	e.Attributes[op.Key] = next
	return nil
}

func (s *State) applyDelete(b map[string]*Entity, op Operation) error {
	e, ok := b[op.EntityID]
	if !ok || e.Destroyed {
		return newError(CodeNotFound, op, "entity not found")
	}
	e.Destroyed = true
	return nil
}
