package world

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/loom/internal/ir"
)

// OpKind is the kind of an atomic operation.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpModify OpKind = "modify"
	OpDelete OpKind = "delete"
)

// Operator is how a Modify combines the operand with the current value.
type Operator string

const (
	Assign   Operator = "assign"
	Add      Operator = "add"
	Subtract Operator = "subtract"
)

// ParseOperator accepts the named forms and the symbolic forms "=", "+=",
// "-=".
func ParseOperator(s string) (Operator, error) {
	switch s {
	case "assign", "=":
		return Assign, nil
	case "add", "+=", "+":
		return Add, nil
	case "subtract", "-=", "-":
		return Subtract, nil
	}
	return "", fmt.Errorf("unknown operator %q", s)
}

// Operation is one atomic change to a State. Operations are values: copy
// them freely, never mutate one after it has been submitted.
type Operation struct {
	Kind       OpKind
	EntityType EntityType
	EntityID   string

	// Create only. Nil means no initial attributes.
	Attributes ir.Object

	// Modify only.
	Key      string
	Operator Operator
	Value    ir.Value
}

// Create builds a Create operation.
func Create(t EntityType, id string, attrs ir.Object) Operation {
	return Operation{
		Kind:       OpCreate,
		EntityType: t,
		EntityID:   ir.Normalize(id),
		Attributes: normalizeKeys(attrs),
	}
}

// Modify builds a Modify operation.
func Modify(t EntityType, id, key string, op Operator, v ir.Value) Operation {
	return Operation{
		Kind:       OpModify,
		EntityType: t,
		EntityID:   ir.Normalize(id),
		Key:        ir.Normalize(key),
		Operator:   op,
		Value:      v,
	}
}

// Delete builds a Delete operation.
func Delete(t EntityType, id string) Operation {
	return Operation{
		Kind:       OpDelete,
		EntityType: t,
		EntityID:   ir.Normalize(id),
	}
}

func normalizeKeys(attrs ir.Object) ir.Object {
	if attrs == nil {
		return nil
	}
	out := make(ir.Object, len(attrs))
	for k, v := range attrs {
		out[ir.Normalize(k)] = v
	}
	return out
}

// Ref returns the entity the operation targets.
func (op Operation) Ref() Ref {
	return Ref{Type: op.EntityType, ID: op.EntityID}
}

// WithEntityID returns a copy retargeted at id.
func (op Operation) WithEntityID(id string) Operation {
	op.EntityID = id
	return op
}

// Clone deep-copies the operation's attribute payloads.
func (op Operation) Clone() Operation {
	op.Attributes = op.Attributes.Clone()
	if op.Value != nil {
		op.Value = ir.Clone(op.Value)
	}
	return op
}

// String renders the operation for logs.
func (op Operation) String() string {
	switch op.Kind {
	case OpCreate:
		return fmt.Sprintf("create %s %s %s", op.EntityType, op.EntityID, ir.Format(op.Attributes))
	case OpModify:
		return fmt.Sprintf("modify %s %s.%s %s %s", op.EntityType, op.EntityID, op.Key, op.Operator, ir.Format(op.Value))
	case OpDelete:
		return fmt.Sprintf("delete %s %s", op.EntityType, op.EntityID)
	}
	return fmt.Sprintf("%s %s %s", op.Kind, op.EntityType, op.EntityID)
}

// operationJSON is the wire form shared by archives, the journal and
// workflow payloads.
type operationJSON struct {
	Op         OpKind          `json:"op"`
	EntityType EntityType      `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Attributes ir.Object       `json:"attributes,omitempty"`
	Key        string          `json:"key,omitempty"`
	Operator   string          `json:"operator,omitempty"`
	Value      json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (op Operation) MarshalJSON() ([]byte, error) {
	out := operationJSON{
		Op:         op.Kind,
		EntityType: op.EntityType,
		EntityID:   op.EntityID,
		Attributes: op.Attributes,
	}
	if op.Kind == OpModify {
		out.Key = op.Key
		out.Operator = string(op.Operator)
		v, err := ir.MarshalValue(op.Value)
		if err != nil {
			return nil, fmt.Errorf("operation value: %w", err)
		}
		out.Value = v
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler. Identifiers are normalized the
// same way the constructors normalize them.
func (op *Operation) UnmarshalJSON(data []byte) error {
	var in operationJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch in.Op {
	case OpCreate:
		*op = Create(in.EntityType, in.EntityID, in.Attributes)
	case OpDelete:
		*op = Delete(in.EntityType, in.EntityID)
	case OpModify:
		operator, err := ParseOperator(in.Operator)
		if err != nil {
			return err
		}
		var v ir.Value = ir.Null{}
		if len(in.Value) > 0 {
			v, err = ir.UnmarshalValue(in.Value)
			if err != nil {
				return fmt.Errorf("operation value: %w", err)
			}
		}
		*op = Modify(in.EntityType, in.EntityID, in.Key, operator, v)
	default:
		return fmt.Errorf("unknown operation %q", in.Op)
	}
	return nil
}
