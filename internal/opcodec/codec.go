// Package opcodec decodes operation batches from the JSON a workflow hands
// back, or from YAML written by hand, and checks them against an embedded
// CUE schema before they reach a world state.
package opcodec

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/loom/internal/world"
)

//go:embed schema.cue
var schemaSource string

// ErrInvalidPayload wraps every schema or syntax failure.
var ErrInvalidPayload = errors.New("invalid operation payload")

// Codec validates and decodes operation batches.
//
// Thread-safety: a cue.Context is not safe for concurrent use, so Decode
// serializes on an internal mutex.
type Codec struct {
	mu    sync.Mutex
	ctx   *cue.Context
	batch cue.Value
}

// New compiles the embedded schema.
func New() (*Codec, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile operation schema: %w", err)
	}
	batch := schema.LookupPath(cue.ParsePath("#Batch"))
	if !batch.Exists() {
		return nil, fmt.Errorf("operation schema has no #Batch")
	}
	return &Codec{ctx: ctx, batch: batch}, nil
}

// MustNew is like New but panics on error. The schema is embedded, so this
// fails only on a build defect.
func MustNew() *Codec {
	c, err := New()
	if err != nil {
		panic(err)
	}
	return c
}

// Decode reads a JSON batch. The payload is either an array of operations or
// an object with an "operations" array.
func (c *Codec) Decode(data []byte) ([]world.Operation, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] == '{' {
		var wrapped struct {
			Operations json.RawMessage `json:"operations"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if len(wrapped.Operations) == 0 {
			return nil, fmt.Errorf("%w: object payload without \"operations\"", ErrInvalidPayload)
		}
		data = wrapped.Operations
	}

	if err := c.validate(data); err != nil {
		return nil, err
	}

	var ops []world.Operation
	if err := json.Unmarshal(data, &ops); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return ops, nil
}

// DecodeYAML reads a YAML batch by converting it to JSON first.
func (c *Codec) DecodeYAML(data []byte) ([]world.Operation, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if doc == nil {
		return nil, nil
	}
	js, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return c.Decode(js)
}

// DecodeValue converts an already-decoded document (for example a slice
// read from a scenario file) into operations.
func (c *Codec) DecodeValue(doc any) ([]world.Operation, error) {
	js, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return c.Decode(js)
}

// Encode renders operations as the JSON wire form.
func Encode(ops []world.Operation) ([]byte, error) {
	if ops == nil {
		ops = []world.Operation{}
	}
	return json.Marshal(ops)
}

func (c *Codec) validate(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := c.ctx.CompileBytes(data, cue.Filename("payload.json"))
	if err := v.Err(); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidPayload, cueerrors.Details(err, nil))
	}
	if err := c.batch.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidPayload, cueerrors.Details(err, nil))
	}
	return nil
}
