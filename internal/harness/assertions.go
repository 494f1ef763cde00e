package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/loom/internal/ir"
	"github.com/roach88/loom/internal/manager"
	"github.com/roach88/loom/internal/world"
)

// AssertionContext gives assertions access to the final tree.
type AssertionContext struct {
	Manager *manager.Manager
	Ctx     context.Context
}

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		buf.WriteString(FormatTrace(e.Trace))
	}

	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertStatus:
		return assertStatus(a, actx)
	case AssertStatusSequence:
		return assertStatusSequence(result, a)
	case AssertEntity:
		return assertEntity(a, actx)
	case AssertMissing:
		return assertMissing(a, actx)
	case AssertPath:
		return assertPath(a, actx)
	case AssertSelectedPath:
		got := actx.Manager.GetSelectedPath(actx.Ctx)
		if !slices.Equal(got, a.Path) {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprint(a.Path), Actual: fmt.Sprint(got)}
		}
		return nil
	case AssertConflict:
		return assertConflict(a, actx)
	case AssertContent:
		b, err := actx.Manager.GetBlock(actx.Ctx, a.Block)
		if err != nil {
			return err
		}
		if b.Content != *a.Content {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%q", *a.Content), Actual: fmt.Sprintf("%q", b.Content)}
		}
		return nil
	case AssertBlockCount:
		if n := actx.Manager.Len(); n != a.Count {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprint(a.Count), Actual: fmt.Sprint(n)}
		}
		return nil
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func assertStatus(a Assertion, actx *AssertionContext) error {
	b, err := actx.Manager.GetBlock(actx.Ctx, a.Block)
	if err != nil {
		return err
	}
	if string(b.Status) != a.Status {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("block %s %s", a.Block, a.Status),
			Actual:   string(b.Status),
		}
	}
	return nil
}

func assertStatusSequence(result *Result, a Assertion) error {
	got := result.StatusesOf(a.Block)
	if !slices.Equal(got, a.Statuses) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("block %s went through %v", a.Block, a.Statuses),
			Actual:   fmt.Sprint(got),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertEntity checks the listed attributes only (subset match).
func assertEntity(a Assertion, actx *AssertionContext) error {
	e, err := entity(a, actx)
	if err != nil {
		return err
	}
	if e.Destroyed {
		return &AssertionError{Type: a.Type, Expected: "live entity", Actual: "destroyed"}
	}

	want, err := ir.ObjectFromAny(a.Attributes)
	if err != nil {
		return fmt.Errorf("attributes: %w", err)
	}
	for _, key := range want.SortedKeys() {
		got, ok := e.Attributes[key]
		if !ok {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s.%s = %s", e.Ref(), key, ir.Format(want[key])),
				Actual:   "attribute missing",
			}
		}
		if !ir.Equal(got, want[key]) {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s.%s = %s", e.Ref(), key, ir.Format(want[key])),
				Actual:   ir.Format(got),
			}
		}
	}
	return nil
}

func assertMissing(a Assertion, actx *AssertionContext) error {
	e, err := entity(a, actx)
	if world.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if !e.Destroyed {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s absent or destroyed in %s", e.Ref(), a.Block),
			Actual:   ir.Format(e.Attributes),
		}
	}
	return nil
}

func entity(a Assertion, actx *AssertionContext) (*world.Entity, error) {
	t, err := world.ParseEntityType(a.EntityType)
	if err != nil {
		return nil, err
	}
	return actx.Manager.Entity(actx.Ctx, a.Block, t, a.EntityID)
}

func assertPath(a Assertion, actx *AssertionContext) error {
	got, err := actx.Manager.GetPathToRoot(actx.Ctx, a.Block)
	if err != nil {
		return err
	}
	if !slices.Equal(got, a.Path) {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprint(a.Path), Actual: fmt.Sprint(got)}
	}
	return nil
}

func assertConflict(a Assertion, actx *AssertionContext) error {
	c, err := actx.Manager.GetConflict(actx.Ctx, a.Block)
	if err != nil {
		return err
	}
	got := map[string]int{
		"ai":               len(c.AI),
		"user":             len(c.User),
		"conflicting_ai":   len(c.ConflictingAI),
		"conflicting_user": len(c.ConflictingUser),
	}
	for _, key := range ir.SortedKeys(a.Sizes) {
		n, ok := got[key]
		if !ok {
			return fmt.Errorf("unknown conflict list %q", key)
		}
		if n != a.Sizes[key] {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s has %d operations", key, a.Sizes[key]),
				Actual:   fmt.Sprint(n),
			}
		}
	}
	return nil
}
