package ir

import (
	"errors"
	"fmt"
	"math"
)

// ErrIncompatible is returned when an operator is not defined for the
// operand kinds.
var ErrIncompatible = errors.New("incompatible operands")

// ErrOutOfRange is returned when a numeric result overflows int64 or is not
// a finite float.
var ErrOutOfRange = errors.New("result out of range")

func incompatible(op string, cur, operand Value) error {
	return fmt.Errorf("%w: %s %s %s", ErrIncompatible, kindOf(cur), op, kindOf(operand))
}

func addInts(a, b Int) (Value, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return nil, fmt.Errorf("%w: %d + %d", ErrOutOfRange, a, b)
	}
	return sum, nil
}

func subInts(a, b Int) (Value, error) {
	diff := a - b
	if (b > 0 && diff > a) || (b < 0 && diff < a) {
		return nil, fmt.Errorf("%w: %d - %d", ErrOutOfRange, a, b)
	}
	return diff, nil
}

func finite(op string, f float64) (Value, error) {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return nil, fmt.Errorf("%w: %s gives %v", ErrOutOfRange, op, f)
	}
	return Float(f), nil
}

func kindOf(v Value) Kind {
	if v == nil {
		return KindNull
	}
	return v.Kind()
}

// Add combines cur with operand:
//
//	int + int         -> int, ErrOutOfRange on overflow
//	int/float mix     -> float, ErrOutOfRange unless finite
//	string + string   -> concatenation
//	list + list       -> append elements not already present
//	list + x          -> append x if not already present
//	object + object   -> shallow merge, operand wins
//
// Neither input is modified.
func Add(cur, operand Value) (Value, error) {
	switch c := cur.(type) {
	case Int:
		switch o := operand.(type) {
		case Int:
			return addInts(c, o)
		case Float:
			return finite("+", float64(c)+float64(o))
		}
	case Float:
		switch o := operand.(type) {
		case Int:
			return finite("+", float64(c)+float64(o))
		case Float:
			return finite("+", float64(c)+float64(o))
		}
	case String:
		if o, ok := operand.(String); ok {
			return c + o, nil
		}
	case List:
		out := c.Clone()
		items := List{operand}
		if o, ok := operand.(List); ok {
			items = o
		}
		for _, item := range items {
			if !out.Contains(item) {
				out = append(out, Clone(item))
			}
		}
		return out, nil
	case Object:
		if o, ok := operand.(Object); ok {
			out := c.Clone()
			for k, v := range o {
				out[k] = Clone(v)
			}
			return out, nil
		}
	}
	return nil, incompatible("+", cur, operand)
}

// Subtract removes operand from cur:
//
//	int - int         -> int, ErrOutOfRange on overflow
//	int/float mix     -> float, ErrOutOfRange unless finite
//	list - list       -> remove every element equal to one in operand
//	list - x          -> remove every element equal to x
//	object - string   -> remove that key
//	object - [string] -> remove each key
//
// Neither input is modified.
func Subtract(cur, operand Value) (Value, error) {
	switch c := cur.(type) {
	case Int:
		switch o := operand.(type) {
		case Int:
			return subInts(c, o)
		case Float:
			return finite("-", float64(c)-float64(o))
		}
	case Float:
		switch o := operand.(type) {
		case Int:
			return finite("-", float64(c)-float64(o))
		case Float:
			return finite("-", float64(c)-float64(o))
		}
	case List:
		drop := List{operand}
		if o, ok := operand.(List); ok {
			drop = o
		}
		out := make(List, 0, len(c))
		for _, item := range c {
			if !drop.Contains(item) {
				out = append(out, Clone(item))
			}
		}
		return out, nil
	case Object:
		var keys []string
		switch o := operand.(type) {
		case String:
			keys = []string{string(o)}
		case List:
			for _, item := range o {
				s, ok := item.(String)
				if !ok {
					return nil, incompatible("-", cur, operand)
				}
				keys = append(keys, string(s))
			}
		default:
			return nil, incompatible("-", cur, operand)
		}
		out := c.Clone()
		for _, k := range keys {
			delete(out, k)
		}
		return out, nil
	}
	return nil, incompatible("-", cur, operand)
}

// Contains reports whether the list holds an element equal to v.
func (l List) Contains(v Value) bool {
	for _, item := range l {
		if Equal(item, v) {
			return true
		}
	}
	return false
}
