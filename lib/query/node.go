package query

import (
	"bytes"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/aspendb/aspen/lib/object"
)

// --------------------------------------------------------------------------
// Predicate tree
// --------------------------------------------------------------------------

// Op identifies one predicate node kind
type Op string

const (
	OpEq       Op = "eq"
	OpNe       Op = "ne"
	OpLt       Op = "lt"
	OpLe       Op = "le"
	OpGt       Op = "gt"
	OpGe       Op = "ge"
	OpPrefix   Op = "prefix"
	OpContains Op = "contains"
	OpAnd      Op = "and"
	OpOr       Op = "or"
	OpNot      Op = "not"
)

// Node is one predicate tree node. Leaves compare a property against a
// value, inner nodes combine their children. The tree serializes to JSON
// for remote queries.
type Node struct {
	Op    Op          `json:"op"`
	Prop  string      `json:"prop,omitempty"`
	Value interface{} `json:"value,omitempty"`
	Kids  []*Node     `json:"kids,omitempty"`
}

// leaf constructors

func Eq(prop string, v interface{}) *Node { return &Node{Op: OpEq, Prop: prop, Value: v} }
func Ne(prop string, v interface{}) *Node { return &Node{Op: OpNe, Prop: prop, Value: v} }
func Lt(prop string, v interface{}) *Node { return &Node{Op: OpLt, Prop: prop, Value: v} }
func Le(prop string, v interface{}) *Node { return &Node{Op: OpLe, Prop: prop, Value: v} }
func Gt(prop string, v interface{}) *Node { return &Node{Op: OpGt, Prop: prop, Value: v} }
func Ge(prop string, v interface{}) *Node { return &Node{Op: OpGe, Prop: prop, Value: v} }
func Prefix(prop, p string) *Node         { return &Node{Op: OpPrefix, Prop: prop, Value: p} }
func Contains(prop, substr string) *Node  { return &Node{Op: OpContains, Prop: prop, Value: substr} }

// combinators

func And(kids ...*Node) *Node { return &Node{Op: OpAnd, Kids: kids} }
func Or(kids ...*Node) *Node  { return &Node{Op: OpOr, Kids: kids} }
func Not(kid *Node) *Node     { return &Node{Op: OpNot, Kids: []*Node{kid}} }

// Match evaluates the predicate against one record. Absent properties
// never match a leaf predicate.
func (n *Node) Match(rec object.Record) (bool, error) {
	if n == nil {
		return true, nil
	}

	switch n.Op {
	case OpAnd:
		for _, kid := range n.Kids {
			ok, err := kid.Match(rec)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	case OpOr:
		for _, kid := range n.Kids {
			ok, err := kid.Match(rec)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case OpNot:
		if len(n.Kids) != 1 {
			return false, errors.New("query: not takes exactly one child")
		}
		ok, err := n.Kids[0].Match(rec)
		return !ok, err

	case OpPrefix, OpContains:
		v, present := rec[n.Prop]
		if !present {
			return false, nil
		}
		s, ok := v.(string)
		if !ok {
			return false, errors.Errorf("query: %s requires a string property, %s is %T", n.Op, n.Prop, v)
		}
		want, ok := n.Value.(string)
		if !ok {
			return false, errors.Errorf("query: %s requires a string value, got %T", n.Op, n.Value)
		}
		if n.Op == OpPrefix {
			return strings.HasPrefix(s, want), nil
		}
		return strings.Contains(s, want), nil

	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		v, present := rec[n.Prop]
		if !present {
			return false, nil
		}
		cmp, err := compareValues(v, n.Value)
		if err != nil {
			return false, errors.Wrapf(err, "property %s", n.Prop)
		}
		switch n.Op {
		case OpEq:
			return cmp == 0, nil
		case OpNe:
			return cmp != 0, nil
		case OpLt:
			return cmp < 0, nil
		case OpLe:
			return cmp <= 0, nil
		case OpGt:
			return cmp > 0, nil
		default:
			return cmp >= 0, nil
		}

	default:
		return false, errors.Errorf("query: unknown op %q", n.Op)
	}
}

// validate checks the tree structure without evaluating it
func (n *Node) validate() error {
	if n == nil {
		return nil
	}

	switch n.Op {
	case OpAnd, OpOr:
		if len(n.Kids) == 0 {
			return errors.Errorf("query: %s needs at least one child", n.Op)
		}
	case OpNot:
		if len(n.Kids) != 1 {
			return errors.New("query: not takes exactly one child")
		}
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe, OpPrefix, OpContains:
		if n.Prop == "" {
			return errors.Errorf("query: %s needs a property", n.Op)
		}
		if len(n.Kids) != 0 {
			return errors.Errorf("query: %s takes no children", n.Op)
		}
	default:
		return errors.Errorf("query: unknown op %q", n.Op)
	}

	for _, kid := range n.Kids {
		if err := kid.validate(); err != nil {
			return err
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Typed comparison
// --------------------------------------------------------------------------

// compareValues orders two property values. Numeric kinds compare across
// int and float so predicates deserialized from JSON (where every number
// is a float64) still match int properties.
func compareValues(a, b interface{}) (int, error) {
	// Integer against integer compares exactly. Going through float64 would
	// collapse values that differ only beyond 53 bits.
	if ai, aok := asInt(a); aok {
		if bi, bok := asInt(b); bok {
			switch {
			case ai < bi:
				return -1, nil
			case ai > bi:
				return 1, nil
			default:
				return 0, nil
			}
		}
	}

	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		if !bok {
			return 0, errors.Errorf("cannot compare number with %T", b)
		}
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		default:
			return 0, nil
		}
	}

	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, errors.Errorf("cannot compare string with %T", b)
		}
		return strings.Compare(x, y), nil

	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, errors.Errorf("cannot compare bool with %T", b)
		}
		switch {
		case x == y:
			return 0, nil
		case !x:
			return -1, nil
		default:
			return 1, nil
		}

	case []byte:
		y, ok := b.([]byte)
		if !ok {
			return 0, errors.Errorf("cannot compare bytes with %T", b)
		}
		return bytes.Compare(x, y), nil

	case time.Time:
		y, ok := b.(time.Time)
		if !ok {
			return 0, errors.Errorf("cannot compare time with %T", b)
		}
		switch {
		case x.Before(y):
			return -1, nil
		case x.After(y):
			return 1, nil
		default:
			return 0, nil
		}

	default:
		return 0, errors.Errorf("unsupported comparison type %T", a)
	}
}

func asInt(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	}
	return 0, false
}

func asFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}
