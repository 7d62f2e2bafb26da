// Package planner chooses exactly one access path for a filter expression
// against a schema's declared indexes, deterministically and without
// statistics (spec §4.4).
package planner

import (
	"fmt"

	"github.com/kartikbazzad/corebase/internal/schema"
)

// Op is a leaf comparison operator.
type Op string

const (
	OpEq     Op = "eq"
	OpLt     Op = "lt"
	OpLe     Op = "le"
	OpGt     Op = "gt"
	OpGe     Op = "ge"
	OpIn     Op = "in"
	OpExists Op = "exists"
)

// Connective joins child expressions.
type Connective string

const (
	ConAnd Connective = "and"
	ConOr  Connective = "or"
	ConNot Connective = "not"
)

// Expr is a boolean filter expression: either a Leaf or a Logical node.
// Exactly one of the two pointer fields is populated.
type Expr struct {
	Leaf    *Leaf
	Logical *Logical
}

// Leaf compares one field against a literal.
type Leaf struct {
	Field    string
	Operator Op
	Literal  interface{}
}

// Logical combines child expressions under a connective. Not expects
// exactly one child.
type Logical struct {
	Connective Connective
	Children   []Expr
}

// And builds a top-level conjunction, the common entry point for a query.
func And(children ...Expr) Expr {
	return Expr{Logical: &Logical{Connective: ConAnd, Children: children}}
}

// Or builds a disjunction.
func Or(children ...Expr) Expr {
	return Expr{Logical: &Logical{Connective: ConOr, Children: children}}
}

// Not negates a single child.
func Not(child Expr) Expr {
	return Expr{Logical: &Logical{Connective: ConNot, Children: []Expr{child}}}
}

// Cmp builds a leaf comparison.
func Cmp(field string, op Op, literal interface{}) Expr {
	return Expr{Leaf: &Leaf{Field: field, Operator: op, Literal: literal}}
}

// Admissible reports whether every leaf in e names a field declared by s.
// _id is always admissible even though it is not listed in Fields — it is
// the implicit primary key of every schema (invariant I2).
func Admissible(s *schema.Schema, e Expr) error {
	if e.Leaf != nil {
		if e.Leaf.Field == "_id" {
			return nil
		}
		if _, ok := s.Fields[e.Leaf.Field]; !ok {
			return fmt.Errorf("field %q is not declared in schema %s", e.Leaf.Field, s.Collection)
		}
		return nil
	}
	for _, child := range e.Logical.Children {
		if err := Admissible(s, child); err != nil {
			return err
		}
	}
	return nil
}

// topLevelEqualities returns, for every leaf directly inside a top-level
// $and conjunction with operator eq, its literal — used by the planner's
// selection rule, which only looks at top-level equality leaves (spec
// §4.4 rule 1 and 2: "at the top conjunction", "top-level equality leaf").
func topLevelEqualities(e Expr) map[string]interface{} {
	out := make(map[string]interface{})
	collectTopLevel(e, func(l *Leaf) {
		if l.Operator == OpEq {
			out[l.Field] = l.Literal
		}
	})
	return out
}

// topLevelRanges returns, for every leaf directly inside a top-level $and
// conjunction with a range operator, its bounds merged per field.
func topLevelRanges(e Expr) map[string]rangeBound {
	out := make(map[string]rangeBound)
	collectTopLevel(e, func(l *Leaf) {
		b := out[l.Field]
		switch l.Operator {
		case OpGt, OpGe:
			b.lower = l.Literal
			b.lowerExclusive = l.Operator == OpGt
			b.hasLower = true
		case OpLt, OpLe:
			b.upper = l.Literal
			b.upperExclusive = l.Operator == OpLt
			b.hasUpper = true
		default:
			return
		}
		out[l.Field] = b
	})
	return out
}

type rangeBound struct {
	hasLower, hasUpper             bool
	lower, upper                   interface{}
	lowerExclusive, upperExclusive bool
}

// collectTopLevel walks only the leaves that are directly inside a chain
// of top-level $and nodes (not inside $or or $not), matching the planner's
// contract that selection only inspects the top conjunction.
func collectTopLevel(e Expr, visit func(*Leaf)) {
	if e.Leaf != nil {
		visit(e.Leaf)
		return
	}
	if e.Logical.Connective == ConAnd {
		for _, child := range e.Logical.Children {
			collectTopLevel(child, visit)
		}
	}
}

// Matches evaluates e against doc, used by the executor for non-indexed
// residual filtering (e.g. leaves not covered by the chosen access path).
func Matches(e Expr, doc map[string]interface{}) bool {
	if e.Leaf != nil {
		return matchLeaf(e.Leaf, doc)
	}
	switch e.Logical.Connective {
	case ConAnd:
		for _, c := range e.Logical.Children {
			if !Matches(c, doc) {
				return false
			}
		}
		return true
	case ConOr:
		for _, c := range e.Logical.Children {
			if Matches(c, doc) {
				return true
			}
		}
		return false
	case ConNot:
		return !Matches(e.Logical.Children[0], doc)
	}
	return false
}

func matchLeaf(l *Leaf, doc map[string]interface{}) bool {
	val, exists := doc[l.Field]
	if l.Operator == OpExists {
		return exists
	}
	if !exists {
		return false
	}
	switch l.Operator {
	case OpEq:
		return compareValues(val, l.Literal) == 0
	case OpLt:
		return compareValues(val, l.Literal) < 0
	case OpLe:
		return compareValues(val, l.Literal) <= 0
	case OpGt:
		return compareValues(val, l.Literal) > 0
	case OpGe:
		return compareValues(val, l.Literal) >= 0
	case OpIn:
		list, ok := l.Literal.([]interface{})
		if !ok {
			return false
		}
		for _, candidate := range list {
			if compareValues(val, candidate) == 0 {
				return true
			}
		}
		return false
	}
	return false
}

// compareValues returns -1/0/1, comparing numerically when both operands
// coerce to float64 and falling back to string comparison otherwise.
func compareValues(a, b interface{}) int {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			default:
				return 0
			}
		}
	}
	sa, sb := fmt.Sprintf("%v", a), fmt.Sprintf("%v", b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	default:
		return 0
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}
