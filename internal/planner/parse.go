package planner

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseFilter parses a MongoDB-style unstructured filter document (e.g.
// {"age": {"$gt": 25}, "status": "active"}) into an Expr, implicitly
// conjoining every top-level key the way a bare filter document is
// always understood as a conjunction. Grounded on
// bundoc/internal/query.Parse, adapted to build this package's Expr
// instead of its Node/Matcher pair.
func ParseFilter(raw json.RawMessage) (Expr, error) {
	if len(raw) == 0 {
		return And(), nil
	}
	var query map[string]interface{}
	if err := json.Unmarshal(raw, &query); err != nil {
		return Expr{}, fmt.Errorf("parse filter: %w", err)
	}
	return parseMap(query)
}

func parseMap(query map[string]interface{}) (Expr, error) {
	var children []Expr
	for key, val := range query {
		switch key {
		case "$and", "$or":
			list, ok := val.([]interface{})
			if !ok {
				return Expr{}, fmt.Errorf("value for %s must be an array", key)
			}
			var sub []Expr
			for _, item := range list {
				itemMap, ok := item.(map[string]interface{})
				if !ok {
					return Expr{}, fmt.Errorf("element of %s must be an object", key)
				}
				child, err := parseMap(itemMap)
				if err != nil {
					return Expr{}, err
				}
				sub = append(sub, child)
			}
			if key == "$and" {
				children = append(children, And(sub...))
			} else {
				children = append(children, Or(sub...))
			}
		case "$not":
			sub, ok := val.(map[string]interface{})
			if !ok {
				return Expr{}, fmt.Errorf("value for $not must be an object")
			}
			child, err := parseMap(sub)
			if err != nil {
				return Expr{}, err
			}
			children = append(children, Not(child))
		default:
			leaf, err := parseFieldValue(key, val)
			if err != nil {
				return Expr{}, err
			}
			children = append(children, leaf)
		}
	}
	return And(children...), nil
}

func parseFieldValue(field string, val interface{}) (Expr, error) {
	opMap, ok := val.(map[string]interface{})
	if !ok {
		return Cmp(field, OpEq, val), nil
	}
	// A field value shaped as an object is either an operator map like
	// {"$gt": 25} or, rarely, a literal object to compare for equality —
	// the operator map form wins whenever every key starts with "$".
	for key := range opMap {
		if !strings.HasPrefix(key, "$") {
			return Cmp(field, OpEq, val), nil
		}
	}
	var children []Expr
	for op, opVal := range opMap {
		parsed, err := parseOperator(field, op, opVal)
		if err != nil {
			return Expr{}, err
		}
		children = append(children, parsed)
	}
	if len(children) == 0 {
		return Cmp(field, OpEq, val), nil
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return And(children...), nil
}

func parseOperator(field, op string, val interface{}) (Expr, error) {
	switch op {
	case "$eq":
		return Cmp(field, OpEq, val), nil
	case "$gt":
		return Cmp(field, OpGt, val), nil
	case "$gte":
		return Cmp(field, OpGe, val), nil
	case "$lt":
		return Cmp(field, OpLt, val), nil
	case "$lte":
		return Cmp(field, OpLe, val), nil
	case "$in":
		return Cmp(field, OpIn, val), nil
	case "$exists":
		return Cmp(field, OpExists, val), nil
	default:
		return Expr{}, fmt.Errorf("unknown filter operator %q", op)
	}
}
