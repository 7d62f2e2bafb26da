package planner

import (
	"fmt"
	"sort"

	"github.com/kartikbazzad/corebase/internal/errors"
	"github.com/kartikbazzad/corebase/internal/schema"
)

// AccessPath names the strategy the executor must follow to enumerate
// candidate documents (spec §4.4).
type AccessPath string

const (
	PathPrimaryLookup AccessPath = "primary_lookup"
	PathIndexEq       AccessPath = "index_eq"
	PathIndexScan     AccessPath = "index_scan"
	PathCollectionScan AccessPath = "collection_scan"
)

// CostClass is the coarse complexity bucket reported by Explain.
type CostClass string

const (
	CostConstant    CostClass = "O(1)"
	CostLogPlusK    CostClass = "O(log n + k)"
	CostLinear      CostClass = "O(n)"
)

// Plan is the single, deterministic outcome of planning a filter against a
// schema. Residual is the leftover filter (possibly the whole thing) that
// the executor must still evaluate against each candidate document, since
// an access path only ever narrows candidates — it does not guarantee
// every leaf is satisfied.
type Plan struct {
	Path      AccessPath
	IndexName string
	// IndexField is the field the chosen index is keyed on, populated for
	// PathIndexEq and PathIndexScan; the executor uses it to decide
	// whether a caller's order_by agrees with the path's natural order.
	IndexField string
	// PrimaryID is populated only for PathPrimaryLookup.
	PrimaryID interface{}
	// EqKey is populated only for PathIndexEq.
	EqKey interface{}
	// Lower/Upper are populated only for PathIndexScan; either may be nil
	// for an unbounded side.
	Lower, Upper interface{}
	// Limit is populated only for PathCollectionScan and PathIndexScan.
	Limit int

	Residual Expr
	Cost     CostClass
}

// Build chooses exactly one access path for filter against s, following the
// strict, statistics-free selection rule (invariant T1). limit is the
// caller-supplied row cap, or 0 for "no limit requested".
func Build(s *schema.Schema, filter Expr, limit int) (*Plan, error) {
	if err := Admissible(s, filter); err != nil {
		return nil, errors.New(errors.KindValidation, err)
	}

	eqs := topLevelEqualities(filter)
	ranges := topLevelRanges(filter)

	// Rule 1: _id = literal at the top conjunction.
	if id, ok := eqs["_id"]; ok {
		return &Plan{
			Path:      PathPrimaryLookup,
			PrimaryID: id,
			Residual:  filter,
			Cost:      CostConstant,
		}, nil
	}

	// Rule 2: lexicographically first non-primary index whose leading
	// field has a top-level equality leaf.
	if idx, ok := firstIndexFor(s, eqs, schema.IndexBTree); ok {
		return &Plan{
			Path:       PathIndexEq,
			IndexName:  idx.Name,
			IndexField: idx.FieldPath,
			EqKey:      eqs[idx.FieldPath],
			Residual:   filter,
			Cost:       CostLogPlusK,
		}, nil
	}

	// Rule 3: lexicographically first index whose leading field has a
	// top-level range leaf, only if limit is finite.
	if limit > 0 {
		if idx, bound, ok := firstIndexForRange(s, ranges); ok {
			return &Plan{
				Path:       PathIndexScan,
				IndexName:  idx.Name,
				IndexField: idx.FieldPath,
				Lower:      bound.lower,
				Upper:      bound.upper,
				Limit:      limit,
				Residual:   filter,
				Cost:       CostLogPlusK,
			}, nil
		}
	}

	// Rule 4: bounded collection scan.
	if limit > 0 {
		return &Plan{
			Path:     PathCollectionScan,
			Limit:    limit,
			Residual: filter,
			Cost:     CostLinear,
		}, nil
	}

	// Rule 5: no provable bound.
	return nil, errors.New(errors.KindUnboundedQuery, errors.ErrUnboundedQuery)
}

func firstIndexFor(s *schema.Schema, eqs map[string]interface{}, kind schema.IndexKind) (schema.Index, bool) {
	var candidates []schema.Index
	for _, idx := range s.Indexes {
		if idx.Kind != kind {
			continue
		}
		if _, ok := eqs[idx.FieldPath]; ok {
			candidates = append(candidates, idx)
		}
	}
	if len(candidates) == 0 {
		return schema.Index{}, false
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Name < candidates[j].Name })
	return candidates[0], true
}

func firstIndexForRange(s *schema.Schema, ranges map[string]rangeBound) (schema.Index, rangeBound, bool) {
	var candidates []schema.Index
	for _, idx := range s.Indexes {
		if idx.Kind != schema.IndexBTree {
			continue
		}
		if _, ok := ranges[idx.FieldPath]; ok {
			candidates = append(candidates, idx)
		}
	}
	if len(candidates) == 0 {
		return schema.Index{}, rangeBound{}, false
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Name < candidates[j].Name })
	chosen := candidates[0]
	return chosen, ranges[chosen.FieldPath], true
}

// Explain renders a stable, pure-text description of p, naming the access
// path, bounds, index (if any), and projected cost class (spec §4.4
// Explain).
func Explain(p *Plan) string {
	switch p.Path {
	case PathPrimaryLookup:
		return fmt.Sprintf("primary_lookup(_id=%v) cost=%s", p.PrimaryID, p.Cost)
	case PathIndexEq:
		return fmt.Sprintf("index_eq(index=%s, key=%v) cost=%s", p.IndexName, p.EqKey, p.Cost)
	case PathIndexScan:
		return fmt.Sprintf("index_scan(index=%s, lower=%v, upper=%v, limit=%d) cost=%s",
			p.IndexName, boundOrUnbounded(p.Lower), boundOrUnbounded(p.Upper), p.Limit, p.Cost)
	case PathCollectionScan:
		return fmt.Sprintf("collection_scan(limit=%d) cost=%s", p.Limit, p.Cost)
	default:
		return "unknown plan"
	}
}

func boundOrUnbounded(v interface{}) string {
	if v == nil {
		return "-inf/+inf"
	}
	return fmt.Sprintf("%v", v)
}
