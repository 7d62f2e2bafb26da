// Package executor runs a planner.Plan against an MVCC snapshot, applying
// RLS, ordering, and limit, and drives the write path (spec §4.5).
package executor

import (
	"sort"
	"sync/atomic"

	"github.com/kartikbazzad/corebase/internal/errors"
	"github.com/kartikbazzad/corebase/internal/mvcc"
	"github.com/kartikbazzad/corebase/internal/planner"
	"github.com/kartikbazzad/corebase/internal/schema"
	"github.com/kartikbazzad/corebase/internal/wal"
)

// Predicate is the opaque row-level-security callable supplied by an
// upstream auth layer. The executor never interprets it — it is evaluated
// against every candidate document before that document may be returned.
// ServiceRolePredicate is the identity function, the only sanctioned way
// to bypass per-row filtering.
type Predicate func(doc map[string]interface{}) bool

// ServiceRolePredicate grants visibility to every candidate document.
func ServiceRolePredicate(map[string]interface{}) bool { return true }

// OrderBy requests a specific sort order on the result set.
type OrderBy struct {
	Field string
	Asc   bool
}

// Executor binds a schema registry, MVCC store, and WAL together to serve
// reads and drive the write path for one node.
type Executor struct {
	store *mvcc.Store
	wal   *wal.WAL
	reg   *schema.Registry

	writesStopped atomic.Bool
}

// New builds an Executor over store, w, and reg.
func New(store *mvcc.Store, w *wal.WAL, reg *schema.Registry) *Executor {
	return &Executor{store: store, wal: w, reg: reg}
}

// BeginSnapshot pins the store's current watermark against garbage
// collection and returns it, for a caller that wants a stable read across
// more than one Query call.
func (ex *Executor) BeginSnapshot() wal.LSN { return ex.store.BeginSnapshot() }

// ReleaseSnapshot unpins a snapshot previously returned by BeginSnapshot.
func (ex *Executor) ReleaseSnapshot(ts wal.LSN) { ex.store.ReleaseSnapshot(ts) }

// CurrentWatermark is the LSN a write issued right now would become
// visible at.
func (ex *Executor) CurrentWatermark() wal.LSN { return ex.store.CurrentWatermark() }

// StopAcceptingWrites rejects every subsequent Insert/Update/Delete with
// a precondition error. This is the authority side of promotion's
// Draining state (spec §4.6: "authority stops accepting writes and
// flushes the WAL tail").
func (ex *Executor) StopAcceptingWrites() { ex.writesStopped.Store(true) }

// ResumeAcceptingWrites reverses StopAcceptingWrites. The promotion
// protocol does not call it: writes stopped by a promotion attempt that
// fails after Draining stay stopped.
func (ex *Executor) ResumeAcceptingWrites() { ex.writesStopped.Store(false) }

// FlushTail is a no-op beyond what Insert/Update/Delete already guarantee:
// every WAL append is fsynced before it returns (invariant D1), so there
// is never a buffered tail left to flush once writes have stopped.
func (ex *Executor) FlushTail() error { return nil }

// Query executes plan against snapshot, honoring rls, orderBy, and limit
// (spec §4.5 Ordering). orderBy may be nil to accept the plan's natural
// order. limit of 0 means "no explicit cap beyond the plan's own".
func (ex *Executor) Query(collection string, plan *planner.Plan, snapshot wal.LSN, rls Predicate, orderBy *OrderBy, limit int) ([]map[string]interface{}, error) {
	ids, naturalField, err := ex.candidateIDs(collection, plan, snapshot)
	if err != nil {
		return nil, err
	}

	// The chosen access path's own order is always ascending by
	// naturalField; a sort is only avoidable when the caller asked for
	// exactly that.
	needsSort := orderBy != nil && (orderBy.Field != naturalField || !orderBy.Asc)
	if needsSort && limit <= 0 {
		return nil, errors.New(errors.KindValidation, errors.ErrUnboundedQuery)
	}

	bufCap := limit + 1
	if limit <= 0 {
		bufCap = 0
	}

	var out []map[string]interface{}
	for _, id := range ids {
		doc, ok, err := ex.store.Get(snapshot, collection, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if !planner.Matches(plan.Residual, doc) {
			continue
		}
		if !rls(doc) {
			continue
		}
		out = append(out, doc)
		if !needsSort && limit > 0 && len(out) >= limit {
			break
		}
		if needsSort && bufCap > 0 && len(out) > bufCap {
			out = out[:bufCap]
		}
	}

	if needsSort {
		sort.SliceStable(out, func(i, j int) bool {
			cmp := compareField(out[i], out[j], orderBy.Field)
			if orderBy.Asc {
				return cmp < 0
			}
			return cmp > 0
		})
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
	}

	return out, nil
}

// candidateIDs enumerates the `_id`s the chosen access path produces, in
// that path's natural ascending order, and reports the field that order
// is keyed on (spec §4.5 Ordering) so Query can tell whether a caller's
// order_by agrees with it and skip an unnecessary sort.
func (ex *Executor) candidateIDs(collection string, plan *planner.Plan, snapshot wal.LSN) ([]string, string, error) {
	switch plan.Path {
	case planner.PathPrimaryLookup:
		id, ok := plan.PrimaryID.(string)
		if !ok {
			return nil, "_id", nil
		}
		return []string{id}, "_id", nil
	case planner.PathIndexEq:
		ids, err := ex.store.IndexEq(collection, plan.IndexName, plan.EqKey)
		return ids, plan.IndexField, err
	case planner.PathIndexScan:
		ids, err := ex.store.IndexScan(collection, plan.IndexName, plan.Lower, plan.Upper)
		return ids, plan.IndexField, err
	case planner.PathCollectionScan:
		ids, err := ex.store.CollectionScan(snapshot, collection)
		if err != nil {
			return nil, "_id", err
		}
		if plan.Limit > 0 && len(ids) > plan.Limit {
			ids = ids[:plan.Limit]
		}
		return ids, "_id", nil
	default:
		return nil, "_id", nil
	}
}

func compareField(a, b map[string]interface{}, field string) int {
	av, aok := a[field]
	bv, bok := b[field]
	if !aok || !bok {
		return 0
	}
	if fa, ok := toFloat(av); ok {
		if fb, ok := toFloat(bv); ok {
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
	sa, saok := av.(string)
	sb, sbok := bv.(string)
	if saok && sbok {
		switch {
		case sa < sb:
			return -1
		case sa > sb:
			return 1
		default:
			return 0
		}
	}
	return 0
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	}
	return 0, false
}
