package mvcc

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/kartikbazzad/corebase/internal/errors"
	"github.com/kartikbazzad/corebase/internal/logger"
	"github.com/kartikbazzad/corebase/internal/schema"
	"github.com/kartikbazzad/corebase/internal/wal"
)

// collectionState holds one collection's primary map and derived
// secondary indexes, guarded by its own lock so that mutation is
// serialized per-collection while reads elsewhere proceed lock-free
// against their own snapshot (spec §5 "Shared resources").
type collectionState struct {
	mu      sync.RWMutex
	primary map[string]*Version // _id -> newest version (chain head)
	indexes map[string]*secondaryIndex
	schema  *schema.Schema
}

func newCollectionState(s *schema.Schema) *collectionState {
	cs := &collectionState{
		primary: make(map[string]*Version),
		indexes: make(map[string]*secondaryIndex),
		schema:  s,
	}
	for _, idx := range s.Indexes {
		if idx.Kind == schema.IndexBTree {
			cs.indexes[idx.Name] = newSecondaryIndex(idx.Name, idx.FieldPath, idx.Unique)
		}
	}
	return cs
}

// Store is the in-memory primary image of committed document versions,
// backed by the WAL and periodic snapshots (spec §4.3).
type Store struct {
	mu          sync.RWMutex // guards collections map membership only
	collections map[string]*collectionState
	registry    *schema.Registry
	tracker     *snapshotTracker
	lastApplied atomic.Uint64 // wal.LSN of the newest applied record
	log         *logger.Logger
}

// NewStore builds an empty Store with one collectionState per schema
// registered in reg.
func NewStore(reg *schema.Registry, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Default()
	}
	s := &Store{
		collections: make(map[string]*collectionState),
		registry:    reg,
		tracker:     newSnapshotTracker(),
		log:         log,
	}
	for _, name := range reg.Collections() {
		sch, _ := reg.Get(name)
		s.collections[name] = newCollectionState(sch)
	}
	return s
}

func (s *Store) collection(name string) (*collectionState, error) {
	s.mu.RLock()
	cs, ok := s.collections[name]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.New(errors.KindValidation, errors.ErrUnknownCollection)
	}
	return cs, nil
}

// CurrentWatermark is the LSN of the newest applied record, i.e. the
// snapshot a write should be immediately visible at on this node.
func (s *Store) CurrentWatermark() wal.LSN {
	return wal.LSN(s.lastApplied.Load())
}

// BeginSnapshot captures the current committed watermark and pins it
// against garbage collection until ReleaseSnapshot is called.
func (s *Store) BeginSnapshot() wal.LSN {
	ts := s.CurrentWatermark()
	s.tracker.acquire(ts)
	return ts
}

// ReleaseSnapshot unpins a snapshot previously returned by BeginSnapshot.
func (s *Store) ReleaseSnapshot(ts wal.LSN) {
	s.tracker.release(ts)
}

// Get returns the document visible at snapshot for (collection, id), or
// ok=false if no live version is visible.
func (s *Store) Get(snapshot wal.LSN, collection, id string) (map[string]interface{}, bool, error) {
	cs, err := s.collection(collection)
	if err != nil {
		return nil, false, err
	}
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	v := visibleFrom(cs.primary[id], snapshot)
	if v == nil {
		return nil, false, nil
	}
	return v.Body, true, nil
}

// ExistsLive reports whether a live version of (collection, id) is
// visible at the current watermark — the precondition check the
// executor performs before appending an insert or update/delete record
// (spec §4.5 Writes).
func (s *Store) ExistsLive(collection, id string) (bool, error) {
	cs, err := s.collection(collection)
	if err != nil {
		return false, err
	}
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return existsLiveAt(cs.primary[id], s.CurrentWatermark()), nil
}

// Apply installs the effect of rec into the store. It is idempotent by
// LSN: a record whose LSN is not strictly newer than the current
// watermark is a no-op, so replaying the same WAL tail twice (recovery,
// or a follower re-applying after a reconnect) is always safe.
func (s *Store) Apply(rec wal.Record) error {
	if rec.LSN <= wal.LSN(s.lastApplied.Load()) {
		return nil
	}

	switch rec.Kind {
	case wal.KindInsert, wal.KindUpdate, wal.KindDelete:
		op, err := decodeOperation(rec.Payload)
		if err != nil {
			return errors.New(errors.KindCorruption, err)
		}
		cs, err := s.collection(op.Collection)
		if err != nil {
			return err
		}
		s.applyOperation(cs, rec, op)
	case wal.KindCheckpointBegin, wal.KindCheckpointEnd, wal.KindPromotionMarker:
		// No MVCC-level effect; these mark checkpoint and promotion
		// boundaries for the snapshot and replication subsystems.
	}

	s.advanceWatermark(rec.LSN)
	return nil
}

func (s *Store) advanceWatermark(lsn wal.LSN) {
	for {
		cur := s.lastApplied.Load()
		if uint64(lsn) <= cur {
			return
		}
		if s.lastApplied.CompareAndSwap(cur, uint64(lsn)) {
			return
		}
	}
}

func (s *Store) applyOperation(cs *collectionState, rec wal.Record, op Operation) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	prior := cs.primary[op.ID]
	var oldBody map[string]interface{}
	if prior != nil && !prior.Tombstone {
		oldBody = prior.Body
	}

	v := &Version{CommitTS: rec.LSN, SchemaID: op.SchemaID}
	switch rec.Kind {
	case wal.KindInsert, wal.KindUpdate:
		v.Body = op.Body
	case wal.KindDelete:
		v.Tombstone = true
	}
	cs.primary[op.ID] = insertVersion(prior, v)

	s.reindex(cs, op.ID, oldBody, v)
}

// reindex updates every secondary index to reflect a document's old and
// new live value (spec invariant I4: index entries correspond to the
// latest visible version).
func (s *Store) reindex(cs *collectionState, id string, oldBody map[string]interface{}, newVersion *Version) {
	for _, idx := range cs.indexes {
		if oldBody != nil {
			if raw, ok := oldBody[idx.fieldPath]; ok {
				if key, ok := encodeIndexKey(raw); ok {
					idx.remove(key, id)
				}
			}
		}
		if !newVersion.Tombstone && newVersion.Body != nil {
			if raw, ok := newVersion.Body[idx.fieldPath]; ok {
				if key, ok := encodeIndexKey(raw); ok {
					idx.put(key, id)
				}
			}
		}
	}
}

// IndexEq returns the `_id`s whose value under the named index equals
// key (spec §4.4 index_eq access path).
func (s *Store) IndexEq(collection, indexName string, key interface{}) ([]string, error) {
	cs, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	encoded, ok := encodeIndexKey(key)
	if !ok {
		return nil, nil
	}
	cs.mu.RLock()
	idx, ok := cs.indexes[indexName]
	cs.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return idx.eq(encoded), nil
}

// IndexScan returns the `_id`s whose value under the named index falls
// within [lower, upper] (either may be nil for unbounded), in ascending
// index order (spec §4.4 index_scan access path).
func (s *Store) IndexScan(collection, indexName string, lower, upper interface{}) ([]string, error) {
	cs, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	cs.mu.RLock()
	idx, ok := cs.indexes[indexName]
	cs.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var lo, hi string
	if lower != nil {
		lo, _ = encodeIndexKey(lower)
	}
	if upper != nil {
		hi, _ = encodeIndexKey(upper)
	}
	return idx.scan(lo, hi), nil
}

// CollectionScan returns every live `_id` in collection at snapshot, in
// ascending `_id` order (spec §4.5 Ordering).
func (s *Store) CollectionScan(snapshot wal.LSN, collection string) ([]string, error) {
	cs, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	var ids []string
	for id, head := range cs.primary {
		if visibleFrom(head, snapshot) != nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
