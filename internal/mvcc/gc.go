package mvcc

import (
	"sync"

	"github.com/kartikbazzad/corebase/internal/wal"
	"github.com/panjf2000/ants/v2"
)

// gcTask is one unit of work submitted to the GC worker pool: trim one
// collection's version chains against lowWater.
type gcTask struct {
	cs       *collectionState
	lowWater wal.LSN
	wg       *sync.WaitGroup
}

// gcCollection trims every version chain in cs down to lowWater and
// drops any `_id` entry that no snapshot at or after lowWater could ever
// resolve to a live document.
func gcCollection(cs *collectionState, lowWater wal.LSN) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for id, head := range cs.primary {
		trimmed := gcChain(head, lowWater)
		if trimmed == nil {
			delete(cs.primary, id)
			continue
		}
		if trimmed.Next == nil && trimmed.Tombstone && trimmed.CommitTS <= lowWater {
			delete(cs.primary, id)
			continue
		}
		cs.primary[id] = trimmed
	}
}

// GarbageCollect trims every collection's version chains down to the
// oldest watermark still pinned by an open snapshot, removing any
// `_id` whose surviving chain is a single tombstone that no current or
// future snapshot can resolve to a live document (spec §4.3
// garbage_collect, §9 Ownership of versions).
//
// Collections are processed concurrently on a bounded worker pool,
// mirroring the pattern used elsewhere in the codebase for fanning out
// independent per-collection (or per-document) work over a fixed-size
// goroutine pool instead of spawning one goroutine per item.
func (s *Store) GarbageCollect() error {
	low := s.tracker.oldestActive(s.CurrentWatermark())

	s.mu.RLock()
	states := make([]*collectionState, 0, len(s.collections))
	for _, cs := range s.collections {
		states = append(states, cs)
	}
	s.mu.RUnlock()

	if len(states) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	wg.Add(len(states))

	pool, err := ants.NewPoolWithFunc(poolCapacity(len(states)), func(arg interface{}) {
		t := arg.(*gcTask)
		gcCollection(t.cs, t.lowWater)
		t.wg.Done()
	}, ants.WithPanicHandler(func(v interface{}) {
		s.log.Error("mvcc gc worker panic: %v", v)
	}))
	if err != nil {
		// Fall back to running inline; a worker pool failure must never
		// block GC from making progress.
		for _, cs := range states {
			gcCollection(cs, low)
		}
		return nil
	}
	defer pool.Release()

	for _, cs := range states {
		task := &gcTask{cs: cs, lowWater: low, wg: &wg}
		if err := pool.Invoke(task); err != nil {
			wg.Done()
			gcCollection(cs, low)
		}
	}
	wg.Wait()
	return nil
}

func poolCapacity(n int) int {
	if n > 8 {
		return 8
	}
	if n < 1 {
		return 1
	}
	return n
}
