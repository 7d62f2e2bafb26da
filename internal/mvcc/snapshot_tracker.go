package mvcc

import (
	"sync"

	"github.com/kartikbazzad/corebase/internal/wal"
)

// snapshotTracker reference-counts every currently open snapshot so the
// garbage collector knows the oldest watermark it must not trim past
// (spec §4.3 "pins the minimum live version through reference counting
// on active snapshots").
type snapshotTracker struct {
	mu     sync.Mutex
	active map[wal.LSN]int
}

func newSnapshotTracker() *snapshotTracker {
	return &snapshotTracker{active: make(map[wal.LSN]int)}
}

func (t *snapshotTracker) acquire(ts wal.LSN) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[ts]++
}

func (t *snapshotTracker) release(ts wal.LSN) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.active[ts]; ok {
		if n <= 1 {
			delete(t.active, ts)
		} else {
			t.active[ts] = n - 1
		}
	}
}

// oldestActive returns the lowest ts still referenced by an open
// snapshot, or fallback if none are open.
func (t *snapshotTracker) oldestActive(fallback wal.LSN) wal.LSN {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.active) == 0 {
		return fallback
	}
	oldest := fallback
	first := true
	for ts := range t.active {
		if first || ts < oldest {
			oldest = ts
			first = false
		}
	}
	return oldest
}
