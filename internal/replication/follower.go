package replication

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kartikbazzad/corebase/internal/errors"
	"github.com/kartikbazzad/corebase/internal/mvcc"
	"github.com/kartikbazzad/corebase/internal/wal"
)

// Follower consumes a shipped WAL stream from the authority, applies each
// record to its local MVCC store, and advances last_applied_lsn
// (spec §4.6 WAL shipping, §4.6 Visibility). last_applied_lsn is held in
// memory only: it is not written to disk, and a new Follower starts at 0.
type Follower struct {
	store       *mvcc.Store
	lastApplied atomic.Uint64

	mu      sync.Mutex
	waiters []waiter
}

type waiter struct {
	target uint64
	done   chan struct{}
}

func NewFollower(store *mvcc.Store) *Follower {
	return &Follower{store: store}
}

// LastAppliedLSN is the highest lsn this follower has applied since it
// was created.
func (f *Follower) LastAppliedLSN() wal.LSN {
	return wal.LSN(f.lastApplied.Load())
}

// Consume reads shipped records from r until it returns io.EOF or an
// error, verifying each one's checksum (ReadRecord), applying it to the
// store, and advancing last_applied_lsn. Any checksum mismatch halts the
// follower fatally, per invariant R1 — a follower never accepts a torn or
// forged record.
func (f *Follower) Consume(r io.Reader) error {
	for {
		rec, err := ReadRecord(r)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.New(errors.KindCorruption, err)
		}
		if err := f.store.Apply(rec); err != nil {
			return err
		}
		f.advance(uint64(rec.LSN))
	}
}

func (f *Follower) advance(lsn uint64) {
	for {
		cur := f.lastApplied.Load()
		if lsn <= cur {
			break
		}
		if f.lastApplied.CompareAndSwap(cur, lsn) {
			break
		}
	}
	f.mu.Lock()
	remaining := f.waiters[:0]
	for _, w := range f.waiters {
		if uint64(f.lastApplied.Load()) >= w.target {
			close(w.done)
		} else {
			remaining = append(remaining, w)
		}
	}
	f.waiters = remaining
	f.mu.Unlock()
}

// WaitFor blocks until last_applied_lsn >= minLSN, ctx is done, or
// deadline elapses — whichever comes first — implementing the
// read-your-writes guarantee a caller may request of a follower read
// (spec §4.6 Visibility, invariant R2). Returns StaleReplica on timeout.
func (f *Follower) WaitFor(ctx context.Context, minLSN uint64, deadline time.Duration) error {
	if uint64(f.lastApplied.Load()) >= minLSN {
		return nil
	}
	done := make(chan struct{})
	f.mu.Lock()
	f.waiters = append(f.waiters, waiter{target: minLSN, done: done})
	f.mu.Unlock()

	timer := time.NewTimer(deadline)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return errors.New(errors.KindStaleReplica, errors.ErrStaleReplica)
	case <-ctx.Done():
		return ctx.Err()
	}
}
