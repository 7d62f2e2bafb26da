package wal

import (
	"fmt"

	corebaseerrors "github.com/kartikbazzad/corebase/internal/errors"
)

// Iterate replays every record with LSN >= fromLSN, in order, across all
// segments, invoking fn for each one. It is used both for MVCC recovery
// (replaying the tail of the log after loading the newest snapshot) and
// for shipping records to a follower (spec §4.3).
//
// If fn returns an error, iteration stops and that error is returned
// unwrapped. A torn tail encountered in the newest segment ends
// iteration cleanly (nil error); non-terminal corruption in an earlier
// segment is fatal (K1/K2).
func (w *WAL) Iterate(fromLSN LSN, fn func(Record) error) error {
	ids, err := listSegmentIDs(w.dir)
	if err != nil {
		return err
	}

	for i, id := range ids {
		seg, firstLSN, err := openSegmentForAppend(w.dir, id, w.maxSegmentSize)
		if err != nil {
			return fmt.Errorf("iterate: open segment %d: %w", id, err)
		}
		isLast := i == len(ids)-1

		_, _, endedCleanly, err := walkSegmentFrames(seg, firstLSN, func(rec Record) error {
			if rec.LSN < fromLSN {
				return nil
			}
			return fn(rec)
		})
		seg.close()
		if err != nil {
			// walkSegmentFrames only errors when it proved a later frame
			// still decodes: non-terminal corruption, fatal regardless of
			// segment position.
			return err
		}
		if !endedCleanly && !isLast {
			return corebaseerrors.New(corebaseerrors.KindCorruption,
				fmt.Errorf("torn frame in non-final WAL segment %d: %w", id, corebaseerrors.ErrWALCorrupt))
		}
	}
	return nil
}
