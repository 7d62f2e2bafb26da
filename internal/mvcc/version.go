// Package mvcc maintains the authoritative in-memory image of committed
// document versions and the secondary indexes derived from them (spec
// §4.3). It serves snapshot reads and applies writes in WAL order.
package mvcc

import "github.com/kartikbazzad/corebase/internal/wal"

// Version is one committed state of a document, linked in a
// reverse-chronological chain (newest first) by Next.
type Version struct {
	CommitTS  wal.LSN
	Body      map[string]interface{} // nil when Tombstone is true
	Tombstone bool
	SchemaID  string
	Next      *Version // the previous (older) version, nil at chain end
}

// insertVersion links v in front of head, preserving descending CommitTS
// order. Callers are expected to only ever insert a version newer than
// every existing one (WAL apply order), so this is O(1).
func insertVersion(head *Version, v *Version) *Version {
	v.Next = head
	return v
}

// visibleFrom walks the chain starting at head and returns the newest
// version with CommitTS <= snapshot, or nil if none exists or the
// winning version is a tombstone (spec §4.3 visibility rule).
func visibleFrom(head *Version, snapshot wal.LSN) *Version {
	for v := head; v != nil; v = v.Next {
		if v.CommitTS <= snapshot {
			if v.Tombstone {
				return nil
			}
			return v
		}
	}
	return nil
}

// existsLiveAt reports whether a live (non-tombstone) version is visible
// at snapshot, used for insert/update preconditions.
func existsLiveAt(head *Version, snapshot wal.LSN) bool {
	return visibleFrom(head, snapshot) != nil
}

// gcChain keeps every version newer than lowWater plus exactly one
// boundary version — the newest version with CommitTS <= lowWater, which
// is still the visible version for a snapshot taken at lowWater itself —
// and drops everything strictly older than that boundary (spec §4.3,
// §9 Ownership of versions).
func gcChain(head *Version, lowWater wal.LSN) *Version {
	for v := head; v != nil; v = v.Next {
		if v.CommitTS <= lowWater {
			v.Next = nil
			break
		}
	}
	return head
}

func countVersions(head *Version) int {
	n := 0
	for v := head; v != nil; v = v.Next {
		n++
	}
	return n
}
