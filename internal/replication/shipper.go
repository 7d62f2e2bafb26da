package replication

import (
	"io"

	"github.com/kartikbazzad/corebase/internal/wal"
)

// Shipper streams an authority's WAL to a connected follower, starting
// from the follower's reported last_applied_lsn (spec §4.6 WAL shipping).
type Shipper struct {
	w *wal.WAL
}

func NewShipper(w *wal.WAL) *Shipper {
	return &Shipper{w: w}
}

// StreamFrom writes every record with lsn >= fromLSN, in order, onto out.
// It inherits the WAL's own torn-tail/corruption distinction from
// Iterate: a benign torn tail at the end of the log simply ends the
// stream, while proven non-terminal corruption is returned as an error.
func (s *Shipper) StreamFrom(fromLSN wal.LSN, out io.Writer) error {
	return s.w.Iterate(fromLSN, func(rec wal.Record) error {
		return WriteRecord(out, rec)
	})
}
