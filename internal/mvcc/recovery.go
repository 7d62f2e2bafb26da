package mvcc

import (
	"fmt"

	"github.com/kartikbazzad/corebase/internal/wal"
)

// Recover brings store up to date on boot: it loads the newest durable
// snapshot under snapshotBaseDir (if any), then replays every WAL record
// strictly newer than that snapshot's LSN by calling store.Apply on each
// (spec §4.3 Recovery). Replay inherits the WAL's own torn-tail/
// non-terminal-corruption distinction (K1/K2) from w.Iterate: a torn tail
// at the very end of the log is silently dropped, while any corruption
// proven non-terminal is returned as a fatal error.
func Recover(store *Store, w *wal.WAL, snapshotBaseDir string) error {
	snapshotLSN, err := store.LoadLatestSnapshot(snapshotBaseDir)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	if err := w.Iterate(snapshotLSN+1, store.Apply); err != nil {
		return fmt.Errorf("replay WAL from lsn %d: %w", snapshotLSN+1, err)
	}

	store.log.Info("recovery complete: watermark=%d", store.CurrentWatermark())
	return nil
}
