package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"

	corebaseerrors "github.com/kartikbazzad/corebase/internal/errors"
	"github.com/kartikbazzad/corebase/internal/logger"
)

var segmentNamePattern = regexp.MustCompile(`^(\d{12})\.wal$`)

// WAL is the append-only log manager: one active segment, an append
// mutex that serializes both LSN assignment and the write+fsync of each
// appended record (spec §4.1, §5).
type WAL struct {
	mu             sync.Mutex
	dir            string
	active         *segment
	nextLSN        LSN
	maxSegmentSize int64
	log            *logger.Logger
}

const defaultMaxSegmentSize = 64 * 1024 * 1024

// Open opens (or creates) the WAL directory at dir, recovering the tail
// of the log so that appends resume cleanly after any prior crash. It
// never replays record contents into a caller-visible form — that is
// Iterate's job — it only determines where new appends may safely begin.
func Open(dir string, maxSegmentSizeMB uint64, log *logger.Logger) (*WAL, error) {
	if log == nil {
		log = logger.Default()
	}
	maxSize := int64(maxSegmentSizeMB) * 1024 * 1024
	if maxSize <= 0 {
		maxSize = defaultMaxSegmentSize
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create WAL directory: %w", err)
	}

	ids, err := listSegmentIDs(dir)
	if err != nil {
		return nil, err
	}

	w := &WAL{dir: dir, maxSegmentSize: maxSize, log: log}

	if len(ids) == 0 {
		seg, err := createSegment(dir, 1, 1, maxSize)
		if err != nil {
			return nil, err
		}
		w.active = seg
		w.nextLSN = 1
		return w, nil
	}

	lastLSN, lastID, lastGoodOffset, fullySealed, err := recoverTail(dir, ids, maxSize)
	if err != nil {
		return nil, err
	}

	if fullySealed {
		seg, err := createSegment(dir, lastID+1, lastLSN+1, maxSize)
		if err != nil {
			return nil, err
		}
		w.active = seg
		w.nextLSN = lastLSN + 1
		log.Info("WAL recovered: last lsn=%d, opened fresh segment %d", lastLSN, lastID+1)
		return w, nil
	}

	seg, _, err := openSegmentForAppend(dir, lastID, maxSize)
	if err != nil {
		return nil, err
	}
	if err := seg.file.Truncate(lastGoodOffset); err != nil {
		seg.close()
		return nil, fmt.Errorf("truncate torn tail of segment %d: %w", lastID, err)
	}
	seg.size = lastGoodOffset
	w.active = seg
	w.nextLSN = lastLSN + 1
	log.Info("WAL recovered: last lsn=%d, resuming segment %d at offset %d", lastLSN, lastID, lastGoodOffset)
	return w, nil
}

func listSegmentIDs(dir string) ([]SegmentID, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list WAL segments: %w", err)
	}
	var ids []SegmentID
	for _, e := range entries {
		m := segmentNamePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, SegmentID(n))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Append frames (kind, payload), assigns the next LSN under the append
// mutex, writes it to the active segment, rolling to a new segment first
// if there is no room, and fsyncs before returning — invariant D1,
// fsync-before-ack.
func (w *WAL) Append(kind Kind, payload []byte) (LSN, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	frame := encodeFrame(kind, payload)
	if int64(len(frame)) > w.active.remaining() {
		if err := w.rotateLocked(); err != nil {
			return 0, err
		}
	}
	if int64(len(frame)) > w.maxSegmentSize-segmentHeaderSize {
		return 0, fmt.Errorf("record of %d bytes exceeds max segment size", len(frame))
	}

	lsn := w.nextLSN
	if err := w.active.appendFrame(frame); err != nil {
		return 0, corebaseerrors.New(corebaseerrors.KindIOTransient, err)
	}
	if err := w.active.sync(); err != nil {
		return 0, corebaseerrors.New(corebaseerrors.KindIOTransient, fmt.Errorf("fsync: %w", err))
	}
	w.nextLSN++
	return lsn, nil
}

func (w *WAL) rotateLocked() error {
	if err := w.active.sealWithZeroPad(); err != nil {
		return err
	}
	if err := w.active.close(); err != nil {
		return err
	}
	next, err := createSegment(w.dir, w.active.id+1, w.nextLSN, w.maxSegmentSize)
	if err != nil {
		return err
	}
	w.active = next
	return nil
}

// CurrentLSN returns the LSN that will be assigned to the next Append.
func (w *WAL) CurrentLSN() LSN {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextLSN
}

// Dir returns the WAL's segment directory.
func (w *WAL) Dir() string { return w.dir }

// Close seals bookkeeping and closes the active segment file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active.close()
}

// TruncatePrefix removes every sealed segment whose highest LSN is
// strictly less than lsn (spec §4.1, called by the checkpointer after a
// durable snapshot advances the low-water mark). The active segment is
// never removed.
func (w *WAL) TruncatePrefix(lsn LSN) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	ids, err := listSegmentIDs(w.dir)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == w.active.id {
			continue
		}
		seg, firstLSN, err := openSegmentForAppend(w.dir, id, w.maxSegmentSize)
		if err != nil {
			continue
		}
		highest, _, err := scanSegment(seg, firstLSN)
		seg.close()
		if err != nil {
			continue
		}
		if highest < lsn {
			if err := os.Remove(filepath.Join(w.dir, segmentFileName(id))); err != nil {
				return fmt.Errorf("truncate_prefix: remove segment %d: %w", id, err)
			}
			w.log.Info("truncated WAL segment %d (highest lsn %d < %d)", id, highest, lsn)
		}
	}
	return nil
}
