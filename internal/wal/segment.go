package wal

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// segmentMagic identifies a corebase WAL segment file (spec §6).
var segmentMagic = [4]byte{'A', 'W', 'A', 'L'}

const (
	segmentVersion    = 1
	segmentHeaderSize = 32 // magic(4) + version(4) + first_lsn(8) + created_unix_ms(8) + reserved(8)
)

// SegmentID is the monotonic 12-digit zero-padded suffix of a segment
// file name, e.g. segment 1 is "000000000001.wal".
type SegmentID uint64

func segmentFileName(id SegmentID) string {
	return fmt.Sprintf("%012d.wal", uint64(id))
}

// segment is one open WAL segment file: header + framed records, capped
// at maxSize and sealed by zero-padding the remainder on roll.
type segment struct {
	id       SegmentID
	path     string
	file     *os.File
	size     int64 // current on-disk size including header
	maxSize  int64
	firstLSN LSN
}

func createSegment(dir string, id SegmentID, firstLSN LSN, maxSize int64) (*segment, error) {
	path := filepath.Join(dir, segmentFileName(id))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("create segment %s: %w", path, err)
	}
	header := make([]byte, segmentHeaderSize)
	copy(header[0:4], segmentMagic[:])
	binary.LittleEndian.PutUint32(header[4:8], segmentVersion)
	binary.LittleEndian.PutUint64(header[8:16], uint64(firstLSN))
	binary.LittleEndian.PutUint64(header[16:24], uint64(time.Now().UnixMilli()))
	if _, err := f.Write(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write segment header: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, fmt.Errorf("sync new segment: %w", err)
	}
	return &segment{id: id, path: path, file: f, size: segmentHeaderSize, maxSize: maxSize, firstLSN: firstLSN}, nil
}

func openSegmentForAppend(dir string, id SegmentID, maxSize int64) (*segment, LSN, error) {
	path := filepath.Join(dir, segmentFileName(id))
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, 0, fmt.Errorf("open segment %s: %w", path, err)
	}
	header := make([]byte, segmentHeaderSize)
	if _, err := f.ReadAt(header, 0); err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("read segment header %s: %w", path, err)
	}
	if string(header[0:4]) != string(segmentMagic[:]) {
		f.Close()
		return nil, 0, fmt.Errorf("segment %s: bad magic", path)
	}
	firstLSN := LSN(binary.LittleEndian.Uint64(header[8:16]))
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return &segment{id: id, path: path, file: f, size: info.Size(), maxSize: maxSize, firstLSN: firstLSN}, firstLSN, nil
}

// remaining reports how many bytes are free before the segment is full.
func (s *segment) remaining() int64 {
	return s.maxSize - s.size
}

// appendFrame writes frame to the end of the file but does not fsync;
// the caller (WAL.Append, under the append mutex) fsyncs right after
// each frame, so no two appends share a flush.
func (s *segment) appendFrame(frame []byte) error {
	n, err := s.file.WriteAt(frame, s.size)
	if err != nil {
		// Reclaim any partially written bytes so a subsequent append
		// starts from a clean, known-good offset (disk-full handling,
		// spec §4.1 Failure semantics).
		_ = s.file.Truncate(s.size)
		return fmt.Errorf("append frame: %w", err)
	}
	s.size += int64(n)
	return nil
}

// sealWithZeroPad pads the remainder of the segment with zero bytes so a
// reader recognizes end-of-segment as a clean boundary rather than a torn
// record, then fsyncs and closes.
func (s *segment) sealWithZeroPad() error {
	if pad := s.remaining(); pad > 0 {
		zeros := make([]byte, pad)
		if _, err := s.file.WriteAt(zeros, s.size); err != nil {
			return fmt.Errorf("zero-pad segment %s: %w", s.path, err)
		}
		s.size = s.maxSize
	}
	return s.sync()
}

func (s *segment) sync() error {
	return s.file.Sync()
}

func (s *segment) close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
