package wal

import (
	"fmt"
	"io"

	corebaseerrors "github.com/kartikbazzad/corebase/internal/errors"
)

// walkSegmentFrames scans every complete, checksummed frame in seg from
// the header onward, invoking yield (if non-nil) for each one.
//
// On hitting a frame that fails to decode, it looks ahead: if any later
// frame in the same segment still decodes cleanly, the bad frame was not
// the final record and the scan reports a dirty (non-terminal) halt,
// which is fatal corruption (K2) wherever it happens. If nothing valid
// follows, the bad frame is the torn or corrupted tail of whichever
// segment is currently being written, a benign crash boundary (K1) when
// that segment is the newest one on disk.
func walkSegmentFrames(seg *segment, firstLSN LSN, yield func(Record) error) (lastLSN LSN, lastGoodOffset int64, endedCleanly bool, err error) {
	pos := int64(segmentHeaderSize)
	lsn := firstLSN
	lastLSN = firstLSN - 1
	lastGoodOffset = pos

	for pos < seg.size {
		remaining := seg.size - pos
		if remaining < frameHeaderSize {
			return lastLSN, lastGoodOffset, true, nil
		}

		head := make([]byte, frameHeaderSize)
		if _, err := seg.file.ReadAt(head, pos); err != nil && err != io.EOF {
			return lastLSN, lastGoodOffset, false, nil
		}
		payloadLen := int(head[0]) | int(head[1])<<8 | int(head[2])<<16 | int(head[3])<<24
		if payloadLen == 0 {
			// Writers never append a zero-length payload frame; this is
			// the zero-pad boundary written by sealWithZeroPad, or an
			// untouched tail of a freshly created segment.
			return lastLSN, lastGoodOffset, true, nil
		}

		frameSize := int64(frameHeaderSize + payloadLen + frameTrailerSize)
		if pos+frameSize > seg.size {
			// Declared frame doesn't fit: a genuine torn write. There is
			// no way to know what, if anything, was meant to follow.
			return lastLSN, lastGoodOffset, false, nil
		}

		buf := make([]byte, frameSize)
		if _, err := seg.file.ReadAt(buf, pos); err != nil {
			return lastLSN, lastGoodOffset, false, nil
		}
		kind, payload, ok, decErr := decodeFrame(buf)
		if decErr != nil || !ok {
			if hasFurtherValidFrame(seg, pos+frameSize) {
				// A later frame still decodes cleanly, so this one was
				// not the final record: corruption, not a crash
				// boundary. Fatal regardless of which segment this is.
				return lastLSN, lastGoodOffset, false, corebaseerrors.New(corebaseerrors.KindCorruption,
					fmt.Errorf("checksum mismatch at lsn %d, segment %d: %w", lsn, seg.id, corebaseerrors.ErrWALCorrupt))
			}
			// Nothing decodable follows: this record is the tail.
			return lastLSN, lastGoodOffset, false, nil
		}

		if yield != nil {
			if cbErr := yield(Record{LSN: lsn, Kind: kind, Payload: payload}); cbErr != nil {
				return lastLSN, lastGoodOffset, true, cbErr
			}
		}

		pos += frameSize
		lastLSN = lsn
		lsn++
		lastGoodOffset = pos
	}
	return lastLSN, lastGoodOffset, true, nil
}

// hasFurtherValidFrame reports whether at least one more frame starting
// at or after pos in seg decodes with a matching checksum, stopping at
// the first clean end-of-data boundary it encounters.
func hasFurtherValidFrame(seg *segment, pos int64) bool {
	for pos < seg.size {
		remaining := seg.size - pos
		if remaining < frameHeaderSize {
			return false
		}
		head := make([]byte, frameHeaderSize)
		if _, err := seg.file.ReadAt(head, pos); err != nil && err != io.EOF {
			return false
		}
		payloadLen := int(head[0]) | int(head[1])<<8 | int(head[2])<<16 | int(head[3])<<24
		if payloadLen == 0 {
			return false
		}
		frameSize := int64(frameHeaderSize + payloadLen + frameTrailerSize)
		if pos+frameSize > seg.size {
			return false
		}
		buf := make([]byte, frameSize)
		if _, err := seg.file.ReadAt(buf, pos); err != nil {
			return false
		}
		_, _, ok, decErr := decodeFrame(buf)
		if decErr == nil && ok {
			return true
		}
		pos += frameSize
	}
	return false
}

// scanSegment is used by TruncatePrefix, which only needs the highest
// LSN found in an already-sealed segment; any anomaly there is
// unexpected (sealed segments should always end cleanly) and is
// reported as an error.
func scanSegment(seg *segment, firstLSN LSN) (highest LSN, lastGoodOffset int64, err error) {
	highest, lastGoodOffset, endedCleanly, err := walkSegmentFrames(seg, firstLSN, nil)
	if err != nil {
		return highest, lastGoodOffset, err
	}
	if !endedCleanly {
		return highest, lastGoodOffset, fmt.Errorf("segment %d ends with a torn frame", seg.id)
	}
	return highest, lastGoodOffset, nil
}

// recoverTail scans every segment from oldest to newest to find the
// point at which new appends may safely resume.
//
// A torn or checksummed-wrong frame in the final segment is a benign
// crash boundary (K1): the caller truncates to lastGoodOffset and
// resumes appending there. The same condition in any earlier segment
// means real, already-acknowledged records were lost or corrupted after
// the fact, which is fatal (K2).
func recoverTail(dir string, ids []SegmentID, maxSize int64) (lastLSN LSN, lastID SegmentID, lastGoodOffset int64, fullySealed bool, err error) {
	for i, id := range ids {
		seg, firstLSN, openErr := openSegmentForAppend(dir, id, maxSize)
		if openErr != nil {
			return 0, 0, 0, false, openErr
		}
		isLast := i == len(ids)-1

		highest, goodOffset, endedCleanly, walkErr := walkSegmentFrames(seg, firstLSN, nil)
		size := seg.size
		seg.close()
		if walkErr != nil {
			// walkSegmentFrames only returns an error when it proved a
			// later frame still decodes, i.e. non-terminal corruption:
			// fatal no matter which segment this is.
			return 0, 0, 0, false, walkErr
		}

		if !endedCleanly {
			if !isLast {
				return 0, 0, 0, false, corebaseerrors.New(corebaseerrors.KindCorruption,
					fmt.Errorf("torn frame in non-final WAL segment %d: %w", id, corebaseerrors.ErrWALCorrupt))
			}
			return highest, id, goodOffset, false, nil
		}

		if isLast {
			if size >= maxSize {
				return highest, id, goodOffset, true, nil
			}
			return highest, id, goodOffset, false, nil
		}
		// Not the last segment and it ended cleanly: every sealed,
		// non-final segment must be fully zero-padded by rotation: a
		// clean-but-short earlier segment would mean a record was never
		// shipped, which is just as fatal as a torn one.
		if size < maxSize {
			return 0, 0, 0, false, corebaseerrors.New(corebaseerrors.KindCorruption,
				fmt.Errorf("segment %d is sealed but not fully padded: %w", id, corebaseerrors.ErrWALCorrupt))
		}
	}
	return 0, 0, 0, false, fmt.Errorf("recoverTail: no segments scanned")
}
