package replication

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/kartikbazzad/corebase/internal/wal"
)

// Wire framing for one shipped WAL record: u64 lsn || u8 kind || u32
// payload_len || payload || u32 crc32c over everything preceding the
// checksum. This mirrors the WAL's own on-disk framing (spec §4.1) but
// carries the lsn explicitly, since a follower must know it without
// replaying from a segment header.
const wireHeaderSize = 8 + 1 + 4
const wireTrailerSize = 4

var wireTable = crc32.MakeTable(crc32.Castagnoli)

// WriteRecord serializes rec onto w, for use by the authority's shipping
// loop.
func WriteRecord(w io.Writer, rec wal.Record) error {
	total := wireHeaderSize + len(rec.Payload) + wireTrailerSize
	buf := make([]byte, total)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(rec.LSN))
	buf[8] = byte(rec.Kind)
	binary.LittleEndian.PutUint32(buf[9:13], uint32(len(rec.Payload)))
	copy(buf[13:13+len(rec.Payload)], rec.Payload)
	crc := crc32.Checksum(buf[:13+len(rec.Payload)], wireTable)
	binary.LittleEndian.PutUint32(buf[13+len(rec.Payload):], crc)
	_, err := w.Write(buf)
	return err
}

// ReadRecord reads and verifies one shipped record from r. A checksum
// mismatch is always fatal on the follower side — there is no benign
// torn-tail case over the wire the way there is on disk, since a
// follower never reads mid-write (invariant R1).
func ReadRecord(r io.Reader) (wal.Record, error) {
	header := make([]byte, wireHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return wal.Record{}, err
	}
	lsn := binary.LittleEndian.Uint64(header[0:8])
	kind := wal.Kind(header[8])
	payloadLen := binary.LittleEndian.Uint32(header[9:13])

	rest := make([]byte, int(payloadLen)+wireTrailerSize)
	if _, err := io.ReadFull(r, rest); err != nil {
		return wal.Record{}, fmt.Errorf("read shipped record body: %w", err)
	}
	payload := rest[:payloadLen]
	expected := binary.LittleEndian.Uint32(rest[payloadLen:])

	full := append(append([]byte{}, header...), payload...)
	actual := crc32.Checksum(full, wireTable)
	if actual != expected {
		return wal.Record{}, fmt.Errorf("shipped record at lsn=%d failed checksum verification", lsn)
	}
	return wal.Record{LSN: wal.LSN(lsn), Kind: kind, Payload: payload}, nil
}
