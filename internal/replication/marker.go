// Package replication implements the authority/follower role marker, WAL
// shipping between nodes, and the five-state promotion protocol (spec
// §4.6).
package replication

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"

	"github.com/kartikbazzad/corebase/internal/errors"
)

// Role is the durable role recorded in the authority marker.
type Role string

const (
	RoleAuthority Role = "authority"
	RoleFollower  Role = "follower"
)

// Marker is the on-disk contents of authority.marker: (role, generation,
// authority_node_id, trailing CRC32C) (spec §6 Authority marker).
type Marker struct {
	Role            Role
	Generation      uint64
	AuthorityNodeID string
}

const markerFileName = "authority.marker"
const markerTmpName = "authority.marker.tmp"

var markerTable = crc32.MakeTable(crc32.Castagnoli)

// encodeMarker serializes m as: u8 role(0=authority,1=follower) || u64
// generation || u32 node_id_len || node_id bytes || u32 crc32c over the
// preceding bytes.
func encodeMarker(m Marker) []byte {
	roleByte := byte(0)
	if m.Role == RoleFollower {
		roleByte = 1
	}
	idBytes := []byte(m.AuthorityNodeID)
	buf := make([]byte, 1+8+4+len(idBytes))
	buf[0] = roleByte
	binary.LittleEndian.PutUint64(buf[1:9], m.Generation)
	binary.LittleEndian.PutUint32(buf[9:13], uint32(len(idBytes)))
	copy(buf[13:], idBytes)
	crc := crc32.Checksum(buf, markerTable)
	out := make([]byte, len(buf)+4)
	copy(out, buf)
	binary.LittleEndian.PutUint32(out[len(buf):], crc)
	return out
}

func decodeMarker(raw []byte) (Marker, error) {
	if len(raw) < 1+8+4+4 {
		return Marker{}, fmt.Errorf("authority marker too short (%d bytes)", len(raw))
	}
	body := raw[:len(raw)-4]
	storedCRC := binary.LittleEndian.Uint32(raw[len(raw)-4:])
	if crc32.Checksum(body, markerTable) != storedCRC {
		return Marker{}, errors.New(errors.KindCorruption, errors.ErrMarkerCorrupt)
	}
	roleByte := body[0]
	generation := binary.LittleEndian.Uint64(body[1:9])
	idLen := binary.LittleEndian.Uint32(body[9:13])
	if uint32(len(body)-13) != idLen {
		return Marker{}, fmt.Errorf("authority marker node id length mismatch")
	}
	role := RoleAuthority
	if roleByte == 1 {
		role = RoleFollower
	}
	return Marker{Role: role, Generation: generation, AuthorityNodeID: string(body[13:])}, nil
}

// MarkerStore guards authority.marker against concurrent rewrites with an
// in-process lock; cross-process exclusion is left to the filesystem
// (spec §5 "under a file-system lock to forbid concurrent rewrites").
type MarkerStore struct {
	mu  sync.Mutex
	dir string
}

func NewMarkerStore(dir string) *MarkerStore {
	return &MarkerStore{dir: dir}
}

func (s *MarkerStore) path() string    { return filepath.Join(s.dir, markerFileName) }
func (s *MarkerStore) tmpPath() string { return filepath.Join(s.dir, markerTmpName) }

// Read loads and verifies the current marker. Per spec §4.6 Boot rule, an
// absent marker is refused (no default role) and a corrupt one is fatal.
func (s *MarkerStore) Read() (Marker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return Marker{}, errors.New(errors.KindValidation, errors.ErrMarkerAbsent)
		}
		return Marker{}, fmt.Errorf("read authority marker: %w", err)
	}
	return decodeMarker(raw)
}

// Write performs the crash-atomic rewrite: write to a temp file, fsync
// it, rename over the real path, then fsync the containing directory
// (spec §4.6 Marking, invariant P1).
func (s *MarkerStore) Write(m Marker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create marker directory: %w", err)
	}
	raw := encodeMarker(m)

	tmp, err := os.OpenFile(s.tmpPath(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create marker temp file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write marker temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync marker temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close marker temp file: %w", err)
	}
	if err := os.Rename(s.tmpPath(), s.path()); err != nil {
		return fmt.Errorf("rename marker into place: %w", err)
	}
	dir, err := os.Open(s.dir)
	if err != nil {
		return fmt.Errorf("open marker directory for fsync: %w", err)
	}
	defer dir.Close()
	if err := dir.Sync(); err != nil {
		return fmt.Errorf("fsync marker directory: %w", err)
	}
	return nil
}
