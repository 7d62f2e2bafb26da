package replication

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kartikbazzad/corebase/internal/mvcc"
	"github.com/kartikbazzad/corebase/internal/schema"
	"github.com/kartikbazzad/corebase/internal/wal"
)

func TestMarkerRoundTrip(t *testing.T) {
	store := NewMarkerStore(t.TempDir())
	want := Marker{Role: RoleAuthority, Generation: 3, AuthorityNodeID: "node-a"}
	if err := store.Write(want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := store.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != want {
		t.Errorf("Read() = %+v, want %+v", got, want)
	}
}

func TestMarkerAbsentRefusesBoot(t *testing.T) {
	store := NewMarkerStore(t.TempDir())
	if _, err := store.Read(); err == nil {
		t.Fatal("expected error reading a marker that was never written")
	}
}

func TestMarkerCorruptionIsFatal(t *testing.T) {
	dir := t.TempDir()
	store := NewMarkerStore(dir)
	if err := store.Write(Marker{Role: RoleFollower, Generation: 1, AuthorityNodeID: "node-a"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	path := filepath.Join(dir, markerFileName)
	raw, err := readFileForTest(path)
	if err != nil {
		t.Fatalf("read marker file: %v", err)
	}
	raw[0] ^= 0xFF
	if err := writeFileForTest(path, raw); err != nil {
		t.Fatalf("corrupt marker file: %v", err)
	}
	if _, err := store.Read(); err == nil {
		t.Fatal("expected corruption error")
	}
}

func TestShipperToFollowerAppliesInOrder(t *testing.T) {
	w, err := wal.Open(filepath.Join(t.TempDir(), "wal"), 1, nil)
	if err != nil {
		t.Fatalf("wal.Open: %v", err)
	}
	defer w.Close()

	for i := 0; i < 3; i++ {
		op := mvcc.Operation{Collection: "users", ID: "u1", Body: map[string]interface{}{"_id": "u1", "n": i}}
		payload, _ := mvcc.EncodeOperation(op)
		if _, err := w.Append(wal.KindInsert, payload); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	schemaDir := t.TempDir()
	writeSchemaForTest(t, schemaDir)
	reg, err := schema.Load(schemaDir, nil)
	if err != nil {
		t.Fatalf("schema.Load: %v", err)
	}
	store := mvcc.NewStore(reg, nil)
	follower := NewFollower(store)

	var buf bytes.Buffer
	if err := NewShipper(w).StreamFrom(1, &buf); err != nil {
		t.Fatalf("StreamFrom: %v", err)
	}
	if err := follower.Consume(&buf); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if follower.LastAppliedLSN() != 3 {
		t.Errorf("LastAppliedLSN = %d, want 3", follower.LastAppliedLSN())
	}
}

func TestFollowerWaitForTimesOutAsStaleReplica(t *testing.T) {
	schemaDir := t.TempDir()
	writeSchemaForTest(t, schemaDir)
	reg, err := schema.Load(schemaDir, nil)
	if err != nil {
		t.Fatalf("schema.Load: %v", err)
	}
	store := mvcc.NewStore(reg, nil)
	follower := NewFollower(store)

	err = follower.WaitFor(context.Background(), 5, 20*time.Millisecond)
	if err == nil {
		t.Fatal("expected StaleReplica timeout")
	}
}
