package mvcc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kartikbazzad/corebase/internal/schema"
	"github.com/kartikbazzad/corebase/internal/wal"
)

const usersSchema = `{
  "collection": "users",
  "version": 1,
  "fields": {
    "age": {"type": "int", "required": false},
    "name": {"type": "string", "required": true}
  },
  "indexes": [
    {"name": "by_id", "kind": "primary", "field_path": "_id"},
    {"name": "by_age", "kind": "btree", "field_path": "age"}
  ]
}`

func newTestStore(t *testing.T) (*Store, *wal.WAL) {
	t.Helper()
	dir := t.TempDir()
	writeSchemaFile(t, dir, "users.json", usersSchema)
	reg, err := schema.Load(dir, nil)
	if err != nil {
		t.Fatalf("schema.Load: %v", err)
	}
	w, err := wal.Open(filepath.Join(t.TempDir(), "wal"), 1, nil)
	if err != nil {
		t.Fatalf("wal.Open: %v", err)
	}
	return NewStore(reg, nil), w
}

func writeSchemaFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0644); err != nil {
		t.Fatalf("write schema: %v", err)
	}
}

func insertUser(t *testing.T, s *Store, w *wal.WAL, id, name string, age float64) wal.LSN {
	t.Helper()
	op := Operation{Collection: "users", ID: id, SchemaID: "users@1", Body: map[string]interface{}{
		"_id": id, "name": name, "age": age,
	}}
	lsn, err := appendOperation(w, wal.KindInsert, op)
	if err != nil {
		t.Fatalf("append insert: %v", err)
	}
	if err := s.Apply(wal.Record{LSN: lsn, Kind: wal.KindInsert, Payload: mustEncode(t, op)}); err != nil {
		t.Fatalf("apply insert: %v", err)
	}
	return lsn
}

func mustEncode(t *testing.T, op Operation) []byte {
	t.Helper()
	raw, err := EncodeOperation(op)
	if err != nil {
		t.Fatalf("encode operation: %v", err)
	}
	return raw
}

func TestInsertAndGet(t *testing.T) {
	s, w := newTestStore(t)
	defer w.Close()

	lsn := insertUser(t, s, w, "u1", "ada", 30)

	doc, ok, err := s.Get(lsn, "users", "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected document to be visible")
	}
	if doc["name"] != "ada" {
		t.Errorf("name = %v, want ada", doc["name"])
	}
}

func TestSnapshotIsolation(t *testing.T) {
	s, w := newTestStore(t)
	defer w.Close()

	lsn1 := insertUser(t, s, w, "u1", "ada", 30)
	snap := s.BeginSnapshot()
	defer s.ReleaseSnapshot(snap)

	op := Operation{Collection: "users", ID: "u1", SchemaID: "users@1", Body: map[string]interface{}{
		"_id": "u1", "name": "ada lovelace", "age": 31.0,
	}}
	lsn2, err := appendOperation(w, wal.KindUpdate, op)
	if err != nil {
		t.Fatalf("append update: %v", err)
	}
	if err := s.Apply(wal.Record{LSN: lsn2, Kind: wal.KindUpdate, Payload: mustEncode(t, op)}); err != nil {
		t.Fatalf("apply update: %v", err)
	}

	old, ok, err := s.Get(snap, "users", "u1")
	if err != nil || !ok {
		t.Fatalf("Get(snap): ok=%v err=%v", ok, err)
	}
	if old["name"] != "ada" {
		t.Errorf("snapshot read saw updated value: %v", old["name"])
	}

	fresh, ok, err := s.Get(s.CurrentWatermark(), "users", "u1")
	if err != nil || !ok {
		t.Fatalf("Get(current): ok=%v err=%v", ok, err)
	}
	if fresh["name"] != "ada lovelace" {
		t.Errorf("current read missed update: %v", fresh["name"])
	}
	_ = lsn1
}

func TestDeleteTombstonesAndIndexRemoves(t *testing.T) {
	s, w := newTestStore(t)
	defer w.Close()

	insertUser(t, s, w, "u1", "ada", 30)

	ids, err := s.IndexEq("users", "by_age", 30.0)
	if err != nil {
		t.Fatalf("IndexEq: %v", err)
	}
	if len(ids) != 1 || ids[0] != "u1" {
		t.Fatalf("IndexEq before delete = %v", ids)
	}

	op := Operation{Collection: "users", ID: "u1"}
	lsn, err := appendOperation(w, wal.KindDelete, op)
	if err != nil {
		t.Fatalf("append delete: %v", err)
	}
	if err := s.Apply(wal.Record{LSN: lsn, Kind: wal.KindDelete, Payload: mustEncode(t, op)}); err != nil {
		t.Fatalf("apply delete: %v", err)
	}

	if _, ok, _ := s.Get(s.CurrentWatermark(), "users", "u1"); ok {
		t.Error("expected document to be gone after delete")
	}
	ids, err = s.IndexEq("users", "by_age", 30.0)
	if err != nil {
		t.Fatalf("IndexEq after delete: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("IndexEq after delete = %v, want empty", ids)
	}
}

func TestApplyIsIdempotentByLSN(t *testing.T) {
	s, w := newTestStore(t)
	defer w.Close()

	op := Operation{Collection: "users", ID: "u1", SchemaID: "users@1", Body: map[string]interface{}{
		"_id": "u1", "name": "ada", "age": 30.0,
	}}
	lsn, err := appendOperation(w, wal.KindInsert, op)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	rec := wal.Record{LSN: lsn, Kind: wal.KindInsert, Payload: mustEncode(t, op)}
	if err := s.Apply(rec); err != nil {
		t.Fatalf("apply 1: %v", err)
	}
	if err := s.Apply(rec); err != nil {
		t.Fatalf("apply 2: %v", err)
	}
	if countVersions(s.mustChain(t, "users", "u1")) != 1 {
		t.Error("duplicate apply created a second version")
	}
}

func (s *Store) mustChain(t *testing.T, collection, id string) *Version {
	t.Helper()
	cs, err := s.collection(collection)
	if err != nil {
		t.Fatalf("collection: %v", err)
	}
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.primary[id]
}

func TestGarbageCollectDropsUnreachableVersions(t *testing.T) {
	s, w := newTestStore(t)
	defer w.Close()

	insertUser(t, s, w, "u1", "ada", 30)
	for i := 0; i < 3; i++ {
		op := Operation{Collection: "users", ID: "u1", SchemaID: "users@1", Body: map[string]interface{}{
			"_id": "u1", "name": "ada", "age": float64(31 + i),
		}}
		lsn, err := appendOperation(w, wal.KindUpdate, op)
		if err != nil {
			t.Fatalf("append update %d: %v", i, err)
		}
		if err := s.Apply(wal.Record{LSN: lsn, Kind: wal.KindUpdate, Payload: mustEncode(t, op)}); err != nil {
			t.Fatalf("apply update %d: %v", i, err)
		}
	}

	if err := s.GarbageCollect(); err != nil {
		t.Fatalf("GarbageCollect: %v", err)
	}

	if n := countVersions(s.mustChain(t, "users", "u1")); n != 1 {
		t.Errorf("version count after GC = %d, want 1", n)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s, w := newTestStore(t)
	defer w.Close()

	insertUser(t, s, w, "u1", "ada", 30)
	insertUser(t, s, w, "u2", "grace", 35)

	base := t.TempDir()
	lsn, err := s.WriteSnapshot(base)
	if err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	s2, w2 := newTestStore(t)
	defer w2.Close()
	loaded, err := s2.LoadLatestSnapshot(base)
	if err != nil {
		t.Fatalf("LoadLatestSnapshot: %v", err)
	}
	if loaded != lsn {
		t.Errorf("loaded lsn = %d, want %d", loaded, lsn)
	}
	doc, ok, err := s2.Get(loaded, "users", "u1")
	if err != nil || !ok {
		t.Fatalf("Get after load: ok=%v err=%v", ok, err)
	}
	if doc["name"] != "ada" {
		t.Errorf("name after load = %v", doc["name"])
	}
}

