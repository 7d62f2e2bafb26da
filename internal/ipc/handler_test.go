package ipc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/kartikbazzad/corebase/internal/executor"
	"github.com/kartikbazzad/corebase/internal/mvcc"
	"github.com/kartikbazzad/corebase/internal/replication"
	"github.com/kartikbazzad/corebase/internal/schema"
	"github.com/kartikbazzad/corebase/internal/wal"
	"github.com/kartikbazzad/corebase/rlspredicate"
)

const usersSchemaForIPC = `{
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

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	schemaDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(schemaDir, "users.json"), []byte(usersSchemaForIPC), 0644); err != nil {
		t.Fatalf("write schema: %v", err)
	}
	reg, err := schema.Load(schemaDir, nil)
	if err != nil {
		t.Fatalf("schema.Load: %v", err)
	}
	w, err := wal.Open(filepath.Join(t.TempDir(), "wal"), 1, nil)
	if err != nil {
		t.Fatalf("wal.Open: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	store := mvcc.NewStore(reg, nil)
	ex := executor.New(store, w, reg)

	rls, err := rlspredicate.NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	markerDir := t.TempDir()
	markers := replication.NewMarkerStore(markerDir)
	if err := markers.Write(replication.Marker{Role: replication.RoleAuthority, Generation: 1, AuthorityNodeID: "node-a"}); err != nil {
		t.Fatalf("seed marker: %v", err)
	}

	return NewHandler(ex, reg, rls, markers, nil, nil, nil)
}

func TestHandleInsertThenFind(t *testing.T) {
	h := newTestHandler(t)

	insertResp := h.Handle(Request{
		Op:         "insert",
		Collection: "users",
		Doc:        json.RawMessage(`{"_id":"u1","name":"ada","age":30}`),
	})
	if !insertResp.OK {
		t.Fatalf("insert failed: %+v", insertResp.Error)
	}

	findResp := h.Handle(Request{
		Op:         "find",
		Collection: "users",
		Filter:     json.RawMessage(`{"_id":"u1"}`),
	})
	if !findResp.OK {
		t.Fatalf("find failed: %+v", findResp.Error)
	}
	if len(findResp.Documents) != 1 {
		t.Fatalf("expected 1 document, got %d", len(findResp.Documents))
	}
}

func TestHandleFindRequiresBoundWhenUnindexed(t *testing.T) {
	h := newTestHandler(t)
	resp := h.Handle(Request{
		Op:         "find",
		Collection: "users",
		Filter:     json.RawMessage(`{"name":"ada"}`),
	})
	if resp.OK {
		t.Fatal("expected unbounded query to fail without a limit or indexed equality")
	}
	if resp.Error.Kind != "unbounded_query" {
		t.Errorf("error kind = %q, want unbounded_query", resp.Error.Kind)
	}
}

func TestHandleExplainReportsAccessPath(t *testing.T) {
	h := newTestHandler(t)
	resp := h.Handle(Request{
		Op:         "explain",
		Collection: "users",
		Filter:     json.RawMessage(`{"_id":"u1"}`),
	})
	if !resp.OK {
		t.Fatalf("explain failed: %+v", resp.Error)
	}
	if resp.Explain == "" {
		t.Error("expected non-empty explain text")
	}
}

func TestHandleMarkerStatus(t *testing.T) {
	h := newTestHandler(t)
	resp := h.Handle(Request{Op: "marker_status"})
	if !resp.OK {
		t.Fatalf("marker_status failed: %+v", resp.Error)
	}
	if resp.MarkerInfo.Role != "authority" || resp.MarkerInfo.AuthorityNodeID != "node-a" {
		t.Errorf("marker = %+v", resp.MarkerInfo)
	}
}

func TestHandleFindByID(t *testing.T) {
	h := newTestHandler(t)
	h.Handle(Request{Op: "insert", Collection: "users", Doc: json.RawMessage(`{"_id":"u1","name":"ada"}`)})

	resp := h.Handle(Request{Op: "find_by_id", Collection: "users", ID: "u1"})
	if !resp.OK {
		t.Fatalf("find_by_id failed: %+v", resp.Error)
	}
	if len(resp.Documents) != 1 {
		t.Fatalf("expected 1 document, got %d", len(resp.Documents))
	}

	missing := h.Handle(Request{Op: "find_by_id", Collection: "users", ID: "ghost"})
	if !missing.OK || len(missing.Documents) != 0 {
		t.Fatalf("expected zero documents for missing id, got %+v", missing)
	}
}

func TestHandleApplyWALWithoutFollowerIsRejected(t *testing.T) {
	h := newTestHandler(t)
	resp := h.Handle(Request{Op: "apply_wal", WALFrames: []byte{}})
	if resp.OK {
		t.Fatal("expected apply_wal to fail with no follower configured")
	}
}

func TestHandleRequestPromotionWithoutConfigIsRejected(t *testing.T) {
	h := newTestHandler(t)
	resp := h.Handle(Request{Op: "request_promotion"})
	if resp.OK {
		t.Fatal("expected request_promotion to fail with no promotion target configured")
	}
	if resp.Error.Kind != "precondition" {
		t.Errorf("error kind = %q, want precondition", resp.Error.Kind)
	}
}

func TestHandleUnknownOp(t *testing.T) {
	h := newTestHandler(t)
	resp := h.Handle(Request{Op: "bogus"})
	if resp.OK {
		t.Fatal("expected unknown op to fail")
	}
	if resp.Error.Kind != "validation" {
		t.Errorf("error kind = %q, want validation", resp.Error.Kind)
	}
}
