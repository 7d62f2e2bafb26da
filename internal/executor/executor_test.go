package executor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kartikbazzad/corebase/internal/errors"
	"github.com/kartikbazzad/corebase/internal/mvcc"
	"github.com/kartikbazzad/corebase/internal/planner"
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

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "users.json"), []byte(usersSchema), 0644); err != nil {
		t.Fatalf("write schema: %v", err)
	}
	reg, err := schema.Load(dir, nil)
	if err != nil {
		t.Fatalf("schema.Load: %v", err)
	}
	w, err := wal.Open(filepath.Join(t.TempDir(), "wal"), 1, nil)
	if err != nil {
		t.Fatalf("wal.Open: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	store := mvcc.NewStore(reg, nil)
	return New(store, w, reg)
}

func TestInsertThenQueryByPrimaryLookup(t *testing.T) {
	ex := newTestExecutor(t)
	lsn, err := ex.Insert("users", map[string]interface{}{"_id": "u1", "name": "ada", "age": 30.0})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	sch, _ := ex.reg.Get("users")
	plan, err := planner.Build(sch, planner.And(planner.Cmp("_id", planner.OpEq, "u1")), 0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	docs, err := ex.Query("users", plan, lsn, ServiceRolePredicate, nil, 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(docs) != 1 || docs[0]["name"] != "ada" {
		t.Errorf("docs = %v", docs)
	}
}

func TestInsertDuplicateIDIsPrecondition(t *testing.T) {
	ex := newTestExecutor(t)
	if _, err := ex.Insert("users", map[string]interface{}{"_id": "u1", "name": "ada"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	_, err := ex.Insert("users", map[string]interface{}{"_id": "u1", "name": "ada2"})
	if err == nil {
		t.Fatal("expected precondition error for duplicate insert")
	}
	if kind, ok := errors.KindOf(err); !ok || kind != errors.KindPrecondition {
		t.Errorf("kind = %v, want precondition", kind)
	}
}

func TestUpdateMissingDocumentIsPrecondition(t *testing.T) {
	ex := newTestExecutor(t)
	_, err := ex.Update("users", map[string]interface{}{"_id": "ghost", "name": "x"})
	if err == nil {
		t.Fatal("expected precondition error")
	}
	if kind, ok := errors.KindOf(err); !ok || kind != errors.KindPrecondition {
		t.Errorf("kind = %v, want precondition", kind)
	}
}

func TestRLSPredicateFiltersResults(t *testing.T) {
	ex := newTestExecutor(t)
	lsn, _ := ex.Insert("users", map[string]interface{}{"_id": "u1", "name": "ada", "age": 30.0})
	ex.Insert("users", map[string]interface{}{"_id": "u2", "name": "grace", "age": 35.0})

	sch, _ := ex.reg.Get("users")
	plan, err := planner.Build(sch, planner.And(), 10)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	denyAll := func(map[string]interface{}) bool { return false }
	docs, err := ex.Query("users", plan, ex.store.CurrentWatermark(), denyAll, nil, 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("expected RLS to exclude every document, got %d", len(docs))
	}
	_ = lsn
}

func TestQueryOrderByRequiresLimitWhenSortNeeded(t *testing.T) {
	ex := newTestExecutor(t)
	ex.Insert("users", map[string]interface{}{"_id": "u1", "name": "ada", "age": 30.0})
	ex.Insert("users", map[string]interface{}{"_id": "u2", "name": "grace", "age": 20.0})

	sch, _ := ex.reg.Get("users")
	plan, err := planner.Build(sch, planner.And(), 10)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	_, err = ex.Query("users", plan, ex.store.CurrentWatermark(), ServiceRolePredicate,
		&OrderBy{Field: "age", Asc: true}, 0)
	if err == nil {
		t.Fatal("expected UnboundedQuery-like error when a sort is needed but no limit given")
	}
}

func TestQueryOrderBySortsWithinBound(t *testing.T) {
	ex := newTestExecutor(t)
	ex.Insert("users", map[string]interface{}{"_id": "u1", "name": "ada", "age": 30.0})
	ex.Insert("users", map[string]interface{}{"_id": "u2", "name": "grace", "age": 20.0})

	sch, _ := ex.reg.Get("users")
	plan, err := planner.Build(sch, planner.And(), 10)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	docs, err := ex.Query("users", plan, ex.store.CurrentWatermark(), ServiceRolePredicate,
		&OrderBy{Field: "age", Asc: true}, 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(docs) != 2 || docs[0]["name"] != "grace" || docs[1]["name"] != "ada" {
		t.Errorf("docs = %v, want [grace, ada] ascending by age", docs)
	}
}

func TestStopAcceptingWritesRejectsInserts(t *testing.T) {
	ex := newTestExecutor(t)
	ex.StopAcceptingWrites()
	_, err := ex.Insert("users", map[string]interface{}{"_id": "u1", "name": "ada"})
	if err == nil {
		t.Fatal("expected insert to be rejected while draining")
	}
	if kind, ok := errors.KindOf(err); !ok || kind != errors.KindPrecondition {
		t.Errorf("kind = %v, want precondition", kind)
	}
	ex.ResumeAcceptingWrites()
	if _, err := ex.Insert("users", map[string]interface{}{"_id": "u1", "name": "ada"}); err != nil {
		t.Fatalf("Insert after resume: %v", err)
	}
}

func TestDeleteTwiceFailsSecondTime(t *testing.T) {
	ex := newTestExecutor(t)
	ex.Insert("users", map[string]interface{}{"_id": "u1", "name": "ada", "age": 30.0})
	if _, err := ex.Delete("users", "u1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, err := ex.Delete("users", "u1")
	if err == nil {
		t.Fatal("expected precondition error deleting an already-deleted document")
	}
}
