package schema

import (
	"os"
	"path/filepath"
	"testing"
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
    {"name": "by_age", "kind": "btree", "field_path": "age"},
    {"name": "by_name", "kind": "btree", "field_path": "name"}
  ]
}`

func writeSchema(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0644); err != nil {
		t.Fatalf("write schema: %v", err)
	}
}

func TestLoadMissingDirIsFatal(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope"), nil); err == nil {
		t.Fatal("expected error for missing schema directory")
	}
}

func TestLoadEmptyDirIsFatal(t *testing.T) {
	if _, err := Load(t.TempDir(), nil); err == nil {
		t.Fatal("expected error for empty schema directory")
	}
}

func TestLoadAndValidateDocument(t *testing.T) {
	dir := t.TempDir()
	writeSchema(t, dir, "users.json", usersSchema)

	reg, err := Load(dir, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	s, err := reg.Get("users")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if s.Version != 1 {
		t.Errorf("version = %d, want 1", s.Version)
	}

	if err := reg.ValidateDocument("users", map[string]interface{}{
		"_id": "u1", "name": "ada", "age": 30.0,
	}); err != nil {
		t.Errorf("valid document rejected: %v", err)
	}

	// I2: missing _id
	if err := reg.ValidateDocument("users", map[string]interface{}{"name": "ada"}); err == nil {
		t.Error("expected error for missing _id")
	}

	// I1: unknown field rejected
	if err := reg.ValidateDocument("users", map[string]interface{}{
		"_id": "u1", "name": "ada", "nickname": "a",
	}); err == nil {
		t.Error("expected error for unknown field")
	}

	// required field missing
	if err := reg.ValidateDocument("users", map[string]interface{}{"_id": "u1"}); err == nil {
		t.Error("expected error for missing required field")
	}
}

func TestLoadRejectsMissingPrimaryIndex(t *testing.T) {
	dir := t.TempDir()
	writeSchema(t, dir, "bad.json", `{
		"collection": "bad", "version": 1,
		"fields": {"name": {"type": "string", "required": true}},
		"indexes": [{"name": "by_name", "kind": "btree", "field_path": "name"}]
	}`)
	if _, err := Load(dir, nil); err == nil {
		t.Fatal("expected error for schema with no primary index")
	}
}

func TestUnknownCollection(t *testing.T) {
	dir := t.TempDir()
	writeSchema(t, dir, "users.json", usersSchema)
	reg, err := Load(dir, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := reg.Get("ghosts"); err == nil {
		t.Error("expected error for unknown collection")
	}
}
