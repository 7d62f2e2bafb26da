package replication

import (
	"os"
	"path/filepath"
	"testing"
)

const testUsersSchema = `{
  "collection": "users",
  "version": 1,
  "fields": {"n": {"type": "int", "required": false}},
  "indexes": [{"name": "by_id", "kind": "primary", "field_path": "_id"}]
}`

func writeSchemaForTest(t *testing.T, dir string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "users.json"), []byte(testUsersSchema), 0644); err != nil {
		t.Fatalf("write schema: %v", err)
	}
}

func readFileForTest(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func writeFileForTest(path string, data []byte) error {
	return os.WriteFile(path, data, 0644)
}
