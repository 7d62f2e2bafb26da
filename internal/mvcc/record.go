package mvcc

import (
	"encoding/json"
	"fmt"

	"github.com/kartikbazzad/corebase/internal/wal"
)

// Operation is the logical payload carried inside a WAL record for
// insert/update/delete (spec §3 "WAL record": payload carries collection,
// _id, schema_id, new body, or prior-version reference).
type Operation struct {
	Collection string                 `json:"collection"`
	ID         string                 `json:"_id"`
	SchemaID   string                 `json:"schema_id,omitempty"`
	Body       map[string]interface{} `json:"body,omitempty"`
}

// EncodeOperation serializes op for use as a WAL record payload.
func EncodeOperation(op Operation) ([]byte, error) {
	return json.Marshal(op)
}

func decodeOperation(payload []byte) (Operation, error) {
	var op Operation
	if err := json.Unmarshal(payload, &op); err != nil {
		return Operation{}, fmt.Errorf("decode WAL operation payload: %w", err)
	}
	return op, nil
}

// appendOperation is a test convenience: it encodes op, appends it to w
// under kind, and returns the assigned LSN. The executor's write path
// calls EncodeOperation and WAL.Append itself.
func appendOperation(w *wal.WAL, kind wal.Kind, op Operation) (wal.LSN, error) {
	payload, err := EncodeOperation(op)
	if err != nil {
		return 0, err
	}
	return w.Append(kind, payload)
}
