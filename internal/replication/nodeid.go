package replication

import "github.com/google/uuid"

// NewNodeID mints a fresh node identifier for a node that was not given
// an explicit one at boot, and for logging a shipping connection's own
// id (spec §4.6). Grounded on the same dependency bundoc-server, bun-kms,
// tenant-auth, and functions all carry for identifier generation.
func NewNodeID() string {
	return uuid.NewString()
}
