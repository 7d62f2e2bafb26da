package replication

import (
	"fmt"

	"github.com/kartikbazzad/corebase/internal/wal"
)

// writeGate is the subset of the executor's write-path control surface a
// NodeAuthorityHandle needs. Declared here (rather than importing
// executor directly) to keep replication decoupled from the executor
// package, matching how AuthorityHandle itself is an interface rather
// than a concrete executor type.
type writeGate interface {
	CurrentWatermark() wal.LSN
	StopAcceptingWrites()
	FlushTail() error
}

// NodeAuthorityHandle implements AuthorityHandle for the local process
// currently serving as authority: it stops this node's own executor from
// accepting writes and rewrites this node's own marker to follower once
// newAuthorityNodeID has taken over (spec §4.6 Draining, Transitioning).
type NodeAuthorityHandle struct {
	gate              writeGate
	markers           *MarkerStore
	newAuthorityNodeID string
}

// NewNodeAuthorityHandle builds a handle over gate (the local executor)
// and markers (this node's own authority marker), naming the node that
// is being promoted to replace it.
func NewNodeAuthorityHandle(gate writeGate, markers *MarkerStore, newAuthorityNodeID string) *NodeAuthorityHandle {
	return &NodeAuthorityHandle{gate: gate, markers: markers, newAuthorityNodeID: newAuthorityNodeID}
}

func (h *NodeAuthorityHandle) DurableLSN() wal.LSN { return h.gate.CurrentWatermark() }

func (h *NodeAuthorityHandle) StopAcceptingWrites() { h.gate.StopAcceptingWrites() }

func (h *NodeAuthorityHandle) FlushTail() error { return h.gate.FlushTail() }

// RewriteMarkerAsFollower rewrites this (former) authority's own marker
// to record the new authority and generation, fencing this node from
// ever acting as authority at an old generation again (spec §4.6
// Transitioning).
func (h *NodeAuthorityHandle) RewriteMarkerAsFollower(generation uint64) error {
	if err := h.markers.Write(Marker{
		Role:            RoleFollower,
		Generation:      generation,
		AuthorityNodeID: h.newAuthorityNodeID,
	}); err != nil {
		return fmt.Errorf("rewrite former authority marker as follower: %w", err)
	}
	return nil
}
