package replication

import (
	"testing"

	"github.com/kartikbazzad/corebase/internal/wal"
)

type fakeGate struct {
	watermark wal.LSN
	stopped   bool
	flushed   bool
}

func (g *fakeGate) CurrentWatermark() wal.LSN { return g.watermark }
func (g *fakeGate) StopAcceptingWrites()      { g.stopped = true }
func (g *fakeGate) FlushTail() error          { g.flushed = true; return nil }

func TestNodeAuthorityHandleDrivesPromotion(t *testing.T) {
	gate := &fakeGate{watermark: 42}
	markers := NewMarkerStore(t.TempDir())
	if err := markers.Write(Marker{Role: RoleAuthority, Generation: 1, AuthorityNodeID: "node-a"}); err != nil {
		t.Fatalf("seed marker: %v", err)
	}

	handle := NewNodeAuthorityHandle(gate, markers, "node-b")
	if handle.DurableLSN() != 42 {
		t.Errorf("DurableLSN = %d, want 42", handle.DurableLSN())
	}
	handle.StopAcceptingWrites()
	if !gate.stopped {
		t.Error("expected gate to be stopped")
	}
	if err := handle.FlushTail(); err != nil || !gate.flushed {
		t.Error("expected FlushTail to flush the gate")
	}
	if err := handle.RewriteMarkerAsFollower(2); err != nil {
		t.Fatalf("RewriteMarkerAsFollower: %v", err)
	}
	got, err := markers.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := Marker{Role: RoleFollower, Generation: 2, AuthorityNodeID: "node-b"}
	if got != want {
		t.Errorf("marker = %+v, want %+v", got, want)
	}
}
