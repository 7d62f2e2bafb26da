package wal

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	corebaseerrors "github.com/kartikbazzad/corebase/internal/errors"
)

func mustAppend(t *testing.T, w *WAL, kind Kind, payload string) LSN {
	t.Helper()
	lsn, err := w.Append(kind, []byte(payload))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	return lsn
}

func TestAppendAndIterateInOrder(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 1, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	for i := 0; i < 5; i++ {
		mustAppend(t, w, KindInsert, string(rune('a'+i)))
	}

	var got []string
	if err := w.Iterate(1, func(r Record) error {
		got = append(got, string(r.Payload))
		return nil
	}); err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	want := []string{"a", "b", "c", "d", "e"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("record %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestReopenResumesLSNSequence(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 1, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	mustAppend(t, w, KindInsert, "x")
	mustAppend(t, w, KindInsert, "y")
	w.Close()

	w2, err := Open(dir, 1, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer w2.Close()
	lsn := mustAppend(t, w2, KindInsert, "z")
	if lsn != 3 {
		t.Errorf("lsn after reopen = %d, want 3", lsn)
	}
}

// TestCrashMidAppendIsBenign simulates the process dying partway through
// writing the final frame of the active segment: the file ends with a
// declared length that the file doesn't have enough bytes to satisfy.
// Recovery must discard the torn bytes and resume cleanly (K1).
func TestCrashMidAppendIsBenign(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 1, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 3; i++ {
		mustAppend(t, w, KindInsert, "complete-record")
	}
	w.Close()

	path := segmentFilePath(dir, 1)
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		t.Fatalf("open segment: %v", err)
	}
	info, err := f.Stat()
	if err != nil {
		t.Fatal(err)
	}
	torn := append([]byte{}, bytes.Repeat([]byte{0xAB}, 3)...)
	if _, err := f.WriteAt(append([]byte{50, 0, 0, 0}, torn...), info.Size()); err != nil {
		t.Fatal(err)
	}
	f.Close()

	w2, err := Open(dir, 1, nil)
	if err != nil {
		t.Fatalf("Open after simulated crash: %v", err)
	}
	defer w2.Close()

	var recovered int
	if err := w2.Iterate(1, func(r Record) error {
		recovered++
		return nil
	}); err != nil {
		t.Fatalf("Iterate after recovery: %v", err)
	}
	if recovered != 3 {
		t.Errorf("recovered %d records, want 3", recovered)
	}

	lsn := mustAppend(t, w2, KindInsert, "after-recovery")
	if lsn != 4 {
		t.Errorf("next lsn = %d, want 4", lsn)
	}
}

// TestNonTerminalCorruptionIsFatal flips a byte inside an earlier record
// while leaving later, valid-looking records physically present after
// it. Recovery must refuse to continue (K2).
func TestNonTerminalCorruptionIsFatal(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 1, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 5; i++ {
		mustAppend(t, w, KindInsert, "payload-data")
	}
	w.Close()

	path := segmentFilePath(dir, 1)
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		t.Fatalf("open segment: %v", err)
	}
	// Flip a byte inside the first record's payload, well before the
	// physical end of the file (later records remain on disk after it).
	corruptOffset := int64(segmentHeaderSize + frameHeaderSize + 2)
	if _, err := f.WriteAt([]byte{0xFF}, corruptOffset); err != nil {
		t.Fatal(err)
	}
	f.Close()

	_, err = Open(dir, 1, nil)
	if err == nil {
		t.Fatal("expected fatal corruption error, got nil")
	}
	kind, ok := corebaseerrors.KindOf(err)
	if !ok || kind != corebaseerrors.KindCorruption {
		t.Errorf("error kind = %v (ok=%v), want KindCorruption", kind, ok)
	}
}

func segmentFilePath(dir string, id SegmentID) string {
	return filepath.Join(dir, segmentFileName(id))
}
