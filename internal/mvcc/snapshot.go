package mvcc

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/kartikbazzad/corebase/internal/wal"
)

// manifest is the on-disk summary of one durable snapshot (spec §6
// "Snapshot on-disk layout").
type manifest struct {
	LSN         wal.LSN              `json:"lsn"`
	Collections []collectionManifest `json:"collections"`
	SHA256      string               `json:"sha256"`
}

type collectionManifest struct {
	Name     string `json:"name"`
	RowCount int    `json:"row_count"`
	SHA256   string `json:"sha256"`
}

type snapshotDoc struct {
	ID       string                 `json:"_id"`
	SchemaID string                 `json:"schema_id,omitempty"`
	Body     map[string]interface{} `json:"body"`
}

func snapshotDir(baseDir string, lsn wal.LSN) string {
	return filepath.Join(baseDir, strconv.FormatUint(uint64(lsn), 10))
}

// WriteSnapshot serializes every live document in every collection, as of
// the store's current watermark, into baseDir/<lsn>/ and returns the LSN
// the snapshot was taken at. The caller is responsible for calling
// WAL.TruncatePrefix(lsn) afterwards to reclaim space.
func (s *Store) WriteSnapshot(baseDir string) (wal.LSN, error) {
	lsn := s.CurrentWatermark()
	dir := snapshotDir(baseDir, lsn)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("create snapshot directory: %w", err)
	}

	s.mu.RLock()
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)

	man := manifest{LSN: lsn}
	var globalHash []byte

	for _, name := range names {
		cs, err := s.collection(name)
		if err != nil {
			return 0, err
		}
		cs.mu.RLock()
		docs := make([]snapshotDoc, 0, len(cs.primary))
		for id, head := range cs.primary {
			v := visibleFrom(head, lsn)
			if v == nil {
				continue
			}
			docs = append(docs, snapshotDoc{ID: id, SchemaID: v.SchemaID, Body: v.Body})
		}
		cs.mu.RUnlock()
		sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })

		raw, err := json.Marshal(docs)
		if err != nil {
			return 0, fmt.Errorf("marshal snapshot collection %s: %w", name, err)
		}
		path := filepath.Join(dir, name+".json")
		if err := os.WriteFile(path, raw, 0644); err != nil {
			return 0, fmt.Errorf("write snapshot collection %s: %w", name, err)
		}
		sum := sha256.Sum256(raw)
		hexSum := hex.EncodeToString(sum[:])
		man.Collections = append(man.Collections, collectionManifest{Name: name, RowCount: len(docs), SHA256: hexSum})
		globalHash = append(globalHash, sum[:]...)
	}

	finalSum := sha256.Sum256(globalHash)
	man.SHA256 = hex.EncodeToString(finalSum[:])

	raw, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), raw, 0644); err != nil {
		return 0, fmt.Errorf("write snapshot manifest: %w", err)
	}
	s.log.Info("wrote snapshot at lsn=%d (%d collections)", lsn, len(names))
	return lsn, nil
}

// LoadLatestSnapshot finds the newest snapshot under baseDir (if any),
// verifies its checksums, and loads its documents directly into the
// store's primary maps and secondary indexes. It returns the snapshot's
// LSN, or 0 if baseDir contains no snapshot — the caller then replays
// the WAL from the beginning.
func (s *Store) LoadLatestSnapshot(baseDir string) (wal.LSN, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("list snapshots: %w", err)
	}

	var best wal.LSN
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, err := strconv.ParseUint(e.Name(), 10, 64)
		if err != nil {
			continue
		}
		if wal.LSN(n) > best {
			best = wal.LSN(n)
		}
	}
	if best == 0 {
		return 0, nil
	}

	dir := snapshotDir(baseDir, best)
	manRaw, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		return 0, fmt.Errorf("read snapshot manifest: %w", err)
	}
	var man manifest
	if err := json.Unmarshal(manRaw, &man); err != nil {
		return 0, fmt.Errorf("parse snapshot manifest: %w", err)
	}

	var globalHash []byte
	for _, cm := range man.Collections {
		path := filepath.Join(dir, cm.Name+".json")
		raw, err := os.ReadFile(path)
		if err != nil {
			return 0, fmt.Errorf("read snapshot collection %s: %w", cm.Name, err)
		}
		sum := sha256.Sum256(raw)
		hexSum := hex.EncodeToString(sum[:])
		if hexSum != cm.SHA256 {
			return 0, fmt.Errorf("snapshot collection %s failed checksum verification", cm.Name)
		}
		globalHash = append(globalHash, sum[:]...)

		var docs []snapshotDoc
		if err := json.Unmarshal(raw, &docs); err != nil {
			return 0, fmt.Errorf("parse snapshot collection %s: %w", cm.Name, err)
		}
		cs, err := s.collection(cm.Name)
		if err != nil {
			// A schema present in an older snapshot but no longer
			// registered is ignored: schemas are immutable after boot, so
			// this can only happen if the schema directory changed
			// between runs, which is an operator error elsewhere.
			continue
		}
		cs.mu.Lock()
		for _, d := range docs {
			v := &Version{CommitTS: man.LSN, Body: d.Body, SchemaID: d.SchemaID}
			cs.primary[d.ID] = v
			s.reindex(cs, d.ID, nil, v)
		}
		cs.mu.Unlock()
	}

	finalSum := sha256.Sum256(globalHash)
	if hex.EncodeToString(finalSum[:]) != man.SHA256 {
		return 0, fmt.Errorf("snapshot manifest failed global checksum verification")
	}

	s.advanceWatermark(man.LSN)
	s.log.Info("loaded snapshot at lsn=%d (%d collections)", man.LSN, len(man.Collections))
	return man.LSN, nil
}
