package mvcc

import (
	"fmt"
	"sort"
	"sync"
)

// secondaryIndex is an in-memory, sorted, range-scannable index from an
// encoded field value to the set of live `_id`s holding that value. It
// is kept entirely in memory, since the MVCC store never pages to disk
// on the read path (spec
// §4.3: "sorted map from the indexed key to {_id} lists").
type secondaryIndex struct {
	name      string
	fieldPath string
	unique    bool

	mu       sync.RWMutex
	keys     []string            // sorted ascending
	postings map[string][]string // encoded key -> _ids, insertion order
}

func newSecondaryIndex(name, fieldPath string, unique bool) *secondaryIndex {
	return &secondaryIndex{name: name, fieldPath: fieldPath, unique: unique, postings: make(map[string][]string)}
}

// encodeIndexKey produces a string whose lexicographic order matches the
// natural order of v, so range scans over the sorted keys slice are
// correct for strings, numbers, and booleans alike.
func encodeIndexKey(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return "s:" + t, true
	case bool:
		if t {
			return "b:1", true
		}
		return "b:0", true
	case float64:
		return "n:" + fmt.Sprintf("%020.6f", t+1e15), true
	case int:
		return "n:" + fmt.Sprintf("%020.6f", float64(t)+1e15), true
	default:
		return "", false
	}
}

func (ix *secondaryIndex) put(key string, id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, exists := ix.postings[key]; !exists {
		i := sort.SearchStrings(ix.keys, key)
		ix.keys = append(ix.keys, "")
		copy(ix.keys[i+1:], ix.keys[i:])
		ix.keys[i] = key
	}
	for _, existing := range ix.postings[key] {
		if existing == id {
			return
		}
	}
	ix.postings[key] = append(ix.postings[key], id)
}

func (ix *secondaryIndex) remove(key string, id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ids, ok := ix.postings[key]
	if !ok {
		return
	}
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	if len(out) == 0 {
		delete(ix.postings, key)
		i := sort.SearchStrings(ix.keys, key)
		if i < len(ix.keys) && ix.keys[i] == key {
			ix.keys = append(ix.keys[:i], ix.keys[i+1:]...)
		}
		return
	}
	ix.postings[key] = out
}

// eq returns the `_id`s posted under exactly key, in insertion order.
func (ix *secondaryIndex) eq(key string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	ids := ix.postings[key]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// scan returns every `_id` whose encoded key falls within [lower, upper]
// (either bound empty means unbounded on that side), in ascending key
// order.
func (ix *secondaryIndex) scan(lower, upper string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var out []string
	for _, k := range ix.keys {
		if lower != "" && k < lower {
			continue
		}
		if upper != "" && k > upper {
			break
		}
		out = append(out, ix.postings[k]...)
	}
	return out
}
