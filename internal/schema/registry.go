package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/kartikbazzad/corebase/internal/errors"
	"github.com/kartikbazzad/corebase/internal/logger"
)

// Registry is the process-wide, immutable-after-load catalogue of
// collection schemas (spec §4.2). There is exactly one Registry per
// process; it is built once by Load and handed by reference to every
// other subsystem.
type Registry struct {
	byCollection map[string]*compiled
	log          *logger.Logger
}

// Load reads every *.json file in dir, parses it as a Schema, validates
// its internal structure (I1/I2 on the schema itself, not yet on any
// document), compiles it, and returns an immutable Registry.
//
// Per spec §4.2 Startup: if dir is missing, empty, or any schema fails to
// parse/compile/validate internally, Load returns a fatal error and the
// caller must exit before opening the WAL (exit code 2, spec §6).
func Load(dir string, log *logger.Logger) (*Registry, error) {
	if log == nil {
		log = logger.Default()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("schema directory %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("schema directory %s contains no schema files", dir)
	}
	sort.Strings(files)

	reg := &Registry{byCollection: make(map[string]*compiled, len(files)), log: log}
	for _, path := range files {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", path, err)
		}
		var s Schema
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", path, err)
		}
		if err := validateSchemaStructure(&s); err != nil {
			return nil, fmt.Errorf("schema %s is malformed: %w", path, err)
		}
		c, err := compile(&s)
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", path, err)
		}
		if existing, ok := reg.byCollection[s.Collection]; ok {
			if existing.schema.Version >= s.Version {
				continue
			}
		}
		reg.byCollection[s.Collection] = c
		log.Info("loaded schema %s (version %d, %d fields, %d indexes)", s.Collection, s.Version, len(s.Fields), len(s.Indexes))
	}

	log.Info("schema registry ready: %d collections", len(reg.byCollection))
	return reg, nil
}

// validateSchemaStructure enforces invariants I1/I2 on the schema
// definition itself: _id must be declared required+string (or absent,
// in which case it is injected — spec says it is required in every
// schema regardless), every index must name a kind we recognize, and a
// primary index must exist.
func validateSchemaStructure(s *Schema) error {
	if s.Collection == "" {
		return fmt.Errorf("collection name is required")
	}
	if f, ok := s.Fields["_id"]; ok {
		if f.Type != TypeString || !f.Required {
			return fmt.Errorf("_id must be declared as a required string field")
		}
	}
	hasPrimary := false
	seenNames := make(map[string]bool, len(s.Indexes))
	for _, idx := range s.Indexes {
		if idx.Name == "" {
			return fmt.Errorf("index with empty name")
		}
		if seenNames[idx.Name] {
			return fmt.Errorf("duplicate index name %q", idx.Name)
		}
		seenNames[idx.Name] = true
		switch idx.Kind {
		case IndexPrimary:
			hasPrimary = true
			if idx.FieldPath != "_id" {
				return fmt.Errorf("primary index %q must be on _id", idx.Name)
			}
		case IndexBTree:
			if idx.FieldPath == "" {
				return fmt.Errorf("index %q missing field_path", idx.Name)
			}
		default:
			return fmt.Errorf("index %q has unknown kind %q", idx.Name, idx.Kind)
		}
	}
	if !hasPrimary {
		return fmt.Errorf("schema for %s declares no primary index", s.Collection)
	}
	return nil
}

// Get returns the schema for collection, or ErrSchemaNotFound.
func (r *Registry) Get(collection string) (*Schema, error) {
	c, ok := r.byCollection[collection]
	if !ok {
		return nil, errors.ErrSchemaNotFound
	}
	return c.schema, nil
}

// ValidateDocument validates doc against the schema registered for
// collection (spec §4.2 Contract).
func (r *Registry) ValidateDocument(collection string, doc map[string]interface{}) error {
	c, ok := r.byCollection[collection]
	if !ok {
		return errors.New(errors.KindValidation, errors.ErrSchemaNotFound)
	}
	return c.ValidateDocument(doc)
}

// Collections returns every registered collection name, sorted.
func (r *Registry) Collections() []string {
	out := make([]string, 0, len(r.byCollection))
	for name := range r.byCollection {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
