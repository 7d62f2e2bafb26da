package executor

import (
	"fmt"

	"github.com/kartikbazzad/corebase/internal/errors"
	"github.com/kartikbazzad/corebase/internal/mvcc"
	"github.com/kartikbazzad/corebase/internal/wal"
)

// Insert validates doc against collection's schema, checks that `_id`
// does not already resolve to a live version, appends and fsyncs a WAL
// insert record, and applies it to the MVCC store (spec §4.5 Writes).
func (ex *Executor) Insert(collection string, doc map[string]interface{}) (wal.LSN, error) {
	id, err := requireID(doc)
	if err != nil {
		return 0, errors.New(errors.KindValidation, err)
	}
	if err := ex.reg.ValidateDocument(collection, doc); err != nil {
		return 0, err
	}
	exists, err := ex.store.ExistsLive(collection, id)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, errors.New(errors.KindPrecondition, errors.ErrDocumentExists)
	}
	sch, err := ex.reg.Get(collection)
	if err != nil {
		return 0, errors.New(errors.KindValidation, err)
	}
	return ex.writeOp(wal.KindInsert, mvcc.Operation{
		Collection: collection, ID: id, SchemaID: sch.SchemaID(), Body: doc,
	})
}

// Update validates doc, checks that `_id` currently resolves to a live
// version, and appends+applies an update record.
func (ex *Executor) Update(collection string, doc map[string]interface{}) (wal.LSN, error) {
	id, err := requireID(doc)
	if err != nil {
		return 0, errors.New(errors.KindValidation, err)
	}
	if err := ex.reg.ValidateDocument(collection, doc); err != nil {
		return 0, err
	}
	exists, err := ex.store.ExistsLive(collection, id)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, errors.New(errors.KindPrecondition, errors.ErrDocumentNotFound)
	}
	sch, err := ex.reg.Get(collection)
	if err != nil {
		return 0, errors.New(errors.KindValidation, err)
	}
	return ex.writeOp(wal.KindUpdate, mvcc.Operation{
		Collection: collection, ID: id, SchemaID: sch.SchemaID(), Body: doc,
	})
}

// Delete checks that id currently resolves to a live version and
// appends+applies a tombstone record.
func (ex *Executor) Delete(collection, id string) (wal.LSN, error) {
	if id == "" {
		return 0, errors.New(errors.KindValidation, errors.ErrMissingID)
	}
	exists, err := ex.store.ExistsLive(collection, id)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, errors.New(errors.KindPrecondition, errors.ErrDocumentNotFound)
	}
	return ex.writeOp(wal.KindDelete, mvcc.Operation{Collection: collection, ID: id})
}

// writeOp appends op's WAL record, fsyncing before returning (append
// itself fsyncs, invariant D1), then applies it to the MVCC store keyed
// by the returned lsn. A failure at apply is impossible by construction —
// validation and the precondition check already succeeded — so any error
// here is a fatal invariant violation, not a caller-facing failure mode.
func (ex *Executor) writeOp(kind wal.Kind, op mvcc.Operation) (wal.LSN, error) {
	if ex.writesStopped.Load() {
		return 0, errors.New(errors.KindPrecondition, fmt.Errorf("writes are stopped (node is draining for promotion)"))
	}
	payload, err := mvcc.EncodeOperation(op)
	if err != nil {
		return 0, errors.New(errors.KindValidation, err)
	}
	lsn, err := ex.wal.Append(kind, payload)
	if err != nil {
		return 0, errors.New(errors.KindIOTransient, err)
	}
	if err := ex.store.Apply(wal.Record{LSN: lsn, Kind: kind, Payload: payload}); err != nil {
		panic(fmt.Sprintf("mvcc apply failed after successful WAL append at lsn=%d: %v", lsn, err))
	}
	return lsn, nil
}

func requireID(doc map[string]interface{}) (string, error) {
	raw, ok := doc["_id"]
	if !ok {
		return "", errors.ErrMissingID
	}
	id, ok := raw.(string)
	if !ok || id == "" {
		return "", errors.ErrMissingID
	}
	return id, nil
}
