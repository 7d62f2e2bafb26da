package ipc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/kartikbazzad/corebase/internal/errors"
	"github.com/kartikbazzad/corebase/internal/executor"
	"github.com/kartikbazzad/corebase/internal/logger"
	"github.com/kartikbazzad/corebase/internal/planner"
	"github.com/kartikbazzad/corebase/internal/replication"
	"github.com/kartikbazzad/corebase/internal/schema"
	"github.com/kartikbazzad/corebase/rlspredicate"
	"github.com/kartikbazzad/corebase/internal/wal"
)

// Handler dispatches a decoded Request to the executor, planner, and
// replication subsystems and builds the Response to send back. One
// Handler is shared by every connection (spec §6 External interfaces).
type Handler struct {
	exec      *executor.Executor
	reg       *schema.Registry
	rls       *rlspredicate.Engine
	markers   *replication.MarkerStore
	follower  *replication.Follower  // nil on a node with no follower role configured
	promotion *replication.Promotion // nil unless this node is wired as a promotion target
	log       *logger.Logger
}

// NewHandler builds a Handler. follower and promotion may be nil on a
// node that never runs as a follower or promotion target, respectively.
func NewHandler(exec *executor.Executor, reg *schema.Registry, rls *rlspredicate.Engine, markers *replication.MarkerStore, follower *replication.Follower, promotion *replication.Promotion, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Default()
	}
	return &Handler{exec: exec, reg: reg, rls: rls, markers: markers, follower: follower, promotion: promotion, log: log}
}

// Handle processes one Request and returns the Response to send back.
// It never panics on a malformed request — every failure is reported as
// an ErrorInfo carrying the taxonomy Kind a caller can branch on.
func (h *Handler) Handle(req Request) Response {
	switch req.Op {
	case "insert":
		return h.handleInsert(req)
	case "update":
		return h.handleUpdate(req)
	case "delete":
		return h.handleDelete(req)
	case "find":
		return h.handleFind(req)
	case "find_by_id":
		return h.handleFindByID(req)
	case "explain":
		return h.handleExplain(req)
	case "begin_snapshot":
		return Response{OK: true, Snapshot: uint64(h.exec.BeginSnapshot())}
	case "release_snapshot":
		h.exec.ReleaseSnapshot(wal.LSN(req.Snapshot))
		return Response{OK: true}
	case "apply_wal":
		return h.handleApplyWAL(req)
	case "request_promotion":
		return h.handleRequestPromotion()
	case "marker_status":
		return h.handleMarkerStatus()
	default:
		return errResponse(errors.New(errors.KindValidation, fmt.Errorf("unknown op %q", req.Op)))
	}
}

func (h *Handler) handleInsert(req Request) Response {
	doc, err := decodeDoc(req.Doc)
	if err != nil {
		return errResponse(err)
	}
	lsn, err := h.exec.Insert(req.Collection, doc)
	if err != nil {
		return errResponse(err)
	}
	return Response{OK: true, LSN: uint64(lsn)}
}

func (h *Handler) handleUpdate(req Request) Response {
	doc, err := decodeDoc(req.Doc)
	if err != nil {
		return errResponse(err)
	}
	lsn, err := h.exec.Update(req.Collection, doc)
	if err != nil {
		return errResponse(err)
	}
	return Response{OK: true, LSN: uint64(lsn)}
}

func (h *Handler) handleDelete(req Request) Response {
	lsn, err := h.exec.Delete(req.Collection, req.ID)
	if err != nil {
		return errResponse(err)
	}
	return Response{OK: true, LSN: uint64(lsn)}
}

func (h *Handler) handleFind(req Request) Response {
	sch, err := h.reg.Get(req.Collection)
	if err != nil {
		return errResponse(errors.New(errors.KindValidation, err))
	}
	filterExpr, err := planner.ParseFilter(req.Filter)
	if err != nil {
		return errResponse(errors.New(errors.KindValidation, err))
	}
	plan, err := planner.Build(sch, filterExpr, req.Limit)
	if err != nil {
		return errResponse(err)
	}
	pred, err := h.predicateFor(req.RLS)
	if err != nil {
		return errResponse(err)
	}
	var orderBy *executor.OrderBy
	if req.OrderBy != nil {
		orderBy = &executor.OrderBy{Field: req.OrderBy.Field, Asc: req.OrderBy.Asc}
	}
	snapshot := wal.LSN(req.Snapshot)
	if snapshot == 0 {
		snapshot = h.exec.CurrentWatermark()
	}
	docs, err := h.exec.Query(req.Collection, plan, snapshot, pred, orderBy, req.Limit)
	if err != nil {
		return errResponse(err)
	}
	encoded, err := encodeDocs(docs)
	if err != nil {
		return errResponse(errors.New(errors.KindValidation, err))
	}
	return Response{OK: true, Documents: encoded, Snapshot: uint64(snapshot)}
}

func (h *Handler) handleFindByID(req Request) Response {
	sch, err := h.reg.Get(req.Collection)
	if err != nil {
		return errResponse(errors.New(errors.KindValidation, err))
	}
	plan, err := planner.Build(sch, planner.And(planner.Cmp("_id", planner.OpEq, req.ID)), 0)
	if err != nil {
		return errResponse(err)
	}
	pred, err := h.predicateFor(req.RLS)
	if err != nil {
		return errResponse(err)
	}
	snapshot := wal.LSN(req.Snapshot)
	if snapshot == 0 {
		snapshot = h.exec.CurrentWatermark()
	}
	docs, err := h.exec.Query(req.Collection, plan, snapshot, pred, nil, 0)
	if err != nil {
		return errResponse(err)
	}
	encoded, err := encodeDocs(docs)
	if err != nil {
		return errResponse(errors.New(errors.KindValidation, err))
	}
	return Response{OK: true, Documents: encoded, Snapshot: uint64(snapshot)}
}

// handleApplyWAL feeds a batch of wire-framed WAL records (shipped by an
// authority out-of-band) into this node's follower, advancing
// last_applied_lsn (spec §6 operator surface: apply_wal).
func (h *Handler) handleApplyWAL(req Request) Response {
	if h.follower == nil {
		return errResponse(errors.New(errors.KindValidation, fmt.Errorf("this node has no follower configured")))
	}
	if err := h.follower.Consume(bytes.NewReader(req.WALFrames)); err != nil {
		return errResponse(err)
	}
	return Response{OK: true, LSN: uint64(h.follower.LastAppliedLSN())}
}

func (h *Handler) handleRequestPromotion() Response {
	if h.promotion == nil {
		return errResponse(errors.New(errors.KindPrecondition, fmt.Errorf("this node is not wired as a promotion target")))
	}
	err := h.promotion.Run()
	if err != nil {
		resp := errResponse(err)
		resp.PromotionState = string(h.promotion.State)
		return resp
	}
	return Response{OK: true, PromotionState: string(h.promotion.State)}
}

func (h *Handler) handleExplain(req Request) Response {
	sch, err := h.reg.Get(req.Collection)
	if err != nil {
		return errResponse(errors.New(errors.KindValidation, err))
	}
	filterExpr, err := planner.ParseFilter(req.Filter)
	if err != nil {
		return errResponse(errors.New(errors.KindValidation, err))
	}
	plan, err := planner.Build(sch, filterExpr, req.Limit)
	if err != nil {
		return errResponse(err)
	}
	return Response{OK: true, Explain: planner.Explain(plan)}
}

func (h *Handler) handleMarkerStatus() Response {
	m, err := h.markers.Read()
	if err != nil {
		return errResponse(err)
	}
	info := &MarkerInfo{Role: string(m.Role), Generation: m.Generation, AuthorityNodeID: m.AuthorityNodeID}
	if h.follower != nil {
		info.LastAppliedLSN = uint64(h.follower.LastAppliedLSN())
	}
	return Response{OK: true, MarkerInfo: info}
}

func (h *Handler) predicateFor(spec *RLSSpec) (executor.Predicate, error) {
	if spec == nil {
		return executor.ServiceRolePredicate, nil
	}
	pred, err := h.rls.Compile(spec.Expression, rlspredicate.AuthContext{UID: spec.UID, Claims: spec.Claims})
	if err != nil {
		return nil, errors.New(errors.KindValidation, err)
	}
	return pred, nil
}

func decodeDoc(raw json.RawMessage) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return nil, errors.New(errors.KindValidation, fmt.Errorf("doc is required"))
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.New(errors.KindValidation, fmt.Errorf("decode doc: %w", err))
	}
	return doc, nil
}

func encodeDocs(docs []map[string]interface{}) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(docs))
	for _, d := range docs {
		raw, err := json.Marshal(d)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

func errResponse(err error) Response {
	kind, ok := errors.KindOf(err)
	if !ok {
		kind = errors.KindIOTransient
	}
	return Response{OK: false, Error: &ErrorInfo{Kind: string(kind), Message: err.Error()}}
}
