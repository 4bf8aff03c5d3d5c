package handler

import (
	"encoding/json"
	"io"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/refedo/OTS-sub007/internal/ops/entity"
	"github.com/refedo/OTS-sub007/internal/ops/service"
)

// SyncHandler receives change notifications from the operational modules.
type SyncHandler struct {
	dispatcher *service.Dispatcher
}

func NewSyncHandler(dispatcher *service.Dispatcher) *SyncHandler {
	return &SyncHandler{dispatcher: dispatcher}
}

var moduleSlugs = map[string]string{
	"task":                 entity.ModuleTask,
	"tasks":                entity.ModuleTask,
	"work-order":           entity.ModuleWorkOrder,
	"work-orders":          entity.ModuleWorkOrder,
	"rfi":                  entity.ModuleRFIRequest,
	"rfis":                 entity.ModuleRFIRequest,
	"document-submission":  entity.ModuleDocumentSubmission,
	"document-submissions": entity.ModuleDocumentSubmission,
	"assembly-part":        entity.ModuleAssemblyPart,
	"assembly-parts":       entity.ModuleAssemblyPart,
}

// moduleFromPath accepts url slugs as well as the module names themselves.
func moduleFromPath(slug string) string {
	if m, ok := moduleSlugs[slug]; ok {
		return m
	}
	return slug
}

type recordID struct {
	ID string `json:"id"`
}

// Created queues a record creation. The body is the record itself.
// POST /api/v1/ops/sync/:module/created
func (h *SyncHandler) Created(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil || len(body) == 0 {
		BadRequest(c, "record body is required")
		return
	}
	var rec recordID
	if err := json.Unmarshal(body, &rec); err != nil {
		BadRequest(c, "invalid record: "+err.Error())
		return
	}
	if rec.ID == "" {
		BadRequest(c, "record id is required")
		return
	}

	ev := service.SyncEvent{
		Module:      moduleFromPath(c.Param("module")),
		Operation:   entity.SyncOpCreate,
		ReferenceID: rec.ID,
		Payload:     json.RawMessage(body),
	}
	if err := h.dispatcher.Submit(c.Request.Context(), ev); err != nil {
		respondError(c, "queue sync event failed", err)
		return
	}
	Accepted(c, gin.H{"module": ev.Module, "operation": ev.Operation, "reference_id": ev.ReferenceID})
}

type statusRequest struct {
	Status string `json:"status"`
}

// Status queues a status change. Assembly parts may send processed and total quantities instead.
// POST /api/v1/ops/sync/:module/:referenceId/status
func (h *SyncHandler) Status(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil || len(body) == 0 {
		BadRequest(c, "status body is required")
		return
	}
	var req statusRequest
	if err := json.Unmarshal(body, &req); err != nil {
		BadRequest(c, "invalid request: "+err.Error())
		return
	}

	ev := service.SyncEvent{
		Module:      moduleFromPath(c.Param("module")),
		Operation:   entity.SyncOpStatus,
		ReferenceID: c.Param("referenceId"),
		Status:      req.Status,
	}
	if req.Status == "" {
		if ev.Module != entity.ModuleAssemblyPart {
			BadRequest(c, "status is required")
			return
		}
		ev.Payload = json.RawMessage(body)
	}
	if err := h.dispatcher.Submit(c.Request.Context(), ev); err != nil {
		respondError(c, "queue sync event failed", err)
		return
	}
	Accepted(c, gin.H{"module": ev.Module, "operation": ev.Operation, "reference_id": ev.ReferenceID})
}

// Failures lists pending dead letters.
// GET /api/v1/ops/sync/failures?limit=
func (h *SyncHandler) Failures(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	list, err := h.dispatcher.Failures(c.Request.Context(), limit)
	if err != nil {
		respondError(c, "list sync failures failed", err)
		return
	}
	Success(c, gin.H{"items": list, "total": len(list)})
}

// Replay re-applies pending dead letters.
// POST /api/v1/ops/sync/failures/replay?limit=
func (h *SyncHandler) Replay(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	res, err := h.dispatcher.Replay(c.Request.Context(), limit)
	if err != nil {
		respondError(c, "replay sync failures failed", err)
		return
	}
	Success(c, res)
}
