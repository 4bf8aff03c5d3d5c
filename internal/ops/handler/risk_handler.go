package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/refedo/OTS-sub007/internal/ops/service"
)

// RiskHandler serves the risk feed.
type RiskHandler struct {
	engine *service.RiskEngine
}

func NewRiskHandler(engine *service.RiskEngine) *RiskHandler {
	return &RiskHandler{engine: engine}
}

// List returns active risks, most severe first. status=all pages through resolved ones too.
// GET /api/v1/ops/risks?project_id=&type=&severity=&status=active|all
func (h *RiskHandler) List(c *gin.Context) {
	filters := queryFilters(c, "project_id", "type", "severity")
	if c.Query("status") == "all" {
		page, pageSize := GetPagination(c)
		list, total, err := h.engine.List(c.Request.Context(), filters, page, pageSize)
		if err != nil {
			respondError(c, "list risks failed", err)
			return
		}
		Success(c, NewListResponse(list, page, pageSize, total))
		return
	}
	list, err := h.engine.ListActive(c.Request.Context(), filters)
	if err != nil {
		respondError(c, "list risks failed", err)
		return
	}
	Success(c, gin.H{"items": list, "total": len(list)})
}

// Get GET /api/v1/ops/risks/:id
func (h *RiskHandler) Get(c *gin.Context) {
	ev, err := h.engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "get risk failed", err)
		return
	}
	Success(c, ev)
}

// Summary GET /api/v1/ops/risks/summary
func (h *RiskHandler) Summary(c *gin.Context) {
	s, err := h.engine.Summary(c.Request.Context())
	if err != nil {
		respondError(c, "risk summary failed", err)
		return
	}
	Success(c, s)
}

// Digest GET /api/v1/ops/risks/digest?project_id=
func (h *RiskHandler) Digest(c *gin.Context) {
	d, err := h.engine.Digest(c.Request.Context(), queryFilters(c, "project_id", "type"))
	if err != nil {
		respondError(c, "risk digest failed", err)
		return
	}
	Success(c, d)
}

type resolveRequest struct {
	Note string `json:"note"`
}

// Resolve closes a risk by hand as the current user.
// POST /api/v1/ops/risks/:id/resolve
func (h *RiskHandler) Resolve(c *gin.Context) {
	var req resolveRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	ev, err := h.engine.Resolve(c.Request.Context(), c.Param("id"), GetUserID(c), req.Note)
	if err != nil {
		respondError(c, "resolve risk failed", err)
		return
	}
	Success(c, ev)
}

type evaluateRequest struct {
	ProjectID string `json:"project_id"`
}

// Evaluate runs the rules now: one project when project_id is given, else a full sweep.
// POST /api/v1/ops/risks/evaluate
func (h *RiskHandler) Evaluate(c *gin.Context) {
	var req evaluateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	if req.ProjectID != "" {
		res, err := h.engine.EvaluateProject(c.Request.Context(), req.ProjectID)
		if err != nil {
			respondError(c, "evaluate project failed", err)
			return
		}
		Success(c, res)
		return
	}
	res, err := h.engine.Sweep(c.Request.Context(), "manual")
	if err != nil {
		respondError(c, "risk sweep failed", err)
		return
	}
	Success(c, res)
}
