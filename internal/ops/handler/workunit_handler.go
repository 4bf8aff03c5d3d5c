package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/refedo/OTS-sub007/internal/ops/graph"
	"github.com/refedo/OTS-sub007/internal/ops/service"
)

// WorkUnitHandler serves registry reads and graph queries.
type WorkUnitHandler struct {
	units *service.WorkUnitService
	graph *service.GraphService
}

func NewWorkUnitHandler(units *service.WorkUnitService, graph *service.GraphService) *WorkUnitHandler {
	return &WorkUnitHandler{units: units, graph: graph}
}

// List lists work units.
// GET /api/v1/ops/work-units?project_id=&type=&status=&reference_module=&open_only=
func (h *WorkUnitHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	filters := queryFilters(c, "project_id", "type", "status", "reference_module")
	if queryBool(c, "open_only", false) {
		filters["open_only"] = true
	}
	units, total, err := h.units.List(c.Request.Context(), filters, page, pageSize)
	if err != nil {
		respondError(c, "list work units failed", err)
		return
	}
	Success(c, NewListResponse(units, page, pageSize, total))
}

// Get returns one work unit.
// GET /api/v1/ops/work-units/:id
func (h *WorkUnitHandler) Get(c *gin.Context) {
	unit, err := h.units.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "get work unit failed", err)
		return
	}
	Success(c, unit)
}

// ProjectSummary returns the registry overview of a project.
// GET /api/v1/ops/projects/:projectId/summary
func (h *WorkUnitHandler) ProjectSummary(c *gin.Context) {
	summary, err := h.units.ProjectSummary(c.Request.Context(), c.Param("projectId"))
	if err != nil {
		respondError(c, "project summary failed", err)
		return
	}
	Success(c, summary)
}

// ProjectGraph returns nodes and edges of a project.
// GET /api/v1/ops/projects/:projectId/graph
func (h *WorkUnitHandler) ProjectGraph(c *gin.Context) {
	view, err := h.graph.ProjectGraph(c.Request.Context(), c.Param("projectId"))
	if err != nil {
		respondError(c, "project graph failed", err)
		return
	}
	Success(c, view)
}

// Upstream lists the edges into a unit.
// GET /api/v1/ops/work-units/:id/upstream
func (h *WorkUnitHandler) Upstream(c *gin.Context) {
	edges, err := h.graph.UpstreamOf(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "list upstream failed", err)
		return
	}
	Success(c, gin.H{"items": edges})
}

// Downstream lists the edges out of a unit.
// GET /api/v1/ops/work-units/:id/downstream
func (h *WorkUnitHandler) Downstream(c *gin.Context) {
	edges, err := h.graph.DownstreamOf(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "list downstream failed", err)
		return
	}
	Success(c, gin.H{"items": edges})
}

// Chain returns the transitive chain of a unit.
// GET /api/v1/ops/work-units/:id/chain?direction=downstream&max_depth=5
func (h *WorkUnitHandler) Chain(c *gin.Context) {
	dir, err := graph.ParseDirection(c.Query("direction"))
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	depth := 0
	if v := c.Query("max_depth"); v != "" {
		depth, err = strconv.Atoi(v)
		if err != nil {
			BadRequest(c, "max_depth must be an integer")
			return
		}
	}
	chain, err := h.graph.Chain(c.Request.Context(), c.Param("id"), dir, depth)
	if err != nil {
		respondError(c, "dependency chain failed", err)
		return
	}
	Success(c, gin.H{"direction": dir.String(), "items": chain})
}

// Impact projects the effect of delaying a unit.
// GET /api/v1/ops/work-units/:id/impact?delay_days=3
func (h *WorkUnitHandler) Impact(c *gin.Context) {
	days, err := strconv.Atoi(c.Query("delay_days"))
	if err != nil {
		BadRequest(c, "delay_days must be an integer")
		return
	}
	impact, err := h.graph.DelayImpact(c.Request.Context(), c.Param("id"), days)
	if err != nil {
		respondError(c, "delay impact failed", err)
		return
	}
	Success(c, impact)
}
