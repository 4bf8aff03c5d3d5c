package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/refedo/OTS-sub007/internal/ops/service"
)

// DependencyHandler edits graph edges by hand.
type DependencyHandler struct {
	graph *service.GraphService
}

func NewDependencyHandler(graph *service.GraphService) *DependencyHandler {
	return &DependencyHandler{graph: graph}
}

// Create adds an edge.
// POST /api/v1/ops/dependencies
func (h *DependencyHandler) Create(c *gin.Context) {
	var req service.AddEdgeInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request: "+err.Error())
		return
	}
	dep, err := h.graph.AddEdge(c.Request.Context(), req)
	if err != nil {
		respondError(c, "create dependency failed", err)
		return
	}
	Created(c, dep)
}

// UpdateDependencyRequest changes an edge's relation.
type UpdateDependencyRequest struct {
	DependencyType string `json:"dependency_type"`
	LagDays        int    `json:"lag_days"`
}

// Update changes type and lag of an edge.
// PUT /api/v1/ops/dependencies/:id
func (h *DependencyHandler) Update(c *gin.Context) {
	var req UpdateDependencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request: "+err.Error())
		return
	}
	dep, err := h.graph.UpdateEdge(c.Request.Context(), c.Param("id"), req.DependencyType, req.LagDays)
	if err != nil {
		respondError(c, "update dependency failed", err)
		return
	}
	Success(c, dep)
}

// Delete removes an edge.
// DELETE /api/v1/ops/dependencies/:id
func (h *DependencyHandler) Delete(c *gin.Context) {
	if err := h.graph.RemoveEdge(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, "delete dependency failed", err)
		return
	}
	Success(c, nil)
}
