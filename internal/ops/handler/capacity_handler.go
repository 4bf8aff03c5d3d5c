package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/refedo/OTS-sub007/internal/ops/service"
)

// CapacityHandler administers resource capacities.
type CapacityHandler struct {
	svc *service.CapacityService
}

func NewCapacityHandler(svc *service.CapacityService) *CapacityHandler {
	return &CapacityHandler{svc: svc}
}

// List GET /api/v1/ops/capacities?active_only=true
func (h *CapacityHandler) List(c *gin.Context) {
	list, err := h.svc.List(c.Request.Context(), queryBool(c, "active_only", false))
	if err != nil {
		respondError(c, "list capacities failed", err)
		return
	}
	Success(c, gin.H{"items": list})
}

// Get GET /api/v1/ops/capacities/:id
func (h *CapacityHandler) Get(c *gin.Context) {
	cp, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "get capacity failed", err)
		return
	}
	Success(c, cp)
}

// Create POST /api/v1/ops/capacities
func (h *CapacityHandler) Create(c *gin.Context) {
	var req service.CapacityInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request: "+err.Error())
		return
	}
	cp, err := h.svc.Create(c.Request.Context(), &req)
	if err != nil {
		respondError(c, "create capacity failed", err)
		return
	}
	Created(c, cp)
}

// Update PUT /api/v1/ops/capacities/:id
func (h *CapacityHandler) Update(c *gin.Context) {
	var req service.CapacityInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request: "+err.Error())
		return
	}
	cp, err := h.svc.Update(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		respondError(c, "update capacity failed", err)
		return
	}
	Success(c, cp)
}

// Delete DELETE /api/v1/ops/capacities/:id
func (h *CapacityHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, "delete capacity failed", err)
		return
	}
	Success(c, nil)
}

// Analysis compares capacity with planned load week by week.
// GET /api/v1/ops/capacities/:id/analysis?weeks=4
func (h *CapacityHandler) Analysis(c *gin.Context) {
	weeks := 0
	if v := c.Query("weeks"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			BadRequest(c, "weeks must be an integer")
			return
		}
		weeks = n
	}
	analysis, err := h.svc.Analyze(c.Request.Context(), c.Param("id"), weeks)
	if err != nil {
		respondError(c, "capacity analysis failed", err)
		return
	}
	Success(c, analysis)
}
