package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/refedo/OTS-sub007/internal/ops/service"
)

// BlueprintHandler administers the dependency blueprint catalog.
type BlueprintHandler struct {
	svc *service.BlueprintService
}

func NewBlueprintHandler(svc *service.BlueprintService) *BlueprintHandler {
	return &BlueprintHandler{svc: svc}
}

// List GET /api/v1/ops/blueprints?active_only=true
func (h *BlueprintHandler) List(c *gin.Context) {
	list, err := h.svc.List(c.Request.Context(), queryBool(c, "active_only", false))
	if err != nil {
		respondError(c, "list blueprints failed", err)
		return
	}
	Success(c, gin.H{"items": list})
}

// Get GET /api/v1/ops/blueprints/:id
func (h *BlueprintHandler) Get(c *gin.Context) {
	bp, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "get blueprint failed", err)
		return
	}
	Success(c, bp)
}

// Create POST /api/v1/ops/blueprints
func (h *BlueprintHandler) Create(c *gin.Context) {
	var req service.BlueprintInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request: "+err.Error())
		return
	}
	bp, err := h.svc.Create(c.Request.Context(), &req)
	if err != nil {
		respondError(c, "create blueprint failed", err)
		return
	}
	Created(c, bp)
}

// Update replaces a blueprint and its steps.
// PUT /api/v1/ops/blueprints/:id
func (h *BlueprintHandler) Update(c *gin.Context) {
	var req service.BlueprintInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request: "+err.Error())
		return
	}
	bp, err := h.svc.Update(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		respondError(c, "update blueprint failed", err)
		return
	}
	Success(c, bp)
}

// Delete DELETE /api/v1/ops/blueprints/:id
func (h *BlueprintHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, "delete blueprint failed", err)
		return
	}
	Success(c, nil)
}

// SetDefault makes a blueprint the catalog default.
// POST /api/v1/ops/blueprints/:id/default
func (h *BlueprintHandler) SetDefault(c *gin.Context) {
	bp, err := h.svc.SetDefault(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "set default blueprint failed", err)
		return
	}
	Success(c, bp)
}

type setActiveRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

// SetActive enables or disables a blueprint.
// PUT /api/v1/ops/blueprints/:id/active
func (h *BlueprintHandler) SetActive(c *gin.Context) {
	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request: "+err.Error())
		return
	}
	bp, err := h.svc.SetActive(c.Request.Context(), c.Param("id"), *req.IsActive)
	if err != nil {
		respondError(c, "set blueprint active failed", err)
		return
	}
	Success(c, bp)
}

// Seed installs the built-in blueprints that are missing.
// POST /api/v1/ops/blueprints/seed
func (h *BlueprintHandler) Seed(c *gin.Context) {
	n, err := h.svc.SeedDefaults(c.Request.Context())
	if err != nil {
		respondError(c, "seed blueprints failed", err)
		return
	}
	Success(c, gin.H{"created": n})
}
