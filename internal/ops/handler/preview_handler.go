package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/refedo/OTS-sub007/internal/ops/service"
)

// PreviewHandler answers what-if questions about planned work.
type PreviewHandler struct {
	svc *service.PreviewService
}

func NewPreviewHandler(svc *service.PreviewService) *PreviewHandler {
	return &PreviewHandler{svc: svc}
}

// Preview POST /api/v1/ops/preview
func (h *PreviewHandler) Preview(c *gin.Context) {
	var req service.PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.svc.Preview(c.Request.Context(), req)
	if err != nil {
		respondError(c, "preview failed", err)
		return
	}
	Success(c, res)
}
