package api

import (
	"net/http"

	"mirsal/internal/dto/req"
	"mirsal/internal/dto/resp"
	"mirsal/internal/repository"

	"github.com/gin-gonic/gin"
)

type AuditHandler struct {
	audits repository.AuditInterface
}

func NewAuditHandler(audits repository.AuditInterface) *AuditHandler {
	return &AuditHandler{audits: audits}
}

func (h *AuditHandler) List(c *gin.Context) {
	var r req.ListAuditsRequest
	if err := c.ShouldBindQuery(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid params"})
		return
	}
	if r.Limit <= 0 || r.Limit > 200 {
		r.Limit = 50
	}

	audits, total, err := h.audits.List(c.Request.Context(), r.Offset, r.Limit)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp.AuditListResponse{Data: audits, Total: total})
}
