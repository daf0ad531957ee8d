package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type connectRequest struct {
	Serial string `json:"machine_SN" binding:"required"`
}

// ConnectDevice pairs the caller with a registered dispenser and returns
// tokens that carry the new connection.
func (h *Handler) ConnectDevice(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	result, err := h.Pairing.Pair(c.Request.Context(), identity(c).UserID, req.Serial)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}
