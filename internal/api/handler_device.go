package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pillbox-backend/internal/devicesync"
)

// PullSchedule returns the armed schedule of the dispenser named by the
// machine_SN query parameter.
func (h *Handler) PullSchedule(c *gin.Context) {
	resp, err := h.DeviceSync.Pull(c.Request.Context(), c.Query("machine_SN"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// PushDoseEvent records what happened when a dose was due.
func (h *Handler) PushDoseEvent(c *gin.Context) {
	var req devicesync.PushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	result, err := h.DeviceSync.Push(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}
