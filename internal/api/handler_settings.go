package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pillbox-backend/internal/schedule"
)

func (h *Handler) GetVolumeSettings(c *gin.Context) {
	view, err := h.Schedule.GetSettings(c.Request.Context(), identity(c).ConnectionID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) PutVolumeSettings(c *gin.Context) {
	var in schedule.VolumeInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	view, changed, err := h.Schedule.UpdateVolume(c.Request.Context(), identity(c).ConnectionID, in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": view, "changed": changed})
}
