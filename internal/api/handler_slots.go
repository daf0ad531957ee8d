package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pillbox-backend/internal/schedule"
	"pillbox-backend/internal/store"
)

func (h *Handler) ListSlots(c *gin.Context) {
	slots, err := h.Schedule.ListSlots(c.Request.Context(), identity(c).ConnectionID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"slots": slots})
}

func (h *Handler) GetSlot(c *gin.Context) {
	slotID, ok := pathID(c, "id")
	if !ok {
		return
	}
	detail, err := h.Schedule.GetSlot(c.Request.Context(), identity(c).ConnectionID, slotID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// SaveSlot applies the slot editor's bulk update.
func (h *Handler) SaveSlot(c *gin.Context) {
	slotID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var in schedule.SaveInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	result, err := h.Schedule.SaveSlot(c.Request.Context(), identity(c).ConnectionID, slotID, in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) PutSlotDays(c *gin.Context) {
	slotID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var days schedule.Days
	if err := c.ShouldBindJSON(&days); err != nil {
		badRequest(c, err)
		return
	}
	result, err := h.Schedule.ConfigureRecurrence(c.Request.Context(), identity(c).ConnectionID, slotID, days)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"day_schedule": days, "active": result.Active, "readiness": result.Readiness})
}

type linksRequest struct {
	Medications []store.LinkEntry `json:"medications"`
}

func (h *Handler) PutSlotLinks(c *gin.Context) {
	slotID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req linksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	result, err := h.Schedule.ReplaceLinks(c.Request.Context(), identity(c).ConnectionID, slotID, req.Medications)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type activeRequest struct {
	SlotNumber int   `json:"slot_number"`
	Active     *bool `json:"active" binding:"required"`
}

func (h *Handler) PutSlotActive(c *gin.Context) {
	slotID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req activeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	readiness, err := h.Schedule.SetActive(c.Request.Context(), identity(c).ConnectionID, slotID, *req.Active)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": *req.Active, "readiness": readiness})
}

// PutSlotStatus toggles a slot addressed by its number.
func (h *Handler) PutSlotStatus(c *gin.Context) {
	var req activeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	readiness, err := h.Schedule.SetActiveByNumber(c.Request.Context(), identity(c).ConnectionID, req.SlotNumber, *req.Active)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"slot_number": req.SlotNumber, "active": *req.Active, "readiness": readiness})
}
