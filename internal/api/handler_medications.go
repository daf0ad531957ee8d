package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"

	"pillbox-backend/internal/medication"
)

func (h *Handler) ListMedications(c *gin.Context) {
	meds, err := h.Medications.List(c.Request.Context(), identity(c).ConnectionID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"medications": meds})
}

func (h *Handler) CreateMedication(c *gin.Context) {
	var in medication.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	v, err := h.Medications.Create(c.Request.Context(), identity(c).ConnectionID, in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, v)
}

func (h *Handler) GetMedication(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	v, err := h.Medications.Get(c.Request.Context(), identity(c).ConnectionID, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handler) UpdateMedication(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var in medication.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	v, err := h.Medications.Update(c.Request.Context(), identity(c).ConnectionID, id, in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// DeleteMedication removes a medication. ?force=true deactivates the slots
// that still use it instead of refusing.
func (h *Handler) DeleteMedication(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	force := cast.ToBool(c.DefaultQuery("force", "false"))
	result, err := h.Medications.Delete(c.Request.Context(), identity(c).ConnectionID, id, force)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true, "deactivated_slots": result.DeactivatedSlots})
}

type timingsRequest struct {
	Timings []int `json:"timings"`
}

func (h *Handler) PutMedicationTimings(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req timingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	v, err := h.Medications.ReplaceTimings(c.Request.Context(), identity(c).ConnectionID, id, req.Timings)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// GetDosageForms serves the reference catalog. The router caches it.
func (h *Handler) GetDosageForms(c *gin.Context) {
	forms, err := h.Medications.DosageForms(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dosage_forms": forms})
}
