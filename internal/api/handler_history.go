package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"

	"pillbox-backend/internal/history"
)

func (h *Handler) ListHistory(c *gin.Context) {
	page := cast.ToInt(c.DefaultQuery("page", "1"))
	limit := cast.ToInt(c.DefaultQuery("limit", "20"))
	result, err := h.History.List(c.Request.Context(), identity(c).ConnectionID, page, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetHistorySummary reports adherence over ?period=all|week|month, or over
// an explicit ?start_date=&end_date= range.
func (h *Handler) GetHistorySummary(c *gin.Context) {
	r := history.Range{
		Period: c.DefaultQuery("period", history.PeriodAll),
		Start:  c.Query("start_date"),
		End:    c.Query("end_date"),
	}
	summary, err := h.History.Summary(c.Request.Context(), identity(c).ConnectionID, r)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) GetHistoryEvent(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	event, err := h.History.Detail(c.Request.Context(), identity(c).ConnectionID, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, event)
}
