package api

import (
	"errors"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"pillbox-backend/internal/apperr"
	"pillbox-backend/internal/auth"
	"pillbox-backend/internal/devicesync"
	"pillbox-backend/internal/history"
	"pillbox-backend/internal/medication"
	"pillbox-backend/internal/pairing"
	"pillbox-backend/internal/schedule"
	"pillbox-backend/internal/store"
)

// Services are the domain services the handlers call into.
type Services struct {
	Store       store.Store
	Pairing     *pairing.Service
	Schedule    *schedule.Service
	Medications *medication.Service
	History     *history.Service
	DeviceSync  *devicesync.Service
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	Services
	webpush *webpush.Options
	log     *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(svc Services, webpushOptions *webpush.Options, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Services: svc,
		webpush:  webpushOptions,
		log:      log,
	}
}

// fail writes err as JSON with the status of its kind. Storage failures are
// logged and hidden from the client.
func (h *Handler) fail(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	body := gin.H{"error": err.Error(), "kind": kind}

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		body["error"] = appErr.Message
		if appErr.Details != nil {
			body["details"] = appErr.Details
		}
	}
	if kind == apperr.KindStorageFailure {
		h.log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		body["error"] = "internal server error"
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request", "kind": apperr.KindValidation, "details": gin.H{"reason": err.Error()}})
}

// identity returns the authenticated caller. The auth middleware guarantees
// it is present on protected routes.
func identity(c *gin.Context) auth.Identity {
	id, _ := auth.FromContext(c)
	return id
}

// pathID parses a positive integer path parameter.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := cast.ToInt64E(c.Param(name))
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": name + " must be a positive integer", "kind": apperr.KindValidation})
		return 0, false
	}
	return id, true
}
