package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"pillbox-backend/config"
	"pillbox-backend/internal/auth"
	"pillbox-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg *config.Config, svc Services, issuer *auth.Issuer, webpushOptions *webpush.Options, log *zap.Logger) *gin.Engine {
	r := gin.Default()
	r.Use(mw.CORS(cfg.Server.AllowOrigins), mw.BodyLimit(cfg.Server.MaxBodyBytes))

	handler := NewHandler(svc, webpushOptions, log)

	limit := rate.Limit(cfg.Server.RateLimitPerSec)
	burst := cfg.Server.RateLimitBurst

	ttl := time.Duration(cfg.Server.CacheTTLSeconds) * time.Second
	caching := mw.Cache(cache.New(ttl, 2*ttl), ttl)

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Pictures are served from disk when the local backend is in use.
	if cfg.Storage.Backend == "local" && strings.HasPrefix(cfg.Storage.BaseURL, "/") {
		r.Static(strings.TrimSuffix(cfg.Storage.BaseURL, "/"), cfg.Storage.Dir)
	}

	api := r.Group("/api")

	// Dispenser firmware: identified by serial number only.
	device := api.Group("/device")
	device.Use(mw.RateLimiter(limit, burst, mw.DeviceOrIP))
	{
		device.GET("/schedule", handler.PullSchedule)
		device.POST("/events", handler.PushDoseEvent)
	}

	api.GET("/vapid_public_key", mw.RateLimiter(limit, burst, mw.ClientIP), handler.GetVAPIDPublicKey)

	user := api.Group("")
	user.Use(mw.RateLimiter(limit, burst, mw.ClientIP), issuer.Middleware())
	{
		user.POST("/devices/connect", handler.ConnectDevice)
	}

	app := user.Group("")
	app.Use(auth.RequireConnection())
	{
		app.GET("/slots", handler.ListSlots)
		app.PUT("/slots/status", handler.PutSlotStatus)
		app.GET("/slots/:id", handler.GetSlot)
		app.PUT("/slots/:id", handler.SaveSlot)
		app.PUT("/slots/:id/days", handler.PutSlotDays)
		app.PUT("/slots/:id/links", handler.PutSlotLinks)
		app.PUT("/slots/:id/active", handler.PutSlotActive)

		app.GET("/medications", handler.ListMedications)
		app.POST("/medications", handler.CreateMedication)
		app.GET("/medications/:id", handler.GetMedication)
		app.PUT("/medications/:id", handler.UpdateMedication)
		app.DELETE("/medications/:id", handler.DeleteMedication)
		app.PUT("/medications/:id/timings", handler.PutMedicationTimings)
		app.GET("/dosage-forms", caching, handler.GetDosageForms)

		app.GET("/settings/volume", handler.GetVolumeSettings)
		app.PUT("/settings/volume", handler.PutVolumeSettings)

		app.GET("/history", handler.ListHistory)
		app.GET("/history/summary", handler.GetHistorySummary)
		app.GET("/history/:id", handler.GetHistoryEvent)

		app.GET("/subscriptions", handler.GetSubscription)
		app.PUT("/subscriptions", handler.PutSubscription)
		app.DELETE("/subscriptions", handler.DeleteSubscription)
	}

	return r
}
