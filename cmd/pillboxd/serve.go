package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pillbox-backend/internal/api"
	"pillbox-backend/internal/auth"
	"pillbox-backend/internal/db"
	"pillbox-backend/internal/devicesync"
	"pillbox-backend/internal/history"
	"pillbox-backend/internal/imagestore"
	"pillbox-backend/internal/medication"
	"pillbox-backend/internal/notification"
	"pillbox-backend/internal/pairing"
	"pillbox-backend/internal/schedule"
	"pillbox-backend/internal/store"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func serve() error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	if cfg.Auth.Secret == "" {
		return errors.New("auth.secret must be configured (PILLBOX_AUTH_SECRET)")
	}

	// Initialize database
	gormDB, err := db.Init(&cfg.Database, gormLogLevel(cfg))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	log.Info("database initialized successfully")

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)

	images, err := imagestore.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize image storage: %w", err)
	}
	log.Info("image storage ready", zap.String("backend", cfg.Storage.Backend))

	defaults := schedule.NewDefaults(&cfg.Schedule)
	issuer := auth.NewIssuer(cfg.Auth)

	var webpushOptions *webpush.Options
	var notifier devicesync.Notifier
	if cfg.Push.Enabled() {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize, appStore, webpushOptions, log)
		pool.Start(ctx)
		notifier = pool
		log.Info("missed-dose notifications enabled", zap.Int("workers", cfg.WorkerPool.Size))
	} else {
		log.Warn("VAPID keys are not configured; missed-dose notifications are disabled")
	}

	svc := api.Services{
		Store:       appStore,
		Pairing:     pairing.NewService(appStore, defaults, issuer, log),
		Schedule:    schedule.NewService(appStore, defaults, log),
		Medications: medication.NewService(appStore, defaults, images, log),
		History:     history.NewService(appStore, defaults, images, log),
		DeviceSync:  devicesync.NewService(appStore, defaults, images, notifier, log),
	}

	router := api.NewRouter(cfg, svc, issuer, webpushOptions, log)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start the server in a goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutdown signal received, stopping services")
	case err := <-serverErr:
		return fmt.Errorf("HTTP server ListenAndServe: %w", err)
	}

	// Create a deadline to wait for.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server Shutdown: %w", err)
	}
	cancel()
	if closer, ok := images.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			log.Warn("failed to close image storage", zap.Error(err))
		}
	}

	log.Info("server gracefully stopped")
	return nil
}
