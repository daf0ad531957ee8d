package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"

	"pillbox-backend/config"
	"pillbox-backend/internal/logging"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:           "pillboxd",
		Short:         "Scheduling and sync backend for smart pill dispensers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func main() {
	defaultPath := os.Getenv("CONFIG_PATH")
	if defaultPath == "" {
		defaultPath = "./config/config.yaml" // Default path for local development
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultPath, "path to the YAML configuration file")

	rootCmd.AddCommand(serveCmd(), migrateCmd(), registerDeviceCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bootstrap loads the configuration and installs the process logger.
func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
	}
	log, err := logging.New(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	zap.ReplaceGlobals(log)
	log.Info("configuration loaded", zap.String("path", configPath), zap.String("db_driver", cfg.Database.Driver))
	return cfg, log, nil
}

// gormLogLevel keeps SQL tracing out of production logs.
func gormLogLevel(cfg *config.Config) logger.LogLevel {
	if cfg.Logger.Mode == "production" || cfg.Logger.Mode == "prod" {
		return logger.Warn
	}
	return logger.Info
}
