package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pillbox-backend/internal/db"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update tables and seed the dosage form catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			if _, err := db.Init(&cfg.Database, gormLogLevel(cfg)); err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			log.Info("migration complete")
			return nil
		},
	}
}

// registerDeviceCmd adds manufactured serial numbers to the device registry.
// Only registered devices can be paired.
func registerDeviceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register-device SERIAL...",
		Short: "Register dispenser serial numbers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			gormDB, err := db.Init(&cfg.Database, gormLogLevel(cfg))
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			for _, serial := range args {
				device, err := db.RegisterDevice(gormDB, serial)
				if err != nil {
					return err
				}
				log.Info("device registered", zap.String("serial", device.Serial), zap.Int64("id", device.ID))
				_, _ = fmt.Fprintln(os.Stdout, device.Serial)
			}
			return nil
		},
	}
}
