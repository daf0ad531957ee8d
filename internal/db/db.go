package db

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"pillbox-backend/config"
	"pillbox-backend/internal/model"
)

// Models lists every table owned by the service, in dependency order.
var Models = []any{
	&model.Device{},
	&model.DeviceConnection{},
	&model.Slot{},
	&model.DaySchedule{},
	&model.DosageForm{},
	&model.UnitType{},
	&model.Medication{},
	&model.MedicationTiming{},
	&model.MedicationLink{},
	&model.DoseEvent{},
	&model.MedicationSnapshot{},
	&model.VolumeSettings{},
	&model.PushSubscription{},
}

// Open connects to the configured database without migrating.
func Open(cfg *config.DatabaseConfig, logMode logger.LogLevel) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		// e.g. user:pass@tcp(127.0.0.1:3306)/pillbox?parseTime=true&charset=utf8mb4&loc=Local
		dialector = mysql.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logMode),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	}
	return db, nil
}

// Init connects, migrates and seeds reference data.
func Init(cfg *config.DatabaseConfig, logMode logger.LogLevel) (*gorm.DB, error) {
	db, err := Open(cfg, logMode)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	zap.S().Info("database initialization complete")
	return db, nil
}

// Migrate creates or updates every table and seeds the dosage form catalog.
func Migrate(db *gorm.DB) error {
	zap.S().Info("running database migrations")
	if err := db.AutoMigrate(Models...); err != nil {
		return fmt.Errorf("automigrate failed: %w", err)
	}
	if err := SeedDosageForms(db); err != nil {
		return fmt.Errorf("seed dosage forms: %w", err)
	}
	return nil
}

// defaultDosageForms is the catalog shipped with the dispenser app.
var defaultDosageForms = []model.DosageForm{
	{Name: "ยาเม็ด", UnitTypes: []model.UnitType{{Name: "เม็ด"}}},
	{Name: "ยาแคปซูล", UnitTypes: []model.UnitType{{Name: "แคปซูล"}}},
	{Name: "ยาน้ำ", UnitTypes: []model.UnitType{{Name: "ช้อนชา"}, {Name: "ช้อนโต๊ะ"}, {Name: "มิลลิลิตร"}}},
	{Name: "ยาผง", UnitTypes: []model.UnitType{{Name: "ซอง"}}},
}

// SeedDosageForms inserts the default catalog when the table is empty.
func SeedDosageForms(db *gorm.DB) error {
	var count int64
	if err := db.Model(&model.DosageForm{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	forms := make([]model.DosageForm, len(defaultDosageForms))
	for i, f := range defaultDosageForms {
		forms[i] = model.DosageForm{Name: f.Name, UnitTypes: append([]model.UnitType(nil), f.UnitTypes...)}
	}
	return db.Create(&forms).Error
}

// RegisterDevice adds a serial number to the device registry. Registering a
// serial twice is not an error.
func RegisterDevice(db *gorm.DB, serial string) (*model.Device, error) {
	if serial == "" {
		return nil, errors.New("serial must not be empty")
	}
	device := model.Device{Serial: serial}
	if err := db.Where(model.Device{Serial: serial}).FirstOrCreate(&device).Error; err != nil {
		return nil, fmt.Errorf("register device %q: %w", serial, err)
	}
	return &device, nil
}
