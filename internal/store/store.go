package store

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"pillbox-backend/internal/apperr"
	"pillbox-backend/internal/model"
)

// Store defines the interface for all database operations. Every method that
// writes more than one row does so inside a single transaction.
type Store interface {
	DB() *gorm.DB
	// WithTx runs fn against a Store bound to one transaction.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	FindDevice(ctx context.Context, serial string) (*model.Device, error)
	ConnectionBySerial(ctx context.Context, serial string) (*model.DeviceConnection, error)
	CreateConnection(ctx context.Context, userID int64, serial string, volume model.VolumeSettings, seeds []SlotSeed) (*model.DeviceConnection, error)

	ListSlots(ctx context.Context, connectionID int64) ([]model.Slot, error)
	ActiveSlots(ctx context.Context, connectionID int64) ([]model.Slot, error)
	GetSlot(ctx context.Context, slotID int64) (*model.Slot, error)
	SlotByNumber(ctx context.Context, connectionID int64, number int) (*model.Slot, error)
	ReplaceDaySchedule(ctx context.Context, slotID int64, flags model.WeekFlags) (LinkResult, error)
	SetSlotActive(ctx context.Context, slotID int64, desired bool) (model.Readiness, error)
	ReplaceLinks(ctx context.Context, slotID int64, entries []LinkEntry) (LinkResult, error)
	SaveSlot(ctx context.Context, slotID int64, update SlotUpdate) (LinkResult, error)
	LinkedMedications(ctx context.Context, slotID int64) ([]model.MedicationLink, error)
	EligibleMedications(ctx context.Context, connectionID int64, slotNumber int) ([]model.Medication, error)

	CreateMedication(ctx context.Context, med *model.Medication, slotNumbers []int) error
	UpdateMedication(ctx context.Context, med *model.Medication) error
	ReplaceMedicationTimings(ctx context.Context, medicationID int64, slotNumbers []int) error
	GetMedication(ctx context.Context, medicationID int64) (*model.Medication, error)
	ListMedications(ctx context.Context, connectionID int64) ([]model.Medication, error)
	ActiveSlotsUsing(ctx context.Context, medicationID int64) ([]model.Slot, error)
	DeleteMedication(ctx context.Context, medicationID int64, force bool) (DeleteResult, error)
	DosageForms(ctx context.Context) ([]model.DosageForm, error)
	UnitType(ctx context.Context, unitTypeID int64) (*model.UnitType, error)

	RecordDoseEvent(ctx context.Context, event *model.DoseEvent, snapshots []model.MedicationSnapshot) error
	GetDoseEvent(ctx context.Context, eventID int64) (*model.DoseEvent, error)
	ListDoseEvents(ctx context.Context, connectionID int64, offset, limit int) ([]model.DoseEvent, int64, error)

	StatusCounts(ctx context.Context, f HistoryFilter) (Counts, error)
	SlotCounts(ctx context.Context, f HistoryFilter) ([]SlotCount, error)
	Outcomes(ctx context.Context, f HistoryFilter) ([]Outcome, error)
	MedicationCounts(ctx context.Context, f HistoryFilter) ([]MedicationCount, error)

	GetVolume(ctx context.Context, connectionID int64) (*model.VolumeSettings, error)
	UpdateVolume(ctx context.Context, settings *model.VolumeSettings) error

	UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error
	DeleteSubscription(ctx context.Context, connectionID int64, endpoint string) error
	Subscriptions(ctx context.Context, connectionID int64) ([]model.PushSubscription, error)
	GetSubscription(ctx context.Context, connectionID int64, endpoint string) (*model.PushSubscription, error)
	DeleteSubscriptionByEndpoint(ctx context.Context, endpoint string) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

func (s *gormStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
}

// lookupErr converts a failed single-row lookup into a classified error.
func lookupErr(err error, what string, id any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound("%s %v not found", what, id)
	}
	return apperr.Storage(err, "failed to load %s %v", what, id)
}

// passThrough keeps classified errors raised inside a transaction callback
// and wraps everything else as a storage failure.
func passThrough(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Storage(err, format, args...)
}

// isUniqueViolation recognises duplicate-key errors across the supported
// dialects without importing each driver's error type.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry")
}
