package store

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pillbox-backend/internal/apperr"
	"pillbox-backend/internal/model"
)

// RecordDoseEvent appends one dose event and its medication snapshots
// atomically. Timestamps are stored in UTC so range filters compare
// consistently across dialects.
func (s *gormStore) RecordDoseEvent(ctx context.Context, event *model.DoseEvent, snapshots []model.MedicationSnapshot) error {
	if len(snapshots) == 0 {
		return apperr.Validation("a dose event needs at least one medication snapshot")
	}
	event.ScheduledAt = event.ScheduledAt.UTC()
	event.ActualAt = event.ActualAt.UTC()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(event).Error; err != nil {
			return err
		}
		for i := range snapshots {
			snapshots[i].ID = 0
			snapshots[i].DoseEventID = event.ID
		}
		return tx.Create(&snapshots).Error
	})
	if err != nil {
		event.ID = 0
		return apperr.Storage(err, "failed to record dose event for slot %d", event.SlotNumber)
	}
	event.Snapshots = snapshots
	return nil
}

func (s *gormStore) GetDoseEvent(ctx context.Context, eventID int64) (*model.DoseEvent, error) {
	var event model.DoseEvent
	err := s.db.WithContext(ctx).
		Preload("Snapshots", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		First(&event, eventID).Error
	if err != nil {
		return nil, lookupErr(err, "dose event", eventID)
	}
	return &event, nil
}

// ListDoseEvents returns one page of events, newest first, and the total.
func (s *gormStore) ListDoseEvents(ctx context.Context, connectionID int64, offset, limit int) ([]model.DoseEvent, int64, error) {
	var total int64
	base := s.db.WithContext(ctx).Model(&model.DoseEvent{}).Where("connection_id = ?", connectionID)
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, apperr.Storage(err, "failed to count dose events")
	}

	var events []model.DoseEvent
	err := s.db.WithContext(ctx).
		Preload("Snapshots", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Where("connection_id = ?", connectionID).
		Order("scheduled_at DESC").
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, 0, apperr.Storage(err, "failed to list dose events")
	}
	return events, total, nil
}
