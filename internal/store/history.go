package store

import (
	"context"

	"gorm.io/gorm"

	"pillbox-backend/internal/apperr"
	"pillbox-backend/internal/model"
)

const takenSum = "COALESCE(SUM(CASE WHEN dose_events.status = 'taken' THEN 1 ELSE 0 END), 0)"

func (f HistoryFilter) apply(db *gorm.DB) *gorm.DB {
	db = db.Where("dose_events.connection_id = ?", f.ConnectionID)
	if !f.From.IsZero() {
		db = db.Where("dose_events.scheduled_at >= ?", f.From.UTC())
	}
	if !f.To.IsZero() {
		db = db.Where("dose_events.scheduled_at < ?", f.To.UTC())
	}
	return db
}

func (s *gormStore) StatusCounts(ctx context.Context, f HistoryFilter) (Counts, error) {
	var c Counts
	err := s.db.WithContext(ctx).
		Model(&model.DoseEvent{}).
		Select("COUNT(*) AS total, " + takenSum + " AS taken").
		Scopes(f.apply).
		Scan(&c).Error
	if err != nil {
		return Counts{}, apperr.Storage(err, "failed to count dose events")
	}
	return c, nil
}

func (s *gormStore) SlotCounts(ctx context.Context, f HistoryFilter) ([]SlotCount, error) {
	var out []SlotCount
	err := s.db.WithContext(ctx).
		Model(&model.DoseEvent{}).
		Select("dose_events.slot_number AS slot_number, COUNT(*) AS total, " + takenSum + " AS taken").
		Scopes(f.apply).
		Group("dose_events.slot_number").
		Order("dose_events.slot_number").
		Scan(&out).Error
	if err != nil {
		return nil, apperr.Storage(err, "failed to count dose events by slot")
	}
	return out, nil
}

// Outcomes returns the schedule time and status of every matching event.
// Grouping by calendar day happens in the caller's time zone.
func (s *gormStore) Outcomes(ctx context.Context, f HistoryFilter) ([]Outcome, error) {
	var out []Outcome
	err := s.db.WithContext(ctx).
		Model(&model.DoseEvent{}).
		Select("dose_events.scheduled_at AS scheduled_at, dose_events.status AS status").
		Scopes(f.apply).
		Order("dose_events.scheduled_at DESC").
		Scan(&out).Error
	if err != nil {
		return nil, apperr.Storage(err, "failed to load dose outcomes")
	}
	return out, nil
}

// MedicationCounts groups snapshots by medication name.
func (s *gormStore) MedicationCounts(ctx context.Context, f HistoryFilter) ([]MedicationCount, error) {
	var out []MedicationCount
	err := s.db.WithContext(ctx).
		Model(&model.MedicationSnapshot{}).
		Select("medication_snapshots.medication_name AS medication_name, COUNT(*) AS total, " + takenSum + " AS taken").
		Joins("JOIN dose_events ON dose_events.id = medication_snapshots.dose_event_id").
		Scopes(f.apply).
		Group("medication_snapshots.medication_name").
		Scan(&out).Error
	if err != nil {
		return nil, apperr.Storage(err, "failed to count medications")
	}
	return out, nil
}
