package store

import (
	"context"

	"gorm.io/gorm"

	"pillbox-backend/internal/apperr"
	"pillbox-backend/internal/model"
)

func (s *gormStore) ListSlots(ctx context.Context, connectionID int64) ([]model.Slot, error) {
	var slots []model.Slot
	err := s.db.WithContext(ctx).
		Preload("DaySchedule").
		Where("connection_id = ?", connectionID).
		Order("number").
		Find(&slots).Error
	if err != nil {
		return nil, apperr.Storage(err, "failed to list slots for connection %d", connectionID)
	}
	return slots, nil
}

// ActiveSlots returns only the armed slots, ordered by slot number.
func (s *gormStore) ActiveSlots(ctx context.Context, connectionID int64) ([]model.Slot, error) {
	var slots []model.Slot
	err := s.db.WithContext(ctx).
		Preload("DaySchedule").
		Where("connection_id = ? AND active = ?", connectionID, true).
		Order("number").
		Find(&slots).Error
	if err != nil {
		return nil, apperr.Storage(err, "failed to list active slots for connection %d", connectionID)
	}
	return slots, nil
}

// GetSlot loads a slot with its day schedule and current links.
func (s *gormStore) GetSlot(ctx context.Context, slotID int64) (*model.Slot, error) {
	var slot model.Slot
	err := s.db.WithContext(ctx).
		Preload("DaySchedule").
		Preload("Links", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Preload("Links.Medication.UnitType").
		First(&slot, slotID).Error
	if err != nil {
		return nil, lookupErr(err, "slot", slotID)
	}
	return &slot, nil
}

func (s *gormStore) SlotByNumber(ctx context.Context, connectionID int64, number int) (*model.Slot, error) {
	var slot model.Slot
	err := s.db.WithContext(ctx).
		Preload("DaySchedule").
		Where("connection_id = ? AND number = ?", connectionID, number).
		First(&slot).Error
	if err != nil {
		return nil, lookupErr(err, "slot number", number)
	}
	return &slot, nil
}

// ReplaceDaySchedule overwrites all seven day flags and recomputes the
// active flag from links and days.
func (s *gormStore) ReplaceDaySchedule(ctx context.Context, slotID int64, flags model.WeekFlags) (LinkResult, error) {
	var result LinkResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var slot model.Slot
		if err := tx.Select("id").First(&slot, slotID).Error; err != nil {
			return lookupErr(err, "slot", slotID)
		}
		if err := writeDays(tx, slotID, flags); err != nil {
			return err
		}
		var err error
		result, err = recomputeActive(tx, slotID)
		return err
	})
	return result, passThrough(err, "failed to update days for slot %d", slotID)
}

// SetSlotActive arms or disarms a slot. Arming requires at least one linked
// medication and one active day; otherwise the slot is left unchanged and a
// validation error carrying the readiness details is returned.
func (s *gormStore) SetSlotActive(ctx context.Context, slotID int64, desired bool) (model.Readiness, error) {
	var readiness model.Readiness

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var slot model.Slot
		if err := tx.First(&slot, slotID).Error; err != nil {
			return lookupErr(err, "slot", slotID)
		}
		r, err := slotReadiness(tx, slotID)
		if err != nil {
			return err
		}
		readiness = r
		if desired && !r.Ready() {
			return apperr.Validation("slot %d cannot be activated", slot.Number).WithDetails(map[string]any{
				"has_medication": r.HasMedication,
				"has_active_day": r.HasActiveDay,
			})
		}
		return tx.Model(&model.Slot{}).Where("id = ?", slotID).Update("active", desired).Error
	})
	return readiness, passThrough(err, "failed to set active for slot %d", slotID)
}

// ReplaceLinks swaps the slot's links for the eligible subset of entries and
// recomputes the active flag.
func (s *gormStore) ReplaceLinks(ctx context.Context, slotID int64, entries []LinkEntry) (LinkResult, error) {
	var result LinkResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var slot model.Slot
		if err := tx.First(&slot, slotID).Error; err != nil {
			return lookupErr(err, "slot", slotID)
		}
		linked, skipped, err := replaceLinks(tx, slot, entries)
		if err != nil {
			return err
		}
		result, err = recomputeActive(tx, slotID)
		result.Linked, result.Skipped = linked, skipped
		return err
	})
	return result, passThrough(err, "failed to replace links for slot %d", slotID)
}

// SaveSlot applies a bulk edit and derives the active flag from the result.
func (s *gormStore) SaveSlot(ctx context.Context, slotID int64, update SlotUpdate) (LinkResult, error) {
	var result LinkResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var slot model.Slot
		if err := tx.First(&slot, slotID).Error; err != nil {
			return lookupErr(err, "slot", slotID)
		}
		if update.Timing != nil {
			if err := tx.Model(&model.Slot{}).Where("id = ?", slotID).Update("timing", *update.Timing).Error; err != nil {
				return err
			}
		}
		if update.Days != nil {
			if err := writeDays(tx, slotID, *update.Days); err != nil {
				return err
			}
		}
		linked, skipped := 0, 0
		if update.SetLinks {
			var err error
			if linked, skipped, err = replaceLinks(tx, slot, update.Links); err != nil {
				return err
			}
		}
		var err error
		result, err = recomputeActive(tx, slotID)
		result.Linked, result.Skipped = linked, skipped
		return err
	})
	return result, passThrough(err, "failed to save slot %d", slotID)
}

// LinkedMedications returns the slot's links with medication and unit type.
func (s *gormStore) LinkedMedications(ctx context.Context, slotID int64) ([]model.MedicationLink, error) {
	var links []model.MedicationLink
	err := s.db.WithContext(ctx).
		Preload("Medication.UnitType").
		Where("slot_id = ?", slotID).
		Order("id").
		Find(&links).Error
	if err != nil {
		return nil, apperr.Storage(err, "failed to load links for slot %d", slotID)
	}
	return links, nil
}

// EligibleMedications lists the connection's medications registered for the
// given timing category.
func (s *gormStore) EligibleMedications(ctx context.Context, connectionID int64, slotNumber int) ([]model.Medication, error) {
	var meds []model.Medication
	err := s.db.WithContext(ctx).
		Preload("UnitType").
		Where("connection_id = ?", connectionID).
		Where("id IN (?)", s.db.Model(&model.MedicationTiming{}).Select("medication_id").Where("slot_number = ?", slotNumber)).
		Order("name").
		Find(&meds).Error
	if err != nil {
		return nil, apperr.Storage(err, "failed to list medications for slot number %d", slotNumber)
	}
	return meds, nil
}

func writeDays(tx *gorm.DB, slotID int64, flags model.WeekFlags) error {
	var days model.DaySchedule
	err := tx.Where("slot_id = ?", slotID).Limit(1).Find(&days).Error
	if err != nil {
		return err
	}
	days.SlotID = slotID
	days.SetFlags(flags)
	return tx.Save(&days).Error
}

func slotReadiness(tx *gorm.DB, slotID int64) (model.Readiness, error) {
	var links int64
	if err := tx.Model(&model.MedicationLink{}).Where("slot_id = ?", slotID).Count(&links).Error; err != nil {
		return model.Readiness{}, err
	}
	var days model.DaySchedule
	if err := tx.Where("slot_id = ?", slotID).Limit(1).Find(&days).Error; err != nil {
		return model.Readiness{}, err
	}
	return model.Readiness{HasMedication: links > 0, HasActiveDay: days.HasActiveDay()}, nil
}

func recomputeActive(tx *gorm.DB, slotID int64) (LinkResult, error) {
	r, err := slotReadiness(tx, slotID)
	if err != nil {
		return LinkResult{}, err
	}
	active := r.Ready()
	if err := tx.Model(&model.Slot{}).Where("id = ?", slotID).Update("active", active).Error; err != nil {
		return LinkResult{}, err
	}
	return LinkResult{Active: active, Readiness: r}, nil
}

// replaceLinks deletes the slot's links and inserts every entry whose
// medication belongs to the slot's connection, is registered for the slot's
// timing category and has a positive amount. Repeated medications keep the
// first entry.
func replaceLinks(tx *gorm.DB, slot model.Slot, entries []LinkEntry) (linked, skipped int, err error) {
	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		if e.Amount > 0 {
			ids = append(ids, e.MedicationID)
		}
	}

	eligible := make(map[int64]bool, len(ids))
	if len(ids) > 0 {
		var found []int64
		err = tx.Model(&model.Medication{}).
			Where("id IN ? AND connection_id = ?", ids, slot.ConnectionID).
			Where("id IN (?)", tx.Session(&gorm.Session{NewDB: true}).Model(&model.MedicationTiming{}).Select("medication_id").Where("slot_number = ?", slot.Number)).
			Pluck("id", &found).Error
		if err != nil {
			return 0, 0, err
		}
		for _, id := range found {
			eligible[id] = true
		}
	}

	if err = tx.Where("slot_id = ?", slot.ID).Delete(&model.MedicationLink{}).Error; err != nil {
		return 0, 0, err
	}

	links := make([]model.MedicationLink, 0, len(entries))
	for _, e := range entries {
		if e.Amount <= 0 || !eligible[e.MedicationID] {
			skipped++
			continue
		}
		eligible[e.MedicationID] = false
		links = append(links, model.MedicationLink{SlotID: slot.ID, MedicationID: e.MedicationID, Amount: e.Amount})
	}
	if len(links) > 0 {
		if err = tx.Omit("Medication").Create(&links).Error; err != nil {
			return 0, 0, err
		}
	}
	return len(links), skipped, nil
}
