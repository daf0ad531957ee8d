package store

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pillbox-backend/internal/apperr"
	"pillbox-backend/internal/model"
)

// CreateMedication inserts the medication and its timing categories together.
func (s *gormStore) CreateMedication(ctx context.Context, med *model.Medication, slotNumbers []int) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(med).Error; err != nil {
			return err
		}
		timings, err := writeTimings(tx, med.ID, slotNumbers)
		if err != nil {
			return err
		}
		med.Timings = timings
		return nil
	})
	return passThrough(err, "failed to create medication %q", med.Name)
}

// UpdateMedication writes the editable columns of med.
func (s *gormStore) UpdateMedication(ctx context.Context, med *model.Medication) error {
	res := s.db.WithContext(ctx).
		Model(&model.Medication{}).
		Where("id = ?", med.ID).
		Select("name", "nickname", "description", "dosage_form_id", "unit_type_id", "picture").
		Updates(med)
	if res.Error != nil {
		return apperr.Storage(res.Error, "failed to update medication %d", med.ID)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("medication %d not found", med.ID)
	}
	return nil
}

func (s *gormStore) ReplaceMedicationTimings(ctx context.Context, medicationID int64, slotNumbers []int) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("medication_id = ?", medicationID).Delete(&model.MedicationTiming{}).Error; err != nil {
			return err
		}
		_, err := writeTimings(tx, medicationID, slotNumbers)
		return err
	})
	return passThrough(err, "failed to replace timings for medication %d", medicationID)
}

func (s *gormStore) GetMedication(ctx context.Context, medicationID int64) (*model.Medication, error) {
	var med model.Medication
	err := s.db.WithContext(ctx).
		Preload("UnitType").
		Preload("Timings", func(db *gorm.DB) *gorm.DB { return db.Order("slot_number") }).
		First(&med, medicationID).Error
	if err != nil {
		return nil, lookupErr(err, "medication", medicationID)
	}
	return &med, nil
}

func (s *gormStore) ListMedications(ctx context.Context, connectionID int64) ([]model.Medication, error) {
	var meds []model.Medication
	err := s.db.WithContext(ctx).
		Preload("UnitType").
		Preload("Timings", func(db *gorm.DB) *gorm.DB { return db.Order("slot_number") }).
		Where("connection_id = ?", connectionID).
		Order("id").
		Find(&meds).Error
	if err != nil {
		return nil, apperr.Storage(err, "failed to list medications for connection %d", connectionID)
	}
	return meds, nil
}

// ActiveSlotsUsing lists the armed slots that currently link the medication.
func (s *gormStore) ActiveSlotsUsing(ctx context.Context, medicationID int64) ([]model.Slot, error) {
	slots, err := activeSlotsUsing(s.db.WithContext(ctx), medicationID)
	if err != nil {
		return nil, apperr.Storage(err, "failed to find slots using medication %d", medicationID)
	}
	return slots, nil
}

// DeleteMedication removes the medication with its links and timings. When
// active slots still link it the delete is refused unless force is set, in
// which case those slots are deactivated first. Dose history is untouched.
func (s *gormStore) DeleteMedication(ctx context.Context, medicationID int64, force bool) (DeleteResult, error) {
	var result DeleteResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var med model.Medication
		if err := tx.Select("id").First(&med, medicationID).Error; err != nil {
			return lookupErr(err, "medication", medicationID)
		}

		blocking, err := activeSlotsUsing(tx, medicationID)
		if err != nil {
			return err
		}
		if len(blocking) > 0 {
			numbers := make([]int, len(blocking))
			ids := make([]int64, len(blocking))
			for i, slot := range blocking {
				numbers[i] = slot.Number
				ids[i] = slot.ID
			}
			if !force {
				return apperr.Conflict("medication %d is used by active slots", medicationID).
					WithDetails(map[string]any{"active_slots": numbers})
			}
			if err := tx.Model(&model.Slot{}).Where("id IN ?", ids).Update("active", false).Error; err != nil {
				return err
			}
			result.DeactivatedSlots = numbers
		}

		if err := tx.Where("medication_id = ?", medicationID).Delete(&model.MedicationLink{}).Error; err != nil {
			return err
		}
		if err := tx.Where("medication_id = ?", medicationID).Delete(&model.MedicationTiming{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Medication{}, medicationID).Error
	})
	return result, passThrough(err, "failed to delete medication %d", medicationID)
}

func (s *gormStore) DosageForms(ctx context.Context) ([]model.DosageForm, error) {
	var forms []model.DosageForm
	err := s.db.WithContext(ctx).
		Preload("UnitTypes", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Order("id").
		Find(&forms).Error
	if err != nil {
		return nil, apperr.Storage(err, "failed to list dosage forms")
	}
	return forms, nil
}

func (s *gormStore) UnitType(ctx context.Context, unitTypeID int64) (*model.UnitType, error) {
	var unit model.UnitType
	if err := s.db.WithContext(ctx).First(&unit, unitTypeID).Error; err != nil {
		return nil, lookupErr(err, "unit type", unitTypeID)
	}
	return &unit, nil
}

func writeTimings(tx *gorm.DB, medicationID int64, slotNumbers []int) ([]model.MedicationTiming, error) {
	if len(slotNumbers) == 0 {
		return nil, nil
	}
	timings := make([]model.MedicationTiming, len(slotNumbers))
	for i, n := range slotNumbers {
		timings[i] = model.MedicationTiming{MedicationID: medicationID, SlotNumber: n}
	}
	if err := tx.Create(&timings).Error; err != nil {
		return nil, err
	}
	return timings, nil
}

func activeSlotsUsing(db *gorm.DB, medicationID int64) ([]model.Slot, error) {
	var slots []model.Slot
	err := db.
		Where("active = ?", true).
		Where("id IN (?)", db.Session(&gorm.Session{NewDB: true}).Model(&model.MedicationLink{}).Select("slot_id").Where("medication_id = ?", medicationID)).
		Order("number").
		Find(&slots).Error
	return slots, err
}
