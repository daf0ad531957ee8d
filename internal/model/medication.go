package model

import "time"

// Placeholder is stored for nickname and description when the user leaves
// them empty.
const Placeholder = "-"

// Medication is the user's master record for one medicine.
type Medication struct {
	ID           int64     `gorm:"primaryKey"`
	ConnectionID int64     `gorm:"index;not null"`
	Name         string    `gorm:"size:255;not null"`
	Nickname     string    `gorm:"size:255;not null;default:'-'"`
	Description  string    `gorm:"type:text"`
	DosageFormID int64     `gorm:"not null"`
	UnitTypeID   int64     `gorm:"not null"`
	Picture      string    `gorm:"size:512"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`

	// Associations
	UnitType UnitType           `gorm:"foreignKey:UnitTypeID"`
	Timings  []MedicationTiming `gorm:"foreignKey:MedicationID;constraint:OnDelete:CASCADE"`
}

// DisplayName prefers the nickname the user chose.
func (m Medication) DisplayName() string {
	if m.Nickname != "" && m.Nickname != Placeholder {
		return m.Nickname
	}
	return m.Name
}

// TimingNumbers lists the slot numbers the medication is registered for.
func (m Medication) TimingNumbers() []int {
	out := make([]int, 0, len(m.Timings))
	for _, t := range m.Timings {
		out = append(out, t.SlotNumber)
	}
	return out
}

// MedicationTiming registers a medication under one timing category.
type MedicationTiming struct {
	ID           int64 `gorm:"primaryKey"`
	MedicationID int64 `gorm:"not null;uniqueIndex:idx_medication_timing"`
	SlotNumber   int   `gorm:"not null;uniqueIndex:idx_medication_timing"`
}

// MedicationLink assigns an amount of a medication to a slot.
type MedicationLink struct {
	ID           int64   `gorm:"primaryKey"`
	SlotID       int64   `gorm:"index;not null"`
	MedicationID int64   `gorm:"index;not null"`
	Amount       float64 `gorm:"not null"`

	// Associations
	Medication Medication `gorm:"foreignKey:MedicationID"`
}

// DosageForm is reference data (tablet, capsule, liquid...).
type DosageForm struct {
	ID        int64      `gorm:"primaryKey"`
	Name      string     `gorm:"size:128;not null;uniqueIndex"`
	UnitTypes []UnitType `gorm:"foreignKey:DosageFormID"`
}

// UnitType is the counting unit for a dosage form.
type UnitType struct {
	ID           int64  `gorm:"primaryKey"`
	DosageFormID int64  `gorm:"index;not null"`
	Name         string `gorm:"size:64;not null"`
}
