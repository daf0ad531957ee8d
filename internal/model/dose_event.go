package model

import "time"

// DoseStatus is the outcome of one dispense attempt.
type DoseStatus string

const (
	DoseTaken  DoseStatus = "taken"
	DoseMissed DoseStatus = "missed"
)

// DoseEvent is the append-only record of one dispense attempt.
type DoseEvent struct {
	ID           int64      `gorm:"primaryKey"`
	ConnectionID int64      `gorm:"index:idx_dose_connection_scheduled;not null"`
	SlotNumber   int        `gorm:"not null"`
	Weekday      string     `gorm:"size:64;not null"`
	ScheduledAt  time.Time  `gorm:"index:idx_dose_connection_scheduled;not null"`
	ActualAt     time.Time  `gorm:"not null"`
	Status       DoseStatus `gorm:"size:16;not null"`
	DelayMinutes int        `gorm:"not null"`
	Picture      string     `gorm:"size:512"`
	MissedReason string     `gorm:"size:255"`
	CreatedAt    time.Time  `gorm:"not null"`

	// Associations
	Snapshots []MedicationSnapshot `gorm:"foreignKey:DoseEventID"`
}

// MedicationSnapshot freezes a medication's name and amount at dispense time.
// It deliberately has no reference to the medications table.
type MedicationSnapshot struct {
	ID             int64  `gorm:"primaryKey"`
	DoseEventID    int64  `gorm:"index;not null"`
	MedicationName string `gorm:"size:255;not null"`
	AmountTaken    string `gorm:"size:64;not null"`
}
