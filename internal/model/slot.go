package model

import "time"

// Slot is one dispenser compartment with its nominal time of day. The slot
// number doubles as the timing category medications are registered under.
type Slot struct {
	ID           int64     `gorm:"primaryKey"`
	ConnectionID int64     `gorm:"not null;uniqueIndex:idx_slot_connection_number"`
	Number       int       `gorm:"not null;uniqueIndex:idx_slot_connection_number"`
	Timing       string    `gorm:"size:8;not null"` // HH:MM:SS
	Active       bool      `gorm:"not null;default:false"`
	UpdatedAt    time.Time `gorm:"not null"`

	// Associations
	DaySchedule DaySchedule      `gorm:"foreignKey:SlotID;constraint:OnDelete:CASCADE"`
	Links       []MedicationLink `gorm:"foreignKey:SlotID;constraint:OnDelete:CASCADE"`
}

// DaySchedule is the weekly recurrence of a slot.
type DaySchedule struct {
	ID        int64 `gorm:"primaryKey"`
	SlotID    int64 `gorm:"uniqueIndex;not null"`
	Sunday    bool  `gorm:"not null;default:false"`
	Monday    bool  `gorm:"not null;default:false"`
	Tuesday   bool  `gorm:"not null;default:false"`
	Wednesday bool  `gorm:"not null;default:false"`
	Thursday  bool  `gorm:"not null;default:false"`
	Friday    bool  `gorm:"not null;default:false"`
	Saturday  bool  `gorm:"not null;default:false"`
}

// WeekFlags holds one flag per day indexed by time.Weekday.
type WeekFlags [7]bool

// Any reports whether at least one day is set.
func (w WeekFlags) Any() bool {
	for _, on := range w {
		if on {
			return true
		}
	}
	return false
}

// Flags returns the schedule as a WeekFlags array.
func (d DaySchedule) Flags() WeekFlags {
	return WeekFlags{d.Sunday, d.Monday, d.Tuesday, d.Wednesday, d.Thursday, d.Friday, d.Saturday}
}

// SetFlags overwrites every day from w.
func (d *DaySchedule) SetFlags(w WeekFlags) {
	d.Sunday, d.Monday, d.Tuesday, d.Wednesday = w[0], w[1], w[2], w[3]
	d.Thursday, d.Friday, d.Saturday = w[4], w[5], w[6]
}

// HasActiveDay reports whether the slot recurs on any weekday.
func (d DaySchedule) HasActiveDay() bool {
	return d.Flags().Any()
}

// Readiness is the pair of conditions a slot must meet to be armed.
type Readiness struct {
	HasMedication bool `json:"has_medication"`
	HasActiveDay  bool `json:"has_active_day"`
}

// Ready reports whether both conditions hold.
func (r Readiness) Ready() bool {
	return r.HasMedication && r.HasActiveDay
}
