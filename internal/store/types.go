package store

import (
	"time"

	"pillbox-backend/internal/model"
)

// SlotSeed describes one slot created when a device is paired.
type SlotSeed struct {
	Number int
	Timing string
}

// LinkEntry is one requested medication assignment for a slot.
type LinkEntry struct {
	MedicationID int64   `json:"medication_id"`
	Amount       float64 `json:"amount"`
}

// LinkResult reports what a link replacement kept and the slot state after
// the active flag was recomputed.
type LinkResult struct {
	Linked    int             `json:"linked"`
	Skipped   int             `json:"skipped"`
	Active    bool            `json:"active"`
	Readiness model.Readiness `json:"readiness"`
}

// SlotUpdate carries the optional parts of a bulk slot save. Nil fields are
// left untouched.
type SlotUpdate struct {
	Timing *string
	Days   *model.WeekFlags
	Links  []LinkEntry
	// SetLinks replaces the slot's links with Links, even when Links is empty.
	SetLinks bool
}

// DeleteResult lists the slot numbers a forced medication delete deactivated.
type DeleteResult struct {
	DeactivatedSlots []int `json:"deactivated_slots"`
}

// HistoryFilter bounds a history query. Zero times are unbounded; To is
// exclusive.
type HistoryFilter struct {
	ConnectionID int64
	From         time.Time
	To           time.Time
}

// Counts is a taken/total pair.
type Counts struct {
	Taken int64
	Total int64
}

// SlotCount is Counts grouped by slot number.
type SlotCount struct {
	SlotNumber int
	Taken      int64
	Total      int64
}

// MedicationCount is Counts grouped by snapshot medication name.
type MedicationCount struct {
	MedicationName string
	Taken          int64
	Total          int64
}

// Outcome is the minimal projection of a dose event used for daily trends.
type Outcome struct {
	ScheduledAt time.Time
	Status      model.DoseStatus
}
