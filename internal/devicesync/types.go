package devicesync

import (
	"pillbox-backend/internal/schedule"
)

// TimeLayout is the timestamp format exchanged with the firmware.
const TimeLayout = "2006-01-02 15:04:05"

// PullResponse is the schedule the device downloads.
type PullResponse struct {
	Serial          string              `json:"machine_SN"`
	ConnectionID    int64               `json:"connection_id"`
	TotalSlots      int                 `json:"total_slots"`
	ActiveSchedules []schedule.SlotView `json:"active_schedules"`
	Volume          schedule.VolumeView `json:"volume_settings"`
	ServerTime      string              `json:"server_time"`
}

// PushRequest is one dispense report from the device. Only machine_SN and
// slot_number are required.
type PushRequest struct {
	Serial          string `json:"machine_SN"`
	SlotNumber      int    `json:"slot_number"`
	SlotID          *int64 `json:"slot_id"`
	Timing          string `json:"timing"`
	ReceiveTime     string `json:"receive_time"`
	ActualTime      string `json:"actual_time"`
	Day             string `json:"day"`
	MissedDose      bool   `json:"missed_dose"`
	MedicationTaken *bool  `json:"medication_taken"`
	TimeoutReason   string `json:"timeout_reason"`
	SaveImage       *bool  `json:"save_image"`
	ImageData       string `json:"image_data"`
	ImageFilename   string `json:"image_filename"`
}

// Missed reports whether the report describes a dose that was not taken.
func (r PushRequest) Missed() bool {
	return r.MissedDose || (r.MedicationTaken != nil && !*r.MedicationTaken)
}

// SnapshotView is one frozen medication line of a dose event.
type SnapshotView struct {
	MedicationName string `json:"medication_name"`
	AmountTaken    string `json:"amount_taken"`
}

// PushResult acknowledges a recorded dose event.
type PushResult struct {
	EventID      int64          `json:"history_id"`
	SlotNumber   int            `json:"slot_number"`
	Status       string         `json:"status"`
	Weekday      string         `json:"day"`
	ScheduledAt  string         `json:"scheduled_time"`
	ActualAt     string         `json:"actual_time"`
	DelayMinutes int            `json:"delay_minutes"`
	PictureURL   string         `json:"picture_url,omitempty"`
	Snapshots    []SnapshotView `json:"medications"`
}
