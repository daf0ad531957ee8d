package model

import "time"

// VolumeSettings holds the device's audio and retry behaviour. Durations are
// kept in whole seconds, the unit the firmware consumes.
type VolumeSettings struct {
	ID                 int64     `gorm:"primaryKey"`
	ConnectionID       int64     `gorm:"uniqueIndex;not null"`
	Volume             int       `gorm:"not null"`
	DelaySeconds       int       `gorm:"not null"`
	AlertOffsetSeconds int       `gorm:"not null"`
	UpdatedAt          time.Time `gorm:"not null"`
}
