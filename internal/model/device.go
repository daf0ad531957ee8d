package model

import "time"

// Device is a dispenser serial number known to the system. Rows are created
// by the factory registration command, never by the app.
type Device struct {
	ID        int64     `gorm:"primaryKey"`
	Serial    string    `gorm:"uniqueIndex;size:64;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

// DeviceConnection pairs one user with one device.
type DeviceConnection struct {
	ID        int64     `gorm:"primaryKey"`
	UserID    int64     `gorm:"uniqueIndex;not null"`
	DeviceID  int64     `gorm:"uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"not null"`

	// Associations
	Device Device `gorm:"constraint:OnDelete:CASCADE"`
	Slots  []Slot `gorm:"foreignKey:ConnectionID;constraint:OnDelete:CASCADE"`
}
