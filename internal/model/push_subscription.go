package model

import "time"

// PushSubscription holds a browser push endpoint that receives missed-dose
// alerts for one connection.
type PushSubscription struct {
	Endpoint     string    `gorm:"primaryKey"`
	ConnectionID int64     `gorm:"index;not null"`
	P256DH       string    `gorm:"column:p256dh;not null"`
	Auth         string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}
