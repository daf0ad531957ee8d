package store

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pillbox-backend/internal/apperr"
	"pillbox-backend/internal/model"
)

func (s *gormStore) FindDevice(ctx context.Context, serial string) (*model.Device, error) {
	var device model.Device
	if err := s.db.WithContext(ctx).Where("serial = ?", serial).First(&device).Error; err != nil {
		return nil, lookupErr(err, "device", serial)
	}
	return &device, nil
}

// ConnectionBySerial resolves a device serial to its pairing. An unknown
// serial and an unpaired device are both NotFound.
func (s *gormStore) ConnectionBySerial(ctx context.Context, serial string) (*model.DeviceConnection, error) {
	device, err := s.FindDevice(ctx, serial)
	if err != nil {
		return nil, err
	}
	var conn model.DeviceConnection
	if err := s.db.WithContext(ctx).Where("device_id = ?", device.ID).First(&conn).Error; err != nil {
		return nil, lookupErr(err, "connection for device", serial)
	}
	conn.Device = *device
	return &conn, nil
}

// CreateConnection pairs userID with the device and bootstraps its volume
// settings and slots in a single transaction.
func (s *gormStore) CreateConnection(ctx context.Context, userID int64, serial string, volume model.VolumeSettings, seeds []SlotSeed) (*model.DeviceConnection, error) {
	var conn model.DeviceConnection

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var device model.Device
		if err := tx.Where("serial = ?", serial).First(&device).Error; err != nil {
			return lookupErr(err, "device", serial)
		}

		var existing []model.DeviceConnection
		if err := tx.Where("device_id = ? OR user_id = ?", device.ID, userID).Find(&existing).Error; err != nil {
			return err
		}
		for _, e := range existing {
			if e.DeviceID == device.ID {
				return apperr.Conflict("device %s is already paired", serial)
			}
		}
		if len(existing) > 0 {
			return apperr.Conflict("user %d already has a paired device", userID)
		}

		conn = model.DeviceConnection{UserID: userID, DeviceID: device.ID}
		if err := tx.Omit(clause.Associations).Create(&conn).Error; err != nil {
			if isUniqueViolation(err) {
				return apperr.Conflict("device %s is already paired", serial)
			}
			return err
		}
		conn.Device = device

		volume.ID = 0
		volume.ConnectionID = conn.ID
		if err := tx.Create(&volume).Error; err != nil {
			return err
		}

		if len(seeds) == 0 {
			return nil
		}
		slots := make([]model.Slot, len(seeds))
		for i, seed := range seeds {
			slots[i] = model.Slot{ConnectionID: conn.ID, Number: seed.Number, Timing: seed.Timing}
		}
		if err := tx.Omit(clause.Associations).Create(&slots).Error; err != nil {
			return err
		}
		days := make([]model.DaySchedule, len(slots))
		for i := range slots {
			days[i] = model.DaySchedule{SlotID: slots[i].ID}
		}
		if err := tx.Create(&days).Error; err != nil {
			return err
		}
		for i := range slots {
			slots[i].DaySchedule = days[i]
		}
		conn.Slots = slots
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Conflict("device %s is already paired", serial)
		}
		return nil, passThrough(err, "failed to pair device %s", serial)
	}
	return &conn, nil
}
