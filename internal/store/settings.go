package store

import (
	"context"
	"time"

	"pillbox-backend/internal/apperr"
	"pillbox-backend/internal/model"
)

func (s *gormStore) GetVolume(ctx context.Context, connectionID int64) (*model.VolumeSettings, error) {
	var settings model.VolumeSettings
	if err := s.db.WithContext(ctx).Where("connection_id = ?", connectionID).First(&settings).Error; err != nil {
		return nil, lookupErr(err, "volume settings for connection", connectionID)
	}
	return &settings, nil
}

// UpdateVolume overwrites the volume, delay and alert offset of the
// connection named by settings.ConnectionID.
func (s *gormStore) UpdateVolume(ctx context.Context, settings *model.VolumeSettings) error {
	res := s.db.WithContext(ctx).
		Model(&model.VolumeSettings{}).
		Where("connection_id = ?", settings.ConnectionID).
		Updates(map[string]any{
			"volume":               settings.Volume,
			"delay_seconds":        settings.DelaySeconds,
			"alert_offset_seconds": settings.AlertOffsetSeconds,
			"updated_at":           time.Now(),
		})
	if res.Error != nil {
		return apperr.Storage(res.Error, "failed to update volume settings")
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("volume settings for connection %d not found", settings.ConnectionID)
	}
	return nil
}
