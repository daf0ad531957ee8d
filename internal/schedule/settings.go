package schedule

import (
	"context"

	"pillbox-backend/internal/apperr"
	"pillbox-backend/internal/model"
	"pillbox-backend/internal/parse"
)

// VolumeView is the settings payload shared by the app and the device.
type VolumeView struct {
	Volume             int    `json:"volume"`
	DelaySeconds       int    `json:"delay_seconds"`
	AlertOffsetSeconds int    `json:"alert_offset_seconds"`
	Delay              string `json:"delay"`
	AlertOffset        string `json:"alert_offset"`
}

// VolumeInput is a partial settings update. Durations may be integer seconds
// or "HH:MM:SS" strings.
type VolumeInput struct {
	Volume      *int `json:"volume"`
	Delay       any  `json:"delay"`
	AlertOffset any  `json:"alert_offset"`
}

func NewVolumeView(v model.VolumeSettings) VolumeView {
	return VolumeView{
		Volume:             v.Volume,
		DelaySeconds:       v.DelaySeconds,
		AlertOffsetSeconds: v.AlertOffsetSeconds,
		Delay:              parse.FormatSeconds(v.DelaySeconds),
		AlertOffset:        parse.FormatSeconds(v.AlertOffsetSeconds),
	}
}

func (s *Service) GetSettings(ctx context.Context, connectionID int64) (VolumeView, error) {
	v, err := s.store.GetVolume(ctx, connectionID)
	if err != nil {
		return VolumeView{}, err
	}
	return NewVolumeView(*v), nil
}

// UpdateVolume applies the provided fields and reports whether anything
// actually changed. Nothing is written when the values are identical.
func (s *Service) UpdateVolume(ctx context.Context, connectionID int64, in VolumeInput) (VolumeView, bool, error) {
	current, err := s.store.GetVolume(ctx, connectionID)
	if err != nil {
		return VolumeView{}, false, err
	}
	next := *current

	if in.Volume != nil {
		if *in.Volume < 0 || *in.Volume > 100 {
			return VolumeView{}, false, apperr.Validation("volume must be between 0 and 100")
		}
		next.Volume = *in.Volume
	}
	if in.Delay != nil {
		if next.DelaySeconds, err = parse.Seconds(in.Delay); err != nil {
			return VolumeView{}, false, apperr.Validation("delay: %v", err)
		}
	}
	if in.AlertOffset != nil {
		if next.AlertOffsetSeconds, err = parse.Seconds(in.AlertOffset); err != nil {
			return VolumeView{}, false, apperr.Validation("alert_offset: %v", err)
		}
	}

	if next.Volume == current.Volume &&
		next.DelaySeconds == current.DelaySeconds &&
		next.AlertOffsetSeconds == current.AlertOffsetSeconds {
		return NewVolumeView(*current), false, nil
	}
	if err := s.store.UpdateVolume(ctx, &next); err != nil {
		return VolumeView{}, false, err
	}
	return NewVolumeView(next), true, nil
}
