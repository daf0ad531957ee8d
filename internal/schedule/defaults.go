package schedule

import (
	"fmt"
	"time"

	"pillbox-backend/config"
	"pillbox-backend/internal/model"
	"pillbox-backend/internal/parse"
	"pillbox-backend/internal/store"
)

// Defaults answers configuration questions about the slot layout.
type Defaults struct {
	cfg *config.ScheduleConfig
}

func NewDefaults(cfg *config.ScheduleConfig) Defaults {
	return Defaults{cfg: cfg}
}

// SlotCount is N, the number of slots on a dispenser.
func (d Defaults) SlotCount() int {
	return d.cfg.SlotCount
}

// ValidNumber reports whether n is a slot number in 1..N.
func (d Defaults) ValidNumber(n int) bool {
	return n >= 1 && n <= d.cfg.SlotCount
}

// For returns the factory row for slot n, cycling through the table when N
// exceeds its length.
func (d Defaults) For(n int) config.SlotDefault {
	table := d.cfg.Slots
	if len(table) == 0 {
		table = config.DefaultSlots
	}
	for _, row := range table {
		if row.Number == n {
			return row
		}
	}
	row := table[(n-1)%len(table)]
	row.Number = n
	return row
}

// Label is the human label of a slot's timing category.
func (d Defaults) Label(n int) string {
	if n < 1 {
		return ""
	}
	return d.For(n).Label
}

// WeekdayLabel renders a weekday in the configured language.
func (d Defaults) WeekdayLabel(day time.Weekday) string {
	return d.cfg.WeekdayLabels[int(day)%7]
}

// Location is the time zone slot times are expressed in.
func (d Defaults) Location() *time.Location {
	if d.cfg.Location == nil {
		return time.Local
	}
	return d.cfg.Location
}

// Seeds builds the slots created when a device is paired.
func (d Defaults) Seeds() ([]store.SlotSeed, error) {
	seeds := make([]store.SlotSeed, d.cfg.SlotCount)
	for i := range seeds {
		row := d.For(i + 1)
		timing, _, err := parse.Clock(row.Time)
		if err != nil {
			return nil, fmt.Errorf("default slot %d: %w", i+1, err)
		}
		seeds[i] = store.SlotSeed{Number: i + 1, Timing: timing}
	}
	return seeds, nil
}

// Volume builds the settings row created when a device is paired.
func (d Defaults) Volume() (model.VolumeSettings, error) {
	delay, err := parse.Seconds(d.cfg.DefaultDelay)
	if err != nil {
		return model.VolumeSettings{}, fmt.Errorf("default delay: %w", err)
	}
	offset, err := parse.Seconds(d.cfg.DefaultAlertOffset)
	if err != nil {
		return model.VolumeSettings{}, fmt.Errorf("default alert offset: %w", err)
	}
	return model.VolumeSettings{
		Volume:             d.cfg.DefaultVolume,
		DelaySeconds:       delay,
		AlertOffsetSeconds: offset,
	}, nil
}
