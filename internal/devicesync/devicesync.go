// Package devicesync implements the two calls the dispenser makes: pulling
// its armed schedule and pushing what happened when a dose was due.
package devicesync

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"pillbox-backend/internal/apperr"
	"pillbox-backend/internal/imagestore"
	"pillbox-backend/internal/model"
	"pillbox-backend/internal/notification"
	"pillbox-backend/internal/parse"
	"pillbox-backend/internal/schedule"
	"pillbox-backend/internal/store"
)

// Notifier receives missed-dose jobs after the event is stored.
type Notifier interface {
	Dispatch(job notification.MissedDose) bool
}

type Service struct {
	store    store.Store
	defaults schedule.Defaults
	images   imagestore.Store
	notifier Notifier
	log      *zap.Logger
	now      func() time.Time
}

// NewService wires the protocol. images and notifier may be nil.
func NewService(s store.Store, defaults schedule.Defaults, images imagestore.Store, notifier Notifier, log *zap.Logger) *Service {
	return &Service{store: s, defaults: defaults, images: images, notifier: notifier, log: log, now: time.Now}
}

// Pull returns the armed slots and volume settings of the device.
func (s *Service) Pull(ctx context.Context, serial string) (*PullResponse, error) {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return nil, apperr.Validation("machine_SN is required")
	}
	conn, err := s.store.ConnectionBySerial(ctx, serial)
	if err != nil {
		return nil, err
	}

	slots, err := s.store.ActiveSlots(ctx, conn.ID)
	if err != nil {
		return nil, err
	}
	volume, err := s.store.GetVolume(ctx, conn.ID)
	if err != nil {
		return nil, err
	}

	active := make([]schedule.SlotView, len(slots))
	for i, slot := range slots {
		active[i] = schedule.SlotView{
			ID:          slot.ID,
			Number:      slot.Number,
			Timing:      slot.Timing,
			TimingLabel: s.defaults.Label(slot.Number),
			Active:      slot.Active,
			Days:        schedule.DaysFrom(slot.DaySchedule.Flags()),
		}
	}

	return &PullResponse{
		Serial:          serial,
		ConnectionID:    conn.ID,
		TotalSlots:      s.defaults.SlotCount(),
		ActiveSchedules: active,
		Volume:          schedule.NewVolumeView(*volume),
		ServerTime:      s.now().In(s.defaults.Location()).Format(TimeLayout),
	}, nil
}

// Push records one dispense attempt. Every linked medication is frozen into
// a snapshot together with the event; a slot without medications gets a
// single placeholder snapshot.
func (s *Service) Push(ctx context.Context, req PushRequest) (*PushResult, error) {
	req.Serial = strings.TrimSpace(req.Serial)
	if req.Serial == "" {
		return nil, apperr.Validation("machine_SN is required")
	}
	if !s.defaults.ValidNumber(req.SlotNumber) {
		return nil, apperr.Validation("slot_number must be between 1 and %d", s.defaults.SlotCount())
	}

	conn, err := s.store.ConnectionBySerial(ctx, req.Serial)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, apperr.Validation("unknown or unpaired device %s", req.Serial)
		}
		return nil, err
	}
	slot, err := s.store.SlotByNumber(ctx, conn.ID, req.SlotNumber)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, apperr.Validation("slot %d does not exist on device %s", req.SlotNumber, req.Serial)
		}
		return nil, err
	}
	if req.SlotID != nil && *req.SlotID != slot.ID {
		return nil, apperr.Validation("slot_id %d does not match slot number %d", *req.SlotID, req.SlotNumber)
	}

	loc := s.defaults.Location()
	now := s.now().In(loc)

	actual := now
	if req.ActualTime != "" {
		if actual, err = parse.Timestamp(req.ActualTime, now); err != nil {
			return nil, apperr.Validation("actual_time: %v", err)
		}
	}
	scheduled, err := s.scheduledAt(req, slot, now)
	if err != nil {
		return nil, err
	}

	missed := req.Missed()
	event := &model.DoseEvent{
		ConnectionID: conn.ID,
		SlotNumber:   slot.Number,
		Weekday:      s.weekday(req.Day, actual),
		ScheduledAt:  scheduled,
		ActualAt:     actual,
		Status:       model.DoseTaken,
		DelayMinutes: DelayMinutes(scheduled, actual),
	}
	if missed {
		event.Status = model.DoseMissed
		event.MissedReason = strings.TrimSpace(req.TimeoutReason)
	} else {
		event.Picture = s.storePicture(ctx, req)
	}

	err = s.store.WithTx(ctx, func(tx store.Store) error {
		links, err := tx.LinkedMedications(ctx, slot.ID)
		if err != nil {
			return err
		}
		return tx.RecordDoseEvent(ctx, event, Snapshots(slot.Number, links))
	})
	if err != nil {
		if event.Picture != "" {
			if derr := s.images.Delete(ctx, event.Picture); derr != nil {
				s.log.Warn("failed to remove orphaned picture", zap.String("ref", event.Picture), zap.Error(derr))
			}
		}
		return nil, err
	}

	s.log.Info("dose event recorded",
		zap.Int64("connection_id", conn.ID),
		zap.Int64("event_id", event.ID),
		zap.Int("slot_number", slot.Number),
		zap.String("status", string(event.Status)),
		zap.Int("delay_minutes", event.DelayMinutes))

	if missed && s.notifier != nil {
		s.notifier.Dispatch(notification.MissedDose{
			ConnectionID: conn.ID,
			EventID:      event.ID,
			SlotNumber:   slot.Number,
			SlotLabel:    s.defaults.Label(slot.Number),
			ScheduledAt:  scheduled,
		})
	}

	return s.result(event, loc), nil
}

// scheduledAt resolves the nominal time of the dose: receive_time when
// sent, otherwise today at the reported or configured slot time.
func (s *Service) scheduledAt(req PushRequest, slot *model.Slot, now time.Time) (time.Time, error) {
	if req.ReceiveTime != "" {
		t, err := parse.Timestamp(req.ReceiveTime, now)
		if err != nil {
			return time.Time{}, apperr.Validation("receive_time: %v", err)
		}
		return t, nil
	}
	timing := req.Timing
	if timing == "" {
		timing = slot.Timing
	}
	_, offset, err := parse.Clock(timing)
	if err != nil {
		return time.Time{}, apperr.Validation("timing must be HH:MM or HH:MM:SS")
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return midnight.Add(offset), nil
}

func (s *Service) weekday(day string, actual time.Time) string {
	if d, ok := parse.Weekday(day); ok {
		return s.defaults.WeekdayLabel(d)
	}
	return s.defaults.WeekdayLabel(actual.Weekday())
}

// storePicture saves the captured image unless the device sent
// save_image=false. Any failure is logged and the event is recorded without
// a picture.
func (s *Service) storePicture(ctx context.Context, req PushRequest) string {
	if req.ImageData == "" || s.images == nil {
		return ""
	}
	if req.SaveImage != nil && !*req.SaveImage {
		return ""
	}
	data, err := imagestore.DecodeBase64(req.ImageData)
	if err != nil {
		s.log.Warn("discarding undecodable dose image", zap.String("serial", req.Serial), zap.Error(err))
		return ""
	}
	ref, err := s.images.Save(ctx, data, req.ImageFilename)
	if err != nil {
		s.log.Warn("failed to store dose image", zap.String("serial", req.Serial), zap.Error(err))
		return ""
	}
	return ref
}

func (s *Service) result(event *model.DoseEvent, loc *time.Location) *PushResult {
	snaps := make([]SnapshotView, len(event.Snapshots))
	for i, snap := range event.Snapshots {
		snaps[i] = SnapshotView{MedicationName: snap.MedicationName, AmountTaken: snap.AmountTaken}
	}
	var url string
	if event.Picture != "" {
		url = s.images.URL(event.Picture)
	}
	return &PushResult{
		EventID:      event.ID,
		SlotNumber:   event.SlotNumber,
		Status:       string(event.Status),
		Weekday:      event.Weekday,
		ScheduledAt:  event.ScheduledAt.In(loc).Format(TimeLayout),
		ActualAt:     event.ActualAt.In(loc).Format(TimeLayout),
		DelayMinutes: event.DelayMinutes,
		PictureURL:   url,
		Snapshots:    snaps,
	}
}

// DelayMinutes is the whole number of minutes actual is late, never negative.
func DelayMinutes(scheduled, actual time.Time) int {
	minutes := math.Round(actual.Sub(scheduled).Minutes())
	if minutes < 0 {
		return 0
	}
	return int(minutes)
}

// Snapshots freezes the slot's linked medications. When nothing is linked a
// placeholder line keeps the event renderable.
func Snapshots(slotNumber int, links []model.MedicationLink) []model.MedicationSnapshot {
	if len(links) == 0 {
		return []model.MedicationSnapshot{{
			MedicationName: fmt.Sprintf("Slot %d Medicine", slotNumber),
			AmountTaken:    "1",
		}}
	}
	out := make([]model.MedicationSnapshot, len(links))
	for i, l := range links {
		out[i] = model.MedicationSnapshot{
			MedicationName: l.Medication.DisplayName(),
			AmountTaken:    parse.AmountWithUnit(l.Amount, l.Medication.UnitType.Name),
		}
	}
	return out
}
