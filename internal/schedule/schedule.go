// Package schedule owns the weekly recurrence of dispenser slots, the rules
// for arming them, the medications linked to them and the device's volume
// settings.
package schedule

import (
	"context"

	"go.uber.org/zap"

	"pillbox-backend/internal/apperr"
	"pillbox-backend/internal/model"
	"pillbox-backend/internal/parse"
	"pillbox-backend/internal/store"
)

// Days is the JSON shape of a weekly recurrence.
type Days struct {
	Sunday    bool `json:"sunday"`
	Monday    bool `json:"monday"`
	Tuesday   bool `json:"tuesday"`
	Wednesday bool `json:"wednesday"`
	Thursday  bool `json:"thursday"`
	Friday    bool `json:"friday"`
	Saturday  bool `json:"saturday"`
}

func DaysFrom(w model.WeekFlags) Days {
	return Days{w[0], w[1], w[2], w[3], w[4], w[5], w[6]}
}

func (d Days) Flags() model.WeekFlags {
	return model.WeekFlags{d.Sunday, d.Monday, d.Tuesday, d.Wednesday, d.Thursday, d.Friday, d.Saturday}
}

// SlotView is a slot as the app lists it.
type SlotView struct {
	ID          int64  `json:"slot_id"`
	Number      int    `json:"slot_number"`
	Timing      string `json:"timing"`
	TimingLabel string `json:"timing_label"`
	Active      bool   `json:"active"`
	Days        Days   `json:"day_schedule"`
}

// LinkView is one medication assigned to a slot.
type LinkView struct {
	MedicationID int64   `json:"medication_id"`
	Name         string  `json:"name"`
	Amount       float64 `json:"amount"`
	AmountText   string  `json:"amount_text"`
}

// MedicationOption is a medication the user may link to a slot.
type MedicationOption struct {
	ID       int64  `json:"medication_id"`
	Name     string `json:"name"`
	UnitType string `json:"unit_type"`
}

// SlotDetail is everything the slot editor screen needs.
type SlotDetail struct {
	SlotView
	Links     []LinkView         `json:"medications"`
	Eligible  []MedicationOption `json:"available_medications"`
	Readiness model.Readiness    `json:"readiness"`
}

// SaveInput is the app's bulk slot edit. Nil fields are left unchanged.
type SaveInput struct {
	Timing      *string            `json:"timing"`
	Days        *Days              `json:"day_schedule"`
	Medications *[]store.LinkEntry `json:"medications"`
}

// Service implements the slot scheduler and the medication link resolver.
type Service struct {
	store    store.Store
	defaults Defaults
	log      *zap.Logger
}

func NewService(s store.Store, defaults Defaults, log *zap.Logger) *Service {
	return &Service{store: s, defaults: defaults, log: log}
}

func (s *Service) view(slot model.Slot) SlotView {
	return SlotView{
		ID:          slot.ID,
		Number:      slot.Number,
		Timing:      slot.Timing,
		TimingLabel: s.defaults.Label(slot.Number),
		Active:      slot.Active,
		Days:        DaysFrom(slot.DaySchedule.Flags()),
	}
}

// ownedSlot loads a slot and checks it belongs to the caller's connection.
func (s *Service) ownedSlot(ctx context.Context, connectionID, slotID int64) (*model.Slot, error) {
	slot, err := s.store.GetSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if slot.ConnectionID != connectionID {
		return nil, apperr.Unauthorized("slot %d belongs to another device", slotID)
	}
	return slot, nil
}

func (s *Service) ListSlots(ctx context.Context, connectionID int64) ([]SlotView, error) {
	slots, err := s.store.ListSlots(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	out := make([]SlotView, len(slots))
	for i, slot := range slots {
		out[i] = s.view(slot)
	}
	return out, nil
}

func (s *Service) GetSlot(ctx context.Context, connectionID, slotID int64) (*SlotDetail, error) {
	slot, err := s.ownedSlot(ctx, connectionID, slotID)
	if err != nil {
		return nil, err
	}
	eligible, err := s.store.EligibleMedications(ctx, connectionID, slot.Number)
	if err != nil {
		return nil, err
	}

	detail := &SlotDetail{
		SlotView: s.view(*slot),
		Links:    make([]LinkView, len(slot.Links)),
		Eligible: make([]MedicationOption, len(eligible)),
		Readiness: model.Readiness{
			HasMedication: len(slot.Links) > 0,
			HasActiveDay:  slot.DaySchedule.HasActiveDay(),
		},
	}
	for i, l := range slot.Links {
		detail.Links[i] = LinkView{
			MedicationID: l.MedicationID,
			Name:         l.Medication.DisplayName(),
			Amount:       l.Amount,
			AmountText:   parse.AmountWithUnit(l.Amount, l.Medication.UnitType.Name),
		}
	}
	for i, m := range eligible {
		detail.Eligible[i] = MedicationOption{ID: m.ID, Name: m.DisplayName(), UnitType: m.UnitType.Name}
	}
	return detail, nil
}

// ConfigureRecurrence replaces all seven day flags of a slot. The slot is
// armed when it ends up with a medication and a day, and disarmed otherwise.
func (s *Service) ConfigureRecurrence(ctx context.Context, connectionID, slotID int64, days Days) (store.LinkResult, error) {
	if _, err := s.ownedSlot(ctx, connectionID, slotID); err != nil {
		return store.LinkResult{}, err
	}
	return s.store.ReplaceDaySchedule(ctx, slotID, days.Flags())
}

// SetActive arms or disarms a slot, refusing to arm one that has no
// medication or no active day.
func (s *Service) SetActive(ctx context.Context, connectionID, slotID int64, desired bool) (model.Readiness, error) {
	if _, err := s.ownedSlot(ctx, connectionID, slotID); err != nil {
		return model.Readiness{}, err
	}
	r, err := s.store.SetSlotActive(ctx, slotID, desired)
	if err != nil {
		return r, err
	}
	s.log.Info("slot active flag set",
		zap.Int64("connection_id", connectionID), zap.Int64("slot_id", slotID), zap.Bool("active", desired))
	return r, nil
}

// SetActiveByNumber is SetActive addressed by slot number.
func (s *Service) SetActiveByNumber(ctx context.Context, connectionID int64, number int, desired bool) (model.Readiness, error) {
	if !s.defaults.ValidNumber(number) {
		return model.Readiness{}, apperr.Validation("slot number must be between 1 and %d", s.defaults.SlotCount())
	}
	slot, err := s.store.SlotByNumber(ctx, connectionID, number)
	if err != nil {
		return model.Readiness{}, err
	}
	return s.SetActive(ctx, connectionID, slot.ID, desired)
}

// ReplaceLinks swaps a slot's medications. Ineligible entries are skipped
// and the active flag follows the result.
func (s *Service) ReplaceLinks(ctx context.Context, connectionID, slotID int64, entries []store.LinkEntry) (store.LinkResult, error) {
	if _, err := s.ownedSlot(ctx, connectionID, slotID); err != nil {
		return store.LinkResult{}, err
	}
	result, err := s.store.ReplaceLinks(ctx, slotID, entries)
	if err != nil {
		return result, err
	}
	if result.Skipped > 0 {
		s.log.Debug("skipped ineligible medication links",
			zap.Int64("slot_id", slotID), zap.Int("skipped", result.Skipped))
	}
	return result, nil
}

// SaveSlot applies a bulk edit from the slot editor in one transaction.
func (s *Service) SaveSlot(ctx context.Context, connectionID, slotID int64, in SaveInput) (store.LinkResult, error) {
	var update store.SlotUpdate
	if in.Timing != nil {
		timing, _, err := parse.Clock(*in.Timing)
		if err != nil {
			return store.LinkResult{}, apperr.Validation("timing must be HH:MM or HH:MM:SS")
		}
		update.Timing = &timing
	}
	if in.Days != nil {
		flags := in.Days.Flags()
		update.Days = &flags
	}
	if in.Medications != nil {
		update.Links = *in.Medications
		update.SetLinks = true
	}

	if _, err := s.ownedSlot(ctx, connectionID, slotID); err != nil {
		return store.LinkResult{}, err
	}
	return s.store.SaveSlot(ctx, slotID, update)
}
