package history

import (
	"context"

	"pillbox-backend/internal/apperr"
	"pillbox-backend/internal/model"
)

type SnapshotView struct {
	MedicationName string `json:"medication_name"`
	AmountTaken    string `json:"amount_taken"`
}

// EventView is one dose event as the app shows it.
type EventView struct {
	ID           int64          `json:"history_id"`
	SlotNumber   int            `json:"slot_number"`
	SlotLabel    string         `json:"timing_label"`
	Weekday      string         `json:"day"`
	ScheduledAt  string         `json:"scheduled_time"`
	ActualAt     string         `json:"actual_time"`
	Status       string         `json:"status"`
	DelayMinutes int            `json:"delay_minutes"`
	MissedReason string         `json:"missed_reason,omitempty"`
	PictureURL   string         `json:"picture_url,omitempty"`
	Medications  []SnapshotView `json:"medications"`
}

// Page is a slice of the event list.
type Page struct {
	Items []EventView `json:"items"`
	Page  int         `json:"page"`
	Limit int         `json:"limit"`
	Total int64       `json:"total"`
}

func (s *Service) view(e model.DoseEvent) EventView {
	loc := s.defaults.Location()
	meds := make([]SnapshotView, len(e.Snapshots))
	for i, snap := range e.Snapshots {
		meds[i] = SnapshotView{MedicationName: snap.MedicationName, AmountTaken: snap.AmountTaken}
	}
	v := EventView{
		ID:           e.ID,
		SlotNumber:   e.SlotNumber,
		SlotLabel:    s.defaults.Label(e.SlotNumber),
		Weekday:      e.Weekday,
		ScheduledAt:  e.ScheduledAt.In(loc).Format(timeLayout),
		ActualAt:     e.ActualAt.In(loc).Format(timeLayout),
		Status:       string(e.Status),
		DelayMinutes: e.DelayMinutes,
		MissedReason: e.MissedReason,
		Medications:  meds,
	}
	if e.Picture != "" && s.images != nil {
		v.PictureURL = s.images.URL(e.Picture)
	}
	return v
}

// List returns events newest first. page starts at 1.
func (s *Service) List(ctx context.Context, connectionID int64, page, limit int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	events, total, err := s.store.ListDoseEvents(ctx, connectionID, (page-1)*limit, limit)
	if err != nil {
		return nil, err
	}
	items := make([]EventView, len(events))
	for i, e := range events {
		items[i] = s.view(e)
	}
	return &Page{Items: items, Page: page, Limit: limit, Total: total}, nil
}

// Detail returns one event with its snapshots.
func (s *Service) Detail(ctx context.Context, connectionID, eventID int64) (*EventView, error) {
	e, err := s.store.GetDoseEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if e.ConnectionID != connectionID {
		return nil, apperr.Unauthorized("dose event %d belongs to another device", eventID)
	}
	v := s.view(*e)
	return &v, nil
}
