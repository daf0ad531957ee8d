// Package medication manages the user's medication master records and the
// dosage-form reference data they point at.
package medication

import (
	"context"
	"errors"
	"sort"
	"strings"

	"go.uber.org/zap"

	"pillbox-backend/internal/apperr"
	"pillbox-backend/internal/imagestore"
	"pillbox-backend/internal/model"
	"pillbox-backend/internal/schedule"
	"pillbox-backend/internal/store"
)

// Input is the editable part of a medication. Image is optional base64 data.
type Input struct {
	Name          string `json:"name"`
	Nickname      string `json:"nickname"`
	Description   string `json:"description"`
	DosageFormID  int64  `json:"dosage_form_id"`
	UnitTypeID    int64  `json:"unit_type_id"`
	Timings       []int  `json:"timings"`
	Image         string `json:"image_data"`
	ImageFilename string `json:"image_filename"`
}

type View struct {
	ID           int64    `json:"medication_id"`
	Name         string   `json:"name"`
	Nickname     string   `json:"nickname"`
	Description  string   `json:"description"`
	DosageFormID int64    `json:"dosage_form_id"`
	UnitTypeID   int64    `json:"unit_type_id"`
	UnitType     string   `json:"unit_type"`
	PictureURL   string   `json:"picture_url,omitempty"`
	Timings      []int    `json:"timings"`
	TimingLabels []string `json:"timing_labels"`
}

type UnitTypeView struct {
	ID   int64  `json:"unit_type_id"`
	Name string `json:"name"`
}

type DosageFormView struct {
	ID        int64          `json:"dosage_form_id"`
	Name      string         `json:"name"`
	UnitTypes []UnitTypeView `json:"unit_types"`
}

type Service struct {
	store    store.Store
	defaults schedule.Defaults
	images   imagestore.Store
	log      *zap.Logger
}

// NewService builds the registry. images may be nil, in which case pictures
// are rejected.
func NewService(s store.Store, defaults schedule.Defaults, images imagestore.Store, log *zap.Logger) *Service {
	return &Service{store: s, defaults: defaults, images: images, log: log}
}

func (s *Service) view(m model.Medication) View {
	numbers := m.TimingNumbers()
	labels := make([]string, len(numbers))
	for i, n := range numbers {
		labels[i] = s.defaults.Label(n)
	}
	v := View{
		ID:           m.ID,
		Name:         m.Name,
		Nickname:     m.Nickname,
		Description:  m.Description,
		DosageFormID: m.DosageFormID,
		UnitTypeID:   m.UnitTypeID,
		UnitType:     m.UnitType.Name,
		Timings:      numbers,
		TimingLabels: labels,
	}
	if m.Picture != "" && s.images != nil {
		v.PictureURL = s.images.URL(m.Picture)
	}
	return v
}

// owned loads a medication and checks it belongs to the caller's connection.
func (s *Service) owned(ctx context.Context, connectionID, medicationID int64) (*model.Medication, error) {
	med, err := s.store.GetMedication(ctx, medicationID)
	if err != nil {
		return nil, err
	}
	if med.ConnectionID != connectionID {
		return nil, apperr.Unauthorized("medication %d belongs to another device", medicationID)
	}
	return med, nil
}

// normalizeTimings drops numbers outside 1..N and duplicates.
func (s *Service) normalizeTimings(numbers []int) ([]int, error) {
	seen := map[int]bool{}
	out := make([]int, 0, len(numbers))
	for _, n := range numbers {
		if !s.defaults.ValidNumber(n) || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, apperr.Validation("at least one timing between 1 and %d is required", s.defaults.SlotCount())
	}
	sort.Ints(out)
	return out, nil
}

// fields validates in and copies it onto med.
func (s *Service) fields(ctx context.Context, med *model.Medication, in Input) error {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return apperr.Validation("name is required")
	}
	unit, err := s.store.UnitType(ctx, in.UnitTypeID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return apperr.Validation("unit_type_id %d does not exist", in.UnitTypeID)
		}
		return err
	}
	if unit.DosageFormID != in.DosageFormID {
		return apperr.Validation("unit type %d does not belong to dosage form %d", in.UnitTypeID, in.DosageFormID)
	}

	med.Name = name
	med.Nickname = orPlaceholder(in.Nickname)
	med.Description = orPlaceholder(in.Description)
	med.DosageFormID = in.DosageFormID
	med.UnitTypeID = in.UnitTypeID
	med.UnitType = *unit
	return nil
}

func orPlaceholder(v string) string {
	if v = strings.TrimSpace(v); v == "" {
		return model.Placeholder
	}
	return v
}

// savePicture stores an inline image and returns its reference.
func (s *Service) savePicture(ctx context.Context, in Input) (string, error) {
	if in.Image == "" {
		return "", nil
	}
	if s.images == nil {
		return "", apperr.Validation("image upload is not configured")
	}
	data, err := imagestore.DecodeBase64(in.Image)
	if err != nil {
		return "", apperr.Validation("image_data is not valid base64")
	}
	ref, err := s.images.Save(ctx, data, in.ImageFilename)
	if err != nil {
		if errors.Is(err, imagestore.ErrTooLarge) {
			return "", apperr.Validation("image is too large")
		}
		return "", apperr.Storage(err, "failed to store medication picture")
	}
	return ref, nil
}

// dropPicture deletes a stored picture, logging instead of failing.
func (s *Service) dropPicture(ctx context.Context, ref string) {
	if ref == "" || s.images == nil {
		return
	}
	if err := s.images.Delete(ctx, ref); err != nil {
		s.log.Warn("failed to delete medication picture", zap.String("ref", ref), zap.Error(err))
	}
}

func (s *Service) Create(ctx context.Context, connectionID int64, in Input) (*View, error) {
	med := &model.Medication{ConnectionID: connectionID}
	if err := s.fields(ctx, med, in); err != nil {
		return nil, err
	}
	timings, err := s.normalizeTimings(in.Timings)
	if err != nil {
		return nil, err
	}
	if med.Picture, err = s.savePicture(ctx, in); err != nil {
		return nil, err
	}

	if err := s.store.CreateMedication(ctx, med, timings); err != nil {
		s.dropPicture(ctx, med.Picture)
		return nil, err
	}
	s.log.Info("medication created",
		zap.Int64("connection_id", connectionID), zap.Int64("medication_id", med.ID), zap.Ints("timings", timings))
	v := s.view(*med)
	return &v, nil
}

// Update rewrites the medication's fields. A new image replaces the old one.
// Timings are left alone; see ReplaceTimings.
func (s *Service) Update(ctx context.Context, connectionID, medicationID int64, in Input) (*View, error) {
	med, err := s.owned(ctx, connectionID, medicationID)
	if err != nil {
		return nil, err
	}
	if err := s.fields(ctx, med, in); err != nil {
		return nil, err
	}

	old := med.Picture
	ref, err := s.savePicture(ctx, in)
	if err != nil {
		return nil, err
	}
	if ref != "" {
		med.Picture = ref
	}

	if err := s.store.UpdateMedication(ctx, med); err != nil {
		s.dropPicture(ctx, ref)
		return nil, err
	}
	if ref != "" {
		s.dropPicture(ctx, old)
	}
	v := s.view(*med)
	return &v, nil
}

// ReplaceTimings sets the timing categories the medication may be linked
// under. Existing slot links are not touched.
func (s *Service) ReplaceTimings(ctx context.Context, connectionID, medicationID int64, numbers []int) (*View, error) {
	if _, err := s.owned(ctx, connectionID, medicationID); err != nil {
		return nil, err
	}
	timings, err := s.normalizeTimings(numbers)
	if err != nil {
		return nil, err
	}
	if err := s.store.ReplaceMedicationTimings(ctx, medicationID, timings); err != nil {
		return nil, err
	}
	return s.Get(ctx, connectionID, medicationID)
}

// Delete removes the medication. Without force it is refused while an active
// slot still links it.
func (s *Service) Delete(ctx context.Context, connectionID, medicationID int64, force bool) (store.DeleteResult, error) {
	med, err := s.owned(ctx, connectionID, medicationID)
	if err != nil {
		return store.DeleteResult{}, err
	}
	result, err := s.store.DeleteMedication(ctx, medicationID, force)
	if err != nil {
		return result, err
	}
	s.dropPicture(ctx, med.Picture)
	s.log.Info("medication deleted",
		zap.Int64("connection_id", connectionID), zap.Int64("medication_id", medicationID),
		zap.Ints("deactivated_slots", result.DeactivatedSlots))
	return result, nil
}

func (s *Service) Get(ctx context.Context, connectionID, medicationID int64) (*View, error) {
	med, err := s.owned(ctx, connectionID, medicationID)
	if err != nil {
		return nil, err
	}
	v := s.view(*med)
	return &v, nil
}

func (s *Service) List(ctx context.Context, connectionID int64) ([]View, error) {
	meds, err := s.store.ListMedications(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	out := make([]View, len(meds))
	for i, m := range meds {
		out[i] = s.view(m)
	}
	return out, nil
}

// DosageForms lists the reference data with each form's unit types.
func (s *Service) DosageForms(ctx context.Context) ([]DosageFormView, error) {
	forms, err := s.store.DosageForms(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]DosageFormView, len(forms))
	for i, f := range forms {
		units := make([]UnitTypeView, len(f.UnitTypes))
		for j, u := range f.UnitTypes {
			units[j] = UnitTypeView{ID: u.ID, Name: u.Name}
		}
		out[i] = DosageFormView{ID: f.ID, Name: f.Name, UnitTypes: units}
	}
	return out, nil
}
