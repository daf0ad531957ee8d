package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"pillbox-backend/internal/apperr"
	"pillbox-backend/internal/db/dbtest"
	"pillbox-backend/internal/model"
)

// A helper function to create a mock database connection.
func newTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: sqlDB,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

// newSQLiteStore opens a migrated file-backed sqlite database with two
// registered devices.
func newSQLiteStore(t *testing.T) (Store, *gorm.DB) {
	t.Helper()
	gormDB := dbtest.Open(t, "SN-001", "SN-002")
	return NewGormStore(gormDB), gormDB
}

func seeds(n int) []SlotSeed {
	out := make([]SlotSeed, n)
	for i := range out {
		out[i] = SlotSeed{Number: i + 1, Timing: "08:00:00"}
	}
	return out
}

func pair(t *testing.T, s Store, userID int64, serial string) *model.DeviceConnection {
	t.Helper()
	conn, err := s.CreateConnection(context.Background(), userID, serial,
		model.VolumeSettings{Volume: 50, DelaySeconds: 30, AlertOffsetSeconds: 10}, seeds(7))
	require.NoError(t, err)
	return conn
}

func addMedication(t *testing.T, s Store, connectionID int64, name string, slotNumbers ...int) *model.Medication {
	t.Helper()
	med := &model.Medication{ConnectionID: connectionID, Name: name, Nickname: model.Placeholder, DosageFormID: 1, UnitTypeID: 1}
	require.NoError(t, s.CreateMedication(context.Background(), med, slotNumbers))
	return med
}

func TestCreateConnection(t *testing.T) {
	ctx := context.Background()
	s, gormDB := newSQLiteStore(t)

	conn := pair(t, s, 1, "SN-001")
	require.Len(t, conn.Slots, 7)
	for i, slot := range conn.Slots {
		assert.Equal(t, i+1, slot.Number)
		assert.False(t, slot.Active)
		assert.False(t, slot.DaySchedule.HasActiveDay())
		assert.NotZero(t, slot.DaySchedule.ID)
	}

	var days int64
	require.NoError(t, gormDB.Model(&model.DaySchedule{}).Count(&days).Error)
	assert.EqualValues(t, 7, days)

	volume, err := s.GetVolume(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, volume.Volume)

	testCases := []struct {
		name   string
		userID int64
		serial string
		kind   apperr.Kind
	}{
		{name: "Device paired to same user", userID: 1, serial: "SN-001", kind: apperr.KindConflict},
		{name: "Device paired to another user", userID: 2, serial: "SN-001", kind: apperr.KindConflict},
		{name: "User already has a device", userID: 1, serial: "SN-002", kind: apperr.KindConflict},
		{name: "Unknown serial", userID: 3, serial: "SN-404", kind: apperr.KindNotFound},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.CreateConnection(ctx, tc.userID, tc.serial, model.VolumeSettings{}, seeds(7))
			require.Error(t, err)
			assert.Equal(t, tc.kind, apperr.KindOf(err))
		})
	}

	var slots int64
	require.NoError(t, gormDB.Model(&model.Slot{}).Count(&slots).Error)
	assert.EqualValues(t, 7, slots, "failed pairings must not leave slots behind")

	found, err := s.ConnectionBySerial(ctx, "SN-001")
	require.NoError(t, err)
	assert.Equal(t, conn.ID, found.ID)

	_, err = s.ConnectionBySerial(ctx, "SN-002")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestSetSlotActive(t *testing.T) {
	ctx := context.Background()
	s, _ := newSQLiteStore(t)
	conn := pair(t, s, 1, "SN-001")
	med := addMedication(t, s, conn.ID, "Paracetamol", 2)

	linked := conn.Slots[1]
	_, err := s.ReplaceLinks(ctx, linked.ID, []LinkEntry{{MedicationID: med.ID, Amount: 1}})
	require.NoError(t, err)

	daysOnly := conn.Slots[2]
	_, err = s.ReplaceDaySchedule(ctx, daysOnly.ID, model.WeekFlags{false, true})
	require.NoError(t, err)

	testCases := []struct {
		name          string
		slotID        int64
		desired       bool
		expectErr     bool
		hasMedication bool
		hasActiveDay  bool
	}{
		{name: "Nothing configured", slotID: conn.Slots[0].ID, desired: true, expectErr: true},
		{name: "Linked but no days", slotID: linked.ID, desired: true, expectErr: true, hasMedication: true},
		{name: "Days but no link", slotID: daysOnly.ID, desired: true, expectErr: true, hasActiveDay: true},
		{name: "Deactivate always succeeds", slotID: conn.Slots[0].ID, desired: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := s.SetSlotActive(ctx, tc.slotID, tc.desired)
			assert.Equal(t, tc.hasMedication, r.HasMedication)
			assert.Equal(t, tc.hasActiveDay, r.HasActiveDay)
			if tc.expectErr {
				require.Error(t, err)
				assert.True(t, apperr.Is(err, apperr.KindValidation))
				var ae *apperr.Error
				require.True(t, errors.As(err, &ae))
				assert.Equal(t, tc.hasMedication, ae.Details["has_medication"])
				assert.Equal(t, tc.hasActiveDay, ae.Details["has_active_day"])

				slot, err := s.GetSlot(ctx, tc.slotID)
				require.NoError(t, err)
				assert.False(t, slot.Active)
				return
			}
			assert.NoError(t, err)
		})
	}

	t.Run("Ready slot activates", func(t *testing.T) {
		result, err := s.ReplaceDaySchedule(ctx, linked.ID, model.WeekFlags{true})
		require.NoError(t, err)
		assert.True(t, result.Active, "a day on a linked slot arms it")
		r, err := s.SetSlotActive(ctx, linked.ID, true)
		require.NoError(t, err)
		assert.True(t, r.Ready())

		slot, err := s.GetSlot(ctx, linked.ID)
		require.NoError(t, err)
		assert.True(t, slot.Active)

		// Clearing every day disarms the slot.
		result, err = s.ReplaceDaySchedule(ctx, linked.ID, model.WeekFlags{})
		require.NoError(t, err)
		assert.False(t, result.Active)
		assert.Equal(t, model.Readiness{HasMedication: true}, result.Readiness)
		slot, err = s.GetSlot(ctx, linked.ID)
		require.NoError(t, err)
		assert.False(t, slot.Active)
		assert.False(t, slot.DaySchedule.HasActiveDay())
	})

	t.Run("Unknown slot", func(t *testing.T) {
		_, err := s.SetSlotActive(ctx, 9999, true)
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	})
}

func TestReplaceLinks(t *testing.T) {
	ctx := context.Background()
	s, _ := newSQLiteStore(t)
	conn := pair(t, s, 1, "SN-001")
	other := pair(t, s, 2, "SN-002")

	morning := addMedication(t, s, conn.ID, "Metformin", 1)
	evening := addMedication(t, s, conn.ID, "Simvastatin", 5)
	foreign := addMedication(t, s, other.ID, "Aspirin", 1)

	slot := conn.Slots[0]
	_, err := s.ReplaceDaySchedule(ctx, slot.ID, model.WeekFlags{true, true, true, true, true, true, true})
	require.NoError(t, err)

	result, err := s.ReplaceLinks(ctx, slot.ID, []LinkEntry{
		{MedicationID: morning.ID, Amount: 0.5},
		{MedicationID: evening.ID, Amount: 1},
		{MedicationID: foreign.ID, Amount: 1},
		{MedicationID: morning.ID, Amount: 2},
		{MedicationID: 9999, Amount: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Linked)
	assert.Equal(t, 4, result.Skipped)
	assert.True(t, result.Active)

	links, err := s.LinkedMedications(ctx, slot.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, morning.ID, links[0].MedicationID)
	assert.Equal(t, 0.5, links[0].Amount)
	assert.Equal(t, "Metformin", links[0].Medication.Name)

	result, err = s.ReplaceLinks(ctx, slot.ID, []LinkEntry{{MedicationID: morning.ID, Amount: 0}})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Linked)
	assert.False(t, result.Active)
	assert.False(t, result.Readiness.HasMedication)

	got, err := s.GetSlot(ctx, slot.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Links)
	assert.False(t, got.Active)
}

func TestSaveSlot(t *testing.T) {
	ctx := context.Background()
	s, _ := newSQLiteStore(t)
	conn := pair(t, s, 1, "SN-001")
	med := addMedication(t, s, conn.ID, "Amlodipine", 3)
	slot := conn.Slots[2]

	timing := "12:30:00"
	days := model.WeekFlags{false, true, false, true}
	result, err := s.SaveSlot(ctx, slot.ID, SlotUpdate{
		Timing:   &timing,
		Days:     &days,
		Links:    []LinkEntry{{MedicationID: med.ID, Amount: 1}},
		SetLinks: true,
	})
	require.NoError(t, err)
	assert.True(t, result.Active)
	assert.Equal(t, 1, result.Linked)

	got, err := s.GetSlot(ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, "12:30:00", got.Timing)
	assert.Equal(t, days, got.DaySchedule.Flags())
	assert.True(t, got.Active)

	// Clearing days through a save derives inactive while keeping links.
	empty := model.WeekFlags{}
	result, err = s.SaveSlot(ctx, slot.ID, SlotUpdate{Days: &empty})
	require.NoError(t, err)
	assert.False(t, result.Active)
	assert.True(t, result.Readiness.HasMedication)

	links, err := s.LinkedMedications(ctx, slot.ID)
	require.NoError(t, err)
	assert.Len(t, links, 1)
}

func TestDeleteMedication(t *testing.T) {
	ctx := context.Background()
	s, gormDB := newSQLiteStore(t)
	conn := pair(t, s, 1, "SN-001")
	med := addMedication(t, s, conn.ID, "Losartan", 1, 4)

	slot := conn.Slots[0]
	_, err := s.SaveSlot(ctx, slot.ID, SlotUpdate{
		Days:     &model.WeekFlags{true},
		Links:    []LinkEntry{{MedicationID: med.ID, Amount: 1}},
		SetLinks: true,
	})
	require.NoError(t, err)

	event := &model.DoseEvent{ConnectionID: conn.ID, SlotNumber: 1, Weekday: "วันอาทิตย์", Status: model.DoseTaken,
		ScheduledAt: time.Now(), ActualAt: time.Now()}
	require.NoError(t, s.RecordDoseEvent(ctx, event, []model.MedicationSnapshot{{MedicationName: "Losartan", AmountTaken: "1 เม็ด"}}))

	_, err = s.DeleteMedication(ctx, med.ID, false)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	var ae *apperr.Error
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, []int{1}, ae.Details["active_slots"])

	_, err = s.GetMedication(ctx, med.ID)
	require.NoError(t, err, "refused delete keeps the medication")

	result, err := s.DeleteMedication(ctx, med.ID, true)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, result.DeactivatedSlots)

	got, err := s.GetSlot(ctx, slot.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Empty(t, got.Links)

	_, err = s.GetMedication(ctx, med.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	var timings int64
	require.NoError(t, gormDB.Model(&model.MedicationTiming{}).Count(&timings).Error)
	assert.Zero(t, timings)

	stored, err := s.GetDoseEvent(ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, stored.Snapshots, 1)
	assert.Equal(t, "Losartan", stored.Snapshots[0].MedicationName)
}

func TestRecordDoseEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("Rejects empty snapshots", func(t *testing.T) {
		gormDB, mock := newTestDB(t)
		s := NewGormStore(gormDB)

		err := s.RecordDoseEvent(ctx, &model.DoseEvent{ConnectionID: 1, SlotNumber: 1}, nil)
		assert.True(t, apperr.Is(err, apperr.KindValidation))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Snapshot failure rolls back the event", func(t *testing.T) {
		gormDB, mock := newTestDB(t)
		s := NewGormStore(gormDB)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "dose_events"`)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "medication_snapshots"`)).
			WithArgs(int64(42), "Slot 1 Medicine", "1").
			WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		event := &model.DoseEvent{ConnectionID: 1, SlotNumber: 1, Status: model.DoseMissed,
			ScheduledAt: time.Now(), ActualAt: time.Now()}
		err := s.RecordDoseEvent(ctx, event, []model.MedicationSnapshot{{MedicationName: "Slot 1 Medicine", AmountTaken: "1"}})

		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindStorageFailure))
		assert.Zero(t, event.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Commits event and snapshots", func(t *testing.T) {
		gormDB, mock := newTestDB(t)
		s := NewGormStore(gormDB)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "dose_events"`)).
			WithArgs(int64(7), 3, "วันจันทร์", Any{}, Any{}, model.DoseTaken, 2, "", "", Any{}).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "medication_snapshots"`)).
			WithArgs(int64(5), "Metformin", "1/2 เม็ด", int64(5), "Aspirin", "1 เม็ด").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))
		mock.ExpectCommit()

		event := &model.DoseEvent{ConnectionID: 7, SlotNumber: 3, Weekday: "วันจันทร์", Status: model.DoseTaken,
			DelayMinutes: 2, ScheduledAt: time.Now(), ActualAt: time.Now()}
		err := s.RecordDoseEvent(ctx, event, []model.MedicationSnapshot{
			{MedicationName: "Metformin", AmountTaken: "1/2 เม็ด"},
			{MedicationName: "Aspirin", AmountTaken: "1 เม็ด"},
		})

		require.NoError(t, err)
		assert.EqualValues(t, 5, event.ID)
		require.Len(t, event.Snapshots, 2)
		assert.EqualValues(t, 5, event.Snapshots[1].DoseEventID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestHistoryQueries(t *testing.T) {
	ctx := context.Background()
	s, _ := newSQLiteStore(t)
	conn := pair(t, s, 1, "SN-001")

	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	record := func(slot int, status model.DoseStatus, at time.Time, names ...string) {
		snaps := make([]model.MedicationSnapshot, len(names))
		for i, n := range names {
			snaps[i] = model.MedicationSnapshot{MedicationName: n, AmountTaken: "1"}
		}
		require.NoError(t, s.RecordDoseEvent(ctx, &model.DoseEvent{
			ConnectionID: conn.ID, SlotNumber: slot, Weekday: at.Weekday().String(),
			Status: status, ScheduledAt: at, ActualAt: at,
		}, snaps))
	}
	record(1, model.DoseTaken, now, "A", "B")
	record(1, model.DoseMissed, now.Add(-24*time.Hour), "A")
	record(3, model.DoseTaken, now.Add(-48*time.Hour), "B")
	record(3, model.DoseTaken, now.AddDate(0, 0, -40), "C")

	all := HistoryFilter{ConnectionID: conn.ID}
	counts, err := s.StatusCounts(ctx, all)
	require.NoError(t, err)
	assert.Equal(t, Counts{Taken: 3, Total: 4}, counts)

	week := HistoryFilter{ConnectionID: conn.ID, From: now.AddDate(0, 0, -7), To: now.Add(time.Hour)}
	counts, err = s.StatusCounts(ctx, week)
	require.NoError(t, err)
	assert.Equal(t, Counts{Taken: 2, Total: 3}, counts)

	bySlot, err := s.SlotCounts(ctx, week)
	require.NoError(t, err)
	assert.Equal(t, []SlotCount{{SlotNumber: 1, Taken: 1, Total: 2}, {SlotNumber: 3, Taken: 1, Total: 1}}, bySlot)

	outcomes, err := s.Outcomes(ctx, week)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	assert.Equal(t, now.Unix(), outcomes[0].ScheduledAt.Unix())
	assert.Equal(t, model.DoseMissed, outcomes[1].Status)

	meds, err := s.MedicationCounts(ctx, week)
	require.NoError(t, err)
	assert.ElementsMatch(t, []MedicationCount{
		{MedicationName: "A", Taken: 1, Total: 2},
		{MedicationName: "B", Taken: 2, Total: 2},
	}, meds)

	empty, err := s.StatusCounts(ctx, HistoryFilter{ConnectionID: 999})
	require.NoError(t, err)
	assert.Equal(t, Counts{}, empty)

	page, total, err := s.ListDoseEvents(ctx, conn.ID, 0, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)
	require.Len(t, page, 2)
	assert.Equal(t, now.Unix(), page[0].ScheduledAt.Unix())
	assert.Len(t, page[0].Snapshots, 2)
}

// Any is a helper for sqlmock to match any argument.
type Any struct{}

// Match satisfies the sqlmock.Argument interface
func (a Any) Match(v driver.Value) bool {
	return true
}
