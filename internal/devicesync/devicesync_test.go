package devicesync

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pillbox-backend/config"
	"pillbox-backend/internal/apperr"
	"pillbox-backend/internal/db/dbtest"
	"pillbox-backend/internal/model"
	"pillbox-backend/internal/notification"
	"pillbox-backend/internal/schedule"
	"pillbox-backend/internal/store"
)

type memImages struct {
	mu      sync.Mutex
	saved   map[string][]byte
	failing bool
}

func (m *memImages) Save(_ context.Context, data []byte, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return "", errors.New("bucket unavailable")
	}
	ref := "img-" + name
	m.saved[ref] = data
	return ref, nil
}

func (m *memImages) Delete(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.saved, ref)
	return nil
}

func (m *memImages) URL(ref string) string { return "/pictures/" + ref }

type recordingNotifier struct {
	jobs []notification.MissedDose
}

func (r *recordingNotifier) Dispatch(job notification.MissedDose) bool {
	r.jobs = append(r.jobs, job)
	return true
}

type fixture struct {
	svc      *Service
	store    store.Store
	conn     *model.DeviceConnection
	images   *memImages
	notifier *recordingNotifier
	loc      *time.Location
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	cfg := config.Default()
	defaults := schedule.NewDefaults(&cfg.Schedule)
	s := store.NewGormStore(dbtest.Open(t, "SN-1", "SN-UNPAIRED"))

	seeds, err := defaults.Seeds()
	require.NoError(t, err)
	volume, err := defaults.Volume()
	require.NoError(t, err)
	conn, err := s.CreateConnection(context.Background(), 1, "SN-1", volume, seeds)
	require.NoError(t, err)

	images := &memImages{saved: map[string][]byte{}}
	notifier := &recordingNotifier{}
	svc := NewService(s, defaults, images, notifier, zap.NewNop())
	loc := cfg.Schedule.Location
	// Monday 3 March 2025, 08:12 in Bangkok.
	svc.now = func() time.Time { return time.Date(2025, 3, 3, 8, 12, 0, 0, loc) }

	return fixture{svc: svc, store: s, conn: conn, images: images, notifier: notifier, loc: loc}
}

func (f fixture) arm(t *testing.T, slot model.Slot, meds ...*model.Medication) {
	t.Helper()
	entries := make([]store.LinkEntry, len(meds))
	for i, m := range meds {
		entries[i] = store.LinkEntry{MedicationID: m.ID, Amount: 1}
	}
	days := model.WeekFlags{false, true, false, true}
	_, err := f.store.SaveSlot(context.Background(), slot.ID, store.SlotUpdate{Days: &days, Links: entries, SetLinks: true})
	require.NoError(t, err)
}

func TestDelayMinutes(t *testing.T) {
	base := time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)
	testCases := []struct {
		name     string
		actual   time.Time
		expected int
	}{
		{name: "On time", actual: base, expected: 0},
		{name: "Twelve minutes late", actual: base.Add(12 * time.Minute), expected: 12},
		{name: "Rounds half up", actual: base.Add(90 * time.Second), expected: 2},
		{name: "Rounds down", actual: base.Add(89 * time.Second), expected: 1},
		{name: "Early clamps to zero", actual: base.Add(-5 * time.Minute), expected: 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, DelayMinutes(base, tc.actual))
		})
	}
}

func TestPull(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	resp, err := f.svc.Pull(ctx, "SN-1")
	require.NoError(t, err)
	assert.Equal(t, 7, resp.TotalSlots)
	assert.NotNil(t, resp.ActiveSchedules)
	assert.Empty(t, resp.ActiveSchedules)
	assert.Equal(t, 50, resp.Volume.Volume)
	assert.Equal(t, "2025-03-03 08:12:00", resp.ServerTime)

	med := &model.Medication{ConnectionID: f.conn.ID, Name: "Metformin", Nickname: "-", DosageFormID: 1, UnitTypeID: 1}
	require.NoError(t, f.store.CreateMedication(ctx, med, []int{2}))
	f.arm(t, f.conn.Slots[1], med)

	resp, err = f.svc.Pull(ctx, "SN-1")
	require.NoError(t, err)
	require.Len(t, resp.ActiveSchedules, 1)
	got := resp.ActiveSchedules[0]
	assert.Equal(t, 2, got.Number)
	assert.Equal(t, "08:00:00", got.Timing)
	assert.Equal(t, "หลังอาหารเช้า", got.TimingLabel)
	assert.True(t, got.Days.Monday)
	assert.True(t, got.Days.Wednesday)
	assert.False(t, got.Days.Sunday)

	testCases := []struct {
		name   string
		serial string
		kind   apperr.Kind
	}{
		{name: "Unknown serial", serial: "SN-404", kind: apperr.KindNotFound},
		{name: "Registered but unpaired", serial: "SN-UNPAIRED", kind: apperr.KindNotFound},
		{name: "Missing serial", serial: "", kind: apperr.KindValidation},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Pull(ctx, tc.serial)
			assert.Equal(t, tc.kind, apperr.KindOf(err))
		})
	}
}

func TestPullAfterLinksThenRecurrence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	slot := f.conn.Slots[2]

	med := &model.Medication{ConnectionID: f.conn.ID, Name: "Amlodipine", Nickname: "-", DosageFormID: 1, UnitTypeID: 1}
	require.NoError(t, f.store.CreateMedication(ctx, med, []int{3}))
	_, err := f.store.ReplaceLinks(ctx, slot.ID, []store.LinkEntry{{MedicationID: med.ID, Amount: 1}})
	require.NoError(t, err)
	_, err = f.store.ReplaceDaySchedule(ctx, slot.ID, model.WeekFlags{false, true})
	require.NoError(t, err)

	resp, err := f.svc.Pull(ctx, "SN-1")
	require.NoError(t, err)
	require.Len(t, resp.ActiveSchedules, 1)
	assert.Equal(t, 3, resp.ActiveSchedules[0].Number)
	assert.True(t, resp.ActiveSchedules[0].Active)
	assert.Equal(t, schedule.Days{Monday: true}, resp.ActiveSchedules[0].Days)
}

func TestPushTakenWithMedications(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	metformin := &model.Medication{ConnectionID: f.conn.ID, Name: "Metformin", Nickname: "ยาเบาหวาน", DosageFormID: 1, UnitTypeID: 1}
	aspirin := &model.Medication{ConnectionID: f.conn.ID, Name: "Aspirin", Nickname: "-", DosageFormID: 1, UnitTypeID: 1}
	require.NoError(t, f.store.CreateMedication(ctx, metformin, []int{2}))
	require.NoError(t, f.store.CreateMedication(ctx, aspirin, []int{2}))
	_, err := f.store.ReplaceLinks(ctx, f.conn.Slots[1].ID, []store.LinkEntry{
		{MedicationID: metformin.ID, Amount: 0.5},
		{MedicationID: aspirin.ID, Amount: 1},
	})
	require.NoError(t, err)

	image := base64.StdEncoding.EncodeToString([]byte("jpeg"))
	result, err := f.svc.Push(ctx, PushRequest{
		Serial:        "SN-1",
		SlotNumber:    2,
		Timing:        "08:00",
		ImageData:     "data:image/jpeg;base64," + image,
		ImageFilename: "cap.jpg",
	})
	require.NoError(t, err)

	assert.Equal(t, "taken", result.Status)
	assert.Equal(t, 12, result.DelayMinutes)
	assert.Equal(t, "วันจันทร์", result.Weekday)
	assert.Equal(t, "2025-03-03 08:00:00", result.ScheduledAt)
	assert.Equal(t, "/pictures/img-cap.jpg", result.PictureURL)
	assert.Equal(t, []SnapshotView{
		{MedicationName: "ยาเบาหวาน", AmountTaken: "1/2 เม็ด"},
		{MedicationName: "Aspirin", AmountTaken: "1 เม็ด"},
	}, result.Snapshots)
	assert.Empty(t, f.notifier.jobs)

	stored, err := f.store.GetDoseEvent(ctx, result.EventID)
	require.NoError(t, err)
	assert.Equal(t, "img-cap.jpg", stored.Picture)
	assert.Len(t, stored.Snapshots, 2)
}

func TestPushMissedWithoutMedications(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	taken := false
	image := base64.StdEncoding.EncodeToString([]byte("jpeg"))
	result, err := f.svc.Push(ctx, PushRequest{
		Serial:          "SN-1",
		SlotNumber:      3,
		ReceiveTime:     "2025-03-03 07:50:00",
		ActualTime:      "2025-03-03 07:40:00",
		Day:             "Saturday",
		MedicationTaken: &taken,
		TimeoutReason:   "no hand detected",
		ImageData:       image,
	})
	require.NoError(t, err)

	assert.Equal(t, "missed", result.Status)
	assert.Equal(t, 0, result.DelayMinutes, "early reports clamp to zero")
	assert.Equal(t, "วันเสาร์", result.Weekday)
	assert.Empty(t, result.PictureURL, "missed doses never store a picture")
	assert.Empty(t, f.images.saved)
	assert.Equal(t, []SnapshotView{{MedicationName: "Slot 3 Medicine", AmountTaken: "1"}}, result.Snapshots)

	require.Len(t, f.notifier.jobs, 1)
	assert.Equal(t, result.EventID, f.notifier.jobs[0].EventID)
	assert.Equal(t, "หลังอาหารกลางวัน", f.notifier.jobs[0].SlotLabel)

	stored, err := f.store.GetDoseEvent(ctx, result.EventID)
	require.NoError(t, err)
	assert.Equal(t, "no hand detected", stored.MissedReason)
}

func TestPushImageFailureDegrades(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.images.failing = true

	result, err := f.svc.Push(ctx, PushRequest{Serial: "SN-1", SlotNumber: 1, ImageData: "aGVsbG8="})
	require.NoError(t, err)
	assert.Empty(t, result.PictureURL)

	f.images.failing = false
	result, err = f.svc.Push(ctx, PushRequest{Serial: "SN-1", SlotNumber: 1, ImageData: "***"})
	require.NoError(t, err)
	assert.Empty(t, result.PictureURL)
	// Default scheduled time is today at the slot's configured 07:00.
	assert.Equal(t, "2025-03-03 07:00:00", result.ScheduledAt)
	assert.Equal(t, 72, result.DelayMinutes)
}

func TestPushWallClockTimes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	testCases := []struct {
		name      string
		req       PushRequest
		scheduled string
		actual    string
		delay     int
	}{
		{
			name:      "Timing and actual as clock readings",
			req:       PushRequest{Timing: "08:00:00", ActualTime: "08:12:00"},
			scheduled: "2025-03-03 08:00:00",
			actual:    "2025-03-03 08:12:00",
			delay:     12,
		},
		{
			name:      "Receive time as clock reading",
			req:       PushRequest{ReceiveTime: "07:30", ActualTime: "2025-03-03 07:45:00"},
			scheduled: "2025-03-03 07:30:00",
			actual:    "2025-03-03 07:45:00",
			delay:     15,
		},
		{
			name:      "Actual before scheduled",
			req:       PushRequest{ReceiveTime: "12:00:00", ActualTime: "11:58:00"},
			scheduled: "2025-03-03 12:00:00",
			actual:    "2025-03-03 11:58:00",
			delay:     0,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := tc.req
			req.Serial = "SN-1"
			req.SlotNumber = 3
			result, err := f.svc.Push(ctx, req)
			require.NoError(t, err)
			assert.Equal(t, "taken", result.Status)
			assert.Equal(t, tc.scheduled, result.ScheduledAt)
			assert.Equal(t, tc.actual, result.ActualAt)
			assert.Equal(t, tc.delay, result.DelayMinutes)

			stored, err := f.store.GetDoseEvent(ctx, result.EventID)
			require.NoError(t, err)
			assert.Equal(t, 2025, stored.ActualAt.In(f.loc).Year())
			assert.Equal(t, tc.delay, stored.DelayMinutes)
		})
	}
}

func TestPushSaveImageFlag(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	image := base64.StdEncoding.EncodeToString([]byte("jpeg"))
	no, yes := false, true

	result, err := f.svc.Push(ctx, PushRequest{Serial: "SN-1", SlotNumber: 1, SaveImage: &no, ImageData: image, ImageFilename: "skip.jpg"})
	require.NoError(t, err)
	assert.Empty(t, result.PictureURL)
	assert.Empty(t, f.images.saved)

	result, err = f.svc.Push(ctx, PushRequest{Serial: "SN-1", SlotNumber: 1, SaveImage: &yes, ImageData: image, ImageFilename: "keep.jpg"})
	require.NoError(t, err)
	assert.Equal(t, "/pictures/img-keep.jpg", result.PictureURL)
	assert.Len(t, f.images.saved, 1)
}

func TestPushValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	wrongSlot := f.conn.Slots[0].ID

	testCases := []struct {
		name string
		req  PushRequest
	}{
		{name: "Unknown serial", req: PushRequest{Serial: "SN-404", SlotNumber: 1}},
		{name: "Unpaired serial", req: PushRequest{Serial: "SN-UNPAIRED", SlotNumber: 1}},
		{name: "Slot zero", req: PushRequest{Serial: "SN-1", SlotNumber: 0}},
		{name: "Slot past N", req: PushRequest{Serial: "SN-1", SlotNumber: 8}},
		{name: "Mismatched slot id", req: PushRequest{Serial: "SN-1", SlotNumber: 2, SlotID: &wrongSlot}},
		{name: "Bad timing", req: PushRequest{Serial: "SN-1", SlotNumber: 2, Timing: "8 o'clock"}},
		{name: "Bad actual time", req: PushRequest{Serial: "SN-1", SlotNumber: 2, ActualTime: "whenever"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Push(ctx, tc.req)
			require.Error(t, err)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}

	page, total, err := f.store.ListDoseEvents(ctx, f.conn.ID, 0, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, page)
}

func TestSnapshots(t *testing.T) {
	links := []model.MedicationLink{
		{Amount: 0.25, Medication: model.Medication{Name: "Warfarin", Nickname: "-", UnitType: model.UnitType{Name: "เม็ด"}}},
		{Amount: 2, Medication: model.Medication{Name: "Syrup", Nickname: "ยาแก้ไอ", UnitType: model.UnitType{Name: "ช้อนชา"}}},
	}
	assert.Equal(t, []model.MedicationSnapshot{
		{MedicationName: "Warfarin", AmountTaken: "1/4 เม็ด"},
		{MedicationName: "ยาแก้ไอ", AmountTaken: "2 ช้อนชา"},
	}, Snapshots(4, links))
	assert.Equal(t, []model.MedicationSnapshot{{MedicationName: "Slot 4 Medicine", AmountTaken: "1"}}, Snapshots(4, nil))
}
