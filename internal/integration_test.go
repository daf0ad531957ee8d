package internal

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pillbox-backend/config"
	"pillbox-backend/internal/auth"
	"pillbox-backend/internal/db/dbtest"
	"pillbox-backend/internal/devicesync"
	"pillbox-backend/internal/history"
	"pillbox-backend/internal/imagestore"
	"pillbox-backend/internal/medication"
	"pillbox-backend/internal/model"
	"pillbox-backend/internal/notification"
	"pillbox-backend/internal/pairing"
	"pillbox-backend/internal/schedule"
	"pillbox-backend/internal/store"
)

// TestDispenserLifecycle walks one device from pairing through a taken and a
// missed dose to the adherence report, and verifies that snapshots survive
// later edits and deletion of the medication.
func TestDispenserLifecycle(t *testing.T) {
	// --- Test Setup ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	log := zap.NewNop()

	// 1. A database with one registered dispenser.
	cfg := config.Default()
	cfg.Auth.Secret = "integration-secret"
	gormDB := dbtest.Open(t, "SN-INT")
	s := store.NewGormStore(gormDB)
	defaults := schedule.NewDefaults(&cfg.Schedule)
	loc := defaults.Location()

	picturesDir := t.TempDir()
	images, err := imagestore.NewLocal(picturesDir, "/pictures", cfg.Storage.MaxImageSize)
	require.NoError(t, err)

	// 2. A push service that records deliveries.
	var pushes atomic.Int32
	pushServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pushes.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))
	defer pushServer.Close()

	vapidPrivate, vapidPublic, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	pool := notification.NewWorkerPool(1, 8, s, &webpush.Options{
		VAPIDPublicKey:  vapidPublic,
		VAPIDPrivateKey: vapidPrivate,
		Subscriber:      "ops@example.com",
		TTL:             60,
	}, log)
	pool.Start(ctx)

	issuer := auth.NewIssuer(cfg.Auth)
	pairingSvc := pairing.NewService(s, defaults, issuer, log)
	scheduleSvc := schedule.NewService(s, defaults, log)
	medSvc := medication.NewService(s, defaults, images, log)
	historySvc := history.NewService(s, defaults, images, log)
	syncSvc := devicesync.NewService(s, defaults, images, pool, log)

	// --- Scenario ---

	// 3. The user pairs the dispenser; the new token carries the connection.
	paired, err := pairingSvc.Pair(ctx, 42, "SN-INT")
	require.NoError(t, err)
	id, err := issuer.Verify(paired.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, auth.Identity{UserID: 42, ConnectionID: paired.ConnectionID}, id)
	connID := paired.ConnectionID

	// 4. Two medications registered for the morning slot.
	metformin, err := medSvc.Create(ctx, connID, medication.Input{Name: "Metformin", DosageFormID: 1, UnitTypeID: 1, Timings: []int{1}})
	require.NoError(t, err)
	syrup, err := medSvc.Create(ctx, connID, medication.Input{Name: "Cough syrup", Nickname: "Syrup", DosageFormID: 3, UnitTypeID: 3, Timings: []int{1, 2}})
	require.NoError(t, err)

	// 5. Slot 1 gets weekdays, both medications, and is armed.
	slots, err := scheduleSvc.ListSlots(ctx, connID)
	require.NoError(t, err)
	require.Len(t, slots, 7)
	slot1 := slots[0]
	weekdays := schedule.Days{Monday: true, Tuesday: true, Wednesday: true, Thursday: true, Friday: true}
	links := []store.LinkEntry{{MedicationID: metformin.ID, Amount: 1}, {MedicationID: syrup.ID, Amount: 0.5}}
	result, err := scheduleSvc.SaveSlot(ctx, connID, slot1.ID, schedule.SaveInput{Days: &weekdays, Medications: &links})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Linked)
	_, err = scheduleSvc.SetActive(ctx, connID, slot1.ID, true)
	require.NoError(t, err)

	// 6. The device pulls exactly the armed slot.
	pulled, err := syncSvc.Pull(ctx, "SN-INT")
	require.NoError(t, err)
	require.Len(t, pulled.ActiveSchedules, 1)
	assert.Equal(t, 1, pulled.ActiveSchedules[0].Number)
	assert.Equal(t, weekdays, pulled.ActiveSchedules[0].Days)
	assert.Equal(t, 7, pulled.TotalSlots)

	// 7. The dose is taken ten minutes late, with a photo.
	today := time.Now().In(loc).Format("2006-01-02")
	taken, err := syncSvc.Push(ctx, devicesync.PushRequest{
		Serial: "SN-INT", SlotNumber: 1,
		ReceiveTime: today + " 07:00:00", ActualTime: today + " 07:10:00",
		ImageData: base64.StdEncoding.EncodeToString([]byte("jpeg bytes")), ImageFilename: "dose.jpg",
	})
	require.NoError(t, err)
	assert.Equal(t, "taken", taken.Status)
	assert.Equal(t, 10, taken.DelayMinutes)
	assert.NotEmpty(t, taken.PictureURL)
	assert.Equal(t, []devicesync.SnapshotView{
		{MedicationName: "Metformin", AmountTaken: "1 เม็ด"},
		{MedicationName: "Syrup", AmountTaken: "1/2 ช้อนชา"},
	}, taken.Snapshots)
	entries, err := os.ReadDir(picturesDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// 8. Renaming the medication later does not rewrite history.
	_, err = medSvc.Update(ctx, connID, metformin.ID, medication.Input{Name: "Metformin XR", DosageFormID: 1, UnitTypeID: 1})
	require.NoError(t, err)
	detail, err := historySvc.Detail(ctx, connID, taken.EventID)
	require.NoError(t, err)
	assert.Equal(t, "Metformin", detail.Medications[0].MedicationName)

	// 9. A missed dose reaches the caregiver's subscribed browser.
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	secret := make([]byte, 16)
	_, err = rand.Read(secret)
	require.NoError(t, err)
	require.NoError(t, s.UpsertSubscription(ctx, &model.PushSubscription{
		Endpoint:     pushServer.URL + "/push/caregiver",
		ConnectionID: connID,
		P256DH:       base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
		Auth:         base64.RawURLEncoding.EncodeToString(secret),
	}))

	missed, err := syncSvc.Push(ctx, devicesync.PushRequest{
		Serial: "SN-INT", SlotNumber: 1, MissedDose: true, TimeoutReason: "not picked up",
		ReceiveTime: today + " 07:00:00", ActualTime: today + " 07:30:00",
	})
	require.NoError(t, err)
	assert.Equal(t, "missed", missed.Status)
	assert.Empty(t, missed.PictureURL)
	assert.Eventually(t, func() bool { return pushes.Load() == 1 }, 5*time.Second, 20*time.Millisecond)

	// 10. The weekly report reflects one taken and one missed dose.
	summary, err := historySvc.Summary(ctx, connID, history.Range{Period: history.PeriodWeek})
	require.NoError(t, err)
	assert.Equal(t, history.Totals{Taken: 1, Missed: 1, Total: 2, ComplianceRate: 0.5}, summary.Totals)
	require.Len(t, summary.Daily, 1)
	assert.Equal(t, today, summary.Daily[0].Date)
	// The missed dose was snapshotted after the rename.
	require.Len(t, summary.TopMedications, 3)
	assert.Equal(t, "Syrup", summary.TopMedications[0].Name)
	assert.Equal(t, "Metformin", summary.TopMedications[1].Name)
	assert.Equal(t, "Metformin XR", summary.TopMedications[2].Name)

	// 11. Force-deleting a linked medication disarms the slot; history stays.
	deleted, err := medSvc.Delete(ctx, connID, syrup.ID, true)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, deleted.DeactivatedSlots)

	pulled, err = syncSvc.Pull(ctx, "SN-INT")
	require.NoError(t, err)
	assert.Empty(t, pulled.ActiveSchedules)

	detail, err = historySvc.Detail(ctx, connID, taken.EventID)
	require.NoError(t, err)
	assert.Len(t, detail.Medications, 2)
}
