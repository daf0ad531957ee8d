package notification

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"pillbox-backend/internal/model"
	"pillbox-backend/internal/store"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// MissedDose is the job enqueued after a missed dose event commits.
type MissedDose struct {
	ConnectionID int64
	EventID      int64
	SlotNumber   int
	SlotLabel    string
	ScheduledAt  time.Time
}

// Message is the text shown on the caregiver's phone.
func (m MissedDose) Message() string {
	label := m.SlotLabel
	if label == "" {
		label = fmt.Sprintf("ช่องที่ %d", m.SlotNumber)
	}
	return fmt.Sprintf("ไม่ได้รับประทานยา %s เวลา %s", label, m.ScheduledAt.Format("15:04"))
}

// WorkerPool manages a pool of workers for sending notifications.
type WorkerPool struct {
	size    int
	jobs    chan MissedDose
	store   store.Store
	webpush *webpush.Options
	sender  NotificationSender
	log     *zap.Logger
}

// NewWorkerPool creates a new worker pool with a bounded queue.
func NewWorkerPool(size, queueSize int, s store.Store, webpushOptions *webpush.Options, log *zap.Logger) *WorkerPool {
	if queueSize < size {
		queueSize = size
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan MissedDose, queueSize),
		store:   s,
		webpush: webpushOptions,
		sender:  &WebPushSender{}, // Use the real sender by default
		log:     log,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

// worker is the actual worker goroutine.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.log.Debug("notification worker started", zap.Int("worker", id))
	for {
		select {
		case job := <-wp.jobs:
			wp.sendMissedDose(ctx, job)
		case <-ctx.Done():
			wp.log.Debug("notification worker shutting down", zap.Int("worker", id))
			return
		}
	}
}

// Dispatch enqueues a job without blocking. It reports false and drops the
// job when the queue is full.
func (wp *WorkerPool) Dispatch(job MissedDose) bool {
	select {
	case wp.jobs <- job:
		return true
	default:
		wp.log.Warn("notification queue full; dropping missed-dose alert",
			zap.Int64("connection_id", job.ConnectionID), zap.Int64("event_id", job.EventID))
		return false
	}
}

// sendMissedDose notifies every subscription of the job's connection.
func (wp *WorkerPool) sendMissedDose(ctx context.Context, job MissedDose) {
	subscriptions, err := wp.store.Subscriptions(ctx, job.ConnectionID)
	if err != nil {
		wp.log.Error("failed to load subscriptions", zap.Int64("connection_id", job.ConnectionID), zap.Error(err))
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	wp.log.Info("sending missed-dose notifications",
		zap.Int("count", len(subscriptions)), zap.Int64("event_id", job.EventID))
	payload := []byte(job.Message())
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
	}
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	// Manually construct the webpush.Subscription object
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.log.Warn("failed to send notification", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		wp.log.Info("subscription expired; deleting", zap.String("endpoint", sub.Endpoint))
		if err := wp.store.DeleteSubscriptionByEndpoint(ctx, sub.Endpoint); err != nil {
			wp.log.Error("failed to delete expired subscription", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		}
	}
}
