package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/sirupsen/logrus"

	"hostel-allocation-backend/internal/lifecycle"
	"hostel-allocation-backend/internal/model"
	"hostel-allocation-backend/internal/store"
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

// Payload is the JSON body delivered to the student's browser.
type Payload struct {
	Title         string                  `json:"title"`
	Body          string                  `json:"body"`
	ApplicationID string                  `json:"applicationId"`
	Status        model.ApplicationStatus `json:"status"`
}

// WorkerPool delivers lifecycle events to students' push subscriptions.
type WorkerPool struct {
	size    int
	jobs    chan lifecycle.Event
	store   store.Store
	webpush *webpush.Options
	sender  NotificationSender
	log     logrus.FieldLogger
}

// NewWorkerPool creates a new worker pool with a queue of queueSize pending events.
func NewWorkerPool(size, queueSize int, s store.Store, webpushOptions *webpush.Options, log logrus.FieldLogger) *WorkerPool {
	if queueSize < 1 {
		queueSize = 1
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan lifecycle.Event, queueSize),
		store:   s,
		webpush: webpushOptions,
		sender:  &WebPushSender{}, // Use the real sender by default
		log:     log.WithField("component", "notification"),
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
	log := wp.log.WithField("worker", id)
	log.Debug("worker started")
	for {
		select {
		case ev := <-wp.jobs:
			log.WithFields(logrus.Fields{"application_id": ev.ApplicationID, "event": ev.Type}).Debug("processing event")
			wp.sendNotificationsForEvent(ctx, ev)
		case <-ctx.Done():
			log.Debug("worker shutting down")
			return
		}
	}
}

// Notify queues an event for delivery. It never blocks: when the queue is full the event is dropped.
func (wp *WorkerPool) Notify(ev lifecycle.Event) {
	select {
	case wp.jobs <- ev:
	default:
		wp.log.WithFields(logrus.Fields{
			"application_id": ev.ApplicationID,
			"event":          ev.Type,
		}).Warn("notification queue full, dropping event")
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan lifecycle.Event {
	return wp.jobs
}

// sendNotificationsForEvent fetches the student's subscriptions and pushes the event to each.
func (wp *WorkerPool) sendNotificationsForEvent(ctx context.Context, ev lifecycle.Event) {
	subscriptions, err := wp.store.Subscriptions(ctx, ev.StudentID)
	if err != nil {
		wp.log.WithError(err).WithField("student_id", ev.StudentID).Error("error fetching subscriptions")
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	payload, err := json.Marshal(payloadFor(ev))
	if err != nil {
		wp.log.WithError(err).Error("error encoding payload")
		return
	}

	wp.log.WithFields(logrus.Fields{"student_id": ev.StudentID, "count": len(subscriptions)}).Info("sending notifications")
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
	}
}

func payloadFor(ev lifecycle.Event) Payload {
	window := ev.WindowName
	if window == "" {
		window = "the application window"
	}

	p := Payload{Title: "Hostel application update", ApplicationID: ev.ApplicationID, Status: ev.Status}
	switch ev.Type {
	case lifecycle.EventSubmitted:
		p.Body = fmt.Sprintf("Your application for %s was received.", window)
	case lifecycle.EventWaitlisted:
		p.Body = fmt.Sprintf("Your application for %s is on the waitlist.", window)
	case lifecycle.EventApproved:
		p.Title = "Bed allocated"
		p.Body = fmt.Sprintf("Your application for %s was approved.", window)
		if ev.BedID != nil {
			p.Body = fmt.Sprintf("Your application for %s was approved. Bed %d is yours.", window, *ev.BedID)
		}
	case lifecycle.EventRejected:
		p.Body = fmt.Sprintf("Your application for %s was not successful.", window)
	case lifecycle.EventRevoked:
		p.Body = fmt.Sprintf("Your allocation for %s was withdrawn by the hostel office.", window)
	case lifecycle.EventWithdrawn:
		p.Body = "Your application was withdrawn."
	default:
		p.Body = fmt.Sprintf("Your application is now %s.", ev.Status)
	}
	return p
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
		wp.log.WithError(err).WithField("endpoint", sub.Endpoint).Error("error sending notification")
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		wp.log.WithField("endpoint", sub.Endpoint).Info("subscription expired, deleting")
		if err := wp.store.DeleteExpiredSubscription(ctx, sub.Endpoint); err != nil {
			wp.log.WithError(err).WithField("endpoint", sub.Endpoint).Error("failed to delete expired subscription")
		}
	}
}
