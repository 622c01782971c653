package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/SherClockHolmes/webpush-go"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"hostel-allocation-backend/internal/lifecycle"
	"hostel-allocation-backend/internal/model"
	"hostel-allocation-backend/internal/store"
)

// mockSender is a mock implementation of the NotificationSender interface.
type mockSender struct {
	SendFunc func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// Send calls the mock SendFunc.
func (m *mockSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return m.SendFunc(payload, sub, options)
}

// A helper function to create a mock database connection.
func newTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func newTestPool(t *testing.T, queueSize int) (*WorkerPool, sqlmock.Sqlmock) {
	gormDB, mock := newTestDB(t)
	log, _ := logtest.NewNullLogger()
	return NewWorkerPool(1, queueSize, store.NewGormStore(gormDB), &webpush.Options{}, log), mock
}

func okResponse(status int) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewBufferString(""))}
}

func TestWorkerPool_Notify(t *testing.T) {
	wp, _ := newTestPool(t, 1)

	wp.Notify(lifecycle.Event{Type: lifecycle.EventSubmitted, ApplicationID: "app-1"})

	select {
	case ev := <-wp.Jobs():
		assert.Equal(t, "app-1", ev.ApplicationID)
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for event to be queued")
	}
}

func TestWorkerPool_NotifyDropsWhenFull(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	gormDB, _ := newTestDB(t)
	wp := NewWorkerPool(1, 1, store.NewGormStore(gormDB), &webpush.Options{}, log)

	done := make(chan struct{})
	go func() {
		wp.Notify(lifecycle.Event{ApplicationID: "app-1"})
		wp.Notify(lifecycle.Event{ApplicationID: "app-2"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("Notify blocked on a full queue")
	}

	assert.Len(t, wp.Jobs(), 1)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "notification queue full, dropping event", hook.LastEntry().Message)
}

func TestPayloadFor(t *testing.T) {
	bed := int64(7)
	p := payloadFor(lifecycle.Event{
		Type:          lifecycle.EventApproved,
		ApplicationID: "app-1",
		WindowName:    "2025/2026 Session",
		Status:        model.ApplicationApproved,
		BedID:         &bed,
	})
	assert.Equal(t, "Bed allocated", p.Title)
	assert.Equal(t, "Your application for 2025/2026 Session was approved. Bed 7 is yours.", p.Body)

	p = payloadFor(lifecycle.Event{Type: lifecycle.EventWaitlisted})
	assert.Equal(t, "Your application for the application window is on the waitlist.", p.Body)
}

func TestWorkerPool_WorkerLogic(t *testing.T) {
	wp, mock := newTestPool(t, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wp.Start(ctx)

	subscriptionRows := func(endpoint string) *sqlmock.Rows {
		return sqlmock.NewRows([]string{"endpoint", "student_id", "p256dh", "auth", "created_at"}).
			AddRow(endpoint, "STU-1", "test_p256dh", "test_auth", time.Now())
	}

	// --- Test Case: One subscription found, notification sent ---
	t.Run("sends notification for one subscription", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(1)

		wp.sender = &mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				defer wg.Done()
				assert.Equal(t, "https://example.com/push", sub.Endpoint)
				assert.Equal(t, "test_p256dh", sub.Keys.P256dh)

				var p Payload
				assert.NoError(t, json.Unmarshal(payload, &p))
				assert.Equal(t, "app-1", p.ApplicationID)
				assert.Equal(t, model.ApplicationRejected, p.Status)
				assert.Equal(t, "Your application for Returning was not successful.", p.Body)
				return okResponse(http.StatusCreated), nil
			},
		}

		mock.ExpectQuery(`SELECT \* FROM "push_subscriptions" WHERE student_id = \$1`).
			WithArgs("STU-1").
			WillReturnRows(subscriptionRows("https://example.com/push"))

		wp.Notify(lifecycle.Event{
			Type:          lifecycle.EventRejected,
			ApplicationID: "app-1",
			StudentID:     "STU-1",
			WindowName:    "Returning",
			Status:        model.ApplicationRejected,
		})
		wg.Wait()
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	// --- Test Case: Subscription expired, should be deleted ---
	t.Run("deletes expired subscription", func(t *testing.T) {
		wp.sender = &mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				return okResponse(http.StatusGone), nil
			},
		}

		mock.ExpectQuery(`SELECT \* FROM "push_subscriptions" WHERE student_id = \$1`).
			WithArgs("STU-1").
			WillReturnRows(subscriptionRows("https://example.com/expired"))

		// Expect the delete operation
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM "push_subscriptions" WHERE "push_subscriptions"."endpoint" = \$1`).
			WithArgs("https://example.com/expired").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		wp.Notify(lifecycle.Event{Type: lifecycle.EventApproved, ApplicationID: "app-2", StudentID: "STU-1"})

		assert.Eventually(t, func() bool {
			return mock.ExpectationsWereMet() == nil
		}, time.Second, 10*time.Millisecond)
	})

	// --- Test Case: Subscription lookup fails, nothing is sent ---
	t.Run("skips delivery when subscriptions cannot be loaded", func(t *testing.T) {
		sent := make(chan struct{}, 1)
		wp.sender = &mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				sent <- struct{}{}
				return okResponse(http.StatusCreated), nil
			},
		}

		mock.ExpectQuery(`SELECT \* FROM "push_subscriptions" WHERE student_id = \$1`).
			WithArgs("STU-1").
			WillReturnError(fmt.Errorf("connection refused"))

		wp.Notify(lifecycle.Event{Type: lifecycle.EventSubmitted, ApplicationID: "app-3", StudentID: "STU-1"})

		assert.Eventually(t, func() bool {
			return mock.ExpectationsWereMet() == nil
		}, time.Second, 10*time.Millisecond)
		select {
		case <-sent:
			t.Fatal("notification sent without subscriptions")
		case <-time.After(50 * time.Millisecond):
		}
	})
}
