package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostel-allocation-backend/config"
	"hostel-allocation-backend/internal/allocation"
	"hostel-allocation-backend/internal/dbtest"
	"hostel-allocation-backend/internal/eligibility"
	"hostel-allocation-backend/internal/ledger"
	"hostel-allocation-backend/internal/lifecycle"
	"hostel-allocation-backend/internal/model"
	"hostel-allocation-backend/internal/mw"
	"hostel-allocation-backend/internal/store"
	"hostel-allocation-backend/internal/window"
)

var now = time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)

func setupRouter(t *testing.T, vapid *webpush.Options) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log, _ := logtest.NewNullLogger()
	db := dbtest.New(t)
	l := ledger.New(db, log)
	windows := window.New(db, log, window.WithClock(func() time.Time { return now }))
	s := store.NewGormStore(db)
	apps := lifecycle.New(db, windows, allocation.New(l, windows, log), s, log)

	h := NewHandler(l, windows, apps, s, vapid, log)
	return NewRouter(h, config.ServerConfig{
		RateLimitPerSec: 1000,
		RateLimitBurst:  1000,
		CacheTTL:        time.Minute,
	})
}

type caller struct {
	t      *testing.T
	router *gin.Engine
}

func (c caller) do(method, path string, headers map[string]string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, req)
	return w
}

func (c caller) admin(method, path string, body any) *httptest.ResponseRecorder {
	return c.do(method, path, map[string]string{mw.AdminIDHeader: "ADM-1"}, body)
}

func (c caller) student(id, method, path string, body any) *httptest.ResponseRecorder {
	return c.do(method, path, map[string]string{mw.StudentIDHeader: id}, body)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type errorBody struct {
	Error   string   `json:"error"`
	Code    string   `json:"code"`
	Reasons []string `json:"reasons"`
}

// seed creates a mixed hostel with one double room and a published window requiring level 2.
func seed(t *testing.T, c caller) (model.Hostel, model.ApplicationWindow) {
	t.Helper()

	w := c.admin(http.MethodPost, "/api/admin/hostels", map[string]any{"name": "Zik Hall", "genderPolicy": "mixed"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	hostel := decode[model.Hostel](t, w)

	w = c.admin(http.MethodPost, fmt.Sprintf("/api/admin/hostels/%d/rooms", hostel.ID), map[string]any{"code": "A1-01", "type": "double"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = c.admin(http.MethodPost, "/api/admin/windows", map[string]any{
		"name":            "2025/2026 Returning",
		"type":            "returning",
		"startDate":       now.Add(-time.Hour).Format(time.RFC3339),
		"endDate":         now.Add(72 * time.Hour).Format(time.RFC3339),
		"maxApplications": 10,
		"criteria":        map[string]any{"minLevel": 2},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	win := decode[model.ApplicationWindow](t, w)
	assert.Equal(t, model.WindowDraft, win.Status)

	w = c.admin(http.MethodPost, "/api/admin/windows/"+win.ID+"/publish", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	win = decode[model.ApplicationWindow](t, w)
	assert.Equal(t, model.WindowActive, win.Status)

	for id, level := range map[string]int{"STU-1": 3, "STU-2": 1, "STU-3": 2} {
		w = c.admin(http.MethodPut, "/api/admin/students/"+id, map[string]any{"gender": "female", "level": level})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	return hostel, win
}

func TestIdentityRequired(t *testing.T) {
	c := caller{t: t, router: setupRouter(t, nil)}

	w := c.do(http.MethodGet, "/api/me/applications", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHENTICATED", decode[errorBody](t, w).Code)

	// A student identity is not an admin identity.
	w = c.student("STU-1", http.MethodPost, "/api/admin/hostels", map[string]any{"name": "Zik Hall"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestApplicationFlow(t *testing.T) {
	c := caller{t: t, router: setupRouter(t, nil)}
	hostel, win := seed(t, c)
	submitPath := "/api/windows/" + win.ID + "/applications"
	prefs := map[string]any{"preferences": map[string]any{"hostelId": hostel.ID}}

	w := c.student("STU-1", http.MethodPost, submitPath, prefs)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	app := decode[model.Application](t, w)
	assert.Equal(t, model.ApplicationPending, app.Status)

	t.Run("duplicate submission conflicts", func(t *testing.T) {
		w := c.student("STU-1", http.MethodPost, submitPath, prefs)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "DUPLICATE_APPLICATION", decode[errorBody](t, w).Code)
	})

	t.Run("ineligible student gets reasons", func(t *testing.T) {
		w := c.student("STU-2", http.MethodPost, submitPath, prefs)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		body := decode[errorBody](t, w)
		assert.Equal(t, "INELIGIBLE", body.Code)
		assert.Equal(t, []string{eligibility.LevelBelowMinimum}, body.Reasons)
	})

	t.Run("unknown student profile", func(t *testing.T) {
		w := c.student("STU-404", http.MethodPost, submitPath, prefs)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("other students cannot read the application", func(t *testing.T) {
		w := c.student("STU-3", http.MethodGet, "/api/applications/"+app.ID, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "FORBIDDEN", decode[errorBody](t, w).Code)
	})

	t.Run("approval allocates a bed", func(t *testing.T) {
		w := c.admin(http.MethodPost, "/api/admin/applications/"+app.ID+"/decision", map[string]any{"outcome": "approve"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		approved := decode[model.Application](t, w)
		assert.Equal(t, model.ApplicationApproved, approved.Status)
		require.NotNil(t, approved.AllocatedBed)

		w = c.do(http.MethodGet, fmt.Sprintf("/api/hostels/%d/availability", hostel.ID), nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		a := decode[ledger.Availability](t, w)
		assert.Equal(t, 2, a.Capacity)
		assert.Equal(t, 1, a.Occupied)
		assert.Equal(t, 1, a.Available)
	})

	t.Run("withdrawing an approved application conflicts", func(t *testing.T) {
		w := c.student("STU-1", http.MethodDelete, "/api/applications/"+app.ID, nil)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "INVALID_STATE", decode[errorBody](t, w).Code)
	})

	t.Run("student sees own applications", func(t *testing.T) {
		w := c.student("STU-1", http.MethodGet, "/api/me/applications", nil)
		require.Equal(t, http.StatusOK, w.Code)
		apps := decode[[]model.Application](t, w)
		require.Len(t, apps, 1)
		assert.Equal(t, app.ID, apps[0].ID)
	})

	t.Run("revoke frees the bed", func(t *testing.T) {
		w := c.admin(http.MethodPost, "/api/admin/applications/"+app.ID+"/revoke", map[string]any{"notes": "left the university"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, model.ApplicationRejected, decode[model.Application](t, w).Status)

		w = c.do(http.MethodGet, fmt.Sprintf("/api/hostels/%d/availability", hostel.ID), nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 2, decode[ledger.Availability](t, w).Available)
	})
}

func TestWithdrawPending(t *testing.T) {
	c := caller{t: t, router: setupRouter(t, nil)}
	_, win := seed(t, c)

	w := c.student("STU-3", http.MethodPost, "/api/windows/"+win.ID+"/applications", map[string]any{"reason": "final year"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	app := decode[model.Application](t, w)

	w = c.student("STU-1", http.MethodDelete, "/api/applications/"+app.ID, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = c.student("STU-3", http.MethodDelete, "/api/applications/"+app.ID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, model.ApplicationWithdrawn, decode[model.Application](t, w).Status)

	w = c.do(http.MethodGet, "/api/windows/"+win.ID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[struct {
		Window    model.ApplicationWindow `json:"window"`
		Accepting bool                    `json:"accepting"`
	}](t, w)
	assert.Equal(t, 0, got.Window.CurrentApplications)
	assert.True(t, got.Accepting)
}

func TestDecision_Validation(t *testing.T) {
	c := caller{t: t, router: setupRouter(t, nil)}

	w := c.admin(http.MethodPost, "/api/admin/applications/nope/decision", map[string]any{"outcome": "maybe"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", decode[errorBody](t, w).Code)

	w = c.admin(http.MethodPost, "/api/admin/applications/nope/decision", map[string]any{"outcome": "approve"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decode[errorBody](t, w).Code)
}

func TestHostelRoutes(t *testing.T) {
	c := caller{t: t, router: setupRouter(t, nil)}
	hostel, _ := seed(t, c)

	w := c.do(http.MethodGet, "/api/hostels/abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = c.do(http.MethodGet, "/api/hostels/999", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = c.do(http.MethodGet, fmt.Sprintf("/api/hostels/%d/availability?room_type=penthouse", hostel.ID), nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = c.admin(http.MethodGet, fmt.Sprintf("/api/admin/hostels/%d/rooms", hostel.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	rooms := decode[[]model.Room](t, w)
	require.Len(t, rooms, 1)
	require.Len(t, rooms[0].Beds, 2)

	bedPath := fmt.Sprintf("/api/admin/beds/%d/maintenance", rooms[0].Beds[0].ID)
	w = c.admin(http.MethodPut, bedPath, map[string]any{"maintenance": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, model.BedMaintenance, decode[model.Bed](t, w).Status)

	w = c.do(http.MethodGet, fmt.Sprintf("/api/hostels/%d", hostel.ID), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	summary := decode[ledger.HostelSummary](t, w)
	assert.Equal(t, "Zik Hall", summary.Hostel.Name)
	assert.Equal(t, 1, summary.Availability.Capacity)
	assert.Equal(t, 1, summary.Availability.Maintenance)
}

func TestCache_FlushedByWrites(t *testing.T) {
	c := caller{t: t, router: setupRouter(t, nil)}

	w := c.do(http.MethodGet, "/api/hostels", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))

	w = c.do(http.MethodGet, "/api/hostels", nil, nil)
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))

	w = c.admin(http.MethodPost, "/api/admin/hostels", map[string]any{"name": "Moremi Hall", "genderPolicy": "female"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = c.do(http.MethodGet, "/api/hostels", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
	assert.Len(t, decode[[]ledger.HostelSummary](t, w), 1)
}

func TestSubscriptions(t *testing.T) {
	c := caller{t: t, router: setupRouter(t, nil)}

	w := c.student("STU-1", http.MethodPut, "/api/subscriptions", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"invalid request","code":"VALIDATION_ERROR"}`, w.Body.String())

	sub := map[string]any{"endpoint": "https://push.example.com/abc", "p256dh": "key", "auth": "secret"}
	w = c.student("STU-1", http.MethodPut, "/api/subscriptions", sub)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = c.student("STU-1", http.MethodGet, "/api/subscriptions?endpoint=https%3A%2F%2Fpush.example.com%2Fabc", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://push.example.com/abc", decode[map[string]any](t, w)["endpoint"])

	w = c.student("STU-2", http.MethodGet, "/api/subscriptions?endpoint=https%3A%2F%2Fpush.example.com%2Fabc", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = c.student("STU-1", http.MethodDelete, "/api/subscriptions", map[string]any{"endpoint": "https://push.example.com/abc"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = c.student("STU-1", http.MethodGet, "/api/subscriptions?endpoint=https%3A%2F%2Fpush.example.com%2Fabc", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetVAPIDPublicKey(t *testing.T) {
	c := caller{t: t, router: setupRouter(t, nil)}
	w := c.do(http.MethodGet, "/api/vapid_public_key", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	c = caller{t: t, router: setupRouter(t, &webpush.Options{VAPIDPublicKey: "BPub", TTL: 60})}
	w = c.do(http.MethodGet, "/api/vapid_public_key", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"public_key":"BPub","ttl":60}`, w.Body.String())
}

func TestHealth(t *testing.T) {
	c := caller{t: t, router: setupRouter(t, nil)}
	w := c.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
