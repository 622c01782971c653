package internal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostel-allocation-backend/config"
	"hostel-allocation-backend/internal/allocation"
	"hostel-allocation-backend/internal/api"
	"hostel-allocation-backend/internal/dbtest"
	"hostel-allocation-backend/internal/ledger"
	"hostel-allocation-backend/internal/lifecycle"
	"hostel-allocation-backend/internal/metrics"
	"hostel-allocation-backend/internal/model"
	"hostel-allocation-backend/internal/mw"
	"hostel-allocation-backend/internal/store"
	"hostel-allocation-backend/internal/window"
)

type eventLog struct {
	mu     sync.Mutex
	events []lifecycle.Event
}

func (l *eventLog) Notify(ev lifecycle.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) count(t lifecycle.EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

type testServer struct {
	t      *testing.T
	server *httptest.Server
}

func (s testServer) call(method, path, header, id string, body any) (int, []byte) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.server.URL+path, &buf)
	require.NoError(s.t, err)
	req.Header.Set("Content-Type", "application/json")
	if header != "" {
		req.Header.Set(header, id)
	}

	resp, err := s.server.Client().Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(s.t, err)
	return resp.StatusCode, raw
}

func (s testServer) admin(method, path string, body any) (int, []byte) {
	return s.call(method, path, mw.AdminIDHeader, "ADM-1", body)
}

func (s testServer) student(id, method, path string, body any) (int, []byte) {
	return s.call(method, path, mw.StudentIDHeader, id, body)
}

func mustDecode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

// TestWaitlistScenario drives a two-bed hostel through submission, waitlisting,
// revocation and promotion over HTTP, with every component wired as in production.
func TestWaitlistScenario(t *testing.T) {
	// --- Test Setup ---
	gin.SetMode(gin.TestMode)
	log, _ := logtest.NewNullLogger()
	opens := time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)
	now := opens.Add(time.Hour)

	db := dbtest.New(t)
	appStore := store.NewGormStore(db)
	bedLedger := ledger.New(db, log)
	windows := window.New(db, log, window.WithClock(func() time.Time { return now }))
	events := &eventLog{}
	apps := lifecycle.New(db, windows, allocation.New(bedLedger, windows, log), appStore, log,
		lifecycle.WithNotifier(lifecycle.Notifiers{events, metrics.Events{}}),
		lifecycle.WithEarlyBirdBonus(50),
	)
	handler := api.NewHandler(bedLedger, windows, apps, appStore, nil, log)
	router := api.NewRouter(handler, config.ServerConfig{RateLimitPerSec: 1000, RateLimitBurst: 1000, CacheTTL: time.Second})

	s := testServer{t: t, server: httptest.NewServer(router)}
	defer s.server.Close()

	// 1. Inventory: one mixed hostel with a single double room.
	code, raw := s.admin(http.MethodPost, "/api/admin/hostels", map[string]any{"name": "Zik Hall"})
	require.Equal(t, http.StatusCreated, code, string(raw))
	hostel := mustDecode[model.Hostel](t, raw)
	code, raw = s.admin(http.MethodPost, fmt.Sprintf("/api/admin/hostels/%d/rooms", hostel.ID), map[string]any{"code": "B2-14", "type": "double"})
	require.Equal(t, http.StatusCreated, code, string(raw))
	assert.Equal(t, 2, mustDecode[model.Room](t, raw).Floor)

	// 2. A window taking two applications plus two on the waitlist.
	code, raw = s.admin(http.MethodPost, "/api/admin/windows", map[string]any{
		"name":             "2025/2026 Freshers",
		"type":             "freshman",
		"startDate":        opens.Format(time.RFC3339),
		"endDate":          opens.Add(7 * 24 * time.Hour).Format(time.RFC3339),
		"earlyBirdEnd":     opens.Add(24 * time.Hour).Format(time.RFC3339),
		"maxApplications":  2,
		"allowWaitlist":    true,
		"waitlistCapacity": 2,
	})
	require.Equal(t, http.StatusCreated, code, string(raw))
	win := mustDecode[model.ApplicationWindow](t, raw)

	students := []string{"STU-1", "STU-2", "STU-3", "STU-4", "STU-5"}
	for _, id := range students {
		code, raw = s.admin(http.MethodPut, "/api/admin/students/"+id, map[string]any{"gender": "male", "level": 1})
		require.Equal(t, http.StatusOK, code, string(raw))
	}

	// Drafts take no applications.
	code, raw = s.student("STU-1", http.MethodPost, "/api/windows/"+win.ID+"/applications", map[string]any{})
	require.Equal(t, http.StatusConflict, code, string(raw))
	assert.Contains(t, string(raw), `"code":"WINDOW_CLOSED"`)

	code, _ = s.admin(http.MethodPost, "/api/admin/windows/"+win.ID+"/publish", nil)
	require.Equal(t, http.StatusOK, code)

	// --- Cycle 1: five students apply at once ---
	type result struct {
		code int
		raw  []byte
	}
	results := make([]result, len(students))
	var wg sync.WaitGroup
	for i, id := range students {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			code, raw := s.student(id, http.MethodPost, "/api/windows/"+win.ID+"/applications",
				map[string]any{"preferences": map[string]any{"hostelId": hostel.ID}})
			results[i] = result{code, raw}
		}(i, id)
	}
	wg.Wait()

	byStatus := map[model.ApplicationStatus][]model.Application{}
	rejected := 0
	for _, r := range results {
		if r.code == http.StatusConflict {
			assert.Contains(t, string(r.raw), `"code":"WAITLIST_FULL"`)
			rejected++
			continue
		}
		require.Equal(t, http.StatusCreated, r.code, string(r.raw))
		app := mustDecode[model.Application](t, r.raw)
		assert.Equal(t, 50, app.PriorityScore, "submitted before the early-bird cut-off")
		byStatus[app.Status] = append(byStatus[app.Status], app)
	}
	require.Len(t, byStatus[model.ApplicationPending], 2)
	require.Len(t, byStatus[model.ApplicationWaitlisted], 2)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, 2, events.count(lifecycle.EventSubmitted))
	assert.Equal(t, 2, events.count(lifecycle.EventWaitlisted))

	// --- Cycle 2: both pending applications take the two beds ---
	for _, app := range byStatus[model.ApplicationPending] {
		code, raw = s.admin(http.MethodPost, "/api/admin/applications/"+app.ID+"/decision", map[string]any{"outcome": "approve"})
		require.Equal(t, http.StatusOK, code, string(raw))
		assert.Equal(t, model.ApplicationApproved, mustDecode[model.Application](t, raw).Status)
	}

	waiting := byStatus[model.ApplicationWaitlisted][0]
	code, raw = s.admin(http.MethodPost, "/api/admin/applications/"+waiting.ID+"/decision", map[string]any{"outcome": "approve"})
	require.Equal(t, http.StatusOK, code, string(raw))
	assert.Equal(t, model.ApplicationWaitlisted, mustDecode[model.Application](t, raw).Status, "no bed left to promote into")

	code, raw = s.call(http.MethodGet, fmt.Sprintf("/api/hostels/%d/availability", hostel.ID), "", "", nil)
	require.Equal(t, http.StatusOK, code)
	a := mustDecode[ledger.Availability](t, raw)
	assert.Equal(t, 2, a.Occupied)
	assert.Equal(t, 0, a.Available)
	assert.Equal(t, 100.0, a.OccupancyRate)

	// --- Cycle 3: a revocation frees a bed and the waitlist moves ---
	revoked := byStatus[model.ApplicationPending][0]
	code, raw = s.admin(http.MethodPost, "/api/admin/applications/"+revoked.ID+"/revoke", nil)
	require.Equal(t, http.StatusOK, code, string(raw))

	code, raw = s.admin(http.MethodGet, "/api/admin/windows/"+win.ID+"/waitlist", nil)
	require.Equal(t, http.StatusOK, code)
	queue := mustDecode[[]model.Application](t, raw)
	require.Len(t, queue, 2)

	code, raw = s.admin(http.MethodPost, "/api/admin/applications/"+queue[0].ID+"/decision", map[string]any{"outcome": "approve"})
	require.Equal(t, http.StatusOK, code, string(raw))
	promoted := mustDecode[model.Application](t, raw)
	assert.Equal(t, model.ApplicationApproved, promoted.Status)
	require.NotNil(t, promoted.AllocatedBed)

	code, raw = s.call(http.MethodGet, "/api/windows/"+win.ID, "", "", nil)
	require.Equal(t, http.StatusOK, code)
	got := mustDecode[struct {
		Window model.ApplicationWindow `json:"window"`
	}](t, raw)
	assert.Equal(t, 2, got.Window.CurrentApplications)
	assert.Equal(t, 1, got.Window.WaitlistCount)

	code, raw = s.admin(http.MethodGet, "/api/admin/windows/"+win.ID+"/applications?status=approved", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, mustDecode[[]model.Application](t, raw), 2)

	assert.Equal(t, 1, events.count(lifecycle.EventRevoked))
	assert.Equal(t, 3, events.count(lifecycle.EventApproved))

	// Events reach the Prometheus registry as well.
	code, raw = s.call(http.MethodGet, "/metrics", "", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, strings.Contains(string(raw), `hostel_applications_events_total{event="revoked"}`))
}
