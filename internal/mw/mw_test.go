package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func serve(r *gin.Engine, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireStudent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", RequireStudent(), func(c *gin.Context) {
		c.String(http.StatusOK, StudentID(c))
	})

	w := serve(r, http.MethodGet, "/me", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(r, http.MethodGet, "/me", map[string]string{StudentIDHeader: "   "})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(r, http.MethodGet, "/me", map[string]string{StudentIDHeader: " STU-1 "})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "STU-1", w.Body.String())
}

func TestRateLimiter_PerClient(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimiter(rate.Every(time.Hour), 1))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	stu1 := map[string]string{StudentIDHeader: "STU-1"}
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/", stu1).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(r, http.MethodGet, "/", stu1).Code)

	// Another student has a bucket of their own.
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/", map[string]string{StudentIDHeader: "STU-2"}).Code)
}

func TestCache(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := cache.New(time.Minute, time.Minute)
	hits := 0

	r := gin.New()
	r.Use(Invalidate(store))
	r.GET("/hostels", Cache(store, time.Minute), func(c *gin.Context) {
		hits++
		c.JSON(http.StatusOK, gin.H{"hits": hits})
	})
	r.GET("/broken", Cache(store, time.Minute), func(c *gin.Context) {
		hits++
		c.Status(http.StatusInternalServerError)
	})
	r.POST("/hostels", func(c *gin.Context) { c.Status(http.StatusCreated) })
	r.POST("/fails", func(c *gin.Context) { c.Status(http.StatusBadRequest) })

	first := serve(r, http.MethodGet, "/hostels", nil)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	second := serve(r, http.MethodGet, "/hostels", nil)
	assert.JSONEq(t, `{"hits":1}`, second.Body.String())
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, first.Header().Get("Content-Type"), second.Header().Get("Content-Type"))

	// A failed write leaves the cache alone.
	serve(r, http.MethodPost, "/fails", nil)
	assert.JSONEq(t, `{"hits":1}`, serve(r, http.MethodGet, "/hostels", nil).Body.String())

	serve(r, http.MethodPost, "/hostels", nil)
	assert.JSONEq(t, `{"hits":2}`, serve(r, http.MethodGet, "/hostels", nil).Body.String())

	// Errors are never cached.
	serve(r, http.MethodGet, "/broken", nil)
	serve(r, http.MethodGet, "/broken", nil)
	assert.Equal(t, 4, hits)
}
