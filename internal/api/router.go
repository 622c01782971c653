package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"hostel-allocation-backend/config"
	"hostel-allocation-backend/internal/metrics"
	"hostel-allocation-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, cfg config.ServerConfig) *gin.Engine {
	r := gin.Default()

	corsConfig := cors.DefaultConfig()
	if len(cfg.CORSOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.CORSOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowHeaders(mw.StudentIDHeader, mw.AdminIDHeader)
	r.Use(cors.New(corsConfig), metrics.Middleware())

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	// Public reads are cached briefly; any successful write flushes the cache.
	cacheStore := cache.New(cfg.CacheTTL, 2*cfg.CacheTTL+time.Minute)
	caching := mw.Cache(cacheStore, cfg.CacheTTL)

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	api.Use(rateLimiter, mw.Invalidate(cacheStore))
	{
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)

		api.GET("/hostels", caching, h.ListHostels)
		api.GET("/hostels/:hostel_id", h.GetHostel)
		api.GET("/hostels/:hostel_id/availability", caching, h.GetAvailability)

		api.GET("/windows", caching, h.ListWindows)
		api.GET("/windows/:window_id", h.GetWindow)
	}

	student := api.Group("", mw.RequireStudent())
	{
		student.POST("/windows/:window_id/applications", h.SubmitApplication)
		student.GET("/me/applications", h.MyApplications)
		student.GET("/applications/:application_id", h.GetApplication)
		student.PATCH("/applications/:application_id", h.EditApplication)
		student.DELETE("/applications/:application_id", h.WithdrawApplication)

		student.GET("/subscriptions", h.GetSubscription)
		student.PUT("/subscriptions", h.PutSubscription)
		student.DELETE("/subscriptions", h.DeleteSubscription)
	}

	admin := api.Group("/admin", mw.RequireAdmin())
	{
		admin.POST("/hostels", h.CreateHostel)
		admin.GET("/hostels/summary", h.ListHostels)
		admin.PUT("/hostels/:hostel_id", h.UpdateHostel)
		admin.POST("/hostels/:hostel_id/rooms", h.AddRoom)
		admin.GET("/hostels/:hostel_id/rooms", h.ListRooms)
		admin.PUT("/beds/:bed_id/maintenance", h.SetBedMaintenance)

		admin.POST("/windows", h.CreateWindow)
		admin.POST("/windows/:window_id/publish", h.changeWindow(h.windows.Publish))
		admin.POST("/windows/:window_id/unpublish", h.changeWindow(h.windows.Unpublish))
		admin.POST("/windows/:window_id/suspend", h.changeWindow(h.windows.Suspend))
		admin.POST("/windows/:window_id/resume", h.changeWindow(h.windows.Resume))
		admin.GET("/windows/:window_id/applications", h.ListWindowApplications)
		admin.GET("/windows/:window_id/waitlist", h.GetWaitlist)

		admin.POST("/applications/:application_id/decision", h.DecideApplication)
		admin.POST("/applications/:application_id/revoke", h.RevokeApplication)

		admin.PUT("/students/:student_id", h.PutStudentProfile)
	}

	return r
}
