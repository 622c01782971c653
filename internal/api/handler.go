package api

import (
	"net/http"
	"strconv"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"hostel-allocation-backend/internal/errs"
	"hostel-allocation-backend/internal/ledger"
	"hostel-allocation-backend/internal/lifecycle"
	"hostel-allocation-backend/internal/store"
	"hostel-allocation-backend/internal/window"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	ledger  *ledger.Ledger
	windows *window.Registry
	apps    *lifecycle.Manager
	store   store.Store
	webpush *webpush.Options
	log     logrus.FieldLogger
}

// NewHandler creates a new API handler.
func NewHandler(l *ledger.Ledger, windows *window.Registry, apps *lifecycle.Manager, s store.Store, webpushOptions *webpush.Options, log logrus.FieldLogger) *Handler {
	return &Handler{
		ledger:  l,
		windows: windows,
		apps:    apps,
		store:   s,
		webpush: webpushOptions,
		log:     log.WithField("component", "api"),
	}
}

var statusByKind = map[errs.Kind]int{
	errs.KindNotFound:             http.StatusNotFound,
	errs.KindForbidden:            http.StatusForbidden,
	errs.KindValidation:           http.StatusBadRequest,
	errs.KindIneligible:           http.StatusUnprocessableEntity,
	errs.KindWindowClosed:         http.StatusConflict,
	errs.KindDuplicateApplication: http.StatusConflict,
	errs.KindInvalidState:         http.StatusConflict,
	errs.KindCapacityExhausted:    http.StatusConflict,
	errs.KindWaitlistFull:         http.StatusConflict,
	errs.KindInvalidBedState:      http.StatusConflict,
	errs.KindAlreadyExpired:       http.StatusConflict,
}

// fail writes err as a JSON error body with the status its kind maps to.
func (h *Handler) fail(c *gin.Context, err error) {
	kind := errs.KindOf(err)
	status, ok := statusByKind[kind]
	if !ok {
		h.log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": errs.KindInternal})
		return
	}

	body := gin.H{"error": err.Error(), "code": kind}
	if reasons := errs.Reasons(err); len(reasons) > 0 {
		body["reasons"] = reasons
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": errs.KindValidation})
}

// int64Param parses a numeric path parameter, answering 400 when it is malformed.
func int64Param(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid " + name, "code": errs.KindValidation})
		return 0, false
	}
	return id, true
}

// Health reports that the process is serving and the database answers.
func (h *Handler) Health(c *gin.Context) {
	sqlDB, err := h.store.DB().DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		h.log.WithError(err).Warn("health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
