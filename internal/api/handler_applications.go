package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"hostel-allocation-backend/internal/lifecycle"
	"hostel-allocation-backend/internal/model"
	"hostel-allocation-backend/internal/mw"
)

// SubmitApplication handles POST /api/windows/{window_id}/applications.
func (h *Handler) SubmitApplication(c *gin.Context) {
	var sub lifecycle.Submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		badRequest(c, err)
		return
	}

	app, err := h.apps.Submit(c.Request.Context(), mw.StudentID(c), c.Param("window_id"), sub)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, app)
}

// MyApplications handles GET /api/me/applications.
func (h *Handler) MyApplications(c *gin.Context) {
	apps, err := h.apps.ListByStudent(c.Request.Context(), mw.StudentID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, apps)
}

// GetApplication handles GET /api/applications/{application_id}.
func (h *Handler) GetApplication(c *gin.Context) {
	app, err := h.apps.GetForStudent(c.Request.Context(), c.Param("application_id"), mw.StudentID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, app)
}

// EditApplication handles PATCH /api/applications/{application_id}.
func (h *Handler) EditApplication(c *gin.Context) {
	var ch lifecycle.Changes
	if err := c.ShouldBindJSON(&ch); err != nil {
		badRequest(c, err)
		return
	}

	app, err := h.apps.Edit(c.Request.Context(), c.Param("application_id"), mw.StudentID(c), ch)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, app)
}

// WithdrawApplication handles DELETE /api/applications/{application_id}.
func (h *Handler) WithdrawApplication(c *gin.Context) {
	app, err := h.apps.Withdraw(c.Request.Context(), c.Param("application_id"), mw.StudentID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, app)
}

// DecideApplication handles POST /api/admin/applications/{application_id}/decision.
func (h *Handler) DecideApplication(c *gin.Context) {
	var d lifecycle.Decision
	if err := c.ShouldBindJSON(&d); err != nil {
		badRequest(c, err)
		return
	}

	app, err := h.apps.Decide(c.Request.Context(), c.Param("application_id"), mw.AdminID(c), d)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, app)
}

type revokeRequest struct {
	Notes string `json:"notes"`
}

// RevokeApplication handles POST /api/admin/applications/{application_id}/revoke.
func (h *Handler) RevokeApplication(c *gin.Context) {
	var req revokeRequest
	// The body is optional.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	app, err := h.apps.Revoke(c.Request.Context(), c.Param("application_id"), mw.AdminID(c), req.Notes)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, app)
}

type profileRequest struct {
	Gender        string `json:"gender" binding:"required,oneof=male female"`
	Level         int    `json:"level" binding:"gte=0"`
	Nationality   string `json:"nationality"`
	International bool   `json:"international"`
}

// PutStudentProfile handles PUT /api/admin/students/{student_id}.
func (h *Handler) PutStudentProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	profile := model.StudentProfile{
		StudentID:     c.Param("student_id"),
		Gender:        strings.ToLower(req.Gender),
		Level:         req.Level,
		Nationality:   req.Nationality,
		International: req.International,
	}
	if err := h.store.UpsertProfile(c.Request.Context(), &profile); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}
