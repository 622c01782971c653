package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"hostel-allocation-backend/internal/model"
	"hostel-allocation-backend/internal/window"
)

// ListWindows handles GET /api/windows?type=&status=.
func (h *Handler) ListWindows(c *gin.Context) {
	f := window.Filter{
		Type:   model.WindowType(c.Query("type")),
		Status: model.WindowStatus(c.Query("status")),
	}
	windows, err := h.windows.List(c.Request.Context(), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, windows)
}

// GetWindow handles GET /api/windows/{window_id}.
func (h *Handler) GetWindow(c *gin.Context) {
	w, err := h.windows.Get(c.Request.Context(), c.Param("window_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"window":    w,
		"accepting": window.AcceptingAt(w, h.windows.Now()),
	})
}

// CreateWindow handles POST /api/admin/windows.
func (h *Handler) CreateWindow(c *gin.Context) {
	var spec window.Spec
	if err := c.ShouldBindJSON(&spec); err != nil {
		badRequest(c, err)
		return
	}

	w, err := h.windows.Create(c.Request.Context(), spec)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

type windowAction func(ctx context.Context, id string) (*model.ApplicationWindow, error)

// changeWindow adapts one of the registry's publish-state operations to a handler.
func (h *Handler) changeWindow(action windowAction) gin.HandlerFunc {
	return func(c *gin.Context) {
		w, err := action(c.Request.Context(), c.Param("window_id"))
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, w)
	}
}

// ListWindowApplications handles GET /api/admin/windows/{window_id}/applications?status=.
func (h *Handler) ListWindowApplications(c *gin.Context) {
	ctx := c.Request.Context()
	windowID := c.Param("window_id")
	if _, err := h.windows.Get(ctx, windowID); err != nil {
		h.fail(c, err)
		return
	}

	apps, err := h.apps.ListByWindow(ctx, windowID, model.ApplicationStatus(c.Query("status")))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, apps)
}

// GetWaitlist handles GET /api/admin/windows/{window_id}/waitlist.
func (h *Handler) GetWaitlist(c *gin.Context) {
	ctx := c.Request.Context()
	windowID := c.Param("window_id")
	if _, err := h.windows.Get(ctx, windowID); err != nil {
		h.fail(c, err)
		return
	}

	apps, err := h.apps.Waitlist(ctx, windowID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, apps)
}
