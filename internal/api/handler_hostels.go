package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"hostel-allocation-backend/internal/errs"
	"hostel-allocation-backend/internal/ledger"
	"hostel-allocation-backend/internal/model"
)

// ListHostels handles GET /api/hostels: every hostel with its current availability.
func (h *Handler) ListHostels(c *gin.Context) {
	summaries, err := h.ledger.HostelSummaries(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summaries)
}

// GetHostel handles GET /api/hostels/{hostel_id}.
func (h *Handler) GetHostel(c *gin.Context) {
	hostelID, ok := int64Param(c, "hostel_id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	hostel, err := h.ledger.GetHostel(ctx, hostelID)
	if err != nil {
		h.fail(c, err)
		return
	}
	availability, err := h.ledger.Availability(ctx, hostelID, ledger.Filters{})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ledger.HostelSummary{Hostel: *hostel, Availability: availability})
}

// GetAvailability handles GET /api/hostels/{hostel_id}/availability?room_type=&floor=.
func (h *Handler) GetAvailability(c *gin.Context) {
	hostelID, ok := int64Param(c, "hostel_id")
	if !ok {
		return
	}

	var f ledger.Filters
	if rt := c.Query("room_type"); rt != "" {
		f.RoomType = model.RoomType(rt)
		if f.RoomType.Slots() == 0 {
			h.fail(c, errs.Validation("unknown room type %q", rt))
			return
		}
	}
	if fl := c.Query("floor"); fl != "" {
		floor, err := strconv.Atoi(fl)
		if err != nil {
			h.fail(c, errs.Validation("invalid floor %q", fl))
			return
		}
		f.Floor = &floor
	}

	availability, err := h.ledger.Availability(c.Request.Context(), hostelID, f)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, availability)
}

// CreateHostel handles POST /api/admin/hostels.
func (h *Handler) CreateHostel(c *gin.Context) {
	var spec ledger.HostelSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		badRequest(c, err)
		return
	}

	hostel, err := h.ledger.CreateHostel(c.Request.Context(), spec)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, hostel)
}

// UpdateHostel handles PUT /api/admin/hostels/{hostel_id}.
func (h *Handler) UpdateHostel(c *gin.Context) {
	hostelID, ok := int64Param(c, "hostel_id")
	if !ok {
		return
	}
	var spec ledger.HostelSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		badRequest(c, err)
		return
	}

	hostel, err := h.ledger.UpdateHostel(c.Request.Context(), hostelID, spec)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, hostel)
}

// AddRoom handles POST /api/admin/hostels/{hostel_id}/rooms.
func (h *Handler) AddRoom(c *gin.Context) {
	hostelID, ok := int64Param(c, "hostel_id")
	if !ok {
		return
	}
	var spec ledger.RoomSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		badRequest(c, err)
		return
	}

	room, err := h.ledger.AddRoom(c.Request.Context(), hostelID, spec)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

// ListRooms handles GET /api/admin/hostels/{hostel_id}/rooms.
func (h *Handler) ListRooms(c *gin.Context) {
	hostelID, ok := int64Param(c, "hostel_id")
	if !ok {
		return
	}

	rooms, err := h.ledger.ListRooms(c.Request.Context(), hostelID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rooms)
}

type maintenanceRequest struct {
	Maintenance *bool `json:"maintenance" binding:"required"`
}

// SetBedMaintenance handles PUT /api/admin/beds/{bed_id}/maintenance.
func (h *Handler) SetBedMaintenance(c *gin.Context) {
	bedID, ok := int64Param(c, "bed_id")
	if !ok {
		return
	}
	var req maintenanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	bed, err := h.ledger.SetBedMaintenance(c.Request.Context(), bedID, *req.Maintenance)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, bed)
}
