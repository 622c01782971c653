package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"hostel-allocation-backend/internal/errs"
	"hostel-allocation-backend/internal/model"
	"hostel-allocation-backend/internal/parse"
)

// HostelSpec is the admin input for creating or updating a hostel.
type HostelSpec struct {
	Name         string               `json:"name" binding:"required"`
	GenderPolicy model.GenderPolicy   `json:"genderPolicy"`
	Status       model.FacilityStatus `json:"status"`
}

func (s *HostelSpec) normalize() error {
	s.Name = strings.TrimSpace(s.Name)
	if s.Name == "" {
		return errs.Validation("hostel name is required")
	}
	if s.GenderPolicy == "" {
		s.GenderPolicy = model.GenderMixed
	}
	switch s.GenderPolicy {
	case model.GenderMale, model.GenderFemale, model.GenderMixed:
	default:
		return errs.Validation("unknown gender policy %q", s.GenderPolicy)
	}
	if s.Status == "" {
		s.Status = model.FacilityActive
	}
	return validFacilityStatus(s.Status)
}

func validFacilityStatus(s model.FacilityStatus) error {
	switch s {
	case model.FacilityActive, model.FacilityInactive, model.FacilityMaintenance:
		return nil
	}
	return errs.Validation("unknown status %q", s)
}

// CreateHostel adds a hostel with no rooms.
func (l *Ledger) CreateHostel(ctx context.Context, spec HostelSpec) (*model.Hostel, error) {
	if err := spec.normalize(); err != nil {
		return nil, err
	}

	hostel := model.Hostel{Name: spec.Name, GenderPolicy: spec.GenderPolicy, Status: spec.Status}
	if err := l.db.WithContext(ctx).Create(&hostel).Error; err != nil {
		return nil, fmt.Errorf("failed to create hostel %q: %w", spec.Name, err)
	}

	l.log.WithFields(logrus.Fields{"hostel_id": hostel.ID, "name": hostel.Name}).Info("hostel created")
	return &hostel, nil
}

// UpdateHostel replaces a hostel's name, gender policy and status.
func (l *Ledger) UpdateHostel(ctx context.Context, hostelID int64, spec HostelSpec) (*model.Hostel, error) {
	if err := spec.normalize(); err != nil {
		return nil, err
	}

	hostel, err := l.GetHostel(ctx, hostelID)
	if err != nil {
		return nil, err
	}

	hostel.Name = spec.Name
	hostel.GenderPolicy = spec.GenderPolicy
	hostel.Status = spec.Status
	if err := l.db.WithContext(ctx).Save(hostel).Error; err != nil {
		return nil, fmt.Errorf("failed to update hostel %d: %w", hostelID, err)
	}
	return hostel, nil
}

// GetHostel loads a hostel without its rooms.
func (l *Ledger) GetHostel(ctx context.Context, hostelID int64) (*model.Hostel, error) {
	var hostel model.Hostel
	if err := l.db.WithContext(ctx).First(&hostel, hostelID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("hostel %d: %w", hostelID, errs.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load hostel %d: %w", hostelID, err)
	}
	return &hostel, nil
}

// ListHostels returns all hostels ordered by name.
func (l *Ledger) ListHostels(ctx context.Context) ([]model.Hostel, error) {
	var hostels []model.Hostel
	if err := l.db.WithContext(ctx).Order("name").Find(&hostels).Error; err != nil {
		return nil, fmt.Errorf("failed to list hostels: %w", err)
	}
	return hostels, nil
}

// RoomSpec is the admin input for adding a room. Floor is parsed from Code when omitted.
// Capacity defaults to the number of slots implied by Type and may not exceed it.
type RoomSpec struct {
	Code     string         `json:"code" binding:"required"`
	Type     model.RoomType `json:"type" binding:"required"`
	Floor    *int           `json:"floor"`
	Capacity int            `json:"capacity"`
}

// AddRoom creates a room and one available bed per capacity slot.
func (l *Ledger) AddRoom(ctx context.Context, hostelID int64, spec RoomSpec) (*model.Room, error) {
	slots := spec.Type.Slots()
	if slots == 0 {
		return nil, errs.Validation("unknown room type %q", spec.Type)
	}
	if spec.Capacity == 0 {
		spec.Capacity = slots
	}
	if spec.Capacity < 0 || spec.Capacity > slots {
		return nil, errs.Validation("capacity of a %s room must be between 1 and %d", spec.Type, slots)
	}

	code := strings.TrimSpace(spec.Code)
	floor := 0
	if spec.Floor != nil {
		floor = *spec.Floor
	} else {
		parsed, err := parse.ParseRoomCode(code)
		if err != nil {
			return nil, errs.Validation("%v; supply the floor explicitly", err)
		}
		floor = parsed.Floor
	}

	room := model.Room{
		HostelID: hostelID,
		Code:     code,
		Floor:    floor,
		Type:     spec.Type,
		Capacity: spec.Capacity,
		Status:   model.FacilityActive,
	}
	for i := 0; i < spec.Capacity; i++ {
		room.Beds = append(room.Beds, model.Bed{Label: bedLabel(i), Status: model.BedAvailable})
	}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := l.WithDB(tx).GetHostel(ctx, hostelID); err != nil {
			return err
		}
		return tx.Create(&room).Error
	})
	if err != nil {
		if errs.KindOf(err) != errs.KindInternal {
			return nil, err
		}
		return nil, fmt.Errorf("failed to add room %q to hostel %d: %w", code, hostelID, err)
	}

	l.log.WithFields(logrus.Fields{
		"hostel_id": hostelID,
		"room_id":   room.ID,
		"code":      room.Code,
		"beds":      len(room.Beds),
	}).Info("room added")
	return &room, nil
}

// bedLabel returns A, B, ... Z, AA, AB, ...
func bedLabel(i int) string {
	label := ""
	for i >= 0 {
		label = string(rune('A'+i%26)) + label
		i = i/26 - 1
	}
	return label
}

// ListRooms returns a hostel's rooms with their beds.
func (l *Ledger) ListRooms(ctx context.Context, hostelID int64) ([]model.Room, error) {
	if _, err := l.GetHostel(ctx, hostelID); err != nil {
		return nil, err
	}

	var rooms []model.Room
	err := l.db.WithContext(ctx).
		Preload("Beds", func(db *gorm.DB) *gorm.DB { return db.Order("beds.id") }).
		Where("hostel_id = ?", hostelID).
		Order("code").
		Find(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms for hostel %d: %w", hostelID, err)
	}
	return rooms, nil
}
