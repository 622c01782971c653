// Package ledger is the single writer of bed state and the one place occupancy is derived.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"hostel-allocation-backend/internal/errs"
	"hostel-allocation-backend/internal/model"
)

// candidatesPerTier bounds how many free beds a single reservation attempt considers at each preference tier.
const candidatesPerTier = 16

// Ledger tracks bed inventory and performs atomic reservations.
type Ledger struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

// New creates a ledger over db.
func New(db *gorm.DB, log logrus.FieldLogger) *Ledger {
	return &Ledger{db: db, log: log.WithField("component", "ledger")}
}

// WithDB returns a ledger bound to tx, so its operations join the caller's transaction.
func (l *Ledger) WithDB(tx *gorm.DB) *Ledger {
	return &Ledger{db: tx, log: l.log}
}

// Filters narrows an availability query.
type Filters struct {
	RoomType model.RoomType
	Floor    *int
}

// Availability is the occupancy picture of a hostel. Occupied includes reserved beds,
// so Occupied + Available == Capacity. Beds under maintenance are outside capacity.
type Availability struct {
	HostelID      int64   `json:"hostelId"`
	Capacity      int     `json:"capacity"`
	Occupied      int     `json:"occupied"`
	Reserved      int     `json:"reserved"`
	Available     int     `json:"available"`
	Maintenance   int     `json:"maintenance"`
	OccupancyRate float64 `json:"occupancyRate"`
}

type statusCount struct {
	HostelID int64
	Status   model.BedStatus
	N        int
}

func tally(hostelID int64, counts []statusCount) Availability {
	a := Availability{HostelID: hostelID}
	for _, c := range counts {
		switch c.Status {
		case model.BedAvailable:
			a.Available += c.N
		case model.BedReserved:
			a.Reserved += c.N
			a.Occupied += c.N
		case model.BedOccupied:
			a.Occupied += c.N
		case model.BedMaintenance:
			a.Maintenance += c.N
		}
	}
	a.Capacity = a.Occupied + a.Available
	if a.Capacity > 0 {
		a.OccupancyRate = float64(a.Occupied) / float64(a.Capacity) * 100
	}
	return a
}

func (l *Ledger) bedCounts(ctx context.Context, f Filters) *gorm.DB {
	q := l.db.WithContext(ctx).
		Table("beds").
		Select("rooms.hostel_id AS hostel_id, beds.status AS status, COUNT(*) AS n").
		Joins("JOIN rooms ON rooms.id = beds.room_id").
		Joins("JOIN hostels ON hostels.id = rooms.hostel_id").
		Where("rooms.status = ? AND hostels.status = ?", model.FacilityActive, model.FacilityActive)
	if f.RoomType != "" {
		q = q.Where("rooms.type = ?", f.RoomType)
	}
	if f.Floor != nil {
		q = q.Where("rooms.floor = ?", *f.Floor)
	}
	return q.Group("rooms.hostel_id, beds.status")
}

// Availability aggregates the beds of a hostel's active rooms.
func (l *Ledger) Availability(ctx context.Context, hostelID int64, f Filters) (Availability, error) {
	if _, err := l.GetHostel(ctx, hostelID); err != nil {
		return Availability{}, err
	}

	var counts []statusCount
	if err := l.bedCounts(ctx, f).Where("rooms.hostel_id = ?", hostelID).Scan(&counts).Error; err != nil {
		return Availability{}, fmt.Errorf("failed to count beds for hostel %d: %w", hostelID, err)
	}
	return tally(hostelID, counts), nil
}

// HostelSummary pairs a hostel with its availability.
type HostelSummary struct {
	Hostel       model.Hostel `json:"hostel"`
	Availability Availability `json:"availability"`
}

// HostelSummaries returns every hostel with its availability, computed in one grouped query.
func (l *Ledger) HostelSummaries(ctx context.Context) ([]HostelSummary, error) {
	hostels, err := l.ListHostels(ctx)
	if err != nil {
		return nil, err
	}

	var counts []statusCount
	if err := l.bedCounts(ctx, Filters{}).Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("failed to aggregate beds: %w", err)
	}
	byHostel := make(map[int64][]statusCount, len(hostels))
	for _, c := range counts {
		byHostel[c.HostelID] = append(byHostel[c.HostelID], c)
	}

	summaries := make([]HostelSummary, 0, len(hostels))
	for _, h := range hostels {
		summaries = append(summaries, HostelSummary{Hostel: h, Availability: tally(h.ID, byHostel[h.ID])})
	}
	return summaries, nil
}

// ReserveRequest describes the bed an application would like. Every field is optional.
type ReserveRequest struct {
	HostelID      *int64
	RoomID        *int64
	BedID         *int64
	RoomType      model.RoomType
	Gender        string
	ApplicationID string
}

// ReserveBed marks one matching available bed as reserved and returns its id.
// Candidates are tried in preference order: the requested bed, its room (or the requested room),
// then the hostel filtered by room type, or every admitting hostel when nothing pins one.
func (l *Ledger) ReserveBed(ctx context.Context, req ReserveRequest) (int64, error) {
	var bedID int64
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		roomID, hostelID, err := resolveScope(tx, req)
		if err != nil {
			return err
		}

		var tiers []func(*gorm.DB) *gorm.DB
		if req.BedID != nil {
			tiers = append(tiers, func(q *gorm.DB) *gorm.DB { return q.Where("beds.id = ?", *req.BedID) })
		}
		if roomID != nil {
			tiers = append(tiers, func(q *gorm.DB) *gorm.DB { return q.Where("beds.room_id = ?", *roomID) })
		}
		tiers = append(tiers, func(q *gorm.DB) *gorm.DB {
			if hostelID != nil {
				q = q.Where("rooms.hostel_id = ?", *hostelID)
			}
			if req.RoomType != "" {
				q = q.Where("rooms.type = ?", req.RoomType)
			}
			return q
		})

		tried := make(map[int64]bool)
		for _, tier := range tiers {
			var ids []int64
			if err := tier(availableBeds(tx, req.Gender)).
				Order("rooms.id, beds.id").
				Limit(candidatesPerTier).
				Pluck("beds.id", &ids).Error; err != nil {
				return fmt.Errorf("failed to select candidate beds: %w", err)
			}

			for _, id := range ids {
				if tried[id] {
					continue
				}
				tried[id] = true

				res := tx.Model(&model.Bed{}).
					Where("id = ? AND status = ?", id, model.BedAvailable).
					Updates(map[string]any{"status": model.BedReserved, "application_id": nullable(req.ApplicationID)})
				if res.Error != nil {
					return fmt.Errorf("failed to reserve bed %d: %w", id, res.Error)
				}
				if res.RowsAffected == 1 {
					bedID = id
					return nil
				}
				// Lost the race for this bed; try the next one.
			}
		}
		return errs.ErrCapacityExhausted
	})
	if err != nil {
		return 0, err
	}

	l.log.WithFields(logrus.Fields{"bed_id": bedID, "application_id": req.ApplicationID}).Debug("bed reserved")
	return bedID, nil
}

func availableBeds(tx *gorm.DB, gender string) *gorm.DB {
	q := tx.Model(&model.Bed{}).
		Joins("JOIN rooms ON rooms.id = beds.room_id").
		Joins("JOIN hostels ON hostels.id = rooms.hostel_id").
		Where("beds.status = ? AND rooms.status = ? AND hostels.status = ?",
			model.BedAvailable, model.FacilityActive, model.FacilityActive).
		Clauses(clause.Locking{Strength: "UPDATE", Table: clause.Table{Name: "beds"}, Options: "SKIP LOCKED"})
	if gender != "" {
		q = q.Where("hostels.gender_policy IN ?", []string{string(model.GenderMixed), gender})
	}
	return q
}

// resolveScope widens the most specific preference into the room and hostel that confine the fallback tiers.
func resolveScope(tx *gorm.DB, req ReserveRequest) (roomID, hostelID *int64, err error) {
	roomID, hostelID = req.RoomID, req.HostelID

	if roomID == nil && req.BedID != nil {
		var id int64
		if err := tx.Model(&model.Bed{}).Where("id = ?", *req.BedID).Pluck("room_id", &id).Error; err != nil {
			return nil, nil, fmt.Errorf("failed to resolve room of bed %d: %w", *req.BedID, err)
		}
		if id != 0 {
			roomID = &id
		}
	}
	if hostelID == nil && roomID != nil {
		var id int64
		if err := tx.Model(&model.Room{}).Where("id = ?", *roomID).Pluck("hostel_id", &id).Error; err != nil {
			return nil, nil, fmt.Errorf("failed to resolve hostel of room %d: %w", *roomID, err)
		}
		if id != 0 {
			hostelID = &id
		}
	}
	// An unknown room or bed leaves the request unconfined.
	return roomID, hostelID, nil
}

// ConfirmOccupancy moves a reserved bed to occupied and binds the student.
func (l *Ledger) ConfirmOccupancy(ctx context.Context, bedID int64, studentID string) error {
	res := l.db.WithContext(ctx).Model(&model.Bed{}).
		Where("id = ? AND status = ?", bedID, model.BedReserved).
		Updates(map[string]any{"status": model.BedOccupied, "student_id": studentID})
	if res.Error != nil {
		return fmt.Errorf("failed to confirm bed %d: %w", bedID, res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := l.getBed(ctx, bedID); err != nil {
			return err
		}
		return fmt.Errorf("confirm bed %d: %w", bedID, errs.ErrInvalidBedState)
	}

	l.log.WithFields(logrus.Fields{"bed_id": bedID, "student_id": studentID}).Debug("bed occupied")
	return nil
}

// Release returns an occupied or reserved bed to the pool. Releasing an available bed is a no-op.
func (l *Ledger) Release(ctx context.Context, bedID int64) error {
	res := l.db.WithContext(ctx).Model(&model.Bed{}).
		Where("id = ? AND status IN ?", bedID, []model.BedStatus{model.BedOccupied, model.BedReserved}).
		Updates(map[string]any{"status": model.BedAvailable, "student_id": nil, "application_id": nil})
	if res.Error != nil {
		return fmt.Errorf("failed to release bed %d: %w", bedID, res.Error)
	}
	if res.RowsAffected == 1 {
		l.log.WithField("bed_id", bedID).Debug("bed released")
		return nil
	}

	bed, err := l.getBed(ctx, bedID)
	if err != nil {
		return err
	}
	if bed.Status == model.BedAvailable {
		return nil
	}
	return fmt.Errorf("release bed %d in status %s: %w", bedID, bed.Status, errs.ErrInvalidBedState)
}

// SetBedMaintenance takes an available bed out of service, or returns a bed under maintenance to service.
func (l *Ledger) SetBedMaintenance(ctx context.Context, bedID int64, on bool) (*model.Bed, error) {
	target := model.BedAvailable
	if on {
		target = model.BedMaintenance
	}

	bed, err := l.getBed(ctx, bedID)
	if err != nil {
		return nil, err
	}
	if bed.Status == target {
		return bed, nil
	}
	// Occupied and reserved beds leave service only through Release.
	if !bed.Status.CanTransitionTo(target) || (!on && bed.Status != model.BedMaintenance) {
		return nil, fmt.Errorf("bed %d is %s: %w", bedID, bed.Status, errs.ErrInvalidBedState)
	}

	res := l.db.WithContext(ctx).Model(&model.Bed{}).
		Where("id = ? AND status = ?", bedID, bed.Status).
		Update("status", target)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update bed %d: %w", bedID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("bed %d changed concurrently: %w", bedID, errs.ErrInvalidBedState)
	}
	bed.Status = target
	return bed, nil
}

func (l *Ledger) getBed(ctx context.Context, bedID int64) (*model.Bed, error) {
	var bed model.Bed
	if err := l.db.WithContext(ctx).First(&bed, bedID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("bed %d: %w", bedID, errs.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load bed %d: %w", bedID, err)
	}
	return &bed, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
