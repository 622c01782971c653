// Package allocation turns an approval decision into a bed, or into a place on the waitlist.
package allocation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"hostel-allocation-backend/internal/errs"
	"hostel-allocation-backend/internal/ledger"
	"hostel-allocation-backend/internal/model"
	"hostel-allocation-backend/internal/window"
)

// Engine allocates beds through the ledger and keeps the window counters in step.
type Engine struct {
	ledger  *ledger.Ledger
	windows *window.Registry
	log     logrus.FieldLogger
}

// New creates an allocation engine.
func New(l *ledger.Ledger, windows *window.Registry, log logrus.FieldLogger) *Engine {
	return &Engine{ledger: l, windows: windows, log: log.WithField("component", "allocation")}
}

// Outcome is the status an approval resolved to. BedID is set only when approved.
type Outcome struct {
	Status model.ApplicationStatus
	BedID  *int64
}

// Approve tries to place the applicant in a bed inside tx.
//
// A pending application that finds no bed is moved to the waitlist, trading its quota
// slot for a waitlist slot; with no waitlist room the approval fails with ErrWaitlistFull
// (which also matches ErrCapacityExhausted). A waitlisted application that finds no bed,
// or no free quota slot, simply stays waitlisted.
func (e *Engine) Approve(ctx context.Context, tx *gorm.DB, app *model.Application, w *model.ApplicationWindow, profile model.StudentProfile) (Outcome, error) {
	req := ledger.ReserveRequest{
		HostelID:      app.HostelID,
		RoomID:        app.RoomID,
		BedID:         app.BedID,
		RoomType:      app.RoomType,
		Gender:        strings.ToLower(profile.Gender),
		ApplicationID: app.ID,
	}
	log := e.log.WithFields(logrus.Fields{"application_id": app.ID, "window_id": w.ID})

	switch app.Status {
	case model.ApplicationPending:
		return e.approvePending(ctx, tx, req, app, w, log)
	case model.ApplicationWaitlisted:
		return e.promote(ctx, tx, req, app, w, log)
	default:
		return Outcome{}, fmt.Errorf("approve application %s in status %s: %w", app.ID, app.Status, errs.ErrInvalidState)
	}
}

func (e *Engine) approvePending(ctx context.Context, tx *gorm.DB, req ledger.ReserveRequest, app *model.Application, w *model.ApplicationWindow, log logrus.FieldLogger) (Outcome, error) {
	led := e.ledger.WithDB(tx)

	bedID, err := led.ReserveBed(ctx, req)
	if err == nil {
		if err := led.ConfirmOccupancy(ctx, bedID, app.StudentID); err != nil {
			return Outcome{}, err
		}
		log.WithField("bed_id", bedID).Info("application approved")
		return Outcome{Status: model.ApplicationApproved, BedID: &bedID}, nil
	}
	if !errors.Is(err, errs.ErrCapacityExhausted) {
		return Outcome{}, err
	}

	err = tx.Transaction(func(sp *gorm.DB) error {
		reg := e.windows.WithDB(sp)
		if err := reg.ClaimWaitlistSlot(ctx, w.ID); err != nil {
			return err
		}
		return reg.ReleaseSlot(ctx, w.ID)
	})
	if errors.Is(err, errs.ErrWaitlistFull) {
		log.Info("no bed and no waitlist room")
		return Outcome{}, fmt.Errorf("%w: %w", errs.ErrWaitlistFull, errs.ErrCapacityExhausted)
	}
	if err != nil {
		return Outcome{}, err
	}

	log.Info("no bed available, application waitlisted")
	return Outcome{Status: model.ApplicationWaitlisted}, nil
}

func (e *Engine) promote(ctx context.Context, tx *gorm.DB, req ledger.ReserveRequest, app *model.Application, w *model.ApplicationWindow, log logrus.FieldLogger) (Outcome, error) {
	var bedID int64
	err := tx.Transaction(func(sp *gorm.DB) error {
		led, reg := e.ledger.WithDB(sp), e.windows.WithDB(sp)

		id, err := led.ReserveBed(ctx, req)
		if err != nil {
			return err
		}
		if err := reg.ClaimSlot(ctx, w.ID); err != nil {
			return err
		}
		if err := reg.ReleaseWaitlistSlot(ctx, w.ID); err != nil {
			return err
		}
		if err := led.ConfirmOccupancy(ctx, id, app.StudentID); err != nil {
			return err
		}
		bedID = id
		return nil
	})
	if errors.Is(err, errs.ErrCapacityExhausted) {
		log.Info("waitlisted application not promoted")
		return Outcome{Status: model.ApplicationWaitlisted}, nil
	}
	if err != nil {
		return Outcome{}, err
	}

	log.WithField("bed_id", bedID).Info("waitlisted application promoted")
	return Outcome{Status: model.ApplicationApproved, BedID: &bedID}, nil
}

// Release returns a bed to the pool inside tx.
func (e *Engine) Release(ctx context.Context, tx *gorm.DB, bedID int64) error {
	return e.ledger.WithDB(tx).Release(ctx, bedID)
}
