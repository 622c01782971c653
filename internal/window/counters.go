package window

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"hostel-allocation-backend/internal/errs"
	"hostel-allocation-backend/internal/model"
)

// The counter updates below are conditional so concurrent callers can never push a
// counter past its cap or below zero. They are meant to run inside the transaction
// that writes the application status they account for.

// ClaimSlot takes one place in the window's main quota.
func (r *Registry) ClaimSlot(ctx context.Context, id string) error {
	return r.bump(ctx, id, "current_applications", 1,
		"current_applications < max_applications", errs.ErrCapacityExhausted)
}

// ReleaseSlot gives one quota place back.
func (r *Registry) ReleaseSlot(ctx context.Context, id string) error {
	return r.bump(ctx, id, "current_applications", -1, "current_applications > 0", nil)
}

// ClaimWaitlistSlot takes one place on the window's waitlist.
func (r *Registry) ClaimWaitlistSlot(ctx context.Context, id string) error {
	return r.bump(ctx, id, "waitlist_count", 1,
		"allow_waitlist = ? AND waitlist_count < waitlist_capacity", errs.ErrWaitlistFull, true)
}

// ReleaseWaitlistSlot gives one waitlist place back.
func (r *Registry) ReleaseWaitlistSlot(ctx context.Context, id string) error {
	return r.bump(ctx, id, "waitlist_count", -1, "waitlist_count > 0", nil)
}

func (r *Registry) bump(ctx context.Context, id, column string, delta int, guard string, full error, args ...any) error {
	res := r.db.WithContext(ctx).Model(&model.ApplicationWindow{}).
		Where("id = ?", id).
		Where(guard, args...).
		Update(column, gorm.Expr(column+" + ?", delta))
	if res.Error != nil {
		return fmt.Errorf("failed to update %s on window %s: %w", column, id, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	if full != nil {
		return fmt.Errorf("window %s: %w", id, full)
	}
	// Decrementing an empty counter means the books were already out of balance.
	r.log.WithFields(logrus.Fields{"window_id": id, "counter": column}).Warn("counter already at zero")
	return nil
}
