// Package lifecycle moves applications through their states and keeps the window counters
// and bed holdings consistent with every transition.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"hostel-allocation-backend/internal/allocation"
	"hostel-allocation-backend/internal/eligibility"
	"hostel-allocation-backend/internal/errs"
	"hostel-allocation-backend/internal/model"
	"hostel-allocation-backend/internal/window"
)

// Allocator places approved applicants. Both methods run inside the caller's transaction.
type Allocator interface {
	Approve(ctx context.Context, tx *gorm.DB, app *model.Application, w *model.ApplicationWindow, profile model.StudentProfile) (allocation.Outcome, error)
	Release(ctx context.Context, tx *gorm.DB, bedID int64) error
}

// ProfileSource supplies the student attributes eligibility is judged on.
type ProfileSource interface {
	Profile(ctx context.Context, studentID string) (*model.StudentProfile, error)
}

// Manager owns application state.
type Manager struct {
	db             *gorm.DB
	windows        *window.Registry
	allocator      Allocator
	profiles       ProfileSource
	notifier       Notifier
	log            logrus.FieldLogger
	earlyBirdBonus int
}

// Option configures a Manager.
type Option func(*Manager)

// WithNotifier sets where committed transitions are reported.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithEarlyBirdBonus sets the priority added to submissions made before a window's early-bird cut-off.
func WithEarlyBirdBonus(bonus int) Option {
	return func(m *Manager) { m.earlyBirdBonus = bonus }
}

// New creates a lifecycle manager.
func New(db *gorm.DB, windows *window.Registry, allocator Allocator, profiles ProfileSource, log logrus.FieldLogger, opts ...Option) *Manager {
	m := &Manager{
		db:        db,
		windows:   windows,
		allocator: allocator,
		profiles:  profiles,
		log:       log.WithField("component", "lifecycle"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Submission is a student's new application.
type Submission struct {
	Preferences model.Preferences `json:"preferences"`
	Documents   []string          `json:"documents"`
	Reason      string            `json:"reason"`
}

// Submit creates an application. It lands as pending while the window's quota has room and
// as waitlisted once only the waitlist does.
func (m *Manager) Submit(ctx context.Context, studentID, windowID string, sub Submission) (*model.Application, error) {
	if err := validPreferences(sub.Preferences); err != nil {
		return nil, err
	}
	docs, err := encodeDocuments(sub.Documents)
	if err != nil {
		return nil, err
	}
	profile, err := m.profiles.Profile(ctx, studentID)
	if err != nil {
		return nil, err
	}

	var (
		app model.Application
		w   *model.ApplicationWindow
	)
	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reg := m.windows.WithDB(tx)

		var err error
		if w, err = reg.GetForUpdate(ctx, windowID); err != nil {
			return err
		}
		now := reg.Now()
		if !window.AcceptingAt(w, now) {
			return fmt.Errorf("window %s (%s): %w", w.ID, w.Status, errs.ErrWindowClosed)
		}
		if err := m.checkEligibility(ctx, tx, *profile, w, sub.Preferences); err != nil {
			return err
		}
		if err := checkDuplicate(ctx, tx, windowID, studentID); err != nil {
			return err
		}

		status := model.ApplicationPending
		if err := reg.ClaimSlot(ctx, w.ID); err != nil {
			if !errors.Is(err, errs.ErrCapacityExhausted) {
				return err
			}
			if err := reg.ClaimWaitlistSlot(ctx, w.ID); err != nil {
				if errors.Is(err, errs.ErrWaitlistFull) {
					return fmt.Errorf("%w: %w", errs.ErrWaitlistFull, errs.ErrCapacityExhausted)
				}
				return err
			}
			status = model.ApplicationWaitlisted
		}

		prefs := sub.Preferences
		app = model.Application{
			ID:            uuid.NewString(),
			WindowID:      w.ID,
			StudentID:     studentID,
			HostelID:      prefs.HostelID,
			RoomID:        prefs.RoomID,
			BedID:         prefs.BedID,
			RoomType:      prefs.RoomType,
			Documents:     docs,
			Status:        status,
			PriorityScore: m.priority(w, now),
			Reason:        strings.TrimSpace(sub.Reason),
			SubmittedAt:   now,
		}
		if err := tx.Create(&app).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("window %s: %w", w.ID, errs.ErrDuplicateApplication)
			}
			return fmt.Errorf("failed to create application: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.log.WithFields(logrus.Fields{
		"application_id": app.ID,
		"window_id":      app.WindowID,
		"student_id":     studentID,
		"status":         app.Status,
	}).Info("application submitted")

	ev := EventSubmitted
	if app.Status == model.ApplicationWaitlisted {
		ev = EventWaitlisted
	}
	m.notify(eventFor(&app, w, ev))
	return &app, nil
}

func (m *Manager) priority(w *model.ApplicationWindow, now time.Time) int {
	if w.EarlyBirdEnd != nil && !now.After(*w.EarlyBirdEnd) {
		return m.earlyBirdBonus
	}
	return 0
}

// Withdraw cancels a pending or waitlisted application and frees the quota or waitlist
// slot it held. Withdrawing an already withdrawn application succeeds without doing anything.
func (m *Manager) Withdraw(ctx context.Context, applicationID, studentID string) (*model.Application, error) {
	var (
		app     *model.Application
		changed bool
	)
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if app, err = lockApplication(ctx, tx, applicationID); err != nil {
			return err
		}
		if app.StudentID != studentID {
			return fmt.Errorf("application %s: %w", applicationID, errs.ErrForbidden)
		}
		if app.Status == model.ApplicationWithdrawn {
			return nil
		}
		if !app.Status.CanTransitionTo(model.ApplicationWithdrawn) {
			return fmt.Errorf("withdraw application in status %s: %w", app.Status, errs.ErrInvalidState)
		}

		if app.AllocatedBed != nil {
			if err := m.allocator.Release(ctx, tx, *app.AllocatedBed); err != nil {
				return err
			}
			app.AllocatedBed = nil
		}
		reg := m.windows.WithDB(tx)
		release := reg.ReleaseSlot
		if app.Status == model.ApplicationWaitlisted {
			release = reg.ReleaseWaitlistSlot
		}
		if err := release(ctx, app.WindowID); err != nil {
			return err
		}

		now := m.windows.Now()
		app.Status = model.ApplicationWithdrawn
		app.ProcessedAt = &now
		if err := saveDecision(ctx, tx, app); err != nil {
			return err
		}
		if err := tx.WithContext(ctx).Delete(&model.Application{}, "id = ?", app.ID).Error; err != nil {
			return fmt.Errorf("failed to delete application %s: %w", app.ID, err)
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		m.log.WithFields(logrus.Fields{"application_id": app.ID, "student_id": studentID}).Info("application withdrawn")
		m.notify(eventFor(app, nil, EventWithdrawn))
	}
	return app, nil
}

// Changes is a partial edit of a pending application. Nil fields are left alone.
type Changes struct {
	Preferences *model.Preferences `json:"preferences"`
	Documents   *[]string          `json:"documents"`
	Reason      *string            `json:"reason"`
}

// Edit updates a pending application on behalf of its owner. New preferences are
// re-checked against the window's criteria.
func (m *Manager) Edit(ctx context.Context, applicationID, studentID string, ch Changes) (*model.Application, error) {
	fields := map[string]any{}
	if ch.Preferences != nil {
		if err := validPreferences(*ch.Preferences); err != nil {
			return nil, err
		}
		fields["hostel_id"] = ch.Preferences.HostelID
		fields["room_id"] = ch.Preferences.RoomID
		fields["bed_id"] = ch.Preferences.BedID
		fields["room_type"] = ch.Preferences.RoomType
	}
	if ch.Documents != nil {
		docs, err := encodeDocuments(*ch.Documents)
		if err != nil {
			return nil, err
		}
		fields["documents"] = docs
	}
	if ch.Reason != nil {
		fields["reason"] = strings.TrimSpace(*ch.Reason)
	}

	var app *model.Application
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if app, err = lockApplication(ctx, tx, applicationID); err != nil {
			return err
		}
		if app.StudentID != studentID {
			return fmt.Errorf("application %s: %w", applicationID, errs.ErrForbidden)
		}
		if app.Status != model.ApplicationPending {
			return fmt.Errorf("edit application in status %s: %w", app.Status, errs.ErrInvalidState)
		}
		if len(fields) == 0 {
			return nil
		}

		if ch.Preferences != nil {
			w, err := m.windows.WithDB(tx).Get(ctx, app.WindowID)
			if err != nil {
				return err
			}
			profile, err := m.profileIn(ctx, tx, studentID)
			if err != nil {
				return err
			}
			if err := m.checkEligibility(ctx, tx, *profile, w, *ch.Preferences); err != nil {
				return err
			}
		}

		if err := tx.Model(&model.Application{}).Where("id = ?", app.ID).Updates(fields).Error; err != nil {
			return fmt.Errorf("failed to update application %s: %w", app.ID, err)
		}
		app, err = lockApplication(ctx, tx, applicationID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

// Outcome is an administrator's verdict.
type Outcome string

const (
	OutcomeApprove Outcome = "approve"
	OutcomeReject  Outcome = "reject"
)

// Decision is the admin input to Decide.
type Decision struct {
	Outcome Outcome `json:"outcome" binding:"required,oneof=approve reject"`
	Notes   string  `json:"notes"`
}

// Decide approves or rejects a pending or waitlisted application.
//
// Approval hands the application to the allocator, which may leave it waitlisted when no
// bed is free. Rejection releases whatever bed and counter slot the application held.
func (m *Manager) Decide(ctx context.Context, applicationID, adminID string, d Decision) (*model.Application, error) {
	if d.Outcome != OutcomeApprove && d.Outcome != OutcomeReject {
		return nil, errs.Validation("unknown outcome %q", d.Outcome)
	}

	var (
		app    *model.Application
		w      *model.ApplicationWindow
		evType EventType
	)
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if app, err = lockApplication(ctx, tx, applicationID); err != nil {
			return err
		}
		if app.Status != model.ApplicationPending && app.Status != model.ApplicationWaitlisted {
			return fmt.Errorf("decide application in status %s: %w", app.Status, errs.ErrInvalidState)
		}
		if w, err = m.windows.WithDB(tx).GetForUpdate(ctx, app.WindowID); err != nil {
			return err
		}

		if d.Outcome == OutcomeReject {
			evType = EventRejected
			return m.reject(ctx, tx, app, adminID, d.Notes)
		}

		profile, err := m.profileIn(ctx, tx, app.StudentID)
		if err != nil {
			return err
		}
		prev := app.Status
		out, err := m.allocator.Approve(ctx, tx, app, w, *profile)
		if err != nil {
			return err
		}

		app.Status = out.Status
		if d.Notes != "" {
			app.AdminNotes = d.Notes
		}
		switch {
		case out.Status == model.ApplicationApproved:
			now := m.windows.Now()
			app.AllocatedBed = out.BedID
			app.ProcessedAt = &now
			app.ProcessedBy = &adminID
			evType = EventApproved
		case prev == model.ApplicationPending:
			evType = EventWaitlisted
		}
		return saveDecision(ctx, tx, app)
	})
	if err != nil {
		return nil, err
	}

	m.log.WithFields(logrus.Fields{
		"application_id": app.ID,
		"admin_id":       adminID,
		"outcome":        d.Outcome,
		"status":         app.Status,
	}).Info("application decided")
	if evType != "" {
		m.notify(eventFor(app, w, evType))
	}
	return app, nil
}

// Revoke rejects an approved application and returns its bed to the pool.
func (m *Manager) Revoke(ctx context.Context, applicationID, adminID, notes string) (*model.Application, error) {
	var (
		app *model.Application
		w   *model.ApplicationWindow
	)
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if app, err = lockApplication(ctx, tx, applicationID); err != nil {
			return err
		}
		if app.Status != model.ApplicationApproved {
			return fmt.Errorf("revoke application in status %s: %w", app.Status, errs.ErrInvalidState)
		}
		if w, err = m.windows.WithDB(tx).GetForUpdate(ctx, app.WindowID); err != nil {
			return err
		}
		return m.reject(ctx, tx, app, adminID, notes)
	})
	if err != nil {
		return nil, err
	}

	m.log.WithFields(logrus.Fields{"application_id": app.ID, "admin_id": adminID}).Info("approval revoked")
	m.notify(eventFor(app, w, EventRevoked))
	return app, nil
}

func (m *Manager) reject(ctx context.Context, tx *gorm.DB, app *model.Application, adminID, notes string) error {
	if !app.Status.CanTransitionTo(model.ApplicationRejected) {
		return fmt.Errorf("reject application in status %s: %w", app.Status, errs.ErrInvalidState)
	}

	if app.AllocatedBed != nil {
		if err := m.allocator.Release(ctx, tx, *app.AllocatedBed); err != nil {
			return err
		}
	}

	reg := m.windows.WithDB(tx)
	release := reg.ReleaseSlot
	if app.Status == model.ApplicationWaitlisted {
		release = reg.ReleaseWaitlistSlot
	}
	if err := release(ctx, app.WindowID); err != nil {
		return err
	}

	now := m.windows.Now()
	app.Status = model.ApplicationRejected
	app.AllocatedBed = nil
	app.ProcessedAt = &now
	app.ProcessedBy = &adminID
	if notes != "" {
		app.AdminNotes = notes
	}
	return saveDecision(ctx, tx, app)
}

func saveDecision(ctx context.Context, tx *gorm.DB, app *model.Application) error {
	err := tx.WithContext(ctx).Model(&model.Application{}).
		Where("id = ?", app.ID).
		Updates(map[string]any{
			"status":        app.Status,
			"allocated_bed": app.AllocatedBed,
			"processed_at":  app.ProcessedAt,
			"processed_by":  app.ProcessedBy,
			"admin_notes":   app.AdminNotes,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to save application %s: %w", app.ID, err)
	}
	return nil
}

// Get loads an application, including withdrawn ones.
func (m *Manager) Get(ctx context.Context, applicationID string) (*model.Application, error) {
	var app model.Application
	if err := m.db.WithContext(ctx).Unscoped().Where("id = ?", applicationID).First(&app).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("application %s: %w", applicationID, errs.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load application %s: %w", applicationID, err)
	}
	return &app, nil
}

// GetForStudent loads an application on behalf of its owner.
func (m *Manager) GetForStudent(ctx context.Context, applicationID, studentID string) (*model.Application, error) {
	app, err := m.Get(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if app.StudentID != studentID {
		return nil, fmt.Errorf("application %s: %w", applicationID, errs.ErrForbidden)
	}
	return app, nil
}

// ListByWindow returns a window's applications in submission order, optionally narrowed to one status.
func (m *Manager) ListByWindow(ctx context.Context, windowID string, status model.ApplicationStatus) ([]model.Application, error) {
	q := m.db.WithContext(ctx).Unscoped().Where("window_id = ?", windowID)
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var apps []model.Application
	if err := q.Order("submitted_at, id").Find(&apps).Error; err != nil {
		return nil, fmt.Errorf("failed to list applications for window %s: %w", windowID, err)
	}
	return apps, nil
}

// ListByStudent returns a student's applications, newest first.
func (m *Manager) ListByStudent(ctx context.Context, studentID string) ([]model.Application, error) {
	var apps []model.Application
	if err := m.db.WithContext(ctx).Unscoped().
		Where("student_id = ?", studentID).
		Order("submitted_at DESC").
		Find(&apps).Error; err != nil {
		return nil, fmt.Errorf("failed to list applications for student %s: %w", studentID, err)
	}
	return apps, nil
}

// Waitlist returns a window's waitlisted applications, highest priority first and
// earliest submission first within a priority.
func (m *Manager) Waitlist(ctx context.Context, windowID string) ([]model.Application, error) {
	var apps []model.Application
	if err := m.db.WithContext(ctx).
		Where("window_id = ? AND status = ?", windowID, model.ApplicationWaitlisted).
		Order("priority_score DESC, submitted_at ASC").
		Find(&apps).Error; err != nil {
		return nil, fmt.Errorf("failed to list waitlist for window %s: %w", windowID, err)
	}
	return apps, nil
}

func (m *Manager) notify(ev Event) {
	if m.notifier != nil {
		m.notifier.Notify(ev)
	}
}

// profileIn reads a profile through tx. Going through the profile source here would wait
// on a second connection while the transaction holds its own.
func (m *Manager) profileIn(ctx context.Context, tx *gorm.DB, studentID string) (*model.StudentProfile, error) {
	var profile model.StudentProfile
	err := tx.WithContext(ctx).Where("student_id = ?", studentID).First(&profile).Error
	if err == nil {
		return &profile, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("profile for student %s: %w", studentID, errs.ErrNotFound)
	}
	return nil, fmt.Errorf("failed to load profile for student %s: %w", studentID, err)
}

func (m *Manager) checkEligibility(ctx context.Context, tx *gorm.DB, profile model.StudentProfile, w *model.ApplicationWindow, prefs model.Preferences) error {
	target := eligibility.Target{RoomType: prefs.RoomType}
	if prefs.HostelID != nil || prefs.RoomID != nil || prefs.BedID != nil {
		policy, err := requestedPolicy(ctx, tx, prefs)
		if err != nil {
			return err
		}
		target.HostelGender = policy
	}

	var prior int64
	if err := tx.WithContext(ctx).Model(&model.Application{}).
		Where("student_id = ? AND window_id <> ? AND status = ?", profile.StudentID, w.ID, model.ApplicationApproved).
		Count(&prior).Error; err != nil {
		return fmt.Errorf("failed to count prior allocations: %w", err)
	}
	profile.PriorAllocations = int(prior)

	res := eligibility.Evaluate(profile, w.Criteria.Data(), target)
	if !res.Eligible {
		return errs.Ineligible(res.Reasons)
	}
	return nil
}

// requestedPolicy returns the gender policy of the hostel the most specific preference points into.
func requestedPolicy(ctx context.Context, tx *gorm.DB, prefs model.Preferences) (model.GenderPolicy, error) {
	q := tx.WithContext(ctx).Model(&model.Hostel{})
	switch {
	case prefs.BedID != nil:
		q = q.Joins("JOIN rooms ON rooms.hostel_id = hostels.id").
			Joins("JOIN beds ON beds.room_id = rooms.id").
			Where("beds.id = ?", *prefs.BedID)
	case prefs.RoomID != nil:
		q = q.Joins("JOIN rooms ON rooms.hostel_id = hostels.id").
			Where("rooms.id = ?", *prefs.RoomID)
	default:
		q = q.Where("hostels.id = ?", *prefs.HostelID)
	}

	var policies []model.GenderPolicy
	if err := q.Pluck("hostels.gender_policy", &policies).Error; err != nil {
		return "", fmt.Errorf("failed to resolve requested hostel: %w", err)
	}
	if len(policies) == 0 {
		return "", errs.Validation("requested hostel, room or bed does not exist")
	}
	return policies[0], nil
}

func checkDuplicate(ctx context.Context, tx *gorm.DB, windowID, studentID string) error {
	var live int64
	if err := tx.WithContext(ctx).Model(&model.Application{}).
		Where("window_id = ? AND student_id = ? AND status IN ?", windowID, studentID, model.LiveApplicationStatuses).
		Count(&live).Error; err != nil {
		return fmt.Errorf("failed to check for duplicate application: %w", err)
	}
	if live > 0 {
		return fmt.Errorf("window %s: %w", windowID, errs.ErrDuplicateApplication)
	}
	return nil
}

func lockApplication(ctx context.Context, tx *gorm.DB, id string) (*model.Application, error) {
	var app model.Application
	err := tx.WithContext(ctx).Unscoped().
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&app).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("application %s: %w", id, errs.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load application %s: %w", id, err)
	}
	return &app, nil
}

func validPreferences(p model.Preferences) error {
	if p.RoomType != "" && p.RoomType.Slots() == 0 {
		return errs.Validation("unknown room type %q", p.RoomType)
	}
	return nil
}

func encodeDocuments(docs []string) (datatypes.JSON, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(docs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode documents: %w", err)
	}
	return datatypes.JSON(raw), nil
}
