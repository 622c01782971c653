// Package window owns application windows: their lifecycle, their derived status and their counters.
package window

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"hostel-allocation-backend/internal/errs"
	"hostel-allocation-backend/internal/model"
)

// Registry manages application windows.
type Registry struct {
	db       *gorm.DB
	log      logrus.FieldLogger
	validate *validator.Validate
	now      func() time.Time
	loc      *time.Location
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLocation sets the zone window dates are reported in.
func WithLocation(loc *time.Location) Option {
	return func(r *Registry) { r.loc = loc }
}

// New creates a registry.
func New(db *gorm.DB, log logrus.FieldLogger, opts ...Option) *Registry {
	r := &Registry{
		db:       db,
		log:      log.WithField("component", "window"),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
		loc:      time.UTC,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithDB returns a registry bound to tx.
func (r *Registry) WithDB(tx *gorm.DB) *Registry {
	clone := *r
	clone.db = tx
	return &clone
}

// Now is the registry's clock.
func (r *Registry) Now() time.Time { return r.now() }

// Spec is the admin input for a new window.
type Spec struct {
	Name             string           `json:"name" validate:"required,max=128"`
	Type             model.WindowType `json:"type" validate:"required,oneof=freshman returning transfer international graduate staff"`
	StartDate        time.Time        `json:"startDate" validate:"required"`
	EndDate          time.Time        `json:"endDate" validate:"required,gtfield=StartDate"`
	EarlyBirdEnd     *time.Time       `json:"earlyBirdEnd"`
	MaxApplications  int              `json:"maxApplications" validate:"gt=0"`
	Criteria         model.Criteria   `json:"criteria"`
	AllowWaitlist    bool             `json:"allowWaitlist"`
	WaitlistCapacity int              `json:"waitlistCapacity" validate:"gte=0"`
}

func (r *Registry) check(spec *Spec) error {
	if err := r.validate.Struct(spec); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return errs.Validation("%s", strings.Join(fields, "; "))
		}
		return errs.Validation("%v", err)
	}

	if eb := spec.EarlyBirdEnd; eb != nil && (eb.Before(spec.StartDate) || eb.After(spec.EndDate)) {
		return errs.Validation("earlyBirdEnd must fall between startDate and endDate")
	}
	c := spec.Criteria
	if c.MinLevel != nil && c.MaxLevel != nil && *c.MinLevel > *c.MaxLevel {
		return errs.Validation("criteria minLevel exceeds maxLevel")
	}
	for _, t := range c.RoomTypes {
		if t.Slots() == 0 {
			return errs.Validation("criteria names unknown room type %q", t)
		}
	}
	if !spec.AllowWaitlist {
		spec.WaitlistCapacity = 0
	}
	return nil
}

// Create stores a new unpublished window.
func (r *Registry) Create(ctx context.Context, spec Spec) (*model.ApplicationWindow, error) {
	if err := r.check(&spec); err != nil {
		return nil, err
	}

	w := model.ApplicationWindow{
		ID:               uuid.NewString(),
		Name:             strings.TrimSpace(spec.Name),
		Type:             spec.Type,
		StartDate:        spec.StartDate.UTC(),
		EndDate:          spec.EndDate.UTC(),
		MaxApplications:  spec.MaxApplications,
		Criteria:         datatypes.NewJSONType(spec.Criteria),
		AllowWaitlist:    spec.AllowWaitlist,
		WaitlistCapacity: spec.WaitlistCapacity,
	}
	if spec.EarlyBirdEnd != nil {
		eb := spec.EarlyBirdEnd.UTC()
		w.EarlyBirdEnd = &eb
	}
	if err := r.db.WithContext(ctx).Create(&w).Error; err != nil {
		return nil, fmt.Errorf("failed to create window %q: %w", w.Name, err)
	}

	r.log.WithFields(logrus.Fields{"window_id": w.ID, "name": w.Name, "type": w.Type}).Info("window created")
	return r.decorate(&w), nil
}

// StatusAt derives a window's status at the given instant.
func StatusAt(w *model.ApplicationWindow, now time.Time) model.WindowStatus {
	switch {
	case w.Suspended:
		return model.WindowInactive
	case now.After(w.EndDate):
		return model.WindowExpired
	case w.Published && !now.Before(w.StartDate):
		return model.WindowActive
	default:
		return model.WindowDraft
	}
}

// AcceptingAt reports whether a window takes submissions at the given instant, either into
// its quota or onto its waitlist.
func AcceptingAt(w *model.ApplicationWindow, now time.Time) bool {
	if StatusAt(w, now) != model.WindowActive {
		return false
	}
	return w.CurrentApplications < w.MaxApplications ||
		(w.AllowWaitlist && w.WaitlistCount < w.WaitlistCapacity)
}

// Status derives the window's status from the registry's clock.
func (r *Registry) Status(w *model.ApplicationWindow) model.WindowStatus {
	return StatusAt(w, r.now())
}

func (r *Registry) decorate(w *model.ApplicationWindow) *model.ApplicationWindow {
	w.Status = StatusAt(w, r.now())
	w.StartDate = w.StartDate.In(r.loc)
	w.EndDate = w.EndDate.In(r.loc)
	if w.EarlyBirdEnd != nil {
		eb := w.EarlyBirdEnd.In(r.loc)
		w.EarlyBirdEnd = &eb
	}
	return w
}

func (r *Registry) load(ctx context.Context, id string, lock bool) (*model.ApplicationWindow, error) {
	q := r.db.WithContext(ctx)
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var w model.ApplicationWindow
	if err := q.Where("id = ?", id).First(&w).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("window %s: %w", id, errs.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load window %s: %w", id, err)
	}
	return r.decorate(&w), nil
}

// Get loads a window with its status filled in.
func (r *Registry) Get(ctx context.Context, id string) (*model.ApplicationWindow, error) {
	return r.load(ctx, id, false)
}

// GetForUpdate loads a window and locks its row for the rest of the caller's transaction.
func (r *Registry) GetForUpdate(ctx context.Context, id string) (*model.ApplicationWindow, error) {
	return r.load(ctx, id, true)
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Type   model.WindowType
	Status model.WindowStatus
}

// List returns windows ordered by start date, newest first.
func (r *Registry) List(ctx context.Context, f Filter) ([]model.ApplicationWindow, error) {
	q := r.db.WithContext(ctx).Order("start_date DESC")
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}

	var windows []model.ApplicationWindow
	if err := q.Find(&windows).Error; err != nil {
		return nil, fmt.Errorf("failed to list windows: %w", err)
	}

	// Status is derived, so it cannot be filtered in SQL.
	out := windows[:0]
	for i := range windows {
		w := r.decorate(&windows[i])
		if f.Status == "" || w.Status == f.Status {
			out = append(out, *w)
		}
	}
	return out, nil
}

// IsAcceptingApplications reports whether the window takes submissions right now.
func (r *Registry) IsAcceptingApplications(ctx context.Context, id string) (bool, error) {
	w, err := r.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return AcceptingAt(w, r.now()), nil
}

// Publish opens a window to students from its start date. An expired window cannot be published.
func (r *Registry) Publish(ctx context.Context, id string) (*model.ApplicationWindow, error) {
	w, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.now().After(w.EndDate) {
		return nil, fmt.Errorf("publish window %s: %w", id, errs.ErrAlreadyExpired)
	}
	return r.setFlag(ctx, w, "published", true)
}

// Unpublish hides a window again. Existing applications are untouched.
func (r *Registry) Unpublish(ctx context.Context, id string) (*model.ApplicationWindow, error) {
	w, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.setFlag(ctx, w, "published", false)
}

// Suspend forces a window inactive regardless of its dates.
func (r *Registry) Suspend(ctx context.Context, id string) (*model.ApplicationWindow, error) {
	w, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.setFlag(ctx, w, "suspended", true)
}

// Resume lifts a suspension.
func (r *Registry) Resume(ctx context.Context, id string) (*model.ApplicationWindow, error) {
	w, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.setFlag(ctx, w, "suspended", false)
}

func (r *Registry) setFlag(ctx context.Context, w *model.ApplicationWindow, column string, value bool) (*model.ApplicationWindow, error) {
	err := r.db.WithContext(ctx).Model(&model.ApplicationWindow{}).
		Where("id = ?", w.ID).
		Update(column, value).Error
	if err != nil {
		return nil, fmt.Errorf("failed to set %s on window %s: %w", column, w.ID, err)
	}

	switch column {
	case "published":
		w.Published = value
	case "suspended":
		w.Suspended = value
	}
	r.log.WithFields(logrus.Fields{"window_id": w.ID, column: value}).Info("window updated")
	return r.decorate(w), nil
}
