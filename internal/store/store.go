package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"hostel-allocation-backend/internal/errs"
	"hostel-allocation-backend/internal/model"
)

// Store defines the database operations for student-owned records:
// the profiles eligibility is judged on and the push subscriptions decisions are sent to.
type Store interface {
	DB() *gorm.DB
	Profile(ctx context.Context, studentID string) (*model.StudentProfile, error)
	UpsertProfile(ctx context.Context, profile *model.StudentProfile) error
	Subscriptions(ctx context.Context, studentID string) ([]model.PushSubscription, error)
	Subscription(ctx context.Context, studentID, endpoint string) (*model.PushSubscription, error)
	UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error
	DeleteSubscription(ctx context.Context, studentID, endpoint string) error
	DeleteExpiredSubscription(ctx context.Context, endpoint string) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// Profile loads a student's profile.
func (s *gormStore) Profile(ctx context.Context, studentID string) (*model.StudentProfile, error) {
	var profile model.StudentProfile
	if err := s.db.WithContext(ctx).Where("student_id = ?", studentID).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("profile for student %s: %w", studentID, errs.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load profile for student %s: %w", studentID, err)
	}
	return &profile, nil
}

// UpsertProfile creates or replaces a student's profile.
func (s *gormStore) UpsertProfile(ctx context.Context, profile *model.StudentProfile) error {
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "student_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"gender", "level", "nationality", "international", "updated_at"}),
	}).Create(profile).Error; err != nil {
		return fmt.Errorf("failed to upsert profile for student %s: %w", profile.StudentID, err)
	}
	return nil
}

// Subscriptions returns every push subscription a student registered.
func (s *gormStore) Subscriptions(ctx context.Context, studentID string) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Where("student_id = ?", studentID).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch subscriptions for student %s: %w", studentID, err)
	}
	return subs, nil
}

// Subscription loads one of a student's subscriptions by endpoint.
func (s *gormStore) Subscription(ctx context.Context, studentID, endpoint string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	err := s.db.WithContext(ctx).
		Where("endpoint = ? AND student_id = ?", endpoint, studentID).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("subscription: %w", errs.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return &sub, nil
}

// UpsertSubscription creates a subscription, or rebinds an existing endpoint to new keys and owner.
func (s *gormStore) UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error {
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"student_id", "p256dh", "auth"}),
	}).Create(sub).Error; err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

// DeleteSubscription removes a student's subscription. Deleting a missing one is not an error.
func (s *gormStore) DeleteSubscription(ctx context.Context, studentID, endpoint string) error {
	if err := s.db.WithContext(ctx).
		Where("endpoint = ? AND student_id = ?", endpoint, studentID).
		Delete(&model.PushSubscription{}).Error; err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}

// DeleteExpiredSubscription drops an endpoint the push service reported as gone.
func (s *gormStore) DeleteExpiredSubscription(ctx context.Context, endpoint string) error {
	if err := s.db.WithContext(ctx).Delete(&model.PushSubscription{Endpoint: endpoint}).Error; err != nil {
		return fmt.Errorf("failed to delete expired subscription: %w", err)
	}
	return nil
}
