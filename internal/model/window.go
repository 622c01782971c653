package model

import (
	"time"

	"gorm.io/datatypes"
)

// Criteria is the eligibility predicate attached to a window. A nil or empty
// field places no constraint on applicants.
type Criteria struct {
	MinLevel               *int       `json:"minLevel,omitempty"`
	MaxLevel               *int       `json:"maxLevel,omitempty"`
	Genders                []string   `json:"genders,omitempty"`
	MatchHostelGender      bool       `json:"matchHostelGender,omitempty"`
	Nationalities          []string   `json:"nationalities,omitempty"`
	International          *bool      `json:"international,omitempty"`
	ExcludePriorAllocation bool       `json:"excludePriorAllocation,omitempty"`
	RoomTypes              []RoomType `json:"roomTypes,omitempty"`
}

// ApplicationWindow is a time-bounded period during which students may apply.
type ApplicationWindow struct {
	ID                  string                       `gorm:"primaryKey;size:36" json:"id"`
	Name                string                       `gorm:"size:128;not null" json:"name"`
	Type                WindowType                   `gorm:"size:32;not null;index" json:"type"`
	StartDate           time.Time                    `gorm:"not null" json:"startDate"`
	EndDate             time.Time                    `gorm:"not null" json:"endDate"`
	EarlyBirdEnd        *time.Time                   `json:"earlyBirdEnd,omitempty"`
	MaxApplications     int                          `gorm:"not null" json:"maxApplications"`
	CurrentApplications int                          `gorm:"not null;default:0" json:"currentApplications"`
	Criteria            datatypes.JSONType[Criteria] `json:"criteria"`
	AllowWaitlist       bool                         `gorm:"not null;default:false" json:"allowWaitlist"`
	WaitlistCapacity    int                          `gorm:"not null;default:0" json:"waitlistCapacity"`
	WaitlistCount       int                          `gorm:"not null;default:0" json:"waitlistCount"`
	Published           bool                         `gorm:"not null;default:false" json:"published"`
	Suspended           bool                         `gorm:"not null;default:false" json:"suspended"`
	CreatedAt           time.Time                    `json:"createdAt"`
	UpdatedAt           time.Time                    `json:"updatedAt"`

	// Status is never stored; the registry fills it in on every read.
	Status WindowStatus `gorm:"-" json:"status"`
}
