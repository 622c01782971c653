package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Preferences are what the student asked for. None of them is a guarantee.
type Preferences struct {
	HostelID *int64   `json:"hostelId,omitempty"`
	RoomID   *int64   `json:"roomId,omitempty"`
	BedID    *int64   `json:"bedId,omitempty"`
	RoomType RoomType `json:"roomType,omitempty"`
}

// Application is a student's request for a bed in one window.
type Application struct {
	ID            string            `gorm:"primaryKey;size:36" json:"id"`
	WindowID      string            `gorm:"size:36;not null;index" json:"windowId"`
	StudentID     string            `gorm:"size:64;not null;index" json:"studentId"`
	HostelID      *int64            `json:"requestedHostelId,omitempty"`
	RoomID        *int64            `json:"requestedRoomId,omitempty"`
	BedID         *int64            `json:"requestedBedId,omitempty"`
	RoomType      RoomType          `gorm:"size:16" json:"requestedRoomType,omitempty"`
	Documents     datatypes.JSON    `json:"documents,omitempty"`
	Status        ApplicationStatus `gorm:"size:16;not null;index" json:"status"`
	PriorityScore int               `gorm:"not null;default:0" json:"priorityScore"`
	Reason        string            `gorm:"type:text" json:"reason,omitempty"`
	AllocatedBed  *int64            `json:"allocatedBedId,omitempty"`
	SubmittedAt   time.Time         `gorm:"not null" json:"submittedAt"`
	ProcessedAt   *time.Time        `json:"processedAt,omitempty"`
	ProcessedBy   *string           `gorm:"size:64" json:"processedBy,omitempty"`
	AdminNotes    string            `gorm:"type:text" json:"adminNotes,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
	DeletedAt     gorm.DeletedAt    `gorm:"index" json:"-"`
}

// Preferences returns the requested placement.
func (a *Application) Preferences() Preferences {
	return Preferences{HostelID: a.HostelID, RoomID: a.RoomID, BedID: a.BedID, RoomType: a.RoomType}
}

// StudentProfile holds the attributes eligibility is evaluated against.
type StudentProfile struct {
	StudentID     string    `gorm:"primaryKey;size:64" json:"studentId"`
	Gender        string    `gorm:"size:16" json:"gender"`
	Level         int       `json:"level"`
	Nationality   string    `gorm:"size:64" json:"nationality"`
	International bool      `json:"international"`
	UpdatedAt     time.Time `json:"updatedAt"`

	// PriorAllocations is filled in from application history, not stored.
	PriorAllocations int `gorm:"-" json:"-"`
}
