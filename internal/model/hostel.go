package model

import "time"

// Hostel represents a residence hall. Its capacity is derived from its beds by the ledger.
type Hostel struct {
	ID           int64          `gorm:"primaryKey" json:"id"`
	Name         string         `gorm:"uniqueIndex;size:128;not null" json:"name"`
	GenderPolicy GenderPolicy   `gorm:"size:16;not null;default:mixed" json:"genderPolicy"`
	Status       FacilityStatus `gorm:"size:16;not null;default:active" json:"status"`
	CreatedAt    time.Time      `gorm:"not null" json:"createdAt"`
	UpdatedAt    time.Time      `gorm:"not null" json:"updatedAt"`

	// Associations
	Rooms []Room `gorm:"foreignKey:HostelID" json:"rooms,omitempty"`
}

// Room is a room inside a hostel.
type Room struct {
	ID        int64          `gorm:"primaryKey" json:"id"`
	HostelID  int64          `gorm:"index;not null;uniqueIndex:idx_room_hostel_code" json:"hostelId"`
	Code      string         `gorm:"size:64;not null;uniqueIndex:idx_room_hostel_code" json:"code"`
	Floor     int            `json:"floor"`
	Type      RoomType       `gorm:"size:16;not null" json:"type"`
	Capacity  int            `gorm:"not null" json:"capacity"`
	Status    FacilityStatus `gorm:"size:16;not null;default:active" json:"status"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`

	// Associations
	Hostel Hostel `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Beds   []Bed  `gorm:"foreignKey:RoomID" json:"beds,omitempty"`
}

// Bed is the unit of allocation. Only the capacity ledger writes Status.
type Bed struct {
	ID            int64     `gorm:"primaryKey" json:"id"`
	RoomID        int64     `gorm:"index;not null" json:"roomId"`
	Label         string    `gorm:"size:16;not null" json:"label"`
	Status        BedStatus `gorm:"size:16;not null;index" json:"status"`
	StudentID     *string   `gorm:"size:64;index" json:"studentId,omitempty"`
	ApplicationID *string   `gorm:"size:36" json:"applicationId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`

	// Associations
	Room Room `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}
