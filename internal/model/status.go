package model

// BedStatus is the lifecycle state of a single bed.
type BedStatus string

const (
	BedAvailable   BedStatus = "available"
	BedReserved    BedStatus = "reserved"
	BedOccupied    BedStatus = "occupied"
	BedMaintenance BedStatus = "maintenance"
)

var bedTransitions = map[BedStatus][]BedStatus{
	BedAvailable:   {BedReserved, BedOccupied, BedMaintenance},
	BedReserved:    {BedOccupied, BedAvailable},
	BedOccupied:    {BedAvailable},
	BedMaintenance: {BedAvailable},
}

// CanTransitionTo reports whether a bed may move from s to next.
func (s BedStatus) CanTransitionTo(next BedStatus) bool {
	return allowed(bedTransitions, s, next)
}

// ApplicationStatus is the lifecycle state of an application.
type ApplicationStatus string

const (
	ApplicationPending    ApplicationStatus = "pending"
	ApplicationApproved   ApplicationStatus = "approved"
	ApplicationRejected   ApplicationStatus = "rejected"
	ApplicationWaitlisted ApplicationStatus = "waitlisted"
	ApplicationWithdrawn  ApplicationStatus = "withdrawn"
)

var applicationTransitions = map[ApplicationStatus][]ApplicationStatus{
	ApplicationPending:    {ApplicationApproved, ApplicationRejected, ApplicationWaitlisted, ApplicationWithdrawn},
	ApplicationWaitlisted: {ApplicationApproved, ApplicationRejected, ApplicationWithdrawn},
	ApplicationApproved:   {ApplicationRejected},
}

// CanTransitionTo reports whether an application may move from s to next.
func (s ApplicationStatus) CanTransitionTo(next ApplicationStatus) bool {
	return allowed(applicationTransitions, s, next)
}

// Live reports whether the application still occupies the student's slot in its window.
func (s ApplicationStatus) Live() bool {
	return s == ApplicationPending || s == ApplicationApproved || s == ApplicationWaitlisted
}

// LiveApplicationStatuses lists the statuses counted by the one-live-application-per-window rule.
var LiveApplicationStatuses = []ApplicationStatus{ApplicationPending, ApplicationApproved, ApplicationWaitlisted}

// WindowStatus is derived on read from the publish flag, the suspension override and the dates.
type WindowStatus string

const (
	WindowDraft    WindowStatus = "draft"
	WindowActive   WindowStatus = "active"
	WindowInactive WindowStatus = "inactive"
	WindowExpired  WindowStatus = "expired"
)

// WindowType is the category of students a window is meant for.
type WindowType string

const (
	WindowFreshman      WindowType = "freshman"
	WindowReturning     WindowType = "returning"
	WindowTransfer      WindowType = "transfer"
	WindowInternational WindowType = "international"
	WindowGraduate      WindowType = "graduate"
	WindowStaff         WindowType = "staff"
)

// GenderPolicy restricts which students a hostel houses.
type GenderPolicy string

const (
	GenderMale   GenderPolicy = "male"
	GenderFemale GenderPolicy = "female"
	GenderMixed  GenderPolicy = "mixed"
)

// Admits reports whether a student of the given gender may live under policy p.
func (p GenderPolicy) Admits(gender string) bool {
	return p == GenderMixed || p == "" || string(p) == gender
}

// FacilityStatus applies to hostels and rooms.
type FacilityStatus string

const (
	FacilityActive      FacilityStatus = "active"
	FacilityInactive    FacilityStatus = "inactive"
	FacilityMaintenance FacilityStatus = "maintenance"
)

// RoomType fixes the number of bed slots in a room.
type RoomType string

const (
	RoomSingle RoomType = "single"
	RoomDouble RoomType = "double"
	RoomTriple RoomType = "triple"
	RoomQuad   RoomType = "quad"
)

// Slots returns the bed count implied by the room type, or 0 for an unknown type.
func (t RoomType) Slots() int {
	switch t {
	case RoomSingle:
		return 1
	case RoomDouble:
		return 2
	case RoomTriple:
		return 3
	case RoomQuad:
		return 4
	}
	return 0
}

func allowed[S comparable](table map[S][]S, from, to S) bool {
	for _, s := range table[from] {
		if s == to {
			return true
		}
	}
	return false
}
