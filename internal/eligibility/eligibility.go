// Package eligibility checks a student profile against a window's criteria.
package eligibility

import (
	"strings"

	"hostel-allocation-backend/internal/model"
)

// Reason codes reported for failed criteria.
const (
	LevelBelowMinimum     = "level_below_minimum"
	LevelAboveMaximum     = "level_above_maximum"
	GenderNotAllowed      = "gender_not_allowed"
	GenderMismatch        = "gender_mismatch"
	NationalityNotAllowed = "nationality_not_allowed"
	InternationalRequired = "international_required"
	DomesticRequired      = "domestic_required"
	PriorAllocation       = "prior_allocation"
	RoomTypeNotAllowed    = "room_type_not_allowed"
)

// Target is what the student is applying for, as far as eligibility cares.
// HostelGender is empty when no hostel was requested.
type Target struct {
	HostelGender model.GenderPolicy
	RoomType     model.RoomType
}

// Result is the outcome of an evaluation. Reasons is empty when Eligible.
type Result struct {
	Eligible bool     `json:"eligible"`
	Reasons  []string `json:"reasons,omitempty"`
}

// Evaluate checks every criterion and collects every failure. Unset criteria always pass.
func Evaluate(p model.StudentProfile, c model.Criteria, target Target) Result {
	var reasons []string
	fail := func(reason string) { reasons = append(reasons, reason) }

	if c.MinLevel != nil && p.Level < *c.MinLevel {
		fail(LevelBelowMinimum)
	}
	if c.MaxLevel != nil && p.Level > *c.MaxLevel {
		fail(LevelAboveMaximum)
	}
	if len(c.Genders) > 0 && !containsFold(c.Genders, p.Gender) {
		fail(GenderNotAllowed)
	}
	if c.MatchHostelGender && target.HostelGender != "" &&
		!target.HostelGender.Admits(strings.ToLower(p.Gender)) {
		fail(GenderMismatch)
	}
	if len(c.Nationalities) > 0 && !containsFold(c.Nationalities, p.Nationality) {
		fail(NationalityNotAllowed)
	}
	if c.International != nil {
		switch {
		case *c.International && !p.International:
			fail(InternationalRequired)
		case !*c.International && p.International:
			fail(DomesticRequired)
		}
	}
	if c.ExcludePriorAllocation && p.PriorAllocations > 0 {
		fail(PriorAllocation)
	}
	if len(c.RoomTypes) > 0 && target.RoomType != "" && !contains(c.RoomTypes, target.RoomType) {
		fail(RoomTypeNotAllowed)
	}

	return Result{Eligible: len(reasons) == 0, Reasons: reasons}
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

func contains[T comparable](list []T, v T) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
