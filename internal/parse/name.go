package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	numberRe = regexp.MustCompile(`[-/ ]\s*(\d+)\s*$`)
	floorRe  = regexp.MustCompile(`(?i)(\d+|\bG)\s*F?\s*$`)
	spaceRe  = regexp.MustCompile(`\s+`)
)

// ParsedRoomCode holds the structured data parsed from a room code.
type ParsedRoomCode struct {
	Block  string
	Floor  int
	Number int
}

// ParseRoomCode extracts block, floor, and room number from codes such as
// "B2-14", "Block A 3-07", "North#1/2" or "Annex G-05" (G is the ground floor).
func ParseRoomCode(raw string) (ParsedRoomCode, error) {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, "#", " ")
	s = strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))

	loc := numberRe.FindStringSubmatchIndex(s)
	if loc == nil {
		return ParsedRoomCode{}, fmt.Errorf("unable to parse room number from code: %q", raw)
	}
	number, err := strconv.Atoi(s[loc[2]:loc[3]])
	if err != nil {
		return ParsedRoomCode{}, fmt.Errorf("unable to parse room number from code: %q", raw)
	}
	s = strings.TrimSpace(s[:loc[0]])

	floorLoc := floorRe.FindStringSubmatchIndex(s)
	if floorLoc == nil {
		return ParsedRoomCode{}, fmt.Errorf("unable to parse floor from code: %q", raw)
	}
	floor := 0
	if f := s[floorLoc[2]:floorLoc[3]]; !strings.EqualFold(f, "G") {
		if floor, err = strconv.Atoi(f); err != nil {
			return ParsedRoomCode{}, fmt.Errorf("unable to parse floor from code: %q", raw)
		}
	}
	block := strings.TrimSpace(s[:floorLoc[0]])

	return ParsedRoomCode{Block: block, Floor: floor, Number: number}, nil
}
