// Package schedule parses the day-keyed pickup windows senders attach to a
// collection request. The encoding is treated as opaque JSON elsewhere;
// parse failures mean "no valid date" rather than an error.
package schedule

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Slot is one requested pickup window, times as HH:MM.
type Slot struct {
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

// Entry binds one day (a weekday name or an explicit date) to its slots.
type Entry struct {
	Day        string `json:"day,omitempty"`        // e.g. "monday"
	PickupDate string `json:"pickupDate,omitempty"` // YYYY-MM-DD
	Slots      []Slot `json:"slots"`
}

// Parse decodes a raw schedule. A nil/empty/unparseable payload yields nil.
func Parse(raw json.RawMessage) []Entry {
	if len(raw) == 0 {
		return nil
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}
	return entries
}

// ParseHHMM converts "HH:MM" to minutes since midnight.
func ParseHHMM(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// WindowFor returns the first requested window (minutes since midnight)
// matching the given date, either by explicit pickup date or weekday name.
// ok is false when the schedule has no valid slot for that day.
func WindowFor(raw json.RawMessage, date time.Time) (startMin, endMin int, ok bool) {
	dateStr := date.Format("2006-01-02")
	dayName := strings.ToLower(date.Weekday().String())
	for _, e := range Parse(raw) {
		if e.PickupDate != dateStr && !strings.EqualFold(e.Day, dayName) {
			continue
		}
		for _, s := range e.Slots {
			start, err1 := ParseHHMM(s.StartTime)
			end, err2 := ParseHHMM(s.EndTime)
			if err1 != nil || err2 != nil {
				continue
			}
			return start, end, true
		}
	}
	return 0, 0, false
}

// ClampToShift fits a requested window into [shiftStart, shiftEnd]. A window
// that collapses after clamping (end before start) is padded to minSpan
// minutes; a start before the shift is moved up to the shift boundary.
func ClampToShift(start, end, shiftStart, shiftEnd, minSpan int) (int, int) {
	if start < shiftStart {
		start = shiftStart
	}
	if end > shiftEnd {
		end = shiftEnd
	}
	if end < start {
		end = start + minSpan
		if end > shiftEnd {
			end = shiftEnd
			start = end - minSpan
			if start < shiftStart {
				start = shiftStart
			}
		}
	}
	return start, end
}
