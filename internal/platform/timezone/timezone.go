// Package timezone converts between local civil time in an IANA zone and
// canonical UTC instants. All storage and comparisons use UTC; everything
// shown to a person is re-localized from UTC through this package.
package timezone

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
)

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
	civilLayout = "2006-01-02 15:04:05"
)

var (
	// ErrTimezoneMissing is returned when a party has no usable IANA zone.
	ErrTimezoneMissing = errors.New("timezone missing")
	ErrInvalidTime     = errors.New("invalid date or time")
)

// LoadZone resolves an IANA zone name. Empty or unknown names are rejected
// rather than defaulted.
func LoadZone(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrTimezoneMissing
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrTimezoneMissing, name)
	}
	return loc, nil
}

// ToUTC interprets date (YYYY-MM-DD) and clock (HH:MM or HH:MM:SS) as a
// civil time in zone and returns the UTC instant.
func ToUTC(date, clock, zone string) (time.Time, error) {
	loc, err := LoadZone(zone)
	if err != nil {
		return time.Time{}, err
	}
	t, err := ParseCivil(date, clock, loc)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// ParseCivil parses date and clock in loc.
func ParseCivil(date, clock string, loc *time.Location) (time.Time, error) {
	if len(clock) == len(ClockLayout) {
		clock += ":00"
	}
	t, err := time.ParseInLocation(civilLayout, date+" "+clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q %q: %v", ErrInvalidTime, date, clock, err)
	}
	return t, nil
}

// FromUTC returns the instant t expressed in zone.
func FromUTC(t time.Time, zone string) (time.Time, error) {
	loc, err := LoadZone(zone)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC().In(loc), nil
}

// Normalize strips whatever offset t carries and reinterprets its civil
// fields as UTC. Stored slot and event values are UTC civil values; a driver
// or session setting may attach a local offset on read, which would shift
// the instant twice if converted directly.
func Normalize(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// Localize normalizes a stored value and converts it into the viewer's zone.
func Localize(stored time.Time, zone string) (time.Time, error) {
	loc, err := LoadZone(zone)
	if err != nil {
		return time.Time{}, err
	}
	return Normalize(stored).In(loc), nil
}

// Display returns the viewer-local date and clock strings of a stored value.
func Display(stored time.Time, zone string) (date, clock string, err error) {
	local, err := Localize(stored, zone)
	if err != nil {
		return "", "", err
	}
	return local.Format(DateLayout), local.Format(ClockLayout), nil
}

// DayBounds returns the UTC half-open window [start, end) covering the local
// calendar day date in zone. DST transition days are 23 or 25 hours long.
func DayBounds(date, zone string) (time.Time, time.Time, error) {
	loc, err := LoadZone(zone)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	day, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %q: %v", ErrInvalidTime, date, err)
	}
	next := day.AddDate(0, 0, 1)
	return day.UTC(), next.UTC(), nil
}

// SplitUTC returns the UTC civil date and clock of t, the form used as slot
// identity in storage.
func SplitUTC(t time.Time) (date, clock string) {
	u := t.UTC()
	return u.Format(DateLayout), u.Format("15:04:05")
}
