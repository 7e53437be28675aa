package availability

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmac/telehealth/internal/platform/timezone"
)

// SessionLength is the fixed length of a slot and of a consultation.
const SessionLength = time.Hour

var (
	ErrSlotNotFound = errors.New("slot not found")
	ErrSlotBooked   = errors.New("slot is booked")
	ErrInvalidEntry = errors.New("invalid availability entry")
)

// SlotKey identifies a slot: consultant plus UTC start instant. The store
// keeps the start as UTC civil date and time columns.
type SlotKey struct {
	ConsultantID uuid.UUID
	Start        time.Time
}

// NewSlotKey builds a key with the start forced to UTC.
func NewSlotKey(consultantID uuid.UUID, start time.Time) SlotKey {
	return SlotKey{ConsultantID: consultantID, Start: start.UTC()}
}

// Date returns the UTC civil date of the slot start.
func (k SlotKey) Date() string {
	d, _ := timezone.SplitUTC(k.Start)
	return d
}

// Clock returns the UTC civil start time (HH:MM:SS).
func (k SlotKey) Clock() string {
	_, c := timezone.SplitUTC(k.Start)
	return c
}

// End is the exclusive end of the slot.
func (k SlotKey) End() time.Time {
	return k.Start.Add(SessionLength)
}

func (k SlotKey) String() string {
	return fmt.Sprintf("%s@%s %s", k.ConsultantID, k.Date(), k.Clock())
}

// Slot is one bookable interval of a consultant.
type Slot struct {
	ID           int64     `json:"slot_id"`
	ConsultantID uuid.UUID `json:"consultant_id"`
	Start        time.Time `json:"start_utc"`
	End          time.Time `json:"end_utc"`
	Offered      bool      `json:"is_slot_available"`
	Booked       bool      `json:"is_booked"`
	DayOff       bool      `json:"is_day_off"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Key returns the slot identity.
func (s *Slot) Key() SlotKey {
	return NewSlotKey(s.ConsultantID, s.Start)
}

// Bookable reports whether the slot can be reserved at now.
func (s *Slot) Bookable(now time.Time) bool {
	return s.Offered && !s.Booked && !s.DayOff && s.Start.After(now)
}

// WeeklyEntry is one submitted availability interval in UTC. Entries longer
// than a session are expanded into consecutive hourly slots.
type WeeklyEntry struct {
	Start       time.Time
	End         time.Time
	IsAvailable bool
}

// Validate checks that the entry covers a whole number of sessions.
func (e WeeklyEntry) Validate() error {
	if e.Start.IsZero() || e.End.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrInvalidEntry)
	}
	d := e.End.Sub(e.Start)
	if d <= 0 {
		return fmt.Errorf("%w: end must be after start", ErrInvalidEntry)
	}
	if d%SessionLength != 0 {
		return fmt.Errorf("%w: length %s is not a multiple of %s", ErrInvalidEntry, d, SessionLength)
	}
	if d > 24*time.Hour {
		return fmt.Errorf("%w: entry longer than a day", ErrInvalidEntry)
	}
	return nil
}

// Hourly splits the entry into session-length entries.
func (e WeeklyEntry) Hourly() []WeeklyEntry {
	var out []WeeklyEntry
	for s := e.Start.UTC(); s.Before(e.End); s = s.Add(SessionLength) {
		out = append(out, WeeklyEntry{Start: s, End: s.Add(SessionLength), IsAvailable: e.IsAvailable})
	}
	return out
}

// LocalEntry is an availability interval in the consultant's own zone, as
// submitted over HTTP.
type LocalEntry struct {
	Date        string `json:"date"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	IsAvailable bool   `json:"is_available"`
}

// ToUTC converts the entry using zone. An end time at or before the start
// rolls over to the next local day.
func (e LocalEntry) ToUTC(zone string) (WeeklyEntry, error) {
	start, err := timezone.ToUTC(e.Date, e.StartTime, zone)
	if err != nil {
		return WeeklyEntry{}, err
	}
	end, err := timezone.ToUTC(e.Date, e.EndTime, zone)
	if err != nil {
		return WeeklyEntry{}, err
	}
	if !end.After(start) {
		loc, _ := timezone.LoadZone(zone)
		endLocal := end.In(loc).AddDate(0, 0, 1)
		end = endLocal.UTC()
	}
	return WeeklyEntry{Start: start, End: end, IsAvailable: e.IsAvailable}, nil
}

// DayGroup is the listing of one viewer-local day.
type DayGroup struct {
	Date  string     `json:"date"`
	Slots []SlotView `json:"slots"`
}

// SlotView is a slot localized for display.
type SlotView struct {
	SlotID    int64     `json:"slot_id"`
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
	StartUTC  time.Time `json:"start_utc"`
	Offered   bool      `json:"is_slot_available"`
	Booked    bool      `json:"is_booked"`
	DayOff    bool      `json:"is_day_off"`
}

// AvailableSlot is a bookable slot shown to a requester.
type AvailableSlot struct {
	SlotID     int64     `json:"slot_id"`
	StartLocal string    `json:"start_local"`
	EndLocal   string    `json:"end_local"`
	StartUTC   time.Time `json:"start_utc"`
}
