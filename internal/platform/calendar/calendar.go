// Package calendar books video sessions on the consultants' external
// calendars. Every call is advisory to the booking flow: the caller decides
// what a failure means.
package calendar

import (
	"context"
	"errors"
	"time"
)

var ErrNoCalendar = errors.New("calendar: no calendar configured")

// Window is a UTC half-open interval.
type Window struct {
	Start time.Time
	End   time.Time
}

// Event is a created calendar event.
type Event struct {
	EventID  string
	MeetLink string
}

// EventRequest describes a session to put on a calendar.
type EventRequest struct {
	CalendarID  string
	Summary     string
	Description string
	Window      Window
	Attendees   []string
}

// Calendar is an external calendar provider.
type Calendar interface {
	// CheckBusy reports whether the calendar has anything overlapping w.
	CheckBusy(ctx context.Context, calendarID string, w Window) (bool, error)
	CreateEvent(ctx context.Context, req EventRequest) (*Event, error)
	PatchEvent(ctx context.Context, calendarID, eventID string, w Window) error
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}

// Noop is used when no provider is configured. It is never busy and creates
// no events.
type Noop struct{}

func (Noop) CheckBusy(context.Context, string, Window) (bool, error) { return false, nil }

func (Noop) CreateEvent(context.Context, EventRequest) (*Event, error) {
	return nil, ErrNoCalendar
}

func (Noop) PatchEvent(context.Context, string, string, Window) error { return nil }

func (Noop) DeleteEvent(context.Context, string, string) error { return nil }
