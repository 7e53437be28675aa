package calendar

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// Google talks to Google Calendar. Created events carry a Meet conference.
type Google struct {
	svc *gcal.Service
}

// NewGoogle builds a client from a service account credentials file.
func NewGoogle(ctx context.Context, credentialsFile string, opts ...option.ClientOption) (*Google, error) {
	if strings.TrimSpace(credentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	opts = append(opts, option.WithScopes(gcal.CalendarScope))
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar: failed to create google client: %w", err)
	}
	return &Google{svc: svc}, nil
}

func (g *Google) CheckBusy(ctx context.Context, calendarID string, w Window) (bool, error) {
	if calendarID == "" {
		return false, ErrNoCalendar
	}
	resp, err := g.svc.Freebusy.Query(&gcal.FreeBusyRequest{
		TimeMin: w.Start.UTC().Format(time.RFC3339),
		TimeMax: w.End.UTC().Format(time.RFC3339),
		Items:   []*gcal.FreeBusyRequestItem{{Id: calendarID}},
	}).Context(ctx).Do()
	if err != nil {
		return false, fmt.Errorf("calendar: freebusy query: %w", err)
	}
	cal, ok := resp.Calendars[calendarID]
	if !ok {
		return false, fmt.Errorf("calendar: freebusy response missing %s", calendarID)
	}
	if len(cal.Errors) > 0 {
		return false, fmt.Errorf("calendar: freebusy %s: %s", calendarID, cal.Errors[0].Reason)
	}
	for _, p := range cal.Busy {
		start, err1 := time.Parse(time.RFC3339, p.Start)
		end, err2 := time.Parse(time.RFC3339, p.End)
		if err1 != nil || err2 != nil {
			continue
		}
		if start.Before(w.End) && end.After(w.Start) {
			return true, nil
		}
	}
	return false, nil
}

func (g *Google) CreateEvent(ctx context.Context, req EventRequest) (*Event, error) {
	if req.CalendarID == "" {
		return nil, ErrNoCalendar
	}
	ev := &gcal.Event{
		Summary:     req.Summary,
		Description: req.Description,
		Start:       eventTime(req.Window.Start),
		End:         eventTime(req.Window.End),
		ConferenceData: &gcal.ConferenceData{
			CreateRequest: &gcal.CreateConferenceRequest{
				RequestId:             uuid.NewString(),
				ConferenceSolutionKey: &gcal.ConferenceSolutionKey{Type: "hangoutsMeet"},
			},
		},
	}
	for _, email := range req.Attendees {
		if email != "" {
			ev.Attendees = append(ev.Attendees, &gcal.EventAttendee{Email: email})
		}
	}

	created, err := g.svc.Events.Insert(req.CalendarID, ev).
		ConferenceDataVersion(1).
		SendUpdates("all").
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("calendar: insert event: %w", err)
	}
	return &Event{EventID: created.Id, MeetLink: created.HangoutLink}, nil
}

func (g *Google) PatchEvent(ctx context.Context, calendarID, eventID string, w Window) error {
	if calendarID == "" || eventID == "" {
		return ErrNoCalendar
	}
	_, err := g.svc.Events.Patch(calendarID, eventID, &gcal.Event{
		Start: eventTime(w.Start),
		End:   eventTime(w.End),
	}).SendUpdates("all").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("calendar: patch event %s: %w", eventID, err)
	}
	return nil
}

func (g *Google) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	if calendarID == "" || eventID == "" {
		return ErrNoCalendar
	}
	if err := g.svc.Events.Delete(calendarID, eventID).SendUpdates("all").Context(ctx).Do(); err != nil {
		return fmt.Errorf("calendar: delete event %s: %w", eventID, err)
	}
	return nil
}

func eventTime(t time.Time) *gcal.EventDateTime {
	return &gcal.EventDateTime{DateTime: t.UTC().Format(time.RFC3339), TimeZone: "UTC"}
}
