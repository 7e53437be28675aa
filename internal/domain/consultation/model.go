package consultation

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmac/telehealth/internal/domain/availability"
	"github.com/dmac/telehealth/internal/platform/timezone"
)

// Status is the shared consultation status enum.
type Status int16

const (
	StatusCreated     Status = 1
	StatusPending     Status = 2
	StatusAccepted    Status = 3
	StatusCompleted   Status = 4
	StatusCancelled   Status = 5
	StatusRescheduled Status = 6
	StatusPaid        Status = 7
)

var statusNames = map[Status]string{
	StatusCreated:     "created",
	StatusPending:     "pending",
	StatusAccepted:    "accepted",
	StatusCompleted:   "completed",
	StatusCancelled:   "cancelled",
	StatusRescheduled: "rescheduled",
	StatusPaid:        "paid",
}

func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

// CanReschedule reports whether a consultation in s may move to a new slot.
// Completed is terminal.
func (s Status) CanReschedule() bool {
	return s.Valid() && s != StatusCompleted
}

// CanCancel reports whether a consultation in s may be cancelled.
func (s Status) CanCancel() bool {
	return s.Valid() && s != StatusCompleted
}

// Consultation is one scheduled, or formerly scheduled, session.
type Consultation struct {
	ID                 uuid.UUID  `json:"id"`
	Code               string     `json:"consultation_id"`
	UserID             uuid.UUID  `json:"user_id"`
	ConsultantID       uuid.UUID  `json:"consultant_id"`
	ProductID          string     `json:"product_id"`
	EventStart         *time.Time `json:"event_start"`
	EventEnd           *time.Time `json:"event_end"`
	UserTimezone       string     `json:"user_timezone"`
	ConsultantTimezone string     `json:"consultant_timezone"`
	ConsultationDate   string     `json:"consultation_date"`
	Status             Status     `json:"status"`
	MeetLink           string     `json:"meet_link,omitempty"`
	Notes              string     `json:"consultation_notes,omitempty"`
	ConsultantEventID  string     `json:"-"`
	UserEventID        string     `json:"-"`
	SeriesID           *uuid.UUID `json:"series_id,omitempty"`
	SessionNumber      int        `json:"session_number,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// SlotKey returns the slot the consultation currently holds, if any.
func (c *Consultation) SlotKey() (availability.SlotKey, bool) {
	if c.EventStart == nil {
		return availability.SlotKey{}, false
	}
	return availability.NewSlotKey(c.ConsultantID, timezone.Normalize(*c.EventStart)), true
}

// View is a consultation localized for one viewer.
type View struct {
	*Consultation
	ViewerTimezone string `json:"viewer_timezone,omitempty"`
	LocalDate      string `json:"local_date,omitempty"`
	LocalStart     string `json:"local_start_time,omitempty"`
	LocalEnd       string `json:"local_end_time,omitempty"`
	StatusName     string `json:"status_name"`
}

// Localize builds the view of c in zone. An unusable zone yields a view
// without local fields.
func (c *Consultation) Localize(zone string) View {
	v := View{Consultation: c, StatusName: c.Status.String()}
	if c.EventStart == nil || c.EventEnd == nil {
		return v
	}
	date, start, err := timezone.Display(*c.EventStart, zone)
	if err != nil {
		return v
	}
	_, end, _ := timezone.Display(*c.EventEnd, zone)
	v.ViewerTimezone = zone
	v.LocalDate = date
	v.LocalStart = start
	v.LocalEnd = end
	return v
}
