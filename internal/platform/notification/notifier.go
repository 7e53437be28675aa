package notification

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/dmac/telehealth/internal/platform/timezone"
)

var ErrNoRecipient = errors.New("notification: recipient has no email address")

// Recipient is one party of a consultation. Times are shown in Timezone.
type Recipient struct {
	Name     string
	Email    string
	Timezone string
}

// Session is what a message says about one consultation.
type Session struct {
	Code     string
	Start    time.Time
	MeetLink string
}

// Notifier renders the booking templates per recipient and sends them.
type Notifier struct {
	sender    EmailSender
	templates *TemplateEngine
}

func NewNotifier(sender EmailSender, templates *TemplateEngine) *Notifier {
	if templates == nil {
		templates = NewTemplateEngine()
	}
	return &Notifier{sender: sender, templates: templates}
}

func (n *Notifier) BookingConfirmed(ctx context.Context, to Recipient, counterpart string, s Session) error {
	data := n.sessionData(to, counterpart, s)
	if s.MeetLink == "" {
		data["meet_link"] = "a link will follow"
	}
	return n.send(ctx, TemplateBookingConfirmed, data, to)
}

func (n *Notifier) SeriesBooked(ctx context.Context, to Recipient, counterpart string, sessions []Session) error {
	zone := displayZone(to.Timezone)
	var b strings.Builder
	b.WriteString("<ol>")
	for _, s := range sessions {
		date, clock := display(s.Start, zone)
		fmt.Fprintf(&b, "<li>%s %s (%s)</li>", date, clock, html.EscapeString(s.Code))
	}
	b.WriteString("</ol>")

	data := map[string]string{
		"name":        to.Name,
		"counterpart": counterpart,
		"count":       strconv.Itoa(len(sessions)),
		"timezone":    zone,
		"sessions":    b.String(),
	}
	return n.send(ctx, TemplateSeriesBooked, data, to, "sessions")
}

func (n *Notifier) Rescheduled(ctx context.Context, to Recipient, counterpart string, s Session) error {
	return n.send(ctx, TemplateRescheduled, n.sessionData(to, counterpart, s), to)
}

func (n *Notifier) Cancelled(ctx context.Context, to Recipient, counterpart, code string) error {
	data := map[string]string{"name": to.Name, "counterpart": counterpart, "code": code}
	return n.send(ctx, TemplateCancelled, data, to)
}

func (n *Notifier) sessionData(to Recipient, counterpart string, s Session) map[string]string {
	zone := displayZone(to.Timezone)
	date, clock := display(s.Start, zone)
	return map[string]string{
		"name":        to.Name,
		"counterpart": counterpart,
		"code":        s.Code,
		"date":        date,
		"time":        clock,
		"timezone":    zone,
		"meet_link":   s.MeetLink,
	}
}

func (n *Notifier) send(ctx context.Context, templateID string, data map[string]string, to Recipient, raw ...string) error {
	if to.Email == "" {
		return ErrNoRecipient
	}
	subject, body, err := n.templates.Render(templateID, data, raw...)
	if err != nil {
		return fmt.Errorf("render template: %w", err)
	}
	return n.sender.SendEmail(ctx, to.Email, subject, body)
}

// displayZone falls back to UTC for recipients without a usable zone.
func displayZone(zone string) string {
	if _, err := timezone.LoadZone(zone); err != nil {
		return "UTC"
	}
	return zone
}

func display(t time.Time, zone string) (string, string) {
	date, clock, err := timezone.Display(t, zone)
	if err != nil {
		return timezone.SplitUTC(t)
	}
	return date, clock
}
