// Package consultation books, reschedules and cancels consultations of one
// consultant class on top of the slot reservation engine.
package consultation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmac/telehealth/internal/domain/availability"
	"github.com/dmac/telehealth/internal/platform/calendar"
	"github.com/dmac/telehealth/internal/platform/db"
	"github.com/dmac/telehealth/internal/platform/directory"
	"github.com/dmac/telehealth/internal/platform/metrics"
	"github.com/dmac/telehealth/internal/platform/notification"
	"github.com/dmac/telehealth/internal/platform/timezone"
)

var consultationTracer = otel.Tracer("telehealth.internal.domain.consultation")

const (
	warnCalendar = "calendar sync failed"
	warnNotify   = "could not notify the %s"
)

// Notifier sends the booking messages.
type Notifier interface {
	BookingConfirmed(ctx context.Context, to notification.Recipient, counterpart string, s notification.Session) error
	SeriesBooked(ctx context.Context, to notification.Recipient, counterpart string, sessions []notification.Session) error
	Rescheduled(ctx context.Context, to notification.Recipient, counterpart string, s notification.Session) error
	Cancelled(ctx context.Context, to notification.Recipient, counterpart, code string) error
}

// Deps are the collaborators of a Service. Calendar, Notifier and Metrics
// are optional.
type Deps struct {
	Slots        availability.Reserver
	Repo         Repository
	IDs          IDSource
	Tx           db.TxRunner
	Directory    directory.Directory
	Entitlements directory.Entitlements
	Calendar     calendar.Calendar
	Notifier     Notifier
	Metrics      *metrics.BookingMetrics
	Logger       zerolog.Logger
}

// Service is the booking orchestrator of one class.
type Service struct {
	class        Class
	slots        availability.Reserver
	repo         Repository
	ids          IDSource
	tx           db.TxRunner
	dir          directory.Directory
	entitlements directory.Entitlements
	cal          calendar.Calendar
	notifier     Notifier
	metrics      *metrics.BookingMetrics
	logger       zerolog.Logger
	now          func() time.Time
}

func NewService(class Class, d Deps) *Service {
	if d.Slots == nil || d.Repo == nil || d.IDs == nil || d.Tx == nil || d.Directory == nil {
		panic("consultation: slots, repo, ids, tx and directory are required")
	}
	if d.Calendar == nil {
		d.Calendar = calendar.Noop{}
	}
	return &Service{
		class:        class,
		slots:        d.Slots,
		repo:         d.Repo,
		ids:          d.IDs,
		tx:           d.Tx,
		dir:          d.Directory,
		entitlements: d.Entitlements,
		cal:          d.Calendar,
		notifier:     d.Notifier,
		metrics:      d.Metrics,
		logger:       d.Logger.With().Str("class", class.Name).Logger(),
		now:          time.Now,
	}
}

func (s *Service) Class() Class {
	return s.class
}

// Booked is the result of a successful orchestration. Warnings list the
// advisory collaborators that failed.
type Booked struct {
	Consultation *Consultation
	Warnings     []string
}

func (s *Service) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	ctx, span := consultationTracer.Start(ctx, "consultation."+op)
	span.SetAttributes(append(attrs, attribute.String("telehealth.class", s.class.Name))...)
	return ctx, span, time.Now()
}

func (s *Service) finish(span trace.Span, op string, started time.Time, err error) {
	outcome := OutcomeOf(err)
	span.SetAttributes(attribute.String("telehealth.outcome", string(outcome)))
	if outcome == OutcomeInternal {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	s.metrics.ObserveOutcome(s.class.Name, op, string(outcome), time.Since(started).Seconds())
}

// parties holds both sides of a consultation with their resolved zones.
type parties struct {
	user       *directory.Profile
	consultant *directory.Profile
}

func (s *Service) resolveParties(ctx context.Context, userID, consultantID uuid.UUID) (*parties, error) {
	user, err := s.dir.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", userID, err)
	}
	consultant, err := s.dir.GetProfile(ctx, consultantID)
	if err != nil {
		return nil, fmt.Errorf("consultant %s: %w", consultantID, err)
	}
	if consultant.Kind != s.class.Kind {
		return nil, fmt.Errorf("%w: party %s is not a %s", ErrValidation, consultantID, s.class.Name)
	}
	if _, err := timezone.LoadZone(user.Timezone); err != nil {
		return nil, fmt.Errorf("user %s: %w", userID, err)
	}
	if _, err := timezone.LoadZone(consultant.Timezone); err != nil {
		return nil, fmt.Errorf("consultant %s: %w", consultantID, err)
	}
	return &parties{user: user, consultant: consultant}, nil
}

// entitled returns the product the booking is made under.
func (s *Service) entitled(ctx context.Context, userID uuid.UUID, requested string) (string, error) {
	if s.entitlements == nil {
		if requested == "" {
			return "", fmt.Errorf("%w: product_id is required", ErrValidation)
		}
		return requested, nil
	}
	product, ok, err := s.entitlements.GetSubscribedProduct(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("%w: entitlement lookup: %w", ErrInternal, err)
	}
	if !ok {
		return "", ErrNotEntitled
	}
	if requested != "" && requested != product {
		return "", fmt.Errorf("%w: subscribed to %s, not %s", ErrNotEntitled, product, requested)
	}
	return product, nil
}

// startAt converts a local request time to UTC and checks it is upcoming.
func (s *Service) startAt(date, clock, zone string) (time.Time, error) {
	start, err := timezone.ToUTC(date, clock, zone)
	if err != nil {
		return time.Time{}, err
	}
	if !start.After(s.now()) {
		return time.Time{}, fmt.Errorf("%w: start time %s %s is in the past", ErrValidation, date, clock)
	}
	return start, nil
}

func localDate(t time.Time, zone string) string {
	date, _, err := timezone.Display(t, zone)
	if err != nil {
		d, _ := timezone.SplitUTC(t)
		return d
	}
	return date
}

// release is the compensating action for a reservation. A failure leaves the
// slot falsely booked and is escalated.
func (s *Service) release(ctx context.Context, key availability.SlotKey, log zerolog.Logger) {
	if err := s.slots.Release(context.WithoutCancel(ctx), key); err != nil {
		log.Error().Err(err).Str("slot", key.String()).Msg("compensating slot release failed, slot left booked")
		s.metrics.CompensationFailed(s.class.Name)
	}
}

// Book reserves the slot at the requested time and records the consultation.
func (s *Service) Book(ctx context.Context, req BookRequest) (res *Booked, err error) {
	ctx, span, started := s.startSpan(ctx, "book",
		attribute.String("telehealth.consultant_id", req.ConsultantID.String()))
	defer func() { s.finish(span, "book", started, err) }()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	product, err := s.entitled(ctx, req.UserID, req.ProductID)
	if err != nil {
		return nil, err
	}
	p, err := s.resolveParties(ctx, req.UserID, req.ConsultantID)
	if err != nil {
		return nil, err
	}
	start, err := s.startAt(req.Date, req.StartTime, p.user.Timezone)
	if err != nil {
		return nil, err
	}

	key := availability.NewSlotKey(req.ConsultantID, start)
	log := s.logger.With().Str("consultant_id", req.ConsultantID.String()).Time("slot_start", key.Start).Logger()

	ok, err := s.slots.TryReserve(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: reserve slot: %w", ErrInternal, err)
	}
	if !ok {
		return nil, ErrSlotUnavailable
	}
	committed := false
	defer func() {
		if !committed {
			s.release(ctx, key, log)
		}
	}()

	var warnings []string
	w := calendar.Window{Start: key.Start, End: key.End()}
	ev, err := s.scheduleEvent(ctx, p, w, log)
	switch {
	case errors.Is(err, ErrCalendarConflict):
		return nil, err
	case err != nil:
		warnings = append(warnings, warnCalendar)
	}

	end := key.End()
	c := &Consultation{
		UserID:             req.UserID,
		ConsultantID:       req.ConsultantID,
		ProductID:          product,
		EventStart:         &key.Start,
		EventEnd:           &end,
		UserTimezone:       p.user.Timezone,
		ConsultantTimezone: p.consultant.Timezone,
		ConsultationDate:   localDate(key.Start, p.user.Timezone),
		Status:             StatusCreated,
		MeetLink:           ev.meetLink,
		ConsultantEventID:  ev.consultantEventID,
		UserEventID:        ev.userEventID,
	}
	if err := s.insert(ctx, c, p.user.Country); err != nil {
		s.dropEvents(ctx, p, c, log)
		return nil, fmt.Errorf("%w: %w", ErrInternal, err)
	}
	committed = true

	log.Info().Str("consultation_id", c.Code).Msg("consultation booked")
	warnings = append(warnings, s.notifyBooked(ctx, p, c, log)...)
	return &Booked{Consultation: c, Warnings: warnings}, nil
}

// insert generates the code and stores c in one transaction.
func (s *Service) insert(ctx context.Context, c *Consultation, country string) error {
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		code, err := s.ids.Generate(ctx, Prefix(country, s.class))
		if err != nil {
			return err
		}
		c.Code = code
		return s.repo.Create(ctx, c)
	})
}

type events struct {
	meetLink          string
	consultantEventID string
	userEventID       string
}

// scheduleEvent checks the consultant's calendar and creates the session
// event. A busy calendar is ErrCalendarConflict; an unlinked calendar is not
// an error.
func (s *Service) scheduleEvent(ctx context.Context, p *parties, w calendar.Window, log zerolog.Logger) (events, error) {
	var ev events
	calID := p.consultant.CalendarID
	if calID == "" {
		return ev, nil
	}
	busy, err := s.cal.CheckBusy(ctx, calID, w)
	if err != nil {
		return ev, s.calendarFailed(err, log)
	}
	if busy {
		return ev, ErrCalendarConflict
	}

	created, err := s.cal.CreateEvent(ctx, calendar.EventRequest{
		CalendarID: calID,
		Summary:    fmt.Sprintf("%s consultation: %s with %s", s.class.Name, p.user.Name, p.consultant.Name),
		Window:     w,
		Attendees:  []string{p.consultant.Email, p.user.Email},
	})
	if err != nil {
		return ev, s.calendarFailed(err, log)
	}
	ev.meetLink = created.MeetLink
	ev.consultantEventID = created.EventID

	if p.user.CalendarID != "" && p.user.CalendarID != calID {
		userEv, err := s.cal.CreateEvent(ctx, calendar.EventRequest{
			CalendarID:  p.user.CalendarID,
			Summary:     fmt.Sprintf("%s consultation with %s", s.class.Name, p.consultant.Name),
			Description: created.MeetLink,
			Window:      w,
		})
		if err != nil {
			return ev, s.calendarFailed(err, log)
		}
		ev.userEventID = userEv.EventID
	}
	return ev, nil
}

func (s *Service) calendarFailed(err error, log zerolog.Logger) error {
	if err == nil || errors.Is(err, calendar.ErrNoCalendar) {
		return nil
	}
	log.Warn().Err(err).Msg("calendar sync failed, continuing without it")
	s.metrics.CollaboratorFailed(s.class.Name, "calendar")
	return err
}

// dropEvents removes the events of a booking that was not recorded.
func (s *Service) dropEvents(ctx context.Context, p *parties, c *Consultation, log zerolog.Logger) []string {
	var warnings []string
	drop := func(calID, eventID string) {
		if calID == "" || eventID == "" {
			return
		}
		if err := s.cal.DeleteEvent(context.WithoutCancel(ctx), calID, eventID); s.calendarFailed(err, log) != nil {
			warnings = append(warnings, warnCalendar)
		}
	}
	drop(p.consultant.CalendarID, c.ConsultantEventID)
	drop(p.user.CalendarID, c.UserEventID)
	return warnings
}

func recipient(p *directory.Profile) notification.Recipient {
	return notification.Recipient{Name: p.Name, Email: p.Email, Timezone: p.Timezone}
}

func session(c *Consultation) notification.Session {
	s := notification.Session{Code: c.Code, MeetLink: c.MeetLink}
	if c.EventStart != nil {
		s.Start = *c.EventStart
	}
	return s
}

// notifyEach sends to both parties and turns failures into warnings.
func (s *Service) notifyEach(p *parties, log zerolog.Logger, send func(to notification.Recipient, counterpart string) error) []string {
	if s.notifier == nil {
		return nil
	}
	var warnings []string
	for _, side := range []struct {
		role      string
		to, other *directory.Profile
	}{
		{"user", p.user, p.consultant},
		{s.class.Name, p.consultant, p.user},
	} {
		if err := send(recipient(side.to), side.other.Name); err != nil {
			log.Warn().Err(err).Str("recipient", side.role).Msg("notification failed")
			s.metrics.CollaboratorFailed(s.class.Name, "notification")
			warnings = append(warnings, fmt.Sprintf(warnNotify, side.role))
		}
	}
	return warnings
}

func (s *Service) notifyBooked(ctx context.Context, p *parties, c *Consultation, log zerolog.Logger) []string {
	return s.notifyEach(p, log, func(to notification.Recipient, counterpart string) error {
		return s.notifier.BookingConfirmed(ctx, to, counterpart, session(c))
	})
}
