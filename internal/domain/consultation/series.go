package consultation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dmac/telehealth/internal/domain/availability"
	"github.com/dmac/telehealth/internal/platform/calendar"
	"github.com/dmac/telehealth/internal/platform/notification"
	"github.com/dmac/telehealth/internal/platform/timezone"
)

// SessionResult is the outcome of one session of a series.
type SessionResult struct {
	Session      int           `json:"session"`
	StartUTC     time.Time     `json:"start_utc"`
	Consultation *Consultation `json:"consultation,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// SeriesResult reports a recurring booking. Once every slot is reserved,
// sessions are recorded one by one and a failing session does not undo the
// others.
type SeriesResult struct {
	SeriesID uuid.UUID       `json:"series_id"`
	Booked   int             `json:"booked"`
	Failed   int             `json:"failed"`
	Sessions []SessionResult `json:"sessions"`
	Warnings []string        `json:"-"`
}

// Summary is the "booked X of N" line.
func (r *SeriesResult) Summary() string {
	return fmt.Sprintf("booked %d of %d, %d failed", r.Booked, len(r.Sessions), r.Failed)
}

// BookSeries reserves every session of a recurring booking, all or nothing,
// then records each session.
func (s *Service) BookSeries(ctx context.Context, req SeriesRequest) (res *SeriesResult, err error) {
	ctx, span, started := s.startSpan(ctx, "book_series",
		attribute.String("telehealth.consultant_id", req.ConsultantID.String()))
	defer func() { s.finish(span, "book_series", started, err) }()

	if !s.class.HasSeries() {
		return nil, fmt.Errorf("%w: %s consultations have no recurring series", ErrValidation, s.class.Name)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	n := req.Sessions
	if n == 0 {
		n = s.class.SeriesLength
	}
	if n < 1 || n > s.class.SeriesLength {
		return nil, fmt.Errorf("%w: sessions must be between 1 and %d", ErrValidation, s.class.SeriesLength)
	}

	product, err := s.entitled(ctx, req.UserID, req.ProductID)
	if err != nil {
		return nil, err
	}
	p, err := s.resolveParties(ctx, req.UserID, req.ConsultantID)
	if err != nil {
		return nil, err
	}
	first, err := s.startAt(req.Date, req.StartTime, p.user.Timezone)
	if err != nil {
		return nil, err
	}

	// Consultants offer slots at local civil hours, so the series steps
	// through the consultant's calendar.
	loc, err := timezone.LoadZone(p.consultant.Timezone)
	if err != nil {
		return nil, fmt.Errorf("consultant %s: %w", req.ConsultantID, err)
	}
	keys := make([]availability.SlotKey, n)
	for i, start := range s.class.SeriesStarts(first, n, loc) {
		keys[i] = availability.NewSlotKey(req.ConsultantID, start)
	}
	log := s.logger.With().Str("consultant_id", req.ConsultantID.String()).Time("series_start", first).Logger()

	// Phase one: reserve every slot or none.
	for i, key := range keys {
		ok, err := s.slots.TryReserve(ctx, key)
		if err != nil || !ok {
			for _, held := range keys[:i] {
				s.release(ctx, held, log)
			}
			if err != nil {
				return nil, fmt.Errorf("%w: reserve session %d: %w", ErrInternal, i+1, err)
			}
			return nil, &SeriesUnavailableError{Session: i + 1, Total: n, Start: key.Start}
		}
	}

	// Phase two: record each session.
	res = &SeriesResult{SeriesID: uuid.New()}
	var booked []notification.Session
	for i, key := range keys {
		sr := SessionResult{Session: i + 1, StartUTC: key.Start}
		c, warnings, err := s.recordSession(ctx, p, key, product, res.SeriesID, i+1, log)
		res.Warnings = append(res.Warnings, warnings...)
		if err != nil {
			s.release(ctx, key, log)
			sr.Error = Message(err)
			res.Failed++
			log.Warn().Err(err).Int("session", i+1).Msg("series session not recorded")
		} else {
			sr.Consultation = c
			res.Booked++
			booked = append(booked, session(c))
		}
		res.Sessions = append(res.Sessions, sr)
	}

	if res.Booked == 0 {
		return res, fmt.Errorf("%w: no session of the series could be recorded", ErrInternal)
	}
	log.Info().Str("series_id", res.SeriesID.String()).Int("booked", res.Booked).Int("failed", res.Failed).Msg("series booked")
	res.Warnings = append(res.Warnings, s.notifyEach(p, log, func(to notification.Recipient, counterpart string) error {
		return s.notifier.SeriesBooked(ctx, to, counterpart, booked)
	})...)
	return res, nil
}

// recordSession creates the calendar event and the row of one reserved
// session. The caller releases the slot when it fails.
func (s *Service) recordSession(ctx context.Context, p *parties, key availability.SlotKey, product string,
	seriesID uuid.UUID, number int, log zerolog.Logger) (*Consultation, []string, error) {
	var warnings []string
	ev, err := s.scheduleEvent(ctx, p, calendar.Window{Start: key.Start, End: key.End()}, log)
	switch {
	case errors.Is(err, ErrCalendarConflict):
		return nil, nil, err
	case err != nil:
		warnings = append(warnings, fmt.Sprintf("session %d: %s", number, warnCalendar))
	}

	start, end := key.Start, key.End()
	c := &Consultation{
		UserID:             p.user.ID,
		ConsultantID:       key.ConsultantID,
		ProductID:          product,
		EventStart:         &start,
		EventEnd:           &end,
		UserTimezone:       p.user.Timezone,
		ConsultantTimezone: p.consultant.Timezone,
		ConsultationDate:   localDate(start, p.user.Timezone),
		Status:             StatusCreated,
		MeetLink:           ev.meetLink,
		ConsultantEventID:  ev.consultantEventID,
		UserEventID:        ev.userEventID,
		SeriesID:           &seriesID,
		SessionNumber:      number,
	}
	if err := s.insert(ctx, c, p.user.Country); err != nil {
		s.dropEvents(ctx, p, c, log)
		return nil, warnings, fmt.Errorf("%w: %w", ErrInternal, err)
	}
	return c, warnings, nil
}
