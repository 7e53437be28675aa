package consultation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dmac/telehealth/internal/domain/availability"
	"github.com/dmac/telehealth/internal/platform/calendar"
	"github.com/dmac/telehealth/internal/platform/directory"
	"github.com/dmac/telehealth/internal/platform/notification"
)

// Reschedule moves a consultation to a new slot. Reserving the new slot,
// releasing the old one and updating the row commit together.
func (s *Service) Reschedule(ctx context.Context, req RescheduleRequest) (res *Booked, err error) {
	ctx, span, started := s.startSpan(ctx, "reschedule", attribute.String("telehealth.consultation_id", req.Code))
	defer func() { s.finish(span, "reschedule", started, err) }()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	c, err := s.repo.GetByCode(ctx, req.Code)
	if err != nil {
		return nil, err
	}
	if !c.Status.CanReschedule() {
		return nil, fmt.Errorf("%w: consultation %s is %s", ErrInvalidStateTransition, c.Code, c.Status)
	}

	requester := req.RequesterID
	if requester == uuid.Nil {
		requester = c.UserID
	}
	if requester != c.UserID && requester != c.ConsultantID {
		return nil, fmt.Errorf("%w: requester is not a party of consultation %s", ErrValidation, c.Code)
	}
	p, err := s.resolveParties(ctx, c.UserID, c.ConsultantID)
	if err != nil {
		return nil, err
	}
	zone := p.user.Timezone
	if requester == c.ConsultantID {
		zone = p.consultant.Timezone
	}
	start, err := s.startAt(req.Date, req.StartTime, zone)
	if err != nil {
		return nil, err
	}

	newKey := availability.NewSlotKey(c.ConsultantID, start)
	oldKey, hadSlot := c.SlotKey()
	if hadSlot && oldKey.Start.Equal(newKey.Start) {
		return nil, fmt.Errorf("%w: consultation %s is already at that time", ErrValidation, c.Code)
	}
	log := s.logger.With().Str("consultation_id", c.Code).Time("slot_start", newKey.Start).Logger()

	date := localDate(newKey.Start, p.user.Timezone)
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		ok, err := s.slots.TryReserve(ctx, newKey)
		if err != nil {
			return fmt.Errorf("%w: reserve slot: %w", ErrInternal, err)
		}
		if !ok {
			return ErrSlotUnavailable
		}
		if hadSlot {
			if err := s.slots.Release(ctx, oldKey); err != nil {
				return fmt.Errorf("%w: release previous slot: %w", ErrInternal, err)
			}
		}
		if err := s.repo.Reschedule(ctx, c.Code, newKey.Start, newKey.End(), date); err != nil {
			return internal(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	end := newKey.End()
	c.EventStart, c.EventEnd = &newKey.Start, &end
	c.ConsultationDate = date
	c.Status = StatusRescheduled
	log.Info().Msg("consultation rescheduled")

	var warnings []string
	w := calendar.Window{Start: newKey.Start, End: end}
	patch := func(calID, eventID string) {
		if calID == "" || eventID == "" {
			return
		}
		if err := s.calendarFailed(s.cal.PatchEvent(ctx, calID, eventID, w), log); err != nil {
			warnings = append(warnings, warnCalendar)
		}
	}
	patch(p.consultant.CalendarID, c.ConsultantEventID)
	patch(p.user.CalendarID, c.UserEventID)

	warnings = append(warnings, s.notifyEach(p, log, func(to notification.Recipient, counterpart string) error {
		return s.notifier.Rescheduled(ctx, to, counterpart, session(c))
	})...)
	return &Booked{Consultation: c, Warnings: warnings}, nil
}

// Cancel cancels a consultation and frees the slot it held. Cancelling a
// cancelled consultation changes nothing.
func (s *Service) Cancel(ctx context.Context, code string) (res *Booked, err error) {
	ctx, span, started := s.startSpan(ctx, "cancel", attribute.String("telehealth.consultation_id", code))
	defer func() { s.finish(span, "cancel", started, err) }()

	if code == "" {
		return nil, fmt.Errorf("%w: consultation_id is required", ErrValidation)
	}
	c, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !c.Status.CanCancel() {
		return nil, fmt.Errorf("%w: consultation %s is %s", ErrInvalidStateTransition, c.Code, c.Status)
	}
	if c.Status == StatusCancelled {
		return &Booked{Consultation: c}, nil
	}

	// The window must be read before the row clears it.
	key, hadSlot := c.SlotKey()
	log := s.logger.With().Str("consultation_id", c.Code).Logger()

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Cancel(ctx, c.Code); err != nil {
			return internal(err)
		}
		if hadSlot {
			if err := s.slots.Release(ctx, key); err != nil {
				return fmt.Errorf("%w: release slot: %w", ErrInternal, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.Status = StatusCancelled
	c.EventStart, c.EventEnd = nil, nil
	log.Info().Msg("consultation cancelled")

	p, warnings := s.lookupParties(ctx, c, log)
	if p == nil {
		return &Booked{Consultation: c, Warnings: warnings}, nil
	}
	warnings = append(warnings, s.dropEvents(ctx, p, c, log)...)
	warnings = append(warnings, s.notifyEach(p, log, func(to notification.Recipient, counterpart string) error {
		return s.notifier.Cancelled(ctx, to, counterpart, c.Code)
	})...)
	return &Booked{Consultation: c, Warnings: warnings}, nil
}

// lookupParties loads both profiles after a committed change, where a failure
// only costs the follow-up calls.
func (s *Service) lookupParties(ctx context.Context, c *Consultation, log zerolog.Logger) (*parties, []string) {
	user, err := s.dir.GetProfile(ctx, c.UserID)
	if err != nil {
		log.Warn().Err(err).Msg("user profile unavailable, skipping calendar and notification")
		return nil, []string{warnCalendar, fmt.Sprintf(warnNotify, "user")}
	}
	consultant, err := s.dir.GetProfile(ctx, c.ConsultantID)
	if err != nil {
		log.Warn().Err(err).Msg("consultant profile unavailable, skipping calendar and notification")
		return nil, []string{warnCalendar, fmt.Sprintf(warnNotify, s.class.Name)}
	}
	return &parties{user: user, consultant: consultant}, nil
}

// internal wraps store failures, keeping ErrNotFound visible.
func internal(err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, directory.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrInternal, err)
}
