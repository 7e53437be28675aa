package consultation

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dmac/telehealth/internal/platform/directory"
	"github.com/dmac/telehealth/internal/platform/timezone"
)

var (
	ErrValidation             = errors.New("validation failed")
	ErrTimezoneMissing        = timezone.ErrTimezoneMissing
	ErrSlotUnavailable        = errors.New("slot unavailable")
	ErrSeriesUnavailable      = errors.New("series unavailable")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrCalendarConflict       = errors.New("calendar conflict")
	ErrNotEntitled            = errors.New("no active subscription permits this booking")
	ErrNotFound               = errors.New("consultation not found")
	ErrInternal               = errors.New("internal error")
)

// SeriesUnavailableError names the first session of a recurring booking that
// could not be reserved.
type SeriesUnavailableError struct {
	Session int
	Total   int
	Start   time.Time
}

func (e *SeriesUnavailableError) Error() string {
	return fmt.Sprintf("session %d of %d (%s UTC) is already booked or unavailable, no session was booked",
		e.Session, e.Total, e.Start.UTC().Format("2006-01-02 15:04"))
}

func (e *SeriesUnavailableError) Is(target error) bool {
	return target == ErrSeriesUnavailable
}

// Outcome is the discriminated result of an orchestrator call.
type Outcome string

const (
	OutcomeOK         Outcome = "ok"
	OutcomeConflict   Outcome = "conflict"
	OutcomeValidation Outcome = "validation_error"
	OutcomeInternal   Outcome = "internal_error"
)

// OutcomeOf classifies err. A nil error is ok.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrSlotUnavailable), errors.Is(err, ErrSeriesUnavailable), errors.Is(err, ErrCalendarConflict):
		return OutcomeConflict
	case errors.Is(err, ErrValidation), errors.Is(err, ErrTimezoneMissing), errors.Is(err, timezone.ErrInvalidTime),
		errors.Is(err, ErrInvalidStateTransition), errors.Is(err, ErrNotEntitled),
		errors.Is(err, ErrNotFound), errors.Is(err, directory.ErrNotFound):
		return OutcomeValidation
	default:
		return OutcomeInternal
	}
}

// Message is the user-visible text for err.
func Message(err error) string {
	var series *SeriesUnavailableError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &series):
		return series.Error()
	case errors.Is(err, ErrSlotUnavailable):
		return "this slot is already booked or unavailable, please choose another."
	case errors.Is(err, ErrCalendarConflict):
		return "the consultant's calendar is busy at that time, please choose another slot."
	case errors.Is(err, ErrTimezoneMissing):
		return "your timezone is missing, please complete your profile before booking."
	case OutcomeOf(err) == OutcomeInternal:
		return "something went wrong, please try again later."
	default:
		return err.Error()
	}
}

// HTTPStatus maps err to a response code.
func HTTPStatus(err error, created bool) int {
	switch {
	case err == nil && created:
		return http.StatusCreated
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrTimezoneMissing):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrNotFound), errors.Is(err, directory.ErrNotFound):
		return http.StatusNotFound
	}
	switch OutcomeOf(err) {
	case OutcomeConflict:
		return http.StatusConflict
	case OutcomeValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
