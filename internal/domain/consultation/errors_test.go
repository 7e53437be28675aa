package consultation

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/dmac/telehealth/internal/platform/directory"
	"github.com/dmac/telehealth/internal/platform/timezone"
)

func TestOutcomeAndStatus(t *testing.T) {
	series := &SeriesUnavailableError{Session: 2, Total: 6, Start: time.Date(2025, 12, 3, 16, 0, 0, 0, time.UTC)}
	tests := []struct {
		err     error
		outcome Outcome
		code    int
	}{
		{nil, OutcomeOK, http.StatusOK},
		{ErrSlotUnavailable, OutcomeConflict, http.StatusConflict},
		{fmt.Errorf("wrapped: %w", ErrCalendarConflict), OutcomeConflict, http.StatusConflict},
		{series, OutcomeConflict, http.StatusConflict},
		{fmt.Errorf("%w: bad date", ErrValidation), OutcomeValidation, http.StatusBadRequest},
		{timezone.ErrInvalidTime, OutcomeValidation, http.StatusBadRequest},
		{ErrInvalidStateTransition, OutcomeValidation, http.StatusBadRequest},
		{ErrNotEntitled, OutcomeValidation, http.StatusBadRequest},
		{fmt.Errorf("user x: %w", timezone.ErrTimezoneMissing), OutcomeValidation, http.StatusUnprocessableEntity},
		{ErrNotFound, OutcomeValidation, http.StatusNotFound},
		{directory.ErrNotFound, OutcomeValidation, http.StatusNotFound},
		{errors.New("boom"), OutcomeInternal, http.StatusInternalServerError},
		{fmt.Errorf("%w: pool closed", ErrInternal), OutcomeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := OutcomeOf(tt.err); got != tt.outcome {
			t.Errorf("OutcomeOf(%v) = %s, want %s", tt.err, got, tt.outcome)
		}
		if got := HTTPStatus(tt.err, false); got != tt.code {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.code)
		}
	}
	if HTTPStatus(nil, true) != http.StatusCreated {
		t.Error("expected 201 for a created resource")
	}
}

func TestMessage(t *testing.T) {
	if got := Message(fmt.Errorf("%w: pool closed at 10.0.0.5", ErrInternal)); got != "something went wrong, please try again later." {
		t.Errorf("internal details leaked: %q", got)
	}
	series := &SeriesUnavailableError{Session: 4, Total: 6, Start: time.Date(2025, 12, 7, 16, 0, 0, 0, time.UTC)}
	if got := Message(fmt.Errorf("book: %w", series)); got != series.Error() {
		t.Errorf("unexpected series message %q", got)
	}
	if got := Message(fmt.Errorf("%w: date must be YYYY-MM-DD", ErrValidation)); got != "validation failed: date must be YYYY-MM-DD" {
		t.Errorf("unexpected validation message %q", got)
	}
}
