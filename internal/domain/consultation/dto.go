package consultation

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

var (
	datePattern  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	clockPattern = regexp.MustCompile(`^\d{2}:\d{2}$`)
)

// BookRequest books one session. Date and StartTime are in the requester's
// (the user's) zone.
type BookRequest struct {
	ConsultantID uuid.UUID `json:"consultant_id"`
	UserID       uuid.UUID `json:"user_id"`
	Date         string    `json:"date"`
	StartTime    string    `json:"start_time"`
	ProductID    string    `json:"product_id"`
}

func (r BookRequest) Validate() error {
	if r.ConsultantID == uuid.Nil {
		return fmt.Errorf("%w: consultant_id is required", ErrValidation)
	}
	if r.UserID == uuid.Nil {
		return fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if r.ConsultantID == r.UserID {
		return fmt.Errorf("%w: user and consultant must differ", ErrValidation)
	}
	return validateWhen(r.Date, r.StartTime)
}

// SeriesRequest books a recurring series. Sessions defaults to the class
// series length.
type SeriesRequest struct {
	BookRequest
	Sessions int `json:"sessions"`
}

type RescheduleRequest struct {
	Code      string `json:"-"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	// RequesterID is the party whose zone Date and StartTime are in. It
	// defaults to the consultation's user.
	RequesterID uuid.UUID `json:"requester_id"`
}

func (r RescheduleRequest) Validate() error {
	if r.Code == "" {
		return fmt.Errorf("%w: consultation_id is required", ErrValidation)
	}
	return validateWhen(r.Date, r.StartTime)
}

type StatusRequest struct {
	Code   string  `json:"-"`
	Status *Status `json:"status"`
	Notes  *string `json:"notes"`
}

func (r StatusRequest) Validate() error {
	if r.Code == "" {
		return fmt.Errorf("%w: consultation_id is required", ErrValidation)
	}
	if r.Status == nil && r.Notes == nil {
		return fmt.Errorf("%w: status or notes is required", ErrValidation)
	}
	if r.Status != nil && !r.Status.Valid() {
		return fmt.Errorf("%w: unknown status %d", ErrValidation, *r.Status)
	}
	return nil
}

func validateWhen(date, clock string) error {
	if !datePattern.MatchString(date) {
		return fmt.Errorf("%w: date must be YYYY-MM-DD", ErrValidation)
	}
	if !clockPattern.MatchString(clock) {
		return fmt.Errorf("%w: start_time must be HH:MM", ErrValidation)
	}
	return nil
}
