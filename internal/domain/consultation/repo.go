package consultation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListFilter selects consultations by user or consultant.
type ListFilter struct {
	UserID       *uuid.UUID
	ConsultantID *uuid.UUID
	Limit        int
	Offset       int
}

// Repository stores the consultations of one class.
type Repository interface {
	Create(ctx context.Context, c *Consultation) error
	GetByCode(ctx context.Context, code string) (*Consultation, error)
	// Reschedule points the row at a new window and sets status Rescheduled.
	Reschedule(ctx context.Context, code string, start, end time.Time, localDate string) error
	// Cancel sets status Cancelled and clears the window.
	Cancel(ctx context.Context, code string) error
	UpdateStatus(ctx context.Context, code string, status Status, notes *string) error
	List(ctx context.Context, f ListFilter) ([]*Consultation, int, error)
}
