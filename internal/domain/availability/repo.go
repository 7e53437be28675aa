package availability

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Reserver is the slot reservation engine. Both operations are a single
// conditional write against the slot row.
type Reserver interface {
	// TryReserve flips the slot from free to booked. It returns false,
	// without error, when the slot is booked, not offered, a day off or
	// missing.
	TryReserve(ctx context.Context, key SlotKey) (bool, error)
	// Release marks the slot free. Releasing a free slot is a no-op.
	Release(ctx context.Context, key SlotKey) error
}

// SlotRepository stores the slots of one consultant class.
type SlotRepository interface {
	Reserver
	Upsert(ctx context.Context, consultantID uuid.UUID, entries []WeeklyEntry) (int, error)
	Get(ctx context.Context, key SlotKey) (*Slot, error)
	ListByConsultant(ctx context.Context, consultantID uuid.UUID) ([]*Slot, error)
	ListBetween(ctx context.Context, consultantID uuid.UUID, from, to time.Time) ([]*Slot, error)
	SetDayOff(ctx context.Context, consultantID uuid.UUID, from, to time.Time, dayOff bool) (int, error)
	SetOffered(ctx context.Context, key SlotKey, offered bool) (bool, error)
}
