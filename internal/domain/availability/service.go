package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmac/telehealth/internal/platform/db"
	"github.com/dmac/telehealth/internal/platform/timezone"
)

// TimezoneResolver returns a party's IANA zone.
type TimezoneResolver interface {
	GetTimezone(ctx context.Context, partyID uuid.UUID) (string, error)
}

// Service manages the availability of one consultant class.
type Service struct {
	slots SlotRepository
	zones TimezoneResolver
	tx    db.TxRunner
	now   func() time.Time
}

func NewService(slots SlotRepository, zones TimezoneResolver, tx db.TxRunner) *Service {
	return &Service{slots: slots, zones: zones, tx: tx, now: time.Now}
}

// Slots exposes the underlying repository, which is also the reservation
// engine used by the booking orchestrator.
func (s *Service) Slots() SlotRepository {
	return s.slots
}

func (s *Service) zone(ctx context.Context, partyID uuid.UUID) (string, error) {
	zone, err := s.zones.GetTimezone(ctx, partyID)
	if err != nil {
		return "", err
	}
	if _, err := timezone.LoadZone(zone); err != nil {
		return "", err
	}
	return zone, nil
}

// UpsertWeeklyAvailability stores UTC entries, one slot per session. Existing
// slots get their offering refreshed; booked slots are left as they are.
func (s *Service) UpsertWeeklyAvailability(ctx context.Context, consultantID uuid.UUID, entries []WeeklyEntry) (int, error) {
	if consultantID == uuid.Nil {
		return 0, fmt.Errorf("%w: consultant_id is required", ErrInvalidEntry)
	}
	if len(entries) == 0 {
		return 0, fmt.Errorf("%w: at least one entry is required", ErrInvalidEntry)
	}

	var hourly []WeeklyEntry
	seen := make(map[time.Time]bool)
	for i, e := range entries {
		if err := e.Validate(); err != nil {
			return 0, fmt.Errorf("entry %d: %w", i, err)
		}
		for _, h := range e.Hourly() {
			if seen[h.Start] {
				return 0, fmt.Errorf("%w: entry %d overlaps another entry at %s", ErrInvalidEntry, i, h.Start.Format(time.RFC3339))
			}
			seen[h.Start] = true
			hourly = append(hourly, h)
		}
	}

	var n int
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.slots.Upsert(ctx, consultantID, hourly)
		return err
	})
	return n, err
}

// UpsertLocalAvailability converts consultant-local entries to UTC with the
// consultant's zone and stores them.
func (s *Service) UpsertLocalAvailability(ctx context.Context, consultantID uuid.UUID, entries []LocalEntry) (int, error) {
	zone, err := s.zone(ctx, consultantID)
	if err != nil {
		return 0, err
	}
	utc := make([]WeeklyEntry, 0, len(entries))
	for i, e := range entries {
		w, err := e.ToUTC(zone)
		if err != nil {
			return 0, fmt.Errorf("entry %d: %w", i, err)
		}
		utc = append(utc, w)
	}
	return s.UpsertWeeklyAvailability(ctx, consultantID, utc)
}

// ListAvailability returns every slot of the consultant grouped by local
// date in viewerZone, or in the consultant's zone when viewerZone is empty.
func (s *Service) ListAvailability(ctx context.Context, consultantID uuid.UUID, viewerZone string) ([]DayGroup, error) {
	zone := viewerZone
	if zone == "" {
		var err error
		if zone, err = s.zone(ctx, consultantID); err != nil {
			return nil, err
		}
	}
	loc, err := timezone.LoadZone(zone)
	if err != nil {
		return nil, err
	}

	slots, err := s.slots.ListByConsultant(ctx, consultantID)
	if err != nil {
		return nil, err
	}
	return GroupByLocalDate(slots, loc), nil
}

// GroupByLocalDate groups slots already ordered by UTC start into local
// days. Output order follows input order.
func GroupByLocalDate(slots []*Slot, loc *time.Location) []DayGroup {
	var groups []DayGroup
	for _, sl := range slots {
		start := timezone.Normalize(sl.Start).In(loc)
		end := timezone.Normalize(sl.End).In(loc)
		date := start.Format(timezone.DateLayout)
		if len(groups) == 0 || groups[len(groups)-1].Date != date {
			groups = append(groups, DayGroup{Date: date})
		}
		g := &groups[len(groups)-1]
		g.Slots = append(g.Slots, SlotView{
			SlotID:    sl.ID,
			StartTime: start.Format(timezone.ClockLayout),
			EndTime:   end.Format(timezone.ClockLayout),
			StartUTC:  sl.Start.UTC(),
			Offered:   sl.Offered,
			Booked:    sl.Booked,
			DayOff:    sl.DayOff,
		})
	}
	return groups
}

// ToggleDayOff marks every slot starting inside the consultant-local day
// date as a day off (or working again).
func (s *Service) ToggleDayOff(ctx context.Context, consultantID uuid.UUID, date string, dayOff bool) (int, error) {
	zone, err := s.zone(ctx, consultantID)
	if err != nil {
		return 0, err
	}
	from, to, err := timezone.DayBounds(date, zone)
	if err != nil {
		return 0, err
	}
	return s.slots.SetDayOff(ctx, consultantID, from, to, dayOff)
}

// LocalKey resolves a consultant-local date and start time to a slot key.
func (s *Service) LocalKey(ctx context.Context, consultantID uuid.UUID, date, clock string) (SlotKey, error) {
	zone, err := s.zone(ctx, consultantID)
	if err != nil {
		return SlotKey{}, err
	}
	start, err := timezone.ToUTC(date, clock, zone)
	if err != nil {
		return SlotKey{}, err
	}
	return NewSlotKey(consultantID, start), nil
}

// UpdateSlotOffering changes whether the slot is offered. A booked slot is
// rejected with ErrSlotBooked.
func (s *Service) UpdateSlotOffering(ctx context.Context, key SlotKey, isAvailable bool) error {
	ok, err := s.slots.SetOffered(ctx, key, isAvailable)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	slot, err := s.slots.Get(ctx, key)
	if err != nil {
		return err
	}
	if slot.Booked {
		return ErrSlotBooked
	}
	return nil
}

// ListAvailableSlots returns the consultant's bookable slots that start on
// localDate in the requester's zone and are still in the future.
func (s *Service) ListAvailableSlots(ctx context.Context, consultantID, requesterID uuid.UUID, localDate string) ([]AvailableSlot, error) {
	zone, err := s.zone(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	loc, _ := timezone.LoadZone(zone)
	from, to, err := timezone.DayBounds(localDate, zone)
	if err != nil {
		return nil, err
	}

	slots, err := s.slots.ListBetween(ctx, consultantID, from, to)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	out := make([]AvailableSlot, 0, len(slots))
	for _, sl := range slots {
		if !sl.Bookable(now) {
			continue
		}
		out = append(out, AvailableSlot{
			SlotID:     sl.ID,
			StartLocal: timezone.Normalize(sl.Start).In(loc).Format(time.RFC3339),
			EndLocal:   timezone.Normalize(sl.End).In(loc).Format(time.RFC3339),
			StartUTC:   sl.Start.UTC(),
		})
	}
	return out, nil
}
