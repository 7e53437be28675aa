// Package availabilitytest provides an in-memory SlotRepository for tests.
package availabilitytest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmac/telehealth/internal/domain/availability"
)

// Store keeps slots in a map guarded by a mutex. TryReserve is a
// compare-and-set under the lock, matching the conditional UPDATE.
type Store struct {
	mu     sync.Mutex
	nextID int64
	slots  map[availability.SlotKey]*availability.Slot

	// ReserveErr, when set, is returned by TryReserve.
	ReserveErr error
	// ReleaseErr, when set, is returned by Release.
	ReleaseErr error
}

func New() *Store {
	return &Store{slots: make(map[availability.SlotKey]*availability.Slot)}
}

// Add stores a bookable slot starting at start and returns its key.
func (s *Store) Add(consultantID uuid.UUID, start time.Time) availability.SlotKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := availability.NewSlotKey(consultantID, start)
	s.nextID++
	s.slots[key] = &availability.Slot{
		ID:           s.nextID,
		ConsultantID: consultantID,
		Start:        key.Start,
		End:          key.End(),
		Offered:      true,
		UpdatedAt:    time.Now().UTC(),
	}
	return key
}

// Booked reports whether the slot is currently booked.
func (s *Store) Booked(key availability.SlotKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[key]
	return ok && sl.Booked
}

// Mutate applies fn to the stored slot under the lock.
func (s *Store) Mutate(key availability.SlotKey, fn func(*availability.Slot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok := s.slots[key]; ok {
		fn(sl)
	}
}

func (s *Store) TryReserve(_ context.Context, key availability.SlotKey) (bool, error) {
	if s.ReserveErr != nil {
		return false, s.ReserveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key = availability.NewSlotKey(key.ConsultantID, key.Start)
	sl, ok := s.slots[key]
	if !ok || sl.Booked || !sl.Offered || sl.DayOff {
		return false, nil
	}
	sl.Booked = true
	sl.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *Store) Release(_ context.Context, key availability.SlotKey) error {
	if s.ReleaseErr != nil {
		return s.ReleaseErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key = availability.NewSlotKey(key.ConsultantID, key.Start)
	if sl, ok := s.slots[key]; ok {
		sl.Booked = false
		sl.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (s *Store) Upsert(_ context.Context, consultantID uuid.UUID, entries []availability.WeeklyEntry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range entries {
		key := availability.NewSlotKey(consultantID, e.Start)
		if sl, ok := s.slots[key]; ok {
			if sl.Booked {
				continue
			}
			sl.End = e.End.UTC()
			sl.Offered = e.IsAvailable
			sl.DayOff = false
			n++
			continue
		}
		s.nextID++
		s.slots[key] = &availability.Slot{
			ID:           s.nextID,
			ConsultantID: consultantID,
			Start:        key.Start,
			End:          e.End.UTC(),
			Offered:      e.IsAvailable,
			UpdatedAt:    time.Now().UTC(),
		}
		n++
	}
	return n, nil
}

func (s *Store) Get(_ context.Context, key availability.SlotKey) (*availability.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[availability.NewSlotKey(key.ConsultantID, key.Start)]
	if !ok {
		return nil, availability.ErrSlotNotFound
	}
	cp := *sl
	return &cp, nil
}

func (s *Store) ListByConsultant(_ context.Context, consultantID uuid.UUID) ([]*availability.Slot, error) {
	return s.list(func(sl *availability.Slot) bool { return sl.ConsultantID == consultantID }), nil
}

func (s *Store) ListBetween(_ context.Context, consultantID uuid.UUID, from, to time.Time) ([]*availability.Slot, error) {
	return s.list(func(sl *availability.Slot) bool {
		return sl.ConsultantID == consultantID && !sl.Start.Before(from) && sl.Start.Before(to)
	}), nil
}

func (s *Store) SetDayOff(_ context.Context, consultantID uuid.UUID, from, to time.Time, dayOff bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sl := range s.slots {
		if sl.ConsultantID == consultantID && !sl.Start.Before(from) && sl.Start.Before(to) {
			sl.DayOff = dayOff
			n++
		}
	}
	return n, nil
}

func (s *Store) SetOffered(_ context.Context, key availability.SlotKey, offered bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[availability.NewSlotKey(key.ConsultantID, key.Start)]
	if !ok || sl.Booked {
		return false, nil
	}
	sl.Offered = offered
	return true, nil
}

func (s *Store) list(keep func(*availability.Slot) bool) []*availability.Slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*availability.Slot
	for _, sl := range s.slots {
		if keep(sl) {
			cp := *sl
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// NoTx runs fn directly, for services that take a db.TxRunner.
type NoTx struct{}

func (NoTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Zones is a static timezone resolver.
type Zones map[uuid.UUID]string

func (z Zones) GetTimezone(_ context.Context, id uuid.UUID) (string, error) {
	return z[id], nil
}
