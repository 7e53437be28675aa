package consultation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmac/telehealth/internal/platform/calendar"
	"github.com/dmac/telehealth/internal/platform/directory"
)

// memRepo is an in-memory Repository.
type memRepo struct {
	mu    sync.Mutex
	rows  map[string]*Consultation
	order []string

	// CreateErr, when set, fails Create. FailSession fails Create only for
	// that series session number.
	CreateErr   error
	FailSession int
}

func newMemRepo() *memRepo {
	return &memRepo{rows: make(map[string]*Consultation)}
}

func (r *memRepo) Create(_ context.Context, c *Consultation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CreateErr != nil {
		return r.CreateErr
	}
	if r.FailSession > 0 && c.SessionNumber == r.FailSession {
		return errors.New("insert failed")
	}
	if _, dup := r.rows[c.Code]; dup {
		return errors.New("duplicate consultation_id")
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	cp := *c
	r.rows[c.Code] = &cp
	r.order = append(r.order, c.Code)
	return nil
}

func (r *memRepo) GetByCode(_ context.Context, code string) (*Consultation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rows[code]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memRepo) update(code string, fn func(*Consultation)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rows[code]
	if !ok {
		return ErrNotFound
	}
	fn(c)
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memRepo) Reschedule(_ context.Context, code string, start, end time.Time, localDate string) error {
	return r.update(code, func(c *Consultation) {
		c.EventStart, c.EventEnd = &start, &end
		c.ConsultationDate = localDate
		c.Status = StatusRescheduled
	})
}

func (r *memRepo) Cancel(_ context.Context, code string) error {
	return r.update(code, func(c *Consultation) {
		c.Status = StatusCancelled
		c.EventStart, c.EventEnd = nil, nil
	})
}

func (r *memRepo) UpdateStatus(_ context.Context, code string, status Status, notes *string) error {
	return r.update(code, func(c *Consultation) {
		c.Status = status
		if notes != nil {
			c.Notes = *notes
		}
	})
}

func (r *memRepo) List(_ context.Context, f ListFilter) ([]*Consultation, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Consultation
	for _, code := range r.order {
		c := r.rows[code]
		if f.UserID != nil && c.UserID != *f.UserID {
			continue
		}
		if f.ConsultantID != nil && c.ConsultantID != *f.ConsultantID {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	total := len(out)
	if f.Offset >= len(out) {
		return nil, total, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, total, nil
}

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// seqIDs hands out codes per prefix the way IDGenerator does.
type seqIDs struct {
	mu     sync.Mutex
	latest map[string]string
}

func (g *seqIDs) Generate(_ context.Context, prefix string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.latest == nil {
		g.latest = make(map[string]string)
	}
	next, err := NextID(g.latest[prefix], prefix)
	if err != nil {
		return "", err
	}
	g.latest[prefix] = next
	return next, nil
}

type fakeDirectory struct {
	profiles map[uuid.UUID]*directory.Profile
}

func (d *fakeDirectory) add(p *directory.Profile) *directory.Profile {
	if d.profiles == nil {
		d.profiles = make(map[uuid.UUID]*directory.Profile)
	}
	d.profiles[p.ID] = p
	return p
}

func (d *fakeDirectory) GetProfile(_ context.Context, id uuid.UUID) (*directory.Profile, error) {
	p, ok := d.profiles[id]
	if !ok {
		return nil, directory.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (d *fakeDirectory) GetTimezone(ctx context.Context, id uuid.UUID) (string, error) {
	p, err := d.GetProfile(ctx, id)
	if err != nil {
		return "", err
	}
	return p.Timezone, nil
}

type fakeEntitlements map[uuid.UUID]string

func (e fakeEntitlements) GetSubscribedProduct(_ context.Context, id uuid.UUID) (string, bool, error) {
	p, ok := e[id]
	return p, ok, nil
}

// fakeCalendar records calls and fails on demand.
type fakeCalendar struct {
	mu        sync.Mutex
	Busy      bool
	CheckErr  error
	CreateErr error
	PatchErr  error
	created   []calendar.EventRequest
	patched   []string
	deleted   []string
}

func (f *fakeCalendar) CheckBusy(_ context.Context, _ string, _ calendar.Window) (bool, error) {
	return f.Busy, f.CheckErr
}

func (f *fakeCalendar) CreateEvent(_ context.Context, req calendar.EventRequest) (*calendar.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	f.created = append(f.created, req)
	id := fmt.Sprintf("%s-event-%d", req.CalendarID, len(f.created))
	return &calendar.Event{EventID: id, MeetLink: "https://meet.google.com/abc-defg-hij"}, nil
}

func (f *fakeCalendar) PatchEvent(_ context.Context, _ string, eventID string, _ calendar.Window) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patched = append(f.patched, eventID)
	return f.PatchErr
}

func (f *fakeCalendar) DeleteEvent(_ context.Context, _ string, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, eventID)
	return nil
}
