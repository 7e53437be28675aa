package consultation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestReschedule_MovesSlot(t *testing.T) {
	f := newFixture(t, Expert)
	c, oldKey := f.seed(t, StatusAccepted, sessionStart)
	newKey := f.slots.Add(f.consultant.ID, sessionStart.Add(24*time.Hour))

	res, err := f.svc.Reschedule(context.Background(), RescheduleRequest{Code: c.Code, Date: "2025-12-02", StartTime: "10:00"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Consultation.Status != StatusRescheduled {
		t.Errorf("expected rescheduled, got %s", res.Consultation.Status)
	}
	if f.slots.Booked(oldKey) {
		t.Error("expected the old slot to be released")
	}
	if !f.slots.Booked(newKey) {
		t.Error("expected the new slot to be booked")
	}
	stored, _ := f.repo.GetByCode(context.Background(), c.Code)
	if !stored.EventStart.Equal(newKey.Start) || stored.ConsultationDate != "2025-12-02" {
		t.Errorf("row not updated: %+v", stored)
	}
	if n := len(f.mail.Calls()); n != 2 {
		t.Errorf("expected a notice to each party, got %d", n)
	}
}

func TestReschedule_ConsultantZone(t *testing.T) {
	f := newFixture(t, Expert)
	c, _ := f.seed(t, StatusAccepted, sessionStart)
	newKey := f.slots.Add(f.consultant.ID, sessionStart.Add(24*time.Hour))

	// 21:30 in Kolkata is 16:00 UTC.
	req := RescheduleRequest{Code: c.Code, Date: "2025-12-02", StartTime: "21:30", RequesterID: f.consultant.ID}
	if _, err := f.svc.Reschedule(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.slots.Booked(newKey) {
		t.Error("expected the consultant-local time to resolve to the new slot")
	}
}

func TestReschedule_PatchesCalendarEvents(t *testing.T) {
	f := newFixture(t, Expert)
	f.consultant.CalendarID = "rao@calendar"
	c, _ := f.seed(t, StatusAccepted, sessionStart)
	f.repo.update(c.Code, func(row *Consultation) { row.ConsultantEventID = "evt-1" })
	f.slots.Add(f.consultant.ID, sessionStart.Add(24*time.Hour))

	if _, err := f.svc.Reschedule(context.Background(), RescheduleRequest{Code: c.Code, Date: "2025-12-02", StartTime: "10:00"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.cal.patched) != 1 || f.cal.patched[0] != "evt-1" {
		t.Errorf("expected evt-1 to be patched, got %v", f.cal.patched)
	}
}

func TestReschedule_TargetUnavailable(t *testing.T) {
	f := newFixture(t, Expert)
	c, oldKey := f.seed(t, StatusAccepted, sessionStart)

	_, err := f.svc.Reschedule(context.Background(), RescheduleRequest{Code: c.Code, Date: "2025-12-02", StartTime: "10:00"})
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}
	if !f.slots.Booked(oldKey) {
		t.Error("expected the old slot to stay booked")
	}
	stored, _ := f.repo.GetByCode(context.Background(), c.Code)
	if stored.Status != StatusAccepted {
		t.Errorf("expected status unchanged, got %s", stored.Status)
	}
}

func TestReschedule_SameTime(t *testing.T) {
	f := newFixture(t, Expert)
	c, _ := f.seed(t, StatusAccepted, sessionStart)

	_, err := f.svc.Reschedule(context.Background(), RescheduleRequest{Code: c.Code, Date: "2025-12-01", StartTime: "10:00"})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestReschedule_StrangerRejected(t *testing.T) {
	f := newFixture(t, Expert)
	c, _ := f.seed(t, StatusAccepted, sessionStart)
	f.slots.Add(f.consultant.ID, sessionStart.Add(24*time.Hour))

	req := RescheduleRequest{Code: c.Code, Date: "2025-12-02", StartTime: "10:00", RequesterID: uuid.New()}
	if _, err := f.svc.Reschedule(context.Background(), req); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestCompletedIsTerminal(t *testing.T) {
	f := newFixture(t, Expert)
	c, key := f.seed(t, StatusCompleted, sessionStart)
	f.slots.Add(f.consultant.ID, sessionStart.Add(24*time.Hour))

	_, err := f.svc.Reschedule(context.Background(), RescheduleRequest{Code: c.Code, Date: "2025-12-02", StartTime: "10:00"})
	if !errors.Is(err, ErrInvalidStateTransition) {
		t.Errorf("reschedule: expected ErrInvalidStateTransition, got %v", err)
	}
	_, err = f.svc.Cancel(context.Background(), c.Code)
	if !errors.Is(err, ErrInvalidStateTransition) {
		t.Errorf("cancel: expected ErrInvalidStateTransition, got %v", err)
	}

	stored, _ := f.repo.GetByCode(context.Background(), c.Code)
	if stored.Status != StatusCompleted || stored.EventStart == nil {
		t.Errorf("expected the row untouched, got %+v", stored)
	}
	if !f.slots.Booked(key) {
		t.Error("expected the slot to stay booked")
	}
}

func TestCancel_ReleasesSlot(t *testing.T) {
	f := newFixture(t, Expert)
	c, key := f.seed(t, StatusAccepted, sessionStart)

	res, err := f.svc.Cancel(context.Background(), c.Code)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Consultation.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", res.Consultation.Status)
	}
	stored, _ := f.repo.GetByCode(context.Background(), c.Code)
	if stored.Status != StatusCancelled || stored.EventStart != nil || stored.EventEnd != nil {
		t.Errorf("expected status 5 and no window, got %+v", stored)
	}
	if f.slots.Booked(key) {
		t.Error("expected the slot to be released")
	}
	if n := len(f.mail.Calls()); n != 2 {
		t.Errorf("expected a notice to each party, got %d", n)
	}

	// Cancelling again changes nothing.
	if _, err := f.svc.Cancel(context.Background(), c.Code); err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if n := len(f.mail.Calls()); n != 2 {
		t.Errorf("expected no further notices, got %d", n)
	}
}

func TestCancel_ReleaseFailureIsInternal(t *testing.T) {
	f := newFixture(t, Expert)
	c, _ := f.seed(t, StatusAccepted, sessionStart)
	f.slots.ReleaseErr = errors.New("connection reset")

	_, err := f.svc.Cancel(context.Background(), c.Code)
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("expected ErrInternal, got %v", err)
	}
	if n := len(f.mail.Calls()); n != 0 {
		t.Errorf("expected no notice, got %d", n)
	}
}

func TestCancel_NotFound(t *testing.T) {
	f := newFixture(t, Expert)
	_, err := f.svc.Cancel(context.Background(), "CONUNEX999999")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if HTTPStatus(err, false) != 404 {
		t.Errorf("expected 404, got %d", HTTPStatus(err, false))
	}
}
