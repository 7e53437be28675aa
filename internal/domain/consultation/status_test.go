package consultation

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func statusPtr(s Status) *Status { return &s }
func strPtr(s string) *string    { return &s }

func TestUpdateStatus(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		req     StatusRequest
		want    Status
		wantErr error
	}{
		{"accept", StatusPending, StatusRequest{Status: statusPtr(StatusAccepted)}, StatusAccepted, nil},
		{"complete", StatusAccepted, StatusRequest{Status: statusPtr(StatusCompleted)}, StatusCompleted, nil},
		{"paid", StatusCreated, StatusRequest{Status: statusPtr(StatusPaid)}, StatusPaid, nil},
		{"notes on completed", StatusCompleted, StatusRequest{Notes: strPtr("follow up in a month")}, StatusCompleted, nil},
		{"same status with notes", StatusCompleted, StatusRequest{Status: statusPtr(StatusCompleted), Notes: strPtr("x")}, StatusCompleted, nil},
		{"reopen completed", StatusCompleted, StatusRequest{Status: statusPtr(StatusAccepted)}, StatusCompleted, ErrInvalidStateTransition},
		{"reopen cancelled", StatusCancelled, StatusRequest{Status: statusPtr(StatusPending)}, StatusCancelled, ErrInvalidStateTransition},
		{"cancel through status", StatusAccepted, StatusRequest{Status: statusPtr(StatusCancelled)}, StatusAccepted, ErrInvalidStateTransition},
		{"reschedule through status", StatusAccepted, StatusRequest{Status: statusPtr(StatusRescheduled)}, StatusAccepted, ErrInvalidStateTransition},
		{"unknown status", StatusAccepted, StatusRequest{Status: statusPtr(9)}, StatusAccepted, ErrValidation},
		{"empty request", StatusAccepted, StatusRequest{}, StatusAccepted, ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Expert)
			c, _ := f.seed(t, tt.from, sessionStart)
			tt.req.Code = c.Code

			_, err := f.svc.UpdateStatus(context.Background(), tt.req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			stored, _ := f.repo.GetByCode(context.Background(), c.Code)
			if stored.Status != tt.want {
				t.Errorf("expected status %s, got %s", tt.want, stored.Status)
			}
			if tt.wantErr == nil && tt.req.Notes != nil && stored.Notes != *tt.req.Notes {
				t.Errorf("expected notes %q, got %q", *tt.req.Notes, stored.Notes)
			}
		})
	}
}

func TestList_RequiresFilter(t *testing.T) {
	f := newFixture(t, Expert)
	if _, _, err := f.svc.List(context.Background(), ListFilter{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	f.seed(t, StatusAccepted, sessionStart)
	items, total, err := f.svc.List(context.Background(), ListFilter{UserID: &f.user.ID, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(items) != 1 {
		t.Errorf("expected one consultation, got %d (total %d)", len(items), total)
	}

	other := uuid.New()
	if _, total, _ := f.svc.List(context.Background(), ListFilter{ConsultantID: &other}); total != 0 {
		t.Errorf("expected none for another consultant, got %d", total)
	}
}

func TestStatusTransitions(t *testing.T) {
	for s := StatusCreated; s <= StatusPaid; s++ {
		want := s != StatusCompleted
		if s.CanReschedule() != want || s.CanCancel() != want {
			t.Errorf("%s: expected reschedule/cancel allowed = %v", s, want)
		}
	}
	if Status(0).Valid() || Status(8).Valid() {
		t.Error("expected out-of-range statuses to be invalid")
	}
	if StatusRescheduled.String() != "rescheduled" {
		t.Errorf("unexpected name %q", StatusRescheduled.String())
	}
}
