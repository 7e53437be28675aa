package consultation

import (
	"context"
	"fmt"
)

// UpdateStatus sets status and notes. Cancelled and Rescheduled are reached
// only through Cancel and Reschedule. Completed and Cancelled consultations
// keep their status and accept notes only.
func (s *Service) UpdateStatus(ctx context.Context, req StatusRequest) (*Consultation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	c, err := s.repo.GetByCode(ctx, req.Code)
	if err != nil {
		return nil, err
	}

	next := c.Status
	if req.Status != nil && *req.Status != c.Status {
		next = *req.Status
		switch {
		case next == StatusCancelled || next == StatusRescheduled:
			return nil, fmt.Errorf("%w: use cancel or reschedule to reach %s", ErrInvalidStateTransition, next)
		case c.Status == StatusCompleted || c.Status == StatusCancelled:
			return nil, fmt.Errorf("%w: consultation %s is %s", ErrInvalidStateTransition, c.Code, c.Status)
		}
	}

	if err := s.repo.UpdateStatus(ctx, c.Code, next, req.Notes); err != nil {
		return nil, internal(err)
	}
	c.Status = next
	if req.Notes != nil {
		c.Notes = *req.Notes
	}
	s.logger.Info().Str("consultation_id", c.Code).Stringer("status", next).Msg("consultation status updated")
	return c, nil
}

func (s *Service) Get(ctx context.Context, code string) (*Consultation, error) {
	return s.repo.GetByCode(ctx, code)
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]*Consultation, int, error) {
	if f.UserID == nil && f.ConsultantID == nil {
		return nil, 0, fmt.Errorf("%w: user_id or consultant_id is required", ErrValidation)
	}
	return s.repo.List(ctx, f)
}
