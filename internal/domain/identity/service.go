package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/advisa/consult/internal/domain/scheduling"
	"github.com/advisa/consult/pkg/apperror"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Advisor returns the advisor with id, or an advisor_not_found rejection.
func (s *Service) Advisor(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := s.repo.Lookup(ctx, id)
	if errors.Is(err, ErrNotFound) || (err == nil && u.Role != RoleAdvisor) {
		return nil, apperror.NotFound(apperror.CodeAdvisorNotFound, "advisor not found")
	}
	if err != nil {
		return nil, fmt.Errorf("lookup advisor %s: %w", id, err)
	}
	return u, nil
}

func (s *Service) ListAdvisors(ctx context.Context, limit, offset int) ([]*User, int, error) {
	return s.repo.ListAdvisors(ctx, limit, offset)
}

// SetAvailability replaces the weekly schedule of an advisor. Each weekday
// may appear once.
func (s *Service) SetAvailability(ctx context.Context, advisorID uuid.UUID, a scheduling.Availability) error {
	seen := make(map[scheduling.Weekday]bool, len(a))
	for _, d := range a {
		if !d.Day.Valid() {
			return apperror.Validation(apperror.CodeInvalidDate, scheduling.ErrInvalidWeekday.Error())
		}
		if seen[d.Day] {
			return apperror.Validation(apperror.CodeInvalidDate,
				fmt.Sprintf("%s appears more than once", d.Day))
		}
		seen[d.Day] = true
		if d.Available && (d.Hours == nil || len(d.Hours.Windows()) == 0) {
			return apperror.Validation(apperror.CodeMissingField,
				fmt.Sprintf("%s is available but has no working hours", d.Day))
		}
	}
	err := s.repo.UpdateAvailability(ctx, advisorID, a)
	if errors.Is(err, ErrNotFound) {
		return apperror.NotFound(apperror.CodeAdvisorNotFound, "advisor not found")
	}
	return err
}
