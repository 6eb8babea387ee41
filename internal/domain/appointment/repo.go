package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/advisa/consult/internal/domain/scheduling"
)

// OccupyingStatuses block a slot in availability listings.
var OccupyingStatuses = []Status{StatusScheduled, StatusPendingAdvisorConfirmation}

// ListFilter selects appointments. Zero fields do not filter.
type ListFilter struct {
	ClientID  *uuid.UUID
	AdvisorID *uuid.UUID
	Statuses  []Status
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

type Repository interface {
	// Create inserts a. Returns ErrSlotTaken when a is scheduled and
	// overlaps another scheduled appointment of the same advisor.
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// Update writes a if its VersionID still matches the stored row and
	// bumps the version. Returns ErrVersionConflict otherwise, or
	// ErrSlotTaken as for Create.
	Update(ctx context.Context, a *Appointment) error
	// ListScheduledOverlapping returns the advisor's scheduled appointments
	// colliding with iv, other than exclude.
	ListScheduledOverlapping(ctx context.Context, advisorID uuid.UUID, iv scheduling.Interval, exclude uuid.UUID) ([]*Appointment, error)
	// ListOccupying returns the intervals of the advisor's occupying
	// appointments that start within [from, to).
	ListOccupying(ctx context.Context, advisorID uuid.UUID, from, to time.Time) ([]scheduling.Interval, error)
	// ListExpiredPending returns pending-advisor-confirmation appointments
	// whose deadline lies before now, oldest deadline first.
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*Appointment, error)
	// ListPendingConfirmation returns the advisor's unexpired pending
	// appointments sorted by deadline.
	ListPendingConfirmation(ctx context.Context, advisorID uuid.UUID, now time.Time) ([]*Appointment, error)
	List(ctx context.Context, f ListFilter) ([]*Appointment, int, error)
}
