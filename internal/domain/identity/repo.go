package identity

import (
	"context"

	"github.com/google/uuid"

	"github.com/advisa/consult/internal/domain/scheduling"
)

// Directory looks users up by id.
type Directory interface {
	Lookup(ctx context.Context, id uuid.UUID) (*User, error)
}

type Repository interface {
	Directory
	Create(ctx context.Context, u *User) error
	UpdateAvailability(ctx context.Context, id uuid.UUID, a scheduling.Availability) error
	ListAdvisors(ctx context.Context, limit, offset int) ([]*User, int, error)
}
