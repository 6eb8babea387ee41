package payment

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	// Update writes p if its VersionID still matches the stored row and
	// bumps the version. Returns ErrVersionConflict otherwise.
	Update(ctx context.Context, p *Payment) error
}
