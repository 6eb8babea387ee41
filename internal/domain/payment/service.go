package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{repo: repo, now: now}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return s.repo.GetByID(ctx, id)
}

// Record stores a completed charge for an appointment.
func (s *Service) Record(ctx context.Context, appointmentID uuid.UUID, amount decimal.Decimal, ref string) (*Payment, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("amount must not be negative")
	}
	p := &Payment{
		AppointmentID: appointmentID,
		Amount:        amount,
		Status:        StatusCompleted,
	}
	if ref != "" {
		p.TransactionRef = &ref
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}
	return p, nil
}

// MarkRefunded refunds a payment. Refunding an already refunded payment is
// a no-op; refundedNow reports whether this call changed anything.
func (s *Service) MarkRefunded(ctx context.Context, id uuid.UUID) (p *Payment, refundedNow bool, err error) {
	for attempt := 0; attempt < 3; attempt++ {
		p, err = s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if p.Refunded() {
			return p, false, nil
		}

		at := s.now().UTC()
		p.Status = StatusRefunded
		p.RefundedAt = &at
		err = s.repo.Update(ctx, p)
		if err == nil {
			return p, true, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, false, fmt.Errorf("refund payment %s: %w", id, err)
		}
	}
	return nil, false, err
}
