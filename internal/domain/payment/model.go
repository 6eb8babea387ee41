package payment

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusRefunded  Status = "refunded"
)

var (
	ErrNotFound        = errors.New("payment not found")
	ErrVersionConflict = errors.New("payment was modified concurrently")
)

// Payment is a settled or refunded charge for one appointment.
type Payment struct {
	ID             uuid.UUID       `json:"id"`
	AppointmentID  uuid.UUID       `json:"appointmentId"`
	Amount         decimal.Decimal `json:"amount"`
	Status         Status          `json:"status"`
	TransactionRef *string         `json:"transactionRef,omitempty"`
	RefundedAt     *time.Time      `json:"refundedAt,omitempty"`
	VersionID      int             `json:"versionId"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

func (p *Payment) Refunded() bool { return p.Status == StatusRefunded }
