package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/advisa/consult/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const paymentCols = `id, appointment_id, amount, status, transaction_ref, refunded_at,
	version_id, created_at, updated_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.AppointmentID, &p.Amount, &p.Status, &p.TransactionRef, &p.RefundedAt,
		&p.VersionID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &p, err
}

func (r *repoPG) Create(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	p.VersionID = 1
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO payment (id, appointment_id, amount, status, transaction_ref, refunded_at, version_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		p.ID, p.AppointmentID, p.Amount, p.Status, p.TransactionRef, p.RefundedAt, p.VersionID,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return scanPayment(r.conn(ctx).QueryRow(ctx, `SELECT `+paymentCols+` FROM payment WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, p *Payment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE payment SET status=$3, transaction_ref=$4, refunded_at=$5,
			version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND version_id = $2
		RETURNING version_id, updated_at`,
		p.ID, p.VersionID, p.Status, p.TransactionRef, p.RefundedAt,
	).Scan(&p.VersionID, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("payment %s: %w", p.ID, ErrVersionConflict)
	}
	return err
}
