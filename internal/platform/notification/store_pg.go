package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/advisa/consult/internal/platform/db"
)

type storePG struct{ pool *pgxpool.Pool }

// NewStorePG returns the notification_outbox backed store.
func NewStorePG(pool *pgxpool.Pool) Store { return &storePG{pool: pool} }

func (s *storePG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, s.pool)
}

const outboxCols = `id, kind, appointment_id, channel, recipient, data, status,
	attempts, next_attempt_at, last_error, created_at, delivered_at`

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	var recipient, data []byte
	var lastErr *string
	err := row.Scan(&m.ID, &m.Kind, &m.AppointmentID, &m.Channel, &recipient, &data, &m.Status,
		&m.Attempts, &m.NextAttemptAt, &lastErr, &m.CreatedAt, &m.DeliveredAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(recipient, &m.Recipient); err != nil {
		return nil, fmt.Errorf("decode recipient: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &m.Data); err != nil {
			return nil, fmt.Errorf("decode data: %w", err)
		}
	}
	if lastErr != nil {
		m.LastError = *lastErr
	}
	return &m, nil
}

func (s *storePG) Enqueue(ctx context.Context, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i := range msgs {
		m := msgs[i]
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		recipient, err := json.Marshal(m.Recipient)
		if err != nil {
			return fmt.Errorf("encode recipient: %w", err)
		}
		data, err := json.Marshal(m.Data)
		if err != nil {
			return fmt.Errorf("encode data: %w", err)
		}
		batch.Queue(`
			INSERT INTO notification_outbox (id, kind, appointment_id, channel, recipient, data,
				status, attempts, next_attempt_at, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,'pending',0,$7,$8)`,
			m.ID, m.Kind, m.AppointmentID, m.Channel, recipient, data, m.NextAttemptAt, m.CreatedAt)
	}

	br := s.conn(ctx).SendBatch(ctx, batch)
	defer br.Close()
	for range msgs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("enqueue: %w", err)
		}
	}
	return nil
}

// Claim pushes next_attempt_at forward by lease on the claimed rows so a
// crashed relay's messages become due again once the lease runs out.
func (s *storePG) Claim(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]Message, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		UPDATE notification_outbox SET next_attempt_at = $2
		WHERE id IN (
			SELECT id FROM notification_outbox
			WHERE status = 'pending' AND next_attempt_at <= $1
			ORDER BY created_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+outboxCols,
		now, now.Add(lease), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *storePG) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.conn(ctx).Exec(ctx, `
		UPDATE notification_outbox
		SET status = 'delivered', attempts = attempts + 1, delivered_at = $2, last_error = NULL
		WHERE id = $1`, id, at)
	return err
}

func (s *storePG) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastErr string, next time.Time) error {
	if next.IsZero() {
		_, err := s.conn(ctx).Exec(ctx, `
			UPDATE notification_outbox SET status = 'dead', attempts = $2, last_error = $3
			WHERE id = $1`, id, attempts, lastErr)
		return err
	}
	_, err := s.conn(ctx).Exec(ctx, `
		UPDATE notification_outbox SET attempts = $2, last_error = $3, next_attempt_at = $4
		WHERE id = $1`, id, attempts, lastErr, next)
	return err
}

func (s *storePG) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.conn(ctx).Query(ctx, `SELECT status, COUNT(*) FROM notification_outbox GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[Status]int)
	for rows.Next() {
		var st Status
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[st] = n
	}
	return out, rows.Err()
}
