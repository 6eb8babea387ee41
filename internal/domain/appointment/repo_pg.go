package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/advisa/consult/internal/domain/scheduling"
	"github.com/advisa/consult/internal/platform/db"
	"github.com/advisa/consult/pkg/apperror"
)

// exclusionViolation is the SQLSTATE raised by the scheduled-overlap
// exclusion constraint.
const exclusionViolation = "23P01"

// checkViolation is raised by the appointment table's CHECK constraints.
// Their default names come from the column list in 001_core.sql.
const (
	checkViolation       = "23514"
	durationCheckName    = "appointment_duration_check"
	endAfterStartChkName = "appointment_check"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const apptCols = `id, client_id, advisor_id, date_time, end_time, duration, status, type,
	short_description, COALESCE(notes, ''), COALESCE(consultation_summary, ''),
	COALESCE(cancellation_reason, ''), COALESCE(canceled_by, ''),
	chat_log, advices, follow_up, follow_up_of,
	payment_amount, payment_status, payment_id,
	documents, participant_status, advisor_confirmation_expires,
	version_id, created_at, updated_at`

// jsonCols are the encoded JSONB columns of one appointment.
type jsonCols struct {
	chatLog, advices, followUp, documents, participants []byte
}

func encodeJSON(a *Appointment) (jsonCols, error) {
	var (
		c   jsonCols
		err error
	)
	enc := func(v interface{}) []byte {
		if err != nil {
			return nil
		}
		var b []byte
		b, err = json.Marshal(v)
		return b
	}
	c.chatLog = enc(nonNil(a.ChatLog))
	c.advices = enc(nonNil(a.Advices))
	c.documents = enc(nonNil(a.Documents))
	c.participants = enc(a.ParticipantStatus)
	if a.FollowUp != nil {
		c.followUp = enc(a.FollowUp)
	}
	if a.ParticipantStatus == nil {
		c.participants = []byte(`{}`)
	}
	return c, err
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func scanAppt(row pgx.Row) (*Appointment, error) {
	var (
		a Appointment
		c jsonCols
	)
	err := row.Scan(&a.ID, &a.ClientID, &a.AdvisorID, &a.DateTime, &a.EndTime, &a.Duration, &a.Status, &a.Type,
		&a.ShortDescription, &a.Notes, &a.ConsultationSummary,
		&a.CancellationReason, &a.CanceledBy,
		&c.chatLog, &c.advices, &c.followUp, &a.FollowUpOf,
		&a.Payment.Amount, &a.Payment.Status, &a.Payment.PaymentID,
		&c.documents, &c.participants, &a.AdvisorConfirmationExpires,
		&a.VersionID, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	for _, f := range []struct {
		raw []byte
		dst interface{}
	}{
		{c.chatLog, &a.ChatLog},
		{c.advices, &a.Advices},
		{c.documents, &a.Documents},
		{c.participants, &a.ParticipantStatus},
	} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("decode appointment %s: %w", a.ID, err)
		}
	}
	if len(c.followUp) > 0 {
		a.FollowUp = &FollowUp{}
		if err := json.Unmarshal(c.followUp, a.FollowUp); err != nil {
			return nil, fmt.Errorf("decode appointment %s follow-up: %w", a.ID, err)
		}
	}
	return &a, nil
}

func mapWriteErr(id uuid.UUID, err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch {
	case pgErr.Code == exclusionViolation:
		return fmt.Errorf("appointment %s: %w", id, ErrSlotTaken)
	case pgErr.Code == checkViolation && pgErr.ConstraintName == durationCheckName:
		return apperror.Validation(apperror.CodeInvalidDuration, pgErr.Message).WithDetail("appointmentId", id.String())
	case pgErr.Code == checkViolation && pgErr.ConstraintName == endAfterStartChkName:
		return apperror.Validation(apperror.CodeInvalidDate, "end time must be after start time").WithDetail("appointmentId", id.String())
	}
	return err
}

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.VersionID = 1
	c, err := encodeJSON(a)
	if err != nil {
		return err
	}
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (id, client_id, advisor_id, date_time, end_time, duration, status, type,
			short_description, notes, consultation_summary, cancellation_reason, canceled_by,
			chat_log, advices, follow_up, follow_up_of,
			payment_amount, payment_status, payment_id,
			documents, participant_status, advisor_confirmation_expires, version_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NULLIF($10,''),NULLIF($11,''),NULLIF($12,''),NULLIF($13,''),
			$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)
		RETURNING created_at, updated_at`,
		a.ID, a.ClientID, a.AdvisorID, a.DateTime, a.EndTime, a.Duration, a.Status, a.Type,
		a.ShortDescription, a.Notes, a.ConsultationSummary, a.CancellationReason, a.CanceledBy,
		c.chatLog, c.advices, c.followUp, a.FollowUpOf,
		a.Payment.Amount, a.Payment.Status, a.Payment.PaymentID,
		c.documents, c.participants, a.AdvisorConfirmationExpires, a.VersionID,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	return mapWriteErr(a.ID, err)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppt(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, a *Appointment) error {
	c, err := encodeJSON(a)
	if err != nil {
		return err
	}
	err = r.conn(ctx).QueryRow(ctx, `
		UPDATE appointment SET status=$3, consultation_summary=NULLIF($4,''),
			cancellation_reason=NULLIF($5,''), canceled_by=NULLIF($6,''),
			chat_log=$7, advices=$8, follow_up=$9,
			payment_amount=$10, payment_status=$11, payment_id=$12,
			documents=$13, participant_status=$14, advisor_confirmation_expires=$15,
			version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND version_id = $2
		RETURNING version_id, updated_at`,
		a.ID, a.VersionID, a.Status, a.ConsultationSummary,
		a.CancellationReason, a.CanceledBy,
		c.chatLog, c.advices, c.followUp,
		a.Payment.Amount, a.Payment.Status, a.Payment.PaymentID,
		c.documents, c.participants, a.AdvisorConfirmationExpires,
	).Scan(&a.VersionID, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetByID(ctx, a.ID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("appointment %s: %w", a.ID, ErrVersionConflict)
	}
	return mapWriteErr(a.ID, err)
}

func (r *repoPG) list(ctx context.Context, query string, args ...interface{}) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppt(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *repoPG) ListScheduledOverlapping(ctx context.Context, advisorID uuid.UUID, iv scheduling.Interval, exclude uuid.UUID) ([]*Appointment, error) {
	// Same three cases as scheduling.Overlaps.
	return r.list(ctx, `SELECT `+apptCols+` FROM appointment
		WHERE advisor_id = $1 AND status = 'scheduled' AND id <> $4
		AND (
			(date_time <= $2 AND end_time > $2)
			OR (date_time < $3 AND end_time >= $3)
			OR (date_time >= $2 AND end_time <= $3)
		)
		ORDER BY date_time`, advisorID, iv.Start, iv.End, exclude)
}

func (r *repoPG) ListOccupying(ctx context.Context, advisorID uuid.UUID, from, to time.Time) ([]scheduling.Interval, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT date_time, end_time FROM appointment
		WHERE advisor_id = $1 AND status = ANY($2) AND date_time >= $3 AND date_time < $4
		ORDER BY date_time`, advisorID, statusStrings(OccupyingStatuses), from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []scheduling.Interval
	for rows.Next() {
		var iv scheduling.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

func (r *repoPG) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*Appointment, error) {
	if limit <= 0 {
		limit = 500
	}
	return r.list(ctx, `SELECT `+apptCols+` FROM appointment
		WHERE status = 'pending-advisor-confirmation' AND advisor_confirmation_expires < $1
		ORDER BY advisor_confirmation_expires LIMIT $2`, now, limit)
}

func (r *repoPG) ListPendingConfirmation(ctx context.Context, advisorID uuid.UUID, now time.Time) ([]*Appointment, error) {
	return r.list(ctx, `SELECT `+apptCols+` FROM appointment
		WHERE advisor_id = $1 AND status = 'pending-advisor-confirmation' AND advisor_confirmation_expires > $2
		ORDER BY advisor_confirmation_expires`, advisorID, now)
}

func (r *repoPG) List(ctx context.Context, f ListFilter) ([]*Appointment, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.ClientID != nil {
		where += fmt.Sprintf(` AND client_id = $%d`, idx)
		args = append(args, *f.ClientID)
		idx++
	}
	if f.AdvisorID != nil {
		where += fmt.Sprintf(` AND advisor_id = $%d`, idx)
		args = append(args, *f.AdvisorID)
		idx++
	}
	if len(f.Statuses) > 0 {
		where += fmt.Sprintf(` AND status = ANY($%d)`, idx)
		args = append(args, statusStrings(f.Statuses))
		idx++
	}
	if f.From != nil {
		where += fmt.Sprintf(` AND date_time >= $%d`, idx)
		args = append(args, *f.From)
		idx++
	}
	if f.To != nil {
		where += fmt.Sprintf(` AND date_time <= $%d`, idx)
		args = append(args, *f.To)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointment`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + apptCols + ` FROM appointment` + where + ` ORDER BY date_time`
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, idx, idx+1)
		args = append(args, f.Limit, f.Offset)
	}
	items, err := r.list(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func statusStrings(ss []Status) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}
