package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/advisa/consult/internal/domain/scheduling"
	"github.com/advisa/consult/internal/platform/db"
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

const userCols = `id, role, first_name, last_name, email, push_token, preferred_language,
	consultation_fee, availability, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var (
		u     User
		email *string
		lang  *string
		avail []byte
	)
	err := row.Scan(&u.ID, &u.Role, &u.FirstName, &u.LastName, &email, &u.PushToken, &lang,
		&u.ConsultationFee, &avail, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if email != nil {
		u.Email = *email
	}
	if lang != nil {
		u.PreferredLanguage = *lang
	}
	if len(avail) > 0 {
		if err := json.Unmarshal(avail, &u.Availability); err != nil {
			return nil, fmt.Errorf("decode availability of user %s: %w", u.ID, err)
		}
	}
	return &u, nil
}

func (r *repoPG) Create(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	avail, err := json.Marshal(u.Availability)
	if err != nil {
		return err
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (id, role, first_name, last_name, email, push_token, preferred_language,
			consultation_fee, availability)
		VALUES ($1,$2,$3,$4,NULLIF($5,''),$6,NULLIF($7,''),$8,$9)
		RETURNING created_at, updated_at`,
		u.ID, u.Role, u.FirstName, u.LastName, u.Email, u.PushToken, u.PreferredLanguage,
		u.ConsultationFee, avail,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
}

func (r *repoPG) Lookup(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
}

func (r *repoPG) UpdateAvailability(ctx context.Context, id uuid.UUID, a scheduling.Availability) error {
	avail, err := json.Marshal(a)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE users SET availability = $2, updated_at = NOW() WHERE id = $1 AND role = 'advisor'`, id, avail)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) ListAdvisors(ctx context.Context, limit, offset int) ([]*User, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE role = 'advisor'`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+userCols+` FROM users WHERE role = 'advisor'
		ORDER BY last_name, first_name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, u)
	}
	return items, total, rows.Err()
}
