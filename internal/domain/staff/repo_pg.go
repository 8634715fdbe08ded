package staff

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinic/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const userCols = `id, email, full_name, role, department, active, email_verified,
	COALESCE(verification_token, ''), password_hash, last_login, created_by, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (id, email, full_name, role, department, active, email_verified,
			verification_token, password_hash, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10)
		RETURNING created_at, updated_at`,
		u.ID, u.Email, u.FullName, u.Role, u.Department, u.Active, u.EmailVerified,
		u.VerificationToken, u.PasswordHash, nullUUID(u.CreatedBy),
	).Scan(&u.CreatedAt, &u.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.get(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id)
}

func (r *repoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.get(ctx, `SELECT `+userCols+` FROM users WHERE email = $1`, email)
}

func (r *repoPG) GetByVerificationToken(ctx context.Context, token string) (*User, error) {
	return r.get(ctx, `SELECT `+userCols+` FROM users WHERE verification_token = $1`, token)
}

func (r *repoPG) get(ctx context.Context, query string, arg interface{}) (*User, error) {
	u, err := scanUser(r.conn(ctx).QueryRow(ctx, query, arg))
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	return u, err
}

func (r *repoPG) Update(ctx context.Context, u *User) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE users SET full_name = $2, role = $3, department = $4, active = $5,
			email_verified = $6, verification_token = NULLIF($7, ''), updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		u.ID, u.FullName, u.Role, u.Department, u.Active, u.EmailVerified, u.VerificationToken,
	).Scan(&u.UpdatedAt)
	if db.IsNoRows(err) {
		return ErrNotFound
	}
	return err
}

func (r *repoPG) TouchLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *repoPG) CreateMember(ctx context.Context, m *Member) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO staff_mirror (admin_id, staff_id, email, full_name, role, department, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		m.AdminID, m.StaffID, m.Email, m.FullName, m.Role, m.Department, m.Active,
	).Scan(&m.CreatedAt)
}

func (r *repoPG) UpdateMembers(ctx context.Context, u *User) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE staff_mirror SET full_name = $2, role = $3, department = $4, active = $5
		WHERE staff_id = $1`,
		u.ID, u.FullName, u.Role, u.Department, u.Active)
	return err
}

func (r *repoPG) DeleteMember(ctx context.Context, adminID, staffID uuid.UUID) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM staff_mirror WHERE admin_id = $1 AND staff_id = $2`, adminID, staffID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *repoPG) CountMembers(ctx context.Context, staffID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM staff_mirror WHERE staff_id = $1`, staffID).Scan(&n)
	return n, err
}

func (r *repoPG) ListMembers(ctx context.Context, adminID uuid.UUID, limit, offset int) ([]*Member, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM staff_mirror WHERE admin_id = $1`, adminID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT admin_id, staff_id, email, full_name, role, department, active, created_at
		FROM staff_mirror WHERE admin_id = $1
		ORDER BY lower(full_name) LIMIT $2 OFFSET $3`, adminID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.AdminID, &m.StaffID, &m.Email, &m.FullName, &m.Role,
			&m.Department, &m.Active, &m.CreatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &m)
	}
	return items, total, rows.Err()
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var createdBy *uuid.UUID
	err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.Role, &u.Department, &u.Active, &u.EmailVerified,
		&u.VerificationToken, &u.PasswordHash, &u.LastLogin, &createdBy, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if createdBy != nil {
		u.CreatedBy = *createdBy
	}
	return &u, nil
}

func nullUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
