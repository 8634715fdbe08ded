package patient

import (
	"context"
	"fmt"
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

const patientCols = `id, first_name, last_name, COALESCE(dob::text, ''), gender, phone, email,
	address, COALESCE(blood_type, ''), allergies, created_by, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (id, first_name, last_name, dob, gender, phone, email,
			address, blood_type, allergies, created_by)
		VALUES ($1, $2, $3, NULLIF($4, '')::date, $5, $6, $7, $8, NULLIF($9, ''), $10, $11)
		RETURNING created_at, updated_at`,
		p.ID, p.FirstName, p.LastName, p.DOB, p.Gender, p.Phone, p.Email,
		p.Address, p.BloodType, p.Allergies, nullUUID(p.CreatedBy),
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.get(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id)
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.get(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1 FOR UPDATE`, id)
}

func (r *repoPG) get(ctx context.Context, query string, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, query, id))
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	return p, err
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patients SET first_name = $2, last_name = $3, dob = NULLIF($4, '')::date,
			gender = $5, phone = $6, email = $7, address = $8, blood_type = NULLIF($9, ''),
			allergies = $10, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.FirstName, p.LastName, p.DOB, p.Gender, p.Phone, p.Email,
		p.Address, p.BloodType, p.Allergies,
	).Scan(&p.UpdatedAt)
	if db.IsNoRows(err) {
		return ErrNotFound
	}
	return err
}

func (r *repoPG) List(ctx context.Context, f ListFilter) ([]*Patient, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	if f.Name != "" {
		args = append(args, "%"+f.Name+"%")
		where += fmt.Sprintf(" AND (first_name || ' ' || last_name) ILIKE $%d", len(args))
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patients`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, f.Limit, f.Offset)
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+patientCols+` FROM patients`+where+
		fmt.Sprintf(` ORDER BY lower(last_name), lower(first_name) LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *repoPG) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patients WHERE id = $1)`, id).Scan(&ok)
	return ok, err
}

func (r *repoPG) CountCreatedBetween(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM patients WHERE created_at >= $1 AND created_at < $2`, from, to).Scan(&n)
	return n, err
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var createdBy *uuid.UUID
	err := row.Scan(&p.ID, &p.FirstName, &p.LastName, &p.DOB, &p.Gender, &p.Phone, &p.Email,
		&p.Address, &p.BloodType, &p.Allergies, &createdBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if createdBy != nil {
		p.CreatedBy = *createdBy
	}
	if p.Allergies == nil {
		p.Allergies = []string{}
	}
	return &p, nil
}

func nullUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
