package expense

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

const expenseCols = `id, description, amount, category, date, staff_id, staff_name, created_at`

func (r *repoPG) Create(ctx context.Context, e *Expense) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO expenses (id, description, amount, category, date, staff_id, staff_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		e.ID, e.Description, e.Amount, e.Category, e.Date, e.StaffID, e.StaffName,
	).Scan(&e.CreatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Expense, error) {
	e, err := scanExpense(r.conn(ctx).QueryRow(ctx, `SELECT `+expenseCols+` FROM expenses WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	return e, err
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM expenses WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) ListBetween(ctx context.Context, from, to time.Time) ([]*Expense, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+expenseCols+` FROM expenses
		WHERE date >= $1 AND date < $2 ORDER BY date DESC`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func scanExpense(row pgx.Row) (*Expense, error) {
	var e Expense
	var staffID *uuid.UUID
	if err := row.Scan(&e.ID, &e.Description, &e.Amount, &e.Category, &e.Date,
		&staffID, &e.StaffName, &e.CreatedAt); err != nil {
		return nil, err
	}
	if staffID != nil {
		e.StaffID = *staffID
	}
	return &e, nil
}
