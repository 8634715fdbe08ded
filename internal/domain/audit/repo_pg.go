package audit

import (
	"context"
	"fmt"

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

const logCols = `id, timestamp, user_id, user_email, action, details`

func (r *repoPG) Create(ctx context.Context, l *Log) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO audit_logs (id, user_id, user_email, action, details)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING timestamp`,
		l.ID, l.UserID, l.UserEmail, l.Action, l.Details,
	).Scan(&l.Timestamp)
	return err
}

func (r *repoPG) List(ctx context.Context, f ListFilter) ([]*Log, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	if f.Action != "" {
		args = append(args, f.Action)
		where += fmt.Sprintf(" AND action = $%d", len(args))
	}
	if f.UserID != nil {
		args = append(args, *f.UserID)
		where += fmt.Sprintf(" AND user_id = $%d", len(args))
	}

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM audit_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, f.Limit, f.Offset)
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+logCols+` FROM audit_logs`+where+
		fmt.Sprintf(` ORDER BY timestamp DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Log
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, l)
	}
	return items, total, rows.Err()
}

func scanLog(row pgx.Row) (*Log, error) {
	var l Log
	if err := row.Scan(&l.ID, &l.Timestamp, &l.UserID, &l.UserEmail, &l.Action, &l.Details); err != nil {
		return nil, err
	}
	return &l, nil
}
