package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinic/internal/platform/db"
	"github.com/clinicdesk/clinic/pkg/apperr"
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

const itemCols = `id, name, category, stock, unit, price, dosage, route,
	COALESCE(expiry_date::text, ''), created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, it *Item) error {
	if it.ID == uuid.Nil {
		it.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO inventory_items (id, name, category, stock, unit, price, dosage, route, expiry_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, '')::date)
		RETURNING created_at, updated_at`,
		it.ID, it.Name, it.Category, it.Stock, it.Unit, it.Price, it.Dosage, it.Route, it.ExpiryDate,
	).Scan(&it.CreatedAt, &it.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Item, error) {
	return r.get(ctx, `SELECT `+itemCols+` FROM inventory_items WHERE id = $1`, id)
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Item, error) {
	return r.get(ctx, `SELECT `+itemCols+` FROM inventory_items WHERE id = $1 FOR UPDATE`, id)
}

func (r *repoPG) get(ctx context.Context, query string, id uuid.UUID) (*Item, error) {
	it, err := scanItem(r.conn(ctx).QueryRow(ctx, query, id))
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	return it, err
}

func (r *repoPG) Update(ctx context.Context, it *Item) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE inventory_items SET
			name = $2, category = $3, stock = $4, unit = $5, price = $6,
			dosage = $7, route = $8, expiry_date = NULLIF($9, '')::date, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		it.ID, it.Name, it.Category, it.Stock, it.Unit, it.Price, it.Dosage, it.Route, it.ExpiryDate,
	).Scan(&it.UpdatedAt)
	if db.IsNoRows(err) {
		return ErrNotFound
	}
	return err
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM inventory_items WHERE id = $1`, id)
	if db.IsForeignKeyViolation(err) {
		return apperr.Conflict("inventory item %s appears on recorded sales", id)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter) ([]*Item, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		where += fmt.Sprintf(" AND name ILIKE $%d", len(args))
	}
	if f.Category != "" {
		args = append(args, f.Category)
		where += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if f.InStockOnly {
		where += ` AND stock > 0`
	}
	if f.StockBelow > 0 {
		args = append(args, f.StockBelow)
		where += fmt.Sprintf(" AND stock < $%d", len(args))
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM inventory_items`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, f.Limit, f.Offset)
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+itemCols+` FROM inventory_items`+where+
		fmt.Sprintf(` ORDER BY lower(name) LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, it)
	}
	return items, total, rows.Err()
}

func (r *repoPG) DecrementStock(ctx context.Context, id uuid.UUID, qty int) (*Item, error) {
	it, err := scanItem(r.conn(ctx).QueryRow(ctx, `
		UPDATE inventory_items SET stock = stock - $2, updated_at = NOW()
		WHERE id = $1 AND stock >= $2
		RETURNING `+itemCols, id, qty))
	if !db.IsNoRows(err) {
		return it, err
	}
	// No row: either the item is gone or there is not enough of it.
	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrInsufficientStock
}

func scanItem(row pgx.Row) (*Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.Name, &it.Category, &it.Stock, &it.Unit, &it.Price,
		&it.Dosage, &it.Route, &it.ExpiryDate, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (r *repoPG) CreateSale(ctx context.Context, s *Sale) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	q := r.conn(ctx)
	err := q.QueryRow(ctx, `
		INSERT INTO sales (id, customer_name, staff_id, total)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		s.ID, s.CustomerName, s.StaffID, s.Total,
	).Scan(&s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert sale: %w", err)
	}
	for _, l := range s.Lines {
		_, err := q.Exec(ctx, `
			INSERT INTO sale_lines (sale_id, item_id, name, dosage, quantity, unit_price, total)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			s.ID, l.ItemID, l.Name, l.Dosage, l.Quantity, l.UnitPrice, l.Total)
		if err != nil {
			return fmt.Errorf("insert sale line: %w", err)
		}
	}
	return nil
}

func (r *repoPG) ListSalesBetween(ctx context.Context, from, to time.Time) ([]*Sale, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT s.id, s.customer_name, COALESCE(s.staff_id, '00000000-0000-0000-0000-000000000000'::uuid),
		       s.total, s.created_at,
		       l.item_id, l.name, l.dosage, l.quantity, l.unit_price, l.total
		FROM sales s
		JOIN sale_lines l ON l.sale_id = s.id
		WHERE s.created_at >= $1 AND s.created_at < $2
		ORDER BY s.created_at, s.id, l.id`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sales []*Sale
	var cur *Sale
	for rows.Next() {
		var s Sale
		var l SaleLine
		if err := rows.Scan(&s.ID, &s.CustomerName, &s.StaffID, &s.Total, &s.CreatedAt,
			&l.ItemID, &l.Name, &l.Dosage, &l.Quantity, &l.UnitPrice, &l.Total); err != nil {
			return nil, err
		}
		if cur == nil || cur.ID != s.ID {
			cur = &s
			sales = append(sales, cur)
		}
		cur.Lines = append(cur.Lines, l)
	}
	return sales, rows.Err()
}
