package outbox

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinic/internal/platform/db"
)

type storePG struct {
	pool *pgxpool.Pool
}

func NewStorePG(pool *pgxpool.Pool) Store {
	return &storePG{pool: pool}
}

func (s *storePG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, s.pool)
}

const eventCols = `id, collection, document_id, op, payload, status, retry_count, delivered_to, created_at, published_at`

func (s *storePG) Append(ctx context.Context, e *Event) error {
	return s.conn(ctx).QueryRow(ctx, `
		INSERT INTO outbox_events (collection, document_id, op, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING id, status, created_at`,
		e.Collection, e.DocumentID, e.Op, []byte(e.Payload),
	).Scan(&e.ID, &e.Status, &e.CreatedAt)
}

// Claim leases rows in a single statement, so no lock is held while the
// relay talks to its sinks. Rows another relay is selecting are skipped.
func (s *storePG) Claim(ctx context.Context, limit, maxRetries int, now time.Time, lease time.Duration) ([]*Event, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		UPDATE outbox_events SET locked_until = $5
		WHERE id IN (
			SELECT id FROM outbox_events
			WHERE status = $1 AND retry_count < $2
				AND (locked_until IS NULL OR locked_until <= $3)
			ORDER BY id
			LIMIT $4
			FOR UPDATE SKIP LOCKED)
		RETURNING `+eventCols,
		StatusPending, maxRetries, now, limit, now.Add(lease))
	if err != nil {
		return nil, fmt.Errorf("claim pending events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })
	return events, nil
}

func scanEvent(row pgx.Row) (*Event, error) {
	var e Event
	var payload []byte
	if err := row.Scan(&e.ID, &e.Collection, &e.DocumentID, &e.Op, &payload,
		&e.Status, &e.RetryCount, &e.DeliveredTo, &e.CreatedAt, &e.PublishedAt); err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}
	e.Payload = payload
	return &e, nil
}

func (s *storePG) MarkPublished(ctx context.Context, id int64, at time.Time) error {
	_, err := s.conn(ctx).Exec(ctx, `
		UPDATE outbox_events SET status = $2, published_at = $3, last_error = NULL, locked_until = NULL
		WHERE id = $1`, id, StatusPublished, at)
	return err
}

func (s *storePG) MarkFailed(ctx context.Context, id int64, delivered []string, reason string, terminal bool) error {
	status := StatusPending
	if terminal {
		status = StatusFailed
	}
	if delivered == nil {
		delivered = []string{}
	}
	_, err := s.conn(ctx).Exec(ctx, `
		UPDATE outbox_events
		SET retry_count = retry_count + 1, last_error = $2, status = $3,
			delivered_to = $4, locked_until = NULL
		WHERE id = $1`, id, reason, status, delivered)
	return err
}
