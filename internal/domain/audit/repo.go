package audit

import "context"

type Repository interface {
	Create(ctx context.Context, l *Log) error
	List(ctx context.Context, f ListFilter) ([]*Log, int, error)
}
