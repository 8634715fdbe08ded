package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, it *Item) error
	GetByID(ctx context.Context, id uuid.UUID) (*Item, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Item, error)
	Update(ctx context.Context, it *Item) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f ListFilter) ([]*Item, int, error)
	// DecrementStock takes qty units out of stock only if that many are
	// available, returning ErrInsufficientStock otherwise.
	DecrementStock(ctx context.Context, id uuid.UUID, qty int) (*Item, error)

	CreateSale(ctx context.Context, s *Sale) error
	ListSalesBetween(ctx context.Context, from, to time.Time) ([]*Sale, error)
}
