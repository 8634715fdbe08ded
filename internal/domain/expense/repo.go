package expense

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic/pkg/apperr"
)

var ErrNotFound = apperr.New(apperr.KindNotFound, "expense not found")

type Repository interface {
	Create(ctx context.Context, e *Expense) error
	GetByID(ctx context.Context, id uuid.UUID) (*Expense, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// ListBetween returns expenses dated in [from, to), newest first.
	ListBetween(ctx context.Context, from, to time.Time) ([]*Expense, error)
}
