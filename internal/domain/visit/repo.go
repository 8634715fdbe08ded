package visit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic/pkg/apperr"
)

var ErrNotFound = apperr.New(apperr.KindNotFound, "visit not found")

type Repository interface {
	Create(ctx context.Context, v *Visit) error
	GetByID(ctx context.Context, id uuid.UUID) (*Visit, error)
	// GetForUpdate reads the visit and holds its row lock until the
	// enclosing transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Visit, error)
	Update(ctx context.Context, v *Visit) error
	List(ctx context.Context, f ListFilter) ([]*Visit, int, error)
	ListWithPendingLab(ctx context.Context) ([]*Visit, error)
	ListStartedBetween(ctx context.Context, from, to time.Time) ([]*Visit, error)
	ListCompletedBetween(ctx context.Context, from, to time.Time) ([]*Visit, error)
	Tally(ctx context.Context) (Tally, error)

	AddStatusChange(ctx context.Context, sc *StatusChange) error
	ListStatusHistory(ctx context.Context, visitID uuid.UUID) ([]*StatusChange, error)
}
