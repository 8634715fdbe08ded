package patient

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic/pkg/apperr"
)

var ErrNotFound = apperr.New(apperr.KindNotFound, "patient not found")

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	List(ctx context.Context, f ListFilter) ([]*Patient, int, error)
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	CountCreatedBetween(ctx context.Context, from, to time.Time) (int, error)
}
