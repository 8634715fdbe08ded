package appointment

import (
	"context"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic/pkg/apperr"
)

var ErrNotFound = apperr.New(apperr.KindNotFound, "appointment not found")

type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	UpdateStatus(ctx context.Context, a *Appointment) error
	List(ctx context.Context, f ListFilter) ([]*Appointment, int, error)
}
