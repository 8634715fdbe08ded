package staff

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic/pkg/apperr"
)

var ErrNotFound = apperr.New(apperr.KindNotFound, "staff member not found")

type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByVerificationToken(ctx context.Context, token string) (*User, error)
	Update(ctx context.Context, u *User) error
	TouchLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	// Delete removes the root account and reports how many rows went.
	Delete(ctx context.Context, id uuid.UUID) (int64, error)

	CreateMember(ctx context.Context, m *Member) error
	UpdateMembers(ctx context.Context, u *User) error
	// DeleteMember removes the record adminID keeps for staffID.
	DeleteMember(ctx context.Context, adminID, staffID uuid.UUID) (int64, error)
	// CountMembers reports how many administrators keep a record of staffID.
	CountMembers(ctx context.Context, staffID uuid.UUID) (int, error)
	ListMembers(ctx context.Context, adminID uuid.UUID, limit, offset int) ([]*Member, int, error)
}
