package staff

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/pkg/apperr"
)

// Accounts backs auth.JWTConfig.Accounts. Each authenticated request costs
// one primary-key lookup on users.
type Accounts struct {
	repo Repository
}

func NewAccounts(repo Repository) *Accounts {
	return &Accounts{repo: repo}
}

// CurrentPrincipal reloads the token subject so removals, deactivations and
// role changes apply to tokens that were issued before them.
func (a *Accounts) CurrentPrincipal(ctx context.Context, userID uuid.UUID) (auth.Principal, error) {
	u, err := a.repo.GetByID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return auth.Principal{}, apperr.Unauthenticated("account no longer exists")
	}
	if err != nil {
		return auth.Principal{}, fmt.Errorf("load account %s: %w", userID, err)
	}
	if !u.Active {
		return auth.Principal{}, apperr.Forbidden("account is deactivated")
	}
	return u.Principal(), nil
}
