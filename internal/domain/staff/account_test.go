package staff

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/pkg/apperr"
)

func TestAccounts_CurrentPrincipal(t *testing.T) {
	repo := newMockRepo()
	u := &User{Email: "lab@clinic.test", FullName: "Okello Peter", Role: auth.RoleLab, Active: true}
	require.NoError(t, repo.Create(context.Background(), u))
	accounts := NewAccounts(repo)

	p, err := accounts.CurrentPrincipal(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleLab, p.Role)

	u.Role = auth.RoleNurse
	repo.users[u.ID] = *u
	p, err = accounts.CurrentPrincipal(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleNurse, p.Role, "role changes apply without a new token")
}

func TestAccounts_DeactivatedIsForbidden(t *testing.T) {
	repo := newMockRepo()
	u := &User{Email: "nurse@clinic.test", Role: auth.RoleNurse, Active: false}
	require.NoError(t, repo.Create(context.Background(), u))

	_, err := NewAccounts(repo).CurrentPrincipal(context.Background(), u.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestAccounts_DeletedIsUnauthenticated(t *testing.T) {
	_, err := NewAccounts(newMockRepo()).CurrentPrincipal(context.Background(), uuid.New())
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
}
