package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCan(t *testing.T) {
	tests := []struct {
		role   Role
		action Action
		want   bool
	}{
		{RoleAdmin, ActStaffManage, true},
		{RoleDoctor, ActStaffManage, false},
		{RoleReceptionPharmacy, ActPatientsRegister, true},
		{RoleNurse, ActPatientsRegister, false},
		{RoleNurse, ActVisitsNursing, true},
		{RoleNurse, ActVisitsClinical, false},
		{RoleDoctor, ActLabRequest, true},
		{RoleLab, ActLabResult, true},
		{RoleDoctor, ActLabResult, false},
		{RoleReceptionPharmacy, ActPharmacyDispense, true},
		{RoleDoctor, ActPharmacyDispense, false},
		{RoleReceptionPharmacy, ActInventoryManage, false},
		{RoleReceptionPharmacy, ActExpensesCreate, true},
		{RoleReceptionPharmacy, ActExpensesDelete, false},
		{RoleReceptionPharmacy, ActReportsView, true},
		{RoleNurse, ActReportsView, false},
		{RoleLab, ActDashboardView, true},
		{RoleDoctor, ActAuditView, false},
		{RoleAdmin, ActAuditView, true},
		{RoleAdmin, Action("unknown.action"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role)+"/"+string(tt.action), func(t *testing.T) {
			assert.Equal(t, tt.want, Can(tt.role, tt.action))
		})
	}
}

func TestCan_SetStatusOpenToEveryRole(t *testing.T) {
	for _, r := range AllRoles {
		assert.True(t, Can(r, ActVisitsSetStatus), r)
		assert.True(t, Can(r, ActVisitsView), r)
	}
}

func TestCan_AdminHoldsEveryCapability(t *testing.T) {
	for action := range capabilities {
		assert.True(t, Can(RoleAdmin, action), action)
	}
}

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleLab.Valid())
	assert.False(t, Role("lab").Valid())
	assert.False(t, Role("").Valid())
}

func TestRequireCapability(t *testing.T) {
	tests := []struct {
		name    string
		role    Role
		auth    bool
		code    int
		allowed bool
	}{
		{"admin allowed", RoleAdmin, true, 0, true},
		{"reception allowed", RoleReceptionPharmacy, true, 0, true},
		{"nurse forbidden", RoleNurse, true, http.StatusForbidden, false},
		{"anonymous", "", false, http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/sales", nil)
			if tt.auth {
				req = req.WithContext(WithPrincipal(req.Context(), Principal{UserID: uuid.New(), Role: tt.role}))
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			called := false
			err := RequireCapability(ActSalesCreate)(func(c echo.Context) error {
				called = true
				return c.NoContent(http.StatusOK)
			})(c)

			assert.Equal(t, tt.allowed, called)
			if tt.allowed {
				require.NoError(t, err)
				return
			}
			httpErr, ok := err.(*echo.HTTPError)
			require.True(t, ok)
			assert.Equal(t, tt.code, httpErr.Code)
		})
	}
}
