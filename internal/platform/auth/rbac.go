package auth

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

type Role string

const (
	RoleAdmin             Role = "ADMIN"
	RoleDoctor            Role = "DOCTOR"
	RoleNurse             Role = "NURSE"
	RoleLab               Role = "LAB"
	RoleReceptionPharmacy Role = "RECEPTION_PHARMACY"
)

var AllRoles = []Role{RoleAdmin, RoleDoctor, RoleNurse, RoleLab, RoleReceptionPharmacy}

func (r Role) Valid() bool {
	for _, known := range AllRoles {
		if r == known {
			return true
		}
	}
	return false
}

type Action string

const (
	ActStaffManage        Action = "staff.manage"
	ActPatientsRegister   Action = "patients.register"
	ActPatientsView       Action = "patients.view"
	ActAppointmentsManage Action = "appointments.manage"
	ActVisitsView         Action = "visits.view"
	ActVisitsStart        Action = "visits.start"
	ActVisitsSetStatus    Action = "visits.set_status"
	ActVisitsNursing      Action = "visits.nursing"
	ActVisitsClinical     Action = "visits.clinical"
	ActLabRequest         Action = "lab.request"
	ActLabResult          Action = "lab.result"
	ActPrescriptionsWrite Action = "prescriptions.write"
	ActPharmacyDispense   Action = "pharmacy.dispense"
	ActBillingManage      Action = "billing.manage"
	ActInventoryView      Action = "inventory.view"
	ActInventoryManage    Action = "inventory.manage"
	ActSalesCreate        Action = "sales.create"
	ActExpensesCreate     Action = "expenses.create"
	ActExpensesDelete     Action = "expenses.delete"
	ActReportsView        Action = "reports.view"
	ActDashboardView      Action = "dashboard.view"
	ActAuditView          Action = "audit.view"
)

// capabilities is the single (role, action) table every handler consults.
// ADMIN is listed explicitly rather than treated as a wildcard.
var capabilities = map[Action][]Role{
	ActStaffManage:        {RoleAdmin},
	ActPatientsRegister:   {RoleAdmin, RoleReceptionPharmacy},
	ActPatientsView:       {RoleAdmin, RoleReceptionPharmacy, RoleDoctor, RoleNurse, RoleLab},
	ActAppointmentsManage: {RoleAdmin, RoleDoctor},
	ActVisitsView:         {RoleAdmin, RoleDoctor, RoleNurse, RoleLab, RoleReceptionPharmacy},
	ActVisitsStart:        {RoleAdmin, RoleReceptionPharmacy},
	ActVisitsSetStatus:    {RoleAdmin, RoleDoctor, RoleNurse, RoleLab, RoleReceptionPharmacy},
	ActVisitsNursing:      {RoleAdmin, RoleDoctor, RoleNurse},
	ActVisitsClinical:     {RoleAdmin, RoleDoctor},
	ActLabRequest:         {RoleAdmin, RoleDoctor},
	ActLabResult:          {RoleAdmin, RoleLab},
	ActPrescriptionsWrite: {RoleAdmin, RoleDoctor},
	ActPharmacyDispense:   {RoleAdmin, RoleReceptionPharmacy},
	ActBillingManage:      {RoleAdmin, RoleReceptionPharmacy},
	ActInventoryView:      {RoleAdmin, RoleReceptionPharmacy, RoleDoctor},
	ActInventoryManage:    {RoleAdmin},
	ActSalesCreate:        {RoleAdmin, RoleReceptionPharmacy},
	ActExpensesCreate:     {RoleAdmin, RoleReceptionPharmacy},
	ActExpensesDelete:     {RoleAdmin},
	ActReportsView:        {RoleAdmin, RoleReceptionPharmacy},
	ActDashboardView:      {RoleAdmin, RoleDoctor, RoleNurse, RoleLab, RoleReceptionPharmacy},
	ActAuditView:          {RoleAdmin},
}

// Can reports whether role may perform action. Unknown actions are denied.
func Can(role Role, action Action) bool {
	for _, r := range capabilities[action] {
		if r == role {
			return true
		}
	}
	return false
}

// RequireCapability returns middleware that rejects callers whose role
// cannot perform action.
func RequireCapability(action Action) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := PrincipalFromContext(c.Request().Context())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
			}
			if !Can(p.Role, action) {
				return echo.NewHTTPError(http.StatusForbidden,
					fmt.Sprintf("role %s may not %s", p.Role, action))
			}
			return next(c)
		}
	}
}
