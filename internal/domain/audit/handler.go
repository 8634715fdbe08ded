package audit

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireCapability(auth.ActAuditView))
	g.GET("/audit-logs", h.List)
}

func (h *Handler) List(c echo.Context) error {
	actor, _ := auth.PrincipalFromContext(c.Request().Context())
	pg := pagination.FromContext(c)
	f := ListFilter{Action: c.QueryParam("action"), Limit: pg.Limit, Offset: pg.Offset}
	if v := c.QueryParam("user_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid user_id")
		}
		f.UserID = &id
	}
	logs, total, err := h.svc.List(c.Request().Context(), actor, f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(logs, total, pg))
}
