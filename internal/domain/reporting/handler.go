package reporting

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinic/internal/platform/auth"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	svc  *Service
	dash *DashboardService
}

func NewHandler(svc *Service, dash *DashboardService) *Handler {
	return &Handler{svc: svc, dash: dash}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/reports/dashboard", h.Dashboard, auth.RequireCapability(auth.ActDashboardView))

	g := api.Group("/reports", auth.RequireCapability(auth.ActReportsView))
	g.GET("/daily", h.Daily)
	g.GET("/daily.xlsx", h.DailyXLSX)
}

func (h *Handler) Dashboard(c echo.Context) error {
	p, _ := auth.PrincipalFromContext(c.Request().Context())
	d, err := h.dash.Build(c.Request().Context(), p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Daily(c echo.Context) error {
	rep, err := h.svc.DailyReport(c.Request().Context(), c.QueryParam("date"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rep)
}

func (h *Handler) DailyXLSX(c echo.Context) error {
	rep, err := h.svc.DailyReport(c.Request().Context(), c.QueryParam("date"))
	if err != nil {
		return err
	}
	data, err := ExportXLSX(rep)
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		"attachment; filename=daily-report-"+rep.Date+".xlsx")
	return c.Blob(http.StatusOK, xlsxContentType, data)
}
