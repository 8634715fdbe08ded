package inventory

import (
	"net/http"
	"strconv"

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
	api.GET("/inventory", h.ListItems, auth.RequireCapability(auth.ActInventoryView))

	manage := api.Group("", auth.RequireCapability(auth.ActInventoryManage))
	manage.POST("/inventory", h.AddItem)
	manage.PATCH("/inventory/:id", h.UpdateItem)
	manage.DELETE("/inventory/:id", h.DeleteItem)

	sales := api.Group("", auth.RequireCapability(auth.ActSalesCreate))
	sales.POST("/sales", h.Sell)
	sales.GET("/sales", h.ListSales)

	api.POST("/visits/:id/prescriptions/:lineId/dispense", h.Dispense, auth.RequireCapability(auth.ActPharmacyDispense))
}

func actor(c echo.Context) auth.Principal {
	p, _ := auth.PrincipalFromContext(c.Request().Context())
	return p
}

func (h *Handler) ListItems(c echo.Context) error {
	pg := pagination.FromContext(c)
	inStock, _ := strconv.ParseBool(c.QueryParam("in_stock"))
	f := ListFilter{
		Search:      c.QueryParam("q"),
		Category:    c.QueryParam("category"),
		InStockOnly: inStock,
		Limit:       pg.Limit,
		Offset:      pg.Offset,
	}
	if low, _ := strconv.ParseBool(c.QueryParam("low_stock")); low {
		f.StockBelow = LowStockThreshold
	}
	items, total, err := h.svc.List(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) AddItem(c echo.Context) error {
	var it Item
	if err := c.Bind(&it); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	it.ID = uuid.Nil
	if err := h.svc.Add(c.Request().Context(), actor(c), &it); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, it)
}

func (h *Handler) UpdateItem(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var patch ItemPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	it, err := h.svc.Update(c.Request().Context(), actor(c), id, patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, it)
}

func (h *Handler) DeleteItem(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Delete(c.Request().Context(), actor(c), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Dispense(c echo.Context) error {
	visitID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	lineID, err := uuid.Parse(c.Param("lineId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid lineId")
	}
	res, err := h.svc.Dispense(c.Request().Context(), actor(c), visitID, lineID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Sell(c echo.Context) error {
	var req SaleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sale, err := h.svc.Sell(c.Request().Context(), actor(c), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, sale)
}

func (h *Handler) ListSales(c echo.Context) error {
	sales, err := h.svc.ListSales(c.Request().Context(), c.QueryParam("date"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sales)
}
