package billing

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinic/internal/domain/visit"
	"github.com/clinicdesk/clinic/internal/platform/auth"
)

// Visits is the read side of the visit service the invoice endpoint needs.
type Visits interface {
	Get(ctx context.Context, id uuid.UUID) (*visit.Visit, error)
	DefaultConsultationFee() int64
}

type Handler struct {
	visits Visits
}

func NewHandler(visits Visits) *Handler {
	return &Handler{visits: visits}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/visits/:id/invoice", h.GetInvoice, auth.RequireCapability(auth.ActVisitsView))
}

func (h *Handler) GetInvoice(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	v, err := h.visits.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, NewInvoice(v, h.visits.DefaultConsultationFee()))
}
