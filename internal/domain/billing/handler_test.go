package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/clinic/internal/domain/visit"
)

type stubVisits map[uuid.UUID]*visit.Visit

func (s stubVisits) Get(_ context.Context, id uuid.UUID) (*visit.Visit, error) {
	v, ok := s[id]
	if !ok {
		return nil, visit.ErrNotFound
	}
	return v, nil
}

func (stubVisits) DefaultConsultationFee() int64 { return 20000 }

func TestHandler_GetInvoice(t *testing.T) {
	v := sampleVisit()
	h := NewHandler(stubVisits{v.ID: v})
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(v.ID.String())

	require.NoError(t, h.GetInvoice(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var inv Invoice
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inv))
	assert.EqualValues(t, 43000, inv.Total)
	assert.Equal(t, v.ID, inv.VisitID)
}

func TestHandler_GetInvoice_NotFound(t *testing.T) {
	h := NewHandler(stubVisits{})
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.NewString())

	assert.ErrorIs(t, h.GetInvoice(c), visit.ErrNotFound)
}
