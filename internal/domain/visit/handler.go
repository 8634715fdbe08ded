package visit

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
	read := api.Group("", auth.RequireCapability(auth.ActVisitsView))
	read.GET("/visits", h.ListVisits)
	read.GET("/visits/:id", h.GetVisit)
	read.GET("/visits/:id/status-history", h.GetStatusHistory)

	api.POST("/visits", h.StartVisit, auth.RequireCapability(auth.ActVisitsStart))
	api.PATCH("/visits/:id/status", h.SetStatus, auth.RequireCapability(auth.ActVisitsSetStatus))

	nursing := api.Group("", auth.RequireCapability(auth.ActVisitsNursing))
	nursing.PUT("/visits/:id/vitals", h.RecordVitals)
	nursing.PUT("/visits/:id/nurse-notes", h.SetNurseNotes)
	nursing.POST("/visits/:id/fluids", h.AddFluidEntry)
	nursing.POST("/visits/:id/administered-meds", h.AdministerMedication)

	clinical := api.Group("", auth.RequireCapability(auth.ActVisitsClinical))
	clinical.PUT("/visits/:id/clinical-notes", h.SaveClinicalNotes)
	clinical.POST("/visits/:id/send-to-nurse", h.SendToNurse)
	clinical.POST("/visits/:id/finalize", h.Finalize)

	api.POST("/visits/:id/lab-requests", h.RequestLab, auth.RequireCapability(auth.ActLabRequest))

	lab := api.Group("", auth.RequireCapability(auth.ActLabResult))
	lab.GET("/lab/queue", h.LabQueue)
	lab.POST("/visits/:id/lab-requests/:reqId/result", h.CompleteLab)

	rx := api.Group("", auth.RequireCapability(auth.ActPrescriptionsWrite))
	rx.POST("/visits/:id/prescriptions", h.AddPrescription)
	rx.DELETE("/visits/:id/prescriptions/:lineId", h.RemovePrescription)

	desk := api.Group("", auth.RequireCapability(auth.ActBillingManage))
	desk.POST("/visits/:id/charges", h.AddCharge)
	desk.DELETE("/visits/:id/charges/:chargeId", h.RemoveCharge)
	desk.POST("/visits/:id/payment", h.FinalizePayment)
}

func actor(c echo.Context) auth.Principal {
	p, _ := auth.PrincipalFromContext(c.Request().Context())
	return p
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func (h *Handler) ListVisits(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ListFilter{Status: Status(c.QueryParam("status")), Limit: pg.Limit, Offset: pg.Offset}
	if v := c.QueryParam("patient_id"); v != "" {
		pid, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &pid
	}
	includeCompleted, _ := strconv.ParseBool(c.QueryParam("include_completed"))
	f.ActiveOnly = f.Status == "" && f.PatientID == nil && !includeCompleted

	visits, total, err := h.svc.List(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(visits, total, pg))
}

func (h *Handler) GetVisit(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	v, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) GetStatusHistory(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	history, err := h.svc.StatusHistory(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, history)
}

type startRequest struct {
	PatientID   uuid.UUID `json:"patientId"`
	AutoForward bool      `json:"autoForward"`
}

func (h *Handler) StartVisit(c echo.Context) error {
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.Start(c.Request().Context(), actor(c), req.PatientID, req.AutoForward)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) SetStatus(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	st, err := ParseStatus(req.Status)
	if err != nil {
		return err
	}
	v, err := h.svc.SetStatus(c.Request().Context(), actor(c), id, st)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

// visitCommand binds a JSON body and applies fn to the visit in the path.
func visitCommand[T any](c echo.Context, fn func(id uuid.UUID, body T) (*Visit, error)) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var body T
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := fn(id, body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) RecordVitals(c echo.Context) error {
	return visitCommand(c, func(id uuid.UUID, body Vitals) (*Visit, error) {
		return h.svc.RecordVitals(c.Request().Context(), actor(c), id, body)
	})
}

func (h *Handler) SetNurseNotes(c echo.Context) error {
	return visitCommand(c, func(id uuid.UUID, body struct {
		Notes string `json:"notes"`
	}) (*Visit, error) {
		return h.svc.SetNurseNotes(c.Request().Context(), actor(c), id, body.Notes)
	})
}

func (h *Handler) AddFluidEntry(c echo.Context) error {
	return visitCommand(c, func(id uuid.UUID, body FluidEntry) (*Visit, error) {
		return h.svc.AddFluidEntry(c.Request().Context(), actor(c), id, body)
	})
}

func (h *Handler) AdministerMedication(c echo.Context) error {
	return visitCommand(c, func(id uuid.UUID, body AdministeredMed) (*Visit, error) {
		return h.svc.AdministerMedication(c.Request().Context(), actor(c), id, body)
	})
}

type clinicalNotesRequest struct {
	ClinicalNotes
	ConsultationFee *int64 `json:"consultationFee"`
}

func (h *Handler) SaveClinicalNotes(c echo.Context) error {
	return visitCommand(c, func(id uuid.UUID, body clinicalNotesRequest) (*Visit, error) {
		return h.svc.SaveClinicalNotes(c.Request().Context(), actor(c), id, body.ClinicalNotes, body.ConsultationFee)
	})
}

func (h *Handler) SendToNurse(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	v, err := h.svc.SendToNurse(c.Request().Context(), actor(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) Finalize(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	v, err := h.svc.Finalize(c.Request().Context(), actor(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) RequestLab(c echo.Context) error {
	return visitCommand(c, func(id uuid.UUID, body struct {
		TestName string `json:"testName"`
	}) (*Visit, error) {
		return h.svc.RequestLab(c.Request().Context(), actor(c), id, body.TestName)
	})
}

// labQueueEntry pairs a visit with the template its pending tests use.
type labQueueEntry struct {
	*Visit
	Templates map[string][]LabResult `json:"templates,omitempty"`
}

func (h *Handler) LabQueue(c echo.Context) error {
	visits, err := h.svc.PendingLabQueue(c.Request().Context())
	if err != nil {
		return err
	}
	out := make([]labQueueEntry, 0, len(visits))
	for _, v := range visits {
		e := labQueueEntry{Visit: v}
		for _, r := range v.LabRequests {
			if r.Status == LabPending && IsUrinalysis(r.TestName) {
				if e.Templates == nil {
					e.Templates = make(map[string][]LabResult)
				}
				e.Templates[r.ID.String()] = UrinalysisTemplate()
			}
		}
		out = append(out, e)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) CompleteLab(c echo.Context) error {
	reqID, err := parseID(c, "reqId")
	if err != nil {
		return err
	}
	return visitCommand(c, func(id uuid.UUID, body LabResultInput) (*Visit, error) {
		return h.svc.CompleteLab(c.Request().Context(), actor(c), id, reqID, body)
	})
}

func (h *Handler) AddPrescription(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var body PrescriptionInput
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.AddPrescription(c.Request().Context(), actor(c), id, body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) RemovePrescription(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	lineID, err := parseID(c, "lineId")
	if err != nil {
		return err
	}
	v, err := h.svc.RemovePrescription(c.Request().Context(), actor(c), id, lineID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) AddCharge(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var body struct {
		Description string `json:"description"`
		Amount      int64  `json:"amount"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.AddCharge(c.Request().Context(), actor(c), id, body.Description, body.Amount)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) RemoveCharge(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	chargeID, err := parseID(c, "chargeId")
	if err != nil {
		return err
	}
	v, err := h.svc.RemoveCharge(c.Request().Context(), actor(c), id, chargeID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) FinalizePayment(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	v, err := h.svc.FinalizePayment(c.Request().Context(), actor(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}
