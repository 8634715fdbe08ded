package visit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic/internal/config"
	"github.com/clinicdesk/clinic/internal/domain/audit"
	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/internal/platform/db"
	"github.com/clinicdesk/clinic/internal/platform/outbox"
	"github.com/clinicdesk/clinic/pkg/apperr"
)

// Settings carries the clinic-wide pricing and workflow switches.
type Settings struct {
	ConsultationFee   int64
	LabTestPrice      int64
	LabAdvancePolicy  string
	StrictTransitions bool
}

func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		ConsultationFee:   cfg.ConsultationFee,
		LabTestPrice:      cfg.LabTestPrice,
		LabAdvancePolicy:  cfg.LabAdvancePolicy,
		StrictTransitions: cfg.StrictTransitions,
	}
}

// Patients answers whether a patient exists.
type Patients interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

// Catalog resolves the inventory item a prescription refers to.
type Catalog interface {
	LookupMedicine(ctx context.Context, id uuid.UUID) (CatalogItem, error)
}

type Service struct {
	repo     Repository
	tx       db.TxRunner
	patients Patients
	catalog  Catalog
	changes  outbox.Recorder
	audit    audit.Recorder
	settings Settings
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, tx db.TxRunner, patients Patients, catalog Catalog,
	changes outbox.Recorder, auditRec audit.Recorder, settings Settings, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		tx:       tx,
		patients: patients,
		catalog:  catalog,
		changes:  changes,
		audit:    auditRec,
		settings: settings,
		logger:   logger,
		now:      time.Now,
	}
}

// DefaultConsultationFee is billed when a visit carries no fee of its own.
func (s *Service) DefaultConsultationFee() int64 {
	return s.settings.ConsultationFee
}

var errUnchanged = errors.New("visit unchanged")

// mutate runs fn against the locked visit and, unless fn reports
// errUnchanged, persists it together with its change event.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, v *Visit) error) (*Visit, error) {
	var out *Visit
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		v, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(ctx, v); err != nil {
			if errors.Is(err, errUnchanged) {
				out = v
				return nil
			}
			return err
		}
		v.UpdatedAt = s.now()
		if err := s.repo.Update(ctx, v); err != nil {
			return fmt.Errorf("update visit %s: %w", id, err)
		}
		if err := s.changes.Record(ctx, Collection, v.ID.String(), outbox.OpUpdate, v); err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// advance moves v to status to and appends a history row. Moving to the
// current status does nothing. Moves outside the transition table are
// rejected in strict mode and logged otherwise.
func (s *Service) advance(ctx context.Context, actor auth.Principal, v *Visit, to Status) error {
	from := v.Status
	if from == to {
		return nil
	}
	legal := CanTransition(from, to)
	if !legal {
		if s.settings.StrictTransitions {
			return apperr.Conflict("visit cannot move from %s to %s (allowed: %s)",
				from, to, statusList(transitions[from]))
		}
		s.logger.Warn().
			Str("visit_id", v.ID.String()).
			Str("from", string(from)).
			Str("to", string(to)).
			Str("user_id", actor.UserID.String()).
			Msg("illegal visit status transition applied")
	}

	now := s.now()
	v.Status = to
	switch {
	case to == StatusCompleted:
		v.CompletedAt = &now
	case from == StatusCompleted:
		v.CompletedAt = nil
	}

	sc := &StatusChange{
		VisitID:   v.ID,
		From:      from,
		To:        to,
		Legal:     legal,
		ChangedBy: actor.UserID,
		ChangedAt: now,
	}
	if err := s.repo.AddStatusChange(ctx, sc); err != nil {
		return fmt.Errorf("record status change: %w", err)
	}
	return nil
}

func ensureOpen(v *Visit) error {
	if v.Status == StatusCompleted {
		return apperr.Conflict("visit %s is completed", v.ID)
	}
	return nil
}

// -- Lifecycle --

// Start opens a visit for an existing patient. Auto-forwarded visits skip
// the reception and nursing stages.
func (s *Service) Start(ctx context.Context, actor auth.Principal, patientID uuid.UUID, autoForward bool) (*Visit, error) {
	if patientID == uuid.Nil {
		return nil, apperr.Invalid("patientId is required")
	}
	var v *Visit
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		ok, err := s.patients.Exists(ctx, patientID)
		if err != nil {
			return fmt.Errorf("look up patient %s: %w", patientID, err)
		}
		if !ok {
			return apperr.NotFound("patient %s not found", patientID)
		}

		status := StatusCheckedIn
		if autoForward {
			status = StatusWithDoctor
		}
		now := s.now()
		v = &Visit{
			PatientID: patientID,
			StaffID:   actor.UserID,
			Status:    status,
			Date:      now,
			UpdatedAt: now,
		}
		v.normalize()
		if err := s.repo.Create(ctx, v); err != nil {
			return fmt.Errorf("create visit: %w", err)
		}
		sc := &StatusChange{VisitID: v.ID, To: status, Legal: true, ChangedBy: actor.UserID, ChangedAt: now}
		if err := s.repo.AddStatusChange(ctx, sc); err != nil {
			return fmt.Errorf("record status change: %w", err)
		}
		return s.changes.Record(ctx, Collection, v.ID.String(), outbox.OpCreate, v)
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// SetStatus accepts any known status from any caller. Setting the current
// status again is a no-op.
func (s *Service) SetStatus(ctx context.Context, actor auth.Principal, id uuid.UUID, to Status) (*Visit, error) {
	if !to.Valid() {
		return nil, apperr.Invalid("unknown visit status %q", to)
	}
	return s.mutate(ctx, id, func(ctx context.Context, v *Visit) error {
		if v.Status == to {
			return errUnchanged
		}
		return s.advance(ctx, actor, v, to)
	})
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Visit, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]*Visit, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, apperr.Invalid("unknown visit status %q", f.Status)
	}
	return s.repo.List(ctx, f)
}

func (s *Service) ListActive(ctx context.Context, limit, offset int) ([]*Visit, int, error) {
	return s.repo.List(ctx, ListFilter{ActiveOnly: true, Limit: limit, Offset: offset})
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Visit, int, error) {
	return s.repo.List(ctx, ListFilter{PatientID: &patientID, Limit: limit, Offset: offset})
}

// StartedBetween returns visits whose date falls in [from, to).
func (s *Service) StartedBetween(ctx context.Context, from, to time.Time) ([]*Visit, error) {
	return s.repo.ListStartedBetween(ctx, from, to)
}

// CompletedBetween returns visits paid off in [from, to).
func (s *Service) CompletedBetween(ctx context.Context, from, to time.Time) ([]*Visit, error) {
	return s.repo.ListCompletedBetween(ctx, from, to)
}

// Tally summarises visit work across the whole clinic.
func (s *Service) Tally(ctx context.Context) (Tally, error) {
	return s.repo.Tally(ctx)
}

func (s *Service) StatusHistory(ctx context.Context, id uuid.UUID) ([]*StatusChange, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListStatusHistory(ctx, id)
}

// -- Nursing --

func (s *Service) RecordVitals(ctx context.Context, actor auth.Principal, id uuid.UUID, vitals Vitals) (*Visit, error) {
	if vitals.BP == "" && vitals.Temperature == "" && vitals.Pulse == "" &&
		vitals.Weight == "" && vitals.Height == "" && vitals.OxygenSat == "" && vitals.RespiratoryRate == "" {
		return nil, apperr.Invalid("at least one vital sign is required")
	}
	return s.mutate(ctx, id, func(ctx context.Context, v *Visit) error {
		if err := ensureOpen(v); err != nil {
			return err
		}
		vitals.RecordedBy = actor.UserID
		vitals.RecordedAt = s.now()
		v.Vitals = &vitals
		return nil
	})
}

func (s *Service) SetNurseNotes(ctx context.Context, actor auth.Principal, id uuid.UUID, notes string) (*Visit, error) {
	return s.mutate(ctx, id, func(ctx context.Context, v *Visit) error {
		if err := ensureOpen(v); err != nil {
			return err
		}
		v.NurseNotes = notes
		return nil
	})
}

func (s *Service) AddFluidEntry(ctx context.Context, actor auth.Principal, id uuid.UUID, entry FluidEntry) (*Visit, error) {
	if entry.Intake == "" && entry.Output == "" {
		return nil, apperr.Invalid("fluid entry needs an intake or an output")
	}
	return s.mutate(ctx, id, func(ctx context.Context, v *Visit) error {
		if err := ensureOpen(v); err != nil {
			return err
		}
		if entry.Timestamp.IsZero() {
			entry.Timestamp = s.now()
		}
		v.FluidBalance = append(v.FluidBalance, entry)
		return nil
	})
}

func (s *Service) AdministerMedication(ctx context.Context, actor auth.Principal, id uuid.UUID, med AdministeredMed) (*Visit, error) {
	med.MedicineName = strings.TrimSpace(med.MedicineName)
	if med.MedicineName == "" || med.Dosage == "" {
		return nil, apperr.Invalid("medicineName and dosage are required")
	}
	return s.mutate(ctx, id, func(ctx context.Context, v *Visit) error {
		if err := ensureOpen(v); err != nil {
			return err
		}
		if med.Timestamp.IsZero() {
			med.Timestamp = s.now()
		}
		if med.GivenBy == "" {
			med.GivenBy = actor.Name
		}
		v.AdministeredMeds = append(v.AdministeredMeds, med)
		return nil
	})
}

func (s *Service) SendToNurse(ctx context.Context, actor auth.Principal, id uuid.UUID) (*Visit, error) {
	return s.mutate(ctx, id, func(ctx context.Context, v *Visit) error {
		if v.Status == StatusWithNurse {
			return errUnchanged
		}
		return s.advance(ctx, actor, v, StatusWithNurse)
	})
}

// -- Doctor --

// SaveClinicalNotes replaces the doctor's notes. A nil fee leaves the
// visit's consultation fee as it was.
func (s *Service) SaveClinicalNotes(ctx context.Context, actor auth.Principal, id uuid.UUID, notes ClinicalNotes, fee *int64) (*Visit, error) {
	if fee != nil && *fee < 0 {
		return nil, apperr.Invalid("consultationFee must not be negative")
	}
	return s.mutate(ctx, id, func(ctx context.Context, v *Visit) error {
		if err := ensureOpen(v); err != nil {
			return err
		}
		v.ClinicalNotes = &notes
		if fee != nil {
			f := *fee
			v.ConsultationFee = &f
		}
		return nil
	})
}

// RequestLab appends a pending test at the clinic's lab price and sends the
// visit to the lab.
func (s *Service) RequestLab(ctx context.Context, actor auth.Principal, id uuid.UUID, testName string) (*Visit, error) {
	testName = strings.TrimSpace(testName)
	if testName == "" {
		return nil, apperr.Invalid("testName is required")
	}
	return s.mutate(ctx, id, func(ctx context.Context, v *Visit) error {
		if err := ensureOpen(v); err != nil {
			return err
		}
		v.LabRequests = append(v.LabRequests, LabRequest{
			ID:          uuid.New(),
			TestName:    testName,
			Status:      LabPending,
			Price:       s.settings.LabTestPrice,
			RequestedBy: actor.UserID,
			RequestedAt: s.now(),
		})
		return s.advance(ctx, actor, v, StatusLabPending)
	})
}

type PrescriptionInput struct {
	MedicineID uuid.UUID `json:"medicineId"`
	Dosage     string    `json:"dosage"`
	Route      string    `json:"route"`
	Duration   string    `json:"duration"`
	Quantity   int       `json:"quantity"`
}

// AddPrescription captures the item's current price on the new line.
func (s *Service) AddPrescription(ctx context.Context, actor auth.Principal, id uuid.UUID, in PrescriptionInput) (*Visit, error) {
	if in.MedicineID == uuid.Nil {
		return nil, apperr.Invalid("medicineId is required")
	}
	if in.Quantity < 0 {
		return nil, apperr.Invalid("quantity must not be negative")
	}
	if in.Quantity == 0 {
		in.Quantity = 1
	}
	return s.mutate(ctx, id, func(ctx context.Context, v *Visit) error {
		if err := ensureOpen(v); err != nil {
			return err
		}
		item, err := s.catalog.LookupMedicine(ctx, in.MedicineID)
		if err != nil {
			return err
		}
		line := PrescriptionLine{
			ID:           uuid.New(),
			MedicineID:   item.ID,
			MedicineName: item.Name,
			Dosage:       in.Dosage,
			Route:        in.Route,
			Duration:     in.Duration,
			Quantity:     in.Quantity,
			Price:        item.Price,
			PrescribedBy: actor.UserID,
		}
		if line.Dosage == "" {
			line.Dosage = item.Dosage
		}
		if line.Route == "" {
			line.Route = item.Route
		}
		v.Prescription = append(v.Prescription, line)
		return nil
	})
}

func (s *Service) RemovePrescription(ctx context.Context, actor auth.Principal, id, lineID uuid.UUID) (*Visit, error) {
	return s.mutate(ctx, id, func(ctx context.Context, v *Visit) error {
		if err := ensureOpen(v); err != nil {
			return err
		}
		line, err := v.prescriptionLine(lineID)
		if err != nil {
			return err
		}
		if line.Dispensed {
			return apperr.Conflict("prescription line %s is already dispensed", lineID)
		}
		kept := v.Prescription[:0]
		for _, l := range v.Prescription {
			if l.ID != lineID {
				kept = append(kept, l)
			}
		}
		v.Prescription = kept
		return nil
	})
}

// Finalize closes the doctor's part of the visit and hands it to pharmacy.
func (s *Service) Finalize(ctx context.Context, actor auth.Principal, id uuid.UUID) (*Visit, error) {
	return s.mutate(ctx, id, func(ctx context.Context, v *Visit) error {
		if err := ensureOpen(v); err != nil {
			return err
		}
		if v.Status == StatusPharmacyPending {
			return errUnchanged
		}
		return s.advance(ctx, actor, v, StatusPharmacyPending)
	})
}

// -- Lab --

// PendingLabQueue returns visits with at least one pending lab request,
// oldest first.
func (s *Service) PendingLabQueue(ctx context.Context) ([]*Visit, error) {
	return s.repo.ListWithPendingLab(ctx)
}

type LabResultInput struct {
	Result            string      `json:"result"`
	StructuredResults []LabResult `json:"structuredResults"`
}

// CompleteLab records a result. A Lab-Pending visit goes back to the doctor
// once the lab advance policy is met.
func (s *Service) CompleteLab(ctx context.Context, actor auth.Principal, id, requestID uuid.UUID, in LabResultInput) (*Visit, error) {
	return s.mutate(ctx, id, func(ctx context.Context, v *Visit) error {
		req, err := v.labRequest(requestID)
		if err != nil {
			return err
		}
		if req.Status == LabCompleted {
			return apperr.Conflict("lab request %s already has a result", requestID)
		}

		switch {
		case IsUrinalysis(req.TestName):
			if len(in.StructuredResults) == 0 {
				return apperr.Invalid("%s results must use the urinalysis template", req.TestName)
			}
			req.StructuredResults = fillTemplate(UrinalysisTemplate(), in.StructuredResults)
			req.Result = StructuredResultText
		case len(in.StructuredResults) > 0:
			req.StructuredResults = in.StructuredResults
			req.Result = in.Result
			if req.Result == "" {
				req.Result = StructuredResultText
			}
		case strings.TrimSpace(in.Result) == "":
			return apperr.Invalid("result is required")
		default:
			req.Result = in.Result
		}

		now := s.now()
		by := actor.UserID
		req.Status = LabCompleted
		req.ResultDate = &now
		req.ResultBy = &by

		if v.Status != StatusLabPending {
			return nil
		}
		if s.settings.LabAdvancePolicy == config.LabAdvanceAny || v.PendingLabCount() == 0 {
			return s.advance(ctx, actor, v, StatusWithDoctor)
		}
		return nil
	})
}

// fillTemplate copies values onto the template rows with a matching
// parameter name. Rows the template does not know are appended.
func fillTemplate(template, values []LabResult) []LabResult {
	index := make(map[string]int, len(template))
	for i, r := range template {
		index[strings.ToLower(r.Parameter)] = i
	}
	for _, val := range values {
		i, ok := index[strings.ToLower(strings.TrimSpace(val.Parameter))]
		if !ok {
			template = append(template, val)
			continue
		}
		template[i].Value = val.Value
		if val.Unit != "" {
			template[i].Unit = val.Unit
		}
	}
	return template
}

// -- Pharmacy & billing desk --

// MarkDispensed flags one prescription line as dispensed. Callers run it in
// the transaction that also takes the unit out of stock.
func (s *Service) MarkDispensed(ctx context.Context, actor auth.Principal, id, lineID uuid.UUID) (DispensedLine, error) {
	var out DispensedLine
	_, err := s.mutate(ctx, id, func(ctx context.Context, v *Visit) error {
		line, err := v.prescriptionLine(lineID)
		if err != nil {
			return err
		}
		if line.Dispensed {
			return apperr.Conflict("prescription line %s is already dispensed", lineID)
		}
		now := s.now()
		line.Dispensed = true
		line.DispensedAt = &now
		out = DispensedLine{
			VisitID:      v.ID,
			LineID:       line.ID,
			MedicineID:   line.MedicineID,
			MedicineName: line.MedicineName,
		}
		return nil
	})
	return out, err
}

func (s *Service) AddCharge(ctx context.Context, actor auth.Principal, id uuid.UUID, description string, amount int64) (*Visit, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, apperr.Invalid("description is required")
	}
	if amount <= 0 {
		return nil, apperr.Invalid("amount must be positive")
	}
	return s.mutate(ctx, id, func(ctx context.Context, v *Visit) error {
		if err := ensureOpen(v); err != nil {
			return err
		}
		v.AdditionalCharges = append(v.AdditionalCharges, Charge{
			ID:          uuid.New(),
			Description: description,
			Amount:      amount,
		})
		return nil
	})
}

func (s *Service) RemoveCharge(ctx context.Context, actor auth.Principal, id, chargeID uuid.UUID) (*Visit, error) {
	return s.mutate(ctx, id, func(ctx context.Context, v *Visit) error {
		if err := ensureOpen(v); err != nil {
			return err
		}
		for i, c := range v.AdditionalCharges {
			if c.ID == chargeID {
				v.AdditionalCharges = append(v.AdditionalCharges[:i], v.AdditionalCharges[i+1:]...)
				return nil
			}
		}
		return apperr.NotFound("charge %s not found on visit %s", chargeID, id)
	})
}

// FinalizePayment settles the visit and stamps its completion time.
func (s *Service) FinalizePayment(ctx context.Context, actor auth.Principal, id uuid.UUID) (*Visit, error) {
	return s.mutate(ctx, id, func(ctx context.Context, v *Visit) error {
		if err := ensureOpen(v); err != nil {
			return err
		}
		if err := s.advance(ctx, actor, v, StatusCompleted); err != nil {
			return err
		}
		return s.audit.Record(ctx, actor, audit.ActionPaymentReceived,
			fmt.Sprintf("Payment received for visit %s", v.ID))
	})
}
