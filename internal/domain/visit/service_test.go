package visit

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/clinic/internal/config"
	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/internal/platform/outbox"
	"github.com/clinicdesk/clinic/pkg/apperr"
)

// -- Mock Repository --

// mockRepo stores deep copies so a failed transaction can be rolled back by
// restoring the previous maps.
type mockRepo struct {
	visits  map[uuid.UUID]*Visit
	history []*StatusChange
	nextID  int64
}

func newMockRepo() *mockRepo {
	return &mockRepo{visits: make(map[uuid.UUID]*Visit)}
}

func clone(v *Visit) *Visit {
	b, _ := json.Marshal(v)
	var out Visit
	_ = json.Unmarshal(b, &out)
	return &out
}

func (m *mockRepo) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	visits := make(map[uuid.UUID]*Visit, len(m.visits))
	for k, v := range m.visits {
		visits[k] = v
	}
	history := append([]*StatusChange(nil), m.history...)
	if err := fn(ctx); err != nil {
		m.visits, m.history = visits, history
		return err
	}
	return nil
}

func (m *mockRepo) Create(_ context.Context, v *Visit) error {
	v.ID = uuid.New()
	v.CreatedAt = v.Date
	m.visits[v.ID] = clone(v)
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Visit, error) {
	v, ok := m.visits[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(v), nil
}

func (m *mockRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Visit, error) {
	return m.GetByID(ctx, id)
}

func (m *mockRepo) Update(_ context.Context, v *Visit) error {
	if _, ok := m.visits[v.ID]; !ok {
		return ErrNotFound
	}
	m.visits[v.ID] = clone(v)
	return nil
}

func (m *mockRepo) sorted(keep func(v *Visit) bool) []*Visit {
	var out []*Visit
	for _, v := range m.visits {
		if keep(v) {
			out = append(out, clone(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func (m *mockRepo) List(_ context.Context, f ListFilter) ([]*Visit, int, error) {
	out := m.sorted(func(v *Visit) bool {
		if f.PatientID != nil && v.PatientID != *f.PatientID {
			return false
		}
		if f.Status != "" && v.Status != f.Status {
			return false
		}
		return !f.ActiveOnly || v.Status != StatusCompleted
	})
	return out, len(out), nil
}

func (m *mockRepo) ListWithPendingLab(_ context.Context) ([]*Visit, error) {
	return m.sorted(func(v *Visit) bool { return v.PendingLabCount() > 0 }), nil
}

func (m *mockRepo) ListStartedBetween(_ context.Context, from, to time.Time) ([]*Visit, error) {
	return m.sorted(func(v *Visit) bool { return !v.Date.Before(from) && v.Date.Before(to) }), nil
}

func (m *mockRepo) ListCompletedBetween(_ context.Context, from, to time.Time) ([]*Visit, error) {
	return m.sorted(func(v *Visit) bool {
		return v.CompletedAt != nil && !v.CompletedAt.Before(from) && v.CompletedAt.Before(to)
	}), nil
}

func (m *mockRepo) Tally(_ context.Context) (Tally, error) {
	var t Tally
	for _, v := range m.visits {
		t.PendingLabTests += v.PendingLabCount()
		if v.Status != StatusCompleted {
			t.Active++
			continue
		}
		t.Completed++
		t.DispensedRevenue += v.DispensedTotal()
	}
	return t, nil
}

func (m *mockRepo) AddStatusChange(_ context.Context, sc *StatusChange) error {
	m.nextID++
	sc.ID = m.nextID
	cp := *sc
	m.history = append(m.history, &cp)
	return nil
}

func (m *mockRepo) ListStatusHistory(_ context.Context, visitID uuid.UUID) ([]*StatusChange, error) {
	var out []*StatusChange
	for _, sc := range m.history {
		if sc.VisitID == visitID {
			out = append(out, sc)
		}
	}
	return out, nil
}

type mockPatients map[uuid.UUID]bool

func (m mockPatients) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	return m[id], nil
}

type mockCatalog map[uuid.UUID]CatalogItem

func (m mockCatalog) LookupMedicine(_ context.Context, id uuid.UUID) (CatalogItem, error) {
	item, ok := m[id]
	if !ok {
		return CatalogItem{}, apperr.NotFound("inventory item %s not found", id)
	}
	return item, nil
}

type auditSpy struct {
	actions []string
}

func (a *auditSpy) Record(_ context.Context, _ auth.Principal, action, _ string) error {
	a.actions = append(a.actions, action)
	return nil
}

// -- Fixtures --

var (
	clock     = time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)
	reception = auth.Principal{UserID: uuid.New(), Name: "Rita Desk", Role: auth.RoleReceptionPharmacy}
	doctor    = auth.Principal{UserID: uuid.New(), Name: "Dr Okello", Role: auth.RoleDoctor}
	nurse     = auth.Principal{UserID: uuid.New(), Name: "Nurse Amina", Role: auth.RoleNurse}
	labTech   = auth.Principal{UserID: uuid.New(), Name: "Lab Tech", Role: auth.RoleLab}
)

type fixture struct {
	svc       *Service
	repo      *mockRepo
	changes   *outbox.MemoryRecorder
	audit     *auditSpy
	patientID uuid.UUID
	paracetID uuid.UUID
}

func newFixture(t *testing.T, mutate ...func(*Settings)) *fixture {
	t.Helper()
	settings := Settings{
		ConsultationFee:  20000,
		LabTestPrice:     15000,
		LabAdvancePolicy: config.LabAdvanceAll,
	}
	for _, m := range mutate {
		m(&settings)
	}
	f := &fixture{
		repo:      newMockRepo(),
		changes:   &outbox.MemoryRecorder{},
		audit:     &auditSpy{},
		patientID: uuid.New(),
		paracetID: uuid.New(),
	}
	catalog := mockCatalog{f.paracetID: {ID: f.paracetID, Name: "Paracetamol", Dosage: "500mg", Route: "Oral", Price: 1000}}
	f.svc = NewService(f.repo, f.repo, mockPatients{f.patientID: true}, catalog,
		f.changes, f.audit, settings, zerolog.Nop())
	f.svc.now = func() time.Time { return clock }
	return f
}

func (f *fixture) start(t *testing.T, autoForward bool) *Visit {
	t.Helper()
	v, err := f.svc.Start(context.Background(), reception, f.patientID, autoForward)
	require.NoError(t, err)
	return v
}

// -- Lifecycle --

func TestStart(t *testing.T) {
	f := newFixture(t)
	v := f.start(t, false)

	assert.Equal(t, StatusCheckedIn, v.Status)
	assert.Equal(t, reception.UserID, v.StaffID)
	assert.Equal(t, clock, v.Date)
	assert.NotNil(t, v.Prescription)
	assert.Equal(t, []string{Collection}, f.changes.Collections())

	history, err := f.svc.StatusHistory(context.Background(), v.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, Status(""), history[0].From)
	assert.Equal(t, StatusCheckedIn, history[0].To)
}

func TestStart_AutoForward(t *testing.T) {
	f := newFixture(t)
	v := f.start(t, true)
	assert.Equal(t, StatusWithDoctor, v.Status)
}

func TestStart_UnknownPatient(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Start(context.Background(), reception, uuid.New(), false)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Empty(t, f.repo.visits)

	_, err = f.svc.Start(context.Background(), reception, uuid.Nil, false)
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusCheckedIn, StatusWithNurse))
	assert.True(t, CanTransition(StatusCheckedIn, StatusWithDoctor))
	assert.True(t, CanTransition(StatusWithDoctor, StatusLabPending))
	assert.True(t, CanTransition(StatusPharmacyPending, StatusCompleted))
	assert.False(t, CanTransition(StatusCheckedIn, StatusCompleted))
	assert.False(t, CanTransition(StatusLabPending, StatusPharmacyPending))
	for _, s := range Statuses {
		assert.False(t, CanTransition(StatusCompleted, s), "completed is terminal")
	}
}

func TestParseStatus(t *testing.T) {
	for _, s := range Statuses {
		got, err := ParseStatus(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseStatus("Discharged")
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
}

func TestSetStatus_AcceptsEveryStatus(t *testing.T) {
	for _, to := range Statuses {
		t.Run(string(to), func(t *testing.T) {
			f := newFixture(t)
			v := f.start(t, false)
			got, err := f.svc.SetStatus(context.Background(), nurse, v.ID, to)
			require.NoError(t, err)
			assert.Equal(t, to, got.Status)
		})
	}
}

func TestSetStatus_SameStatusIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.start(t, false)

	_, err := f.svc.SetStatus(ctx, nurse, v.ID, StatusWithNurse)
	require.NoError(t, err)
	events := len(f.changes.Events())
	history, _ := f.svc.StatusHistory(ctx, v.ID)

	got, err := f.svc.SetStatus(ctx, nurse, v.ID, StatusWithNurse)
	require.NoError(t, err)
	assert.Equal(t, StatusWithNurse, got.Status)
	assert.Len(t, f.changes.Events(), events, "no extra change event")
	again, _ := f.svc.StatusHistory(ctx, v.ID)
	assert.Len(t, again, len(history), "no extra history row")
}

func TestSetStatus_LenientRecordsIllegalMove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.start(t, false)

	got, err := f.svc.SetStatus(ctx, reception, v.ID, StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)

	history, err := f.svc.StatusHistory(ctx, v.ID)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.False(t, last.Legal)
	assert.Equal(t, StatusCheckedIn, last.From)

	reopened, err := f.svc.SetStatus(ctx, reception, v.ID, StatusWithDoctor)
	require.NoError(t, err)
	assert.Nil(t, reopened.CompletedAt, "leaving Completed clears the completion time")
}

func TestSetStatus_StrictRejectsIllegalMove(t *testing.T) {
	f := newFixture(t, func(s *Settings) { s.StrictTransitions = true })
	ctx := context.Background()
	v := f.start(t, false)

	_, err := f.svc.SetStatus(ctx, reception, v.ID, StatusCompleted)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	got, err := f.svc.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCheckedIn, got.Status)

	_, err = f.svc.SetStatus(ctx, nurse, v.ID, StatusWithNurse)
	assert.NoError(t, err)
}

func TestSetStatus_UnknownVisitAndStatus(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SetStatus(context.Background(), nurse, uuid.New(), StatusWithNurse)
	assert.ErrorIs(t, err, ErrNotFound)

	v := f.start(t, false)
	_, err = f.svc.SetStatus(context.Background(), nurse, v.ID, Status("Lost"))
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
}

// -- Nursing --

func TestNursingRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.start(t, false)

	_, err := f.svc.RecordVitals(ctx, nurse, v.ID, Vitals{})
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))

	got, err := f.svc.RecordVitals(ctx, nurse, v.ID, Vitals{BP: "120/80", Temperature: "36.8", Pulse: "72"})
	require.NoError(t, err)
	require.NotNil(t, got.Vitals)
	assert.Equal(t, "120/80", got.Vitals.BP)
	assert.Equal(t, nurse.UserID, got.Vitals.RecordedBy)

	got, err = f.svc.SetNurseNotes(ctx, nurse, v.ID, "Patient anxious")
	require.NoError(t, err)
	assert.Equal(t, "Patient anxious", got.NurseNotes)

	got, err = f.svc.AddFluidEntry(ctx, nurse, v.ID, FluidEntry{Intake: "500ml", Remarks: "oral"})
	require.NoError(t, err)
	require.Len(t, got.FluidBalance, 1)
	assert.Equal(t, clock, got.FluidBalance[0].Timestamp)

	_, err = f.svc.AddFluidEntry(ctx, nurse, v.ID, FluidEntry{Remarks: "nothing"})
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))

	got, err = f.svc.AdministerMedication(ctx, nurse, v.ID, AdministeredMed{MedicineName: "Paracetamol", Dosage: "1g"})
	require.NoError(t, err)
	require.Len(t, got.AdministeredMeds, 1)
	assert.Equal(t, "Nurse Amina", got.AdministeredMeds[0].GivenBy)
}

func TestSendToNurse(t *testing.T) {
	f := newFixture(t)
	v := f.start(t, true)
	got, err := f.svc.SendToNurse(context.Background(), doctor, v.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWithNurse, got.Status)
}

// -- Doctor --

func TestSaveClinicalNotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.start(t, true)

	notes := ClinicalNotes{
		PresentingComplaints: "Fever for 3 days",
		SystematicReview:     SystematicReview{RS: "Clear"},
		Diagnosis:            "Malaria",
		Plan:                 "Coartem",
	}
	fee := int64(30000)
	got, err := f.svc.SaveClinicalNotes(ctx, doctor, v.ID, notes, &fee)
	require.NoError(t, err)
	assert.Equal(t, "Malaria", got.ClinicalNotes.Diagnosis)
	assert.EqualValues(t, 30000, *got.ConsultationFee)

	got, err = f.svc.SaveClinicalNotes(ctx, doctor, v.ID, notes, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 30000, *got.ConsultationFee, "nil fee keeps the previous one")

	neg := int64(-1)
	_, err = f.svc.SaveClinicalNotes(ctx, doctor, v.ID, notes, &neg)
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
}

func TestRequestLab(t *testing.T) {
	f := newFixture(t)
	v := f.start(t, true)

	got, err := f.svc.RequestLab(context.Background(), doctor, v.ID, "  Malaria RDT ")
	require.NoError(t, err)
	assert.Equal(t, StatusLabPending, got.Status)
	require.Len(t, got.LabRequests, 1)
	r := got.LabRequests[0]
	assert.Equal(t, "Malaria RDT", r.TestName)
	assert.Equal(t, LabPending, r.Status)
	assert.EqualValues(t, 15000, r.Price)
	assert.Equal(t, doctor.UserID, r.RequestedBy)

	_, err = f.svc.RequestLab(context.Background(), doctor, v.ID, " ")
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
}

func TestPrescriptions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.start(t, true)

	got, err := f.svc.AddPrescription(ctx, doctor, v.ID, PrescriptionInput{MedicineID: f.paracetID, Duration: "3 days", Quantity: 6})
	require.NoError(t, err)
	require.Len(t, got.Prescription, 1)
	line := got.Prescription[0]
	assert.Equal(t, "Paracetamol", line.MedicineName)
	assert.Equal(t, "500mg", line.Dosage, "dosage defaults to the item's")
	assert.EqualValues(t, 1000, line.Price)
	assert.Equal(t, 6, line.Quantity)
	assert.False(t, line.Dispensed)

	_, err = f.svc.AddPrescription(ctx, doctor, v.ID, PrescriptionInput{MedicineID: uuid.New()})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = f.svc.AddPrescription(ctx, doctor, v.ID, PrescriptionInput{})
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))

	got, err = f.svc.RemovePrescription(ctx, doctor, v.ID, line.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Prescription)

	_, err = f.svc.RemovePrescription(ctx, doctor, v.ID, line.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestRemovePrescription_DispensedIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.start(t, true)
	got, err := f.svc.AddPrescription(ctx, doctor, v.ID, PrescriptionInput{MedicineID: f.paracetID})
	require.NoError(t, err)
	lineID := got.Prescription[0].ID

	_, err = f.svc.MarkDispensed(ctx, reception, v.ID, lineID)
	require.NoError(t, err)

	_, err = f.svc.RemovePrescription(ctx, doctor, v.ID, lineID)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestFinalize(t *testing.T) {
	f := newFixture(t)
	v := f.start(t, true)
	got, err := f.svc.Finalize(context.Background(), doctor, v.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPharmacyPending, got.Status)
}

// -- Lab --

func TestCompleteLab_AllPolicyWaitsForEveryTest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.start(t, true)
	_, err := f.svc.RequestLab(ctx, doctor, v.ID, "Malaria RDT")
	require.NoError(t, err)
	got, err := f.svc.RequestLab(ctx, doctor, v.ID, "Full Blood Count")
	require.NoError(t, err)
	first, second := got.LabRequests[0].ID, got.LabRequests[1].ID

	queue, err := f.svc.PendingLabQueue(ctx)
	require.NoError(t, err)
	assert.Len(t, queue, 1)

	got, err = f.svc.CompleteLab(ctx, labTech, v.ID, first, LabResultInput{Result: "Negative"})
	require.NoError(t, err)
	assert.Equal(t, StatusLabPending, got.Status, "one test still pending")
	assert.Equal(t, LabCompleted, got.LabRequests[0].Status)
	assert.Equal(t, clock, *got.LabRequests[0].ResultDate)

	got, err = f.svc.CompleteLab(ctx, labTech, v.ID, second, LabResultInput{Result: "Normal"})
	require.NoError(t, err)
	assert.Equal(t, StatusWithDoctor, got.Status)

	queue, err = f.svc.PendingLabQueue(ctx)
	require.NoError(t, err)
	assert.Empty(t, queue)
}

func TestCompleteLab_AnyPolicyAdvancesImmediately(t *testing.T) {
	f := newFixture(t, func(s *Settings) { s.LabAdvancePolicy = config.LabAdvanceAny })
	ctx := context.Background()
	v := f.start(t, true)
	_, err := f.svc.RequestLab(ctx, doctor, v.ID, "Malaria RDT")
	require.NoError(t, err)
	got, err := f.svc.RequestLab(ctx, doctor, v.ID, "Full Blood Count")
	require.NoError(t, err)

	got, err = f.svc.CompleteLab(ctx, labTech, v.ID, got.LabRequests[0].ID, LabResultInput{Result: "Negative"})
	require.NoError(t, err)
	assert.Equal(t, StatusWithDoctor, got.Status)
	assert.Equal(t, 1, got.PendingLabCount())
}

func TestCompleteLab_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.start(t, true)
	got, err := f.svc.RequestLab(ctx, doctor, v.ID, "Malaria RDT")
	require.NoError(t, err)
	reqID := got.LabRequests[0].ID

	_, err = f.svc.CompleteLab(ctx, labTech, v.ID, reqID, LabResultInput{})
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))

	_, err = f.svc.CompleteLab(ctx, labTech, v.ID, uuid.New(), LabResultInput{Result: "x"})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = f.svc.CompleteLab(ctx, labTech, v.ID, reqID, LabResultInput{Result: "Positive"})
	require.NoError(t, err)
	_, err = f.svc.CompleteLab(ctx, labTech, v.ID, reqID, LabResultInput{Result: "Negative"})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestCompleteLab_UrinalysisTemplate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.start(t, true)
	got, err := f.svc.RequestLab(ctx, doctor, v.ID, "Urinalysis")
	require.NoError(t, err)
	reqID := got.LabRequests[0].ID

	_, err = f.svc.CompleteLab(ctx, labTech, v.ID, reqID, LabResultInput{Result: "looks fine"})
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))

	got, err = f.svc.CompleteLab(ctx, labTech, v.ID, reqID, LabResultInput{StructuredResults: []LabResult{
		{Parameter: "ph", Value: "6.0"},
		{Parameter: "Glucose", Value: "Negative"},
		{Parameter: "Casts", Value: "None"},
	}})
	require.NoError(t, err)
	r := got.LabRequests[0]
	assert.Equal(t, StructuredResultText, r.Result)
	require.Len(t, r.StructuredResults, len(UrinalysisTemplate())+1)
	assert.Equal(t, "pH", r.StructuredResults[3].Parameter)
	assert.Equal(t, "6.0", r.StructuredResults[3].Value)
	assert.Equal(t, "4.6 - 8.0", r.StructuredResults[3].NormalRange)
	assert.Equal(t, "Casts", r.StructuredResults[len(r.StructuredResults)-1].Parameter)
}

func TestUrinalysisTemplate_IsACopy(t *testing.T) {
	tpl := UrinalysisTemplate()
	tpl[0].Value = "Cloudy"
	assert.Empty(t, UrinalysisTemplate()[0].Value)
	assert.True(t, IsUrinalysis("urinalysis (dipstick)"))
	assert.False(t, IsUrinalysis("Malaria RDT"))
}

// -- Billing desk --

func TestCharges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.start(t, true)

	got, err := f.svc.AddCharge(ctx, reception, v.ID, "Wound dressing", 5000)
	require.NoError(t, err)
	require.Len(t, got.AdditionalCharges, 1)
	chargeID := got.AdditionalCharges[0].ID

	_, err = f.svc.AddCharge(ctx, reception, v.ID, "Free", 0)
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
	_, err = f.svc.AddCharge(ctx, reception, v.ID, "", 100)
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))

	got, err = f.svc.RemoveCharge(ctx, reception, v.ID, chargeID)
	require.NoError(t, err)
	assert.Empty(t, got.AdditionalCharges)

	_, err = f.svc.RemoveCharge(ctx, reception, v.ID, chargeID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestFinalizePayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.start(t, true)
	_, err := f.svc.Finalize(ctx, doctor, v.ID)
	require.NoError(t, err)

	got, err := f.svc.FinalizePayment(ctx, reception, v.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, clock, *got.CompletedAt)
	assert.Equal(t, []string{"PAYMENT_RECEIVED"}, f.audit.actions)

	_, err = f.svc.FinalizePayment(ctx, reception, v.ID)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = f.svc.AddCharge(ctx, reception, v.ID, "Late fee", 100)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err), "completed visits are closed")
}

func TestMarkDispensed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.start(t, true)
	got, err := f.svc.AddPrescription(ctx, doctor, v.ID, PrescriptionInput{MedicineID: f.paracetID, Quantity: 10})
	require.NoError(t, err)
	lineID := got.Prescription[0].ID

	line, err := f.svc.MarkDispensed(ctx, reception, v.ID, lineID)
	require.NoError(t, err)
	assert.Equal(t, f.paracetID, line.MedicineID)

	stored, err := f.svc.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.True(t, stored.Prescription[0].Dispensed)

	_, err = f.svc.MarkDispensed(ctx, reception, v.ID, lineID)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestTally(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	paid := f.start(t, true)
	for i := 0; i < 2; i++ {
		_, err := f.svc.AddPrescription(ctx, doctor, paid.ID, PrescriptionInput{MedicineID: f.paracetID})
		require.NoError(t, err)
	}
	stored, err := f.svc.Get(ctx, paid.ID)
	require.NoError(t, err)
	_, err = f.svc.MarkDispensed(ctx, reception, paid.ID, stored.Prescription[0].ID)
	require.NoError(t, err)
	_, err = f.svc.Finalize(ctx, doctor, paid.ID)
	require.NoError(t, err)
	_, err = f.svc.FinalizePayment(ctx, reception, paid.ID)
	require.NoError(t, err)

	waiting := f.start(t, true)
	_, err = f.svc.RequestLab(ctx, doctor, waiting.ID, "Malaria RDT")
	require.NoError(t, err)
	_, err = f.svc.RequestLab(ctx, doctor, waiting.ID, "Full Blood Count")
	require.NoError(t, err)

	tally, err := f.svc.Tally(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, tally.Active)
	assert.Equal(t, 1, tally.Completed)
	assert.Equal(t, 2, tally.PendingLabTests)
	assert.EqualValues(t, 1000, tally.DispensedRevenue, "undispensed lines earn nothing")
}

func TestMutationFailureRollsBack(t *testing.T) {
	f := newFixture(t, func(s *Settings) { s.StrictTransitions = true })
	ctx := context.Background()
	v := f.start(t, false)

	_, err := f.svc.RequestLab(ctx, doctor, v.ID, "Malaria RDT")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err), "Checked-In cannot go to Lab-Pending")

	stored, err := f.svc.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.LabRequests, "the appended request is rolled back")
	history, _ := f.svc.StatusHistory(ctx, v.ID)
	assert.Len(t, history, 1)
}

func TestListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.start(t, false)
	b := f.start(t, true)
	_, err := f.svc.SetStatus(ctx, reception, b.ID, StatusCompleted)
	require.NoError(t, err)

	active, total, err := f.svc.ListActive(ctx, 25, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, a.ID, active[0].ID)

	all, total, err := f.svc.ListByPatient(ctx, f.patientID, 25, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, all, 2)

	_, _, err = f.svc.List(ctx, ListFilter{Status: "Bogus"})
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))

	_, err = f.svc.StatusHistory(ctx, uuid.New())
	assert.True(t, errors.Is(err, ErrNotFound))
}
