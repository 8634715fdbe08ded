package visit

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic/pkg/apperr"
)

// Collection is the change-feed name of visits.
const Collection = "visits"

type Status string

const (
	StatusCheckedIn       Status = "Checked-In"
	StatusWithNurse       Status = "With-Nurse"
	StatusWithDoctor      Status = "With-Doctor"
	StatusLabPending      Status = "Lab-Pending"
	StatusPharmacyPending Status = "Pharmacy-Pending"
	StatusCompleted       Status = "Completed"
)

// Statuses in the order a visit normally moves through them.
var Statuses = []Status{
	StatusCheckedIn, StatusWithNurse, StatusWithDoctor,
	StatusLabPending, StatusPharmacyPending, StatusCompleted,
}

// transitions lists the legal next states. Completed is terminal.
var transitions = map[Status][]Status{
	StatusCheckedIn:       {StatusWithNurse, StatusWithDoctor},
	StatusWithNurse:       {StatusWithDoctor},
	StatusWithDoctor:      {StatusLabPending, StatusPharmacyPending, StatusWithNurse},
	StatusLabPending:      {StatusWithDoctor},
	StatusPharmacyPending: {StatusCompleted, StatusWithDoctor},
	StatusCompleted:       nil,
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", apperr.Invalid("unknown visit status %q", s)
	}
	return st, nil
}

type Vitals struct {
	BP              string    `json:"bp"`
	Temperature     string    `json:"temperature"`
	Pulse           string    `json:"pulse"`
	Weight          string    `json:"weight"`
	Height          string    `json:"height"`
	OxygenSat       string    `json:"oxygenSat,omitempty"`
	RespiratoryRate string    `json:"respiratoryRate,omitempty"`
	RecordedBy      uuid.UUID `json:"recordedBy"`
	RecordedAt      time.Time `json:"recordedAt"`
}

type FluidEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Intake    string    `json:"intake"`
	Output    string    `json:"output"`
	Remarks   string    `json:"remarks"`
}

type AdministeredMed struct {
	MedicineName string    `json:"medicineName"`
	Timestamp    time.Time `json:"timestamp"`
	Dosage       string    `json:"dosage"`
	Route        string    `json:"route,omitempty"`
	GivenBy      string    `json:"givenBy"`
}

type SystematicReview struct {
	ENT     string `json:"ent,omitempty"`
	CVS     string `json:"cvs,omitempty"`
	CNS     string `json:"cns,omitempty"`
	GIT     string `json:"git,omitempty"`
	RS      string `json:"rs,omitempty"`
	General string `json:"general,omitempty"`
}

// ClinicalNotes is the doctor's section of a visit.
type ClinicalNotes struct {
	PresentingComplaints          string           `json:"presentingComplaints,omitempty"`
	HistoryOfPresentingComplaints string           `json:"historyOfPresentingComplaints,omitempty"`
	PhysicalExamFindings          string           `json:"physicalExamFindings,omitempty"`
	SystematicReview              SystematicReview `json:"systematicReview"`
	Diagnosis                     string           `json:"diagnosis,omitempty"`
	Plan                          string           `json:"plan,omitempty"`
	NextReviewDate                string           `json:"nextReviewDate,omitempty"`
}

type Charge struct {
	ID          uuid.UUID `json:"id"`
	Description string    `json:"description"`
	Amount      int64     `json:"amount"`
}

// PrescriptionLine prices one medicine at the inventory price captured when
// it was prescribed. Quantity is informational: dispensing takes one unit.
type PrescriptionLine struct {
	ID           uuid.UUID  `json:"id"`
	MedicineID   uuid.UUID  `json:"medicineId"`
	MedicineName string     `json:"medicineName"`
	Dosage       string     `json:"dosage"`
	Route        string     `json:"route,omitempty"`
	Duration     string     `json:"duration"`
	Quantity     int        `json:"quantity,omitempty"`
	Price        int64      `json:"price"`
	Dispensed    bool       `json:"dispensed"`
	DispensedAt  *time.Time `json:"dispensedAt,omitempty"`
	PrescribedBy uuid.UUID  `json:"prescribedBy"`
}

type LabStatus string

const (
	LabPending   LabStatus = "Pending"
	LabCompleted LabStatus = "Completed"
)

type LabResult struct {
	Parameter   string `json:"parameter"`
	Value       string `json:"value"`
	Unit        string `json:"unit"`
	NormalRange string `json:"normalRange"`
}

type LabRequest struct {
	ID                uuid.UUID   `json:"id"`
	TestName          string      `json:"testName"`
	Status            LabStatus   `json:"status"`
	Result            string      `json:"result,omitempty"`
	StructuredResults []LabResult `json:"structuredResults,omitempty"`
	Price             int64       `json:"price"`
	RequestedBy       uuid.UUID   `json:"requestedBy"`
	RequestedAt       time.Time   `json:"requestedAt"`
	ResultDate        *time.Time  `json:"resultDate,omitempty"`
	ResultBy          *uuid.UUID  `json:"resultBy,omitempty"`
}

// StructuredResultText is the free-text result of a templated test.
const StructuredResultText = "See Structured Results"

var urinalysisTemplate = []LabResult{
	{Parameter: "Appearance", NormalRange: "Clear"},
	{Parameter: "Color", NormalRange: "Straw"},
	{Parameter: "Specific Gravity", NormalRange: "1.005 - 1.030"},
	{Parameter: "pH", NormalRange: "4.6 - 8.0"},
	{Parameter: "Glucose", NormalRange: "Negative"},
	{Parameter: "Protein", NormalRange: "Negative"},
	{Parameter: "Nitrite", NormalRange: "Negative"},
	{Parameter: "Leukocytes", NormalRange: "Negative"},
	{Parameter: "Bilirubin", NormalRange: "Negative"},
	{Parameter: "Ketones", NormalRange: "Negative"},
}

// UrinalysisTemplate returns a fresh copy of the urinalysis result sheet.
func UrinalysisTemplate() []LabResult {
	out := make([]LabResult, len(urinalysisTemplate))
	copy(out, urinalysisTemplate)
	return out
}

func IsUrinalysis(testName string) bool {
	return strings.Contains(strings.ToUpper(testName), "URINALYSIS")
}

// Visit is a single clinical encounter, from check-in to payment.
type Visit struct {
	ID                uuid.UUID          `json:"id"`
	PatientID         uuid.UUID          `json:"patientId"`
	StaffID           uuid.UUID          `json:"staffId"`
	Status            Status             `json:"status"`
	Date              time.Time          `json:"date"`
	CompletedAt       *time.Time         `json:"completedAt,omitempty"`
	Vitals            *Vitals            `json:"vitals,omitempty"`
	NurseNotes        string             `json:"nurseNotes,omitempty"`
	FluidBalance      []FluidEntry       `json:"fluidBalance"`
	AdministeredMeds  []AdministeredMed  `json:"administeredMeds"`
	ClinicalNotes     *ClinicalNotes     `json:"clinicalNotes,omitempty"`
	ConsultationFee   *int64             `json:"consultationFee,omitempty"`
	AdditionalCharges []Charge           `json:"additionalCharges"`
	Prescription      []PrescriptionLine `json:"prescription"`
	LabRequests       []LabRequest       `json:"labRequests"`
	CreatedAt         time.Time          `json:"createdAt"`
	UpdatedAt         time.Time          `json:"updatedAt"`
}

func (v *Visit) PendingLabCount() int {
	n := 0
	for _, r := range v.LabRequests {
		if r.Status == LabPending {
			n++
		}
	}
	return n
}

func (v *Visit) labRequest(id uuid.UUID) (*LabRequest, error) {
	for i := range v.LabRequests {
		if v.LabRequests[i].ID == id {
			return &v.LabRequests[i], nil
		}
	}
	return nil, apperr.NotFound("lab request %s not found on visit %s", id, v.ID)
}

func (v *Visit) prescriptionLine(id uuid.UUID) (*PrescriptionLine, error) {
	for i := range v.Prescription {
		if v.Prescription[i].ID == id {
			return &v.Prescription[i], nil
		}
	}
	return nil, apperr.NotFound("prescription line %s not found on visit %s", id, v.ID)
}

// StatusChange is one row of a visit's status history. Legal is false when the
// move was outside the transition table and was let through.
type StatusChange struct {
	ID        int64     `json:"id"`
	VisitID   uuid.UUID `json:"visitId"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Legal     bool      `json:"legal"`
	ChangedBy uuid.UUID `json:"changedBy"`
	ChangedAt time.Time `json:"changedAt"`
}

// ListFilter narrows List. ActiveOnly excludes Completed visits.
type ListFilter struct {
	PatientID  *uuid.UUID
	Status     Status
	ActiveOnly bool
	Limit      int
	Offset     int
}

// Tally is a clinic-wide snapshot of visit work.
type Tally struct {
	Active          int
	Completed       int
	PendingLabTests int
	// DispensedRevenue sums dispensed prescription lines on completed visits.
	DispensedRevenue int64
}

// DispensedTotal sums the prices of the dispensed prescription lines.
func (v *Visit) DispensedTotal() int64 {
	var total int64
	for _, p := range v.Prescription {
		if p.Dispensed {
			total += p.Price
		}
	}
	return total
}

// DispensedLine describes a prescription line that was just marked dispensed.
type DispensedLine struct {
	VisitID      uuid.UUID `json:"visitId"`
	LineID       uuid.UUID `json:"lineId"`
	MedicineID   uuid.UUID `json:"medicineId"`
	MedicineName string    `json:"medicineName"`
}

// CatalogItem is the inventory data a prescription captures.
type CatalogItem struct {
	ID     uuid.UUID
	Name   string
	Dosage string
	Route  string
	Price  int64
}

func (s Status) String() string { return string(s) }

func statusList(ss []Status) string {
	parts := make([]string, len(ss))
	for i, s := range ss {
		parts[i] = string(s)
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}

// normalize replaces nil sub-record lists with empty ones so a visit always
// serialises its arrays.
func (v *Visit) normalize() {
	if v.FluidBalance == nil {
		v.FluidBalance = []FluidEntry{}
	}
	if v.AdministeredMeds == nil {
		v.AdministeredMeds = []AdministeredMed{}
	}
	if v.AdditionalCharges == nil {
		v.AdditionalCharges = []Charge{}
	}
	if v.Prescription == nil {
		v.Prescription = []PrescriptionLine{}
	}
	if v.LabRequests == nil {
		v.LabRequests = []LabRequest{}
	}
}
