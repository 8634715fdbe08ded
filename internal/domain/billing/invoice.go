// Package billing totals what a visit owes. It holds no state: invoices are
// recomputed from the visit every time they are asked for.
package billing

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic/internal/domain/visit"
)

// Currency is the clinic's only currency. Amounts are whole shillings.
const Currency = "UGX"

type Category string

const (
	CategoryConsultation Category = "consultation"
	CategoryLab          Category = "lab"
	CategoryPharmacy     Category = "pharmacy"
	CategoryProcedures   Category = "procedures"
)

type LineItem struct {
	Category    Category   `json:"category"`
	Description string     `json:"description"`
	Amount      int64      `json:"amount"`
	Reference   *uuid.UUID `json:"reference,omitempty"`
}

// Totals are the per-category sums of an invoice.
type Totals struct {
	Consultation int64 `json:"consultation"`
	Lab          int64 `json:"lab"`
	Pharmacy     int64 `json:"pharmacy"`
	Procedures   int64 `json:"procedures"`
	Total        int64 `json:"total"`
}

// Add accumulates o into t.
func (t *Totals) Add(o Totals) {
	t.Consultation += o.Consultation
	t.Lab += o.Lab
	t.Pharmacy += o.Pharmacy
	t.Procedures += o.Procedures
	t.Total += o.Total
}

type Invoice struct {
	VisitID   uuid.UUID    `json:"visitId"`
	PatientID uuid.UUID    `json:"patientId"`
	Status    visit.Status `json:"status"`
	Currency  string       `json:"currency"`
	Lines     []LineItem   `json:"lines"`
	Totals
}

// ConsultationFee is the visit's own fee, or defaultFee when none was set.
// An explicit zero waives the consultation.
func ConsultationFee(v *visit.Visit, defaultFee int64) int64 {
	if v.ConsultationFee != nil {
		return *v.ConsultationFee
	}
	return defaultFee
}

// NewInvoice lists every billable item of v: the consultation, each lab
// request, each prescription line and each additional charge.
func NewInvoice(v *visit.Visit, defaultFee int64) Invoice {
	inv := Invoice{
		VisitID:   v.ID,
		PatientID: v.PatientID,
		Status:    v.Status,
		Currency:  Currency,
	}
	add := func(c Category, desc string, amount int64, ref *uuid.UUID) {
		inv.Lines = append(inv.Lines, LineItem{Category: c, Description: desc, Amount: amount, Reference: ref})
		switch c {
		case CategoryConsultation:
			inv.Consultation += amount
		case CategoryLab:
			inv.Lab += amount
		case CategoryPharmacy:
			inv.Pharmacy += amount
		case CategoryProcedures:
			inv.Procedures += amount
		}
		inv.Total += amount
	}

	add(CategoryConsultation, "Consultation & facility entry", ConsultationFee(v, defaultFee), nil)
	for i := range v.LabRequests {
		r := &v.LabRequests[i]
		desc := "Laboratory: " + r.TestName
		if r.Status == visit.LabPending {
			desc += " (pending)"
		}
		add(CategoryLab, desc, r.Price, &r.ID)
	}
	for i := range v.Prescription {
		p := &v.Prescription[i]
		add(CategoryPharmacy, fmt.Sprintf("Pharmacy: %s (%s)", p.MedicineName, p.Dosage), p.Price, &p.ID)
	}
	for i := range v.AdditionalCharges {
		c := &v.AdditionalCharges[i]
		add(CategoryProcedures, c.Description, c.Amount, &c.ID)
	}
	return inv
}

// Summarize totals a set of visits without keeping their line items.
func Summarize(visits []*visit.Visit, defaultFee int64) Totals {
	var t Totals
	for _, v := range visits {
		t.Add(NewInvoice(v, defaultFee).Totals)
	}
	return t
}
