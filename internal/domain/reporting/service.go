// Package reporting aggregates one clinic day into revenue, expense and
// activity figures.
package reporting

import (
	"context"
	"fmt"
	"time"

	"github.com/clinicdesk/clinic/internal/domain/billing"
	"github.com/clinicdesk/clinic/internal/domain/expense"
	"github.com/clinicdesk/clinic/internal/domain/inventory"
	"github.com/clinicdesk/clinic/internal/domain/visit"
	"github.com/clinicdesk/clinic/pkg/apperr"
	"github.com/clinicdesk/clinic/pkg/daterange"
)

type Visits interface {
	StartedBetween(ctx context.Context, from, to time.Time) ([]*visit.Visit, error)
	CompletedBetween(ctx context.Context, from, to time.Time) ([]*visit.Visit, error)
	DefaultConsultationFee() int64
}

type Sales interface {
	SalesBetween(ctx context.Context, from, to time.Time) ([]*inventory.Sale, error)
}

type ExpenseSource interface {
	ListBetween(ctx context.Context, from, to time.Time) ([]*expense.Expense, error)
}

type Patients interface {
	CountRegisteredBetween(ctx context.Context, from, to time.Time) (int, error)
}

type Service struct {
	visits   Visits
	sales    Sales
	expenses ExpenseSource
	patients Patients
	loc      *time.Location
	now      func() time.Time
}

func NewService(visits Visits, sales Sales, expenses ExpenseSource, patients Patients, loc *time.Location) *Service {
	return &Service{visits: visits, sales: sales, expenses: expenses, patients: patients, loc: loc, now: time.Now}
}

// DailyReport builds the report for day (YYYY-MM-DD in the clinic's time
// zone, empty for today). Visit revenue counts visits completed that day.
func (s *Service) DailyReport(ctx context.Context, day string) (*DailyReport, error) {
	r, err := daterange.ParseDay(day, s.loc, s.now())
	if err != nil {
		return nil, apperr.Invalid("%v", err)
	}

	started, err := s.visits.StartedBetween(ctx, r.From, r.To)
	if err != nil {
		return nil, fmt.Errorf("load visits started: %w", err)
	}
	completed, err := s.visits.CompletedBetween(ctx, r.From, r.To)
	if err != nil {
		return nil, fmt.Errorf("load visits completed: %w", err)
	}
	sales, err := s.sales.SalesBetween(ctx, r.From, r.To)
	if err != nil {
		return nil, fmt.Errorf("load sales: %w", err)
	}
	ledger, err := s.expenses.ListBetween(ctx, r.From, r.To)
	if err != nil {
		return nil, fmt.Errorf("load expenses: %w", err)
	}
	newPatients, err := s.patients.CountRegisteredBetween(ctx, r.From, r.To)
	if err != nil {
		return nil, fmt.Errorf("count patients: %w", err)
	}

	rep := &DailyReport{
		Date:            r.From.Format(daterange.Layout),
		Timezone:        s.loc.String(),
		From:            r.From,
		To:              r.To,
		VisitsStarted:   len(started),
		VisitsCompleted: len(completed),
		NewPatients:     newPatients,
		OTCSales:        len(sales),
		ExpenseLedger:   ledger,
		GeneratedAt:     s.now(),
	}
	if rep.ExpenseLedger == nil {
		rep.ExpenseLedger = []*expense.Expense{}
	}
	for _, v := range started {
		rep.PrescriptionsIssued += len(v.Prescription)
	}

	totals := billing.Summarize(completed, s.visits.DefaultConsultationFee())
	rep.Revenue = Revenue{
		Consultation: totals.Consultation,
		Lab:          totals.Lab,
		Pharmacy:     totals.Pharmacy,
		Procedures:   totals.Procedures,
	}
	for _, sale := range sales {
		rep.Revenue.OTC += sale.Total
	}
	rep.VisitRevenue = totals.Total
	rep.TotalRevenue = rep.VisitRevenue + rep.Revenue.OTC

	rep.Expenses = Expenses{ByCategory: make(map[string]int64)}
	for _, e := range ledger {
		rep.Expenses.ByCategory[e.Category] += e.Amount
		rep.Expenses.Total += e.Amount
	}
	rep.NetRevenue = rep.TotalRevenue - rep.Expenses.Total
	return rep, nil
}
