package reporting

import (
	"context"
	"fmt"
	"time"

	"github.com/clinicdesk/clinic/internal/domain/visit"
	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/pkg/apperr"
	"github.com/clinicdesk/clinic/pkg/daterange"
)

type VisitTally interface {
	Tally(ctx context.Context) (visit.Tally, error)
	StartedBetween(ctx context.Context, from, to time.Time) ([]*visit.Visit, error)
}

type PatientCounter interface {
	Count(ctx context.Context) (int, error)
}

type AppointmentCounter interface {
	CountScheduled(ctx context.Context) (int, error)
}

type StockCounter interface {
	CountLowStock(ctx context.Context) (int, error)
}

// Dashboard is the landing-page summary. Which counters are filled depends
// on the caller's role; the others are omitted.
type Dashboard struct {
	Role                  auth.Role `json:"role"`
	Date                  string    `json:"date"`
	TotalPatients         int       `json:"totalPatients"`
	TodaysCheckIns        *int      `json:"todaysCheckIns,omitempty"`
	PendingLabTests       *int      `json:"pendingLabTests,omitempty"`
	ActiveConsultations   *int      `json:"activeConsultations,omitempty"`
	CompletedVisits       *int      `json:"completedVisits,omitempty"`
	ScheduledAppointments *int      `json:"scheduledAppointments,omitempty"`
	StockAlerts           *int      `json:"stockAlerts,omitempty"`
	DispensedRevenue      *int64    `json:"dispensedRevenue,omitempty"`
	GeneratedAt           time.Time `json:"generatedAt"`
}

type DashboardService struct {
	visits       VisitTally
	patients     PatientCounter
	appointments AppointmentCounter
	stock        StockCounter
	loc          *time.Location
	now          func() time.Time
}

func NewDashboardService(visits VisitTally, patients PatientCounter, appointments AppointmentCounter,
	stock StockCounter, loc *time.Location) *DashboardService {
	return &DashboardService{
		visits:       visits,
		patients:     patients,
		appointments: appointments,
		stock:        stock,
		loc:          loc,
		now:          time.Now,
	}
}

// Build assembles the dashboard for actor. Reception sees today's check-ins
// and completed visits, admins see pending lab work, clinical roles see
// active consultations. Stock alerts are hidden from reception and doctors.
func (s *DashboardService) Build(ctx context.Context, actor auth.Principal) (*Dashboard, error) {
	if !auth.Can(actor.Role, auth.ActDashboardView) {
		return nil, apperr.Forbidden("the dashboard requires a staff role")
	}
	now := s.now()
	today := daterange.Day(now, s.loc)
	d := &Dashboard{
		Role:        actor.Role,
		Date:        today.From.Format(daterange.Layout),
		GeneratedAt: now,
	}

	var err error
	if d.TotalPatients, err = s.patients.Count(ctx); err != nil {
		return nil, fmt.Errorf("count patients: %w", err)
	}
	tally, err := s.visits.Tally(ctx)
	if err != nil {
		return nil, fmt.Errorf("tally visits: %w", err)
	}

	isAdmin := actor.Role == auth.RoleAdmin
	isReception := actor.Role == auth.RoleReceptionPharmacy

	switch {
	case isReception:
		started, err := s.visits.StartedBetween(ctx, today.From, today.To)
		if err != nil {
			return nil, fmt.Errorf("load visits started today: %w", err)
		}
		d.TodaysCheckIns = intPtr(len(started))
		d.CompletedVisits = intPtr(tally.Completed)
	case isAdmin:
		d.PendingLabTests = intPtr(tally.PendingLabTests)
	default:
		d.ActiveConsultations = intPtr(tally.Active)
	}

	if !isReception {
		n, err := s.appointments.CountScheduled(ctx)
		if err != nil {
			return nil, fmt.Errorf("count appointments: %w", err)
		}
		d.ScheduledAppointments = intPtr(n)
	}
	if !isReception && actor.Role != auth.RoleDoctor {
		n, err := s.stock.CountLowStock(ctx)
		if err != nil {
			return nil, fmt.Errorf("count low stock: %w", err)
		}
		d.StockAlerts = intPtr(n)
	}
	if isAdmin || isReception {
		revenue := tally.DispensedRevenue
		d.DispensedRevenue = &revenue
	}
	return d, nil
}

func intPtr(n int) *int { return &n }
