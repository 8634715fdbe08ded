package reporting

import (
	"time"

	"github.com/clinicdesk/clinic/internal/domain/expense"
)

// Revenue splits a day's takings by source. Procedures are additional
// charges; OTC is over-the-counter sales.
type Revenue struct {
	Consultation int64 `json:"consultation"`
	Lab          int64 `json:"lab"`
	Pharmacy     int64 `json:"pharmacy"`
	Procedures   int64 `json:"procedures"`
	OTC          int64 `json:"otc"`
}

type Expenses struct {
	ByCategory map[string]int64 `json:"byCategory"`
	Total      int64            `json:"total"`
}

// DailyReport is recomputed from source records on every request.
type DailyReport struct {
	Date     string    `json:"date"`
	Timezone string    `json:"timezone"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`

	VisitsStarted       int `json:"visitsStarted"`
	VisitsCompleted     int `json:"visitsCompleted"`
	NewPatients         int `json:"newPatients"`
	PrescriptionsIssued int `json:"prescriptionsIssued"`
	OTCSales            int `json:"otcSales"`

	Revenue      Revenue  `json:"revenue"`
	VisitRevenue int64    `json:"visitRevenue"`
	TotalRevenue int64    `json:"totalRevenue"`
	Expenses     Expenses `json:"expenses"`
	NetRevenue   int64    `json:"netRevenue"`

	ExpenseLedger []*expense.Expense `json:"expenseLedger"`
	GeneratedAt   time.Time          `json:"generatedAt"`
}
