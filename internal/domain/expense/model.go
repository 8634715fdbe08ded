package expense

import (
	"time"

	"github.com/google/uuid"
)

const Collection = "expenses"

// Categories offered by the expense form. Other values are accepted.
var Categories = []string{"Supplies", "Utilities", "Salaries", "Rent", "Maintenance", "Other"}

type Expense struct {
	ID          uuid.UUID `json:"id"`
	Description string    `json:"description"`
	Amount      int64     `json:"amount"`
	Category    string    `json:"category"`
	Date        time.Time `json:"date"`
	StaffID     uuid.UUID `json:"staffId"`
	StaffName   string    `json:"staffName"`
	CreatedAt   time.Time `json:"createdAt"`
}

type AddRequest struct {
	Description string     `json:"description"`
	Amount      int64      `json:"amount"`
	Category    string     `json:"category"`
	Date        *time.Time `json:"date,omitempty"`
}
