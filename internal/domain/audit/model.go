package audit

import (
	"time"

	"github.com/google/uuid"
)

// Actions written by the services. The list is open; these are the ones the
// clinic desk filters on.
const (
	ActionInventoryAdded   = "INVENTORY_ADDED"
	ActionInventoryUpdated = "INVENTORY_UPDATED"
	ActionInventoryRemoved = "INVENTORY_REMOVED"
	ActionMedDispensed     = "MED_DISPENSED"
	ActionOTCSale          = "OTC_SALE"
	ActionExpenseAdded     = "EXPENSE_ADDED"
	ActionExpenseDeleted   = "EXPENSE_DELETED"
	ActionStaffRegistered  = "STAFF_REGISTERED"
	ActionStaffUpdated     = "STAFF_UPDATED"
	ActionStaffRemoved     = "STAFF_REMOVED"
	ActionPaymentReceived  = "PAYMENT_RECEIVED"
)

// Log is one append-only audit entry.
type Log struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	UserID    uuid.UUID `json:"userId"`
	UserEmail string    `json:"userEmail"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
}

// ListFilter narrows List. Zero values mean no constraint.
type ListFilter struct {
	Action string
	UserID *uuid.UUID
	Limit  int
	Offset int
}
