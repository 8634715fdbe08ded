package inventory

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic/pkg/apperr"
)

// Change-feed collections.
const (
	Collection      = "inventory"
	SalesCollection = "sales"
)

// WalkInCustomer names an anonymous over-the-counter buyer.
const WalkInCustomer = "Walk-in Customer"

var (
	ErrNotFound          = apperr.New(apperr.KindNotFound, "inventory item not found")
	ErrInsufficientStock = apperr.New(apperr.KindConflict, "insufficient stock")
)

type Item struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Category   string    `json:"category"`
	Stock      int       `json:"stock"`
	Unit       string    `json:"unit"`
	Price      int64     `json:"price"`
	Dosage     string    `json:"dosage"`
	Route      string    `json:"route"`
	ExpiryDate string    `json:"expiryDate,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// ItemPatch carries the fields of an update. Nil fields are left alone.
type ItemPatch struct {
	Name       *string `json:"name"`
	Category   *string `json:"category"`
	Stock      *int    `json:"stock"`
	Unit       *string `json:"unit"`
	Price      *int64  `json:"price"`
	Dosage     *string `json:"dosage"`
	Route      *string `json:"route"`
	ExpiryDate *string `json:"expiryDate"`
}

func (p ItemPatch) apply(it *Item) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&it.Name, p.Name)
	set(&it.Category, p.Category)
	set(&it.Unit, p.Unit)
	set(&it.Dosage, p.Dosage)
	set(&it.Route, p.Route)
	set(&it.ExpiryDate, p.ExpiryDate)
	if p.Stock != nil {
		it.Stock = *p.Stock
	}
	if p.Price != nil {
		it.Price = *p.Price
	}
}

type ListFilter struct {
	Search      string
	Category    string
	InStockOnly bool
	// StockBelow keeps items with fewer units than this. Zero disables it.
	StockBelow int
	Limit      int
	Offset     int
}

// LowStockThreshold is the stock level under which an item raises an alert.
const LowStockThreshold = 20

// Sale is an over-the-counter transaction. It is not a visit.
type Sale struct {
	ID           uuid.UUID  `json:"id"`
	CustomerName string     `json:"customerName"`
	StaffID      uuid.UUID  `json:"staffId"`
	Lines        []SaleLine `json:"lines"`
	Total        int64      `json:"total"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// SaleLine records the unit price read when the sale was made.
type SaleLine struct {
	ItemID    uuid.UUID `json:"itemId"`
	Name      string    `json:"name"`
	Dosage    string    `json:"dosage"`
	Quantity  int       `json:"quantity"`
	UnitPrice int64     `json:"unitPrice"`
	Total     int64     `json:"total"`
}

type SaleRequest struct {
	CustomerName string            `json:"customerName"`
	Lines        []SaleRequestLine `json:"lines"`
}

type SaleRequestLine struct {
	ItemID   uuid.UUID `json:"itemId"`
	Quantity int       `json:"quantity"`
}

// DispenseResult is what a dispense changed.
type DispenseResult struct {
	VisitID      uuid.UUID `json:"visitId"`
	LineID       uuid.UUID `json:"lineId"`
	ItemID       uuid.UUID `json:"itemId"`
	MedicineName string    `json:"medicineName"`
	Stock        int       `json:"stock"`
}
