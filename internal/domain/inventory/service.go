package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic/internal/domain/audit"
	"github.com/clinicdesk/clinic/internal/domain/visit"
	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/internal/platform/db"
	"github.com/clinicdesk/clinic/internal/platform/outbox"
	"github.com/clinicdesk/clinic/pkg/apperr"
	"github.com/clinicdesk/clinic/pkg/daterange"
)

// Prescriptions marks prescription lines dispensed.
type Prescriptions interface {
	MarkDispensed(ctx context.Context, actor auth.Principal, visitID, lineID uuid.UUID) (visit.DispensedLine, error)
}

type Service struct {
	repo          Repository
	tx            db.TxRunner
	prescriptions Prescriptions
	changes       outbox.Recorder
	audit         audit.Recorder
	loc           *time.Location
	now           func() time.Time
}

func NewService(repo Repository, tx db.TxRunner, prescriptions Prescriptions,
	changes outbox.Recorder, auditRec audit.Recorder, loc *time.Location) *Service {
	return &Service{
		repo:          repo,
		tx:            tx,
		prescriptions: prescriptions,
		changes:       changes,
		audit:         auditRec,
		loc:           loc,
		now:           time.Now,
	}
}

func requireManage(actor auth.Principal) error {
	if !auth.Can(actor.Role, auth.ActInventoryManage) {
		return apperr.Forbidden("inventory changes require the administrator role")
	}
	return nil
}

func validateItem(it *Item) error {
	it.Name = strings.TrimSpace(it.Name)
	if it.Name == "" {
		return apperr.Invalid("name is required")
	}
	if it.Stock < 0 {
		return apperr.Invalid("stock must not be negative")
	}
	if it.Price < 0 {
		return apperr.Invalid("price must not be negative")
	}
	if !daterange.ValidDate(it.ExpiryDate) {
		return apperr.Invalid("expiryDate must be YYYY-MM-DD")
	}
	return nil
}

func (s *Service) Add(ctx context.Context, actor auth.Principal, it *Item) error {
	if err := requireManage(actor); err != nil {
		return err
	}
	if err := validateItem(it); err != nil {
		return err
	}
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, it); err != nil {
			return fmt.Errorf("create inventory item: %w", err)
		}
		if err := s.changes.Record(ctx, Collection, it.ID.String(), outbox.OpCreate, it); err != nil {
			return err
		}
		return s.audit.Record(ctx, actor, audit.ActionInventoryAdded, "Added "+it.Name)
	})
}

func (s *Service) Update(ctx context.Context, actor auth.Principal, id uuid.UUID, patch ItemPatch) (*Item, error) {
	if err := requireManage(actor); err != nil {
		return nil, err
	}
	var out *Item
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		it, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		patch.apply(it)
		if err := validateItem(it); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, it); err != nil {
			return fmt.Errorf("update inventory item %s: %w", id, err)
		}
		if err := s.changes.Record(ctx, Collection, it.ID.String(), outbox.OpUpdate, it); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, actor, audit.ActionInventoryUpdated, "Updated "+it.Name); err != nil {
			return err
		}
		out = it
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) Delete(ctx context.Context, actor auth.Principal, id uuid.UUID) error {
	if err := requireManage(actor); err != nil {
		return err
	}
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		it, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.repo.Delete(ctx, id); err != nil {
			return err
		}
		if err := s.changes.Record(ctx, Collection, id.String(), outbox.OpDelete, nil); err != nil {
			return err
		}
		return s.audit.Record(ctx, actor, audit.ActionInventoryRemoved, "Removed "+it.Name)
	})
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Item, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]*Item, int, error) {
	f.Search = strings.TrimSpace(f.Search)
	return s.repo.List(ctx, f)
}

// CountLowStock counts items below LowStockThreshold.
func (s *Service) CountLowStock(ctx context.Context) (int, error) {
	_, total, err := s.repo.List(ctx, ListFilter{StockBelow: LowStockThreshold, Limit: 1})
	return total, err
}

// Dispense marks one prescription line dispensed and takes exactly one unit
// of its medicine out of stock, whatever quantity was prescribed. Both
// changes commit together or not at all.
func (s *Service) Dispense(ctx context.Context, actor auth.Principal, visitID, lineID uuid.UUID) (*DispenseResult, error) {
	var out *DispenseResult
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		line, err := s.prescriptions.MarkDispensed(ctx, actor, visitID, lineID)
		if err != nil {
			return err
		}
		it, err := s.repo.DecrementStock(ctx, line.MedicineID, 1)
		if errors.Is(err, ErrInsufficientStock) {
			return apperr.Conflict("%s is out of stock", line.MedicineName)
		}
		if err != nil {
			return fmt.Errorf("decrement stock of %s: %w", line.MedicineID, err)
		}
		if err := s.changes.Record(ctx, Collection, it.ID.String(), outbox.OpUpdate, it); err != nil {
			return err
		}
		details := fmt.Sprintf("Dispensed %s for Visit %s. Stock reduced.", it.Name, visitID)
		if err := s.audit.Record(ctx, actor, audit.ActionMedDispensed, details); err != nil {
			return err
		}
		out = &DispenseResult{
			VisitID:      visitID,
			LineID:       lineID,
			ItemID:       it.ID,
			MedicineName: it.Name,
			Stock:        it.Stock,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Sell records an over-the-counter sale. Every line's stock is taken with a
// conditional decrement; a shortfall on any line rejects the whole sale.
func (s *Service) Sell(ctx context.Context, actor auth.Principal, req SaleRequest) (*Sale, error) {
	lines, err := mergeLines(req.Lines)
	if err != nil {
		return nil, err
	}
	customer := strings.TrimSpace(req.CustomerName)
	if customer == "" {
		customer = WalkInCustomer
	}

	sale := &Sale{CustomerName: customer, StaffID: actor.UserID}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var updated []*Item
		for _, l := range lines {
			it, err := s.repo.GetForUpdate(ctx, l.ItemID)
			if err != nil {
				return err
			}
			if it.Stock < l.Quantity {
				return apperr.Conflict("insufficient stock for %s: requested %d, available %d",
					it.Name, l.Quantity, it.Stock)
			}
			after, err := s.repo.DecrementStock(ctx, it.ID, l.Quantity)
			if errors.Is(err, ErrInsufficientStock) {
				return apperr.Conflict("insufficient stock for %s", it.Name)
			}
			if err != nil {
				return fmt.Errorf("decrement stock of %s: %w", it.ID, err)
			}
			total := it.Price * int64(l.Quantity)
			sale.Lines = append(sale.Lines, SaleLine{
				ItemID:    it.ID,
				Name:      it.Name,
				Dosage:    it.Dosage,
				Quantity:  l.Quantity,
				UnitPrice: it.Price,
				Total:     total,
			})
			sale.Total += total
			updated = append(updated, after)
		}

		if err := s.repo.CreateSale(ctx, sale); err != nil {
			return fmt.Errorf("record sale: %w", err)
		}
		if err := s.changes.Record(ctx, SalesCollection, sale.ID.String(), outbox.OpCreate, sale); err != nil {
			return err
		}
		for _, it := range updated {
			if err := s.changes.Record(ctx, Collection, it.ID.String(), outbox.OpUpdate, it); err != nil {
				return err
			}
		}
		return s.audit.Record(ctx, actor, audit.ActionOTCSale, saleDetails(sale))
	})
	if err != nil {
		return nil, err
	}
	return sale, nil
}

// mergeLines folds repeated items together and orders lines by item id so
// concurrent sales lock rows in the same order.
func mergeLines(in []SaleRequestLine) ([]SaleRequestLine, error) {
	if len(in) == 0 {
		return nil, apperr.Invalid("a sale needs at least one line")
	}
	qty := make(map[uuid.UUID]int)
	for _, l := range in {
		if l.ItemID == uuid.Nil {
			return nil, apperr.Invalid("itemId is required")
		}
		if l.Quantity <= 0 {
			return nil, apperr.Invalid("quantity must be positive")
		}
		qty[l.ItemID] += l.Quantity
	}
	out := make([]SaleRequestLine, 0, len(qty))
	for id, q := range qty {
		out = append(out, SaleRequestLine{ItemID: id, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID.String() < out[j].ItemID.String() })
	return out, nil
}

func saleDetails(s *Sale) string {
	parts := make([]string, len(s.Lines))
	for i, l := range s.Lines {
		parts[i] = fmt.Sprintf("%dx %s", l.Quantity, l.Name)
	}
	return fmt.Sprintf("Direct sale: %s to %s. Revenue: UGX %d", strings.Join(parts, ", "), s.CustomerName, s.Total)
}

// ListSales returns the sales of one calendar day in the clinic's time zone.
func (s *Service) ListSales(ctx context.Context, day string) ([]*Sale, error) {
	r, err := daterange.ParseDay(day, s.loc, s.now())
	if err != nil {
		return nil, apperr.Invalid("%v", err)
	}
	return s.repo.ListSalesBetween(ctx, r.From, r.To)
}

func (s *Service) SalesBetween(ctx context.Context, from, to time.Time) ([]*Sale, error) {
	return s.repo.ListSalesBetween(ctx, from, to)
}

// catalog exposes items to the visit service as prescribable medicines.
type catalog struct {
	repo Repository
}

func NewCatalog(repo Repository) visit.Catalog {
	return catalog{repo: repo}
}

func (c catalog) LookupMedicine(ctx context.Context, id uuid.UUID) (visit.CatalogItem, error) {
	it, err := c.repo.GetByID(ctx, id)
	if err != nil {
		return visit.CatalogItem{}, err
	}
	return visit.CatalogItem{ID: it.ID, Name: it.Name, Dosage: it.Dosage, Route: it.Route, Price: it.Price}, nil
}
