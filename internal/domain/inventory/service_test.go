package inventory

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/clinic/internal/domain/visit"
	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/internal/platform/outbox"
	"github.com/clinicdesk/clinic/pkg/apperr"
)

// -- Mock Repository --

type mockRepo struct {
	items     map[uuid.UUID]Item
	sales     []*Sale
	dispensed map[uuid.UUID]bool
	now       time.Time
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		items:     make(map[uuid.UUID]Item),
		dispensed: make(map[uuid.UUID]bool),
		now:       time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
}

// RunInTx restores every map when fn fails.
func (m *mockRepo) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	items := make(map[uuid.UUID]Item, len(m.items))
	for k, v := range m.items {
		items[k] = v
	}
	dispensed := make(map[uuid.UUID]bool, len(m.dispensed))
	for k, v := range m.dispensed {
		dispensed[k] = v
	}
	sales := append([]*Sale(nil), m.sales...)
	if err := fn(ctx); err != nil {
		m.items, m.dispensed, m.sales = items, dispensed, sales
		return err
	}
	return nil
}

func (m *mockRepo) Create(_ context.Context, it *Item) error {
	it.ID = uuid.New()
	m.items[it.ID] = *it
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Item, error) {
	it, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &it, nil
}

func (m *mockRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Item, error) {
	return m.GetByID(ctx, id)
}

func (m *mockRepo) Update(_ context.Context, it *Item) error {
	if _, ok := m.items[it.ID]; !ok {
		return ErrNotFound
	}
	m.items[it.ID] = *it
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.items[id]; !ok {
		return ErrNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *mockRepo) List(_ context.Context, f ListFilter) ([]*Item, int, error) {
	var out []*Item
	for _, it := range m.items {
		it := it
		if f.Search != "" && !strings.Contains(strings.ToLower(it.Name), strings.ToLower(f.Search)) {
			continue
		}
		if f.InStockOnly && it.Stock <= 0 {
			continue
		}
		if f.StockBelow > 0 && it.Stock >= f.StockBelow {
			continue
		}
		out = append(out, &it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, len(out), nil
}

func (m *mockRepo) DecrementStock(_ context.Context, id uuid.UUID, qty int) (*Item, error) {
	it, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	if it.Stock < qty {
		return nil, ErrInsufficientStock
	}
	it.Stock -= qty
	m.items[id] = it
	return &it, nil
}

func (m *mockRepo) CreateSale(_ context.Context, s *Sale) error {
	s.ID = uuid.New()
	s.CreatedAt = m.now
	m.sales = append(m.sales, s)
	return nil
}

func (m *mockRepo) ListSalesBetween(_ context.Context, from, to time.Time) ([]*Sale, error) {
	var out []*Sale
	for _, s := range m.sales {
		if !s.CreatedAt.Before(from) && s.CreatedAt.Before(to) {
			out = append(out, s)
		}
	}
	return out, nil
}

// fakePrescriptions keeps its dispensed flags in the mock repo so they roll
// back with the rest of the transaction.
type fakePrescriptions struct {
	repo  *mockRepo
	lines map[uuid.UUID]visit.DispensedLine
}

func (f *fakePrescriptions) MarkDispensed(_ context.Context, _ auth.Principal, visitID, lineID uuid.UUID) (visit.DispensedLine, error) {
	line, ok := f.lines[lineID]
	if !ok || line.VisitID != visitID {
		return visit.DispensedLine{}, apperr.NotFound("prescription line %s not found", lineID)
	}
	if f.repo.dispensed[lineID] {
		return visit.DispensedLine{}, apperr.Conflict("prescription line %s is already dispensed", lineID)
	}
	f.repo.dispensed[lineID] = true
	return line, nil
}

type auditSpy struct {
	actions []string
	details []string
}

func (a *auditSpy) Record(_ context.Context, _ auth.Principal, action, details string) error {
	a.actions = append(a.actions, action)
	a.details = append(a.details, details)
	return nil
}

// -- Fixtures --

var (
	admin     = auth.Principal{UserID: uuid.New(), Email: "admin@clinic.test", Role: auth.RoleAdmin}
	pharmacy  = auth.Principal{UserID: uuid.New(), Email: "desk@clinic.test", Role: auth.RoleReceptionPharmacy}
	visitID   = uuid.New()
	paracetRx = uuid.New()
)

type fixture struct {
	svc     *Service
	repo    *mockRepo
	rx      *fakePrescriptions
	changes *outbox.MemoryRecorder
	audit   *auditSpy
}

func newFixture() *fixture {
	repo := newMockRepo()
	f := &fixture{
		repo:    repo,
		rx:      &fakePrescriptions{repo: repo, lines: make(map[uuid.UUID]visit.DispensedLine)},
		changes: &outbox.MemoryRecorder{},
		audit:   &auditSpy{},
	}
	f.svc = NewService(repo, repo, f.rx, f.changes, f.audit, time.UTC)
	f.svc.now = func() time.Time { return repo.now }
	return f
}

func (f *fixture) addItem(t *testing.T, name string, stock int, price int64) *Item {
	t.Helper()
	it := &Item{Name: name, Stock: stock, Price: price, Dosage: "500mg", Unit: "tablet"}
	require.NoError(t, f.svc.Add(context.Background(), admin, it))
	return it
}

func (f *fixture) stock(id uuid.UUID) int {
	return f.repo.items[id].Stock
}

// -- Item management --

func TestAdd(t *testing.T) {
	f := newFixture()
	it := f.addItem(t, "  Paracetamol ", 100, 1000)

	assert.Equal(t, "Paracetamol", it.Name)
	assert.Equal(t, []string{"INVENTORY_ADDED"}, f.audit.actions)
	assert.Equal(t, "Added Paracetamol", f.audit.details[0])
	assert.Equal(t, []string{Collection}, f.changes.Collections())
}

func TestAdd_Validation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cases := []*Item{
		{Name: ""},
		{Name: "x", Stock: -1},
		{Name: "x", Price: -5},
		{Name: "x", ExpiryDate: "31/12/2027"},
	}
	for _, it := range cases {
		err := f.svc.Add(ctx, admin, it)
		assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err), "%+v", it)
	}
	assert.Empty(t, f.repo.items)
}

func TestManage_AdminOnly(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	it := f.addItem(t, "Paracetamol", 10, 1000)

	err := f.svc.Add(ctx, pharmacy, &Item{Name: "Ibuprofen"})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	stock := 50
	_, err = f.svc.Update(ctx, pharmacy, it.ID, ItemPatch{Stock: &stock})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	err = f.svc.Delete(ctx, pharmacy, it.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	assert.Len(t, f.repo.items, 1)
}

func TestUpdate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	it := f.addItem(t, "Paracetamol", 10, 1000)

	stock, price, expiry := 40, int64(1200), "2027-06-30"
	got, err := f.svc.Update(ctx, admin, it.ID, ItemPatch{Stock: &stock, Price: &price, ExpiryDate: &expiry})
	require.NoError(t, err)
	assert.Equal(t, 40, got.Stock)
	assert.EqualValues(t, 1200, got.Price)
	assert.Equal(t, "Paracetamol", got.Name, "untouched fields stay")
	assert.Equal(t, "2027-06-30", f.repo.items[it.ID].ExpiryDate)

	negative := -3
	_, err = f.svc.Update(ctx, admin, it.ID, ItemPatch{Stock: &negative})
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
	assert.Equal(t, 40, f.stock(it.ID))

	_, err = f.svc.Update(ctx, admin, uuid.New(), ItemPatch{Stock: &stock})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	it := f.addItem(t, "Paracetamol", 10, 1000)

	require.NoError(t, f.svc.Delete(ctx, admin, it.ID))
	assert.Empty(t, f.repo.items)
	assert.Contains(t, f.audit.actions, "INVENTORY_REMOVED")

	assert.ErrorIs(t, f.svc.Delete(ctx, admin, it.ID), ErrNotFound)
}

func TestList(t *testing.T) {
	f := newFixture()
	f.addItem(t, "Paracetamol", 10, 1000)
	f.addItem(t, "Amoxicillin", 0, 2000)

	items, total, err := f.svc.List(context.Background(), ListFilter{Search: " para "})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "Paracetamol", items[0].Name)

	_, total, err = f.svc.List(context.Background(), ListFilter{InStockOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestCountLowStock(t *testing.T) {
	f := newFixture()
	f.addItem(t, "Paracetamol", 19, 1000)
	f.addItem(t, "Amoxicillin", 0, 2000)
	f.addItem(t, "Ibuprofen", 20, 1500)

	n, err := f.svc.CountLowStock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n, "an item at the threshold is not an alert")
}

// -- Dispense --

func (f *fixture) prescribe(it *Item) uuid.UUID {
	lineID := uuid.New()
	f.rx.lines[lineID] = visit.DispensedLine{VisitID: visitID, LineID: lineID, MedicineID: it.ID, MedicineName: it.Name}
	return lineID
}

func TestDispense_TakesExactlyOneUnit(t *testing.T) {
	f := newFixture()
	it := f.addItem(t, "Paracetamol", 10, 1000)
	lineID := f.prescribe(it)

	res, err := f.svc.Dispense(context.Background(), pharmacy, visitID, lineID)
	require.NoError(t, err)
	assert.Equal(t, 9, res.Stock)
	assert.Equal(t, 9, f.stock(it.ID))
	assert.True(t, f.repo.dispensed[lineID])
	assert.Equal(t, "MED_DISPENSED", f.audit.actions[len(f.audit.actions)-1])
	assert.Contains(t, f.audit.details[len(f.audit.details)-1], "Dispensed Paracetamol for Visit "+visitID.String())
}

func TestDispense_AlreadyDispensed(t *testing.T) {
	f := newFixture()
	it := f.addItem(t, "Paracetamol", 10, 1000)
	lineID := f.prescribe(it)

	_, err := f.svc.Dispense(context.Background(), pharmacy, visitID, lineID)
	require.NoError(t, err)
	_, err = f.svc.Dispense(context.Background(), pharmacy, visitID, lineID)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, 9, f.stock(it.ID), "no second unit taken")
}

func TestDispense_OutOfStockChangesNothing(t *testing.T) {
	f := newFixture()
	it := f.addItem(t, "Paracetamol", 0, 1000)
	lineID := f.prescribe(it)
	events := len(f.changes.Events())

	_, err := f.svc.Dispense(context.Background(), pharmacy, visitID, lineID)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Contains(t, apperr.Message(err), "out of stock")
	assert.False(t, f.repo.dispensed[lineID], "line stays undispensed")
	assert.Equal(t, 0, f.stock(it.ID))
	assert.Len(t, f.changes.Events(), events)
}

func TestDispense_UnknownLine(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Dispense(context.Background(), pharmacy, visitID, uuid.New())
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

// -- OTC sales --

func TestSell_DecrementsByQuantity(t *testing.T) {
	f := newFixture()
	para := f.addItem(t, "Paracetamol", 10, 1000)
	amox := f.addItem(t, "Amoxicillin", 5, 2500)

	sale, err := f.svc.Sell(context.Background(), pharmacy, SaleRequest{Lines: []SaleRequestLine{
		{ItemID: para.ID, Quantity: 3},
		{ItemID: amox.ID, Quantity: 2},
		{ItemID: para.ID, Quantity: 1},
	}})
	require.NoError(t, err)

	assert.Equal(t, WalkInCustomer, sale.CustomerName)
	assert.Equal(t, pharmacy.UserID, sale.StaffID)
	assert.Equal(t, 6, f.stock(para.ID))
	assert.Equal(t, 3, f.stock(amox.ID))
	require.Len(t, sale.Lines, 2, "repeated items are merged")
	assert.EqualValues(t, 4*1000+2*2500, sale.Total)
	assert.Len(t, f.repo.sales, 1, "exactly one transaction record")
	assert.Equal(t, "OTC_SALE", f.audit.actions[len(f.audit.actions)-1])
}

func TestSell_CapturesPriceAtSaleTime(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	para := f.addItem(t, "Paracetamol", 10, 1000)

	sale, err := f.svc.Sell(ctx, pharmacy, SaleRequest{CustomerName: "John", Lines: []SaleRequestLine{{ItemID: para.ID, Quantity: 2}}})
	require.NoError(t, err)

	price := int64(5000)
	_, err = f.svc.Update(ctx, admin, para.ID, ItemPatch{Price: &price})
	require.NoError(t, err)

	sales, err := f.svc.ListSales(ctx, "2026-03-02")
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, sale.ID, sales[0].ID)
	assert.EqualValues(t, 1000, sales[0].Lines[0].UnitPrice)
	assert.EqualValues(t, 2000, sales[0].Total)
}

func TestSell_ShortfallRejectsWholeSale(t *testing.T) {
	f := newFixture()
	para := f.addItem(t, "Paracetamol", 10, 1000)
	amox := f.addItem(t, "Amoxicillin", 1, 2500)
	auditCount := len(f.audit.actions)

	_, err := f.svc.Sell(context.Background(), pharmacy, SaleRequest{Lines: []SaleRequestLine{
		{ItemID: para.ID, Quantity: 3},
		{ItemID: amox.ID, Quantity: 2},
	}})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, 10, f.stock(para.ID), "stock unchanged")
	assert.Equal(t, 1, f.stock(amox.ID))
	assert.Empty(t, f.repo.sales)
	assert.Len(t, f.audit.actions, auditCount)
}

func TestSell_Validation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	para := f.addItem(t, "Paracetamol", 10, 1000)

	_, err := f.svc.Sell(ctx, pharmacy, SaleRequest{})
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))

	_, err = f.svc.Sell(ctx, pharmacy, SaleRequest{Lines: []SaleRequestLine{{ItemID: para.ID, Quantity: 0}}})
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))

	_, err = f.svc.Sell(ctx, pharmacy, SaleRequest{Lines: []SaleRequestLine{{ItemID: uuid.New(), Quantity: 1}}})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSales_BadDate(t *testing.T) {
	f := newFixture()
	_, err := f.svc.ListSales(context.Background(), "yesterday")
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
}

func TestCatalog(t *testing.T) {
	f := newFixture()
	para := f.addItem(t, "Paracetamol", 10, 1000)
	cat := NewCatalog(f.repo)

	got, err := cat.LookupMedicine(context.Background(), para.ID)
	require.NoError(t, err)
	assert.Equal(t, visit.CatalogItem{ID: para.ID, Name: "Paracetamol", Dosage: "500mg", Price: 1000}, got)

	_, err = cat.LookupMedicine(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}
