package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mrshanebarron/repshare/internal/domain"
	"github.com/mrshanebarron/repshare/internal/repositories"
)

// Shared stubs ---------------------------------------------------------------

type stubOrderRepo struct {
	insertFn func(context.Context, domain.Order) error
	updateFn func(context.Context, domain.Order) error
	findFn   func(context.Context, string) (domain.Order, error)
	listFn   func(context.Context, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) Update(ctx context.Context, order domain.Order) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, orderID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

type stubSellerOrderRepo struct {
	insertFn      func(context.Context, domain.SellerOrder) error
	updateFn      func(context.Context, domain.SellerOrder) error
	findFn        func(context.Context, string) (domain.SellerOrder, error)
	listByOrderFn func(context.Context, string) ([]domain.SellerOrder, error)
	listFn        func(context.Context, repositories.SellerOrderListFilter) (domain.CursorPage[domain.SellerOrder], error)
}

func (s *stubSellerOrderRepo) Insert(ctx context.Context, so domain.SellerOrder) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, so)
	}
	return nil
}

func (s *stubSellerOrderRepo) Update(ctx context.Context, so domain.SellerOrder) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, so)
	}
	return nil
}

func (s *stubSellerOrderRepo) FindByID(ctx context.Context, id string) (domain.SellerOrder, error) {
	if s.findFn != nil {
		return s.findFn(ctx, id)
	}
	return domain.SellerOrder{}, errors.New("not implemented")
}

func (s *stubSellerOrderRepo) ListByOrder(ctx context.Context, orderID string) ([]domain.SellerOrder, error) {
	if s.listByOrderFn != nil {
		return s.listByOrderFn(ctx, orderID)
	}
	return nil, nil
}

func (s *stubSellerOrderRepo) List(ctx context.Context, filter repositories.SellerOrderListFilter) (domain.CursorPage[domain.SellerOrder], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.SellerOrder]{}, nil
}

type stubInventoryRepo struct {
	reserveFn       func(context.Context, repositories.InventoryReserveRequest) (domain.StockReservation, error)
	commitFn        func(context.Context, repositories.InventoryCommitRequest) (domain.StockReservation, error)
	releaseFn       func(context.Context, repositories.InventoryReleaseRequest) (domain.StockReservation, error)
	sweepFn         func(context.Context, repositories.InventorySweepRequest) (repositories.InventorySweepResult, error)
	getResFn        func(context.Context, string) (domain.StockReservation, error)
	byOrderFn       func(context.Context, string) ([]domain.StockReservation, error)
	bySellerOrderFn func(context.Context, string) ([]domain.StockReservation, error)
	getStockFn      func(context.Context, string, string) (domain.StockLevel, error)
	listStockFn     func(context.Context, string) ([]domain.StockLevel, error)
	upsertStockFn   func(context.Context, domain.StockLevel) error
}

func (s *stubInventoryRepo) Reserve(ctx context.Context, req repositories.InventoryReserveRequest) (domain.StockReservation, error) {
	if s.reserveFn != nil {
		return s.reserveFn(ctx, req)
	}
	return domain.StockReservation{ID: req.ReservationID}, nil
}

func (s *stubInventoryRepo) Commit(ctx context.Context, req repositories.InventoryCommitRequest) (domain.StockReservation, error) {
	if s.commitFn != nil {
		return s.commitFn(ctx, req)
	}
	return domain.StockReservation{ID: req.ReservationID}, nil
}

func (s *stubInventoryRepo) Release(ctx context.Context, req repositories.InventoryReleaseRequest) (domain.StockReservation, error) {
	if s.releaseFn != nil {
		return s.releaseFn(ctx, req)
	}
	return domain.StockReservation{ID: req.ReservationID}, nil
}

func (s *stubInventoryRepo) SweepExpired(ctx context.Context, req repositories.InventorySweepRequest) (repositories.InventorySweepResult, error) {
	if s.sweepFn != nil {
		return s.sweepFn(ctx, req)
	}
	return repositories.InventorySweepResult{}, nil
}

func (s *stubInventoryRepo) GetReservation(ctx context.Context, id string) (domain.StockReservation, error) {
	if s.getResFn != nil {
		return s.getResFn(ctx, id)
	}
	return domain.StockReservation{}, errors.New("not implemented")
}

func (s *stubInventoryRepo) ListReservationsByOrder(ctx context.Context, orderID string) ([]domain.StockReservation, error) {
	if s.byOrderFn != nil {
		return s.byOrderFn(ctx, orderID)
	}
	return nil, nil
}

func (s *stubInventoryRepo) ListReservationsBySellerOrder(ctx context.Context, sellerOrderID string) ([]domain.StockReservation, error) {
	if s.bySellerOrderFn != nil {
		return s.bySellerOrderFn(ctx, sellerOrderID)
	}
	return nil, nil
}

func (s *stubInventoryRepo) GetStockLevel(ctx context.Context, productID, warehouseID string) (domain.StockLevel, error) {
	if s.getStockFn != nil {
		return s.getStockFn(ctx, productID, warehouseID)
	}
	return domain.StockLevel{}, errors.New("not implemented")
}

func (s *stubInventoryRepo) ListStockForProduct(ctx context.Context, productID string) ([]domain.StockLevel, error) {
	if s.listStockFn != nil {
		return s.listStockFn(ctx, productID)
	}
	return nil, nil
}

func (s *stubInventoryRepo) UpsertStockLevel(ctx context.Context, level domain.StockLevel) error {
	if s.upsertStockFn != nil {
		return s.upsertStockFn(ctx, level)
	}
	return nil
}

type stubProductRepo struct {
	findByIDFn  func(context.Context, string) (domain.Product, error)
	findBySKUFn func(context.Context, string) (domain.Product, error)
	upsertFn    func(context.Context, domain.Product) error
}

func (s *stubProductRepo) FindByID(ctx context.Context, id string) (domain.Product, error) {
	if s.findByIDFn != nil {
		return s.findByIDFn(ctx, id)
	}
	return domain.Product{}, errors.New("not implemented")
}

func (s *stubProductRepo) FindBySKU(ctx context.Context, sku string) (domain.Product, error) {
	if s.findBySKUFn != nil {
		return s.findBySKUFn(ctx, sku)
	}
	return domain.Product{}, errors.New("not implemented")
}

func (s *stubProductRepo) Upsert(ctx context.Context, product domain.Product) error {
	if s.upsertFn != nil {
		return s.upsertFn(ctx, product)
	}
	return nil
}

type stubSellerRepo struct {
	findFn func(context.Context, string) (domain.Seller, error)
	listFn func(context.Context) ([]domain.Seller, error)
}

func (s *stubSellerRepo) FindByID(ctx context.Context, id string) (domain.Seller, error) {
	if s.findFn != nil {
		return s.findFn(ctx, id)
	}
	return domain.Seller{}, errors.New("not implemented")
}

func (s *stubSellerRepo) ListActive(ctx context.Context) ([]domain.Seller, error) {
	if s.listFn != nil {
		return s.listFn(ctx)
	}
	return nil, nil
}

type stubWarehouseRepo struct {
	findFn   func(context.Context, string) (domain.Warehouse, error)
	listFn   func(context.Context) ([]domain.Warehouse, error)
	upsertFn func(context.Context, domain.Warehouse) error
}

func (s *stubWarehouseRepo) FindByID(ctx context.Context, id string) (domain.Warehouse, error) {
	if s.findFn != nil {
		return s.findFn(ctx, id)
	}
	return domain.Warehouse{}, errors.New("not implemented")
}

func (s *stubWarehouseRepo) ListActive(ctx context.Context) ([]domain.Warehouse, error) {
	if s.listFn != nil {
		return s.listFn(ctx)
	}
	return nil, nil
}

func (s *stubWarehouseRepo) Upsert(ctx context.Context, warehouse domain.Warehouse) error {
	if s.upsertFn != nil {
		return s.upsertFn(ctx, warehouse)
	}
	return nil
}

type stubCarrierRepo struct {
	findFn func(context.Context, string) (domain.Carrier, error)
	listFn func(context.Context) ([]domain.Carrier, error)
}

func (s *stubCarrierRepo) FindByCode(ctx context.Context, code string) (domain.Carrier, error) {
	if s.findFn != nil {
		return s.findFn(ctx, code)
	}
	return domain.Carrier{}, errors.New("not implemented")
}

func (s *stubCarrierRepo) ListActive(ctx context.Context) ([]domain.Carrier, error) {
	if s.listFn != nil {
		return s.listFn(ctx)
	}
	return nil, nil
}

type stubReservationService struct {
	reserveFn      func(context.Context, ReserveCommand) (StockReservation, error)
	commitOrderFn  func(context.Context, string) (int, error)
	releaseOrderFn func(context.Context, string, string) (int, error)
	releaseResFn   func(context.Context, string, string) (StockReservation, error)
	sweepFn        func(context.Context) (SweepResult, error)
}

func (s *stubReservationService) Reserve(ctx context.Context, cmd ReserveCommand) (StockReservation, error) {
	if s.reserveFn != nil {
		return s.reserveFn(ctx, cmd)
	}
	return StockReservation{}, nil
}

func (s *stubReservationService) CommitOrder(ctx context.Context, orderID string) (int, error) {
	if s.commitOrderFn != nil {
		return s.commitOrderFn(ctx, orderID)
	}
	return 0, nil
}

func (s *stubReservationService) ReleaseOrder(ctx context.Context, orderID, reason string) (int, error) {
	if s.releaseOrderFn != nil {
		return s.releaseOrderFn(ctx, orderID, reason)
	}
	return 0, nil
}

func (s *stubReservationService) ReleaseReservation(ctx context.Context, id, reason string) (StockReservation, error) {
	if s.releaseResFn != nil {
		return s.releaseResFn(ctx, id, reason)
	}
	return StockReservation{}, nil
}

func (s *stubReservationService) SweepExpired(ctx context.Context) (SweepResult, error) {
	if s.sweepFn != nil {
		return s.sweepFn(ctx)
	}
	return SweepResult{}, nil
}

type captureEvents struct {
	events []OrderEventMessage
}

func (c *captureEvents) PublishOrderEvent(_ context.Context, event OrderEventMessage) (string, error) {
	c.events = append(c.events, event)
	return fmt.Sprintf("msg-%d", len(c.events)), nil
}

type stubUnitOfWork struct {
	runFn func(context.Context, func(context.Context) error) error
}

func (s *stubUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.runFn != nil {
		return s.runFn(ctx, fn)
	}
	return fn(ctx)
}

type notFoundError struct{ msg string }

func (e notFoundError) Error() string       { return e.msg }
func (e notFoundError) IsNotFound() bool    { return true }
func (e notFoundError) IsConflict() bool    { return false }
func (e notFoundError) IsUnavailable() bool { return false }

func sequenceIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s%02d", prefix, n)
	}
}

// Fixtures -------------------------------------------------------------------

var testClock = func() time.Time {
	return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
}

func twoSellerOrder() domain.Order {
	return domain.Order{
		ID:          "ord_1",
		OrderNumber: "RS-2026-000001",
		BuyerID:     "buyer-1",
		Status:      domain.OrderStatusDraft,
		Lines: []domain.OrderLine{
			{ID: "lin_1", ProductID: "prod-1", SellerID: "seller-1", SKU: "SKU-1", Quantity: 3, UnitPrice: 1000, LineTotal: 3000},
			{ID: "lin_2", ProductID: "prod-2", SellerID: "seller-2", SKU: "SKU-2", Quantity: 2, UnitPrice: 2000, LineTotal: 4000},
		},
		Subtotal:   7000,
		GrandTotal: 7000,
		CreatedAt:  testClock(),
		UpdatedAt:  testClock(),
	}
}

func testSellers() map[string]domain.Seller {
	return map[string]domain.Seller{
		"seller-1": {ID: "seller-1", Name: "Seller One", CommissionRate: 10, Active: true},
		"seller-2": {ID: "seller-2", Name: "Seller Two", CommissionRate: 8, Active: true},
	}
}

func newSplitService(t *testing.T, orderRepo *stubOrderRepo, soRepo *stubSellerOrderRepo, inv *stubInventoryRepo, reservations ReservationService, events *captureEvents) OrderService {
	t.Helper()
	sellers := testSellers()
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:       orderRepo,
		SellerOrders: soRepo,
		Inventory:    inv,
		Products:     &stubProductRepo{},
		Sellers: &stubSellerRepo{
			findFn: func(_ context.Context, id string) (domain.Seller, error) {
				seller, ok := sellers[id]
				if !ok {
					return domain.Seller{}, notFoundError{msg: "seller " + id}
				}
				return seller, nil
			},
		},
		Warehouses: &stubWarehouseRepo{
			listFn: func(context.Context) ([]domain.Warehouse, error) {
				return []domain.Warehouse{
					{ID: "wh-1", Code: "SYD", LogisticsID: "3pl-1", Active: true},
				}, nil
			},
		},
		Reservations:              reservations,
		UnitOfWork:                &stubUnitOfWork{},
		DefaultPlatformFeePercent: 5,
		Clock:                     testClock,
		IDGenerator:               sequenceIDs("ID"),
		Events:                    events,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	return svc
}

// Tests ----------------------------------------------------------------------

func TestOrderServiceCreateOrder(t *testing.T) {
	products := map[string]domain.Product{
		"SKU-1": {ID: "prod-1", SKU: "SKU-1", Name: "Pale Ale Case", SellerID: "seller-1", UnitPrice: 1000, Active: true},
		"SKU-2": {ID: "prod-2", SKU: "SKU-2", Name: "Lager Keg", SellerID: "seller-2", UnitPrice: 2000, Active: true},
	}

	var inserted []domain.Order
	events := &captureEvents{}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders: &stubOrderRepo{
			insertFn: func(_ context.Context, order domain.Order) error {
				inserted = append(inserted, order)
				return nil
			},
		},
		SellerOrders: &stubSellerOrderRepo{},
		Inventory:    &stubInventoryRepo{},
		Products: &stubProductRepo{
			findBySKUFn: func(_ context.Context, sku string) (domain.Product, error) {
				product, ok := products[sku]
				if !ok {
					return domain.Product{}, notFoundError{msg: "product " + sku}
				}
				return product, nil
			},
		},
		Sellers:      &stubSellerRepo{},
		Warehouses:   &stubWarehouseRepo{},
		Reservations: &stubReservationService{},
		Clock:        testClock,
		IDGenerator:  sequenceIDs("ID"),
		Events:       events,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	order, err := svc.CreateOrder(context.Background(), CreateOrderCommand{
		BuyerID: "buyer-1",
		Lines: []CreateOrderLine{
			{SKU: "SKU-1", Quantity: 3},
			{SKU: "SKU-2", Quantity: 2, DiscountPercent: 10},
		},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	if order.Status != domain.OrderStatusDraft {
		t.Fatalf("expected draft status got %s", order.Status)
	}
	if !strings.HasPrefix(order.ID, "ord_") {
		t.Fatalf("unexpected order id %s", order.ID)
	}
	if !strings.HasPrefix(order.OrderNumber, "RS-2026-") {
		t.Fatalf("unexpected order number %s", order.OrderNumber)
	}
	if len(order.Lines) != 2 {
		t.Fatalf("expected 2 lines got %d", len(order.Lines))
	}
	if order.Lines[0].LineTotal != 3000 {
		t.Fatalf("expected line total 3000 got %d", order.Lines[0].LineTotal)
	}
	// 2 * 2000 with 10% discount.
	if order.Lines[1].DiscountAmount != 400 || order.Lines[1].LineTotal != 3600 {
		t.Fatalf("unexpected discounted line: discount=%d total=%d", order.Lines[1].DiscountAmount, order.Lines[1].LineTotal)
	}
	if order.Subtotal != 6600 || order.DiscountTotal != 400 {
		t.Fatalf("unexpected totals subtotal=%d discount=%d", order.Subtotal, order.DiscountTotal)
	}
	if order.GrandTotal != order.Subtotal+order.TaxTotal-order.DiscountTotal {
		t.Fatalf("grand total invariant violated: %d", order.GrandTotal)
	}
	if len(inserted) != 1 {
		t.Fatalf("expected 1 insert got %d", len(inserted))
	}
	if len(events.events) != 1 || events.events[0].Type != EventOrderCreated {
		t.Fatalf("expected order.created event, got %+v", events.events)
	}
}

func TestOrderServiceCreateOrderRejectsUnknownSKU(t *testing.T) {
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:       &stubOrderRepo{},
		SellerOrders: &stubSellerOrderRepo{},
		Inventory:    &stubInventoryRepo{},
		Products: &stubProductRepo{
			findBySKUFn: func(_ context.Context, sku string) (domain.Product, error) {
				return domain.Product{}, notFoundError{msg: "product " + sku}
			},
		},
		Sellers:      &stubSellerRepo{},
		Warehouses:   &stubWarehouseRepo{},
		Reservations: &stubReservationService{},
		Clock:        testClock,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	_, err = svc.CreateOrder(context.Background(), CreateOrderCommand{
		BuyerID: "buyer-1",
		Lines:   []CreateOrderLine{{SKU: "NOPE", Quantity: 1}},
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestOrderServiceSplitOrderPartitionsBySeller(t *testing.T) {
	order := twoSellerOrder()

	var (
		insertedSOs  []domain.SellerOrder
		updatedOrder *domain.Order
		reserved     []ReserveCommand
	)
	events := &captureEvents{}

	orderRepo := &stubOrderRepo{
		findFn: func(_ context.Context, id string) (domain.Order, error) {
			if id != order.ID {
				return domain.Order{}, notFoundError{msg: "order " + id}
			}
			return order, nil
		},
		updateFn: func(_ context.Context, o domain.Order) error {
			updatedOrder = &o
			return nil
		},
	}
	soRepo := &stubSellerOrderRepo{
		insertFn: func(_ context.Context, so domain.SellerOrder) error {
			insertedSOs = append(insertedSOs, so)
			return nil
		},
	}
	inv := &stubInventoryRepo{
		listStockFn: func(_ context.Context, productID string) ([]domain.StockLevel, error) {
			return []domain.StockLevel{
				{ProductID: productID, WarehouseID: "wh-1", OnHand: 100, Available: 100},
			}, nil
		},
	}
	reservations := &stubReservationService{
		reserveFn: func(_ context.Context, cmd ReserveCommand) (StockReservation, error) {
			reserved = append(reserved, cmd)
			return StockReservation{ID: fmt.Sprintf("rsv_%d", len(reserved))}, nil
		},
	}

	svc := newSplitService(t, orderRepo, soRepo, inv, reservations, events)

	result, err := svc.SplitOrder(context.Background(), SplitOrderCommand{OrderID: order.ID})
	if err != nil {
		t.Fatalf("split order: %v", err)
	}

	if len(result.SellerOrders) != 2 {
		t.Fatalf("expected 2 seller orders got %d", len(result.SellerOrders))
	}
	if len(insertedSOs) != 2 {
		t.Fatalf("expected 2 inserts got %d", len(insertedSOs))
	}

	so1, so2 := result.SellerOrders[0], result.SellerOrders[1]
	if so1.SellerID != "seller-1" || so2.SellerID != "seller-2" {
		t.Fatalf("seller grouping lost first-appearance order: %s, %s", so1.SellerID, so2.SellerID)
	}

	// Partition correctness: seller subtotals sum to the order subtotal.
	if so1.Subtotal+so2.Subtotal != result.Order.Subtotal {
		t.Fatalf("subtotal partition broken: %d + %d != %d", so1.Subtotal, so2.Subtotal, result.Order.Subtotal)
	}

	// Worked financial scenario: 10%/5% on 3000 and 8%/5% on 4000.
	if so1.CommissionAmount != 300 || so1.PlatformFee != 150 || so1.NetToSeller != 2550 {
		t.Fatalf("seller-1 financials wrong: commission=%d fee=%d net=%d", so1.CommissionAmount, so1.PlatformFee, so1.NetToSeller)
	}
	if so2.CommissionAmount != 320 || so2.PlatformFee != 200 || so2.NetToSeller != 3480 {
		t.Fatalf("seller-2 financials wrong: commission=%d fee=%d net=%d", so2.CommissionAmount, so2.PlatformFee, so2.NetToSeller)
	}
	if result.Order.GrandTotal != 7000 {
		t.Fatalf("expected grand total 7000 got %d", result.Order.GrandTotal)
	}

	// Every line assigned to exactly one seller order.
	if updatedOrder == nil {
		t.Fatal("order was not persisted")
	}
	assigned := make(map[string]string)
	for _, line := range updatedOrder.Lines {
		if line.SellerOrderID == "" {
			t.Fatalf("line %s left unassigned", line.ID)
		}
		assigned[line.ID] = line.SellerOrderID
	}
	if len(assigned) != 2 || assigned["lin_1"] == assigned["lin_2"] {
		t.Fatalf("lines not partitioned: %v", assigned)
	}

	if updatedOrder.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending status got %s", updatedOrder.Status)
	}
	if len(reserved) != 2 {
		t.Fatalf("expected 2 reservation attempts got %d", len(reserved))
	}
	for _, cmd := range reserved {
		if cmd.WarehouseID != "wh-1" {
			t.Fatalf("unexpected warehouse %s", cmd.WarehouseID)
		}
	}
	if len(result.UnreservedSKUs) != 0 {
		t.Fatalf("expected fully reserved split, got %v", result.UnreservedSKUs)
	}

	var split *OrderEventMessage
	for i := range events.events {
		if events.events[i].Type == EventOrderSplit {
			split = &events.events[i]
		}
	}
	if split == nil {
		t.Fatal("expected order.split event")
	}
}

func TestOrderServiceSplitToleratesInsufficientStock(t *testing.T) {
	order := twoSellerOrder()
	events := &captureEvents{}

	orderRepo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) { return order, nil },
	}
	var insertedSOs []domain.SellerOrder
	soRepo := &stubSellerOrderRepo{
		insertFn: func(_ context.Context, so domain.SellerOrder) error {
			insertedSOs = append(insertedSOs, so)
			return nil
		},
	}
	inv := &stubInventoryRepo{
		listStockFn: func(_ context.Context, productID string) ([]domain.StockLevel, error) {
			return []domain.StockLevel{{ProductID: productID, WarehouseID: "wh-1", Available: 1}}, nil
		},
	}
	reservations := &stubReservationService{
		reserveFn: func(_ context.Context, cmd ReserveCommand) (StockReservation, error) {
			return StockReservation{}, fmt.Errorf("%w: product %s", ErrInsufficientStock, cmd.ProductID)
		},
	}

	svc := newSplitService(t, orderRepo, soRepo, inv, reservations, events)

	result, err := svc.SplitOrder(context.Background(), SplitOrderCommand{OrderID: order.ID})
	if err != nil {
		t.Fatalf("split should tolerate insufficient stock: %v", err)
	}
	if len(result.SellerOrders) != 2 {
		t.Fatalf("expected 2 seller orders got %d", len(result.SellerOrders))
	}
	if len(result.UnreservedSKUs) != 2 {
		t.Fatalf("expected unreserved SKUs for both partitions, got %v", result.UnreservedSKUs)
	}
	for _, so := range result.SellerOrders {
		if len(so.UnreservedSKUs) == 0 {
			t.Fatalf("seller order %s should record its unreserved SKUs", so.ID)
		}
	}
}

func TestOrderServiceSplitAbortsAndReleasesOnHardError(t *testing.T) {
	order := twoSellerOrder()
	events := &captureEvents{}

	var releasedOrder string
	orderRepo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) { return order, nil },
		updateFn: func(context.Context, domain.Order) error {
			t.Fatal("order must not be persisted on aborted split")
			return nil
		},
	}
	soRepo := &stubSellerOrderRepo{
		insertFn: func(context.Context, domain.SellerOrder) error {
			t.Fatal("seller orders must not be persisted on aborted split")
			return nil
		},
	}
	inv := &stubInventoryRepo{
		listStockFn: func(_ context.Context, productID string) ([]domain.StockLevel, error) {
			return []domain.StockLevel{{ProductID: productID, WarehouseID: "wh-1", Available: 100}}, nil
		},
	}
	hardErr := errors.New("backend exploded")
	reservations := &stubReservationService{
		reserveFn: func(_ context.Context, cmd ReserveCommand) (StockReservation, error) {
			if cmd.ProductID == "prod-1" {
				return StockReservation{ID: "rsv_ok"}, nil
			}
			return StockReservation{}, hardErr
		},
		releaseOrderFn: func(_ context.Context, orderID, reason string) (int, error) {
			releasedOrder = orderID
			if reason != releaseReasonSplitFailed {
				t.Fatalf("unexpected release reason %s", reason)
			}
			return 1, nil
		},
	}

	svc := newSplitService(t, orderRepo, soRepo, inv, reservations, events)

	_, err := svc.SplitOrder(context.Background(), SplitOrderCommand{OrderID: order.ID})
	if !errors.Is(err, hardErr) {
		t.Fatalf("expected hard error, got %v", err)
	}
	if releasedOrder != order.ID {
		t.Fatalf("expected compensating release for %s, got %q", order.ID, releasedOrder)
	}
}

func TestOrderServiceSplitRejectsAlreadySplit(t *testing.T) {
	order := twoSellerOrder()
	order.Status = domain.OrderStatusPending

	orderRepo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) { return order, nil },
	}
	soRepo := &stubSellerOrderRepo{
		listByOrderFn: func(context.Context, string) ([]domain.SellerOrder, error) {
			return []domain.SellerOrder{{ID: "so_existing"}}, nil
		},
	}

	svc := newSplitService(t, orderRepo, soRepo, &stubInventoryRepo{}, &stubReservationService{}, &captureEvents{})

	_, err := svc.SplitOrder(context.Background(), SplitOrderCommand{OrderID: order.ID})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

// A persistence failure partway through the split's write set must not leave
// partial seller orders behind: every write runs inside the unit of work, the
// failed pass is discarded whole, and a retry of the split succeeds.
func TestOrderServiceSplitInsertFailureLeavesOrderRetryable(t *testing.T) {
	order := twoSellerOrder()
	sellers := testSellers()

	var (
		persisted     []domain.SellerOrder
		staged        []domain.SellerOrder
		orderUpdated  bool
		inTx          bool
		releasedOrder string
	)
	insertErr := errors.New("write contention")
	failSecondInsert := true

	orderRepo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) { return order, nil },
		updateFn: func(context.Context, domain.Order) error {
			if !inTx {
				t.Fatal("order update ran outside the unit of work")
			}
			orderUpdated = true
			return nil
		},
	}
	soRepo := &stubSellerOrderRepo{
		insertFn: func(_ context.Context, so domain.SellerOrder) error {
			if !inTx {
				t.Fatal("seller order insert ran outside the unit of work")
			}
			if failSecondInsert && len(staged) == 1 {
				return insertErr
			}
			staged = append(staged, so)
			return nil
		},
		listByOrderFn: func(context.Context, string) ([]domain.SellerOrder, error) {
			return persisted, nil
		},
	}
	inv := &stubInventoryRepo{
		listStockFn: func(_ context.Context, productID string) ([]domain.StockLevel, error) {
			return []domain.StockLevel{
				{ProductID: productID, WarehouseID: "wh-1", OnHand: 100, Available: 100},
			}, nil
		},
	}
	reservations := &stubReservationService{
		reserveFn: func(_ context.Context, cmd ReserveCommand) (StockReservation, error) {
			return StockReservation{ID: "rsv_" + cmd.ProductID}, nil
		},
		releaseOrderFn: func(_ context.Context, orderID, reason string) (int, error) {
			releasedOrder = orderID
			return 2, nil
		},
	}
	// Mimics the transactional registry: writes staged during fn only become
	// visible when fn returns nil.
	uow := &stubUnitOfWork{
		runFn: func(ctx context.Context, fn func(context.Context) error) error {
			inTx = true
			staged = nil
			err := fn(ctx)
			inTx = false
			if err == nil {
				persisted = append(persisted, staged...)
			}
			return err
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:       orderRepo,
		SellerOrders: soRepo,
		Inventory:    inv,
		Products:     &stubProductRepo{},
		Sellers: &stubSellerRepo{
			findFn: func(_ context.Context, id string) (domain.Seller, error) {
				seller, ok := sellers[id]
				if !ok {
					return domain.Seller{}, notFoundError{msg: "seller " + id}
				}
				return seller, nil
			},
		},
		Warehouses: &stubWarehouseRepo{
			listFn: func(context.Context) ([]domain.Warehouse, error) {
				return []domain.Warehouse{{ID: "wh-1", Code: "SYD", LogisticsID: "3pl-1", Active: true}}, nil
			},
		},
		Reservations:              reservations,
		UnitOfWork:                uow,
		DefaultPlatformFeePercent: 5,
		Clock:                     testClock,
		IDGenerator:               sequenceIDs("ID"),
		Events:                    &captureEvents{},
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	_, err = svc.SplitOrder(context.Background(), SplitOrderCommand{OrderID: order.ID})
	if !errors.Is(err, insertErr) {
		t.Fatalf("expected insert failure, got %v", err)
	}
	if len(persisted) != 0 {
		t.Fatalf("failed split leaked %d seller orders", len(persisted))
	}
	if orderUpdated {
		t.Fatal("order must not change on a failed split")
	}
	if releasedOrder != order.ID {
		t.Fatalf("expected compensating release for %s, got %q", order.ID, releasedOrder)
	}

	// Nothing persisted, so the retry must not trip the already-split guard.
	failSecondInsert = false
	result, err := svc.SplitOrder(context.Background(), SplitOrderCommand{OrderID: order.ID})
	if err != nil {
		t.Fatalf("retry after failed split: %v", err)
	}
	if len(result.SellerOrders) != 2 {
		t.Fatalf("expected 2 seller orders on retry, got %d", len(result.SellerOrders))
	}
	if len(persisted) != 2 {
		t.Fatalf("expected 2 persisted seller orders, got %d", len(persisted))
	}
	if !orderUpdated {
		t.Fatal("retried split must persist the order")
	}
}

func TestOrderServiceConfirmCommitsAndSubmits(t *testing.T) {
	order := twoSellerOrder()
	order.Status = domain.OrderStatusPending
	sellerOrders := []domain.SellerOrder{
		{ID: "so_1", OrderID: order.ID, SellerID: "seller-1", Status: domain.OrderStatusPending, FulfilmentStatus: domain.FulfilmentPending},
		{ID: "so_2", OrderID: order.ID, SellerID: "seller-2", Status: domain.OrderStatusPending, FulfilmentStatus: domain.FulfilmentPending},
	}

	var (
		committedOrder string
		updates        []domain.SellerOrder
		submitted      []string
	)
	events := &captureEvents{}

	orderRepo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) { return order, nil },
	}
	soRepo := &stubSellerOrderRepo{
		listByOrderFn: func(context.Context, string) ([]domain.SellerOrder, error) { return sellerOrders, nil },
		updateFn: func(_ context.Context, so domain.SellerOrder) error {
			updates = append(updates, so)
			return nil
		},
	}
	reservations := &stubReservationService{
		commitOrderFn: func(_ context.Context, orderID string) (int, error) {
			committedOrder = orderID
			return 2, nil
		},
	}

	wholesale := &stubWholesaleRouter{
		submitFn: func(_ context.Context, so domain.SellerOrder) (string, error) {
			submitted = append(submitted, so.ID)
			if so.ID == "so_2" {
				return "", errors.New("gateway timeout")
			}
			return "ALM-1001", nil
		},
	}

	sellers := testSellers()
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:       orderRepo,
		SellerOrders: soRepo,
		Inventory:    &stubInventoryRepo{},
		Products:     &stubProductRepo{},
		Sellers: &stubSellerRepo{
			findFn: func(_ context.Context, id string) (domain.Seller, error) { return sellers[id], nil },
		},
		Warehouses:   &stubWarehouseRepo{},
		Reservations: reservations,
		Wholesale:    wholesale,
		Clock:        testClock,
		IDGenerator:  sequenceIDs("ID"),
		Events:       events,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	detail, err := svc.ConfirmOrder(context.Background(), ConfirmOrderCommand{OrderID: order.ID})
	if err != nil {
		t.Fatalf("confirm order: %v", err)
	}

	if committedOrder != order.ID {
		t.Fatalf("expected reservations committed for %s, got %q", order.ID, committedOrder)
	}
	if detail.Order.Status != domain.OrderStatusConfirmed || detail.Order.ConfirmedAt == nil {
		t.Fatalf("order not confirmed: %+v", detail.Order)
	}
	if len(submitted) != 2 {
		t.Fatalf("expected both seller orders submitted, got %v", submitted)
	}

	byID := make(map[string]domain.SellerOrder)
	for _, so := range detail.SellerOrders {
		byID[so.ID] = so
	}
	if byID["so_1"].ExternalRef != "ALM-1001" || byID["so_1"].ExternalStatus != externalStatusSubmitted {
		t.Fatalf("so_1 submission not recorded: %+v", byID["so_1"])
	}
	// Submission failure is scoped to the one seller order.
	if byID["so_2"].FulfilmentStatus != domain.FulfilmentFailed {
		t.Fatalf("so_2 should be failed, got %s", byID["so_2"].FulfilmentStatus)
	}
	if byID["so_2"].Metadata["wholesaleError"] == nil {
		t.Fatal("so_2 should carry the submission error in metadata")
	}
	if byID["so_1"].FulfilmentStatus != domain.FulfilmentAssigned {
		t.Fatalf("so_1 should be assigned, got %s", byID["so_1"].FulfilmentStatus)
	}
}

func TestOrderServiceConfirmRejectsTerminalOrder(t *testing.T) {
	order := twoSellerOrder()
	order.Status = domain.OrderStatusCancelled

	svc := newSplitService(t, &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) { return order, nil },
	}, &stubSellerOrderRepo{}, &stubInventoryRepo{}, &stubReservationService{}, &captureEvents{})

	_, err := svc.ConfirmOrder(context.Background(), ConfirmOrderCommand{OrderID: order.ID})
	if !errors.Is(err, ErrOrderAlreadyFinal) {
		t.Fatalf("expected already-final, got %v", err)
	}
}

func TestOrderServiceCancelReleasesAndTerminates(t *testing.T) {
	order := twoSellerOrder()
	order.Status = domain.OrderStatusPending
	sellerOrders := []domain.SellerOrder{
		{ID: "so_1", OrderID: order.ID, Status: domain.OrderStatusPending, FulfilmentStatus: domain.FulfilmentPending},
	}

	var releasedOrder, releaseReason string
	events := &captureEvents{}

	orderRepo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) { return order, nil },
	}
	soRepo := &stubSellerOrderRepo{
		listByOrderFn: func(context.Context, string) ([]domain.SellerOrder, error) { return sellerOrders, nil },
	}
	reservations := &stubReservationService{
		releaseOrderFn: func(_ context.Context, orderID, reason string) (int, error) {
			releasedOrder = orderID
			releaseReason = reason
			return 1, nil
		},
	}

	svc := newSplitService(t, orderRepo, soRepo, &stubInventoryRepo{}, reservations, events)

	detail, err := svc.CancelOrder(context.Background(), CancelOrderCommand{OrderID: order.ID, Reason: "buyer changed mind"})
	if err != nil {
		t.Fatalf("cancel order: %v", err)
	}

	if releasedOrder != order.ID || releaseReason != releaseReasonCancelled {
		t.Fatalf("expected release(%s, cancelled), got (%s, %s)", order.ID, releasedOrder, releaseReason)
	}
	if detail.Order.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", detail.Order.Status)
	}
	if detail.Order.CancelReason == nil || *detail.Order.CancelReason != "buyer changed mind" {
		t.Fatalf("cancel reason not recorded: %v", detail.Order.CancelReason)
	}
	if detail.SellerOrders[0].Status != domain.OrderStatusCancelled || detail.SellerOrders[0].FulfilmentStatus != domain.FulfilmentFailed {
		t.Fatalf("seller order not terminated: %+v", detail.SellerOrders[0])
	}
}

func TestOrderServiceCancelRejectsTerminalOrder(t *testing.T) {
	order := twoSellerOrder()
	order.Status = domain.OrderStatusDelivered

	svc := newSplitService(t, &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) { return order, nil },
	}, &stubSellerOrderRepo{}, &stubInventoryRepo{}, &stubReservationService{}, &captureEvents{})

	_, err := svc.CancelOrder(context.Background(), CancelOrderCommand{OrderID: order.ID})
	if !errors.Is(err, ErrOrderAlreadyFinal) {
		t.Fatalf("expected already-final, got %v", err)
	}
}

type stubWholesaleRouter struct {
	submitFn func(context.Context, domain.SellerOrder) (string, error)
	statusFn func(context.Context, string) (string, error)
	cancelFn func(context.Context, string) error
	syncFn   func(context.Context) (int, error)
}

func (s *stubWholesaleRouter) SubmitOrder(ctx context.Context, so domain.SellerOrder) (string, error) {
	if s.submitFn != nil {
		return s.submitFn(ctx, so)
	}
	return "", errors.New("not implemented")
}

func (s *stubWholesaleRouter) GetOrderStatus(ctx context.Context, ref string) (string, error) {
	if s.statusFn != nil {
		return s.statusFn(ctx, ref)
	}
	return "", errors.New("not implemented")
}

func (s *stubWholesaleRouter) CancelOrder(ctx context.Context, ref string) error {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, ref)
	}
	return nil
}

func (s *stubWholesaleRouter) SyncOrderUpdates(ctx context.Context) (int, error) {
	if s.syncFn != nil {
		return s.syncFn(ctx)
	}
	return 0, nil
}
