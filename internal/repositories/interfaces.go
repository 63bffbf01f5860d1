package repositories

import (
	"context"
	"time"

	"github.com/mrshanebarron/repshare/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	SellerOrders() SellerOrderRepository
	Inventory() InventoryRepository
	Warehouses() WarehouseRepository
	Sellers() SellerRepository
	Products() ProductRepository
	Carriers() CarrierRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists buyer-facing order aggregates with embedded lines.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// SellerOrderRepository persists the per-seller partitions produced by splitting.
type SellerOrderRepository interface {
	Insert(ctx context.Context, sellerOrder domain.SellerOrder) error
	Update(ctx context.Context, sellerOrder domain.SellerOrder) error
	FindByID(ctx context.Context, sellerOrderID string) (domain.SellerOrder, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.SellerOrder, error)
	List(ctx context.Context, filter SellerOrderListFilter) (domain.CursorPage[domain.SellerOrder], error)
}

// InventoryRepository manages stock levels and reservation lifecycle with transactional guarantees.
//
// Reserve, Commit and Release each execute inside a single datastore transaction
// so the stock counters and the reservation document never diverge.
type InventoryRepository interface {
	Reserve(ctx context.Context, req InventoryReserveRequest) (domain.StockReservation, error)
	Commit(ctx context.Context, req InventoryCommitRequest) (domain.StockReservation, error)
	Release(ctx context.Context, req InventoryReleaseRequest) (domain.StockReservation, error)
	SweepExpired(ctx context.Context, req InventorySweepRequest) (InventorySweepResult, error)
	GetReservation(ctx context.Context, reservationID string) (domain.StockReservation, error)
	ListReservationsByOrder(ctx context.Context, orderID string) ([]domain.StockReservation, error)
	ListReservationsBySellerOrder(ctx context.Context, sellerOrderID string) ([]domain.StockReservation, error)
	GetStockLevel(ctx context.Context, productID string, warehouseID string) (domain.StockLevel, error)
	ListStockForProduct(ctx context.Context, productID string) ([]domain.StockLevel, error)
	UpsertStockLevel(ctx context.Context, level domain.StockLevel) error
}

// InventoryReserveRequest places a single time-bounded hold against one
// (product, warehouse) stock record.
type InventoryReserveRequest struct {
	ReservationID string
	OrderID       string
	SellerOrderID string
	ProductID     string
	WarehouseID   string
	Quantity      int
	ExpiresAt     time.Time
	Now           time.Time
}

// InventoryCommitRequest converts a hold into a permanent stock deduction.
type InventoryCommitRequest struct {
	ReservationID string
	Now           time.Time
}

// InventoryReleaseRequest returns a held quantity to availability.
type InventoryReleaseRequest struct {
	ReservationID string
	Reason        string
	Now           time.Time
}

// InventorySweepRequest bounds an expiry sweep pass.
type InventorySweepRequest struct {
	Now   time.Time
	Limit int
}

// InventorySweepResult reports the outcome of one sweep pass.
type InventorySweepResult struct {
	Released []domain.StockReservation
	// Failed counts reservations that could not be released this pass; they
	// remain reserved and are retried on the next sweep.
	Failed int
}

// WarehouseRepository stores fulfilment locations, kept fresh by the warehouse sync.
type WarehouseRepository interface {
	FindByID(ctx context.Context, warehouseID string) (domain.Warehouse, error)
	ListActive(ctx context.Context) ([]domain.Warehouse, error)
	Upsert(ctx context.Context, warehouse domain.Warehouse) error
}

// SellerRepository reads seller commercial terms. Onboarding owns writes.
type SellerRepository interface {
	FindByID(ctx context.Context, sellerID string) (domain.Seller, error)
	ListActive(ctx context.Context) ([]domain.Seller, error)
}

// ProductRepository stores catalog snapshots, kept fresh by the product sync.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindBySKU(ctx context.Context, sku string) (domain.Product, error)
	Upsert(ctx context.Context, product domain.Product) error
}

// CarrierRepository stores carrier tracking metadata.
type CarrierRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Carrier, error)
	ListActive(ctx context.Context) ([]domain.Carrier, error)
}

// Filter DTOs shared across repositories ------------------------------------

type OrderListFilter struct {
	BuyerID    string
	Status     []domain.OrderStatus
	Pagination domain.Pagination
}

type SellerOrderListFilter struct {
	OrderID          string
	SellerID         string
	Status           []domain.OrderStatus
	FulfilmentStatus []domain.FulfilmentStatus
	Pagination       domain.Pagination
}
