package services

import (
	"context"
	"errors"
	"time"

	"github.com/mrshanebarron/repshare/internal/domain"
	"github.com/mrshanebarron/repshare/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination       = domain.Pagination
	Order            = domain.Order
	OrderLine        = domain.OrderLine
	OrderStatus      = domain.OrderStatus
	SellerOrder      = domain.SellerOrder
	FulfilmentStatus = domain.FulfilmentStatus
	StockLevel       = domain.StockLevel
	StockReservation = domain.StockReservation
	Seller           = domain.Seller
	Warehouse        = domain.Warehouse
	Product          = domain.Product
	Carrier          = domain.Carrier
	Address          = domain.Address
)

// OrderService orchestrates the buyer order lifecycle: creation, splitting
// into seller orders, confirmation, and cancellation.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (OrderDetail, error)
	ListOrders(ctx context.Context, query ListOrdersQuery) (domain.CursorPage[Order], error)
	SplitOrder(ctx context.Context, cmd SplitOrderCommand) (SplitOrderResult, error)
	ConfirmOrder(ctx context.Context, cmd ConfirmOrderCommand) (OrderDetail, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (OrderDetail, error)
}

// CreateOrderCommand carries buyer input for a new draft order.
type CreateOrderCommand struct {
	BuyerID               string
	Lines                 []CreateOrderLine
	DeliveryAddress       Address
	RequestedDeliveryDate *time.Time
	Notes                 string
	Metadata              map[string]any
}

// CreateOrderLine identifies demanded product and commercial terms per line.
type CreateOrderLine struct {
	SKU             string
	Quantity        int
	DiscountPercent float64
	Notes           string
}

// OrderDetail bundles an order with its seller order partitions.
type OrderDetail struct {
	Order        Order
	SellerOrders []SellerOrder
}

// ListOrdersQuery filters the order listing.
type ListOrdersQuery struct {
	BuyerID    string
	Status     []OrderStatus
	Pagination Pagination
}

// SplitOrderCommand requests partitioning of a draft order by seller.
type SplitOrderCommand struct {
	OrderID string
	ActorID string
}

// SplitOrderResult reports the partitions and any lines left without stock.
type SplitOrderResult struct {
	Order        Order
	SellerOrders []SellerOrder
	// UnreservedSKUs lists SKUs that could not be stocked, keyed by seller
	// order ID. A populated map is a tracked degraded state, not a failure.
	UnreservedSKUs map[string][]string
}

// ConfirmOrderCommand commits reservations and starts fulfilment.
type ConfirmOrderCommand struct {
	OrderID string
	ActorID string
}

// CancelOrderCommand releases reservations and terminates the order.
type CancelOrderCommand struct {
	OrderID string
	Reason  string
	ActorID string
}

// ReservationService manages time-bounded stock holds.
type ReservationService interface {
	Reserve(ctx context.Context, cmd ReserveCommand) (StockReservation, error)
	CommitOrder(ctx context.Context, orderID string) (int, error)
	ReleaseOrder(ctx context.Context, orderID string, reason string) (int, error)
	ReleaseReservation(ctx context.Context, reservationID string, reason string) (StockReservation, error)
	SweepExpired(ctx context.Context) (SweepResult, error)
}

// ReserveCommand places one hold for a line's demand at a chosen warehouse.
type ReserveCommand struct {
	OrderID       string
	SellerOrderID string
	ProductID     string
	WarehouseID   string
	Quantity      int
}

// SweepResult reports one expiry sweep pass.
type SweepResult struct {
	Released int
	Failed   int
}

// FulfilmentService drives seller orders through the physical handling
// pipeline and keeps the parent order status derived from its partitions.
type FulfilmentService interface {
	GetSellerOrder(ctx context.Context, sellerOrderID string) (SellerOrder, error)
	ListSellerOrders(ctx context.Context, query ListSellerOrdersQuery) (domain.CursorPage[SellerOrder], error)
	Assign(ctx context.Context, cmd FulfilmentCommand) (SellerOrder, error)
	StartPicking(ctx context.Context, cmd FulfilmentCommand) (SellerOrder, error)
	MarkPacked(ctx context.Context, cmd PackCommand) (SellerOrder, error)
	MarkAwaitingCarrier(ctx context.Context, cmd FulfilmentCommand) (SellerOrder, error)
	Dispatch(ctx context.Context, cmd DispatchCommand) (SellerOrder, error)
	MarkDelivered(ctx context.Context, cmd DeliverCommand) (SellerOrder, error)
	ReportIssue(ctx context.Context, cmd IssueCommand) (SellerOrder, error)
	TrackingURL(ctx context.Context, sellerOrderID string) (string, error)
}

// ListSellerOrdersQuery filters the seller order listing.
type ListSellerOrdersQuery struct {
	OrderID          string
	SellerID         string
	Status           []OrderStatus
	FulfilmentStatus []FulfilmentStatus
	Pagination       Pagination
}

// FulfilmentCommand is the minimal input for a plain status transition.
type FulfilmentCommand struct {
	SellerOrderID string
	ActorID       string
	Notes         string
}

// PackCommand records who packed the consignment.
type PackCommand struct {
	SellerOrderID string
	PackerName    string
	PackingNotes  string
	ActorID       string
}

// DispatchCommand hands the consignment to a carrier.
type DispatchCommand struct {
	SellerOrderID  string
	CarrierCode    string
	CarrierService string
	TrackingNumber string
	ShippingCost   int64
	ActorID        string
}

// DeliverCommand closes out a consignment, optionally with proof of delivery.
type DeliverCommand struct {
	SellerOrderID    string
	SignatureName    string
	DeliveryProofURL string
	ActorID          string
}

// IssueCommand fails a consignment from any non-terminal state.
type IssueCommand struct {
	SellerOrderID string
	Reason        string
	ActorID       string
}

// Domain events -------------------------------------------------------------

const (
	EventOrderCreated      = "order.created"
	EventOrderSplit        = "order.split"
	EventOrderConfirmed    = "order.confirmed"
	EventOrderCancelled    = "order.cancelled"
	EventOrderDelivered    = "order.delivered"
	EventFulfilmentChanged = "sellerOrder.fulfilment.changed"
)

// OrderEventMessage is the wire shape for emitted order domain events.
type OrderEventMessage struct {
	EventID       string         `json:"eventId"`
	Type          string         `json:"type"`
	OrderID       string         `json:"orderId"`
	SellerOrderID string         `json:"sellerOrderId,omitempty"`
	SellerID      string         `json:"sellerId,omitempty"`
	Status        string         `json:"status,omitempty"`
	OccurredAt    time.Time      `json:"occurredAt"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEventMessage) (string, error)
}

// External collaborators -----------------------------------------------------

// InventoryOfRecord keeps the local stock ledger fresh from the upstream
// inventory system. Never called inside the split transaction.
type InventoryOfRecord interface {
	GetStockOnHand(ctx context.Context, sku string, warehouseRef string) (int, error)
	SyncProducts(ctx context.Context) (int, error)
	SyncWarehouses(ctx context.Context) (int, error)
}

// WholesaleRouter submits confirmed seller orders to the wholesale network.
type WholesaleRouter interface {
	SubmitOrder(ctx context.Context, sellerOrder SellerOrder) (string, error)
	GetOrderStatus(ctx context.Context, externalRef string) (string, error)
	CancelOrder(ctx context.Context, externalRef string) error
	SyncOrderUpdates(ctx context.Context) (int, error)
}

// FieldJobService creates field jobs that reference an order as an optional
// parent. Out of scope beyond this contract.
type FieldJobService interface {
	CreateJob(ctx context.Context, req FieldJobRequest) (string, error)
}

// FieldJobRequest carries the minimal linkage to the order aggregate.
type FieldJobRequest struct {
	OrderID     string
	Title       string
	Description string
	ScheduledAt *time.Time
}

// ErrWebhookUnauthorized rejects pushed events whose credentials do not match
// the configured inventory-of-record account.
var ErrWebhookUnauthorized = errors.New("webhook: unauthorized")

// StockWebhook ingests events pushed by the inventory of record, as opposed
// to the pull-based sync on InventoryOfRecord.
type StockWebhook interface {
	ProcessWebhook(ctx context.Context, apiID string, body []byte) (WebhookResult, error)
}

// WebhookResult reports what a pushed event did. Unhandled event types are
// acknowledged with Handled false so the upstream does not retry them.
type WebhookResult struct {
	Event   string
	Handled bool
}

// Registry re-export for constructor deps to keep handler wiring terse.
type UnitOfWork = repositories.UnitOfWork
