package domain

import (
	"strings"
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage wraps a page of results together with the continuation token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderStatus enumerates lifecycle states shared by orders and seller orders.
type OrderStatus string

const (
	// OrderStatusDraft indicates the buyer is still assembling the order.
	OrderStatusDraft OrderStatus = "draft"
	// OrderStatusPending indicates the order has been split and awaits confirmation.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates reservations are committed and fulfilment may begin.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing indicates at least one seller order is being picked or packed.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusReadyForPickup indicates goods await carrier collection.
	OrderStatusReadyForPickup OrderStatus = "ready_for_pickup"
	// OrderStatusInTransit indicates every seller order has been dispatched.
	OrderStatusInTransit OrderStatus = "in_transit"
	// OrderStatusDelivered indicates every seller order reached the buyer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled before completion.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded indicates the order was refunded after cancellation or delivery.
	OrderStatusRefunded OrderStatus = "refunded"
)

// IsTerminal reports whether no further status change is permitted.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

// IsActive reports whether the order is in-flight between placement and delivery.
func (s OrderStatus) IsActive() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing, OrderStatusReadyForPickup, OrderStatusInTransit:
		return true
	}
	return false
}

// FulfilmentStatus tracks the physical handling of a seller order, independent
// of its commercial status.
type FulfilmentStatus string

const (
	// FulfilmentPending indicates the seller order has not been handed to a warehouse yet.
	FulfilmentPending FulfilmentStatus = "pending"
	// FulfilmentAssigned indicates a warehouse/3PL accepted the seller order.
	FulfilmentAssigned FulfilmentStatus = "assigned"
	// FulfilmentPicking indicates items are being gathered from the warehouse.
	FulfilmentPicking FulfilmentStatus = "picking"
	// FulfilmentPacked indicates items are packed and await a carrier booking.
	FulfilmentPacked FulfilmentStatus = "packed"
	// FulfilmentAwaitingCarrier indicates the consignment awaits carrier collection.
	FulfilmentAwaitingCarrier FulfilmentStatus = "awaiting_carrier"
	// FulfilmentDispatched indicates the carrier has collected the consignment.
	FulfilmentDispatched FulfilmentStatus = "dispatched"
	// FulfilmentDelivered indicates the consignment reached the buyer.
	FulfilmentDelivered FulfilmentStatus = "delivered"
	// FulfilmentFailed indicates fulfilment was abandoned (issue or cancellation).
	FulfilmentFailed FulfilmentStatus = "failed"
)

// IsTerminal reports whether the fulfilment pipeline has ended for this order.
func (s FulfilmentStatus) IsTerminal() bool {
	return s == FulfilmentDelivered || s == FulfilmentFailed
}

// ReservationStatus enumerates the single-shot reservation lifecycle.
type ReservationStatus string

const (
	// ReservationReserved is the initial time-bounded hold.
	ReservationReserved ReservationStatus = "reserved"
	// ReservationCommitted means the hold was converted into a stock deduction.
	ReservationCommitted ReservationStatus = "committed"
	// ReservationReleased means the hold was returned to availability.
	ReservationReleased ReservationStatus = "released"
)

// Address is a delivery address snapshot taken at order time.
type Address struct {
	Line1    string
	City     string
	State    string
	Postcode string
}

// Order is the buyer-facing aggregate. Monetary amounts are in cents.
type Order struct {
	ID                    string
	OrderNumber           string
	BuyerID               string
	Status                OrderStatus
	Lines                 []OrderLine
	Subtotal              int64
	DiscountTotal         int64
	TaxTotal              int64
	PlatformFee           int64
	GrandTotal            int64
	Notes                 string
	DeliveryAddress       Address
	RequestedDeliveryDate *time.Time
	ConfirmedAt           *time.Time
	CompletedAt           *time.Time
	CancelReason          *string
	Metadata              map[string]any
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// OrderLine belongs to exactly one order and, after splitting, exactly one
// seller order. Prices are product snapshots taken at order time.
type OrderLine struct {
	ID              string
	SellerOrderID   string
	ProductID       string
	SellerID        string
	SKU             string
	ProductName     string
	Quantity        int
	UnitPrice       int64
	DiscountPercent float64
	DiscountAmount  int64
	TaxAmount       int64
	LineTotal       int64
	Notes           string
}

// SellerOrder is the per-seller partition of an order ("brand order" upstream).
// It advances its commercial status and fulfilment status independently of its
// siblings.
type SellerOrder struct {
	ID               string
	OrderNumber      string
	OrderID          string
	SellerID         string
	WarehouseID      string
	LogisticsID      string
	Status           OrderStatus
	FulfilmentStatus FulfilmentStatus
	Subtotal         int64
	DiscountTotal    int64
	TaxTotal         int64
	CommissionAmount int64
	PlatformFee      int64
	GrandTotal       int64
	NetToSeller      int64
	// UnreservedSKUs lists lines that could not be stocked during splitting.
	// A populated slice is the tracked degraded state, not a failure.
	UnreservedSKUs []string

	Carrier        string
	CarrierService string
	TrackingNumber string
	ShippingCost   int64

	PickedAt     *time.Time
	PackedAt     *time.Time
	DispatchedAt *time.Time
	DeliveredAt  *time.Time
	PackerName   string
	PackingNotes string

	SignatureName    string
	DeliveryProofURL string

	// Wholesale routing references, populated after submission.
	ExternalRef         string
	ExternalStatus      string
	ExternalSubmittedAt *time.Time

	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StockLevel tracks counters for one (product, warehouse) pair. Mutated only
// by the reservation manager or the inventory-of-record sync.
type StockLevel struct {
	ProductID    string
	WarehouseID  string
	SKU          string
	OnHand       int
	Reserved     int
	Available    int
	ReorderPoint int
	LastSyncedAt *time.Time
	UpdatedAt    time.Time
}

// Recalculate restores the available-quantity invariant after a counter change.
func (s *StockLevel) Recalculate() {
	s.Available = s.OnHand - s.Reserved
	if s.Available < 0 {
		s.Available = 0
	}
}

// HasStock reports whether the requested quantity can be reserved right now.
func (s StockLevel) HasStock(quantity int) bool {
	return s.Available >= quantity
}

// StockReservation is a time-bounded hold linking an order line's demand to a
// warehouse. It transitions exactly once out of ReservationReserved.
type StockReservation struct {
	ID            string
	OrderID       string
	SellerOrderID string
	ProductID     string
	WarehouseID   string
	Quantity      int
	Status        ReservationStatus
	ExpiresAt     time.Time
	CommittedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Expired reports whether the hold has lapsed at the given instant.
func (r StockReservation) Expired(now time.Time) bool {
	return r.Status == ReservationReserved && r.ExpiresAt.Before(now)
}

// Seller is reference data owned by onboarding; read-only here.
type Seller struct {
	ID             string
	Name           string
	CommissionRate float64
	// PlatformFeePercent overrides the platform default when non-nil.
	PlatformFeePercent *float64
	WholesaleRef       string
	Active             bool
}

// Warehouse is reference data owned by onboarding; read-only here.
type Warehouse struct {
	ID          string
	Code        string
	Name        string
	LogisticsID string
	Address     Address
	ExternalRef string
	Active      bool
}

// Product is a catalog snapshot kept fresh by the inventory-of-record sync.
type Product struct {
	ID          string
	SKU         string
	Name        string
	SellerID    string
	UnitPrice   int64
	ExternalRef string
	Active      bool
	UpdatedAt   time.Time
}

// Carrier holds tracking metadata for dispatch.
type Carrier struct {
	Code             string
	Name             string
	TrackingTemplate string
	Active           bool
}

// TrackingURL expands the carrier's template for the given tracking number.
// Falls back to the raw tracking number when no template is configured.
func (c Carrier) TrackingURL(trackingNumber string) string {
	if strings.TrimSpace(c.TrackingTemplate) == "" {
		return trackingNumber
	}
	return strings.ReplaceAll(c.TrackingTemplate, "{tracking}", trackingNumber)
}
