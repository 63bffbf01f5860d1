package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/mrshanebarron/repshare/internal/domain"
	pfirestore "github.com/mrshanebarron/repshare/internal/platform/firestore"
	"github.com/mrshanebarron/repshare/internal/repositories"
)

const sellerOrdersCollection = "sellerOrders"

// SellerOrderRepository persists the per-seller partitions of an order.
type SellerOrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[sellerOrderDocument]
}

// NewSellerOrderRepository constructs the Firestore-backed seller order repository.
func NewSellerOrderRepository(provider *pfirestore.Provider) (*SellerOrderRepository, error) {
	if provider == nil {
		return nil, errors.New("seller order repository requires firestore provider")
	}
	return &SellerOrderRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[sellerOrderDocument](provider, sellerOrdersCollection),
	}, nil
}

func (r *SellerOrderRepository) Insert(ctx context.Context, sellerOrder domain.SellerOrder) error {
	if r == nil || r.base == nil {
		return errors.New("seller order repository not initialised")
	}
	if strings.TrimSpace(sellerOrder.ID) == "" {
		return errors.New("seller order insert: id is required")
	}
	return r.base.Create(ctx, sellerOrder.ID, newSellerOrderDocument(sellerOrder))
}

func (r *SellerOrderRepository) Update(ctx context.Context, sellerOrder domain.SellerOrder) error {
	if r == nil || r.base == nil {
		return errors.New("seller order repository not initialised")
	}
	if strings.TrimSpace(sellerOrder.ID) == "" {
		return errors.New("seller order update: id is required")
	}
	return r.base.Set(ctx, sellerOrder.ID, newSellerOrderDocument(sellerOrder))
}

func (r *SellerOrderRepository) FindByID(ctx context.Context, sellerOrderID string) (domain.SellerOrder, error) {
	if r == nil || r.base == nil {
		return domain.SellerOrder{}, errors.New("seller order repository not initialised")
	}
	doc, err := r.base.Get(ctx, strings.TrimSpace(sellerOrderID))
	if err != nil {
		return domain.SellerOrder{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *SellerOrderRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.SellerOrder, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("seller order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("seller order list: order id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID)
	})
	if err != nil {
		return nil, err
	}

	sellerOrders := make([]domain.SellerOrder, 0, len(docs))
	for _, doc := range docs {
		sellerOrders = append(sellerOrders, doc.Data.toDomain(doc.ID))
	}
	return sellerOrders, nil
}

func (r *SellerOrderRepository) List(ctx context.Context, filter repositories.SellerOrderListFilter) (domain.CursorPage[domain.SellerOrder], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.SellerOrder]{}, errors.New("seller order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	coll, err := r.base.CollectionRef(ctx)
	if err != nil {
		return domain.CursorPage[domain.SellerOrder]{}, err
	}

	query := coll.Query
	if orderID := strings.TrimSpace(filter.OrderID); orderID != "" {
		query = query.Where("orderId", "==", orderID)
	}
	if sellerID := strings.TrimSpace(filter.SellerID); sellerID != "" {
		query = query.Where("sellerId", "==", sellerID)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, s := range filter.Status {
			statuses = append(statuses, string(s))
		}
		query = query.Where("status", "in", statuses)
	}
	if len(filter.FulfilmentStatus) > 0 {
		statuses := make([]string, 0, len(filter.FulfilmentStatus))
		for _, s := range filter.FulfilmentStatus {
			statuses = append(statuses, string(s))
		}
		query = query.Where("fulfilmentStatus", "in", statuses)
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc).Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		cursor, err := decodeListPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.SellerOrder]{}, pfirestore.WrapError("sellerOrders.list", err)
		}
		query = query.StartAfter(cursor.CreatedAt, cursor.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var sellerOrders []domain.SellerOrder
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.SellerOrder]{}, pfirestore.WrapError("sellerOrders.list", err)
		}
		var doc sellerOrderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.SellerOrder]{}, fmt.Errorf("decode seller order %s: %w", snap.Ref.ID, err)
		}
		sellerOrders = append(sellerOrders, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(sellerOrders) > pageSize
	if hasMore {
		sellerOrders = sellerOrders[:pageSize]
	}
	var nextToken string
	if hasMore && len(sellerOrders) > 0 {
		last := sellerOrders[len(sellerOrders)-1]
		encoded, err := encodeListPageToken(listPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.SellerOrder]{}, pfirestore.WrapError("sellerOrders.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.SellerOrder]{Items: sellerOrders, NextPageToken: nextToken}, nil
}

// Helper structures ---------------------------------------------------------

type sellerOrderDocument struct {
	OrderNumber      string   `firestore:"orderNumber"`
	OrderID          string   `firestore:"orderId"`
	SellerID         string   `firestore:"sellerId"`
	WarehouseID      string   `firestore:"warehouseId,omitempty"`
	LogisticsID      string   `firestore:"logisticsId,omitempty"`
	Status           string   `firestore:"status"`
	FulfilmentStatus string   `firestore:"fulfilmentStatus"`
	Subtotal         int64    `firestore:"subtotal"`
	DiscountTotal    int64    `firestore:"discountTotal"`
	TaxTotal         int64    `firestore:"taxTotal"`
	CommissionAmount int64    `firestore:"commissionAmount"`
	PlatformFee      int64    `firestore:"platformFee"`
	GrandTotal       int64    `firestore:"grandTotal"`
	NetToSeller      int64    `firestore:"netToSeller"`
	UnreservedSKUs   []string `firestore:"unreservedSkus,omitempty"`

	Carrier        string `firestore:"carrier,omitempty"`
	CarrierService string `firestore:"carrierService,omitempty"`
	TrackingNumber string `firestore:"trackingNumber,omitempty"`
	ShippingCost   int64  `firestore:"shippingCost,omitempty"`

	PickedAt     *time.Time `firestore:"pickedAt,omitempty"`
	PackedAt     *time.Time `firestore:"packedAt,omitempty"`
	DispatchedAt *time.Time `firestore:"dispatchedAt,omitempty"`
	DeliveredAt  *time.Time `firestore:"deliveredAt,omitempty"`
	PackerName   string     `firestore:"packerName,omitempty"`
	PackingNotes string     `firestore:"packingNotes,omitempty"`

	SignatureName    string `firestore:"signatureName,omitempty"`
	DeliveryProofURL string `firestore:"deliveryProofUrl,omitempty"`

	ExternalRef         string     `firestore:"externalRef,omitempty"`
	ExternalStatus      string     `firestore:"externalStatus,omitempty"`
	ExternalSubmittedAt *time.Time `firestore:"externalSubmittedAt,omitempty"`

	Metadata  map[string]any `firestore:"metadata,omitempty"`
	CreatedAt time.Time      `firestore:"createdAt"`
	UpdatedAt time.Time      `firestore:"updatedAt"`
}

func newSellerOrderDocument(so domain.SellerOrder) sellerOrderDocument {
	return sellerOrderDocument{
		OrderNumber:      strings.TrimSpace(so.OrderNumber),
		OrderID:          strings.TrimSpace(so.OrderID),
		SellerID:         strings.TrimSpace(so.SellerID),
		WarehouseID:      strings.TrimSpace(so.WarehouseID),
		LogisticsID:      strings.TrimSpace(so.LogisticsID),
		Status:           string(so.Status),
		FulfilmentStatus: string(so.FulfilmentStatus),
		Subtotal:         so.Subtotal,
		DiscountTotal:    so.DiscountTotal,
		TaxTotal:         so.TaxTotal,
		CommissionAmount: so.CommissionAmount,
		PlatformFee:      so.PlatformFee,
		GrandTotal:       so.GrandTotal,
		NetToSeller:      so.NetToSeller,
		UnreservedSKUs:   so.UnreservedSKUs,

		Carrier:        so.Carrier,
		CarrierService: so.CarrierService,
		TrackingNumber: so.TrackingNumber,
		ShippingCost:   so.ShippingCost,

		PickedAt:     so.PickedAt,
		PackedAt:     so.PackedAt,
		DispatchedAt: so.DispatchedAt,
		DeliveredAt:  so.DeliveredAt,
		PackerName:   so.PackerName,
		PackingNotes: so.PackingNotes,

		SignatureName:    so.SignatureName,
		DeliveryProofURL: so.DeliveryProofURL,

		ExternalRef:         so.ExternalRef,
		ExternalStatus:      so.ExternalStatus,
		ExternalSubmittedAt: so.ExternalSubmittedAt,

		Metadata:  so.Metadata,
		CreatedAt: so.CreatedAt.UTC(),
		UpdatedAt: so.UpdatedAt.UTC(),
	}
}

func (d sellerOrderDocument) toDomain(id string) domain.SellerOrder {
	return domain.SellerOrder{
		ID:               id,
		OrderNumber:      d.OrderNumber,
		OrderID:          d.OrderID,
		SellerID:         d.SellerID,
		WarehouseID:      d.WarehouseID,
		LogisticsID:      d.LogisticsID,
		Status:           domain.OrderStatus(d.Status),
		FulfilmentStatus: domain.FulfilmentStatus(d.FulfilmentStatus),
		Subtotal:         d.Subtotal,
		DiscountTotal:    d.DiscountTotal,
		TaxTotal:         d.TaxTotal,
		CommissionAmount: d.CommissionAmount,
		PlatformFee:      d.PlatformFee,
		GrandTotal:       d.GrandTotal,
		NetToSeller:      d.NetToSeller,
		UnreservedSKUs:   d.UnreservedSKUs,

		Carrier:        d.Carrier,
		CarrierService: d.CarrierService,
		TrackingNumber: d.TrackingNumber,
		ShippingCost:   d.ShippingCost,

		PickedAt:     d.PickedAt,
		PackedAt:     d.PackedAt,
		DispatchedAt: d.DispatchedAt,
		DeliveredAt:  d.DeliveredAt,
		PackerName:   d.PackerName,
		PackingNotes: d.PackingNotes,

		SignatureName:    d.SignatureName,
		DeliveryProofURL: d.DeliveryProofURL,

		ExternalRef:         d.ExternalRef,
		ExternalStatus:      d.ExternalStatus,
		ExternalSubmittedAt: d.ExternalSubmittedAt,

		Metadata:  d.Metadata,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}
