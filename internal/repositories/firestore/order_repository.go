package firestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
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

const ordersCollection = "orders"

// OrderRepository persists order aggregates with their lines embedded in the
// order document.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs the Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection),
	}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order insert: id is required")
	}
	return r.base.Create(ctx, order.ID, newOrderDocument(order))
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order update: id is required")
	}
	return r.base.Set(ctx, order.ID, newOrderDocument(order))
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	doc, err := r.base.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
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
		return domain.CursorPage[domain.Order]{}, err
	}

	query := coll.Query
	if buyer := strings.TrimSpace(filter.BuyerID); buyer != "" {
		query = query.Where("buyerId", "==", buyer)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, s := range filter.Status {
			statuses = append(statuses, string(s))
		}
		query = query.Where("status", "in", statuses)
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc).Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		cursor, err := decodeListPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		query = query.StartAfter(cursor.CreatedAt, cursor.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := encodeListPageToken(listPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: nextToken}, nil
}

// Helper structures ---------------------------------------------------------

type orderDocument struct {
	OrderNumber           string              `firestore:"orderNumber"`
	BuyerID               string              `firestore:"buyerId"`
	Status                string              `firestore:"status"`
	Lines                 []orderLineDocument `firestore:"lines"`
	Subtotal              int64               `firestore:"subtotal"`
	DiscountTotal         int64               `firestore:"discountTotal"`
	TaxTotal              int64               `firestore:"taxTotal"`
	PlatformFee           int64               `firestore:"platformFee"`
	GrandTotal            int64               `firestore:"grandTotal"`
	Notes                 string              `firestore:"notes,omitempty"`
	DeliveryAddress       addressDocument     `firestore:"deliveryAddress"`
	RequestedDeliveryDate *time.Time          `firestore:"requestedDeliveryDate,omitempty"`
	ConfirmedAt           *time.Time          `firestore:"confirmedAt,omitempty"`
	CompletedAt           *time.Time          `firestore:"completedAt,omitempty"`
	CancelReason          *string             `firestore:"cancelReason,omitempty"`
	Metadata              map[string]any      `firestore:"metadata,omitempty"`
	CreatedAt             time.Time           `firestore:"createdAt"`
	UpdatedAt             time.Time           `firestore:"updatedAt"`
}

type orderLineDocument struct {
	ID              string  `firestore:"id"`
	SellerOrderID   string  `firestore:"sellerOrderId,omitempty"`
	ProductID       string  `firestore:"productId"`
	SellerID        string  `firestore:"sellerId"`
	SKU             string  `firestore:"sku"`
	ProductName     string  `firestore:"productName"`
	Quantity        int     `firestore:"qty"`
	UnitPrice       int64   `firestore:"unitPrice"`
	DiscountPercent float64 `firestore:"discountPercent,omitempty"`
	DiscountAmount  int64   `firestore:"discountAmount,omitempty"`
	TaxAmount       int64   `firestore:"taxAmount,omitempty"`
	LineTotal       int64   `firestore:"lineTotal"`
	Notes           string  `firestore:"notes,omitempty"`
}

type addressDocument struct {
	Line1    string `firestore:"line1"`
	City     string `firestore:"city"`
	State    string `firestore:"state"`
	Postcode string `firestore:"postcode"`
}

func newOrderDocument(order domain.Order) orderDocument {
	lines := make([]orderLineDocument, len(order.Lines))
	for i, line := range order.Lines {
		lines[i] = orderLineDocument{
			ID:              line.ID,
			SellerOrderID:   line.SellerOrderID,
			ProductID:       line.ProductID,
			SellerID:        line.SellerID,
			SKU:             line.SKU,
			ProductName:     line.ProductName,
			Quantity:        line.Quantity,
			UnitPrice:       line.UnitPrice,
			DiscountPercent: line.DiscountPercent,
			DiscountAmount:  line.DiscountAmount,
			TaxAmount:       line.TaxAmount,
			LineTotal:       line.LineTotal,
			Notes:           line.Notes,
		}
	}
	return orderDocument{
		OrderNumber:           strings.TrimSpace(order.OrderNumber),
		BuyerID:               strings.TrimSpace(order.BuyerID),
		Status:                string(order.Status),
		Lines:                 lines,
		Subtotal:              order.Subtotal,
		DiscountTotal:         order.DiscountTotal,
		TaxTotal:              order.TaxTotal,
		PlatformFee:           order.PlatformFee,
		GrandTotal:            order.GrandTotal,
		Notes:                 order.Notes,
		DeliveryAddress:       newAddressDocument(order.DeliveryAddress),
		RequestedDeliveryDate: order.RequestedDeliveryDate,
		ConfirmedAt:           order.ConfirmedAt,
		CompletedAt:           order.CompletedAt,
		CancelReason:          order.CancelReason,
		Metadata:              order.Metadata,
		CreatedAt:             order.CreatedAt.UTC(),
		UpdatedAt:             order.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	lines := make([]domain.OrderLine, len(d.Lines))
	for i, line := range d.Lines {
		lines[i] = domain.OrderLine{
			ID:              line.ID,
			SellerOrderID:   line.SellerOrderID,
			ProductID:       line.ProductID,
			SellerID:        line.SellerID,
			SKU:             line.SKU,
			ProductName:     line.ProductName,
			Quantity:        line.Quantity,
			UnitPrice:       line.UnitPrice,
			DiscountPercent: line.DiscountPercent,
			DiscountAmount:  line.DiscountAmount,
			TaxAmount:       line.TaxAmount,
			LineTotal:       line.LineTotal,
			Notes:           line.Notes,
		}
	}
	return domain.Order{
		ID:                    id,
		OrderNumber:           d.OrderNumber,
		BuyerID:               d.BuyerID,
		Status:                domain.OrderStatus(d.Status),
		Lines:                 lines,
		Subtotal:              d.Subtotal,
		DiscountTotal:         d.DiscountTotal,
		TaxTotal:              d.TaxTotal,
		PlatformFee:           d.PlatformFee,
		GrandTotal:            d.GrandTotal,
		Notes:                 d.Notes,
		DeliveryAddress:       d.DeliveryAddress.toDomain(),
		RequestedDeliveryDate: d.RequestedDeliveryDate,
		ConfirmedAt:           d.ConfirmedAt,
		CompletedAt:           d.CompletedAt,
		CancelReason:          d.CancelReason,
		Metadata:              d.Metadata,
		CreatedAt:             d.CreatedAt,
		UpdatedAt:             d.UpdatedAt,
	}
}

func newAddressDocument(addr domain.Address) addressDocument {
	return addressDocument{
		Line1:    strings.TrimSpace(addr.Line1),
		City:     strings.TrimSpace(addr.City),
		State:    strings.TrimSpace(addr.State),
		Postcode: strings.TrimSpace(addr.Postcode),
	}
}

func (d addressDocument) toDomain() domain.Address {
	return domain.Address{
		Line1:    d.Line1,
		City:     d.City,
		State:    d.State,
		Postcode: d.Postcode,
	}
}

// Shared cursor token -------------------------------------------------------

type listPageToken struct {
	ID        string
	CreatedAt time.Time
}

func encodeListPageToken(token listPageToken) (string, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(token); err != nil {
		return "", fmt.Errorf("encode page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeListPageToken(encoded string) (*listPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode page token: %w", err)
	}
	var token listPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode page token json: %w", err)
	}
	return &token, nil
}
