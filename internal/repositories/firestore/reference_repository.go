package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mrshanebarron/repshare/internal/domain"
	pfirestore "github.com/mrshanebarron/repshare/internal/platform/firestore"
)

const (
	warehousesCollection = "warehouses"
	sellersCollection    = "sellers"
	productsCollection   = "products"
	carriersCollection   = "carriers"
)

// WarehouseRepository stores fulfilment locations.
type WarehouseRepository struct {
	base *pfirestore.BaseRepository[warehouseDocument]
}

// NewWarehouseRepository constructs the Firestore-backed warehouse repository.
func NewWarehouseRepository(provider *pfirestore.Provider) (*WarehouseRepository, error) {
	if provider == nil {
		return nil, errors.New("warehouse repository requires firestore provider")
	}
	return &WarehouseRepository{base: pfirestore.NewBaseRepository[warehouseDocument](provider, warehousesCollection)}, nil
}

func (r *WarehouseRepository) FindByID(ctx context.Context, warehouseID string) (domain.Warehouse, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(warehouseID))
	if err != nil {
		return domain.Warehouse{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ListActive returns active warehouses ordered by document ID, which fixes the
// tie-break order used when ranking warehouses for an order.
func (r *WarehouseRepository) ListActive(ctx context.Context) ([]domain.Warehouse, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("active", "==", true).OrderBy(firestore.DocumentID, firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	warehouses := make([]domain.Warehouse, 0, len(docs))
	for _, doc := range docs {
		warehouses = append(warehouses, doc.Data.toDomain(doc.ID))
	}
	return warehouses, nil
}

func (r *WarehouseRepository) Upsert(ctx context.Context, warehouse domain.Warehouse) error {
	if strings.TrimSpace(warehouse.ID) == "" {
		return errors.New("warehouse upsert: id is required")
	}
	return r.base.Set(ctx, warehouse.ID, newWarehouseDocument(warehouse))
}

// SellerRepository reads seller commercial terms.
type SellerRepository struct {
	base *pfirestore.BaseRepository[sellerDocument]
}

// NewSellerRepository constructs the Firestore-backed seller repository.
func NewSellerRepository(provider *pfirestore.Provider) (*SellerRepository, error) {
	if provider == nil {
		return nil, errors.New("seller repository requires firestore provider")
	}
	return &SellerRepository{base: pfirestore.NewBaseRepository[sellerDocument](provider, sellersCollection)}, nil
}

func (r *SellerRepository) FindByID(ctx context.Context, sellerID string) (domain.Seller, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(sellerID))
	if err != nil {
		return domain.Seller{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *SellerRepository) ListActive(ctx context.Context) ([]domain.Seller, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("active", "==", true)
	})
	if err != nil {
		return nil, err
	}
	sellers := make([]domain.Seller, 0, len(docs))
	for _, doc := range docs {
		sellers = append(sellers, doc.Data.toDomain(doc.ID))
	}
	return sellers, nil
}

// ProductRepository stores catalog snapshots.
type ProductRepository struct {
	base *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs the Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{base: pfirestore.NewBaseRepository[productDocument](provider, productsCollection)}, nil
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *ProductRepository) FindBySKU(ctx context.Context, sku string) (domain.Product, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return domain.Product{}, errors.New("product find by sku: sku is required")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("sku", "==", sku).Limit(1)
	})
	if err != nil {
		return domain.Product{}, err
	}
	if len(docs) == 0 {
		return domain.Product{}, pfirestore.WrapError("products.findBySku", status.Errorf(codes.NotFound, "product with sku %s not found", sku))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

func (r *ProductRepository) Upsert(ctx context.Context, product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" {
		return errors.New("product upsert: id is required")
	}
	return r.base.Set(ctx, product.ID, newProductDocument(product))
}

// CarrierRepository stores carrier tracking metadata keyed by carrier code.
type CarrierRepository struct {
	base *pfirestore.BaseRepository[carrierDocument]
}

// NewCarrierRepository constructs the Firestore-backed carrier repository.
func NewCarrierRepository(provider *pfirestore.Provider) (*CarrierRepository, error) {
	if provider == nil {
		return nil, errors.New("carrier repository requires firestore provider")
	}
	return &CarrierRepository{base: pfirestore.NewBaseRepository[carrierDocument](provider, carriersCollection)}, nil
}

func (r *CarrierRepository) FindByCode(ctx context.Context, code string) (domain.Carrier, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(code))
	if err != nil {
		return domain.Carrier{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *CarrierRepository) ListActive(ctx context.Context) ([]domain.Carrier, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("active", "==", true)
	})
	if err != nil {
		return nil, err
	}
	carriers := make([]domain.Carrier, 0, len(docs))
	for _, doc := range docs {
		carriers = append(carriers, doc.Data.toDomain(doc.ID))
	}
	return carriers, nil
}

// Helper structures ---------------------------------------------------------

type warehouseDocument struct {
	Code        string          `firestore:"code"`
	Name        string          `firestore:"name"`
	LogisticsID string          `firestore:"logisticsId,omitempty"`
	Address     addressDocument `firestore:"address"`
	ExternalRef string          `firestore:"externalRef,omitempty"`
	Active      bool            `firestore:"active"`
}

func newWarehouseDocument(w domain.Warehouse) warehouseDocument {
	return warehouseDocument{
		Code:        strings.TrimSpace(w.Code),
		Name:        strings.TrimSpace(w.Name),
		LogisticsID: strings.TrimSpace(w.LogisticsID),
		Address:     newAddressDocument(w.Address),
		ExternalRef: strings.TrimSpace(w.ExternalRef),
		Active:      w.Active,
	}
}

func (d warehouseDocument) toDomain(id string) domain.Warehouse {
	return domain.Warehouse{
		ID:          id,
		Code:        d.Code,
		Name:        d.Name,
		LogisticsID: d.LogisticsID,
		Address:     d.Address.toDomain(),
		ExternalRef: d.ExternalRef,
		Active:      d.Active,
	}
}

type sellerDocument struct {
	Name               string   `firestore:"name"`
	CommissionRate     float64  `firestore:"commissionRate"`
	PlatformFeePercent *float64 `firestore:"platformFeePercent,omitempty"`
	WholesaleRef       string   `firestore:"wholesaleRef,omitempty"`
	Active             bool     `firestore:"active"`
}

func (d sellerDocument) toDomain(id string) domain.Seller {
	return domain.Seller{
		ID:                 id,
		Name:               d.Name,
		CommissionRate:     d.CommissionRate,
		PlatformFeePercent: d.PlatformFeePercent,
		WholesaleRef:       d.WholesaleRef,
		Active:             d.Active,
	}
}

type productDocument struct {
	SKU         string    `firestore:"sku"`
	Name        string    `firestore:"name"`
	SellerID    string    `firestore:"sellerId"`
	UnitPrice   int64     `firestore:"unitPrice"`
	ExternalRef string    `firestore:"externalRef,omitempty"`
	Active      bool      `firestore:"active"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func newProductDocument(p domain.Product) productDocument {
	return productDocument{
		SKU:         strings.TrimSpace(p.SKU),
		Name:        strings.TrimSpace(p.Name),
		SellerID:    strings.TrimSpace(p.SellerID),
		UnitPrice:   p.UnitPrice,
		ExternalRef: strings.TrimSpace(p.ExternalRef),
		Active:      p.Active,
		UpdatedAt:   p.UpdatedAt.UTC(),
	}
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:          id,
		SKU:         d.SKU,
		Name:        d.Name,
		SellerID:    d.SellerID,
		UnitPrice:   d.UnitPrice,
		ExternalRef: d.ExternalRef,
		Active:      d.Active,
		UpdatedAt:   d.UpdatedAt,
	}
}

type carrierDocument struct {
	Name             string `firestore:"name"`
	TrackingTemplate string `firestore:"trackingTemplate,omitempty"`
	Active           bool   `firestore:"active"`
}

func (d carrierDocument) toDomain(code string) domain.Carrier {
	return domain.Carrier{
		Code:             code,
		Name:             d.Name,
		TrackingTemplate: d.TrackingTemplate,
		Active:           d.Active,
	}
}
