package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/mrshanebarron/repshare/internal/platform/firestore"
	"github.com/mrshanebarron/repshare/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the repository
// contracts for dependency injection.
type Registry struct {
	provider *pfirestore.Provider

	orders       *OrderRepository
	sellerOrders *SellerOrderRepository
	inventory    *InventoryRepository
	warehouses   *WarehouseRepository
	sellers      *SellerRepository
	products     *ProductRepository
	carriers     *CarrierRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs every repository against the shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	sellerOrders, err := NewSellerOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	inventory, err := NewInventoryRepository(provider)
	if err != nil {
		return nil, err
	}
	warehouses, err := NewWarehouseRepository(provider)
	if err != nil {
		return nil, err
	}
	sellers, err := NewSellerRepository(provider)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	carriers, err := NewCarrierRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:     provider,
		orders:       orders,
		sellerOrders: sellerOrders,
		inventory:    inventory,
		warehouses:   warehouses,
		sellers:      sellers,
		products:     products,
		carriers:     carriers,
	}, nil
}

func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Orders() repositories.OrderRepository             { return r.orders }
func (r *Registry) SellerOrders() repositories.SellerOrderRepository { return r.sellerOrders }
func (r *Registry) Inventory() repositories.InventoryRepository      { return r.inventory }
func (r *Registry) Warehouses() repositories.WarehouseRepository     { return r.warehouses }
func (r *Registry) Sellers() repositories.SellerRepository           { return r.sellers }
func (r *Registry) Products() repositories.ProductRepository         { return r.products }
func (r *Registry) Carriers() repositories.CarrierRepository         { return r.carriers }

// RunInTx executes fn inside a single Firestore transaction. Repository
// writes made through fn's context are queued on the transaction and land
// together at commit, so a failure anywhere in fn leaves every document
// untouched. Reads inside fn must precede its writes.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("registry: transaction function is nil")
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(pfirestore.ContextWithTx(ctx, tx))
	})
}
