package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mrshanebarron/repshare/internal/domain"
	pfirestore "github.com/mrshanebarron/repshare/internal/platform/firestore"
	"github.com/mrshanebarron/repshare/internal/repositories"
)

const (
	stockLevelsCollection       = "stockLevels"
	stockReservationsCollection = "stockReservations"

	reservationStatusReserved  = string(domain.ReservationReserved)
	reservationStatusCommitted = string(domain.ReservationCommitted)
	reservationStatusReleased  = string(domain.ReservationReleased)

	reasonExpired = "expired"
)

// InventoryRepository persists stock counters and reservation documents.
// Every counter mutation happens inside a transaction that also touches the
// owning reservation, so the two can never drift apart.
type InventoryRepository struct {
	provider     *pfirestore.Provider
	stocks       *pfirestore.BaseRepository[stockLevelDocument]
	reservations *pfirestore.BaseRepository[reservationDocument]
}

// NewInventoryRepository constructs the Firestore-backed inventory repository.
func NewInventoryRepository(provider *pfirestore.Provider) (*InventoryRepository, error) {
	if provider == nil {
		return nil, errors.New("inventory repository requires firestore provider")
	}
	return &InventoryRepository{
		provider:     provider,
		stocks:       pfirestore.NewBaseRepository[stockLevelDocument](provider, stockLevelsCollection),
		reservations: pfirestore.NewBaseRepository[reservationDocument](provider, stockReservationsCollection),
	}, nil
}

// StockLevelDocID derives the deterministic document ID for a (product, warehouse) pair.
func StockLevelDocID(productID, warehouseID string) string {
	return fmt.Sprintf("%s_%s", strings.TrimSpace(productID), strings.TrimSpace(warehouseID))
}

func (r *InventoryRepository) Reserve(ctx context.Context, req repositories.InventoryReserveRequest) (domain.StockReservation, error) {
	if r == nil || r.provider == nil {
		return domain.StockReservation{}, errors.New("inventory repository not initialised")
	}
	if strings.TrimSpace(req.ReservationID) == "" {
		return domain.StockReservation{}, errors.New("inventory reserve: reservation id is required")
	}
	if strings.TrimSpace(req.ProductID) == "" || strings.TrimSpace(req.WarehouseID) == "" {
		return domain.StockReservation{}, repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, "inventory reserve: product and warehouse are required", nil)
	}
	if req.Quantity <= 0 {
		return domain.StockReservation{}, repositories.NewInventoryError(repositories.InventoryErrorUnknown, fmt.Sprintf("inventory reserve: quantity for %s must be > 0", req.ProductID), nil)
	}

	now := req.Now.UTC()
	var result domain.StockReservation

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		resRef, err := r.reservations.DocumentRef(ctx, req.ReservationID)
		if err != nil {
			return err
		}
		if _, err := tx.Get(resRef); err == nil {
			return repositories.NewInventoryError(repositories.InventoryErrorInvalidReservationState, fmt.Sprintf("reservation %s already exists", req.ReservationID), nil)
		} else if status.Code(err) != codes.NotFound {
			return err
		}

		stockRef, err := r.stocks.DocumentRef(ctx, StockLevelDocID(req.ProductID, req.WarehouseID))
		if err != nil {
			return err
		}
		snap, err := tx.Get(stockRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, fmt.Sprintf("stock for %s at %s not found", req.ProductID, req.WarehouseID), err)
			}
			return err
		}
		var stockDoc stockLevelDocument
		if err := snap.DataTo(&stockDoc); err != nil {
			return fmt.Errorf("decode stock level %s: %w", snap.Ref.ID, err)
		}
		if stockDoc.OnHand-stockDoc.Reserved < req.Quantity {
			return repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, fmt.Sprintf("insufficient stock for %s at %s", req.ProductID, req.WarehouseID), nil)
		}
		stockDoc.Reserved += req.Quantity
		stockDoc.UpdatedAt = now
		stockDoc.recalculate()
		if err := tx.Set(stockRef, stockDoc); err != nil {
			return err
		}

		resDoc := reservationDocument{
			OrderID:       strings.TrimSpace(req.OrderID),
			SellerOrderID: strings.TrimSpace(req.SellerOrderID),
			ProductID:     strings.TrimSpace(req.ProductID),
			WarehouseID:   strings.TrimSpace(req.WarehouseID),
			Quantity:      req.Quantity,
			Status:        reservationStatusReserved,
			ExpiresAt:     req.ExpiresAt.UTC(),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.Create(resRef, resDoc); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return repositories.NewInventoryError(repositories.InventoryErrorInvalidReservationState, fmt.Sprintf("reservation %s already exists", req.ReservationID), err)
			}
			return err
		}

		result = resDoc.toDomain(req.ReservationID)
		return nil
	})
	if err != nil {
		return domain.StockReservation{}, wrapInventoryError("inventory.reserve", err)
	}
	return result, nil
}

func (r *InventoryRepository) Commit(ctx context.Context, req repositories.InventoryCommitRequest) (domain.StockReservation, error) {
	if r == nil || r.provider == nil {
		return domain.StockReservation{}, errors.New("inventory repository not initialised")
	}
	if strings.TrimSpace(req.ReservationID) == "" {
		return domain.StockReservation{}, errors.New("inventory commit: reservation id is required")
	}

	now := req.Now.UTC()
	var result domain.StockReservation

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		resRef, resDoc, err := r.getReservationTx(ctx, tx, req.ReservationID)
		if err != nil {
			return err
		}
		if resDoc.Status != reservationStatusReserved {
			return repositories.NewInventoryError(repositories.InventoryErrorInvalidReservationState, fmt.Sprintf("reservation %s is not in reserved status", req.ReservationID), nil)
		}

		stockRef, stockDoc, err := r.getStockTx(ctx, tx, resDoc.ProductID, resDoc.WarehouseID)
		if err != nil {
			return err
		}
		if stockDoc.Reserved < resDoc.Quantity {
			return repositories.NewInventoryError(repositories.InventoryErrorInvalidReservationState, fmt.Sprintf("reserved quantity for %s is insufficient", resDoc.ProductID), nil)
		}
		if stockDoc.OnHand < resDoc.Quantity {
			return repositories.NewInventoryError(repositories.InventoryErrorInvalidReservationState, fmt.Sprintf("on-hand for %s cannot drop below zero", resDoc.ProductID), nil)
		}
		stockDoc.Reserved -= resDoc.Quantity
		stockDoc.OnHand -= resDoc.Quantity
		stockDoc.UpdatedAt = now
		stockDoc.recalculate()
		if err := tx.Set(stockRef, stockDoc); err != nil {
			return err
		}

		resDoc.Status = reservationStatusCommitted
		resDoc.CommittedAt = &now
		resDoc.UpdatedAt = now
		if err := tx.Set(resRef, resDoc); err != nil {
			return err
		}

		result = resDoc.toDomain(req.ReservationID)
		return nil
	})
	if err != nil {
		return domain.StockReservation{}, wrapInventoryError("inventory.commit", err)
	}
	return result, nil
}

func (r *InventoryRepository) Release(ctx context.Context, req repositories.InventoryReleaseRequest) (domain.StockReservation, error) {
	if r == nil || r.provider == nil {
		return domain.StockReservation{}, errors.New("inventory repository not initialised")
	}
	if strings.TrimSpace(req.ReservationID) == "" {
		return domain.StockReservation{}, errors.New("inventory release: reservation id is required")
	}

	now := req.Now.UTC()
	var result domain.StockReservation

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		resRef, resDoc, err := r.getReservationTx(ctx, tx, req.ReservationID)
		if err != nil {
			return err
		}
		if resDoc.Status != reservationStatusReserved {
			return repositories.NewInventoryError(repositories.InventoryErrorInvalidReservationState, fmt.Sprintf("reservation %s is not in reserved status", req.ReservationID), nil)
		}

		stockRef, stockDoc, err := r.getStockTx(ctx, tx, resDoc.ProductID, resDoc.WarehouseID)
		if err != nil {
			return err
		}
		if stockDoc.Reserved < resDoc.Quantity {
			return repositories.NewInventoryError(repositories.InventoryErrorInvalidReservationState, fmt.Sprintf("reserved quantity for %s is insufficient", resDoc.ProductID), nil)
		}
		stockDoc.Reserved -= resDoc.Quantity
		stockDoc.UpdatedAt = now
		stockDoc.recalculate()
		if err := tx.Set(stockRef, stockDoc); err != nil {
			return err
		}

		resDoc.Status = reservationStatusReleased
		resDoc.Reason = strings.TrimSpace(req.Reason)
		resDoc.UpdatedAt = now
		if err := tx.Set(resRef, resDoc); err != nil {
			return err
		}

		result = resDoc.toDomain(req.ReservationID)
		return nil
	})
	if err != nil {
		return domain.StockReservation{}, wrapInventoryError("inventory.release", err)
	}
	return result, nil
}

// SweepExpired releases lapsed holds one transaction at a time, so a contended
// reservation cannot poison the rest of the pass.
func (r *InventoryRepository) SweepExpired(ctx context.Context, req repositories.InventorySweepRequest) (repositories.InventorySweepResult, error) {
	if r == nil || r.provider == nil {
		return repositories.InventorySweepResult{}, errors.New("inventory repository not initialised")
	}

	now := req.Now.UTC()
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}

	coll, err := r.reservations.CollectionRef(ctx)
	if err != nil {
		return repositories.InventorySweepResult{}, wrapInventoryError("inventory.sweep", err)
	}

	iter := coll.
		Where("status", "==", reservationStatusReserved).
		Where("expiresAt", "<", now).
		OrderBy("expiresAt", firestore.Asc).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	var ids []string
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return repositories.InventorySweepResult{}, wrapInventoryError("inventory.sweep", err)
		}
		ids = append(ids, snap.Ref.ID)
	}

	var result repositories.InventorySweepResult
	for _, id := range ids {
		released, err := r.Release(ctx, repositories.InventoryReleaseRequest{
			ReservationID: id,
			Reason:        reasonExpired,
			Now:           now,
		})
		if err != nil {
			// Invalid state means a racing commit or release won; not a failure.
			var invErr *repositories.InventoryError
			if errors.As(err, &invErr) && invErr.Code == repositories.InventoryErrorInvalidReservationState {
				continue
			}
			result.Failed++
			continue
		}
		result.Released = append(result.Released, released)
	}
	return result, nil
}

func (r *InventoryRepository) GetReservation(ctx context.Context, reservationID string) (domain.StockReservation, error) {
	if r == nil || r.reservations == nil {
		return domain.StockReservation{}, errors.New("inventory repository not initialised")
	}
	reservationID = strings.TrimSpace(reservationID)
	if reservationID == "" {
		return domain.StockReservation{}, errors.New("inventory get reservation: id is required")
	}

	doc, err := r.reservations.Get(ctx, reservationID)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.StockReservation{}, repositories.NewInventoryError(repositories.InventoryErrorReservationNotFound, fmt.Sprintf("reservation %s not found", reservationID), err)
		}
		return domain.StockReservation{}, wrapInventoryError("inventory.getReservation", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *InventoryRepository) ListReservationsByOrder(ctx context.Context, orderID string) ([]domain.StockReservation, error) {
	if r == nil || r.reservations == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("inventory list reservations: order id is required")
	}

	docs, err := r.reservations.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID)
	})
	if err != nil {
		return nil, wrapInventoryError("inventory.listReservations", err)
	}

	reservations := make([]domain.StockReservation, 0, len(docs))
	for _, doc := range docs {
		reservations = append(reservations, doc.Data.toDomain(doc.ID))
	}
	return reservations, nil
}

func (r *InventoryRepository) ListReservationsBySellerOrder(ctx context.Context, sellerOrderID string) ([]domain.StockReservation, error) {
	if r == nil || r.reservations == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	sellerOrderID = strings.TrimSpace(sellerOrderID)
	if sellerOrderID == "" {
		return nil, errors.New("inventory list reservations: seller order id is required")
	}

	docs, err := r.reservations.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("sellerOrderId", "==", sellerOrderID)
	})
	if err != nil {
		return nil, wrapInventoryError("inventory.listReservations", err)
	}

	reservations := make([]domain.StockReservation, 0, len(docs))
	for _, doc := range docs {
		reservations = append(reservations, doc.Data.toDomain(doc.ID))
	}
	return reservations, nil
}

func (r *InventoryRepository) GetStockLevel(ctx context.Context, productID string, warehouseID string) (domain.StockLevel, error) {
	if r == nil || r.stocks == nil {
		return domain.StockLevel{}, errors.New("inventory repository not initialised")
	}

	doc, err := r.stocks.Get(ctx, StockLevelDocID(productID, warehouseID))
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.StockLevel{}, repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, fmt.Sprintf("stock for %s at %s not found", productID, warehouseID), err)
		}
		return domain.StockLevel{}, wrapInventoryError("inventory.getStock", err)
	}
	return doc.Data.toDomain(), nil
}

func (r *InventoryRepository) ListStockForProduct(ctx context.Context, productID string) ([]domain.StockLevel, error) {
	if r == nil || r.stocks == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, errors.New("inventory list stock: product id is required")
	}

	docs, err := r.stocks.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("productId", "==", productID)
	})
	if err != nil {
		return nil, wrapInventoryError("inventory.listStock", err)
	}

	levels := make([]domain.StockLevel, 0, len(docs))
	for _, doc := range docs {
		levels = append(levels, doc.Data.toDomain())
	}
	return levels, nil
}

func (r *InventoryRepository) UpsertStockLevel(ctx context.Context, level domain.StockLevel) error {
	if r == nil || r.provider == nil {
		return errors.New("inventory repository not initialised")
	}
	if strings.TrimSpace(level.ProductID) == "" || strings.TrimSpace(level.WarehouseID) == "" {
		return errors.New("inventory upsert stock: product and warehouse are required")
	}

	// Preserve the local reserved counter across syncs; the source of truth
	// for holds is this service, not the upstream inventory system.
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		stockRef, err := r.stocks.DocumentRef(ctx, StockLevelDocID(level.ProductID, level.WarehouseID))
		if err != nil {
			return err
		}
		var doc stockLevelDocument
		snap, err := tx.Get(stockRef)
		if err != nil {
			if status.Code(err) != codes.NotFound {
				return err
			}
		} else if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode stock level %s: %w", snap.Ref.ID, err)
		}

		doc.ProductID = strings.TrimSpace(level.ProductID)
		doc.WarehouseID = strings.TrimSpace(level.WarehouseID)
		doc.SKU = strings.TrimSpace(level.SKU)
		doc.OnHand = level.OnHand
		doc.ReorderPoint = level.ReorderPoint
		doc.LastSyncedAt = level.LastSyncedAt
		doc.UpdatedAt = level.UpdatedAt.UTC()
		doc.recalculate()
		return tx.Set(stockRef, doc)
	})
	return wrapInventoryError("inventory.upsertStock", err)
}

// Transaction helpers --------------------------------------------------------

func (r *InventoryRepository) getReservationTx(ctx context.Context, tx *firestore.Transaction, reservationID string) (*firestore.DocumentRef, reservationDocument, error) {
	resRef, err := r.reservations.DocumentRef(ctx, reservationID)
	if err != nil {
		return nil, reservationDocument{}, err
	}
	snap, err := tx.Get(resRef)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, reservationDocument{}, repositories.NewInventoryError(repositories.InventoryErrorReservationNotFound, fmt.Sprintf("reservation %s not found", reservationID), err)
		}
		return nil, reservationDocument{}, err
	}
	var doc reservationDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, reservationDocument{}, fmt.Errorf("decode reservation %s: %w", snap.Ref.ID, err)
	}
	return resRef, doc, nil
}

func (r *InventoryRepository) getStockTx(ctx context.Context, tx *firestore.Transaction, productID, warehouseID string) (*firestore.DocumentRef, stockLevelDocument, error) {
	stockRef, err := r.stocks.DocumentRef(ctx, StockLevelDocID(productID, warehouseID))
	if err != nil {
		return nil, stockLevelDocument{}, err
	}
	snap, err := tx.Get(stockRef)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, stockLevelDocument{}, repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, fmt.Sprintf("stock for %s at %s not found", productID, warehouseID), err)
		}
		return nil, stockLevelDocument{}, err
	}
	var doc stockLevelDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, stockLevelDocument{}, fmt.Errorf("decode stock level %s: %w", snap.Ref.ID, err)
	}
	return stockRef, doc, nil
}

// Helper structures ---------------------------------------------------------

type stockLevelDocument struct {
	ProductID    string     `firestore:"productId"`
	WarehouseID  string     `firestore:"warehouseId"`
	SKU          string     `firestore:"sku"`
	OnHand       int        `firestore:"onHand"`
	Reserved     int        `firestore:"reserved"`
	Available    int        `firestore:"available"`
	ReorderPoint int        `firestore:"reorderPoint"`
	LastSyncedAt *time.Time `firestore:"lastSyncedAt,omitempty"`
	UpdatedAt    time.Time  `firestore:"updatedAt"`
}

func (s *stockLevelDocument) recalculate() {
	s.Available = s.OnHand - s.Reserved
	if s.Available < 0 {
		s.Available = 0
	}
}

func (s stockLevelDocument) toDomain() domain.StockLevel {
	return domain.StockLevel{
		ProductID:    strings.TrimSpace(s.ProductID),
		WarehouseID:  strings.TrimSpace(s.WarehouseID),
		SKU:          strings.TrimSpace(s.SKU),
		OnHand:       s.OnHand,
		Reserved:     s.Reserved,
		Available:    s.Available,
		ReorderPoint: s.ReorderPoint,
		LastSyncedAt: s.LastSyncedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

type reservationDocument struct {
	OrderID       string     `firestore:"orderId"`
	SellerOrderID string     `firestore:"sellerOrderId"`
	ProductID     string     `firestore:"productId"`
	WarehouseID   string     `firestore:"warehouseId"`
	Quantity      int        `firestore:"qty"`
	Status        string     `firestore:"status"`
	Reason        string     `firestore:"reason,omitempty"`
	ExpiresAt     time.Time  `firestore:"expiresAt"`
	CommittedAt   *time.Time `firestore:"committedAt,omitempty"`
	CreatedAt     time.Time  `firestore:"createdAt"`
	UpdatedAt     time.Time  `firestore:"updatedAt"`
}

func (d reservationDocument) toDomain(id string) domain.StockReservation {
	return domain.StockReservation{
		ID:            id,
		OrderID:       strings.TrimSpace(d.OrderID),
		SellerOrderID: strings.TrimSpace(d.SellerOrderID),
		ProductID:     strings.TrimSpace(d.ProductID),
		WarehouseID:   strings.TrimSpace(d.WarehouseID),
		Quantity:      d.Quantity,
		Status:        domain.ReservationStatus(d.Status),
		ExpiresAt:     d.ExpiresAt,
		CommittedAt:   d.CommittedAt,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

func wrapInventoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		if invErr.Op == "" {
			invErr.Op = op
		}
		return invErr
	}
	return pfirestore.WrapError(op, err)
}
