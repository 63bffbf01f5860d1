package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mrshanebarron/repshare/internal/domain"
	"github.com/mrshanebarron/repshare/internal/repositories"
)

const (
	reservationIDPrefix = "rsv_"

	// DefaultReservationTTL bounds a hold when no TTL is configured.
	DefaultReservationTTL = 30 * time.Minute

	defaultSweepBatchSize = 100
)

var (
	// ErrReservationInvalidInput signals the caller provided invalid data.
	ErrReservationInvalidInput = errors.New("reservation: invalid input")
	// ErrInsufficientStock indicates the demanded quantity exceeds availability.
	ErrInsufficientStock = errors.New("reservation: insufficient stock")
	// ErrStockNotFound indicates the (product, warehouse) pair has no stock record.
	ErrStockNotFound = errors.New("reservation: stock not found")
	// ErrReservationNotFound indicates the reservation could not be located.
	ErrReservationNotFound = errors.New("reservation: not found")
	// ErrReservationInvalidState indicates the reservation already left Reserved.
	ErrReservationInvalidState = errors.New("reservation: invalid state")
)

// ReservationServiceDeps bundles collaborators for the reservation manager.
type ReservationServiceDeps struct {
	Inventory      repositories.InventoryRepository
	TTL            time.Duration
	SweepBatchSize int
	Clock          func() time.Time
	IDGenerator    func() string
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type reservationService struct {
	inventory repositories.InventoryRepository
	ttl       time.Duration
	batchSize int
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewReservationService wires dependencies into a ReservationService.
func NewReservationService(deps ReservationServiceDeps) (ReservationService, error) {
	if deps.Inventory == nil {
		return nil, errors.New("reservation service: inventory repository is required")
	}

	ttl := deps.TTL
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	batchSize := deps.SweepBatchSize
	if batchSize <= 0 {
		batchSize = defaultSweepBatchSize
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &reservationService{
		inventory: deps.Inventory,
		ttl:       ttl,
		batchSize: batchSize,
		clock:     func() time.Time { return clock().UTC() },
		newID:     idGen,
		logger:    logger,
	}, nil
}

func (s *reservationService) Reserve(ctx context.Context, cmd ReserveCommand) (StockReservation, error) {
	if strings.TrimSpace(cmd.OrderID) == "" {
		return StockReservation{}, fmt.Errorf("%w: order id is required", ErrReservationInvalidInput)
	}
	if strings.TrimSpace(cmd.ProductID) == "" || strings.TrimSpace(cmd.WarehouseID) == "" {
		return StockReservation{}, fmt.Errorf("%w: product and warehouse are required", ErrReservationInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return StockReservation{}, fmt.Errorf("%w: quantity must be positive", ErrReservationInvalidInput)
	}

	now := s.clock()
	reservation, err := s.inventory.Reserve(ctx, repositories.InventoryReserveRequest{
		ReservationID: reservationIDPrefix + s.newID(),
		OrderID:       strings.TrimSpace(cmd.OrderID),
		SellerOrderID: strings.TrimSpace(cmd.SellerOrderID),
		ProductID:     strings.TrimSpace(cmd.ProductID),
		WarehouseID:   strings.TrimSpace(cmd.WarehouseID),
		Quantity:      cmd.Quantity,
		ExpiresAt:     now.Add(s.ttl),
		Now:           now,
	})
	if err != nil {
		return StockReservation{}, mapInventoryError(err)
	}
	return reservation, nil
}

// CommitOrder converts every still-Reserved hold under the order into a stock
// deduction. Holds that already left Reserved are skipped, which makes retries
// after a crash or a racing sweep safe.
func (s *reservationService) CommitOrder(ctx context.Context, orderID string) (int, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return 0, fmt.Errorf("%w: order id is required", ErrReservationInvalidInput)
	}

	reservations, err := s.inventory.ListReservationsByOrder(ctx, orderID)
	if err != nil {
		return 0, mapInventoryError(err)
	}

	now := s.clock()
	committed := 0
	for _, reservation := range reservations {
		if reservation.Status != domain.ReservationReserved {
			continue
		}
		if _, err := s.inventory.Commit(ctx, repositories.InventoryCommitRequest{
			ReservationID: reservation.ID,
			Now:           now,
		}); err != nil {
			if isInvalidStateError(err) {
				// A racing sweep or release converged first.
				s.logger(ctx, "reservation.commit.skipped", map[string]any{
					"reservation": reservation.ID,
					"order":       orderID,
				})
				continue
			}
			return committed, mapInventoryError(err)
		}
		committed++
	}
	return committed, nil
}

// ReleaseOrder returns every still-Reserved hold under the order to
// availability. Idempotent for the same reasons as CommitOrder.
func (s *reservationService) ReleaseOrder(ctx context.Context, orderID string, reason string) (int, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return 0, fmt.Errorf("%w: order id is required", ErrReservationInvalidInput)
	}

	reservations, err := s.inventory.ListReservationsByOrder(ctx, orderID)
	if err != nil {
		return 0, mapInventoryError(err)
	}

	now := s.clock()
	released := 0
	for _, reservation := range reservations {
		if reservation.Status != domain.ReservationReserved {
			continue
		}
		if _, err := s.inventory.Release(ctx, repositories.InventoryReleaseRequest{
			ReservationID: reservation.ID,
			Reason:        reason,
			Now:           now,
		}); err != nil {
			if isInvalidStateError(err) {
				continue
			}
			return released, mapInventoryError(err)
		}
		released++
	}
	return released, nil
}

func (s *reservationService) ReleaseReservation(ctx context.Context, reservationID string, reason string) (StockReservation, error) {
	reservationID = strings.TrimSpace(reservationID)
	if reservationID == "" {
		return StockReservation{}, fmt.Errorf("%w: reservation id is required", ErrReservationInvalidInput)
	}

	reservation, err := s.inventory.Release(ctx, repositories.InventoryReleaseRequest{
		ReservationID: reservationID,
		Reason:        reason,
		Now:           s.clock(),
	})
	if err != nil {
		return StockReservation{}, mapInventoryError(err)
	}
	return reservation, nil
}

// SweepExpired releases every lapsed hold in bounded batches and reports the
// total. Safe to run concurrently with commits and releases; contested
// reservations are skipped, not failed.
func (s *reservationService) SweepExpired(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	for {
		batch, err := s.inventory.SweepExpired(ctx, repositories.InventorySweepRequest{
			Now:   s.clock(),
			Limit: s.batchSize,
		})
		if err != nil {
			return result, mapInventoryError(err)
		}
		result.Released += len(batch.Released)
		result.Failed += batch.Failed

		for _, reservation := range batch.Released {
			s.logger(ctx, "reservation.expired.released", map[string]any{
				"reservation": reservation.ID,
				"order":       reservation.OrderID,
				"product":     reservation.ProductID,
				"warehouse":   reservation.WarehouseID,
				"qty":         reservation.Quantity,
			})
		}

		// A batch with no successful releases cannot make progress; stop
		// rather than re-query the same contested reservations.
		if len(batch.Released) == 0 || len(batch.Released)+batch.Failed < s.batchSize {
			return result, nil
		}
	}
}

func mapInventoryError(err error) error {
	if err == nil {
		return nil
	}

	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorInsufficientStock:
			return fmt.Errorf("%w: %v", ErrInsufficientStock, err)
		case repositories.InventoryErrorStockNotFound:
			return fmt.Errorf("%w: %v", ErrStockNotFound, err)
		case repositories.InventoryErrorReservationNotFound:
			return fmt.Errorf("%w: %v", ErrReservationNotFound, err)
		case repositories.InventoryErrorInvalidReservationState:
			return fmt.Errorf("%w: %v", ErrReservationInvalidState, err)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrReservationNotFound, err)
	}
	return err
}

func isInvalidStateError(err error) bool {
	var invErr *repositories.InventoryError
	return errors.As(err, &invErr) && invErr.Code == repositories.InventoryErrorInvalidReservationState
}
