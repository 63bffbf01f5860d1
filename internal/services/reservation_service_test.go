package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mrshanebarron/repshare/internal/domain"
	"github.com/mrshanebarron/repshare/internal/repositories"
)

func newReservationService(t *testing.T, inv *stubInventoryRepo, opts ...func(*ReservationServiceDeps)) ReservationService {
	t.Helper()
	deps := ReservationServiceDeps{
		Inventory:   inv,
		Clock:       testClock,
		IDGenerator: sequenceIDs("R"),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	svc, err := NewReservationService(deps)
	if err != nil {
		t.Fatalf("new reservation service: %v", err)
	}
	return svc
}

func TestReservationServiceReserve(t *testing.T) {
	var captured repositories.InventoryReserveRequest
	inv := &stubInventoryRepo{
		reserveFn: func(_ context.Context, req repositories.InventoryReserveRequest) (domain.StockReservation, error) {
			captured = req
			return domain.StockReservation{ID: req.ReservationID, Status: domain.ReservationReserved}, nil
		},
	}
	svc := newReservationService(t, inv, func(deps *ReservationServiceDeps) {
		deps.TTL = 15 * time.Minute
	})

	reservation, err := svc.Reserve(context.Background(), ReserveCommand{
		OrderID:       "ord_1",
		SellerOrderID: "so_1",
		ProductID:     "prod-1",
		WarehouseID:   "wh-1",
		Quantity:      4,
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	if !strings.HasPrefix(reservation.ID, "rsv_") {
		t.Fatalf("unexpected reservation id %s", reservation.ID)
	}
	if captured.Quantity != 4 || captured.WarehouseID != "wh-1" {
		t.Fatalf("unexpected request: %+v", captured)
	}
	wantExpiry := testClock().Add(15 * time.Minute)
	if !captured.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("expires at %v, want %v", captured.ExpiresAt, wantExpiry)
	}
}

func TestReservationServiceReserveMapsInsufficientStock(t *testing.T) {
	inv := &stubInventoryRepo{
		reserveFn: func(context.Context, repositories.InventoryReserveRequest) (domain.StockReservation, error) {
			return domain.StockReservation{}, repositories.NewInventoryError(
				repositories.InventoryErrorInsufficientStock, "need 4 have 1", nil)
		},
	}
	svc := newReservationService(t, inv)

	_, err := svc.Reserve(context.Background(), ReserveCommand{
		OrderID: "ord_1", ProductID: "prod-1", WarehouseID: "wh-1", Quantity: 4,
	})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
}

func TestReservationServiceReserveValidatesInput(t *testing.T) {
	svc := newReservationService(t, &stubInventoryRepo{})

	cases := []ReserveCommand{
		{ProductID: "prod-1", WarehouseID: "wh-1", Quantity: 1},
		{OrderID: "ord_1", WarehouseID: "wh-1", Quantity: 1},
		{OrderID: "ord_1", ProductID: "prod-1", Quantity: 1},
		{OrderID: "ord_1", ProductID: "prod-1", WarehouseID: "wh-1", Quantity: 0},
	}
	for i, cmd := range cases {
		if _, err := svc.Reserve(context.Background(), cmd); !errors.Is(err, ErrReservationInvalidInput) {
			t.Fatalf("case %d: expected invalid input, got %v", i, err)
		}
	}
}

func TestReservationServiceCommitOrderSkipsNonReserved(t *testing.T) {
	var committed []string
	inv := &stubInventoryRepo{
		byOrderFn: func(context.Context, string) ([]domain.StockReservation, error) {
			return []domain.StockReservation{
				{ID: "rsv_1", Status: domain.ReservationReserved},
				{ID: "rsv_2", Status: domain.ReservationReleased},
				{ID: "rsv_3", Status: domain.ReservationReserved},
			}, nil
		},
		commitFn: func(_ context.Context, req repositories.InventoryCommitRequest) (domain.StockReservation, error) {
			committed = append(committed, req.ReservationID)
			return domain.StockReservation{ID: req.ReservationID, Status: domain.ReservationCommitted}, nil
		},
	}
	svc := newReservationService(t, inv)

	count, err := svc.CommitOrder(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("commit order: %v", err)
	}
	if count != 2 {
		t.Fatalf("committed = %d, want 2", count)
	}
	if len(committed) != 2 || committed[0] != "rsv_1" || committed[1] != "rsv_3" {
		t.Fatalf("unexpected commits: %v", committed)
	}
}

func TestReservationServiceCommitOrderToleratesRacingSweep(t *testing.T) {
	inv := &stubInventoryRepo{
		byOrderFn: func(context.Context, string) ([]domain.StockReservation, error) {
			return []domain.StockReservation{
				{ID: "rsv_1", Status: domain.ReservationReserved},
				{ID: "rsv_2", Status: domain.ReservationReserved},
			}, nil
		},
		commitFn: func(_ context.Context, req repositories.InventoryCommitRequest) (domain.StockReservation, error) {
			if req.ReservationID == "rsv_1" {
				// The sweep released it between the list and the commit.
				return domain.StockReservation{}, repositories.NewInventoryError(
					repositories.InventoryErrorInvalidReservationState, "status is released", nil)
			}
			return domain.StockReservation{ID: req.ReservationID}, nil
		},
	}
	svc := newReservationService(t, inv)

	count, err := svc.CommitOrder(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("commit order should skip contested holds: %v", err)
	}
	if count != 1 {
		t.Fatalf("committed = %d, want 1", count)
	}
}

func TestReservationServiceCommitOrderPropagatesHardErrors(t *testing.T) {
	backendErr := repositories.NewInventoryError(repositories.InventoryErrorUnknown, "backend down", nil)
	inv := &stubInventoryRepo{
		byOrderFn: func(context.Context, string) ([]domain.StockReservation, error) {
			return []domain.StockReservation{
				{ID: "rsv_1", Status: domain.ReservationReserved},
				{ID: "rsv_2", Status: domain.ReservationReserved},
			}, nil
		},
		commitFn: func(_ context.Context, req repositories.InventoryCommitRequest) (domain.StockReservation, error) {
			if req.ReservationID == "rsv_2" {
				return domain.StockReservation{}, backendErr
			}
			return domain.StockReservation{ID: req.ReservationID}, nil
		},
	}
	svc := newReservationService(t, inv)

	count, err := svc.CommitOrder(context.Background(), "ord_1")
	if err == nil {
		t.Fatal("expected hard error to propagate")
	}
	if count != 1 {
		t.Fatalf("partial commit count = %d, want 1", count)
	}
}

func TestReservationServiceReleaseOrderIsIdempotent(t *testing.T) {
	released := map[string]bool{}
	inv := &stubInventoryRepo{
		byOrderFn: func(context.Context, string) ([]domain.StockReservation, error) {
			var out []domain.StockReservation
			for _, id := range []string{"rsv_1", "rsv_2"} {
				status := domain.ReservationReserved
				if released[id] {
					status = domain.ReservationReleased
				}
				out = append(out, domain.StockReservation{ID: id, Status: status})
			}
			return out, nil
		},
		releaseFn: func(_ context.Context, req repositories.InventoryReleaseRequest) (domain.StockReservation, error) {
			released[req.ReservationID] = true
			return domain.StockReservation{ID: req.ReservationID, Status: domain.ReservationReleased}, nil
		},
	}
	svc := newReservationService(t, inv)

	count, err := svc.ReleaseOrder(context.Background(), "ord_1", "cancelled")
	if err != nil {
		t.Fatalf("release order: %v", err)
	}
	if count != 2 {
		t.Fatalf("released = %d, want 2", count)
	}

	// Second pass finds nothing in Reserved and releases nothing.
	count, err = svc.ReleaseOrder(context.Background(), "ord_1", "cancelled")
	if err != nil {
		t.Fatalf("second release: %v", err)
	}
	if count != 0 {
		t.Fatalf("second release = %d, want 0", count)
	}
}

func TestReservationServiceSweepExpiredDrainsBatches(t *testing.T) {
	makeBatch := func(n int, offset int) []domain.StockReservation {
		out := make([]domain.StockReservation, n)
		for i := range out {
			out[i] = domain.StockReservation{ID: "rsv_" + string(rune('a'+offset+i)), OrderID: "ord_1"}
		}
		return out
	}

	calls := 0
	inv := &stubInventoryRepo{
		sweepFn: func(_ context.Context, req repositories.InventorySweepRequest) (repositories.InventorySweepResult, error) {
			calls++
			if req.Limit != 2 {
				t.Fatalf("limit = %d, want 2", req.Limit)
			}
			switch calls {
			case 1:
				return repositories.InventorySweepResult{Released: makeBatch(2, 0)}, nil
			case 2:
				return repositories.InventorySweepResult{Released: makeBatch(1, 2)}, nil
			default:
				t.Fatal("sweep should stop after a short batch")
				return repositories.InventorySweepResult{}, nil
			}
		},
	}
	svc := newReservationService(t, inv, func(deps *ReservationServiceDeps) {
		deps.SweepBatchSize = 2
	})

	result, err := svc.SweepExpired(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Released != 3 || result.Failed != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if calls != 2 {
		t.Fatalf("sweep calls = %d, want 2", calls)
	}
}

func TestReservationServiceSweepStopsWhenNoProgress(t *testing.T) {
	calls := 0
	inv := &stubInventoryRepo{
		sweepFn: func(context.Context, repositories.InventorySweepRequest) (repositories.InventorySweepResult, error) {
			calls++
			// Every hold in the batch is contested; nothing was released.
			return repositories.InventorySweepResult{Failed: 2}, nil
		},
	}
	svc := newReservationService(t, inv, func(deps *ReservationServiceDeps) {
		deps.SweepBatchSize = 2
	})

	result, err := svc.SweepExpired(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if calls != 1 {
		t.Fatalf("sweep must not re-query a stuck batch, got %d calls", calls)
	}
	if result.Failed != 2 {
		t.Fatalf("failed = %d, want 2", result.Failed)
	}
}

func TestReservationServiceReleaseReservationMapsNotFound(t *testing.T) {
	inv := &stubInventoryRepo{
		releaseFn: func(context.Context, repositories.InventoryReleaseRequest) (domain.StockReservation, error) {
			return domain.StockReservation{}, repositories.NewInventoryError(
				repositories.InventoryErrorReservationNotFound, "no such reservation", nil)
		},
	}
	svc := newReservationService(t, inv)

	_, err := svc.ReleaseReservation(context.Background(), "rsv_missing", "manual")
	if !errors.Is(err, ErrReservationNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
