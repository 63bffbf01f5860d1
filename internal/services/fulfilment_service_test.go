package services

import (
	"context"
	"errors"
	"testing"

	"github.com/mrshanebarron/repshare/internal/domain"
)

type fulfilmentFixture struct {
	svc          FulfilmentService
	order        *domain.Order
	sellerOrders map[string]*domain.SellerOrder
	orderUpdates []domain.Order
	events       *captureEvents
}

func newFulfilmentFixture(t *testing.T, statuses ...domain.FulfilmentStatus) *fulfilmentFixture {
	t.Helper()

	fixture := &fulfilmentFixture{
		order: &domain.Order{
			ID:          "ord_1",
			OrderNumber: "RS-2026-000001",
			Status:      domain.OrderStatusConfirmed,
		},
		sellerOrders: make(map[string]*domain.SellerOrder),
		events:       &captureEvents{},
	}
	var ids []string
	for i, status := range statuses {
		id := []string{"so_1", "so_2", "so_3"}[i]
		ids = append(ids, id)
		fixture.sellerOrders[id] = &domain.SellerOrder{
			ID:               id,
			OrderID:          "ord_1",
			SellerID:         "seller-" + id,
			Status:           domain.OrderStatusConfirmed,
			FulfilmentStatus: status,
		}
	}

	svc, err := NewFulfilmentService(FulfilmentServiceDeps{
		SellerOrders: &stubSellerOrderRepo{
			findFn: func(_ context.Context, id string) (domain.SellerOrder, error) {
				so, ok := fixture.sellerOrders[id]
				if !ok {
					return domain.SellerOrder{}, notFoundError{msg: "seller order " + id}
				}
				return *so, nil
			},
			updateFn: func(_ context.Context, so domain.SellerOrder) error {
				fixture.sellerOrders[so.ID] = &so
				return nil
			},
			listByOrderFn: func(context.Context, string) ([]domain.SellerOrder, error) {
				out := make([]domain.SellerOrder, 0, len(ids))
				for _, id := range ids {
					out = append(out, *fixture.sellerOrders[id])
				}
				return out, nil
			},
		},
		Orders: &stubOrderRepo{
			findFn: func(context.Context, string) (domain.Order, error) { return *fixture.order, nil },
			updateFn: func(_ context.Context, order domain.Order) error {
				*fixture.order = order
				fixture.orderUpdates = append(fixture.orderUpdates, order)
				return nil
			},
		},
		Carriers: &stubCarrierRepo{
			findFn: func(_ context.Context, code string) (domain.Carrier, error) {
				if code != "auspost" {
					return domain.Carrier{}, notFoundError{msg: "carrier " + code}
				}
				return domain.Carrier{
					Code:             "auspost",
					TrackingTemplate: "https://auspost.com.au/track/{tracking}",
				}, nil
			},
		},
		Clock:       testClock,
		IDGenerator: sequenceIDs("F"),
		Events:      fixture.events,
	})
	if err != nil {
		t.Fatalf("new fulfilment service: %v", err)
	}
	fixture.svc = svc
	return fixture
}

func TestFulfilmentPipelineHappyPath(t *testing.T) {
	fixture := newFulfilmentFixture(t, domain.FulfilmentAssigned)
	ctx := context.Background()

	so, err := fixture.svc.StartPicking(ctx, FulfilmentCommand{SellerOrderID: "so_1"})
	if err != nil {
		t.Fatalf("start picking: %v", err)
	}
	if so.FulfilmentStatus != domain.FulfilmentPicking || so.PickedAt == nil {
		t.Fatalf("picking not stamped: %+v", so)
	}
	if so.Status != domain.OrderStatusProcessing {
		t.Fatalf("expected processing, got %s", so.Status)
	}

	so, err = fixture.svc.MarkPacked(ctx, PackCommand{SellerOrderID: "so_1", PackerName: "Dana"})
	if err != nil {
		t.Fatalf("mark packed: %v", err)
	}
	if so.FulfilmentStatus != domain.FulfilmentPacked || so.PackedAt == nil || so.PackerName != "Dana" {
		t.Fatalf("packed not stamped: %+v", so)
	}

	so, err = fixture.svc.Dispatch(ctx, DispatchCommand{
		SellerOrderID:  "so_1",
		CarrierCode:    "auspost",
		TrackingNumber: "TRACK123",
		ShippingCost:   995,
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if so.FulfilmentStatus != domain.FulfilmentDispatched || so.DispatchedAt == nil {
		t.Fatalf("dispatch not stamped: %+v", so)
	}
	if so.Carrier != "auspost" || so.TrackingNumber != "TRACK123" || so.ShippingCost != 995 {
		t.Fatalf("carrier details lost: %+v", so)
	}
	if so.Status != domain.OrderStatusInTransit {
		t.Fatalf("expected in transit, got %s", so.Status)
	}

	so, err = fixture.svc.MarkDelivered(ctx, DeliverCommand{SellerOrderID: "so_1", SignatureName: "J. Customer"})
	if err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	if so.FulfilmentStatus != domain.FulfilmentDelivered || so.DeliveredAt == nil {
		t.Fatalf("delivery not stamped: %+v", so)
	}

	// Every transition published a change event.
	changes := 0
	for _, event := range fixture.events.events {
		if event.Type == EventFulfilmentChanged {
			changes++
			if event.Metadata["previous"] == nil {
				t.Fatalf("change event missing previous status: %+v", event)
			}
		}
	}
	if changes != 4 {
		t.Fatalf("expected 4 change events, got %d", changes)
	}
}

func TestFulfilmentRejectsIllegalTransition(t *testing.T) {
	fixture := newFulfilmentFixture(t, domain.FulfilmentPending)

	_, err := fixture.svc.Dispatch(context.Background(), DispatchCommand{
		SellerOrderID:  "so_1",
		CarrierCode:    "auspost",
		TrackingNumber: "TRACK123",
	})
	if !errors.Is(err, ErrFulfilmentInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}

	_, err = fixture.svc.StartPicking(context.Background(), FulfilmentCommand{SellerOrderID: "so_1"})
	if !errors.Is(err, ErrFulfilmentInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestFulfilmentPackedCanSkipAwaitingCarrier(t *testing.T) {
	fixture := newFulfilmentFixture(t, domain.FulfilmentPacked)

	so, err := fixture.svc.Dispatch(context.Background(), DispatchCommand{
		SellerOrderID:  "so_1",
		CarrierCode:    "auspost",
		TrackingNumber: "TRACK123",
	})
	if err != nil {
		t.Fatalf("dispatch from packed: %v", err)
	}
	if so.FulfilmentStatus != domain.FulfilmentDispatched {
		t.Fatalf("expected dispatched, got %s", so.FulfilmentStatus)
	}
}

func TestFulfilmentDispatchValidatesInput(t *testing.T) {
	fixture := newFulfilmentFixture(t, domain.FulfilmentPacked)

	_, err := fixture.svc.Dispatch(context.Background(), DispatchCommand{SellerOrderID: "so_1", TrackingNumber: "T"})
	if !errors.Is(err, ErrFulfilmentInvalidInput) {
		t.Fatalf("expected invalid input for missing carrier, got %v", err)
	}
	_, err = fixture.svc.Dispatch(context.Background(), DispatchCommand{SellerOrderID: "so_1", CarrierCode: "auspost"})
	if !errors.Is(err, ErrFulfilmentInvalidInput) {
		t.Fatalf("expected invalid input for missing tracking, got %v", err)
	}
}

func TestFulfilmentReportIssueFailsFromAnyNonTerminalState(t *testing.T) {
	for _, status := range []domain.FulfilmentStatus{
		domain.FulfilmentPending,
		domain.FulfilmentAssigned,
		domain.FulfilmentPicking,
		domain.FulfilmentPacked,
		domain.FulfilmentAwaitingCarrier,
		domain.FulfilmentDispatched,
	} {
		fixture := newFulfilmentFixture(t, status)
		so, err := fixture.svc.ReportIssue(context.Background(), IssueCommand{
			SellerOrderID: "so_1",
			Reason:        "damaged in transit",
			ActorID:       "ops-1",
		})
		if err != nil {
			t.Fatalf("report issue from %s: %v", status, err)
		}
		if so.FulfilmentStatus != domain.FulfilmentFailed {
			t.Fatalf("expected failed from %s, got %s", status, so.FulfilmentStatus)
		}
		if so.Metadata["issueReason"] != "damaged in transit" {
			t.Fatalf("issue reason not recorded: %+v", so.Metadata)
		}
	}
}

func TestFulfilmentReportIssueRejectsTerminalStates(t *testing.T) {
	for _, status := range []domain.FulfilmentStatus{domain.FulfilmentDelivered, domain.FulfilmentFailed} {
		fixture := newFulfilmentFixture(t, status)
		_, err := fixture.svc.ReportIssue(context.Background(), IssueCommand{SellerOrderID: "so_1", Reason: "late"})
		if !errors.Is(err, ErrFulfilmentInvalidTransition) {
			t.Fatalf("expected invalid transition from %s, got %v", status, err)
		}
	}
}

func TestFulfilmentParentStatusDerivation(t *testing.T) {
	t.Run("one of two delivered stays in transit", func(t *testing.T) {
		fixture := newFulfilmentFixture(t, domain.FulfilmentDispatched, domain.FulfilmentDispatched)

		if _, err := fixture.svc.MarkDelivered(context.Background(), DeliverCommand{SellerOrderID: "so_1"}); err != nil {
			t.Fatalf("mark delivered: %v", err)
		}
		if fixture.order.Status != domain.OrderStatusInTransit {
			t.Fatalf("expected in transit, got %s", fixture.order.Status)
		}
		if fixture.order.CompletedAt != nil {
			t.Fatal("completed at must not be set before every partition delivers")
		}
	})

	t.Run("last delivery completes the order", func(t *testing.T) {
		fixture := newFulfilmentFixture(t, domain.FulfilmentDelivered, domain.FulfilmentDispatched)

		if _, err := fixture.svc.MarkDelivered(context.Background(), DeliverCommand{SellerOrderID: "so_2"}); err != nil {
			t.Fatalf("mark delivered: %v", err)
		}
		if fixture.order.Status != domain.OrderStatusDelivered {
			t.Fatalf("expected delivered, got %s", fixture.order.Status)
		}
		if fixture.order.CompletedAt == nil {
			t.Fatal("completed at should be stamped")
		}

		var delivered bool
		for _, event := range fixture.events.events {
			if event.Type == EventOrderDelivered {
				delivered = true
			}
		}
		if !delivered {
			t.Fatal("expected order.delivered event")
		}
	})

	t.Run("any partition picking marks processing", func(t *testing.T) {
		fixture := newFulfilmentFixture(t, domain.FulfilmentAssigned, domain.FulfilmentAssigned)

		if _, err := fixture.svc.StartPicking(context.Background(), FulfilmentCommand{SellerOrderID: "so_1"}); err != nil {
			t.Fatalf("start picking: %v", err)
		}
		if fixture.order.Status != domain.OrderStatusProcessing {
			t.Fatalf("expected processing, got %s", fixture.order.Status)
		}
	})

	t.Run("terminal parent untouched", func(t *testing.T) {
		fixture := newFulfilmentFixture(t, domain.FulfilmentDispatched)
		fixture.order.Status = domain.OrderStatusCancelled

		if _, err := fixture.svc.MarkDelivered(context.Background(), DeliverCommand{SellerOrderID: "so_1"}); err != nil {
			t.Fatalf("mark delivered: %v", err)
		}
		if len(fixture.orderUpdates) != 0 {
			t.Fatalf("terminal order must not be updated, got %d updates", len(fixture.orderUpdates))
		}
	})
}

func TestFulfilmentTrackingURL(t *testing.T) {
	ctx := context.Background()

	t.Run("known carrier expands template", func(t *testing.T) {
		fixture := newFulfilmentFixture(t, domain.FulfilmentDispatched)
		fixture.sellerOrders["so_1"].Carrier = "auspost"
		fixture.sellerOrders["so_1"].TrackingNumber = "TRACK123"

		url, err := fixture.svc.TrackingURL(ctx, "so_1")
		if err != nil {
			t.Fatalf("tracking url: %v", err)
		}
		if url != "https://auspost.com.au/track/TRACK123" {
			t.Fatalf("unexpected url %s", url)
		}
	})

	t.Run("unknown carrier falls back to raw number", func(t *testing.T) {
		fixture := newFulfilmentFixture(t, domain.FulfilmentDispatched)
		fixture.sellerOrders["so_1"].Carrier = "mystery"
		fixture.sellerOrders["so_1"].TrackingNumber = "TRACK123"

		url, err := fixture.svc.TrackingURL(ctx, "so_1")
		if err != nil {
			t.Fatalf("tracking url: %v", err)
		}
		if url != "TRACK123" {
			t.Fatalf("expected raw tracking number, got %s", url)
		}
	})

	t.Run("no tracking number is an error", func(t *testing.T) {
		fixture := newFulfilmentFixture(t, domain.FulfilmentPacked)
		_, err := fixture.svc.TrackingURL(ctx, "so_1")
		if !errors.Is(err, ErrFulfilmentInvalidInput) {
			t.Fatalf("expected invalid input, got %v", err)
		}
	})
}

func TestFulfilmentGetSellerOrderNotFound(t *testing.T) {
	fixture := newFulfilmentFixture(t, domain.FulfilmentPending)

	_, err := fixture.svc.GetSellerOrder(context.Background(), "so_missing")
	if !errors.Is(err, ErrFulfilmentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
