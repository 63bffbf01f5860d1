package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mrshanebarron/repshare/internal/domain"
	"github.com/mrshanebarron/repshare/internal/repositories"
)

var (
	// ErrFulfilmentInvalidInput signals the caller provided invalid data.
	ErrFulfilmentInvalidInput = errors.New("fulfilment: invalid input")
	// ErrFulfilmentNotFound indicates the seller order could not be located.
	ErrFulfilmentNotFound = errors.New("fulfilment: seller order not found")
	// ErrFulfilmentInvalidTransition indicates an illegal status change was attempted.
	ErrFulfilmentInvalidTransition = errors.New("fulfilment: invalid transition")
)

// fulfilmentTransitions is the legal edge set of the handling pipeline.
// Failed is reachable from every non-terminal state.
var fulfilmentTransitions = map[domain.FulfilmentStatus][]domain.FulfilmentStatus{
	domain.FulfilmentPending:         {domain.FulfilmentAssigned, domain.FulfilmentFailed},
	domain.FulfilmentAssigned:        {domain.FulfilmentPicking, domain.FulfilmentFailed},
	domain.FulfilmentPicking:         {domain.FulfilmentPacked, domain.FulfilmentFailed},
	domain.FulfilmentPacked:          {domain.FulfilmentAwaitingCarrier, domain.FulfilmentDispatched, domain.FulfilmentFailed},
	domain.FulfilmentAwaitingCarrier: {domain.FulfilmentDispatched, domain.FulfilmentFailed},
	domain.FulfilmentDispatched:      {domain.FulfilmentDelivered, domain.FulfilmentFailed},
}

// fulfilmentOrderStatus maps a fulfilment state to the commercial status the
// seller order carries while in it.
var fulfilmentOrderStatus = map[domain.FulfilmentStatus]domain.OrderStatus{
	domain.FulfilmentPicking:         domain.OrderStatusProcessing,
	domain.FulfilmentPacked:          domain.OrderStatusProcessing,
	domain.FulfilmentAwaitingCarrier: domain.OrderStatusReadyForPickup,
	domain.FulfilmentDispatched:      domain.OrderStatusInTransit,
	domain.FulfilmentDelivered:       domain.OrderStatusDelivered,
}

// FulfilmentServiceDeps bundles collaborators for the fulfilment state machine.
type FulfilmentServiceDeps struct {
	SellerOrders repositories.SellerOrderRepository
	Orders       repositories.OrderRepository
	Carriers     repositories.CarrierRepository
	Clock        func() time.Time
	IDGenerator  func() string
	Events       OrderEventPublisher
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type fulfilmentService struct {
	sellerOrders repositories.SellerOrderRepository
	orders       repositories.OrderRepository
	carriers     repositories.CarrierRepository
	clock        func() time.Time
	newID        func() string
	events       OrderEventPublisher
	logger       func(context.Context, string, map[string]any)
}

// NewFulfilmentService wires dependencies into a FulfilmentService.
func NewFulfilmentService(deps FulfilmentServiceDeps) (FulfilmentService, error) {
	if deps.SellerOrders == nil {
		return nil, errors.New("fulfilment service: seller order repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("fulfilment service: order repository is required")
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

	return &fulfilmentService{
		sellerOrders: deps.SellerOrders,
		orders:       deps.Orders,
		carriers:     deps.Carriers,
		clock:        func() time.Time { return clock().UTC() },
		newID:        idGen,
		events:       deps.Events,
		logger:       logger,
	}, nil
}

func (s *fulfilmentService) GetSellerOrder(ctx context.Context, sellerOrderID string) (SellerOrder, error) {
	return s.loadSellerOrder(ctx, sellerOrderID)
}

func (s *fulfilmentService) ListSellerOrders(ctx context.Context, query ListSellerOrdersQuery) (domain.CursorPage[SellerOrder], error) {
	page, err := s.sellerOrders.List(ctx, repositories.SellerOrderListFilter{
		OrderID:          strings.TrimSpace(query.OrderID),
		SellerID:         strings.TrimSpace(query.SellerID),
		Status:           query.Status,
		FulfilmentStatus: query.FulfilmentStatus,
		Pagination:       query.Pagination,
	})
	if err != nil {
		return domain.CursorPage[SellerOrder]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *fulfilmentService) Assign(ctx context.Context, cmd FulfilmentCommand) (SellerOrder, error) {
	return s.transition(ctx, cmd.SellerOrderID, domain.FulfilmentAssigned, func(so *domain.SellerOrder, now time.Time) error {
		return nil
	})
}

func (s *fulfilmentService) StartPicking(ctx context.Context, cmd FulfilmentCommand) (SellerOrder, error) {
	return s.transition(ctx, cmd.SellerOrderID, domain.FulfilmentPicking, func(so *domain.SellerOrder, now time.Time) error {
		so.PickedAt = &now
		return nil
	})
}

func (s *fulfilmentService) MarkPacked(ctx context.Context, cmd PackCommand) (SellerOrder, error) {
	return s.transition(ctx, cmd.SellerOrderID, domain.FulfilmentPacked, func(so *domain.SellerOrder, now time.Time) error {
		so.PackedAt = &now
		so.PackerName = strings.TrimSpace(cmd.PackerName)
		so.PackingNotes = strings.TrimSpace(cmd.PackingNotes)
		return nil
	})
}

func (s *fulfilmentService) MarkAwaitingCarrier(ctx context.Context, cmd FulfilmentCommand) (SellerOrder, error) {
	return s.transition(ctx, cmd.SellerOrderID, domain.FulfilmentAwaitingCarrier, func(so *domain.SellerOrder, now time.Time) error {
		return nil
	})
}

func (s *fulfilmentService) Dispatch(ctx context.Context, cmd DispatchCommand) (SellerOrder, error) {
	carrierCode := strings.TrimSpace(cmd.CarrierCode)
	trackingNumber := strings.TrimSpace(cmd.TrackingNumber)
	if carrierCode == "" {
		return SellerOrder{}, fmt.Errorf("%w: carrier code is required", ErrFulfilmentInvalidInput)
	}
	if trackingNumber == "" {
		return SellerOrder{}, fmt.Errorf("%w: tracking number is required", ErrFulfilmentInvalidInput)
	}

	return s.transition(ctx, cmd.SellerOrderID, domain.FulfilmentDispatched, func(so *domain.SellerOrder, now time.Time) error {
		so.DispatchedAt = &now
		so.Carrier = carrierCode
		so.CarrierService = strings.TrimSpace(cmd.CarrierService)
		so.TrackingNumber = trackingNumber
		so.ShippingCost = cmd.ShippingCost
		return nil
	})
}

func (s *fulfilmentService) MarkDelivered(ctx context.Context, cmd DeliverCommand) (SellerOrder, error) {
	return s.transition(ctx, cmd.SellerOrderID, domain.FulfilmentDelivered, func(so *domain.SellerOrder, now time.Time) error {
		so.DeliveredAt = &now
		so.SignatureName = strings.TrimSpace(cmd.SignatureName)
		so.DeliveryProofURL = strings.TrimSpace(cmd.DeliveryProofURL)
		return nil
	})
}

func (s *fulfilmentService) ReportIssue(ctx context.Context, cmd IssueCommand) (SellerOrder, error) {
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		return SellerOrder{}, fmt.Errorf("%w: issue reason is required", ErrFulfilmentInvalidInput)
	}

	return s.transition(ctx, cmd.SellerOrderID, domain.FulfilmentFailed, func(so *domain.SellerOrder, now time.Time) error {
		if so.Metadata == nil {
			so.Metadata = make(map[string]any)
		}
		so.Metadata["issueReason"] = reason
		so.Metadata["issueReportedAt"] = now.Format(time.RFC3339)
		if actor := strings.TrimSpace(cmd.ActorID); actor != "" {
			so.Metadata["issueReportedBy"] = actor
		}
		return nil
	})
}

// TrackingURL resolves the carrier's tracking template for a dispatched
// consignment; an unknown carrier falls back to the raw tracking number.
func (s *fulfilmentService) TrackingURL(ctx context.Context, sellerOrderID string) (string, error) {
	sellerOrder, err := s.loadSellerOrder(ctx, sellerOrderID)
	if err != nil {
		return "", err
	}
	if sellerOrder.TrackingNumber == "" {
		return "", fmt.Errorf("%w: seller order %s has no tracking number", ErrFulfilmentInvalidInput, sellerOrder.ID)
	}
	if s.carriers == nil || sellerOrder.Carrier == "" {
		return sellerOrder.TrackingNumber, nil
	}

	carrier, err := s.carriers.FindByCode(ctx, sellerOrder.Carrier)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return sellerOrder.TrackingNumber, nil
		}
		return "", s.mapRepositoryError(err)
	}
	return carrier.TrackingURL(sellerOrder.TrackingNumber), nil
}

// transition performs one validated status change, stamps it, derives the
// seller order's commercial status, and recomputes the parent order status.
func (s *fulfilmentService) transition(ctx context.Context, sellerOrderID string, target domain.FulfilmentStatus, apply func(*domain.SellerOrder, time.Time) error) (SellerOrder, error) {
	sellerOrder, err := s.loadSellerOrder(ctx, sellerOrderID)
	if err != nil {
		return SellerOrder{}, err
	}

	current := sellerOrder.FulfilmentStatus
	if !slices.Contains(fulfilmentTransitions[current], target) {
		return SellerOrder{}, fmt.Errorf("%w: %s to %s", ErrFulfilmentInvalidTransition, current, target)
	}

	now := s.clock()
	sellerOrder.FulfilmentStatus = target
	sellerOrder.UpdatedAt = now
	if status, ok := fulfilmentOrderStatus[target]; ok && !sellerOrder.Status.IsTerminal() {
		sellerOrder.Status = status
	}
	if err := apply(&sellerOrder, now); err != nil {
		return SellerOrder{}, err
	}

	if err := s.sellerOrders.Update(ctx, sellerOrder); err != nil {
		return SellerOrder{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEventMessage{
		Type:          EventFulfilmentChanged,
		OrderID:       sellerOrder.OrderID,
		SellerOrderID: sellerOrder.ID,
		SellerID:      sellerOrder.SellerID,
		Status:        string(target),
		OccurredAt:    now,
		Metadata:      map[string]any{"previous": string(current)},
	})

	s.recomputeParentStatus(ctx, sellerOrder.OrderID, now)
	return sellerOrder, nil
}

// recomputeParentStatus derives the parent order's status from its partitions
// after every transition. The parent status is never advanced independently,
// so it cannot drift from the seller orders.
func (s *fulfilmentService) recomputeParentStatus(ctx context.Context, orderID string, now time.Time) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		s.logger(ctx, "fulfilment.parent.load.failed", map[string]any{"order": orderID, "error": err.Error()})
		return
	}
	if order.Status.IsTerminal() {
		return
	}

	sellerOrders, err := s.sellerOrders.ListByOrder(ctx, orderID)
	if err != nil {
		s.logger(ctx, "fulfilment.parent.list.failed", map[string]any{"order": orderID, "error": err.Error()})
		return
	}
	if len(sellerOrders) == 0 {
		return
	}

	derived, ok := deriveOrderStatus(sellerOrders)
	if !ok || derived == order.Status {
		return
	}

	order.Status = derived
	order.UpdatedAt = now
	if derived == domain.OrderStatusDelivered {
		order.CompletedAt = &now
	}
	if err := s.orders.Update(ctx, order); err != nil {
		s.logger(ctx, "fulfilment.parent.update.failed", map[string]any{"order": orderID, "error": err.Error()})
		return
	}

	if derived == domain.OrderStatusDelivered {
		s.publishEvent(ctx, OrderEventMessage{
			Type:       EventOrderDelivered,
			OrderID:    order.ID,
			Status:     string(derived),
			OccurredAt: now,
		})
	}
}

// deriveOrderStatus aggregates partition states into the parent status:
// every partition delivered wins outright; every partition at least
// dispatched means the order is in transit; any partition being picked or
// packed means the order is processing.
func deriveOrderStatus(sellerOrders []domain.SellerOrder) (domain.OrderStatus, bool) {
	allDelivered := true
	allDispatchedOrDelivered := true
	anyPickingOrPacked := false

	for _, so := range sellerOrders {
		switch so.FulfilmentStatus {
		case domain.FulfilmentDelivered:
		case domain.FulfilmentDispatched:
			allDelivered = false
		case domain.FulfilmentPicking, domain.FulfilmentPacked:
			allDelivered = false
			allDispatchedOrDelivered = false
			anyPickingOrPacked = true
		default:
			allDelivered = false
			allDispatchedOrDelivered = false
		}
	}

	switch {
	case allDelivered:
		return domain.OrderStatusDelivered, true
	case allDispatchedOrDelivered:
		return domain.OrderStatusInTransit, true
	case anyPickingOrPacked:
		return domain.OrderStatusProcessing, true
	}
	return "", false
}

func (s *fulfilmentService) loadSellerOrder(ctx context.Context, sellerOrderID string) (domain.SellerOrder, error) {
	sellerOrderID = strings.TrimSpace(sellerOrderID)
	if sellerOrderID == "" {
		return domain.SellerOrder{}, fmt.Errorf("%w: seller order id is required", ErrFulfilmentInvalidInput)
	}
	sellerOrder, err := s.sellerOrders.FindByID(ctx, sellerOrderID)
	if err != nil {
		return domain.SellerOrder{}, s.mapRepositoryError(err)
	}
	return sellerOrder, nil
}

func (s *fulfilmentService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrFulfilmentNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("fulfilment: repository unavailable: %w", err)
		}
	}
	return err
}

func (s *fulfilmentService) publishEvent(ctx context.Context, event OrderEventMessage) {
	if s.events == nil {
		return
	}
	event.EventID = "evt_" + s.newID()
	if _, err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "fulfilment.event.publish.failed", map[string]any{
			"type":        event.Type,
			"sellerOrder": event.SellerOrderID,
			"error":       err.Error(),
		})
	}
}
