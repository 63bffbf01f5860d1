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
	orderIDPrefix       = "ord_"
	sellerOrderIDPrefix = "so_"
	orderLineIDPrefix   = "lin_"

	releaseReasonCancelled   = "cancelled"
	releaseReasonSplitFailed = "split_failed"

	externalStatusSubmitted = "submitted"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates the operation is illegal for the order's status.
	ErrOrderInvalidState = errors.New("order: invalid status")
	// ErrOrderAlreadyFinal indicates the order reached a terminal status.
	ErrOrderAlreadyFinal = errors.New("order: already final")
	// ErrOrderConflict indicates duplicates or concurrent modification.
	ErrOrderConflict = errors.New("order: conflict")
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders       repositories.OrderRepository
	SellerOrders repositories.SellerOrderRepository
	Inventory    repositories.InventoryRepository
	Products     repositories.ProductRepository
	Sellers      repositories.SellerRepository
	Warehouses   repositories.WarehouseRepository
	Reservations ReservationService
	Wholesale    WholesaleRouter
	UnitOfWork   repositories.UnitOfWork

	DefaultPlatformFeePercent float64

	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders       repositories.OrderRepository
	sellerOrders repositories.SellerOrderRepository
	inventory    repositories.InventoryRepository
	products     repositories.ProductRepository
	sellers      repositories.SellerRepository
	warehouses   repositories.WarehouseRepository
	reservations ReservationService
	wholesale    WholesaleRouter
	unitOfWork   repositories.UnitOfWork

	defaultFeePercent float64

	clock  func() time.Time
	newID  func() string
	events OrderEventPublisher
	logger func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.SellerOrders == nil {
		return nil, errors.New("order service: seller order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Sellers == nil {
		return nil, errors.New("order service: seller repository is required")
	}
	if deps.Warehouses == nil {
		return nil, errors.New("order service: warehouse repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory repository is required")
	}
	if deps.Reservations == nil {
		return nil, errors.New("order service: reservation service is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
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

	return &orderService{
		orders:            deps.Orders,
		sellerOrders:      deps.SellerOrders,
		inventory:         deps.Inventory,
		products:          deps.Products,
		sellers:           deps.Sellers,
		warehouses:        deps.Warehouses,
		reservations:      deps.Reservations,
		wholesale:         deps.Wholesale,
		unitOfWork:        unit,
		defaultFeePercent: deps.DefaultPlatformFeePercent,
		clock:             func() time.Time { return clock().UTC() },
		newID:             idGen,
		events:            deps.Events,
		logger:            logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	buyerID := strings.TrimSpace(cmd.BuyerID)
	if buyerID == "" {
		return Order{}, fmt.Errorf("%w: buyer id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Lines) == 0 {
		return Order{}, fmt.Errorf("%w: at least one line is required", ErrOrderInvalidInput)
	}

	now := s.clock()
	orderID := orderIDPrefix + s.newID()

	lines := make([]domain.OrderLine, 0, len(cmd.Lines))
	for i, input := range cmd.Lines {
		sku := strings.TrimSpace(input.SKU)
		if sku == "" {
			return Order{}, fmt.Errorf("%w: line %d: sku is required", ErrOrderInvalidInput, i)
		}
		if input.Quantity <= 0 {
			return Order{}, fmt.Errorf("%w: line %d: quantity must be positive", ErrOrderInvalidInput, i)
		}
		if input.DiscountPercent < 0 || input.DiscountPercent > 100 {
			return Order{}, fmt.Errorf("%w: line %d: discount percent out of range", ErrOrderInvalidInput, i)
		}

		product, err := s.products.FindBySKU(ctx, sku)
		if err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				return Order{}, fmt.Errorf("%w: unknown sku %s", ErrOrderInvalidInput, sku)
			}
			return Order{}, s.mapRepositoryError(err)
		}
		if !product.Active {
			return Order{}, fmt.Errorf("%w: sku %s is not orderable", ErrOrderInvalidInput, sku)
		}

		amounts := CalculateLineAmounts(input.Quantity, product.UnitPrice, input.DiscountPercent)
		lines = append(lines, domain.OrderLine{
			ID:              orderLineIDPrefix + s.newID(),
			ProductID:       product.ID,
			SellerID:        product.SellerID,
			SKU:             product.SKU,
			ProductName:     product.Name,
			Quantity:        input.Quantity,
			UnitPrice:       product.UnitPrice,
			DiscountPercent: input.DiscountPercent,
			DiscountAmount:  amounts.DiscountAmount,
			LineTotal:       amounts.LineTotal,
			Notes:           strings.TrimSpace(input.Notes),
		})
	}

	totals := CalculateOrderTotals(lines, nil)
	order := domain.Order{
		ID:                    orderID,
		OrderNumber:           s.orderNumber(now, orderID),
		BuyerID:               buyerID,
		Status:                domain.OrderStatusDraft,
		Lines:                 lines,
		Subtotal:              totals.Subtotal,
		DiscountTotal:         totals.DiscountTotal,
		TaxTotal:              totals.TaxTotal,
		GrandTotal:            totals.GrandTotal,
		Notes:                 strings.TrimSpace(cmd.Notes),
		DeliveryAddress:       cmd.DeliveryAddress,
		RequestedDeliveryDate: cmd.RequestedDeliveryDate,
		Metadata:              cmd.Metadata,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEventMessage{
		Type:       EventOrderCreated,
		OrderID:    order.ID,
		Status:     string(order.Status),
		OccurredAt: now,
	})
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (OrderDetail, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return OrderDetail{}, err
	}
	sellerOrders, err := s.sellerOrders.ListByOrder(ctx, order.ID)
	if err != nil {
		return OrderDetail{}, s.mapRepositoryError(err)
	}
	return OrderDetail{Order: order, SellerOrders: sellerOrders}, nil
}

func (s *orderService) ListOrders(ctx context.Context, query ListOrdersQuery) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		BuyerID:    strings.TrimSpace(query.BuyerID),
		Status:     query.Status,
		Pagination: query.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// SplitOrder partitions a draft order into one seller order per distinct
// seller, selects a fulfilling warehouse per partition, and attempts a hold
// per line. Lines that cannot be stocked stay assigned to their seller order
// as a tracked degraded state. A hard reservation failure aborts the split
// and releases any holds already placed, leaving the order unmodified.
func (s *orderService) SplitOrder(ctx context.Context, cmd SplitOrderCommand) (SplitOrderResult, error) {
	order, err := s.loadOrder(ctx, cmd.OrderID)
	if err != nil {
		return SplitOrderResult{}, err
	}
	if order.Status.IsTerminal() {
		return SplitOrderResult{}, fmt.Errorf("%w: order %s is %s", ErrOrderAlreadyFinal, order.ID, order.Status)
	}
	if order.Status != domain.OrderStatusDraft && order.Status != domain.OrderStatusPending {
		return SplitOrderResult{}, fmt.Errorf("%w: order %s cannot be split from %s", ErrOrderInvalidState, order.ID, order.Status)
	}
	if len(order.Lines) == 0 {
		return SplitOrderResult{}, fmt.Errorf("%w: order %s has no lines", ErrOrderInvalidInput, order.ID)
	}

	existing, err := s.sellerOrders.ListByOrder(ctx, order.ID)
	if err != nil {
		return SplitOrderResult{}, s.mapRepositoryError(err)
	}
	if len(existing) > 0 {
		return SplitOrderResult{}, fmt.Errorf("%w: order %s is already split", ErrOrderConflict, order.ID)
	}

	warehouses, err := s.warehouses.ListActive(ctx)
	if err != nil {
		return SplitOrderResult{}, s.mapRepositoryError(err)
	}

	lookup, err := s.buildStockLookup(ctx, order.Lines)
	if err != nil {
		return SplitOrderResult{}, err
	}

	now := s.clock()
	groups := groupLinesBySeller(order.Lines)

	var (
		newSellerOrders []domain.SellerOrder
		sellerTotals    []SellerTotals
		unreserved      = make(map[string][]string)
		placedOrderID   = order.ID
	)

	for seq, group := range groups {
		seller, err := s.sellers.FindByID(ctx, group.sellerID)
		if err != nil {
			s.releasePlacedHolds(ctx, placedOrderID)
			return SplitOrderResult{}, s.mapRepositoryError(err)
		}

		selected := SelectWarehouse(warehouses, demandsForGroup(group.lines), lookup)
		sellerOrderID := sellerOrderIDPrefix + s.newID()

		for i := range group.lines {
			group.lines[i].SellerOrderID = sellerOrderID
		}

		var unreservedSKUs []string
		if selected == nil {
			for _, line := range group.lines {
				unreservedSKUs = append(unreservedSKUs, line.SKU)
			}
			s.logger(ctx, "order.split.no_warehouse", map[string]any{
				"order":  order.ID,
				"seller": group.sellerID,
			})
		} else {
			for _, line := range group.lines {
				_, err := s.reservations.Reserve(ctx, ReserveCommand{
					OrderID:       order.ID,
					SellerOrderID: sellerOrderID,
					ProductID:     line.ProductID,
					WarehouseID:   selected.ID,
					Quantity:      line.Quantity,
				})
				if err != nil {
					if errors.Is(err, ErrInsufficientStock) || errors.Is(err, ErrStockNotFound) {
						unreservedSKUs = append(unreservedSKUs, line.SKU)
						s.logger(ctx, "order.split.line_unreserved", map[string]any{
							"order":     order.ID,
							"seller":    group.sellerID,
							"sku":       line.SKU,
							"warehouse": selected.ID,
							"qty":       line.Quantity,
							"error":     err.Error(),
						})
						continue
					}
					s.releasePlacedHolds(ctx, placedOrderID)
					return SplitOrderResult{}, err
				}
			}
		}

		totals := CalculateSellerTotals(group.lines, seller.CommissionRate, PlatformFeePercent(seller, s.defaultFeePercent))
		sellerTotals = append(sellerTotals, totals)

		sellerOrder := domain.SellerOrder{
			ID:               sellerOrderID,
			OrderNumber:      fmt.Sprintf("%s-%02d", order.OrderNumber, seq+1),
			OrderID:          order.ID,
			SellerID:         group.sellerID,
			Status:           domain.OrderStatusPending,
			FulfilmentStatus: domain.FulfilmentPending,
			Subtotal:         totals.Subtotal,
			DiscountTotal:    totals.DiscountTotal,
			TaxTotal:         totals.TaxTotal,
			CommissionAmount: totals.CommissionAmount,
			PlatformFee:      totals.PlatformFee,
			GrandTotal:       totals.GrandTotal,
			NetToSeller:      totals.NetToSeller,
			UnreservedSKUs:   unreservedSKUs,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if selected != nil {
			sellerOrder.WarehouseID = selected.ID
			sellerOrder.LogisticsID = selected.LogisticsID
		}
		newSellerOrders = append(newSellerOrders, sellerOrder)
		if len(unreservedSKUs) > 0 {
			unreserved[sellerOrderID] = unreservedSKUs
		}
	}

	// Reassemble the order's lines in their original sequence, now carrying
	// seller order assignments.
	updatedLines := make([]domain.OrderLine, 0, len(order.Lines))
	for _, group := range groups {
		updatedLines = append(updatedLines, group.lines...)
	}
	orderLinesInOriginalOrder(order.Lines, updatedLines)

	totals := CalculateOrderTotals(order.Lines, sellerTotals)
	order.Subtotal = totals.Subtotal
	order.DiscountTotal = totals.DiscountTotal
	order.TaxTotal = totals.TaxTotal
	order.PlatformFee = totals.PlatformFee
	order.GrandTotal = totals.GrandTotal
	order.Status = domain.OrderStatusPending
	order.UpdatedAt = now

	// All seller-order inserts and the order update land in one transaction:
	// either the whole split persists or none of it does, so an aborted split
	// is re-runnable after the compensating release below.
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		for _, sellerOrder := range newSellerOrders {
			if err := s.sellerOrders.Insert(txCtx, sellerOrder); err != nil {
				return err
			}
		}
		return s.orders.Update(txCtx, order)
	})
	if err != nil {
		s.releasePlacedHolds(ctx, placedOrderID)
		return SplitOrderResult{}, s.mapRepositoryError(err)
	}

	subOrderIDs := make([]string, 0, len(newSellerOrders))
	for _, so := range newSellerOrders {
		subOrderIDs = append(subOrderIDs, so.ID)
	}
	s.publishEvent(ctx, OrderEventMessage{
		Type:       EventOrderSplit,
		OrderID:    order.ID,
		Status:     string(order.Status),
		OccurredAt: now,
		Metadata:   map[string]any{"sellerOrderIds": subOrderIDs},
	})

	return SplitOrderResult{
		Order:          order,
		SellerOrders:   newSellerOrders,
		UnreservedSKUs: unreserved,
	}, nil
}

// ConfirmOrder commits the order's holds, moves every partition into
// fulfilment, and submits each partition to the wholesale network. A
// submission failure is scoped to its one seller order.
func (s *orderService) ConfirmOrder(ctx context.Context, cmd ConfirmOrderCommand) (OrderDetail, error) {
	order, err := s.loadOrder(ctx, cmd.OrderID)
	if err != nil {
		return OrderDetail{}, err
	}
	if order.Status.IsTerminal() {
		return OrderDetail{}, fmt.Errorf("%w: order %s is %s", ErrOrderAlreadyFinal, order.ID, order.Status)
	}
	if order.Status != domain.OrderStatusPending {
		return OrderDetail{}, fmt.Errorf("%w: order %s cannot be confirmed from %s", ErrOrderInvalidState, order.ID, order.Status)
	}

	sellerOrders, err := s.sellerOrders.ListByOrder(ctx, order.ID)
	if err != nil {
		return OrderDetail{}, s.mapRepositoryError(err)
	}
	if len(sellerOrders) == 0 {
		return OrderDetail{}, fmt.Errorf("%w: order %s has not been split", ErrOrderInvalidState, order.ID)
	}

	committed, err := s.reservations.CommitOrder(ctx, order.ID)
	if err != nil {
		return OrderDetail{}, err
	}

	now := s.clock()
	order.Status = domain.OrderStatusConfirmed
	order.ConfirmedAt = &now
	order.UpdatedAt = now

	for i := range sellerOrders {
		if sellerOrders[i].Status.IsTerminal() {
			continue
		}
		sellerOrders[i].Status = domain.OrderStatusConfirmed
		if sellerOrders[i].FulfilmentStatus == domain.FulfilmentPending {
			sellerOrders[i].FulfilmentStatus = domain.FulfilmentAssigned
		}
		sellerOrders[i].UpdatedAt = now
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		for _, sellerOrder := range sellerOrders {
			if err := s.sellerOrders.Update(txCtx, sellerOrder); err != nil {
				return err
			}
		}
		return s.orders.Update(txCtx, order)
	})
	if err != nil {
		return OrderDetail{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEventMessage{
		Type:       EventOrderConfirmed,
		OrderID:    order.ID,
		Status:     string(order.Status),
		OccurredAt: now,
		Metadata:   map[string]any{"reservationsCommitted": committed},
	})

	s.submitToWholesale(ctx, sellerOrders)
	return OrderDetail{Order: order, SellerOrders: sellerOrders}, nil
}

// CancelOrder releases every outstanding hold and terminates the order and
// its partitions. Safe to run concurrently with the expiry sweep: both
// converge on released holds.
func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (OrderDetail, error) {
	order, err := s.loadOrder(ctx, cmd.OrderID)
	if err != nil {
		return OrderDetail{}, err
	}
	if order.Status.IsTerminal() {
		return OrderDetail{}, fmt.Errorf("%w: order %s is %s", ErrOrderAlreadyFinal, order.ID, order.Status)
	}

	released, err := s.reservations.ReleaseOrder(ctx, order.ID, releaseReasonCancelled)
	if err != nil {
		return OrderDetail{}, err
	}

	sellerOrders, err := s.sellerOrders.ListByOrder(ctx, order.ID)
	if err != nil {
		return OrderDetail{}, s.mapRepositoryError(err)
	}

	now := s.clock()
	reason := strings.TrimSpace(cmd.Reason)
	order.Status = domain.OrderStatusCancelled
	if reason != "" {
		order.CancelReason = &reason
	}
	order.UpdatedAt = now

	for i := range sellerOrders {
		if sellerOrders[i].Status.IsTerminal() {
			continue
		}
		sellerOrders[i].Status = domain.OrderStatusCancelled
		if !sellerOrders[i].FulfilmentStatus.IsTerminal() {
			sellerOrders[i].FulfilmentStatus = domain.FulfilmentFailed
		}
		sellerOrders[i].UpdatedAt = now
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		for _, sellerOrder := range sellerOrders {
			if err := s.sellerOrders.Update(txCtx, sellerOrder); err != nil {
				return err
			}
		}
		return s.orders.Update(txCtx, order)
	})
	if err != nil {
		return OrderDetail{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEventMessage{
		Type:       EventOrderCancelled,
		OrderID:    order.ID,
		Status:     string(order.Status),
		OccurredAt: now,
		Metadata:   map[string]any{"reservationsReleased": released, "reason": reason},
	})
	return OrderDetail{Order: order, SellerOrders: sellerOrders}, nil
}

// Helpers --------------------------------------------------------------------

type sellerGroup struct {
	sellerID string
	lines    []domain.OrderLine
}

// groupLinesBySeller partitions lines per seller, preserving the order of
// first appearance so selection and numbering stay deterministic.
func groupLinesBySeller(lines []domain.OrderLine) []sellerGroup {
	index := make(map[string]int)
	var groups []sellerGroup
	for _, line := range lines {
		i, ok := index[line.SellerID]
		if !ok {
			i = len(groups)
			index[line.SellerID] = i
			groups = append(groups, sellerGroup{sellerID: line.SellerID})
		}
		groups[i].lines = append(groups[i].lines, line)
	}
	return groups
}

func demandsForGroup(lines []domain.OrderLine) []WarehouseDemand {
	index := make(map[string]int)
	var demands []WarehouseDemand
	for _, line := range lines {
		if i, ok := index[line.ProductID]; ok {
			demands[i].Quantity += line.Quantity
			continue
		}
		index[line.ProductID] = len(demands)
		demands = append(demands, WarehouseDemand{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	return demands
}

// buildStockLookup snapshots availability for every product on the order so
// warehouse scoring works off one consistent read.
func (s *orderService) buildStockLookup(ctx context.Context, lines []domain.OrderLine) (StockLookup, error) {
	availability := make(map[string]map[string]int)
	for _, line := range lines {
		if _, done := availability[line.ProductID]; done {
			continue
		}
		levels, err := s.inventory.ListStockForProduct(ctx, line.ProductID)
		if err != nil {
			return nil, s.mapRepositoryError(err)
		}
		byWarehouse := make(map[string]int, len(levels))
		for _, level := range levels {
			byWarehouse[level.WarehouseID] = level.Available
		}
		availability[line.ProductID] = byWarehouse
	}

	return func(productID, warehouseID string) (int, bool) {
		byWarehouse, ok := availability[productID]
		if !ok {
			return 0, false
		}
		available, ok := byWarehouse[warehouseID]
		return available, ok
	}, nil
}

// orderLinesInOriginalOrder copies seller order assignments from updated back
// onto original, matched by line ID, keeping the order's line sequence stable.
func orderLinesInOriginalOrder(original []domain.OrderLine, updated []domain.OrderLine) {
	byID := make(map[string]string, len(updated))
	for _, line := range updated {
		byID[line.ID] = line.SellerOrderID
	}
	for i := range original {
		if soID, ok := byID[original[i].ID]; ok {
			original[i].SellerOrderID = soID
		}
	}
}

func (s *orderService) submitToWholesale(ctx context.Context, sellerOrders []domain.SellerOrder) {
	if s.wholesale == nil {
		return
	}
	for i := range sellerOrders {
		if sellerOrders[i].Status != domain.OrderStatusConfirmed {
			continue
		}
		ref, err := s.wholesale.SubmitOrder(ctx, sellerOrders[i])
		now := s.clock()
		if err != nil {
			sellerOrders[i].FulfilmentStatus = domain.FulfilmentFailed
			if sellerOrders[i].Metadata == nil {
				sellerOrders[i].Metadata = make(map[string]any)
			}
			sellerOrders[i].Metadata["wholesaleError"] = err.Error()
			sellerOrders[i].UpdatedAt = now
			s.logger(ctx, "order.wholesale.submit.failed", map[string]any{
				"order":       sellerOrders[i].OrderID,
				"sellerOrder": sellerOrders[i].ID,
				"error":       err.Error(),
			})
		} else {
			sellerOrders[i].ExternalRef = ref
			sellerOrders[i].ExternalStatus = externalStatusSubmitted
			sellerOrders[i].ExternalSubmittedAt = &now
			sellerOrders[i].UpdatedAt = now
		}
		if err := s.sellerOrders.Update(ctx, sellerOrders[i]); err != nil {
			s.logger(ctx, "order.wholesale.persist.failed", map[string]any{
				"sellerOrder": sellerOrders[i].ID,
				"error":       err.Error(),
			})
		}
	}
}

// releasePlacedHolds is the compensation path for an aborted split.
func (s *orderService) releasePlacedHolds(ctx context.Context, orderID string) {
	if _, err := s.reservations.ReleaseOrder(ctx, orderID, releaseReasonSplitFailed); err != nil {
		s.logger(ctx, "order.split.compensation.failed", map[string]any{
			"order": orderID,
			"error": err.Error(),
		})
	}
}

func (s *orderService) loadOrder(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}
	return err
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) orderNumber(now time.Time, orderID string) string {
	suffix := strings.TrimPrefix(orderID, orderIDPrefix)
	if len(suffix) > 8 {
		suffix = suffix[len(suffix)-8:]
	}
	return fmt.Sprintf("RS-%d-%s", now.Year(), strings.ToUpper(suffix))
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEventMessage) {
	if s.events == nil {
		return
	}
	event.EventID = "evt_" + s.newID()
	if _, err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
