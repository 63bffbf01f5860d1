package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mrshanebarron/repshare/internal/domain"
	"github.com/mrshanebarron/repshare/internal/platform/httpx"
	"github.com/mrshanebarron/repshare/internal/services"
)

// OrderHandlers exposes the buyer order lifecycle endpoints.
type OrderHandlers struct {
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:split", h.splitOrder)
	r.Post("/{orderID}:confirm", h.confirmOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
}

// Request payloads -----------------------------------------------------------

type createOrderRequest struct {
	BuyerID               string                   `json:"buyer_id"`
	Lines                 []createOrderLineRequest `json:"lines"`
	DeliveryAddress       addressPayload           `json:"delivery_address"`
	RequestedDeliveryDate string                   `json:"requested_delivery_date,omitempty"`
	Notes                 string                   `json:"notes,omitempty"`
	Metadata              map[string]any           `json:"metadata,omitempty"`
}

type createOrderLineRequest struct {
	SKU             string  `json:"sku"`
	Quantity        int     `json:"quantity"`
	DiscountPercent float64 `json:"discount_percent,omitempty"`
	Notes           string  `json:"notes,omitempty"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Handlers -------------------------------------------------------------------

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := readLimitedBody(r, maxBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	cmd := services.CreateOrderCommand{
		BuyerID:         req.BuyerID,
		DeliveryAddress: req.DeliveryAddress.toDomain(),
		Notes:           req.Notes,
		Metadata:        req.Metadata,
	}
	for _, line := range req.Lines {
		cmd.Lines = append(cmd.Lines, services.CreateOrderLine{
			SKU:             line.SKU,
			Quantity:        line.Quantity,
			DiscountPercent: line.DiscountPercent,
			Notes:           line.Notes,
		})
	}
	if raw := strings.TrimSpace(req.RequestedDeliveryDate); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "requested_delivery_date must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.RequestedDeliveryDate = &ts
	}

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	pagination, err := parsePagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListOrders(ctx, services.ListOrdersQuery{
		BuyerID:    strings.TrimSpace(r.URL.Query().Get("buyer_id")),
		Status:     orderStatusFilters(r.URL.Query()["status"]),
		Pagination: pagination,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}
	httpx.WriteJSON(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	detail, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderDetailResponse{
		Order:        buildOrderPayload(detail.Order),
		SellerOrders: buildSellerOrderPayloads(detail.SellerOrders),
	})
}

func (h *OrderHandlers) splitOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	result, err := h.orders.SplitOrder(ctx, services.SplitOrderCommand{OrderID: orderID})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, splitOrderResponse{
		Order:          buildOrderPayload(result.Order),
		SellerOrders:   buildSellerOrderPayloads(result.SellerOrders),
		UnreservedSKUs: result.UnreservedSKUs,
	})
}

func (h *OrderHandlers) confirmOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	detail, err := h.orders.ConfirmOrder(ctx, services.ConfirmOrderCommand{OrderID: orderID})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderDetailResponse{
		Order:        buildOrderPayload(detail.Order),
		SellerOrders: buildSellerOrderPayloads(detail.SellerOrders),
	})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req cancelOrderRequest
	body, err := readLimitedBody(r, maxBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	}

	detail, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		Reason:  req.Reason,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderDetailResponse{
		Order:        buildOrderPayload(detail.Order),
		SellerOrders: buildSellerOrderPayloads(detail.SellerOrders),
	})
}

// Error mapping --------------------------------------------------------------

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderAlreadyFinal):
		httpx.WriteError(ctx, w, httpx.NewError("order_already_final", "order has reached a terminal status", http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrReservationInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
}

// Response payloads ----------------------------------------------------------

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderDetailResponse struct {
	Order        orderPayload         `json:"order"`
	SellerOrders []sellerOrderPayload `json:"seller_orders"`
}

type splitOrderResponse struct {
	Order          orderPayload         `json:"order"`
	SellerOrders   []sellerOrderPayload `json:"seller_orders"`
	UnreservedSKUs map[string][]string  `json:"unreserved_skus,omitempty"`
}

type orderSummaryPayload struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number"`
	BuyerID     string `json:"buyer_id"`
	Status      string `json:"status"`
	GrandTotal  int64  `json:"grand_total"`
	CreatedAt   string `json:"created_at"`
}

type orderPayload struct {
	ID                    string             `json:"id"`
	OrderNumber           string             `json:"order_number"`
	BuyerID               string             `json:"buyer_id"`
	Status                string             `json:"status"`
	Lines                 []orderLinePayload `json:"lines"`
	Subtotal              int64              `json:"subtotal"`
	DiscountTotal         int64              `json:"discount_total"`
	TaxTotal              int64              `json:"tax_total"`
	PlatformFee           int64              `json:"platform_fee"`
	GrandTotal            int64              `json:"grand_total"`
	Notes                 string             `json:"notes,omitempty"`
	DeliveryAddress       *addressPayload    `json:"delivery_address,omitempty"`
	RequestedDeliveryDate string             `json:"requested_delivery_date,omitempty"`
	ConfirmedAt           string             `json:"confirmed_at,omitempty"`
	CompletedAt           string             `json:"completed_at,omitempty"`
	CancelReason          string             `json:"cancel_reason,omitempty"`
	Metadata              map[string]any     `json:"metadata,omitempty"`
	CreatedAt             string             `json:"created_at"`
	UpdatedAt             string             `json:"updated_at,omitempty"`
}

type orderLinePayload struct {
	ID              string  `json:"id"`
	SellerOrderID   string  `json:"seller_order_id,omitempty"`
	ProductID       string  `json:"product_id"`
	SellerID        string  `json:"seller_id"`
	SKU             string  `json:"sku"`
	ProductName     string  `json:"product_name,omitempty"`
	Quantity        int     `json:"quantity"`
	UnitPrice       int64   `json:"unit_price"`
	DiscountPercent float64 `json:"discount_percent,omitempty"`
	DiscountAmount  int64   `json:"discount_amount,omitempty"`
	TaxAmount       int64   `json:"tax_amount,omitempty"`
	LineTotal       int64   `json:"line_total"`
	Notes           string  `json:"notes,omitempty"`
}

type addressPayload struct {
	Line1    string `json:"line1,omitempty"`
	City     string `json:"city,omitempty"`
	State    string `json:"state,omitempty"`
	Postcode string `json:"postcode,omitempty"`
}

func (p addressPayload) toDomain() domain.Address {
	return domain.Address{
		Line1:    strings.TrimSpace(p.Line1),
		City:     strings.TrimSpace(p.City),
		State:    strings.TrimSpace(p.State),
		Postcode: strings.TrimSpace(p.Postcode),
	}
}

func buildAddressPayload(address domain.Address) *addressPayload {
	if address == (domain.Address{}) {
		return nil
	}
	return &addressPayload{
		Line1:    address.Line1,
		City:     address.City,
		State:    address.State,
		Postcode: address.Postcode,
	}
}

func buildOrderSummary(order domain.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		BuyerID:     order.BuyerID,
		Status:      string(order.Status),
		GrandTotal:  order.GrandTotal,
		CreatedAt:   formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order domain.Order) orderPayload {
	lines := make([]orderLinePayload, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, orderLinePayload{
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
		})
	}

	payload := orderPayload{
		ID:                    order.ID,
		OrderNumber:           order.OrderNumber,
		BuyerID:               order.BuyerID,
		Status:                string(order.Status),
		Lines:                 lines,
		Subtotal:              order.Subtotal,
		DiscountTotal:         order.DiscountTotal,
		TaxTotal:              order.TaxTotal,
		PlatformFee:           order.PlatformFee,
		GrandTotal:            order.GrandTotal,
		Notes:                 order.Notes,
		DeliveryAddress:       buildAddressPayload(order.DeliveryAddress),
		RequestedDeliveryDate: formatTimePtr(order.RequestedDeliveryDate),
		ConfirmedAt:           formatTimePtr(order.ConfirmedAt),
		CompletedAt:           formatTimePtr(order.CompletedAt),
		Metadata:              order.Metadata,
		CreatedAt:             formatTime(order.CreatedAt),
		UpdatedAt:             formatTime(order.UpdatedAt),
	}
	if order.CancelReason != nil {
		payload.CancelReason = *order.CancelReason
	}
	return payload
}
