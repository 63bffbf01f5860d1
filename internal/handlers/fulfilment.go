package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mrshanebarron/repshare/internal/domain"
	"github.com/mrshanebarron/repshare/internal/platform/httpx"
	"github.com/mrshanebarron/repshare/internal/services"
)

// FulfilmentHandlers exposes the seller order handling pipeline.
type FulfilmentHandlers struct {
	fulfilment services.FulfilmentService
}

// NewFulfilmentHandlers constructs a new FulfilmentHandlers instance.
func NewFulfilmentHandlers(fulfilment services.FulfilmentService) *FulfilmentHandlers {
	return &FulfilmentHandlers{fulfilment: fulfilment}
}

// Routes registers the /seller-orders endpoints.
func (h *FulfilmentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listSellerOrders)
	r.Get("/{sellerOrderID}", h.getSellerOrder)
	r.Get("/{sellerOrderID}/tracking", h.trackingURL)
	r.Post("/{sellerOrderID}:assign", h.assign)
	r.Post("/{sellerOrderID}:pick", h.startPicking)
	r.Post("/{sellerOrderID}:pack", h.markPacked)
	r.Post("/{sellerOrderID}:awaiting-carrier", h.markAwaitingCarrier)
	r.Post("/{sellerOrderID}:dispatch", h.dispatch)
	r.Post("/{sellerOrderID}:deliver", h.markDelivered)
	r.Post("/{sellerOrderID}:issue", h.reportIssue)
}

// Request payloads -----------------------------------------------------------

type packRequest struct {
	PackerName   string `json:"packer_name,omitempty"`
	PackingNotes string `json:"packing_notes,omitempty"`
}

type dispatchRequest struct {
	CarrierCode    string `json:"carrier_code"`
	CarrierService string `json:"carrier_service,omitempty"`
	TrackingNumber string `json:"tracking_number"`
	ShippingCost   int64  `json:"shipping_cost,omitempty"`
}

type deliverRequest struct {
	SignatureName    string `json:"signature_name,omitempty"`
	DeliveryProofURL string `json:"delivery_proof_url,omitempty"`
}

type issueRequest struct {
	Reason string `json:"reason"`
}

// Handlers -------------------------------------------------------------------

func (h *FulfilmentHandlers) listSellerOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	pagination, err := parsePagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	query := r.URL.Query()
	page, err := h.fulfilment.ListSellerOrders(ctx, services.ListSellerOrdersQuery{
		OrderID:          strings.TrimSpace(query.Get("order_id")),
		SellerID:         strings.TrimSpace(query.Get("seller_id")),
		Status:           orderStatusFilters(query["status"]),
		FulfilmentStatus: fulfilmentStatusFilters(query["fulfilment_status"]),
		Pagination:       pagination,
	})
	if err != nil {
		writeFulfilmentError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, sellerOrderListResponse{
		Items:         buildSellerOrderPayloads(page.Items),
		NextPageToken: page.NextPageToken,
	})
}

func (h *FulfilmentHandlers) getSellerOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := sellerOrderID(ctx, w, r)
	if !ok {
		return
	}

	sellerOrder, err := h.fulfilment.GetSellerOrder(ctx, id)
	if err != nil {
		writeFulfilmentError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sellerOrderResponse{SellerOrder: buildSellerOrderPayload(sellerOrder)})
}

func (h *FulfilmentHandlers) trackingURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := sellerOrderID(ctx, w, r)
	if !ok {
		return
	}

	url, err := h.fulfilment.TrackingURL(ctx, id)
	if err != nil {
		writeFulfilmentError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"tracking_url": url})
}

func (h *FulfilmentHandlers) assign(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, h.fulfilment.Assign)
}

func (h *FulfilmentHandlers) startPicking(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, h.fulfilment.StartPicking)
}

func (h *FulfilmentHandlers) markAwaitingCarrier(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, h.fulfilment.MarkAwaitingCarrier)
}

func (h *FulfilmentHandlers) simpleTransition(w http.ResponseWriter, r *http.Request, op func(context.Context, services.FulfilmentCommand) (services.SellerOrder, error)) {
	ctx := r.Context()
	id, ok := sellerOrderID(ctx, w, r)
	if !ok {
		return
	}

	sellerOrder, err := op(ctx, services.FulfilmentCommand{SellerOrderID: id})
	if err != nil {
		writeFulfilmentError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sellerOrderResponse{SellerOrder: buildSellerOrderPayload(sellerOrder)})
}

func (h *FulfilmentHandlers) markPacked(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := sellerOrderID(ctx, w, r)
	if !ok {
		return
	}

	var req packRequest
	if !decodeOptionalBody(ctx, w, r, &req) {
		return
	}

	sellerOrder, err := h.fulfilment.MarkPacked(ctx, services.PackCommand{
		SellerOrderID: id,
		PackerName:    req.PackerName,
		PackingNotes:  req.PackingNotes,
	})
	if err != nil {
		writeFulfilmentError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sellerOrderResponse{SellerOrder: buildSellerOrderPayload(sellerOrder)})
}

func (h *FulfilmentHandlers) dispatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := sellerOrderID(ctx, w, r)
	if !ok {
		return
	}

	var req dispatchRequest
	if !decodeOptionalBody(ctx, w, r, &req) {
		return
	}

	sellerOrder, err := h.fulfilment.Dispatch(ctx, services.DispatchCommand{
		SellerOrderID:  id,
		CarrierCode:    req.CarrierCode,
		CarrierService: req.CarrierService,
		TrackingNumber: req.TrackingNumber,
		ShippingCost:   req.ShippingCost,
	})
	if err != nil {
		writeFulfilmentError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sellerOrderResponse{SellerOrder: buildSellerOrderPayload(sellerOrder)})
}

func (h *FulfilmentHandlers) markDelivered(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := sellerOrderID(ctx, w, r)
	if !ok {
		return
	}

	var req deliverRequest
	if !decodeOptionalBody(ctx, w, r, &req) {
		return
	}

	sellerOrder, err := h.fulfilment.MarkDelivered(ctx, services.DeliverCommand{
		SellerOrderID:    id,
		SignatureName:    req.SignatureName,
		DeliveryProofURL: req.DeliveryProofURL,
	})
	if err != nil {
		writeFulfilmentError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sellerOrderResponse{SellerOrder: buildSellerOrderPayload(sellerOrder)})
}

func (h *FulfilmentHandlers) reportIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := sellerOrderID(ctx, w, r)
	if !ok {
		return
	}

	var req issueRequest
	if !decodeOptionalBody(ctx, w, r, &req) {
		return
	}

	sellerOrder, err := h.fulfilment.ReportIssue(ctx, services.IssueCommand{
		SellerOrderID: id,
		Reason:        req.Reason,
	})
	if err != nil {
		writeFulfilmentError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sellerOrderResponse{SellerOrder: buildSellerOrderPayload(sellerOrder)})
}

// Helpers --------------------------------------------------------------------

func sellerOrderID(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "sellerOrderID"))
	if id == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "seller order id is required", http.StatusBadRequest))
		return "", false
	}
	return id, true
}

func decodeOptionalBody(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) bool {
	body, err := readLimitedBody(r, maxBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, out); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func writeFulfilmentError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrFulfilmentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrFulfilmentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("seller_order_not_found", "seller order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrFulfilmentInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}

// Response payloads ----------------------------------------------------------

type sellerOrderListResponse struct {
	Items         []sellerOrderPayload `json:"items"`
	NextPageToken string               `json:"next_page_token,omitempty"`
}

type sellerOrderResponse struct {
	SellerOrder sellerOrderPayload `json:"seller_order"`
}

type sellerOrderPayload struct {
	ID               string   `json:"id"`
	OrderNumber      string   `json:"order_number"`
	OrderID          string   `json:"order_id"`
	SellerID         string   `json:"seller_id"`
	WarehouseID      string   `json:"warehouse_id,omitempty"`
	LogisticsID      string   `json:"logistics_id,omitempty"`
	Status           string   `json:"status"`
	FulfilmentStatus string   `json:"fulfilment_status"`
	Subtotal         int64    `json:"subtotal"`
	DiscountTotal    int64    `json:"discount_total"`
	TaxTotal         int64    `json:"tax_total"`
	CommissionAmount int64    `json:"commission_amount"`
	PlatformFee      int64    `json:"platform_fee"`
	GrandTotal       int64    `json:"grand_total"`
	NetToSeller      int64    `json:"net_to_seller"`
	UnreservedSKUs   []string `json:"unreserved_skus,omitempty"`

	Carrier        string `json:"carrier,omitempty"`
	CarrierService string `json:"carrier_service,omitempty"`
	TrackingNumber string `json:"tracking_number,omitempty"`
	ShippingCost   int64  `json:"shipping_cost,omitempty"`

	PickedAt     string `json:"picked_at,omitempty"`
	PackedAt     string `json:"packed_at,omitempty"`
	DispatchedAt string `json:"dispatched_at,omitempty"`
	DeliveredAt  string `json:"delivered_at,omitempty"`
	PackerName   string `json:"packer_name,omitempty"`

	SignatureName    string `json:"signature_name,omitempty"`
	DeliveryProofURL string `json:"delivery_proof_url,omitempty"`

	ExternalRef         string `json:"external_ref,omitempty"`
	ExternalStatus      string `json:"external_status,omitempty"`
	ExternalSubmittedAt string `json:"external_submitted_at,omitempty"`

	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at,omitempty"`
}

func buildSellerOrderPayloads(sellerOrders []domain.SellerOrder) []sellerOrderPayload {
	out := make([]sellerOrderPayload, 0, len(sellerOrders))
	for _, so := range sellerOrders {
		out = append(out, buildSellerOrderPayload(so))
	}
	return out
}

func buildSellerOrderPayload(so domain.SellerOrder) sellerOrderPayload {
	return sellerOrderPayload{
		ID:                  so.ID,
		OrderNumber:         so.OrderNumber,
		OrderID:             so.OrderID,
		SellerID:            so.SellerID,
		WarehouseID:         so.WarehouseID,
		LogisticsID:         so.LogisticsID,
		Status:              string(so.Status),
		FulfilmentStatus:    string(so.FulfilmentStatus),
		Subtotal:            so.Subtotal,
		DiscountTotal:       so.DiscountTotal,
		TaxTotal:            so.TaxTotal,
		CommissionAmount:    so.CommissionAmount,
		PlatformFee:         so.PlatformFee,
		GrandTotal:          so.GrandTotal,
		NetToSeller:         so.NetToSeller,
		UnreservedSKUs:      so.UnreservedSKUs,
		Carrier:             so.Carrier,
		CarrierService:      so.CarrierService,
		TrackingNumber:      so.TrackingNumber,
		ShippingCost:        so.ShippingCost,
		PickedAt:            formatTimePtr(so.PickedAt),
		PackedAt:            formatTimePtr(so.PackedAt),
		DispatchedAt:        formatTimePtr(so.DispatchedAt),
		DeliveredAt:         formatTimePtr(so.DeliveredAt),
		PackerName:          so.PackerName,
		SignatureName:       so.SignatureName,
		DeliveryProofURL:    so.DeliveryProofURL,
		ExternalRef:         so.ExternalRef,
		ExternalStatus:      so.ExternalStatus,
		ExternalSubmittedAt: formatTimePtr(so.ExternalSubmittedAt),
		Metadata:            so.Metadata,
		CreatedAt:           formatTime(so.CreatedAt),
		UpdatedAt:           formatTime(so.UpdatedAt),
	}
}
