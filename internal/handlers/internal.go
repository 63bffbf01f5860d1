package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mrshanebarron/repshare/internal/platform/httpx"
	"github.com/mrshanebarron/repshare/internal/services"
)

// InternalHandlers exposes operator endpoints: the reservation expiry sweep
// and the external sync triggers. These sit behind the internal route group's
// own middleware.
type InternalHandlers struct {
	reservations services.ReservationService
	inventory    services.InventoryOfRecord
	wholesale    services.WholesaleRouter
	webhooks     services.StockWebhook
}

// NewInternalHandlers constructs a new InternalHandlers instance. The
// inventory, wholesale, and webhook adapters may be nil when unconfigured;
// their endpoints then report 503.
func NewInternalHandlers(reservations services.ReservationService, inventory services.InventoryOfRecord, wholesale services.WholesaleRouter, webhooks services.StockWebhook) *InternalHandlers {
	return &InternalHandlers{
		reservations: reservations,
		inventory:    inventory,
		wholesale:    wholesale,
		webhooks:     webhooks,
	}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/reservations:sweep", h.sweepReservations)
	r.Post("/sync/products", h.syncProducts)
	r.Post("/sync/warehouses", h.syncWarehouses)
	r.Post("/sync/orders", h.syncOrders)
	r.Post("/webhooks/stock", h.stockWebhook)
}

func (h *InternalHandlers) sweepReservations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reservations == nil {
		writeAdapterUnavailable(ctx, w, "reservation service")
		return
	}

	result, err := h.reservations.SweepExpired(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("sweep_failed", err.Error(), http.StatusInternalServerError).
			WithDetails(map[string]any{"released": result.Released, "failed": result.Failed}))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"released": result.Released,
		"failed":   result.Failed,
	})
}

func (h *InternalHandlers) syncProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		writeAdapterUnavailable(ctx, w, "inventory adapter")
		return
	}
	h.runSync(ctx, w, "products", h.inventory.SyncProducts)
}

func (h *InternalHandlers) syncWarehouses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		writeAdapterUnavailable(ctx, w, "inventory adapter")
		return
	}
	h.runSync(ctx, w, "warehouses", h.inventory.SyncWarehouses)
}

func (h *InternalHandlers) syncOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.wholesale == nil {
		writeAdapterUnavailable(ctx, w, "wholesale adapter")
		return
	}
	h.runSync(ctx, w, "orders", h.wholesale.SyncOrderUpdates)
}

func (h *InternalHandlers) runSync(ctx context.Context, w http.ResponseWriter, target string, sync func(context.Context) (int, error)) {
	count, err := sync(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("sync_failed", err.Error(), http.StatusBadGateway).
			WithDetails(map[string]any{"target": target, "synced": count}))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"target": target,
		"synced": count,
	})
}

func (h *InternalHandlers) stockWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.webhooks == nil {
		writeAdapterUnavailable(ctx, w, "stock webhook")
		return
	}

	body, err := readLimitedBody(r, maxBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	result, err := h.webhooks.ProcessWebhook(ctx, r.Header.Get("api-auth-id"), body)
	if err != nil {
		if errors.Is(err, services.ErrWebhookUnauthorized) {
			httpx.WriteError(ctx, w, httpx.NewError("webhook_unauthorized", "webhook credentials rejected", http.StatusUnauthorized))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("webhook_failed", err.Error(), http.StatusInternalServerError).
			WithDetails(map[string]any{"event": result.Event}))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"event":   result.Event,
		"handled": result.Handled,
	})
}

func writeAdapterUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError("adapter_unavailable", name+" is not configured", http.StatusServiceUnavailable))
}
