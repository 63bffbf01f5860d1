package unleashed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mrshanebarron/repshare/internal/domain"
	"github.com/mrshanebarron/repshare/internal/services"
)

var _ services.StockWebhook = (*Client)(nil)

const eventStockUpdated = "StockOnHand.Updated"

type webhookEnvelope struct {
	Event string          `json:"WebhookEvent"`
	Data  json.RawMessage `json:"Data"`
}

// ProcessWebhook applies a pushed event to the local mirrors. Unleashed
// identifies itself with the account's api-auth-id header; a mismatch is
// rejected. Event types beyond stock updates are acknowledged untouched so
// the upstream stops retrying them.
func (c *Client) ProcessWebhook(ctx context.Context, apiID string, body []byte) (services.WebhookResult, error) {
	if strings.TrimSpace(apiID) != c.apiID {
		return services.WebhookResult{}, services.ErrWebhookUnauthorized
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return services.WebhookResult{}, fmt.Errorf("%w: decode webhook payload: %v", ErrRequestFailed, err)
	}
	result := services.WebhookResult{Event: envelope.Event}

	if envelope.Event != eventStockUpdated {
		c.logger(ctx, "unleashed.webhook.ignored", map[string]any{"event": envelope.Event})
		return result, nil
	}

	var item stockItem
	if err := json.Unmarshal(envelope.Data, &item); err != nil {
		return result, fmt.Errorf("%w: decode stock data: %v", ErrRequestFailed, err)
	}

	sku := strings.TrimSpace(item.ProductCode)
	code := strings.TrimSpace(item.WarehouseCode)
	if sku == "" || code == "" {
		c.logger(ctx, "unleashed.webhook.incomplete_stock", map[string]any{"sku": sku, "warehouse": code})
		return result, nil
	}

	product, err := c.products.FindBySKU(ctx, sku)
	if err != nil {
		// Stock for SKUs outside the catalog mirror is acknowledged, not fatal.
		c.logger(ctx, "unleashed.webhook.unknown_sku", map[string]any{"sku": sku})
		return result, nil
	}

	now := c.clock()
	level := domain.StockLevel{
		ProductID:    product.ID,
		WarehouseID:  warehouseIDPrefix + sanitizeID(code),
		SKU:          sku,
		OnHand:       int(item.QtyOnHand),
		LastSyncedAt: &now,
		UpdatedAt:    now,
	}
	if err := c.inventory.UpsertStockLevel(ctx, level); err != nil {
		return result, err
	}

	c.logger(ctx, "unleashed.webhook.stock_updated", map[string]any{
		"sku":       sku,
		"warehouse": level.WarehouseID,
		"onHand":    level.OnHand,
	})
	result.Handled = true
	return result, nil
}
