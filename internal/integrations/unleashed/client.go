// Package unleashed adapts the Unleashed inventory platform as the
// marketplace's inventory of record. The adapter signs each request with the
// account's API key and pages through the catalog, warehouse, and stock
// endpoints to refresh the local Firestore mirrors.
package unleashed

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/googleapis/gax-go/v2"

	"github.com/mrshanebarron/repshare/internal/domain"
	"github.com/mrshanebarron/repshare/internal/platform/config"
	"github.com/mrshanebarron/repshare/internal/repositories"
	"github.com/mrshanebarron/repshare/internal/services"
)

var _ services.InventoryOfRecord = (*Client)(nil)

const (
	defaultPageSize = 200

	productIDPrefix   = "prod_"
	warehouseIDPrefix = "wh_"
)

var (
	// ErrNotConfigured indicates the adapter is missing credentials.
	ErrNotConfigured = errors.New("unleashed: api credentials are not configured")
	// ErrRequestFailed wraps transport and non-2xx responses.
	ErrRequestFailed = errors.New("unleashed: request failed")
	// ErrStockNotFound indicates the upstream has no record for the SKU.
	ErrStockNotFound = errors.New("unleashed: stock on hand not found")
)

// Deps bundles the local stores the sync writes through.
type Deps struct {
	Products   repositories.ProductRepository
	Warehouses repositories.WarehouseRepository
	Inventory  repositories.InventoryRepository

	HTTPClient *http.Client
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

// Client talks to the Unleashed REST API.
type Client struct {
	baseURL string
	apiID   string
	apiKey  string
	retries int

	products   repositories.ProductRepository
	warehouses repositories.WarehouseRepository
	inventory  repositories.InventoryRepository

	httpClient *http.Client
	clock      func() time.Time
	logger     func(context.Context, string, map[string]any)
}

// NewClient validates configuration and wires the adapter.
func NewClient(cfg config.UnleashedConfig, deps Deps) (*Client, error) {
	if strings.TrimSpace(cfg.APIID) == "" || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNotConfigured
	}
	if deps.Products == nil {
		return nil, errors.New("unleashed: product repository is required")
	}
	if deps.Warehouses == nil {
		return nil, errors.New("unleashed: warehouse repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("unleashed: inventory repository is required")
	}

	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiID:      cfg.APIID,
		apiKey:     cfg.APIKey,
		retries:    cfg.Retries,
		products:   deps.Products,
		warehouses: deps.Warehouses,
		inventory:  deps.Inventory,
		httpClient: httpClient,
		clock:      func() time.Time { return clock().UTC() },
		logger:     logger,
	}, nil
}

// Wire shapes ----------------------------------------------------------------

type pagination struct {
	NumberOfPages int `json:"NumberOfPages"`
	PageNumber    int `json:"PageNumber"`
}

type productPage struct {
	Pagination pagination    `json:"Pagination"`
	Items      []productItem `json:"Items"`
}

type productItem struct {
	GUID         string  `json:"Guid"`
	ProductCode  string  `json:"ProductCode"`
	Description  string  `json:"ProductDescription"`
	SellPrice    float64 `json:"DefaultSellPrice"`
	IsObsoleted  bool    `json:"Obsolete"`
	IsSellable   bool    `json:"IsSellable"`
	ProductGroup struct {
		GroupName string `json:"GroupName"`
	} `json:"ProductGroup"`
}

type warehousePage struct {
	Pagination pagination      `json:"Pagination"`
	Items      []warehouseItem `json:"Items"`
}

type warehouseItem struct {
	GUID          string `json:"Guid"`
	WarehouseCode string `json:"WarehouseCode"`
	WarehouseName string `json:"WarehouseName"`
	IsDefault     bool   `json:"IsDefault"`
	Obsolete      bool   `json:"Obsolete"`
	StreetNo      string `json:"StreetNo"`
	AddressLine1  string `json:"AddressLine1"`
	City          string `json:"City"`
	Region        string `json:"Region"`
	PostCode      string `json:"PostCode"`
}

type stockPage struct {
	Pagination pagination  `json:"Pagination"`
	Items      []stockItem `json:"Items"`
}

type stockItem struct {
	ProductCode    string  `json:"ProductCode"`
	WarehouseCode  string  `json:"WarehouseCode"`
	QtyOnHand      float64 `json:"QtyOnHand"`
	AvailableQty   float64 `json:"AvailableQty"`
	AllocatedQty   float64 `json:"AllocatedQty"`
	DaysSinceSold  int     `json:"DaysSinceSold"`
	LastModifiedOn string  `json:"LastModifiedOn"`
}

// InventoryOfRecord ----------------------------------------------------------

// GetStockOnHand reports the upstream on-hand quantity for one SKU at one
// warehouse, identified by the upstream warehouse code.
func (c *Client) GetStockOnHand(ctx context.Context, sku string, warehouseRef string) (int, error) {
	query := url.Values{}
	query.Set("productCode", strings.TrimSpace(sku))
	if ref := strings.TrimSpace(warehouseRef); ref != "" {
		query.Set("warehouseCode", ref)
	}

	var page stockPage
	if err := c.getJSON(ctx, "/StockOnHand", query, &page); err != nil {
		return 0, err
	}
	for _, item := range page.Items {
		if strings.EqualFold(item.ProductCode, sku) {
			return int(item.QtyOnHand), nil
		}
	}
	return 0, fmt.Errorf("%w: sku %s", ErrStockNotFound, sku)
}

// SyncProducts refreshes the local catalog mirror and reports how many
// products were written. Locally known products keep their seller attribution.
func (c *Client) SyncProducts(ctx context.Context) (int, error) {
	synced := 0
	err := c.eachPage(ctx, "/Products", func(ctx context.Context, body []byte) (pagination, error) {
		var page productPage
		if err := json.Unmarshal(body, &page); err != nil {
			return pagination{}, fmt.Errorf("%w: decode products: %v", ErrRequestFailed, err)
		}
		for _, item := range page.Items {
			sku := strings.TrimSpace(item.ProductCode)
			if sku == "" {
				continue
			}
			product := domain.Product{
				ID:          productIDPrefix + sanitizeID(sku),
				SKU:         sku,
				Name:        strings.TrimSpace(item.Description),
				UnitPrice:   int64(item.SellPrice*100 + 0.5),
				ExternalRef: item.GUID,
				Active:      item.IsSellable && !item.IsObsoleted,
				UpdatedAt:   c.clock(),
			}
			if existing, err := c.products.FindBySKU(ctx, sku); err == nil {
				product.ID = existing.ID
				product.SellerID = existing.SellerID
			}
			if err := c.products.Upsert(ctx, product); err != nil {
				return pagination{}, err
			}
			synced++
		}
		return page.Pagination, nil
	})
	if err != nil {
		return synced, err
	}
	c.logger(ctx, "unleashed.products.synced", map[string]any{"count": synced})
	return synced, nil
}

// SyncWarehouses refreshes the local warehouse mirror.
func (c *Client) SyncWarehouses(ctx context.Context) (int, error) {
	synced := 0
	err := c.eachPage(ctx, "/Warehouses", func(ctx context.Context, body []byte) (pagination, error) {
		var page warehousePage
		if err := json.Unmarshal(body, &page); err != nil {
			return pagination{}, fmt.Errorf("%w: decode warehouses: %v", ErrRequestFailed, err)
		}
		for _, item := range page.Items {
			code := strings.TrimSpace(item.WarehouseCode)
			if code == "" {
				continue
			}
			warehouse := domain.Warehouse{
				ID:          warehouseIDPrefix + sanitizeID(code),
				Code:        code,
				Name:        strings.TrimSpace(item.WarehouseName),
				ExternalRef: item.GUID,
				Active:      !item.Obsolete,
				Address: domain.Address{
					Line1:    strings.TrimSpace(strings.Join([]string{item.StreetNo, item.AddressLine1}, " ")),
					City:     item.City,
					State:    item.Region,
					Postcode: item.PostCode,
				},
			}
			if existing, err := c.warehouses.FindByID(ctx, warehouse.ID); err == nil {
				warehouse.LogisticsID = existing.LogisticsID
			}
			if err := c.warehouses.Upsert(ctx, warehouse); err != nil {
				return pagination{}, err
			}
			synced++
		}
		return page.Pagination, nil
	})
	if err != nil {
		return synced, err
	}
	c.logger(ctx, "unleashed.warehouses.synced", map[string]any{"count": synced})
	return synced, nil
}

// SyncStockLevels refreshes the on-hand counters for every known stock record.
// Local reserved counters survive the sync; only the upstream truth for
// on-hand quantity is replaced.
func (c *Client) SyncStockLevels(ctx context.Context) (int, error) {
	now := c.clock()
	synced := 0
	err := c.eachPage(ctx, "/StockOnHand", func(ctx context.Context, body []byte) (pagination, error) {
		var page stockPage
		if err := json.Unmarshal(body, &page); err != nil {
			return pagination{}, fmt.Errorf("%w: decode stock on hand: %v", ErrRequestFailed, err)
		}
		for _, item := range page.Items {
			sku := strings.TrimSpace(item.ProductCode)
			code := strings.TrimSpace(item.WarehouseCode)
			if sku == "" || code == "" {
				continue
			}
			product, err := c.products.FindBySKU(ctx, sku)
			if err != nil {
				// Stock for SKUs outside the catalog mirror is skipped, not fatal.
				c.logger(ctx, "unleashed.stock.unknown_sku", map[string]any{"sku": sku})
				continue
			}
			level := domain.StockLevel{
				ProductID:    product.ID,
				WarehouseID:  warehouseIDPrefix + sanitizeID(code),
				SKU:          sku,
				OnHand:       int(item.QtyOnHand),
				LastSyncedAt: &now,
				UpdatedAt:    now,
			}
			if err := c.inventory.UpsertStockLevel(ctx, level); err != nil {
				return pagination{}, err
			}
			synced++
		}
		return page.Pagination, nil
	})
	if err != nil {
		return synced, err
	}
	c.logger(ctx, "unleashed.stock.synced", map[string]any{"count": synced})
	return synced, nil
}

// Transport ------------------------------------------------------------------

// eachPage walks /{endpoint}/Page/{n} until the reported page count runs out.
func (c *Client) eachPage(ctx context.Context, endpoint string, handle func(context.Context, []byte) (pagination, error)) error {
	for page := 1; ; page++ {
		query := url.Values{}
		query.Set("pageSize", fmt.Sprintf("%d", defaultPageSize))

		body, err := c.do(ctx, fmt.Sprintf("%s/Page/%d", endpoint, page), query)
		if err != nil {
			return err
		}
		info, err := handle(ctx, body)
		if err != nil {
			return err
		}
		if info.NumberOfPages <= page {
			return nil
		}
	}
}

func (c *Client) getJSON(ctx context.Context, endpoint string, query url.Values, out any) error {
	body, err := c.do(ctx, endpoint, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrRequestFailed, endpoint, err)
	}
	return nil
}

// do issues one signed GET, retrying transient failures with capped backoff.
func (c *Client) do(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	rawQuery := query.Encode()
	target := c.baseURL + endpoint
	if rawQuery != "" {
		target += "?" + rawQuery
	}

	backoff := gax.Backoff{Initial: 200 * time.Millisecond, Max: 5 * time.Second, Multiplier: 2}
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			if err := gax.Sleep(ctx, backoff.Pause()); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("api-auth-id", c.apiID)
		req.Header.Set("api-auth-signature", c.sign(rawQuery))

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrRequestFailed, err)
			continue
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("%w: %v", ErrRequestFailed, readErr)
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return body, nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = fmt.Errorf("%w: %s returned %d", ErrRequestFailed, endpoint, resp.StatusCode)
			continue
		default:
			return nil, fmt.Errorf("%w: %s returned %d: %s", ErrRequestFailed, endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
		}
	}
	return nil, lastErr
}

// sign computes the Unleashed request signature: HMAC-SHA256 of the raw query
// string keyed by the API key, base64 encoded.
func (c *Client) sign(rawQuery string) string {
	mac := hmac.New(sha256.New, []byte(c.apiKey))
	mac.Write([]byte(rawQuery))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func sanitizeID(raw string) string {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, lowered)
}
