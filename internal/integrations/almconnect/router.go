// Package almconnect routes confirmed seller orders into the ALM Connect
// wholesale network. Requests are signed with an HMAC over the method, path,
// timestamp, and body so the gateway can verify both origin and integrity.
package almconnect

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/googleapis/gax-go/v2"

	"github.com/mrshanebarron/repshare/internal/domain"
	"github.com/mrshanebarron/repshare/internal/platform/config"
	"github.com/mrshanebarron/repshare/internal/repositories"
	"github.com/mrshanebarron/repshare/internal/services"
)

var _ services.WholesaleRouter = (*Router)(nil)

var (
	// ErrNotConfigured indicates the adapter is missing credentials.
	ErrNotConfigured = errors.New("almconnect: api credentials are not configured")
	// ErrRequestFailed wraps transport and non-2xx responses.
	ErrRequestFailed = errors.New("almconnect: request failed")
	// ErrOrderRejected indicates the gateway refused the submission.
	ErrOrderRejected = errors.New("almconnect: order rejected")
)

// externalStatuses the gateway reports that still warrant polling.
var openExternalStatuses = map[string]bool{
	"submitted":  true,
	"accepted":   true,
	"processing": true,
}

const syncPageSize = 50

// Deps bundles collaborators for the wholesale router.
type Deps struct {
	SellerOrders repositories.SellerOrderRepository

	HTTPClient *http.Client
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

// Router implements order submission and status tracking against ALM Connect.
type Router struct {
	baseURL   string
	apiKey    string
	apiSecret string
	accountID string
	retries   int

	sellerOrders repositories.SellerOrderRepository

	httpClient *http.Client
	clock      func() time.Time
	logger     func(context.Context, string, map[string]any)
}

// NewRouter validates configuration and wires the adapter.
func NewRouter(cfg config.ALMConnectConfig, deps Deps) (*Router, error) {
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.APISecret) == "" {
		return nil, ErrNotConfigured
	}
	if deps.SellerOrders == nil {
		return nil, errors.New("almconnect: seller order repository is required")
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

	return &Router{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		apiSecret:    cfg.APISecret,
		accountID:    cfg.AccountID,
		retries:      cfg.Retries,
		sellerOrders: deps.SellerOrders,
		httpClient:   httpClient,
		clock:        func() time.Time { return clock().UTC() },
		logger:       logger,
	}, nil
}

// Wire shapes ----------------------------------------------------------------

type submitRequest struct {
	AccountID   string `json:"accountId,omitempty"`
	OrderNumber string `json:"orderNumber"`
	Reference   string `json:"reference"`
	SellerRef   string `json:"sellerRef,omitempty"`
	Warehouse   string `json:"warehouse,omitempty"`
	TotalCents  int64  `json:"totalCents"`
	Currency    string `json:"currency"`
}

type submitResponse struct {
	OrderRef string `json:"orderRef"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
}

type statusResponse struct {
	OrderRef string `json:"orderRef"`
	Status   string `json:"status"`
}

// WholesaleRouter ------------------------------------------------------------

// SubmitOrder places a seller order into the wholesale network and returns
// the gateway's order reference.
func (r *Router) SubmitOrder(ctx context.Context, sellerOrder domain.SellerOrder) (string, error) {
	payload := submitRequest{
		AccountID:   r.accountID,
		OrderNumber: sellerOrder.OrderNumber,
		Reference:   sellerOrder.ID,
		Warehouse:   sellerOrder.WarehouseID,
		TotalCents:  sellerOrder.GrandTotal,
		Currency:    "AUD",
	}

	var resp submitResponse
	if err := r.doJSON(ctx, http.MethodPost, "/orders", payload, &resp); err != nil {
		return "", err
	}
	if resp.Status == "rejected" {
		return "", fmt.Errorf("%w: %s", ErrOrderRejected, resp.Message)
	}
	if resp.OrderRef == "" {
		return "", fmt.Errorf("%w: submission returned no order reference", ErrRequestFailed)
	}

	r.logger(ctx, "almconnect.order.submitted", map[string]any{
		"sellerOrder": sellerOrder.ID,
		"orderRef":    resp.OrderRef,
	})
	return resp.OrderRef, nil
}

// GetOrderStatus reports the gateway's current status for a submitted order.
func (r *Router) GetOrderStatus(ctx context.Context, externalRef string) (string, error) {
	externalRef = strings.TrimSpace(externalRef)
	if externalRef == "" {
		return "", fmt.Errorf("%w: external reference is required", ErrRequestFailed)
	}

	var resp statusResponse
	if err := r.doJSON(ctx, http.MethodGet, "/orders/"+externalRef, nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// CancelOrder asks the gateway to withdraw a submitted order.
func (r *Router) CancelOrder(ctx context.Context, externalRef string) error {
	externalRef = strings.TrimSpace(externalRef)
	if externalRef == "" {
		return fmt.Errorf("%w: external reference is required", ErrRequestFailed)
	}
	return r.doJSON(ctx, http.MethodPost, "/orders/"+externalRef+"/cancel", nil, nil)
}

// SyncOrderUpdates polls the gateway for every seller order still open on the
// wholesale side and records status changes locally. Reports how many seller
// orders were updated.
func (r *Router) SyncOrderUpdates(ctx context.Context) (int, error) {
	updated := 0
	pageToken := ""
	for {
		page, err := r.sellerOrders.List(ctx, repositories.SellerOrderListFilter{
			Pagination: domain.Pagination{PageSize: syncPageSize, PageToken: pageToken},
		})
		if err != nil {
			return updated, err
		}

		for _, sellerOrder := range page.Items {
			if sellerOrder.ExternalRef == "" || !openExternalStatuses[sellerOrder.ExternalStatus] {
				continue
			}
			status, err := r.GetOrderStatus(ctx, sellerOrder.ExternalRef)
			if err != nil {
				r.logger(ctx, "almconnect.sync.status.failed", map[string]any{
					"sellerOrder": sellerOrder.ID,
					"orderRef":    sellerOrder.ExternalRef,
					"error":       err.Error(),
				})
				continue
			}
			if status == "" || status == sellerOrder.ExternalStatus {
				continue
			}
			sellerOrder.ExternalStatus = status
			sellerOrder.UpdatedAt = r.clock()
			if err := r.sellerOrders.Update(ctx, sellerOrder); err != nil {
				return updated, err
			}
			updated++
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	if updated > 0 {
		r.logger(ctx, "almconnect.sync.completed", map[string]any{"updated": updated})
	}
	return updated, nil
}

// Transport ------------------------------------------------------------------

func (r *Router) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%w: encode payload: %v", ErrRequestFailed, err)
		}
		body = encoded
	}

	backoff := gax.Backoff{Initial: 250 * time.Millisecond, Max: 8 * time.Second, Multiplier: 2}
	var lastErr error
	for attempt := 0; attempt <= r.retries; attempt++ {
		if attempt > 0 {
			if err := gax.Sleep(ctx, backoff.Pause()); err != nil {
				return err
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRequestFailed, err)
		}

		timestamp := strconv.FormatInt(r.clock().Unix(), 10)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("X-ALM-Key", r.apiKey)
		req.Header.Set("X-ALM-Timestamp", timestamp)
		req.Header.Set("X-ALM-Signature", r.sign(method, path, timestamp, body))

		resp, err := r.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrRequestFailed, err)
			continue
		}
		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("%w: %v", ErrRequestFailed, readErr)
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if out == nil || len(respBody) == 0 {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("%w: decode response: %v", ErrRequestFailed, err)
			}
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = fmt.Errorf("%w: %s %s returned %d", ErrRequestFailed, method, path, resp.StatusCode)
			continue
		default:
			return fmt.Errorf("%w: %s %s returned %d: %s", ErrRequestFailed, method, path, resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
	}
	return lastErr
}

// sign computes hex(HMAC-SHA256(secret, method\npath\ntimestamp\nbody)).
func (r *Router) sign(method, path, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(r.apiSecret))
	fmt.Fprintf(mac, "%s\n%s\n%s\n", method, path, timestamp)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
