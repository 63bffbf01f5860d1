// Package geoop creates field jobs in GeoOp with an order as the optional
// parent record. Only job creation is wired; the wider GeoOp surface is owned
// by the field-service system.
package geoop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mrshanebarron/repshare/internal/platform/config"
	"github.com/mrshanebarron/repshare/internal/services"
)

var _ services.FieldJobService = (*Client)(nil)

var (
	// ErrNotConfigured indicates the adapter is missing its access token.
	ErrNotConfigured = errors.New("geoop: access token is not configured")
	// ErrRequestFailed wraps transport and non-2xx responses.
	ErrRequestFailed = errors.New("geoop: request failed")
)

// Client talks to the GeoOp jobs API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient validates configuration and wires the adapter.
func NewClient(cfg config.GeoOpConfig, httpClient *http.Client) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, ErrNotConfigured
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: httpClient,
	}, nil
}

type jobRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Reference   string `json:"reference,omitempty"`
	ScheduledAt string `json:"scheduledAt,omitempty"`
}

type jobResponse struct {
	Job struct {
		ID int64 `json:"id"`
	} `json:"job"`
}

// CreateJob creates one field job and returns the GeoOp job ID.
func (c *Client) CreateJob(ctx context.Context, req services.FieldJobRequest) (string, error) {
	if strings.TrimSpace(req.Title) == "" {
		return "", fmt.Errorf("%w: job title is required", ErrRequestFailed)
	}

	payload := jobRequest{
		Title:       req.Title,
		Description: req.Description,
		Reference:   req.OrderID,
	}
	if req.ScheduledAt != nil {
		payload.ScheduledAt = req.ScheduledAt.UTC().Format(time.RFC3339)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: encode payload: %v", ErrRequestFailed, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jobs", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: create job returned %d: %s", ErrRequestFailed, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var decoded jobResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrRequestFailed, err)
	}
	if decoded.Job.ID == 0 {
		return "", fmt.Errorf("%w: response carried no job id", ErrRequestFailed)
	}
	return fmt.Sprintf("%d", decoded.Job.ID), nil
}
