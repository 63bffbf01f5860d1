package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mrshanebarron/repshare/internal/domain"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxBodySize     = 64 * 1024
)

var errBodyTooLarge = errors.New("request body too large")

// readLimitedBody drains the request body up to the limit; exceeding it is an
// error rather than silent truncation.
func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, errBodyTooLarge
	}
	return body, nil
}

// parsePagination extracts page_size and page_token with bounds applied.
func parsePagination(r *http.Request) (domain.Pagination, error) {
	query := r.URL.Query()
	pageSize := defaultPageSize
	if raw := strings.TrimSpace(query.Get("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return domain.Pagination{}, errors.New("page_size must be an integer")
		}
		switch {
		case size <= 0:
			pageSize = defaultPageSize
		case size > maxPageSize:
			pageSize = maxPageSize
		default:
			pageSize = size
		}
	}
	return domain.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	}, nil
}

// parseFilterValues splits repeated and comma-separated query values.
func parseFilterValues(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}

func orderStatusFilters(values []string) []domain.OrderStatus {
	parsed := parseFilterValues(values)
	out := make([]domain.OrderStatus, 0, len(parsed))
	for _, value := range parsed {
		out = append(out, domain.OrderStatus(strings.ToLower(value)))
	}
	return out
}

func fulfilmentStatusFilters(values []string) []domain.FulfilmentStatus {
	parsed := parseFilterValues(values)
	out := make([]domain.FulfilmentStatus, 0, len(parsed))
	for _, value := range parsed {
		out = append(out, domain.FulfilmentStatus(strings.ToLower(value)))
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
