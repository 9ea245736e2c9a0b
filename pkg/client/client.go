package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kurihiro0119/search-conflict-checker/internal/domain"
	apperrors "github.com/kurihiro0119/search-conflict-checker/internal/errors"
)

// Client is the API client for search-conflict-checker
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// CheckRequest is the body sent to POST /api/v1/checks
type CheckRequest struct {
	Keyword              string  `json:"keyword"`
	Windows              []int   `json:"windows,omitempty"`
	PositionThreshold    float64 `json:"position_threshold,omitempty"`
	ImpressionsThreshold float64 `json:"impressions_threshold,omitempty"`
}

// CheckResult is a report together with the server's gating flags
type CheckResult struct {
	Report          *domain.ConflictReport `json:"data"`
	Partial         bool                   `json:"partial"`
	HasConflict     bool                   `json:"has_conflict"`
	UpdateCandidate string                 `json:"update_candidate,omitempty"`
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			// covers a full check, not just a read
			Timeout: 2 * time.Minute,
		},
	}
}

// Check runs a conflict check on the server
func (c *Client) Check(ctx context.Context, req CheckRequest) (*CheckResult, error) {
	var result CheckResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/checks", nil, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetCheck retrieves a stored report
func (c *Client) GetCheck(ctx context.Context, id string) (*CheckResult, error) {
	path := fmt.Sprintf("/api/v1/checks/%s", url.PathEscape(id))

	var result CheckResult
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListChecks retrieves stored report summaries, newest first
func (c *Client) ListChecks(ctx context.Context, keyword string, limit int) ([]domain.ReportSummary, error) {
	params := url.Values{}
	if keyword != "" {
		params.Set("keyword", keyword)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var response struct {
		Data []domain.ReportSummary `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/checks", params, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// URLHistory retrieves past alerts raised for a URL
func (c *Client) URLHistory(ctx context.Context, pageURL string, limit int) ([]domain.URLHistoryEntry, error) {
	params := url.Values{}
	params.Set("url", pageURL)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var response struct {
		Data []domain.URLHistoryEntry `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/urls/history", params, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// HealthCheck checks if the API is healthy
func (c *Client) HealthCheck(ctx context.Context) error {
	var response struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil, &response); err != nil {
		return err
	}
	if response.Status != "ok" {
		return fmt.Errorf("unhealthy status: %s", response.Status)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body, result interface{}) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return err
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.NewBackendError("request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

// decodeError turns an error response back into the AppError the server
// reported, falling back to the HTTP status.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)

	var body struct {
		Error struct {
			Code    apperrors.ErrCode `json:"code"`
			Message string            `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.Error.Code == "" {
		return apperrors.NewBackendError(fmt.Sprintf("API error: %s - %s", resp.Status, string(data)), nil)
	}

	appErr := &apperrors.AppError{
		Code:    body.Error.Code,
		Message: body.Error.Message,
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
		appErr.RetryAfter = time.Duration(secs) * time.Second
	}
	return appErr
}
