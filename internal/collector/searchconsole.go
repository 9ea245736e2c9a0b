package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/kurihiro0119/search-conflict-checker/internal/domain"
	apperrors "github.com/kurihiro0119/search-conflict-checker/internal/errors"
	"github.com/kurihiro0119/search-conflict-checker/internal/logger"
	"github.com/kurihiro0119/search-conflict-checker/internal/metrics"
)

const (
	DefaultAPIBaseURL  = "https://searchconsole.googleapis.com/webmasters/v3"
	DefaultTokenURI    = "https://oauth2.googleapis.com/token"
	googleAuthURI      = "https://accounts.google.com/o/oauth2/auth"
	webmastersReadOnly = "https://www.googleapis.com/auth/webmasters.readonly"
	apiDateLayout      = "2006-01-02"
)

// Credentials are the OAuth2 credentials of an already authorized user.
// Obtaining them (the consent flow) and storing them is the caller's job.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	TokenURI     string
	ClientID     string
	ClientSecret string
}

// SearchConsoleOptions configures the Search Console client
type SearchConsoleOptions struct {
	SiteURL           string
	BaseURL           string
	RowLimit          int
	RequestsPerSecond float64

	// Now is the clock used to compute date ranges; defaults to time.Now.
	Now func() time.Time
}

// searchConsoleClient implements MetricsClient using the Search Console
// searchAnalytics.query endpoint
type searchConsoleClient struct {
	httpClient  *http.Client
	opts        SearchConsoleOptions
	rateLimiter RateLimiter
	logger      *logger.Logger
	metrics     *metrics.Metrics
}

// NewSearchConsoleClient creates a client authenticated with creds. The
// access token is refreshed through the token endpoint when it expires.
func NewSearchConsoleClient(ctx context.Context, creds Credentials, opts SearchConsoleOptions, log *logger.Logger, m *metrics.Metrics) (MetricsClient, error) {
	if creds.AccessToken == "" && creds.RefreshToken == "" {
		return nil, apperrors.NewAuthError("search console credentials are missing", nil)
	}

	tokenURI := creds.TokenURI
	if tokenURI == "" {
		tokenURI = DefaultTokenURI
	}

	conf := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Scopes:       []string{webmastersReadOnly},
		Endpoint: oauth2.Endpoint{
			AuthURL:  googleAuthURI,
			TokenURL: tokenURI,
		},
	}
	ts := conf.TokenSource(ctx, &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
	})

	return NewSearchConsoleClientWithHTTP(oauth2.NewClient(ctx, ts), opts, log, m)
}

// NewSearchConsoleClientWithHTTP creates a client on top of an already
// authenticated HTTP client.
func NewSearchConsoleClientWithHTTP(httpClient *http.Client, opts SearchConsoleOptions, log *logger.Logger, m *metrics.Metrics) (MetricsClient, error) {
	if opts.SiteURL == "" {
		return nil, apperrors.NewBadRequestError("search console site URL is required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultAPIBaseURL
	}
	if opts.RowLimit <= 0 || opts.RowLimit > MaxRows {
		opts.RowLimit = MaxRows
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &searchConsoleClient{
		httpClient:  httpClient,
		opts:        opts,
		rateLimiter: NewRateLimiter(opts.RequestsPerSecond),
		logger:      log,
		metrics:     m,
	}, nil
}

type searchAnalyticsRequest struct {
	StartDate             string                 `json:"startDate"`
	EndDate               string                 `json:"endDate"`
	Dimensions            []string               `json:"dimensions"`
	DimensionFilterGroups []dimensionFilterGroup `json:"dimensionFilterGroups"`
	RowLimit              int                    `json:"rowLimit"`
}

type dimensionFilterGroup struct {
	Filters []dimensionFilter `json:"filters"`
}

type dimensionFilter struct {
	Dimension  string `json:"dimension"`
	Operator   string `json:"operator"`
	Expression string `json:"expression"`
}

type searchAnalyticsResponse struct {
	Rows []struct {
		Keys        []string `json:"keys"`
		Clicks      float64  `json:"clicks"`
		Impressions float64  `json:"impressions"`
		CTR         float64  `json:"ctr"`
		Position    float64  `json:"position"`
	} `json:"rows"`
}

// Query implements MetricsClient
func (c *searchConsoleClient) Query(ctx context.Context, query string, windowDays int) ([]domain.WindowMetrics, error) {
	start := time.Now()
	window := domain.WindowLabel(windowDays)

	rows, err := c.query(ctx, query, windowDays)

	status := "success"
	if err != nil {
		status = string(apperrors.CodeOf(err))
	}
	if c.metrics != nil {
		c.metrics.RecordQuery(window, status, len(rows), time.Since(start))
	}
	if c.logger != nil {
		entry := c.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"query":    query,
			"window":   window,
			"rows":     len(rows),
			"duration": time.Since(start),
		})
		if err != nil {
			entry.WithError(err).Debug("Search Console query failed")
		} else {
			entry.Debug("Search Console query completed")
		}
	}

	return rows, err
}

func (c *searchConsoleClient) query(ctx context.Context, query string, windowDays int) ([]domain.WindowMetrics, error) {
	if windowDays <= 0 {
		return nil, apperrors.NewBadRequestError(fmt.Sprintf("window must be positive, got %d", windowDays))
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, apperrors.NewBackendError("rate limiter wait aborted", err)
	}

	// The API's end date is inclusive, so the right-open window ends yesterday.
	tr := domain.WindowRange(c.opts.Now(), windowDays)
	body, err := json.Marshal(searchAnalyticsRequest{
		StartDate:  tr.Start.Format(apiDateLayout),
		EndDate:    tr.End.AddDate(0, 0, -1).Format(apiDateLayout),
		Dimensions: []string{"page"},
		DimensionFilterGroups: []dimensionFilterGroup{{
			Filters: []dimensionFilter{{
				Dimension:  "query",
				Operator:   "equals",
				Expression: query,
			}},
		}},
		RowLimit: c.opts.RowLimit,
	})
	if err != nil {
		return nil, apperrors.NewInternalError("failed to encode request", err)
	}

	endpoint := fmt.Sprintf("%s/sites/%s/searchAnalytics/query",
		strings.TrimRight(c.opts.BaseURL, "/"), url.PathEscape(c.opts.SiteURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.NewInternalError("failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, apperrors.NewAuthError("failed to refresh access token", err)
		}
		return nil, apperrors.NewBackendError("search console request failed", err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}

	var parsed searchAnalyticsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperrors.NewBackendError("failed to decode search console response", err)
	}

	rows := make([]domain.WindowMetrics, 0, len(parsed.Rows))
	for _, r := range parsed.Rows {
		if len(r.Keys) == 0 {
			continue
		}
		rows = append(rows, domain.NewWindowMetrics(
			r.Keys[0],
			int64(math.Round(r.Impressions)),
			int64(math.Round(r.Clicks)),
			math.Round(r.Position*10)/10,
		))
	}

	return rows, nil
}

func (c *searchConsoleClient) checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	message := fmt.Sprintf("search console returned %s: %s", resp.Status, strings.TrimSpace(string(body)))

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperrors.NewAuthError(message, nil)
	case http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		c.rateLimiter.Backoff(retryAfter)
		return apperrors.NewRateLimitedError(message, retryAfter)
	default:
		return apperrors.NewBackendError(message, nil)
	}
}

// parseRetryAfter understands both delta-seconds and HTTP-date values.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
