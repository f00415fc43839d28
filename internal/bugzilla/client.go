package bugzilla

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/petr-muller/bzreport/internal/httputil"
	"github.com/petr-muller/bzreport/internal/metrics"
)

const (
	DefaultEndpoint = "https://bugzilla.mozilla.org"

	// maxIDsPerRequest keeps the request URL below the server limits
	maxIDsPerRequest = 500
	defaultPageSize  = 500

	apiKeyHeader = "X-BUGZILLA-API-KEY"
)

// Client is a minimal Bugzilla REST API client
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	metrics  *metrics.Metrics

	pageSize     int
	attempts     int
	initialDelay time.Duration
	maxDelay     time.Duration
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) { client.http = c }
}

// WithMetrics makes the client record its requests
func WithMetrics(m *metrics.Metrics) Option {
	return func(client *Client) { client.metrics = m }
}

// WithRetry configures the retry policy of failed requests
func WithRetry(attempts int, initial, max time.Duration) Option {
	return func(client *Client) {
		client.attempts, client.initialDelay, client.maxDelay = attempts, initial, max
	}
}

// WithPageSize sets the number of bugs fetched per search request
func WithPageSize(n int) Option {
	return func(client *Client) { client.pageSize = n }
}

// NewClient creates a client for the Bugzilla instance at endpoint. The API key is optional.
func NewClient(endpoint, apiKey string, opts ...Option) *Client {
	c := &Client{
		endpoint:     strings.TrimSuffix(endpoint, "/"),
		apiKey:       apiKey,
		http:         httputil.NewHTTPClient(5 * time.Minute),
		pageSize:     defaultPageSize,
		attempts:     4,
		initialDelay: 2 * time.Second,
		maxDelay:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the base URL of the Bugzilla instance
func (c *Client) Endpoint() string {
	return c.endpoint
}

// SearchBugs returns all bugs matching the search parameters, following pagination.
// Only the listed fields are requested; history and comments are fields too.
func (c *Client) SearchBugs(ctx context.Context, params url.Values, fields ...string) ([]Bug, error) {
	var bugs []Bug
	for offset := 0; ; offset += c.pageSize {
		query := cloneValues(params)
		if len(fields) > 0 {
			query.Set("include_fields", strings.Join(fields, ","))
		}
		query.Set("limit", strconv.Itoa(c.pageSize))
		query.Set("offset", strconv.Itoa(offset))

		var page searchResponse
		if err := c.get(ctx, "/rest/bug", query, &page); err != nil {
			return nil, fmt.Errorf("failed to search bugs: %w", err)
		}
		bugs = append(bugs, page.Bugs...)
		c.metrics.AddBugs(len(page.Bugs))
		logrus.Debugf("Fetched %d bugs at offset %d", len(page.Bugs), offset)
		if len(page.Bugs) < c.pageSize {
			return bugs, nil
		}
	}
}

// GetBugs fetches the bugs with given ids
func (c *Client) GetBugs(ctx context.Context, ids []int, fields ...string) ([]Bug, error) {
	var bugs []Bug
	for _, chunk := range lo.Chunk(lo.Uniq(ids), maxIDsPerRequest) {
		params := url.Values{}
		params.Set("id", joinIDs(chunk))
		page, err := c.SearchBugs(ctx, params, fields...)
		if err != nil {
			return nil, err
		}
		bugs = append(bugs, page...)
	}
	return bugs, nil
}

// Configuration fetches the products and components configured on the instance
func (c *Client) Configuration(ctx context.Context) (*Configuration, error) {
	var configuration Configuration
	if err := c.get(ctx, "/rest/configuration", url.Values{}, &configuration); err != nil {
		return nil, fmt.Errorf("failed to fetch configuration: %w", err)
	}
	return &configuration, nil
}

// BugListURL returns a web link listing the given bugs on the instance at endpoint
func BugListURL(endpoint string, ids []int) string {
	return strings.TrimSuffix(endpoint, "/") + "/buglist.cgi?bug_id_type=anyexact&query_format=advanced&bug_id=" + url.QueryEscape(joinIDs(ids))
}

func (c *Client) get(ctx context.Context, path string, query url.Values, into any) error {
	target := c.endpoint + path + "?" + query.Encode()
	return httputil.Retry(ctx, c.attempts, c.initialDelay, c.maxDelay, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return httputil.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set(apiKeyHeader, c.apiKey)
		}

		logrus.Debugf("GET %s", path)
		resp, err := c.http.Do(req)
		if err != nil {
			c.metrics.ObserveRequest(path, 0)
			logrus.WithError(err).Debugf("Request to %s failed", path)
			return err
		}
		defer resp.Body.Close()
		c.metrics.ObserveRequest(path, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &httputil.StatusError{URL: c.endpoint + path, StatusCode: resp.StatusCode, Body: errorMessage(body)}
		}

		var apiErr errorResponse
		if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error {
			return httputil.Permanent(fmt.Errorf("bugzilla error %d: %s", apiErr.Code, apiErr.Message))
		}
		if err := json.Unmarshal(body, into); err != nil {
			return httputil.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
		return nil
	})
}

func errorMessage(body []byte) string {
	var apiErr errorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
		return apiErr.Message
	}
	const limit = 200
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}

func joinIDs(ids []int) string {
	return strings.Join(lo.Map(ids, func(id int, _ int) string { return strconv.Itoa(id) }), ",")
}

func cloneValues(v url.Values) url.Values {
	clone := make(url.Values, len(v))
	for key, values := range v {
		clone[key] = append([]string(nil), values...)
	}
	return clone
}
