package productdetails

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/petr-muller/bzreport/internal/httputil"
)

const DefaultURL = "https://product-details.mozilla.org/1.0/firefox_history_major_releases.json"

// Release is a major release and the day it shipped
type Release struct {
	Version int
	Date    time.Time
}

// Client fetches release dates from the product details service
type Client struct {
	url  string
	http *http.Client
}

// NewClient creates a client for the product details document at url
func NewClient(url string, c *http.Client) *Client {
	if c == nil {
		c = httputil.NewHTTPClient(time.Minute)
	}
	return &Client{url: url, http: c}
}

// MajorReleases returns the major releases ordered by version
func (c *Client) MajorReleases(ctx context.Context) ([]Release, error) {
	var raw map[string]string
	err := httputil.Retry(ctx, 3, time.Second, 5*time.Second, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
		if err != nil {
			return httputil.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return &httputil.StatusError{URL: c.url, StatusCode: resp.StatusCode, Body: string(body)}
		}
		if err := json.Unmarshal(body, &raw); err != nil {
			return httputil.Permanent(fmt.Errorf("failed to decode release dates: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch release dates: %w", err)
	}
	return ParseMajorReleases(raw)
}

// ParseMajorReleases converts the "version": "date" document into releases.
// Only versions of the form "N.0" are major releases.
func ParseMajorReleases(raw map[string]string) ([]Release, error) {
	var releases []Release
	for version, date := range raw {
		major, ok := strings.CutSuffix(version, ".0")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(major)
		if err != nil {
			continue
		}
		day, err := time.Parse(time.DateOnly, date)
		if err != nil {
			return nil, fmt.Errorf("release %s: invalid date %q: %w", version, date, err)
		}
		releases = append(releases, Release{Version: n, Date: day.UTC()})
	}
	sort.Slice(releases, func(i, j int) bool {
		return releases[i].Version < releases[j].Version
	})
	return releases, nil
}
