package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const maxSearchBody = 4 << 20

// HTTPSearchSource queries a JSON search endpoint with ?q=<query>&count=<limit>. It accepts
// either {"results":[{"url":...}]} or {"webPages":{"value":[{"url":...}]}} responses.
type HTTPSearchSource struct {
	endpoint  string
	userAgent string
	client    *http.Client
	limiter   *rate.Limiter
}

// NewHTTPSearchSource paces requests to one every interval.
func NewHTTPSearchSource(endpoint, userAgent string, interval, timeout time.Duration) (*HTTPSearchSource, error) {
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("search endpoint: %w", err)
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &HTTPSearchSource{
		endpoint:  endpoint,
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(limit, 1),
	}, nil
}

type searchResponse struct {
	Results []struct {
		URL  string `json:"url"`
		Href string `json:"href"`
	} `json:"results"`
	WebPages struct {
		Value []struct {
			URL string `json:"url"`
		} `json:"value"`
	} `json:"webPages"`
}

// Search implements SearchSource.
func (s *HTTPSearchSource) Search(ctx context.Context, query string, limit int) ([]string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	u, _ := url.Parse(s.endpoint)
	q := u.Query()
	q.Set("q", query)
	if limit > 0 {
		q.Set("count", strconv.Itoa(limit))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search %q: unexpected status %d", query, resp.StatusCode)
	}

	var body searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxSearchBody)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	var out []string
	for _, r := range body.Results {
		if r.URL != "" {
			out = append(out, r.URL)
		} else if r.Href != "" {
			out = append(out, r.Href)
		}
	}
	for _, r := range body.WebPages.Value {
		if r.URL != "" {
			out = append(out, r.URL)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
