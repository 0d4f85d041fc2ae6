// Package paginate fetches rows from a PostgREST endpoint with Range-header
// pagination, bounded retries and token-based row filtering. It backs the
// reference-data side of the pipeline: extracted records are matched against
// rows pulled from a hosted catalog.
package paginate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Defaults mirror the hosted catalog's own limits; PostgREST caps a single
// Range response at 1000 rows regardless of what the client asks for.
const (
	DefaultPageSize     = 1000
	DefaultMaxPages     = 50
	DefaultMaxRows      = 50000
	DefaultRequestDelay = 120 * time.Millisecond
	DefaultTimeout      = 30 * time.Second
	DefaultMaxRetries   = 3
	DefaultRetryBase    = 250 * time.Millisecond
)

// Options tune one paged fetch.
type Options struct {
	PageSize     int
	MaxPages     int
	MaxRows      int
	RequestDelay time.Duration
	Timeout      time.Duration
	MaxRetries   int
	RetryBase    time.Duration

	// RequiredTokens filter rows client-side: a row is kept only when its
	// normalized JSON contains every token.
	RequiredTokens []string
}

func (o *Options) applyDefaults() {
	if o.PageSize < 1 {
		o.PageSize = DefaultPageSize
	}
	if o.MaxPages < 1 {
		o.MaxPages = DefaultMaxPages
	}
	if o.MaxRows < 1 {
		o.MaxRows = DefaultMaxRows
	}
	if o.RequestDelay < 0 {
		o.RequestDelay = 0
	}
	if o.Timeout < time.Second {
		o.Timeout = DefaultTimeout
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryBase < 10*time.Millisecond {
		o.RetryBase = DefaultRetryBase
	}
}

// PageTrace records one page request for diagnostics.
type PageTrace struct {
	PageIndex    int    `json:"page_index"`
	RangeStart   int    `json:"range_start"`
	RangeEnd     int    `json:"range_end"`
	Status       int    `json:"status"`
	Rows         int    `json:"rows"`
	ContentRange string `json:"content_range"`
}

// FetchResult is the outcome of a paged fetch.
type FetchResult struct {
	Endpoint           string                   `json:"endpoint"`
	FetchedPages       int                      `json:"fetched_pages"`
	TotalRows          int                      `json:"total_rows"`
	MatchedRows        int                      `json:"matched_rows"`
	TotalCountReported *int                     `json:"total_count_reported"`
	Rows               []map[string]interface{} `json:"rows"`
	PageTrace          []PageTrace              `json:"page_trace"`
	ElapsedMS          int64                    `json:"elapsed_ms"`
}

// Client fetches paged rows from a PostgREST endpoint.
type Client struct {
	httpClient *http.Client
	anonKey    string
}

// NewClient builds a client carrying the endpoint's anon key. The key is
// attached as both apikey and bearer token, the way PostgREST hosts expect.
func NewClient(anonKey string, timeout time.Duration) *Client {
	if timeout < time.Second {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		anonKey:    anonKey,
	}
}

var nonAlnumPattern = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeToken lower-cases a matching token and collapses every non
// alphanumeric run to a single space.
func NormalizeToken(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	value = nonAlnumPattern.ReplaceAllString(value, " ")
	return strings.TrimSpace(value)
}

// Fetch pulls rows page by page until the endpoint runs dry or a bound is
// hit, then applies the token filter. The error return carries a sanitized
// message; the anon key never appears in it.
func (c *Client) Fetch(ctx context.Context, endpoint string, opts Options) (*FetchResult, error) {
	opts.applyDefaults()
	started := time.Now()

	fullURL, err := withSelectParam(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	result := &FetchResult{
		Endpoint:  endpoint,
		Rows:      []map[string]interface{}{},
		PageTrace: []PageTrace{},
	}

	var rows []map[string]interface{}
	for pageIndex := 0; pageIndex < opts.MaxPages; pageIndex++ {
		start := pageIndex * opts.PageSize
		end := start + opts.PageSize - 1

		pageRows, contentRange, status, err := c.fetchPageWithRetry(ctx, fullURL, start, end, opts)
		if err != nil {
			result.FetchedPages = len(result.PageTrace)
			result.TotalRows = len(rows)
			result.ElapsedMS = time.Since(started).Milliseconds()
			return result, fmt.Errorf("page %d: %s", pageIndex, c.sanitize(err.Error()))
		}

		result.PageTrace = append(result.PageTrace, PageTrace{
			PageIndex:    pageIndex,
			RangeStart:   start,
			RangeEnd:     end,
			Status:       status,
			Rows:         len(pageRows),
			ContentRange: contentRange,
		})

		if total, ok := parseContentRangeTotal(contentRange); ok {
			result.TotalCountReported = &total
		}

		if len(pageRows) == 0 {
			break
		}
		rows = append(rows, pageRows...)

		if len(rows) >= opts.MaxRows {
			rows = rows[:opts.MaxRows]
			break
		}
		if len(pageRows) < opts.PageSize {
			break
		}
		if result.TotalCountReported != nil && len(rows) >= *result.TotalCountReported {
			break
		}

		if opts.RequestDelay > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(opts.RequestDelay):
			}
		}
	}

	matched := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		if rowMatches(row, opts.RequiredTokens) {
			matched = append(matched, row)
		}
	}

	result.FetchedPages = len(result.PageTrace)
	result.TotalRows = len(rows)
	result.MatchedRows = len(matched)
	result.Rows = matched
	result.ElapsedMS = time.Since(started).Milliseconds()
	return result, nil
}

func (c *Client) fetchPageWithRetry(ctx context.Context, fullURL string, start, end int, opts Options) ([]map[string]interface{}, string, int, error) {
	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			sleep := opts.RetryBase << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, "", 0, ctx.Err()
			case <-time.After(sleep):
			}
		}
		rows, contentRange, status, err := c.fetchPageOnce(ctx, fullURL, start, end)
		if err == nil {
			return rows, contentRange, status, nil
		}
		lastErr = err
	}
	return nil, "", 0, lastErr
}

func (c *Client) fetchPageOnce(ctx context.Context, fullURL string, start, end int) ([]map[string]interface{}, string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, "", 0, err
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+c.anonKey)
	req.Header.Set("Range", fmt.Sprintf("%d-%d", start, end))
	req.Header.Set("Prefer", "count=exact")
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", 0, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, "", res.StatusCode, err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, "", res.StatusCode, fmt.Errorf("status %d: %s", res.StatusCode, truncateBody(body))
	}

	rows, err := decodeRows(body)
	if err != nil {
		return nil, "", res.StatusCode, err
	}
	return rows, res.Header.Get("Content-Range"), res.StatusCode, nil
}

// withSelectParam ensures the endpoint carries a select parameter; PostgREST
// needs one to return row payloads.
func withSelectParam(endpoint string) (string, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	query := parsed.Query()
	if _, ok := query["select"]; !ok {
		query.Set("select", "*")
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// parseContentRangeTotal extracts the total from a "start-end/total" header.
// A "*" total means the server declined to count.
func parseContentRangeTotal(value string) (int, bool) {
	token := strings.TrimSpace(value)
	idx := strings.LastIndex(token, "/")
	if idx < 0 {
		return 0, false
	}
	total := token[idx+1:]
	if total == "*" || total == "" {
		return 0, false
	}
	parsed, err := strconv.Atoi(total)
	if err != nil || parsed < 0 {
		return 0, false
	}
	return parsed, true
}

// decodeRows accepts a bare array, a {"data": [...]} wrapper, or a single
// object, matching the payload shapes PostgREST hosts actually emit.
func decodeRows(body []byte) ([]map[string]interface{}, error) {
	var asList []json.RawMessage
	if err := json.Unmarshal(body, &asList); err == nil {
		out := make([]map[string]interface{}, 0, len(asList))
		for _, raw := range asList {
			var row map[string]interface{}
			if err := json.Unmarshal(raw, &row); err == nil {
				out = append(out, row)
			}
		}
		return out, nil
	}

	var asObject map[string]interface{}
	if err := json.Unmarshal(body, &asObject); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if data, ok := asObject["data"].([]interface{}); ok {
		out := make([]map[string]interface{}, 0, len(data))
		for _, item := range data {
			if row, ok := item.(map[string]interface{}); ok {
				out = append(out, row)
			}
		}
		return out, nil
	}
	return []map[string]interface{}{asObject}, nil
}

func rowMatches(row map[string]interface{}, requiredTokens []string) bool {
	if len(requiredTokens) == 0 {
		return true
	}
	encoded, err := json.Marshal(row)
	if err != nil {
		return false
	}
	haystack := NormalizeToken(string(encoded))
	for _, token := range requiredTokens {
		if !strings.Contains(haystack, token) {
			return false
		}
	}
	return true
}

// sanitize strips the anon key out of error text before it can reach logs
// or result payloads.
func (c *Client) sanitize(message string) string {
	if c.anonKey == "" {
		return message
	}
	return strings.ReplaceAll(message, c.anonKey, "[redacted]")
}

func truncateBody(body []byte) string {
	const max = 300
	s := string(body)
	if len(s) > max {
		s = s[:max]
	}
	return strings.TrimSpace(s)
}
