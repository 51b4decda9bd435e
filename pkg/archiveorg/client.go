// Package archiveorg queries the Internet Archive advanced search API for identifier existence.
package archiveorg

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL   = "https://archive.org/advancedsearch.php"
	defaultUserAgent = "archive-check/1.0"

	// MaxRows is the largest result page the search endpoint serves.
	MaxRows = 300
)

// Client checks which archive identifiers exist.
type Client interface {
	// Existing returns the subset of ids the archive reports, asking for at most rows results.
	Existing(ctx context.Context, ids []string, rows int) ([]string, error)
}

// SearchResponse is the JSON body returned by advancedsearch.php.
type SearchResponse struct {
	ResponseHeader ResponseHeader `json:"responseHeader"`
	Response       Result         `json:"response"`
}

// ResponseHeader echoes the query status.
type ResponseHeader struct {
	Status int `json:"status"`
	QTime  int `json:"QTime"`
}

// Result holds the matching documents.
type Result struct {
	NumFound int   `json:"numFound"`
	Start    int   `json:"start"`
	Docs     []Doc `json:"docs"`
}

// Doc is a single search hit. Only the identifier field is requested.
type Doc struct {
	Identifier string `json:"identifier"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default search endpoint.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *httpClient) {
		c.userAgent = ua
	}
}

// WithMaxRows lowers the per-query row cap. Values above MaxRows are ignored.
func WithMaxRows(n int) Option {
	return func(c *httpClient) {
		if n > 0 && n <= MaxRows {
			c.maxRows = n
		}
	}
}

// WithRateLimit paces queries to perSec requests per second. Zero disables pacing.
func WithRateLimit(perSec float64) Option {
	return func(c *httpClient) {
		if perSec <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSec), 1)
	}
}

type httpClient struct {
	baseURL   string
	userAgent string
	maxRows   int
	http      *http.Client
	limiter   *rate.Limiter
}

// NewClient creates an archive search client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL:   defaultBaseURL,
		userAgent: defaultUserAgent,
		maxRows:   MaxRows,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(1, 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// IdentifierQuery builds the OR query for the given identifiers.
func IdentifierQuery(ids []string) string {
	return "identifier:(" + strings.Join(ids, " OR ") + ")"
}

// SearchURL builds the request URL for an existence query.
func SearchURL(base string, ids []string, rows int) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", eris.Wrap(err, "archiveorg: parse base url")
	}
	q := u.Query()
	q.Set("q", IdentifierQuery(ids))
	q.Set("fl[]", "identifier")
	q.Set("rows", strconv.Itoa(rows))
	q.Set("page", "1")
	q.Set("output", "json")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *httpClient) Existing(ctx context.Context, ids []string, rows int) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if rows <= 0 {
		rows = len(ids)
	}
	if rows > c.maxRows {
		return nil, eris.Errorf("archiveorg: %d rows exceeds cap of %d", rows, c.maxRows)
	}

	reqURL, err := SearchURL(c.baseURL, ids, rows)
	if err != nil {
		return nil, err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "archiveorg: rate limiter wait")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "archiveorg: create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "archiveorg: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "archiveorg: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("archiveorg: unexpected status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var result SearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "archiveorg: unmarshal response")
	}

	found := make([]string, 0, len(result.Response.Docs))
	for _, d := range result.Response.Docs {
		if d.Identifier != "" {
			found = append(found, d.Identifier)
		}
	}
	return found, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
