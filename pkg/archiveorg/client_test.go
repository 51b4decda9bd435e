package archiveorg

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(baseURL string, opts ...Option) Client {
	all := append([]Option{WithBaseURL(baseURL), WithRateLimit(0)}, opts...)
	return NewClient(all...)
}

func searchBody(ids ...string) SearchResponse {
	docs := make([]Doc, len(ids))
	for i, id := range ids {
		docs[i] = Doc{Identifier: id}
	}
	return SearchResponse{Response: Result{NumFound: len(ids), Docs: docs}}
}

func TestExisting_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))

		q := r.URL.Query()
		assert.Equal(t, "identifier:(ep-1 OR ep-2 OR ep-3)", q.Get("q"))
		assert.Equal(t, "identifier", q.Get("fl[]"))
		assert.Equal(t, "3", q.Get("rows"))
		assert.Equal(t, "1", q.Get("page"))
		assert.Equal(t, "json", q.Get("output"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(searchBody("ep-3", "ep-1"))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, WithUserAgent("test-agent"))
	got, err := client.Existing(context.Background(), []string{"ep-1", "ep-2", "ep-3"}, 3)

	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ep-1", "ep-3"}, got)
}

func TestExisting_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{name: "server_error", status: http.StatusInternalServerError, body: `oops`, wantErr: "unexpected status 500"},
		{name: "rate_limit", status: http.StatusTooManyRequests, body: `slow down`, wantErr: "unexpected status 429"},
		{name: "malformed_response", status: http.StatusOK, body: `{invalid json`, wantErr: "unmarshal response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestClient(srv.URL).Existing(context.Background(), []string{"a"}, 1)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, int32(1), calls.Load(), "queries are never retried")
		})
	}
}

func TestExisting_EmptyIDsSkipsRequest(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL).Existing(context.Background(), nil, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, int32(0), calls.Load())
}

func TestExisting_RowsOverCap(t *testing.T) {
	t.Parallel()

	client := newTestClient("http://127.0.0.1:0", WithMaxRows(100))
	_, err := client.Existing(context.Background(), []string{"a"}, 101)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds cap of 100")
}

func TestExisting_DefaultRowsFromIDs(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("rows"))
		json.NewEncoder(w).Encode(searchBody())
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL).Existing(context.Background(), []string{"a", "b"}, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestExisting_SkipsBlankIdentifiers(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":{"numFound":2,"docs":[{"identifier":""},{"identifier":"a"},{"title":"x"}]}}`))
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL).Existing(context.Background(), []string{"a"}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got)
}

func TestExisting_ContextCancellation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient(WithBaseURL(srv.URL)).Existing(ctx, []string{"a"}, 1)
	require.Error(t, err)
}

func TestExisting_RateLimited(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(searchBody())
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, WithRateLimit(10))
	start := time.Now()
	for range 3 {
		_, err := client.Existing(context.Background(), []string{"a"}, 1)
		require.NoError(t, err)
	}
	// Burst of one at 10/s: the second and third query wait ~100ms each.
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestSearchURL(t *testing.T) {
	t.Parallel()

	raw, err := SearchURL("https://archive.org/advancedsearch.php", []string{"x", "y"}, 250)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "archive.org", u.Host)
	assert.Equal(t, "/advancedsearch.php", u.Path)
	assert.Equal(t, "identifier:(x OR y)", u.Query().Get("q"))
	assert.Equal(t, "250", u.Query().Get("rows"))
	assert.Contains(t, raw, "q=identifier%3A%28x+OR+y%29")
}

func TestSearchURL_BadBase(t *testing.T) {
	t.Parallel()

	_, err := SearchURL("://bad", []string{"x"}, 1)
	require.Error(t, err)
}

func TestIdentifierQuery(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "identifier:(a)", IdentifierQuery([]string{"a"}))
	assert.Equal(t, "identifier:(a OR b)", IdentifierQuery([]string{"a", "b"}))
}

func TestOptions(t *testing.T) {
	t.Parallel()

	hc := &http.Client{}
	c := NewClient(WithHTTPClient(hc), WithMaxRows(500), WithRateLimit(0)).(*httpClient)
	assert.Equal(t, hc, c.http)
	assert.Equal(t, MaxRows, c.maxRows, "caps above MaxRows are ignored")
	assert.Nil(t, c.limiter)

	c = NewClient(WithMaxRows(250)).(*httpClient)
	assert.Equal(t, 250, c.maxRows)
	assert.NotNil(t, c.limiter)
}
