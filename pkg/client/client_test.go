package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, WithRetryMax(2), WithRetryWait(time.Millisecond, 2*time.Millisecond))
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient("")
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewClient("ftp://example.com")
	assert.ErrorIs(t, err, ErrInvalidConfig)

	c, err := NewClient("http://localhost:8080/", WithUserAgent("test/1"), WithTimeout(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", c.BaseURL())
	assert.Equal(t, "test/1", c.userAgent)
	assert.Equal(t, time.Second, c.httpClient.Timeout)
}

func TestExtract(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/extract", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "heart rate 72", body["text"])
		assert.Equal(t, 0.4, body["min_confidence"])
		_, hasRestoration := body["enable_restoration"]
		assert.False(t, hasRestoration)

		_, _ = w.Write([]byte(`{"entities":[{"key":0,"concept_id":"HR","start":0,"end":10,"confidence":1}],"processing_time_ms":3}`))
	})

	minConf := 0.4
	res, err := c.Extract(context.Background(), "heart rate 72", ExtractOptions{MinConfidence: &minConf})
	require.NoError(t, err)
	require.Len(t, res.Entities, 1)
	assert.Equal(t, "HR", res.Entities[0].ConceptID)
	assert.Equal(t, int64(3), res.ProcessingTimeMs)
}

func TestExtractBatchAndHints(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/extract/batch":
			_, _ = w.Write([]byte(`{"results":[{"entities":[]},{"entities":[]}],"count":2}`))
		case "/api/v1/hints/match":
			_, _ = w.Write([]byte(`{"matches":[{"concept_id":"FSC","start":0,"end":11}],"count":1}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	results, err := c.ExtractBatch(context.Background(), []string{"a", "b"}, ExtractOptions{})
	require.NoError(t, err)
	assert.Len(t, results, 2)

	matches, err := c.MatchHints(context.Background(), "check sugar")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "FSC", matches[0].ConceptID)
}

func TestRules(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/rules":
			_, _ = w.Write([]byte(`{"source":"file://data/rules","concepts":2}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/rules/HR":
			_, _ = w.Write([]byte(`{"concept_id":"HR","keyword":"Heart rate","strategy":"numeric"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/rules/reload":
			_, _ = w.Write([]byte(`{"concepts":3}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":"RULES_004","message":"no rule for concept","request_id":"srv-1"}`))
		}
	})
	ctx := context.Background()

	info, err := c.RulesInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Concepts)

	rule, err := c.GetRule(ctx, "HR")
	require.NoError(t, err)
	assert.Equal(t, "numeric", rule.Strategy)

	info, err = c.ReloadRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, info.Concepts)

	_, err = c.GetRule(ctx, "NOPE")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsNotFound())
	assert.Equal(t, "RULES_004", apiErr.Code)
	assert.Equal(t, "srv-1", apiErr.RequestID)
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	h, err := c.Ready(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ready", h.Status)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryExhausted(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"code":"COMMON_001","message":"internal server error"}`))
	})

	_, err := c.RulesInfo(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsServerError())
	assert.Equal(t, int32(3), calls.Load())
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("not json"))
	})

	_, err := c.Extract(context.Background(), "x", ExtractOptions{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "not json", apiErr.Message)
	assert.Equal(t, int32(1), calls.Load())
}

func TestContextCancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	c, err := NewClient(srv.URL, WithRetryWait(time.Hour, time.Hour))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.RulesInfo(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCalculateBackoff(t *testing.T) {
	c := &Client{retryWaitMin: 100 * time.Millisecond, retryWaitMax: 300 * time.Millisecond}
	b1 := c.calculateBackoff(1)
	assert.GreaterOrEqual(t, b1, 100*time.Millisecond)
	assert.Less(t, b1, 125*time.Millisecond)
	b5 := c.calculateBackoff(5)
	assert.GreaterOrEqual(t, b5, 300*time.Millisecond)
	assert.Less(t, b5, 375*time.Millisecond)
}
