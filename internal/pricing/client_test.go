package pricing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetQuote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/markets/quotes", r.URL.Path)
		assert.Equal(t, "HIMS", r.URL.Query().Get("symbols"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"quotes":{"quote":{"symbol":"HIMS","last":36.85,"bid":36.8,"ask":36.9}}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", 5*time.Second, nil)
	quote, err := client.GetQuote(context.Background(), "hims")
	require.NoError(t, err)
	assert.Equal(t, "HIMS", quote.Symbol)
	assert.InDelta(t, 36.85, quote.Last, 1e-9)
}

func TestGetQuoteRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"quotes":{"quote":{"symbol":"SOFI","last":8.12}}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", 5*time.Second, nil).WithRetry(RetryConfig{
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	})
	quote, err := client.GetQuote(context.Background(), "SOFI")
	require.NoError(t, err)
	assert.InDelta(t, 8.12, quote.Last, 1e-9)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetQuoteDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad token"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "bad-key", 5*time.Second, nil).WithRetry(RetryConfig{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	})
	_, err := client.GetQuote(context.Background(), "HIMS")
	require.Error(t, err)
	apiErr := &APIError{}
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, int32(1), calls.Load(), "4xx responses must not be retried")
}

func TestListActivePositions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/accounts/acct-1/positions", r.URL.Path)
		_, _ = w.Write([]byte(`{"positions":{"position":[
			{"id":"p1","symbol":"HIMS","asset_type":"equity","long_quantity":200,"market_value":7370},
			{"id":"p2","symbol":"HIMS  251017C00040000","asset_type":"option","short_quantity":2,"market_value":-250},
			{"id":"p3","symbol":"SOFI","asset_type":"equity","long_quantity":100,"market_value":812}
		]}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", 5*time.Second, nil)
	positions, err := client.ListActivePositions(context.Background(), "acct-1", []string{"hims"})
	require.NoError(t, err)
	require.Len(t, positions, 2, "SOFI filtered out by ticker list")

	assert.Equal(t, "EQUITY", positions[0].AssetType)
	assert.Equal(t, 200.0, positions[0].LongQuantity)

	opt := positions[1]
	assert.Equal(t, "OPTION", opt.AssetType)
	assert.Equal(t, "HIMS", opt.UnderlyingSymbol)
	assert.Equal(t, "CALL", string(opt.OptionType))
	assert.InDelta(t, 40.0, opt.StrikePrice, 1e-9)
	assert.Equal(t, "2025-10-17", opt.ExpirationDate)
}

func TestListActivePositionsKeepsUnparseableOptionRow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"positions":{"position":[
			{"id":"p1","symbol":"GARBAGE","asset_type":"option","short_quantity":1}
		]}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", 5*time.Second, nil)
	positions, err := client.ListActivePositions(context.Background(), "acct-1", nil)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "EQUITY", positions[0].AssetType, "unparseable option rows fall back to equity")
}
