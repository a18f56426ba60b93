package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nft-market-etl/internal/domain"
)

type pingResponse struct {
	Value string `json:"value"`
}

func TestClient_Get(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/ping", r.URL.Path)
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"value": "pong"})
	}))
	defer server.Close()

	client := NewClient(domain.ProviderMnemonic, server.URL+"/", WithAPIKey("X-API-Key", "secret"))

	var out pingResponse
	err := client.Get(context.Background(), "ping", "/v1/ping", url.Values{"limit": {"10"}}, &out)
	require.NoError(t, err)
	assert.Equal(t, "pong", out.Value)
}

func TestClient_Post(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "one_day", body["interval"])

		json.NewEncoder(w).Encode(map[string]string{"value": "ok"})
	}))
	defer server.Close()

	client := NewClient(domain.ProviderGallop, server.URL)

	var out pingResponse
	err := client.Post(context.Background(), "leaderboard", "/", map[string]string{"interval": "one_day"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Value)
}

func TestClient_RetriesOn429(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"value": "finally"})
	}))
	defer server.Close()

	client := NewClient(domain.ProviderMnemonic, server.URL,
		WithMaxRetries(3),
		WithRetryDelay(5*time.Millisecond),
	)

	var out pingResponse
	require.NoError(t, client.Get(context.Background(), "ping", "/", nil, &out))
	assert.Equal(t, "finally", out.Value)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_MaxRetriesExceeded(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(domain.ProviderGallop, server.URL,
		WithMaxRetries(2),
		WithRetryDelay(time.Millisecond),
	)

	err := client.Get(context.Background(), "floor", "/", nil, nil)
	require.Error(t, err)

	var upErr *UpstreamFetchError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, domain.ProviderGallop, upErr.Provider)
	assert.Equal(t, "floor", upErr.Resource)
	assert.Equal(t, http.StatusBadGateway, upErr.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"bad key"}`))
	}))
	defer server.Close()

	client := NewClient(domain.ProviderMnemonic, server.URL, WithRetryDelay(time.Millisecond))

	err := client.Get(context.Background(), "metadata", "/", nil, nil)

	var upErr *UpstreamFetchError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, http.StatusUnauthorized, upErr.StatusCode)
	assert.Contains(t, upErr.Error(), "bad key")
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_OnlyStatusOKSucceeds(t *testing.T) {
	for _, status := range []int{http.StatusCreated, http.StatusNoContent} {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(status)
		}))

		client := NewClient(domain.ProviderGallop, server.URL, WithRetryDelay(time.Millisecond))
		var out pingResponse
		err := client.Post(context.Background(), "leaderboard", "/", map[string]string{}, &out)
		server.Close()

		var upErr *UpstreamFetchError
		require.True(t, errors.As(err, &upErr), "status %d", status)
		assert.Equal(t, status, upErr.StatusCode)
		assert.Equal(t, int32(1), calls.Load(), "status %d is not retried", status)
	}
}

func TestClient_UndecodableBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	client := NewClient(domain.ProviderMnemonic, server.URL)

	var out pingResponse
	err := client.Get(context.Background(), "ping", "/", nil, &out)

	var upErr *UpstreamFetchError
	require.True(t, errors.As(err, &upErr))
	assert.ErrorContains(t, err, "unmarshal response")
}

func TestClient_WaitsOnLimiter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(domain.ProviderMnemonic, server.URL, WithLimiter(NewLimiter(10, 200*time.Millisecond)))

	jobs := make([]Job[struct{}], 4)
	for i := range jobs {
		jobs[i] = func(ctx context.Context) (struct{}, error) {
			return struct{}{}, client.Get(ctx, "ping", "/", nil, nil)
		}
	}

	start := time.Now()
	results := RunAll(context.Background(), MaxThroughput(), jobs)
	elapsed := time.Since(start)

	for _, r := range results {
		require.NoError(t, r.Err)
	}
	// 4 calls spaced 20ms apart
	assert.GreaterOrEqual(t, elapsed, 55*time.Millisecond)
}
