package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nft-market-etl/internal/config"
	"nft-market-etl/internal/domain"
	"nft-market-etl/internal/logging"
	"nft-market-etl/internal/orchestrator"
	"nft-market-etl/internal/tasks"
)

func testApp(t *testing.T) (*app, http.Handler) {
	t.Helper()

	cfg := config.FromEnv()
	cfg.StorageBackend = config.StorageMemory
	cfg.Broker = config.BrokerChannel
	cfg.PostgresDSN = ""
	cfg.ClickhouseDSN = ""
	cfg.Mnemonic.BaseURL = "http://127.0.0.1:1"
	cfg.Gallop.BaseURL = "http://127.0.0.1:1"

	ctx, cancel := context.WithCancel(context.Background())
	a, cleanup, err := build(ctx, cfg, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		cleanup()
	})
	return a, a.routes(ctx)
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestRoutes_Health(t *testing.T) {
	_, h := testApp(t)

	rec := do(t, h, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestRoutes_Status(t *testing.T) {
	_, h := testApp(t)

	rec := do(t, h, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "running", resp.Status)
	assert.Equal(t, orchestrator.StateIdle, resp.State)
	assert.False(t, resp.StorageInitialized, "storage connects on first use")
	assert.Nil(t, resp.LastCycle)
}

func TestRoutes_Rankings(t *testing.T) {
	a, h := testApp(t)

	_, err := a.dispatcher.Call(context.Background(), tasks.CreateRankings, tasks.RankingsPayload{
		Metric:   domain.MetricSalesVolume,
		Duration: domain.DurationOneDay,
		Entries: []domain.RankingEntry{
			{Metric: domain.MetricSalesVolume, Duration: domain.DurationOneDay, Position: 1, Collection: "0xaaa", Value: decimal.NewFromInt(50)},
			{Metric: domain.MetricSalesVolume, Duration: domain.DurationOneDay, Position: 2, Collection: "0xbbb", Value: decimal.NewFromInt(20)},
		},
		FetchedAt: time.Now().UTC(),
	}, nil)
	require.NoError(t, err)

	rec := do(t, h, http.MethodGet, "/rankings?metric=sales_volume&duration=ONE_DAY")
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []domain.RankingEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "0xaaa", entries[0].Collection)
	assert.Equal(t, "0xbbb", entries[1].Collection)

	rec = do(t, h, http.MethodGet, "/status")
	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.StorageInitialized)
}

func TestRoutes_RankingsRejectsUnknownEnum(t *testing.T) {
	_, h := testApp(t)

	rec := do(t, h, http.MethodGet, "/rankings?metric=volume&duration=ONE_DAY")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid input")
}

func TestRoutes_DeleteRankingsQueuesTask(t *testing.T) {
	_, h := testApp(t)

	rec := do(t, h, http.MethodPost, "/rankings/delete")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["task_id"])

	rec = do(t, h, http.MethodGet, "/status")
	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.QueueLength)
}

func TestRoutes_TaskResultNeedsRedis(t *testing.T) {
	_, h := testApp(t)

	rec := do(t, h, http.MethodGet, "/tasks/abc")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	_, h := testApp(t)

	rec := do(t, h, http.MethodGet, "/refresh")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
