package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/batchflow/batch"
)

func newChannelServer(t *testing.T) (*httptest.Server, *batch.Manager) {
	t.Helper()
	m := batch.NewManager(batch.WithLogger(zap.NewNop()))
	t.Cleanup(m.Dispose)

	cfg := batch.DefaultChannelConfig()
	cfg.MaxBatchSize = 1
	cfg.MinBatchSize = 1
	require.NoError(t, m.InitializeChannel("search", cfg))
	require.NoError(t, m.InitializeChannel("embed", cfg))

	mux := http.NewServeMux()
	NewChannelHandler(m, zap.NewNop()).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, m
}

func decodeResponse(t *testing.T, resp *http.Response, data any) Response {
	t.Helper()
	defer resp.Body.Close()

	var raw struct {
		Response
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	if data != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, data))
	}
	return raw.Response
}

func TestChannelHandler_List(t *testing.T) {
	srv, m := newChannelServer(t)

	_, err := batch.Submit(context.Background(), m, "search", func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/v1/channels")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var channels []ChannelSummary
	body := decodeResponse(t, resp, &channels)
	assert.True(t, body.Success)
	require.Len(t, channels, 2)
	assert.Equal(t, "embed", channels[0].Name)
	assert.Equal(t, "search", channels[1].Name)
	assert.Equal(t, int64(1), channels[1].Statistics.Successful)
}

func TestChannelHandler_GetAndHealth(t *testing.T) {
	srv, _ := newChannelServer(t)

	resp, err := http.Get(srv.URL + "/v1/channels/search")
	require.NoError(t, err)
	var stats batch.Statistics
	decodeResponse(t, resp, &stats)
	assert.Equal(t, "search", stats.Channel)
	assert.True(t, stats.Running)

	resp, err = http.Get(srv.URL + "/v1/channels/search/health")
	require.NoError(t, err)
	var report batch.HealthReport
	decodeResponse(t, resp, &report)
	assert.Equal(t, batch.HealthStatusHealthy, report.Status)
}

func TestChannelHandler_UnknownChannel(t *testing.T) {
	srv, _ := newChannelServer(t)

	for _, path := range []string{"/v1/channels/missing", "/v1/channels/missing/health"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)

		body := decodeResponse(t, resp, nil)
		require.NotNil(t, body.Error)
		assert.Equal(t, "CHANNEL_NOT_INITIALIZED", body.Error.Code)
		assert.Equal(t, "missing", body.Error.Channel)
	}
}

func TestChannelHandler_StopResume(t *testing.T) {
	srv, m := newChannelServer(t)
	ctx := context.Background()

	resp, err := http.Post(srv.URL+"/v1/channels/search/stop", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	_, err = m.AddToBatch(ctx, "search", func(context.Context) (any, error) { return nil, nil })
	assert.Error(t, err)

	resp, err = http.Post(srv.URL+"/v1/channels/search/resume", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	_, err = batch.Submit(ctx, m, "search", func(context.Context) (string, error) { return "ok", nil })
	assert.NoError(t, err)

	resp, err = http.Post(srv.URL+"/v1/channels/missing/stop", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	// 只允许 POST
	resp, err = http.Get(srv.URL + "/v1/channels/search/stop")
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	resp.Body.Close()
}
