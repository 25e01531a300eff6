package server

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := New(Config{
		Host:    "localhost",
		Port:    "0",
		DataDir: t.TempDir(),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts
}

const stationsLayer = `{
	"id": "stations",
	"data": {"type": "geojson", "value": {"type": "Feature", "geometry": {"type": "Point", "coordinates": [1, 2]}, "properties": {"n": 3}}},
	"marker": {"pointSize": {"expression": "${n} * 2"}}
}`

func TestServerRoutes(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Values("Link"), `</api/v1/layers>; rel="layers"`)

	resp, err = http.Get(ts.URL + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "plat-mantle")

	resp, err = http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/api/v1/layers", "application/json", strings.NewReader(stationsLayer))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/api/v1/layers/stations/evaluate", "application/json", nil)
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"pointSize":6`)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "mantle_appearance_features_total 1")
	assert.Contains(t, string(body), `mantle_data_fetch_total{status="ok",type="geojson"} 1`)
}

func TestServerStream(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/v1/layers", "application/json", strings.NewReader(stationsLayer))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/layers/stations/stream", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	lines := bufio.NewScanner(resp.Body)
	lines.Buffer(make([]byte, 0, 64*1024), 1<<20)

	// next returns the next signal patch data line containing substr.
	next := func(substr string) string {
		for lines.Scan() {
			if line := lines.Text(); strings.HasPrefix(line, "data: signals") && strings.Contains(line, substr) {
				return line
			}
		}
		return ""
	}

	first := next("layerId")
	assert.Contains(t, first, `"layerId":"stations"`)
	assert.Contains(t, first, `"pointSize":6`)

	del, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/layers/stations", nil)
	require.NoError(t, err)
	dresp, err := http.DefaultClient.Do(del)
	require.NoError(t, err)
	dresp.Body.Close()

	// Recompute patches may arrive first; the stream ends with the deletion.
	assert.NotEmpty(t, next(`"deleted":true`))
}

func TestServerStreamUnknownLayer(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/v1/layers/missing/stream")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServerOpenAPI(t *testing.T) {
	srv := New(Config{Host: "localhost", Port: "8086", DataDir: t.TempDir()})
	oapi := srv.OpenAPI()
	for _, path := range []string{
		"/health",
		"/api/v1/layers/{id}",
		"/api/v1/layers/{id}/stream",
		"/api/v1/evaluate",
		"/api/v1/legacy/convert",
		"/api/v1/info",
	} {
		assert.Contains(t, oapi.Paths, path)
	}
}
