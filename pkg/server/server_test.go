package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tzockt/speedtest-exporter/pkg/metrics"
	"github.com/tzockt/speedtest-exporter/pkg/speedtest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// providerFunc adapts a func to RecordProvider.
type providerFunc func(ctx context.Context) *speedtest.Result

func (f providerFunc) Current(ctx context.Context) *speedtest.Result {
	return f(ctx)
}

func successProvider() providerFunc {
	return func(ctx context.Context) *speedtest.Result {
		return &speedtest.Result{
			DownloadBps: 100000000,
			UploadBps:   20000000,
			PingMs:      12.3,
			JitterMs:    1.1,
			ServerID:    1234,
			MeasuredAt:  time.Now(),
			Success:     true,
		}
	}
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestIndex(t *testing.T) {
	srv := New(successProvider(), metrics.New(), testLogger())

	rec := get(t, srv, "/")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Speedtest Exporter")
	assert.Contains(t, rec.Body.String(), `href="/metrics"`)
	assert.Contains(t, rec.Body.String(), `href="/health"`)
}

func TestHealth(t *testing.T) {
	srv := New(successProvider(), metrics.New(), testLogger())

	rec := get(t, srv, "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestMetricsSuccess(t *testing.T) {
	srv := New(successProvider(), metrics.New(), testLogger())

	rec := get(t, srv, "/metrics")

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "speedtest_up 1")
	assert.Contains(t, body, "speedtest_download_bits_per_second 1e+08")
	assert.Contains(t, body, "speedtest_server_id 1234")
}

func TestMetricsFailureStillReturns200(t *testing.T) {
	failing := providerFunc(func(ctx context.Context) *speedtest.Result {
		return speedtest.FailedResult(time.Now())
	})
	srv := New(failing, metrics.New(), testLogger())

	rec := get(t, srv, "/metrics")

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "speedtest_up 0")
	assert.Contains(t, body, "speedtest_download_bits_per_second 0")
}

func TestHealthRespondsWhileMeasurementInFlight(t *testing.T) {
	release := make(chan struct{})
	slow := providerFunc(func(ctx context.Context) *speedtest.Result {
		<-release
		return speedtest.FailedResult(time.Now())
	})
	srv := New(slow, metrics.New(), testLogger())

	metricsDone := make(chan struct{})
	go func() {
		defer close(metricsDone)
		get(t, srv, "/metrics")
	}()
	defer func() {
		close(release)
		<-metricsDone
	}()

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- get(t, srv, "/health")
	}()

	select {
	case rec := <-done:
		assert.Equal(t, http.StatusOK, rec.Code)
	case <-time.After(time.Second):
		t.Fatal("/health blocked behind an in-flight measurement")
	}
}
