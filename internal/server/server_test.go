package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/infra-logging/indexaudit/internal/analyze"
	"github.com/infra-logging/indexaudit/internal/config"
	"github.com/infra-logging/indexaudit/internal/models"
	"github.com/infra-logging/indexaudit/internal/pipeline"
	"github.com/infra-logging/indexaudit/internal/source"
)

func testServerConfig() config.ServerConfig {
	return config.ServerConfig{
		Host:            "127.0.0.1",
		Port:            0,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		RequestsPerMin:  600,
		Burst:           10,
	}
}

// recordingReporter returns a fixed report and remembers the options it was called with
type recordingReporter struct {
	opts []analyze.Options
	err  error
}

func (r *recordingReporter) Report(_ context.Context, opts analyze.Options) (*models.Report, error) {
	r.opts = append(r.opts, opts)
	if r.err != nil {
		return nil, r.err
	}
	return &models.Report{RunID: "run-1", TopN: opts.TopN, TargetShardGB: opts.TargetShardGB}, nil
}

func newTestServer(t *testing.T, reporter Reporter) *Server {
	t.Helper()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "indexaudit_records_valid_total 3")
	})
	return New(testServerConfig(), analyze.DefaultOptions(), reporter, metrics, zaptest.NewLogger(t))
}

func get(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t, &recordingReporter{})

	rec := get(t, s, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	rec = get(t, s, "/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ready"`)
}

func TestReadyWithoutReporter(t *testing.T) {
	s := New(testServerConfig(), analyze.DefaultOptions(), nil, nil, nil)

	assert.Equal(t, http.StatusServiceUnavailable, get(t, s, "/ready").Code)
	assert.Equal(t, http.StatusNotFound, get(t, s, "/metrics").Code)
}

func TestMetricsRoute(t *testing.T) {
	s := newTestServer(t, &recordingReporter{})

	rec := get(t, s, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "indexaudit_records_valid_total")
}

func TestReportHandler(t *testing.T) {
	reporter := &recordingReporter{}
	s := newTestServer(t, reporter)

	rec := get(t, s, "/api/v1/report")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var rep models.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Equal(t, "run-1", rep.RunID)
	assert.Equal(t, analyze.DefaultOptions(), reporter.opts[0])

	rec = get(t, s, "/api/v1/report?top=3&target_shard_gb=50")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, analyze.Options{TopN: 3, TargetShardGB: 50}, reporter.opts[1])
}

func TestReportHandlerBadParams(t *testing.T) {
	for _, query := range []string{"top=0", "top=abc", "target_shard_gb=-1", "target_shard_gb=x"} {
		t.Run(query, func(t *testing.T) {
			reporter := &recordingReporter{}
			s := newTestServer(t, reporter)

			rec := get(t, s, "/api/v1/report?"+query)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, reporter.opts, "reporter is not called")
		})
	}
}

func TestReportHandlerErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"no data", fmt.Errorf("failed to fetch records: %w", source.ErrNoData), http.StatusBadGateway, "NO_DATA"},
		{"nothing to analyze", fmt.Errorf("%w: 2 records, none valid", pipeline.ErrNothingToAnalyze), http.StatusUnprocessableEntity, "NOTHING_TO_ANALYZE"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &recordingReporter{err: tt.err})

			rec := get(t, s, "/api/v1/report")
			assert.Equal(t, tt.status, rec.Code)

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Code)
		})
	}
}

func TestReportMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, &recordingReporter{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/report", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testServerConfig()
	cfg.RequestsPerMin = 1
	cfg.Burst = 2
	s := New(cfg, analyze.DefaultOptions(), &recordingReporter{}, nil, zaptest.NewLogger(t))

	assert.Equal(t, http.StatusOK, get(t, s, "/api/v1/report").Code)
	assert.Equal(t, http.StatusOK, get(t, s, "/api/v1/report").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(t, s, "/api/v1/report").Code)

	// health checks are not limited
	assert.Equal(t, http.StatusOK, get(t, s, "/health").Code)

	// another client has its own budget
	req := httptest.NewRequest(http.MethodGet, "/api/v1/report", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.9, 10.0.0.1")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:51234"
	assert.Equal(t, "192.0.2.7", clientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 198.51.100.2")
	assert.Equal(t, "203.0.113.5", clientIP(req))
}

func TestStartStop(t *testing.T) {
	s := newTestServer(t, &recordingReporter{})

	require.NoError(t, s.Start(context.Background()))
	require.NotEmpty(t, s.Addr())

	resp, err := http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "healthy")

	require.NoError(t, s.Stop(context.Background()))

	_, err = http.Get("http://" + s.Addr() + "/health")
	assert.Error(t, err)
}

func TestStopWithoutStart(t *testing.T) {
	s := newTestServer(t, &recordingReporter{})
	assert.NoError(t, s.Stop(context.Background()))
}
