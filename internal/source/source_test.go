package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/infra-logging/indexaudit/internal/logging"
)

func TestFileSource(t *testing.T) {
	t.Run("Reads Records", func(t *testing.T) {
		src, err := NewFileSource("testdata/indexes.json")
		require.NoError(t, err)

		records, err := src.Fetch(context.Background())
		require.NoError(t, err)
		require.Len(t, records, 7)
		assert.Equal(t, "logs-app-2024.03.01", records[0]["index"])
		assert.Equal(t, "96000000000", records[0]["pri.store.size"])
		assert.Equal(t, "file:testdata/indexes.json", src.Name())
	})

	t.Run("Empty Array", func(t *testing.T) {
		src, err := NewFileSource("testdata/example-empty.json")
		require.NoError(t, err)

		records, err := src.Fetch(context.Background())
		require.NoError(t, err)
		assert.NotNil(t, records)
		assert.Empty(t, records)
	})

	t.Run("Mixed Elements Are Kept", func(t *testing.T) {
		src, err := NewFileSource("testdata/example-invalid.json")
		require.NoError(t, err)

		records, err := src.Fetch(context.Background())
		require.NoError(t, err)
		require.Len(t, records, 6)
		assert.Equal(t, "not-an-object", records[4][ValueKey])
		assert.Equal(t, json.Number("45000000000"), records[5]["pri.store.size"])
	})

	t.Run("Corrupt File", func(t *testing.T) {
		src, err := NewFileSource("testdata/example-corrupt.json")
		require.NoError(t, err)

		_, err = src.Fetch(context.Background())
		assert.Error(t, err)
		assert.False(t, errors.Is(err, ErrNoData))
	})

	t.Run("Null Document", func(t *testing.T) {
		src, err := NewFileSource("testdata/example-null.json")
		require.NoError(t, err)

		_, err = src.Fetch(context.Background())
		assert.ErrorIs(t, err, ErrNoData)
	})

	t.Run("Missing File", func(t *testing.T) {
		src, err := NewFileSource("testdata/does-not-exist.json")
		require.NoError(t, err)

		_, err = src.Fetch(context.Background())
		assert.Error(t, err)
	})

	t.Run("Empty Path", func(t *testing.T) {
		_, err := NewFileSource("")
		assert.Error(t, err)
	})
}

// catServer serves canned _cat/indices responses keyed by the date in the path
type catServer struct {
	mu        sync.Mutex
	responses map[string]func(w http.ResponseWriter)
	paths     []string
	queries   []string
}

func (c *catServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	c.paths = append(c.paths, r.URL.Path)
	c.queries = append(c.queries, r.URL.RawQuery)
	c.mu.Unlock()

	for key, respond := range c.responses {
		if strings.HasSuffix(r.URL.Path, key) {
			respond(w)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, "[]")
}

func jsonBody(body string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}
}

func fixedClock(t *testing.T) func() time.Time {
	t.Helper()
	// 03:00 UTC on March 3rd is still March 2nd in Toronto
	return func() time.Time { return time.Date(2024, 3, 3, 3, 0, 0, 0, time.UTC) }
}

func toronto(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Toronto")
	require.NoError(t, err)
	return loc
}

func newTestHTTPSource(t *testing.T, endpoint string, days int) *HTTPSource {
	t.Helper()
	src, err := NewHTTPSource(HTTPConfig{
		Endpoint: endpoint,
		Days:     days,
		Location: toronto(t),
		Timeout:  2 * time.Second,
	}, logging.FromZap(zaptest.NewLogger(t)), WithClock(fixedClock(t)))
	require.NoError(t, err)
	return src
}

func TestHTTPSourceQueries(t *testing.T) {
	server := &catServer{responses: map[string]func(http.ResponseWriter){
		"*2024*03*02": jsonBody(`[{"index":"logs-2024.03.02","pri.store.size":"1000000000","pri":"1"}]`),
		"*2024*03*01": jsonBody(`[{"index":"logs-2024.03.01","pri.store.size":"2000000000","pri":"2"},
			{"index":"metrics-2024.03.01","pri.store.size":"3000000000","pri":"3"}]`),
		"*2024*02*29": jsonBody(`[{"index":"logs-2024.02.29","pri.store.size":"4000000000","pri":"4"}]`),
	}}
	ts := httptest.NewServer(server)
	defer ts.Close()

	src := newTestHTTPSource(t, ts.URL, 3)

	records, err := src.Fetch(context.Background())
	require.NoError(t, err)

	var names []string
	for _, r := range records {
		names = append(names, r["index"].(string))
	}
	assert.Equal(t, []string{"logs-2024.03.02", "logs-2024.03.01", "metrics-2024.03.01", "logs-2024.02.29"}, names)

	assert.Equal(t, []string{
		"/_cat/indices/*2024*03*02",
		"/_cat/indices/*2024*03*01",
		"/_cat/indices/*2024*02*29",
	}, server.paths)
	for _, q := range server.queries {
		assert.Equal(t, "v&h=index,pri.store.size,pri&format=json&bytes=b", q)
	}
}

func TestHTTPSourceSkipsFailedDays(t *testing.T) {
	server := &catServer{responses: map[string]func(http.ResponseWriter){
		"*2024*03*02": func(w http.ResponseWriter) {
			http.Error(w, "boom", http.StatusInternalServerError)
		},
		"*2024*03*01": jsonBody(`{"error":{"type":"index_not_found_exception"},"status":404}`),
		"*2024*02*29": jsonBody(`[{"index":"kept","pri.store.size":"1","pri":"1"}]`),
		"*2024*02*28": jsonBody(`not json`),
	}}
	ts := httptest.NewServer(server)
	defer ts.Close()

	src := newTestHTTPSource(t, ts.URL, 4)

	records, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "kept", records[0]["index"])
	assert.Len(t, server.paths, 4, "every day is queried even after failures")
}

func TestHTTPSourceAllDaysFail(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	src := newTestHTTPSource(t, ts.URL, 2)

	records, err := src.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrNoData)
	assert.Nil(t, records)
}

func TestHTTPSourceEmptyDaysAreNotFailures(t *testing.T) {
	ts := httptest.NewServer(&catServer{})
	defer ts.Close()

	src := newTestHTTPSource(t, ts.URL, 3)

	records, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestHTTPSourceCancelled(t *testing.T) {
	ts := httptest.NewServer(&catServer{})
	defer ts.Close()

	src := newTestHTTPSource(t, ts.URL, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := src.Fetch(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPSourceDays(t *testing.T) {
	src := newTestHTTPSource(t, "es.example.com:9200", 3)

	days := src.Days()
	require.Len(t, days, 3)
	assert.Equal(t, "2024-03-02", days[0].Format("2006-01-02"))
	assert.Equal(t, "2024-03-01", days[1].Format("2006-01-02"))
	assert.Equal(t, "2024-02-29", days[2].Format("2006-01-02"))

	assert.Equal(t,
		"https://es.example.com:9200/_cat/indices/*2024*03*02?v&h=index,pri.store.size,pri&format=json&bytes=b",
		src.QueryURL(days[0]))
}

func TestNewHTTPSourceValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  HTTPConfig
		wantErr bool
		baseURL string
	}{
		{"bare host", HTTPConfig{Endpoint: "logs.example.com", Days: 1}, false, "https://logs.example.com"},
		{"bare host with scheme", HTTPConfig{Endpoint: "logs.example.com:9200", Scheme: "http", Days: 1}, false, "http://logs.example.com:9200"},
		{"full url with path", HTTPConfig{Endpoint: "http://proxy.local/es/", Days: 1}, false, "http://proxy.local/es"},
		{"missing endpoint", HTTPConfig{Days: 1}, true, ""},
		{"zero days", HTTPConfig{Endpoint: "logs.example.com", Days: 0}, true, ""},
		{"bad scheme", HTTPConfig{Endpoint: "ftp://logs.example.com", Days: 1}, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := NewHTTPSource(tt.config, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.baseURL, src.Name())
		})
	}
}
