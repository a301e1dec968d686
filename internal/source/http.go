package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/infra-logging/indexaudit/internal/logging"
	"github.com/infra-logging/indexaudit/internal/models"
	"github.com/infra-logging/indexaudit/internal/telemetry"
)

// catColumns selects the _cat/indices columns the normalizer reads
const catColumns = "index,pri.store.size,pri"

// HTTPConfig configures the per-day _cat/indices source
type HTTPConfig struct {
	Endpoint      string
	Scheme        string
	Days          int
	Location      *time.Location
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
}

// HTTPSource issues one _cat/indices query per day, newest day first
type HTTPSource struct {
	config  HTTPConfig
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  logging.Logger
	now     func() time.Time
}

// HTTPOption customizes an HTTPSource
type HTTPOption func(*HTTPSource)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(s *HTTPSource) {
		s.client = client
	}
}

// WithClock replaces the wall clock used to pick the query days
func WithClock(now func() time.Time) HTTPOption {
	return func(s *HTTPSource) {
		s.now = now
	}
}

// NewHTTPSource validates config and creates an HTTP source
func NewHTTPSource(config HTTPConfig, logger logging.Logger, opts ...HTTPOption) (*HTTPSource, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if config.Days < 1 {
		return nil, fmt.Errorf("days must be at least 1, got %d", config.Days)
	}
	if config.Scheme == "" {
		config.Scheme = "https"
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.GetLogger()
	}

	baseURL, err := buildBaseURL(config.Scheme, config.Endpoint)
	if err != nil {
		return nil, err
	}

	limit := rate.Inf
	if config.RatePerSecond > 0 {
		limit = rate.Limit(config.RatePerSecond)
	}
	burst := config.Burst
	if burst < 1 {
		burst = 1
	}

	s := &HTTPSource{
		config:  config,
		baseURL: baseURL,
		client:  &http.Client{},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With(zap.String("component", "http_source")),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// buildBaseURL accepts a bare host[:port] or a full URL
func buildBaseURL(scheme, endpoint string) (string, error) {
	raw := endpoint
	if !strings.Contains(endpoint, "://") {
		raw = scheme + "://" + endpoint
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid endpoint %q: missing host", endpoint)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid endpoint %q: unsupported scheme %s", endpoint, u.Scheme)
	}

	return strings.TrimRight(u.Scheme+"://"+u.Host+u.Path, "/"), nil
}

// Name identifies the source in reports
func (s *HTTPSource) Name() string {
	return s.baseURL
}

// Days returns the calendar days queried by the next Fetch, newest first
func (s *HTTPSource) Days() []time.Time {
	today := s.now().In(s.config.Location)
	today = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, s.config.Location)

	days := make([]time.Time, 0, s.config.Days)
	for i := 0; i < s.config.Days; i++ {
		days = append(days, today.AddDate(0, 0, -i))
	}
	return days
}

// QueryURL builds the _cat/indices query for one day
func (s *HTTPSource) QueryURL(day time.Time) string {
	return fmt.Sprintf("%s/_cat/indices/*%s*%s*%s?v&h=%s&format=json&bytes=b",
		s.baseURL, day.Format("2006"), day.Format("01"), day.Format("02"), catColumns)
}

// Fetch queries every day and concatenates the results in day order.
// A failing day is logged and skipped; only when every day fails does
// Fetch return ErrNoData.
func (s *HTTPSource) Fetch(ctx context.Context) ([]models.RawRecord, error) {
	ctx, span := telemetry.StartSpan(ctx, "source.http.fetch")
	defer span.End()

	days := s.Days()
	all := make([]models.RawRecord, 0)
	var failed int
	var lastErr error

	for _, day := range days {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		records, err := s.fetchDay(ctx, day)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			failed++
			lastErr = err
			s.logger.Warn(ctx, "Failed to retrieve data for date",
				zap.String("date", day.Format("2006/01/02")),
				zap.Error(err))
			_ = telemetry.IncrementCounter(ctx, telemetry.MetricDayFetches, attribute.String("status", "failed"))
			continue
		}

		_ = telemetry.IncrementCounter(ctx, telemetry.MetricDayFetches, attribute.String("status", "ok"))
		s.logger.Debug(ctx, "Retrieved index data",
			zap.String("date", day.Format("2006/01/02")),
			zap.Int("records", len(records)))
		all = append(all, records...)
	}

	if failed == len(days) {
		span.SetStatus(codes.Error, "all day queries failed")
		return nil, fmt.Errorf("%w: all %d day queries failed, last error: %v", ErrNoData, failed, lastErr)
	}

	span.SetAttributes(
		attribute.Int("days", len(days)),
		attribute.Int("days_failed", failed),
		attribute.Int("records", len(all)),
	)
	return all, nil
}

func (s *HTTPSource) fetchDay(ctx context.Context, day time.Time) ([]models.RawRecord, error) {
	ctx, span := telemetry.StartSpan(ctx, "source.http.fetch_day")
	defer span.End()
	span.SetAttributes(attribute.String("date", day.Format("2006-01-02")))

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.QueryURL(day), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("unexpected status %d", resp.StatusCode)
		span.RecordError(err)
		return nil, err
	}

	records, err := decodeRecords(resp.Body)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	if records == nil {
		return nil, errors.New("malformed response: null body")
	}

	return records, nil
}
