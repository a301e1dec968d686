// Package pipeline wires a record source through normalization and
// analysis into report sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/infra-logging/indexaudit/internal/analyze"
	"github.com/infra-logging/indexaudit/internal/logging"
	"github.com/infra-logging/indexaudit/internal/models"
	"github.com/infra-logging/indexaudit/internal/normalize"
	"github.com/infra-logging/indexaudit/internal/report"
	"github.com/infra-logging/indexaudit/internal/source"
	"github.com/infra-logging/indexaudit/internal/telemetry"
)

// ErrNothingToAnalyze is returned when no record survived normalization
var ErrNothingToAnalyze = errors.New("data could not be analyzed")

// Publisher ships a finished report to downstream consumers
type Publisher interface {
	Publish(ctx context.Context, r *models.Report) error
}

// Runner executes one analysis run
type Runner struct {
	Source     source.Source
	Normalizer *normalize.Normalizer
	Sink       report.Sink
	Publisher  Publisher
	Options    analyze.Options
	Logger     logging.Logger

	// now and newID are replaced in tests
	now   func() time.Time
	newID func() string
}

// NewRunner creates a runner with the default normalizer
func NewRunner(src source.Source, sink report.Sink, opts analyze.Options, logger logging.Logger) *Runner {
	return &Runner{
		Source:  src,
		Sink:    sink,
		Options: opts,
		Logger:  logger,
	}
}

// Run fetches, normalizes and analyzes the source records, writes the
// report to the sink and publishes it when a publisher is set.
// Publishing failures are logged and do not fail the run.
func (r *Runner) Run(ctx context.Context) (*models.Report, error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "pipeline.run")
	defer span.End()
	defer func() {
		_ = telemetry.RecordDuration(ctx, telemetry.MetricRun, start)
	}()

	if r.Source == nil {
		return nil, fmt.Errorf("pipeline has no source")
	}
	logger := r.logger()

	rep, err := r.analyze(ctx, logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("run_id", rep.RunID))

	if r.Sink != nil {
		if err := r.Sink.Write(ctx, rep); err != nil {
			span.RecordError(err)
			return rep, fmt.Errorf("failed to write report: %w", err)
		}
		_ = telemetry.IncrementCounter(ctx, telemetry.MetricReportsRendered)
	}

	if r.Publisher != nil {
		if err := r.Publisher.Publish(ctx, rep); err != nil {
			logger.Error(ctx, "Failed to publish report",
				zap.String("run_id", rep.RunID),
				zap.Error(err))
		} else {
			logger.Debug(ctx, "Published report", zap.String("run_id", rep.RunID))
		}
	}

	logger.Info(ctx, "Analysis run completed",
		zap.String("run_id", rep.RunID),
		zap.Int("valid", rep.ValidCount),
		zap.Int("invalid", rep.InvalidCount),
		zap.Duration("duration", time.Since(start)))

	return rep, nil
}

// Analyze runs the pipeline up to the report without writing or publishing it
func (r *Runner) Analyze(ctx context.Context) (*models.Report, error) {
	if r.Source == nil {
		return nil, fmt.Errorf("pipeline has no source")
	}
	return r.analyze(ctx, r.logger())
}

func (r *Runner) analyze(ctx context.Context, logger logging.Logger) (*models.Report, error) {
	raw, err := r.fetch(ctx)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		logger.Warn(ctx, "Source contains no entries", zap.String("source", r.Source.Name()))
	}

	result, err := r.normalize(ctx, raw, logger)
	if err != nil {
		return nil, err
	}
	if len(result.Valid) == 0 {
		return nil, fmt.Errorf("%w: %d records, none valid", ErrNothingToAnalyze, len(raw))
	}

	opts := r.Options
	if opts.TopN <= 0 {
		opts.TopN = analyze.DefaultTopN
	}
	if opts.TargetShardGB <= 0 {
		opts.TargetShardGB = analyze.DefaultTargetShardGB
	}

	actx, aspan := telemetry.StartSpan(ctx, "pipeline.analyze")
	views, err := analyze.Run(actx, result.Valid, opts)
	aspan.End()
	if err != nil {
		return nil, fmt.Errorf("analysis failed: %w", err)
	}

	for _, a := range views.Anomalies {
		logger.Warn(ctx, "Index excluded from balance ranking",
			zap.String("index", a.Record.Index),
			zap.String("kind", string(a.Kind)),
			zap.String("detail", a.Detail))
	}
	if len(views.Anomalies) > 0 {
		_ = telemetry.AddCounter(ctx, telemetry.MetricZeroShard, int64(len(views.Anomalies)))
	}

	return &models.Report{
		RunID:         r.id(),
		GeneratedAt:   r.clock().UTC(),
		Source:        r.Source.Name(),
		TargetShardGB: opts.TargetShardGB,
		TopN:          opts.TopN,
		ValidCount:    len(result.Valid),
		InvalidCount:  len(result.Invalid),
		Largest:       views.Largest,
		MostShards:    views.MostShards,
		LeastBalanced: views.LeastBalanced,
		Anomalies:     views.Anomalies,
		Invalid:       result.Invalid,
	}, nil
}

func (r *Runner) fetch(ctx context.Context) ([]models.RawRecord, error) {
	ctx, span := telemetry.StartSpan(ctx, "pipeline.fetch")
	defer span.End()
	span.SetAttributes(attribute.String("source", r.Source.Name()))

	raw, err := r.Source.Fetch(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to fetch records: %w", err)
	}
	span.SetAttributes(attribute.Int("records", len(raw)))
	return raw, nil
}

func (r *Runner) normalize(ctx context.Context, raw []models.RawRecord, logger logging.Logger) (*normalize.Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "pipeline.normalize")
	defer span.End()

	n := r.Normalizer
	if n == nil {
		n = normalize.New(normalize.DefaultFieldMap())
	}

	result, err := n.Normalize(raw)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to normalize records: %w", err)
	}

	for _, inv := range result.Invalid {
		logger.Warn(ctx, "Index has errors",
			zap.Any("record", inv.Raw),
			zap.String("field", inv.Field),
			zap.String("reason", inv.Reason))
	}
	if len(result.Invalid) > 0 {
		logger.Warn(ctx, "Skipped invalid records",
			zap.Int("invalid", len(result.Invalid)),
			zap.Int("total", len(raw)))
	}

	_ = telemetry.AddCounter(ctx, telemetry.MetricRecordsValid, int64(len(result.Valid)))
	_ = telemetry.AddCounter(ctx, telemetry.MetricRecordsInvalid, int64(len(result.Invalid)))
	span.SetAttributes(
		attribute.Int("valid", len(result.Valid)),
		attribute.Int("invalid", len(result.Invalid)),
	)
	return result, nil
}

func (r *Runner) logger() logging.Logger {
	if r.Logger == nil {
		return logging.GetLogger()
	}
	return r.Logger
}

func (r *Runner) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}

func (r *Runner) id() string {
	if r.newID != nil {
		return r.newID()
	}
	return uuid.New().String()
}
