package bootstrap

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/infra-logging/indexaudit/internal/analyze"
	"github.com/infra-logging/indexaudit/internal/config"
	"github.com/infra-logging/indexaudit/internal/eventbus"
	"github.com/infra-logging/indexaudit/internal/logging"
	"github.com/infra-logging/indexaudit/internal/normalize"
	"github.com/infra-logging/indexaudit/internal/source"
)

// NewSource builds the raw record source selected by cfg
func NewSource(cfg config.SourceConfig, logger logging.Logger) (source.Source, error) {
	switch cfg.Type {
	case config.SourceFile:
		return source.NewFileSource(cfg.File)
	case config.SourceHTTP:
		loc := time.UTC
		if cfg.Timezone != "" {
			var err error
			loc, err = time.LoadLocation(cfg.Timezone)
			if err != nil {
				return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
			}
		}
		return source.NewHTTPSource(source.HTTPConfig{
			Endpoint:      cfg.Endpoint,
			Scheme:        cfg.Scheme,
			Days:          cfg.Days,
			Location:      loc,
			Timeout:       cfg.Timeout,
			RatePerSecond: cfg.RatePerSecond,
			Burst:         cfg.Burst,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported source type: %s", cfg.Type)
	}
}

// NewNormalizer builds a normalizer for the configured raw field names
func NewNormalizer(cfg config.FieldsConfig) *normalize.Normalizer {
	return normalize.New(normalize.FieldMap{
		Index:  cfg.Index,
		Size:   cfg.Size,
		Shards: cfg.Shards,
	})
}

// AnalysisOptions converts the analysis section to analyzer options
func AnalysisOptions(cfg config.AnalysisConfig) analyze.Options {
	return analyze.Options{
		TopN:          cfg.TopN,
		TargetShardGB: cfg.TargetShardGB,
	}
}

// NewPublisher connects the report publisher. It returns nil when
// publishing is disabled.
func NewPublisher(cfg config.EventBusConfig, logger *zap.Logger) (*eventbus.NATSPublisher, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	busConfig := eventbus.DefaultConfig()
	busConfig.URL = cfg.URL
	if cfg.StreamName != "" {
		busConfig.StreamName = cfg.StreamName
	}
	if cfg.SubjectPrefix != "" {
		busConfig.SubjectPrefix = cfg.SubjectPrefix
	}
	if cfg.MaxAge > 0 {
		busConfig.MaxAge = cfg.MaxAge
	}
	if cfg.ConnectTimeout > 0 {
		busConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	return eventbus.NewNATSPublisher(busConfig, logger)
}
