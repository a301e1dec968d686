// Package bootstrap builds the shared components every command needs.
package bootstrap

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/infra-logging/indexaudit/internal/config"
	"github.com/infra-logging/indexaudit/internal/logging"
	"github.com/infra-logging/indexaudit/internal/telemetry"
)

// Bootstrap holds the core components of a command
type Bootstrap struct {
	Config    *config.Config
	Logger    logging.Logger
	Telemetry *telemetry.Telemetry
}

// New creates a new bootstrap instance
func New() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads and validates configuration, then sets up logging and telemetry.
// flags may be nil; flags that were set override file and environment values.
func (b *Bootstrap) Initialize(ctx context.Context, configFile string, flags *pflag.FlagSet) error {
	cfg, err := config.LoadWithFlags(configFile, flags)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	b.Config = cfg

	logger, err := b.initLogging(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	b.Logger = logger

	logger.Debug(ctx, "Configuration loaded",
		zap.String("config_file", configFile),
		zap.String("source_type", cfg.Source.Type),
		zap.String("log_level", cfg.Logging.Level))

	tel, err := b.initTelemetry(cfg.Telemetry)
	if err != nil {
		logger.Error(ctx, "Failed to initialize telemetry", zap.Error(err))
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	b.Telemetry = tel

	if cfg.Telemetry.Enabled {
		logger.Debug(ctx, "Telemetry initialized",
			zap.String("service_name", cfg.Telemetry.ServiceName),
			zap.String("service_version", cfg.Telemetry.ServiceVersion),
			zap.String("jaeger_endpoint", cfg.Telemetry.JaegerEndpoint),
			zap.Float64("sample_rate", cfg.Telemetry.SampleRate))
	}

	return nil
}

// Stop flushes telemetry and the logger
func (b *Bootstrap) Stop(ctx context.Context) error {
	if b.Logger == nil {
		return nil
	}

	if b.Telemetry != nil {
		if err := b.Telemetry.Shutdown(ctx); err != nil {
			b.Logger.Error(ctx, "Failed to stop telemetry", zap.Error(err))
			return fmt.Errorf("failed to stop telemetry: %w", err)
		}
	}

	// Sync fails on terminals; not worth surfacing
	if err := b.Logger.Sync(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to sync logger: %v\n", err)
	}

	return nil
}

func (b *Bootstrap) initLogging(cfg config.LoggingConfig) (logging.Logger, error) {
	logger, err := logging.NewLogger(logging.Config{
		Level:      cfg.Level,
		Format:     cfg.Format,
		OutputPath: cfg.OutputPath,
	})
	if err != nil {
		return nil, err
	}

	logging.SetGlobalLogger(logger)
	return logger, nil
}

func (b *Bootstrap) initTelemetry(cfg config.TelemetryConfig) (*telemetry.Telemetry, error) {
	tel, err := telemetry.InitGlobalTelemetry(telemetry.Config{
		Enabled:        cfg.Enabled,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		JaegerEndpoint: cfg.JaegerEndpoint,
		SampleRate:     cfg.SampleRate,
	})
	if err != nil {
		return nil, err
	}
	return tel, nil
}
