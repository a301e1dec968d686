package logging

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger interface for structured logging with trace support
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...zap.Field)
	Info(ctx context.Context, msg string, fields ...zap.Field)
	Warn(ctx context.Context, msg string, fields ...zap.Field)
	Error(ctx context.Context, msg string, fields ...zap.Field)
	Fatal(ctx context.Context, msg string, fields ...zap.Field)

	With(fields ...zap.Field) Logger
	WithContext(ctx context.Context) Logger

	// Zap exposes the underlying logger for components that take *zap.Logger.
	Zap() *zap.Logger
	Sync() error
}

// wrapperSkip is the number of frames between a caller and zap in ZapLogger methods
const wrapperSkip = 2

// ZapLogger implements Logger using Zap with OpenTelemetry integration
type ZapLogger struct {
	logger *zap.Logger
}

// Config holds logging configuration
type Config struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// NewLogger creates a new structured logger
func NewLogger(config Config) (Logger, error) {
	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", config.Level, err)
	}

	var encoder zapcore.Encoder
	switch config.Format {
	case "json":
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	case "console", "":
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		return nil, fmt.Errorf("invalid log format %q", config.Format)
	}

	// Report output goes to stdout, so logs default to stderr
	outputPath := config.OutputPath
	if outputPath == "" {
		outputPath = "stderr"
	}

	ws, err := getWriteSyncer(outputPath)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(encoder, ws, level)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return FromZap(logger), nil
}

// FromZap wraps an existing zap logger
func FromZap(logger *zap.Logger) Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{logger: logger.WithOptions(zap.AddCallerSkip(wrapperSkip))}
}

// NewNop returns a logger that discards everything
func NewNop() Logger {
	return FromZap(zap.NewNop())
}

// getWriteSyncer returns appropriate WriteSyncer for the given path
func getWriteSyncer(path string) (zapcore.WriteSyncer, error) {
	switch path {
	case "stdout":
		return zapcore.AddSync(os.Stdout), nil
	case "stderr":
		return zapcore.AddSync(os.Stderr), nil
	default:
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
		}
		return zapcore.AddSync(file), nil
	}
}

// Debug logs a debug message with trace context
func (l *ZapLogger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	l.logWithTrace(ctx, l.logger.Debug, msg, fields...)
}

// Info logs an info message with trace context
func (l *ZapLogger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	l.logWithTrace(ctx, l.logger.Info, msg, fields...)
}

// Warn logs a warning message with trace context
func (l *ZapLogger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	l.logWithTrace(ctx, l.logger.Warn, msg, fields...)
}

// Error logs an error message with trace context
func (l *ZapLogger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	l.logWithTrace(ctx, l.logger.Error, msg, fields...)
}

// Fatal logs a fatal message with trace context and exits
func (l *ZapLogger) Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	l.logWithTrace(ctx, l.logger.Fatal, msg, fields...)
}

// With creates a child logger with additional fields
func (l *ZapLogger) With(fields ...zap.Field) Logger {
	return &ZapLogger{logger: l.logger.With(fields...)}
}

// WithContext creates a logger with trace information from context
func (l *ZapLogger) WithContext(ctx context.Context) Logger {
	return l.With(extractTraceFields(ctx)...)
}

// Zap returns the wrapped zap logger with caller reporting for direct use
func (l *ZapLogger) Zap() *zap.Logger {
	return l.logger.WithOptions(zap.AddCallerSkip(-wrapperSkip))
}

// Sync flushes any buffered log entries
func (l *ZapLogger) Sync() error {
	return l.logger.Sync()
}

func (l *ZapLogger) logWithTrace(ctx context.Context, logFunc func(string, ...zap.Field), msg string, fields ...zap.Field) {
	traceFields := extractTraceFields(ctx)
	allFields := append(traceFields, fields...)
	logFunc(msg, allFields...)
}

// extractTraceFields extracts trace and span IDs from context
func extractTraceFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return nil
	}

	spanContext := span.SpanContext()
	fields := []zap.Field{
		zap.String("trace_id", spanContext.TraceID().String()),
		zap.String("span_id", spanContext.SpanID().String()),
	}

	if spanContext.IsSampled() {
		fields = append(fields, zap.Bool("sampled", true))
	}

	return fields
}

var globalLogger Logger

// SetGlobalLogger replaces the global logger
func SetGlobalLogger(logger Logger) {
	globalLogger = logger
}

// GetLogger returns the global logger, or a nop logger when none is set
func GetLogger() Logger {
	if globalLogger == nil {
		return NewNop()
	}
	return globalLogger
}
