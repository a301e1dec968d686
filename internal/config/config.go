package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Source    SourceConfig    `mapstructure:"source"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Output    OutputConfig    `mapstructure:"output"`
	Server    ServerConfig    `mapstructure:"server"`
	EventBus  EventBusConfig  `mapstructure:"eventbus"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// SourceConfig selects and configures the raw record source
type SourceConfig struct {
	Type          string        `mapstructure:"type"`
	File          string        `mapstructure:"file"`
	Endpoint      string        `mapstructure:"endpoint"`
	Scheme        string        `mapstructure:"scheme"`
	Days          int           `mapstructure:"days"`
	Timezone      string        `mapstructure:"timezone"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
	Fields        FieldsConfig  `mapstructure:"fields"`
}

// FieldsConfig names the raw keys read by the normalizer
type FieldsConfig struct {
	Index  string `mapstructure:"index"`
	Size   string `mapstructure:"size"`
	Shards string `mapstructure:"shards"`
}

// AnalysisConfig holds ranking parameters
type AnalysisConfig struct {
	TopN          int     `mapstructure:"top_n"`
	TargetShardGB float64 `mapstructure:"target_shard_gb"`
}

// OutputConfig holds report output settings
type OutputConfig struct {
	Format string `mapstructure:"format"`
}

// ServerConfig holds HTTP server configuration for serve mode
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestsPerMin  int           `mapstructure:"requests_per_minute"`
	Burst           int           `mapstructure:"burst"`
}

// EventBusConfig holds NATS configuration
type EventBusConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URL            string        `mapstructure:"url"`
	StreamName     string        `mapstructure:"stream_name"`
	SubjectPrefix  string        `mapstructure:"subject_prefix"`
	MaxAge         time.Duration `mapstructure:"max_age"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// TelemetryConfig holds telemetry configuration
type TelemetryConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	ServiceVersion string  `mapstructure:"service_version"`
	SampleRate     float64 `mapstructure:"sample_rate"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// Source types
const (
	SourceFile = "file"
	SourceHTTP = "http"
)

// Load loads configuration from the default locations and environment variables
func Load() (*Config, error) {
	return LoadWithFlags("", nil)
}

// LoadFromFile loads configuration from a specific file
func LoadFromFile(configFile string) (*Config, error) {
	return LoadWithFlags(configFile, nil)
}

// LoadWithFlags loads configuration with precedence flags > env > file > defaults.
// Only flags that were set on the command line override other sources.
func LoadWithFlags(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("indexaudit")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/indexaudit")

	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	v.SetEnvPrefix("INDEXAUDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configFile != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// A file path on the command line implies the file source
	if flags != nil {
		if f := flags.Lookup("file"); f != nil && f.Changed {
			cfg.Source.Type = SourceFile
		}
	}

	return &cfg, nil
}

// flagKeys maps command-line flag names to configuration keys
var flagKeys = map[string]string{
	"endpoint":        "source.endpoint",
	"scheme":          "source.scheme",
	"days":            "source.days",
	"file":            "source.file",
	"timezone":        "source.timezone",
	"timeout":         "source.timeout",
	"top":             "analysis.top_n",
	"target-shard-gb": "analysis.target_shard_gb",
	"format":          "output.format",
	"publish":         "eventbus.enabled",
	"nats-url":        "eventbus.url",
	"log-level":       "logging.level",
	"log-format":      "logging.format",
	"host":            "server.host",
	"port":            "server.port",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || bindErr != nil {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			bindErr = fmt.Errorf("failed to bind flag %s: %w", f.Name, err)
		}
	})
	return bindErr
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Source defaults
	v.SetDefault("source.type", SourceHTTP)
	v.SetDefault("source.file", "")
	v.SetDefault("source.endpoint", "")
	v.SetDefault("source.scheme", "https")
	v.SetDefault("source.days", 7)
	v.SetDefault("source.timezone", "America/Toronto")
	v.SetDefault("source.timeout", "30s")
	v.SetDefault("source.rate_per_second", 5.0)
	v.SetDefault("source.burst", 1)
	v.SetDefault("source.fields.index", "index")
	v.SetDefault("source.fields.size", "pri.store.size")
	v.SetDefault("source.fields.shards", "pri")

	// Analysis defaults
	v.SetDefault("analysis.top_n", 5)
	v.SetDefault("analysis.target_shard_gb", 30.0)

	// Output defaults
	v.SetDefault("output.format", "text")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "2m")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.requests_per_minute", 60)
	v.SetDefault("server.burst", 5)

	// Event bus defaults
	v.SetDefault("eventbus.enabled", false)
	v.SetDefault("eventbus.url", "nats://localhost:4222")
	v.SetDefault("eventbus.stream_name", "INDEXAUDIT")
	v.SetDefault("eventbus.subject_prefix", "indexaudit.reports")
	v.SetDefault("eventbus.max_age", "168h")
	v.SetDefault("eventbus.connect_timeout", "10s")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.jaeger_endpoint", "")
	v.SetDefault("telemetry.service_name", "indexaudit")
	v.SetDefault("telemetry.service_version", "1.0.0")
	v.SetDefault("telemetry.sample_rate", 1.0)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output_path", "stderr")
}

// Validate checks the configuration for values the pipeline cannot run with
func (c *Config) Validate() error {
	switch c.Source.Type {
	case SourceFile:
		if c.Source.File == "" {
			return fmt.Errorf("source file is required when source type is %q", SourceFile)
		}
	case SourceHTTP:
		if c.Source.Endpoint == "" {
			return fmt.Errorf("source endpoint is required (use --endpoint or --file)")
		}
		if c.Source.Days < 1 {
			return fmt.Errorf("source days must be at least 1, got %d", c.Source.Days)
		}
		if c.Source.Scheme != "http" && c.Source.Scheme != "https" {
			return fmt.Errorf("unsupported source scheme: %s", c.Source.Scheme)
		}
		if c.Source.RatePerSecond < 0 {
			return fmt.Errorf("source rate_per_second must not be negative")
		}
	default:
		return fmt.Errorf("unsupported source type: %s", c.Source.Type)
	}

	if c.Analysis.TopN < 1 {
		return fmt.Errorf("analysis top_n must be at least 1, got %d", c.Analysis.TopN)
	}
	if c.Analysis.TargetShardGB <= 0 {
		return fmt.Errorf("analysis target_shard_gb must be positive, got %v", c.Analysis.TargetShardGB)
	}

	switch c.Output.Format {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("unsupported output format: %s", c.Output.Format)
	}

	if c.EventBus.Enabled && c.EventBus.URL == "" {
		return fmt.Errorf("eventbus url is required when publishing is enabled")
	}

	return nil
}
