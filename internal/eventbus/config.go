package eventbus

import (
	"fmt"
	"strings"
	"time"
)

// Config holds NATS JetStream settings for report publishing
type Config struct {
	URL                  string        `json:"url" yaml:"url" mapstructure:"url"`
	StreamName           string        `json:"stream_name" yaml:"stream_name" mapstructure:"stream_name"`
	SubjectPrefix        string        `json:"subject_prefix" yaml:"subject_prefix" mapstructure:"subject_prefix"`
	MaxAge               time.Duration `json:"max_age" yaml:"max_age" mapstructure:"max_age"`
	MaxBytes             int64         `json:"max_bytes" yaml:"max_bytes" mapstructure:"max_bytes"`
	MaxMsgs              int64         `json:"max_msgs" yaml:"max_msgs" mapstructure:"max_msgs"`
	Replicas             int           `json:"replicas" yaml:"replicas" mapstructure:"replicas"`
	DuplicateWindow      time.Duration `json:"duplicate_window" yaml:"duplicate_window" mapstructure:"duplicate_window"`
	ConnectTimeout       time.Duration `json:"connect_timeout" yaml:"connect_timeout" mapstructure:"connect_timeout"`
	ReconnectWait        time.Duration `json:"reconnect_wait" yaml:"reconnect_wait" mapstructure:"reconnect_wait"`
	MaxReconnectAttempts int           `json:"max_reconnect_attempts" yaml:"max_reconnect_attempts" mapstructure:"max_reconnect_attempts"`
}

// DefaultConfig returns default NATS configuration
func DefaultConfig() *Config {
	return &Config{
		URL:                  "nats://localhost:4222",
		StreamName:           "INDEXAUDIT",
		SubjectPrefix:        "indexaudit.reports",
		MaxAge:               7 * 24 * time.Hour,
		MaxBytes:             256 * 1024 * 1024,
		MaxMsgs:              100000,
		Replicas:             1,
		DuplicateWindow:      5 * time.Minute,
		ConnectTimeout:       10 * time.Second,
		ReconnectWait:        2 * time.Second,
		MaxReconnectAttempts: 10,
	}
}

// Validate validates the configuration and fills in zero timeouts
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("NATS URL is required")
	}

	if c.StreamName == "" {
		return fmt.Errorf("NATS stream name is required")
	}

	if c.SubjectPrefix == "" || strings.ContainsAny(c.SubjectPrefix, "*> ") {
		return fmt.Errorf("invalid NATS subject prefix: %q", c.SubjectPrefix)
	}

	if c.MaxAge <= 0 {
		return fmt.Errorf("NATS max age must be positive")
	}

	if c.Replicas < 1 {
		return fmt.Errorf("NATS replicas must be at least 1")
	}

	if c.DuplicateWindow <= 0 {
		c.DuplicateWindow = 5 * time.Minute
	}

	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}

	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 2 * time.Second
	}

	if c.MaxReconnectAttempts < 0 {
		c.MaxReconnectAttempts = 10
	}

	return nil
}

// ReportSubject is the subject finished reports are published on
func (c *Config) ReportSubject() string {
	return c.SubjectPrefix + ".report"
}

// streamSubjects covers every subject under the prefix
func (c *Config) streamSubjects() []string {
	return []string{c.SubjectPrefix + ".>"}
}
