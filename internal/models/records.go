package models

import (
	"time"
)

// RawRecord is a single untrusted index entry as decoded from a source.
// Keys and value types are whatever the monitoring endpoint returned.
type RawRecord map[string]any

// CanonicalRecord represents a validated index entry
type CanonicalRecord struct {
	Index  string  `json:"index" yaml:"index"`
	SizeGB float64 `json:"size_gb" yaml:"size_gb"`
	Shards int     `json:"shards" yaml:"shards"`
}

// AnalysisRecord is a CanonicalRecord with the fields derived by the
// shard balance view. It is always built as a new value.
type AnalysisRecord struct {
	CanonicalRecord   `yaml:",inline"`
	BalanceRatio      int `json:"balance_ratio" yaml:"balance_ratio"`
	RecommendedShards int `json:"recommended_shards" yaml:"recommended_shards"`
}

// InvalidRecord is a raw record that failed normalization
type InvalidRecord struct {
	Raw    RawRecord `json:"raw" yaml:"raw"`
	Field  string    `json:"field" yaml:"field"`
	Reason string    `json:"reason" yaml:"reason"`
}

// AnomalyKind classifies a data-quality anomaly
type AnomalyKind string

const (
	// AnomalyZeroShards marks a record whose balance ratio is undefined.
	AnomalyZeroShards AnomalyKind = "zero_shards"
)

// Anomaly is a canonical record excluded from a view for data-quality reasons
type Anomaly struct {
	Record CanonicalRecord `json:"record" yaml:"record"`
	Kind   AnomalyKind     `json:"kind" yaml:"kind"`
	Detail string          `json:"detail" yaml:"detail"`
}

// Report is the outcome of one analysis run
type Report struct {
	RunID         string            `json:"run_id" yaml:"run_id"`
	GeneratedAt   time.Time         `json:"generated_at" yaml:"generated_at"`
	Source        string            `json:"source" yaml:"source"`
	TargetShardGB float64           `json:"target_shard_gb" yaml:"target_shard_gb"`
	TopN          int               `json:"top_n" yaml:"top_n"`
	ValidCount    int               `json:"valid_count" yaml:"valid_count"`
	InvalidCount  int               `json:"invalid_count" yaml:"invalid_count"`
	Largest       []CanonicalRecord `json:"largest" yaml:"largest"`
	MostShards    []CanonicalRecord `json:"most_shards" yaml:"most_shards"`
	LeastBalanced []AnalysisRecord  `json:"least_balanced" yaml:"least_balanced"`
	Anomalies     []Anomaly         `json:"anomalies,omitempty" yaml:"anomalies,omitempty"`
	Invalid       []InvalidRecord   `json:"invalid,omitempty" yaml:"invalid,omitempty"`
}
