package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestAnalysisRecordFlattensCanonicalFields(t *testing.T) {
	rec := AnalysisRecord{
		CanonicalRecord:   CanonicalRecord{Index: "logs-2024.03.01", SizeGB: 90, Shards: 3},
		BalanceRatio:      30,
		RecommendedShards: 3,
	}

	t.Run("JSON", func(t *testing.T) {
		data, err := json.Marshal(rec)
		require.NoError(t, err)
		assert.JSONEq(t, `{"index":"logs-2024.03.01","size_gb":90,"shards":3,"balance_ratio":30,"recommended_shards":3}`, string(data))
	})

	t.Run("YAML", func(t *testing.T) {
		data, err := yaml.Marshal(rec)
		require.NoError(t, err)

		var decoded map[string]any
		require.NoError(t, yaml.Unmarshal(data, &decoded))
		assert.Equal(t, "logs-2024.03.01", decoded["index"])
		assert.Equal(t, 30, decoded["balance_ratio"])
		assert.NotContains(t, decoded, "canonicalrecord")
	})
}

func TestReportOmitsEmptyDiagnostics(t *testing.T) {
	r := Report{
		RunID:       "run-1",
		GeneratedAt: time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC),
		Largest:     []CanonicalRecord{},
		Anomalies:   []Anomaly{},
	}

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Contains(t, decoded, "largest")
	assert.NotContains(t, decoded, "anomalies")
	assert.NotContains(t, decoded, "invalid")
	assert.Equal(t, "2024-03-02T12:00:00Z", decoded["generated_at"])
}

func TestAnomalyKind(t *testing.T) {
	a := Anomaly{
		Record: CanonicalRecord{Index: "closed", SizeGB: 5},
		Kind:   AnomalyZeroShards,
		Detail: "zero primary shards",
	}

	data, err := json.Marshal(a)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"zero_shards"`)
}
