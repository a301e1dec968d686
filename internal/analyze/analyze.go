// Package analyze ranks canonical index records.
//
// Every function here is read-only over its input: rankings are computed on
// copies, and the shard balance view derives new AnalysisRecord values instead
// of annotating the shared records.
package analyze

import (
	"context"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/infra-logging/indexaudit/internal/models"
)

const (
	// DefaultTopN is the number of records returned per view.
	DefaultTopN = 5
	// DefaultTargetShardGB is the target primary shard size.
	DefaultTargetShardGB = 30.0
)

// Options configures the analysis views
type Options struct {
	TopN          int     `mapstructure:"top_n"`
	TargetShardGB float64 `mapstructure:"target_shard_gb"`
}

// DefaultOptions returns the documented defaults
func DefaultOptions() Options {
	return Options{
		TopN:          DefaultTopN,
		TargetShardGB: DefaultTargetShardGB,
	}
}

// withDefaults replaces non-positive values with the defaults
func (o Options) withDefaults() Options {
	if o.TopN <= 0 {
		o.TopN = DefaultTopN
	}
	if o.TargetShardGB <= 0 || math.IsNaN(o.TargetShardGB) || math.IsInf(o.TargetShardGB, 0) {
		o.TargetShardGB = DefaultTargetShardGB
	}
	return o
}

// Views holds the three rankings of one run
type Views struct {
	Largest       []models.CanonicalRecord
	MostShards    []models.CanonicalRecord
	LeastBalanced []models.AnalysisRecord
	Anomalies     []models.Anomaly
}

// TopBySize returns up to n records with the largest size, largest first.
// Ties keep input order.
func TopBySize(records []models.CanonicalRecord, n int) []models.CanonicalRecord {
	return topBy(records, n, func(a, b models.CanonicalRecord) bool {
		return a.SizeGB > b.SizeGB
	})
}

// TopByShards returns up to n records with the most primary shards, most first.
// Ties keep input order.
func TopByShards(records []models.CanonicalRecord, n int) []models.CanonicalRecord {
	return topBy(records, n, func(a, b models.CanonicalRecord) bool {
		return a.Shards > b.Shards
	})
}

func topBy(records []models.CanonicalRecord, n int, greater func(a, b models.CanonicalRecord) bool) []models.CanonicalRecord {
	sorted := make([]models.CanonicalRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return greater(sorted[i], sorted[j])
	})
	return truncate(sorted, n)
}

// LeastBalanced returns up to n records with the highest GB per shard.
// Records with zero shards have no defined ratio; they are left out of the
// ranking and returned as anomalies instead.
func LeastBalanced(records []models.CanonicalRecord, n int, targetShardGB float64) ([]models.AnalysisRecord, []models.Anomaly) {
	opts := Options{TopN: n, TargetShardGB: targetShardGB}.withDefaults()

	ranked := make([]models.AnalysisRecord, 0, len(records))
	anomalies := make([]models.Anomaly, 0)
	for _, rec := range records {
		if rec.Shards == 0 {
			anomalies = append(anomalies, models.Anomaly{
				Record: rec,
				Kind:   models.AnomalyZeroShards,
				Detail: fmt.Sprintf("index %s reports %.2f GB on zero primary shards", rec.Index, rec.SizeGB),
			})
			continue
		}
		ranked = append(ranked, Balance(rec, opts.TargetShardGB))
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].BalanceRatio > ranked[j].BalanceRatio
	})

	return truncate(ranked, opts.TopN), anomalies
}

// Balance derives the balance fields for a record with at least one shard
func Balance(rec models.CanonicalRecord, targetShardGB float64) models.AnalysisRecord {
	out := models.AnalysisRecord{
		CanonicalRecord:   rec,
		RecommendedShards: RecommendedShards(rec.SizeGB, targetShardGB),
	}
	if rec.Shards > 0 {
		out.BalanceRatio = int(math.Floor(rec.SizeGB / float64(rec.Shards)))
	}
	return out
}

// RecommendedShards floors sizeGB/targetShardGB. Any non-empty index gets at
// least one shard.
func RecommendedShards(sizeGB, targetShardGB float64) int {
	if targetShardGB <= 0 {
		targetShardGB = DefaultTargetShardGB
	}
	switch {
	case sizeGB <= 0:
		return 0
	case sizeGB < targetShardGB:
		return 1
	default:
		return int(math.Floor(sizeGB / targetShardGB))
	}
}

// Run computes all three views concurrently
func Run(ctx context.Context, records []models.CanonicalRecord, opts Options) (*Views, error) {
	opts = opts.withDefaults()
	views := &Views{}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		views.Largest = TopBySize(records, opts.TopN)
		return gctx.Err()
	})

	g.Go(func() error {
		views.MostShards = TopByShards(records, opts.TopN)
		return gctx.Err()
	})

	g.Go(func() error {
		views.LeastBalanced, views.Anomalies = LeastBalanced(records, opts.TopN, opts.TargetShardGB)
		return gctx.Err()
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return views, nil
}

func truncate[T any](s []T, n int) []T {
	if n <= 0 {
		n = DefaultTopN
	}
	if len(s) > n {
		return s[:n:n]
	}
	return s
}
