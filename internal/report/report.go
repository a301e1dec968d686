// Package report renders analysis reports for people and machines.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/infra-logging/indexaudit/internal/models"
)

// Sink receives finished reports
type Sink interface {
	Write(ctx context.Context, r *models.Report) error
}

// Output formats
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// NewSink returns the sink for format writing to w
func NewSink(format string, w io.Writer) (Sink, error) {
	switch strings.ToLower(format) {
	case FormatText, "":
		return &TextSink{w: w}, nil
	case FormatJSON:
		return &JSONSink{w: w}, nil
	case FormatYAML:
		return &YAMLSink{w: w}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// JSONSink writes indented JSON
type JSONSink struct {
	w io.Writer
}

func (s *JSONSink) Write(_ context.Context, r *models.Report) error {
	enc := json.NewEncoder(s.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// YAMLSink writes a YAML document
type YAMLSink struct {
	w io.Writer
}

func (s *YAMLSink) Write(_ context.Context, r *models.Report) error {
	enc := yaml.NewEncoder(s.w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return enc.Close()
}

// TextSink writes the console layout
type TextSink struct {
	w io.Writer
}

func (s *TextSink) Write(_ context.Context, r *models.Report) error {
	tw := tabwriter.NewWriter(s.w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "Index report %s (%s)\n", r.RunID, r.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(tw, "Source: %s\n", r.Source)
	fmt.Fprintf(tw, "Records: %d valid, %d invalid\n", r.ValidCount, r.InvalidCount)

	fmt.Fprintf(tw, "\nLargest indexes by storage size\n")
	fmt.Fprintln(tw, "INDEX\tSIZE (GB)\t")
	for _, rec := range r.Largest {
		fmt.Fprintf(tw, "%s\t%.2f\t\n", rec.Index, rec.SizeGB)
	}

	fmt.Fprintf(tw, "\nLargest indexes by shard count\n")
	fmt.Fprintln(tw, "INDEX\tSHARDS\t")
	for _, rec := range r.MostShards {
		fmt.Fprintf(tw, "%s\t%d\t\n", rec.Index, rec.Shards)
	}

	fmt.Fprintf(tw, "\nLeast balanced indexes (target %.0f GB/shard)\n", r.TargetShardGB)
	fmt.Fprintln(tw, "INDEX\tSIZE (GB)\tSHARDS\tBALANCE RATIO\tRECOMMENDED SHARDS\t")
	for _, rec := range r.LeastBalanced {
		fmt.Fprintf(tw, "%s\t%.2f\t%d\t%d\t%d\t\n",
			rec.Index, rec.SizeGB, rec.Shards, rec.BalanceRatio, rec.RecommendedShards)
	}

	if len(r.Anomalies) > 0 {
		fmt.Fprintf(tw, "\nExcluded from balance ranking\n")
		for _, a := range r.Anomalies {
			fmt.Fprintf(tw, "%s\t%s\t%s\t\n", a.Record.Index, a.Kind, a.Detail)
		}
	}

	if len(r.Invalid) > 0 {
		fmt.Fprintf(tw, "\nIndexes with errors\n")
		for _, inv := range r.Invalid {
			fmt.Fprintf(tw, "%s\t%s\t\n", describeRaw(inv.Raw), inv.Reason)
		}
	}

	return tw.Flush()
}

// describeRaw renders a raw record with stable key order
func describeRaw(raw models.RawRecord) string {
	if raw == nil {
		return "<null>"
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, raw[k]))
	}
	return "{" + strings.Join(parts, " ") + "}"
}
