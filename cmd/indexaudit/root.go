package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const version = "1.0.0"

// newRootCmd builds the command tree. Running the root command without a
// subcommand produces a report.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "indexaudit",
		Short: "Report index size, shard count and shard balance",
		Long: `indexaudit collects index metadata from a cluster _cat/indices endpoint
(or a JSON file) and reports the largest indexes by size, the indexes with
the most primary shards, and the least balanced indexes with a recommended
shard count for a target shard size.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          runReport,
	}

	root.PersistentFlags().String("config", "", "Path to configuration file")
	root.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "console", "Log format (console, json)")

	addSourceFlags(root.Flags())
	addReportFlags(root.Flags())

	root.AddCommand(newReportCmd(), newServeCmd())
	return root
}

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Fetch index metadata and print a report",
		Example: `  indexaudit report --endpoint es.example.com:9200 --days 7
  indexaudit report --file indexes.json --format json`,
		Args: cobra.NoArgs,
		RunE: runReport,
	}
	addSourceFlags(cmd.Flags())
	addReportFlags(cmd.Flags())
	return cmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve reports and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	addSourceFlags(cmd.Flags())
	cmd.Flags().Int("top", 5, "Default number of indexes per view")
	cmd.Flags().Float64("target-shard-gb", 30, "Default target shard size in GB")
	cmd.Flags().String("host", "0.0.0.0", "Listen host")
	cmd.Flags().Int("port", 8080, "Listen port")
	cmd.Flags().Bool("publish", false, "Publish every report to NATS JetStream")
	cmd.Flags().String("nats-url", "nats://localhost:4222", "NATS server URL")
	return cmd
}

func addSourceFlags(fs *pflag.FlagSet) {
	fs.String("endpoint", "", "Cluster endpoint serving _cat/indices (host[:port] or URL)")
	fs.String("scheme", "https", "Scheme used when the endpoint has none")
	fs.Int("days", 7, "Number of days to query, counting back from today")
	fs.String("file", "", "Read index metadata from a JSON file instead of the endpoint")
	fs.String("timezone", "America/Toronto", "Time zone used to pick the query days")
	fs.Duration("timeout", 0, "Per-request timeout for the endpoint (0 uses the configured value)")
}

func addReportFlags(fs *pflag.FlagSet) {
	fs.Int("top", 5, "Number of indexes per view")
	fs.Float64("target-shard-gb", 30, "Target shard size in GB")
	fs.String("format", "text", "Output format (text, json, yaml)")
	fs.Bool("publish", false, "Publish the report to NATS JetStream")
	fs.String("nats-url", "nats://localhost:4222", "NATS server URL")
}
