package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/infra-logging/indexaudit/internal/analyze"
	"github.com/infra-logging/indexaudit/internal/bootstrap"
	"github.com/infra-logging/indexaudit/internal/models"
	"github.com/infra-logging/indexaudit/internal/pipeline"
	"github.com/infra-logging/indexaudit/internal/report"
	"github.com/infra-logging/indexaudit/internal/server"
)

// setup loads configuration for cmd and initializes logging and telemetry
func setup(cmd *cobra.Command) (*bootstrap.Bootstrap, error) {
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	bs := bootstrap.New()
	if err := bs.Initialize(cmd.Context(), configFile, cmd.Flags()); err != nil {
		return nil, err
	}
	return bs, nil
}

func shutdown(bs *bootstrap.Bootstrap) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = bs.Stop(ctx)
}

// newRunner wires the configured source, normalizer and publisher into a pipeline runner
func newRunner(bs *bootstrap.Bootstrap, sink report.Sink) (*pipeline.Runner, func(), error) {
	cfg := bs.Config

	src, err := bootstrap.NewSource(cfg.Source, bs.Logger)
	if err != nil {
		return nil, nil, err
	}

	runner := pipeline.NewRunner(src, sink, bootstrap.AnalysisOptions(cfg.Analysis), bs.Logger)
	runner.Normalizer = bootstrap.NewNormalizer(cfg.Source.Fields)

	closer := func() {}
	pub, err := bootstrap.NewPublisher(cfg.EventBus, bs.Logger.Zap())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect report publisher: %w", err)
	}
	if pub != nil {
		runner.Publisher = pub
		closer = func() {
			if err := pub.Close(); err != nil {
				bs.Logger.Warn(context.Background(), "Failed to close report publisher", zap.Error(err))
			}
		}
	}

	return runner, closer, nil
}

func runReport(cmd *cobra.Command, _ []string) error {
	bs, err := setup(cmd)
	if err != nil {
		return err
	}
	defer shutdown(bs)

	sink, err := report.NewSink(bs.Config.Output.Format, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	runner, closeRunner, err := newRunner(bs, sink)
	if err != nil {
		return err
	}
	defer closeRunner()

	ctx := cmd.Context()
	bs.Logger.Debug(ctx, "Starting analysis run", zap.String("source", runner.Source.Name()))

	if _, err := runner.Run(ctx); err != nil {
		// Readable input without a single valid index is reported, not fatal
		if errors.Is(err, pipeline.ErrNothingToAnalyze) {
			bs.Logger.Warn(ctx, "Nothing to analyze", zap.Error(err))
			_, werr := fmt.Fprintln(cmd.OutOrStdout(), "Data could not be analyzed.")
			return werr
		}
		bs.Logger.Error(ctx, "Analysis run failed", zap.Error(err))
		return err
	}
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	bs, err := setup(cmd)
	if err != nil {
		return err
	}
	defer shutdown(bs)

	runner, closeRunner, err := newRunner(bs, nil)
	if err != nil {
		return err
	}
	defer closeRunner()

	reporter := server.ReporterFunc(func(ctx context.Context, opts analyze.Options) (*models.Report, error) {
		r := *runner
		r.Options = opts
		return r.Run(ctx)
	})

	srv := server.New(bs.Config.Server, runner.Options, reporter, bs.Telemetry.Handler(), bs.Logger.Zap())

	ctx := cmd.Context()
	if err := srv.Start(ctx); err != nil {
		return err
	}
	bs.Logger.Info(ctx, "Serving index reports",
		zap.String("addr", srv.Addr()),
		zap.String("source", runner.Source.Name()))

	<-ctx.Done()
	bs.Logger.Info(context.Background(), "Shutdown signal received, stopping")

	if err := srv.Stop(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
