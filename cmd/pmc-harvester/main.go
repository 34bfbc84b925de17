// Command pmc-harvester runs the bulk harvest pipeline described by a YAML
// config file: per-subject search, id conversion, and document download into
// the configured sink, with CSV outcome reports.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/geneius/pmc-harvester/pkg/client"
	"github.com/geneius/pmc-harvester/pkg/config"
	"github.com/geneius/pmc-harvester/pkg/credentials"
	"github.com/geneius/pmc-harvester/pkg/eutils"
	"github.com/geneius/pmc-harvester/pkg/harvest"
	"github.com/geneius/pmc-harvester/pkg/logging"
	"github.com/geneius/pmc-harvester/pkg/pipeline"
	"github.com/geneius/pmc-harvester/pkg/report"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "pmc-harvester",
	Short: "Bulk harvester for PubMed/PMC full-text XML",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the harvest pipeline for every configured subject",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHarvest(configPath)
	},
}

func init() {
	runCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the config file")
	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runHarvest(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	logger := logging.Setup(logging.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
		Output: os.Stderr,
	})

	pool, err := credentials.NewPool(cfg.Credentials, cfg.RotateEvery, seed())
	if err != nil {
		return err
	}

	httpClient, err := client.New(client.Config{
		Pool:              pool,
		Tool:              cfg.Tool,
		InterRequestDelay: cfg.InterRequestDelay.Std(),
	})
	if err != nil {
		return err
	}

	svc := eutils.NewService(httpClient, eutils.Config{})

	// Search and id-mapping retry forever so a subject's id set is never
	// abandoned half-built; download chunks get a bounded budget.
	stageRetry := client.Policy{Delay: cfg.RetryDelay.Std(), Jitter: cfg.Jitter}
	downloadRetry := client.Policy{
		MaxAttempts: cfg.Download.MaxAttempts,
		Delay:       cfg.RetryDelay.Std(),
		Jitter:      cfg.Jitter,
	}

	snk, err := buildSink(cfg.Sink)
	if err != nil {
		return err
	}

	writer, err := report.NewWriter(cfg.Report.Dir)
	if err != nil {
		return err
	}

	var store *report.Store
	if cfg.Report.SQLitePath != "" {
		store, err = report.OpenStore(cfg.Report.SQLitePath)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	var mapper *harvest.IDMapper
	if cfg.IDMap.Enabled {
		mapper = harvest.NewIDMapper(svc, cfg.IDMap.ChunkSize, stageRetry, cfg.IDMap.FailChunkOnParseError)
	}

	orch := pipeline.New(pipeline.Config{
		Searcher:           harvest.NewSearchFetcher(svc, cfg.Search.PageSize, cfg.Search.MaxResults, stageRetry),
		Mapper:             mapper,
		Downloader:         harvest.NewDownloader(svc, cfg.Download.ChunkSize, cfg.Download.Concurrency, downloadRetry),
		Sink:               snk,
		Writer:             writer,
		Store:              store,
		SubjectConcurrency: cfg.SubjectConcurrency,
	})

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reports, err := orch.Run(ctx, cfg.Subjects)
	if err != nil {
		return fmt.Errorf("write aggregate report: %w", err)
	}

	failed := 0
	for _, r := range reports {
		for _, o := range r.Outcomes {
			if !o.Persisted {
				failed++
			}
		}
	}
	logger.Info().
		Str("run_id", orch.RunID()).
		Int("failed_identifiers", failed).
		Str("report_dir", cfg.Report.Dir).
		Msg("Done")

	// Per-identifier failures are recorded in the reports, not an exit code.
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger := logging.NewLogger("metrics")
	logger.Info().Str("addr", addr).Msg("Serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error().Err(err).Msg("Metrics server stopped")
	}
}
