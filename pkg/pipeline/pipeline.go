// Package pipeline drives one harvest pipeline per subject and assembles
// the final outcome reports.
package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/geneius/pmc-harvester/pkg/harvest"
	"github.com/geneius/pmc-harvester/pkg/logging"
	"github.com/geneius/pmc-harvester/pkg/report"
	"github.com/geneius/pmc-harvester/pkg/sink"
)

// Config wires the orchestrator's collaborators.
type Config struct {
	Searcher   *harvest.SearchFetcher
	Mapper     *harvest.IDMapper // nil disables the id-mapping stage
	Downloader *harvest.Downloader
	Sink       sink.Sink
	Writer     *report.Writer
	Store      *report.Store // optional sqlite outcome store

	// SubjectConcurrency bounds concurrent subject pipelines; zero runs all
	// subjects at once. Subjects share nothing but the credential pool.
	SubjectConcurrency int
}

// Orchestrator runs independent per-subject pipelines:
// search → (optional) id-map → download → sink.
type Orchestrator struct {
	cfg    Config
	runID  string
	logger zerolog.Logger
}

// New creates an orchestrator with a fresh run id.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		runID:  uuid.NewString(),
		logger: logging.NewLogger("pipeline"),
	}
}

// RunID returns the identifier stamped on this run's reports.
func (o *Orchestrator) RunID() string { return o.runID }

// Run processes every subject and returns the per-subject reports in input
// order. Per-identifier failures never fail the run; the only error returns
// are report-writing failures.
func (o *Orchestrator) Run(ctx context.Context, subjects []string) ([]report.SubjectReport, error) {
	o.logger.Info().
		Str("run_id", o.runID).
		Int("subjects", len(subjects)).
		Str("sink", o.cfg.Sink.Name()).
		Msg("Starting harvest run")

	limit := o.cfg.SubjectConcurrency
	if limit <= 0 {
		limit = len(subjects)
	}
	slots := make(chan struct{}, limit)

	reports := make([]report.SubjectReport, len(subjects))
	var wg sync.WaitGroup
	for i, subject := range subjects {
		wg.Add(1)
		go func(i int, subject string) {
			defer wg.Done()
			slots <- struct{}{}
			defer func() { <-slots }()

			reports[i] = o.runSubject(ctx, subject)
		}(i, subject)
	}
	wg.Wait()

	if err := o.cfg.Writer.WriteAggregate(reports); err != nil {
		return reports, err
	}

	persisted, failed := 0, 0
	for _, r := range reports {
		for _, out := range r.Outcomes {
			if out.Persisted {
				persisted++
			} else {
				failed++
			}
		}
	}
	o.logger.Info().
		Str("run_id", o.runID).
		Int("persisted", persisted).
		Int("failed", failed).
		Msg("Harvest run complete")

	return reports, nil
}

func (o *Orchestrator) runSubject(ctx context.Context, subject string) report.SubjectReport {
	logger := o.logger.With().Str("subject", subject).Logger()
	r := report.SubjectReport{Subject: subject, RunID: o.runID}

	ids, truncated, err := o.cfg.Searcher.FetchAll(ctx, subject)
	if err != nil {
		r.Err = err.Error()
		logger.Error().Err(err).Msg("Search stage aborted")
		return o.finish(ctx, logger, r)
	}
	r.PMIDCount = len(ids)
	r.Truncated = truncated

	if len(ids) == 0 {
		r.NoResults = true
		logger.Info().Msg("No results for subject, skipping mapping and download")
		return o.finish(ctx, logger, r)
	}

	downloadIDs := ids
	if o.cfg.Mapper != nil {
		mappings, err := o.cfg.Mapper.MapAll(ctx, subject, ids)
		if err != nil {
			r.Err = err.Error()
			logger.Error().Err(err).Msg("Id-mapping stage aborted")
			return o.finish(ctx, logger, r)
		}
		r.Mappings = mappings

		mapped := make([]string, 0, len(mappings))
		for _, m := range mappings {
			if m.PMCID != "" {
				mapped = append(mapped, m.PMCID)
			}
		}
		downloadIDs = mapped
	}

	if len(downloadIDs) > 0 {
		r.Outcomes = o.cfg.Downloader.Download(ctx, subject, downloadIDs, o.cfg.Sink)
	}

	return o.finish(ctx, logger, r)
}

// finish persists the subject report; report-write failures are logged, not
// propagated, so one subject's report never blocks its siblings.
func (o *Orchestrator) finish(ctx context.Context, logger zerolog.Logger, r report.SubjectReport) report.SubjectReport {
	if err := o.cfg.Writer.WriteSubject(r); err != nil {
		logger.Error().Err(err).Msg("Failed to write subject report")
	}
	if o.cfg.Store != nil {
		if err := o.cfg.Store.SaveSubject(ctx, r); err != nil {
			logger.Error().Err(err).Msg("Failed to save subject outcomes to store")
		}
	}
	return r
}
