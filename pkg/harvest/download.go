package harvest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/geneius/pmc-harvester/pkg/client"
	"github.com/geneius/pmc-harvester/pkg/eutils"
	"github.com/geneius/pmc-harvester/pkg/logging"
	"github.com/geneius/pmc-harvester/pkg/report"
	"github.com/geneius/pmc-harvester/pkg/sink"
)

var (
	documentsPersistedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_documents_persisted_total",
		Help: "Documents successfully handed to the sink",
	})

	documentsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_documents_failed_total",
		Help: "Identifiers that ended in a failed outcome, by reason",
	}, []string{"reason"})

	downloadChunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_download_chunks_total",
		Help: "Download chunks processed, by result",
	}, []string{"result"})
)

// errCountMismatch marks a response whose article count does not match the
// requested batch, which would silently mis-attribute every document after
// the gap if paired positionally.
var errCountMismatch = errors.New("article count mismatch")

// Downloader fetches documents for identifier chunks under a global
// concurrency cap and routes each document to the sink.
type Downloader struct {
	svc         *eutils.Service
	chunkSize   int
	concurrency int
	retry       client.Policy
	logger      zerolog.Logger
}

// NewDownloader creates a downloader. Non-positive chunkSize or concurrency
// fall back to defaults; zero workers would drop every outcome. retry must
// be a bounded policy: a chunk that exhausts it fails every identifier it
// carries instead of stalling the run.
func NewDownloader(svc *eutils.Service, chunkSize, concurrency int, retry client.Policy) *Downloader {
	if chunkSize <= 0 {
		chunkSize = 100
	}
	if concurrency <= 0 {
		concurrency = 3
	}

	return &Downloader{
		svc:         svc,
		chunkSize:   chunkSize,
		concurrency: concurrency,
		retry:       retry,
		logger:      logging.NewLogger("download"),
	}
}

type indexedChunk struct {
	index int
	ids   []string
}

// Download fetches every identifier and returns exactly one FetchOutcome
// per input identifier. Outcome order is completion order, not input order.
//
// At most `concurrency` chunk attempts are in flight at once; a chunk's
// retries run inside the worker that owns it, so they occupy the same cap
// slot rather than adding concurrency.
func (d *Downloader) Download(ctx context.Context, subject string, ids []string, snk sink.Sink) []report.FetchOutcome {
	logger := d.logger.With().Str("subject", subject).Str("sink", snk.Name()).Logger()

	chunks := Partition(ids, d.chunkSize)
	if len(chunks) == 0 {
		return nil
	}

	logger.Info().
		Int("ids", len(ids)).
		Int("chunks", len(chunks)).
		Int("concurrency", d.concurrency).
		Msg("Starting batch download")

	chunkQueue := make(chan indexedChunk, len(chunks))
	for i, c := range chunks {
		chunkQueue <- indexedChunk{index: i, ids: c}
	}
	close(chunkQueue)

	results := make(chan []report.FetchOutcome, len(chunks))

	var wg sync.WaitGroup
	for w := 0; w < d.concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ic := range chunkQueue {
				results <- d.processChunk(ctx, logger, ic, snk)
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	outcomes := make([]report.FetchOutcome, 0, len(ids))
	done := 0
	for res := range results {
		outcomes = append(outcomes, res...)
		done++
		if done%10 == 0 {
			logger.Info().
				Int("chunks_done", done).
				Int("chunks_total", len(chunks)).
				Msg("Download progress")
		}
	}

	persisted := 0
	for _, o := range outcomes {
		if o.Persisted {
			persisted++
		}
	}
	logger.Info().
		Int("persisted", persisted).
		Int("failed", len(outcomes)-persisted).
		Msg("Batch download complete")

	return outcomes
}

// processChunk runs one chunk to completion: bounded retries of the fetch,
// positional validation, then one sink write per identifier. It always
// returns len(ic.ids) outcomes.
func (d *Downloader) processChunk(ctx context.Context, logger zerolog.Logger, ic indexedChunk, snk sink.Sink) []report.FetchOutcome {
	chunkLogger := logger.With().Int("chunk", ic.index).Logger()

	var docs [][]byte
	err := client.Retry(ctx, "download", d.retry, chunkLogger, func() error {
		body, err := d.svc.FetchDocuments(ctx, ic.ids)
		if err != nil {
			return err
		}

		split, err := eutils.SplitArticles(body)
		if err != nil {
			return err
		}
		if len(split) != len(ic.ids) {
			return fmt.Errorf("%w: got %d articles for %d ids", errCountMismatch, len(split), len(ic.ids))
		}

		docs = split
		return nil
	})
	if err != nil {
		reason := "fetch failed"
		if errors.Is(err, errCountMismatch) {
			reason = errCountMismatch.Error()
		}

		downloadChunksTotal.WithLabelValues("failed").Inc()
		chunkLogger.Error().Err(err).Str("reason", reason).Msg("Chunk failed permanently")

		outcomes := make([]report.FetchOutcome, len(ic.ids))
		for i, id := range ic.ids {
			documentsFailedTotal.WithLabelValues(reason).Inc()
			outcomes[i] = report.FetchOutcome{ID: id, Err: fmt.Sprintf("%s: %v", reason, err)}
		}
		return outcomes
	}

	downloadChunksTotal.WithLabelValues("ok").Inc()

	outcomes := make([]report.FetchOutcome, len(ic.ids))
	for i, id := range ic.ids {
		if err := snk.Store(ctx, id, docs[i]); err != nil {
			documentsFailedTotal.WithLabelValues("sink").Inc()
			chunkLogger.Warn().Err(err).Str("id", id).Msg("Sink write failed")
			outcomes[i] = report.FetchOutcome{ID: id, Err: fmt.Sprintf("sink: %v", err)}
			continue
		}
		documentsPersistedTotal.Inc()
		outcomes[i] = report.FetchOutcome{ID: id, Persisted: true}
	}
	return outcomes
}
