// Package harvest implements the pipeline stages of a harvest run: paginated
// search, batch id mapping, and the concurrent batch downloader.
package harvest

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/geneius/pmc-harvester/pkg/client"
	"github.com/geneius/pmc-harvester/pkg/eutils"
	"github.com/geneius/pmc-harvester/pkg/logging"
)

var (
	searchPagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_search_pages_total",
		Help: "Total search result pages fetched",
	})

	searchTruncatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_search_truncated_total",
		Help: "Subjects whose result set hit the upstream pagination ceiling",
	})
)

// SearchFetcher collects the full ordered id list for a subject by walking
// the search endpoint's offset cursor.
type SearchFetcher struct {
	svc        *eutils.Service
	pageSize   int
	maxResults int
	retry      client.Policy
	logger     zerolog.Logger
}

// NewSearchFetcher creates a fetcher. maxResults is the upstream service's
// hard pagination ceiling; crossing it truncates the result set softly.
func NewSearchFetcher(svc *eutils.Service, pageSize, maxResults int, retry client.Policy) *SearchFetcher {
	return &SearchFetcher{
		svc:        svc,
		pageSize:   pageSize,
		maxResults: maxResults,
		retry:      retry,
		logger:     logging.NewLogger("search"),
	}
}

// FetchAll returns every id the subject's search yields, in page order.
// truncated reports that the upstream ceiling cut the set short, so callers
// know the list may be incomplete.
//
// A failed page is retried under the fetcher's policy (unbounded in
// production) without advancing the cursor, so pagination progress is never
// lost and no offset is requested twice on the happy path.
func (f *SearchFetcher) FetchAll(ctx context.Context, subject string) (ids []string, truncated bool, err error) {
	logger := f.logger.With().Str("subject", subject).Logger()

	offset := 0
	for {
		var page []string
		pageLogger := logger.With().Int("offset", offset).Logger()

		err := client.Retry(ctx, "search", f.retry, pageLogger, func() error {
			var pageErr error
			page, pageErr = f.svc.SearchPage(ctx, subject, offset, f.pageSize)
			return pageErr
		})
		if err != nil {
			return ids, false, err
		}

		searchPagesTotal.Inc()

		if len(page) == 0 {
			break
		}

		ids = append(ids, page...)
		offset += len(page)

		if offset >= f.maxResults {
			searchTruncatedTotal.Inc()
			logger.Warn().
				Int("collected", len(ids)).
				Int("ceiling", f.maxResults).
				Msg("Upstream pagination ceiling reached, result set may be incomplete")
			truncated = true
			break
		}
	}

	logger.Info().
		Int("ids", len(ids)).
		Bool("truncated", truncated).
		Msg("Search complete")

	return ids, truncated, nil
}
