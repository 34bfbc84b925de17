package harvest

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/geneius/pmc-harvester/pkg/client"
	"github.com/geneius/pmc-harvester/pkg/eutils"
	"github.com/geneius/pmc-harvester/pkg/logging"
	"github.com/geneius/pmc-harvester/pkg/report"
)

// IDMapper resolves primary ids to the secondary id space in fixed-size
// chunks, one upstream request per chunk.
type IDMapper struct {
	svc       *eutils.Service
	chunkSize int
	retry     client.Policy

	// failChunkOnParseError short-circuits a chunk whose 200 response body
	// cannot be parsed, instead of retrying it like a transport failure.
	// A permanently malformed payload would otherwise loop forever under an
	// unbounded policy.
	failChunkOnParseError bool

	logger zerolog.Logger
}

// NewIDMapper creates a mapper.
func NewIDMapper(svc *eutils.Service, chunkSize int, retry client.Policy, failChunkOnParseError bool) *IDMapper {
	return &IDMapper{
		svc:                   svc,
		chunkSize:             chunkSize,
		retry:                 retry,
		failChunkOnParseError: failChunkOnParseError,
		logger:                logging.NewLogger("idmap"),
	}
}

// MapAll maps every input id, returning one Mapping per input in input
// order. A missing secondary id is a valid result, not an error. The only
// error returns are retry exhaustion (bounded policies) and context
// cancellation.
func (m *IDMapper) MapAll(ctx context.Context, subject string, pmids []string) ([]report.Mapping, error) {
	logger := m.logger.With().Str("subject", subject).Logger()
	out := make([]report.Mapping, 0, len(pmids))

	for ci, chunk := range Partition(pmids, m.chunkSize) {
		chunkLogger := logger.With().Int("chunk", ci).Logger()

		var records []eutils.ConversionRecord
		var parseErr error

		err := client.Retry(ctx, "idmap", m.retry, chunkLogger, func() error {
			recs, err := m.svc.ConvertIDs(ctx, chunk)
			if err != nil {
				if m.failChunkOnParseError && client.IsDecodeError(err) {
					parseErr = err
					return nil
				}
				return err
			}
			records = recs
			return nil
		})
		if err != nil {
			return nil, err
		}

		if parseErr != nil {
			chunkLogger.Error().Err(parseErr).Msg("Mapping chunk short-circuited on malformed response")
			for _, id := range chunk {
				out = append(out, report.Mapping{PMID: id, Err: "malformed mapping response"})
			}
			continue
		}

		lookup := make(map[string]string, len(records))
		for _, r := range records {
			if r.PMID != "" {
				lookup[r.PMID] = r.PMCID
			}
		}
		for _, id := range chunk {
			out = append(out, report.Mapping{PMID: id, PMCID: lookup[id]})
		}
	}

	mapped := 0
	for _, r := range out {
		if r.PMCID != "" {
			mapped++
		}
	}
	logger.Info().
		Int("input", len(pmids)).
		Int("mapped", mapped).
		Msg("Id mapping complete")

	return out, nil
}
