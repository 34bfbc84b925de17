// Package metrics documents the Prometheus metrics exposed by the
// harvester. The metrics themselves are defined via promauto in the package
// that owns them, keeping registration next to the code that drives them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registerer used by all harvester
// metrics.
var Registry = prometheus.DefaultRegisterer

// Metric inventory
//
// Transport (pkg/client):
//   - harvester_requests_total{endpoint, status} (Counter): upstream requests
//   - harvester_request_duration_seconds{endpoint} (Histogram): request latency
//   - harvester_request_errors_total{class} (Counter): failures by class
//     (network, status, decode)
//   - harvester_retries_total{stage} (Counter): retry attempts by stage
//     (search, idmap, download)
//   - harvester_retry_exhausted_total{stage} (Counter): bounded policies that
//     ran out of attempts
//
// Pipeline (pkg/harvest):
//   - harvester_search_pages_total (Counter): search pages fetched
//   - harvester_search_truncated_total (Counter): subjects cut off at the
//     upstream pagination ceiling
//   - harvester_download_chunks_total{result} (Counter): chunks by ok/failed
//   - harvester_documents_persisted_total (Counter): documents stored
//   - harvester_documents_failed_total{reason} (Counter): failed identifiers
//     by reason (fetch failed, article count mismatch, sink)
//
// Useful queries:
//
//	# Failure rate by reason
//	rate(harvester_documents_failed_total[5m])
//
//	# Stalled unbounded retries (search should not retry continuously)
//	rate(harvester_retries_total{stage="search"}[15m]) > 0
//
//	# P95 upstream latency
//	histogram_quantile(0.95, rate(harvester_request_duration_seconds_bucket[5m]))
