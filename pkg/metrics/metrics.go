// Package metrics provides the Prometheus registry and HTTP handler of the
// extractor. All metrics are defined in their respective packages (client,
// ratelimit, cache, pagination, checkpoint, extract) to maintain modularity
// and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the extractor.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer matching Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - fairing_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - fairing_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - fairing_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, decode)
//
// Retry Metrics (pkg/client):
//   - fairing_retries_total{error_class} (Counter): Retry attempts by error class
//   - fairing_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - fairing_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Rate Limit Metrics (pkg/ratelimit):
//   - fairing_rate_limit_remaining (Gauge): Requests remaining in the API window
//   - fairing_rate_limit_blocks_total (Counter): Requests held until the window reset
//   - fairing_rate_limit_throttles_total (Counter): Requests throttled on a low quota
//
// Cache Metrics (pkg/cache):
//   - fairing_cache_hits_total{layer="redis"} (Counter): Sealed page cache hits
//   - fairing_cache_misses_total (Counter): Sealed page cache misses
//   - fairing_cache_size_bytes{layer="redis"} (Gauge): Bytes written to the cache
//   - fairing_cache_errors_total{operation} (Counter): Cache operation errors
//
// Pagination Metrics (pkg/pagination):
//   - fairing_pages_fetched_total{phase} (Counter): Pages fetched while locating or paginating
//   - fairing_anchor_probes (Histogram): Requests per anchor search
//   - fairing_records_skipped_total{reason} (Counter): Records dropped as seen or before the bound
//
// Checkpoint Metrics (pkg/checkpoint):
//   - fairing_checkpoint_last_id{stream} (Gauge): Last id the checkpoint advanced to
//   - fairing_checkpoint_advances_total{stream} (Counter): Checkpoint advances
//   - fairing_checkpoint_regressions_total{stream} (Counter): Refused backward moves
//   - fairing_checkpoint_saves_total{backend, result} (Counter): Store saves by outcome
//
// Run Metrics (pkg/extract):
//   - fairing_extract_runs_total{stream, phase} (Counter): Runs by terminal phase
//   - fairing_extract_records_emitted_total{stream} (Counter): Records emitted
//   - fairing_extract_run_duration_seconds{stream} (Histogram): Run duration
//
// Example Prometheus Queries:
//
//   # Failed runs
//   increase(fairing_extract_runs_total{phase="failed"}[1d])
//
//   # Probes per cold start
//   histogram_quantile(0.95, rate(fairing_anchor_probes_bucket[1d]))
//
//   # Request Error Rate
//   rate(fairing_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(fairing_request_duration_seconds_bucket[5m]))
