// Package client provides the core HTTP client for the NCBI E-utilities:
// credential injection, request pacing, error classification, and retry
// policies shared by every pipeline stage.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/geneius/pmc-harvester/pkg/credentials"
	"github.com/geneius/pmc-harvester/pkg/logging"
)

// Prometheus metrics for upstream requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_requests_total",
		Help: "Total upstream requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvester_request_duration_seconds",
		Help:    "Upstream request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_request_errors_total",
		Help: "Total upstream request errors by class",
	}, []string{"class"})
)

// Config holds the client configuration.
type Config struct {
	// Pool supplies the (email, api_key) identity for each request.
	Pool *credentials.Pool

	// Tool is the application identity sent with every request, as the
	// upstream API's usage policy requires.
	Tool string

	// InterRequestDelay is the minimum spacing between outbound requests
	// across all pipeline stages. It bounds the aggregate request rate
	// together with the downloader's concurrency cap.
	InterRequestDelay time.Duration

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration
}

// Client issues paced, credentialed GET requests against the upstream API.
type Client struct {
	httpClient *http.Client
	pool       *credentials.Pool
	tool       string
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

// New creates a client. The pool and tool name are required; the token
// bucket is sized to one request per InterRequestDelay with a burst of one,
// which is the strictest reading of a fixed inter-request delay.
func New(cfg Config) (*Client, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("credential pool is required")
	}
	if cfg.Tool == "" {
		return nil, fmt.Errorf("tool name is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.InterRequestDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.InterRequestDelay), 1)
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		pool:       cfg.Pool,
		tool:       cfg.Tool,
		limiter:    limiter,
		logger:     logging.NewLogger("client"),
	}, nil
}

// Get performs one paced GET against baseURL with the given query
// parameters, a freshly drawn credential, and returns the response body.
// Non-2xx statuses and transport failures return a classified *APIError;
// decoding the body is left to the caller.
func (c *Client) Get(ctx context.Context, baseURL string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContextCancelled, err)
	}

	cred := c.pool.Next()

	q := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	q.Set("tool", c.tool)
	q.Set("email", cred.Email)
	if cred.APIKey != "" {
		q.Set("api_key", cred.APIKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", fmt.Sprintf("%s/1.0 (mailto:%s)", c.tool, cred.Email))
	req.Header.Set("Accept", "application/json, application/xml, text/xml")

	endpoint := endpointLabel(baseURL)
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
		return nil, &APIError{Class: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, &APIError{Class: ErrorClassNetwork, Message: "read response body", Err: err}
	}

	requestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errorsTotal.WithLabelValues(string(ErrorClassStatus)).Inc()
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Msg("Upstream returned non-success status")
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassStatus,
			Message:    resp.Status,
		}
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Msg("Upstream request complete")

	return body, nil
}

// endpointLabel reduces a base URL to its final path segment for metric
// labels, keeping cardinality at one series per upstream endpoint.
func endpointLabel(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "unknown"
	}
	if name := path.Base(u.Path); name != "." && name != "/" {
		return name
	}
	return u.Host
}
