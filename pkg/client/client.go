// Package client provides the Fairing API page fetcher with rate limiting,
// retries, sealed-page caching, and error handling.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/fairing-extract/pkg/cache"
	"github.com/Sternrassler/fairing-extract/pkg/fairing"
	"github.com/Sternrassler/fairing-extract/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for Fairing client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fairing_requests_total",
		Help: "Total Fairing API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fairing_request_duration_seconds",
		Help:    "Fairing API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fairing_errors_total",
		Help: "Total Fairing API errors by class",
	}, []string{"class"})

	requestRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fairing_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	requestRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fairing_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	requestRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fairing_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors (bad token, bad query).
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassDecode represents a 200 response whose body is not a page.
	ErrorClassDecode ErrorClass = "decode"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://app.fairing.co/api"

// maxErrorBody bounds how much of an error response ends up in a FetchError.
const maxErrorBody = 512

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API root, without trailing slash.
	BaseURL string

	// SecretToken is sent verbatim in the Authorization header (REQUIRED).
	SecretToken string

	// UserAgent header.
	UserAgent string

	// Timeout per HTTP attempt.
	Timeout time.Duration

	// Client-side pacing. RequestsPerSecond <= 0 disables the token bucket.
	RequestsPerSecond float64
	Burst             int

	// RetryPolicy picks the retry configuration per error class.
	// Defaults to RetryConfigForErrorClass.
	RetryPolicy func(ErrorClass) RetryConfig

	// Redis enables the sealed-page cache and shares rate limit state.
	// Optional.
	Redis *redis.Client

	// CacheTTL for sealed pages. Defaults to cache.DefaultTTL.
	CacheTTL time.Duration

	// HTTPClient replaces the default transport (for testing).
	HTTPClient *http.Client
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(secretToken string) Config {
	return Config{
		BaseURL:           DefaultBaseURL,
		SecretToken:       secretToken,
		UserAgent:         "fairing-extract/dev",
		Timeout:           30 * time.Second,
		RequestsPerSecond: 5,
		Burst:             1,
		RetryPolicy:       RetryConfigForErrorClass,
		CacheTTL:          cache.DefaultTTL,
	}
}

// Client is the Fairing API client.
type Client struct {
	httpClient  *http.Client
	rateLimiter *ratelimit.Tracker
	cache       *cache.Manager
	config      Config
	logger      zerolog.Logger
}

// New creates a new Fairing client.
func New(cfg Config) (*Client, error) {
	if cfg.SecretToken == "" {
		return nil, fmt.Errorf("secret token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if !strings.HasPrefix(cfg.BaseURL, "http://") && !strings.HasPrefix(cfg.BaseURL, "https://") {
		return nil, fmt.Errorf("base url must be http(s) (got %q)", cfg.BaseURL)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryPolicy == nil {
		cfg.RetryPolicy = RetryConfigForErrorClass
	}

	logger := log.With().Str("component", "fairing-client").Logger()

	var stateStore ratelimit.StateStore
	var cacheManager *cache.Manager
	if cfg.Redis != nil {
		stateStore = ratelimit.NewRedisStateStore(cfg.Redis)
		cacheManager = cache.NewManager(cfg.Redis, cfg.CacheTTL)
	}
	rateLimiter := ratelimit.NewTracker(stateStore, cfg.RequestsPerSecond, cfg.Burst, logger)

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		httpClient:  httpClient,
		rateLimiter: rateLimiter,
		cache:       cacheManager,
		config:      cfg,
		logger:      logger,
	}, nil
}

// Do performs an HTTP request with rate limiting, authentication and retries.
// Retriable failures (5xx, 429, network) are retried per the retry policy;
// other statuses are returned to the caller with the response.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	endpoint := req.URL.Path

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	req.Header.Set("Authorization", c.config.SecretToken)
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("query", req.URL.RawQuery).
		Msg("Executing Fairing request")

	var resp *http.Response
	retryErr := retryWithBackoff(ctx, c.logger, c.config.RetryPolicy, func() (ErrorClass, error) {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("wait for rate limit: %w", err)
		}

		var reqErr error
		resp, reqErr = c.httpClient.Do(req)
		if reqErr != nil {
			if ctx.Err() != nil {
				return "", fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
			}
			c.logger.Error().Err(reqErr).Str("endpoint", endpoint).Msg("HTTP request failed")
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			return ErrorClassNetwork, reqErr
		}

		if err := c.rateLimiter.UpdateFromResponse(ctx, resp.StatusCode, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
		}
		requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

		if resp.StatusCode < 400 {
			return "", nil
		}

		errClass := classifyStatus(resp.StatusCode)
		errorsTotal.WithLabelValues(string(errClass)).Inc()
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("Fairing request error")

		if !shouldRetry(errClass) {
			// let the caller read the body
			return "", nil
		}
		resp.Body.Close()
		return errClass, &statusError{StatusCode: resp.StatusCode, Status: resp.Status}
	})
	if retryErr != nil {
		return nil, retryErr
	}
	return resp, nil
}

// classifyStatus maps an HTTP error status to an error class.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// Endpoint returns a page fetcher for a collection path such as "/responses".
func (c *Client) Endpoint(path string) *Endpoint {
	return &Endpoint{client: c, path: "/" + strings.TrimLeft(path, "/")}
}

// Close releases resources held by the client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Endpoint fetches pages of one collection. It satisfies the page fetcher
// contract: one logical request per call, an empty page is a valid result,
// and every failure is reported as a *FetchError.
type Endpoint struct {
	client *Client
	path   string
}

// FetchPage requests the page answering q.
func (e *Endpoint) FetchPage(ctx context.Context, q fairing.Query) (*fairing.Page, error) {
	c := e.client

	if c.cache != nil {
		page, err := c.cache.GetPage(ctx, e.path, q)
		if err == nil {
			c.logger.Debug().Str("endpoint", e.path).Str("query", q.Values().Encode()).Msg("Serving sealed page from cache")
			return page, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn().Err(err).Str("endpoint", e.path).Msg("Cache get error")
		}
	}

	rawQuery := q.Values().Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+e.path+"?"+rawQuery, nil)
	if err != nil {
		return nil, &FetchError{Endpoint: e.path, Query: rawQuery, ErrorClass: ErrorClassClient, Message: "create request", Err: err}
	}

	resp, err := c.Do(req)
	if err != nil {
		fetchErr := &FetchError{Endpoint: e.path, Query: rawQuery, ErrorClass: ErrorClassNetwork, Err: err}
		var se *statusError
		if errors.As(err, &se) {
			fetchErr.StatusCode = se.StatusCode
			fetchErr.ErrorClass = classifyStatus(se.StatusCode)
		}
		return nil, fetchErr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Endpoint: e.path, Query: rawQuery, StatusCode: resp.StatusCode, ErrorClass: ErrorClassNetwork, Message: "read body", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		errClass := classifyStatus(resp.StatusCode)
		if errClass == "" {
			errClass = ErrorClassClient
		}
		return nil, &FetchError{Endpoint: e.path, Query: rawQuery, StatusCode: resp.StatusCode, ErrorClass: errClass, Message: msg}
	}

	page, err := fairing.DecodePage(body)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return nil, &FetchError{Endpoint: e.path, Query: rawQuery, StatusCode: resp.StatusCode, ErrorClass: ErrorClassDecode, Err: err}
	}

	if c.cache != nil {
		stored, err := c.cache.PutPage(ctx, e.path, q, page, body)
		switch {
		case err != nil:
			c.logger.Warn().Err(err).Msg("Failed to cache page")
		case stored:
			c.logger.Debug().Str("endpoint", e.path).Str("query", rawQuery).Msg("Cached sealed page")
		}
	}

	return page, nil
}
