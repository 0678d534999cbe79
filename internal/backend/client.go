// Package backend provides a rate-limited client for the document
// service REST API consumed by the QA workflow.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/documind/qa-orchestrator/internal/domain"
	"github.com/documind/qa-orchestrator/internal/observability"
)

const (
	// DefaultTimeout is the default per-request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default sustained request rate per second.
	DefaultRateLimit = 10.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 20

	// DefaultUserAgent identifies this service to the document service.
	DefaultUserAgent = "documind-qa-orchestrator/1.0"

	// apiKeyHeader is the header name for the document service API key.
	apiKeyHeader = "X-API-Key"

	// maxResponseBytes caps decoded response bodies to prevent resource
	// exhaustion.
	maxResponseBytes = 10 << 20
)

// Operation names used in metrics and errors.
const (
	opClassify          = "classify"
	opStartSearch       = "search_start"
	opSearchStatus      = "search_status"
	opStartDetailQuery  = "detail_query_start"
	opDetailQueryStatus = "detail_query_status"
	opStartGeneration   = "generate_start"
	opGenerationStatus  = "generate_status"
	opTriggerClustering = "cluster_trigger"
	opClusteringStatus  = "cluster_status"
	opDeleteClusters    = "cluster_delete"
	opPing              = "ping"
)

// Client issues document service calls for the QA workflow and the
// clustering monitor.
type Client interface {
	// Classify classifies a question into an intent.
	Classify(ctx context.Context, question string) (ClassifyResult, error)

	// StartSearch submits a document search and returns its job ID.
	StartSearch(ctx context.Context, question string, rewriteHints []string) (string, error)

	// SearchStatus fetches the status of a search job.
	SearchStatus(ctx context.Context, jobID string) (SearchJobStatus, error)

	// StartDetailQuery submits a detail query over the given documents
	// and returns its job ID.
	StartDetailQuery(ctx context.Context, documentIDs []string, queryType string) (string, error)

	// DetailQueryStatus fetches the status of a detail query job.
	DetailQueryStatus(ctx context.Context, jobID string) (DetailQueryJobStatus, error)

	// StartGeneration submits an answer generation job and returns its
	// job ID.
	StartGeneration(ctx context.Context, genCtx GenerationContext) (string, error)

	// GenerationStatus fetches the status of a generation job.
	GenerationStatus(ctx context.Context, jobID string) (GenerationJobStatus, error)

	// TriggerClustering starts a clustering run over the document
	// corpus and returns its job ID.
	TriggerClustering(ctx context.Context) (string, error)

	// ClusteringStatus fetches the status of a clustering run.
	ClusteringStatus(ctx context.Context, jobID string) (ClusteringJobStatus, error)

	// DeleteClusters removes all clusters on the document service.
	DeleteClusters(ctx context.Context) error
}

// Config contains configuration options for the HTTP client.
type Config struct {
	// BaseURL is the document service base URL. Required.
	BaseURL string

	// Timeout is the per-request timeout.
	// Defaults to DefaultTimeout if zero.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	// Defaults to DefaultRateLimit if zero.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	// Defaults to DefaultBurstSize if zero.
	BurstSize int

	// APIKey is an optional API key sent on every request.
	APIKey string

	// UserAgent is the User-Agent header sent with requests.
	// Defaults to DefaultUserAgent if empty.
	UserAgent string
}

// HTTPClient implements Client against the document service. It is
// safe for concurrent use. Network errors and non-2xx responses map to
// *domain.TransportError; failed calls are never retried here, retry
// is a caller decision.
type HTTPClient struct {
	client      *http.Client
	rateLimiter *RateLimiter
	config      Config
	metrics     *observability.Metrics
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a new document service client.
func NewHTTPClient(cfg Config, metrics *observability.Metrics) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = DefaultBurstSize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	return &HTTPClient{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimiter: NewRateLimiter(cfg.RateLimit, cfg.BurstSize),
		config:      cfg,
		metrics:     metrics,
	}
}

// Classify classifies a question into an intent.
func (c *HTTPClient) Classify(ctx context.Context, question string) (ClassifyResult, error) {
	var resp classifyResponse
	err := c.doJSON(ctx, opClassify, http.MethodPost, "/qa/classify", classifyRequest{Question: question}, &resp)
	if err != nil {
		return ClassifyResult{}, err
	}
	return resp.toResult(), nil
}

// StartSearch submits a document search and returns its job ID.
func (c *HTTPClient) StartSearch(ctx context.Context, question string, rewriteHints []string) (string, error) {
	var resp startJobResponse
	body := searchRequest{Question: question, RewriteHints: rewriteHints}
	if err := c.doJSON(ctx, opStartSearch, http.MethodPost, "/qa/search", body, &resp); err != nil {
		return "", err
	}
	return resp.JobID, nil
}

// SearchStatus fetches the status of a search job.
func (c *HTTPClient) SearchStatus(ctx context.Context, jobID string) (SearchJobStatus, error) {
	var resp searchStatusResponse
	path := "/qa/search/" + url.PathEscape(jobID) + "/status"
	if err := c.doJSON(ctx, opSearchStatus, http.MethodGet, path, nil, &resp); err != nil {
		return SearchJobStatus{}, err
	}
	return resp.toStatus(), nil
}

// StartDetailQuery submits a detail query over the given documents.
func (c *HTTPClient) StartDetailQuery(ctx context.Context, documentIDs []string, queryType string) (string, error) {
	var resp startJobResponse
	body := detailQueryRequest{DocumentIDs: documentIDs, QueryType: queryType}
	if err := c.doJSON(ctx, opStartDetailQuery, http.MethodPost, "/qa/detail-query", body, &resp); err != nil {
		return "", err
	}
	return resp.JobID, nil
}

// DetailQueryStatus fetches the status of a detail query job.
func (c *HTTPClient) DetailQueryStatus(ctx context.Context, jobID string) (DetailQueryJobStatus, error) {
	var resp detailQueryStatusResponse
	path := "/qa/detail-query/" + url.PathEscape(jobID) + "/status"
	if err := c.doJSON(ctx, opDetailQueryStatus, http.MethodGet, path, nil, &resp); err != nil {
		return DetailQueryJobStatus{}, err
	}
	return resp.toStatus(), nil
}

// StartGeneration submits an answer generation job.
func (c *HTTPClient) StartGeneration(ctx context.Context, genCtx GenerationContext) (string, error) {
	var resp startJobResponse
	if err := c.doJSON(ctx, opStartGeneration, http.MethodPost, "/qa/generate", generateRequest{Context: genCtx}, &resp); err != nil {
		return "", err
	}
	return resp.JobID, nil
}

// GenerationStatus fetches the status of a generation job.
func (c *HTTPClient) GenerationStatus(ctx context.Context, jobID string) (GenerationJobStatus, error) {
	var resp generationStatusResponse
	path := "/qa/generate/" + url.PathEscape(jobID) + "/status"
	if err := c.doJSON(ctx, opGenerationStatus, http.MethodGet, path, nil, &resp); err != nil {
		return GenerationJobStatus{}, err
	}
	return resp.toStatus(), nil
}

// TriggerClustering starts a clustering run over the document corpus.
func (c *HTTPClient) TriggerClustering(ctx context.Context) (string, error) {
	var resp startJobResponse
	if err := c.doJSON(ctx, opTriggerClustering, http.MethodPost, "/cluster/trigger", nil, &resp); err != nil {
		return "", err
	}
	return resp.JobID, nil
}

// ClusteringStatus fetches the status of a clustering run.
func (c *HTTPClient) ClusteringStatus(ctx context.Context, jobID string) (ClusteringJobStatus, error) {
	var resp clusteringStatusResponse
	path := "/cluster/" + url.PathEscape(jobID) + "/status"
	if err := c.doJSON(ctx, opClusteringStatus, http.MethodGet, path, nil, &resp); err != nil {
		return ClusteringJobStatus{}, err
	}
	return resp.toStatus(), nil
}

// DeleteClusters removes all clusters on the document service.
func (c *HTTPClient) DeleteClusters(ctx context.Context) error {
	return c.doJSON(ctx, opDeleteClusters, http.MethodDelete, "/cluster", nil, nil)
}

// Ping probes the document service health endpoint. Not part of the
// Client interface; the view API uses it for its readiness check.
func (c *HTTPClient) Ping(ctx context.Context) error {
	return c.doJSON(ctx, opPing, http.MethodGet, "/healthz", nil, nil)
}

// doJSON performs one JSON round trip and records request metrics.
// A nil out discards the response body after the status check.
func (c *HTTPClient) doJSON(ctx context.Context, operation, method, path string, body, out any) error {
	start := time.Now()
	err := c.roundTrip(ctx, operation, method, path, body, out)
	c.metrics.RecordBackendRequest(operation, time.Since(start).Seconds())
	if err != nil {
		c.metrics.RecordBackendRequestFailed(operation, errorKind(err))
	}
	return err
}

func (c *HTTPClient) roundTrip(ctx context.Context, operation, method, path string, body, out any) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return err
	}

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", operation, err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.APIKey != "" {
		req.Header.Set(apiKeyHeader, c.config.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Context cancellation is the caller's own signal, not a
		// transport fault.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return domain.NewTransportError(operation, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
		return domain.NewTransportError(operation, resp.StatusCode, nil)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return domain.NewTransportError(operation, 0, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

// errorKind buckets request failures for the failure metric label.
func errorKind(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, domain.ErrTransport):
		var transportErr *domain.TransportError
		if errors.As(err, &transportErr) && transportErr.StatusCode != 0 {
			return "status"
		}
		return "network"
	default:
		return "other"
	}
}
