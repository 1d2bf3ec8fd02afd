package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"payments-e2e/logging"
	"payments-e2e/monitoring"
)

// RawResponse is what the payment API returned for a single call.
type RawResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Elapsed    time.Duration
}

// Decode unmarshals the JSON body into v.
func (r *RawResponse) Decode(v any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("decode response: empty body (status %d)", r.StatusCode)
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Client calls the transactions endpoints of the payment API. It does not
// retry and sets no timeout of its own.
type Client struct {
	httpClient *http.Client
	tracer     trace.Tracer
	baseURL    string
	apiKey     string
}

type Option func(*Client)

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) { c.tracer = tracer }
}

// New creates a client for baseURL authenticating with apiKey as a bearer
// token.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		tracer:  otel.Tracer("payments-e2e/client"),
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithAPIKey returns a copy of c that authenticates with key.
func (c *Client) WithAPIKey(key string) *Client {
	cp := *c
	cp.apiKey = key
	return &cp
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// CreatePayment posts req as JSON to /transactions.
func (c *Client) CreatePayment(ctx context.Context, req any) (*RawResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.do(ctx, "create_payment", http.MethodPost, "/transactions", nil, body)
}

// GetStatusByID fetches /transactions/{id}.
func (c *Client) GetStatusByID(ctx context.Context, id string) (*RawResponse, error) {
	return c.do(ctx, "get_status_by_id", http.MethodGet, "/transactions/"+url.PathEscape(id), nil, nil)
}

// GetStatusByReference fetches /transactions?reference={ref}.
func (c *Client) GetStatusByReference(ctx context.Context, ref string) (*RawResponse, error) {
	query := url.Values{}
	query.Set("reference", ref)
	return c.do(ctx, "get_status_by_reference", http.MethodGet, "/transactions", query, nil)
}

func (c *Client) do(ctx context.Context, operation, method, path string, query url.Values, body []byte) (*RawResponse, error) {
	ctx, span := c.tracer.Start(ctx, operation)
	defer span.End()

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}
	span.SetAttributes(
		attribute.String("payment_api.operation", operation),
		attribute.String("http.request.method", method),
		attribute.String("url.full", reqURL),
	)

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	logger := logging.WithTraceContext(span)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		elapsed := time.Since(start)
		c.record(ctx, operation, "error", elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		logger.Error("Payment API request failed",
			zap.Error(err),
			zap.String("method", method),
			zap.String("url", reqURL),
			zap.Duration("elapsed", elapsed),
		)
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	elapsed := time.Since(start)
	if err != nil {
		c.record(ctx, operation, "error", elapsed)
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	outcome := "success"
	if resp.StatusCode >= 400 {
		outcome = "failed"
	}
	c.record(ctx, operation, outcome, elapsed)
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	logger.Info("Payment API responded",
		zap.String("operation", operation),
		zap.String("method", method),
		zap.String("url", reqURL),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", elapsed),
	)

	return &RawResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       respBody,
		Elapsed:    elapsed,
	}, nil
}

func (c *Client) record(ctx context.Context, operation, status string, elapsed time.Duration) {
	monitoring.APICallDuration.Record(ctx, float64(elapsed.Microseconds())/1000,
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)
}
