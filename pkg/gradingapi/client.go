package gradingapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxErrorBody = 64 * 1024

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "grading_api",
	Name:      "request_duration_seconds",
	Help:      "Duration of requests sent to the grading backend",
	Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
}, []string{"operation", "status"})

// APIError is a non-2xx or transport failure returned by the grading backend.
// Message is safe to show to the user verbatim.
type APIError struct {
	Operation  string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Config configures the backend client.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	HTTPClient  *http.Client
	Credentials CredentialProvider
	Logger      zerolog.Logger
}

// Client calls the grading backend on behalf of an authenticated reviewer.
type Client struct {
	baseURL     *url.URL
	http        *http.Client
	credentials CredentialProvider
	tracer      trace.Tracer
	logger      zerolog.Logger
}

// New builds a client for the backend rooted at cfg.BaseURL.
func New(cfg Config) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if raw == "" {
		return nil, fmt.Errorf("grading api base url is required")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid grading api base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid grading api base url %q", raw)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:     base,
		http:        httpClient,
		credentials: cfg.Credentials,
		tracer:      otel.Tracer("github.com/noah-isme/gema-review/pkg/gradingapi"),
		logger:      cfg.Logger.With().Str("component", "grading_api_client").Logger(),
	}, nil
}

type request struct {
	operation   string
	method      string
	path        string
	query       url.Values
	body        io.Reader
	contentType string
	fallback    string
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) token(ctx context.Context) (string, error) {
	provider, ok := CredentialsFromContext(ctx)
	if !ok {
		provider = c.credentials
	}
	if provider == nil {
		return "", ErrNotAuthenticated
	}
	token, err := provider.Token(ctx)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(token) == "" {
		return "", ErrNotAuthenticated
	}
	return token, nil
}

func (c *Client) do(ctx context.Context, r request, out interface{}) error {
	ctx, span := c.tracer.Start(ctx, "grading_api."+r.operation, trace.WithAttributes(
		attribute.String("http.method", r.method),
		attribute.String("grading_api.path", r.path),
	))
	defer span.End()

	token, err := c.token(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "missing credentials")
		return &APIError{Operation: r.operation, StatusCode: http.StatusUnauthorized, Message: "Not authenticated", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.endpoint(r.path, r.query), r.body)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("build %s request: %w", r.operation, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		requestDuration.WithLabelValues(r.operation, "error").Observe(time.Since(start).Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		c.logger.Warn().Err(err).Str("operation", r.operation).Msg("grading api request failed")
		return &APIError{Operation: r.operation, Message: r.fallback, Err: err}
	}
	defer resp.Body.Close()

	requestDuration.WithLabelValues(r.operation, strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{
			Operation:  r.operation,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.Body, r.fallback),
		}
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, apiErr.Message)
		c.logger.Debug().Int("status", resp.StatusCode).Str("operation", r.operation).Str("message", apiErr.Message).Msg("grading api returned error")
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		return fmt.Errorf("decode %s response: %w", r.operation, err)
	}

	return nil
}

func (c *Client) doJSON(ctx context.Context, r request, payload interface{}, out interface{}) error {
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", r.operation, err)
		}
		r.body = bytes.NewReader(body)
		r.contentType = "application/json"
	}
	return c.do(ctx, r, out)
}

// errorMessage extracts the backend `error` field, falling back when the body
// is absent or unparseable.
func errorMessage(body io.Reader, fallback string) string {
	raw, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil || len(bytes.TrimSpace(raw)) == 0 {
		return fallback
	}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fallback
	}
	if msg := strings.TrimSpace(payload.Error); msg != "" {
		return msg
	}
	return fallback
}

func segment(value string) string {
	return url.PathEscape(strings.TrimSpace(value))
}
