// Package backend is the HTTP/JSON client for the planning, weather
// resilience and reroute services.
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
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/signalsfoundry/gridplanner/internal/logging"
	"github.com/signalsfoundry/gridplanner/internal/observability"
	"github.com/signalsfoundry/gridplanner/model"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultHTTPTimeout = 15 * time.Second
	maxErrorBody       = 2048
	maxResponseBody    = 8 << 20

	planPath       = "/calculate-plan"
	resiliencePath = "/weather-resilience"
	reroutePath    = "/reroute-network"
)

// ErrUnavailable wraps transport-level failures: the service could not be
// reached or the connection broke mid-response.
var ErrUnavailable = errors.New("service unavailable")

// ErrMalformedResponse is returned when a 2xx body cannot be decoded or
// fails structural validation.
var ErrMalformedResponse = errors.New("malformed service response")

// StatusError is a non-2xx response from a service.
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Endpoint, e.Code)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Endpoint, e.Code, e.Body)
}

// Config controls how the client reaches the services.
type Config struct {
	BaseURL string
	Timeout time.Duration
	HTTP    *http.Client
	Logger  logging.Logger
}

// Client talks to all three services behind one base URL.
type Client struct {
	baseURL *url.URL
	client  *http.Client
	log     logging.Logger
}

// NewClient validates cfg and returns a ready client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("backend base url is required")
	}
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid backend base url %q: scheme must be http or https", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	httpClient := cfg.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Noop()
	}
	return &Client{baseURL: parsed, client: httpClient, log: log}, nil
}

// ComputePlan posts the geometry to the planning service.
func (c *Client) ComputePlan(ctx context.Context, req model.PlanRequest) (result *model.PlanResult, err error) {
	ctx, span := observability.StartSpan(ctx, "backend.calculate_plan",
		attribute.Int("plan.polygons", len(req.Polygons)),
		attribute.Int("plan.critical_nodes", len(req.CriticalNodes)),
		attribute.String("plan.terrain", string(req.TerrainType)),
	)
	defer func() { observability.EndSpan(span, err) }()

	var out model.PlanResult
	if err = c.do(ctx, http.MethodPost, c.endpoint(planPath, nil), req, &out); err != nil {
		return nil, err
	}
	if err = validate.Struct(&out); err != nil {
		return nil, fmt.Errorf("%w: plan: %v", ErrMalformedResponse, err)
	}
	out.KPIs.Normalize()
	span.SetAttributes(attribute.Int("plan.towers", len(out.Towers)))
	return &out, nil
}

// Resilience fetches one weather-resilience sample for a sector.
func (c *Client) Resilience(ctx context.Context, req model.TelemetryRequest) (sample *model.ResilienceSample, err error) {
	ctx, span := observability.StartSpan(ctx, "backend.weather_resilience",
		attribute.String("sector.id", req.SectorID),
		attribute.String("plan.tech", req.Technology),
		attribute.Bool("telemetry.simulate", req.Simulate),
	)
	defer func() { observability.EndSpan(span, err) }()

	if strings.TrimSpace(req.SectorID) == "" {
		return nil, errors.New("telemetry request requires a sector id")
	}
	if req.SectorID == "." || req.SectorID == ".." {
		return nil, fmt.Errorf("invalid sector id %q", req.SectorID)
	}
	q := url.Values{}
	q.Set("tech_type", req.Technology)
	q.Set("simulate", strconv.FormatBool(req.Simulate))

	var out model.ResilienceSample
	if err = c.do(ctx, http.MethodGet, c.endpoint(resiliencePath, q, req.SectorID), nil, &out); err != nil {
		return nil, err
	}
	if err = validate.Struct(&out); err != nil {
		return nil, fmt.Errorf("%w: resilience: %v", ErrMalformedResponse, err)
	}
	out.Normalize()
	span.SetAttributes(attribute.Bool("telemetry.sos", out.SOS))
	return &out, nil
}

// Reroute asks the reroute service for a replacement mesh around a dead
// tower.
func (c *Client) Reroute(ctx context.Context, req model.RerouteRequest) (result *model.RerouteResult, err error) {
	ctx, span := observability.StartSpan(ctx, "backend.reroute_network",
		attribute.String("tower.dead_id", req.DeadNodeID),
		attribute.Int("plan.towers", len(req.Towers)),
	)
	defer func() { observability.EndSpan(span, err) }()

	var out model.RerouteResult
	if err = c.do(ctx, http.MethodPost, c.endpoint(reroutePath, nil), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// endpoint joins p onto the base URL. Each segment is appended as a single
// escaped path element.
func (c *Client) endpoint(p string, q url.Values, segments ...string) string {
	u := *c.baseURL
	u.Path = path.Join(u.Path, p)
	u.RawPath = ""
	if len(segments) > 0 {
		raw := u.EscapedPath()
		for _, seg := range segments {
			u.Path += "/" + seg
			raw += "/" + url.PathEscape(seg)
		}
		u.RawPath = raw
	}
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := logging.OperationIDFromContext(ctx); id != "" {
		req.Header.Set("X-Operation-ID", id)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.log.Debug(ctx, "backend response",
		logging.String("method", method),
		logging.String("path", req.URL.Path),
		logging.Int("status", resp.StatusCode),
		logging.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Endpoint: req.URL.Path,
			Code:     resp.StatusCode,
			Body:     strings.TrimSpace(string(msg)),
		}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(out); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: %s: truncated body", ErrUnavailable, req.URL.Path)
		}
		return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, req.URL.Path, err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())
