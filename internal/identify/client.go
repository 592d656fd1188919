package identify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/onnwee/smartplant/internal/auth"
	"github.com/onnwee/smartplant/internal/middleware"
	"github.com/onnwee/smartplant/internal/sighting"
)

// DefaultTimeout bounds a single classifier call.
const DefaultTimeout = 30 * time.Second

// maxResponseBytes caps how much of a classifier reply is read.
const maxResponseBytes = 1 << 20

// ClientConfig configures HTTPClient.
type ClientConfig struct {
	// BaseURL of the classifier service; requests go to BaseURL + "/identify".
	BaseURL string
	// Timeout per request. Defaults to DefaultTimeout.
	Timeout time.Duration
	// HTTPClient overrides the traced default client.
	HTTPClient *http.Client
	Metrics    *Metrics
	Logger     *slog.Logger
}

// HTTPClient is an Identifier backed by the classifier's JSON API.
type HTTPClient struct {
	endpoint string
	timeout  time.Duration
	http     *http.Client
	metrics  *Metrics
	logger   *slog.Logger
}

// NewHTTPClient creates a classifier client.
func NewHTTPClient(cfg ClientConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("identification service URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &HTTPClient{
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/identify",
		timeout:  cfg.Timeout,
		http:     cfg.HTTPClient,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}, nil
}

// Endpoint returns the URL requests are sent to.
func (c *HTTPClient) Endpoint() string {
	return c.endpoint
}

type location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type identifyRequest struct {
	UserID   string    `json:"userID"`
	ImageKey string    `json:"imageKey"`
	Location *location `json:"location,omitempty"`
}

// identifyResponse keeps confidence raw so a string or missing value is
// rejected instead of decoding to zero.
type identifyResponse struct {
	Species    string          `json:"species"`
	Confidence json.RawMessage `json:"confidence"`
	ImageURL   string          `json:"imageUrl"`
}

// Identify posts the object key to the classifier. Any failure is wrapped in
// ErrIdentificationFailed.
func (c *HTTPClient) Identify(ctx context.Context, sess auth.Session, ownerID, objectKey string, loc *sighting.Coordinate) (*Result, error) {
	start := time.Now()
	result, err := c.identify(ctx, sess, ownerID, objectKey, loc)
	if c.metrics != nil {
		c.metrics.ObserveIdentify(err == nil, time.Since(start).Seconds())
	}
	if err != nil {
		c.logger.WarnContext(ctx, "identification failed",
			slog.String("image_key", objectKey),
			slog.String("error", err.Error()))
		return nil, err
	}
	return result, nil
}

func (c *HTTPClient) identify(ctx context.Context, sess auth.Session, ownerID, objectKey string, loc *sighting.Coordinate) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body := identifyRequest{UserID: ownerID, ImageKey: objectKey}
	if loc != nil {
		body.Location = &location{Lat: loc.Lat, Lng: loc.Lng}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode request: %v", ErrIdentificationFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to build request: %v", ErrIdentificationFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if sess.Token != "" {
		req.Header.Set("Authorization", "Bearer "+sess.Token)
	}
	middleware.ForwardRequestID(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentificationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: classifier returned status %d", ErrIdentificationFailed, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrIdentificationFailed, err)
	}

	var decoded identifyResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrIdentificationFailed, err)
	}

	result := &Result{Species: strings.TrimSpace(decoded.Species), ImageURL: decoded.ImageURL}
	if len(decoded.Confidence) == 0 || string(decoded.Confidence) == "null" {
		return nil, fmt.Errorf("%w: missing confidence", ErrIdentificationFailed)
	}
	if err := json.Unmarshal(decoded.Confidence, &result.Confidence); err != nil {
		return nil, fmt.Errorf("%w: non-numeric confidence", ErrIdentificationFailed)
	}
	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentificationFailed, err)
	}
	return result, nil
}
