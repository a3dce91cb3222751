package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/metrapark/facility-sync/pkg/facility"
	"github.com/metrapark/facility-sync/pkg/retry"
)

// Prometheus metrics for geocoding lookups.
var (
	geocodeLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facility_geocode_lookups_total",
		Help: "Total geocoding lookups by result (ok, no_result, error)",
	}, []string{"result"})

	geocodeLookupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "facility_geocode_lookup_duration_seconds",
		Help:    "Geocoding lookup duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})
)

// HTTPConfig holds coordinate API settings.
type HTTPConfig struct {
	// BaseURL is the coordinate API root.
	BaseURL string

	// AuthKey is sent as the Authorization header (the Kakao-style
	// "KakaoAK <key>" format, but any scheme the API accepts works).
	AuthKey string

	// Timeout bounds one lookup (default 5s).
	Timeout time.Duration
}

// HTTPGeocoder resolves addresses against a coordinate HTTP API, retrying
// transient failures with the shared retry executor.
type HTTPGeocoder struct {
	cfg        HTTPConfig
	httpClient *http.Client
	retry      *retry.Executor
	logger     zerolog.Logger
}

// NewHTTP creates an HTTP geocoder.
func NewHTTP(cfg HTTPConfig, retryExec *retry.Executor) (*HTTPGeocoder, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("geocoder base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	return &HTTPGeocoder{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retry:      retryExec,
		logger:     log.With().Str("component", "geocode").Logger(),
	}, nil
}

type coordinateResponse struct {
	Documents []struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"documents"`
}

// Lookup implements Geocoder.
func (g *HTTPGeocoder) Lookup(ctx context.Context, address string) (facility.Coordinates, error) {
	start := time.Now()
	defer func() {
		geocodeLookupDuration.Observe(time.Since(start).Seconds())
	}()

	var coords facility.Coordinates
	err := g.retry.Do(ctx, "geocode", func() error {
		var attemptErr error
		coords, attemptErr = g.lookupOnce(ctx, address)
		return attemptErr
	})

	switch {
	case err == nil:
		geocodeLookupsTotal.WithLabelValues("ok").Inc()
	case errors.Is(err, ErrNoResult):
		geocodeLookupsTotal.WithLabelValues("no_result").Inc()
	default:
		geocodeLookupsTotal.WithLabelValues("error").Inc()
	}
	return coords, err
}

func (g *HTTPGeocoder) lookupOnce(ctx context.Context, address string) (facility.Coordinates, error) {
	endpoint := g.cfg.BaseURL + "/coordinates?query=" + url.QueryEscape(address)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return facility.Coordinates{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if g.cfg.AuthKey != "" {
		req.Header.Set("Authorization", g.cfg.AuthKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return facility.Coordinates{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return facility.Coordinates{}, &retry.RemoteError{
			StatusCode: resp.StatusCode,
			Class:      retry.ClassifyStatus(resp.StatusCode),
			Message:    resp.Status,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return facility.Coordinates{}, fmt.Errorf("read body: %w", err)
	}

	var payload coordinateResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return facility.Coordinates{}, fmt.Errorf("decode response: %w", err)
	}
	if len(payload.Documents) == 0 {
		return facility.Coordinates{}, ErrNoResult
	}

	doc := payload.Documents[0]
	return facility.Coordinates{Latitude: doc.Latitude, Longitude: doc.Longitude}, nil
}
