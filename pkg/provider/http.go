package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/metrapark/facility-sync/pkg/breaker"
	"github.com/metrapark/facility-sync/pkg/facility"
	"github.com/metrapark/facility-sync/pkg/retry"
)

// Prometheus metrics for provider API calls.
var (
	providerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facility_provider_requests_total",
		Help: "Total provider API requests by provider and status",
	}, []string{"provider", "status"})

	providerRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "facility_provider_request_duration_seconds",
		Help:    "Provider API request duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"provider"})

	providerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facility_provider_errors_total",
		Help: "Total provider API errors by provider and class",
	}, []string{"provider", "class"})
)

// Config holds HTTP provider settings.
type Config struct {
	// Name identifies the provider; also used as the circuit breaker key.
	Name string

	// BaseURL is the provider API root, e.g. "https://api.city.example/v1".
	BaseURL string

	// AuthToken, when set, is sent as the Authorization header.
	AuthToken string

	// ReadSize is the page size for pagination planning and page requests.
	ReadSize int

	// OffersCurrentParking gates the provider for scheduled runs.
	OffersCurrentParking bool

	// ReadTimeout bounds one page fetch (default 60s, matching the slow
	// municipal APIs this was built for).
	ReadTimeout time.Duration

	// HealthTimeout bounds the health check call (default 5s).
	HealthTimeout time.Duration
}

// HTTP is a Provider backed by a JSON-over-HTTP API. Every remote call is
// routed through the retry executor and guarded by the circuit breaker
// registry under the provider's name.
type HTTP struct {
	cfg          Config
	readClient   *http.Client
	healthClient *http.Client
	retry        *retry.Executor
	breakers     *breaker.Registry
	logger       zerolog.Logger
}

// NewHTTP creates an HTTP provider.
func NewHTTP(cfg Config, retryExec *retry.Executor, breakers *breaker.Registry) (*HTTP, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("provider name is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider base URL is required")
	}
	if cfg.ReadSize <= 0 {
		return nil, fmt.Errorf("provider read size must be positive (got %d)", cfg.ReadSize)
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 5 * time.Second
	}

	return &HTTP{
		cfg:          cfg,
		readClient:   &http.Client{Timeout: cfg.ReadTimeout},
		healthClient: &http.Client{Timeout: cfg.HealthTimeout},
		retry:        retryExec,
		breakers:     breakers,
		logger:       log.With().Str("component", "provider").Str("provider", cfg.Name).Logger(),
	}, nil
}

// Name implements Provider.
func (p *HTTP) Name() string {
	return p.cfg.Name
}

// OffersCurrentParking implements Provider.
func (p *HTTP) OffersCurrentParking() bool {
	return p.cfg.OffersCurrentParking
}

// ReadSize implements Provider.
func (p *HTTP) ReadSize() int {
	return p.cfg.ReadSize
}

// Check implements Provider.
func (p *HTTP) Check(ctx context.Context) (HealthSignal, error) {
	var signal HealthSignal
	err := p.guarded(ctx, "check", func() error {
		return p.getJSON(ctx, p.healthClient, "/facilities/health", &signal)
	})
	if err != nil {
		return HealthSignal{}, err
	}
	return signal, nil
}

// facilityPayload is the provider wire format for one facility.
type facilityPayload struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Address         string `json:"address"`
	TotalSpaces     int    `json:"total_spaces"`
	AvailableSpaces int    `json:"available_spaces"`
}

type readResponse struct {
	Facilities []facilityPayload `json:"facilities"`
}

// Read implements Provider.
func (p *HTTP) Read(ctx context.Context, pageNumber, pageSize int) ([]facility.Facility, error) {
	path := "/facilities?page=" + strconv.Itoa(pageNumber) + "&size=" + strconv.Itoa(pageSize)

	var payload readResponse
	err := p.guarded(ctx, "read", func() error {
		return p.getJSON(ctx, p.readClient, path, &payload)
	})
	if err != nil {
		return nil, err
	}

	capturedAt := time.Now()
	records := make([]facility.Facility, 0, len(payload.Facilities))
	for _, f := range payload.Facilities {
		records = append(records, facility.Facility{
			ID:              f.ID,
			Provider:        p.cfg.Name,
			Name:            f.Name,
			Address:         f.Address,
			TotalSpaces:     f.TotalSpaces,
			AvailableSpaces: f.AvailableSpaces,
			CapturedAt:      capturedAt,
		})
	}
	return records, nil
}

// guarded composes the resilience wrappers around one remote call: the
// retry executor handles transient transport failures per attempt, the
// circuit breaker counts the guarded call as a whole.
func (p *HTTP) guarded(ctx context.Context, operation string, call func() error) error {
	return p.breakers.Do(p.cfg.Name, func() error {
		return p.retry.Do(ctx, p.cfg.Name+":"+operation, call)
	})
}

// getJSON performs one GET attempt against the provider API and decodes the
// JSON body. Failures carry their classification for the retry executor.
func (p *HTTP) getJSON(ctx context.Context, client *http.Client, path string, out any) error {
	start := time.Now()
	defer func() {
		providerRequestDuration.WithLabelValues(p.cfg.Name).Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.cfg.AuthToken != "" {
		req.Header.Set("Authorization", p.cfg.AuthToken)
	}

	resp, err := client.Do(req)
	if err != nil {
		providerErrorsTotal.WithLabelValues(p.cfg.Name, string(retry.ClassNetwork)).Inc()
		providerRequestsTotal.WithLabelValues(p.cfg.Name, "network_error").Inc()
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	providerRequestsTotal.WithLabelValues(p.cfg.Name, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		class := retry.ClassifyStatus(resp.StatusCode)
		providerErrorsTotal.WithLabelValues(p.cfg.Name, string(class)).Inc()
		p.logger.Warn().
			Str("path", endpointOf(path)).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Provider request error")
		return &retry.RemoteError{
			StatusCode: resp.StatusCode,
			Class:      class,
			Message:    resp.Status,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		providerErrorsTotal.WithLabelValues(p.cfg.Name, string(retry.ClassNetwork)).Inc()
		return fmt.Errorf("read body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// endpointOf strips query parameters for logging.
func endpointOf(path string) string {
	if u, err := url.Parse(path); err == nil {
		return u.Path
	}
	return path
}
