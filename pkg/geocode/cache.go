package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/metrapark/facility-sync/pkg/facility"
)

// Prometheus metrics for the geocode cache.
var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facility_geocode_cache_hits_total",
		Help: "Total geocode cache hits",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facility_geocode_cache_misses_total",
		Help: "Total geocode cache misses",
	})

	cacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facility_geocode_cache_errors_total",
		Help: "Total geocode cache operation errors",
	}, []string{"operation"})
)

const cacheKeyPrefix = "facility:geocode:"

// DefaultCacheTTL keeps resolved coordinates for a week. Addresses move
// rarely; stale entries age out on their own.
const DefaultCacheTTL = 7 * 24 * time.Hour

// Cached wraps a Geocoder with a Redis address cache. Cache failures fall
// through to the underlying geocoder; only the lookup result is
// authoritative.
type Cached struct {
	inner  Geocoder
	redis  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCached creates a caching geocoder.
func NewCached(inner Geocoder, redisClient *redis.Client, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cached{
		inner:  inner,
		redis:  redisClient,
		ttl:    ttl,
		logger: log.With().Str("component", "geocode-cache").Logger(),
	}
}

// cacheKeyFor normalizes the address into a cache key.
func cacheKeyFor(address string) string {
	return cacheKeyPrefix + strings.ToLower(strings.Join(strings.Fields(address), " "))
}

// Lookup implements Geocoder.
func (c *Cached) Lookup(ctx context.Context, address string) (facility.Coordinates, error) {
	key := cacheKeyFor(address)

	data, err := c.redis.Get(ctx, key).Bytes()
	if err == nil {
		var coords facility.Coordinates
		if unmarshalErr := json.Unmarshal(data, &coords); unmarshalErr == nil {
			cacheHits.Inc()
			return coords, nil
		}
		cacheErrors.WithLabelValues("get").Inc()
	} else if err != redis.Nil {
		cacheErrors.WithLabelValues("get").Inc()
		c.logger.Warn().Err(err).Msg("Geocode cache get error")
	}
	cacheMisses.Inc()

	coords, err := c.inner.Lookup(ctx, address)
	if err != nil {
		return facility.Coordinates{}, err
	}

	if data, marshalErr := json.Marshal(coords); marshalErr == nil {
		if setErr := c.redis.Set(ctx, key, data, c.ttl).Err(); setErr != nil {
			cacheErrors.WithLabelValues("set").Inc()
			c.logger.Warn().Err(setErr).Msg("Geocode cache set error")
		} else {
			c.logger.Debug().
				Str("key", key).
				Dur("ttl", c.ttl).
				Msg("Cached coordinates")
		}
	}

	return coords, nil
}

// Invalidate removes one address from the cache.
func (c *Cached) Invalidate(ctx context.Context, address string) error {
	if err := c.redis.Del(ctx, cacheKeyFor(address)).Err(); err != nil {
		cacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
