package storage

import (
	"context"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx via database/sql
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/metrapark/facility-sync/pkg/facility"
)

// Prometheus metrics for facility persistence.
var (
	storeBatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facility_store_batches_total",
		Help: "Total batch writes by result",
	}, []string{"result"})

	storeBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "facility_store_batch_duration_seconds",
		Help:    "Batch write duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
	})
)

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	// URL is the connection string.
	URL string

	// MaxConns bounds open connections (default 10).
	MaxConns int

	// MinConns sets idle connections kept warm (default 2).
	MinConns int
}

// Postgres is a Store backed by PostgreSQL via sqlx.
type Postgres struct {
	db     *sqlx.DB
	logger zerolog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS facilities (
	provider         TEXT        NOT NULL,
	facility_id      TEXT        NOT NULL,
	name             TEXT        NOT NULL,
	address          TEXT        NOT NULL DEFAULT '',
	total_spaces     INTEGER     NOT NULL DEFAULT 0,
	available_spaces INTEGER     NOT NULL DEFAULT 0,
	latitude         DOUBLE PRECISION,
	longitude        DOUBLE PRECISION,
	captured_at      TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (provider, facility_id)
)`

// NewPostgres opens a connection pool and verifies connectivity.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	db, err := sqlx.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	if cfg.MinConns > 0 {
		db.SetMaxIdleConns(cfg.MinConns)
	} else {
		db.SetMaxIdleConns(2)
	}
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Postgres{
		db:     db,
		logger: log.With().Str("component", "storage").Logger(),
	}, nil
}

// EnsureSchema creates the facilities table if it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// SaveAll implements Store. The batch is upserted in one transaction so a
// partial write never survives a failure.
func (p *Postgres) SaveAll(ctx context.Context, records []facility.Facility) error {
	if len(records) == 0 {
		return nil
	}

	start := time.Now()
	defer func() {
		storeBatchDuration.Observe(time.Since(start).Seconds())
	}()

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		storeBatchesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO facilities (
			provider, facility_id, name, address,
			total_spaces, available_spaces, latitude, longitude,
			captured_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (provider, facility_id) DO UPDATE SET
			name             = EXCLUDED.name,
			address          = EXCLUDED.address,
			total_spaces     = EXCLUDED.total_spaces,
			available_spaces = EXCLUDED.available_spaces,
			latitude         = EXCLUDED.latitude,
			longitude        = EXCLUDED.longitude,
			captured_at      = EXCLUDED.captured_at,
			updated_at       = now()
	`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		storeBatchesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		var lat, lon any
		if rec.Geocoded {
			lat, lon = rec.Coordinates.Latitude, rec.Coordinates.Longitude
		}
		if _, err := stmt.ExecContext(ctx,
			rec.Provider, rec.ID, rec.Name, rec.Address,
			rec.TotalSpaces, rec.AvailableSpaces, lat, lon,
			rec.CapturedAt,
		); err != nil {
			storeBatchesTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("upsert facility %s/%s: %w", rec.Provider, rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		storeBatchesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("commit tx: %w", err)
	}

	storeBatchesTotal.WithLabelValues("ok").Inc()
	p.logger.Debug().
		Int("records", len(records)).
		Dur("duration", time.Since(start)).
		Msg("Batch persisted")
	return nil
}

// Count returns the number of persisted facilities. Intended for tests and
// diagnostics.
func (p *Postgres) Count(ctx context.Context) (int, error) {
	var count int
	if err := p.db.GetContext(ctx, &count, "SELECT count(*) FROM facilities"); err != nil {
		return 0, fmt.Errorf("count facilities: %w", err)
	}
	return count, nil
}

// Health checks database connectivity.
func (p *Postgres) Health(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}
