// Package pool provides a bounded worker pool with no task queue.
// Submissions that cannot start immediately are rejected rather than
// queued, bounding the worst-case latency of a batch run: under extreme
// load pages are dropped instead of piling up.
package pool

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for the worker pool.
var (
	poolActiveTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "facility_pool_active_tasks",
		Help: "Number of tasks currently executing",
	})

	poolWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "facility_pool_workers",
		Help: "Number of live worker goroutines",
	})

	poolRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facility_pool_rejections_total",
		Help: "Total number of task submissions rejected at max concurrency",
	})
)

// Errors returned by Submit.
var (
	// ErrSaturated indicates all workers were busy and no new worker could
	// be started. The submitter treats this as a task failure.
	ErrSaturated = errors.New("worker pool saturated")

	// ErrClosed indicates the pool is shutting down.
	ErrClosed = errors.New("worker pool closed")
)

// Config holds worker pool sizing.
type Config struct {
	// MinWorkers is the number of workers started up front.
	MinWorkers int

	// MaxWorkers is the hard concurrency limit. Extra workers are spawned
	// on demand up to this bound and kept until shutdown.
	MaxWorkers int

	// ShutdownGrace bounds how long Shutdown waits for accepted tasks.
	ShutdownGrace time.Duration
}

// DefaultConfig returns the default sizing: 20 baseline workers, 100 max,
// five minute drain grace.
func DefaultConfig() Config {
	return Config{
		MinWorkers:    20,
		MaxWorkers:    100,
		ShutdownGrace: 5 * time.Minute,
	}
}

// Pool is a bounded concurrent execution substrate shared by all dispatched
// tasks of a batch run.
type Pool struct {
	cfg    Config
	tasks  chan func()
	quit   chan struct{}
	wg     sync.WaitGroup
	logger zerolog.Logger

	mu      sync.Mutex
	workers int
	closed  bool
}

// New creates a pool and starts MinWorkers workers.
func New(cfg Config) *Pool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultConfig().MaxWorkers
	}
	if cfg.MinWorkers <= 0 {
		cfg.MinWorkers = 1
	}
	if cfg.MinWorkers > cfg.MaxWorkers {
		cfg.MinWorkers = cfg.MaxWorkers
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultConfig().ShutdownGrace
	}

	p := &Pool{
		cfg:    cfg,
		tasks:  make(chan func()),
		quit:   make(chan struct{}),
		logger: log.With().Str("component", "pool").Logger(),
	}

	p.mu.Lock()
	for i := 0; i < cfg.MinWorkers; i++ {
		p.startWorker(nil)
	}
	p.mu.Unlock()

	return p
}

// startWorker launches one worker goroutine, optionally seeded with a first
// task. Caller must hold p.mu.
func (p *Pool) startWorker(first func()) {
	p.workers++
	poolWorkers.Set(float64(p.workers))
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		if first != nil {
			p.run(first)
		}
		for {
			select {
			case task := <-p.tasks:
				p.run(task)
			case <-p.quit:
				return
			}
		}
	}()
}

func (p *Pool) run(task func()) {
	poolActiveTasks.Inc()
	defer poolActiveTasks.Dec()
	task()
}

// Submit hands a task to an idle worker. If none is idle and the pool is
// below MaxWorkers a new worker is spawned for it; otherwise the submission
// is rejected with ErrSaturated. Submit never blocks on a full pool.
func (p *Pool) Submit(task func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.mu.Unlock()

	select {
	case p.tasks <- task:
		return nil
	default:
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.workers >= p.cfg.MaxWorkers {
		poolRejectionsTotal.Inc()
		return ErrSaturated
	}
	p.startWorker(task)
	return nil
}

// Shutdown stops accepting tasks and waits for accepted tasks to finish,
// bounded by the configured grace period. Returns false if the grace
// period expired with tasks still running.
func (p *Pool) Shutdown() bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return true
	}
	p.closed = true
	p.mu.Unlock()

	close(p.quit)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info().Msg("Pool drained")
		return true
	case <-time.After(p.cfg.ShutdownGrace):
		p.logger.Warn().
			Dur("grace", p.cfg.ShutdownGrace).
			Msg("Pool shutdown grace period expired with tasks still running")
		return false
	}
}

// Workers reports the number of live workers. Intended for tests.
func (p *Pool) Workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers
}
