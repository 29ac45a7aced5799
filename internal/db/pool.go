package db

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/taskvine/taskvine/internal/db/driver"
	"github.com/taskvine/taskvine/internal/errors"
)

// Pool defaults.
const (
	DefaultPoolMinSize        = 2
	DefaultPoolMaxSize        = 8
	DefaultAcquireTimeout     = 5 * time.Second
	DefaultIdlePruneInterval  = time.Minute
	DefaultHealthInterval     = 30 * time.Second
	DefaultMaxErrorRate       = 0.25
	healthErrorRateMinSamples = 20
)

// PoolConfig bounds the connection pool.
type PoolConfig struct {
	MinSize           int
	MaxSize           int
	AcquireTimeout    time.Duration
	IdlePruneInterval time.Duration
	HealthInterval    time.Duration
	MaxErrorRate      float64
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.MinSize <= 0 {
		c.MinSize = DefaultPoolMinSize
	}
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultPoolMaxSize
	}
	if c.MaxSize < c.MinSize {
		c.MaxSize = c.MinSize
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = DefaultAcquireTimeout
	}
	if c.IdlePruneInterval <= 0 {
		c.IdlePruneInterval = DefaultIdlePruneInterval
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = DefaultHealthInterval
	}
	if c.MaxErrorRate <= 0 {
		c.MaxErrorRate = DefaultMaxErrorRate
	}
	return c
}

// PoolStats reports pool health counters.
type PoolStats struct {
	Active    int64 `json:"active"`
	Idle      int   `json:"idle"`
	Waiting   int64 `json:"waiting"`
	Errors    int64 `json:"errors"`
	Acquired  int64 `json:"acquired"`
	Timeouts  int64 `json:"timeouts"`
	Unhealthy bool  `json:"unhealthy"`
	MaxSize   int   `json:"max_size"`
}

// Pool gates access to the physical store: it bounds concurrent
// connections, times out acquisition, prunes idle connections, and health
// checks the database on an interval. It is the only path to the store.
type Pool struct {
	database *DB
	db       *sql.DB
	cfg      PoolConfig
	sem      *semaphore.Weighted
	log      *slog.Logger

	active   atomic.Int64
	waiting  atomic.Int64
	acquired atomic.Int64
	errs     atomic.Int64
	timeouts atomic.Int64

	mu        sync.Mutex
	unhealthy bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPool wraps the database in a bounded pool and starts the prune and
// health-check loops.
func NewPool(database *DB, cfg PoolConfig, log *slog.Logger) *Pool {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	sqlDB := database.DB()
	sqlDB.SetMaxOpenConns(cfg.MaxSize)
	sqlDB.SetMaxIdleConns(cfg.MinSize)
	sqlDB.SetConnMaxIdleTime(cfg.IdlePruneInterval)

	p := &Pool{
		database: database,
		db:       sqlDB,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxSize)),
		log:      log,
		stopCh:   make(chan struct{}),
	}

	p.wg.Add(1)
	go p.healthLoop()
	return p
}

// Acquire returns a dedicated connection, waiting up to the acquire
// timeout for a free slot. The returned release func must be called with
// the outcome error of the work done on the connection.
func (p *Pool) Acquire(ctx context.Context) (driver.Conn, func(err error), error) {
	acquireCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	p.waiting.Add(1)
	err := p.sem.Acquire(acquireCtx, 1)
	p.waiting.Add(-1)
	if err != nil {
		p.timeouts.Add(1)
		return nil, nil, errors.ErrPoolExhausted(p.cfg.AcquireTimeout.String()).WithCause(err)
	}

	conn, err := p.database.Conn(ctx)
	if err != nil {
		p.sem.Release(1)
		p.errs.Add(1)
		return nil, nil, errors.ErrStorage("acquire connection", err)
	}

	p.active.Add(1)
	p.acquired.Add(1)

	var once sync.Once
	release := func(outcome error) {
		once.Do(func() {
			if outcome != nil {
				p.errs.Add(1)
			}
			_ = conn.Close()
			p.active.Add(-1)
			p.sem.Release(1)
		})
	}
	return conn, release, nil
}

// Healthy reports whether the last health check passed.
func (p *Pool) Healthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.unhealthy
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	unhealthy := p.unhealthy
	p.mu.Unlock()

	return PoolStats{
		Active:    p.active.Load(),
		Idle:      p.db.Stats().Idle,
		Waiting:   p.waiting.Load(),
		Errors:    p.errs.Load(),
		Acquired:  p.acquired.Load(),
		Timeouts:  p.timeouts.Load(),
		Unhealthy: unhealthy,
		MaxSize:   p.cfg.MaxSize,
	}
}

// Close stops the background loops. The underlying database is owned by
// the caller and is not closed here.
func (p *Pool) Close() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	p.wg.Wait()
}

func (p *Pool) healthLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.checkHealth()
		}
	}
}

// checkHealth pings the database and compares the observed error rate to
// the configured ceiling. A flagged pool keeps serving; the flag is
// surfaced through Stats for the operator to act on.
func (p *Pool) checkHealth() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	bad := false
	if err := p.db.PingContext(ctx); err != nil {
		p.log.Warn("pool health check ping failed", "error", err)
		bad = true
	}

	acquired := p.acquired.Load()
	if !bad && acquired >= healthErrorRateMinSamples {
		rate := float64(p.errs.Load()) / float64(acquired)
		if rate > p.cfg.MaxErrorRate {
			p.log.Warn("pool error rate above threshold", "rate", rate, "threshold", p.cfg.MaxErrorRate)
			bad = true
		}
	}

	p.mu.Lock()
	p.unhealthy = bad
	p.mu.Unlock()
}
