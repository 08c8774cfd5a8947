package datasource

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stratumhq/stratum-engine/pkg/apperrors"
	"github.com/stratumhq/stratum-engine/pkg/logging"
	"github.com/stratumhq/stratum-engine/pkg/models"
)

const (
	DefaultAcquireTimeout = 10 * time.Second
	DefaultIdleTimeout    = 5 * time.Minute
	DefaultMaxLifetime    = time.Hour
	DefaultHealthProbe    = 2 * time.Second
	reaperInterval        = time.Minute
)

// PoolConfig sizes a connection pool.
type PoolConfig struct {
	MinSize        int
	MaxSize        int
	IdleTimeout    time.Duration
	MaxLifetime    time.Duration
	AcquireTimeout time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.MaxSize <= 0 {
		c.MaxSize = 10
	}
	if c.MinSize < 0 {
		c.MinSize = 0
	}
	if c.MinSize > c.MaxSize {
		c.MinSize = c.MaxSize
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.MaxLifetime <= 0 {
		c.MaxLifetime = DefaultMaxLifetime
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = DefaultAcquireTimeout
	}
	return c
}

// PoolConfigFromModel maps a datasource's stored pool settings onto a
// PoolConfig, leaving zero values for withDefaults to fill.
func PoolConfigFromModel(ds *models.Datasource) PoolConfig {
	return PoolConfig{
		MinSize:     ds.PoolMinSize,
		MaxSize:     ds.PoolMaxSize,
		IdleTimeout: time.Duration(ds.IdleTimeoutSeconds) * time.Second,
		MaxLifetime: time.Duration(ds.MaxLifetimeSeconds) * time.Second,
	}
}

// PoolStatus reports a pool's current shape.
type PoolStatus struct {
	Active  int  `json:"active"`
	Idle    int  `json:"idle"`
	Max     int  `json:"max"`
	Healthy bool `json:"healthy"`
}

type pooledConn struct {
	conn      Connection
	createdAt time.Time
	idledAt   time.Time
}

// Pool is a bounded set of live connections for one datasource. Acquire
// blocks up to the configured timeout, then fails with ErrPoolExhausted.
// Released connections return to the idle set only if still valid; stale or
// invalid ones are discarded and their slot freed for a fresh connection.
type Pool struct {
	dial   func(ctx context.Context) (Connection, error)
	cfg    PoolConfig
	logger *zap.Logger

	slots chan struct{} // one token per acquired connection, capacity MaxSize

	mu      sync.Mutex
	idle    []*pooledConn
	tracked map[Connection]*pooledConn // every live connection we opened
	closed  bool

	stopReaper chan struct{}
}

// NewPool creates a pool that opens connections with dial. MinSize
// connections are pre-opened best-effort; failures there are deferred to the
// first Acquire.
func NewPool(ctx context.Context, dial func(ctx context.Context) (Connection, error), cfg PoolConfig, logger *zap.Logger) *Pool {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		dial:       dial,
		cfg:        cfg,
		logger:     logger,
		slots:      make(chan struct{}, cfg.MaxSize),
		tracked:    make(map[Connection]*pooledConn),
		stopReaper: make(chan struct{}),
	}
	for range cfg.MaxSize {
		p.slots <- struct{}{}
	}

	for range cfg.MinSize {
		conn, err := dial(ctx)
		if err != nil {
			p.logger.Warn("pool prewarm failed", zap.String("error", logging.SanitizeError(err)))
			break
		}
		now := time.Now()
		pc := &pooledConn{conn: conn, createdAt: now, idledAt: now}
		p.idle = append(p.idle, pc)
		p.tracked[conn] = pc
	}

	go p.reap()
	return p
}

// Acquire returns a connection, waiting up to the acquire timeout for a slot.
// Pool exhaustion is a retryable, reported failure, never a crash.
func (p *Pool) Acquire(ctx context.Context) (Connection, error) {
	return p.acquire(ctx, p.cfg.AcquireTimeout)
}

func (p *Pool) acquire(ctx context.Context, timeout time.Duration) (Connection, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.slots:
	case <-timer.C:
		return nil, apperrors.ErrPoolExhausted
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// Token held; hand out a fresh-enough idle connection or open a new one.
	for {
		pc := p.popIdle()
		if pc == nil {
			break
		}
		if p.isExpired(pc) {
			p.discard(pc.conn)
			continue
		}
		// Held by the caller now; the idle clock restarts at Release.
		pc.idledAt = time.Time{}
		return pc.conn, nil
	}

	conn, err := p.dial(ctx)
	if err != nil {
		p.slots <- struct{}{} // return the token; the slot stays usable
		return nil, err
	}

	p.mu.Lock()
	p.tracked[conn] = &pooledConn{conn: conn, createdAt: time.Now()}
	p.mu.Unlock()
	return conn, nil
}

// Release returns a connection to the idle set if it is still valid, or
// discards it. An invalidated connection never re-enters the idle set.
func (p *Pool) Release(ctx context.Context, conn Connection) {
	defer func() { p.slots <- struct{}{} }()

	p.mu.Lock()
	closed := p.closed
	pc := p.tracked[conn]
	p.mu.Unlock()

	if closed || pc == nil || p.isExpired(pc) || !conn.IsValid(ctx) {
		p.discard(conn)
		return
	}

	pc.idledAt = time.Now()
	p.mu.Lock()
	p.idle = append(p.idle, pc)
	p.mu.Unlock()
}

// Status reports active/idle counts and probes for health: healthy means at
// least one connection is obtainable within a short probe window.
func (p *Pool) Status(ctx context.Context) PoolStatus {
	p.mu.Lock()
	idle := len(p.idle)
	active := p.cfg.MaxSize - len(p.slots) // tokens out = acquired now
	p.mu.Unlock()

	status := PoolStatus{Active: active, Idle: idle, Max: p.cfg.MaxSize}

	probeCtx, cancel := context.WithTimeout(ctx, DefaultHealthProbe)
	defer cancel()

	conn, err := p.acquire(probeCtx, DefaultHealthProbe)
	if err == nil {
		status.Healthy = conn.IsValid(probeCtx)
		p.Release(probeCtx, conn)
	}
	return status
}

// Close closes every idle connection and stops the reaper. Idempotent.
// Connections currently acquired are closed when released.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	close(p.stopReaper)
	for _, pc := range idle {
		p.discard(pc.conn)
	}
}

func (p *Pool) popIdle() *pooledConn {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.idle) == 0 {
		return nil
	}
	pc := p.idle[len(p.idle)-1]
	p.idle = p.idle[:len(p.idle)-1]
	return pc
}

func (p *Pool) discard(conn Connection) {
	_ = conn.Close()
	p.mu.Lock()
	delete(p.tracked, conn)
	p.mu.Unlock()
}

func (p *Pool) isExpired(pc *pooledConn) bool {
	now := time.Now()
	if now.Sub(pc.createdAt) > p.cfg.MaxLifetime {
		return true
	}
	if !pc.idledAt.IsZero() && now.Sub(pc.idledAt) > p.cfg.IdleTimeout {
		return true
	}
	return false
}

func (p *Pool) reap() {
	ticker := time.NewTicker(reaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.evictStale()
		case <-p.stopReaper:
			return
		}
	}
}

func (p *Pool) evictStale() {
	p.mu.Lock()
	kept := p.idle[:0]
	var stale []*pooledConn
	for _, pc := range p.idle {
		if p.isExpired(pc) {
			stale = append(stale, pc)
		} else {
			kept = append(kept, pc)
		}
	}
	p.idle = kept
	p.mu.Unlock()

	for _, pc := range stale {
		p.discard(pc.conn)
	}
	if len(stale) > 0 {
		p.logger.Debug("evicted stale pooled connections", zap.Int("count", len(stale)))
	}
}
