package datasource

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stratumhq/stratum-engine/pkg/logging"
	"github.com/stratumhq/stratum-engine/pkg/retry"
)

const (
	DefaultEntryTTLMinutes = 5
	DefaultCleanupInterval = time.Minute
	DefaultMaxPoolsPerUser = 10
)

// ManagerConfig tunes the connection manager.
type ManagerConfig struct {
	EntryTTLMinutes int
	MaxPoolsPerUser int
	Pool            PoolConfig
}

// Manager caches pools and shared clients for multi-tenant datasource access,
// keyed by "{tenantID}:{userID}:{datasourceID}", with TTL-based cleanup.
//
// SQL-family datasources get a bounded Pool; native clients with internal
// pooling get a single shared Connection; HTTP connections are stateless and
// never reach the manager.
type Manager struct {
	mu              sync.RWMutex
	entries         map[string]*managedEntry
	ttl             time.Duration
	maxPoolsPerUser int
	poolDefaults    PoolConfig
	stopped         bool
	stopChan        chan struct{}
	logger          *zap.Logger
}

type managedEntry struct {
	mu       sync.Mutex
	pool     *Pool      // set for pooled entries
	shared   Connection // set for shared-client entries
	lastUsed time.Time
}

func (e *managedEntry) close() {
	if e.pool != nil {
		e.pool.Close()
	}
	if e.shared != nil {
		_ = e.shared.Close()
	}
}

// NewManager creates a connection manager and starts its cleanup goroutine,
// which runs until Close is called.
func NewManager(cfg ManagerConfig, logger *zap.Logger) *Manager {
	if cfg.EntryTTLMinutes <= 0 {
		cfg.EntryTTLMinutes = DefaultEntryTTLMinutes
	}
	if cfg.MaxPoolsPerUser <= 0 {
		cfg.MaxPoolsPerUser = DefaultMaxPoolsPerUser
	}

	m := &Manager{
		entries:         make(map[string]*managedEntry),
		ttl:             time.Duration(cfg.EntryTTLMinutes) * time.Minute,
		maxPoolsPerUser: cfg.MaxPoolsPerUser,
		poolDefaults:    cfg.Pool.withDefaults(),
		stopChan:        make(chan struct{}),
		logger:          logger,
	}

	go m.cleanupExpired()
	return m
}

func managerKey(tenantID, userID, datasourceID uuid.UUID) string {
	return fmt.Sprintf("%s:%s:%s", tenantID, userID, datasourceID)
}

// GetOrCreatePool returns the cached pool for the datasource, creating it on
// first use. cfg zero-values fall back to the manager defaults.
func (m *Manager) GetOrCreatePool(
	ctx context.Context,
	tenantID, userID, datasourceID uuid.UUID,
	cfg PoolConfig,
	dial func(ctx context.Context) (Connection, error),
) (*Pool, error) {
	key := managerKey(tenantID, userID, datasourceID)

	m.mu.RLock()
	entry, exists := m.entries[key]
	m.mu.RUnlock()

	if exists && entry.pool != nil {
		entry.mu.Lock()
		entry.lastUsed = time.Now()
		entry.mu.Unlock()
		return entry.pool, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring the write lock.
	if entry, exists := m.entries[key]; exists && entry.pool != nil {
		entry.mu.Lock()
		entry.lastUsed = time.Now()
		entry.mu.Unlock()
		return entry.pool, nil
	}

	if err := m.checkUserLimitLocked(userID.String()); err != nil {
		return nil, err
	}

	merged := cfg
	if merged.MaxSize <= 0 {
		merged.MaxSize = m.poolDefaults.MaxSize
	}
	if merged.MinSize <= 0 {
		merged.MinSize = m.poolDefaults.MinSize
	}
	if merged.IdleTimeout <= 0 {
		merged.IdleTimeout = m.poolDefaults.IdleTimeout
	}
	if merged.MaxLifetime <= 0 {
		merged.MaxLifetime = m.poolDefaults.MaxLifetime
	}
	if merged.AcquireTimeout <= 0 {
		merged.AcquireTimeout = m.poolDefaults.AcquireTimeout
	}

	pool := NewPool(ctx, dial, merged, m.logger)
	m.entries[key] = &managedEntry{pool: pool, lastUsed: time.Now()}

	m.logger.Info("created datasource pool",
		zap.String("key", key),
		zap.Int("max_size", merged.MaxSize),
	)
	return pool, nil
}

// GetOrCreateShared returns the cached shared client for the datasource,
// recreating it if the cached one no longer validates. Used for native
// clients that pool internally.
func (m *Manager) GetOrCreateShared(
	ctx context.Context,
	tenantID, userID, datasourceID uuid.UUID,
	dial func(ctx context.Context) (Connection, error),
) (Connection, error) {
	key := managerKey(tenantID, userID, datasourceID)

	m.mu.RLock()
	entry, exists := m.entries[key]
	m.mu.RUnlock()

	if exists && entry.shared != nil {
		entry.mu.Lock()
		healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		healthy := entry.shared.IsValid(healthCtx)
		cancel()

		if healthy {
			entry.lastUsed = time.Now()
			entry.mu.Unlock()
			return entry.shared, nil
		}
		entry.mu.Unlock()

		m.logger.Warn("shared client unhealthy, recreating", zap.String("key", key))
		m.removeEntry(key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, exists := m.entries[key]; exists && entry.shared != nil {
		entry.mu.Lock()
		entry.lastUsed = time.Now()
		entry.mu.Unlock()
		return entry.shared, nil
	}

	if err := m.checkUserLimitLocked(userID.String()); err != nil {
		return nil, err
	}

	conn, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (Connection, error) {
		return dial(ctx)
	})
	if err != nil {
		m.logger.Error("failed to create shared client",
			zap.String("key", key),
			zap.String("error", logging.SanitizeError(err)),
		)
		return nil, err
	}

	m.entries[key] = &managedEntry{shared: conn, lastUsed: time.Now()}
	m.logger.Info("created shared datasource client", zap.String("key", key))
	return conn, nil
}

// checkUserLimitLocked enforces the per-user entry limit.
// Caller must hold m.mu.
func (m *Manager) checkUserLimitLocked(userID string) error {
	count := 0
	for key := range m.entries {
		parts := strings.Split(key, ":")
		if len(parts) >= 2 && parts[1] == userID {
			count++
		}
	}
	if count >= m.maxPoolsPerUser {
		return fmt.Errorf("user %s has reached the maximum of %d datasource pools", userID, m.maxPoolsPerUser)
	}
	return nil
}

func (m *Manager) removeEntry(key string) {
	m.mu.Lock()
	entry, exists := m.entries[key]
	if exists {
		delete(m.entries, key)
	}
	m.mu.Unlock()

	if exists {
		entry.close()
		m.logger.Debug("removed manager entry", zap.String("key", key))
	}
}

func (m *Manager) cleanupExpired() {
	ticker := time.NewTicker(DefaultCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.performCleanup()
		case <-m.stopChan:
			return
		}
	}
}

func (m *Manager) performCleanup() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}

	now := time.Now()
	var expired []*managedEntry
	for key, entry := range m.entries {
		entry.mu.Lock()
		stale := now.Sub(entry.lastUsed) > m.ttl
		entry.mu.Unlock()
		if stale {
			expired = append(expired, entry)
			delete(m.entries, key)
		}
	}
	remaining := len(m.entries)
	m.mu.Unlock()

	for _, entry := range expired {
		entry.close()
	}
	if len(expired) > 0 {
		m.logger.Info("cleaned up idle datasource entries",
			zap.Int("count", len(expired)),
			zap.Int("remaining", remaining),
		)
	}
}

// Close shuts down every pool and shared client and stops cleanup.
// Idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	close(m.stopChan)
	entries := m.entries
	m.entries = make(map[string]*managedEntry)
	m.mu.Unlock()

	for _, entry := range entries {
		entry.close()
	}
	m.logger.Info("connection manager closed")
	return nil
}

// ManagerStats describes the manager's current contents.
type ManagerStats struct {
	TotalEntries    int            `json:"total_entries"`
	MaxPoolsPerUser int            `json:"max_pools_per_user"`
	TTLMinutes      int            `json:"ttl_minutes"`
	EntriesByTenant map[string]int `json:"entries_by_tenant"`
	EntriesByUser   map[string]int `json:"entries_by_user"`
}

// Stats is safe to call concurrently.
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := ManagerStats{
		TotalEntries:    len(m.entries),
		MaxPoolsPerUser: m.maxPoolsPerUser,
		TTLMinutes:      int(m.ttl.Minutes()),
		EntriesByTenant: make(map[string]int),
		EntriesByUser:   make(map[string]int),
	}
	for key := range m.entries {
		parts := strings.Split(key, ":")
		if len(parts) >= 1 {
			stats.EntriesByTenant[parts[0]]++
		}
		if len(parts) >= 2 {
			stats.EntriesByUser[parts[1]]++
		}
	}
	return stats
}
