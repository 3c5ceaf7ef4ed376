package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"datalab-service/internal/metrics"
	"datalab-service/internal/models"
	"datalab-service/internal/registry"
)

// ErrCacheMiss is returned by Get when no entry exists for the key.
var ErrCacheMiss = errors.New("cache miss")

// ComputeFunc produces a fresh response body and its mimetype from the store.
type ComputeFunc func(tx *gorm.DB) ([]byte, string, error)

// Manager keeps precomputed response bodies coherent with the active dataset.
type Manager struct {
	db       *gorm.DB
	registry *registry.Registry
	env      registry.Environment
	log      logrus.FieldLogger

	mu        sync.RWMutex
	computers map[string]ComputeFunc
}

func NewManager(db *gorm.DB, reg *registry.Registry, env registry.Environment, log logrus.FieldLogger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{db: db, registry: reg, env: env, log: log, computers: map[string]ComputeFunc{}}
}

// Register adds a computer that RebuildAll and Refresh keep warm.
func (m *Manager) Register(key string, fn ComputeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.computers[key] = fn
}

// Keys returns the registered keys in sorted order.
func (m *Manager) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.computers))
	for k := range m.computers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *Manager) computer(key string) (ComputeFunc, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn, ok := m.computers[key]
	return fn, ok
}

// EnsureFresh recomputes key when its entry is absent or was computed from a
// different dataset than the active one. The fingerprint read, the check and
// the upsert share one transaction. fn may be nil for a registered key.
func (m *Manager) EnsureFresh(ctx context.Context, key string, fn ComputeFunc) (*models.CacheEntry, error) {
	if fn == nil {
		var ok bool
		if fn, ok = m.computer(key); !ok {
			return nil, fmt.Errorf("no cache computer registered for %q", key)
		}
	}
	var entry *models.CacheEntry
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fingerprint, err := m.registry.ActiveFingerprint(tx, m.env)
		if err != nil {
			return err
		}
		var existing models.CacheEntry
		err = tx.Where("cache_key = ?", key).First(&existing).Error
		switch {
		case err == nil && existing.SourceDataFingerprint == fingerprint:
			metrics.Get().CacheRequests.WithLabelValues(key, "hit").Inc()
			entry = &existing
			return nil
		case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		metrics.Get().CacheRequests.WithLabelValues(key, "stale").Inc()
		entry, err = upsert(tx, key, fingerprint, fn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Get returns the stored entry verbatim.
func (m *Manager) Get(ctx context.Context, key string) (*models.CacheEntry, error) {
	var entry models.CacheEntry
	err := m.db.WithContext(ctx).Where("cache_key = ?", key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.Get().CacheRequests.WithLabelValues(key, "miss").Inc()
		return nil, fmt.Errorf("%w: %s", ErrCacheMiss, key)
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// RebuildAll recomputes every registered key inside tx and stamps the entries
// with fingerprint. The import calls it before the new version is active, so
// the fingerprint is passed in rather than read from the registry.
func (m *Manager) RebuildAll(tx *gorm.DB, fingerprint string) error {
	for _, key := range m.Keys() {
		fn, _ := m.computer(key)
		if _, err := upsert(tx, key, fingerprint, fn); err != nil {
			return fmt.Errorf("failed to rebuild cache key %s: %w", key, err)
		}
		m.log.WithField("cache_key", key).Info("Rebuilt cache entry")
	}
	return nil
}

// Refresh runs EnsureFresh over every registered key and returns the first error.
func (m *Manager) Refresh(ctx context.Context) error {
	var firstErr error
	for _, key := range m.Keys() {
		if _, err := m.EnsureFresh(ctx, key, nil); err != nil {
			m.log.WithError(err).WithField("cache_key", key).Warn("Cache refresh failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func upsert(tx *gorm.DB, key, fingerprint string, fn ComputeFunc) (*models.CacheEntry, error) {
	value, mimetype, err := fn(tx)
	if err != nil {
		return nil, err
	}
	entry := &models.CacheEntry{
		Key:                   key,
		Value:                 string(value),
		Mimetype:              mimetype,
		SourceDataFingerprint: fingerprint,
	}
	err = tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "mimetype", "source_data_fingerprint", "updated_at"}),
	}).Create(entry).Error
	if err != nil {
		return nil, err
	}
	metrics.Get().CacheRebuilds.Inc()
	return entry, nil
}
