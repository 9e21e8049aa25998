package service

import (
	"context"
	"fmt"
	"time"

	"github.com/pushgate/webhooks/internal/models"
	"github.com/pushgate/webhooks/internal/observability"
	"github.com/pushgate/webhooks/pkg/cache"
)

const (
	cacheNameAppByKey = "app_by_key"
	cacheNameAppByID  = "app_by_id"
)

// cachingAppManager wraps an AppManager with expiring caches for FindByKey and FindByID.
type cachingAppManager struct {
	inner   AppManager
	byKey   *cache.LoaderCache[string, *models.App]
	byID    *cache.LoaderCache[string, *models.App]
	metrics observability.CacheMetrics
}

// NewCachingAppManager returns an AppManager that caches lookups for ttl.
// Lookup errors, not-found included, are not cached. metrics may be nil.
func NewCachingAppManager(inner AppManager, size int, ttl time.Duration, metrics observability.CacheMetrics) (AppManager, error) {
	byKey, err := cache.NewLoaderCache[string, *models.App](size, ttl, identityKey)
	if err != nil {
		return nil, fmt.Errorf("create app by key cache: %w", err)
	}

	byID, err := cache.NewLoaderCache[string, *models.App](size, ttl, identityKey)
	if err != nil {
		return nil, fmt.Errorf("create app by id cache: %w", err)
	}

	return &cachingAppManager{inner: inner, byKey: byKey, byID: byID, metrics: metrics}, nil
}

func identityKey(s string) string { return s }

func (m *cachingAppManager) FindByKey(ctx context.Context, key string) (*models.App, error) {
	return m.lookup(ctx, m.byKey, cacheNameAppByKey, key, m.inner.FindByKey)
}

func (m *cachingAppManager) FindByID(ctx context.Context, id string) (*models.App, error) {
	return m.lookup(ctx, m.byID, cacheNameAppByID, id, m.inner.FindByID)
}

func (m *cachingAppManager) lookup(
	ctx context.Context,
	c *cache.LoaderCache[string, *models.App],
	name, key string,
	load func(context.Context, string) (*models.App, error),
) (*models.App, error) {
	app, hit, err := c.GetWithStats(ctx, key, load)
	if err != nil {
		return nil, fmt.Errorf("find app (%s): %w", name, err)
	}

	if m.metrics != nil {
		if hit {
			m.metrics.RecordHit(ctx, name)
		} else {
			m.metrics.RecordMiss(ctx, name)
		}
	}

	return app, nil
}
