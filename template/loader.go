package template

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/xnovu/worker/api"
	"github.com/xnovu/worker/catalog"
)

// Loader resolves template keys to templates within a tenant context.
type Loader interface {
	// Load returns the template for key, trying the tenant scope then the
	// global scope. A nil template with nil error means not found.
	Load(ctx context.Context, key string, tenant *string) (*api.Template, error)
}

const (
	// loaderTTL bounds how stale a cached template may be.
	loaderTTL = 5 * time.Minute

	cacheSweepInterval = 10 * time.Minute
)

// CatalogLoader loads templates from the Catalog DB through a TTL cache so
// deep template trees do not hammer the database on every render.
type CatalogLoader struct {
	store catalog.Store
	cache *gocache.Cache
}

// NewCatalogLoader constructs a loader over the catalog store.
func NewCatalogLoader(store catalog.Store) *CatalogLoader {
	return &CatalogLoader{
		store: store,
		cache: gocache.New(loaderTTL, cacheSweepInterval),
	}
}

// Load implements Loader. Only hits are cached; misses always go back to the
// catalog so a freshly published template becomes visible immediately.
func (l *CatalogLoader) Load(ctx context.Context, key string, tenant *string) (*api.Template, error) {
	ck := cacheKey(key, tenant)
	if cached, ok := l.cache.Get(ck); ok {
		return cached.(*api.Template), nil
	}
	tmpl, err := l.store.GetTemplateByKey(ctx, key, tenant)
	if err != nil {
		return nil, err
	}
	if tmpl != nil {
		l.cache.SetDefault(ck, tmpl)
	}
	return tmpl, nil
}

// ClearCache drops every cached template.
func (l *CatalogLoader) ClearCache() {
	l.cache.Flush()
}

// ClearExpired evicts entries past their TTL.
func (l *CatalogLoader) ClearExpired() {
	l.cache.DeleteExpired()
}

func cacheKey(key string, tenant *string) string {
	return fmt.Sprintf("%s|%s", api.TenantKey(tenant), key)
}
