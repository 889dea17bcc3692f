package template

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xnovu/worker/api"
	"github.com/xnovu/worker/catalog"
)

// stubStore satisfies catalog.Store for the single method the loader uses.
type stubStore struct {
	catalog.Store

	templates map[string]*api.Template
	calls     int
	err       error
}

func (s *stubStore) GetTemplateByKey(_ context.Context, key string, _ *string) (*api.Template, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.templates[key], nil
}

func TestCatalogLoaderCachesHits(t *testing.T) {
	store := &stubStore{templates: map[string]*api.Template{
		"welcome": tmpl("welcome", "hi"),
	}}
	loader := NewCatalogLoader(store)

	first, err := loader.Load(context.Background(), "welcome", nil)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := loader.Load(context.Background(), "welcome", nil)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, store.calls)
}

func TestCatalogLoaderDoesNotCacheMisses(t *testing.T) {
	store := &stubStore{}
	loader := NewCatalogLoader(store)

	for i := 0; i < 2; i++ {
		got, err := loader.Load(context.Background(), "ghost", nil)
		require.NoError(t, err)
		assert.Nil(t, got)
	}
	assert.Equal(t, 2, store.calls)
}

func TestCatalogLoaderScopesCacheByTenant(t *testing.T) {
	store := &stubStore{templates: map[string]*api.Template{
		"welcome": tmpl("welcome", "hi"),
	}}
	loader := NewCatalogLoader(store)
	tenant := "acme"

	_, err := loader.Load(context.Background(), "welcome", nil)
	require.NoError(t, err)
	_, err = loader.Load(context.Background(), "welcome", &tenant)
	require.NoError(t, err)

	assert.Equal(t, 2, store.calls)
}

func TestCatalogLoaderPropagatesErrors(t *testing.T) {
	store := &stubStore{err: api.Errorf(api.KindCatalogUnavailable, "connection refused")}
	loader := NewCatalogLoader(store)

	_, err := loader.Load(context.Background(), "welcome", nil)
	require.Error(t, err)
	assert.True(t, api.IsKind(err, api.KindCatalogUnavailable))
}

func TestCatalogLoaderClearCache(t *testing.T) {
	store := &stubStore{templates: map[string]*api.Template{
		"welcome": tmpl("welcome", "hi"),
	}}
	loader := NewCatalogLoader(store)

	_, err := loader.Load(context.Background(), "welcome", nil)
	require.NoError(t, err)
	loader.ClearCache()
	_, err = loader.Load(context.Background(), "welcome", nil)
	require.NoError(t, err)

	assert.Equal(t, 2, store.calls)
}
