package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	internalcache "github.com/BaSui01/tokengate/internal/cache"
)

func setupRedisStore(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	store, err := NewRedisStore(internalcache.Config{Addr: mr.Addr()}, "", zap.NewNop())
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
		mr.Close()
	})
	return mr, store
}

func TestRedisStore_RoundTrip(t *testing.T) {
	mr, store := setupRedisStore(t)
	ctx := context.Background()

	m, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, m)

	require.NoError(t, store.Update(ctx, func(m Manifest) error {
		m["fp1"] = ManifestEntry{Name: "ctx/1", Created: "2025-06-01T12:00:00Z", TTLMinutes: intPtr(5)}
		return nil
	}))
	require.NoError(t, store.Update(ctx, func(m Manifest) error {
		m["fp2"] = ManifestEntry{Name: "ctx/2", Created: "2025-06-01T12:01:00Z"}
		return nil
	}))

	m, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, m, 2)
	assert.Equal(t, "ctx/1", m["fp1"].Name)
	require.NotNil(t, m["fp1"].TTLMinutes)
	assert.Equal(t, 5, *m["fp1"].TTLMinutes)

	// 整个清单存放在单一 key 下
	assert.True(t, mr.Exists(DefaultRedisKey))
}

func TestRedisStore_CorruptValueIsEmpty(t *testing.T) {
	mr, store := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, mr.Set(DefaultRedisKey, "garbage"))

	m, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, m)

	require.NoError(t, store.Update(ctx, func(m Manifest) error {
		m["fp"] = ManifestEntry{Name: "ctx/new"}
		return nil
	}))
	m, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ctx/new", m["fp"].Name)
}

func TestRedisStore_WithManager(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	mgr, err := internalcache.NewManager(internalcache.Config{Addr: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	store := NewRedisStoreWithManager(mgr, "custom:key", nil)
	defer store.Close()

	require.NoError(t, store.Update(context.Background(), func(m Manifest) error {
		m["a"] = ManifestEntry{Name: "n"}
		return nil
	}))
	assert.True(t, mr.Exists("custom:key"))
}
