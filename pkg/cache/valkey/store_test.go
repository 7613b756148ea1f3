package valkey

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/infralens/infralens/pkg/cache"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	store, err := New(Config{Address: server.Addr(), Key: "infralens_analysis_cache"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, server
}

func TestLoadMissingKey(t *testing.T) {
	store, _ := newTestStore(t)

	data, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Nil(t, data)
}

func TestSaveAndLoad(t *testing.T) {
	store, server := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, []byte(`{"k":"v"}`)))

	data, err := store.Load(ctx)
	require.NoError(t, err)
	require.JSONEq(t, `{"k":"v"}`, string(data))

	raw, err := server.Get("infralens_analysis_cache")
	require.NoError(t, err)
	require.JSONEq(t, `{"k":"v"}`, raw)
}

func TestResultCacheOverValkey(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	c := cache.New(ctx, store, cache.Config{MaxEntries: 4, MaxAge: time.Hour})
	c.Put(ctx, "hash", "intent", "response body")

	reopened := cache.New(ctx, store, cache.Config{MaxEntries: 4, MaxAge: time.Hour})
	v, ok := reopened.Get(ctx, "hash", "intent")
	require.True(t, ok)
	require.Equal(t, "response body", v)
}

func TestNewRequiresAddress(t *testing.T) {
	_, err := New(Config{Key: "k"})
	require.Error(t, err)
}
