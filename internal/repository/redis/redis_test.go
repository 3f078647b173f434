package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*goredis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

// ---------------------------------------------------------------------------
// SessionStore
// ---------------------------------------------------------------------------

func TestSessionStore_BindAndLookup(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewSessionStore(client, time.Hour)
	ctx := context.Background()
	cartID := uuid.New()

	require.NoError(t, store.Bind(ctx, "sess-abcdef", cartID))
	assert.Equal(t, cartID.String(), mustGet(t, mr, "cart:session:sess-abcdef"))

	got, ok, err := store.CartID(ctx, "sess-abcdef")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, cartID, got)
}

func TestSessionStore_Missing(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewSessionStore(client, time.Hour)

	_, ok, err := store.CartID(context.Background(), "nobody")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionStore_LookupRefreshesTTL(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewSessionStore(client, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Bind(ctx, "sess-1", uuid.New()))
	mr.FastForward(50 * time.Minute)

	_, ok, err := store.CartID(ctx, "sess-1")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(50 * time.Minute)
	_, ok, err = store.CartID(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(61 * time.Minute)
	_, ok, err = store.CartID(ctx, "sess-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionStore_Malformed(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewSessionStore(client, time.Hour)
	require.NoError(t, mr.Set("cart:session:sess-bad-token", "not-a-uuid"))

	_, _, err := store.CartID(context.Background(), "sess-bad-token")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sess-b***")
}

func TestSessionStore_Clear(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewSessionStore(client, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Bind(ctx, "sess-1", uuid.New()))
	require.NoError(t, store.Clear(ctx, "sess-1"))
	assert.False(t, mr.Exists("cart:session:sess-1"))

	require.NoError(t, store.Clear(ctx, "never-bound"))
}

// ---------------------------------------------------------------------------
// IdempotencyStore
// ---------------------------------------------------------------------------

func TestIdempotencyStore(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewIdempotencyStore(client, 24*time.Hour)
	ctx := context.Background()

	seen, err := store.Contains(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, store.Add(ctx, "evt-1"))
	seen, err = store.Contains(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, seen)

	mr.FastForward(25 * time.Hour)
	seen, err = store.Contains(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}
