package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/store"
)

func sampleSnapshot(ids ...string) model.Snapshot {
	snap := model.EmptySnapshot()
	for _, id := range ids {
		snap.Objects = append(snap.Objects, model.SceneObject{
			ID:   model.ObjectID(id),
			Kind: model.KindCircle,
			Circle: &model.CircleShape{
				Radius: 5,
			},
		})
	}
	return snap
}

// unreachableRedis fails every command quickly.
func unreachableRedis(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

// liveRedis connects to REDIS_ADDR or skips the test.
func liveRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client, err := NewRedisClient(config.RedisConfig{Addr: addr}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client.Client()
}

func TestSnapshotCache_Key(t *testing.T) {
	c := NewSnapshotCache(unreachableRedis(t), store.NewMemory(), time.Minute, "", zerolog.Nop())
	assert.Equal(t, "whiteboard:board:b1:snapshot", c.Key("b1"))

	c = NewSnapshotCache(unreachableRedis(t), store.NewMemory(), time.Minute, "test", zerolog.Nop())
	assert.Equal(t, "test:board:b1:snapshot", c.Key("b1"))
}

func TestSnapshotCache_LoadFallsBackWhenRedisDown(t *testing.T) {
	ctx := context.Background()
	inner := store.NewMemory()
	require.NoError(t, inner.Save(ctx, "b1", sampleSnapshot("a", "b")))

	c := NewSnapshotCache(unreachableRedis(t), inner, time.Minute, "test", zerolog.Nop())

	snap, err := c.Load(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Len())

	_, err = c.Load(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSnapshotCache_SaveReportsStaleCache(t *testing.T) {
	ctx := context.Background()
	inner := store.NewMemory()
	c := NewSnapshotCache(unreachableRedis(t), inner, time.Minute, "test", zerolog.Nop())

	err := c.Save(ctx, "b1", sampleSnapshot("a"))
	require.Error(t, err)

	// the durable write still happened
	snap, err := inner.Load(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Len())
}

func TestSnapshotCache_DelegatesCreateAndPing(t *testing.T) {
	ctx := context.Background()
	inner := store.NewMemory()
	c := NewSnapshotCache(unreachableRedis(t), inner, time.Minute, "test", zerolog.Nop())

	owner := int64(3)
	require.NoError(t, c.CreateBoard(ctx, model.BoardMeta{BoardID: "b1", Title: "Plan", CreatedBy: &owner}))
	meta, ok := inner.Meta("b1")
	require.True(t, ok)
	assert.Equal(t, "Plan", meta.Title)

	assert.NoError(t, c.Ping(ctx))

	var _ store.Gateway = c
	var _ store.BoardCreator = c
	var _ store.Pinger = c
}

func TestSnapshotCache_ReadThrough(t *testing.T) {
	rdb := liveRedis(t)
	ctx := context.Background()
	prefix := "test-" + uuid.NewString()

	inner := store.NewMemory()
	require.NoError(t, inner.Save(ctx, "b1", sampleSnapshot("a")))
	c := NewSnapshotCache(rdb, inner, time.Minute, prefix, zerolog.Nop())
	t.Cleanup(func() { _ = c.Invalidate(context.Background(), "b1") })

	snap, err := c.Load(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Len())

	cached, err := rdb.Get(ctx, c.Key("b1")).Bytes()
	require.NoError(t, err)
	decoded, err := model.DecodeSnapshot(cached)
	require.NoError(t, err)
	assert.Equal(t, snap, decoded)

	ttl, err := rdb.TTL(ctx, c.Key("b1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestSnapshotCache_SaveUpdatesCache(t *testing.T) {
	rdb := liveRedis(t)
	ctx := context.Background()
	prefix := "test-" + uuid.NewString()

	inner := store.NewMemory()
	c := NewSnapshotCache(rdb, inner, time.Minute, prefix, zerolog.Nop())
	t.Cleanup(func() { _ = c.Invalidate(context.Background(), "b1") })

	require.NoError(t, c.Save(ctx, "b1", sampleSnapshot("a", "b", "c")))

	// served from the cache even if the store loses it
	inner2 := store.NewMemory()
	c2 := NewSnapshotCache(rdb, inner2, time.Minute, prefix, zerolog.Nop())
	snap, err := c2.Load(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Len())
}

func TestSnapshotCache_CorruptEntryIsDropped(t *testing.T) {
	rdb := liveRedis(t)
	ctx := context.Background()
	prefix := "test-" + uuid.NewString()

	inner := store.NewMemory()
	require.NoError(t, inner.Save(ctx, "b1", sampleSnapshot("a")))
	c := NewSnapshotCache(rdb, inner, time.Minute, prefix, zerolog.Nop())
	t.Cleanup(func() { _ = c.Invalidate(context.Background(), "b1") })

	require.NoError(t, rdb.Set(ctx, c.Key("b1"), "not json", time.Minute).Err())

	snap, err := c.Load(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Len())
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	if testing.Short() {
		t.Skip("dials a closed port")
	}
	_, err := NewRedisClient(config.RedisConfig{Addr: "127.0.0.1:1"}, zerolog.Nop())
	assert.Error(t, err)
}
