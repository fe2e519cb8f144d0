package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/store"
)

// SnapshotCache Redis 에 최근 스냅샷을 캐싱하는 store.Gateway 데코레이터.
// 쓰기는 항상 내부 저장소가 먼저이고, Redis 장애 시 내부 저장소로 그대로 동작한다.
type SnapshotCache struct {
	rdb    redis.Cmdable
	inner  store.Gateway
	ttl    time.Duration
	prefix string
	log    zerolog.Logger
}

// NewSnapshotCache 생성자
func NewSnapshotCache(rdb redis.Cmdable, inner store.Gateway, ttl time.Duration, prefix string, log zerolog.Logger) *SnapshotCache {
	if prefix == "" {
		prefix = "whiteboard"
	}
	return &SnapshotCache{
		rdb:    rdb,
		inner:  inner,
		ttl:    ttl,
		prefix: prefix,
		log:    log.With().Str("component", "snapshot-cache").Logger(),
	}
}

// Key 보드 스냅샷 키
func (c *SnapshotCache) Key(id model.BoardID) string {
	return c.prefix + ":board:" + string(id) + ":snapshot"
}

// Load 캐시 우선 조회, 미스나 장애 시 내부 저장소 조회 후 캐시 채움
func (c *SnapshotCache) Load(ctx context.Context, id model.BoardID) (model.Snapshot, error) {
	data, err := c.rdb.Get(ctx, c.Key(id)).Bytes()
	switch {
	case err == nil:
		snap, decErr := model.DecodeSnapshot(data)
		if decErr == nil {
			return snap, nil
		}
		c.log.Warn().Err(decErr).Str("board", string(id)).Msg("Corrupt cached snapshot, dropping")
		_ = c.rdb.Del(ctx, c.Key(id)).Err()
	case errors.Is(err, redis.Nil):
	default:
		c.log.Warn().Err(err).Str("board", string(id)).Msg("Cache read failed, using store")
	}

	snap, err := c.inner.Load(ctx, id)
	if err != nil {
		return snap, err
	}
	c.fill(ctx, id, snap)
	return snap, nil
}

func (c *SnapshotCache) fill(ctx context.Context, id model.BoardID, snap model.Snapshot) {
	data, err := snap.Encode()
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, c.Key(id), data, c.ttl).Err(); err != nil {
		c.log.Debug().Err(err).Str("board", string(id)).Msg("Cache fill failed")
	}
}

// Save 내부 저장소에 먼저 쓰고 캐시를 갱신.
// 캐시 갱신과 무효화가 모두 실패하면 오래된 캐시가 남으므로 에러를 돌려준다.
func (c *SnapshotCache) Save(ctx context.Context, id model.BoardID, snap model.Snapshot) error {
	if err := c.inner.Save(ctx, id, snap); err != nil {
		return err
	}

	data, err := snap.Encode()
	if err == nil {
		err = c.rdb.Set(ctx, c.Key(id), data, c.ttl).Err()
	}
	if err == nil {
		return nil
	}

	c.log.Warn().Err(err).Str("board", string(id)).Msg("Cache update failed, invalidating")
	if delErr := c.rdb.Del(ctx, c.Key(id)).Err(); delErr != nil {
		return fmt.Errorf("invalidate cached snapshot: %w", delErr)
	}
	return nil
}

// CreateBoard 내부 저장소가 메타데이터를 지원하면 위임
func (c *SnapshotCache) CreateBoard(ctx context.Context, meta model.BoardMeta) error {
	if creator, ok := c.inner.(store.BoardCreator); ok {
		return creator.CreateBoard(ctx, meta)
	}
	return nil
}

// Ping 내부 저장소 상태 확인. Redis 는 선택 구성요소라 포함하지 않는다.
func (c *SnapshotCache) Ping(ctx context.Context) error {
	if p, ok := c.inner.(store.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Invalidate 캐시된 스냅샷 삭제
func (c *SnapshotCache) Invalidate(ctx context.Context, id model.BoardID) error {
	return c.rdb.Del(ctx, c.Key(id)).Err()
}
