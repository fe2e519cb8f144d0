package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"whiteboard-backend/internal/config"
)

// RedisClient go-redis 클라이언트 래퍼
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient Redis 클라이언트 생성 및 연결 확인
func NewRedisClient(cfg config.RedisConfig, log zerolog.Logger) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	log.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("Connected to Redis")
	return &RedisClient{client: client}, nil
}

// Client 내부 go-redis 클라이언트
func (r *RedisClient) Client() *redis.Client {
	return r.client
}

// Ping Redis 상태 확인
func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close 연결 종료
func (r *RedisClient) Close() error {
	return r.client.Close()
}
