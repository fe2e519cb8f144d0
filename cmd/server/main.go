package main

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/cache"
	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/hub"
	"whiteboard-backend/internal/logger"
	"whiteboard-backend/internal/presence"
	"whiteboard-backend/internal/server"
	"whiteboard-backend/internal/store"
)

const accessTokenExpiry = 24 * time.Hour

func main() {
	// 설정 로드
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		zlog.Fatal().Err(err).Msg("Invalid configuration")
	}

	log := logger.New(cfg.Log)

	// 스냅샷 저장소 연결
	openCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	gw, closeStore, err := store.Open(openCtx, cfg, log)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("Snapshot store connection failed")
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Warn().Err(err).Msg("Failed to close snapshot store")
		}
	}()
	log.Info().Str("driver", cfg.Store.Driver).Msg("Snapshot store ready")

	deps := server.Deps{Store: gw, Log: log}
	var opts []hub.Option

	// Redis (선택적) - 스냅샷 캐시와 presence
	if cfg.Redis.Enabled() {
		rdb, err := cache.NewRedisClient(cfg.Redis, log)
		if err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, continuing without cache and presence")
		} else {
			defer rdb.Close()

			gw = cache.NewSnapshotCache(rdb.Client(), gw, cfg.Redis.SnapshotTTL, cfg.Redis.KeyPrefix, log)
			deps.Redis = rdb

			tracker := presence.NewTracker(rdb.Client(), cfg.Redis.KeyPrefix, serverID(), 0, log)
			defer tracker.Close()
			deps.Presence = tracker
			opts = append(opts, hub.WithObserver(tracker))
		}
	} else {
		log.Info().Msg("Redis not configured (cache and presence disabled)")
	}

	manager := hub.NewManager(gw, hub.ConfigFrom(cfg.Board), log, opts...)
	deps.Manager = manager

	// 인증 (선택적)
	if cfg.Auth.JWTSecret != "" {
		deps.JWT = auth.NewJWTManager(cfg.Auth.JWTSecret, accessTokenExpiry)
	} else {
		log.Warn().Msg("JWT_SECRET not set, every connection joins as a guest")
	}

	// 서버 생성 및 설정
	srv := server.New(cfg, deps)
	srv.SetupMiddleware()
	srv.SetupRoutes()

	// 서버 시작 (종료 시그널까지 블로킹)
	if err := srv.Start(); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
	}

	// 열린 보드 모두 저장 후 종료
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := manager.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Board shutdown incomplete")
	}
	log.Info().Msg("Server exited")
}

// serverID presence 이벤트에 붙는 인스턴스 식별자
func serverID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host + "-" + uuid.NewString()[:8]
	}
	return uuid.NewString()
}
