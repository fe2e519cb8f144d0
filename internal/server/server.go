package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/handler"
	"whiteboard-backend/internal/hub"
	"whiteboard-backend/internal/store"
)

// Deps 서버가 라우팅하는 구성 요소
type Deps struct {
	Manager  *hub.Manager
	Store    store.Gateway
	Redis    store.Pinger           // nil 이면 Redis 미사용
	Presence handler.PresenceReader // nil 이면 presence API 비활성화
	JWT      *auth.JWTManager       // nil 이면 모든 연결을 게스트로 처리
	Log      zerolog.Logger
}

// Server Fiber 서버 래퍼
type Server struct {
	app           *fiber.App
	cfg           *config.Config
	log           zerolog.Logger
	wsHandler     *handler.BoardWSHandler
	healthHandler *handler.HealthHandler
	statsHandler  *handler.StatsHandler
	jwtManager    *auth.JWTManager
}

// New 새 서버 인스턴스 생성
func New(cfg *config.Config, deps Deps) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "Whiteboard Session Server",
		ServerHeader:          "Fiber",
		StrictRouting:         true,
		CaseSensitive:         true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		Prefork:               false, // WebSocket과 호환성 문제로 비활성화
		ReadBufferSize:        16384, // 16KB - 큰 헤더 허용
		WriteBufferSize:       16384,
		BodyLimit:             1 * 1024 * 1024,
		DisableStartupMessage: true,
	})

	return &Server{
		app:           app,
		cfg:           cfg,
		log:           deps.Log,
		wsHandler:     handler.NewBoardWSHandler(deps.Manager, cfg.WebSocket, deps.Log),
		healthHandler: handler.NewHealthHandler(deps.Store, deps.Redis),
		statsHandler:  handler.NewStatsHandler(deps.Manager, deps.Presence),
		jwtManager:    deps.JWT,
	}
}

// App 내부 fiber 앱 (테스트용)
func (s *Server) App() *fiber.App {
	return s.app
}

// SetupMiddleware 미들웨어 설정
func (s *Server) SetupMiddleware() {
	// 패닉 복구
	s.app.Use(fiberrecover.New(fiberrecover.Config{
		EnableStackTrace: true,
	}))

	// 로깅
	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
		TimeZone:   "Asia/Seoul",
	}))

	// CORS
	s.app.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.CORS.AllowOrigins,
		AllowHeaders:     s.cfg.CORS.AllowHeaders,
		AllowMethods:     "GET, POST, OPTIONS",
		AllowCredentials: s.cfg.CORS.AllowOrigins != "*",
	}))
}

// SetupRoutes 라우트 설정
func (s *Server) SetupRoutes() {
	// 헬스체크 엔드포인트
	s.app.Get("/health", s.healthHandler.Check)
	s.app.Get("/health/live", s.healthHandler.Liveness)
	s.app.Get("/health/ready", s.healthHandler.Readiness)

	// 운영 API - JWT 가 설정되어 있으면 인증 필요
	api := s.app.Group("/api")
	if s.jwtManager != nil {
		api.Use(auth.AuthMiddleware(s.jwtManager))
	}
	api.Get("/stats", s.statsHandler.GetStats)
	api.Get("/presence", s.statsHandler.GetPresenceBoards)
	api.Get("/boards/:boardId/presence", s.statsHandler.GetBoardPresence)

	// 연결 시도 제한 (IP 기준)
	wsLimiter := limiter.New(limiter.Config{
		Max:        30,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many connection attempts, please try again later",
			})
		},
	})

	// WebSocket 업그레이드 체크 미들웨어
	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// WebSocket 화이트보드 엔드포인트 (게스트 허용)
	s.app.Get("/ws/board",
		wsLimiter,
		auth.OptionalAuthMiddleware(s.jwtManager),
		websocket.New(s.wsHandler.HandleWebSocket, websocket.Config{
			HandshakeTimeout: s.cfg.WebSocket.HandshakeTimeout,
			ReadBufferSize:   s.cfg.WebSocket.ReadBufferSize,
			WriteBufferSize:  s.cfg.WebSocket.WriteBufferSize,
			RecoverHandler: func(conn *websocket.Conn) {
				if r := recover(); r != nil {
					s.log.Error().Interface("panic", r).Msg("WebSocket handler panic")
				}
			},
		}),
	)
}

// Start 서버 시작. 종료 시그널을 받으면 Listen 이 반환된다.
func (s *Server) Start() error {
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		s.log.Info().Msg("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := s.Shutdown(ctx); err != nil {
			s.log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	s.log.Info().Str("port", s.cfg.Server.Port).Msg("Whiteboard server starting")
	s.log.Info().Msgf("WebSocket endpoint: ws://localhost%s/ws/board", s.cfg.Server.Port)

	return s.app.Listen(s.cfg.Server.Port)
}

// Shutdown 새 연결을 막고 진행 중인 요청을 기다림
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
