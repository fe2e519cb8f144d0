package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"whiteboard-backend/internal/store"
)

// healthTimeout 컴포넌트별 ping 제한 시간
const healthTimeout = 2 * time.Second

// HealthHandler 헬스체크 핸들러
type HealthHandler struct {
	store store.Pinger // nil 이면 ping 을 지원하지 않는 저장소
	redis store.Pinger // nil 이면 Redis 미사용
}

// NewHealthHandler HealthHandler 생성
func NewHealthHandler(gw store.Gateway, redis store.Pinger) *HealthHandler {
	h := &HealthHandler{redis: redis}
	if p, ok := gw.(store.Pinger); ok {
		h.store = p
	}
	return h
}

// ComponentCheck 컴포넌트 상태
type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse 헬스체크 응답
type HealthResponse struct {
	Status    string                    `json:"status"`
	Timestamp string                    `json:"timestamp"`
	Checks    map[string]ComponentCheck `json:"checks"`
}

// Check 전체 상태 확인 (저장소 + Redis)
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
		Checks:    make(map[string]ComponentCheck),
	}

	// 1. 스냅샷 저장소 체크
	if h.store == nil {
		response.Checks["store"] = ComponentCheck{Status: "healthy"}
	} else if check := ping(c.UserContext(), h.store); check.Status != "healthy" {
		response.Status = "unhealthy"
		check.Status = "unhealthy"
		check.Error = "store ping failed"
		response.Checks["store"] = check
	} else {
		response.Checks["store"] = check
	}

	// 2. Redis 체크 (캐시/프레즌스는 선택 구성요소라 degraded)
	if h.redis == nil {
		response.Checks["redis"] = ComponentCheck{Status: "not_configured"}
	} else if check := ping(c.UserContext(), h.redis); check.Status != "healthy" {
		check.Status = "degraded"
		check.Error = "redis unreachable"
		response.Checks["redis"] = check
	} else {
		response.Checks["redis"] = check
	}

	statusCode := fiber.StatusOK
	if response.Status == "unhealthy" {
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(response)
}

func ping(parent context.Context, p store.Pinger) ComponentCheck {
	ctx, cancel := context.WithTimeout(parent, healthTimeout)
	defer cancel()

	start := time.Now()
	if err := p.Ping(ctx); err != nil {
		return ComponentCheck{Status: "failed"}
	}
	return ComponentCheck{Status: "healthy", Latency: time.Since(start).String()}
}

// Liveness K8s liveness probe용 (단순 체크)
func (h *HealthHandler) Liveness(c *fiber.Ctx) error {
	return c.SendString("OK")
}

// Readiness K8s readiness probe용 (저장소 연결 체크)
func (h *HealthHandler) Readiness(c *fiber.Ctx) error {
	if h.store != nil && ping(c.UserContext(), h.store).Status != "healthy" {
		return c.Status(fiber.StatusServiceUnavailable).SendString("NOT READY")
	}
	return c.SendString("READY")
}
