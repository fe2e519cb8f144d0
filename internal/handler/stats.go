package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"whiteboard-backend/internal/hub"
	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/presence"
)

// PresenceReader 보드 접속자 조회 (presence.Tracker)
type PresenceReader interface {
	Boards(ctx context.Context) ([]model.BoardID, error)
	Members(ctx context.Context, id model.BoardID) ([]presence.Member, error)
}

// StatsHandler 보드 통계 핸들러
type StatsHandler struct {
	manager  *hub.Manager
	presence PresenceReader // nil 이면 Redis 미사용
}

// NewStatsHandler StatsHandler 생성
func NewStatsHandler(manager *hub.Manager, presence PresenceReader) *StatsHandler {
	return &StatsHandler{manager: manager, presence: presence}
}

// GetStats 이 서버의 활성 보드 통계
// GET /api/stats
func (h *StatsHandler) GetStats(c *fiber.Ctx) error {
	return c.JSON(h.manager.Stats())
}

// GetPresenceBoards 전체 서버 기준 접속자가 있는 보드 목록
// GET /api/presence
func (h *StatsHandler) GetPresenceBoards(c *fiber.Ctx) error {
	if h.presence == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "presence tracking is disabled",
		})
	}

	boards, err := h.presence.Boards(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "failed to read presence",
		})
	}
	return c.JSON(fiber.Map{
		"boards": boards,
		"total":  len(boards),
	})
}

// GetBoardPresence 보드 접속자 목록
// GET /api/boards/:boardId/presence
func (h *StatsHandler) GetBoardPresence(c *fiber.Ctx) error {
	if h.presence == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "presence tracking is disabled",
		})
	}

	id := model.BoardID(c.Params("boardId"))
	members, err := h.presence.Members(c.UserContext(), id)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "failed to read presence",
		})
	}
	return c.JSON(fiber.Map{
		"boardId": id,
		"members": members,
		"count":   len(members),
	})
}
