package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Locals 키
const (
	LocalUserID      = "userID"
	LocalDisplayName = "displayName"
	LocalClaims      = "claims"
)

// TokenFrom 요청에서 토큰 추출. Authorization 헤더, access_token 쿠키, token 쿼리 순.
// 브라우저 WebSocket 은 헤더를 설정할 수 없어 쿼리도 허용한다.
func TokenFrom(c *fiber.Ctx) string {
	if header := c.Get(fiber.HeaderAuthorization); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if cookie := c.Cookies("access_token"); cookie != "" {
		return cookie
	}
	return c.Query("token")
}

// OptionalAuthMiddleware 선택적 인증 미들웨어 (인증 실패해도 게스트로 계속 진행)
// jwtManager 가 nil 이면 모든 연결이 게스트다.
func OptionalAuthMiddleware(jwtManager *JWTManager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if jwtManager == nil {
			return c.Next()
		}

		token := TokenFrom(c)
		if token == "" {
			return c.Next()
		}

		claims, err := jwtManager.ValidateAccessToken(token)
		if err == nil {
			c.Locals(LocalUserID, claims.UserID)
			c.Locals(LocalDisplayName, claims.Name())
			c.Locals(LocalClaims, claims)
		}

		return c.Next()
	}
}

// AuthMiddleware JWT 인증 미들웨어
func AuthMiddleware(jwtManager *JWTManager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := TokenFrom(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing authorization token",
			})
		}

		claims, err := jwtManager.ValidateAccessToken(token)
		if err != nil {
			if err == ErrExpiredToken {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "token expired",
					"code":  "TOKEN_EXPIRED",
				})
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid token",
			})
		}

		c.Locals(LocalUserID, claims.UserID)
		c.Locals(LocalDisplayName, claims.Name())
		c.Locals(LocalClaims, claims)

		return c.Next()
	}
}
