package auth

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Issuer 토큰 발급자
const Issuer = "whiteboard-api"

// clockSkew 서버 간 시계 오차 허용치
const clockSkew = 30 * time.Second

// Claims 보드 접속용 JWT 클레임.
// 다른 서비스가 발급한 토큰은 name 대신 nickname 을 담고 있을 수 있다.
type Claims struct {
	UserID      int64  `json:"user_id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"name,omitempty"`
	Nickname    string `json:"nickname,omitempty"`
	jwt.RegisteredClaims
}

// Name 보드에 표시할 이름 (없으면 빈 문자열)
func (c *Claims) Name() string {
	if name := strings.TrimSpace(c.DisplayName); name != "" {
		return name
	}
	return strings.TrimSpace(c.Nickname)
}

// JWTManager 액세스 토큰 발급/검증
type JWTManager struct {
	secretKey    []byte
	accessExpiry time.Duration
	parser       *jwt.Parser
}

// NewJWTManager JWTManager 생성
func NewJWTManager(secretKey string, accessExpiry time.Duration) *JWTManager {
	return &JWTManager{
		secretKey:    []byte(secretKey),
		accessExpiry: accessExpiry,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithLeeway(clockSkew),
			jwt.WithIssuedAt(),
		),
	}
}

// GenerateAccessToken 액세스 토큰 생성 (테스트 및 운영 도구용)
func (m *JWTManager) GenerateAccessToken(userID int64, email, displayName string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:      userID,
		Email:       email,
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    Issuer,
			Subject:   strconv.FormatInt(userID, 10),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// ValidateAccessToken 액세스 토큰 검증. user_id 가 없으면 subject 에서 읽는다.
func (m *JWTManager) ValidateAccessToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := m.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return m.secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims.UserID == 0 && claims.Subject != "" {
		id, err := strconv.ParseInt(claims.Subject, 10, 64)
		if err != nil {
			return nil, ErrInvalidToken
		}
		claims.UserID = id
	}
	if claims.UserID <= 0 {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
