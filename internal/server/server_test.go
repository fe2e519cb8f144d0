package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/hub"
	"whiteboard-backend/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: ":0", ShutdownTimeout: time.Second},
		WebSocket: config.WebSocketConfig{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: time.Second,
			SendQueueSize:    16,
		},
		CORS: config.CORSConfig{AllowOrigins: "*", AllowHeaders: "Origin, Content-Type, Accept, Authorization"},
	}
}

func newTestServer(t *testing.T, jwt *auth.JWTManager) *Server {
	t.Helper()
	gw := store.NewMemory()
	m := hub.NewManager(gw, hub.DefaultConfig(), zerolog.Nop())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	s := New(testConfig(), Deps{Manager: m, Store: gw, JWT: jwt, Log: zerolog.Nop()})
	s.SetupMiddleware()
	s.SetupRoutes()
	return s
}

func status(t *testing.T, s *Server, req *http.Request) int {
	t.Helper()
	resp, err := s.App().Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode
}

func TestRoutes(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		path string
		want int
	}{
		{"/health", http.StatusOK},
		{"/health/live", http.StatusOK},
		{"/health/ready", http.StatusOK},
		{"/api/stats", http.StatusOK},
		{"/api/presence", http.StatusServiceUnavailable},
		{"/ws/board", http.StatusUpgradeRequired},
		{"/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, status(t, s, httptest.NewRequest(http.MethodGet, tt.path, nil)))
		})
	}
}

func TestAPIRequiresTokenWhenAuthEnabled(t *testing.T) {
	jwt := auth.NewJWTManager("secret", time.Hour)
	s := newTestServer(t, jwt)

	assert.Equal(t, http.StatusUnauthorized, status(t, s, httptest.NewRequest(http.MethodGet, "/api/stats", nil)))
	assert.Equal(t, http.StatusOK, status(t, s, httptest.NewRequest(http.MethodGet, "/health", nil)))

	token, err := jwt.GenerateAccessToken(1, "a@example.com", "Alice")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, status(t, s, req))
}
