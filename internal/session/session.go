package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/model"
)

var (
	ErrClosed         = errors.New("session closed")
	ErrSendQueueFull  = errors.New("send queue full")
	ErrBinaryNotValid = errors.New("binary messages are not supported")
)

// State WebSocket 연결 상태
type State int

const (
	StateConnected State = iota // 연결됨, 보드 미참가
	StateJoined                 // 보드 참가 중
	StateClosed                 // 연결 종료
)

// String 상태를 문자열로 반환
func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn *websocket.Conn 중 세션이 사용하는 메서드
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Session 클라이언트 세션 (Thread-Safe)
// 보드로 나가는 메시지는 송신 큐를 거쳐 writer 고루틴 하나가 순서대로 쓴다.
type Session struct {
	id          string
	conn        Conn
	cfg         config.WebSocketConfig
	log         zerolog.Logger
	ConnectedAt time.Time

	// 동시성 제어
	mu          sync.RWMutex
	state       State
	participant model.Participant
	board       model.BoardID

	sendQ     chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	released  chan struct{} // 전송 계층 정리 완료 시 닫힘

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// New 새 세션 생성
func New(conn Conn, cfg config.WebSocketConfig, log zerolog.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = 256
	}

	id := uuid.New().String()
	return &Session{
		id:          id,
		conn:        conn,
		cfg:         cfg,
		log:         log.With().Str("session", id).Logger(),
		ConnectedAt: time.Now(),
		state:       StateConnected,
		sendQ:       make(chan []byte, cfg.SendQueueSize),
		ctx:         ctx,
		cancel:      cancel,
		released:    make(chan struct{}),
	}
}

// ID 세션 식별자
func (s *Session) ID() string {
	return s.id
}

// Context 세션 컨텍스트 반환
func (s *Session) Context() context.Context {
	return s.ctx
}

// Done 세션 종료 시 닫히는 채널
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// SetParticipant 참가자 정보 설정
func (s *Session) SetParticipant(p model.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.participant = p
}

// Participant 참가자 정보 조회
func (s *Session) Participant() model.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.participant
}

// SetBoard 참가 중인 보드 설정. 빈 값이면 미참가 상태로 돌아간다.
func (s *Session) SetBoard(id model.BoardID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}
	s.board = id
	if id == "" {
		s.state = StateConnected
	} else {
		s.state = StateJoined
	}
}

// Board 참가 중인 보드 조회
func (s *Session) Board() model.BoardID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.board
}

// GetState 현재 상태 조회
func (s *Session) GetState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

// Send 메시지를 송신 큐에 넣는다. 블로킹하지 않는다.
func (s *Session) Send(data []byte) error {
	select {
	case <-s.ctx.Done():
		return ErrClosed
	default:
	}

	select {
	case s.sendQ <- data:
		return nil
	default:
		s.dropped.Add(1)
		return ErrSendQueueFull
	}
}

// WritePump 송신 큐와 ping 을 WebSocket 으로 쓴다. 세션이 끝날 때까지 블로킹.
func (s *Session) WritePump() {
	ticker := time.NewTicker(s.pingInterval())
	defer ticker.Stop()
	defer s.Close()

	for {
		select {
		case <-s.ctx.Done():
			return

		case data := <-s.sendQ:
			if err := s.write(websocket.TextMessage, data); err != nil {
				s.log.Debug().Err(err).Msg("Write failed")
				return
			}
			s.sent.Add(1)

		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				s.log.Debug().Err(err).Msg("Ping failed")
				return
			}
		}
	}
}

func (s *Session) write(messageType int, data []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(messageType, data)
}

// PrepareRead 읽기 제한과 pong 기반 읽기 데드라인을 설정
func (s *Session) PrepareRead() error {
	if s.cfg.MaxMessageSize > 0 {
		s.conn.SetReadLimit(s.cfg.MaxMessageSize)
	}
	s.conn.SetPongHandler(func(string) error {
		return s.extendReadDeadline()
	})
	return s.extendReadDeadline()
}

// Read 다음 텍스트 메시지를 읽는다. 메시지를 받을 때마다 데드라인이 연장된다.
func (s *Session) Read() ([]byte, error) {
	messageType, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if err := s.extendReadDeadline(); err != nil {
		return nil, err
	}
	if messageType != websocket.TextMessage {
		return nil, ErrBinaryNotValid
	}
	return data, nil
}

func (s *Session) extendReadDeadline() error {
	if s.cfg.PongWait <= 0 {
		return nil
	}
	return s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
}

func (s *Session) pingInterval() time.Duration {
	if s.cfg.PingInterval > 0 {
		return s.cfg.PingInterval
	}
	return 25 * time.Second
}

// Close 세션 정리. 여러 번 호출해도 안전하고 블로킹하지 않는다.
// close 프레임 전송과 연결 종료는 별도 고루틴에서 처리한다
// (WriteControl 은 writer 와 같은 쓰기 락을 데드라인까지 기다린다).
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()

		s.cancel()
		go s.release()
	})
	return nil
}

func (s *Session) release() {
	defer close(s.released)

	deadline := time.Now().Add(time.Second)
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	if err := s.conn.Close(); err != nil {
		s.log.Debug().Err(err).Msg("Close failed")
	}
}

// Released 전송 계층 정리가 끝나면 닫히는 채널
func (s *Session) Released() <-chan struct{} {
	return s.released
}

// IsClosed 세션 종료 여부 확인
func (s *Session) IsClosed() bool {
	return s.GetState() == StateClosed
}

// GetStats 통계 조회
func (s *Session) GetStats() (sent, dropped uint64) {
	return s.sent.Load(), s.dropped.Load()
}

// Duration 연결 유지 시간
func (s *Session) Duration() time.Duration {
	return time.Since(s.ConnectedAt)
}
